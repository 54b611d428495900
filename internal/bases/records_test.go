package bases

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	tables map[string][]Table
	pages  map[string]RecordPage
	err    error
	calls  atomic.Int32
	limits []int
}

func (f *fakeSource) ListTables(_ context.Context, baseID string) ([]Table, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.tables[baseID], nil
}

func (f *fakeSource) ListRecords(_ context.Context, tableID, pageToken string, limit int) (RecordPage, error) {
	f.calls.Add(1)
	f.limits = append(f.limits, limit)
	if f.err != nil {
		return RecordPage{}, f.err
	}
	return f.pages[tableID+"|"+pageToken], nil
}

func ids(cache RecordCache) []string {
	out := make([]string, 0, len(cache.Items))
	for _, record := range cache.Items {
		out = append(out, record.ID())
	}
	return out
}

func TestSetTableRecordsDeduplicatesPagination(t *testing.T) {
	s := NewStore(&fakeSource{}, 3)
	s.SetTableRecords("tbl", []Record{{"id": 1, "v": "a"}, {"id": 2}, {"id": 3}}, 5, "next", false)
	s.SetTableRecords("tbl", []Record{{"id": float64(3), "v": "dup"}, {"id": "4"}, nil, {"id": 5}}, 5, "", true)

	cache, ok := s.Records("tbl")
	require.True(t, ok)
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, ids(cache))
	assert.NotEqual(t, "dup", cache.Items[2]["v"])

	state, _ := s.RecordsState("tbl")
	assert.True(t, state.IsFullyLoaded)
	assert.Equal(t, 5, state.TotalRecords)
	assert.Equal(t, 2, state.TotalPages)
	assert.NotNil(t, state.LastFetched)
}

func TestSetTableRecordsReplacesWithoutPagination(t *testing.T) {
	s := NewStore(&fakeSource{}, 10)
	s.SetTableRecords("tbl", []Record{{"id": 1}, {"id": 2}}, 2, "", false)
	s.SetTableRecords("tbl", []Record{{"id": 3}, {"id": 3}}, 1, "tok", false)

	cache, _ := s.Records("tbl")
	assert.Equal(t, []string{"3"}, ids(cache))
	state, _ := s.RecordsState("tbl")
	assert.False(t, state.IsFullyLoaded)
	assert.Equal(t, "tok", state.NextPageToken)
}

func TestSetTableRecordsKeepsRecordsWithoutID(t *testing.T) {
	s := NewStore(&fakeSource{}, 10)
	s.SetTableRecords("tbl", []Record{{"uuid": "a"}, nil, {"uuid": "b"}, {"id": 1}, {"id": float64(1)}}, 3, "", false)

	cache, ok := s.Records("tbl")
	require.True(t, ok)
	require.Len(t, cache.Items, 3)
	assert.Equal(t, "a", cache.Items[0]["uuid"])
	assert.Equal(t, "b", cache.Items[1]["uuid"])
	assert.Equal(t, "1", cache.Items[2].ID())
	assert.Equal(t, 3, cache.Total)
}

func TestIntegrateRealTimeUpdatesOnFirstPage(t *testing.T) {
	s := NewStore(&fakeSource{}, 3)
	s.SetTableRecords("tbl", []Record{{"id": 1, "n": "a"}, {"id": 2, "n": "b"}, {"id": 3, "n": "c"}}, 10, "tok", false)

	s.IntegrateRealTimeUpdates("tbl",
		[]Record{{"id": 2, "n": "B"}, {"id": 99, "n": "ghost"}},
		[]Record{{"id": 7, "n": "new"}, {"id": 8, "n": "newer"}},
		[]any{"1"},
	)

	cache, _ := s.Records("tbl")
	assert.Equal(t, []string{"7", "8", "2"}, ids(cache))
	assert.Equal(t, "B", cache.Items[2]["n"])
	assert.Equal(t, 11, cache.Total)

	state, _ := s.RecordsState("tbl")
	assert.Equal(t, 11, state.TotalRecords)
	assert.Equal(t, 4, state.TotalPages)
	assert.True(t, state.HasRealTimeUpdates)
	assert.NotNil(t, state.LastRealTimeUpdate)
}

func TestIntegrateRealTimeAdditionBeyondFirstPage(t *testing.T) {
	s := NewStore(&fakeSource{}, 2)
	s.SetTableRecords("tbl", []Record{{"id": 3}, {"id": 4}}, 4, "", false)
	s.SetPagination("tbl", 1, 0)

	s.IntegrateRealTimeUpdates("tbl", nil, []Record{{"id": 9}}, nil)

	cache, _ := s.Records("tbl")
	assert.Equal(t, []string{"3", "4"}, ids(cache))
	assert.Equal(t, 5, cache.Total)
	state, _ := s.RecordsState("tbl")
	assert.Equal(t, 5, state.TotalRecords)
	assert.Equal(t, 3, state.TotalPages)
}

func TestIntegrateRealTimeClampsTotal(t *testing.T) {
	s := NewStore(&fakeSource{}, 10)
	s.SetTableRecords("tbl", []Record{{"id": 1}}, 1, "", false)

	s.IntegrateRealTimeUpdates("tbl", nil, nil, []any{1, 2, 3})

	cache, _ := s.Records("tbl")
	assert.Empty(t, cache.Items)
	assert.Equal(t, 0, cache.Total)
}

func TestIntegrateRealTimeUnknownTableIsNoop(t *testing.T) {
	s := NewStore(&fakeSource{}, 10)
	s.IntegrateRealTimeUpdates("missing", nil, []Record{{"id": 1}}, nil)
	_, ok := s.Records("missing")
	assert.False(t, ok)
}

func TestSingleRecordOpsResolveTableName(t *testing.T) {
	s := NewStore(&fakeSource{}, 10)
	s.SetTables("b1", []Table{{ID: "42", Name: "contacts"}})
	s.SetTableRecords("42", []Record{{"id": 1, "email": "a@b.com"}}, 1, "", false)

	s.AddTableRecord("unknown", "contacts", Record{"id": 2, "email": "c@d.com"})
	s.UpdateTableRecord("", "contacts", 1, Record{"email": "x@y.com"})

	cache, _ := s.Records("42")
	assert.Equal(t, []string{"2", "1"}, ids(cache))
	assert.Equal(t, "x@y.com", cache.Items[1]["email"])
	assert.Equal(t, 2, cache.Total)

	s.DeleteTableRecord("nope", "contacts", "2")
	cache, _ = s.Records("42")
	assert.Equal(t, []string{"1"}, ids(cache))
	assert.Equal(t, 1, cache.Total)

	s.DeleteTableRecord("nope", "other", 1)
	cache, _ = s.Records("42")
	assert.Len(t, cache.Items, 1)
}

func TestSelectorsDetachRecords(t *testing.T) {
	s := NewStore(&fakeSource{}, 10)
	s.SetTableRecords("tbl", []Record{{"id": 1, "tags": []any{"a"}}}, 1, "", false)

	cache, _ := s.Records("tbl")
	cache.Items[0]["tags"].([]any)[0] = "mutated"

	again, _ := s.Records("tbl")
	assert.Equal(t, "a", again.Items[0]["tags"].([]any)[0])
}

func TestFetchTableRecordsPaginates(t *testing.T) {
	src := &fakeSource{pages: map[string]RecordPage{
		"tbl|":   {Records: []Record{{"id": 1}, {"id": 2}}, Total: 3, NextPageToken: "p2"},
		"tbl|p2": {Records: []Record{{"id": 2}, {"id": 3}}, Total: 3},
	}}
	s := NewStore(src, 2)

	cache, err := s.FetchTableRecords(context.Background(), "tbl", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, ids(cache))

	cache, err = s.FetchTableRecords(context.Background(), "tbl", "p2")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, ids(cache))
	assert.Equal(t, []int{2, 2}, src.limits)

	state, _ := s.RecordsState("tbl")
	assert.False(t, state.Loading)
	assert.True(t, state.IsFullyLoaded)
}

func TestFetchTableRecordsStoresError(t *testing.T) {
	s := NewStore(&fakeSource{err: errors.New("upstream down")}, 2)

	_, err := s.FetchTableRecords(context.Background(), "tbl", "")
	require.Error(t, err)
	assert.Equal(t, "upstream down", s.RecordsError("tbl"))
	state, _ := s.RecordsState("tbl")
	assert.False(t, state.Loading)
}

func TestRecordKeyCanonicalForm(t *testing.T) {
	assert.Equal(t, "1", recordKey(1))
	assert.Equal(t, "1", recordKey(float64(1)))
	assert.Equal(t, "1", recordKey(json.Number("1.0")))
	assert.Equal(t, "abc", recordKey("abc"))
	assert.Equal(t, "", recordKey(nil))
}

func TestIDDecodesNumbers(t *testing.T) {
	var table Table
	require.NoError(t, json.Unmarshal([]byte(`{"id": 16384, "name": "contacts", "fields": {"items": [{"id": "16384.2", "name": "email"}]}}`), &table))
	assert.Equal(t, ID("16384"), table.ID)
	assert.Equal(t, ID("16384.2"), table.Fields.Items[0].ID)
}
