package events

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"altan/workspace/internal/bases"
	"altan/workspace/internal/tasks"
)

type nopFetcher struct{}

func (nopFetcher) GetPlan(context.Context, string) (tasks.Plan, error) {
	return tasks.Plan{}, errors.New("offline")
}
func (nopFetcher) ListTasks(context.Context, string) ([]tasks.Task, error) {
	return nil, errors.New("offline")
}
func (nopFetcher) ListPlansByRoom(context.Context, string) ([]tasks.Plan, error) {
	return nil, errors.New("offline")
}

type nopSource struct{}

func (nopSource) ListTables(context.Context, string) ([]bases.Table, error) { return nil, nil }
func (nopSource) ListRecords(context.Context, string, string, int) (bases.RecordPage, error) {
	return bases.RecordPage{}, nil
}

type fakeIndexer struct {
	mu      sync.Mutex
	indexed map[string][]string
	deleted map[string][]string
}

func newFakeIndexer() *fakeIndexer {
	return &fakeIndexer{indexed: map[string][]string{}, deleted: map[string][]string{}}
}

func (f *fakeIndexer) IndexRecords(_ context.Context, tableID string, records []bases.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, record := range records {
		f.indexed[tableID] = append(f.indexed[tableID], record.ID())
	}
	return nil
}

func (f *fakeIndexer) DeleteRecords(_ context.Context, tableID string, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted[tableID] = append(f.deleted[tableID], ids...)
	return nil
}

func newTestDispatcher() (*Dispatcher, *tasks.Store, *bases.Store) {
	ts := tasks.NewStore(nopFetcher{})
	bs := bases.NewStore(nopSource{}, 10)
	return NewDispatcher(ts, bs, nil), ts, bs
}

func send(t *testing.T, d *Dispatcher, raw string) {
	t.Helper()
	require.NoError(t, d.HandleMessage(context.Background(), []byte(raw)))
}

func TestTaskLifecycleEvents(t *testing.T) {
	d, ts, _ := newTestDispatcher()
	send(t, d, `{"type":"plan.created","data":{"id":"p1","mainthread_id":"th1","tasks":[]}}`)
	send(t, d, `{"type":"task.created","data":{"id":"t1","title":"Draft","status":"ready","mainthread_id":"th1","plan_id":"p1"}}`)
	send(t, d, `{"type":"task.updated","data":{"id":"t1","title":null,"status":"running","mainthread_id":"th1"}}`)

	task, ok := ts.Task("th1", "t1")
	require.True(t, ok)
	assert.Equal(t, "Draft", task.Title)
	assert.Equal(t, "running", task.Status)

	plan, ok := ts.PlanForThread("th1")
	require.True(t, ok)
	require.Len(t, plan.Tasks, 1)
	assert.Equal(t, "running", plan.Tasks[0].Status)

	send(t, d, `{"type":"task.deleted","data":{"id":"t1","thread_id":"th1"}}`)
	assert.Empty(t, ts.Tasks("th1"))
}

func TestPartialPlanUpdateKeepsCachedPlan(t *testing.T) {
	d, ts, _ := newTestDispatcher()
	send(t, d, `{"type":"plan.created","data":{"id":"p1","title":"Ship","mainthread_id":"th1","tasks":[{"id":"t1","status":"ready"}]}}`)
	send(t, d, `{"type":"plan.updated","data":{"id":"p1","is_approved":true}}`)

	plan, ok := ts.PlanForThread("th1")
	require.True(t, ok)
	assert.Equal(t, "Ship", plan.Title)
	assert.True(t, plan.IsApproved)
	require.Len(t, plan.Tasks, 1)
	assert.Equal(t, "t1", plan.Tasks[0].ID)
}

func TestTaskCompletedRaisesPlanEventOnlyWhenAllDone(t *testing.T) {
	d, ts, _ := newTestDispatcher()
	send(t, d, `{"type":"task.completed","data":{"id":"t1","status":"completed","mainthread_id":"th1","plan_id":"p1","all_tasks_completed":false}}`)
	_, ok := ts.CompletedPlanEvent()
	assert.False(t, ok)

	send(t, d, `{"type":"task.completed","data":{"id":"t2","status":"completed","mainthread_id":"th1","plan_id":"p1","all_tasks_completed":true}}`)
	event, ok := ts.CompletedPlanEvent()
	require.True(t, ok)
	assert.Equal(t, "p1", event.PlanID)
	assert.Equal(t, "th1", event.ThreadID)

	task, _ := ts.Task("th1", "t2")
	assert.Equal(t, "completed", task.Status)
}

func TestRecordEventsWithTableNameFallback(t *testing.T) {
	d, _, bs := newTestDispatcher()
	ix := newFakeIndexer()
	d.WithIndexer(ix)
	bs.SetTables("b1", []bases.Table{{ID: "42", Name: "contacts"}})
	bs.SetTableRecords("42", []bases.Record{{"id": float64(1), "name": "Ann"}}, 1, "", false)

	send(t, d, `{"type":"record.created","data":{"table_name":"contacts","record":{"id":2,"name":"Bob"}}}`)
	send(t, d, `{"type":"record.updated","data":{"table_id":"42","id":1,"changes":{"name":"Anna"}}}`)
	send(t, d, `{"type":"record.deleted","data":{"table_id":"42","id":2}}`)

	cache, _ := bs.Records("42")
	require.Len(t, cache.Items, 1)
	assert.Equal(t, "Anna", cache.Items[0]["name"])
	assert.Equal(t, []string{"2", "1"}, ix.indexed["42"])
	assert.Equal(t, []string{"2"}, ix.deleted["42"])
}

func TestRecordsChanged(t *testing.T) {
	d, _, bs := newTestDispatcher()
	bs.SetTableRecords("tbl", []bases.Record{{"id": float64(1)}, {"id": float64(2)}}, 2, "", false)

	send(t, d, `{"type":"records.changed","data":{"table_id":"tbl","updates":[{"id":2,"v":"x"}],"additions":[{"id":3}],"deletions":[1]}}`)

	cache, _ := bs.Records("tbl")
	require.Len(t, cache.Items, 2)
	assert.Equal(t, "3", cache.Items[0].ID())
	assert.Equal(t, "x", cache.Items[1]["v"])
	assert.Equal(t, 2, cache.Total)
}

func TestCatalogEvents(t *testing.T) {
	d, _, bs := newTestDispatcher()
	send(t, d, `{"type":"table.created","data":{"base_id":"b1","table":{"id":16400,"name":"users"}}}`)
	send(t, d, `{"type":"field.created","data":{"id":"16400.2","table_id":16400,"name":"email","data_type":"text"}}`)
	bs.SetTableRecords("16400", []bases.Record{{"id": float64(1), "email": "a@b.com"}}, 1, "", false)
	send(t, d, `{"type":"table.updated","data":{"id":16400,"changes":{"rls_enabled":true}}}`)
	send(t, d, `{"type":"field.deleted","data":{"table_id":16400,"id":"16400.2"}}`)

	table, baseID, ok := bs.FindTable("16400")
	require.True(t, ok)
	assert.Equal(t, "b1", baseID)
	assert.True(t, table.RLSEnabled)
	assert.Empty(t, table.Fields.Items)
	cache, _ := bs.Records("16400")
	assert.Equal(t, []bases.Record{{"id": float64(1)}}, cache.Items)

	send(t, d, `{"type":"table.deleted","data":{"id":16400}}`)
	_, _, ok = bs.FindTable("16400")
	assert.False(t, ok)
}

func TestUnknownAndMalformedEvents(t *testing.T) {
	d, _, _ := newTestDispatcher()

	before := testutil.ToFloat64(eventsTotal.WithLabelValues("unknown", resultIgnored))
	err := d.HandleMessage(context.Background(), []byte(`{"type":"room.renamed","data":{}}`))
	assert.ErrorIs(t, err, ErrUnknownType)
	assert.Equal(t, before+1, testutil.ToFloat64(eventsTotal.WithLabelValues("unknown", resultIgnored)))

	assert.ErrorIs(t, d.HandleMessage(context.Background(), []byte(`not json`)), ErrBadPayload)
	assert.ErrorIs(t, d.HandleMessage(context.Background(), []byte(`{"type":"task.created","data":{"title":"no id"}}`)), ErrBadPayload)
	assert.ErrorIs(t, d.HandleMessage(context.Background(), []byte(`{"type":"task.created"}`)), ErrBadPayload)
}
