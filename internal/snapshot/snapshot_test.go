package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"altan/workspace/internal/bases"
	"altan/workspace/internal/tasks"
)

type fakeUploader struct {
	key         string
	contentType string
	body        []byte
	err         error
}

func (f *fakeUploader) Upload(_ context.Context, key, contentType string, body []byte) error {
	if f.err != nil {
		return f.err
	}
	f.key = key
	f.contentType = contentType
	f.body = append([]byte(nil), body...)
	return nil
}

func newTestExporter(up Uploader) (*Exporter, *tasks.Store, *bases.Store) {
	ts := tasks.NewStore(nil)
	bs := bases.NewStore(nil, 10)
	e := NewExporter(ts, bs, up)
	e.now = func() time.Time { return time.Date(2026, 3, 4, 23, 30, 0, 0, time.FixedZone("X", -2*3600)) }
	e.newID = func() string { return "fixed-id" }
	return e, ts, bs
}

func TestExportWritesBothStores(t *testing.T) {
	up := &fakeUploader{}
	e, ts, bs := newTestExporter(up)
	ts.AddTask("thread-1", tasks.Task{ID: "t1", Title: "Write docs"})
	bs.SetTableRecords("tbl", []bases.Record{{"id": 1, "name": "a"}}, 1, "", false)

	res, err := e.Export(context.Background())
	require.NoError(t, err)

	// The date comes from UTC, which is already the next day.
	assert.Equal(t, "snapshots/2026-03-05/fixed-id.json", res.Key)
	assert.Equal(t, up.key, res.Key)
	assert.Equal(t, "application/json", up.contentType)
	assert.Equal(t, len(up.body), res.Size)

	var doc Document
	require.NoError(t, json.Unmarshal(up.body, &doc))
	require.Len(t, doc.Tasks.TasksByThread["thread-1"], 1)
	assert.Equal(t, "Write docs", doc.Tasks.TasksByThread["thread-1"][0].Title)
	require.Len(t, doc.Bases.Records["tbl"].Items, 1)
	assert.Equal(t, "a", doc.Bases.Records["tbl"].Items[0]["name"])
	assert.True(t, doc.ExportedAt.Equal(res.ExportedAt))
}

func TestExportReportsUploadFailure(t *testing.T) {
	e, _, _ := newTestExporter(&fakeUploader{err: errors.New("bucket gone")})
	res, err := e.Export(context.Background())
	assert.Nil(t, res)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket gone")
}
