// Package snapshot writes the current task and base state to object storage as
// a single JSON document.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"altan/workspace/internal/bases"
	"altan/workspace/internal/tasks"
)

// TaskState is the part of tasks.Store an export reads.
type TaskState interface {
	Snapshot() tasks.Snapshot
}

// BaseState is the part of bases.Store an export reads.
type BaseState interface {
	Snapshot() bases.Snapshot
}

// Uploader stores one object.
type Uploader interface {
	Upload(ctx context.Context, key, contentType string, body []byte) error
}

// Document is the JSON written for each snapshot.
type Document struct {
	Tasks      tasks.Snapshot `json:"tasks"`
	Bases      bases.Snapshot `json:"bases"`
	ExportedAt time.Time      `json:"exported_at"`
}

// Result describes a written snapshot.
type Result struct {
	Key        string    `json:"key"`
	Size       int       `json:"size"`
	ExportedAt time.Time `json:"exported_at"`
}

type Exporter struct {
	tasks    TaskState
	bases    BaseState
	uploader Uploader
	now      func() time.Time
	newID    func() string
}

func NewExporter(ts TaskState, bs BaseState, uploader Uploader) *Exporter {
	return &Exporter{
		tasks:    ts,
		bases:    bs,
		uploader: uploader,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Export captures both stores and uploads them under snapshots/<date>/<uuid>.json.
func (e *Exporter) Export(ctx context.Context) (*Result, error) {
	exportedAt := e.now().UTC()
	doc := Document{
		Tasks:      e.tasks.Snapshot(),
		Bases:      e.bases.Snapshot(),
		ExportedAt: exportedAt,
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}

	key := fmt.Sprintf("snapshots/%s/%s.json", exportedAt.Format("2006-01-02"), e.newID())
	if err := e.uploader.Upload(ctx, key, "application/json", buf.Bytes()); err != nil {
		return nil, fmt.Errorf("upload snapshot: %w", err)
	}
	return &Result{Key: key, Size: buf.Len(), ExportedAt: exportedAt}, nil
}
