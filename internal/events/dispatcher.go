// Package events applies pushed real-time events to the task and table caches and
// keeps the WebSocket subscription that delivers them.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"altan/workspace/internal/bases"
	"altan/workspace/internal/tasks"
)

// Envelope is the wire shape of every pushed event.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

var (
	ErrUnknownType = errors.New("unknown event type")
	ErrBadPayload  = errors.New("malformed event payload")
)

// RecordIndexer mirrors record changes into a search index.
type RecordIndexer interface {
	IndexRecords(ctx context.Context, tableID string, records []bases.Record) error
	DeleteRecords(ctx context.Context, tableID string, ids []string) error
}

type Dispatcher struct {
	tasks   *tasks.Store
	bases   *bases.Store
	indexer RecordIndexer
	logger  *slog.Logger
}

func NewDispatcher(taskStore *tasks.Store, baseStore *bases.Store, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{tasks: taskStore, bases: baseStore, logger: logger}
}

func (d *Dispatcher) WithIndexer(indexer RecordIndexer) *Dispatcher {
	d.indexer = indexer
	return d
}

// HandleMessage decodes one raw frame and dispatches it.
func (d *Dispatcher) HandleMessage(ctx context.Context, raw []byte) error {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		eventsTotal.WithLabelValues("undecodable", resultError).Inc()
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return d.Dispatch(ctx, env)
}

// Dispatch applies env to the caches. Unknown types are counted and reported
// with ErrUnknownType; the caller decides whether that matters.
func (d *Dispatcher) Dispatch(ctx context.Context, env Envelope) error {
	apply, ok := d.handlers()[env.Type]
	if !ok {
		eventsTotal.WithLabelValues("unknown", resultIgnored).Inc()
		return fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	started := time.Now()
	err := apply(ctx, env.Data)
	eventApplySeconds.WithLabelValues(env.Type).Observe(time.Since(started).Seconds())
	if err != nil {
		eventsTotal.WithLabelValues(env.Type, resultError).Inc()
		d.logger.Warn("event rejected", "type", env.Type, "error", err)
		return err
	}
	eventsTotal.WithLabelValues(env.Type, resultApplied).Inc()
	return nil
}

type applyFunc func(ctx context.Context, data json.RawMessage) error

func (d *Dispatcher) handlers() map[string]applyFunc {
	return map[string]applyFunc{
		"task.created":    d.taskCreated,
		"task.updated":    d.taskUpdated,
		"task.completed":  d.taskCompleted,
		"task.deleted":    d.taskDeleted,
		"plan.created":    d.planChanged,
		"plan.updated":    d.planChanged,
		"record.created":  d.recordCreated,
		"record.updated":  d.recordUpdated,
		"record.deleted":  d.recordDeleted,
		"records.changed": d.recordsChanged,
		"table.created":   d.tableCreated,
		"table.updated":   d.tableUpdated,
		"table.deleted":   d.tableDeleted,
		"field.created":   d.fieldCreated,
		"field.updated":   d.fieldUpdated,
		"field.deleted":   d.fieldDeleted,
	}
}

func decode(data json.RawMessage, out any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty data", ErrBadPayload)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return nil
}
