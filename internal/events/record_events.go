package events

import (
	"context"
	"encoding/json"
	"fmt"

	"altan/workspace/internal/bases"
)

type recordPayload struct {
	TableID   bases.ID     `json:"table_id"`
	TableName string       `json:"table_name"`
	ID        any          `json:"id"`
	Record    bases.Record `json:"record"`
	Changes   bases.Record `json:"changes"`
}

func (p recordPayload) recordID() any {
	if p.ID != nil {
		return p.ID
	}
	if p.Record != nil {
		return p.Record["id"]
	}
	return nil
}

// tableFor picks the cached table an event targets, falling back to a lookup by name.
func (d *Dispatcher) tableFor(tableID bases.ID, tableName string) string {
	if tableID != "" && d.bases.HasRecords(string(tableID)) {
		return string(tableID)
	}
	if table, ok := d.bases.FindTableByName(tableName); ok {
		return string(table.ID)
	}
	return string(tableID)
}

func (d *Dispatcher) recordCreated(ctx context.Context, data json.RawMessage) error {
	var p recordPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	if p.Record == nil || p.Record.ID() == "" {
		return fmt.Errorf("%w: record id missing", ErrBadPayload)
	}
	d.bases.AddTableRecord(string(p.TableID), p.TableName, p.Record)
	d.reindex(ctx, d.tableFor(p.TableID, p.TableName), p.Record["id"])
	return nil
}

func (d *Dispatcher) recordUpdated(ctx context.Context, data json.RawMessage) error {
	var p recordPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	id := p.recordID()
	if id == nil {
		return fmt.Errorf("%w: record id missing", ErrBadPayload)
	}
	changes := p.Changes
	if changes == nil {
		changes = p.Record
	}
	d.bases.UpdateTableRecord(string(p.TableID), p.TableName, id, changes)
	d.reindex(ctx, d.tableFor(p.TableID, p.TableName), id)
	return nil
}

func (d *Dispatcher) recordDeleted(ctx context.Context, data json.RawMessage) error {
	var p recordPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	id := p.recordID()
	if id == nil {
		return fmt.Errorf("%w: record id missing", ErrBadPayload)
	}
	d.bases.DeleteTableRecord(string(p.TableID), p.TableName, id)
	d.unindex(ctx, d.tableFor(p.TableID, p.TableName), []any{id})
	return nil
}

func (d *Dispatcher) recordsChanged(ctx context.Context, data json.RawMessage) error {
	var p struct {
		TableID   bases.ID       `json:"table_id"`
		TableName string         `json:"table_name"`
		Updates   []bases.Record `json:"updates"`
		Additions []bases.Record `json:"additions"`
		Deletions []any          `json:"deletions"`
	}
	if err := decode(data, &p); err != nil {
		return err
	}
	tableID := d.tableFor(p.TableID, p.TableName)
	if tableID == "" {
		return fmt.Errorf("%w: table missing", ErrBadPayload)
	}
	d.bases.IntegrateRealTimeUpdates(tableID, p.Updates, p.Additions, p.Deletions)

	changed := make([]any, 0, len(p.Updates)+len(p.Additions))
	for _, record := range append(p.Updates, p.Additions...) {
		if record.ID() != "" {
			changed = append(changed, record["id"])
		}
	}
	d.reindex(ctx, tableID, changed...)
	d.unindex(ctx, tableID, p.Deletions)
	return nil
}

// reindex pushes the cached copies of the given records to the indexer. Records
// outside the cached window are skipped.
func (d *Dispatcher) reindex(ctx context.Context, tableID string, ids ...any) {
	if d.indexer == nil || tableID == "" || len(ids) == 0 {
		return
	}
	records := make([]bases.Record, 0, len(ids))
	for _, id := range ids {
		if record, ok := d.bases.Record(tableID, id); ok {
			records = append(records, record)
		}
	}
	if len(records) == 0 {
		return
	}
	if err := d.indexer.IndexRecords(ctx, tableID, records); err != nil {
		d.logger.Warn("index records failed", "table_id", tableID, "count", len(records), "error", err)
	}
}

func (d *Dispatcher) unindex(ctx context.Context, tableID string, ids []any) {
	if d.indexer == nil || tableID == "" || len(ids) == 0 {
		return
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		if key := (bases.Record{"id": id}).ID(); key != "" {
			keys = append(keys, key)
		}
	}
	if err := d.indexer.DeleteRecords(ctx, tableID, keys); err != nil {
		d.logger.Warn("unindex records failed", "table_id", tableID, "count", len(keys), "error", err)
	}
}

type tablePayload struct {
	BaseID  string         `json:"base_id"`
	ID      bases.ID       `json:"id"`
	TableID bases.ID       `json:"table_id"`
	Table   *bases.Table   `json:"table"`
	Changes map[string]any `json:"changes"`
}

func (p tablePayload) tableID() string {
	if p.ID != "" {
		return string(p.ID)
	}
	if p.TableID != "" {
		return string(p.TableID)
	}
	if p.Table != nil {
		return string(p.Table.ID)
	}
	return ""
}

// baseOf resolves the base owning tableID when the event did not name it.
func (d *Dispatcher) baseOf(baseID, tableID string) string {
	if baseID != "" {
		return baseID
	}
	if _, owner, ok := d.bases.FindTable(tableID); ok {
		return owner
	}
	return ""
}

func (d *Dispatcher) tableCreated(_ context.Context, data json.RawMessage) error {
	var p tablePayload
	if err := decode(data, &p); err != nil {
		return err
	}
	table := p.Table
	if table == nil {
		table = &bases.Table{}
		if err := decode(data, table); err != nil {
			return err
		}
	}
	baseID := p.BaseID
	if baseID == "" {
		baseID = table.BaseID
	}
	if baseID == "" || table.ID == "" {
		return fmt.Errorf("%w: base or table id missing", ErrBadPayload)
	}
	d.bases.AddTable(baseID, *table)
	return nil
}

func (d *Dispatcher) tableUpdated(_ context.Context, data json.RawMessage) error {
	var p tablePayload
	if err := decode(data, &p); err != nil {
		return err
	}
	tableID := p.tableID()
	if tableID == "" {
		return fmt.Errorf("%w: table id missing", ErrBadPayload)
	}
	changes, err := changesOf(data, p.Changes, "base_id", "table_id")
	if err != nil {
		return err
	}
	d.bases.UpdateTable(d.baseOf(p.BaseID, tableID), tableID, changes)
	return nil
}

func (d *Dispatcher) tableDeleted(_ context.Context, data json.RawMessage) error {
	var p tablePayload
	if err := decode(data, &p); err != nil {
		return err
	}
	tableID := p.tableID()
	if tableID == "" {
		return fmt.Errorf("%w: table id missing", ErrBadPayload)
	}
	d.bases.DeleteTable(d.baseOf(p.BaseID, tableID), tableID)
	return nil
}

type fieldPayload struct {
	TableID bases.ID       `json:"table_id"`
	ID      bases.ID       `json:"id"`
	Field   *bases.Field   `json:"field"`
	Changes map[string]any `json:"changes"`
}

func (d *Dispatcher) fieldCreated(_ context.Context, data json.RawMessage) error {
	var p fieldPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	field := p.Field
	if field == nil {
		field = &bases.Field{}
		if err := decode(data, field); err != nil {
			return err
		}
	}
	tableID := p.TableID
	if tableID == "" {
		tableID = field.TableID
	}
	if tableID == "" || field.ID == "" {
		return fmt.Errorf("%w: table or field id missing", ErrBadPayload)
	}
	d.bases.AddField(string(tableID), *field)
	return nil
}

func (d *Dispatcher) fieldUpdated(_ context.Context, data json.RawMessage) error {
	var p fieldPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	if p.TableID == "" || p.ID == "" {
		return fmt.Errorf("%w: table or field id missing", ErrBadPayload)
	}
	changes, err := changesOf(data, p.Changes, "table_id")
	if err != nil {
		return err
	}
	d.bases.UpdateField(string(p.TableID), string(p.ID), changes)
	return nil
}

func (d *Dispatcher) fieldDeleted(_ context.Context, data json.RawMessage) error {
	var p fieldPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	if p.TableID == "" || p.ID == "" {
		return fmt.Errorf("%w: table or field id missing", ErrBadPayload)
	}
	d.bases.DeleteField(string(p.TableID), string(p.ID))
	return nil
}

// changesOf returns explicit changes, or the payload itself minus routing keys.
func changesOf(data json.RawMessage, explicit map[string]any, routing ...string) (map[string]any, error) {
	if explicit != nil {
		return explicit, nil
	}
	var changes map[string]any
	if err := decode(data, &changes); err != nil {
		return nil, err
	}
	for _, key := range routing {
		delete(changes, key)
	}
	return changes, nil
}
