package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"altan/workspace/internal/bases"
)

// RecordSearcher is a table-scoped text search over the source of truth.
// pgmeta.Catalog satisfies it.
type RecordSearcher interface {
	SearchRecords(ctx context.Context, tableID, text string, limit int) ([]bases.Record, error)
}

// Postgres adapts a RecordSearcher to Searcher.
type Postgres struct {
	records RecordSearcher
}

func NewPostgres(records RecordSearcher) *Postgres {
	return &Postgres{records: records}
}

// Healthy always returns true; a dead database surfaces as a Search error.
func (p *Postgres) Healthy() bool {
	return true
}

func (p *Postgres) Search(ctx context.Context, q Query) ([]Result, int, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	records, err := p.records.SearchRecords(ctx, q.TableID, q.Text, limit+q.Offset)
	if err != nil {
		return nil, 0, err
	}
	results := toResults(q.TableID, records)
	return page(results, q.Offset, limit), len(results), nil
}

// CacheScan searches the records already cached in memory. It only sees the
// pages that have been fetched.
type CacheScan struct {
	store *bases.Store
}

func NewCacheScan(store *bases.Store) *CacheScan {
	return &CacheScan{store: store}
}

func (c *CacheScan) Healthy() bool {
	return true
}

func (c *CacheScan) Search(_ context.Context, q Query) ([]Result, int, error) {
	text := strings.ToLower(strings.TrimSpace(q.Text))
	if text == "" {
		return nil, 0, nil
	}
	cache, ok := c.store.Records(q.TableID)
	if !ok {
		return nil, 0, nil
	}
	var matched []bases.Record
	for _, record := range cache.Items {
		if recordContains(record, text) {
			matched = append(matched, record)
		}
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	results := toResults(q.TableID, matched)
	return page(results, q.Offset, limit), len(results), nil
}

// recordContains reports whether any value of the record, rendered as text,
// contains the lowercased needle.
func recordContains(record bases.Record, needle string) bool {
	for key, value := range record {
		if key == "id" {
			continue
		}
		var text string
		switch v := value.(type) {
		case nil:
			continue
		case string:
			text = v
		case map[string]any, []any:
			raw, err := json.Marshal(v)
			if err != nil {
				continue
			}
			text = string(raw)
		default:
			text = fmt.Sprint(v)
		}
		if strings.Contains(strings.ToLower(text), needle) {
			return true
		}
	}
	return false
}

func toResults(tableID string, records []bases.Record) []Result {
	results := make([]Result, 0, len(records))
	for _, record := range records {
		results = append(results, Result{TableID: tableID, RecordID: record.ID(), Record: record})
	}
	return results
}

func page(results []Result, offset, limit int) []Result {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(results) {
		return []Result{}
	}
	end := offset + limit
	if end > len(results) {
		end = len(results)
	}
	return results[offset:end]
}
