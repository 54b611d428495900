// Package search finds records of one table by free text. Meilisearch serves the
// query when configured and healthy; otherwise Postgres or the record cache does.
package search

import (
	"context"

	"altan/workspace/internal/bases"
)

// Source names the backend that answered a query.
type Source string

const (
	SourceMeili    Source = "meilisearch"
	SourcePostgres Source = "postgres"
	SourceCache    Source = "cache"
)

// Result is a single search hit returned to the caller.
type Result struct {
	TableID  string       `json:"table_id"`
	RecordID string       `json:"record_id"`
	Record   bases.Record `json:"record"`
}

// Query describes a search request.
type Query struct {
	TableID string
	Text    string
	Limit   int
	Offset  int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Source  Source   `json:"source"`
}

// Searcher can execute a full-text search over one table.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// RecordDocument is what we index for one record. UID joins table and record id
// because Meilisearch needs one primary key across tables.
type RecordDocument struct {
	UID      string       `json:"uid"`
	TableID  string       `json:"table_id"`
	RecordID string       `json:"record_id"`
	Record   bases.Record `json:"record"`
}

func newDocument(tableID string, record bases.Record) RecordDocument {
	return RecordDocument{
		UID:      documentUID(tableID, record.ID()),
		TableID:  tableID,
		RecordID: record.ID(),
		Record:   record,
	}
}

// documentUID keeps only characters Meilisearch accepts in ids.
func documentUID(tableID, recordID string) string {
	raw := tableID + "_" + recordID
	out := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		ch := raw[i]
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9', ch == '-', ch == '_':
			out = append(out, ch)
		default:
			out = append(out, '-')
		}
	}
	return string(out)
}
