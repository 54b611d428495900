package bases

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"
)

// ID is a catalog identifier. pg-meta sends numeric ids for tables and columns,
// the platform sends strings; both decode to the same canonical text.
type ID string

func (id *ID) UnmarshalJSON(raw []byte) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		*id = ""
		return nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return fmt.Errorf("decode id %s: %w", raw, err)
	}
	*id = ID(recordKey(n))
	return nil
}

type Field struct {
	ID           ID     `json:"id"`
	Name         string `json:"name"`
	TableID      ID     `json:"table_id,omitempty"`
	DataType     string `json:"data_type,omitempty"`
	Format       string `json:"format,omitempty"`
	IsNullable   bool   `json:"is_nullable"`
	IsUnique     bool   `json:"is_unique"`
	IsIdentity   bool   `json:"is_identity"`
	IsGenerated  bool   `json:"is_generated"`
	DefaultValue any    `json:"default_value,omitempty"`
	Comment      string `json:"comment,omitempty"`
}

type FieldList struct {
	Items []Field `json:"items"`
}

type Table struct {
	ID         ID        `json:"id"`
	Name       string    `json:"name"`
	Schema     string    `json:"schema,omitempty"`
	BaseID     string    `json:"base_id,omitempty"`
	RLSEnabled bool      `json:"rls_enabled"`
	Comment    string    `json:"comment,omitempty"`
	Fields     FieldList `json:"fields"`
}

type TableList struct {
	Items []Table `json:"items"`
}

type Base struct {
	ID     string    `json:"id"`
	Name   string    `json:"name,omitempty"`
	Tables TableList `json:"tables"`
}

// Record is one row keyed by column name. Its identity lives under "id".
type Record map[string]any

func (r Record) ID() string {
	if r == nil {
		return ""
	}
	return recordKey(r["id"])
}

type RecordCache struct {
	Items []Record `json:"items"`
	Total int      `json:"total"`
}

type RecordsState struct {
	Loading            bool       `json:"loading"`
	LastFetched        *time.Time `json:"lastFetched,omitempty"`
	NextPageToken      string     `json:"next_page_token,omitempty"`
	IsFullyLoaded      bool       `json:"isFullyLoaded"`
	HasRealTimeUpdates bool       `json:"hasRealTimeUpdates"`
	LastRealTimeUpdate *time.Time `json:"lastRealTimeUpdate,omitempty"`
	TotalRecords       int        `json:"totalRecords"`
	TotalPages         int        `json:"totalPages"`
	PageSize           int        `json:"pageSize"`
	CurrentPage        int        `json:"currentPage"`
}

// RecordPage is one page of a table's rows as returned by a Source.
type RecordPage struct {
	Records       []Record `json:"records"`
	Total         int      `json:"total"`
	NextPageToken string   `json:"next_page_token,omitempty"`
}

// recordKey renders an id so that 1, 1.0, "1" and json.Number("1") compare equal.
func recordKey(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return id
	case ID:
		return string(id)
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(id), 'f', -1, 64)
	case int:
		return strconv.Itoa(id)
	case int32:
		return strconv.FormatInt(int64(id), 10)
	case int64:
		return strconv.FormatInt(id, 10)
	case json.Number:
		if f, err := id.Float64(); err == nil && !math.IsInf(f, 0) {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
		return id.String()
	default:
		return fmt.Sprint(id)
	}
}

func totalPages(total, pageSize int) int {
	if pageSize <= 0 || total <= 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}

// dedupeRecords drops nil records and later copies of an id. Records without an
// id are kept in order.
func dedupeRecords(items []Record) []Record {
	seen := make(map[string]struct{}, len(items))
	out := make([]Record, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		if key := item.ID(); key != "" {
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
		}
		out = append(out, item)
	}
	return out
}

func (r Record) clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for key, value := range r {
		out[key] = cloneValue(value)
	}
	return out
}

func cloneValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, value := range typed {
			out[key] = cloneValue(value)
		}
		return out
	case Record:
		return typed.clone()
	case []any:
		out := make([]any, len(typed))
		for i, value := range typed {
			out[i] = cloneValue(value)
		}
		return out
	default:
		return v
	}
}

func cloneRecords(items []Record) []Record {
	if items == nil {
		return nil
	}
	out := make([]Record, len(items))
	for i, item := range items {
		out[i] = item.clone()
	}
	return out
}

func (t Table) clone() Table {
	out := t
	out.Fields.Items = append([]Field(nil), t.Fields.Items...)
	return out
}

func (b *Base) clone() Base {
	out := *b
	out.Tables.Items = make([]Table, len(b.Tables.Items))
	for i, table := range b.Tables.Items {
		out.Tables.Items[i] = table.clone()
	}
	return out
}

// overlay applies changes to a JSON-tagged struct. Keys that do not decode into
// the target are skipped one at a time.
func overlay[T any](v T, changes map[string]any) T {
	if len(changes) == 0 {
		return v
	}
	if merged, err := overlayAll(v, changes); err == nil {
		return merged
	}
	keys := make([]string, 0, len(changes))
	for key := range changes {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if merged, err := overlayAll(v, map[string]any{key: changes[key]}); err == nil {
			v = merged
		}
	}
	return v
}

func overlayAll[T any](v T, changes map[string]any) (T, error) {
	var zero T
	encoded, err := json.Marshal(v)
	if err != nil {
		return zero, err
	}
	fields := make(map[string]any)
	if err := json.Unmarshal(encoded, &fields); err != nil {
		return zero, err
	}
	for key, value := range changes {
		fields[key] = value
	}
	if encoded, err = json.Marshal(fields); err != nil {
		return zero, err
	}
	var merged T
	if err := json.Unmarshal(encoded, &merged); err != nil {
		return zero, err
	}
	return merged, nil
}
