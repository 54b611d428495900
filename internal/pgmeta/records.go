package pgmeta

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"altan/workspace/internal/bases"
)

const defaultLimit = 50

var ErrBadPageToken = errors.New("invalid page token")

// cursor is the opaque value handed out as next_page_token. Tables with an
// "id" column page by key, others by offset.
type cursor struct {
	After  string `json:"after,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

func encodeToken(t cursor) string {
	raw, _ := json.Marshal(t)
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeToken(s string) (cursor, error) {
	var t cursor
	if s == "" {
		return t, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return t, fmt.Errorf("%w: %v", ErrBadPageToken, err)
	}
	if err := json.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("%w: %v", ErrBadPageToken, err)
	}
	if t.Offset < 0 {
		return t, fmt.Errorf("%w: negative offset", ErrBadPageToken)
	}
	return t, nil
}

func (r tableRef) ident() string {
	return pgx.Identifier{r.schema, r.name}.Sanitize()
}

// ListRecords returns one page of rows as JSON objects plus the table's row count.
func (c *Catalog) ListRecords(ctx context.Context, tableID, pageToken string, limit int) (bases.RecordPage, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	token, err := decodeToken(pageToken)
	if err != nil {
		return bases.RecordPage{}, err
	}
	ref, err := c.resolve(ctx, tableID)
	if err != nil {
		return bases.RecordPage{}, err
	}

	var total int
	if err := c.db.QueryRowContext(ctx, "SELECT count(*) FROM "+ref.ident()).Scan(&total); err != nil {
		return bases.RecordPage{}, fmt.Errorf("count records: %w", err)
	}

	var (
		query string
		args  []any
	)
	switch {
	case ref.idType != "" && token.After != "":
		query = fmt.Sprintf(`SELECT t.id::text, row_to_json(t)::text FROM %s t WHERE t.id > CAST($1 AS %s) ORDER BY t.id LIMIT $2`, ref.ident(), ref.idType)
		args = []any{token.After, limit + 1}
	case ref.idType != "":
		query = fmt.Sprintf(`SELECT t.id::text, row_to_json(t)::text FROM %s t ORDER BY t.id LIMIT $1`, ref.ident())
		args = []any{limit + 1}
	default:
		query = fmt.Sprintf(`SELECT '', row_to_json(t)::text FROM %s t ORDER BY ctid LIMIT $1 OFFSET $2`, ref.ident())
		args = []any{limit + 1, token.Offset}
	}

	records, lastIDs, err := c.scanRecords(ctx, query, args...)
	if err != nil {
		return bases.RecordPage{}, err
	}

	page := bases.RecordPage{Records: records, Total: total}
	if len(records) > limit {
		page.Records = records[:limit]
		if ref.idType != "" {
			page.NextPageToken = encodeToken(cursor{After: lastIDs[limit-1]})
		} else {
			page.NextPageToken = encodeToken(cursor{Offset: token.Offset + limit})
		}
	}
	return page, nil
}

// SearchRecords matches text case-insensitively against the JSON form of each row.
func (c *Catalog) SearchRecords(ctx context.Context, tableID, text string, limit int) ([]bases.Record, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return []bases.Record{}, nil
	}
	if limit <= 0 {
		limit = 20
	}
	ref, err := c.resolve(ctx, tableID)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT '', row_to_json(t)::text FROM %s t WHERE row_to_json(t)::text ILIKE $1 ESCAPE '\' LIMIT $2`, ref.ident())
	records, _, err := c.scanRecords(ctx, query, "%"+escapeLike(text)+"%", limit)
	return records, err
}

func (c *Catalog) scanRecords(ctx context.Context, query string, args ...any) ([]bases.Record, []string, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	records := []bases.Record{}
	var ids []string
	for rows.Next() {
		var (
			id  sql.NullString
			raw string
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, nil, fmt.Errorf("scan record: %w", err)
		}
		var record bases.Record
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			return nil, nil, fmt.Errorf("decode record: %w", err)
		}
		records = append(records, record)
		ids = append(ids, id.String)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, ids, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
