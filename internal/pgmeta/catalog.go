package pgmeta

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"altan/workspace/internal/bases"
)

var ErrTableNotFound = errors.New("table not found")

// Catalog introspects one schema. Table ids are pg_class oids and field ids are
// "<table oid>.<attnum>", matching pg-meta.
type Catalog struct {
	db     *sql.DB
	schema string
}

func NewCatalog(db *sql.DB, schema string) *Catalog {
	if schema == "" {
		schema = "public"
	}
	return &Catalog{db: db, schema: schema}
}

func (c *Catalog) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Catalog) Close() error {
	return c.db.Close()
}

const listTablesSQL = `
	SELECT c.oid::bigint, c.relname, n.nspname, c.relrowsecurity,
		coalesce(obj_description(c.oid, 'pg_class'), '')
	FROM pg_class c
	JOIN pg_namespace n ON n.oid = c.relnamespace
	WHERE n.nspname = $1 AND c.relkind IN ('r', 'p')
	ORDER BY c.relname
`

const listColumnsSQL = `
	SELECT a.attrelid::bigint, a.attnum, a.attname,
		format_type(a.atttypid, a.atttypmod),
		t.typname,
		NOT a.attnotnull,
		EXISTS (
			SELECT 1 FROM pg_index i
			WHERE i.indrelid = a.attrelid AND i.indisunique
				AND i.indnatts = 1 AND i.indkey[0] = a.attnum
		),
		a.attidentity <> '',
		a.attgenerated <> '',
		pg_get_expr(d.adbin, d.adrelid),
		coalesce(col_description(a.attrelid, a.attnum), '')
	FROM pg_attribute a
	JOIN pg_class c ON c.oid = a.attrelid
	JOIN pg_namespace n ON n.oid = c.relnamespace
	JOIN pg_type t ON t.oid = a.atttypid
	LEFT JOIN pg_attrdef d ON d.adrelid = a.attrelid AND d.adnum = a.attnum
	WHERE n.nspname = $1 AND c.relkind IN ('r', 'p') AND a.attnum > 0 AND NOT a.attisdropped
	ORDER BY a.attrelid, a.attnum
`

// ListTables returns every ordinary or partitioned table of the schema with its
// columns. baseID only tags the result.
func (c *Catalog) ListTables(ctx context.Context, baseID string) ([]bases.Table, error) {
	rows, err := c.db.QueryContext(ctx, listTablesSQL, c.schema)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var tables []bases.Table
	index := make(map[int64]int)
	for rows.Next() {
		var (
			oid   int64
			table bases.Table
		)
		if err := rows.Scan(&oid, &table.Name, &table.Schema, &table.RLSEnabled, &table.Comment); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		table.ID = bases.ID(strconv.FormatInt(oid, 10))
		table.BaseID = baseID
		table.Fields.Items = []bases.Field{}
		index[oid] = len(tables)
		tables = append(tables, table)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}
	if len(tables) == 0 {
		return []bases.Table{}, nil
	}

	colRows, err := c.db.QueryContext(ctx, listColumnsSQL, c.schema)
	if err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	defer colRows.Close()

	for colRows.Next() {
		var (
			oid      int64
			attnum   int
			field    bases.Field
			defValue sql.NullString
		)
		if err := colRows.Scan(&oid, &attnum, &field.Name, &field.DataType, &field.Format,
			&field.IsNullable, &field.IsUnique, &field.IsIdentity, &field.IsGenerated,
			&defValue, &field.Comment); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		pos, ok := index[oid]
		if !ok {
			continue
		}
		field.ID = bases.ID(fmt.Sprintf("%d.%d", oid, attnum))
		field.TableID = tables[pos].ID
		if defValue.Valid {
			field.DefaultValue = defValue.String
		}
		tables[pos].Fields.Items = append(tables[pos].Fields.Items, field)
	}
	if err := colRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	return tables, nil
}

type tableRef struct {
	schema string
	name   string
	idType string
}

// resolve maps a table oid to its qualified name and the type of its "id"
// column ("" when the table has none).
func (c *Catalog) resolve(ctx context.Context, tableID string) (tableRef, error) {
	oid, err := strconv.ParseInt(tableID, 10, 64)
	if err != nil {
		return tableRef{}, fmt.Errorf("%w: %s", ErrTableNotFound, tableID)
	}
	const q = `
		SELECT n.nspname, c.relname,
			coalesce((
				SELECT format_type(a.atttypid, a.atttypmod) FROM pg_attribute a
				WHERE a.attrelid = c.oid AND a.attname = 'id' AND NOT a.attisdropped
			), '')
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE c.oid = $1::bigint::oid AND n.nspname = $2 AND c.relkind IN ('r', 'p')
	`
	var ref tableRef
	err = c.db.QueryRowContext(ctx, q, oid, c.schema).Scan(&ref.schema, &ref.name, &ref.idType)
	if errors.Is(err, sql.ErrNoRows) {
		return tableRef{}, fmt.Errorf("%w: %s", ErrTableNotFound, tableID)
	}
	if err != nil {
		return tableRef{}, fmt.Errorf("resolve table %s: %w", tableID, err)
	}
	return ref, nil
}
