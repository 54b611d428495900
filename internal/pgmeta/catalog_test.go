package pgmeta

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageTokenRoundTrip(t *testing.T) {
	token := encodeToken(cursor{After: "42"})
	decoded, err := decodeToken(token)
	require.NoError(t, err)
	assert.Equal(t, cursor{After: "42"}, decoded)

	empty, err := decodeToken("")
	require.NoError(t, err)
	assert.Equal(t, cursor{}, empty)
}

func TestDecodeTokenRejectsGarbage(t *testing.T) {
	_, err := decodeToken("!!!")
	assert.ErrorIs(t, err, ErrBadPageToken)

	_, err = decodeToken(encodeToken(cursor{Offset: -5}))
	assert.ErrorIs(t, err, ErrBadPageToken)
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `50\% off\_now \\o/`, escapeLike(`50% off_now \o/`))
}

func TestTableRefIdent(t *testing.T) {
	assert.Equal(t, `"public"."weird""name"`, tableRef{schema: "public", name: `weird"name`}.ident())
}

func TestResolveRejectsNonNumericIDs(t *testing.T) {
	c := NewCatalog(nil, "")
	_, err := c.resolve(context.Background(), "users")
	assert.ErrorIs(t, err, ErrTableNotFound)
	assert.Equal(t, "public", c.schema)
}

func TestCatalogPostgres(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("WORKSPACE_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("WORKSPACE_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := Open(ctx, dsn)
	require.NoError(t, err)
	defer db.Close()

	const schema = "workspace_pgmeta_test"
	_, err = db.ExecContext(ctx, `DROP SCHEMA IF EXISTS `+schema+` CASCADE`)
	require.NoError(t, err)
	defer db.ExecContext(context.Background(), `DROP SCHEMA IF EXISTS `+schema+` CASCADE`)

	for _, stmt := range []string{
		`CREATE SCHEMA ` + schema,
		`CREATE TABLE ` + schema + `.contacts (id bigint GENERATED ALWAYS AS IDENTITY PRIMARY KEY, email text UNIQUE, note text DEFAULT 'n/a')`,
		`INSERT INTO ` + schema + `.contacts (email) SELECT 'user' || g || '@example.com' FROM generate_series(1, 5) g`,
	} {
		_, err := db.ExecContext(ctx, stmt)
		require.NoError(t, err, stmt)
	}

	c := NewCatalog(db, schema)
	tables, err := c.ListTables(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, tables, 1)
	table := tables[0]
	assert.Equal(t, "contacts", table.Name)
	require.Len(t, table.Fields.Items, 3)
	assert.True(t, table.Fields.Items[0].IsIdentity)
	assert.True(t, table.Fields.Items[1].IsUnique)
	assert.Equal(t, "'n/a'::text", table.Fields.Items[2].DefaultValue)

	var seen []string
	token := ""
	for {
		page, err := c.ListRecords(ctx, string(table.ID), token, 2)
		require.NoError(t, err)
		assert.Equal(t, 5, page.Total)
		for _, record := range page.Records {
			seen = append(seen, record.ID())
		}
		if page.NextPageToken == "" {
			break
		}
		token = page.NextPageToken
	}
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, seen)

	found, err := c.SearchRecords(ctx, string(table.ID), "USER3@", 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "user3@example.com", found[0]["email"])

	_, err = c.ListRecords(ctx, "1", "", 10)
	assert.True(t, errors.Is(err, ErrTableNotFound))
}
