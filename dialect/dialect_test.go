package dialect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	for _, name := range []string{SQLite, Postgres, MySQL} {
		gen, err := Get(name)
		require.NoError(t, err)
		assert.Equal(t, name, gen.Name())
	}
	_, err := Get("oracle")
	assert.Error(t, err)
}

func TestConvertPlaceholdersSQLite(t *testing.T) {
	gen, err := Get(SQLite)
	require.NoError(t, err)

	q, args := gen.ConvertPlaceholders("SELECT * FROM t WHERE a = ? AND b = ?", []any{1, 2})
	assert.Equal(t, "SELECT * FROM t WHERE a = ? AND b = ?", q)
	assert.Equal(t, []any{1, 2}, args)

	// ?? is a literal question mark, not a placeholder.
	q, _ = gen.ConvertPlaceholders("SELECT 'what??' WHERE a = ?", nil)
	assert.Equal(t, "SELECT 'what?' WHERE a = ?", q)
}

func TestConvertPlaceholdersPostgres(t *testing.T) {
	gen, err := Get(Postgres)
	require.NoError(t, err)

	q, args := gen.ConvertPlaceholders("SELECT * FROM t WHERE a = ? AND b = ?", []any{1, 2})
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", q)
	assert.Equal(t, []any{1, 2}, args)

	q, _ = gen.ConvertPlaceholders("SELECT 'what??' WHERE a = ?", nil)
	assert.Equal(t, "SELECT 'what?' WHERE a = $1", q)
}

func TestConvertPlaceholdersMySQL(t *testing.T) {
	gen, err := Get(MySQL)
	require.NoError(t, err)

	q, _ := gen.ConvertPlaceholders("SELECT 'a??b' WHERE x = ?", nil)
	assert.Equal(t, "SELECT 'a?b' WHERE x = ?", q)
}

func TestQuoteIdentifier(t *testing.T) {
	sqlite, _ := Get(SQLite)
	assert.Equal(t, `"users"`, sqlite.QuoteIdentifier("users"))
	assert.Equal(t, `"we""ird"`, sqlite.QuoteIdentifier(`we"ird`))

	mysql, _ := Get(MySQL)
	assert.Equal(t, "`users`", mysql.QuoteIdentifier("users"))
}

func TestUpsertSQL(t *testing.T) {
	fields := []string{"id", "name"}

	sqlite, _ := Get(SQLite)
	assert.Equal(t,
		`INSERT OR REPLACE INTO "users" ("id", "name") VALUES (?, ?)`,
		sqlite.UpsertSQL("users", fields))

	pg, _ := Get(Postgres)
	assert.Equal(t,
		`INSERT INTO "users" ("id", "name") VALUES (?, ?) ON CONFLICT ("id") DO UPDATE SET "name" = EXCLUDED."name"`,
		pg.UpsertSQL("users", fields))

	mysql, _ := Get(MySQL)
	assert.Equal(t,
		"INSERT INTO `users` (`id`, `name`) VALUES (?, ?) AS new_data ON DUPLICATE KEY UPDATE `name` = new_data.`name`",
		mysql.UpsertSQL("users", fields))
}

func TestUpsertSQLOnlyID(t *testing.T) {
	pg, _ := Get(Postgres)
	assert.Equal(t,
		`INSERT INTO "users" ("id") VALUES (?) ON CONFLICT ("id") DO NOTHING`,
		pg.UpsertSQL("users", []string{"id"}))
}

func TestCreateTableSQL(t *testing.T) {
	cols := []Column{{Name: "id"}, {Name: "name"}}

	sqlite, _ := Get(SQLite)
	assert.Equal(t,
		`CREATE TABLE IF NOT EXISTS "users" ("id" TEXT PRIMARY KEY, "name" TEXT)`,
		sqlite.CreateTableSQL("users", cols))

	mysql, _ := Get(MySQL)
	assert.Equal(t,
		"CREATE TABLE IF NOT EXISTS `users` (`id` VARCHAR(255) PRIMARY KEY, `name` TEXT)",
		mysql.CreateTableSQL("users", cols))
}

func TestCreateHistoryTableSQL(t *testing.T) {
	sqlite, _ := Get(SQLite)
	got := sqlite.CreateHistoryTableSQL("users", []Column{{Name: "id"}})
	assert.Contains(t, got, `"users_history"`)
	assert.Contains(t, got, `"version" INTEGER`)
	assert.Contains(t, got, `"history_timestamp" TEXT`)
	assert.Contains(t, got, `PRIMARY KEY ("id", "version")`)
}

func TestSQLiteColumns(t *testing.T) {
	sqlite, _ := Get(SQLite)
	rows := [][]any{
		{int64(0), "id", "TEXT", int64(0), nil, int64(1)},
		{int64(1), "name", "TEXT", int64(0), nil, int64(0)},
	}
	cols := sqlite.Columns(rows)
	require.Len(t, cols, 2)
	assert.Equal(t, "id", cols[0].Name)
	assert.Equal(t, "name", cols[1].Name)
	assert.True(t, sqlite.HasColumn(rows, "name"))
	assert.False(t, sqlite.HasColumn(rows, "missing"))
}

func TestPostgresColumns(t *testing.T) {
	pg, _ := Get(Postgres)
	cols := pg.Columns([][]any{{"id", "text"}, {"age", "text"}})
	require.Len(t, cols, 2)
	assert.Equal(t, "id", cols[0].Name)
	assert.True(t, pg.HasColumn([][]any{{"age"}}, "age"))
	assert.False(t, pg.HasColumn(nil, "age"))
}

func TestSelectSQL(t *testing.T) {
	sqlite, _ := Get(SQLite)

	got := sqlite.SelectSQL("users", Query{Where: "age > ?", OrderBy: "age DESC", Limit: 10, Offset: 5})
	assert.Equal(t,
		`SELECT * FROM "users" WHERE "deleted_at" IS NULL AND age > ? ORDER BY age DESC LIMIT 10 OFFSET 5`,
		got)

	got = sqlite.SelectSQL("users", Query{IncludeDeleted: true, Limit: -1, Offset: -1})
	assert.Equal(t, `SELECT * FROM "users"`, got)
}

func TestCountSQL(t *testing.T) {
	sqlite, _ := Get(SQLite)
	assert.Equal(t,
		`SELECT COUNT(*) FROM "users" WHERE "deleted_at" IS NULL`,
		sqlite.CountSQL("users", "", false))
	assert.Equal(t,
		`SELECT COUNT(*) FROM "users"`,
		sqlite.CountSQL("users", "", true))
}

func TestMaxVersionsSQL(t *testing.T) {
	sqlite, _ := Get(SQLite)
	assert.Equal(t,
		`SELECT "id", MAX("version") FROM "users_history" WHERE "id" IN (?, ?, ?) GROUP BY "id"`,
		sqlite.MaxVersionsSQL("users", 3))
}

func TestSoftDeleteShapes(t *testing.T) {
	sqlite, _ := Get(SQLite)
	assert.Equal(t,
		`UPDATE "users" SET "deleted_at" = ?, "updated_at" = ?, "updated_by" = ? WHERE "id" = ?`,
		sqlite.SoftDeleteSQL("users"))
	assert.Equal(t,
		`UPDATE "users" SET "deleted_at" = NULL, "updated_at" = ?, "updated_by" = ? WHERE "id" = ?`,
		sqlite.RestoreSQL("users"))
	assert.Equal(t,
		`DELETE FROM "users" WHERE "id" = ?`,
		sqlite.DeleteSQL("users"))
}

func TestSequences(t *testing.T) {
	sqlite, _ := Get(SQLite)
	_, ok := sqlite.NextSequenceValueSQL("users_seq")
	assert.False(t, ok)

	mysql, _ := Get(MySQL)
	_, ok = mysql.NextSequenceValueSQL("users_seq")
	assert.False(t, ok)

	pg, _ := Get(Postgres)
	q, ok := pg.NextSequenceValueSQL("users_seq")
	assert.True(t, ok)
	assert.Equal(t, "SELECT nextval('users_seq')", q)
}

func TestTagComment(t *testing.T) {
	assert.Equal(t, "", TagComment(nil))
	assert.Equal(t,
		"/* caller=engine, op=save */",
		TagComment(map[string]string{"op": "save", "caller": "engine"}))
	// Values cannot terminate the comment early.
	assert.Equal(t,
		"/* k=v */",
		TagComment(map[string]string{"k": "v*/"}))
}

func TestTableNames(t *testing.T) {
	assert.Equal(t, "users_meta", MetaTable("users"))
	assert.Equal(t, "users_history", HistoryTable("users"))
}
