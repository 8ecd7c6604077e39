package dialect

import (
	"fmt"
	"strings"
)

// sqliteGen is the reference Generator implementation.
type sqliteGen struct{}

func (sqliteGen) Name() string { return SQLite }

func (sqliteGen) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// SQLite natively uses ?, so conversion only collapses the ?? escape.
func (sqliteGen) ConvertPlaceholders(query string, args []any) (string, []any) {
	return unescapePlaceholders(query), args
}

func (g sqliteGen) UpsertSQL(entity string, fields []string) string {
	return "INSERT OR REPLACE INTO " + g.QuoteIdentifier(entity) +
		" (" + quoteJoin(g, fields) + ") VALUES (" + placeholders(len(fields)) + ")"
}

func (g sqliteGen) MetaUpsertSQL(entity string) string {
	return "INSERT OR REPLACE INTO " + g.QuoteIdentifier(MetaTable(entity)) +
		" (" + quoteJoin(g, []string{"name", "type"}) + ") VALUES (?, ?)"
}

func (g sqliteGen) MetaSelectSQL(entity string) string { return metaSelectSQL(g, entity) }

func (g sqliteGen) CreateTableSQL(entity string, cols []Column) string {
	defs := make([]string, len(cols))
	for i, c := range cols {
		if c.Name == "id" {
			defs[i] = g.QuoteIdentifier("id") + " TEXT PRIMARY KEY"
			continue
		}
		defs[i] = g.QuoteIdentifier(c.Name) + " TEXT"
	}
	return "CREATE TABLE IF NOT EXISTS " + g.QuoteIdentifier(entity) +
		" (" + strings.Join(defs, ", ") + ")"
}

func (g sqliteGen) CreateMetaTableSQL(entity string) string {
	return "CREATE TABLE IF NOT EXISTS " + g.QuoteIdentifier(MetaTable(entity)) +
		" (" + g.QuoteIdentifier("name") + " TEXT PRIMARY KEY, " +
		g.QuoteIdentifier("type") + " TEXT)"
}

func (g sqliteGen) CreateHistoryTableSQL(entity string, cols []Column) string {
	hcols := historyColumns(cols)
	defs := make([]string, len(hcols))
	for i, c := range hcols {
		typ := "TEXT"
		if c.Name == "version" {
			typ = "INTEGER"
		}
		defs[i] = g.QuoteIdentifier(c.Name) + " " + typ
	}
	return "CREATE TABLE IF NOT EXISTS " + g.QuoteIdentifier(HistoryTable(entity)) +
		" (" + strings.Join(defs, ", ") + ", PRIMARY KEY (" +
		g.QuoteIdentifier("id") + ", " + g.QuoteIdentifier("version") + "))"
}

func (g sqliteGen) HistoryInsertSQL(entity string, fields []string) string {
	return historyInsertSQL(g, entity, fields)
}

func (sqliteGen) ListTablesSQL() Statement {
	return Statement{
		Query: "SELECT name FROM sqlite_master WHERE type='table' AND name LIKE ?",
		Args:  []any{"%_meta"},
	}
}

// PRAGMA statements do not accept bound identifiers, so the table name
// is interpolated after quoting.
func (g sqliteGen) ListColumnsSQL(table string) Statement {
	return Statement{Query: "PRAGMA table_info(" + g.QuoteIdentifier(table) + ")"}
}

// Columns decodes PRAGMA table_info rows: (cid, name, type, notnull,
// dflt_value, pk), column name at index 1.
func (sqliteGen) Columns(rows [][]any) []Column {
	cols := make([]Column, 0, len(rows))
	for _, row := range rows {
		if len(row) < 3 {
			continue
		}
		cols = append(cols, Column{Name: asString(row[1]), Type: asString(row[2])})
	}
	return cols
}

// SQLite has no ADD COLUMN IF NOT EXISTS; callers check existence first.
func (g sqliteGen) AddColumnSQL(table, column string) string {
	return "ALTER TABLE " + g.QuoteIdentifier(table) +
		" ADD COLUMN " + g.QuoteIdentifier(column) + " TEXT"
}

func (sqliteGen) TableExistsSQL(table string) Statement {
	return Statement{
		Query: "SELECT name FROM sqlite_master WHERE type='table' AND name=?",
		Args:  []any{table},
	}
}

func (g sqliteGen) ColumnExistsSQL(table, column string) Statement {
	return g.ListColumnsSQL(table)
}

func (g sqliteGen) HasColumn(rows [][]any, column string) bool {
	for _, c := range g.Columns(rows) {
		if c.Name == column {
			return true
		}
	}
	return false
}

func (g sqliteGen) EntityByIDSQL(entity string, includeDeleted bool) string {
	return entityByIDSQL(g, entity, includeDeleted)
}

func (g sqliteGen) EntityHistorySQL(entity, id string) Statement {
	return entityHistorySQL(g, entity, id)
}

func (g sqliteGen) EntityVersionSQL(entity, id string, version int64) Statement {
	return entityVersionSQL(g, entity, id, version)
}

func (g sqliteGen) MaxVersionSQL(entity string) string { return maxVersionSQL(g, entity) }

func (g sqliteGen) MaxVersionsSQL(entity string, n int) string {
	return maxVersionsSQL(g, entity, n)
}

func (g sqliteGen) SoftDeleteSQL(entity string) string { return softDeleteSQL(g, entity) }
func (g sqliteGen) RestoreSQL(entity string) string    { return restoreSQL(g, entity) }
func (g sqliteGen) DeleteSQL(entity string) string     { return deleteSQL(g, entity) }

func (g sqliteGen) CountSQL(entity, where string, includeDeleted bool) string {
	return countSQL(g, entity, where, includeDeleted)
}

func (g sqliteGen) SelectSQL(entity string, q Query) string { return selectSQL(g, entity, q) }

func (g sqliteGen) UpdateFieldsSQL(entity string, fields []string) string {
	return updateFieldsSQL(g, entity, fields)
}

func (sqliteGen) TuningSQL() []string {
	return []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA cache_size = -8000",
	}
}

// SQLite has no native sequences; callers fall back to another
// strategy (the engine derives versions from MAX(version)).
func (sqliteGen) NextSequenceValueSQL(string) (string, bool) { return "", false }

func (sqliteGen) ServerVersionSQL() string { return "SELECT sqlite_version()" }

// asString normalizes the scalar forms drivers use for text columns.
func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case nil:
		return ""
	default:
		return fmt.Sprint(s)
	}
}
