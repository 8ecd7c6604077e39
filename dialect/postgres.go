package dialect

import (
	"strconv"
	"strings"
)

type postgresGen struct{}

func (postgresGen) Name() string { return Postgres }

func (postgresGen) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// ConvertPlaceholders renumbers portable ? placeholders into $1..$N
// and collapses the ?? escape into a literal question mark.
func (postgresGen) ConvertPlaceholders(query string, args []any) (string, []any) {
	var b strings.Builder
	b.Grow(len(query) + len(args)*2)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] != '?' {
			b.WriteByte(query[i])
			continue
		}
		if i+1 < len(query) && query[i+1] == '?' {
			b.WriteByte('?')
			i++
			continue
		}
		n++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
	}
	return b.String(), args
}

func (g postgresGen) UpsertSQL(entity string, fields []string) string {
	sets := make([]string, 0, len(fields))
	for _, f := range fields {
		if f == "id" {
			continue
		}
		sets = append(sets, g.QuoteIdentifier(f)+" = EXCLUDED."+g.QuoteIdentifier(f))
	}
	q := "INSERT INTO " + g.QuoteIdentifier(entity) +
		" (" + quoteJoin(g, fields) + ") VALUES (" + placeholders(len(fields)) + ")"
	if len(sets) == 0 {
		return q + " ON CONFLICT (" + g.QuoteIdentifier("id") + ") DO NOTHING"
	}
	return q + " ON CONFLICT (" + g.QuoteIdentifier("id") + ") DO UPDATE SET " +
		strings.Join(sets, ", ")
}

func (g postgresGen) MetaUpsertSQL(entity string) string {
	return "INSERT INTO " + g.QuoteIdentifier(MetaTable(entity)) +
		" (" + quoteJoin(g, []string{"name", "type"}) + ") VALUES (?, ?)" +
		" ON CONFLICT (" + g.QuoteIdentifier("name") + ") DO UPDATE SET " +
		g.QuoteIdentifier("type") + " = EXCLUDED." + g.QuoteIdentifier("type")
}

func (g postgresGen) MetaSelectSQL(entity string) string { return metaSelectSQL(g, entity) }

func (g postgresGen) CreateTableSQL(entity string, cols []Column) string {
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

func (g postgresGen) CreateMetaTableSQL(entity string) string {
	return "CREATE TABLE IF NOT EXISTS " + g.QuoteIdentifier(MetaTable(entity)) +
		" (" + g.QuoteIdentifier("name") + " TEXT PRIMARY KEY, " +
		g.QuoteIdentifier("type") + " TEXT)"
}

func (g postgresGen) CreateHistoryTableSQL(entity string, cols []Column) string {
	hcols := historyColumns(cols)
	defs := make([]string, len(hcols))
	for i, c := range hcols {
		typ := "TEXT"
		if c.Name == "version" {
			typ = "BIGINT"
		}
		defs[i] = g.QuoteIdentifier(c.Name) + " " + typ
	}
	return "CREATE TABLE IF NOT EXISTS " + g.QuoteIdentifier(HistoryTable(entity)) +
		" (" + strings.Join(defs, ", ") + ", PRIMARY KEY (" +
		g.QuoteIdentifier("id") + ", " + g.QuoteIdentifier("version") + "))"
}

func (g postgresGen) HistoryInsertSQL(entity string, fields []string) string {
	return historyInsertSQL(g, entity, fields)
}

func (postgresGen) ListTablesSQL() Statement {
	return Statement{
		Query: "SELECT table_name FROM information_schema.tables " +
			"WHERE table_schema = 'public' AND table_name LIKE ?",
		Args: []any{"%_meta"},
	}
}

func (postgresGen) ListColumnsSQL(table string) Statement {
	return Statement{
		Query: "SELECT column_name, data_type FROM information_schema.columns " +
			"WHERE table_name = ? ORDER BY ordinal_position",
		Args: []any{table},
	}
}

// Columns decodes information_schema rows: column name at index 0,
// data type at index 1.
func (postgresGen) Columns(rows [][]any) []Column {
	cols := make([]Column, 0, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		cols = append(cols, Column{Name: asString(row[0]), Type: asString(row[1])})
	}
	return cols
}

func (g postgresGen) AddColumnSQL(table, column string) string {
	return "ALTER TABLE " + g.QuoteIdentifier(table) +
		" ADD COLUMN IF NOT EXISTS " + g.QuoteIdentifier(column) + " TEXT"
}

func (postgresGen) TableExistsSQL(table string) Statement {
	return Statement{
		Query: "SELECT table_name FROM information_schema.tables WHERE table_name = ?",
		Args:  []any{table},
	}
}

func (postgresGen) ColumnExistsSQL(table, column string) Statement {
	return Statement{
		Query: "SELECT column_name FROM information_schema.columns " +
			"WHERE table_name = ? AND column_name = ?",
		Args: []any{table, column},
	}
}

func (postgresGen) HasColumn(rows [][]any, _ string) bool { return len(rows) > 0 }

func (g postgresGen) EntityByIDSQL(entity string, includeDeleted bool) string {
	return entityByIDSQL(g, entity, includeDeleted)
}

func (g postgresGen) EntityHistorySQL(entity, id string) Statement {
	return entityHistorySQL(g, entity, id)
}

func (g postgresGen) EntityVersionSQL(entity, id string, version int64) Statement {
	return entityVersionSQL(g, entity, id, version)
}

func (g postgresGen) MaxVersionSQL(entity string) string { return maxVersionSQL(g, entity) }

func (g postgresGen) MaxVersionsSQL(entity string, n int) string {
	return maxVersionsSQL(g, entity, n)
}

func (g postgresGen) SoftDeleteSQL(entity string) string { return softDeleteSQL(g, entity) }
func (g postgresGen) RestoreSQL(entity string) string    { return restoreSQL(g, entity) }
func (g postgresGen) DeleteSQL(entity string) string     { return deleteSQL(g, entity) }

func (g postgresGen) CountSQL(entity, where string, includeDeleted bool) string {
	return countSQL(g, entity, where, includeDeleted)
}

func (g postgresGen) SelectSQL(entity string, q Query) string { return selectSQL(g, entity, q) }

func (g postgresGen) UpdateFieldsSQL(entity string, fields []string) string {
	return updateFieldsSQL(g, entity, fields)
}

func (postgresGen) TuningSQL() []string {
	return []string{
		"SET TIME ZONE 'UTC'",
		"SET application_name = 'strata'",
	}
}

func (postgresGen) NextSequenceValueSQL(sequence string) (string, bool) {
	return "SELECT nextval('" + strings.ReplaceAll(sequence, "'", "''") + "')", true
}

func (postgresGen) ServerVersionSQL() string { return "SHOW server_version" }
