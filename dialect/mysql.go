package dialect

import "strings"

type mysqlGen struct{}

func (mysqlGen) Name() string { return MySQL }

func (mysqlGen) QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// MySQL natively uses ?, so conversion only collapses the ?? escape.
func (mysqlGen) ConvertPlaceholders(query string, args []any) (string, []any) {
	return unescapePlaceholders(query), args
}

func (g mysqlGen) UpsertSQL(entity string, fields []string) string {
	sets := make([]string, 0, len(fields))
	for _, f := range fields {
		if f == "id" {
			continue
		}
		sets = append(sets, g.QuoteIdentifier(f)+" = new_data."+g.QuoteIdentifier(f))
	}
	q := "INSERT INTO " + g.QuoteIdentifier(entity) +
		" (" + quoteJoin(g, fields) + ") VALUES (" + placeholders(len(fields)) + ") AS new_data"
	if len(sets) == 0 {
		return q + " ON DUPLICATE KEY UPDATE " + g.QuoteIdentifier("id") +
			" = new_data." + g.QuoteIdentifier("id")
	}
	return q + " ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
}

func (g mysqlGen) MetaUpsertSQL(entity string) string {
	return "INSERT INTO " + g.QuoteIdentifier(MetaTable(entity)) +
		" (" + quoteJoin(g, []string{"name", "type"}) + ") VALUES (?, ?) AS new_data" +
		" ON DUPLICATE KEY UPDATE " + g.QuoteIdentifier("type") +
		" = new_data." + g.QuoteIdentifier("type")
}

func (g mysqlGen) MetaSelectSQL(entity string) string { return metaSelectSQL(g, entity) }

// MySQL TEXT columns cannot be primary keys without a length, so the
// id and meta name columns use VARCHAR(255).
func (g mysqlGen) CreateTableSQL(entity string, cols []Column) string {
	defs := make([]string, len(cols))
	for i, c := range cols {
		if c.Name == "id" {
			defs[i] = g.QuoteIdentifier("id") + " VARCHAR(255) PRIMARY KEY"
			continue
		}
		defs[i] = g.QuoteIdentifier(c.Name) + " TEXT"
	}
	return "CREATE TABLE IF NOT EXISTS " + g.QuoteIdentifier(entity) +
		" (" + strings.Join(defs, ", ") + ")"
}

func (g mysqlGen) CreateMetaTableSQL(entity string) string {
	return "CREATE TABLE IF NOT EXISTS " + g.QuoteIdentifier(MetaTable(entity)) +
		" (" + g.QuoteIdentifier("name") + " VARCHAR(255) PRIMARY KEY, " +
		g.QuoteIdentifier("type") + " TEXT)"
}

func (g mysqlGen) CreateHistoryTableSQL(entity string, cols []Column) string {
	hcols := historyColumns(cols)
	defs := make([]string, len(hcols))
	for i, c := range hcols {
		typ := "TEXT"
		switch c.Name {
		case "id":
			typ = "VARCHAR(255)"
		case "version":
			typ = "BIGINT"
		}
		defs[i] = g.QuoteIdentifier(c.Name) + " " + typ
	}
	return "CREATE TABLE IF NOT EXISTS " + g.QuoteIdentifier(HistoryTable(entity)) +
		" (" + strings.Join(defs, ", ") + ", PRIMARY KEY (" +
		g.QuoteIdentifier("id") + ", " + g.QuoteIdentifier("version") + "))"
}

func (g mysqlGen) HistoryInsertSQL(entity string, fields []string) string {
	return historyInsertSQL(g, entity, fields)
}

func (mysqlGen) ListTablesSQL() Statement {
	return Statement{
		Query: "SELECT table_name FROM information_schema.tables " +
			"WHERE table_schema = DATABASE() AND table_name LIKE ?",
		Args: []any{"%_meta"},
	}
}

func (mysqlGen) ListColumnsSQL(table string) Statement {
	return Statement{
		Query: "SELECT column_name, data_type FROM information_schema.columns " +
			"WHERE table_name = ? AND table_schema = DATABASE() ORDER BY ordinal_position",
		Args: []any{table},
	}
}

func (mysqlGen) Columns(rows [][]any) []Column {
	cols := make([]Column, 0, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		cols = append(cols, Column{Name: asString(row[0]), Type: asString(row[1])})
	}
	return cols
}

// Requires MySQL 8.0+ for ADD COLUMN IF NOT EXISTS.
func (g mysqlGen) AddColumnSQL(table, column string) string {
	return "ALTER TABLE " + g.QuoteIdentifier(table) +
		" ADD COLUMN IF NOT EXISTS " + g.QuoteIdentifier(column) + " TEXT"
}

func (mysqlGen) TableExistsSQL(table string) Statement {
	return Statement{
		Query: "SELECT table_name FROM information_schema.tables " +
			"WHERE table_name = ? AND table_schema = DATABASE()",
		Args: []any{table},
	}
}

func (mysqlGen) ColumnExistsSQL(table, column string) Statement {
	return Statement{
		Query: "SELECT column_name FROM information_schema.columns " +
			"WHERE table_name = ? AND column_name = ? AND table_schema = DATABASE()",
		Args: []any{table, column},
	}
}

func (mysqlGen) HasColumn(rows [][]any, _ string) bool { return len(rows) > 0 }

func (g mysqlGen) EntityByIDSQL(entity string, includeDeleted bool) string {
	return entityByIDSQL(g, entity, includeDeleted)
}

func (g mysqlGen) EntityHistorySQL(entity, id string) Statement {
	return entityHistorySQL(g, entity, id)
}

func (g mysqlGen) EntityVersionSQL(entity, id string, version int64) Statement {
	return entityVersionSQL(g, entity, id, version)
}

func (g mysqlGen) MaxVersionSQL(entity string) string { return maxVersionSQL(g, entity) }

func (g mysqlGen) MaxVersionsSQL(entity string, n int) string {
	return maxVersionsSQL(g, entity, n)
}

func (g mysqlGen) SoftDeleteSQL(entity string) string { return softDeleteSQL(g, entity) }
func (g mysqlGen) RestoreSQL(entity string) string    { return restoreSQL(g, entity) }
func (g mysqlGen) DeleteSQL(entity string) string     { return deleteSQL(g, entity) }

func (g mysqlGen) CountSQL(entity, where string, includeDeleted bool) string {
	return countSQL(g, entity, where, includeDeleted)
}

func (g mysqlGen) SelectSQL(entity string, q Query) string { return selectSQL(g, entity, q) }

func (g mysqlGen) UpdateFieldsSQL(entity string, fields []string) string {
	return updateFieldsSQL(g, entity, fields)
}

func (mysqlGen) TuningSQL() []string {
	return []string{
		"SET time_zone = '+00:00'",
		"SET SESSION sql_mode = 'STRICT_ALL_TABLES'",
	}
}

// MySQL has no standalone sequence objects.
func (mysqlGen) NextSequenceValueSQL(string) (string, bool) { return "", false }

func (mysqlGen) ServerVersionSQL() string { return "SELECT VERSION()" }
