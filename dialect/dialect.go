package dialect

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Dialect names understood by the registry.
const (
	SQLite   = "sqlite"
	Postgres = "postgres"
	MySQL    = "mysql"
)

// Statement is a rendered SQL text with its parameter tuple, still in
// portable ? placeholder form.
type Statement struct {
	Query string
	Args  []any
}

// Column describes one column of an introspected table.
type Column struct {
	Name string
	Type string
}

// Query describes a filtered, ordered, paginated select. Limit and
// Offset are ignored when negative.
type Query struct {
	Where          string
	OrderBy        string
	Limit          int
	Offset         int
	IncludeDeleted bool
}

// Generator renders dialect-correct SQL for the persistence intents of
// the entity engine. Implementations are pure and stateless; they must
// escape every identifier they interpolate and must never execute SQL.
type Generator interface {
	// Name returns the dialect constant this generator serves.
	Name() string

	// QuoteIdentifier escapes a table or column name.
	QuoteIdentifier(name string) string

	// ConvertPlaceholders rewrites portable ? placeholders (and the ??
	// escape for a literal question mark) into the dialect's native
	// syntax, returning the final query and parameter order.
	ConvertPlaceholders(query string, args []any) (string, []any)

	// UpsertSQL renders an insert-or-update by id covering exactly the
	// given fields.
	UpsertSQL(entity string, fields []string) string

	// MetaUpsertSQL renders the (name, type) upsert for the meta table.
	MetaUpsertSQL(entity string) string

	// MetaSelectSQL renders the full meta table read.
	MetaSelectSQL(entity string) string

	CreateTableSQL(entity string, cols []Column) string
	CreateMetaTableSQL(entity string) string
	CreateHistoryTableSQL(entity string, cols []Column) string

	// HistoryInsertSQL renders an insert into the history table
	// covering the given fields.
	HistoryInsertSQL(entity string, fields []string) string

	ListTablesSQL() Statement
	ListColumnsSQL(table string) Statement

	// Columns decodes the rows produced by ListColumnsSQL. The decoding
	// is declared by the dialect; callers must not infer the row shape
	// from runtime value types.
	Columns(rows [][]any) []Column

	AddColumnSQL(table, column string) string
	TableExistsSQL(table string) Statement
	ColumnExistsSQL(table, column string) Statement

	// HasColumn decodes the rows produced by ColumnExistsSQL.
	HasColumn(rows [][]any, column string) bool

	EntityByIDSQL(entity string, includeDeleted bool) string
	EntityHistorySQL(entity, id string) Statement
	EntityVersionSQL(entity, id string, version int64) Statement

	// MaxVersionSQL renders the max-version lookup for one id; the id
	// is the single bound parameter.
	MaxVersionSQL(entity string) string

	// MaxVersionsSQL renders a grouped max-version lookup for n ids.
	MaxVersionsSQL(entity string, n int) string

	SoftDeleteSQL(entity string) string
	RestoreSQL(entity string) string
	DeleteSQL(entity string) string
	CountSQL(entity, where string, includeDeleted bool) string
	SelectSQL(entity string, q Query) string
	UpdateFieldsSQL(entity string, fields []string) string

	// TuningSQL returns the backend's recommended session or storage
	// tuning statements, to be executed in order.
	TuningSQL() []string

	// NextSequenceValueSQL reports the native sequence fetch for the
	// dialect. ok is false when the backend has no native sequences;
	// callers must fall back to another strategy, not fail.
	NextSequenceValueSQL(sequence string) (sql string, ok bool)

	// ServerVersionSQL renders the backend version query used by
	// connection diagnostics.
	ServerVersionSQL() string
}

// MetaTable returns the metadata table name for an entity type.
func MetaTable(entity string) string { return entity + "_meta" }

// HistoryTable returns the history table name for an entity type.
func HistoryTable(entity string) string { return entity + "_history" }

// TagComment renders free-form tags as a SQL comment for
// observability. Keys are sorted for a stable rendering; the closing
// comment marker is stripped from values so tags cannot break out of
// the comment. An empty tag set renders as "".
func TagComment(tags map[string]string) string {
	if len(tags) == 0 {
		return ""
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString("/* ")
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(sanitizeTag(k))
		b.WriteString("=")
		b.WriteString(sanitizeTag(tags[k]))
	}
	b.WriteString(" */")
	return b.String()
}

func sanitizeTag(s string) string {
	s = strings.ReplaceAll(s, "*/", "")
	return strings.ReplaceAll(s, "/*", "")
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Generator{}
)

// Register makes a generator available under its dialect name.
// Registering the same name twice overwrites the previous entry.
func Register(gen Generator) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[gen.Name()] = gen
}

// Get returns the generator registered for the given dialect name.
func Get(name string) (Generator, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	gen, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("dialect: unknown dialect %q", name)
	}
	return gen, nil
}

func init() {
	Register(sqliteGen{})
	Register(postgresGen{})
	Register(mysqlGen{})
}

// unescapePlaceholders collapses ?? into a literal ? without touching
// single placeholders. Used by dialects whose native placeholder is
// already ?.
func unescapePlaceholders(query string) string {
	var b strings.Builder
	b.Grow(len(query))
	for i := 0; i < len(query); i++ {
		if query[i] == '?' && i+1 < len(query) && query[i+1] == '?' {
			b.WriteByte('?')
			i++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// quoteJoin renders a comma-separated list of quoted identifiers.
func quoteJoin(gen Generator, names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = gen.QuoteIdentifier(n)
	}
	return strings.Join(quoted, ", ")
}

// placeholders renders n comma-separated portable placeholders.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

// historyColumns appends the history bookkeeping columns to a copy of
// the main-table column set.
func historyColumns(cols []Column) []Column {
	out := make([]Column, 0, len(cols)+4)
	out = append(out, cols...)
	out = append(out,
		Column{Name: "version", Type: "INTEGER"},
		Column{Name: "history_timestamp", Type: "TEXT"},
		Column{Name: "history_user_id", Type: "TEXT"},
		Column{Name: "history_comment", Type: "TEXT"},
	)
	return out
}

// selectSQL builds the shared SELECT * shape used by every dialect;
// only identifier quoting differs between them.
func selectSQL(gen Generator, entity string, q Query) string {
	var b strings.Builder
	b.WriteString("SELECT * FROM ")
	b.WriteString(gen.QuoteIdentifier(entity))
	var conds []string
	if !q.IncludeDeleted {
		conds = append(conds, gen.QuoteIdentifier("deleted_at")+" IS NULL")
	}
	if q.Where != "" {
		conds = append(conds, q.Where)
	}
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	if q.OrderBy != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(q.OrderBy)
	}
	if q.Limit >= 0 {
		fmt.Fprintf(&b, " LIMIT %d", q.Limit)
	}
	if q.Offset >= 0 {
		fmt.Fprintf(&b, " OFFSET %d", q.Offset)
	}
	return b.String()
}

func countSQL(gen Generator, entity, where string, includeDeleted bool) string {
	var b strings.Builder
	b.WriteString("SELECT COUNT(*) FROM ")
	b.WriteString(gen.QuoteIdentifier(entity))
	var conds []string
	if !includeDeleted {
		conds = append(conds, gen.QuoteIdentifier("deleted_at")+" IS NULL")
	}
	if where != "" {
		conds = append(conds, where)
	}
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	return b.String()
}

func entityByIDSQL(gen Generator, entity string, includeDeleted bool) string {
	q := "SELECT * FROM " + gen.QuoteIdentifier(entity) +
		" WHERE " + gen.QuoteIdentifier("id") + " = ?"
	if !includeDeleted {
		q += " AND " + gen.QuoteIdentifier("deleted_at") + " IS NULL"
	}
	return q
}

func softDeleteSQL(gen Generator, entity string) string {
	return "UPDATE " + gen.QuoteIdentifier(entity) +
		" SET " + gen.QuoteIdentifier("deleted_at") + " = ?, " +
		gen.QuoteIdentifier("updated_at") + " = ?, " +
		gen.QuoteIdentifier("updated_by") + " = ? WHERE " +
		gen.QuoteIdentifier("id") + " = ?"
}

func restoreSQL(gen Generator, entity string) string {
	return "UPDATE " + gen.QuoteIdentifier(entity) +
		" SET " + gen.QuoteIdentifier("deleted_at") + " = NULL, " +
		gen.QuoteIdentifier("updated_at") + " = ?, " +
		gen.QuoteIdentifier("updated_by") + " = ? WHERE " +
		gen.QuoteIdentifier("id") + " = ?"
}

func deleteSQL(gen Generator, entity string) string {
	return "DELETE FROM " + gen.QuoteIdentifier(entity) +
		" WHERE " + gen.QuoteIdentifier("id") + " = ?"
}

func updateFieldsSQL(gen Generator, entity string, fields []string) string {
	sets := make([]string, len(fields))
	for i, f := range fields {
		sets[i] = gen.QuoteIdentifier(f) + " = ?"
	}
	return "UPDATE " + gen.QuoteIdentifier(entity) +
		" SET " + strings.Join(sets, ", ") + ", " +
		gen.QuoteIdentifier("updated_at") + " = ?, " +
		gen.QuoteIdentifier("updated_by") + " = ? WHERE " +
		gen.QuoteIdentifier("id") + " = ?"
}

func historyInsertSQL(gen Generator, entity string, fields []string) string {
	return "INSERT INTO " + gen.QuoteIdentifier(HistoryTable(entity)) +
		" (" + quoteJoin(gen, fields) + ") VALUES (" + placeholders(len(fields)) + ")"
}

func entityHistorySQL(gen Generator, entity, id string) Statement {
	return Statement{
		Query: "SELECT * FROM " + gen.QuoteIdentifier(HistoryTable(entity)) +
			" WHERE " + gen.QuoteIdentifier("id") + " = ? ORDER BY " +
			gen.QuoteIdentifier("version") + " DESC",
		Args: []any{id},
	}
}

func entityVersionSQL(gen Generator, entity, id string, version int64) Statement {
	return Statement{
		Query: "SELECT * FROM " + gen.QuoteIdentifier(HistoryTable(entity)) +
			" WHERE " + gen.QuoteIdentifier("id") + " = ? AND " +
			gen.QuoteIdentifier("version") + " = ?",
		Args: []any{id, version},
	}
}

func maxVersionSQL(gen Generator, entity string) string {
	return "SELECT MAX(" + gen.QuoteIdentifier("version") + ") FROM " +
		gen.QuoteIdentifier(HistoryTable(entity)) + " WHERE " +
		gen.QuoteIdentifier("id") + " = ?"
}

func maxVersionsSQL(gen Generator, entity string, n int) string {
	return "SELECT " + gen.QuoteIdentifier("id") + ", MAX(" +
		gen.QuoteIdentifier("version") + ") FROM " +
		gen.QuoteIdentifier(HistoryTable(entity)) + " WHERE " +
		gen.QuoteIdentifier("id") + " IN (" + placeholders(n) + ") GROUP BY " +
		gen.QuoteIdentifier("id")
}

func metaSelectSQL(gen Generator, entity string) string {
	return "SELECT " + gen.QuoteIdentifier("name") + ", " +
		gen.QuoteIdentifier("type") + " FROM " +
		gen.QuoteIdentifier(MetaTable(entity))
}
