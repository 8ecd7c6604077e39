// Package dialect defines the SQL generation contract used by the
// strata engine to stay backend-agnostic.
//
// A Generator is a pure, stateless translator from abstract
// persistence intents (upsert an entity, create its tables, add a
// column, paginate a query) to dialect-correct SQL text and parameter
// tuples. Generators never touch the network: execution belongs to
// the conn package.
//
// # Supported dialects
//
// Three generators ship with the package, identified by constants:
//
//	dialect.SQLite   = "sqlite"   (reference implementation)
//	dialect.Postgres = "postgres"
//	dialect.MySQL    = "mysql"
//
// # Portable placeholders
//
// Engine-level SQL uses ? for a bound parameter. A literal question
// mark is written ?? and is unescaped by ConvertPlaceholders, never
// bound. Postgres additionally renumbers placeholders to $N.
//
// # Table namespacing
//
// For an entity type T the generators always address three tables:
// T itself, T_meta (field name to type tag) and T_history (append-only
// version snapshots). MetaTable and HistoryTable build those names.
package dialect
