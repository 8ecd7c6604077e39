package strata

import (
	"context"
	"fmt"
	"sort"

	"github.com/syssam/strata/dialect"
)

// systemTags are the type tags seeded for the engine-managed columns
// when an entity type is first created.
var systemTags = map[string]string{
	FieldID:        TypeText,
	FieldCreatedAt: TypeDatetime,
	FieldCreatedBy: TypeText,
	FieldUpdatedAt: TypeDatetime,
	FieldUpdatedBy: TypeText,
	FieldDeletedAt: TypeDatetime,
}

func (e *Engine) tableExists(ctx context.Context, table string) (bool, error) {
	stmt := e.gen.TableExistsSQL(table)
	rows, err := e.conn.Execute(ctx, stmt.Query, stmt.Args)
	if err != nil {
		return false, fmt.Errorf("strata: table check for %q: %w", table, err)
	}
	return len(rows) > 0, nil
}

// liveColumns introspects a table's current columns. The live schema
// is the source of truth for column order; decoding is delegated to
// the dialect rather than inferred from row shapes.
func (e *Engine) liveColumns(ctx context.Context, table string) ([]dialect.Column, error) {
	stmt := e.gen.ListColumnsSQL(table)
	rows, err := e.conn.Execute(ctx, stmt.Query, stmt.Args)
	if err != nil {
		return nil, fmt.Errorf("strata: columns of %q: %w", table, err)
	}
	raw := make([][]any, len(rows))
	for i, r := range rows {
		raw[i] = r
	}
	return e.gen.Columns(raw), nil
}

func (e *Engine) fieldNames(ctx context.Context, table string) ([]string, error) {
	cols, err := e.liveColumns(ctx, table)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names, nil
}

// tableColumns derives the initial column layout for a new entity
// type: the system columns first, then the entity's own fields sorted.
func tableColumns(fields []string) []dialect.Column {
	system := make(map[string]bool, len(defaultColumns))
	cols := make([]dialect.Column, 0, len(defaultColumns)+len(fields))
	for _, name := range defaultColumns {
		system[name] = true
		cols = append(cols, dialect.Column{Name: name, Type: "TEXT"})
	}
	extra := make([]string, 0, len(fields))
	for _, f := range fields {
		if !system[f] {
			extra = append(extra, f)
		}
	}
	sort.Strings(extra)
	for _, f := range extra {
		cols = append(cols, dialect.Column{Name: f, Type: "TEXT"})
	}
	return cols
}

// ensureSchema lazily creates the main, metadata and history tables
// for an entity type the first time it is written.
func (e *Engine) ensureSchema(ctx context.Context, entityType string, fields []string) error {
	exists, err := e.tableExists(ctx, entityType)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	cols := tableColumns(fields)
	for _, q := range []string{
		e.gen.CreateTableSQL(entityType, cols),
		e.gen.CreateMetaTableSQL(entityType),
		e.gen.CreateHistoryTableSQL(entityType, cols),
	} {
		if _, err := e.conn.Execute(ctx, q, nil); err != nil {
			return fmt.Errorf("strata: create schema for %q: %w", entityType, err)
		}
	}
	if err := e.writeMeta(ctx, entityType, systemTags); err != nil {
		return err
	}
	e.log.Info("entity schema created", "type", entityType, "columns", len(cols))
	return nil
}

// writeMeta upserts (name, tag) pairs into the metadata table and
// folds them into the cache.
func (e *Engine) writeMeta(ctx context.Context, entityType string, tags map[string]string) error {
	if len(tags) == 0 {
		return nil
	}
	names := make([]string, 0, len(tags))
	for name := range tags {
		names = append(names, name)
	}
	sort.Strings(names)
	params := make([][]any, len(names))
	for i, name := range names {
		params[i] = []any{name, tags[name]}
	}
	if _, err := e.conn.ExecuteMany(ctx, e.gen.MetaUpsertSQL(entityType), params); err != nil {
		return fmt.Errorf("strata: record metadata for %q: %w", entityType, err)
	}
	e.mergeMeta(entityType, tags)
	return nil
}

// updateMetadata brings the metadata table and the live schema up to
// date with an entity's fields. New fields get a type tag and a column
// on both the main and the history table. A failed main-table change
// is fatal for the write; a failed history-table change is logged and
// the write proceeds, leaving that field untracked in history.
func (e *Engine) updateMetadata(ctx context.Context, entityType string, entity Entity) error {
	meta, err := e.cachedMeta(ctx, entityType)
	if err != nil {
		return err
	}
	newTags := make(map[string]string)
	for _, field := range entity.Fields() {
		if _, ok := meta[field]; !ok {
			newTags[field] = inferType(entity[field])
		}
	}
	if len(newTags) == 0 {
		return nil
	}
	if err := e.writeMeta(ctx, entityType, newTags); err != nil {
		return err
	}

	names := make([]string, 0, len(newTags))
	for name := range newTags {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := e.addColumn(ctx, entityType, name); err != nil {
			return err
		}
		history := dialect.HistoryTable(entityType)
		if err := e.addColumn(ctx, history, name); err != nil {
			e.log.Warn("history table not widened, field untracked in history",
				"type", entityType, "field", name, "error", err)
		}
	}
	return nil
}

// addColumn widens table with a TEXT column if it is not already
// present.
func (e *Engine) addColumn(ctx context.Context, table, column string) error {
	stmt := e.gen.ColumnExistsSQL(table, column)
	rows, err := e.conn.Execute(ctx, stmt.Query, stmt.Args)
	if err != nil {
		return &SchemaError{Table: table, Column: column, Err: err}
	}
	raw := make([][]any, len(rows))
	for i, r := range rows {
		raw[i] = r
	}
	if e.gen.HasColumn(raw, column) {
		return nil
	}
	if _, err := e.conn.Execute(ctx, e.gen.AddColumnSQL(table, column), nil); err != nil {
		return &SchemaError{Table: table, Column: column, Err: err}
	}
	e.log.Info("column added", "table", table, "column", column)
	return nil
}
