package strata

import (
	"context"
	"fmt"

	"github.com/syssam/strata/dialect"
)

// ReadOption adjusts a read operation.
type ReadOption func(*readOptions)

type readOptions struct {
	includeDeleted bool
	raw            bool
}

// IncludeDeleted makes reads return soft-deleted entities too.
func IncludeDeleted() ReadOption {
	return func(o *readOptions) { o.includeDeleted = true }
}

// Raw skips type-tag decoding; values come back in their stored text
// form.
func Raw() ReadOption {
	return func(o *readOptions) { o.raw = true }
}

func applyReadOptions(opts []ReadOption) readOptions {
	var o readOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// GetEntity fetches one entity by id. Soft-deleted entities are
// invisible unless IncludeDeleted is given. Returns nil when nothing
// matches, including when the type has never been saved.
func (e *Engine) GetEntity(ctx context.Context, entityType, id string, opts ...ReadOption) (Entity, error) {
	ctx, cancel := e.opContext(ctx)
	defer cancel()
	o := applyReadOptions(opts)
	return e.getEntityOpts(ctx, entityType, id, o)
}

func (e *Engine) getEntity(ctx context.Context, entityType, id string, includeDeleted bool) (Entity, error) {
	return e.getEntityOpts(ctx, entityType, id, readOptions{includeDeleted: includeDeleted})
}

func (e *Engine) getEntityOpts(ctx context.Context, entityType, id string, o readOptions) (Entity, error) {
	exists, err := e.tableExists(ctx, entityType)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	cols, err := e.fieldNames(ctx, entityType)
	if err != nil {
		return nil, err
	}
	meta, err := e.readMeta(ctx, entityType, o)
	if err != nil {
		return nil, err
	}
	rows, err := e.conn.Execute(ctx, e.gen.EntityByIDSQL(entityType, o.includeDeleted), []any{id})
	if err != nil {
		return nil, fmt.Errorf("strata: get %s/%s: %w", entityType, id, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return e.decodeRow(cols, rows[0], meta), nil
}

// FindEntities lists entities matching a query. The query's Where and
// OrderBy fragments are portable SQL; its parameters bind in args.
// Soft-deleted entities are excluded unless the query includes them.
func (e *Engine) FindEntities(ctx context.Context, entityType string, q dialect.Query, args []any, opts ...ReadOption) ([]Entity, error) {
	ctx, cancel := e.opContext(ctx)
	defer cancel()
	o := applyReadOptions(opts)
	exists, err := e.tableExists(ctx, entityType)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	cols, err := e.fieldNames(ctx, entityType)
	if err != nil {
		return nil, err
	}
	meta, err := e.readMeta(ctx, entityType, o)
	if err != nil {
		return nil, err
	}
	rows, err := e.conn.Execute(ctx, e.gen.SelectSQL(entityType, q), args)
	if err != nil {
		return nil, fmt.Errorf("strata: find %s: %w", entityType, err)
	}
	out := make([]Entity, 0, len(rows))
	for _, row := range rows {
		out = append(out, e.decodeRow(cols, row, meta))
	}
	return out, nil
}

// CountEntities counts entities matching a portable where fragment,
// all of them when where is empty.
func (e *Engine) CountEntities(ctx context.Context, entityType, where string, args []any, opts ...ReadOption) (int64, error) {
	ctx, cancel := e.opContext(ctx)
	defer cancel()
	o := applyReadOptions(opts)
	exists, err := e.tableExists(ctx, entityType)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}
	rows, err := e.conn.Execute(ctx, e.gen.CountSQL(entityType, where, o.includeDeleted), args)
	if err != nil {
		return 0, fmt.Errorf("strata: count %s: %w", entityType, err)
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return 0, nil
	}
	return asInt64(rows[0][0]), nil
}
