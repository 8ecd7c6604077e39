package strata

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/syssam/strata/dialect"
)

// WriteOption adjusts a mutating engine operation.
type WriteOption func(*writeOptions)

type writeOptions struct {
	userID    string
	comment   string
	permanent bool
}

// WithUser attributes the write to a user: stamped into created_by and
// updated_by on the entity and history_user_id on the snapshot.
func WithUser(userID string) WriteOption {
	return func(o *writeOptions) { o.userID = userID }
}

// WithComment attaches a free-form comment to the history snapshot.
func WithComment(comment string) WriteOption {
	return func(o *writeOptions) { o.comment = comment }
}

// Permanently makes DeleteEntity remove the live row outright instead
// of soft deleting. History rows survive.
func Permanently() WriteOption {
	return func(o *writeOptions) { o.permanent = true }
}

func applyWriteOptions(opts []WriteOption) writeOptions {
	var o writeOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// SaveEntity upserts one entity and appends a history snapshot. The
// returned entity is the stored form, with id and timestamps stamped.
// The caller's map is never mutated.
func (e *Engine) SaveEntity(ctx context.Context, entityType string, entity Entity, opts ...WriteOption) (Entity, error) {
	if len(entity) == 0 {
		return nil, errors.New("strata: save: empty entity")
	}
	ctx, cancel := e.opContext(ctx)
	defer cancel()
	o := applyWriteOptions(opts)
	prepared := e.prepareEntity(entity, o.userID)

	unlock := e.locks.lock(entityType, prepared.ID())
	defer unlock()

	err := e.transact(ctx, entityType, func(ctx context.Context) error {
		fields := prepared.Fields()
		if err := e.ensureSchema(ctx, entityType, fields); err != nil {
			return err
		}
		if err := e.updateMetadata(ctx, entityType, prepared); err != nil {
			return err
		}
		args := make([]any, len(fields))
		for i, f := range fields {
			args[i] = encodeValue(prepared[f])
		}
		if _, err := e.conn.Execute(ctx, e.gen.UpsertSQL(entityType, fields), args); err != nil {
			return fmt.Errorf("strata: save %s/%s: %w", entityType, prepared.ID(), err)
		}
		return e.addToHistory(ctx, entityType, prepared, o.userID, o.comment)
	})
	if err != nil {
		return nil, err
	}
	return prepared, nil
}

// SaveEntities upserts a batch of entities of one type. The batch
// shares one schema pass over the union of all fields, one grouped
// version lookup, and batched upserts and history inserts; entities
// missing a field of the union store null for it. Results are returned
// in input order.
func (e *Engine) SaveEntities(ctx context.Context, entityType string, entities []Entity, opts ...WriteOption) ([]Entity, error) {
	if len(entities) == 0 {
		return nil, nil
	}
	ctx, cancel := e.opContext(ctx)
	defer cancel()
	o := applyWriteOptions(opts)

	prepared := make([]Entity, len(entities))
	ids := make([]string, len(entities))
	union := make(map[string]Entity)
	for i, entity := range entities {
		if len(entity) == 0 {
			return nil, fmt.Errorf("strata: save batch: empty entity at index %d", i)
		}
		p := e.prepareEntity(entity, o.userID)
		prepared[i] = p
		ids[i] = p.ID()
		for _, f := range p.Fields() {
			if _, ok := union[f]; !ok {
				union[f] = p
			}
		}
	}
	fields := make([]string, 0, len(union))
	for f := range union {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	unlock := e.locks.lockAll(entityType, ids)
	defer unlock()

	err := e.transact(ctx, entityType, func(ctx context.Context) error {
		if err := e.ensureSchema(ctx, entityType, fields); err != nil {
			return err
		}
		// One metadata pass over a synthetic entity holding the first
		// seen value of every field in the union.
		probe := make(Entity, len(union))
		for f, src := range union {
			probe[f] = src[f]
		}
		if err := e.updateMetadata(ctx, entityType, probe); err != nil {
			return err
		}

		upserts := make([][]any, len(prepared))
		for i, p := range prepared {
			args := make([]any, len(fields))
			for j, f := range fields {
				if v, ok := p[f]; ok {
					args[j] = encodeValue(v)
				}
			}
			upserts[i] = args
		}
		if _, err := e.conn.ExecuteMany(ctx, e.gen.UpsertSQL(entityType, fields), upserts); err != nil {
			return fmt.Errorf("strata: save batch of %s: %w", entityType, err)
		}

		versions, err := e.maxVersions(ctx, entityType, ids)
		if err != nil {
			return err
		}
		history := dialect.HistoryTable(entityType)
		cols, err := e.fieldNames(ctx, history)
		if err != nil {
			return err
		}
		stamp := Timestamp(e.now())
		snapshots := make([][]any, len(prepared))
		for i, p := range prepared {
			versions[p.ID()]++
			snapshots[i] = historyRow(cols, p, versions[p.ID()], stamp, o.userID, o.comment)
		}
		if _, err := e.conn.ExecuteMany(ctx, e.gen.HistoryInsertSQL(entityType, cols), snapshots); err != nil {
			return fmt.Errorf("strata: record history batch of %s: %w", entityType, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return prepared, nil
}

// UpdateEntityFields updates a subset of fields on an existing entity,
// stamps updated_at and updated_by, and appends a history snapshot of
// the full resulting state. Returns nil when the entity does not
// exist.
func (e *Engine) UpdateEntityFields(ctx context.Context, entityType, id string, fields Entity, opts ...WriteOption) (Entity, error) {
	if len(fields) == 0 {
		return nil, errors.New("strata: update fields: no fields")
	}
	ctx, cancel := e.opContext(ctx)
	defer cancel()
	o := applyWriteOptions(opts)

	unlock := e.locks.lock(entityType, id)
	defer unlock()

	var updated Entity
	err := e.transact(ctx, entityType, func(ctx context.Context) error {
		current, err := e.getEntity(ctx, entityType, id, false)
		if err != nil {
			return err
		}
		if current == nil {
			return nil
		}
		if err := e.updateMetadata(ctx, entityType, fields); err != nil {
			return err
		}

		names := fields.Fields()
		now := e.now()
		args := make([]any, 0, len(names)+3)
		for _, f := range names {
			args = append(args, encodeValue(fields[f]))
		}
		args = append(args, Timestamp(now))
		if o.userID != "" {
			args = append(args, o.userID)
		} else {
			args = append(args, nil)
		}
		args = append(args, id)
		if _, err := e.conn.Execute(ctx, e.gen.UpdateFieldsSQL(entityType, names), args); err != nil {
			return fmt.Errorf("strata: update fields of %s/%s: %w", entityType, id, err)
		}

		updated = current.clone()
		for _, f := range names {
			updated[f] = fields[f]
		}
		updated[FieldUpdatedAt] = now
		if o.userID != "" {
			updated[FieldUpdatedBy] = o.userID
		}
		return e.addToHistory(ctx, entityType, updated, o.userID, o.comment)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
