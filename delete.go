package strata

import (
	"context"
	"fmt"
)

// DeleteEntity deletes an entity. The default is a soft delete: the
// row stays, gains a deleted_at timestamp, disappears from reads and
// a "Soft deleted" snapshot is appended to history. With Permanently
// the live row is removed outright; history rows always survive.
// Returns false when the entity does not exist.
func (e *Engine) DeleteEntity(ctx context.Context, entityType, id string, opts ...WriteOption) (bool, error) {
	ctx, cancel := e.opContext(ctx)
	defer cancel()
	o := applyWriteOptions(opts)

	unlock := e.locks.lock(entityType, id)
	defer unlock()

	var deleted bool
	err := e.transact(ctx, entityType, func(ctx context.Context) error {
		current, err := e.getEntity(ctx, entityType, id, true)
		if err != nil {
			return err
		}
		if current == nil {
			return nil
		}

		if o.permanent {
			if _, err := e.conn.Execute(ctx, e.gen.DeleteSQL(entityType), []any{id}); err != nil {
				return fmt.Errorf("strata: delete %s/%s: %w", entityType, id, err)
			}
			deleted = true
			return nil
		}

		now := e.now()
		var user any
		if o.userID != "" {
			user = o.userID
		}
		args := []any{Timestamp(now), Timestamp(now), user, id}
		if _, err := e.conn.Execute(ctx, e.gen.SoftDeleteSQL(entityType), args); err != nil {
			return fmt.Errorf("strata: soft delete %s/%s: %w", entityType, id, err)
		}

		snapshot := current.clone()
		snapshot[FieldDeletedAt] = now
		snapshot[FieldUpdatedAt] = now
		if o.userID != "" {
			snapshot[FieldUpdatedBy] = o.userID
		}
		comment := o.comment
		if comment == "" {
			comment = commentSoftDeleted
		}
		if err := e.addToHistory(ctx, entityType, snapshot, o.userID, comment); err != nil {
			return err
		}
		deleted = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

// RestoreEntity clears the soft-delete mark and appends a "Restored"
// snapshot. Returns false when the entity does not exist or is not
// soft deleted.
func (e *Engine) RestoreEntity(ctx context.Context, entityType, id string, opts ...WriteOption) (bool, error) {
	ctx, cancel := e.opContext(ctx)
	defer cancel()
	o := applyWriteOptions(opts)

	unlock := e.locks.lock(entityType, id)
	defer unlock()

	var restored bool
	err := e.transact(ctx, entityType, func(ctx context.Context) error {
		current, err := e.getEntity(ctx, entityType, id, true)
		if err != nil {
			return err
		}
		if current == nil || current[FieldDeletedAt] == nil {
			return nil
		}

		now := e.now()
		var user any
		if o.userID != "" {
			user = o.userID
		}
		args := []any{Timestamp(now), user, id}
		if _, err := e.conn.Execute(ctx, e.gen.RestoreSQL(entityType), args); err != nil {
			return fmt.Errorf("strata: restore %s/%s: %w", entityType, id, err)
		}

		snapshot := current.clone()
		snapshot[FieldDeletedAt] = nil
		snapshot[FieldUpdatedAt] = now
		if o.userID != "" {
			snapshot[FieldUpdatedBy] = o.userID
		}
		comment := o.comment
		if comment == "" {
			comment = commentRestored
		}
		if err := e.addToHistory(ctx, entityType, snapshot, o.userID, comment); err != nil {
			return err
		}
		restored = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return restored, nil
}
