package strata

import (
	"context"
	"fmt"
	"strconv"

	"github.com/syssam/strata/dialect"
)

// History comments stamped by lifecycle operations.
const (
	commentSoftDeleted = "Soft deleted"
	commentRestored    = "Restored"
)

// historyReadMeta resolves the tag map a history read decodes with.
func (e *Engine) historyReadMeta(ctx context.Context, entityType string, o readOptions) (map[string]string, error) {
	if o.raw {
		return nil, nil
	}
	meta, err := e.cachedMeta(ctx, entityType)
	if err != nil {
		return nil, err
	}
	return historyMeta(meta), nil
}

// historyMeta overlays the bookkeeping column tags on an entity's
// field tags so history rows decode fully.
func historyMeta(meta map[string]string) map[string]string {
	out := make(map[string]string, len(meta)+4)
	for k, v := range meta {
		out[k] = v
	}
	out[FieldVersion] = TypeInteger
	out[FieldHistoryTimestamp] = TypeDatetime
	out[FieldHistoryUserID] = TypeText
	out[FieldHistoryComment] = TypeText
	return out
}

// maxVersion returns the highest recorded version for one id, zero
// when the id has no history.
func (e *Engine) maxVersion(ctx context.Context, entityType, id string) (int64, error) {
	rows, err := e.conn.Execute(ctx, e.gen.MaxVersionSQL(entityType), []any{id})
	if err != nil {
		return 0, fmt.Errorf("strata: max version of %s/%s: %w", entityType, id, err)
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return 0, nil
	}
	return asInt64(rows[0][0]), nil
}

// maxVersions returns the highest recorded version per id in one
// grouped query. Ids absent from the result have no history.
func (e *Engine) maxVersions(ctx context.Context, entityType string, ids []string) (map[string]int64, error) {
	out := make(map[string]int64, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := e.conn.Execute(ctx, e.gen.MaxVersionsSQL(entityType, len(ids)), args)
	if err != nil {
		return nil, fmt.Errorf("strata: max versions of %s: %w", entityType, err)
	}
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		id, _ := row[0].(string)
		out[id] = asInt64(row[1])
	}
	return out, nil
}

// historyRow builds the parameter tuple for one history insert,
// covering exactly the live history columns. Entity fields without a
// history column are silently not tracked.
func historyRow(cols []string, entity Entity, version int64, stamp, userID, comment string) []any {
	args := make([]any, len(cols))
	for i, col := range cols {
		switch col {
		case FieldVersion:
			args[i] = version
		case FieldHistoryTimestamp:
			args[i] = stamp
		case FieldHistoryUserID:
			if userID == "" {
				args[i] = nil
			} else {
				args[i] = userID
			}
		case FieldHistoryComment:
			if comment == "" {
				args[i] = nil
			} else {
				args[i] = comment
			}
		default:
			if v, ok := entity[col]; ok {
				args[i] = encodeValue(v)
			}
		}
	}
	return args
}

// addToHistory appends a full snapshot of the entity with the next
// version for its id.
func (e *Engine) addToHistory(ctx context.Context, entityType string, entity Entity, userID, comment string) error {
	history := dialect.HistoryTable(entityType)
	cols, err := e.fieldNames(ctx, history)
	if err != nil {
		return err
	}
	max, err := e.maxVersion(ctx, entityType, entity.ID())
	if err != nil {
		return err
	}
	stamp := Timestamp(e.now())
	args := historyRow(cols, entity, max+1, stamp, userID, comment)
	if _, err := e.conn.Execute(ctx, e.gen.HistoryInsertSQL(entityType, cols), args); err != nil {
		return fmt.Errorf("strata: record history for %s/%s: %w", entityType, entity.ID(), err)
	}
	return nil
}

// GetEntityHistory returns every recorded snapshot of an entity,
// newest version first. Unknown ids yield an empty slice.
func (e *Engine) GetEntityHistory(ctx context.Context, entityType, id string, opts ...ReadOption) ([]Entity, error) {
	ctx, cancel := e.opContext(ctx)
	defer cancel()
	o := applyReadOptions(opts)
	exists, err := e.tableExists(ctx, dialect.HistoryTable(entityType))
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	cols, err := e.fieldNames(ctx, dialect.HistoryTable(entityType))
	if err != nil {
		return nil, err
	}
	hmeta, err := e.historyReadMeta(ctx, entityType, o)
	if err != nil {
		return nil, err
	}
	stmt := e.gen.EntityHistorySQL(entityType, id)
	rows, err := e.conn.Execute(ctx, stmt.Query, stmt.Args)
	if err != nil {
		return nil, fmt.Errorf("strata: history of %s/%s: %w", entityType, id, err)
	}
	out := make([]Entity, 0, len(rows))
	for _, row := range rows {
		out = append(out, e.decodeRow(cols, row, hmeta))
	}
	return out, nil
}

// GetEntityByVersion reconstructs the entity exactly as recorded at
// one version, projected onto the current live schema: live fields the
// snapshot predates come back nil, and history bookkeeping fields are
// stripped unless the live schema carries them. Returns nil when the
// version does not exist.
func (e *Engine) GetEntityByVersion(ctx context.Context, entityType, id string, version int64, opts ...ReadOption) (Entity, error) {
	ctx, cancel := e.opContext(ctx)
	defer cancel()
	o := applyReadOptions(opts)
	exists, err := e.tableExists(ctx, dialect.HistoryTable(entityType))
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	cols, err := e.fieldNames(ctx, dialect.HistoryTable(entityType))
	if err != nil {
		return nil, err
	}
	liveCols, err := e.fieldNames(ctx, entityType)
	if err != nil {
		return nil, err
	}
	hmeta, err := e.historyReadMeta(ctx, entityType, o)
	if err != nil {
		return nil, err
	}
	stmt := e.gen.EntityVersionSQL(entityType, id, version)
	rows, err := e.conn.Execute(ctx, stmt.Query, stmt.Args)
	if err != nil {
		return nil, fmt.Errorf("strata: version %d of %s/%s: %w", version, entityType, id, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	snapshot := e.decodeRow(cols, rows[0], hmeta)

	live := make(map[string]bool, len(liveCols))
	entity := make(Entity, len(liveCols))
	for _, col := range liveCols {
		live[col] = true
		entity[col] = nil
	}
	for k, v := range snapshot {
		if historyOnlyFields[k] && !live[k] {
			continue
		}
		entity[k] = v
	}
	return entity, nil
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}
