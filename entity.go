package strata

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Entity is one schemaless record: field names mapped to values.
// Values round-trip through the column codec; see the type tags in
// codec.go for the supported kinds.
type Entity map[string]any

// System fields stamped or managed by the engine.
const (
	FieldID        = "id"
	FieldCreatedAt = "created_at"
	FieldCreatedBy = "created_by"
	FieldUpdatedAt = "updated_at"
	FieldUpdatedBy = "updated_by"
	FieldDeletedAt = "deleted_at"
)

// History bookkeeping fields, present only in history tables.
const (
	FieldVersion          = "version"
	FieldHistoryTimestamp = "history_timestamp"
	FieldHistoryUserID    = "history_user_id"
	FieldHistoryComment   = "history_comment"
)

// defaultColumns is the column set every main table starts with.
var defaultColumns = []string{
	FieldID,
	FieldCreatedAt,
	FieldCreatedBy,
	FieldUpdatedAt,
	FieldUpdatedBy,
	FieldDeletedAt,
}

// historyOnlyFields marks the bookkeeping columns stripped when a
// history row is projected back into a live entity shape.
var historyOnlyFields = map[string]bool{
	FieldVersion:          true,
	FieldHistoryTimestamp: true,
	FieldHistoryUserID:    true,
	FieldHistoryComment:   true,
}

// ID returns the entity id, empty when unset.
func (e Entity) ID() string {
	s, _ := e[FieldID].(string)
	return s
}

// Fields returns the entity's field names in sorted order.
func (e Entity) Fields() []string {
	fields := make([]string, 0, len(e))
	for k := range e {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields
}

// clone returns a shallow copy so preparation never mutates the
// caller's map.
func (e Entity) clone() Entity {
	out := make(Entity, len(e)+4)
	for k, v := range e {
		out[k] = v
	}
	return out
}

// prepareEntity stamps the system fields on a copy of the entity: a
// generated id when missing, created_at on first save, updated_at on
// every save, and the acting user when one is given.
func (eng *Engine) prepareEntity(e Entity, userID string) Entity {
	out := e.clone()
	now := eng.now()
	if out.ID() == "" {
		out[FieldID] = uuid.NewString()
	}
	if _, ok := out[FieldCreatedAt]; !ok {
		out[FieldCreatedAt] = now
	}
	out[FieldUpdatedAt] = now
	if userID != "" {
		if _, ok := out[FieldCreatedBy]; !ok {
			out[FieldCreatedBy] = userID
		}
		out[FieldUpdatedBy] = userID
	}
	return out
}

// Timestamp is the canonical stored form of a time value.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
