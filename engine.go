package strata

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/syssam/strata/conn"
	"github.com/syssam/strata/dialect"
)

// Engine persists schemaless entities through a resilient connection.
// It is safe for concurrent use; writers of the same entity are
// serialized on striped locks so history versions stay monotonic.
type Engine struct {
	conn *conn.Conn
	gen  dialect.Generator
	log  *slog.Logger
	now  func() time.Time

	// meta caches field type tags per entity type. It only ever
	// grows; fields keep their tag even after columns stop being
	// written. Published per-type maps are immutable: merges swap in
	// a fresh map, so a reader may keep using a map after metaMu is
	// released.
	metaMu sync.RWMutex
	meta   map[string]map[string]string
	sf     singleflight.Group

	locks stripedLocks
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New returns an Engine executing through c.
func New(c *conn.Conn, opts ...Option) *Engine {
	e := &Engine{
		conn: c,
		gen:  c.Generator(),
		log:  slog.Default(),
		now:  time.Now,
		meta: make(map[string]map[string]string),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Conn returns the underlying connection.
func (e *Engine) Conn() *conn.Conn { return e.conn }

// Open opens a connection for cfg and wraps it in an Engine, applying
// the dialect's tuning statements.
func Open(cfg *conn.Config, opts ...Option) (*Engine, error) {
	c, err := conn.Open(cfg)
	if err != nil {
		return nil, err
	}
	e := New(c, opts...)
	e.conn.Tune(context.Background())
	return e, nil
}

// Close releases the underlying connection.
func (e *Engine) Close() error { return e.conn.Close() }

// opContext bounds one engine call as a whole with the connection's
// configured time budget. Individual statements keep their own budget
// below it; the earlier deadline wins.
func (e *Engine) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.conn.QueryTimeout())
}

// transact runs fn inside one transaction scope, so a mutating call's
// statements commit or roll back together. On failure the cached
// metadata for the type is dropped: tag and schema writes inside the
// scope may have rolled back with it.
func (e *Engine) transact(ctx context.Context, entityType string, fn func(ctx context.Context) error) error {
	if err := e.conn.Transact(ctx, fn); err != nil {
		e.InvalidateMetadata(entityType)
		return err
	}
	return nil
}

// EntityTypes lists the entity types known to the backend, derived
// from the metadata tables present.
func (e *Engine) EntityTypes(ctx context.Context) ([]string, error) {
	ctx, cancel := e.opContext(ctx)
	defer cancel()
	stmt := e.gen.ListTablesSQL()
	rows, err := e.conn.Execute(ctx, stmt.Query, stmt.Args)
	if err != nil {
		return nil, fmt.Errorf("strata: list entity types: %w", err)
	}
	types := make([]string, 0, len(rows))
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		name, _ := row[0].(string)
		if strings.HasSuffix(name, "_meta") {
			types = append(types, strings.TrimSuffix(name, "_meta"))
		}
	}
	return types, nil
}

// EntityMetadata returns the field type tags recorded for an entity
// type, reading through to the metadata table on first use. Returns an
// empty map for unknown types.
func (e *Engine) EntityMetadata(ctx context.Context, entityType string) (map[string]string, error) {
	ctx, cancel := e.opContext(ctx)
	defer cancel()
	e.metaMu.RLock()
	cached, ok := e.meta[entityType]
	e.metaMu.RUnlock()
	if ok {
		return copyMeta(cached), nil
	}
	v, err, _ := e.sf.Do("meta:"+entityType, func() (any, error) {
		return e.loadMetadata(ctx, entityType)
	})
	if err != nil {
		return nil, err
	}
	return copyMeta(v.(map[string]string)), nil
}

// RefreshMetadata bypasses the cache and reloads the tags for one
// entity type from its metadata table.
func (e *Engine) RefreshMetadata(ctx context.Context, entityType string) (map[string]string, error) {
	ctx, cancel := e.opContext(ctx)
	defer cancel()
	meta, err := e.loadMetadata(ctx, entityType)
	if err != nil {
		return nil, err
	}
	return copyMeta(meta), nil
}

// InvalidateMetadata drops the cached tags for one entity type, or for
// all types when entityType is empty.
func (e *Engine) InvalidateMetadata(entityType string) {
	e.metaMu.Lock()
	defer e.metaMu.Unlock()
	if entityType == "" {
		e.meta = make(map[string]map[string]string)
		return
	}
	delete(e.meta, entityType)
}

func (e *Engine) loadMetadata(ctx context.Context, entityType string) (map[string]string, error) {
	exists, err := e.tableExists(ctx, dialect.MetaTable(entityType))
	if err != nil {
		return nil, err
	}
	meta := make(map[string]string)
	if exists {
		rows, err := e.conn.Execute(ctx, e.gen.MetaSelectSQL(entityType), nil)
		if err != nil {
			return nil, fmt.Errorf("strata: load metadata for %q: %w", entityType, err)
		}
		for _, row := range rows {
			if len(row) < 2 {
				continue
			}
			name, _ := row[0].(string)
			tag, _ := row[1].(string)
			if name != "" {
				meta[name] = tag
			}
		}
	}
	e.metaMu.Lock()
	e.meta[entityType] = meta
	e.metaMu.Unlock()
	return meta, nil
}

// readMeta resolves the tag map a read should decode with; raw reads
// decode with nothing and keep stored forms.
func (e *Engine) readMeta(ctx context.Context, entityType string, o readOptions) (map[string]string, error) {
	if o.raw {
		return nil, nil
	}
	return e.cachedMeta(ctx, entityType)
}

// cachedMeta returns the cached tag map, loading it if needed. The
// returned map is the published cache entry; it is never mutated
// after publication, so reading it without the lock is safe.
func (e *Engine) cachedMeta(ctx context.Context, entityType string) (map[string]string, error) {
	e.metaMu.RLock()
	cached, ok := e.meta[entityType]
	e.metaMu.RUnlock()
	if ok {
		return cached, nil
	}
	return e.loadMetadata(ctx, entityType)
}

// mergeMeta records tags for fields, keeping any tag already present.
// The cached map is replaced, never mutated, so maps handed out by
// cachedMeta stay safe to read without the lock.
func (e *Engine) mergeMeta(entityType string, tags map[string]string) {
	e.metaMu.Lock()
	defer e.metaMu.Unlock()
	old := e.meta[entityType]
	merged := make(map[string]string, len(old)+len(tags))
	for name, tag := range old {
		merged[name] = tag
	}
	for name, tag := range tags {
		if _, ok := merged[name]; !ok {
			merged[name] = tag
		}
	}
	e.meta[entityType] = merged
}

func copyMeta(meta map[string]string) map[string]string {
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}

// decodeRow projects one result row onto its column names, restoring
// values through the type tags recorded for the entity type.
func (e *Engine) decodeRow(cols []string, row conn.Row, meta map[string]string) Entity {
	entity := make(Entity, len(cols))
	for i, col := range cols {
		if i >= len(row) {
			break
		}
		entity[col] = decodeValue(meta[col], row[i])
	}
	return entity
}
