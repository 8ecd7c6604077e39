package conn

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/syssam/strata/dialect"
)

// Row is one result row with values in column order. Drivers' []byte
// text values are normalized to string.
type Row []any

// TxState tracks the explicit transaction lifecycle of a connection.
type TxState int

const (
	// TxIdle means no explicit transaction has been started.
	TxIdle TxState = iota
	// TxActive means an explicit transaction is in progress.
	TxActive
	// TxCommitted means the last explicit transaction committed.
	TxCommitted
	// TxRolledBack means the last explicit transaction rolled back.
	TxRolledBack
)

func (s TxState) String() string {
	switch s {
	case TxIdle:
		return "idle"
	case TxActive:
		return "active"
	case TxCommitted:
		return "committed"
	case TxRolledBack:
		return "rolled back"
	default:
		return "unknown"
	}
}

// VersionDetails describes the backend a connection talks to.
type VersionDetails struct {
	Dialect       string
	ServerVersion string
}

// Conn executes portable SQL against one backend through a fixed
// interceptor chain: error wrapping, auto-transaction scoping, circuit
// breaking, slow-call tracking and timing, applied in that order to
// every operation. A Conn is safe for concurrent use; explicit
// transactions serialize against each other through its state machine.
type Conn struct {
	db  *sql.DB
	gen dialect.Generator
	log *slog.Logger

	queryTimeout  time.Duration
	slowThreshold time.Duration
	slowHook      SlowHook

	sem      *semaphore.Weighted
	cache    *stmtCache
	breakers *BreakerGroup
	stats    *QueryStats

	chain execFunc

	mu     sync.Mutex
	tx     *sql.Tx
	state  TxState
	closed bool
}

// New wraps an open *sql.DB with the interceptor chain. The breaker
// group from cfg is shared when set; otherwise the connection gets a
// private group.
func New(db *sql.DB, gen dialect.Generator, cfg *Config) *Conn {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.withDefaults()
	breakers := cfg.Breakers
	if breakers == nil {
		breakers = NewBreakerGroup(cfg.Breaker)
	}
	c := &Conn{
		db:            db,
		gen:           gen,
		log:           cfg.Logger,
		queryTimeout:  cfg.QueryTimeout.Std(),
		slowThreshold: cfg.SlowThreshold.Std(),
		sem:           semaphore.NewWeighted(cfg.MaxInFlight),
		cache:         newStmtCache(cfg.StatementCacheSize),
		breakers:      breakers,
		stats:         &QueryStats{},
	}
	c.chain = c.buildChain(c.run)
	return c
}

// driverNames maps dialect constants to registered database/sql
// driver names.
var driverNames = map[string]string{
	dialect.SQLite:   "sqlite",
	dialect.Postgres: "postgres",
	dialect.MySQL:    "mysql",
}

// Open opens a database for cfg.Dialect and cfg.DSN and wraps it.
func Open(cfg *Config) (*Conn, error) {
	if cfg == nil {
		return nil, errors.New("conn: nil config")
	}
	cfg.withDefaults()
	gen, err := dialect.Get(cfg.Dialect)
	if err != nil {
		return nil, fmt.Errorf("conn: open: %w", err)
	}
	driver, ok := driverNames[cfg.Dialect]
	if !ok {
		return nil, fmt.Errorf("conn: open: no driver for dialect %q", cfg.Dialect)
	}
	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("conn: open: %w", err)
	}
	return New(db, gen, cfg), nil
}

// Generator returns the SQL generator this connection renders with.
func (c *Conn) Generator() dialect.Generator { return c.gen }

// QueryTimeout returns the configured per-operation time budget.
func (c *Conn) QueryTimeout() time.Duration { return c.queryTimeout }

// DB exposes the underlying database handle, mainly for pool tuning.
func (c *Conn) DB() *sql.DB { return c.db }

// Stats returns the live query statistics.
func (c *Conn) Stats() *QueryStats { return c.stats }

// CacheStats returns a snapshot of statement cache activity.
func (c *Conn) CacheStats() CacheStats { return c.cache.stats() }

// Breakers returns the breaker group guarding this connection.
func (c *Conn) Breakers() *BreakerGroup { return c.breakers }

// SetSlowHook installs a callback invoked for slow operations, in
// addition to the warning log.
func (c *Conn) SetSlowHook(hook SlowHook) { c.slowHook = hook }

// ExecOption adjusts a single Execute or ExecuteMany call.
type ExecOption func(*operation)

// WithTimeout overrides the configured time budget for one call.
func WithTimeout(d time.Duration) ExecOption {
	return func(op *operation) {
		if d > 0 {
			op.timeout = d
		}
	}
}

// WithTags attaches observability tags, rendered as a SQL comment on
// the statement. Distinct tag sets prepare distinct statements.
func WithTags(tags map[string]string) ExecOption {
	return func(op *operation) { op.tags = tags }
}

// Execute runs one portable SQL statement and returns its rows, empty
// for statements that produce none.
func (c *Conn) Execute(ctx context.Context, query string, args []any, opts ...ExecOption) ([]Row, error) {
	op := &operation{
		name:    "execute",
		query:   query,
		params:  [][]any{args},
		timeout: c.queryTimeout,
	}
	for _, opt := range opts {
		opt(op)
	}
	return c.chain(ctx, op)
}

// ExecuteMany runs one portable SQL statement once per parameter
// tuple, sequentially, under a single shared time budget. Results of
// all executions are concatenated; the first failure aborts the rest.
func (c *Conn) ExecuteMany(ctx context.Context, query string, paramSets [][]any, opts ...ExecOption) ([]Row, error) {
	if len(paramSets) == 0 {
		return nil, nil
	}
	op := &operation{
		name:    "executemany",
		query:   query,
		params:  paramSets,
		timeout: c.queryTimeout,
	}
	for _, opt := range opts {
		opt(op)
	}
	return c.chain(ctx, op)
}

// Begin starts an explicit transaction. Subsequent operations join it
// instead of opening their own scope.
func (c *Conn) Begin(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.state == TxActive {
		return ErrTxStarted
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("conn: begin: %w", err)
	}
	c.tx = tx
	c.state = TxActive
	return nil
}

// Commit commits the active explicit transaction.
func (c *Conn) Commit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != TxActive {
		return ErrNoTransaction
	}
	err := c.tx.Commit()
	c.tx = nil
	c.state = TxCommitted
	if err != nil {
		c.state = TxRolledBack
		return fmt.Errorf("conn: commit: %w", err)
	}
	return nil
}

// Rollback aborts the active explicit transaction.
func (c *Conn) Rollback() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != TxActive {
		return ErrNoTransaction
	}
	err := c.tx.Rollback()
	c.tx = nil
	c.state = TxRolledBack
	if err != nil {
		return fmt.Errorf("conn: rollback: %w", err)
	}
	return nil
}

// InTransaction reports whether an explicit transaction is active.
func (c *Conn) InTransaction() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == TxActive
}

// State returns the explicit transaction state.
func (c *Conn) State() TxState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) currentTx() *sql.Tx {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tx
}

// txKey carries a scoped transaction through a context.
type txKey struct{}

func scopedTx(ctx context.Context) *sql.Tx {
	tx, _ := ctx.Value(txKey{}).(*sql.Tx)
	return tx
}

// Transact runs fn inside one transaction. Statements issued through
// the context given to fn join that transaction, committing when fn
// returns nil and rolling back otherwise. The transaction is carried
// in the context and never stored in connection state, so concurrent
// callers cannot be absorbed into it. An already active scope, from an
// enclosing Transact or an explicit Begin, is joined instead of
// nested; its owner decides the outcome.
func (c *Conn) Transact(ctx context.Context, fn func(ctx context.Context) error) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if scopedTx(ctx) != nil || c.currentTx() != nil {
		return fn(ctx)
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("conn: transact begin: %w", err)
	}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			c.log.Error("rollback after failure", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("conn: transact commit: %w", err)
	}
	return nil
}

// Tune applies the dialect's recommended session and storage tuning
// statements. Failures are logged, not fatal; tuning is advisory.
func (c *Conn) Tune(ctx context.Context) {
	for _, q := range c.gen.TuningSQL() {
		if _, err := c.Execute(ctx, q, nil); err != nil {
			c.log.Warn("tuning statement failed", "query", q, "error", err)
		}
	}
}

// VersionDetails reports the dialect name and backend server version.
func (c *Conn) VersionDetails(ctx context.Context) (VersionDetails, error) {
	rows, err := c.Execute(ctx, c.gen.ServerVersionSQL(), nil)
	if err != nil {
		return VersionDetails{}, err
	}
	d := VersionDetails{Dialect: c.gen.Name()}
	if len(rows) > 0 && len(rows[0]) > 0 {
		d.ServerVersion = fmt.Sprint(rows[0][0])
	}
	return d, nil
}

// Close rolls back any active transaction, closes cached statements
// and releases the database handle.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	tx := c.tx
	c.tx = nil
	if c.state == TxActive {
		c.state = TxRolledBack
	}
	c.mu.Unlock()

	if tx != nil {
		if err := tx.Rollback(); err != nil {
			c.log.Warn("rollback on close", "error", err)
		}
	}
	if err := c.cache.close(); err != nil {
		c.log.Warn("closing cached statements", "error", err)
	}
	return c.db.Close()
}

// run is the innermost stage: placeholder conversion, statement
// caching, the in-flight safeguard and the shared time budget.
func (c *Conn) run(ctx context.Context, op *operation) ([]Row, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	text := op.query
	if comment := dialect.TagComment(op.tags); comment != "" {
		text = text + " " + comment
	}

	// The safeguard budget is a small slice of the operation budget:
	// if a slot cannot be had quickly the pool is saturated and the
	// caller should back off rather than queue.
	acquireBudget := op.timeout / 10
	if acquireBudget > 100*time.Millisecond {
		acquireBudget = 100 * time.Millisecond
	}
	actx, acancel := context.WithTimeout(ctx, acquireBudget)
	err := c.sem.Acquire(actx, 1)
	acancel()
	if err != nil {
		c.stats.Rejected.Add(1)
		return nil, &ExhaustedError{Op: op.name}
	}
	defer c.sem.Release(1)

	ctx, cancel := context.WithTimeout(ctx, op.timeout)
	defer cancel()

	stmt, scoped, err := c.prepare(ctx, text, op)
	if err != nil {
		return nil, c.mapError(ctx, op, err)
	}
	if scoped {
		defer stmt.Close()
	}

	var out []Row
	for _, args := range op.params {
		rows, err := c.runOne(ctx, stmt, text, args)
		if err != nil {
			return nil, c.mapError(ctx, op, err)
		}
		out = append(out, rows...)
	}
	return out, nil
}

// prepare returns the statement for the text plus tag comment. Outside
// a transaction, statements prepare on the pool and live in the LRU
// cache; inside one they prepare on the transaction's own connection,
// never touching the pool, and die with the scope.
func (c *Conn) prepare(ctx context.Context, text string, op *operation) (*sql.Stmt, bool, error) {
	if cached, ok := c.cache.get(text); ok {
		if op.tx != nil {
			return op.tx.StmtContext(ctx, cached), true, nil
		}
		return cached, false, nil
	}
	native, _ := c.gen.ConvertPlaceholders(text, nil)
	if op.tx != nil {
		stmt, err := op.tx.PrepareContext(ctx, native)
		if err != nil {
			return nil, false, fmt.Errorf("prepare: %w", err)
		}
		return stmt, true, nil
	}
	stmt, err := c.db.PrepareContext(ctx, native)
	if err != nil {
		return nil, false, fmt.Errorf("prepare: %w", err)
	}
	c.cache.put(text, stmt)
	return stmt, false, nil
}

func (c *Conn) runOne(ctx context.Context, st *sql.Stmt, text string, args []any) ([]Row, error) {
	_, bound := c.gen.ConvertPlaceholders(text, args)
	c.stats.TotalStatements.Add(1)
	if !returnsRows(text) {
		if _, err := st.ExecContext(ctx, bound...); err != nil {
			return nil, err
		}
		return nil, nil
	}
	rows, err := st.QueryContext(ctx, bound...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		out = append(out, Row(vals))
	}
	return out, rows.Err()
}

// mapError turns deadline expirations into TimeoutError so callers can
// distinguish a blown budget from a backend failure.
func (c *Conn) mapError(ctx context.Context, op *operation, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
		return &TimeoutError{Op: op.name, Budget: op.timeout}
	}
	return err
}

// returnsRows decides Query versus Exec from the statement head.
func returnsRows(query string) bool {
	head := query
	for len(head) > 0 && (head[0] == ' ' || head[0] == '\t' || head[0] == '\n') {
		head = head[1:]
	}
	if i := strings.IndexAny(head, " \t\n("); i > 0 {
		head = head[:i]
	}
	switch strings.ToUpper(head) {
	case "SELECT", "PRAGMA", "SHOW", "VALUES", "WITH", "EXPLAIN":
		return true
	default:
		return false
	}
}
