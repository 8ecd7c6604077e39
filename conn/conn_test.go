package conn

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/strata/dialect"
)

func newTestConn(t *testing.T, cfg *Config) (*Conn, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	gen, err := dialect.Get(dialect.SQLite)
	require.NoError(t, err)
	if cfg == nil {
		cfg = &Config{}
	}
	c := New(db, gen, cfg)
	t.Cleanup(func() { c.Close() })
	return c, mock
}

func TestExecuteReturnsRows(t *testing.T) {
	c, mock := newTestConn(t, nil)
	query := "SELECT id, name FROM users WHERE id = ?"

	mock.ExpectPrepare(query).
		ExpectQuery().
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow("u1", []byte("Ann")))

	rows, err := c.Execute(context.Background(), query, []any{"u1"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "u1", rows[0][0])
	// Driver []byte text comes back as string.
	assert.Equal(t, "Ann", rows[0][1])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteCachesStatements(t *testing.T) {
	c, mock := newTestConn(t, nil)
	query := "SELECT id FROM users"
	result := func() *sqlmock.Rows { return sqlmock.NewRows([]string{"id"}).AddRow("u1") }

	mock.ExpectPrepare(query).ExpectQuery().WillReturnRows(result())
	// Second run reuses the cached statement, no new prepare.
	mock.ExpectQuery(query).WillReturnRows(result())

	_, err := c.Execute(context.Background(), query, nil)
	require.NoError(t, err)
	_, err = c.Execute(context.Background(), query, nil)
	require.NoError(t, err)

	stats := c.CacheStats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	require.NoError(t, mock.ExpectationsWereMet())
}

// Distinct tag sets prepare distinct statements; the tags render as a
// trailing SQL comment.
func TestExecuteTagsCreateDistinctStatements(t *testing.T) {
	c, mock := newTestConn(t, nil)
	query := "SELECT id FROM users"
	tagged := "SELECT id FROM users /* op=save */"

	mock.ExpectPrepare(tagged).
		ExpectQuery().
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := c.Execute(context.Background(), query, nil,
		WithTags(map[string]string{"op": "save"}))
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

// A batch outside an explicit transaction gets its own scope: begin,
// one prepare on the transaction, every tuple, commit.
func TestExecuteManySharesOneScope(t *testing.T) {
	c, mock := newTestConn(t, nil)
	query := "INSERT INTO users (id) VALUES (?)"

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(query)
	prep.ExpectExec().WithArgs("u1").WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WithArgs("u2").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rows, err := c.ExecuteMany(context.Background(), query, [][]any{{"u1"}, {"u2"}})
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Equal(t, int64(2), c.Stats().TotalStatements.Load())
	assert.Equal(t, int64(1), c.Stats().TotalOps.Load())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteManyFailureRollsBack(t *testing.T) {
	c, mock := newTestConn(t, nil)
	query := "INSERT INTO users (id) VALUES (?)"
	boom := errors.New("constraint violated")

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(query)
	prep.ExpectExec().WithArgs("u1").WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WithArgs("u2").WillReturnError(boom)
	mock.ExpectRollback()

	_, err := c.ExecuteMany(context.Background(), query, [][]any{{"u1"}, {"u2"}, {"u3"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	// The third tuple never ran.
	assert.Equal(t, int64(2), c.Stats().TotalStatements.Load())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteManyEmptyBatch(t *testing.T) {
	c, mock := newTestConn(t, nil)
	rows, err := c.ExecuteMany(context.Background(), "INSERT INTO users (id) VALUES (?)", nil)
	require.NoError(t, err)
	assert.Nil(t, rows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteFailure(t *testing.T) {
	c, mock := newTestConn(t, nil)
	query := "SELECT id FROM missing"
	boom := errors.New("no such table")

	mock.ExpectPrepare(query).WillReturnError(boom)

	_, err := c.Execute(context.Background(), query, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int64(1), c.Stats().Errors.Load())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExplicitTransactionLifecycle(t *testing.T) {
	c, mock := newTestConn(t, nil)
	query := "SELECT id FROM users"

	assert.Equal(t, TxIdle, c.State())
	assert.ErrorIs(t, c.Commit(), ErrNoTransaction)
	assert.ErrorIs(t, c.Rollback(), ErrNoTransaction)

	mock.ExpectBegin()
	require.NoError(t, c.Begin(context.Background()))
	assert.True(t, c.InTransaction())
	assert.ErrorIs(t, c.Begin(context.Background()), ErrTxStarted)

	// Operations join the active transaction and prepare on it.
	mock.ExpectPrepare(query).
		ExpectQuery().
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	_, err := c.Execute(context.Background(), query, nil)
	require.NoError(t, err)

	mock.ExpectCommit()
	require.NoError(t, c.Commit())
	assert.Equal(t, TxCommitted, c.State())
	assert.False(t, c.InTransaction())

	mock.ExpectBegin()
	require.NoError(t, c.Begin(context.Background()))
	mock.ExpectRollback()
	require.NoError(t, c.Rollback())
	assert.Equal(t, TxRolledBack, c.State())
	require.NoError(t, mock.ExpectationsWereMet())
}

// Transact gives a multi-statement call one scope: every statement
// prepares on the transaction and the scope commits as a whole.
func TestTransactCommitsAllStatements(t *testing.T) {
	c, mock := newTestConn(t, nil)
	insert := "INSERT INTO users (id) VALUES (?)"
	audit := "INSERT INTO audit (user_id) VALUES (?)"

	mock.ExpectBegin()
	mock.ExpectPrepare(insert).ExpectExec().WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectPrepare(audit).ExpectExec().WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := c.Transact(context.Background(), func(ctx context.Context) error {
		if _, err := c.Execute(ctx, insert, []any{"u1"}); err != nil {
			return err
		}
		_, err := c.Execute(ctx, audit, []any{"u1"})
		return err
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

// A failure anywhere in the scope rolls back every statement that ran
// before it.
func TestTransactRollsBackOnError(t *testing.T) {
	c, mock := newTestConn(t, nil)
	insert := "INSERT INTO users (id) VALUES (?)"
	audit := "INSERT INTO audit (user_id) VALUES (?)"
	boom := errors.New("audit table gone")

	mock.ExpectBegin()
	mock.ExpectPrepare(insert).ExpectExec().WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectPrepare(audit).WillReturnError(boom)
	mock.ExpectRollback()

	err := c.Transact(context.Background(), func(ctx context.Context) error {
		if _, err := c.Execute(ctx, insert, []any{"u1"}); err != nil {
			return err
		}
		_, err := c.Execute(ctx, audit, []any{"u1"})
		return err
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

// An active scope is joined, never nested: a Transact inside another
// Transact, or inside an explicit transaction, issues no extra begin.
func TestTransactJoinsActiveScope(t *testing.T) {
	c, mock := newTestConn(t, nil)

	mock.ExpectBegin()
	mock.ExpectCommit()
	err := c.Transact(context.Background(), func(ctx context.Context) error {
		return c.Transact(ctx, func(context.Context) error { return nil })
	})
	require.NoError(t, err)

	mock.ExpectBegin()
	require.NoError(t, c.Begin(context.Background()))
	require.NoError(t, c.Transact(context.Background(), func(context.Context) error { return nil }))
	mock.ExpectCommit()
	require.NoError(t, c.Commit())
	require.NoError(t, mock.ExpectationsWereMet())
}

// Three straight failures open the execute breaker; the next call is
// rejected before reaching the backend.
func TestCircuitBreakerOpens(t *testing.T) {
	cfg := &Config{
		Breaker: BreakerConfig{
			FailureThreshold: 3,
			Window:           Duration(time.Minute),
			CoolDown:         Duration(time.Minute),
			HalfOpenMax:      1,
		},
	}
	c, mock := newTestConn(t, cfg)
	query := "SELECT id FROM missing"
	boom := errors.New("no such table")

	for i := 0; i < 3; i++ {
		mock.ExpectPrepare(query).WillReturnError(boom)
		_, err := c.Execute(context.Background(), query, nil)
		require.Error(t, err)
	}

	_, err := c.Execute(context.Background(), query, nil)
	require.Error(t, err)
	assert.True(t, IsCircuitOpen(err))
	var open *CircuitOpenError
	require.ErrorAs(t, err, &open)
	assert.Equal(t, "execute", open.Name)
	assert.Equal(t, BreakerOpen, c.Breakers().Get("execute").State())
	assert.Equal(t, int64(1), c.Stats().Rejected.Load())

	// The executemany breaker is independent and still closed.
	assert.Equal(t, BreakerClosed, c.Breakers().Get("executemany").State())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSharedBreakerGroup(t *testing.T) {
	group := NewBreakerGroup(BreakerConfig{
		FailureThreshold: 1,
		Window:           Duration(time.Minute),
		CoolDown:         Duration(time.Minute),
		HalfOpenMax:      1,
	})
	c, _ := newTestConn(t, &Config{Breakers: group})
	other, _ := newTestConn(t, &Config{Breakers: group})

	assert.Same(t, c.Breakers(), other.Breakers())
}

func TestTimeoutYieldsTimeoutError(t *testing.T) {
	c, mock := newTestConn(t, nil)
	query := "SELECT id FROM users"

	mock.ExpectPrepare(query).
		ExpectQuery().
		WillDelayFor(500 * time.Millisecond).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	start := time.Now()
	_, err := c.Execute(context.Background(), query, nil, WithTimeout(50*time.Millisecond))
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 50*time.Millisecond, te.Budget)
	// Expiry stops the wait well before the backend would answer.
	assert.Less(t, elapsed, 400*time.Millisecond)
}

// With the only slot held, the safeguard fails fast with an
// ExhaustedError instead of queueing; the breaker does not count it.
func TestSafeguardExhaustion(t *testing.T) {
	c, mock := newTestConn(t, &Config{MaxInFlight: 1})
	require.NoError(t, c.sem.Acquire(context.Background(), 1))
	defer c.sem.Release(1)

	_, err := c.Execute(context.Background(), "SELECT 1", nil)
	require.Error(t, err)
	assert.True(t, IsExhausted(err))
	assert.False(t, IsTimeout(err))
	assert.Equal(t, BreakerClosed, c.Breakers().Get("execute").State())
	assert.Equal(t, int64(1), c.Stats().Rejected.Load())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVersionDetails(t *testing.T) {
	c, mock := newTestConn(t, nil)
	query := "SELECT sqlite_version()"

	mock.ExpectPrepare(query).
		ExpectQuery().
		WillReturnRows(sqlmock.NewRows([]string{"sqlite_version()"}).AddRow("3.46.0"))

	d, err := c.VersionDetails(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dialect.SQLite, d.Dialect)
	assert.Equal(t, "3.46.0", d.ServerVersion)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteAfterClose(t *testing.T) {
	c, mock := newTestConn(t, nil)
	mock.ExpectClose()
	require.NoError(t, c.Close())

	_, err := c.Execute(context.Background(), "SELECT 1", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrClosed)

	// Idempotent.
	require.NoError(t, c.Close())
}

func TestReturnsRows(t *testing.T) {
	assert.True(t, returnsRows("SELECT 1"))
	assert.True(t, returnsRows("  select 1"))
	assert.True(t, returnsRows("PRAGMA table_info(\"users\")"))
	assert.True(t, returnsRows("SHOW server_version"))
	assert.False(t, returnsRows("INSERT INTO t VALUES (1)"))
	assert.False(t, returnsRows("UPDATE t SET a = 1"))
	assert.False(t, returnsRows("CREATE TABLE t (a TEXT)"))
}
