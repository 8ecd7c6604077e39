package conn

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// operation is one unit of work moving through the interceptor chain.
// Execute carries a single parameter tuple, ExecuteMany carries one
// tuple per statement execution sharing a single time budget. tx is
// the transaction the operation runs in, set by the auto-transaction
// stage; nil means backend autocommit.
type operation struct {
	name    string
	query   string
	params  [][]any
	tags    map[string]string
	timeout time.Duration
	tx      *sql.Tx
}

type execFunc func(ctx context.Context, op *operation) ([]Row, error)

// An interceptor wraps the next stage of the chain. The chain is built
// once at connection construction and is identical for every call.
type interceptor func(next execFunc) execFunc

// buildChain composes the fixed interceptor stack around base, from
// outermost to innermost: error wrapping, auto-transaction scoping,
// circuit breaking, slow-call tracking, timing.
func (c *Conn) buildChain(base execFunc) execFunc {
	stack := []interceptor{
		c.wrapErrors,
		c.autoTransaction,
		c.circuitBreak,
		c.trackSlow,
		c.profile,
	}
	chain := base
	for i := len(stack) - 1; i >= 0; i-- {
		chain = stack[i](chain)
	}
	return chain
}

// wrapErrors gives every failure a stable, contextual shape without
// hiding the typed errors raised below it.
func (c *Conn) wrapErrors(next execFunc) execFunc {
	return func(ctx context.Context, op *operation) ([]Row, error) {
		rows, err := next(ctx, op)
		if err != nil {
			return nil, fmt.Errorf("conn: %s: %w", op.name, err)
		}
		return rows, nil
	}
}

// autoTransaction scopes the operation. A transaction already active,
// carried in the context by Transact or started explicitly with Begin,
// is joined. A batch outside any gets its own local transaction,
// committed on success and rolled back on failure, so a half-executed
// batch leaves nothing behind. A single statement outside any runs on
// backend autocommit, which already gives it an atomic scope of its
// own.
func (c *Conn) autoTransaction(next execFunc) execFunc {
	return func(ctx context.Context, op *operation) ([]Row, error) {
		if tx := scopedTx(ctx); tx != nil {
			op.tx = tx
			return next(ctx, op)
		}
		if tx := c.currentTx(); tx != nil {
			op.tx = tx
			return next(ctx, op)
		}
		if op.name != "executemany" {
			return next(ctx, op)
		}
		tx, err := c.db.BeginTx(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("begin: %w", err)
		}
		op.tx = tx
		rows, err := next(ctx, op)
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				c.log.Error("rollback after failure", "op", op.name, "error", rbErr)
			}
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit: %w", err)
		}
		return rows, nil
	}
}

// circuitBreak consults the breaker named after the operation. Open
// rejections never reach the backend and do not count as failures.
func (c *Conn) circuitBreak(next execFunc) execFunc {
	return func(ctx context.Context, op *operation) ([]Row, error) {
		br := c.breakers.Get(op.name)
		if err := br.Allow(); err != nil {
			c.stats.Rejected.Add(1)
			return nil, err
		}
		rows, err := next(ctx, op)
		br.Record(recordable(err))
		return rows, err
	}
}

// recordable filters out errors that should not trip the breaker.
// Safeguard exhaustion is local scheduling pressure, not backend
// failure.
func recordable(err error) error {
	if err == nil {
		return nil
	}
	var e *ExhaustedError
	if errors.As(err, &e) {
		return nil
	}
	return err
}

// trackSlow logs and counts operations exceeding the slow threshold.
func (c *Conn) trackSlow(next execFunc) execFunc {
	return func(ctx context.Context, op *operation) ([]Row, error) {
		start := time.Now()
		rows, err := next(ctx, op)
		if d := time.Since(start); d > c.slowThreshold {
			c.stats.SlowOps.Add(1)
			c.log.Warn("slow operation detected",
				"op", op.name, "duration", d, "query", op.query)
			if c.slowHook != nil {
				c.slowHook(ctx, op.query, d)
			}
		}
		return rows, err
	}
}

// profile records timing and outcome counters for every operation.
func (c *Conn) profile(next execFunc) execFunc {
	return func(ctx context.Context, op *operation) ([]Row, error) {
		start := time.Now()
		rows, err := next(ctx, op)
		c.stats.TotalOps.Add(1)
		c.stats.TotalDuration.Add(int64(time.Since(start)))
		if err != nil {
			c.stats.Errors.Add(1)
		}
		return rows, err
	}
}
