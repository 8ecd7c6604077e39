// Package conn provides a resilient SQL execution layer over
// database/sql. Every operation passes through a fixed interceptor
// chain of error wrapping, auto-transaction scoping, circuit breaking,
// slow-call tracking and timing, and is written against portable ?
// placeholders that the dialect package rewrites for each backend.
//
// Statements are prepared once per distinct text and tag set and kept
// in a bounded LRU cache. Concurrency is capped by an in-flight
// safeguard; failing to schedule yields an ExhaustedError distinct
// from a true TimeoutError, so callers know the statement never ran.
package conn
