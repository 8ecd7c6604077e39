// Package strata is a schemaless entity persistence engine over SQL
// backends. Entities are maps of named fields saved into per-type
// tables that are created lazily and widened online as new fields
// appear. Every write appends a full snapshot to an append-only
// history table with a per-entity monotonically increasing version,
// deletions are soft by default, and a metadata table records the
// declared type of every field ever seen.
//
// SQL is rendered by pluggable dialect generators (package dialect)
// and executed through a resilient connection layer (package conn).
package strata
