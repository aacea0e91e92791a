// Package store provides in-memory and Redis implementations of the
// campaign job repository. The Postgres implementation lives in
// internal/db.
//
// Both stores keep each job as one JSON document, so a read always sees a
// whole record from a single write.
package store
