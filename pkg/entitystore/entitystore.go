// Package entitystore re-exports the entity storage contract that user
// indexing functions are written against. The concrete SQLite-backed
// implementation lives in internal/entitystore; this package is the stable
// surface user code and pkg/indexing import, mirroring the pkg/X interface
// vs internal/X implementation split used throughout (pkg/reorg vs
// internal/reorg, pkg/rpc vs internal/rpc).
package entitystore

import "github.com/evmindex/evmindex/internal/entitystore"

// EntityStore is the CRUD + revert surface exposed to user indexing
// functions.
type EntityStore = entitystore.EntityStore

// Row is a decoded entity revision returned by FindMany.
type Row = entitystore.Row
