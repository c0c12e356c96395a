// Package models defines the persistent entities of the listening history
// service and the repository contract used to store them.
//
// # Entities
//
// [User] is a Spotify account known to the service. It carries the OAuth
// token material used by the background poller, the ingestion checkpoint
// (the latest played-at instant already stored), and the opt-in flags for
// background tracking and import bookkeeping.
//
// [Play] is one immutable listening event. Its identity for deduplication is
// the (user id, track id, played-at) tuple, with played-at held at whole
// second precision. Plays are created by the normalizer and never mutated.
//
// [ImportJob] tracks the lifecycle of a bulk history import through the
// [JobStatus] state machine: pending → processing → completed | failed.
// Terminal states absorb: no transition leaves completed or failed.
//
// # Persistence
//
// All entities implement [Model]. Repositories in internal/repositories
// implement [Repository] per entity type over SQLite.
package models
