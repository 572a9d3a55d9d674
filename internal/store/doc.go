// Package store provides persistent storage for the support gateway.
//
// # Architecture
//
// Store is the single persistence interface. SQLStore implements it over
// sqlx for two drivers:
//
//   - sqlite: modernc.org/sqlite, WAL mode, one pooled connection
//   - postgres: github.com/lib/pq
//
// Queries are written with ? placeholders and rebound per driver. The schema
// is created on open.
//
// # Data Models
//
//   - User: identity with the support/admin flags, owned by the storefront
//   - Conversation: unique per (name, user_id, support_id)
//   - Message: immutable chat line, returned with its sender attached
//
// # Find-or-create
//
// Conversations are resolved with FindOrCreateConversation. A unique index on
// the triple rejects a second concurrent insert; the losing caller re-reads
// the existing row instead of surfacing the conflict.
//
// # Ordering
//
// Timestamps are stored as fixed-width UTC text so lexical order is time
// order. Messages are ordered by (created_at, id). ListMessages takes a
// limit: zero returns the whole log, a positive value returns the most
// recent messages in ascending order.
//
// # Errors
//
//   - ErrNotFound: entity missing (also returned for unknown participants)
//   - ErrDuplicateConversation: internal to the find-or-create retry
//   - ErrDuplicateUser: email already registered
//
// # Testing
//
// MockStore is an in-memory implementation with the same semantics.
package store
