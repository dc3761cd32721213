// Package database provides the client abstraction the supervisor drives.
// The relational engine itself is an external collaborator: this package
// only adapts driver pools (pgx for PostgreSQL, database/sql for MySQL)
// behind one interface and exposes the session introspection the health
// monitor needs.
package database

import (
	"context"
	"errors"
	"time"
)

// IsolationLevel names a transaction isolation level in a driver-neutral way.
type IsolationLevel string

const (
	ReadCommitted  IsolationLevel = "read committed"
	RepeatableRead IsolationLevel = "repeatable read"
	Serializable   IsolationLevel = "serializable"
)

// Client is a connected database backend. Implementations must be safe for
// concurrent use; pooling is the driver's responsibility.
type Client interface {
	// Acquire returns a scoped handle from the pool. The caller owns the
	// handle until Release.
	Acquire(ctx context.Context) (Conn, error)

	// Ping issues a trivial round-trip against the backend.
	Ping(ctx context.Context) error

	// Exec runs a raw statement outside any tracked operation, for
	// administrative commands. Returns the number of affected rows.
	Exec(ctx context.Context, query string, args ...interface{}) (int64, error)

	// SessionStats queries the backend's session introspection view for
	// active/idle session counts plus sessions running longer than
	// slowThreshold and transactions open longer than txnThreshold.
	SessionStats(ctx context.Context, slowThreshold, txnThreshold time.Duration) (*SessionStats, error)

	// PoolStats reports the driver pool's point-in-time state.
	PoolStats() PoolStats

	Close() error
}

// Conn is a single scoped handle. Not safe for concurrent use; it belongs to
// exactly one operation at a time.
type Conn interface {
	Query(ctx context.Context, query string, args ...interface{}) ([]map[string]interface{}, error)
	Exec(ctx context.Context, query string, args ...interface{}) (int64, error)

	// Transaction runs fn inside a transaction at the given isolation level.
	// The transaction commits when fn returns nil and rolls back otherwise.
	Transaction(ctx context.Context, isolation IsolationLevel, fn func(Conn) error) error

	// Release returns the handle to the pool. Safe to call exactly once.
	Release()
}

// SessionStats is a snapshot of backend session activity.
type SessionStats struct {
	Active           int `json:"active"`
	Idle             int `json:"idle"`
	SlowSessions     int `json:"slow_sessions"`
	LongTransactions int `json:"long_transactions"`
}

// PoolStats is a snapshot of the driver pool.
type PoolStats struct {
	// Total is the pool's configured capacity.
	Total int `json:"total"`
	// Acquired is the number of handles currently checked out.
	Acquired int `json:"acquired"`
	// Idle is the number of open but unused connections.
	Idle int `json:"idle"`
	// WaitCount is the cumulative number of acquires that had to wait for a
	// free connection.
	WaitCount int64 `json:"wait_count"`
}

var (
	// ErrNotConnected - client used before Connect or after Close
	ErrNotConnected = errors.New("database: not connected")

	// ErrUnsupportedDatabase - requested adapter type has no implementation
	ErrUnsupportedDatabase = errors.New("database: unsupported adapter type")
)
