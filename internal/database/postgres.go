package database

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresClient adapts a pgx connection pool.
type PostgresClient struct {
	pool *pgxpool.Pool
}

func NewPostgresClient(ctx context.Context, connectionString string) (*PostgresClient, error) {
	pool, err := pgxpool.New(ctx, connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return &PostgresClient{pool: pool}, nil
}

func (c *PostgresClient) Acquire(ctx context.Context) (Conn, error) {
	if c.pool == nil {
		return nil, ErrNotConnected
	}
	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	return &postgresConn{conn: conn}, nil
}

func (c *PostgresClient) Ping(ctx context.Context) error {
	if c.pool == nil {
		return ErrNotConnected
	}
	return c.pool.Ping(ctx)
}

func (c *PostgresClient) Exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	if c.pool == nil {
		return 0, ErrNotConnected
	}
	tag, err := c.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to execute statement: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SessionStats reads pg_stat_activity. The backend's own session is excluded
// so the probe never counts itself as active work.
func (c *PostgresClient) SessionStats(ctx context.Context, slowThreshold, txnThreshold time.Duration) (*SessionStats, error) {
	if c.pool == nil {
		return nil, ErrNotConnected
	}

	query := `
		SELECT
			COUNT(*) FILTER (WHERE state = 'active') AS active,
			COUNT(*) FILTER (WHERE state = 'idle') AS idle,
			COUNT(*) FILTER (WHERE state = 'active'
				AND now() - query_start > make_interval(secs => $1)) AS slow_sessions,
			COUNT(*) FILTER (WHERE xact_start IS NOT NULL
				AND now() - xact_start > make_interval(secs => $2)) AS long_transactions
		FROM pg_stat_activity
		WHERE datname IS NOT NULL AND pid <> pg_backend_pid()`

	stats := &SessionStats{}
	err := c.pool.QueryRow(ctx, query, slowThreshold.Seconds(), txnThreshold.Seconds()).
		Scan(&stats.Active, &stats.Idle, &stats.SlowSessions, &stats.LongTransactions)
	if err != nil {
		return nil, fmt.Errorf("failed to query pg_stat_activity: %w", err)
	}
	return stats, nil
}

func (c *PostgresClient) PoolStats() PoolStats {
	if c.pool == nil {
		return PoolStats{}
	}
	s := c.pool.Stat()
	return PoolStats{
		Total:     int(s.MaxConns()),
		Acquired:  int(s.AcquiredConns()),
		Idle:      int(s.IdleConns()),
		WaitCount: s.EmptyAcquireCount(),
	}
}

func (c *PostgresClient) Close() error {
	if c.pool != nil {
		c.pool.Close()
		c.pool = nil
	}
	return nil
}

type postgresConn struct {
	conn *pgxpool.Conn
}

func (pc *postgresConn) Query(ctx context.Context, query string, args ...interface{}) ([]map[string]interface{}, error) {
	rows, err := pc.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()
	return collectPgxRows(rows)
}

func (pc *postgresConn) Exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	tag, err := pc.conn.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("exec failed: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (pc *postgresConn) Transaction(ctx context.Context, isolation IsolationLevel, fn func(Conn) error) error {
	tx, err := pc.conn.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgxIsoLevel(isolation)})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	return runPgxTx(ctx, tx, fn)
}

func (pc *postgresConn) Release() {
	pc.conn.Release()
}

// postgresTxConn exposes the Conn surface inside an open transaction.
type postgresTxConn struct {
	tx pgx.Tx
}

func (tc *postgresTxConn) Query(ctx context.Context, query string, args ...interface{}) ([]map[string]interface{}, error) {
	rows, err := tc.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()
	return collectPgxRows(rows)
}

func (tc *postgresTxConn) Exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	tag, err := tc.tx.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("exec failed: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Transaction on an open transaction starts a savepoint-backed nested
// transaction; the isolation level is fixed by the outer transaction.
func (tc *postgresTxConn) Transaction(ctx context.Context, _ IsolationLevel, fn func(Conn) error) error {
	nested, err := tc.tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin nested transaction: %w", err)
	}
	return runPgxTx(ctx, nested, fn)
}

// Release is a no-op inside a transaction; the outer handle owns the
// connection.
func (tc *postgresTxConn) Release() {}

func runPgxTx(ctx context.Context, tx pgx.Tx, fn func(Conn) error) error {
	if err := fn(&postgresTxConn{tx: tx}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			log.Printf("Transaction rollback failed: %v", rbErr)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func collectPgxRows(rows pgx.Rows) ([]map[string]interface{}, error) {
	fields := rows.FieldDescriptions()
	results := make([]map[string]interface{}, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read row: %w", err)
		}
		row := make(map[string]interface{}, len(fields))
		for i, fd := range fields {
			row[fd.Name] = values[i]
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration failed: %w", err)
	}
	return results, nil
}

func pgxIsoLevel(level IsolationLevel) pgx.TxIsoLevel {
	switch level {
	case RepeatableRead:
		return pgx.RepeatableRead
	case Serializable:
		return pgx.Serializable
	default:
		return pgx.ReadCommitted
	}
}
