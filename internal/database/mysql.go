package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

const (
	mysqlMaxOpenConns    = 25
	mysqlMaxIdleConns    = 5
	mysqlConnMaxLifetime = 5 * time.Minute
)

// MySQLClient adapts a database/sql pool backed by go-sql-driver.
type MySQLClient struct {
	db *sql.DB
}

func NewMySQLClient(ctx context.Context, dsn string) (*MySQLClient, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql pool: %w", err)
	}

	db.SetMaxOpenConns(mysqlMaxOpenConns)
	db.SetMaxIdleConns(mysqlMaxIdleConns)
	db.SetConnMaxLifetime(mysqlConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping mysql: %w", err)
	}

	return &MySQLClient{db: db}, nil
}

func (c *MySQLClient) Acquire(ctx context.Context) (Conn, error) {
	if c.db == nil {
		return nil, ErrNotConnected
	}
	conn, err := c.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	return &mysqlConn{conn: conn}, nil
}

func (c *MySQLClient) Ping(ctx context.Context) error {
	if c.db == nil {
		return ErrNotConnected
	}
	return c.db.PingContext(ctx)
}

func (c *MySQLClient) Exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	if c.db == nil {
		return 0, ErrNotConnected
	}
	res, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to execute statement: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected, nil
}

// SessionStats reads the processlist and the InnoDB transaction view. The
// probe's own session is excluded by id.
func (c *MySQLClient) SessionStats(ctx context.Context, slowThreshold, txnThreshold time.Duration) (*SessionStats, error) {
	if c.db == nil {
		return nil, ErrNotConnected
	}

	stats := &SessionStats{}

	sessionQuery := `
		SELECT
			COALESCE(SUM(command <> 'Sleep'), 0) AS active,
			COALESCE(SUM(command = 'Sleep'), 0) AS idle,
			COALESCE(SUM(command <> 'Sleep' AND time > ?), 0) AS slow_sessions
		FROM information_schema.processlist
		WHERE id <> CONNECTION_ID()`
	err := c.db.QueryRowContext(ctx, sessionQuery, int64(slowThreshold.Seconds())).
		Scan(&stats.Active, &stats.Idle, &stats.SlowSessions)
	if err != nil {
		return nil, fmt.Errorf("failed to query processlist: %w", err)
	}

	txnQuery := `
		SELECT COUNT(*)
		FROM information_schema.innodb_trx
		WHERE trx_started < NOW() - INTERVAL ? SECOND`
	err = c.db.QueryRowContext(ctx, txnQuery, int64(txnThreshold.Seconds())).
		Scan(&stats.LongTransactions)
	if err != nil {
		return nil, fmt.Errorf("failed to query innodb_trx: %w", err)
	}

	return stats, nil
}

func (c *MySQLClient) PoolStats() PoolStats {
	if c.db == nil {
		return PoolStats{}
	}
	s := c.db.Stats()
	return PoolStats{
		Total:     s.MaxOpenConnections,
		Acquired:  s.InUse,
		Idle:      s.Idle,
		WaitCount: s.WaitCount,
	}
}

func (c *MySQLClient) Close() error {
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

type mysqlConn struct {
	conn *sql.Conn
}

func (mc *mysqlConn) Query(ctx context.Context, query string, args ...interface{}) ([]map[string]interface{}, error) {
	rows, err := mc.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()
	return scanRowsToMaps(rows)
}

func (mc *mysqlConn) Exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	res, err := mc.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("exec failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected, nil
}

func (mc *mysqlConn) Transaction(ctx context.Context, isolation IsolationLevel, fn func(Conn) error) error {
	tx, err := mc.conn.BeginTx(ctx, &sql.TxOptions{Isolation: sqlIsoLevel(isolation)})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&mysqlTxConn{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			log.Printf("Transaction rollback failed: %v", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (mc *mysqlConn) Release() {
	if err := mc.conn.Close(); err != nil {
		log.Printf("Failed to release mysql connection: %v", err)
	}
}

type mysqlTxConn struct {
	tx *sql.Tx
}

func (tc *mysqlTxConn) Query(ctx context.Context, query string, args ...interface{}) ([]map[string]interface{}, error) {
	rows, err := tc.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()
	return scanRowsToMaps(rows)
}

func (tc *mysqlTxConn) Exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	res, err := tc.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("exec failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected, nil
}

// Transaction inside an open MySQL transaction runs fn against the same
// transaction; database/sql offers no nested transaction primitive.
func (tc *mysqlTxConn) Transaction(ctx context.Context, _ IsolationLevel, fn func(Conn) error) error {
	return fn(tc)
}

func (tc *mysqlTxConn) Release() {}

func scanRowsToMaps(rows *sql.Rows) ([]map[string]interface{}, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	results := make([]map[string]interface{}, 0)
	for rows.Next() {
		values := make([]interface{}, len(cols))
		for i := range values {
			var v interface{}
			values[i] = &v
		}
		if err := rows.Scan(values...); err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(cols))
		for i, col := range cols {
			v := *(values[i].(*interface{}))
			if b, ok := v.([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = v
			}
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func sqlIsoLevel(level IsolationLevel) sql.IsolationLevel {
	switch level {
	case RepeatableRead:
		return sql.LevelRepeatableRead
	case Serializable:
		return sql.LevelSerializable
	default:
		return sql.LevelReadCommitted
	}
}
