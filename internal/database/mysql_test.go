package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errRowsAffected = errors.New("rows affected unsupported by driver")

// noAffectedDriver is a minimal driver whose statements execute but cannot
// report affected rows.
type noAffectedDriver struct{}

func (noAffectedDriver) Open(name string) (driver.Conn, error) { return noAffectedConn{}, nil }

type noAffectedConn struct{}

func (noAffectedConn) Prepare(query string) (driver.Stmt, error) { return noAffectedStmt{}, nil }
func (noAffectedConn) Close() error                              { return nil }
func (noAffectedConn) Begin() (driver.Tx, error)                 { return nil, errors.New("not supported") }

type noAffectedStmt struct{}

func (noAffectedStmt) Close() error  { return nil }
func (noAffectedStmt) NumInput() int { return 0 }
func (noAffectedStmt) Exec(args []driver.Value) (driver.Result, error) {
	return noAffectedResult{}, nil
}
func (noAffectedStmt) Query(args []driver.Value) (driver.Rows, error) {
	return nil, errors.New("not supported")
}

type noAffectedResult struct{}

func (noAffectedResult) LastInsertId() (int64, error) { return 0, nil }
func (noAffectedResult) RowsAffected() (int64, error) { return 0, errRowsAffected }

func init() {
	sql.Register("no-affected", noAffectedDriver{})
}

func TestExecPropagatesRowsAffectedError(t *testing.T) {
	db, err := sql.Open("no-affected", "")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	client := &MySQLClient{db: db}

	_, err = client.Exec(context.Background(), "DELETE FROM sessions")
	require.Error(t, err)
	assert.ErrorIs(t, err, errRowsAffected)
	assert.Contains(t, err.Error(), "rows affected")
}

func TestConnExecPropagatesRowsAffectedError(t *testing.T) {
	db, err := sql.Open("no-affected", "")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	client := &MySQLClient{db: db}
	conn, err := client.Acquire(context.Background())
	require.NoError(t, err)
	defer conn.Release()

	_, err = conn.Exec(context.Background(), "DELETE FROM sessions")
	require.Error(t, err)
	assert.ErrorIs(t, err, errRowsAffected)
}
