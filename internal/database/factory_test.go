package database

import (
	"context"
	"database/sql"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientUnsupportedAdapter(t *testing.T) {
	for _, adapter := range []string{"", "sqlite", "oracle", "POSTGRES"} {
		client, err := NewClient(context.Background(), Config{
			Adapter:          adapter,
			ConnectionString: "whatever",
		})
		assert.Nil(t, client, "adapter %q", adapter)
		require.ErrorIs(t, err, ErrUnsupportedDatabase, "adapter %q", adapter)
	}
}

func TestPgxIsolationMapping(t *testing.T) {
	assert.Equal(t, pgx.ReadCommitted, pgxIsoLevel(ReadCommitted))
	assert.Equal(t, pgx.RepeatableRead, pgxIsoLevel(RepeatableRead))
	assert.Equal(t, pgx.Serializable, pgxIsoLevel(Serializable))

	// Unknown levels fall back to the engine default.
	assert.Equal(t, pgx.ReadCommitted, pgxIsoLevel(IsolationLevel("snapshot")))
}

func TestSQLIsolationMapping(t *testing.T) {
	assert.Equal(t, sql.LevelReadCommitted, sqlIsoLevel(ReadCommitted))
	assert.Equal(t, sql.LevelRepeatableRead, sqlIsoLevel(RepeatableRead))
	assert.Equal(t, sql.LevelSerializable, sqlIsoLevel(Serializable))
	assert.Equal(t, sql.LevelReadCommitted, sqlIsoLevel(IsolationLevel("")))
}
