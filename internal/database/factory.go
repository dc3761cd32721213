package database

import "context"

// Config selects and parameterises a backend.
type Config struct {
	Adapter          string // postgres | mysql
	ConnectionString string
}

// NewClient builds the client implementation for the configured adapter.
func NewClient(ctx context.Context, cfg Config) (Client, error) {
	switch cfg.Adapter {
	case "postgres", "postgresql":
		return NewPostgresClient(ctx, cfg.ConnectionString)
	case "mysql":
		return NewMySQLClient(ctx, cfg.ConnectionString)
	default:
		return nil, ErrUnsupportedDatabase
	}
}
