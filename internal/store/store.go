// Package store persists alerts to Redis as an audit trail: full records
// keyed by id with a TTL, a per-level index set and a capped recent list.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/opsconsole/dbsupervisor/internal/alert"
)

const (
	recordTTL    = 7 * 24 * time.Hour
	recentLimit  = 100
	recentKey    = "alerts:recent"
	recordPrefix = "alert:"
)

type Store struct {
	rdb *redis.Client
}

func NewStore(addr, password string, db int) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Printf("Connected to Redis: %s", addr)

	return &Store{rdb: rdb}, nil
}

// SaveAlert writes the alert record and updates the level index and the
// recent list.
func (s *Store) SaveAlert(ctx context.Context, a alert.Alert) error {
	id := uuid.NewString()
	key := recordPrefix + id

	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	if err := s.rdb.Set(ctx, key, data, recordTTL).Err(); err != nil {
		return fmt.Errorf("failed to store alert: %w", err)
	}

	levelKey := fmt.Sprintf("alerts:level:%s", a.Level)
	if err := s.rdb.SAdd(ctx, levelKey, id).Err(); err != nil {
		return fmt.Errorf("failed to index alert level: %w", err)
	}

	if err := s.rdb.LPush(ctx, recentKey, id).Err(); err != nil {
		return fmt.Errorf("failed to append recent alert: %w", err)
	}
	if err := s.rdb.LTrim(ctx, recentKey, 0, recentLimit-1).Err(); err != nil {
		return fmt.Errorf("failed to trim recent alerts: %w", err)
	}

	return nil
}

// RecentAlerts returns up to limit of the most recent alerts, newest first.
// Records that have expired since being listed are skipped.
func (s *Store) RecentAlerts(ctx context.Context, limit int) ([]alert.Alert, error) {
	if limit <= 0 || limit > recentLimit {
		limit = recentLimit
	}

	ids, err := s.rdb.LRange(ctx, recentKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list recent alerts: %w", err)
	}

	alerts := make([]alert.Alert, 0, len(ids))
	for _, id := range ids {
		data, err := s.rdb.Get(ctx, recordPrefix+id).Result()
		if err != nil {
			continue
		}
		var a alert.Alert
		if err := json.Unmarshal([]byte(data), &a); err != nil {
			continue
		}
		alerts = append(alerts, a)
	}

	return alerts, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.rdb.Close()
}
