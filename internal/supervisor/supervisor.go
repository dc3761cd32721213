// Package supervisor wraps every database access with lifecycle tracking,
// timeout enforcement, retry policy and transaction/batch semantics. It is
// the public entry point for all database work in the service.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/opsconsole/dbsupervisor/internal/alert"
	"github.com/opsconsole/dbsupervisor/internal/database"
	"github.com/opsconsole/dbsupervisor/internal/registry"
)

// Op is one unit of database-bound work. The supervisor cancels the passed
// context when the operation's timeout fires; ops that honour it stop early,
// ops that ignore it keep draining in the background after the caller has
// already received a TimeoutError.
type Op func(ctx context.Context, conn database.Conn) (interface{}, error)

// ConnectionOptions controls a single WithConnection call. Zero fields take
// the defaults (30s timeout, name "unknown", one retry); Retries < 0
// disables retrying.
type ConnectionOptions struct {
	Timeout time.Duration
	Name    string
	Retries int
}

func DefaultConnectionOptions() ConnectionOptions {
	return ConnectionOptions{
		Timeout: 30 * time.Second,
		Name:    "unknown",
		Retries: 1,
	}
}

// TransactionOptions controls a WithTransaction call.
type TransactionOptions struct {
	Timeout   time.Duration
	Name      string
	Isolation database.IsolationLevel
}

func DefaultTransactionOptions() TransactionOptions {
	return TransactionOptions{
		Timeout:   60 * time.Second,
		Name:      "transaction",
		Isolation: database.ReadCommitted,
	}
}

// BatchOptions controls a WithBatch call. The zero value runs the operations
// strictly in order on one handle, aborting on the first error. Parallel
// runs them concurrently on separate handles and lets all of them settle
// before any error surfaces.
type BatchOptions struct {
	Timeout  time.Duration
	Name     string
	Parallel bool
}

func DefaultBatchOptions() BatchOptions {
	return BatchOptions{
		Timeout: 120 * time.Second,
		Name:    "batch",
	}
}

// ConnPoolStats is the periodic point-in-time snapshot exposed to operators.
// The active count is derived from the operation registry rather than the
// driver pool, since the pool's internals belong to the database client.
type ConnPoolStats struct {
	ActiveOperations int       `json:"active_operations"`
	IdleCapacity     int       `json:"idle_capacity"`
	TotalCapacity    int       `json:"total_capacity"`
	PendingAcquires  int64     `json:"pending_acquires"`
	Timestamp        time.Time `json:"timestamp"`
}

// HealthStatus is the lightweight synchronous check used by the health
// monitor's pool sub-check.
type HealthStatus struct {
	Healthy bool          `json:"healthy"`
	Stats   ConnPoolStats `json:"stats"`
	Issues  []string      `json:"issues"`
}

type Config struct {
	// StaleOperationAge is the cutoff used by CleanupTimeoutOperations.
	// Default 5 minutes.
	StaleOperationAge time.Duration
}

// Supervisor coordinates every database call through the registry.
type Supervisor struct {
	client     database.Client
	registry   *registry.Registry
	dispatcher *alert.Dispatcher
	staleAge   time.Duration

	statsMu sync.RWMutex
	stats   ConnPoolStats
}

func New(client database.Client, reg *registry.Registry, dispatcher *alert.Dispatcher, cfg Config) *Supervisor {
	if cfg.StaleOperationAge <= 0 {
		cfg.StaleOperationAge = 5 * time.Minute
	}
	return &Supervisor{
		client:     client,
		registry:   reg,
		dispatcher: dispatcher,
		staleAge:   cfg.StaleOperationAge,
	}
}

type opResult struct {
	value interface{}
	err   error
}

// WithConnection acquires a handle, registers the operation and races it
// against the timeout. On failure it retries with linearly increasing
// backoff (1s, 2s, ...). Every attempt registers and unregisters exactly
// once, on every path.
func (s *Supervisor) WithConnection(ctx context.Context, op Op, opts ConnectionOptions) (interface{}, error) {
	opts = normalizeConnectionOptions(opts)

	var lastErr error
	for attempt := 0; attempt <= opts.Retries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * time.Second
			log.Printf("Retrying operation %q in %s (attempt %d of %d)",
				opts.Name, backoff, attempt+1, opts.Retries+1)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		result, err := s.runOnce(ctx, op, opts)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// Caller-side cancellation is not retryable.
			return nil, err
		}
	}

	var timeoutErr *TimeoutError
	if errors.As(lastErr, &timeoutErr) {
		return nil, lastErr
	}
	return nil, &OperationError{Name: opts.Name, Attempts: opts.Retries + 1, Cause: lastErr}
}

func (s *Supervisor) runOnce(ctx context.Context, op Op, opts ConnectionOptions) (interface{}, error) {
	conn, err := s.client.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}

	id := s.registry.Register(opts.Name)
	defer s.registry.Unregister(id)

	opCtx, cancel := context.WithCancel(ctx)
	done := make(chan opResult, 1)
	go func() {
		value, opErr := op(opCtx, conn)
		conn.Release()
		done <- opResult{value: value, err: opErr}
	}()

	timer := time.NewTimer(opts.Timeout)
	defer timer.Stop()

	select {
	case res := <-done:
		cancel()
		return res.value, res.err
	case <-timer.C:
		// Abandon the wait. Cancelling opCtx asks cooperative operations to
		// stop; ones that ignore it finish in the background and release the
		// handle themselves.
		cancel()
		log.Printf("Operation %q exceeded its %s budget", opts.Name, opts.Timeout)
		return nil, &TimeoutError{Name: opts.Name, Timeout: opts.Timeout}
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	}
}

// WithTransaction runs op inside a database transaction at the requested
// isolation level: commit on normal return, rollback on any error.
// Transactions are never retried; a replayed transaction body is not safe to
// assume idempotent.
func (s *Supervisor) WithTransaction(ctx context.Context, op Op, opts TransactionOptions) (interface{}, error) {
	opts = normalizeTransactionOptions(opts)

	wrapped := func(ctx context.Context, conn database.Conn) (interface{}, error) {
		var result interface{}
		err := conn.Transaction(ctx, opts.Isolation, func(tx database.Conn) error {
			value, opErr := op(ctx, tx)
			if opErr != nil {
				return opErr
			}
			result = value
			return nil
		})
		return result, err
	}

	return s.WithConnection(ctx, wrapped, ConnectionOptions{
		Timeout: opts.Timeout,
		Name:    opts.Name,
		Retries: -1,
	})
}

// WithBatch executes a list of operations as one tracked unit, racing the
// whole batch against a single timeout. By default the operations run
// strictly in order on one shared handle and the first error aborts the
// rest. With Parallel set, every operation runs concurrently on its own
// pooled handle (Go database handles are not safe for concurrent use) and
// all of them settle before the first error, by position, is surfaced.
func (s *Supervisor) WithBatch(ctx context.Context, ops []Op, opts BatchOptions) ([]interface{}, error) {
	opts = normalizeBatchOptions(opts)
	if len(ops) == 0 {
		return []interface{}{}, nil
	}

	id := s.registry.Register(opts.Name)
	defer s.registry.Unregister(id)

	opCtx, cancel := context.WithCancel(ctx)
	done := make(chan batchResult, 1)
	go func() {
		results, err := s.runBatch(opCtx, ops, opts)
		done <- batchResult{results: results, err: err}
	}()

	timer := time.NewTimer(opts.Timeout)
	defer timer.Stop()

	select {
	case res := <-done:
		cancel()
		return res.results, res.err
	case <-timer.C:
		cancel()
		log.Printf("Batch %q exceeded its %s budget", opts.Name, opts.Timeout)
		return nil, &TimeoutError{Name: opts.Name, Timeout: opts.Timeout}
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	}
}

type batchResult struct {
	results []interface{}
	err     error
}

func (s *Supervisor) runBatch(ctx context.Context, ops []Op, opts BatchOptions) ([]interface{}, error) {
	results := make([]interface{}, len(ops))

	if !opts.Parallel {
		conn, err := s.client.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire connection: %w", err)
		}
		defer conn.Release()

		for i, op := range ops {
			value, opErr := op(ctx, conn)
			if opErr != nil {
				return results, fmt.Errorf("batch operation %d failed: %w", i, opErr)
			}
			results[i] = value
		}
		return results, nil
	}

	errs := make([]error, len(ops))
	var wg sync.WaitGroup
	for i, op := range ops {
		wg.Add(1)
		go func(i int, op Op) {
			defer wg.Done()
			conn, err := s.client.Acquire(ctx)
			if err != nil {
				errs[i] = fmt.Errorf("failed to acquire connection: %w", err)
				return
			}
			defer conn.Release()
			results[i], errs[i] = op(ctx, conn)
		}(i, op)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return results, fmt.Errorf("batch operation %d failed: %w", i, err)
		}
	}
	return results, nil
}

// ConnectionStats returns the latest periodic snapshot. The snapshot is
// refreshed on the leak scanner's cadence via RefreshStats; before the first
// pass it is computed on demand.
func (s *Supervisor) ConnectionStats() ConnPoolStats {
	s.statsMu.RLock()
	stats := s.stats
	s.statsMu.RUnlock()

	if stats.Timestamp.IsZero() {
		return s.RefreshStats()
	}
	return stats
}

// RefreshStats recomputes the pool snapshot. Registered as a scan-pass hook.
func (s *Supervisor) RefreshStats() ConnPoolStats {
	active := s.registry.Size()
	pool := s.client.PoolStats()

	idle := pool.Total - active
	if idle < 0 {
		idle = 0
	}

	stats := ConnPoolStats{
		ActiveOperations: active,
		IdleCapacity:     idle,
		TotalCapacity:    pool.Total,
		PendingAcquires:  pool.WaitCount,
		Timestamp:        time.Now(),
	}

	s.statsMu.Lock()
	s.stats = stats
	s.statsMu.Unlock()
	return stats
}

// CleanupTimeoutOperations force-unregisters every tracked operation older
// than the stale age. Exposed to operators as a manual remediation hook.
func (s *Supervisor) CleanupTimeoutOperations() int {
	removed := s.registry.CleanupStale(s.staleAge)
	if removed > 0 {
		log.Printf("Cleanup removed %d stale operation(s)", removed)
		s.dispatcher.Dispatch(alert.New(alert.LevelWarning, fmt.Sprintf(
			"cleanup force-removed %d operation(s) older than %s", removed, s.staleAge)))
	}
	return removed
}

// HealthCheck performs a lightweight synchronous check: pool usage ratio
// plus a trivial round-trip against the backend.
func (s *Supervisor) HealthCheck(ctx context.Context) *HealthStatus {
	stats := s.RefreshStats()
	status := &HealthStatus{
		Healthy: true,
		Stats:   stats,
		Issues:  []string{},
	}

	if stats.TotalCapacity > 0 {
		usage := float64(stats.ActiveOperations) / float64(stats.TotalCapacity)
		if usage > 0.9 {
			status.Healthy = false
			status.Issues = append(status.Issues,
				fmt.Sprintf("connection pool at %.0f%% capacity", usage*100))
		}
	}

	if err := s.client.Ping(ctx); err != nil {
		status.Healthy = false
		status.Issues = append(status.Issues,
			fmt.Sprintf("database round-trip failed: %v", err))
	}

	return status
}

// LeakStats exposes the registry's leak summary.
func (s *Supervisor) LeakStats() registry.LeakStats {
	return s.registry.LeakStats()
}

func normalizeConnectionOptions(opts ConnectionOptions) ConnectionOptions {
	defaults := DefaultConnectionOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = defaults.Timeout
	}
	if opts.Name == "" {
		opts.Name = defaults.Name
	}
	// Zero means unset and takes the default; negative means no retries.
	if opts.Retries == 0 {
		opts.Retries = defaults.Retries
	} else if opts.Retries < 0 {
		opts.Retries = 0
	}
	return opts
}

func normalizeTransactionOptions(opts TransactionOptions) TransactionOptions {
	defaults := DefaultTransactionOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = defaults.Timeout
	}
	if opts.Name == "" {
		opts.Name = defaults.Name
	}
	if opts.Isolation == "" {
		opts.Isolation = defaults.Isolation
	}
	return opts
}

func normalizeBatchOptions(opts BatchOptions) BatchOptions {
	defaults := DefaultBatchOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = defaults.Timeout
	}
	if opts.Name == "" {
		opts.Name = defaults.Name
	}
	return opts
}
