// Package registry tracks every in-flight database operation by id. It is the
// ground truth for leak detection: an operation that stays registered past
// the leak threshold is reported exactly once, and entries far past the
// threshold are pruned by the periodic scanner.
package registry

import (
	"fmt"
	"log"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opsconsole/dbsupervisor/internal/alert"
)

// Operation is the read-only view of one tracked database call.
type Operation struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	StartedAt   time.Time `json:"started_at"`
	OriginTrace string    `json:"origin_trace,omitempty"`
}

// record is the internal entry; it carries the one-shot leak timer and the
// single-fire reported flag, neither of which leave the package.
type record struct {
	Operation
	leakTimer *time.Timer
	reported  bool
}

type Config struct {
	// LeakThreshold is how long an operation may stay registered before a
	// leak report fires. Default 60s.
	LeakThreshold time.Duration

	// MaxActiveOperations is the registry size above which a registration
	// raises a warning alert. Registration itself is never blocked.
	// Default 50.
	MaxActiveOperations int
}

func DefaultConfig() Config {
	return Config{
		LeakThreshold:       60 * time.Second,
		MaxActiveOperations: 50,
	}
}

// Registry is safe for concurrent use; the operations map is the single
// shared mutable resource and every access goes through one mutex.
type Registry struct {
	mu         sync.Mutex
	operations map[string]*record
	config     Config
	dispatcher *alert.Dispatcher
}

func New(cfg Config, dispatcher *alert.Dispatcher) *Registry {
	if cfg.LeakThreshold <= 0 {
		cfg.LeakThreshold = DefaultConfig().LeakThreshold
	}
	if cfg.MaxActiveOperations <= 0 {
		cfg.MaxActiveOperations = DefaultConfig().MaxActiveOperations
	}
	return &Registry{
		operations: make(map[string]*record),
		config:     cfg,
		dispatcher: dispatcher,
	}
}

// Register allocates a unique id for a named operation, stores it and
// schedules the one-shot leak report timer.
func (r *Registry) Register(name string) string {
	id := fmt.Sprintf("%s-%d-%s", name, time.Now().UnixNano(), uuid.NewString()[:8])

	rec := &record{
		Operation: Operation{
			ID:          id,
			Name:        name,
			StartedAt:   time.Now(),
			OriginTrace: captureOriginTrace(3),
		},
	}

	r.mu.Lock()
	rec.leakTimer = time.AfterFunc(r.config.LeakThreshold, func() {
		r.reportLeak(id)
	})
	r.operations[id] = rec
	size := len(r.operations)
	r.mu.Unlock()

	if size > r.config.MaxActiveOperations {
		r.dispatch(alert.New(alert.LevelWarning, fmt.Sprintf(
			"high operation count: %d active operations (limit %d)",
			size, r.config.MaxActiveOperations)))
	}

	return id
}

// Unregister cancels the pending leak timer and removes the entry. Calling it
// with an unknown or already-removed id is a no-op.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	rec, ok := r.operations[id]
	if ok {
		delete(r.operations, id)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	if rec.leakTimer != nil {
		rec.leakTimer.Stop()
	}
}

// Snapshot returns a read-only copy of all tracked operations.
func (r *Registry) Snapshot() []Operation {
	r.mu.Lock()
	defer r.mu.Unlock()

	ops := make([]Operation, 0, len(r.operations))
	for _, rec := range r.operations {
		ops = append(ops, rec.Operation)
	}
	return ops
}

// Size returns the number of in-flight operations.
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.operations)
}

// LeakStats summarises the current registry contents for reporting.
type LeakStats struct {
	ActiveOperations        int           `json:"active_operations"`
	LongestRunningOperation string        `json:"longest_running_operation"`
	AverageDuration         time.Duration `json:"average_duration"`
}

func (r *Registry) LeakStats() LeakStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := LeakStats{ActiveOperations: len(r.operations)}
	if len(r.operations) == 0 {
		return stats
	}

	now := time.Now()
	var oldest time.Time
	var total time.Duration
	for _, rec := range r.operations {
		total += now.Sub(rec.StartedAt)
		if oldest.IsZero() || rec.StartedAt.Before(oldest) {
			oldest = rec.StartedAt
			stats.LongestRunningOperation = rec.Name
		}
	}
	stats.AverageDuration = total / time.Duration(len(r.operations))
	return stats
}

// CleanupStale force-unregisters every operation older than the given age and
// returns how many were removed. Used both by the scanner's GC pass and by
// the operator-facing remediation hook.
func (r *Registry) CleanupStale(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)

	r.mu.Lock()
	var removed []*record
	for id, rec := range r.operations {
		if rec.StartedAt.Before(cutoff) {
			delete(r.operations, id)
			removed = append(removed, rec)
		}
	}
	r.mu.Unlock()

	for _, rec := range removed {
		if rec.leakTimer != nil {
			rec.leakTimer.Stop()
		}
		log.Printf("Force-removed stale operation %s (%s), active for %s",
			rec.ID, rec.Name, time.Since(rec.StartedAt).Round(time.Millisecond))
	}
	return len(removed)
}

// reportLeak fires the leak alert for an operation, at most once per id.
func (r *Registry) reportLeak(id string) {
	r.mu.Lock()
	rec, ok := r.operations[id]
	if !ok || rec.reported {
		r.mu.Unlock()
		return
	}
	rec.reported = true
	op := rec.Operation
	r.mu.Unlock()

	elapsed := time.Since(op.StartedAt).Round(time.Millisecond)
	log.Printf("Operation leak detected: %s (%s) active for %s", op.ID, op.Name, elapsed)
	r.dispatch(alert.New(alert.LevelCritical, fmt.Sprintf(
		"operation leak: %s (%s) active for %s, registered at:\n%s",
		op.ID, op.Name, elapsed, op.OriginTrace)))
}

func (r *Registry) dispatch(a alert.Alert) {
	if r.dispatcher != nil {
		r.dispatcher.Dispatch(a)
	}
}

// captureOriginTrace records the call site that registered the operation, for
// leak diagnostics. Frames inside this package and the runtime are skipped.
func captureOriginTrace(skip int) string {
	pcs := make([]uintptr, 8)
	n := runtime.Callers(skip, pcs)
	if n == 0 {
		return ""
	}

	var sb strings.Builder
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if frame.Function != "" {
			fmt.Fprintf(&sb, "  %s (%s:%d)\n", frame.Function, frame.File, frame.Line)
		}
		if !more {
			break
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
