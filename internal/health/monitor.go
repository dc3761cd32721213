// Package health runs the periodic assessment loop that combines a
// connectivity probe, pool utilisation, leak statistics and backend
// performance introspection into one structured report.
package health

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/opsconsole/dbsupervisor/internal/alert"
	"github.com/opsconsole/dbsupervisor/internal/database"
	"github.com/opsconsole/dbsupervisor/internal/registry"
	"github.com/opsconsole/dbsupervisor/internal/supervisor"
	"github.com/opsconsole/dbsupervisor/internal/system"
)

// Check is one named sub-check inside a report.
type Check struct {
	Healthy bool                   `json:"healthy"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// CheckResult is the immutable report produced by one health cycle.
type CheckResult struct {
	Healthy         bool             `json:"healthy"`
	Checks          map[string]Check `json:"checks"`
	Recommendations []string         `json:"recommendations"`
	Alerts          []alert.Alert    `json:"alerts"`
	Timestamp       time.Time        `json:"timestamp"`
}

// Thresholds holds every tunable the four sub-checks compare against.
type Thresholds struct {
	LatencyWarning      time.Duration // connectivity probe latency
	PoolUsageWarning    float64       // 0..1 usage ratio
	LeakUnhealthy       int           // active operations making the check unhealthy
	LeakWarning         int           // active operations raising a warning
	SlowSessionAge      time.Duration // session age counted as slow
	SlowSessionWarning  int           // slow session count raising a warning
	LongTransactionAge  time.Duration // open transaction age counted as long
	LongTransactionWarn int           // long transaction count raising a warning
	HostLoadWarning     float64       // host CPU/memory percentage
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		LatencyWarning:      1000 * time.Millisecond,
		PoolUsageWarning:    0.8,
		LeakUnhealthy:       30,
		LeakWarning:         20,
		SlowSessionAge:      5 * time.Second,
		SlowSessionWarning:  3,
		LongTransactionAge:  time.Minute,
		LongTransactionWarn: 1,
		HostLoadWarning:     90,
	}
}

// Monitor is a two-state machine: Stopped (initial) and Running. Starting it
// runs one check immediately and then on the interval; stopping it is
// idempotent. The most recent result is retained; there is no history.
type Monitor struct {
	client     database.Client
	sup        *supervisor.Supervisor
	reg        *registry.Registry
	dispatcher *alert.Dispatcher
	thresholds Thresholds

	mu      sync.Mutex
	running bool
	done    chan struct{}

	resultMu   sync.RWMutex
	lastResult *CheckResult
}

func NewMonitor(client database.Client, sup *supervisor.Supervisor, reg *registry.Registry,
	dispatcher *alert.Dispatcher, thresholds Thresholds) *Monitor {
	if thresholds == (Thresholds{}) {
		thresholds = DefaultThresholds()
	}
	return &Monitor{
		client:     client,
		sup:        sup,
		reg:        reg,
		dispatcher: dispatcher,
		thresholds: thresholds,
	}
}

// StartPeriodicChecks transitions Stopped to Running. A no-op when already
// running.
func (m *Monitor) StartPeriodicChecks(interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.done = make(chan struct{})

	go m.loop(interval, m.done)
	log.Printf("Health monitor started (interval %s)", interval)
}

// StopPeriodicChecks transitions Running to Stopped. A no-op when already
// stopped.
func (m *Monitor) StopPeriodicChecks() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.running = false
	close(m.done)
	log.Printf("Health monitor stopped")
}

// Running reports the monitor state.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Monitor) loop(interval time.Duration, done chan struct{}) {
	m.PerformHealthCheck(context.Background())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			m.PerformHealthCheck(context.Background())
		}
	}
}

// PerformHealthCheck runs one full cycle. It never panics and never returns
// an error: a total failure yields a well-formed result with Healthy=false
// and a single critical alert.
func (m *Monitor) PerformHealthCheck(ctx context.Context) (result *CheckResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Health check panicked: %v", r)
			a := alert.New(alert.LevelCritical, fmt.Sprintf("health check failed: %v", r))
			m.dispatcher.Dispatch(a)
			result = &CheckResult{
				Healthy:         false,
				Checks:          map[string]Check{},
				Recommendations: []string{"Health check itself failed; investigate the supervisor process"},
				Alerts:          []alert.Alert{a},
				Timestamp:       time.Now(),
			}
			m.setLastResult(result)
		}
	}()

	result = &CheckResult{
		Healthy:         true,
		Checks:          make(map[string]Check, 4),
		Recommendations: []string{},
		Alerts:          []alert.Alert{},
		Timestamp:       time.Now(),
	}

	result.Checks["database"] = m.checkConnectivity(ctx, result)
	result.Checks["connection_pool"] = m.checkPool(ctx, result)
	result.Checks["leak_detection"] = m.checkLeaks(result)
	result.Checks["performance"] = m.checkPerformance(ctx, result)

	for _, check := range result.Checks {
		result.Healthy = result.Healthy && check.Healthy
	}

	for _, a := range result.Alerts {
		m.dispatcher.Dispatch(a)
	}

	if !result.Healthy {
		log.Printf("Health check degraded: %d alert(s), %d recommendation(s)",
			len(result.Alerts), len(result.Recommendations))
	}

	m.setLastResult(result)
	return result
}

// checkConnectivity issues a trivial round trip and measures its latency.
func (m *Monitor) checkConnectivity(ctx context.Context, result *CheckResult) Check {
	start := time.Now()
	err := m.client.Ping(ctx)
	latency := time.Since(start)

	check := Check{
		Healthy: true,
		Details: map[string]interface{}{"latency_ms": latency.Milliseconds()},
	}

	if err != nil {
		check.Healthy = false
		check.Message = fmt.Sprintf("connectivity probe failed: %v", err)
		result.Alerts = append(result.Alerts,
			alert.New(alert.LevelCritical, fmt.Sprintf("database unreachable: %v", err)))
		result.Recommendations = append(result.Recommendations,
			"Verify the database is running and the connection string is correct")
		return check
	}

	if latency > m.thresholds.LatencyWarning {
		check.Message = fmt.Sprintf("round-trip latency %s", latency.Round(time.Millisecond))
		result.Alerts = append(result.Alerts, alert.New(alert.LevelWarning, fmt.Sprintf(
			"database round-trip latency %s exceeds %s",
			latency.Round(time.Millisecond), m.thresholds.LatencyWarning)))
		result.Recommendations = append(result.Recommendations,
			"Investigate network latency or database load")
	}
	return check
}

// checkPool delegates to the supervisor's synchronous check.
func (m *Monitor) checkPool(ctx context.Context, result *CheckResult) Check {
	status := m.sup.HealthCheck(ctx)

	check := Check{
		Healthy: status.Healthy,
		Details: map[string]interface{}{
			"active_operations": status.Stats.ActiveOperations,
			"total_capacity":    status.Stats.TotalCapacity,
			"pending_acquires":  status.Stats.PendingAcquires,
		},
	}
	if len(status.Issues) > 0 {
		check.Message = status.Issues[0]
	}

	if status.Stats.TotalCapacity > 0 {
		usage := float64(status.Stats.ActiveOperations) / float64(status.Stats.TotalCapacity)
		check.Details["usage"] = usage
		if usage > m.thresholds.PoolUsageWarning {
			result.Alerts = append(result.Alerts, alert.New(alert.LevelWarning, fmt.Sprintf(
				"connection pool at %.0f%% capacity", usage*100)))
			result.Recommendations = append(result.Recommendations,
				"Consider raising the pool capacity or reducing operation concurrency")
		}
	}
	return check
}

// checkLeaks inspects the operation registry.
func (m *Monitor) checkLeaks(result *CheckResult) Check {
	stats := m.reg.LeakStats()

	check := Check{
		Healthy: true,
		Details: map[string]interface{}{
			"active_operations":         stats.ActiveOperations,
			"longest_running_operation": stats.LongestRunningOperation,
			"average_duration_ms":       stats.AverageDuration.Milliseconds(),
		},
	}

	switch {
	case stats.ActiveOperations >= m.thresholds.LeakUnhealthy:
		check.Healthy = false
		check.Message = fmt.Sprintf("%d operations in flight", stats.ActiveOperations)
		result.Alerts = append(result.Alerts, alert.New(alert.LevelError, fmt.Sprintf(
			"%d operations in flight, leak suspected (longest: %s)",
			stats.ActiveOperations, stats.LongestRunningOperation)))
		result.Recommendations = append(result.Recommendations,
			"Run the cleanup remediation hook and look for dropped completion paths")
	case stats.ActiveOperations > m.thresholds.LeakWarning:
		check.Message = fmt.Sprintf("%d operations in flight", stats.ActiveOperations)
		result.Alerts = append(result.Alerts, alert.New(alert.LevelWarning, fmt.Sprintf(
			"elevated operation count: %d in flight", stats.ActiveOperations)))
		result.Recommendations = append(result.Recommendations,
			"Watch the operation count; sustained growth suggests a leak")
	}
	return check
}

// checkPerformance queries backend session introspection and samples the
// host.
func (m *Monitor) checkPerformance(ctx context.Context, result *CheckResult) Check {
	check := Check{Healthy: true, Details: map[string]interface{}{}}

	stats, err := m.client.SessionStats(ctx, m.thresholds.SlowSessionAge, m.thresholds.LongTransactionAge)
	if err != nil {
		check.Healthy = false
		check.Message = fmt.Sprintf("session introspection failed: %v", err)
		result.Alerts = append(result.Alerts, alert.New(alert.LevelWarning, fmt.Sprintf(
			"could not read backend session stats: %v", err)))
	} else {
		check.Details["active_sessions"] = stats.Active
		check.Details["idle_sessions"] = stats.Idle
		check.Details["slow_sessions"] = stats.SlowSessions
		check.Details["long_transactions"] = stats.LongTransactions

		if stats.SlowSessions > m.thresholds.SlowSessionWarning {
			result.Alerts = append(result.Alerts, alert.New(alert.LevelWarning, fmt.Sprintf(
				"%d sessions running longer than %s", stats.SlowSessions, m.thresholds.SlowSessionAge)))
			result.Recommendations = append(result.Recommendations,
				"Inspect slow sessions; they may need query tuning or termination")
		}
		if stats.LongTransactions > m.thresholds.LongTransactionWarn {
			result.Alerts = append(result.Alerts, alert.New(alert.LevelWarning, fmt.Sprintf(
				"%d transactions open longer than %s", stats.LongTransactions, m.thresholds.LongTransactionAge)))
			result.Recommendations = append(result.Recommendations,
				"Long-open transactions hold locks and bloat vacuum; find and close them")
		}
	}

	host := system.Collect()
	check.Details["host"] = host.ToMap()
	if host.Overloaded(m.thresholds.HostLoadWarning, m.thresholds.HostLoadWarning) {
		result.Recommendations = append(result.Recommendations, fmt.Sprintf(
			"Host under pressure (cpu %.0f%%, memory %.0f%%); database latency may follow",
			host.CPUPercent, host.MemoryPercent))
	}

	return check
}

// LastResult returns the most recent report, or nil before the first cycle.
func (m *Monitor) LastResult() *CheckResult {
	m.resultMu.RLock()
	defer m.resultMu.RUnlock()
	return m.lastResult
}

func (m *Monitor) setLastResult(result *CheckResult) {
	m.resultMu.Lock()
	m.lastResult = result
	m.resultMu.Unlock()
}
