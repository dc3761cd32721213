package registry

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/opsconsole/dbsupervisor/internal/alert"
)

// staleMultiplier is applied to the leak threshold to decide when an entry is
// beyond saving and only worth pruning.
const staleMultiplier = 5

// LeakScanner periodically sweeps the registry. The per-operation timers are
// the authoritative leak reporters; the scanner catches operations whose
// timer delivery was delayed or missed (e.g. after process suspension) and
// garbage-collects entries older than five times the leak threshold. A leak
// report still fires at most once per operation id.
type LeakScanner struct {
	registry   *Registry
	dispatcher *alert.Dispatcher
	interval   time.Duration
	staleAfter time.Duration

	hooksMu sync.Mutex
	hooks   []func()

	mu      sync.Mutex
	running bool
	done    chan struct{}
}

func NewLeakScanner(reg *Registry, dispatcher *alert.Dispatcher, interval time.Duration) *LeakScanner {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &LeakScanner{
		registry:   reg,
		dispatcher: dispatcher,
		interval:   interval,
		staleAfter: reg.config.LeakThreshold * staleMultiplier,
	}
}

// OnPass registers a hook invoked at the end of every scan pass. The
// supervisor uses this to recompute pool statistics on the scan cadence.
func (s *LeakScanner) OnPass(fn func()) {
	if fn == nil {
		return
	}
	s.hooksMu.Lock()
	s.hooks = append(s.hooks, fn)
	s.hooksMu.Unlock()
}

// Start launches the background scan loop. Calling Start on a running
// scanner is a no-op.
func (s *LeakScanner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.done = make(chan struct{})

	go s.loop(s.done)
	log.Printf("Leak scanner started (interval %s, stale after %s)", s.interval, s.staleAfter)
}

// Stop terminates the scan loop. Safe to call when already stopped.
func (s *LeakScanner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.done)
	log.Printf("Leak scanner stopped")
}

func (s *LeakScanner) loop(done chan struct{}) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.Scan()
		}
	}
}

// Scan performs one pass: report leaks the timers missed, prune stale
// entries, then run the registered hooks. Exported so operators and tests
// can trigger a pass on demand.
func (s *LeakScanner) Scan() {
	now := time.Now()

	s.registry.mu.Lock()
	var missed []Operation
	var stale []*record
	for id, rec := range s.registry.operations {
		age := now.Sub(rec.StartedAt)
		if age > s.staleAfter {
			delete(s.registry.operations, id)
			stale = append(stale, rec)
			continue
		}
		if age > s.registry.config.LeakThreshold && !rec.reported {
			rec.reported = true
			missed = append(missed, rec.Operation)
		}
	}
	s.registry.mu.Unlock()

	for _, op := range missed {
		elapsed := now.Sub(op.StartedAt).Round(time.Millisecond)
		log.Printf("Leak scan caught missed report: %s (%s) active for %s", op.ID, op.Name, elapsed)
		if s.dispatcher != nil {
			s.dispatcher.Dispatch(alert.New(alert.LevelCritical, fmt.Sprintf(
				"operation leak: %s (%s) active for %s, registered at:\n%s",
				op.ID, op.Name, elapsed, op.OriginTrace)))
		}
	}

	for _, rec := range stale {
		if rec.leakTimer != nil {
			rec.leakTimer.Stop()
		}
		log.Printf("Pruned stale operation %s (%s), active for %s",
			rec.ID, rec.Name, now.Sub(rec.StartedAt).Round(time.Millisecond))
	}

	s.hooksMu.Lock()
	hooks := make([]func(), len(s.hooks))
	copy(hooks, s.hooks)
	s.hooksMu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}
