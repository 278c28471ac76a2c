package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Report is the aggregate health of the service.
type Report struct {
	Status     CheckStatus            `json:"status"`
	Ready      bool                   `json:"ready"`
	Components map[string]CheckResult `json:"components"`
	Timestamp  time.Time              `json:"timestamp"`
}

// Manager runs registered checkers.
type Manager struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	timeout  time.Duration
	logger   *zap.Logger
}

// NewManager creates a manager with a per-check timeout.
func NewManager(timeout time.Duration, logger *zap.Logger) *Manager {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{checkers: make(map[string]Checker), timeout: timeout, logger: logger}
}

// Register adds a checker. Names must be unique.
func (m *Manager) Register(c Checker) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.checkers[c.Name()]; dup {
		return fmt.Errorf("health checker %q already registered", c.Name())
	}
	m.checkers[c.Name()] = c
	m.logger.Info("Health checker registered", zap.String("name", c.Name()), zap.Bool("critical", c.IsCritical()))
	return nil
}

// Names lists registered checkers.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.checkers))
	for n := range m.checkers {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Check runs every checker concurrently. A failing critical check makes the
// service unhealthy and unready; anything else short of healthy degrades it.
func (m *Manager) Check(ctx context.Context) Report {
	m.mu.RLock()
	checkers := make([]Checker, 0, len(m.checkers))
	for _, c := range m.checkers {
		checkers = append(checkers, c)
	}
	m.mu.RUnlock()

	results := make([]CheckResult, len(checkers))
	var wg sync.WaitGroup
	for i, c := range checkers {
		wg.Add(1)
		go func(i int, c Checker) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, m.timeout)
			defer cancel()
			results[i] = c.Check(cctx)
		}(i, c)
	}
	wg.Wait()

	rep := Report{Status: StatusHealthy, Ready: true, Components: make(map[string]CheckResult, len(results)), Timestamp: time.Now()}
	for _, r := range results {
		rep.Components[r.Component] = r
		switch {
		case r.Status == StatusUnhealthy && r.Critical:
			rep.Status = StatusUnhealthy
			rep.Ready = false
		case r.Status != StatusHealthy && rep.Status == StatusHealthy:
			rep.Status = StatusDegraded
		}
		if r.Status == StatusUnhealthy {
			m.logger.Warn("Health check failed",
				zap.String("component", r.Component),
				zap.Bool("critical", r.Critical),
				zap.String("error", r.Error),
			)
		}
	}
	return rep
}
