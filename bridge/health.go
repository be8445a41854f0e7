package bridge

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

const defaultHealthPingTimeout = 10 * time.Second

// Pinger is the probe surface a health checker monitors. Sessions satisfy
// it; tests substitute fakes.
type Pinger interface {
	Source() string
	Ping(ctx context.Context) error
}

// HealthStatus is the last observed probe result for one target.
type HealthStatus struct {
	Source    string
	Healthy   bool
	Error     string
	CheckedAt time.Time
}

// HealthCheckerConfig configures the background connection prober.
type HealthCheckerConfig struct {
	// Schedule is a five-field cron expression evaluated in UTC.
	Schedule    string
	Targets     []Pinger
	PingTimeout time.Duration
	Now         func() time.Time
	Logger      *slog.Logger
}

// HealthChecker probes MCP connections on a cron schedule and keeps the last
// result per target.
type HealthChecker struct {
	schedule    string
	targets     []Pinger
	pingTimeout time.Duration
	now         func() time.Time
	logger      *slog.Logger

	mu     sync.Mutex
	status map[string]HealthStatus
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHealthChecker creates a health checker instance. The schedule is parsed
// eagerly so a bad expression fails at setup.
func NewHealthChecker(cfg HealthCheckerConfig) (*HealthChecker, error) {
	if _, err := parseCronExpressionUTC(cfg.Schedule); err != nil {
		return nil, err
	}
	if len(cfg.Targets) == 0 {
		return nil, errors.New("health checker needs at least one target")
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = defaultHealthPingTimeout
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &HealthChecker{
		schedule:    cfg.Schedule,
		targets:     cfg.Targets,
		pingTimeout: cfg.PingTimeout,
		now:         cfg.Now,
		logger:      cfg.Logger,
		status:      map[string]HealthStatus{},
	}, nil
}

// Start starts background probing. Calling Start on a running checker is a
// no-op.
func (h *HealthChecker) Start() error {
	if h == nil {
		return errors.New("health checker is nil")
	}

	h.mu.Lock()
	if h.cancel != nil {
		h.mu.Unlock()
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	h.cancel = cancel
	h.done = done
	h.mu.Unlock()

	go func() {
		defer close(done)
		for {
			next, err := nextCronRunUTC(h.schedule, h.now())
			if err != nil {
				return
			}
			wait := time.Until(next)
			if wait < 0 {
				wait = 0
			}
			timer := time.NewTimer(wait)
			select {
			case <-loopCtx.Done():
				timer.Stop()
				return
			case <-timer.C:
				h.RunOnce(loopCtx)
			}
		}
	}()
	return nil
}

// Stop stops background probing and waits for the loop to exit.
func (h *HealthChecker) Stop(ctx context.Context) error {
	if h == nil {
		return nil
	}

	h.mu.Lock()
	cancel := h.cancel
	done := h.done
	h.cancel = nil
	h.done = nil
	h.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce probes every target a single time.
func (h *HealthChecker) RunOnce(ctx context.Context) {
	for _, target := range h.targets {
		pingCtx, cancel := context.WithTimeout(ctx, h.pingTimeout)
		err := target.Ping(pingCtx)
		cancel()

		status := HealthStatus{
			Source:    target.Source(),
			Healthy:   err == nil,
			CheckedAt: h.now(),
		}
		if err != nil {
			status.Error = err.Error()
			h.logger.Warn("mcp connection unhealthy", "source", status.Source, "error", status.Error)
		}

		h.mu.Lock()
		h.status[status.Source] = status
		h.mu.Unlock()
	}
}

// Status returns the last result for a target by source.
func (h *HealthChecker) Status(source string) (HealthStatus, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	status, ok := h.status[source]
	return status, ok
}

// Statuses returns the last result for every probed target.
func (h *HealthChecker) Statuses() []HealthStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	all := make([]HealthStatus, 0, len(h.status))
	for _, status := range h.status {
		all = append(all, status)
	}
	return all
}
