// Package supervisor provides a restart-on-failure supervision tree for the
// daemon's long-running services (the capture pipeline, the health-resource
// monitor, the update checker).
//
// It wraps github.com/thejerf/suture/v4: suture owns the actual goroutine
// lifecycle (start, stop, restart-on-error) while this package adds the
// exponential restart backoff and the ServiceStatus reporting the menu/CLI
// needs (name, state, uptime, restart count, last error).
//
// Example:
//
//	sup := supervisor.New(supervisor.Config{
//	    ShutdownTimeout: 10 * time.Second,
//	})
//
//	sup.Add(captureService)
//	sup.Add(healthMonitorService)
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	if err := sup.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/thejerf/suture/v4"
)

// Service is the interface that supervised services must implement.
// Implementations should block until the context is cancelled or an error occurs.
type Service interface {
	// Run starts the service. It should block until ctx is cancelled or
	// the service encounters an unrecoverable error.
	Run(ctx context.Context) error

	// Name returns the service's identifier.
	Name() string
}

// ServiceState represents the current state of a supervised service.
type ServiceState int

const (
	ServiceStateIdle     ServiceState = iota // Not started
	ServiceStateRunning                      // Running normally
	ServiceStateStopping                     // Being stopped
	ServiceStateFailed                       // Failed, may restart
	ServiceStateStopped                      // Stopped, terminal
)

func (s ServiceState) String() string {
	switch s {
	case ServiceStateIdle:
		return "idle"
	case ServiceStateRunning:
		return "running"
	case ServiceStateStopping:
		return "stopping"
	case ServiceStateFailed:
		return "failed"
	case ServiceStateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// ServiceStatus contains status information about a supervised service.
type ServiceStatus struct {
	Name      string
	State     ServiceState
	StartTime time.Time
	Uptime    time.Duration
	Restarts  int
	LastError error
}

// Config contains supervisor configuration.
type Config struct {
	// Name identifies this supervisor in suture's own event/log output.
	Name string

	// ShutdownTimeout is the maximum time to wait for services to stop gracefully.
	// Default: 10 seconds.
	ShutdownTimeout time.Duration

	// RestartDelay is the delay before the first restart of a failed
	// service. Default: 1 second.
	RestartDelay time.Duration

	// MaxRestartDelay caps the exponential backoff applied to repeated
	// restarts. Default: 5 minutes.
	MaxRestartDelay time.Duration

	// RestartMultiplier scales RestartDelay after each consecutive
	// failure. Default: 2.0.
	RestartMultiplier float64

	// Logger is optional; if set, supervisor and restart events are logged here.
	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ShutdownTimeout:   10 * time.Second,
		RestartDelay:      1 * time.Second,
		MaxRestartDelay:   5 * time.Minute,
		RestartMultiplier: 2.0,
	}
}

// Supervisor manages a collection of services atop a suture.Supervisor,
// restarting them on failure with the backoff described in Config.
type Supervisor struct {
	cfg    Config
	suture *suture.Supervisor

	mu      sync.RWMutex
	entries map[string]*serviceEntry
	tokens  map[string]suture.ServiceToken
	running bool
}

// serviceEntry tracks a single service's reporting state. The restart
// backoff fields (restarts, nextDelay) are read and written only from the
// service's own suture goroutine except where guarded by mu.
type serviceEntry struct {
	mu        sync.Mutex
	service   Service
	state     ServiceState
	startTime time.Time
	restarts  int
	nextDelay time.Duration
	lastError error
}

// New creates a new Supervisor with the given configuration.
func New(cfg Config) *Supervisor {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = 1 * time.Second
	}
	if cfg.MaxRestartDelay <= 0 {
		cfg.MaxRestartDelay = 5 * time.Minute
	}
	if cfg.RestartMultiplier <= 0 {
		cfg.RestartMultiplier = 2.0
	}
	name := cfg.Name
	if name == "" {
		name = "zureshot"
	}

	logger := cfg.Logger
	spec := suture.Spec{
		Log: func(note string) {
			if logger != nil {
				logger.Warn(note)
			}
		},
		// A restarting service is our business, not suture's: we apply our
		// own backoff in supervisedService.Serve, so suture should retry
		// freely rather than giving up on a service after a handful of
		// failures in its own decay window.
		FailureThreshold: 1e9,
		Timeout:          cfg.ShutdownTimeout,
	}

	return &Supervisor{
		cfg:     cfg,
		suture:  suture.New(name, spec),
		entries: make(map[string]*serviceEntry),
		tokens:  make(map[string]suture.ServiceToken),
	}
}

// Add registers a service with the supervisor.
// If the supervisor is already running, the service is started immediately.
// Returns an error if a service with the same name already exists.
func (s *Supervisor) Add(svc Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := svc.Name()
	if _, exists := s.entries[name]; exists {
		return fmt.Errorf("service %q already registered", name)
	}

	entry := &serviceEntry{service: svc, state: ServiceStateIdle}
	s.entries[name] = entry

	token := s.suture.Add(&supervisedService{entry: entry, cfg: s.cfg})
	s.tokens[name] = token

	return nil
}

// Remove unregisters and stops a service.
// Blocks until the service has stopped (up to ShutdownTimeout).
func (s *Supervisor) Remove(name string) error {
	s.mu.Lock()
	entry, exists := s.entries[name]
	if !exists {
		s.mu.Unlock()
		return fmt.Errorf("service %q not found", name)
	}
	token := s.tokens[name]
	delete(s.entries, name)
	delete(s.tokens, name)
	s.mu.Unlock()

	entry.mu.Lock()
	entry.state = ServiceStateStopping
	entry.mu.Unlock()

	return s.suture.RemoveAndWait(token, s.cfg.ShutdownTimeout)
}

// Status returns the current status of all services.
func (s *Supervisor) Status() []ServiceStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]ServiceStatus, 0, len(s.entries))
	now := time.Now()

	for name, entry := range s.entries {
		entry.mu.Lock()
		var uptime time.Duration
		if !entry.startTime.IsZero() && entry.state == ServiceStateRunning {
			uptime = now.Sub(entry.startTime)
		}
		result = append(result, ServiceStatus{
			Name:      name,
			State:     entry.state,
			StartTime: entry.startTime,
			Uptime:    uptime,
			Restarts:  entry.restarts,
			LastError: entry.lastError,
		})
		entry.mu.Unlock()
	}

	return result
}

// ServiceCount returns the number of registered services.
func (s *Supervisor) ServiceCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Run starts all registered services and blocks until ctx is cancelled.
// When ctx is cancelled, all services are stopped gracefully.
func (s *Supervisor) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("supervisor already running")
	}
	s.running = true
	s.mu.Unlock()

	err := s.suture.Serve(ctx)

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// supervisedService adapts a Service to suture's Service interface
// (Serve(ctx) error), applying the configured restart backoff before each
// restart and keeping serviceEntry's reporting fields current.
type supervisedService struct {
	entry *serviceEntry
	cfg   Config
}

func (w *supervisedService) Serve(ctx context.Context) error {
	entry := w.entry

	entry.mu.Lock()
	attempt := entry.restarts
	delay := entry.nextDelay
	entry.mu.Unlock()

	if attempt > 0 {
		if delay <= 0 {
			delay = w.cfg.RestartDelay
		}
		select {
		case <-ctx.Done():
			entry.mu.Lock()
			entry.state = ServiceStateStopped
			entry.mu.Unlock()
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	entry.mu.Lock()
	entry.state = ServiceStateRunning
	entry.startTime = time.Now()
	entry.mu.Unlock()

	runErr := entry.service.Run(ctx)

	if ctx.Err() != nil {
		entry.mu.Lock()
		entry.state = ServiceStateStopped
		entry.mu.Unlock()
		return ctx.Err()
	}

	entry.mu.Lock()
	entry.state = ServiceStateFailed
	entry.lastError = runErr
	entry.restarts++
	next := delay
	if next <= 0 {
		next = w.cfg.RestartDelay
	} else {
		next = time.Duration(float64(next) * w.cfg.RestartMultiplier)
	}
	if next > w.cfg.MaxRestartDelay {
		next = w.cfg.MaxRestartDelay
	}
	entry.nextDelay = next
	name := entry.service.Name()
	restarts := entry.restarts
	entry.mu.Unlock()

	if w.cfg.Logger != nil {
		w.cfg.Logger.Warn("service failed, restarting",
			"service", name, "restarts", restarts, "err", runErr)
	}

	if runErr == nil {
		runErr = errors.New("service exited")
	}
	return runErr
}
