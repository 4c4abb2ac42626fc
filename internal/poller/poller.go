// Package poller runs every periodic backend refresh from one place, with
// jittered intervals and exponential back-off under sustained failure.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/foxzi/discador/internal/metrics"
)

// Defaults
const (
	DefaultJitter     = 0.2
	DefaultMaxBackoff = 5 * time.Minute
	DefaultTimeout    = 30 * time.Second
)

// ErrDuplicateTask is returned when a task name is registered twice
var ErrDuplicateTask = errors.New("task already registered")

// ErrStarted is returned when registering after Start
var ErrStarted = errors.New("coordinator already started")

// Task is a periodic refresh
type Task struct {
	Name     string
	Interval time.Duration
	// Jitter is the ± fraction applied to every wait. 0 means DefaultJitter,
	// a negative value disables jitter.
	Jitter float64
	// MaxBackoff caps the wait after consecutive failures
	MaxBackoff time.Duration
	// Timeout bounds a single run
	Timeout time.Duration
	// RunAtStart runs the task once immediately on Start
	RunAtStart bool
	Run        func(ctx context.Context) error
}

// TaskStatus reports the health of a task
type TaskStatus struct {
	Name         string        `json:"name"`
	Interval     time.Duration `json:"interval"`
	LastRun      time.Time     `json:"last_run"`
	LastSuccess  time.Time     `json:"last_success"`
	LastError    string        `json:"last_error,omitempty"`
	Failures     int           `json:"consecutive_failures"`
	Runs         int64         `json:"runs"`
	NextRun      time.Time     `json:"next_run"`
	CurrentDelay time.Duration `json:"current_delay"`
}

type taskState struct {
	task   Task
	status TaskStatus
}

// Coordinator owns every registered task
type Coordinator struct {
	tasks   map[string]*taskState
	mu      sync.RWMutex
	logger  *slog.Logger
	rand    func() float64
	started bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a coordinator
func New(logger *slog.Logger) *Coordinator {
	return &Coordinator{
		tasks:  make(map[string]*taskState),
		logger: logger.With("component", "poller"),
		rand:   rand.Float64,
		stopCh: make(chan struct{}),
	}
}

// Register adds a task. Tasks must be registered before Start.
func (c *Coordinator) Register(t Task) error {
	if t.Name == "" {
		return fmt.Errorf("task name is required")
	}
	if t.Interval <= 0 {
		return fmt.Errorf("task %s: interval must be positive", t.Name)
	}
	if t.Run == nil {
		return fmt.Errorf("task %s: run function is required", t.Name)
	}
	switch {
	case t.Jitter == 0:
		t.Jitter = DefaultJitter
	case t.Jitter < 0:
		t.Jitter = 0
	case t.Jitter > 1:
		t.Jitter = 1
	}
	if t.MaxBackoff < t.Interval {
		t.MaxBackoff = max(DefaultMaxBackoff, t.Interval)
	}
	if t.Timeout <= 0 {
		t.Timeout = DefaultTimeout
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return ErrStarted
	}
	if _, ok := c.tasks[t.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, t.Name)
	}
	c.tasks[t.Name] = &taskState{
		task:   t,
		status: TaskStatus{Name: t.Name, Interval: t.Interval},
	}
	return nil
}

// Start launches one loop per task
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	states := make([]*taskState, 0, len(c.tasks))
	for _, st := range c.tasks {
		states = append(states, st)
	}
	c.mu.Unlock()

	c.logger.Info("starting poller", "tasks", len(states))
	for _, st := range states {
		c.wg.Add(1)
		go c.loop(ctx, st)
	}
}

// Stop stops every task loop and waits for running tasks to return
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		c.logger.Info("stopping poller")
		close(c.stopCh)
	})
	c.wg.Wait()
}

// Status returns the state of every task sorted by name
func (c *Coordinator) Status() []TaskStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]TaskStatus, 0, len(c.tasks))
	for _, st := range c.tasks {
		out = append(out, st.status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (c *Coordinator) loop(ctx context.Context, st *taskState) {
	defer c.wg.Done()

	t := st.task
	logger := c.logger.With("task", t.Name)

	delay := c.nextDelay(t, 0)
	if t.RunAtStart {
		delay = 0
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	c.setNext(st, delay)

	for {
		select {
		case <-ctx.Done():
			logger.Debug("task stopped by context")
			return
		case <-c.stopCh:
			logger.Debug("task stopped by signal")
			return
		case <-timer.C:
		}

		failures := c.runOnce(ctx, st, logger)
		delay = c.nextDelay(t, failures)
		c.setNext(st, delay)
		timer.Reset(delay)
	}
}

func (c *Coordinator) runOnce(ctx context.Context, st *taskState, logger *slog.Logger) int {
	t := st.task

	runCtx, cancel := context.WithTimeout(ctx, t.Timeout)
	err := t.Run(runCtx)
	cancel()

	metrics.ObservePollerRun(t.Name, err)

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	st.status.LastRun = now
	st.status.Runs++
	if err != nil {
		st.status.Failures++
		st.status.LastError = err.Error()
		logger.Warn("poll failed", "error", err, "consecutive_failures", st.status.Failures)
	} else {
		if st.status.Failures > 0 {
			logger.Info("poll recovered", "after_failures", st.status.Failures)
		}
		st.status.Failures = 0
		st.status.LastError = ""
		st.status.LastSuccess = now
	}
	return st.status.Failures
}

func (c *Coordinator) setNext(st *taskState, delay time.Duration) {
	c.mu.Lock()
	st.status.NextRun = time.Now().Add(delay)
	st.status.CurrentDelay = delay
	c.mu.Unlock()
}

// nextDelay doubles the interval per consecutive failure up to MaxBackoff
// and applies ±Jitter.
func (c *Coordinator) nextDelay(t Task, failures int) time.Duration {
	return Backoff(t.Interval, t.MaxBackoff, failures, t.Jitter, c.rand())
}

// Backoff computes interval*2^failures capped at maxBackoff, scaled by a
// jitter factor in [1-jitter, 1+jitter] picked by r in [0,1).
func Backoff(interval, maxBackoff time.Duration, failures int, jitter, r float64) time.Duration {
	d := interval
	for i := 0; i < failures && d < maxBackoff; i++ {
		d *= 2
	}
	if d > maxBackoff {
		d = maxBackoff
	}

	factor := 1 + jitter*(2*r-1)
	return time.Duration(float64(d) * factor)
}
