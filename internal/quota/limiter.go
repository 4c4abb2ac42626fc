// Package quota limits how many mutating console actions an operator can
// perform per hour and per day. Counters survive restarts in bbolt.
package quota

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/discador/internal/metrics"
)

var bucketQuota = []byte("operator_quota")

// Window identifies which limit denied an action
type Window string

const (
	WindowHour Window = "hour"
	WindowDay  Window = "day"
)

// Scope identifies whose counter denied an action
type Scope string

const (
	ScopeGlobal   Scope = "global"
	ScopeOperator Scope = "operator"
)

// Limits are the allowed actions per window; 0 disables a window
type Limits struct {
	PerHour int `yaml:"per_hour" json:"per_hour"`
	PerDay  int `yaml:"per_day" json:"per_day"`
}

func (l Limits) enabled() bool {
	return l.PerHour > 0 || l.PerDay > 0
}

// Config contains quota configuration
type Config struct {
	// Global caps all operators together
	Global Limits
	// Operator is the default cap for each operator
	Operator Limits
	// Overrides replace Operator for specific operators
	Overrides map[string]Limits
	// FlushInterval is how often counters are written to disk
	FlushInterval time.Duration
}

// Counter tracks the windows of one key
type Counter struct {
	HourlyCount int       `json:"hourly_count"`
	DailyCount  int       `json:"daily_count"`
	HourStart   time.Time `json:"hour_start"`
	DayStart    time.Time `json:"day_start"`
}

// Result is the outcome of Allow
type Result struct {
	Allowed    bool
	Scope      Scope
	Window     Window
	RetryAfter time.Duration
}

// Usage reports the counters of an operator
type Usage struct {
	Operator    string `json:"operator"`
	HourlyCount int    `json:"hourly_count"`
	DailyCount  int    `json:"daily_count"`
	Limits      Limits `json:"limits"`
}

// Limiter enforces operator quotas
type Limiter struct {
	db       *bolt.DB
	config   Config
	counters map[string]*Counter
	mu       sync.Mutex
	now      func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewLimiter creates a limiter storing counters in db
func NewLimiter(db *bolt.DB, cfg Config) (*Limiter, error) {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 10 * time.Second
	}

	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketQuota)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create quota bucket: %w", err)
	}

	l := &Limiter{
		db:       db,
		config:   cfg,
		counters: make(map[string]*Counter),
		now:      time.Now,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}

	if err := l.loadCounters(); err != nil {
		return nil, fmt.Errorf("failed to load counters: %w", err)
	}

	go l.persistLoop()

	return l, nil
}

type check struct {
	scope  Scope
	key    string
	limits Limits
}

func (l *Limiter) checks(operator string) []check {
	var out []check
	if l.config.Global.enabled() {
		out = append(out, check{scope: ScopeGlobal, key: "global", limits: l.config.Global})
	}
	if lim := l.operatorLimits(operator); lim.enabled() {
		out = append(out, check{scope: ScopeOperator, key: "operator:" + operator, limits: lim})
	}
	return out
}

func (l *Limiter) operatorLimits(operator string) Limits {
	if lim, ok := l.config.Overrides[operator]; ok {
		return lim
	}
	return l.config.Operator
}

// Allow consumes one action for operator if every applicable window allows it
func (l *Limiter) Allow(operator string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	checks := l.checks(operator)

	for _, c := range checks {
		counter := l.counter(c.key, now)
		reset(counter, now)

		if c.limits.PerHour > 0 && counter.HourlyCount >= c.limits.PerHour {
			metrics.IncQuotaExceeded(string(WindowHour))
			return Result{Scope: c.scope, Window: WindowHour, RetryAfter: counter.HourStart.Add(time.Hour).Sub(now)}
		}
		if c.limits.PerDay > 0 && counter.DailyCount >= c.limits.PerDay {
			metrics.IncQuotaExceeded(string(WindowDay))
			return Result{Scope: c.scope, Window: WindowDay, RetryAfter: counter.DayStart.Add(24 * time.Hour).Sub(now)}
		}
	}

	for _, c := range checks {
		counter := l.counters[c.key]
		counter.HourlyCount++
		counter.DailyCount++
	}

	return Result{Allowed: true}
}

// Usage returns the current counters of operator
func (l *Limiter) Usage(operator string) Usage {
	l.mu.Lock()
	defer l.mu.Unlock()

	u := Usage{Operator: operator, Limits: l.operatorLimits(operator)}
	counter, ok := l.counters["operator:"+operator]
	if !ok {
		return u
	}

	now := l.now()
	if now.Sub(counter.HourStart) < time.Hour {
		u.HourlyCount = counter.HourlyCount
	}
	if now.Sub(counter.DayStart) < 24*time.Hour {
		u.DailyCount = counter.DailyCount
	}
	return u
}

// Stop stops the flush loop and writes the counters
func (l *Limiter) Stop() error {
	l.stopOnce.Do(func() {
		close(l.stopCh)
		<-l.done
	})
	return l.persistCounters()
}

func (l *Limiter) counter(key string, now time.Time) *Counter {
	c, ok := l.counters[key]
	if !ok {
		c = &Counter{HourStart: now, DayStart: now}
		l.counters[key] = c
	}
	return c
}

func reset(c *Counter, now time.Time) {
	if now.Sub(c.HourStart) >= time.Hour {
		c.HourlyCount = 0
		c.HourStart = now
	}
	if now.Sub(c.DayStart) >= 24*time.Hour {
		c.DailyCount = 0
		c.DayStart = now
	}
}

func (l *Limiter) loadCounters() error {
	return l.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketQuota)
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			var c Counter
			if err := json.Unmarshal(v, &c); err != nil {
				return nil // Skip invalid entries
			}
			l.counters[string(k)] = &c
			return nil
		})
	})
}

func (l *Limiter) persistCounters() error {
	l.mu.Lock()
	data := make(map[string][]byte, len(l.counters))
	for key, c := range l.counters {
		b, err := json.Marshal(c)
		if err != nil {
			continue
		}
		data[key] = b
	}
	l.mu.Unlock()

	return l.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketQuota)
		for key, b := range data {
			if err := bucket.Put([]byte(key), b); err != nil {
				return err
			}
		}
		return nil
	})
}

func (l *Limiter) persistLoop() {
	defer close(l.done)

	ticker := time.NewTicker(l.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.persistCounters()
		}
	}
}
