// Package monitor keeps the latest view of calls in progress
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/foxzi/discador/internal/dialer"
	"github.com/foxzi/discador/internal/metrics"
	"github.com/foxzi/discador/internal/poller"
)

// TaskName is the poller task that refreshes the call view
const TaskName = "active_calls"

// Backend is the part of the dialer client the monitor needs
type Backend interface {
	ActiveCalls(ctx context.Context) (*dialer.CallsResponse, error)
}

// Call is an active call
type Call struct {
	ID              string    `json:"id"`
	CampaignID      string    `json:"campaign_id"`
	Number          string    `json:"number"`
	State           string    `json:"state"`
	Trunk           string    `json:"trunk,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	DurationSeconds int       `json:"duration_seconds"`
}

// CampaignCount is the number of calls per campaign and state
type CampaignCount struct {
	CampaignID string         `json:"campaign_id"`
	Total      int            `json:"total"`
	ByState    map[string]int `json:"by_state"`
}

// Snapshot is the call view at a point in time
type Snapshot struct {
	Calls     []Call          `json:"calls"`
	Total     int             `json:"total"`
	Campaigns []CampaignCount `json:"campaigns"`
	FetchedAt time.Time       `json:"fetched_at"`
	Stale     bool            `json:"stale"`
	LastError string          `json:"last_error,omitempty"`
}

// Store persists snapshots for offline fallback
type Store interface {
	SaveCalls(s Snapshot) error
}

// Monitor polls the backend for active calls
type Monitor struct {
	backend Backend
	store   Store
	logger  *slog.Logger

	mu      sync.RWMutex
	current Snapshot
}

// New creates a monitor. store may be nil.
func New(backend Backend, store Store, logger *slog.Logger) *Monitor {
	return &Monitor{
		backend: backend,
		store:   store,
		logger:  logger.With("component", "monitor"),
		current: Snapshot{Stale: true},
	}
}

// Task returns the poller task that keeps the snapshot fresh
func (m *Monitor) Task(interval time.Duration) poller.Task {
	return poller.Task{
		Name:       TaskName,
		Interval:   interval,
		RunAtStart: true,
		Run:        m.Refresh,
	}
}

// Refresh fetches the active calls and replaces the snapshot. On failure
// the previous calls are kept and marked stale.
func (m *Monitor) Refresh(ctx context.Context) error {
	resp, err := m.backend.ActiveCalls(ctx)
	if err != nil {
		m.mu.Lock()
		m.current.Stale = true
		m.current.LastError = err.Error()
		m.mu.Unlock()
		return fmt.Errorf("active calls: %w", err)
	}

	snap := build(resp, time.Now())
	metrics.SetActiveCalls(snap.Total)

	m.mu.Lock()
	m.current = snap
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.SaveCalls(snap); err != nil {
			m.logger.Warn("failed to persist call snapshot", "error", err)
		}
	}
	return nil
}

// Snapshot returns a copy of the latest view
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := m.current
	s.Calls = append([]Call(nil), m.current.Calls...)
	s.Campaigns = append([]CampaignCount(nil), m.current.Campaigns...)
	return s
}

// CampaignCalls returns the calls of a single campaign
func (m *Monitor) CampaignCalls(campaignID string) []Call {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Call
	for _, c := range m.current.Calls {
		if c.CampaignID == campaignID {
			out = append(out, c)
		}
	}
	return out
}

func build(resp *dialer.CallsResponse, now time.Time) Snapshot {
	calls := make([]Call, 0, len(resp.Calls))
	counts := make(map[string]*CampaignCount)

	for _, c := range resp.Calls {
		call := Call{
			ID:              string(c.ID),
			CampaignID:      string(c.CampaignID),
			Number:          c.Number,
			State:           c.State,
			Trunk:           c.Trunk,
			StartedAt:       c.StartedAt.Time,
			DurationSeconds: int(c.DurationSeconds),
		}
		calls = append(calls, call)

		cc, ok := counts[call.CampaignID]
		if !ok {
			cc = &CampaignCount{CampaignID: call.CampaignID, ByState: make(map[string]int)}
			counts[call.CampaignID] = cc
		}
		cc.Total++
		cc.ByState[call.State]++
	}

	campaigns := make([]CampaignCount, 0, len(counts))
	for _, cc := range counts {
		campaigns = append(campaigns, *cc)
	}
	sort.Slice(campaigns, func(i, j int) bool { return campaigns[i].CampaignID < campaigns[j].CampaignID })

	total := resp.Total
	if total < len(calls) {
		total = len(calls)
	}

	return Snapshot{
		Calls:     calls,
		Total:     total,
		Campaigns: campaigns,
		FetchedAt: now,
	}
}
