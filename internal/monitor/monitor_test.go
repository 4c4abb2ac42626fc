package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/foxzi/discador/internal/dialer"
)

type mockBackend struct {
	resp *dialer.CallsResponse
	err  error
}

func (m *mockBackend) ActiveCalls(ctx context.Context) (*dialer.CallsResponse, error) {
	return m.resp, m.err
}

type memStore struct {
	saved []Snapshot
}

func (s *memStore) SaveCalls(snap Snapshot) error {
	s.saved = append(s.saved, snap)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRefreshBuildsSnapshot(t *testing.T) {
	b := &mockBackend{resp: &dialer.CallsResponse{Calls: []dialer.ActiveCall{
		{ID: "1", CampaignID: "7", Number: "555", State: "ringing"},
		{ID: "2", CampaignID: "7", Number: "556", State: "answered"},
		{ID: "3", CampaignID: "2", Number: "557", State: "answered"},
	}}}
	store := &memStore{}
	m := New(b, store, discardLogger())

	if !m.Snapshot().Stale {
		t.Error("snapshot before first poll should be stale")
	}

	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	snap := m.Snapshot()
	if snap.Stale || snap.Total != 3 || len(snap.Calls) != 3 {
		t.Fatalf("Snapshot() = %+v", snap)
	}
	if len(snap.Campaigns) != 2 || snap.Campaigns[0].CampaignID != "2" {
		t.Fatalf("Campaigns = %+v", snap.Campaigns)
	}
	c7 := snap.Campaigns[1]
	if c7.Total != 2 || c7.ByState["ringing"] != 1 || c7.ByState["answered"] != 1 {
		t.Errorf("campaign 7 counts = %+v", c7)
	}
	if len(m.CampaignCalls("7")) != 2 {
		t.Errorf("CampaignCalls(7) = %v", m.CampaignCalls("7"))
	}
	if len(store.saved) != 1 {
		t.Errorf("saved snapshots = %d, want 1", len(store.saved))
	}
}

func TestRefreshFailureKeepsCallsMarksStale(t *testing.T) {
	b := &mockBackend{resp: &dialer.CallsResponse{Calls: []dialer.ActiveCall{{ID: "1", CampaignID: "7"}}}}
	m := New(b, nil, discardLogger())
	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	b.err = errors.New("connection refused")
	if err := m.Refresh(context.Background()); err == nil {
		t.Fatal("Refresh() should fail")
	}

	snap := m.Snapshot()
	if !snap.Stale || snap.LastError == "" || len(snap.Calls) != 1 {
		t.Errorf("Snapshot() after failure = %+v", snap)
	}
}

func TestTask(t *testing.T) {
	m := New(&mockBackend{resp: &dialer.CallsResponse{}}, nil, discardLogger())
	task := m.Task(3 * time.Second)
	if task.Name != TaskName || task.Interval != 3*time.Second || !task.RunAtStart {
		t.Errorf("Task() = %+v", task)
	}
	if err := task.Run(context.Background()); err != nil {
		t.Errorf("task.Run() error = %v", err)
	}
}
