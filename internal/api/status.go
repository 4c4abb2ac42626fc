package api

import (
	"net/http"
	"time"

	"github.com/foxzi/discador/internal/campaignsync"
	"github.com/foxzi/discador/internal/monitor"
	"github.com/foxzi/discador/internal/poller"
)

// PollerResponse is the response for GET /poller
type PollerResponse struct {
	Tasks []poller.TaskStatus `json:"tasks"`
}

// DebugResponse is the response for GET /debug/sync
type DebugResponse struct {
	Sync   campaignsync.DebugState `json:"sync"`
	Uptime string                  `json:"uptime"`
}

// handleMonitorCalls handles GET /api/v1/monitor/calls. Until the first
// successful poll the persisted snapshot from a previous run is served.
func (s *Server) handleMonitorCalls(w http.ResponseWriter, r *http.Request) {
	snap := s.svc.Monitor.Snapshot()
	if snap.FetchedAt.IsZero() && s.svc.Snapshots != nil {
		if saved, err := s.svc.Snapshots.LoadCalls(); err == nil {
			if snap.LastError != "" {
				saved.LastError = snap.LastError
			}
			snap = saved
		}
	}

	if campaignID := r.URL.Query().Get("campaign_id"); campaignID != "" {
		calls := make([]monitor.Call, 0)
		for _, c := range snap.Calls {
			if c.CampaignID == campaignID {
				calls = append(calls, c)
			}
		}
		snap.Calls = calls
		snap.Total = len(calls)
	}
	if snap.Calls == nil {
		snap.Calls = []monitor.Call{}
	}

	s.sendJSON(w, http.StatusOK, snap)
}

// handlePollerStatus handles GET /api/v1/poller
func (s *Server) handlePollerStatus(w http.ResponseWriter, r *http.Request) {
	resp := PollerResponse{Tasks: []poller.TaskStatus{}}
	if s.svc.Poller != nil {
		resp.Tasks = s.svc.Poller.Status()
	}
	s.sendJSON(w, http.StatusOK, resp)
}

// handleQuotaUsage handles GET /api/v1/quota
func (s *Server) handleQuotaUsage(w http.ResponseWriter, r *http.Request) {
	if s.svc.Quota == nil {
		s.sendError(w, http.StatusNotFound, "quotas are disabled")
		return
	}
	s.sendJSON(w, http.StatusOK, s.svc.Quota.Usage(Operator(r.Context())))
}

// handleDebugSync handles GET /api/v1/debug/sync
func (s *Server) handleDebugSync(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, DebugResponse{
		Sync:   s.svc.Campaigns.DebugState(),
		Uptime: time.Since(s.startTime).Round(time.Second).String(),
	})
}
