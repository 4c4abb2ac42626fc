package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/discador/internal/campaigns"
	"github.com/foxzi/discador/internal/campaignsync"
	"github.com/foxzi/discador/internal/dialer"
)

// healthTimeout bounds the backend probe of GET /health
const healthTimeout = 3 * time.Second

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	Uptime       string `json:"uptime"`
	Backend      string `json:"backend"`
	BackendError string `json:"backend_error,omitempty"`
}

// ErrorResponse is the error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// CampaignListResponse is the response for GET /campaigns
type CampaignListResponse struct {
	Campaigns    []campaigns.Campaign `json:"campaigns"`
	Total        int                  `json:"total"`
	Stale        bool                 `json:"stale"`
	SavedAt      *time.Time           `json:"saved_at,omitempty"`
	BackendError string               `json:"backend_error,omitempty"`
}

// CampaignResponse is a single campaign, possibly served from the snapshot
type CampaignResponse struct {
	campaigns.Campaign
	Stale bool `json:"stale,omitempty"`
}

// ControlResponse is the response for POST /campaigns/{id}/{action}
type ControlResponse struct {
	ID      string                  `json:"id"`
	Action  campaigns.Action        `json:"action"`
	Status  campaigns.Status        `json:"status"`
	Backend *dialer.ControlResponse `json:"backend,omitempty"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "ok",
		Version: s.version,
		Uptime:  time.Since(s.startTime).Round(time.Second).String(),
		Backend: "ok",
	}

	if s.svc.Backend != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if _, err := s.svc.Backend.Health(ctx); err != nil {
			resp.Status = "degraded"
			resp.Backend = "unreachable"
			resp.BackendError = err.Error()
		}
	}

	s.sendJSON(w, http.StatusOK, resp)
}

// handleListCampaigns handles GET /api/v1/campaigns
func (s *Server) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	force := queryBool(r, "refresh", false)

	var filter campaigns.Status
	if v := r.URL.Query().Get("status"); v != "" {
		st, ok := campaigns.ParseStatus(v)
		if !ok {
			s.sendError(w, http.StatusBadRequest, "status must be one of: active, paused, draft")
			return
		}
		filter = st
	}

	list, err := s.svc.Campaigns.ListCampaigns(r.Context(), force)
	resp := CampaignListResponse{}
	if err != nil {
		stale, savedAt, ok := s.staleCampaigns(err)
		if !ok {
			s.sendServiceError(w, "list campaigns", err)
			return
		}
		list = stale
		resp.Stale = true
		resp.SavedAt = &savedAt
		resp.BackendError = err.Error()
	}

	if filter != "" {
		list = campaigns.FilterByStatus(list, filter)
	}
	if list == nil {
		list = []campaigns.Campaign{}
	}
	resp.Campaigns = list
	resp.Total = len(list)

	s.sendJSON(w, http.StatusOK, resp)
}

// staleCampaigns returns the snapshot list when err means the backend is down
func (s *Server) staleCampaigns(err error) ([]campaigns.Campaign, time.Time, bool) {
	if s.svc.Snapshots == nil || !backendUnavailable(err) {
		return nil, time.Time{}, false
	}
	list, savedAt, loadErr := s.svc.Snapshots.LoadCampaigns()
	if loadErr != nil {
		return nil, time.Time{}, false
	}
	s.logger.Warn("serving stale campaign snapshot", "saved_at", savedAt, "error", err)
	return list, savedAt, true
}

// handleGetCampaign handles GET /api/v1/campaigns/{id}
func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	c, err := s.svc.Campaigns.GetCampaign(r.Context(), id)
	if err != nil {
		if list, _, ok := s.staleCampaigns(err); ok {
			if found, ok := campaigns.Find(list, id); ok {
				s.sendJSON(w, http.StatusOK, CampaignResponse{Campaign: found, Stale: true})
				return
			}
		}
		s.sendServiceError(w, "get campaign", err)
		return
	}

	s.sendJSON(w, http.StatusOK, CampaignResponse{Campaign: c})
}

// handleCreateCampaign handles POST /api/v1/campaigns
func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var in campaigns.Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	c, err := s.svc.Campaigns.CreateCampaign(r.Context(), in)
	if err != nil {
		s.sendServiceError(w, "create campaign", err)
		return
	}

	s.logger.Info("campaign created via API", "id", c.ID, "operator", Operator(r.Context()))
	s.sendJSON(w, http.StatusCreated, c)
}

// handleUpdateCampaign handles PUT /api/v1/campaigns/{id}
func (s *Server) handleUpdateCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var in campaigns.Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	c, err := s.svc.Campaigns.UpdateCampaign(r.Context(), id, in)
	if err != nil {
		s.sendServiceError(w, "update campaign", err)
		return
	}

	s.logger.Info("campaign updated via API", "id", id, "operator", Operator(r.Context()))
	s.sendJSON(w, http.StatusOK, c)
}

// handleDeleteCampaign handles DELETE /api/v1/campaigns/{id}
func (s *Server) handleDeleteCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	res, err := s.svc.Campaigns.DeleteCampaign(r.Context(), id)
	if err != nil {
		s.sendServiceError(w, "delete campaign", err)
		return
	}

	s.logger.Info("campaign deleted via API", "id", id, "method", res.Method, "operator", Operator(r.Context()))
	s.sendJSON(w, http.StatusOK, res)
}

// handleControlCampaign handles POST /api/v1/campaigns/{id}/{action}
func (s *Server) handleControlCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	action, err := campaigns.ParseAction(chi.URLParam(r, "action"))
	if err != nil {
		s.sendError(w, http.StatusNotFound, err.Error())
		return
	}

	// The body is optional and forwarded to the backend as is
	var data map[string]any
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil && !errors.Is(err, io.EOF) {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	backendResp, err := s.svc.Campaigns.ControlCampaign(r.Context(), id, action, data)
	if err != nil {
		s.sendServiceError(w, "control campaign", err)
		return
	}

	s.logger.Info("campaign action via API", "id", id, "action", action, "operator", Operator(r.Context()))
	s.sendJSON(w, http.StatusOK, ControlResponse{
		ID:      id,
		Action:  action,
		Status:  action.ResultingStatus(),
		Backend: backendResp,
	})
}

// handleCampaignStats handles GET /api/v1/campaigns/{id}/stats
func (s *Server) handleCampaignStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	stats, err := s.svc.Campaigns.GetCampaignStats(r.Context(), id, queryBool(r, "cache", true))
	if err != nil {
		s.sendServiceError(w, "campaign stats", err)
		return
	}

	s.sendJSON(w, http.StatusOK, stats)
}

// sendJSON sends a JSON response
func (s *Server) sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sendError sends an error response
func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, ErrorResponse{Error: message})
}

// sendServiceError maps a service error to an HTTP status. Validation
// failures are the caller's fault, backend 4xx answers are passed through and
// everything else means the backend could not serve the request.
func (s *Server) sendServiceError(w http.ResponseWriter, op string, err error) {
	status, message := errorStatus(err)
	if status >= 500 {
		s.logger.Error(op+" failed", "error", err)
	}
	s.sendError(w, status, message)
}

func errorStatus(err error) (int, string) {
	var fallbackErr *campaignsync.FallbackError
	var apiErr *dialer.APIError

	switch {
	case campaigns.IsValidation(err):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, campaignsync.ErrMissingID):
		return http.StatusBadGateway, err.Error()
	case errors.As(err, &fallbackErr):
		return http.StatusBadGateway, err.Error()
	case errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden):
		// The console's own backend token was rejected, not the operator's key
		return http.StatusBadGateway, "dialer backend rejected the console credential (backend.token): " + apiErr.Message
	case errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500:
		return apiErr.StatusCode, apiErr.Message
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "dialer backend timed out"
	default:
		return http.StatusBadGateway, "dialer backend unavailable: " + err.Error()
	}
}

// backendUnavailable reports whether err means the backend could not be
// reached or failed internally, as opposed to rejecting the request
func backendUnavailable(err error) bool {
	if campaigns.IsValidation(err) || errors.Is(err, campaignsync.ErrMissingID) || errors.Is(err, context.Canceled) {
		return false
	}
	code := dialer.StatusCode(err)
	return code == 0 || code >= 500
}

func queryBool(r *http.Request, name string, def bool) bool {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
