package api

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/discador/internal/assets"
	"github.com/foxzi/discador/internal/blacklist"
	"github.com/foxzi/discador/internal/trunks"
)

// formFieldLimit caps the size of a non-file multipart field
const formFieldLimit = 4 << 10

// AudioListResponse is the response for GET /audio
type AudioListResponse struct {
	Assets []assets.Asset `json:"assets"`
	Total  int            `json:"total"`
}

// TrunkListResponse is the response for GET /trunks
type TrunkListResponse struct {
	Trunks []trunks.Trunk `json:"trunks"`
	Total  int            `json:"total"`
}

// BlacklistResponse is the response for GET /blacklist
type BlacklistResponse struct {
	Entries []blacklist.Entry `json:"entries"`
	Total   int               `json:"total"`
}

// BlacklistRequest is the request body for POST /blacklist
type BlacklistRequest struct {
	Number string `json:"number"`
	Reason string `json:"reason,omitempty"`
}

// handleListAudio handles GET /api/v1/audio
func (s *Server) handleListAudio(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Audio.List(r.Context(), queryBool(r, "refresh", false))
	if err != nil {
		s.sendServiceError(w, "list audio", err)
		return
	}
	if list == nil {
		list = []assets.Asset{}
	}
	s.sendJSON(w, http.StatusOK, AudioListResponse{Assets: list, Total: len(list)})
}

// handleUploadAudio handles POST /api/v1/audio. The metadata fields must
// precede the file part so the file can be streamed to the backend without
// buffering it.
func (s *Server) handleUploadAudio(w http.ResponseWriter, r *http.Request) {
	// Room for the multipart framing and metadata on top of the file
	r.Body = http.MaxBytesReader(w, r.Body, s.svc.Audio.MaxSize()+1<<20)

	mr, err := r.MultipartReader()
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "multipart/form-data body required")
		return
	}

	var in assets.UploadInput
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.sendError(w, http.StatusBadRequest, "Invalid multipart body")
			return
		}

		if part.FormName() == "file" {
			in.FileName = part.FileName()
			asset, err := s.svc.Audio.Upload(r.Context(), in, part)
			part.Close()
			if err != nil {
				s.sendServiceError(w, "upload audio", err)
				return
			}
			s.logger.Info("audio uploaded via API", "id", asset.ID, "operator", Operator(r.Context()))
			s.sendJSON(w, http.StatusCreated, asset)
			return
		}

		value, err := io.ReadAll(io.LimitReader(part, formFieldLimit))
		part.Close()
		if err != nil {
			s.sendError(w, http.StatusBadRequest, "Invalid multipart body")
			return
		}
		v := strings.TrimSpace(string(value))

		switch part.FormName() {
		case "name":
			in.Name = v
		case "description":
			in.Description = v
		case "audio_type":
			in.AudioType = assets.AudioType(v)
		case "campaign_id":
			in.CampaignID = v
		case "size":
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				s.sendError(w, http.StatusBadRequest, "size must be a number")
				return
			}
			in.Size = n
		}
	}

	s.sendError(w, http.StatusBadRequest, "file is required")
}

// handleDeleteAudio handles DELETE /api/v1/audio/{id}
func (s *Server) handleDeleteAudio(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.svc.Audio.Delete(r.Context(), id); err != nil {
		s.sendServiceError(w, "delete audio", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListTrunks handles GET /api/v1/trunks
func (s *Server) handleListTrunks(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Trunks.List(r.Context(), queryBool(r, "refresh", false))
	if err != nil {
		s.sendServiceError(w, "list trunks", err)
		return
	}
	if list == nil {
		list = []trunks.Trunk{}
	}
	s.sendJSON(w, http.StatusOK, TrunkListResponse{Trunks: list, Total: len(list)})
}

// handleCreateTrunk handles POST /api/v1/trunks
func (s *Server) handleCreateTrunk(w http.ResponseWriter, r *http.Request) {
	var t trunks.Trunk
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	created, err := s.svc.Trunks.Create(r.Context(), t)
	if err != nil {
		s.sendServiceError(w, "create trunk", err)
		return
	}
	s.logger.Info("trunk created via API", "id", created.ID, "operator", Operator(r.Context()))
	s.sendJSON(w, http.StatusCreated, created)
}

// handleUpdateTrunk handles PUT /api/v1/trunks/{id}
func (s *Server) handleUpdateTrunk(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var t trunks.Trunk
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	updated, err := s.svc.Trunks.Update(r.Context(), id, t)
	if err != nil {
		s.sendServiceError(w, "update trunk", err)
		return
	}
	s.sendJSON(w, http.StatusOK, updated)
}

// handleDeleteTrunk handles DELETE /api/v1/trunks/{id}
func (s *Server) handleDeleteTrunk(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.svc.Trunks.Delete(r.Context(), id); err != nil {
		s.sendServiceError(w, "delete trunk", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListBlacklist handles GET /api/v1/blacklist
func (s *Server) handleListBlacklist(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Blacklist.List(r.Context(), queryBool(r, "refresh", false))
	if err != nil {
		s.sendServiceError(w, "list blacklist", err)
		return
	}
	if list == nil {
		list = []blacklist.Entry{}
	}
	s.sendJSON(w, http.StatusOK, BlacklistResponse{Entries: list, Total: len(list)})
}

// handleAddBlacklist handles POST /api/v1/blacklist
func (s *Server) handleAddBlacklist(w http.ResponseWriter, r *http.Request) {
	var req BlacklistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	entry, err := s.svc.Blacklist.Add(r.Context(), req.Number, req.Reason)
	if err != nil {
		s.sendServiceError(w, "add blacklist", err)
		return
	}
	s.sendJSON(w, http.StatusCreated, entry)
}

// handleImportBlacklist handles POST /api/v1/blacklist/import. The body is
// either a plain text list or a multipart form with a "file" part.
func (s *Server) handleImportBlacklist(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)

	var src io.Reader = r.Body
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		file, _, err := r.FormFile("file")
		if err != nil {
			s.sendError(w, http.StatusBadRequest, "file is required")
			return
		}
		defer file.Close()
		src = file
	}

	res, err := s.svc.Blacklist.Import(r.Context(), src, r.URL.Query().Get("reason"))
	if err != nil {
		s.sendServiceError(w, "import blacklist", err)
		return
	}

	s.logger.Info("blacklist imported via API",
		"added", res.Added,
		"skipped", res.Skipped,
		"invalid", len(res.Invalid),
		"operator", Operator(r.Context()),
	)
	s.sendJSON(w, http.StatusOK, res)
}

// handleRemoveBlacklist handles DELETE /api/v1/blacklist/{number}
func (s *Server) handleRemoveBlacklist(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")
	if err := s.svc.Blacklist.Remove(r.Context(), number); err != nil {
		s.sendServiceError(w, "remove blacklist", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
