package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/foxzi/discador/internal/assets"
	"github.com/foxzi/discador/internal/blacklist"
	"github.com/foxzi/discador/internal/campaigns"
	"github.com/foxzi/discador/internal/campaignsync"
	"github.com/foxzi/discador/internal/config"
	"github.com/foxzi/discador/internal/dialer"
	"github.com/foxzi/discador/internal/monitor"
	"github.com/foxzi/discador/internal/quota"
	"github.com/foxzi/discador/internal/retry"
	"github.com/foxzi/discador/internal/snapshot"
	"github.com/foxzi/discador/internal/synccache"
	"github.com/foxzi/discador/internal/trunks"
)

const testAPIKey = "ana-key"

// fakeDialer is an in-memory dialer backend
type fakeDialer struct {
	mu sync.Mutex

	campaigns map[string]map[string]any
	nextID    int
	blacklist []dialer.BlacklistEntry
	calls     dialer.CallsResponse
	uploaded  []byte

	down              bool
	failPrimaryDelete bool
	omitID            bool
	requests          []string
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{campaigns: make(map[string]map[string]any), nextID: 1}
}

func (f *fakeDialer) seed(id, name string, active, paused bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.campaigns[id] = map[string]any{"id": id, "nombre": name, "activo": active, "pausado": paused}
}

func (f *fakeDialer) setDown(down bool) {
	f.set(func(f *fakeDialer) { f.down = down })
}

// set changes the fake's behaviour under its lock
func (f *fakeDialer) set(fn func(f *fakeDialer)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeDialer) saw(request string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.requests {
		if r == request {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (f *fakeDialer) handler() http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			f.mu.Lock()
			f.requests = append(f.requests, req.Method+" "+req.URL.Path)
			down := f.down
			f.mu.Unlock()
			if down {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "maintenance"})
				return
			}
			next.ServeHTTP(w, req)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/campaigns", func(w http.ResponseWriter, req *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		list := make([]map[string]any, 0, len(f.campaigns))
		for _, c := range f.campaigns {
			list = append(list, c)
		}
		writeJSON(w, http.StatusOK, map[string]any{"campaigns": list})
	})
	r.Get("/campaigns/{id}", func(w http.ResponseWriter, req *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		c, ok := f.campaigns[chi.URLParam(req, "id")]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "campaign not found"})
			return
		}
		writeJSON(w, http.StatusOK, c)
	})
	r.Post("/campaigns", func(w http.ResponseWriter, req *http.Request) {
		var body dialer.CampaignRequest
		json.NewDecoder(req.Body).Decode(&body)

		f.mu.Lock()
		defer f.mu.Unlock()
		if f.omitID {
			writeJSON(w, http.StatusOK, map[string]any{"nombre": body.Nombre})
			return
		}
		id := fmt.Sprint(f.nextID)
		f.nextID++
		c := map[string]any{"id": id, "nombre": body.Nombre, "cli": body.CLI, "activo": false, "pausado": false}
		f.campaigns[id] = c
		writeJSON(w, http.StatusCreated, c)
	})
	r.Put("/campaigns/{id}", func(w http.ResponseWriter, req *http.Request) {
		var body dialer.CampaignRequest
		json.NewDecoder(req.Body).Decode(&body)

		f.mu.Lock()
		defer f.mu.Unlock()
		c, ok := f.campaigns[chi.URLParam(req, "id")]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "campaign not found"})
			return
		}
		c["nombre"] = body.Nombre
		writeJSON(w, http.StatusOK, c)
	})
	r.Delete("/campaigns/{id}", func(w http.ResponseWriter, req *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failPrimaryDelete {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "primary delete broken"})
			return
		}
		delete(f.campaigns, chi.URLParam(req, "id"))
		w.WriteHeader(http.StatusNoContent)
	})
	r.Delete("/presione1/campanhas/{id}", func(w http.ResponseWriter, req *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.campaigns, chi.URLParam(req, "id"))
		w.WriteHeader(http.StatusNoContent)
	})
	r.Post("/presione1/campanhas/{id}/{action}", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "ok"})
	})
	r.Get("/campaigns/{id}/stats", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"campaign_id": chi.URLParam(req, "id"), "calls_total": 10, "calls_answered": 4})
	})

	r.Get("/audio", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"audios": []map[string]any{{"id": 1, "name": "saludo", "audio_type": "greeting"}}})
	})
	r.Post("/audio/upload", func(w http.ResponseWriter, req *http.Request) {
		file, _, err := req.FormFile("file")
		if err != nil {
			http.Error(w, "missing file", http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(file)
		f.mu.Lock()
		f.uploaded = data
		f.mu.Unlock()
		writeJSON(w, http.StatusCreated, map[string]any{
			"id":         "a1",
			"name":       req.FormValue("name"),
			"audio_type": req.FormValue("audio_type"),
			"size_bytes": len(data),
		})
	})
	r.Delete("/audio/{id}", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/trunks", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, []map[string]any{})
	})
	r.Post("/trunks", func(w http.ResponseWriter, req *http.Request) {
		var t map[string]any
		json.NewDecoder(req.Body).Decode(&t)
		t["id"] = "t1"
		writeJSON(w, http.StatusCreated, t)
	})

	r.Get("/blacklist", func(w http.ResponseWriter, req *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		writeJSON(w, http.StatusOK, f.blacklist)
	})
	r.Post("/blacklist", func(w http.ResponseWriter, req *http.Request) {
		var e dialer.BlacklistEntry
		json.NewDecoder(req.Body).Decode(&e)
		f.mu.Lock()
		f.blacklist = append(f.blacklist, e)
		f.mu.Unlock()
		writeJSON(w, http.StatusCreated, e)
	})
	r.Delete("/blacklist/{number}", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/monitoring/calls", func(w http.ResponseWriter, req *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		writeJSON(w, http.StatusOK, f.calls)
	})

	return r
}

type testOptions struct {
	debug  bool
	noKeys bool
	quota  *quota.Config
}

type testEnv struct {
	server  *Server
	dialer  *fakeDialer
	store   *snapshot.Store
	monitor *monitor.Monitor
	limiter *quota.Limiter
}

func setupTestServer(t *testing.T, opts testOptions) *testEnv {
	t.Helper()

	fake := newFakeDialer()
	backend := httptest.NewServer(fake.handler())
	t.Cleanup(backend.Close)

	store, err := snapshot.Open(filepath.Join(t.TempDir(), "console.db"))
	if err != nil {
		t.Fatalf("snapshot.Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := dialer.NewClient(backend.URL, "backend-token")
	cache := synccache.New(time.Minute)
	policy := retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond}

	env := &testEnv{dialer: fake, store: store}
	env.monitor = monitor.New(client, store, logger)

	svc := Services{
		Backend: client,
		Campaigns: campaignsync.New(client, cache, campaignsync.Options{
			Retry:  policy,
			Logger: logger,
			OnRefresh: func(list []campaigns.Campaign) {
				store.SaveCampaigns(list)
			},
		}),
		Audio:     assets.NewService(client, cache, policy, 1<<20, time.Minute, logger),
		Trunks:    trunks.NewService(client, cache, policy, time.Minute, logger),
		Blacklist: blacklist.NewService(client, cache, policy, time.Minute, logger),
		Monitor:   env.monitor,
		Snapshots: store,
	}

	if opts.quota != nil {
		limiter, err := quota.NewLimiter(store.DB(), *opts.quota)
		if err != nil {
			t.Fatalf("quota.NewLimiter() error = %v", err)
		}
		t.Cleanup(func() { limiter.Stop() })
		svc.Quota = limiter
		env.limiter = limiter
	}

	var keys []config.APIKey
	if !opts.noKeys {
		hash, err := bcrypt.GenerateFromPassword([]byte(testAPIKey), bcrypt.MinCost)
		if err != nil {
			t.Fatalf("bcrypt error = %v", err)
		}
		keys = []config.APIKey{{Name: "ana", Hash: string(hash)}}
	}

	env.server = NewServer(svc, Options{
		Config:  &config.ServerConfig{ListenAddr: ":0", MaxUploadBytes: 1 << 20},
		APIKeys: keys,
		Debug:   opts.debug,
		Version: "test",
		Logger:  logger,
	})
	return env
}

// serve sends an authenticated request through the router
func (e *testEnv) serve(method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	e.server.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
}
