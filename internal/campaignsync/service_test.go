package campaignsync

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/foxzi/discador/internal/campaigns"
	"github.com/foxzi/discador/internal/dialer"
	"github.com/foxzi/discador/internal/retry"
	"github.com/foxzi/discador/internal/synccache"
)

// mockBackend implements Backend for testing
type mockBackend struct {
	mu    sync.Mutex
	calls map[string]int
	keys  []string

	list         func(ctx context.Context) ([]dialer.RawCampaign, error)
	get          func(id string) (*dialer.RawCampaign, error)
	create       func(req *dialer.CampaignRequest) (*dialer.RawCampaign, error)
	update       func(id string, req *dialer.CampaignRequest) (*dialer.RawCampaign, error)
	deletePrim   func(id string) error
	deleteLegacy func(id string) error
	control      func(id, action string) (*dialer.ControlResponse, error)
	stats        func(id string) (*dialer.CampaignStats, error)
}

func newMockBackend() *mockBackend {
	return &mockBackend{calls: make(map[string]int)}
}

func (m *mockBackend) record(ctx context.Context, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[name]++
	if k := dialer.IdempotencyKey(ctx); k != "" {
		m.keys = append(m.keys, k)
	}
}

func (m *mockBackend) count(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[name]
}

func (m *mockBackend) ListCampaigns(ctx context.Context) ([]dialer.RawCampaign, error) {
	m.record(ctx, "list")
	if m.list != nil {
		return m.list(ctx)
	}
	return nil, nil
}

func (m *mockBackend) GetCampaign(ctx context.Context, id string) (*dialer.RawCampaign, error) {
	m.record(ctx, "get")
	return m.get(id)
}

func (m *mockBackend) CreateCampaign(ctx context.Context, req *dialer.CampaignRequest) (*dialer.RawCampaign, error) {
	m.record(ctx, "create")
	return m.create(req)
}

func (m *mockBackend) UpdateCampaign(ctx context.Context, id string, req *dialer.CampaignRequest) (*dialer.RawCampaign, error) {
	m.record(ctx, "update")
	return m.update(id, req)
}

func (m *mockBackend) DeleteCampaign(ctx context.Context, id string) error {
	m.record(ctx, "delete")
	return m.deletePrim(id)
}

func (m *mockBackend) DeleteCampaignLegacy(ctx context.Context, id string) error {
	m.record(ctx, "delete_legacy")
	return m.deleteLegacy(id)
}

func (m *mockBackend) ControlCampaign(ctx context.Context, id, action string, data map[string]any) (*dialer.ControlResponse, error) {
	m.record(ctx, "control:"+action)
	return m.control(id, action)
}

func (m *mockBackend) GetCampaignStats(ctx context.Context, id string) (*dialer.CampaignStats, error) {
	m.record(ctx, "stats")
	return m.stats(id)
}

func newTestService(t *testing.T, b Backend) (*Service, *synccache.Cache) {
	t.Helper()
	cache := synccache.New(time.Minute)
	var seq atomic.Int64
	svc := New(b, cache, Options{
		Retry:  retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		NewKey: func() string {
			return "key-" + strconv.FormatInt(seq.Add(1), 10)
		},
	})
	return svc, cache
}

func rawID(id string) *dialer.RawCampaign {
	return &dialer.RawCampaign{ID: dialer.FlexString(id), Nombre: "c" + id}
}

func validInput() campaigns.Input {
	return campaigns.Input{Name: "Cobranza", MaxConcurrentCalls: 5, MaxAttempts: 3}
}

func TestListCampaignsCaches(t *testing.T) {
	b := newMockBackend()
	b.list = func(context.Context) ([]dialer.RawCampaign, error) {
		return []dialer.RawCampaign{*rawID("1"), *rawID("2")}, nil
	}
	svc, _ := newTestService(t, b)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		list, err := svc.ListCampaigns(ctx, false)
		if err != nil {
			t.Fatalf("ListCampaigns() error = %v", err)
		}
		if len(list) != 2 || list[0].Name != "c1" {
			t.Fatalf("ListCampaigns() = %+v", list)
		}
	}
	if n := b.count("list"); n != 1 {
		t.Errorf("backend list calls = %d, want 1", n)
	}

	if _, err := svc.ListCampaigns(ctx, true); err != nil {
		t.Fatalf("ListCampaigns(force) error = %v", err)
	}
	if n := b.count("list"); n != 2 {
		t.Errorf("backend list calls after force = %d, want 2", n)
	}
}

func TestListCampaignsReturnsCopy(t *testing.T) {
	b := newMockBackend()
	b.list = func(context.Context) ([]dialer.RawCampaign, error) {
		return []dialer.RawCampaign{*rawID("1")}, nil
	}
	svc, _ := newTestService(t, b)

	list, _ := svc.ListCampaigns(context.Background(), false)
	list[0].Name = "mutated"

	again, _ := svc.ListCampaigns(context.Background(), false)
	if again[0].Name != "c1" {
		t.Errorf("cached list was mutated through a returned slice")
	}
}

func TestListCampaignsCoalesces(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 1)

	b := newMockBackend()
	b.list = func(context.Context) ([]dialer.RawCampaign, error) {
		entered <- struct{}{}
		<-release
		return []dialer.RawCampaign{*rawID("1")}, nil
	}
	svc, _ := newTestService(t, b)

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	call := func() {
		defer wg.Done()
		_, err := svc.ListCampaigns(context.Background(), false)
		errs <- err
	}

	wg.Add(1)
	go call()
	<-entered

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go call()
	}
	time.Sleep(20 * time.Millisecond)
	if !svc.DebugState().Refreshing {
		t.Error("DebugState().Refreshing = false during a refresh")
	}
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("ListCampaigns() error = %v", err)
		}
	}
	if n := b.count("list"); n != 1 {
		t.Errorf("backend list calls = %d, want 1", n)
	}
}

func TestListCampaignsCallerCancelDoesNotAbortFetch(t *testing.T) {
	release := make(chan struct{})
	b := newMockBackend()
	b.list = func(ctx context.Context) ([]dialer.RawCampaign, error) {
		<-release
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return []dialer.RawCampaign{*rawID("1")}, nil
	}
	svc, cache := newTestService(t, b)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := svc.ListCampaigns(ctx, false)
		done <- err
	}()

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("ListCampaigns() error = %v, want context.Canceled", err)
	}
	close(release)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok := cache.Get(KeyList); ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("shared fetch did not populate the cache after caller cancel")
}

func TestListCampaignsRetriesTransient(t *testing.T) {
	var calls atomic.Int32
	b := newMockBackend()
	b.list = func(context.Context) ([]dialer.RawCampaign, error) {
		if calls.Add(1) == 1 {
			return nil, &dialer.APIError{StatusCode: 503, Message: "busy"}
		}
		return []dialer.RawCampaign{*rawID("1")}, nil
	}
	svc, _ := newTestService(t, b)

	list, err := svc.ListCampaigns(context.Background(), false)
	if err != nil {
		t.Fatalf("ListCampaigns() error = %v", err)
	}
	if len(list) != 1 || calls.Load() != 2 {
		t.Errorf("list = %v, calls = %d", list, calls.Load())
	}
}

func TestListCampaignsPermanentErrorNotRetried(t *testing.T) {
	b := newMockBackend()
	apiErr := &dialer.APIError{StatusCode: 401, Message: "token expired"}
	b.list = func(context.Context) ([]dialer.RawCampaign, error) {
		return nil, apiErr
	}
	svc, _ := newTestService(t, b)

	_, err := svc.ListCampaigns(context.Background(), false)
	if !errors.Is(err, apiErr) {
		t.Fatalf("error = %v, want %v", err, apiErr)
	}
	if n := b.count("list"); n != 1 {
		t.Errorf("backend list calls = %d, want 1", n)
	}
}

func TestCreateCampaignMissingIDKeepsCache(t *testing.T) {
	b := newMockBackend()
	b.create = func(*dialer.CampaignRequest) (*dialer.RawCampaign, error) {
		return &dialer.RawCampaign{Nombre: "no id"}, nil
	}
	svc, cache := newTestService(t, b)
	cache.Set(KeyList, []campaigns.Campaign{{ID: "1"}}, 0)

	_, err := svc.CreateCampaign(context.Background(), validInput())
	if !errors.Is(err, ErrMissingID) {
		t.Fatalf("CreateCampaign() error = %v, want ErrMissingID", err)
	}
	if _, ok := cache.Get(KeyList); !ok {
		t.Error("cache invalidated after a create without id")
	}
	if n := b.count("create"); n != 1 {
		t.Errorf("create calls = %d, want 1", n)
	}
}

func TestCreateCampaignInvalidates(t *testing.T) {
	b := newMockBackend()
	var got *dialer.CampaignRequest
	b.create = func(req *dialer.CampaignRequest) (*dialer.RawCampaign, error) {
		got = req
		return rawID("9"), nil
	}
	svc, cache := newTestService(t, b)
	cache.Set(KeyList, []campaigns.Campaign{{ID: "1"}}, 0)
	cache.Set(ItemKey("1"), campaigns.Campaign{ID: "1"}, 0)
	cache.Set(StatsKey("1"), dialer.CampaignStats{}, 0)

	c, err := svc.CreateCampaign(context.Background(), validInput())
	if err != nil {
		t.Fatalf("CreateCampaign() error = %v", err)
	}
	if c.ID != "9" {
		t.Errorf("ID = %q, want 9", c.ID)
	}
	if got.Nombre != "Cobranza" || got.LlamadasSimultaneas != 5 {
		t.Errorf("request = %+v", got)
	}
	if _, ok := cache.Get(KeyList); ok {
		t.Error("list still cached after create")
	}
	if _, ok := cache.Get(ItemKey("1")); ok {
		t.Error("item still cached after create")
	}
	if _, ok := cache.Get(StatsKey("1")); !ok {
		t.Error("stats should survive the campaigns invalidation")
	}
}

func TestCreateCampaignValidation(t *testing.T) {
	b := newMockBackend()
	svc, _ := newTestService(t, b)

	_, err := svc.CreateCampaign(context.Background(), campaigns.Input{})
	if !campaigns.IsValidation(err) {
		t.Fatalf("CreateCampaign() error = %v, want validation error", err)
	}
	if n := b.count("create"); n != 0 {
		t.Errorf("create calls = %d, want 0", n)
	}
}

func TestCreateCampaignReusesIdempotencyKey(t *testing.T) {
	var calls atomic.Int32
	b := newMockBackend()
	b.create = func(*dialer.CampaignRequest) (*dialer.RawCampaign, error) {
		if calls.Add(1) < 3 {
			return nil, &dialer.TransportError{Method: "POST", Path: "/campaigns", Err: io.ErrUnexpectedEOF}
		}
		return rawID("4"), nil
	}
	svc, _ := newTestService(t, b)

	if _, err := svc.CreateCampaign(context.Background(), validInput()); err != nil {
		t.Fatalf("CreateCampaign() error = %v", err)
	}

	b.mu.Lock()
	keys := append([]string(nil), b.keys...)
	b.mu.Unlock()
	if len(keys) != 3 {
		t.Fatalf("keys = %v, want 3 attempts", keys)
	}
	for _, k := range keys {
		if k != keys[0] {
			t.Errorf("idempotency key changed across retries: %v", keys)
		}
	}
}

func TestUpdateCampaign(t *testing.T) {
	b := newMockBackend()
	b.update = func(id string, req *dialer.CampaignRequest) (*dialer.RawCampaign, error) {
		return rawID(id), nil
	}
	svc, cache := newTestService(t, b)
	cache.Set(ItemKey("3"), campaigns.Campaign{ID: "3"}, 0)
	cache.Set(KeyList, []campaigns.Campaign{{ID: "3"}}, 0)

	if _, err := svc.UpdateCampaign(context.Background(), "", validInput()); !errors.Is(err, ErrEmptyID) {
		t.Errorf("UpdateCampaign(\"\") error = %v, want ErrEmptyID", err)
	}

	c, err := svc.UpdateCampaign(context.Background(), "3", validInput())
	if err != nil {
		t.Fatalf("UpdateCampaign() error = %v", err)
	}
	if c.ID != "3" {
		t.Errorf("ID = %q", c.ID)
	}
	if cache.Len() != 0 {
		t.Errorf("cache keys after update = %v", cache.Keys())
	}
}

func TestUpdateCampaignMissingID(t *testing.T) {
	b := newMockBackend()
	b.update = func(string, *dialer.CampaignRequest) (*dialer.RawCampaign, error) {
		return &dialer.RawCampaign{}, nil
	}
	svc, cache := newTestService(t, b)
	cache.Set(ItemKey("3"), campaigns.Campaign{ID: "3"}, 0)

	if _, err := svc.UpdateCampaign(context.Background(), "3", validInput()); !errors.Is(err, ErrMissingID) {
		t.Fatalf("UpdateCampaign() error = %v, want ErrMissingID", err)
	}
	if _, ok := cache.Get(ItemKey("3")); !ok {
		t.Error("item invalidated after update without id")
	}
}

func TestGetCampaignCaches(t *testing.T) {
	b := newMockBackend()
	b.get = func(id string) (*dialer.RawCampaign, error) { return rawID(id), nil }
	svc, _ := newTestService(t, b)

	for i := 0; i < 2; i++ {
		c, err := svc.GetCampaign(context.Background(), "5")
		if err != nil {
			t.Fatalf("GetCampaign() error = %v", err)
		}
		if c.ID != "5" {
			t.Errorf("ID = %q", c.ID)
		}
	}
	if n := b.count("get"); n != 1 {
		t.Errorf("get calls = %d, want 1", n)
	}
}

func TestGetCampaignNotFound(t *testing.T) {
	b := newMockBackend()
	b.get = func(string) (*dialer.RawCampaign, error) {
		return nil, &dialer.APIError{StatusCode: 404, Message: "Not found"}
	}
	svc, _ := newTestService(t, b)

	_, err := svc.GetCampaign(context.Background(), "5")
	if !dialer.IsNotFound(err) {
		t.Fatalf("GetCampaign() error = %v, want 404", err)
	}
	if n := b.count("get"); n != 1 {
		t.Errorf("get calls = %d, want 1 (404 is permanent)", n)
	}
}

func TestControlCampaign(t *testing.T) {
	b := newMockBackend()
	b.control = func(id, action string) (*dialer.ControlResponse, error) {
		return &dialer.ControlResponse{Success: true, Status: "paused"}, nil
	}
	svc, cache := newTestService(t, b)
	cache.Set(KeyList, []campaigns.Campaign{{ID: "2"}}, 0)

	resp, err := svc.ControlCampaign(context.Background(), "2", campaigns.ActionPause, nil)
	if err != nil {
		t.Fatalf("ControlCampaign() error = %v", err)
	}
	if !resp.Success {
		t.Errorf("resp = %+v", resp)
	}
	if n := b.count("control:pausar"); n != 1 {
		t.Errorf("pausar calls = %d, want 1", n)
	}
	if _, ok := cache.Get(KeyList); ok {
		t.Error("list still cached after control")
	}

	if _, err := svc.ControlCampaign(context.Background(), "2", campaigns.Action("explode"), nil); !campaigns.IsValidation(err) {
		t.Errorf("unknown action error = %v", err)
	}
}

func TestGetCampaignStatsTTL(t *testing.T) {
	b := newMockBackend()
	b.stats = func(id string) (*dialer.CampaignStats, error) {
		return &dialer.CampaignStats{CampaignID: dialer.FlexString(id), CallsTotal: 10}, nil
	}
	svc, cache := newTestService(t, b)
	ctx := context.Background()

	if _, err := svc.GetCampaignStats(ctx, "7", true); err != nil {
		t.Fatalf("GetCampaignStats() error = %v", err)
	}
	st, err := svc.GetCampaignStats(ctx, "7", true)
	if err != nil || st.CallsTotal != 10 {
		t.Fatalf("GetCampaignStats() = %+v, %v", st, err)
	}
	if n := b.count("stats"); n != 1 {
		t.Errorf("stats calls = %d, want 1", n)
	}

	if _, err := svc.GetCampaignStats(ctx, "7", false); err != nil {
		t.Fatalf("GetCampaignStats(no cache) error = %v", err)
	}
	if n := b.count("stats"); n != 2 {
		t.Errorf("stats calls = %d, want 2", n)
	}

	var statsExpiry, listExpiry time.Time
	cache.Set(KeyList, []campaigns.Campaign{}, svc.opts.ListTTL)
	for _, e := range cache.Entries() {
		switch e.Key {
		case StatsKey("7"):
			statsExpiry = e.ExpiresAt
		case KeyList:
			listExpiry = e.ExpiresAt
		}
	}
	if !statsExpiry.Before(listExpiry) {
		t.Errorf("stats expiry %v should come before list expiry %v", statsExpiry, listExpiry)
	}
}

func TestUpdateCampaignStatusEndToEnd(t *testing.T) {
	svc, cache := newTestService(t, newMockBackend())
	cache.Set(KeyList, []campaigns.Campaign{{ID: "1", Status: campaigns.StatusDraft}}, 0)

	if !svc.UpdateCampaignStatus("1", campaigns.StatusActive) {
		t.Fatal("UpdateCampaignStatus() = false")
	}

	list, err := svc.ListCampaigns(context.Background(), false)
	if err != nil {
		t.Fatalf("ListCampaigns() error = %v", err)
	}
	c, ok := campaigns.Find(list, "1")
	if !ok {
		t.Fatal("campaign 1 missing")
	}
	if !c.IsActive() || c.IsPaused() {
		t.Errorf("IsActive = %v, IsPaused = %v", c.IsActive(), c.IsPaused())
	}

	active, err := svc.ActiveCampaigns(context.Background())
	if err != nil {
		t.Fatalf("ActiveCampaigns() error = %v", err)
	}
	if _, ok := campaigns.Find(active, "1"); !ok {
		t.Error("campaign 1 not in active subset")
	}

	if svc.UpdateCampaignStatus("404", campaigns.StatusPaused) {
		t.Error("UpdateCampaignStatus() on unknown id = true")
	}
}

func TestDebugState(t *testing.T) {
	svc, cache := newTestService(t, newMockBackend())
	cache.Set(KeyList, []campaigns.Campaign{}, 0)
	cache.Set(StatsKey("1"), dialer.CampaignStats{}, 0)

	st := svc.DebugState()
	if st.CacheEntries != 2 || st.CacheKeys[0] != StatsKey("1") || st.Refreshing {
		t.Errorf("DebugState() = %+v", st)
	}
}

func TestListCampaignsOnRefresh(t *testing.T) {
	b := newMockBackend()
	b.list = func(context.Context) ([]dialer.RawCampaign, error) {
		return []dialer.RawCampaign{*rawID("1")}, nil
	}

	var got []campaigns.Campaign
	svc := New(b, synccache.New(time.Minute), Options{
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		OnRefresh: func(list []campaigns.Campaign) { got = list },
	})

	if _, err := svc.ListCampaigns(context.Background(), false); err != nil {
		t.Fatalf("ListCampaigns() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "1" {
		t.Errorf("OnRefresh got %v", got)
	}

	got = nil
	svc.ListCampaigns(context.Background(), false)
	if got != nil {
		t.Error("OnRefresh called on a cache hit")
	}
}

func TestListInFlightDuringCreateIsNotCached(t *testing.T) {
	b := newMockBackend()
	started := make(chan struct{})
	release := make(chan struct{})
	var listCalls atomic.Int64
	b.list = func(ctx context.Context) ([]dialer.RawCampaign, error) {
		if listCalls.Add(1) == 1 {
			close(started)
			<-release
			return []dialer.RawCampaign{*rawID("1")}, nil
		}
		return []dialer.RawCampaign{*rawID("1"), *rawID("2")}, nil
	}
	b.create = func(req *dialer.CampaignRequest) (*dialer.RawCampaign, error) {
		return rawID("2"), nil
	}
	svc, _ := newTestService(t, b)

	done := make(chan []campaigns.Campaign, 1)
	go func() {
		list, _ := svc.ListCampaigns(context.Background(), false)
		done <- list
	}()
	<-started

	if _, err := svc.CreateCampaign(context.Background(), validInput()); err != nil {
		t.Fatalf("CreateCampaign() error = %v", err)
	}
	close(release)
	if old := <-done; len(old) != 1 {
		t.Errorf("in-flight list = %d campaigns, want 1", len(old))
	}

	list, err := svc.ListCampaigns(context.Background(), false)
	if err != nil {
		t.Fatalf("ListCampaigns() error = %v", err)
	}
	if len(list) != 2 {
		t.Errorf("list after create = %d campaigns, want 2 (backend list calls = %d)", len(list), listCalls.Load())
	}
}

func TestListAfterCreateDoesNotJoinOlderFetch(t *testing.T) {
	b := newMockBackend()
	started := make(chan struct{})
	release := make(chan struct{})
	var listCalls atomic.Int64
	b.list = func(ctx context.Context) ([]dialer.RawCampaign, error) {
		if listCalls.Add(1) == 1 {
			close(started)
			<-release
			return []dialer.RawCampaign{*rawID("1")}, nil
		}
		return []dialer.RawCampaign{*rawID("1"), *rawID("2")}, nil
	}
	b.create = func(req *dialer.CampaignRequest) (*dialer.RawCampaign, error) {
		return rawID("2"), nil
	}
	svc, _ := newTestService(t, b)

	go svc.ListCampaigns(context.Background(), false)
	<-started
	defer close(release)

	if _, err := svc.CreateCampaign(context.Background(), validInput()); err != nil {
		t.Fatalf("CreateCampaign() error = %v", err)
	}

	list, err := svc.ListCampaigns(context.Background(), false)
	if err != nil {
		t.Fatalf("ListCampaigns() error = %v", err)
	}
	if len(list) != 2 {
		t.Errorf("list after create = %d campaigns, want 2", len(list))
	}
}

func TestCreateUndecodableResponseNotRetried(t *testing.T) {
	b := newMockBackend()
	b.create = func(req *dialer.CampaignRequest) (*dialer.RawCampaign, error) {
		return nil, &dialer.DecodeError{Method: "POST", Path: "/campaigns", Err: errors.New("unexpected EOF")}
	}
	svc, _ := newTestService(t, b)

	_, err := svc.CreateCampaign(context.Background(), validInput())
	var de *dialer.DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("error = %v, want *dialer.DecodeError", err)
	}
	if n := b.count("create"); n != 1 {
		t.Errorf("create calls = %d, want 1", n)
	}
}
