package monitor

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goodtune/homeguard/internal/policy"
	"github.com/goodtune/homeguard/internal/router"
	"github.com/goodtune/homeguard/internal/storage"
	"github.com/goodtune/homeguard/internal/storage/memory"
	"github.com/rs/zerolog"
)

// fakeRouter serves canned JSON bodies by path.
type fakeRouter struct {
	mu     sync.Mutex
	bodies map[string]string
	hits   map[string]int
}

func newFakeRouter(bodies map[string]string) *fakeRouter {
	return &fakeRouter{bodies: bodies, hits: make(map[string]int)}
}

func (f *fakeRouter) set(path, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies[path] = body
}

func (f *fakeRouter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	body, ok := f.bodies[r.URL.Path]
	f.hits[r.URL.Path]++
	f.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, body)
}

type testEnv struct {
	monitor *Monitor
	engine  *policy.Engine
	store   storage.Store
	router  *fakeRouter
	now     time.Time
}

func newTestEnv(t *testing.T, bodies map[string]string) *testEnv {
	t.Helper()

	fr := newFakeRouter(bodies)
	srv := httptest.NewServer(fr)
	t.Cleanup(srv.Close)

	client, err := router.NewClient(router.Config{BaseURL: srv.URL, Timeout: 2 * time.Second}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	engine := policy.NewEngine(client, zerolog.Nop())
	t.Cleanup(engine.Close)

	store := memory.Open()
	m, err := New(client, engine, store.Leases(), Config{
		StatusInterval: 30 * time.Second,
		StatsInterval:  30 * time.Second,
		RulesInterval:  time.Minute,
		JobInterval:    2 * time.Second,
		NameCacheSize:  8,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	env := &testEnv{monitor: m, engine: engine, store: store, router: fr, now: time.Unix(1700000000, 0)}
	m.SetClock(func() time.Time { return env.now })
	return env
}

func TestMonitor_StatsThroughputAndDevices(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"/api/stats": `{"traffic": {"rx": 0, "tx": 0}, "devices": [], "dataUsage": {"total": "3.1 GB"}}`,
	})
	ctx := context.Background()

	if err := env.monitor.FetchStats(ctx); err != nil {
		t.Fatalf("FetchStats failed: %v", err)
	}
	if rate := env.monitor.Overview().ThroughputMbps; rate != 0 {
		t.Errorf("Expected baseline rate 0, got %v", rate)
	}

	env.router.set("/api/stats", `{
		"traffic": {"rx": "1250000", "tx": "1250000"},
		"devices": [
			{"hostname": "laptop", "macaddr": "AA:BB:CC:00:00:01", "ipaddr": "192.168.1.10", "expires": 600},
			{"hostname": "", "macaddr": "aa:bb:cc:00:00:02", "ipaddr": "192.168.1.11"},
			{"ipaddr": "192.168.1.12"}
		],
		"dataUsage": {"total": "3.2 GB"}
	}`)
	env.now = env.now.Add(10 * time.Second)

	if err := env.monitor.FetchStats(ctx); err != nil {
		t.Fatalf("FetchStats failed: %v", err)
	}

	o := env.monitor.Overview()
	if o.ThroughputMbps != 2.00 {
		t.Errorf("Expected 2.00 Mbps, got %v", o.ThroughputMbps)
	}
	if o.DataUsage != "3.2 GB" {
		t.Errorf("Expected data usage 3.2 GB, got %q", o.DataUsage)
	}
	if o.OnlineDevices != 3 {
		t.Errorf("Expected 3 online devices, got %d", o.OnlineDevices)
	}

	devices := env.monitor.Devices()
	want := []struct{ id, name string }{
		{"AA:BB:CC:00:00:01", "laptop"},
		{"aa:bb:cc:00:00:02", "aa:bb:cc:00:00:02"},
		{"2", "Device 3"},
	}
	for i, w := range want {
		if devices[i].ID != w.id || devices[i].Name != w.name {
			t.Errorf("Device %d = %s/%s, want %s/%s", i, devices[i].ID, devices[i].Name, w.id, w.name)
		}
		if devices[i].Type != "unknown" || devices[i].Status != "online" {
			t.Errorf("Device %d defaults not applied: %+v", i, devices[i])
		}
	}

	leases, err := env.store.Leases().List(ctx)
	if err != nil {
		t.Fatalf("List leases failed: %v", err)
	}
	if len(leases) != 2 {
		t.Fatalf("Expected 2 cached leases, got %d", len(leases))
	}
	if leases[0].MAC != "aa:bb:cc:00:00:01" || !leases[0].ExpiresAt.Equal(env.now.Add(600*time.Second)) {
		t.Errorf("Unexpected cached lease: %+v", leases[0])
	}
}

func TestMonitor_NameCacheFillsMissingHostname(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"/api/stats": `{"devices": [{"hostname": "tablet", "macaddr": "aa:00"}]}`,
	})
	ctx := context.Background()

	if err := env.monitor.FetchStats(ctx); err != nil {
		t.Fatalf("FetchStats failed: %v", err)
	}

	env.router.set("/api/stats", `{"devices": [{"macaddr": "AA:00"}]}`)
	if err := env.monitor.FetchStats(ctx); err != nil {
		t.Fatalf("FetchStats failed: %v", err)
	}

	if got := env.monitor.Devices()[0].Name; got != "tablet" {
		t.Errorf("Expected cached name tablet, got %q", got)
	}
}

func TestMonitor_FailedFetchKeepsState(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"/api/stats": `{"devices": [{"hostname": "tv", "macaddr": "aa:01"}], "dataUsage": {"total": "1 GB"}}`,
	})
	ctx := context.Background()

	if err := env.monitor.FetchStats(ctx); err != nil {
		t.Fatalf("FetchStats failed: %v", err)
	}

	env.router.set("/api/stats", `not json`)
	if err := env.monitor.FetchStats(ctx); err == nil {
		t.Fatal("Expected malformed stats to fail")
	}

	if len(env.monitor.Devices()) != 1 || env.monitor.Overview().DataUsage != "1 GB" {
		t.Error("Expected last known state to survive a failed fetch")
	}
}

func TestMonitor_Seed(t *testing.T) {
	env := newTestEnv(t, map[string]string{})
	ctx := context.Background()

	err := env.store.Leases().Replace(ctx, []storage.Lease{
		{MAC: "aa:01", IP: "192.168.1.5", Hostname: "printer"},
		{MAC: "aa:02", IP: "192.168.1.6", ExpiresAt: env.now.Add(-time.Minute)},
	})
	if err != nil {
		t.Fatalf("Replace failed: %v", err)
	}

	if err := env.monitor.Seed(ctx); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}

	devices := env.monitor.Devices()
	if len(devices) != 1 || devices[0].Name != "printer" {
		t.Errorf("Expected only the unexpired lease, got %+v", devices)
	}
}

func TestMonitor_StatusText(t *testing.T) {
	tests := []struct {
		active bool
		job    router.JobStatus
		want   string
	}{
		{false, router.JobLoading, StatusInternetPaused},
		{true, router.JobLoading, StatusLoadingBlocklist},
		{true, router.JobError, StatusAdblockError},
		{true, router.JobIdle, StatusOperational},
		{true, "", StatusOperational},
	}

	for _, tt := range tests {
		if got := StatusText(tt.active, tt.job); got != tt.want {
			t.Errorf("StatusText(%v, %q) = %q, want %q", tt.active, tt.job, got, tt.want)
		}
	}
}

func TestMonitor_FetchStatusAndAdblockGate(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"/api/status":         `{"internet_active": true}`,
		"/api/adblock/status": `{"status": "loading"}`,
		"/api/adblock/logs":   `[{"timestamp": "12:00:01", "level": "info", "message": "Downloading lists"}]`,
	})
	ctx := context.Background()

	if env.monitor.adblockActive() {
		t.Error("Expected adblock task to be idle before any status")
	}

	if err := env.monitor.FetchStatus(ctx); err != nil {
		t.Fatalf("FetchStatus failed: %v", err)
	}
	if got := env.monitor.Overview().Status; got != StatusLoadingBlocklist {
		t.Errorf("Expected %q, got %q", StatusLoadingBlocklist, got)
	}
	if !env.monitor.adblockActive() {
		t.Error("Expected adblock task enabled while loading")
	}

	if err := env.monitor.FetchAdblock(ctx); err != nil {
		t.Fatalf("FetchAdblock failed: %v", err)
	}
	if logs := env.monitor.Adblock().Logs; len(logs) != 1 || logs[0].Message != "Downloading lists" {
		t.Errorf("Unexpected logs: %+v", logs)
	}

	env.router.set("/api/adblock/status", `{"status": "idle"}`)
	env.router.set("/api/status", `{"internet_active": false}`)
	if err := env.monitor.FetchStatus(ctx); err != nil {
		t.Fatalf("FetchStatus failed: %v", err)
	}
	if env.monitor.adblockActive() {
		t.Error("Expected adblock task disabled once idle")
	}
	if got := env.monitor.Overview().Status; got != StatusInternetPaused {
		t.Errorf("Expected %q, got %q", StatusInternetPaused, got)
	}

	env.monitor.WatchLogs()
	if !env.monitor.adblockActive() {
		t.Error("Expected adblock task enabled while logs are watched")
	}
	env.now = env.now.Add(time.Minute)
	if env.monitor.adblockActive() {
		t.Error("Expected log watch to expire")
	}
}

func TestMonitor_FetchRules(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"/api/blocklist/custom": `{"blocklist": ["ads.example", "games.example"]}`,
		"/api/allowlist":        `[{"id": 1, "domain": "school.example", "active": true}, {"id": 2, "domain": "wiki.example", "active": false}]`,
		"/api/blocklist":        `{"apps": {"tiktok": true, "youtube": false}, "custom": []}`,
	})
	ctx := context.Background()

	if err := env.monitor.FetchRules(ctx); err != nil {
		t.Fatalf("FetchRules failed: %v", err)
	}

	o := env.monitor.Overview()
	if o.ActiveCustomBlocks != 2 || o.BlockedApps != 1 || o.TotalBlocked != 3 {
		t.Errorf("Unexpected block counts: %+v", o)
	}
	if o.TotalAllowed != 1 {
		t.Errorf("Expected 1 active allow rule, got %d", o.TotalAllowed)
	}
	if o.Sync.Phase != policy.PhaseConfirmed {
		t.Errorf("Expected confirmed phase, got %s", o.Sync.Phase)
	}

	// A pending edit blocks the merge but the poll still succeeds
	if _, err := env.engine.Add(policy.ListBlock, "local.example"); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	env.router.set("/api/blocklist/custom", `{"blocklist": []}`)
	if err := env.monitor.FetchRules(ctx); err != nil {
		t.Fatalf("FetchRules failed: %v", err)
	}
	if got := len(env.engine.Rules(policy.ListBlock)); got != 3 {
		t.Errorf("Expected local rules preserved (3), got %d", got)
	}
}

func TestMonitor_FetchRulesKeepsDisabledCustomBlocks(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"/api/blocklist/custom": `{"blocklist": ["ads.example"]}`,
		"/api/allowlist":        `[]`,
		"/api/blocklist":        `{"apps": {}, "custom": [{"id": 1, "domain": "ads.example", "active": true}, {"id": 2, "domain": "games.example", "active": false}]}`,
	})

	if err := env.monitor.FetchRules(context.Background()); err != nil {
		t.Fatalf("FetchRules failed: %v", err)
	}

	rules := env.engine.Rules(policy.ListBlock)
	if len(rules) != 2 {
		t.Fatalf("Expected 2 block rules, got %+v", rules)
	}
	if rules[1].Domain != "games.example" || rules[1].Active {
		t.Errorf("Expected games.example kept disabled, got %+v", rules[1])
	}
	if o := env.monitor.Overview(); o.ActiveCustomBlocks != 1 {
		t.Errorf("Expected 1 active custom block, got %d", o.ActiveCustomBlocks)
	}
}

func TestMonitor_FetchRulesPartialFailure(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"/api/blocklist/custom": `{"blocklist": ["ads.example"]}`,
	})

	err := env.monitor.FetchRules(context.Background())
	if err == nil {
		t.Fatal("Expected error for missing allowlist and app endpoints")
	}
	if got := env.engine.Rules(policy.ListBlock); len(got) != 1 {
		t.Errorf("Expected block list merged despite other failures, got %+v", got)
	}
}

func TestMonitor_Tasks(t *testing.T) {
	env := newTestEnv(t, map[string]string{})

	names := map[string]bool{}
	for _, task := range env.monitor.Tasks() {
		names[task.Name] = true
	}
	for _, want := range []string{TaskStatus, TaskStats, TaskRules, TaskAdblock} {
		if !names[want] {
			t.Errorf("Expected task %s", want)
		}
	}
	if names[TaskDevices] {
		t.Error("Expected devices task to be disabled with a zero interval")
	}
}
