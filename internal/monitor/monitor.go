// Package monitor keeps the read-only dashboard view of the router: status,
// devices, traffic and the background blocklist job. It also feeds router
// rule snapshots to the policy engine.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goodtune/homeguard/internal/metrics"
	"github.com/goodtune/homeguard/internal/policy"
	"github.com/goodtune/homeguard/internal/poller"
	"github.com/goodtune/homeguard/internal/router"
	"github.com/goodtune/homeguard/internal/storage"
	"github.com/goodtune/homeguard/internal/traffic"
	"github.com/rs/zerolog"
)

// Task names
const (
	TaskStatus  = "status"
	TaskStats   = "stats"
	TaskDevices = "devices"
	TaskRules   = "rules"
	TaskAdblock = "adblock"
)

// Status line texts, in priority order.
const (
	StatusInternetPaused   = "Internet Paused"
	StatusLoadingBlocklist = "Loading Blocklist..."
	StatusAdblockError     = "Adblock Error"
	StatusOperational      = "System Operational"
)

// RouterAPI is the subset of the router client the monitor reads from.
type RouterAPI interface {
	Status(ctx context.Context) (*router.Status, error)
	Stats(ctx context.Context) (*router.Stats, error)
	Devices(ctx context.Context) ([]router.Device, error)
	Blocklist(ctx context.Context) (*router.Blocklist, error)
	CustomBlocklist(ctx context.Context) ([]string, error)
	Allowlist(ctx context.Context) ([]router.RuleRecord, error)
	AdblockStatus(ctx context.Context) (*router.AdblockStatus, error)
	AdblockLogs(ctx context.Context) ([]router.LogEntry, error)
}

// Config holds poll intervals and cache sizes
type Config struct {
	StatusInterval  time.Duration
	StatsInterval   time.Duration
	RulesInterval   time.Duration
	DevicesInterval time.Duration // 0 disables the dedicated device poll
	JobInterval     time.Duration
	NameCacheSize   int
	LogWatchWindow  time.Duration // how long one WatchLogs call keeps log polling on
}

// Overview is the dashboard summary.
type Overview struct {
	Status             string           `json:"status"`
	InternetActive     bool             `json:"internet_active"`
	AdblockStatus      router.JobStatus `json:"adblock_status"`
	OnlineDevices      int              `json:"online_devices"`
	BlockedApps        int              `json:"blocked_apps"`
	ActiveCustomBlocks int              `json:"active_custom_blocks"`
	TotalBlocked       int              `json:"total_blocked"`
	TotalAllowed       int              `json:"total_allowed"`
	ThroughputMbps     float64          `json:"throughput_mbps"`
	DataUsage          string           `json:"data_usage"`
	PendingChanges     int              `json:"pending_changes"`
	Sync               policy.State     `json:"sync"`
	UpdatedAt          time.Time        `json:"updated_at,omitempty"`
}

// AdblockView is the background job state with its log.
type AdblockView struct {
	Status router.JobStatus  `json:"status"`
	Logs   []router.LogEntry `json:"logs"`
}

// Monitor holds the last known router state. Failed fetches leave it as is.
type Monitor struct {
	client    RouterAPI
	engine    *policy.Engine
	leases    storage.LeaseStore
	estimator *traffic.Estimator
	names     *nameCache
	cfg       Config
	now       func() time.Time
	logger    zerolog.Logger

	mu             sync.RWMutex
	internetActive bool
	job            router.JobStatus
	logs           []router.LogEntry
	devices        []DeviceView
	connected      *int
	apps           map[string]bool
	dataUsage      router.DataUsage
	watchUntil     time.Time
	updatedAt      time.Time
}

// New creates a monitor
func New(client RouterAPI, engine *policy.Engine, leases storage.LeaseStore, cfg Config, logger zerolog.Logger) (*Monitor, error) {
	if cfg.NameCacheSize <= 0 {
		cfg.NameCacheSize = 256
	}
	if cfg.LogWatchWindow <= 0 {
		cfg.LogWatchWindow = 30 * time.Second
	}

	names, err := newNameCache(cfg.NameCacheSize)
	if err != nil {
		return nil, err
	}

	return &Monitor{
		client:         client,
		engine:         engine,
		leases:         leases,
		estimator:      traffic.NewEstimator(),
		names:          names,
		cfg:            cfg,
		now:            time.Now,
		logger:         logger.With().Str("component", "monitor").Logger(),
		internetActive: true,
		job:            router.JobIdle,
		apps:           make(map[string]bool),
	}, nil
}

// SetClock overrides the sample clock (for testing)
func (m *Monitor) SetClock(now func() time.Time) {
	m.now = now
}

// Seed loads the cached lease list so devices show before the first poll.
func (m *Monitor) Seed(ctx context.Context) error {
	leases, err := m.leases.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to load cached leases: %w", err)
	}

	records := devicesFromLeases(leases, m.now())
	views := projectDevices(records, m.names)

	m.mu.Lock()
	m.devices = views
	m.mu.Unlock()

	metrics.DevicesOnline.Set(float64(countOnline(views)))
	m.logger.Debug().Int("devices", len(views)).Msg("Seeded devices from lease cache")
	return nil
}

// Tasks returns the poll tasks for this monitor.
func (m *Monitor) Tasks() []*poller.Task {
	tasks := []*poller.Task{
		{Name: TaskStatus, Interval: m.cfg.StatusInterval, Fetch: m.FetchStatus},
		{Name: TaskStats, Interval: m.cfg.StatsInterval, Fetch: m.FetchStats},
		{Name: TaskRules, Interval: m.cfg.RulesInterval, Fetch: m.FetchRules},
		{Name: TaskAdblock, Interval: m.cfg.JobInterval, Fetch: m.FetchAdblock, Enabled: m.adblockActive},
	}
	if m.cfg.DevicesInterval > 0 {
		tasks = append(tasks, &poller.Task{Name: TaskDevices, Interval: m.cfg.DevicesInterval, Fetch: m.FetchDevices})
	}
	return tasks
}

// FetchStatus refreshes connectivity and the job status.
func (m *Monitor) FetchStatus(ctx context.Context) error {
	status, err := m.client.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch status: %w", err)
	}

	m.mu.Lock()
	changed := m.internetActive != status.InternetActive
	m.internetActive = status.InternetActive
	m.updatedAt = m.now()
	m.mu.Unlock()

	if changed {
		if status.InternetActive {
			m.engine.Notify(policy.EventStatus, policy.LevelInfo, "Internet resumed")
		} else {
			m.engine.Notify(policy.EventStatus, policy.LevelInfo, "Internet paused")
		}
	}

	job, err := m.client.AdblockStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch adblock status: %w", err)
	}
	m.setJob(job.Status)
	return nil
}

// FetchStats feeds the throughput estimator and refreshes devices and data
// usage.
func (m *Monitor) FetchStats(ctx context.Context) error {
	stats, err := m.client.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch stats: %w", err)
	}
	now := m.now()

	if stats.Traffic != nil {
		sample := traffic.Sample{
			RxBytes:    uint64(stats.Traffic.Rx),
			TxBytes:    uint64(stats.Traffic.Tx),
			ObservedAt: now,
		}
		rate, outcome := m.estimator.ObserveDetailed(sample)
		metrics.ThroughputMbps.Set(rate)
		metrics.TrafficBytes.WithLabelValues("rx").Set(float64(sample.RxBytes))
		metrics.TrafficBytes.WithLabelValues("tx").Set(float64(sample.TxBytes))
		if outcome != traffic.OutcomeMeasured {
			m.logger.Debug().Str("outcome", outcome.String()).Msg("Traffic sample not measured")
		}
	}

	m.mu.Lock()
	m.dataUsage = stats.DataUsage
	m.connected = stats.ConnectedDevices
	m.updatedAt = now
	m.mu.Unlock()

	if stats.Devices != nil {
		m.updateDevices(ctx, stats.Devices, now)
	}
	return nil
}

// FetchDevices refreshes the device list from /api/devices.
func (m *Monitor) FetchDevices(ctx context.Context) error {
	devices, err := m.client.Devices(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch devices: %w", err)
	}
	m.updateDevices(ctx, devices, m.now())
	return nil
}

// FetchRules reads the router's rule lists and offers them to the engine.
// Custom block records from /api/blocklist carry their active flag and are
// preferred; the plain domain list from /api/blocklist/custom is the
// fallback. A list that fails to load is left out of the snapshot.
func (m *Monitor) FetchRules(ctx context.Context) error {
	snapshot := make(map[policy.List][]policy.Rule)
	var errs []error

	bl, blErr := m.client.Blocklist(ctx)
	if blErr != nil {
		errs = append(errs, fmt.Errorf("failed to fetch app blocklist: %w", blErr))
	} else if bl.Apps != nil {
		m.mu.Lock()
		m.apps = bl.Apps
		m.mu.Unlock()
	}

	if blErr == nil && len(bl.Custom) > 0 {
		snapshot[policy.ListBlock] = rulesFromRecords(bl.Custom)
	} else if custom, err := m.client.CustomBlocklist(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to fetch custom blocklist: %w", err))
	} else {
		rules := make([]policy.Rule, 0, len(custom))
		for _, domain := range custom {
			rules = append(rules, policy.Rule{Domain: domain, Active: true})
		}
		snapshot[policy.ListBlock] = rules
	}

	allow, err := m.client.Allowlist(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to fetch allowlist: %w", err))
	} else {
		snapshot[policy.ListAllow] = rulesFromRecords(allow)
	}

	if len(snapshot) > 0 {
		err := m.engine.Reconcile(snapshot)
		switch {
		case errors.Is(err, policy.ErrReconcileDeferred):
			m.logger.Debug().Msg("Local changes pending, router rules not merged")
		case err != nil:
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func rulesFromRecords(records []router.RuleRecord) []policy.Rule {
	rules := make([]policy.Rule, 0, len(records))
	for _, rec := range records {
		rules = append(rules, policy.Rule{Domain: rec.Domain, Active: rec.Active})
	}
	return rules
}

// FetchAdblock refreshes the job status and its log.
func (m *Monitor) FetchAdblock(ctx context.Context) error {
	job, err := m.client.AdblockStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch adblock status: %w", err)
	}
	m.setJob(job.Status)

	logs, err := m.client.AdblockLogs(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch adblock logs: %w", err)
	}

	m.mu.Lock()
	m.logs = logs
	m.mu.Unlock()
	return nil
}

// WatchLogs keeps the adblock task polling for the log watch window.
func (m *Monitor) WatchLogs() {
	m.mu.Lock()
	m.watchUntil = m.now().Add(m.cfg.LogWatchWindow)
	m.mu.Unlock()
}

// Overview returns the dashboard summary.
func (m *Monitor) Overview() Overview {
	state := m.engine.State()
	block := m.engine.Rules(policy.ListBlock)
	allow := m.engine.Rules(policy.ListAllow)

	m.mu.RLock()
	defer m.mu.RUnlock()

	o := Overview{
		Status:         StatusText(m.internetActive, m.job),
		InternetActive: m.internetActive,
		AdblockStatus:  m.job,
		OnlineDevices:  countOnline(m.devices),
		ThroughputMbps: m.estimator.Rate(),
		DataUsage:      m.dataUsage.Total,
		PendingChanges: state.Pending,
		Sync:           state,
		UpdatedAt:      m.updatedAt,
	}
	if m.connected != nil {
		o.OnlineDevices = *m.connected
	}
	if o.DataUsage == "" {
		o.DataUsage = "0 GB"
	}

	for _, blocked := range m.apps {
		if blocked {
			o.BlockedApps++
		}
	}
	for _, r := range block {
		if r.Active {
			o.ActiveCustomBlocks++
		}
	}
	for _, r := range allow {
		if r.Active {
			o.TotalAllowed++
		}
	}
	o.TotalBlocked = o.BlockedApps + o.ActiveCustomBlocks

	return o
}

// Devices returns the current device views.
func (m *Monitor) Devices() []DeviceView {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]DeviceView{}, m.devices...)
}

// Adblock returns the job status and the last fetched log.
func (m *Monitor) Adblock() AdblockView {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return AdblockView{
		Status: m.job,
		Logs:   append([]router.LogEntry{}, m.logs...),
	}
}

// StatusText picks the dashboard status line.
func StatusText(internetActive bool, job router.JobStatus) string {
	switch {
	case !internetActive:
		return StatusInternetPaused
	case job == router.JobLoading:
		return StatusLoadingBlocklist
	case job == router.JobError:
		return StatusAdblockError
	default:
		return StatusOperational
	}
}

func (m *Monitor) adblockActive() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.job == router.JobLoading || m.now().Before(m.watchUntil)
}

func (m *Monitor) setJob(status router.JobStatus) {
	if status == "" {
		status = router.JobIdle
	}

	m.mu.Lock()
	prev := m.job
	m.job = status
	m.mu.Unlock()

	if prev == status {
		return
	}
	m.logger.Info().Str("from", string(prev)).Str("to", string(status)).Msg("Adblock job status changed")

	switch {
	case status == router.JobError:
		m.engine.Notify(policy.EventStatus, policy.LevelError, StatusAdblockError)
	case status == router.JobLoading:
		m.engine.Notify(policy.EventStatus, policy.LevelInfo, StatusLoadingBlocklist)
	case prev == router.JobLoading && status == router.JobIdle:
		m.engine.Notify(policy.EventStatus, policy.LevelSuccess, "Blocklist loaded")
	}
}

func (m *Monitor) updateDevices(ctx context.Context, records []router.Device, now time.Time) {
	views := projectDevices(records, m.names)

	m.mu.Lock()
	m.devices = views
	m.mu.Unlock()

	metrics.DevicesOnline.Set(float64(countOnline(views)))

	leases := leasesFromDevices(records, now)
	if len(leases) == 0 {
		return
	}
	if err := m.leases.Replace(ctx, leases); err != nil {
		m.logger.Warn().Err(err).Msg("Failed to cache device leases")
	}
}
