package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"market_cache/internal/domain"
	"market_cache/internal/infra"
	"market_cache/internal/service"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// Dataset names used in logs, metrics and the run log.
const (
	DatasetPrices        = "prices"
	DatasetHistoryDaily  = "history_daily"
	DatasetHistoryHourly = "history_hourly"
	DatasetPools         = "pools"
	DatasetListing       = "collections_listing"
	DatasetEnrich        = "collections_enrich"
)

// runRetention is how long refresh runs are kept in the run log.
const runRetention = 7 * 24 * time.Hour

// RunRecorder persists refresh attempts.
type RunRecorder interface {
	Record(run *domain.RefreshRun) error
	Prune(cutoff time.Time) (int64, error)
}

// Sources bundles the upstream clients the caches refresh from.
type Sources struct {
	Prices      domain.PriceSource
	History     domain.HistorySource
	Pools       domain.PoolSource
	Collections domain.CollectionSource
}

type dataset struct {
	name     string
	interval time.Duration
	job      *Job
	size     func() int
	updated  func() time.Time
}

type cycleKey struct{}

// Orchestrator owns every cache and drives one refresh loop per dataset.
type Orchestrator struct {
	Prices      *service.PriceCache
	Daily       *service.HistoryCache
	Hourly      *service.HistoryCache
	Pools       *service.PoolCache
	Collections *service.CollectionCache

	datasets        []*dataset
	byName          map[string]*dataset
	dailySpec       string
	hourlySpec      string
	onDemandTimeout time.Duration

	metrics *infra.Metrics
	runs    RunRecorder
	logger  *slog.Logger
	clock   Clock

	cron   *cron.Cron
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOrchestrator builds the caches and their jobs from cfg. runs may be nil.
func NewOrchestrator(cfg *infra.Config, src Sources, metrics *infra.Metrics, runs RunRecorder, logger *slog.Logger, opts ...JobOption) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = infra.NewMetrics()
	}
	cur := cfg.Currencies
	ref := cfg.Refresh

	o := &Orchestrator{
		Prices:      service.NewPriceCache(src.Prices, cur.From, cur.To),
		Daily:       service.NewHistoryCache(src.History, domain.CadenceDaily, cur.From, cur.To, cur.Base, ref.DailyLimit),
		Hourly:      service.NewHistoryCache(src.History, domain.CadenceHourly, cur.From, cur.To, cur.Base, ref.HourlyLimit),
		Pools:       service.NewPoolCache(src.Pools),
		Collections: service.NewCollectionCache(src.Collections, ref.EnrichWindow, ref.EnrichPerSecond),

		byName:          make(map[string]*dataset),
		dailySpec:       fmt.Sprintf("%d %d 0 * * *", ref.RealignGraceSec%60, ref.RealignGraceSec/60),
		hourlySpec:      fmt.Sprintf("%d %d * * * *", ref.RealignGraceSec%60, ref.RealignGraceSec/60),
		onDemandTimeout: time.Duration(ref.OnDemandTimeoutSec) * time.Second,
		metrics:         metrics,
		runs:            runs,
		logger:          logger.With("module", "orchestrator"),
		clock:           RealClock,
	}

	enrich := func(ctx context.Context) error {
		rep, err := o.Collections.EnrichTick(ctx)
		o.logger.Debug("enrichment tick",
			slog.Int("keys", rep.Keys),
			slog.Int("start", rep.Start),
			slog.Int("end", rep.End),
			slog.Int("failed", rep.Failed),
			slog.Int("next", rep.Next))
		return err
	}

	o.add(DatasetPrices, ref.PriceIntervalMS, o.Prices.Refresh, o.Prices.Len, o.Prices.UpdatedAt, cfg, opts)
	o.add(DatasetHistoryDaily, ref.DailyIntervalMS, o.Daily.Refresh, o.Daily.Pairs, o.Daily.UpdatedAt, cfg, opts)
	o.add(DatasetHistoryHourly, ref.HourlyIntervalMS, o.Hourly.Refresh, o.Hourly.Pairs, o.Hourly.UpdatedAt, cfg, opts)
	o.add(DatasetPools, ref.PoolsIntervalMS, o.Pools.Refresh, o.Pools.Len, o.Pools.UpdatedAt, cfg, opts)
	o.add(DatasetListing, ref.ListingIntervalMS, o.Collections.RefreshListing, func() int {
		n, _ := o.Collections.Stats()
		return n
	}, o.Collections.UpdatedAt, cfg, opts)
	// Enrichment writes per key; its freshness is the newest run in the run log
	o.add(DatasetEnrich, ref.EnrichIntervalMS, enrich, func() int {
		_, n := o.Collections.Stats()
		return n
	}, nil, cfg, opts)
	return o
}

func (o *Orchestrator) add(name string, intervalMS int64, op func(context.Context) error, size func() int, updated func() time.Time, cfg *infra.Config, opts []JobOption) {
	interval := infra.Interval(intervalMS)
	all := append([]JobOption{WithAttemptHook(o.observe(name))}, opts...)
	job := NewJob(name, interval, cfg.BackoffCap(), op, all...)
	d := &dataset{name: name, interval: interval, job: job, size: size, updated: updated}
	o.datasets = append(o.datasets, d)
	o.byName[name] = d
}

// observe returns the attempt hook of one dataset. It is the only place
// refresh outcomes are logged.
func (o *Orchestrator) observe(name string) func(context.Context, Attempt) {
	return func(ctx context.Context, a Attempt) {
		cycleID, _ := ctx.Value(cycleKey{}).(string)
		kind := domain.KindOf(a.Err)

		o.metrics.RecordCycle(name, a.Duration, a.Err)

		log := o.logger.With(
			slog.String("dataset", name),
			slog.String("cycle", cycleID),
			slog.Int("attempt", a.Number),
			slog.Duration("duration", a.Duration))

		switch {
		case a.Err == nil:
			if d := o.byName[name]; d != nil {
				o.metrics.SetSize(name, d.size())
			}
			log.Info("refresh succeeded")
		case kind == domain.KindPartial:
			if d := o.byName[name]; d != nil {
				o.metrics.SetSize(name, d.size())
			}
			log.Warn("refresh partially failed", slog.Any("error", a.Err))
		case a.Retry > 0:
			log.Warn("refresh failed, retrying",
				slog.String("kind", string(kind)),
				slog.Duration("retry_in", a.Retry),
				slog.Any("error", a.Err))
		default:
			log.Error("refresh failed",
				slog.String("kind", string(kind)),
				slog.Any("error", a.Err))
		}

		if o.runs != nil {
			run := &domain.RefreshRun{
				CycleID:    cycleID,
				Dataset:    name,
				Attempt:    a.Number,
				StartedAt:  a.Started.UTC(),
				DurationMS: a.Duration.Milliseconds(),
				Kind:       kind,
			}
			if a.Err != nil {
				run.Error = a.Err.Error()
			}
			if err := o.runs.Record(run); err != nil {
				log.Warn("failed to record refresh run", slog.Any("error", err))
			}
		}
	}
}

// Trigger runs one cycle of the named dataset, including any backoff
// retries, and blocks until it ends. A trigger while a cycle of the same
// dataset is in flight is dropped and returns ErrInFlight.
func (o *Orchestrator) Trigger(ctx context.Context, name string) (err error) {
	d, ok := o.byName[name]
	if !ok {
		return fmt.Errorf("%w: dataset %q", domain.ErrNotFound, name)
	}

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("refresh panic recovered", slog.String("dataset", name), slog.Any("panic", r))
			err = fmt.Errorf("refresh %s panicked: %v", name, r)
		}
	}()

	ctx = context.WithValue(ctx, cycleKey{}, uuid.NewString())
	err = d.job.Run(ctx)
	if errors.Is(err, ErrInFlight) {
		o.metrics.RecordCoalesced(name)
		o.logger.Debug("refresh coalesced", slog.String("dataset", name))
	}
	return err
}

// Start triggers every dataset once and then on its interval. History is
// additionally realigned to UTC midnight and to each hour, plus the grace
// period.
func (o *Orchestrator) Start(ctx context.Context) error {
	ctx, o.cancel = context.WithCancel(ctx)

	o.cron = cron.New(cron.WithSeconds(), cron.WithLocation(time.UTC))
	if _, err := o.cron.AddFunc(o.dailySpec, func() { o.Trigger(ctx, DatasetHistoryDaily) }); err != nil {
		o.cancel()
		return fmt.Errorf("schedule daily realignment: %w", err)
	}
	if _, err := o.cron.AddFunc(o.hourlySpec, func() { o.Trigger(ctx, DatasetHistoryHourly) }); err != nil {
		o.cancel()
		return fmt.Errorf("schedule hourly realignment: %w", err)
	}
	if _, err := o.cron.AddFunc("0 30 3 * * *", func() { o.pruneRuns() }); err != nil {
		o.cancel()
		return fmt.Errorf("schedule run log pruning: %w", err)
	}
	o.cron.Start()

	for _, d := range o.datasets {
		o.wg.Add(1)
		go o.loop(ctx, d)
	}

	o.logger.Info("orchestrator started",
		slog.Int("datasets", len(o.datasets)),
		slog.String("daily_realign", o.dailySpec),
		slog.String("hourly_realign", o.hourlySpec))
	return nil
}

func (o *Orchestrator) loop(ctx context.Context, d *dataset) {
	defer o.wg.Done()

	fire := func() {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.Trigger(ctx, d.name)
		}()
	}

	fire()
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fire()
		}
	}
}

func (o *Orchestrator) pruneRuns() {
	if o.runs == nil {
		return
	}
	n, err := o.runs.Prune(o.clock.Now().Add(-runRetention))
	if err != nil {
		o.logger.Warn("run log pruning failed", slog.Any("error", err))
		return
	}
	o.logger.Debug("run log pruned", slog.Int64("removed", n))
}

// Stop cancels all loops and waits for in-flight cycles to return.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	if o.cron != nil {
		<-o.cron.Stop().Done()
	}
	o.wg.Wait()
	o.logger.Info("orchestrator stopped")
}

// EnsurePrices returns the price table, attempting one bounded on-demand
// refresh when the cache is still empty.
func (o *Orchestrator) EnsurePrices(ctx context.Context) (domain.PriceTable, error) {
	if t, ok := o.Prices.Table(); ok {
		return t, nil
	}

	timeout := o.onDemandTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := o.Trigger(ctx, DatasetPrices); errors.Is(err, ErrInFlight) {
		// A scheduled cycle is running; wait for it within the same bound
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			if t, ok := o.Prices.Table(); ok {
				return t, nil
			}
			select {
			case <-ctx.Done():
				return nil, domain.ErrNotReady
			case <-ticker.C:
			}
		}
	}

	if t, ok := o.Prices.Table(); ok {
		return t, nil
	}
	return nil, domain.ErrNotReady
}

// History returns the cache for cadence.
func (o *Orchestrator) History(c domain.Cadence) *service.HistoryCache {
	if c == domain.CadenceHourly {
		return o.Hourly
	}
	return o.Daily
}

// JobStatus is the scheduler view of one dataset.
type JobStatus struct {
	Dataset  string        `json:"dataset"`
	State    string        `json:"state"`
	Attempt  int           `json:"attempt,omitempty"`
	Interval time.Duration `json:"intervalNs"`
	Size     int           `json:"size"`
	// UpdatedAt is the unix millis of the last cache replacement, 0 if never.
	UpdatedAt int64 `json:"updatedAt,omitempty"`
}

// Status returns every dataset's job state sorted by name.
func (o *Orchestrator) Status() []JobStatus {
	out := make([]JobStatus, 0, len(o.datasets))
	for _, d := range o.datasets {
		state, attempt := d.job.State()
		st := JobStatus{
			Dataset:  d.name,
			State:    state.String(),
			Attempt:  attempt,
			Interval: d.interval,
			Size:     d.size(),
		}
		if d.updated != nil {
			if at := d.updated(); !at.IsZero() {
				st.UpdatedAt = at.UnixMilli()
			}
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Dataset < out[j].Dataset })
	return out
}
