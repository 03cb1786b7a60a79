package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"jobwatch/search-service/internal/model"
	"jobwatch/search-service/internal/notify"
	"jobwatch/search-service/internal/schedule"
	"jobwatch/search-service/internal/search"
)

// ErrClaimConflict is the benign "someone else is already running this
// configuration" signal; the scan tick simply skips it.
var ErrClaimConflict = errors.New("configuration already claimed")

// Store is the persistence surface the executor drives.
type Store interface {
	ListActiveConfigs(ctx context.Context) ([]model.SearchConfig, error)
	GetConfigByID(ctx context.Context, id uuid.UUID) (*model.SearchConfig, error)
	UpdateSchedule(ctx context.Context, id uuid.UUID, lastRunAt, nextRunAt *time.Time) error
	InsertResults(ctx context.Context, results []model.JobResult) (int, error)
	InsertOutcome(ctx context.Context, o *model.RunOutcome) error
	NotificationEmail(ctx context.Context, userID uuid.UUID) (string, error)
}

// Claims is the per-configuration single-flight guard.
type Claims interface {
	Claim(ctx context.Context, configID uuid.UUID) (bool, error)
	Release(ctx context.Context, configID uuid.UUID) error
}

// Searcher runs one aggregation pass.
type Searcher interface {
	Search(ctx context.Context, req search.Request) (*search.Outcome, error)
}

// Notifier delivers one run's digest.
type Notifier interface {
	Dispatch(ctx context.Context, cfg *model.SearchConfig, recipient string, results []model.JobResult, runAt time.Time) (notify.Result, error)
}

// Events announces result changes to the presentation layer.
type Events interface {
	PublishResultsUpdated(ctx context.Context, userID, configID uuid.UUID, count int) error
}

// Executor owns the set of active configurations and drives each due one
// through the pipeline: query build → aggregation → notification → outcome.
// Configurations run in parallel with each other; the claim guard keeps each
// individual configuration single-flight.
type Executor struct {
	store    Store
	claims   Claims
	searcher Searcher
	notifier Notifier
	events   Events
	log      *logrus.Entry

	scanInterval time.Duration
	runTimeout   time.Duration
	now          func() time.Time

	cron *cron.Cron
	wg   sync.WaitGroup

	mu     sync.Mutex
	states map[uuid.UUID]State
}

// New constructs an Executor.
func New(st Store, claims Claims, searcher Searcher, notifier Notifier, events Events, log *logrus.Entry, scanInterval, runTimeout time.Duration) *Executor {
	return &Executor{
		store:        st,
		claims:       claims,
		searcher:     searcher,
		notifier:     notifier,
		events:       events,
		log:          log,
		scanInterval: scanInterval,
		runTimeout:   runTimeout,
		now:          time.Now,
		cron:         cron.New(),
		states:       make(map[uuid.UUID]State),
	}
}

// Start registers the recurring due-check and runs one scan immediately so a
// restart picks up overdue configurations without waiting for the first tick.
func (e *Executor) Start() error {
	_, err := e.cron.AddFunc(fmt.Sprintf("@every %s", e.scanInterval), e.Scan)
	if err != nil {
		return fmt.Errorf("cron.AddFunc: %w", err)
	}
	e.cron.Start()
	e.log.WithField("interval", e.scanInterval).Info("scan loop started")

	go e.Scan()
	return nil
}

// Stop halts the scan loop and waits for in-flight runs, bounded by ctx.
func (e *Executor) Stop(ctx context.Context) {
	cronCtx := e.cron.Stop()
	select {
	case <-cronCtx.Done():
	case <-ctx.Done():
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		e.log.Info("scan loop stopped")
	case <-ctx.Done():
		e.log.Warn("shutdown deadline reached with runs still in flight")
	}
}

// Snapshot returns an eventually-consistent copy of the per-configuration
// states for status displays.
func (e *Executor) Snapshot() map[uuid.UUID]State {
	e.mu.Lock()
	defer e.mu.Unlock()
	snap := make(map[uuid.UUID]State, len(e.states))
	for id, s := range e.states {
		snap[id] = s
	}
	return snap
}

func (e *Executor) setState(id uuid.UUID, to State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	from, ok := e.states[id]
	if !ok {
		from = StateIdle
	}
	if from != to && !CanTransition(from, to) {
		e.log.WithFields(logrus.Fields{"config": id, "from": from, "to": to}).
			Warn("unexpected state transition")
	}
	if to == StateIdle {
		delete(e.states, id)
		return
	}
	e.states[id] = to
}

// Scan performs one due-check pass over all active configurations. A single
// configuration's failure never aborts the pass.
func (e *Executor) Scan() {
	ctx, cancel := context.WithTimeout(context.Background(), e.scanInterval)
	defer cancel()

	configs, err := e.store.ListActiveConfigs(ctx)
	if err != nil {
		e.log.WithError(err).Error("listing active configurations failed")
		return
	}

	now := e.now().UTC()
	for i := range configs {
		cfg := configs[i]

		if cfg.NextRunAt == nil {
			// Newly activated or never scheduled: initialise the
			// schedule, the run itself waits for its due instant.
			next, err := schedule.NextRun(&cfg, now)
			if err != nil {
				e.log.WithError(err).WithField("config", cfg.ID).Error("cannot resolve next run")
				continue
			}
			nextUTC := next.UTC()
			if err := e.store.UpdateSchedule(ctx, cfg.ID, cfg.LastRunAt, &nextUTC); err != nil {
				e.log.WithError(err).WithField("config", cfg.ID).Error("persisting next run failed")
			}
			continue
		}

		if now.Before(*cfg.NextRunAt) {
			continue
		}

		e.setState(cfg.ID, StateDue)
		claimed, err := e.claims.Claim(ctx, cfg.ID)
		if err != nil {
			e.log.WithError(err).WithField("config", cfg.ID).Error("claiming run failed")
			e.setState(cfg.ID, StateIdle)
			continue
		}
		if !claimed {
			e.log.WithError(ErrClaimConflict).WithField("config", cfg.ID).Debug("skipping tick")
			e.setState(cfg.ID, StateIdle)
			continue
		}

		// Re-read under the claim: edits made between the listing and the
		// claim belong to this run, not the next one.
		fresh, err := e.store.GetConfigByID(ctx, cfg.ID)
		if err != nil || !fresh.IsActive {
			if err != nil {
				e.log.WithError(err).WithField("config", cfg.ID).Debug("configuration gone after claim")
			}
			if rerr := e.claims.Release(ctx, cfg.ID); rerr != nil {
				e.log.WithError(rerr).WithField("config", cfg.ID).Warn("releasing claim failed")
			}
			e.setState(cfg.ID, StateIdle)
			continue
		}

		e.wg.Add(1)
		go e.run(*fresh, *cfg.NextRunAt)
	}
}

// run executes the full pipeline for one claimed configuration. It always
// reaches a terminal state, records a RunOutcome, and advances NextRunAt so
// a failing configuration is never retried forever on the same instant.
func (e *Executor) run(cfg model.SearchConfig, dueAt time.Time) {
	defer e.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), e.runTimeout)
	defer cancel()

	defer func() {
		if err := e.claims.Release(ctx, cfg.ID); err != nil {
			e.log.WithError(err).WithField("config", cfg.ID).Warn("releasing claim failed")
		}
		e.setState(cfg.ID, StateIdle)
	}()

	e.setState(cfg.ID, StateRunning)
	log := e.log.WithFields(logrus.Fields{"config": cfg.ID, "runAt": dueAt})
	log.Info("run started")

	outcome := e.pipeline(ctx, &cfg, dueAt, log)

	if outcome.Status == model.RunFailure {
		e.setState(cfg.ID, StateFailed)
	} else {
		e.setState(cfg.ID, StateCompleted)
	}

	if err := e.store.InsertOutcome(ctx, outcome); err != nil {
		log.WithError(err).Error("recording run outcome failed")
	}
	e.advanceSchedule(ctx, cfg.ID, log)

	log.WithFields(logrus.Fields{"status": outcome.Status, "results": outcome.ResultsCount}).
		Info("run finished")
}

// pipeline performs query build → aggregation → persistence → notification
// and folds every error into the run outcome.
func (e *Executor) pipeline(ctx context.Context, cfg *model.SearchConfig, dueAt time.Time, log *logrus.Entry) *model.RunOutcome {
	outcome := &model.RunOutcome{ConfigID: cfg.ID, RunAt: dueAt.UTC(), Status: model.RunSuccess}

	terms, err := search.BuildQuery(cfg.Keywords, cfg.SearchLogic, cfg.CustomLogic)
	if err != nil {
		outcome.Status = model.RunFailure
		outcome.ErrorSummary = fmt.Sprintf("query build: %v", err)
		return outcome
	}

	agg, err := e.searcher.Search(ctx, search.Request{
		ConfigID:       cfg.ID,
		Terms:          terms,
		Keywords:       cfg.Keywords,
		Logic:          cfg.SearchLogic,
		LocationFilter: cfg.LocationFilter,
		Sites:          cfg.JobSites,
		MaxAgeHours:    cfg.MaxJobAgeHours,
		SuppressSeen:   true,
	})
	if err != nil {
		outcome.Status = model.RunFailure
		outcome.ErrorSummary = fmt.Sprintf("search: %v", err)
		return outcome
	}

	outcome.Sample = agg.Sample
	outcome.ResultsCount = len(agg.Results)
	var summaries []string
	if len(agg.SourceErrors) > 0 {
		summaries = append(summaries, summarizeSourceErrors(agg.SourceErrors))
		if !agg.Sample && len(agg.Results) > 0 {
			outcome.Status = model.RunPartialFailure
		} else if !agg.Sample && len(agg.Results) == 0 {
			outcome.Status = model.RunFailure
		}
	}

	if agg.Sample {
		// Degraded mode: the synthetic set is flagged on the outcome and
		// visible through the preview/status paths, but it is neither
		// persisted as discovered jobs nor emailed as if it were live.
		// Nothing authoritative happened, so the run is a partial failure.
		outcome.Status = model.RunPartialFailure
		outcome.ErrorSummary = strings.Join(append(summaries, "degraded mode: served sample results"), "; ")
		return outcome
	}

	for i := range agg.Results {
		agg.Results[i].UserID = cfg.UserID
		agg.Results[i].ConfigID = cfg.ID
	}
	inserted, err := e.store.InsertResults(ctx, agg.Results)
	if err != nil {
		outcome.Status = model.RunFailure
		summaries = append(summaries, fmt.Sprintf("persist results: %v", err))
		outcome.ErrorSummary = strings.Join(summaries, "; ")
		return outcome
	}
	if inserted > 0 && e.events != nil {
		if err := e.events.PublishResultsUpdated(ctx, cfg.UserID, cfg.ID, inserted); err != nil {
			log.WithError(err).Warn("publishing results-updated event failed")
		}
	}

	if len(agg.Results) > 0 {
		if err := e.deliver(ctx, cfg, agg.Results, dueAt); err != nil {
			// Results were found but not delivered: downgrade, never
			// silently drop the discovery.
			if outcome.Status == model.RunSuccess {
				outcome.Status = model.RunPartialFailure
			}
			summaries = append(summaries, fmt.Sprintf("delivery: %v", err))
		}
	}

	outcome.ErrorSummary = strings.Join(summaries, "; ")
	return outcome
}

func (e *Executor) deliver(ctx context.Context, cfg *model.SearchConfig, results []model.JobResult, dueAt time.Time) error {
	recipient, err := e.store.NotificationEmail(ctx, cfg.UserID)
	if err != nil {
		return fmt.Errorf("resolve recipient: %w", err)
	}
	res, err := e.notifier.Dispatch(ctx, cfg, recipient, results, dueAt)
	if err != nil {
		return err
	}
	if res.Retried > 0 {
		e.log.WithFields(logrus.Fields{"config": cfg.ID, "retries": res.Retried}).
			Info("digest delivered after retries")
	}
	return nil
}

// advanceSchedule recomputes NextRunAt from a fresh snapshot so schedule
// edits made while the run was in flight take effect now, not one cycle late.
func (e *Executor) advanceSchedule(ctx context.Context, configID uuid.UUID, log *logrus.Entry) {
	fresh, err := e.store.GetConfigByID(ctx, configID)
	if err != nil {
		// Deleted mid-run: nothing left to schedule.
		log.WithError(err).Debug("configuration gone, skipping reschedule")
		return
	}

	completed := e.now().UTC()
	next, err := schedule.NextRun(fresh, completed)
	if err != nil {
		log.WithError(err).Error("cannot resolve next run, configuration stalls")
		return
	}
	nextUTC := next.UTC()
	if err := e.store.UpdateSchedule(ctx, configID, &completed, &nextUTC); err != nil {
		log.WithError(err).Error("persisting schedule failed")
	}
}

// summarizeSourceErrors flattens per-site failures into a bounded, ordered,
// stack-trace-free summary for the configuration owner.
func summarizeSourceErrors(sourceErrors map[string]error) string {
	sites := make([]string, 0, len(sourceErrors))
	for site := range sourceErrors {
		sites = append(sites, site)
	}
	sort.Strings(sites)

	parts := make([]string, 0, len(sites))
	for _, site := range sites {
		parts = append(parts, fmt.Sprintf("%s unavailable", site))
	}
	if len(parts) > 5 {
		parts = append(parts[:5], fmt.Sprintf("and %d more sources", len(parts)-5))
	}
	return strings.Join(parts, ", ")
}
