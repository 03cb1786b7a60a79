package search

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"jobwatch/search-service/internal/model"
)

// RecentCache suppresses results already notified in earlier runs of the
// same configuration. It is best-effort: a cache failure never fails a run.
type RecentCache interface {
	// Seen returns the subset of keys already recorded for the config.
	Seen(ctx context.Context, configID uuid.UUID, keys []string) (map[string]bool, error)
	// Remember records keys so later runs suppress them.
	Remember(ctx context.Context, configID uuid.UUID, keys []string) error
}

// Request describes one aggregation pass.
type Request struct {
	ConfigID       uuid.UUID
	Terms          string
	Keywords       []string
	Logic          model.SearchLogic
	LocationFilter string
	Sites          []string // empty = all known sites
	MaxAgeHours    int
	// SuppressSeen engages the cross-run recent-result cache. Preview
	// searches leave it off so a saved configuration's cache is untouched.
	SuppressSeen bool
}

// Outcome is an aggregation pass result. Sample marks a degraded-mode
// synthetic set; callers must never present it as live data.
type Outcome struct {
	Results      []model.JobResult
	SourceErrors map[string]error
	Sample       bool
}

// Aggregator fans a query out across job sites with a bounded worker pool,
// merges the batches, applies the age and location filters and deduplicates.
type Aggregator struct {
	backend Backend
	recent  RecentCache
	log     *logrus.Entry

	workers     int
	siteTimeout time.Duration
	now         func() time.Time
}

// NewAggregator constructs an Aggregator with workers concurrent site calls
// and a per-site timeout.
func NewAggregator(backend Backend, recent RecentCache, log *logrus.Entry, workers int, siteTimeout time.Duration) *Aggregator {
	if workers < 1 {
		workers = 1
	}
	return &Aggregator{
		backend:     backend,
		recent:      recent,
		log:         log,
		workers:     workers,
		siteTimeout: siteTimeout,
		now:         time.Now,
	}
}

type siteBatch struct {
	site    string
	order   int // completion order, higher = discovered more recently
	results []model.JobResult
}

// Search runs one aggregation pass. One site's failure is recorded in
// SourceErrors without aborting the others; only when every site fails, or
// the backend is not configured at all, does the pass fall back to the
// flagged sample set.
func (a *Aggregator) Search(ctx context.Context, req Request) (*Outcome, error) {
	sites := req.Sites
	if len(sites) == 0 {
		sites = model.DefaultJobSites
	}

	var (
		mu            sync.Mutex
		batches       []siteBatch
		sourceErrors  = make(map[string]error)
		notConfigured bool
	)

	jobs := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < a.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for site := range jobs {
				results, err := a.searchSite(ctx, req, site)
				mu.Lock()
				if err != nil {
					if errors.Is(err, ErrNotConfigured) {
						notConfigured = true
					}
					sourceErrors[site] = &SourceError{Site: site, Err: err}
				} else {
					batches = append(batches, siteBatch{site: site, order: len(batches), results: results})
				}
				mu.Unlock()
			}
		}()
	}
	for _, site := range sites {
		jobs <- site
	}
	close(jobs)
	wg.Wait()

	if notConfigured || len(sourceErrors) == len(sites) {
		a.log.WithField("config", req.ConfigID).Warn("search degraded: serving sample results")
		return &Outcome{
			Results:      SampleResults(req.Keywords, req.Logic, req.MaxAgeHours, a.now().UTC()),
			SourceErrors: sourceErrors,
			Sample:       true,
		}, nil
	}

	merged := a.merge(batches, req)

	if req.SuppressSeen && a.recent != nil {
		merged = a.suppressSeen(ctx, req.ConfigID, merged)
	}

	return &Outcome{Results: merged, SourceErrors: sourceErrors}, nil
}

func (a *Aggregator) searchSite(ctx context.Context, req Request, site string) ([]model.JobResult, error) {
	siteCtx := ctx
	if a.siteTimeout > 0 {
		var cancel context.CancelFunc
		siteCtx, cancel = context.WithTimeout(ctx, a.siteTimeout)
		defer cancel()
	}
	return a.backend.Search(siteCtx, SiteRequest{
		Terms:       req.Terms,
		Site:        site,
		Location:    req.LocationFilter,
		MaxAgeHours: req.MaxAgeHours,
	})
}

// merge orders batches most-recently-discovered first, sorts each batch by
// posting date (unknown last), then applies the location post-filter, the
// age filter and in-run deduplication.
func (a *Aggregator) merge(batches []siteBatch, req Request) []model.JobResult {
	sort.SliceStable(batches, func(i, j int) bool {
		return batches[i].order > batches[j].order
	})

	cutoff := a.now().UTC().Add(-time.Duration(req.MaxAgeHours) * time.Hour)
	postFilterLocation := req.LocationFilter != "" && !a.backend.AppliesLocation()

	seen := make(map[string]struct{})
	var merged []model.JobResult
	for _, batch := range batches {
		results := append([]model.JobResult(nil), batch.results...)
		sort.SliceStable(results, func(i, j int) bool {
			pi, pj := results[i].PostedAt, results[j].PostedAt
			switch {
			case pi == nil:
				return false
			case pj == nil:
				return true
			default:
				return pi.After(*pj)
			}
		})

		for _, r := range results {
			if r.Keyword == "" && len(req.Keywords) > 0 {
				r.Keyword = req.Keywords[0]
			}
			// A result exactly max-age old is retained; staleness
			// cannot be proven for unknown posting dates either.
			if r.PostedAt != nil && r.PostedAt.Before(cutoff) {
				continue
			}
			if postFilterLocation && !matchesLocation(&r, req.LocationFilter) {
				continue
			}
			key := r.DedupKey()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			merged = append(merged, r)
		}
	}
	return merged
}

// matchesLocation implements the post-hoc location filter for backends that
// cannot apply it natively. The filter is an OR of terms, possibly quoted
// ("remote OR \"United States\""); any term matching the result text keeps
// the result.
func matchesLocation(r *model.JobResult, filter string) bool {
	haystack := strings.ToLower(r.Title + " " + r.Snippet)
	for _, term := range strings.Split(filter, " OR ") {
		term = strings.ToLower(strings.TrimSpace(strings.Trim(strings.TrimSpace(term), `"`)))
		if term == "" {
			continue
		}
		if strings.Contains(haystack, term) {
			return true
		}
	}
	return false
}

func (a *Aggregator) suppressSeen(ctx context.Context, configID uuid.UUID, results []model.JobResult) []model.JobResult {
	keys := make([]string, len(results))
	for i := range results {
		keys[i] = results[i].DedupKey()
	}

	seen, err := a.recent.Seen(ctx, configID, keys)
	if err != nil {
		a.log.WithError(err).Warn("recent-result cache read failed, keeping all results")
		return results
	}

	var fresh []model.JobResult
	var freshKeys []string
	for i, r := range results {
		if seen[keys[i]] {
			continue
		}
		fresh = append(fresh, r)
		freshKeys = append(freshKeys, keys[i])
	}

	if len(freshKeys) > 0 {
		if err := a.recent.Remember(ctx, configID, freshKeys); err != nil {
			a.log.WithError(err).Warn("recent-result cache write failed")
		}
	}
	return fresh
}
