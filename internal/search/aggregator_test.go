package search

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobwatch/search-service/internal/model"
)

var fixedNow = time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

// fakeBackend serves canned per-site results or errors.
type fakeBackend struct {
	results        map[string][]model.JobResult
	errs           map[string]error
	appliesLoc     bool
	requestedSites []string
}

func (f *fakeBackend) Search(ctx context.Context, req SiteRequest) ([]model.JobResult, error) {
	f.requestedSites = append(f.requestedSites, req.Site)
	if err, ok := f.errs[req.Site]; ok {
		return nil, err
	}
	return f.results[req.Site], nil
}

func (f *fakeBackend) AppliesLocation() bool { return f.appliesLoc }

// fakeRecentCache is an in-memory RecentCache.
type fakeRecentCache struct {
	seen    map[string]bool
	seenErr error
}

func newFakeRecentCache() *fakeRecentCache {
	return &fakeRecentCache{seen: make(map[string]bool)}
}

func (f *fakeRecentCache) Seen(ctx context.Context, configID uuid.UUID, keys []string) (map[string]bool, error) {
	if f.seenErr != nil {
		return nil, f.seenErr
	}
	out := make(map[string]bool)
	for _, k := range keys {
		if f.seen[k] {
			out[k] = true
		}
	}
	return out, nil
}

func (f *fakeRecentCache) Remember(ctx context.Context, configID uuid.UUID, keys []string) error {
	for _, k := range keys {
		f.seen[k] = true
	}
	return nil
}

func testLog() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

// Single worker keeps site completion order equal to request order, and the
// pinned clock makes age-filter boundaries exact.
func newTestAggregator(backend Backend, recent RecentCache) *Aggregator {
	agg := NewAggregator(backend, recent, testLog(), 1, 0)
	agg.now = func() time.Time { return fixedNow }
	return agg
}

func resultAt(site, link string, age time.Duration) model.JobResult {
	posted := fixedNow.Add(-age)
	return model.JobResult{
		Title:    "Go Developer",
		Link:     link,
		Snippet:  "Go role",
		Site:     site,
		PostedAt: &posted,
	}
}

func links(results []model.JobResult) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.Link)
	}
	return out
}

func TestAggregator_PartialSourceFailure(t *testing.T) {
	backend := &fakeBackend{
		results: map[string][]model.JobResult{
			"greenhouse.io": {resultAt("greenhouse.io", "https://greenhouse.io/a", time.Hour)},
			"lever.co":      {resultAt("lever.co", "https://lever.co/b", time.Hour)},
		},
		errs: map[string]error{"icims.com": errors.New("503")},
	}
	agg := newTestAggregator(backend, nil)

	out, err := agg.Search(context.Background(), Request{
		ConfigID:    uuid.New(),
		Terms:       `"golang"`,
		Keywords:    []string{"golang"},
		Sites:       []string{"greenhouse.io", "lever.co", "icims.com"},
		MaxAgeHours: 24,
	})
	require.NoError(t, err)

	assert.False(t, out.Sample)
	assert.Len(t, out.Results, 2)
	require.Len(t, out.SourceErrors, 1)

	var srcErr *SourceError
	require.ErrorAs(t, out.SourceErrors["icims.com"], &srcErr)
	assert.Equal(t, "icims.com", srcErr.Site)
}

func TestAggregator_AllSourcesFailServesSample(t *testing.T) {
	backend := &fakeBackend{
		errs: map[string]error{
			"greenhouse.io": errors.New("timeout"),
			"lever.co":      errors.New("timeout"),
		},
	}
	agg := newTestAggregator(backend, nil)

	out, err := agg.Search(context.Background(), Request{
		ConfigID:    uuid.New(),
		Keywords:    []string{"golang"},
		Logic:       model.LogicAnd,
		Sites:       []string{"greenhouse.io", "lever.co"},
		MaxAgeHours: 24,
	})
	require.NoError(t, err)

	assert.True(t, out.Sample)
	assert.NotEmpty(t, out.Results)
	assert.Len(t, out.SourceErrors, 2)
	for _, r := range out.Results {
		assert.Contains(t, r.Title, "golang")
	}
}

func TestAggregator_NotConfiguredServesSample(t *testing.T) {
	backend := &fakeBackend{
		errs: map[string]error{"greenhouse.io": ErrNotConfigured},
	}
	agg := newTestAggregator(backend, nil)

	out, err := agg.Search(context.Background(), Request{
		ConfigID:    uuid.New(),
		Keywords:    []string{"golang", "rust"},
		Logic:       model.LogicOr,
		Sites:       []string{"greenhouse.io"},
		MaxAgeHours: 24,
	})
	require.NoError(t, err)

	assert.True(t, out.Sample)
	// OR fabricates one entry per keyword.
	assert.Len(t, out.Results, 2)
}

func TestAggregator_DefaultsToKnownSites(t *testing.T) {
	backend := &fakeBackend{}
	agg := newTestAggregator(backend, nil)

	_, err := agg.Search(context.Background(), Request{
		ConfigID:    uuid.New(),
		Keywords:    []string{"golang"},
		MaxAgeHours: 24,
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, model.DefaultJobSites, backend.requestedSites)
}

func TestAggregator_AgeFilterBoundary(t *testing.T) {
	exactly := resultAt("greenhouse.io", "https://greenhouse.io/exact", 24*time.Hour)
	older := resultAt("greenhouse.io", "https://greenhouse.io/old", 24*time.Hour+time.Second)
	undated := model.JobResult{
		Title: "Undated Role",
		Link:  "https://greenhouse.io/undated",
		Site:  "greenhouse.io",
	}
	backend := &fakeBackend{
		results: map[string][]model.JobResult{
			"greenhouse.io": {exactly, older, undated},
		},
	}
	agg := newTestAggregator(backend, nil)

	out, err := agg.Search(context.Background(), Request{
		ConfigID:    uuid.New(),
		Keywords:    []string{"golang"},
		Sites:       []string{"greenhouse.io"},
		MaxAgeHours: 24,
	})
	require.NoError(t, err)

	got := links(out.Results)
	assert.Contains(t, got, "https://greenhouse.io/exact", "exactly max-age old is retained")
	assert.Contains(t, got, "https://greenhouse.io/undated", "unknown posting date is retained")
	assert.NotContains(t, got, "https://greenhouse.io/old")
}

func TestAggregator_InRunDedup(t *testing.T) {
	backend := &fakeBackend{
		results: map[string][]model.JobResult{
			"greenhouse.io": {
				resultAt("greenhouse.io", "https://greenhouse.io/jobs/1", time.Hour),
				resultAt("greenhouse.io", "https://greenhouse.io/jobs/1/", 2*time.Hour),
				resultAt("greenhouse.io", "HTTPS://GREENHOUSE.IO/jobs/1#apply", 3*time.Hour),
			},
		},
	}
	agg := newTestAggregator(backend, nil)

	out, err := agg.Search(context.Background(), Request{
		ConfigID:    uuid.New(),
		Keywords:    []string{"golang"},
		Sites:       []string{"greenhouse.io"},
		MaxAgeHours: 24,
	})
	require.NoError(t, err)
	assert.Len(t, out.Results, 1)
}

func TestAggregator_OrderingWithinBatch(t *testing.T) {
	backend := &fakeBackend{
		results: map[string][]model.JobResult{
			"greenhouse.io": {
				resultAt("greenhouse.io", "https://greenhouse.io/older", 10*time.Hour),
				resultAt("greenhouse.io", "https://greenhouse.io/newer", time.Hour),
				{Title: "Undated", Link: "https://greenhouse.io/undated", Site: "greenhouse.io"},
			},
		},
	}
	agg := newTestAggregator(backend, nil)

	out, err := agg.Search(context.Background(), Request{
		ConfigID:    uuid.New(),
		Keywords:    []string{"golang"},
		Sites:       []string{"greenhouse.io"},
		MaxAgeHours: 24,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"https://greenhouse.io/newer",
		"https://greenhouse.io/older",
		"https://greenhouse.io/undated",
	}, links(out.Results))
}

func TestAggregator_LocationPostFilter(t *testing.T) {
	match := resultAt("greenhouse.io", "https://greenhouse.io/remote", time.Hour)
	match.Snippet = "Fully remote Go role"
	miss := resultAt("greenhouse.io", "https://greenhouse.io/onsite", time.Hour)
	miss.Snippet = "Onsite in Munich"

	backend := &fakeBackend{
		results:    map[string][]model.JobResult{"greenhouse.io": {match, miss}},
		appliesLoc: false,
	}
	agg := newTestAggregator(backend, nil)

	out, err := agg.Search(context.Background(), Request{
		ConfigID:       uuid.New(),
		Keywords:       []string{"golang"},
		LocationFilter: `remote OR "New York"`,
		Sites:          []string{"greenhouse.io"},
		MaxAgeHours:    24,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://greenhouse.io/remote"}, links(out.Results))
}

func TestAggregator_LocationFilterSkippedWhenBackendApplies(t *testing.T) {
	miss := resultAt("greenhouse.io", "https://greenhouse.io/onsite", time.Hour)
	miss.Snippet = "Onsite in Munich"

	backend := &fakeBackend{
		results:    map[string][]model.JobResult{"greenhouse.io": {miss}},
		appliesLoc: true,
	}
	agg := newTestAggregator(backend, nil)

	out, err := agg.Search(context.Background(), Request{
		ConfigID:       uuid.New(),
		Keywords:       []string{"golang"},
		LocationFilter: "remote",
		Sites:          []string{"greenhouse.io"},
		MaxAgeHours:    24,
	})
	require.NoError(t, err)
	assert.Len(t, out.Results, 1)
}

func TestAggregator_SuppressSeenAcrossRuns(t *testing.T) {
	backend := &fakeBackend{
		results: map[string][]model.JobResult{
			"greenhouse.io": {resultAt("greenhouse.io", "https://greenhouse.io/a", time.Hour)},
		},
	}
	recent := newFakeRecentCache()
	agg := newTestAggregator(backend, recent)

	req := Request{
		ConfigID:     uuid.New(),
		Keywords:     []string{"golang"},
		Sites:        []string{"greenhouse.io"},
		MaxAgeHours:  24,
		SuppressSeen: true,
	}

	first, err := agg.Search(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, first.Results, 1)

	second, err := agg.Search(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, second.Results, "already-notified result must be suppressed")
}

func TestAggregator_PreviewLeavesCacheUntouched(t *testing.T) {
	backend := &fakeBackend{
		results: map[string][]model.JobResult{
			"greenhouse.io": {resultAt("greenhouse.io", "https://greenhouse.io/a", time.Hour)},
		},
	}
	recent := newFakeRecentCache()
	agg := newTestAggregator(backend, recent)

	out, err := agg.Search(context.Background(), Request{
		ConfigID:    uuid.New(),
		Keywords:    []string{"golang"},
		Sites:       []string{"greenhouse.io"},
		MaxAgeHours: 24,
	})
	require.NoError(t, err)
	assert.Len(t, out.Results, 1)
	assert.Empty(t, recent.seen)
}

func TestAggregator_CacheFailureKeepsResults(t *testing.T) {
	backend := &fakeBackend{
		results: map[string][]model.JobResult{
			"greenhouse.io": {resultAt("greenhouse.io", "https://greenhouse.io/a", time.Hour)},
		},
	}
	recent := newFakeRecentCache()
	recent.seenErr = errors.New("redis down")
	agg := newTestAggregator(backend, recent)

	out, err := agg.Search(context.Background(), Request{
		ConfigID:     uuid.New(),
		Keywords:     []string{"golang"},
		Sites:        []string{"greenhouse.io"},
		MaxAgeHours:  24,
		SuppressSeen: true,
	})
	require.NoError(t, err)
	assert.Len(t, out.Results, 1)
}

func TestAggregator_FillsDefaultKeyword(t *testing.T) {
	backend := &fakeBackend{
		results: map[string][]model.JobResult{
			"greenhouse.io": {resultAt("greenhouse.io", "https://greenhouse.io/a", time.Hour)},
		},
	}
	agg := newTestAggregator(backend, nil)

	out, err := agg.Search(context.Background(), Request{
		ConfigID:    uuid.New(),
		Keywords:    []string{"golang", "backend"},
		Sites:       []string{"greenhouse.io"},
		MaxAgeHours: 24,
	})
	require.NoError(t, err)
	require.Len(t, out.Results, 1)
	assert.Equal(t, "golang", out.Results[0].Keyword)
}
