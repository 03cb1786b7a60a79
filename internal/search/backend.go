package search

import (
	"context"
	"errors"
	"fmt"

	"jobwatch/search-service/internal/model"
)

// ErrNotConfigured signals that the external search capability is missing its
// credentials. Callers must distinguish it from a query that matched nothing.
var ErrNotConfigured = errors.New("search backend not configured")

// SiteRequest is one backend call: a keyword expression scoped to one job
// site.
type SiteRequest struct {
	Terms       string
	Site        string
	Location    string
	MaxAgeHours int
}

// Backend is the external search capability each site call goes through.
type Backend interface {
	// Search runs the scoped query and returns normalised results.
	Search(ctx context.Context, req SiteRequest) ([]model.JobResult, error)
	// AppliesLocation reports whether the backend honours the location
	// filter natively; when false the aggregator filters post-hoc.
	AppliesLocation() bool
}

// SourceError records one site's failure without aborting the run.
type SourceError struct {
	Site string
	Err  error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %s: %v", e.Site, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }
