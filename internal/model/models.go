// Package model defines the shared data structures for the search service:
// search configurations, job results and run outcomes.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SearchLogic controls how keywords are combined into a query.
type SearchLogic string

const (
	LogicAnd    SearchLogic = "AND"
	LogicOr     SearchLogic = "OR"
	LogicCustom SearchLogic = "CUSTOM"
)

// ParseSearchLogic converts a raw string to a SearchLogic, returning an error
// for unknown values.
func ParseSearchLogic(s string) (SearchLogic, error) {
	l := SearchLogic(s)
	switch l {
	case LogicAnd, LogicOr, LogicCustom:
		return l, nil
	}
	return "", fmt.Errorf("unknown search logic %q", s)
}

// Frequency names a scheduling cadence.
type Frequency string

const (
	FreqHourly      Frequency = "hourly"
	Freq2Hourly     Frequency = "2hourly"
	Freq3Hourly     Frequency = "3hourly"
	FreqDaily       Frequency = "daily"
	FreqWeekdays    Frequency = "weekdays"
	FreqWeekly      Frequency = "weekly"
	FreqTwiceWeekly Frequency = "twice_weekly"
	FreqCustom      Frequency = "custom"
)

// ParseFrequency converts a raw string to a Frequency, returning an error for
// unknown values.
func ParseFrequency(s string) (Frequency, error) {
	f := Frequency(s)
	switch f {
	case FreqHourly, Freq2Hourly, Freq3Hourly, FreqDaily,
		FreqWeekdays, FreqWeekly, FreqTwiceWeekly, FreqCustom:
		return f, nil
	}
	return "", fmt.Errorf("unknown frequency %q", s)
}

// CustomFrequency describes a user-defined cadence: the pattern runs on each
// weekday in Days and repeats every IntervalWeeks weeks, counted from the ISO
// week in which the configuration was activated.
type CustomFrequency struct {
	Days          []time.Weekday `json:"days"`
	IntervalWeeks int            `json:"intervalWeeks"`
}

// SearchConfig is a saved, named search + schedule definition owned by one
// user. LastRunAt and NextRunAt are written only by the executor holding the
// configuration's run claim.
type SearchConfig struct {
	ID     uuid.UUID
	UserID uuid.UUID
	Name   string

	Keywords    []string
	SearchLogic SearchLogic
	CustomLogic string

	LocationFilter string
	JobSites       []string // empty = all known sites
	MaxJobAgeHours int

	Frequency  Frequency
	Custom     *CustomFrequency // required iff Frequency == FreqCustom
	Anchor     string           // "HH:MM"; hourly cadence uses only the minute
	WeeklyDays []time.Weekday   // weekly: one day; twice_weekly: two days
	Timezone   string

	IsActive    bool
	ActivatedAt time.Time

	LastRunAt *time.Time
	NextRunAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ParseAnchor splits an "HH:MM" anchor into hour and minute.
func ParseAnchor(anchor string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", anchor)
	if err != nil {
		return 0, 0, fmt.Errorf("anchor must be HH:MM, got %q", anchor)
	}
	return t.Hour(), t.Minute(), nil
}

// Location resolves the configuration's timezone, defaulting to UTC.
func (c *SearchConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Timezone)
}

// JobResult is a single posting discovered by a search run. Its identity is
// the (Site, Link) pair; rows are never mutated after insertion.
type JobResult struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	ConfigID     uuid.UUID
	Title        string
	Link         string
	Snippet      string
	Site         string
	Keyword      string
	PostedAt     *time.Time // best effort; nil when the source gave no date
	DiscoveredAt time.Time
}

// DedupKey returns the deduplication identity for a result within a run and
// across runs of the same configuration.
func (r *JobResult) DedupKey() string {
	return r.Site + "|" + CanonicalLink(r.Link)
}

// CanonicalLink normalises a posting URL for deduplication: the fragment is
// dropped, the trailing slash trimmed and the scheme+host lowercased.
func CanonicalLink(link string) string {
	if i := strings.IndexByte(link, '#'); i >= 0 {
		link = link[:i]
	}
	link = strings.TrimSuffix(link, "/")
	if i := strings.Index(link, "://"); i >= 0 {
		if j := strings.IndexByte(link[i+3:], '/'); j >= 0 {
			return strings.ToLower(link[:i+3+j]) + link[i+3+j:]
		}
		return strings.ToLower(link)
	}
	return link
}

// RunStatus is the terminal status of one executed run.
type RunStatus string

const (
	RunSuccess        RunStatus = "SUCCESS"
	RunPartialFailure RunStatus = "PARTIAL_FAILURE"
	RunFailure        RunStatus = "FAILURE"
)

// RunOutcome records the result of one pipeline execution for one
// configuration at one due instant. Immutable after creation.
type RunOutcome struct {
	ConfigID     uuid.UUID
	RunAt        time.Time
	Status       RunStatus
	ResultsCount int
	ErrorSummary string // present iff Status != RunSuccess
	Sample       bool   // true when the run served degraded-mode sample data
}

// DefaultJobSites lists the applicant-tracking domains searched when a
// configuration does not restrict its job sites.
var DefaultJobSites = []string{
	"myworkdayjobs.com",
	"greenhouse.io",
	"icims.com",
	"taleo.net",
	"lever.co",
	"smartrecruiters.com",
	"jobvite.com",
	"workforcenow.adp.com",
	"successfactors.com",
	"brassring.com",
	"jazzhr.com",
	"breezy.hr",
	"jobdiva.com",
	"bullhorn.com",
	"bamboohr.com",
}

// KnownJobSite reports whether site is one of the built-in searchable domains.
func KnownJobSite(site string) bool {
	for _, s := range DefaultJobSites {
		if s == site {
			return true
		}
	}
	return false
}

// SiteFromLink extracts the job site a URL belongs to, or "unknown".
func SiteFromLink(link string) string {
	for _, s := range DefaultJobSites {
		if strings.Contains(link, s) {
			return s
		}
	}
	return "unknown"
}

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ParseWeekday converts a lowercase English day name to a time.Weekday.
func ParseWeekday(name string) (time.Weekday, error) {
	d, ok := weekdayNames[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("unknown weekday %q", name)
	}
	return d, nil
}
