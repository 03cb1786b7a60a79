package api

import (
	"time"

	"github.com/google/uuid"

	"jobwatch/search-service/internal/model"
)

// configRequest is the JSON shape accepted on create/update/preview. Weekday
// sets arrive as lowercase English day names.
type configRequest struct {
	Name            string   `json:"name"`
	Keywords        []string `json:"keywords"`
	SearchLogic     string   `json:"searchLogic"`
	CustomLogic     string   `json:"customLogic"`
	LocationFilter  string   `json:"locationFilter"`
	JobSites        []string `json:"jobSites"`
	MaxJobAgeHours  int      `json:"maxJobAgeHours"`
	Frequency       string   `json:"frequency"`
	CustomFrequency *struct {
		Days          []string `json:"days"`
		IntervalWeeks int      `json:"intervalWeeks"`
	} `json:"customFrequency"`
	Anchor     string   `json:"anchor"`
	WeeklyDays []string `json:"weeklyDays"`
	Timezone   string   `json:"timezone"`
	IsActive   bool     `json:"isActive"`
}

func (r *configRequest) toModel() (*model.SearchConfig, error) {
	cfg := &model.SearchConfig{
		Name:           r.Name,
		Keywords:       r.Keywords,
		SearchLogic:    model.SearchLogic(r.SearchLogic),
		CustomLogic:    r.CustomLogic,
		LocationFilter: r.LocationFilter,
		JobSites:       r.JobSites,
		MaxJobAgeHours: r.MaxJobAgeHours,
		Frequency:      model.Frequency(r.Frequency),
		Anchor:         r.Anchor,
		Timezone:       r.Timezone,
		IsActive:       r.IsActive,
	}

	if r.CustomFrequency != nil {
		cf := &model.CustomFrequency{IntervalWeeks: r.CustomFrequency.IntervalWeeks}
		for _, name := range r.CustomFrequency.Days {
			d, err := model.ParseWeekday(name)
			if err != nil {
				return nil, err
			}
			cf.Days = append(cf.Days, d)
		}
		cfg.Custom = cf
	}

	for _, name := range r.WeeklyDays {
		d, err := model.ParseWeekday(name)
		if err != nil {
			return nil, err
		}
		cfg.WeeklyDays = append(cfg.WeeklyDays, d)
	}

	return cfg, nil
}

// configResponse is the JSON shape returned for a configuration.
type configResponse struct {
	ID              uuid.UUID              `json:"id"`
	Name            string                 `json:"name"`
	Keywords        []string               `json:"keywords"`
	SearchLogic     model.SearchLogic      `json:"searchLogic"`
	CustomLogic     string                 `json:"customLogic,omitempty"`
	LocationFilter  string                 `json:"locationFilter,omitempty"`
	JobSites        []string               `json:"jobSites"`
	MaxJobAgeHours  int                    `json:"maxJobAgeHours"`
	Frequency       model.Frequency        `json:"frequency"`
	CustomFrequency *model.CustomFrequency `json:"customFrequency,omitempty"`
	Anchor          string                 `json:"anchor"`
	WeeklyDays      []string               `json:"weeklyDays,omitempty"`
	Timezone        string                 `json:"timezone,omitempty"`
	IsActive        bool                   `json:"isActive"`
	LastRunAt       *time.Time             `json:"lastRunAt"`
	NextRunAt       *time.Time             `json:"nextRunAt"`
}

func toConfigResponse(c *model.SearchConfig) configResponse {
	resp := configResponse{
		ID:              c.ID,
		Name:            c.Name,
		Keywords:        c.Keywords,
		SearchLogic:     c.SearchLogic,
		CustomLogic:     c.CustomLogic,
		LocationFilter:  c.LocationFilter,
		JobSites:        c.JobSites,
		MaxJobAgeHours:  c.MaxJobAgeHours,
		Frequency:       c.Frequency,
		CustomFrequency: c.Custom,
		Anchor:          c.Anchor,
		Timezone:        c.Timezone,
		IsActive:        c.IsActive,
		LastRunAt:       c.LastRunAt,
		NextRunAt:       c.NextRunAt,
	}
	if resp.JobSites == nil {
		resp.JobSites = []string{}
	}
	for _, d := range c.WeeklyDays {
		resp.WeeklyDays = append(resp.WeeklyDays, dayName(d))
	}
	return resp
}

// resultResponse is the JSON shape returned for a discovered job.
type resultResponse struct {
	ID           uuid.UUID  `json:"id,omitempty"`
	Title        string     `json:"title"`
	Link         string     `json:"link"`
	Snippet      string     `json:"snippet"`
	Site         string     `json:"site"`
	Keyword      string     `json:"keyword,omitempty"`
	PostedAt     *time.Time `json:"postedAt"`
	DiscoveredAt time.Time  `json:"discoveredAt"`
}

func toResultResponses(results []model.JobResult) []resultResponse {
	out := make([]resultResponse, 0, len(results))
	for _, r := range results {
		out = append(out, resultResponse{
			ID:           r.ID,
			Title:        r.Title,
			Link:         r.Link,
			Snippet:      r.Snippet,
			Site:         r.Site,
			Keyword:      r.Keyword,
			PostedAt:     r.PostedAt,
			DiscoveredAt: r.DiscoveredAt,
		})
	}
	return out
}

func dayName(d time.Weekday) string {
	switch d {
	case time.Sunday:
		return "sunday"
	case time.Monday:
		return "monday"
	case time.Tuesday:
		return "tuesday"
	case time.Wednesday:
		return "wednesday"
	case time.Thursday:
		return "thursday"
	case time.Friday:
		return "friday"
	case time.Saturday:
		return "saturday"
	}
	return ""
}
