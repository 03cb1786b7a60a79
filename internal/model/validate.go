package model

import (
	"fmt"
	"strings"
	"time"
)

// ConfigInvalidError reports a configuration rejected at save time. Schedule
// and logic mistakes must never surface at run time.
type ConfigInvalidError struct {
	Field string
	Msg   string
}

func (e *ConfigInvalidError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Msg)
}

func invalid(field, format string, args ...any) error {
	return &ConfigInvalidError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// Normalize trims and case-insensitively deduplicates keywords (first
// spelling wins), uppercases the logic, and fills the weekly-day defaults the
// scheduler relies on: Monday for weekly, Monday+Thursday for twice-weekly.
func Normalize(c *SearchConfig) {
	seen := make(map[string]struct{}, len(c.Keywords))
	kept := c.Keywords[:0]
	for _, kw := range c.Keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		key := strings.ToLower(kw)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		kept = append(kept, kw)
	}
	c.Keywords = kept
	c.SearchLogic = SearchLogic(strings.ToUpper(string(c.SearchLogic)))
	c.CustomLogic = strings.TrimSpace(c.CustomLogic)
	c.Name = strings.TrimSpace(c.Name)

	if len(c.WeeklyDays) == 0 {
		switch c.Frequency {
		case FreqWeekly:
			c.WeeklyDays = []time.Weekday{time.Monday}
		case FreqTwiceWeekly:
			c.WeeklyDays = []time.Weekday{time.Monday, time.Thursday}
		}
	}
}

// Validate enforces every save-time invariant on a normalized configuration.
func Validate(c *SearchConfig) error {
	if c.Name == "" {
		return invalid("name", "must not be empty")
	}

	if _, err := ParseSearchLogic(string(c.SearchLogic)); err != nil {
		return invalid("searchLogic", "%v", err)
	}
	switch c.SearchLogic {
	case LogicCustom:
		if c.CustomLogic == "" {
			return invalid("customLogic", "required when searchLogic is CUSTOM")
		}
	default:
		if c.CustomLogic != "" {
			return invalid("customLogic", "only allowed when searchLogic is CUSTOM")
		}
		if len(c.Keywords) == 0 {
			return invalid("keywords", "at least one keyword is required")
		}
	}

	for _, site := range c.JobSites {
		if !KnownJobSite(site) {
			return invalid("jobSites", "unknown job site %q", site)
		}
	}

	if c.MaxJobAgeHours < 1 {
		return invalid("maxJobAgeHours", "must be a positive number of hours")
	}

	if _, err := ParseFrequency(string(c.Frequency)); err != nil {
		return invalid("frequency", "%v", err)
	}
	switch c.Frequency {
	case FreqCustom:
		if c.Custom == nil {
			return invalid("customFrequency", "required when frequency is custom")
		}
		if c.Custom.IntervalWeeks < 1 {
			return invalid("customFrequency.intervalWeeks", "must be at least 1")
		}
		if len(c.Custom.Days) == 0 {
			return invalid("customFrequency.days", "must select at least one day")
		}
		for _, d := range c.Custom.Days {
			if d < time.Sunday || d > time.Saturday {
				return invalid("customFrequency.days", "unknown weekday %d", d)
			}
		}
	default:
		if c.Custom != nil {
			return invalid("customFrequency", "only allowed when frequency is custom")
		}
	}

	if _, _, err := ParseAnchor(c.Anchor); err != nil {
		return invalid("anchor", "%v", err)
	}

	switch c.Frequency {
	case FreqWeekly:
		if len(c.WeeklyDays) != 1 {
			return invalid("weeklyDays", "weekly frequency needs exactly one day")
		}
	case FreqTwiceWeekly:
		if len(c.WeeklyDays) != 2 || c.WeeklyDays[0] == c.WeeklyDays[1] {
			return invalid("weeklyDays", "twice-weekly frequency needs two distinct days")
		}
	}

	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return invalid("timezone", "unknown timezone %q", c.Timezone)
		}
	}

	return nil
}
