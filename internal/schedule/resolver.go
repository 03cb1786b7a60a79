// Package schedule computes the next eligible run instant for a search
// configuration. NextRun is a pure function: rescheduling after an edit or a
// process restart always lands on the same instant, so a run is neither
// double-fired nor skipped.
package schedule

import (
	"fmt"
	"time"

	"jobwatch/search-service/internal/model"
)

// NextRun returns the first instant strictly after from at which cfg is due,
// evaluated in the configuration's timezone. It assumes cfg passed save-time
// validation; the only errors it can return are a corrupted anchor or
// timezone on an already-persisted row.
func NextRun(cfg *model.SearchConfig, from time.Time) (time.Time, error) {
	loc, err := cfg.Location()
	if err != nil {
		return time.Time{}, fmt.Errorf("load timezone: %w", err)
	}
	hour, minute, err := model.ParseAnchor(cfg.Anchor)
	if err != nil {
		return time.Time{}, err
	}

	local := from.In(loc)

	switch cfg.Frequency {
	case model.FreqHourly:
		return nextHourly(local, minute), nil
	case model.Freq2Hourly:
		return nextAnchoredInterval(local, hour, minute, 2), nil
	case model.Freq3Hourly:
		return nextAnchoredInterval(local, hour, minute, 3), nil
	case model.FreqDaily:
		return nextOnDays(local, hour, minute, allWeekdays), nil
	case model.FreqWeekdays:
		return nextOnDays(local, hour, minute, mondayToFriday), nil
	case model.FreqWeekly, model.FreqTwiceWeekly:
		return nextOnDays(local, hour, minute, daySet(cfg.WeeklyDays)), nil
	case model.FreqCustom:
		return nextCustom(local, hour, minute, cfg.Custom, cfg.ActivatedAt.In(loc)), nil
	}
	return time.Time{}, fmt.Errorf("unknown frequency %q", cfg.Frequency)
}

var allWeekdays = map[time.Weekday]bool{
	time.Sunday: true, time.Monday: true, time.Tuesday: true,
	time.Wednesday: true, time.Thursday: true, time.Friday: true,
	time.Saturday: true,
}

var mondayToFriday = map[time.Weekday]bool{
	time.Monday: true, time.Tuesday: true, time.Wednesday: true,
	time.Thursday: true, time.Friday: true,
}

func daySet(days []time.Weekday) map[time.Weekday]bool {
	set := make(map[time.Weekday]bool, len(days))
	for _, d := range days {
		set[d] = true
	}
	return set
}

// nextHourly fires at the anchor minute of every hour.
func nextHourly(local time.Time, minute int) time.Time {
	t := time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), minute, 0, 0, local.Location())
	if !t.After(local) {
		t = t.Add(time.Hour)
	}
	return t
}

// nextAnchoredInterval fires at the anchor time-of-day and then every
// stepHours after it until the calendar day ends; the cycle restarts at the
// next day's anchor.
func nextAnchoredInterval(local time.Time, hour, minute, stepHours int) time.Time {
	for dayOffset := 0; ; dayOffset++ {
		day := local.AddDate(0, 0, dayOffset)
		anchor := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, local.Location())
		for t := anchor; sameDate(t, anchor); t = t.Add(time.Duration(stepHours) * time.Hour) {
			if t.After(local) {
				return t
			}
		}
	}
}

// nextOnDays fires at the anchor time on every weekday in days.
func nextOnDays(local time.Time, hour, minute int, days map[time.Weekday]bool) time.Time {
	for dayOffset := 0; dayOffset <= 7; dayOffset++ {
		day := local.AddDate(0, 0, dayOffset)
		if !days[day.Weekday()] {
			continue
		}
		t := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, local.Location())
		if t.After(local) {
			return t
		}
	}
	// Unreachable: a non-empty day set always yields a slot within 8 days.
	return time.Time{}
}

// nextCustom fires at the anchor time on the selected weekdays, but only in
// weeks aligned to IntervalWeeks counted from the activation week.
func nextCustom(local time.Time, hour, minute int, custom *model.CustomFrequency, activated time.Time) time.Time {
	days := daySet(custom.Days)
	epoch := startOfWeek(activated)
	// IntervalWeeks*7+7 days always contains the next aligned slot.
	horizon := custom.IntervalWeeks*7 + 7
	for dayOffset := 0; dayOffset <= horizon; dayOffset++ {
		day := local.AddDate(0, 0, dayOffset)
		if !days[day.Weekday()] {
			continue
		}
		if weeksBetween(epoch, startOfWeek(day))%custom.IntervalWeeks != 0 {
			continue
		}
		t := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, local.Location())
		if t.After(local) {
			return t
		}
	}
	return time.Time{}
}

// startOfWeek returns midnight of the Monday of t's week.
func startOfWeek(t time.Time) time.Time {
	offset := (int(t.Weekday()) + 6) % 7 // Monday = 0
	day := t.AddDate(0, 0, -offset)
	return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, t.Location())
}

// weeksBetween counts calendar weeks between two Monday midnights. The dates
// are re-anchored in UTC first so a DST shift between them cannot turn a
// 7-day week into 167 hours and skew the count.
func weeksBetween(from, to time.Time) int {
	fy, fm, fd := from.Date()
	ty, tm, td := to.Date()
	f := time.Date(fy, fm, fd, 0, 0, 0, 0, time.UTC)
	u := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)
	days := int(u.Sub(f).Hours() / 24)
	if days < 0 {
		days = -days
	}
	return days / 7
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
