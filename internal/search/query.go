// Package search implements query construction and the multi-site search
// aggregation pipeline: fan-out, filtering, deduplication and the sample
// fallback used when no real search backend is configured.
package search

import (
	"errors"
	"fmt"
	"strings"

	"jobwatch/search-service/internal/model"
)

// ErrEmptyQuery is returned when no keywords are given and the logic cannot
// fall back to a custom expression.
var ErrEmptyQuery = errors.New("search query is empty")

// BuildQuery converts a keyword list plus logic mode into a keyword
// expression.
//
//	AND    → one quoted phrase requiring every keyword to co-occur
//	OR     → keywords joined with OR, any keyword may match
//	CUSTOM → the raw custom expression, falling back to OR when empty
func BuildQuery(keywords []string, logic model.SearchLogic, custom string) (string, error) {
	switch logic {
	case model.LogicCustom:
		if custom != "" {
			return custom, nil
		}
		if len(keywords) == 0 {
			return "", ErrEmptyQuery
		}
		return strings.Join(keywords, " OR "), nil
	case model.LogicOr:
		if len(keywords) == 0 {
			return "", ErrEmptyQuery
		}
		return strings.Join(keywords, " OR "), nil
	default: // AND
		if len(keywords) == 0 {
			return "", ErrEmptyQuery
		}
		return `"` + strings.Join(keywords, " ") + `"`, nil
	}
}

// SiteQuery scopes a keyword expression to a single job site, quoting the
// location filter when present.
func SiteQuery(terms, site, location string) string {
	q := fmt.Sprintf("(site:%s) (%s)", site, terms)
	if location != "" {
		q += fmt.Sprintf(" (%q)", location)
	}
	return q
}
