package search

import (
	"fmt"
	"time"

	"jobwatch/search-service/internal/model"
)

// sampleRole pairs a job title shape with the site it pretends to come from.
type sampleRole struct {
	title   string
	company string
	site    string
}

var sampleRoles = []sampleRole{
	{"Senior %s Manager", "TechCorp Inc.", "greenhouse.io"},
	{"%s Analyst", "DataFlow Systems", "lever.co"},
	{"Lead %s Specialist", "InnovateLabs", "myworkdayjobs.com"},
	{"%s Developer", "CodeCraft Solutions", "smartrecruiters.com"},
	{"%s Consultant", "Strategic Partners", "icims.com"},
	{"%s Engineer", "BuildTech", "jobvite.com"},
	{"%s Coordinator", "ProjectFlow", "bamboohr.com"},
}

// SampleResults builds the synthetic result set served in degraded mode.
// The output is deterministic for a given input and instant: ages are spread
// evenly inside the max-age window so the age filter keeps every entry.
//
// OR logic fabricates one role per keyword; every other logic uses the first
// keyword for all roles, mirroring how a real phrase search would read.
func SampleResults(keywords []string, logic model.SearchLogic, maxAgeHours int, now time.Time) []model.JobResult {
	if maxAgeHours < 1 {
		maxAgeHours = 24
	}
	if len(keywords) == 0 {
		keywords = []string{"Business"}
	}

	var picks []struct {
		role    sampleRole
		keyword string
	}
	if logic == model.LogicOr {
		for i, kw := range keywords {
			picks = append(picks, struct {
				role    sampleRole
				keyword string
			}{sampleRoles[i%len(sampleRoles)], kw})
		}
	} else {
		kw := keywords[0]
		for _, role := range sampleRoles {
			picks = append(picks, struct {
				role    sampleRole
				keyword string
			}{role, kw})
		}
	}

	results := make([]model.JobResult, 0, len(picks))
	for i, p := range picks {
		age := time.Duration(maxAgeHours) * time.Hour * time.Duration(i) / time.Duration(len(picks)+1)
		posted := now.Add(-age)
		title := fmt.Sprintf(p.role.title, p.keyword)
		results = append(results, model.JobResult{
			Title:        title,
			Link:         fmt.Sprintf("https://example.com/jobs/%d", i+1),
			Snippet:      fmt.Sprintf("%s at %s. Remote work available. Experience with %s required.", title, p.role.company, p.keyword),
			Site:         p.role.site,
			Keyword:      p.keyword,
			PostedAt:     &posted,
			DiscoveredAt: now,
		})
	}
	return results
}
