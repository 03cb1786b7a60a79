package notify

import (
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"jobwatch/search-service/internal/model"
)

const (
	// maxPreviewJobs caps the digest body; the full list stays available
	// through the results API.
	maxPreviewJobs    = 25
	snippetTruncateAt = 200
)

// FormatDigest renders the HTML digest for one run: jobs grouped by the
// keyword that found them, snippets truncated, preview bounded.
func FormatDigest(configName string, results []model.JobResult) (subject, body string) {
	subject = fmt.Sprintf("Job Search Results — %s: %d new jobs found", configName, len(results))

	if len(results) == 0 {
		return subject, "<p>No new jobs found.</p>"
	}

	preview := results
	truncated := false
	if len(preview) > maxPreviewJobs {
		preview = preview[:maxPreviewJobs]
		truncated = true
	}

	// Group by keyword, preserving first-seen order.
	groups := make(map[string][]model.JobResult)
	var order []string
	for _, job := range preview {
		kw := job.Keyword
		if kw == "" {
			kw = "other"
		}
		if _, ok := groups[kw]; !ok {
			order = append(order, kw)
		}
		groups[kw] = append(groups[kw], job)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<h2>Job Search Results — %s</h2>\n", html.EscapeString(configName))
	fmt.Fprintf(&b, "<p>Found %d new job postings.</p>\n", len(results))

	for _, kw := range order {
		jobs := groups[kw]
		fmt.Fprintf(&b, "<h3>Keyword: %s (%d jobs)</h3>\n<ul>\n", html.EscapeString(kw), len(jobs))
		for _, job := range jobs {
			snippet := truncateSnippet(job.Snippet)
			fmt.Fprintf(&b,
				"<li><strong><a href=%q>%s</a></strong><br><em>Site: %s</em><br><small>%s</small></li>\n",
				job.Link,
				html.EscapeString(job.Title),
				html.EscapeString(job.Site),
				html.EscapeString(snippet),
			)
		}
		b.WriteString("</ul>\n")
	}

	if truncated {
		fmt.Fprintf(&b, "<p>Showing the first %d of %d results; the full list is available from your results page.</p>\n",
			maxPreviewJobs, len(results))
	}
	b.WriteString("<hr>\n<p><small>This email was generated automatically by your job search schedule.</small></p>\n")

	return subject, b.String()
}

// truncateSnippet bounds a snippet, backing the cut off onto a rune boundary
// so a multi-byte character is never split into invalid bytes.
func truncateSnippet(s string) string {
	if len(s) <= snippetTruncateAt {
		return s
	}
	cut := snippetTruncateAt
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
