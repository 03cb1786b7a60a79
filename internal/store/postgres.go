// Package store persists search configurations, job results and run outcomes
// in PostgreSQL, and keeps the run claims, dispatch marks and recent-result
// cache in Redis.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/oauth2"

	"jobwatch/search-service/internal/model"
)

// ErrNotFound is returned when a row does not exist or belongs to another
// user.
var ErrNotFound = errors.New("not found")

// Store wraps the PostgreSQL pool.
type Store struct {
	pool *pgxpool.Pool
}

// New constructs a Store.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const configColumns = `id, user_id, name, keywords, search_logic, custom_logic,
	location_filter, job_sites, max_job_age_hours, frequency, custom_frequency,
	anchor, weekly_days, timezone, is_active, activated_at,
	last_run_at, next_run_at, created_at, updated_at`

func scanConfig(row pgx.Row) (*model.SearchConfig, error) {
	var (
		c          model.SearchConfig
		customJSON []byte
		weeklyDays []int32
	)
	err := row.Scan(
		&c.ID, &c.UserID, &c.Name, &c.Keywords, &c.SearchLogic, &c.CustomLogic,
		&c.LocationFilter, &c.JobSites, &c.MaxJobAgeHours, &c.Frequency, &customJSON,
		&c.Anchor, &weeklyDays, &c.Timezone, &c.IsActive, &c.ActivatedAt,
		&c.LastRunAt, &c.NextRunAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan config: %w", err)
	}
	if len(customJSON) > 0 && string(customJSON) != "null" {
		var cf model.CustomFrequency
		if err := json.Unmarshal(customJSON, &cf); err != nil {
			return nil, fmt.Errorf("decode custom frequency: %w", err)
		}
		c.Custom = &cf
	}
	for _, d := range weeklyDays {
		c.WeeklyDays = append(c.WeeklyDays, time.Weekday(d))
	}
	return &c, nil
}

func configArgs(c *model.SearchConfig) ([]byte, []int32, error) {
	var customJSON []byte
	if c.Custom != nil {
		b, err := json.Marshal(c.Custom)
		if err != nil {
			return nil, nil, fmt.Errorf("encode custom frequency: %w", err)
		}
		customJSON = b
	}
	days := make([]int32, 0, len(c.WeeklyDays))
	for _, d := range c.WeeklyDays {
		days = append(days, int32(d))
	}
	return customJSON, days, nil
}

// CreateConfig inserts a new configuration.
func (s *Store) CreateConfig(ctx context.Context, c *model.SearchConfig) error {
	customJSON, days, err := configArgs(c)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO search_configs
		 (id, user_id, name, keywords, search_logic, custom_logic,
		  location_filter, job_sites, max_job_age_hours, frequency, custom_frequency,
		  anchor, weekly_days, timezone, is_active, activated_at, next_run_at,
		  created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,NOW(),NOW())`,
		c.ID, c.UserID, c.Name, c.Keywords, c.SearchLogic, c.CustomLogic,
		c.LocationFilter, c.JobSites, c.MaxJobAgeHours, c.Frequency, customJSON,
		c.Anchor, days, c.Timezone, c.IsActive, c.ActivatedAt, c.NextRunAt,
	)
	if err != nil {
		return fmt.Errorf("insert search_config: %w", err)
	}
	return nil
}

// UpdateConfig rewrites an existing configuration owned by its user. The
// caller supplies the recomputed NextRunAt; the executor's completion path
// may later overwrite it, which is the intended edit-while-running behavior.
func (s *Store) UpdateConfig(ctx context.Context, c *model.SearchConfig) error {
	customJSON, days, err := configArgs(c)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE search_configs
		 SET name=$3, keywords=$4, search_logic=$5, custom_logic=$6,
		     location_filter=$7, job_sites=$8, max_job_age_hours=$9,
		     frequency=$10, custom_frequency=$11, anchor=$12, weekly_days=$13,
		     timezone=$14, is_active=$15, next_run_at=$16, updated_at=NOW()
		 WHERE id=$1 AND user_id=$2`,
		c.ID, c.UserID, c.Name, c.Keywords, c.SearchLogic, c.CustomLogic,
		c.LocationFilter, c.JobSites, c.MaxJobAgeHours,
		c.Frequency, customJSON, c.Anchor, days,
		c.Timezone, c.IsActive, c.NextRunAt,
	)
	if err != nil {
		return fmt.Errorf("update search_config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteConfig removes a configuration and its dependent rows.
func (s *Store) DeleteConfig(ctx context.Context, id, userID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM search_configs WHERE id=$1 AND user_id=$2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete search_config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetConfig returns one configuration owned by userID.
func (s *Store) GetConfig(ctx context.Context, id, userID uuid.UUID) (*model.SearchConfig, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+configColumns+` FROM search_configs WHERE id=$1 AND user_id=$2`,
		id, userID)
	return scanConfig(row)
}

// GetConfigByID returns one configuration regardless of owner. The executor
// uses it to take a consistent snapshot under its run claim.
func (s *Store) GetConfigByID(ctx context.Context, id uuid.UUID) (*model.SearchConfig, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+configColumns+` FROM search_configs WHERE id=$1`, id)
	return scanConfig(row)
}

// ListConfigs returns all configurations for a user.
func (s *Store) ListConfigs(ctx context.Context, userID uuid.UUID) ([]model.SearchConfig, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+configColumns+` FROM search_configs WHERE user_id=$1 ORDER BY created_at`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("query search_configs: %w", err)
	}
	defer rows.Close()
	return collectConfigs(rows)
}

// ListActiveConfigs returns every active configuration; the executor's scan
// tick checks each one's NextRunAt.
func (s *Store) ListActiveConfigs(ctx context.Context) ([]model.SearchConfig, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+configColumns+` FROM search_configs WHERE is_active = true`)
	if err != nil {
		return nil, fmt.Errorf("query active search_configs: %w", err)
	}
	defer rows.Close()
	return collectConfigs(rows)
}

func collectConfigs(rows pgx.Rows) ([]model.SearchConfig, error) {
	var configs []model.SearchConfig
	for rows.Next() {
		c, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, *c)
	}
	return configs, rows.Err()
}

// UpdateSchedule persists the executor-owned run bookkeeping fields.
func (s *Store) UpdateSchedule(ctx context.Context, id uuid.UUID, lastRunAt, nextRunAt *time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE search_configs SET last_run_at=$2, next_run_at=$3, updated_at=NOW() WHERE id=$1`,
		id, lastRunAt, nextRunAt)
	if err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	return nil
}

// InsertResults stores a run's results, skipping rows whose (site, link)
// identity already exists for the configuration. Returns how many rows were
// actually inserted.
func (s *Store) InsertResults(ctx context.Context, results []model.JobResult) (int, error) {
	inserted := 0
	for _, r := range results {
		tag, err := s.pool.Exec(ctx,
			`INSERT INTO job_results
			 (id, user_id, config_id, title, link, snippet, site, keyword, posted_at, discovered_at)
			 SELECT $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
			 WHERE NOT EXISTS (
			   SELECT 1 FROM job_results WHERE config_id = $3 AND site = $7 AND link = $5
			 )`,
			uuid.New(), r.UserID, r.ConfigID, r.Title, r.Link, r.Snippet,
			r.Site, r.Keyword, r.PostedAt, r.DiscoveredAt,
		)
		if err != nil {
			return inserted, fmt.Errorf("insert job_result: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// ListResults returns a user's results, newest first, optionally scoped to
// one configuration.
func (s *Store) ListResults(ctx context.Context, userID uuid.UUID, configID *uuid.UUID) ([]model.JobResult, error) {
	const base = `SELECT id, user_id, config_id, title, link, snippet, site, keyword,
		posted_at, discovered_at FROM job_results WHERE user_id=$1`

	var (
		rows pgx.Rows
		err  error
	)
	if configID != nil {
		rows, err = s.pool.Query(ctx, base+` AND config_id=$2 ORDER BY discovered_at DESC`, userID, *configID)
	} else {
		rows, err = s.pool.Query(ctx, base+` ORDER BY discovered_at DESC`, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("query job_results: %w", err)
	}
	defer rows.Close()

	var results []model.JobResult
	for rows.Next() {
		var r model.JobResult
		if err := rows.Scan(&r.ID, &r.UserID, &r.ConfigID, &r.Title, &r.Link,
			&r.Snippet, &r.Site, &r.Keyword, &r.PostedAt, &r.DiscoveredAt); err != nil {
			return nil, fmt.Errorf("scan job_result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// DeleteResult removes one result owned by userID.
func (s *Store) DeleteResult(ctx context.Context, id, userID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM job_results WHERE id=$1 AND user_id=$2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete job_result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertOutcome records one immutable run outcome.
func (s *Store) InsertOutcome(ctx context.Context, o *model.RunOutcome) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO run_outcomes (config_id, run_at, status, results_count, error_summary, sample)
		 VALUES ($1,$2,$3,$4,$5,$6)
		 ON CONFLICT (config_id, run_at) DO NOTHING`,
		o.ConfigID, o.RunAt, o.Status, o.ResultsCount, o.ErrorSummary, o.Sample)
	if err != nil {
		return fmt.Errorf("insert run_outcome: %w", err)
	}
	return nil
}

// ListOutcomes returns a configuration's run history, newest first.
func (s *Store) ListOutcomes(ctx context.Context, configID uuid.UUID, limit int) ([]model.RunOutcome, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT config_id, run_at, status, results_count, error_summary, sample
		 FROM run_outcomes WHERE config_id=$1 ORDER BY run_at DESC LIMIT $2`,
		configID, limit)
	if err != nil {
		return nil, fmt.Errorf("query run_outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []model.RunOutcome
	for rows.Next() {
		var o model.RunOutcome
		if err := rows.Scan(&o.ConfigID, &o.RunAt, &o.Status, &o.ResultsCount,
			&o.ErrorSummary, &o.Sample); err != nil {
			return nil, fmt.Errorf("scan run_outcome: %w", err)
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

// NotificationEmail resolves where a user's digests go: the explicit
// notification address when set, the account address otherwise.
func (s *Store) NotificationEmail(ctx context.Context, userID uuid.UUID) (string, error) {
	var email, notification string
	err := s.pool.QueryRow(ctx,
		`SELECT email, COALESCE(notification_email, '') FROM users WHERE id=$1`,
		userID).Scan(&email, &notification)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("query user: %w", err)
	}
	if notification != "" {
		return notification, nil
	}
	return email, nil
}

// MailToken loads a user's stored OAuth mail token.
func (s *Store) MailToken(ctx context.Context, userID uuid.UUID) (*oauth2.Token, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT mail_token FROM users WHERE id=$1`, userID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query mail token: %w", err)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var tok oauth2.Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, fmt.Errorf("decode mail token: %w", err)
	}
	return &tok, nil
}

// SaveMailToken persists a (possibly refreshed) OAuth mail token.
func (s *Store) SaveMailToken(ctx context.Context, userID uuid.UUID, token *oauth2.Token) error {
	raw, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("encode mail token: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE users SET mail_token=$2 WHERE id=$1`, userID, raw)
	if err != nil {
		return fmt.Errorf("save mail token: %w", err)
	}
	return nil
}
