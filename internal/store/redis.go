package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RecentLinkCache remembers the (site, link) keys a configuration has already
// reported, so unchanged postings are not re-notified run after run. Entries
// expire after the retention window.
type RecentLinkCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRecentLinkCache constructs the cache. A zero ttl defaults to seven days,
// one step past the longest built-in cadence.
func NewRecentLinkCache(rdb *redis.Client, ttl time.Duration) *RecentLinkCache {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &RecentLinkCache{rdb: rdb, ttl: ttl}
}

func recentKey(configID uuid.UUID) string {
	return "recent:" + configID.String()
}

// Seen returns the subset of keys already recorded for the configuration.
func (c *RecentLinkCache) Seen(ctx context.Context, configID uuid.UUID, keys []string) (map[string]bool, error) {
	if len(keys) == 0 {
		return map[string]bool{}, nil
	}
	members := make([]interface{}, len(keys))
	for i, k := range keys {
		members[i] = k
	}
	flags, err := c.rdb.SMIsMember(ctx, recentKey(configID), members...).Result()
	if err != nil {
		return nil, fmt.Errorf("smismember: %w", err)
	}
	seen := make(map[string]bool, len(keys))
	for i, k := range keys {
		if i < len(flags) && flags[i] {
			seen[k] = true
		}
	}
	return seen, nil
}

// Remember records keys and refreshes the retention window.
func (c *RecentLinkCache) Remember(ctx context.Context, configID uuid.UUID, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	members := make([]interface{}, len(keys))
	for i, k := range keys {
		members[i] = k
	}
	pipe := c.rdb.Pipeline()
	pipe.SAdd(ctx, recentKey(configID), members...)
	pipe.Expire(ctx, recentKey(configID), c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("sadd recent links: %w", err)
	}
	return nil
}

// RunClaims is the per-configuration mutual exclusion guard: at most one
// in-flight run per configuration, enforced with SET NX and an expiry that
// clears a claim left behind by a crashed run.
type RunClaims struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRunClaims constructs the claim guard; ttl should be about twice the run
// timeout.
func NewRunClaims(rdb *redis.Client, ttl time.Duration) *RunClaims {
	return &RunClaims{rdb: rdb, ttl: ttl}
}

func claimKey(configID uuid.UUID) string {
	return "claim:" + configID.String()
}

// Claim attempts to take the configuration's run claim; false means another
// run is in flight.
func (c *RunClaims) Claim(ctx context.Context, configID uuid.UUID) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, claimKey(configID), time.Now().UTC().Format(time.RFC3339), c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim run: %w", err)
	}
	return ok, nil
}

// Release frees the claim after the run reaches a terminal state.
func (c *RunClaims) Release(ctx context.Context, configID uuid.UUID) error {
	if err := c.rdb.Del(ctx, claimKey(configID)).Err(); err != nil {
		return fmt.Errorf("release claim: %w", err)
	}
	return nil
}

// DispatchMarks implements the notification idempotency store: a mark, once
// set, stays set, which makes digest delivery at-most-once per run identity
// even across a process restart mid-dispatch.
type DispatchMarks struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewDispatchMarks constructs the mark store; marks expire with the same
// retention as the recent-result cache.
func NewDispatchMarks(rdb *redis.Client, ttl time.Duration) *DispatchMarks {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &DispatchMarks{rdb: rdb, ttl: ttl}
}

// ClaimDispatch marks the run identity; false means a dispatch for it already
// started.
func (m *DispatchMarks) ClaimDispatch(ctx context.Context, key string) (bool, error) {
	ok, err := m.rdb.SetNX(ctx, key, "1", m.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim dispatch: %w", err)
	}
	return ok, nil
}

// resultsUpdatedChannel carries the "result data changed" event consumed by
// the presentation layer.
const resultsUpdatedChannel = "EVENT_RESULTS_UPDATED"

// Events publishes result-change notifications for whatever presentation
// layer is attached.
type Events struct {
	rdb *redis.Client
}

// NewEvents constructs the publisher.
func NewEvents(rdb *redis.Client) *Events {
	return &Events{rdb: rdb}
}

// PublishResultsUpdated announces that a run added results for a user.
func (e *Events) PublishResultsUpdated(ctx context.Context, userID, configID uuid.UUID, count int) error {
	payload, _ := json.Marshal(map[string]any{
		"type":     resultsUpdatedChannel,
		"userId":   userID,
		"configId": configID,
		"count":    count,
	})
	if err := e.rdb.Publish(ctx, resultsUpdatedChannel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", resultsUpdatedChannel, err)
	}
	return nil
}
