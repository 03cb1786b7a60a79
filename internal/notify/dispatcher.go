package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"jobwatch/search-service/internal/model"
)

// IdempotencyStore records that delivery for a run identity has started.
// A claim, once taken, is never released: that is what makes delivery
// at-most-once per (configuration, due instant) even across process restarts.
type IdempotencyStore interface {
	ClaimDispatch(ctx context.Context, key string) (bool, error)
}

// Result summarises one dispatch call.
type Result struct {
	Delivered bool
	Retried   int
	Failed    bool
	// Skipped means another dispatch already claimed this run identity,
	// so no send was attempted.
	Skipped bool
}

// Dispatcher formats and delivers run digests with bounded retries, a single
// credential refresh and at-most-once semantics per run.
type Dispatcher struct {
	mailer Mailer
	creds  CredentialSource
	idem   IdempotencyStore
	log    *logrus.Entry

	maxAttempts int
	baseBackoff time.Duration
	sendTimeout time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewDispatcher constructs a Dispatcher with the default retry policy:
// four attempts with 2s exponential backoff and a 30s per-send timeout.
func NewDispatcher(mailer Mailer, creds CredentialSource, idem IdempotencyStore, log *logrus.Entry) *Dispatcher {
	return &Dispatcher{
		mailer:      mailer,
		creds:       creds,
		idem:        idem,
		log:         log,
		maxAttempts: 4,
		baseBackoff: 2 * time.Second,
		sendTimeout: 30 * time.Second,
		sleep:       sleepCtx,
	}
}

// DispatchKey is the run-identity idempotency key.
func DispatchKey(cfg *model.SearchConfig, runAt time.Time) string {
	return fmt.Sprintf("dispatch:%s:%s", cfg.ID, runAt.UTC().Format(time.RFC3339))
}

// Dispatch delivers the digest for one run. Empty result sets are a no-op:
// no delivery is attempted and the caller still records its RunOutcome.
func (d *Dispatcher) Dispatch(ctx context.Context, cfg *model.SearchConfig, recipient string, results []model.JobResult, runAt time.Time) (Result, error) {
	if len(results) == 0 {
		return Result{}, nil
	}

	claimed, err := d.idem.ClaimDispatch(ctx, DispatchKey(cfg, runAt))
	if err != nil {
		return Result{}, fmt.Errorf("dispatch claim: %w", err)
	}
	if !claimed {
		d.log.WithFields(logrus.Fields{"config": cfg.ID, "runAt": runAt}).
			Info("dispatch already claimed for this run, skipping")
		return Result{Skipped: true}, nil
	}

	token, refreshed, err := d.freshToken(ctx, cfg)
	if err != nil {
		return Result{Failed: true}, err
	}

	subject, body := FormatDigest(cfg.Name, results)

	var res Result
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		err = d.send(ctx, recipient, subject, body, token)
		if err == nil {
			res.Delivered = true
			res.Retried = attempt - 1
			return res, nil
		}

		if errors.Is(err, ErrCredentialExpired) && !refreshed {
			refreshed = true
			token, err = d.creds.Refresh(ctx, cfg.UserID)
			if err != nil {
				return Result{Failed: true}, fmt.Errorf("%w: refresh after rejected send", ErrCredentialExpired)
			}
			// The refreshed token gets the attempt the stale one wasted.
			attempt--
			continue
		}

		var transient *TransientError
		if errors.As(err, &transient) {
			if attempt == d.maxAttempts {
				break
			}
			backoff := d.baseBackoff << (attempt - 1)
			d.log.WithFields(logrus.Fields{"config": cfg.ID, "attempt": attempt, "backoff": backoff}).
				WithError(err).Warn("transient delivery failure, retrying")
			if serr := d.sleep(ctx, backoff); serr != nil {
				return Result{Failed: true, Retried: attempt}, serr
			}
			continue
		}

		// Permanent (or unclassified) failure: surface immediately.
		return Result{Failed: true, Retried: attempt - 1}, err
	}

	return Result{Failed: true, Retried: d.maxAttempts - 1},
		fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
}

// freshToken loads the owner's token, performing the single allowed refresh
// when the stored one is already expired. The returned flag tells the caller
// the refresh budget for this run is spent.
func (d *Dispatcher) freshToken(ctx context.Context, cfg *model.SearchConfig) (*oauth2.Token, bool, error) {
	token, err := d.creds.Token(ctx, cfg.UserID)
	if err != nil {
		return nil, false, fmt.Errorf("load credential: %w", err)
	}
	if token != nil && token.Valid() {
		return token, false, nil
	}

	token, err = d.creds.Refresh(ctx, cfg.UserID)
	if err != nil {
		if errors.Is(err, ErrCredentialExpired) {
			return nil, true, err
		}
		return nil, true, fmt.Errorf("%w: %v", ErrCredentialExpired, err)
	}
	return token, true, nil
}

func (d *Dispatcher) send(ctx context.Context, recipient, subject, body string, token *oauth2.Token) error {
	sendCtx := ctx
	if d.sendTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, d.sendTimeout)
		defer cancel()
	}
	return d.mailer.Send(sendCtx, recipient, subject, body, token)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
