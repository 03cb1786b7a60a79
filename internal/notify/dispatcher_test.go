package notify

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"jobwatch/search-service/internal/model"
)

// fakeMailer fails with the scripted errors in order, then succeeds.
type fakeMailer struct {
	script []error
	sends  int
	tokens []*oauth2.Token
}

func (f *fakeMailer) Send(ctx context.Context, recipient, subject, body string, token *oauth2.Token) error {
	f.sends++
	f.tokens = append(f.tokens, token)
	if len(f.script) > 0 {
		err := f.script[0]
		f.script = f.script[1:]
		return err
	}
	return nil
}

type fakeCreds struct {
	stored     *oauth2.Token
	refreshed  *oauth2.Token
	refreshErr error
	refreshes  int
}

func (f *fakeCreds) Token(ctx context.Context, ownerID uuid.UUID) (*oauth2.Token, error) {
	return f.stored, nil
}

func (f *fakeCreds) Refresh(ctx context.Context, ownerID uuid.UUID) (*oauth2.Token, error) {
	f.refreshes++
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return f.refreshed, nil
}

type fakeIdem struct {
	claimed map[string]bool
	err     error
}

func newFakeIdem() *fakeIdem { return &fakeIdem{claimed: make(map[string]bool)} }

func (f *fakeIdem) ClaimDispatch(ctx context.Context, key string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.claimed[key] {
		return false, nil
	}
	f.claimed[key] = true
	return true, nil
}

func validToken() *oauth2.Token {
	return &oauth2.Token{AccessToken: "live", Expiry: time.Now().Add(time.Hour)}
}

func expiredToken() *oauth2.Token {
	return &oauth2.Token{AccessToken: "stale", RefreshToken: "r", Expiry: time.Now().Add(-time.Hour)}
}

func newTestDispatcher(mailer Mailer, creds CredentialSource, idem IdempotencyStore) (*Dispatcher, *[]time.Duration) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	d := NewDispatcher(mailer, creds, idem, logrus.NewEntry(logger))

	var slept []time.Duration
	d.sleep = func(ctx context.Context, dur time.Duration) error {
		slept = append(slept, dur)
		return nil
	}
	return d, &slept
}

func digestConfig() *model.SearchConfig {
	return &model.SearchConfig{ID: uuid.New(), UserID: uuid.New(), Name: "Go jobs"}
}

func someResults(n int) []model.JobResult {
	out := make([]model.JobResult, n)
	for i := range out {
		out[i] = model.JobResult{
			Title:   "Go Developer",
			Link:    "https://greenhouse.io/jobs/1",
			Site:    "greenhouse.io",
			Keyword: "golang",
		}
	}
	return out
}

var runAt = time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)

func TestDispatch_EmptyResultsIsNoOp(t *testing.T) {
	mailer := &fakeMailer{}
	idem := newFakeIdem()
	d, _ := newTestDispatcher(mailer, &fakeCreds{stored: validToken()}, idem)

	res, err := d.Dispatch(context.Background(), digestConfig(), "a@b.c", nil, runAt)
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.Zero(t, mailer.sends)
	assert.Empty(t, idem.claimed, "no claim is taken for an empty run")
}

func TestDispatch_DeliversFirstAttempt(t *testing.T) {
	mailer := &fakeMailer{}
	d, _ := newTestDispatcher(mailer, &fakeCreds{stored: validToken()}, newFakeIdem())

	res, err := d.Dispatch(context.Background(), digestConfig(), "a@b.c", someResults(1), runAt)
	require.NoError(t, err)
	assert.True(t, res.Delivered)
	assert.Zero(t, res.Retried)
	assert.Equal(t, 1, mailer.sends)
}

func TestDispatch_AtMostOncePerRun(t *testing.T) {
	idem := newFakeIdem()
	cfg := digestConfig()

	first := &fakeMailer{}
	d1, _ := newTestDispatcher(first, &fakeCreds{stored: validToken()}, idem)
	res, err := d1.Dispatch(context.Background(), cfg, "a@b.c", someResults(1), runAt)
	require.NoError(t, err)
	assert.True(t, res.Delivered)

	// A fresh dispatcher against the same store models a process restart
	// re-executing the same due instant.
	second := &fakeMailer{}
	d2, _ := newTestDispatcher(second, &fakeCreds{stored: validToken()}, idem)
	res, err = d2.Dispatch(context.Background(), cfg, "a@b.c", someResults(1), runAt)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Zero(t, second.sends)
}

func TestDispatch_DistinctRunsAreIndependent(t *testing.T) {
	idem := newFakeIdem()
	cfg := digestConfig()
	mailer := &fakeMailer{}
	d, _ := newTestDispatcher(mailer, &fakeCreds{stored: validToken()}, idem)

	_, err := d.Dispatch(context.Background(), cfg, "a@b.c", someResults(1), runAt)
	require.NoError(t, err)
	res, err := d.Dispatch(context.Background(), cfg, "a@b.c", someResults(1), runAt.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, res.Delivered)
	assert.Equal(t, 2, mailer.sends)
}

func TestDispatch_TransientRetryThenSuccess(t *testing.T) {
	mailer := &fakeMailer{script: []error{
		Transient(errors.New("421 try later")),
		Transient(errors.New("421 try later")),
	}}
	d, slept := newTestDispatcher(mailer, &fakeCreds{stored: validToken()}, newFakeIdem())

	res, err := d.Dispatch(context.Background(), digestConfig(), "a@b.c", someResults(1), runAt)
	require.NoError(t, err)
	assert.True(t, res.Delivered)
	assert.Equal(t, 2, res.Retried)
	assert.Equal(t, 3, mailer.sends)
	// Exponential backoff doubles per attempt.
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, *slept)
}

func TestDispatch_TransientExhaustion(t *testing.T) {
	mailer := &fakeMailer{script: []error{
		Transient(errors.New("down")),
		Transient(errors.New("down")),
		Transient(errors.New("down")),
		Transient(errors.New("down")),
	}}
	d, _ := newTestDispatcher(mailer, &fakeCreds{stored: validToken()}, newFakeIdem())

	res, err := d.Dispatch(context.Background(), digestConfig(), "a@b.c", someResults(1), runAt)
	require.ErrorIs(t, err, ErrDeliveryFailed)
	assert.True(t, res.Failed)
	assert.Equal(t, 4, mailer.sends)
}

func TestDispatch_PermanentFailsImmediately(t *testing.T) {
	mailer := &fakeMailer{script: []error{Permanent(errors.New("550 no such user"))}}
	d, slept := newTestDispatcher(mailer, &fakeCreds{stored: validToken()}, newFakeIdem())

	res, err := d.Dispatch(context.Background(), digestConfig(), "a@b.c", someResults(1), runAt)
	require.Error(t, err)
	assert.True(t, res.Failed)
	assert.Equal(t, 1, mailer.sends)
	assert.Empty(t, *slept)
}

func TestDispatch_RefreshesExpiredStoredToken(t *testing.T) {
	creds := &fakeCreds{stored: expiredToken(), refreshed: validToken()}
	mailer := &fakeMailer{}
	d, _ := newTestDispatcher(mailer, creds, newFakeIdem())

	res, err := d.Dispatch(context.Background(), digestConfig(), "a@b.c", someResults(1), runAt)
	require.NoError(t, err)
	assert.True(t, res.Delivered)
	assert.Equal(t, 1, creds.refreshes)
	require.Len(t, mailer.tokens, 1)
	assert.Equal(t, "live", mailer.tokens[0].AccessToken)
}

func TestDispatch_RefreshOnceAfterRejectedSend(t *testing.T) {
	creds := &fakeCreds{stored: validToken(), refreshed: validToken()}
	mailer := &fakeMailer{script: []error{ErrCredentialExpired}}
	d, _ := newTestDispatcher(mailer, creds, newFakeIdem())

	res, err := d.Dispatch(context.Background(), digestConfig(), "a@b.c", someResults(1), runAt)
	require.NoError(t, err)
	assert.True(t, res.Delivered)
	assert.Equal(t, 1, creds.refreshes)
	// The retry after the refresh does not consume an attempt.
	assert.Zero(t, res.Retried)
	assert.Equal(t, 2, mailer.sends)
}

func TestDispatch_SecondRejectionAfterRefreshFails(t *testing.T) {
	creds := &fakeCreds{stored: expiredToken(), refreshed: validToken()}
	mailer := &fakeMailer{script: []error{ErrCredentialExpired}}
	d, _ := newTestDispatcher(mailer, creds, newFakeIdem())

	// The pre-send refresh spent the budget; the rejected send must not
	// trigger a second refresh.
	res, err := d.Dispatch(context.Background(), digestConfig(), "a@b.c", someResults(1), runAt)
	require.Error(t, err)
	assert.True(t, res.Failed)
	assert.Equal(t, 1, creds.refreshes)
	assert.Equal(t, 1, mailer.sends)
}

func TestDispatch_RefreshFailureSurfacesCredentialExpired(t *testing.T) {
	creds := &fakeCreds{stored: expiredToken(), refreshErr: errors.New("invalid_grant")}
	d, _ := newTestDispatcher(&fakeMailer{}, creds, newFakeIdem())

	res, err := d.Dispatch(context.Background(), digestConfig(), "a@b.c", someResults(1), runAt)
	require.ErrorIs(t, err, ErrCredentialExpired)
	assert.True(t, res.Failed)
}

func TestDispatch_ClaimErrorSurfaces(t *testing.T) {
	idem := newFakeIdem()
	idem.err = errors.New("redis down")
	d, _ := newTestDispatcher(&fakeMailer{}, &fakeCreds{stored: validToken()}, idem)

	_, err := d.Dispatch(context.Background(), digestConfig(), "a@b.c", someResults(1), runAt)
	require.Error(t, err)
}
