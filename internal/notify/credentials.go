package notify

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// CredentialSource supplies and refreshes the OAuth token used to deliver a
// user's notifications.
type CredentialSource interface {
	// Token returns the stored token for the owner; it may be expired.
	Token(ctx context.Context, ownerID uuid.UUID) (*oauth2.Token, error)
	// Refresh performs one refresh round-trip and persists the new token.
	Refresh(ctx context.Context, ownerID uuid.UUID) (*oauth2.Token, error)
}

// TokenStore persists per-user OAuth tokens.
type TokenStore interface {
	MailToken(ctx context.Context, ownerID uuid.UUID) (*oauth2.Token, error)
	SaveMailToken(ctx context.Context, ownerID uuid.UUID, token *oauth2.Token) error
}

// OAuthCredentialSource refreshes tokens against the provider configured in
// oauthCfg and writes refreshed tokens back to the store.
type OAuthCredentialSource struct {
	store    TokenStore
	oauthCfg *oauth2.Config
}

// NewOAuthCredentialSource constructs an OAuthCredentialSource.
func NewOAuthCredentialSource(store TokenStore, oauthCfg *oauth2.Config) *OAuthCredentialSource {
	return &OAuthCredentialSource{store: store, oauthCfg: oauthCfg}
}

// Token loads the stored token without refreshing.
func (s *OAuthCredentialSource) Token(ctx context.Context, ownerID uuid.UUID) (*oauth2.Token, error) {
	return s.store.MailToken(ctx, ownerID)
}

// Refresh exchanges the refresh token once; a rejected exchange surfaces as
// ErrCredentialExpired.
func (s *OAuthCredentialSource) Refresh(ctx context.Context, ownerID uuid.UUID) (*oauth2.Token, error) {
	stored, err := s.store.MailToken(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if stored == nil || stored.RefreshToken == "" {
		return nil, ErrCredentialExpired
	}

	fresh, err := s.oauthCfg.TokenSource(ctx, stored).Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCredentialExpired, err)
	}

	// The provider accepted the refresh; a persistence hiccup must not
	// block this run's delivery.
	_ = s.store.SaveMailToken(ctx, ownerID, fresh)

	return fresh, nil
}
