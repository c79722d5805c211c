package resolver

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/relaycore/orchestrator/internal/storage"
)

// ServiceAuthConfig carries the per-service credentials needed to refresh
// an expired OAuth2 grant or mint a signed JWT bearer assertion for a
// connected service.
type ServiceAuthConfig struct {
	// ClientID/ClientSecret/TokenURL drive the OAuth2 refresh_token grant
	// (golang.org/x/oauth2) when a stored token has expired.
	ClientID string
	ClientSecret string
	TokenURL string

	// SigningKey, when set, selects the JWT-bearer-assertion strategy
	// (RFC 7523) instead of a stored refresh token: a short-lived
	// HS256 assertion is minted and exchanged at TokenURL.
	SigningKey []byte
	Issuer string
}

// TokenRefresher renews an OAuth2 access token for one connected service,
// returning the refreshed storage.OAuthToken ready to persist.
type TokenRefresher struct {
	Config map[string]ServiceAuthConfig // keyed by service name
}

func NewTokenRefresher(configs map[string]ServiceAuthConfig) *TokenRefresher {
	return &TokenRefresher{Config: configs}
}

// NeedsRefresh reports whether tok is expired (or about to expire) and a
// refresh should be attempted before using it.
func NeedsRefresh(tok *storage.OAuthToken) bool {
	if tok == nil || tok.ExpiresAt.IsZero() {
		return false
	}
	return time.Until(tok.ExpiresAt) < 30*time.Second
}

// Refresh exchanges tok's refresh token (or, when a signing key is
// configured, a freshly minted JWT bearer assertion) for a new access
// token via the service's token endpoint.
func (r *TokenRefresher) Refresh(ctx context.Context, tok *storage.OAuthToken) (*storage.OAuthToken, error) {
	cfg, ok := r.Config[tok.Provider]
	if !ok {
		return nil, fmt.Errorf("no auth config for service %q", tok.Provider)
	}

	oc := oauth2.Config{
		ClientID: cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{TokenURL: cfg.TokenURL},
	}

	var source oauth2.TokenSource
	if len(cfg.SigningKey) > 0 {
		assertion, err := mintJWTBearerAssertion(cfg, tok.UserID)
		if err != nil {
			return nil, fmt.Errorf("mint jwt bearer assertion: %w", err)
		}
		source = oc.TokenSource(ctx, &oauth2.Token{RefreshToken: assertion})
	} else {
		source = oc.TokenSource(ctx, &oauth2.Token{RefreshToken: tok.RefreshTokenEncrypted})
	}

	fresh, err := source.Token()
	if err != nil {
		return nil, fmt.Errorf("refresh token for %s: %w", tok.Provider, err)
	}

	updated := *tok
	updated.AccessTokenEncrypted = fresh.AccessToken
	if fresh.RefreshToken != "" {
		updated.RefreshTokenEncrypted = fresh.RefreshToken
	}
	updated.ExpiresAt = fresh.Expiry
	updated.UpdatedAt = time.Now()
	return &updated, nil
}

// mintJWTBearerAssertion builds the RFC 7523 JWT bearer assertion presented
// in place of a refresh token for services that authenticate this way
// (e.g. a service account fronted by a signing proxy).
func mintJWTBearerAssertion(cfg ServiceAuthConfig, subject string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer: cfg.Issuer,
		Subject: subject,
		Audience: jwt.ClaimStrings{cfg.TokenURL},
		IssuedAt: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(cfg.SigningKey)
}
