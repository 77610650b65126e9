// Package oidcauth authenticates upload requests with OIDC bearer tokens.
package oidcauth

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// Config configures the validator.
type Config struct {
	// Issuer is the OIDC provider issuer URL (e.g., "https://accounts.google.com")
	Issuer string

	// ClientID is the expected audience. Empty skips the audience check.
	ClientID string

	// SkipExpiryCheck disables token expiration validation
	SkipExpiryCheck bool

	// CACertFile is a PEM bundle trusted for the provider connection.
	CACertFile string

	// Insecure disables certificate verification for the provider.
	Insecure bool
}

// Claims identifies the caller behind a token.
type Claims struct {
	// Identity is the email claim, or the subject when there is none
	Identity string

	Email     string
	Subject   string
	Issuer    string
	Audience  []string
	ExpiresAt time.Time
	IssuedAt  time.Time
}

// Validator verifies tokens issued by one OIDC provider.
type Validator struct {
	verifier *oidc.IDTokenVerifier
	provider *oidc.Provider
	issuer   string
	client   *http.Client
}

// NewValidator performs OIDC discovery for cfg.Issuer and returns a
// validator using the provider's published keys.
func NewValidator(ctx context.Context, cfg Config) (*Validator, error) {
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}

	client, err := httpClient(cfg)
	if err != nil {
		return nil, err
	}
	ctx = oidc.ClientContext(ctx, client)

	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider for %s: %w", cfg.Issuer, err)
	}

	return &Validator{
		verifier: provider.Verifier(verifierConfig(cfg)),
		provider: provider,
		issuer:   cfg.Issuer,
		client:   client,
	}, nil
}

func verifierConfig(cfg Config) *oidc.Config {
	return &oidc.Config{
		ClientID:          cfg.ClientID,
		SkipClientIDCheck: cfg.ClientID == "",
		SkipExpiryCheck:   cfg.SkipExpiryCheck,
	}
}

func httpClient(cfg Config) (*http.Client, error) {
	tlsCfg := &tls.Config{InsecureSkipVerify: cfg.Insecure}

	if cfg.CACertFile != "" {
		pem, err := os.ReadFile(cfg.CACertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate file %q: %w", cfg.CACertFile, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("failed to parse CA certificate file %q: no valid certificates found", cfg.CACertFile)
		}
		tlsCfg.RootCAs = pool
	}

	return &http.Client{
		Transport: &http.Transport{TLSClientConfig: tlsCfg},
		Timeout:   30 * time.Second,
	}, nil
}

// Validate verifies an ID token and extracts its claims.
func (v *Validator) Validate(ctx context.Context, token string) (*Claims, error) {
	idToken, err := v.verifier.Verify(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("token verification failed: %w", err)
	}

	var extra struct {
		Email string `json:"email"`
	}
	if err := idToken.Claims(&extra); err != nil {
		return nil, fmt.Errorf("failed to extract claims: %w", err)
	}

	claims := &Claims{
		Identity:  idToken.Subject,
		Email:     extra.Email,
		Subject:   idToken.Subject,
		Issuer:    idToken.Issuer,
		Audience:  idToken.Audience,
		ExpiresAt: idToken.Expiry,
		IssuedAt:  idToken.IssuedAt,
	}
	if extra.Email != "" {
		claims.Identity = extra.Email
	}
	return claims, nil
}

// Authenticate accepts either an ID token or an opaque access token. Access
// tokens are resolved through the provider's UserInfo endpoint.
func (v *Validator) Authenticate(ctx context.Context, token string) (*Claims, error) {
	claims, err := v.Validate(ctx, token)
	if err == nil || v.provider == nil {
		return claims, err
	}

	ctx = oidc.ClientContext(ctx, v.client)
	info, uerr := v.provider.UserInfo(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
	}))
	if uerr != nil {
		return nil, fmt.Errorf("%w; userinfo lookup failed: %w", err, uerr)
	}

	claims = &Claims{
		Identity: info.Subject,
		Email:    info.Email,
		Subject:  info.Subject,
		Issuer:   v.issuer,
	}
	if info.Email != "" {
		claims.Identity = info.Email
	}
	return claims, nil
}
