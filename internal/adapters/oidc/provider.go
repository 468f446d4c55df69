package oidc

// Package oidc adapts an external OIDC/OAuth2 identity provider to the
// IdentityProvider port. Credentials are exchanged with the resource-owner
// password grant; tokens are persisted per browser session id in a TokenStore.

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"github.com/target/learnhub/internal/ports"
	"golang.org/x/oauth2"
)

// Provider holds the discovered endpoints and hands out one Client per sid.
type Provider struct {
	config          *oauth2.Config
	httpClient      *http.Client
	verifier        *gooidc.IDTokenVerifier
	tokens          ports.TokenStore
	registrationURL string
	revocationURL   string
	refreshTTL      time.Duration
	now             func() time.Time
}

// ProviderConfig holds configuration for the OIDC provider.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	Scope        string
	DiscoveryURL string
	// RegistrationURL accepts POSTed sign-up requests. Empty disables SignUp.
	RegistrationURL string
	Tokens          ports.TokenStore
	// RefreshTTL bounds how long refreshable tokens are kept. Default 30 days.
	RefreshTTL time.Duration
	HTTPClient *http.Client // Optional, defaults to a 30s timeout client
	Now        func() time.Time
}

// DiscoveryDocument represents the OIDC discovery document.
type DiscoveryDocument struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserinfoEndpoint      string `json:"userinfo_endpoint"`
	JwksURI               string `json:"jwks_uri"`
	RevocationEndpoint    string `json:"revocation_endpoint,omitempty"`
}

// NewProvider fetches the discovery document and builds a Provider.
func NewProvider(ctx context.Context, config ProviderConfig) (*Provider, error) {
	if config.ClientID == "" {
		return nil, errors.New("client ID is required")
	}
	if config.DiscoveryURL == "" {
		return nil, errors.New("discovery URL is required")
	}
	if config.Tokens == nil {
		return nil, errors.New("token store is required")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	refreshTTL := config.RefreshTTL
	if refreshTTL <= 0 {
		refreshTTL = 30 * 24 * time.Hour
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}

	issuer := strings.TrimSuffix(config.DiscoveryURL, "/")
	issuer = strings.TrimSuffix(issuer, "/.well-known/openid-configuration")
	op, err := gooidc.NewProvider(context.WithValue(ctx, oauth2.HTTPClient, httpClient), issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc new provider: %w", err)
	}
	var extra struct {
		RevocationEndpoint string `json:"revocation_endpoint"`
	}
	if claimsErr := op.Claims(&extra); claimsErr != nil {
		return nil, fmt.Errorf("decode discovery document: %w", claimsErr)
	}

	scopes := strings.Fields(config.Scope)
	if len(scopes) == 0 {
		scopes = []string{gooidc.ScopeOpenID, "email", gooidc.ScopeOfflineAccess}
	}

	return &Provider{
		config: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			Scopes:       scopes,
			Endpoint:     op.Endpoint(),
		},
		httpClient:      httpClient,
		verifier:        op.Verifier(&gooidc.Config{ClientID: config.ClientID, Now: now}),
		tokens:          config.Tokens,
		registrationURL: config.RegistrationURL,
		revocationURL:   extra.RevocationEndpoint,
		refreshTTL:      refreshTTL,
		now:             now,
	}, nil
}

// NewClient returns a provider client bound to sid's stored tokens.
func (p *Provider) NewClient(sid string) (ports.IdentityProvider, error) {
	if sid == "" {
		return nil, errors.New("oidc: session id is required")
	}
	return &Client{p: p, sid: sid, listeners: make(map[int]ports.SessionListener)}, nil
}

func (p *Provider) httpContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

// idTokenClaims covers both standard OIDC and AD/ADFS claim shapes.
type idTokenClaims struct {
	Sub   string `json:"sub"`
	Email string `json:"email"`
	Mail  string `json:"mail"`
}

func (p *Provider) identityFromToken(ctx context.Context, tok *oauth2.Token) (subject, email string, err error) {
	rawID, err := getIDTokenFromToken(tok)
	if err != nil {
		return "", "", err
	}
	idTok, err := p.verifier.Verify(ctx, rawID)
	if err != nil {
		return "", "", fmt.Errorf("verify id_token: %w", err)
	}
	var c idTokenClaims
	if claimsErr := idTok.Claims(&c); claimsErr != nil {
		return "", "", fmt.Errorf("parse id_token claims: %w", claimsErr)
	}
	email = firstNonEmpty(c.Email, c.Mail)
	if c.Sub == "" || email == "" {
		return "", "", errors.New("id_token lacks sub or email")
	}
	return c.Sub, strings.ToLower(email), nil
}

// firstNonEmpty returns the first non-empty string from vals, or empty string if none.
func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// getIDTokenFromToken extracts the id_token from oauth2.Token.
func getIDTokenFromToken(tok *oauth2.Token) (string, error) {
	if tok == nil {
		return "", errors.New("nil token")
	}
	raw := tok.Extra("id_token")
	s, ok := raw.(string)
	if !ok || s == "" {
		return "", errors.New("missing id_token in token response")
	}
	return s, nil
}
