package oidc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	domainauth "github.com/target/learnhub/internal/domain/auth"
	"github.com/target/learnhub/internal/ports"
	"golang.org/x/oauth2"
)

// expiryDelta refreshes access tokens slightly before they lapse.
const expiryDelta = 30 * time.Second

type storedToken struct {
	Token   *oauth2.Token `json:"token"`
	Subject string        `json:"sub"`
	Email   string        `json:"email"`
}

func (s storedToken) session() *domainauth.Session {
	return &domainauth.Session{
		SubjectID:  s.Subject,
		Email:      s.Email,
		ExpiresAt:  s.Token.Expiry,
		CanRefresh: s.Token.RefreshToken != "",
	}
}

// Client is the per-browser-session handle. Operations hold the client lock
// and listeners run under it, so listeners must not call back into the client.
type Client struct {
	p   *Provider
	sid string

	mu        sync.Mutex
	listeners map[int]ports.SessionListener
	nextID    int
}

func (c *Client) SignIn(ctx context.Context, email, password string) (*domainauth.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.signInLocked(ctx, email, password)
}

func (c *Client) signInLocked(ctx context.Context, email, password string) (*domainauth.Session, error) {
	tok, err := c.p.config.PasswordCredentialsToken(c.p.httpContext(ctx), email, password)
	if err != nil {
		return nil, classifyGrantError(err)
	}
	subject, verifiedEmail, err := c.p.identityFromToken(ctx, tok)
	if err != nil {
		return nil, domainauth.NewError(domainauth.KindProviderUnavailable, "identity provider returned an unusable token", err)
	}
	st := storedToken{Token: tok, Subject: subject, Email: verifiedEmail}
	if err := c.save(ctx, st); err != nil {
		return nil, err
	}
	sess := st.session()
	c.dispatchLocked(domainauth.SessionEvent{Kind: domainauth.EventSignedIn, Session: sess})
	return sess, nil
}

// SignOut forgets the local tokens first, then revokes the refresh token at
// the provider when it advertises a revocation endpoint. The remote error is
// returned after local state is already gone.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, loadErr := c.load(ctx)
	if err := c.p.tokens.Delete(ctx, c.sid); err != nil {
		return fmt.Errorf("delete stored token: %w", err)
	}
	if st == nil && loadErr == nil {
		return nil
	}
	c.dispatchLocked(domainauth.SessionEvent{Kind: domainauth.EventSignedOut})
	if st == nil {
		return nil
	}
	return c.revoke(ctx, st.Token)
}

// CurrentSession returns the stored session, refreshing an expired access
// token when a refresh token is available. A rejected refresh ends the session.
func (c *Client) CurrentSession(ctx context.Context) (*domainauth.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, nil
	}
	if !c.expired(st.Token) {
		return st.session(), nil
	}
	if st.Token.RefreshToken == "" {
		return nil, c.endLocked(ctx)
	}

	// An empty access token forces the token source to refresh.
	src := c.p.config.TokenSource(c.p.httpContext(ctx), &oauth2.Token{RefreshToken: st.Token.RefreshToken})
	fresh, err := src.Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && isRejected(re) {
			return nil, c.endLocked(ctx)
		}
		return nil, domainauth.NewError(domainauth.KindProviderUnavailable, "token refresh failed", err)
	}
	next := storedToken{Token: fresh, Subject: st.Subject, Email: st.Email}
	if _, hasID := fresh.Extra("id_token").(string); hasID {
		subject, email, idErr := c.p.identityFromToken(ctx, fresh)
		if idErr != nil {
			return nil, domainauth.NewError(domainauth.KindProviderUnavailable, "identity provider returned an unusable token", idErr)
		}
		if subject != st.Subject {
			return nil, c.endLocked(ctx)
		}
		next.Email = email
	}
	if err := c.save(ctx, next); err != nil {
		return nil, err
	}
	sess := next.session()
	c.dispatchLocked(domainauth.SessionEvent{Kind: domainauth.EventTokenRefreshed, Session: sess})
	return sess, nil
}

func (c *Client) OnSessionChange(listener ports.SessionListener) ports.Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = listener
	return ports.SubscriptionFunc(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	})
}

type signUpRequest struct {
	Email    string            `json:"email"`
	Password string            `json:"password"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type signUpResponse struct {
	Sub     string `json:"sub"`
	Message string `json:"message"`
}

// SignUp registers the identity at RegistrationURL and then signs in with the
// same credentials.
func (c *Client) SignUp(ctx context.Context, in ports.SignUpInput) (string, error) {
	if c.p.registrationURL == "" {
		return "", domainauth.NewError(domainauth.KindRegistrationRejected, "sign-up is not supported by the identity provider", nil)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	body, err := json.Marshal(signUpRequest{Email: in.Email, Password: in.Password, Metadata: in.Metadata})
	if err != nil {
		return "", fmt.Errorf("encode sign-up request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.p.registrationURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build sign-up request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("sign-up request: %w", err)
	}
	defer resp.Body.Close()

	var out signUpResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&out)
	switch {
	case resp.StatusCode == http.StatusConflict:
		return "", domainauth.NewError(domainauth.KindRegistrationRejected, "email already registered", nil)
	case resp.StatusCode >= 500:
		return "", domainauth.NewError(domainauth.KindProviderUnavailable, "identity provider unavailable",
			fmt.Errorf("sign-up status %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		msg := firstNonEmpty(out.Message, "registration rejected")
		return "", domainauth.NewError(domainauth.KindRegistrationRejected, msg, fmt.Errorf("sign-up status %d", resp.StatusCode))
	}

	sess, err := c.signInLocked(ctx, in.Email, in.Password)
	if err != nil {
		return "", fmt.Errorf("sign in after sign-up: %w", err)
	}
	if out.Sub != "" && out.Sub != sess.SubjectID {
		return "", fmt.Errorf("sign-up subject %q does not match token subject", out.Sub)
	}
	return sess.SubjectID, nil
}

// endLocked drops stored tokens and announces the sign-out.
func (c *Client) endLocked(ctx context.Context) error {
	if err := c.p.tokens.Delete(ctx, c.sid); err != nil {
		return fmt.Errorf("delete stored token: %w", err)
	}
	c.dispatchLocked(domainauth.SessionEvent{Kind: domainauth.EventSignedOut})
	return nil
}

func (c *Client) expired(tok *oauth2.Token) bool {
	if tok.Expiry.IsZero() {
		return false
	}
	return !c.p.now().Before(tok.Expiry.Add(-expiryDelta))
}

func (c *Client) load(ctx context.Context) (*storedToken, error) {
	raw, err := c.p.tokens.Load(ctx, c.sid)
	if errors.Is(err, ports.ErrTokenNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, domainauth.NewError(domainauth.KindProviderUnavailable, "load stored token", err)
	}
	var st storedToken
	if err := json.Unmarshal(raw, &st); err != nil || st.Token == nil || st.Subject == "" {
		// Unreadable tokens count as signed out.
		_ = c.p.tokens.Delete(ctx, c.sid)
		return nil, nil
	}
	return &st, nil
}

func (c *Client) save(ctx context.Context, st storedToken) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	ttl := c.p.refreshTTL
	if st.Token.RefreshToken == "" && !st.Token.Expiry.IsZero() {
		ttl = st.Token.Expiry.Sub(c.p.now())
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	if err := c.p.tokens.Save(ctx, c.sid, raw, ttl); err != nil {
		return domainauth.NewError(domainauth.KindProviderUnavailable, "persist token", err)
	}
	return nil
}

// revoke implements RFC 7009 token revocation.
func (c *Client) revoke(ctx context.Context, tok *oauth2.Token) error {
	if c.p.revocationURL == "" || tok == nil {
		return nil
	}
	value, hint := tok.RefreshToken, "refresh_token"
	if value == "" {
		value, hint = tok.AccessToken, "access_token"
	}
	if value == "" {
		return nil
	}
	form := url.Values{"token": {value}, "token_type_hint": {hint}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.p.revocationURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build revocation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(url.QueryEscape(c.p.config.ClientID), url.QueryEscape(c.p.config.ClientSecret))
	resp, err := c.p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return domainauth.NewError(domainauth.KindProviderUnavailable, "token revocation failed",
			fmt.Errorf("revocation status %d", resp.StatusCode))
	}
	return nil
}

// dispatchLocked calls listeners synchronously. Caller must hold c.mu.
func (c *Client) dispatchLocked(evt domainauth.SessionEvent) {
	for _, l := range c.listeners {
		l(evt)
	}
}

func isRejected(re *oauth2.RetrieveError) bool {
	if re.ErrorCode == "invalid_grant" || re.ErrorCode == "unauthorized_client" {
		return true
	}
	return re.Response != nil && (re.Response.StatusCode == http.StatusBadRequest || re.Response.StatusCode == http.StatusUnauthorized)
}

func classifyGrantError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if isRejected(re) {
			return domainauth.NewError(domainauth.KindInvalidCredentials, "invalid email or password", err)
		}
		if re.Response != nil && re.Response.StatusCode >= 500 {
			return domainauth.NewError(domainauth.KindProviderUnavailable, "identity provider unavailable", err)
		}
	}
	return fmt.Errorf("password grant: %w", err)
}
