// Package auth obtains and caches the bearer token used for marketplace calls.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"github.com/fairyhunter13/price-follower/internal/obs"
)

const (
	// DefaultMargin is how long before expiry a token stops being used.
	DefaultMargin = 60 * time.Second
	// fallbackLifetime applies when neither expires_in nor a JWT exp is present.
	fallbackLifetime = 5 * time.Minute
)

// Token is a bearer credential with its absolute expiry.
type Token struct {
	AccessToken string    `json:"access_token"`
	Expiry      time.Time `json:"expiry"`
}

// ValidAt reports whether the token can still be used at now given margin.
func (t Token) ValidAt(now time.Time, margin time.Duration) bool {
	return t.AccessToken != "" && now.Before(t.Expiry.Add(-margin))
}

// TokenStore persists tokens between calls and, for shared stores, between
// processes.
type TokenStore interface {
	Load(ctx context.Context, key string) (Token, bool, error)
	Save(ctx context.Context, key string, tok Token) error
}

// Config identifies the API consumer.
type Config struct {
	URL      string
	ClientID string
	ID       string
	Secret   string
	Margin   time.Duration
}

// Error is a non-2xx response from the token endpoint.
type Error struct {
	Status int
	Body   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("token endpoint status %d: %s", e.Status, e.Body)
}

// Provider issues bearer tokens, refreshing lazily once the cached token is
// absent or inside the expiry margin. Concurrent refreshes share one request.
type Provider struct {
	cfg   Config
	http  *http.Client
	store TokenStore
	now   func() time.Time

	mu     sync.RWMutex
	cached Token
	group  singleflight.Group
}

// NewProvider builds a Provider. A nil store keeps tokens in memory only.
func NewProvider(cfg Config, store TokenStore, hc *http.Client) *Provider {
	if cfg.Margin <= 0 {
		cfg.Margin = DefaultMargin
	}
	if store == nil {
		store = NewMemoryStore()
	}
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Provider{cfg: cfg, http: hc, store: store, now: time.Now}
}

// Token returns a valid bearer token.
func (p *Provider) Token(ctx context.Context) (string, error) {
	now := p.now()
	p.mu.RLock()
	cached := p.cached
	p.mu.RUnlock()
	if cached.ValidAt(now, p.cfg.Margin) {
		return cached.AccessToken, nil
	}

	ch := p.group.DoChan(p.cfg.ClientID, func() (any, error) {
		// Shared by every waiter: one caller's cancellation must not abort it.
		ctx := context.WithoutCancel(ctx)
		if tok, ok, err := p.store.Load(ctx, p.cfg.ClientID); err != nil {
			obs.Logger.Warn("token_store_load_failed", "error", err.Error())
		} else if ok && tok.ValidAt(p.now(), p.cfg.Margin) {
			p.remember(tok)
			return tok, nil
		}
		tok, err := p.fetch(ctx)
		if err != nil {
			return Token{}, err
		}
		p.remember(tok)
		if err := p.store.Save(ctx, p.cfg.ClientID, tok); err != nil {
			obs.Logger.Warn("token_store_save_failed", "error", err.Error())
		}
		return tok, nil
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(Token).AccessToken, nil
	}
}

func (p *Provider) remember(tok Token) {
	p.mu.Lock()
	p.cached = tok
	p.mu.Unlock()
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (p *Provider) fetch(ctx context.Context) (Token, error) {
	obs.Logger.Info("token_refresh", "client_id", p.cfg.ClientID)
	form := url.Values{
		"grant_type": {"api_consumer"},
		"client_id":  {p.cfg.ClientID},
		"id":         {p.cfg.ID},
		"secret":     {p.cfg.Secret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.URL, strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, fmt.Errorf("token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	issued := p.now()
	resp, err := p.http.Do(req)
	if err != nil {
		return Token{}, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Token{}, fmt.Errorf("token response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		obs.Logger.Error("token_refresh_failed", "status", resp.StatusCode)
		return Token{}, &Error{Status: resp.StatusCode, Body: string(body)}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return Token{}, fmt.Errorf("decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return Token{}, fmt.Errorf("token response has no access_token")
	}
	tok := Token{AccessToken: tr.AccessToken}
	switch {
	case tr.ExpiresIn > 0:
		tok.Expiry = issued.Add(time.Duration(tr.ExpiresIn) * time.Second)
	default:
		if exp, ok := jwtExpiry(tr.AccessToken); ok {
			tok.Expiry = exp
		} else {
			tok.Expiry = issued.Add(fallbackLifetime)
		}
	}
	obs.Logger.Info("token_refreshed", "expires_at", tok.Expiry.UTC().Format(time.RFC3339))
	return tok, nil
}

// jwtExpiry reads the exp claim without verifying the signature; the token
// is only inspected to schedule its own refresh.
func jwtExpiry(raw string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
