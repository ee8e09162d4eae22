package dingtalk

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// TokenSkew is how long before expiry a cached token stops being served.
const TokenSkew = 60 * time.Second

// ErrMissingCredentials is returned when the app key or secret is empty.
var ErrMissingCredentials = errors.New("dingtalk app credentials are required")

// TokenFetcher performs one access token request.
type TokenFetcher func(ctx context.Context, appKey, appSecret string) (*oauth2.Token, error)

// TokenCache memoizes a single app access token.
//
// The mutex guards the slot, not the fetch: concurrent callers that observe an
// expired token may each issue a fetch, and the last one to finish wins the slot.
// The token endpoint is idempotent so duplicate refreshes are tolerated.
type TokenCache struct {
	mu     sync.Mutex
	appKey string
	token  *oauth2.Token

	fetch  TokenFetcher
	now    func() time.Time
	logger *slog.Logger
}

// NewTokenCache creates a cache around fetch.
func NewTokenCache(log *slog.Logger, fetch TokenFetcher) *TokenCache {
	if log == nil {
		log = slog.Default()
	}
	return &TokenCache{
		fetch:  fetch,
		now:    time.Now,
		logger: log.With(slog.String("component", "dingtalk_token")),
	}
}

// SetClock replaces the time source. Intended for tests.
func (c *TokenCache) SetClock(now func() time.Time) {
	if now != nil {
		c.now = now
	}
}

// Token returns the cached access token for appKey, fetching a new one when the
// cached value is absent, belongs to another app, or is within TokenSkew of expiry.
func (c *TokenCache) Token(ctx context.Context, appKey, appSecret string) (*oauth2.Token, error) {
	appKey = strings.TrimSpace(appKey)
	appSecret = strings.TrimSpace(appSecret)
	if appKey == "" || appSecret == "" {
		return nil, ErrMissingCredentials
	}

	c.mu.Lock()
	cached, key := c.token, c.appKey
	c.mu.Unlock()
	if cached != nil && key == appKey && c.now().Add(TokenSkew).Before(cached.Expiry) {
		return cached, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fresh, err := c.fetch(ctx, appKey, appSecret)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.appKey = appKey
	c.token = fresh
	c.mu.Unlock()
	c.logger.Debug("access token refreshed", slog.Time("expiry", fresh.Expiry))
	return fresh, nil
}

// ContextTokenSource is a TokenSource whose fetches can follow a per-call context.
type ContextTokenSource interface {
	oauth2.TokenSource
	TokenContext(ctx context.Context) (*oauth2.Token, error)
}

// TokenFor returns a token from ts on behalf of ctx. A done ctx fails without touching
// ts, and sources implementing ContextTokenSource fetch under ctx instead of their
// own bound context.
func TokenFor(ctx context.Context, ts oauth2.TokenSource) (*oauth2.Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cs, ok := ts.(ContextTokenSource); ok {
		return cs.TokenContext(ctx)
	}
	return ts.Token()
}

// Source adapts the cache to an oauth2.TokenSource bound to one app credential.
// ctx is used by plain Token calls; TokenFor callers pass their own.
func (c *TokenCache) Source(ctx context.Context, appKey, appSecret string) oauth2.TokenSource {
	return &cacheSource{ctx: ctx, cache: c, appKey: appKey, appSecret: appSecret}
}

type cacheSource struct {
	ctx       context.Context
	cache     *TokenCache
	appKey    string
	appSecret string
}

func (s *cacheSource) Token() (*oauth2.Token, error) {
	return s.cache.Token(s.ctx, s.appKey, s.appSecret)
}

func (s *cacheSource) TokenContext(ctx context.Context) (*oauth2.Token, error) {
	return s.cache.Token(ctx, s.appKey, s.appSecret)
}

type accessTokenRequest struct {
	AppKey    string `json:"appKey"`
	AppSecret string `json:"appSecret"`
}

type accessTokenResponse struct {
	AccessToken string `json:"accessToken"`
	ExpireIn    int64  `json:"expireIn"`
}

// FetchAccessToken requests a new app access token from /v1.0/oauth2/accessToken.
// It satisfies TokenFetcher.
func (c *Client) FetchAccessToken(ctx context.Context, appKey, appSecret string) (*oauth2.Token, error) {
	var out accessTokenResponse
	err := c.doJSON(ctx, "access token", http.MethodPost, c.apiBase+"/v1.0/oauth2/accessToken", "",
		accessTokenRequest{AppKey: appKey, AppSecret: appSecret}, &out)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.AccessToken) == "" {
		return nil, &APIError{Op: "access token", Status: http.StatusOK, Message: "empty accessToken"}
	}
	return &oauth2.Token{
		AccessToken: out.AccessToken,
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(time.Duration(out.ExpireIn) * time.Second),
	}, nil
}
