package kukuh

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// TokenSource supplies bearer tokens for outbound requests.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// BearerAuth returns a middleware injecting "Authorization: Bearer <token>"
// from the source on every attempt, so refreshed tokens reach retries and
// async status polls.
func BearerAuth(source TokenSource) Middleware {
	return func(req *http.Request, next RoundTripper) (*http.Response, error) {
		token, err := source.Token(req.Context())
		if err != nil {
			return nil, fmt.Errorf("bearer auth: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return next.RoundTrip(req)
	}
}

// StaticTokenSource returns a TokenSource always yielding the given token.
func StaticTokenSource(token string) TokenSource {
	return staticToken(token)
}

type staticToken string

func (t staticToken) Token(context.Context) (string, error) {
	return string(t), nil
}

// ClientCredentialsConfig configures OAuth2 client-credentials token
// acquisition against a token endpoint.
type ClientCredentialsConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	// Scope is the space separated scope string, e.g.
	// "https://api.businesscentral.dynamics.com/.default".
	Scope string
	// ExpirySkew refreshes the token this long before its reported expiry.
	// Defaults to 60s.
	ExpirySkew time.Duration
	// HTTPClient issues the token request. Defaults to a plain client with
	// a 30s timeout; do not route it through the resilient client whose
	// auth it backs.
	HTTPClient *http.Client
}

// ClientCredentialsTokenSource acquires tokens via the client-credentials
// grant and caches them until shortly before expiry. Safe for concurrent
// use; concurrent refreshes serialize so the endpoint sees one request.
type ClientCredentialsTokenSource struct {
	config ClientCredentialsConfig

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// NewClientCredentialsTokenSource validates the configuration and returns a
// caching token source.
func NewClientCredentialsTokenSource(config ClientCredentialsConfig) (*ClientCredentialsTokenSource, error) {
	if config.TokenURL == "" {
		return nil, fmt.Errorf("client credentials: TokenURL is required")
	}
	if config.ClientID == "" || config.ClientSecret == "" {
		return nil, fmt.Errorf("client credentials: ClientID and ClientSecret are required")
	}
	if config.ExpirySkew <= 0 {
		config.ExpirySkew = 60 * time.Second
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &ClientCredentialsTokenSource{config: config}, nil
}

// Token returns the cached token, refreshing it when missing or within the
// expiry skew.
func (s *ClientCredentialsTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && time.Now().Before(s.expiry.Add(-s.config.ExpirySkew)) {
		return s.token, nil
	}

	token, expiresIn, err := s.fetch(ctx)
	if err != nil {
		return "", err
	}

	s.token = token
	s.expiry = time.Now().Add(expiresIn)
	return s.token, nil
}

// Invalidate drops the cached token so the next Token call refetches, e.g.
// after a 401 from the API.
func (s *ClientCredentialsTokenSource) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.expiry = time.Time{}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

func (s *ClientCredentialsTokenSource) fetch(ctx context.Context) (string, time.Duration, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", s.config.ClientID)
	form.Set("client_secret", s.config.ClientSecret)
	if s.config.Scope != "" {
		form.Set("scope", s.config.Scope)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.TokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.config.HTTPClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("token endpoint returned HTTP %d", resp.StatusCode)
	}

	var body tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", 0, fmt.Errorf("token response decode failed: %w", err)
	}
	if body.AccessToken == "" {
		return "", 0, fmt.Errorf("token response missing access_token")
	}

	expiresIn := time.Duration(body.ExpiresIn) * time.Second
	if expiresIn <= 0 {
		expiresIn = time.Hour
	}
	return body.AccessToken, expiresIn, nil
}
