package salesforce

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/leadpulse/leadpulse/cdc/internal/metrics"
)

const (
	jwtBearerGrant = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	assertionTTL   = 5 * time.Minute
	refreshBuffer  = 60 * time.Second
)

// Token is a cached Salesforce access token.
type Token struct {
	AccessToken string
	InstanceURL string
	ExpiresAt   time.Time
}

// AuthConfig configures the JWT bearer flow.
type AuthConfig struct {
	// LoginURL hosts /services/oauth2/token and is the assertion audience.
	LoginURL   string
	ClientID   string
	Username   string
	PrivateKey *rsa.PrivateKey

	HTTPClient *http.Client
	Logger     *slog.Logger
	Now        func() time.Time
}

// Authenticator exchanges signed assertions for access tokens and caches
// them until shortly before the assertion expires.
type Authenticator struct {
	cfg    AuthConfig
	logger *slog.Logger

	mu     sync.Mutex
	cached *Token
}

// LoadPrivateKey reads a PEM encoded RSA private key.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return key, nil
}

// NewAuthenticator validates cfg and returns an Authenticator.
func NewAuthenticator(cfg AuthConfig) (*Authenticator, error) {
	if cfg.ClientID == "" || cfg.Username == "" {
		return nil, fmt.Errorf("salesforce auth: client id and username are required")
	}
	if cfg.PrivateKey == nil {
		return nil, fmt.Errorf("salesforce auth: private key is required")
	}
	if cfg.LoginURL == "" {
		cfg.LoginURL = "https://login.salesforce.com"
	}
	cfg.LoginURL = strings.TrimRight(cfg.LoginURL, "/")
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Authenticator{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "salesforce_auth")),
	}, nil
}

// Token returns a valid access token, refreshing when the cached one is
// within a minute of expiry.
func (a *Authenticator) Token(ctx context.Context) (*Token, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cached != nil && a.cfg.Now().Before(a.cached.ExpiresAt.Add(-refreshBuffer)) {
		return a.cached, nil
	}

	tok, err := a.refresh(ctx)
	if err != nil {
		return nil, err
	}
	a.cached = tok
	return tok, nil
}

// Invalidate forces the next Token call to refresh.
func (a *Authenticator) Invalidate() {
	a.mu.Lock()
	a.cached = nil
	a.mu.Unlock()
	a.logger.Info("Token cache invalidated")
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	InstanceURL      string `json:"instance_url"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (a *Authenticator) refresh(ctx context.Context) (*Token, error) {
	start := time.Now()
	defer func() { metrics.SFAuthLatency.Observe(time.Since(start).Seconds()) }()

	now := a.cfg.Now()
	exp := now.Add(assertionTTL)

	claims := jwt.RegisteredClaims{
		Issuer:    a.cfg.ClientID,
		Subject:   a.cfg.Username,
		Audience:  jwt.ClaimStrings{a.cfg.LoginURL},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	assertion, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(a.cfg.PrivateKey)
	if err != nil {
		metrics.SFAuthRequests.WithLabelValues("sign_error").Inc()
		return nil, fmt.Errorf("failed to sign assertion: %w", err)
	}

	form := url.Values{
		"grant_type": {jwtBearerGrant},
		"assertion":  {assertion},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.cfg.LoginURL+"/services/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.cfg.HTTPClient.Do(req)
	if err != nil {
		metrics.SFAuthRequests.WithLabelValues("request_error").Inc()
		return nil, fmt.Errorf("%w: token request: %w", ErrRequest, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var tr tokenResponse
	_ = json.Unmarshal(body, &tr)

	if resp.StatusCode != http.StatusOK || tr.AccessToken == "" {
		metrics.SFAuthRequests.WithLabelValues("request_error").Inc()
		a.logger.Error("Token request failed",
			slog.Int("status", resp.StatusCode),
			slog.String("error", tr.Error),
			slog.String("error_description", tr.ErrorDescription))
		return nil, &APIError{Status: resp.StatusCode, Body: string(body)}
	}

	metrics.SFAuthRequests.WithLabelValues("success").Inc()
	a.logger.Info("Token refreshed", slog.Time("expires_at", exp))

	return &Token{
		AccessToken: tr.AccessToken,
		InstanceURL: strings.TrimRight(tr.InstanceURL, "/"),
		ExpiresAt:   exp,
	}, nil
}
