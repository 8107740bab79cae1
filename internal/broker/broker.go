// Package broker forwards ephemeral-credential and OAuth token
// requests to external collaborators. It adds server-held secrets and
// relays the upstream response verbatim; no business logic lives here.
package broker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/voxguard/voxguard/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const requestTimeout = 10 * time.Second

var ErrNotConfigured = errors.New("broker upstream not configured")

type Params struct {
	fx.In

	Log *zap.Logger
	Cfg config.Config
}

type Broker struct {
	log    *zap.Logger
	cfg    config.BrokerConfig
	client *http.Client
}

// Response is the relayed upstream reply.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

func NewBroker(p Params) *Broker {
	return &Broker{
		log:    p.Log.Named("broker"),
		cfg:    p.Cfg.Broker,
		client: &http.Client{Timeout: requestTimeout},
	}
}

// VoiceCredentials requests an ephemeral session credential from the
// voice API, authenticating with the server's bearer key.
func (b *Broker) VoiceCredentials(ctx context.Context, body []byte) (*Response, error) {
	if b.cfg.VoiceAPIBaseURL == "" {
		return nil, ErrNotConfigured
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(b.cfg.VoiceAPIBaseURL, "/")+"/credentials",
		bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+b.cfg.VoiceAPIKey)
	req.Header.Set("Content-Type", "application/json")

	return b.relay(req)
}

// ExchangeToken forwards an OAuth authorization-code exchange,
// injecting the client credentials.
func (b *Broker) ExchangeToken(ctx context.Context, code, redirectURI, codeVerifier string) (*Response, error) {
	form := url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {redirectURI},
	}
	if codeVerifier != "" {
		form.Set("code_verifier", codeVerifier)
	}
	return b.postTokenForm(ctx, form)
}

// RefreshToken forwards an OAuth refresh-token grant.
func (b *Broker) RefreshToken(ctx context.Context, refreshToken string) (*Response, error) {
	return b.postTokenForm(ctx, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	})
}

func (b *Broker) postTokenForm(ctx context.Context, form url.Values) (*Response, error) {
	if b.cfg.OAuthTokenURL == "" {
		return nil, ErrNotConfigured
	}

	form.Set("client_id", b.cfg.OAuthClientID)
	form.Set("client_secret", b.cfg.OAuthClientKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.OAuthTokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return b.relay(req)
}

func (b *Broker) relay(req *http.Request) (*Response, error) {
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= http.StatusBadRequest {
		b.log.Warn("upstream returned error",
			zap.String("url", req.URL.Redacted()),
			zap.Int("status", resp.StatusCode),
		)
	}

	return &Response{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}
