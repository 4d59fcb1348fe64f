package repository

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"chat_sync_service/pkg/config"
	"chat_sync_service/pkg/errs"
	"chat_sync_service/pkg/token"

	"github.com/valyala/fasthttp"
)

type refreshTokenProvider struct {
	baseURL string
	timeout time.Duration
	client  *fasthttp.Client

	mu   sync.Mutex
	pair token.Pair
}

// NewRefreshTokenProvider wraps an initial token pair with backend
// refresh. Hosts with their own credential storage supply their own
// token.Provider instead.
func NewRefreshTokenProvider(cfg config.APIConfig, initial token.Pair) token.Provider {
	return &refreshTokenProvider{
		baseURL: cfg.BaseURL,
		timeout: cfg.RequestTimeout,
		client: &fasthttp.Client{
			ReadTimeout:  cfg.RequestTimeout,
			WriteTimeout: cfg.RequestTimeout,
		},
		pair: initial,
	}
}

func (p *refreshTokenProvider) Tokens() (token.Pair, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.pair.Valid() {
		return token.Pair{}, errs.Newf(errs.KindAuth, "tokens", "no token pair available")
	}
	return p.pair, nil
}

// Refresh exchanges the refresh token for a new pair. Concurrent callers
// serialize on the mutex so only one exchange runs at a time.
func (p *refreshTokenProvider) Refresh(ctx context.Context) (token.Pair, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if token.NotExpired(p.pair.Access, 30*time.Second) {
		// another caller already refreshed while we waited on the lock
		return p.pair, nil
	}
	if p.pair.Refresh == "" {
		return token.Pair{}, errs.Newf(errs.KindAuth, "token refresh", "no refresh token")
	}

	body, _ := json.Marshal(map[string]string{"refresh_token": p.pair.Refresh})

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(p.baseURL + "/auth/refresh")
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	timeout := p.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < timeout {
			timeout = until
		}
	}
	if err := p.client.DoTimeout(req, resp, timeout); err != nil {
		return token.Pair{}, errs.New(errs.KindNetwork, "token refresh", err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return token.Pair{}, errs.Newf(errs.KindAuth, "token refresh", "status %d", resp.StatusCode())
	}

	var out struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return token.Pair{}, errs.New(errs.KindParse, "token refresh", err)
	}
	if out.AccessToken == "" {
		return token.Pair{}, errs.Newf(errs.KindAuth, "token refresh", "empty access token in response")
	}

	p.pair.Access = out.AccessToken
	if out.RefreshToken != "" {
		p.pair.Refresh = out.RefreshToken
	}
	return p.pair, nil
}
