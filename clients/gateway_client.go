package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	apperrors "github.com/yashrajoria/storefront-core/common/errors"
	"github.com/yashrajoria/storefront-core/common/logger"
)

// SessionHeader carries the anonymous session credential in both directions.
const SessionHeader = "woocommerce-session"

// ErrMalformedPayload is wrapped when a response body cannot be decoded.
var ErrMalformedPayload = errors.New("malformed gateway payload")

// TokenStore is the part of the session store the client needs.
type TokenStore interface {
	Get(ctx context.Context) (string, bool)
	Set(ctx context.Context, raw string) error
}

// RemoteError is one error entry reported by the backend.
type RemoteError struct {
	Message string   `json:"message"`
	Code    string   `json:"code,omitempty"`
	Path    []string `json:"path,omitempty"`
}

// PartialResponseError is returned alongside data when the backend reports both.
type PartialResponseError struct {
	Errors []RemoteError
}

func (e *PartialResponseError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, re := range e.Errors {
		msgs = append(msgs, re.Message)
	}
	return "partial response: " + strings.Join(msgs, "; ")
}

type envelope struct {
	Data   json.RawMessage `json:"data"`
	Errors []RemoteError   `json:"errors"`
}

type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("upstream error: status=%d body=%s", e.status, e.body)
}

// Options tune the transport. Zero values keep transport defaults.
type Options struct {
	Timeout         time.Duration
	RateLimit       rate.Limit
	Burst           int
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// GatewayClient talks JSON over HTTP to the commerce backend.
type GatewayClient struct {
	baseURL string
	client  *http.Client
	tokens  TokenStore
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[*http.Response]
	logger  *zap.Logger
}

func NewGatewayClient(baseURL string, tokens TokenStore, opts Options, log *zap.Logger) *GatewayClient {
	log = logger.OrNop(log)

	limit := opts.RateLimit
	if limit <= 0 {
		limit = rate.Inf
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	failures := opts.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	breakerTimeout := opts.BreakerTimeout
	if breakerTimeout <= 0 {
		breakerTimeout = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:    "storefront-gateway",
		Timeout: breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("Gateway circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &GatewayClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: opts.Timeout},
		tokens:  tokens,
		limiter: rate.NewLimiter(limit, burst),
		breaker: breaker,
		logger:  log,
	}
}

type call struct {
	method         string
	path           string
	body           interface{}
	headers        http.Header
	captureSession bool
}

// do performs c and decodes the envelope data into out. A non-nil *PartialResponseError is
// returned together with decoded data when the backend reported both.
func (g *GatewayClient) do(ctx context.Context, c call, out interface{}) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return apperrors.Network("request throttled", err)
	}

	var body io.Reader
	if c.body != nil {
		b, err := json.Marshal(c.body)
		if err != nil {
			return apperrors.New(apperrors.KindInternal, "failed to encode request", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, c.method, g.baseURL+c.path, body)
	if err != nil {
		return apperrors.New(apperrors.KindInternal, "failed to build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		for _, vv := range v {
			req.Header.Add(k, vv)
		}
	}
	if id := logger.RequestID(ctx); id != "unknown" {
		req.Header.Set(logger.RequestIDHeader, id)
	}
	if g.tokens != nil {
		if tok, ok := g.tokens.Get(ctx); ok {
			req.Header.Set(SessionHeader, "Session "+tok)
		}
	}

	resp, err := g.breaker.Execute(func() (*http.Response, error) {
		resp, err := g.client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			defer resp.Body.Close()
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return nil, &statusError{status: resp.StatusCode, body: string(b)}
		}
		return resp, nil
	})
	if err != nil {
		g.logger.Warn("Gateway request failed",
			zap.String("method", c.method),
			zap.String("path", c.path),
			zap.Error(err),
		)
		return apperrors.Network("store backend unavailable", err)
	}
	defer resp.Body.Close()

	if c.captureSession && g.tokens != nil {
		if tok := resp.Header.Get(SessionHeader); tok != "" {
			if err := g.tokens.Set(ctx, tok); err != nil {
				g.logger.Warn("Failed to persist session token", zap.Error(err))
			}
		}
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return apperrors.AuthExpired("identity check failed", &statusError{status: resp.StatusCode})
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return apperrors.Network("unreadable backend response", fmt.Errorf("%w: %v", ErrMalformedPayload, err))
	}

	hasData := len(env.Data) > 0 && string(env.Data) != "null"
	if !hasData {
		if len(env.Errors) > 0 {
			return remoteBusiness(env.Errors)
		}
		if resp.StatusCode >= http.StatusBadRequest {
			return apperrors.RemoteBusiness("request rejected", &statusError{status: resp.StatusCode})
		}
		return apperrors.Network("empty backend response", ErrMalformedPayload)
	}

	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return apperrors.Network("unreadable backend response", fmt.Errorf("%w: %v", ErrMalformedPayload, err))
		}
	}
	if len(env.Errors) > 0 {
		return &PartialResponseError{Errors: env.Errors}
	}
	return nil
}

func remoteBusiness(errs []RemoteError) error {
	first := errs[0]
	msg := first.Message
	if msg == "" {
		msg = "request rejected"
	}
	return apperrors.RemoteBusiness(msg, &PartialResponseError{Errors: errs}).WithCode(first.Code)
}
