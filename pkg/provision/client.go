// Package provision is a client for the remote browser-session provisioning API.
package provision

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"
)

// APIKeyHeader carries the API key on every request.
const APIKeyHeader = "X-BB-API-Key"

// Config configures a Client.
type Config struct {
	BaseURL   string
	APIKey    string
	ProjectID string

	// Timeout bounds each HTTP request, retries included.
	Timeout time.Duration

	// RequestsPerSecond limits outgoing requests. Zero or less disables limiting.
	RequestsPerSecond float64
	Burst             int

	// MaxRetries is how often transient failures (connection errors, 5xx, 429) are retried.
	MaxRetries int
}

// Client talks to the provisioning API. It is safe for concurrent use.
type Client struct {
	resty     *resty.Client
	limiter   *rate.Limiter
	projectID string
}

// NewClient creates a client with retrying transport and client-side rate limiting.
func NewClient(cfg Config) *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.MaxRetries
	retryClient.RetryWaitMin = 200 * time.Millisecond
	retryClient.RetryWaitMax = 5 * time.Second
	retryClient.Logger = nil
	retryClient.CheckRetry = retryPolicy
	// Surface the final response after retries so 5xx bodies become APIErrors.
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	restyClient := resty.NewWithClient(retryClient.StandardClient())
	restyClient.
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader(APIKeyHeader, cfg.APIKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "operator/1.0")
	if cfg.Timeout > 0 {
		restyClient.SetTimeout(cfg.Timeout)
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Client{
		resty:     restyClient,
		limiter:   limiter,
		projectID: cfg.ProjectID,
	}
}

// Create provisions a new remote browser session.
func (c *Client) Create(ctx context.Context, req CreateRequest) (*Session, error) {
	body := createSessionBody{
		ProjectID: c.projectID,
		Region:    req.Region,
		Timeout:   int(req.Timeout / time.Second),
	}
	if req.ContextID != "" {
		body.BrowserSettings = &browserSettings{
			Context: &contextSettings{ID: req.ContextID, Persist: req.Persist},
		}
	}

	var session Session
	if err := c.do(ctx, "create session", c.request(withoutRetry(ctx)).SetBody(body).SetResult(&session), "POST", "/v1/sessions"); err != nil {
		return nil, err
	}
	if session.ID == "" {
		return nil, fmt.Errorf("create session: response carried no session id")
	}
	if session.ContextID == "" {
		session.ContextID = req.ContextID
	}
	if session.Region == "" {
		session.Region = req.Region
	}
	return &session, nil
}

// DebugURL returns the live-view URL of a session, suitable for handing to a
// human who must intervene in the page.
func (c *Client) DebugURL(ctx context.Context, sessionID string) (string, error) {
	var out debugResponse
	if err := c.do(ctx, "get debug url", c.request(ctx).SetResult(&out), "GET", "/v1/sessions/"+sessionID+"/debug"); err != nil {
		return "", err
	}
	if out.DebuggerFullscreenURL != "" {
		return out.DebuggerFullscreenURL, nil
	}
	return out.DebuggerURL, nil
}

// Release asks the API to end a session, persisting its context if requested at creation.
func (c *Client) Release(ctx context.Context, sessionID string) error {
	body := updateSessionBody{ProjectID: c.projectID, Status: StatusRequestRelease}
	return c.do(ctx, "release session", c.request(ctx).SetBody(body), "POST", "/v1/sessions/"+sessionID)
}

// Delete removes a session outright.
func (c *Client) Delete(ctx context.Context, sessionID string) error {
	return c.do(ctx, "delete session", c.request(ctx), "DELETE", "/v1/sessions/"+sessionID)
}

// CreateContext creates an empty persisted context and returns its id.
func (c *Client) CreateContext(ctx context.Context) (string, error) {
	var out contextResponse
	if err := c.do(ctx, "create context", c.request(withoutRetry(ctx)).SetBody(createContextBody{ProjectID: c.projectID}).SetResult(&out), "POST", "/v1/contexts"); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("create context: response carried no context id")
	}
	return out.ID, nil
}

type noRetryKey struct{}

// withoutRetry marks a request that must reach the API at most once. Creates
// are not idempotent: a retried create after a lost response provisions a
// second session.
func withoutRetry(ctx context.Context) context.Context {
	return context.WithValue(ctx, noRetryKey{}, true)
}

func retryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if once, _ := ctx.Value(noRetryKey{}).(bool); once {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

func (c *Client) request(ctx context.Context) *resty.Request {
	return c.resty.R().SetContext(ctx)
}

func (c *Client) do(ctx context.Context, op string, req *resty.Request, method, path string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if resp.IsError() {
		return &APIError{
			Op:         op,
			StatusCode: resp.StatusCode(),
			Body:       strings.TrimSpace(resp.String()),
		}
	}
	return nil
}
