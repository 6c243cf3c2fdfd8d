package hosting

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

	"github.com/pkg/browser"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/alvesdmateus/apphost/internal/credentials"
	"github.com/alvesdmateus/apphost/internal/logging"
	"github.com/alvesdmateus/apphost/pkg/config"
	"github.com/alvesdmateus/apphost/pkg/models"
)

// Config holds the control plane endpoints and every polling budget
type Config struct {
	BaseURL      string
	WebsocketURL string
	AuthURL      string
	CLIVersion   string

	Timeout       time.Duration
	UploadTimeout time.Duration

	AuthRetries  int
	AuthInterval time.Duration

	MilestoneRetries int
	PollInterval     time.Duration

	BackendTimeout  time.Duration
	FrontendTimeout time.Duration
	HealthInterval  time.Duration
	LogLineLimit    int

	PromptMaxAttempts int
}

// NewConfig maps application configuration onto client settings
func NewConfig(cfg *config.Config, version string) Config {
	return Config{
		BaseURL:           cfg.APIURL,
		WebsocketURL:      cfg.WebsocketURL(),
		AuthURL:           cfg.AuthURL,
		CLIVersion:        version,
		Timeout:           cfg.HTTP.Timeout,
		UploadTimeout:     cfg.HTTP.UploadTimeout,
		AuthRetries:       cfg.Auth.Retries,
		AuthInterval:      cfg.Auth.Interval,
		MilestoneRetries:  cfg.Deploy.MilestoneRetries,
		PollInterval:      cfg.Deploy.PollInterval,
		BackendTimeout:    cfg.Health.BackendTimeout,
		FrontendTimeout:   cfg.Health.FrontendTimeout,
		HealthInterval:    cfg.Health.Interval,
		LogLineLimit:      cfg.Health.LogLineLimit,
		PromptMaxAttempts: cfg.Prompt.MaxAttempts,
	}
}

// Client talks to the hosting control plane
type Client struct {
	config       Config
	baseURL      *url.URL
	httpClient   *http.Client
	uploadClient *http.Client
	store        credentials.Store
	logger       zerolog.Logger

	// OpenBrowser opens the login page; replaced in tests
	OpenBrowser func(url string) error
	now         func() time.Time

	mu        sync.Mutex
	validated string
}

// NewClient creates a control plane client that caches tokens in store
func NewClient(config Config, store credentials.Store) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("hosting: BaseURL is required")
	}

	baseURL, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("hosting: invalid BaseURL: %w", err)
	}

	if config.Timeout == 0 {
		config.Timeout = 15 * time.Second
	}
	if config.UploadTimeout == 0 {
		config.UploadTimeout = 5 * time.Minute
	}
	if config.AuthRetries <= 0 {
		config.AuthRetries = 60
	}
	if config.MilestoneRetries <= 0 {
		config.MilestoneRetries = 300
	}
	if config.LogLineLimit <= 0 {
		config.LogLineLimit = 30
	}
	if config.PromptMaxAttempts <= 0 {
		config.PromptMaxAttempts = 5
	}
	if config.WebsocketURL == "" {
		config.WebsocketURL = strings.Replace(config.BaseURL, "http", "ws", 1)
	}

	return &Client{
		config:       config,
		baseURL:      baseURL,
		httpClient:   &http.Client{Timeout: config.Timeout},
		uploadClient: &http.Client{Timeout: config.UploadTimeout},
		store:        store,
		logger:       logging.Component("hosting-client"),
		OpenBrowser:  browser.OpenURL,
		now:          time.Now,
	}, nil
}

// Config returns the client settings
func (c *Client) Config() Config {
	return c.config
}

// Store returns the credential store the client uses
func (c *Client) Store() credentials.Store {
	return c.store
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(c.baseURL.Path, "/") + path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// do issues a JSON request and decodes a JSON response into result.
// op names the operation in user-facing internal errors.
func (c *Client) do(ctx context.Context, op, method, path, token string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, nil), bodyReader)
	if err != nil {
		return internalError(op, err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return c.send(c.httpClient, req, op, result)
}

// send executes a prepared request and maps the response onto the error taxonomy
func (c *Client) send(httpClient *http.Client, req *http.Request, op string, result any) error {
	c.logger.Debug().
		Str("method", req.Method).
		Str("url", logging.Redact(req.URL.String())).
		Msg("Sending request")

	resp, err := httpClient.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return ctxErr
		}
		return internalError(op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return internalError(op, fmt.Errorf("read response body: %w", err))
	}

	if err := statusError(resp.StatusCode, respBody); err != nil {
		var rejected *RejectedError
		if errors.As(err, &rejected) || errors.Is(err, ErrNotAuthenticated) {
			return err
		}
		return internalError(op, err)
	}

	if result != nil {
		if len(respBody) == 0 {
			return internalError(op, &malformedResponseError{reason: "empty body"})
		}
		if err := json.Unmarshal(respBody, result); err != nil {
			return internalError(op, &malformedResponseError{reason: err.Error()})
		}
	}

	return nil
}

// statusError converts non-2xx responses. Client errors carrying a detail
// become RejectedError, 401 is ErrNotAuthenticated, the rest is returned as a
// plain error for the caller to wrap.
func statusError(status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}

	if status == http.StatusUnauthorized {
		return ErrNotAuthenticated
	}

	var errResp models.ErrorResponse
	_ = json.Unmarshal(body, &errResp)

	if status == http.StatusBadRequest || status == http.StatusForbidden ||
		(status >= 400 && status < 500 && errResp.Detail != "") {
		return &RejectedError{StatusCode: status, Detail: errResp.Detail}
	}

	return fmt.Errorf("unexpected status %d: %s", status, truncate(string(body), 200))
}

// newPacer spaces polling iterations. The first Wait returns immediately.
func newPacer(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
