package hosting

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alvesdmateus/apphost/pkg/models"
)

// ProbeResult reports whether a deployed component answered. When the backend
// crashed, Logs holds the stack trace found in its logs.
type ProbeResult struct {
	Reachable bool
	Logs      string
}

var (
	errBackendUp  = errors.New("backend is up")
	errTraceFound = errors.New("stack trace found")
)

// ProbeFrontend polls the frontend URL until it answers or the budget runs out
func (c *Client) ProbeFrontend(ctx context.Context, frontendURL string) (ProbeResult, error) {
	probeCtx, cancel := context.WithTimeout(ctx, c.config.FrontendTimeout)
	defer cancel()

	reachable := c.waitReachable(probeCtx, frontendURL)
	if err := ctx.Err(); err != nil {
		return ProbeResult{}, err
	}
	return ProbeResult{Reachable: reachable}, nil
}

// ProbeBackend waits for the sidecar, then races the backend ping against a
// scan of the application logs for a stack trace.
func (c *Client) ProbeBackend(ctx context.Context, key, backendURL, sidecarURL string) (ProbeResult, error) {
	if sidecarURL != "" {
		sidecarCtx, cancel := context.WithTimeout(ctx, c.config.BackendTimeout)
		up := c.waitReachable(sidecarCtx, sidecarURL)
		cancel()
		if err := ctx.Err(); err != nil {
			return ProbeResult{}, err
		}
		if !up {
			c.logger.Debug().Str("key", key).Msg("Sidecar never answered")
			return ProbeResult{}, nil
		}
	}

	token, err := c.Authenticated(ctx)
	if err != nil {
		return ProbeResult{}, err
	}

	probeCtx, cancel := context.WithTimeout(ctx, c.config.BackendTimeout)
	defer cancel()

	var trace string
	g, gctx := errgroup.WithContext(probeCtx)
	g.Go(func() error {
		if c.waitReachable(gctx, strings.TrimRight(backendURL, "/")+"/ping") {
			return errBackendUp
		}
		return nil
	})
	g.Go(func() error {
		if found := c.scanForTraceback(gctx, token, key); found != "" {
			trace = found
			return errTraceFound
		}
		return nil
	})

	err = g.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ProbeResult{}, ctxErr
	}

	switch {
	case errors.Is(err, errBackendUp):
		return ProbeResult{Reachable: true}, nil
	case errors.Is(err, errTraceFound):
		return ProbeResult{Logs: trace}, nil
	default:
		return ProbeResult{}, nil
	}
}

// waitReachable polls url until it returns a 2xx or ctx is done
func (c *Client) waitReachable(ctx context.Context, url string) bool {
	pace := newPacer(c.config.HealthInterval)
	for {
		if err := pace.Wait(ctx); err != nil {
			return false
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			c.logger.Debug().Err(err).Str("url", url).Msg("Invalid probe URL")
			return false
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logger.Debug().Err(err).Str("url", url).Msg("Probe failed")
			continue
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return true
		}
		c.logger.Debug().Int("status", resp.StatusCode).Str("url", url).Msg("Probe not ready")
	}
}

// scanForTraceback reads application logs until a stack trace shows up or ctx is done.
// Once the marker is seen, polling continues until LogLineLimit lines are
// collected or a poll brings nothing new.
func (c *Client) scanForTraceback(ctx context.Context, token, key string) string {
	cursor := NewLogCursor(c.now().Add(-time.Minute))
	pace := newPacer(c.config.HealthInterval)
	trace := newTraceCollector(c.config.LogLineLimit)

	for {
		if err := pace.Wait(ctx); err != nil {
			return trace.String()
		}

		events, err := c.FetchLogs(ctx, token, models.LogsRequest{
			Key:              key,
			LogType:          models.LogTypeApp,
			FromISOTimestamp: cursor.From(),
		})
		if err != nil {
			c.logger.Debug().Err(err).Msg("Failed to fetch app logs")
			continue
		}

		var lines []string
		for _, event := range events {
			cursor.Advance(event)
			lines = append(lines, strings.Split(strings.TrimRight(event.Message, "\n"), "\n")...)
			lines = append(lines, event.Details...)
		}

		if trace.add(lines) {
			return trace.String()
		}
	}
}

const defaultLogLineLimit = 30

// traceCollector gathers log lines from the first traceback marker onwards
type traceCollector struct {
	limit int
	found bool
	lines []string
}

func newTraceCollector(limit int) *traceCollector {
	if limit <= 0 {
		limit = defaultLogLineLimit
	}
	return &traceCollector{limit: limit}
}

// add takes the lines of one poll and reports whether the trace is complete
func (t *traceCollector) add(lines []string) bool {
	if !t.found {
		start := traceStart(lines)
		if start < 0 {
			return false
		}
		t.found = true
		lines = lines[start:]
	} else if len(lines) == 0 {
		return true
	}

	t.lines = append(t.lines, lines...)
	if len(t.lines) >= t.limit {
		t.lines = t.lines[:t.limit]
		return true
	}
	return false
}

// String returns the collected trace, empty when no marker was seen
func (t *traceCollector) String() string {
	return strings.Join(t.lines, "\n")
}

// traceStart returns the index of the first traceback marker, or -1
func traceStart(lines []string) int {
	for i, line := range lines {
		if strings.Contains(strings.ToLower(line), "traceback") {
			return i
		}
	}
	return -1
}
