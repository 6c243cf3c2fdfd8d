package hosting

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alvesdmateus/apphost/pkg/models"
)

// CursorDelta is added to the newest event timestamp so the next poll does not
// return the same row again.
const CursorDelta = 100 * time.Millisecond

const logTimeLayout = "2006-01-02 15:04:05"

// MilestoneResult is the outcome of watching deployment milestones
type MilestoneResult int

const (
	// MilestoneInconclusive means the budget ran out; the deployment may still be in progress
	MilestoneInconclusive MilestoneResult = iota
	MilestoneSuccess
	MilestoneFailure
)

func (r MilestoneResult) String() string {
	switch r {
	case MilestoneSuccess:
		return "SUCCESS"
	case MilestoneFailure:
		return "FAILURE"
	default:
		return "INCONCLUSIVE"
	}
}

var terminalMilestones = []string{
	models.MilestoneBackendSuccess,
	models.MilestoneFrontendSuccess,
}

// LogCursor tracks the from-timestamp of successive log polls.
// It never moves backwards.
type LogCursor struct {
	from time.Time
}

// NewLogCursor starts a cursor at from
func NewLogCursor(from time.Time) *LogCursor {
	return &LogCursor{from: from}
}

// From returns the timestamp the next poll starts at
func (c *LogCursor) From() time.Time {
	return c.from
}

// Advance moves the cursor past an event
func (c *LogCursor) Advance(event models.LogEvent) {
	next := event.Timestamp.Add(CursorDelta)
	if next.After(c.from) {
		c.from = next
	}
}

// FetchLogs returns log events newer than the request cursor
func (c *Client) FetchLogs(ctx context.Context, token string, req models.LogsRequest) ([]models.LogEvent, error) {
	var events []models.LogEvent
	if err := c.do(ctx, "fetch logs", http.MethodPost, "/deployments/logs", token, req, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// WatchMilestones polls deployment logs until both components report success,
// any message reports a failure, or the retry budget runs out. Events are
// printed to out as they arrive. The only error returned is ctx cancellation.
func (c *Client) WatchMilestones(ctx context.Context, key string, eventIDs []int64, from time.Time, out io.Writer) (MilestoneResult, error) {
	token, err := c.Authenticated(ctx)
	if err != nil {
		return MilestoneInconclusive, err
	}

	cursor := NewLogCursor(from)
	seen := make(map[string]bool, len(terminalMilestones))
	pace := newPacer(c.config.PollInterval)

	for attempt := 1; attempt <= c.config.MilestoneRetries; attempt++ {
		if err := pace.Wait(ctx); err != nil {
			return MilestoneInconclusive, err
		}

		events, err := c.FetchLogs(ctx, token, models.LogsRequest{
			Key:              key,
			LogType:          models.LogTypeDeploy,
			FromISOTimestamp: cursor.From(),
			DeployEventIDs:   eventIDs,
		})
		if err != nil {
			if ctx.Err() != nil {
				return MilestoneInconclusive, ctx.Err()
			}
			c.logger.Debug().Err(err).Int("attempt", attempt).Msg("Failed to fetch deployment logs")
			continue
		}

		for _, event := range events {
			PrintLogEvent(out, event)
			cursor.Advance(event)

			message := strings.ToLower(event.Message)
			if strings.Contains(message, "fail") {
				return MilestoneFailure, nil
			}
			for _, milestone := range terminalMilestones {
				if strings.Contains(message, milestone) {
					seen[milestone] = true
				}
			}
			if len(seen) == len(terminalMilestones) {
				return MilestoneSuccess, nil
			}
		}
	}

	c.logger.Debug().Str("key", key).Int("seen", len(seen)).Msg("Milestone budget exhausted")
	return MilestoneInconclusive, nil
}

// PrintLogEvent writes "timestamp | message" with details aligned under the message
func PrintLogEvent(out io.Writer, event models.LogEvent) {
	ts := event.Timestamp.Local().Format(logTimeLayout)
	fmt.Fprintf(out, "%s | %s\n", ts, event.Message)

	indent := strings.Repeat(" ", len(ts)) + " | "
	for _, detail := range event.Details {
		fmt.Fprintf(out, "%s%s\n", indent, detail)
	}
}
