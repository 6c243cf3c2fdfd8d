package hosting

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/alvesdmateus/apphost/internal/logging"
	"github.com/alvesdmateus/apphost/pkg/models"
)

// StreamLogs follows the live log socket of a deployment and prints every row
// until the server closes the stream or ctx is cancelled.
func (c *Client) StreamLogs(ctx context.Context, key, logType string, out io.Writer) error {
	token, err := c.Authenticated(ctx)
	if err != nil {
		return err
	}

	query := url.Values{}
	query.Set("access_token", token)
	query.Set("log_type", logType)
	streamURL := strings.TrimRight(c.config.WebsocketURL, "/") + "/deployments/" + url.PathEscape(key) + "/logs?" + query.Encode()

	c.logger.Debug().Str("url", logging.Redact(streamURL)).Msg("Opening log stream")

	dialer := websocket.Dialer{HandshakeTimeout: c.config.Timeout}
	conn, resp, err := dialer.DialContext(ctx, streamURL, nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized {
				return ErrNotAuthenticated
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return internalError("stream logs", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		var event models.LogEvent
		if err := conn.ReadJSON(&event); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNormalClosure {
				return nil
			}
			return internalError("stream logs", err)
		}
		PrintLogEvent(out, event)
	}
}
