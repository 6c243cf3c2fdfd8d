package controlplane

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/alvesdmateus/apphost/pkg/models"
)

const writeWait = 10 * time.Second

// streamLogs handles GET /deployments/{key}/logs. It upgrades to a websocket,
// pushes every log row as JSON and closes normally once StreamDuration passes.
func (s *Server) streamLogs(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	claims, err := s.tokens.Verify(r.URL.Query().Get("access_token"))
	if err != nil {
		RespondWithError(w, http.StatusForbidden, "Invalid or expired token")
		return
	}

	deployment, err := s.store.GetDeployment(r.Context(), key)
	if err != nil || deployment.Owner != claims.Email {
		RespondWithError(w, http.StatusNotFound, "Deployment %q not found", key)
		return
	}

	logType := r.URL.Query().Get("log_type")
	if logType == "" {
		logType = models.LogTypeApp
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), s.config.StreamDuration)
	defer cancel()

	// Reading is required to process close frames from the client
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.logger.Debug().Str("key", key).Str("log_type", logType).Msg("Log stream opened")

	ticker := time.NewTicker(s.config.StreamInterval)
	defer ticker.Stop()

	var from time.Time
	for {
		events, err := s.store.QueryLogs(ctx, LogQuery{Key: key, LogType: logType, From: from})
		if err != nil && ctx.Err() == nil {
			s.logger.Error().Err(err).Str("key", key).Msg("Failed to query logs for stream")
			return
		}

		for _, event := range events {
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(event); err != nil {
				s.logger.Debug().Err(err).Str("key", key).Msg("Log stream client gone")
				return
			}
			// Row timestamps are strictly increasing
			from = event.Timestamp.Add(time.Nanosecond)
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream finished")
				_ = conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(writeWait))
			}
			s.logger.Debug().Str("key", key).Msg("Log stream closed")
			return
		case <-ticker.C:
		}
	}
}
