package controlplane

import (
	"errors"
	"html/template"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/alvesdmateus/apphost/pkg/models"
)

// DefaultEmail identifies the user logged in when no email is entered
const DefaultEmail = "developer@apphost.local"

var authPageTemplate = template.Must(template.New("cli-auth").Parse(`<!DOCTYPE html>
<html>
<head><title>apphost login</title></head>
<body>
{{if .Done}}
  <h1>Logged in as {{.Email}}</h1>
  <p>You can close this window and return to the terminal.</p>
{{else}}
  <h1>Authorize the apphost CLI</h1>
  <form method="POST" action="/cli-auth/approve">
    <input type="hidden" name="request_id" value="{{.RequestID}}">
    <label>Email <input type="email" name="email" value="{{.Email}}"></label>
    <button type="submit">Approve</button>
  </form>
{{end}}
</body>
</html>
`))

type authPageData struct {
	RequestID string
	Email     string
	Done      bool
}

// authPage handles GET /cli-auth
func (s *Server) authPage(w http.ResponseWriter, r *http.Request) {
	requestID := r.URL.Query().Get("request-id")
	if requestID == "" {
		RespondWithError(w, http.StatusBadRequest, "request-id is required")
		return
	}

	if err := s.store.CreateAuthRequest(r.Context(), requestID); err != nil {
		s.logger.Error().Err(err).Msg("Failed to create auth request")
		RespondWithError(w, http.StatusInternalServerError, "Failed to start login")
		return
	}

	if s.config.AutoApprove {
		s.approve(w, r, requestID, DefaultEmail)
		return
	}

	s.renderAuthPage(w, authPageData{RequestID: requestID, Email: DefaultEmail})
}

// approveLogin handles POST /cli-auth/approve
func (s *Server) approveLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid form")
		return
	}

	requestID := r.PostForm.Get("request_id")
	if _, err := s.store.GetAuthRequest(r.Context(), requestID); err != nil {
		RespondWithError(w, http.StatusNotFound, "Unknown login request")
		return
	}

	email := strings.TrimSpace(r.PostForm.Get("email"))
	if email == "" {
		email = DefaultEmail
	}
	s.approve(w, r, requestID, email)
}

func (s *Server) approve(w http.ResponseWriter, r *http.Request, requestID, email string) {
	token, _, err := s.tokens.Issue(email)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to issue token")
		RespondWithError(w, http.StatusInternalServerError, "Failed to issue token")
		return
	}

	code := strings.Split(uuid.NewString(), "-")[0]
	if err := s.store.ApproveAuthRequest(r.Context(), requestID, email, token, code); err != nil {
		s.logger.Error().Err(err).Msg("Failed to approve login")
		RespondWithError(w, http.StatusInternalServerError, "Failed to approve login")
		return
	}

	s.logger.Info().Str("request_id", requestID).Str("email", email).Msg("Login approved")
	s.renderAuthPage(w, authPageData{Email: email, Done: true})
}

func (s *Server) renderAuthPage(w http.ResponseWriter, data authPageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := authPageTemplate.Execute(w, data); err != nil {
		s.logger.Error().Err(err).Msg("Failed to render login page")
	}
}

// fetchToken handles GET /authenticate/{requestID}. Pending logins answer
// with an empty token so the CLI keeps polling.
func (s *Server) fetchToken(w http.ResponseWriter, r *http.Request) {
	request, err := s.store.GetAuthRequest(r.Context(), chi.URLParam(r, "requestID"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			RespondWithJSON(w, http.StatusOK, models.TokenResponse{})
			return
		}
		s.logger.Error().Err(err).Msg("Failed to load auth request")
		RespondWithError(w, http.StatusInternalServerError, "Failed to load login")
		return
	}

	RespondWithJSON(w, http.StatusOK, models.TokenResponse{
		AccessToken: request.Token,
		Code:        request.Code,
	})
}

// me handles POST /authenticate/me
func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	RespondWithJSON(w, http.StatusOK, models.UserInfo{UserID: claims.Subject, Email: claims.Email})
}
