package controlplane

import (
	"fmt"
	"html"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// deployedApp loads the deployment behind an /apps/{key} request. Unknown
// keys answer 404 like an unrouted hostname would.
func (s *Server) deployedApp(w http.ResponseWriter, r *http.Request) (*Deployment, bool) {
	key := chi.URLParam(r, "key")
	deployment, err := s.store.GetDeployment(r.Context(), key)
	if err != nil {
		http.Error(w, "no such app", http.StatusNotFound)
		return nil, false
	}
	return deployment, true
}

// serveFrontend handles GET /apps/{key}
func (s *Server) serveFrontend(w http.ResponseWriter, r *http.Request) {
	deployment, ok := s.deployedApp(w, r)
	if !ok {
		return
	}
	if _, frontendUp := componentHealth(deployment); !frontendUp {
		http.Error(w, "frontend not deployed", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "<!DOCTYPE html><html><head><title>%[1]s</title></head><body><h1>%[1]s</h1></body></html>\n",
		html.EscapeString(deployment.AppName))
}

// serveSidecar handles GET /apps/{key}/sidecar. The sidecar comes up as soon
// as a backend has been uploaded, crashed or not.
func (s *Server) serveSidecar(w http.ResponseWriter, r *http.Request) {
	deployment, ok := s.deployedApp(w, r)
	if !ok {
		return
	}
	if deployment.BackendEventID == 0 {
		http.Error(w, "sidecar not running", http.StatusServiceUnavailable)
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// servePing handles GET /apps/{key}/api/ping
func (s *Server) servePing(w http.ResponseWriter, r *http.Request) {
	deployment, ok := s.deployedApp(w, r)
	if !ok {
		return
	}
	if backendUp, _ := componentHealth(deployment); !backendUp {
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]string{"message": "pong"})
}
