package controlplane

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/alvesdmateus/apphost/pkg/models"
)

// maxUploadSize bounds multipart artifact uploads
const maxUploadSize = 64 << 20

var (
	keyPattern     = regexp.MustCompile(`^[a-z0-9-]+$`)
	slugSeparators = regexp.MustCompile(`[^a-z0-9]+`)
	reservedKeys   = map[string]bool{"www": true, "api": true, "admin": true}
)

var regions = []models.Region{
	{Code: "us-east", Name: "US East (Virginia)"},
	{Code: "us-west", Name: "US West (Oregon)"},
	{Code: "eu-central", Name: "EU Central (Frankfurt)"},
	{Code: "ap-southeast", Name: "Asia Pacific (Singapore)"},
}

// Apps whose name contains these markers misbehave on purpose
const (
	failMarker  = "fail"
	crashMarker = "crash"
)

func (s *Server) target(r *http.Request, key string) models.DeploymentTarget {
	base := s.baseURL(r) + "/apps/" + key
	return models.DeploymentTarget{
		Key:         key,
		BackendURL:  base + "/api",
		FrontendURL: base,
	}
}

// slugify turns an app name into a candidate key
func slugify(name string) string {
	slug := strings.Trim(slugSeparators.ReplaceAllString(strings.ToLower(name), "-"), "-")
	if slug == "" {
		return "app"
	}
	return slug
}

// prepareDeployment handles POST /deployments/prepare
func (s *Server) prepareDeployment(w http.ResponseWriter, r *http.Request) {
	owner := ClaimsFromContext(r.Context()).Email

	var req models.PrepareRequest
	if err := DecodeJSON(r, &req); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request body: %v", err)
		return
	}
	if strings.TrimSpace(req.AppName) == "" {
		RespondWithError(w, http.StatusBadRequest, "app_name is required")
		return
	}

	if req.Key == "" {
		existing, err := s.store.FindByAppName(r.Context(), owner, req.AppName)
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to look up deployments")
			RespondWithError(w, http.StatusInternalServerError, "Failed to prepare deployment")
			return
		}
		if len(existing) > 0 {
			targets := make([]models.DeploymentTarget, 0, len(existing))
			for _, deployment := range existing {
				targets = append(targets, s.target(r, deployment.Key))
			}
			RespondWithJSON(w, http.StatusOK, models.PrepareResponse{Existing: targets})
			return
		}
		s.suggest(w, r, owner, slugify(req.AppName))
		return
	}

	key := strings.ToLower(req.Key)
	if !keyPattern.MatchString(key) {
		RespondWithError(w, http.StatusBadRequest, "Invalid key %q", req.Key)
		return
	}
	if reservedKeys[key] {
		RespondWithError(w, http.StatusBadRequest, "key %q is reserved", key)
		return
	}

	taken, err := s.store.KeyTaken(r.Context(), key, owner)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to check key")
		RespondWithError(w, http.StatusInternalServerError, "Failed to prepare deployment")
		return
	}
	if taken {
		s.suggest(w, r, owner, key)
		return
	}

	target := s.target(r, key)
	RespondWithJSON(w, http.StatusOK, models.PrepareResponse{Reply: &target})
}

// suggest answers with the first free variant of base
func (s *Server) suggest(w http.ResponseWriter, r *http.Request, owner, base string) {
	for i := 0; i < 100; i++ {
		candidate := base
		if i > 0 {
			candidate = fmt.Sprintf("%s-%d", base, i+1)
		}
		if reservedKeys[candidate] {
			continue
		}
		taken, err := s.store.KeyTaken(r.Context(), candidate, owner)
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to check key")
			RespondWithError(w, http.StatusInternalServerError, "Failed to prepare deployment")
			return
		}
		if !taken {
			target := s.target(r, candidate)
			RespondWithJSON(w, http.StatusOK, models.PrepareResponse{Suggestion: &target})
			return
		}
	}
	RespondWithError(w, http.StatusConflict, "No free key found for %q", base)
}

type uploadForm struct {
	component        models.Component
	key              string
	appName          string
	appPrefix        string
	regions          []string
	envs             map[string]string
	vmType           string
	cpus             int
	memoryMB         int
	requirements     string
	initiatorEventID int64
	size             int64
}

func parseUploadForm(r *http.Request) (*uploadForm, error) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		return nil, fmt.Errorf("invalid multipart body: %w", err)
	}

	form := &uploadForm{
		component:    models.Component(r.FormValue("component")),
		key:          r.FormValue("key"),
		appName:      r.FormValue("app_name"),
		appPrefix:    r.FormValue("app_prefix"),
		vmType:       r.FormValue("vm_type"),
		requirements: r.FormValue("requirements"),
	}

	if form.component != models.ComponentBackend && form.component != models.ComponentFrontend {
		return nil, fmt.Errorf("unknown component %q", form.component)
	}
	if !keyPattern.MatchString(form.key) {
		return nil, fmt.Errorf("invalid key %q", form.key)
	}
	if form.appName == "" {
		return nil, errors.New("app_name is required")
	}

	if raw := r.FormValue("regions_json"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &form.regions); err != nil {
			return nil, fmt.Errorf("invalid regions_json: %w", err)
		}
	}
	if raw := r.FormValue("envs_json"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &form.envs); err != nil {
			return nil, fmt.Errorf("invalid envs_json: %w", err)
		}
	}

	var err error
	if form.cpus, err = optionalInt(r.FormValue("cpus")); err != nil {
		return nil, fmt.Errorf("invalid cpus: %w", err)
	}
	if form.memoryMB, err = optionalInt(r.FormValue("memory_mb")); err != nil {
		return nil, fmt.Errorf("invalid memory_mb: %w", err)
	}
	if raw := r.FormValue("initiator_event_id"); raw != "" {
		if form.initiatorEventID, err = strconv.ParseInt(raw, 10, 64); err != nil {
			return nil, fmt.Errorf("invalid initiator_event_id: %w", err)
		}
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("artifact is required: %w", err)
	}
	defer file.Close()
	if form.size, err = io.Copy(io.Discard, file); err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}

	return form, nil
}

func optionalInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

// uploadDeployment handles POST /deployments
func (s *Server) uploadDeployment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := ClaimsFromContext(ctx).Email

	form, err := parseUploadForm(r)
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, "%v", err)
		return
	}

	taken, err := s.store.KeyTaken(ctx, form.key, owner)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to check key")
		RespondWithError(w, http.StatusInternalServerError, "Failed to create deployment")
		return
	}
	if taken {
		RespondWithError(w, http.StatusBadRequest, "key %q belongs to another user", form.key)
		return
	}

	deployment, err := s.store.GetDeployment(ctx, form.key)
	switch {
	case errors.Is(err, ErrNotFound):
		if form.component == models.ComponentFrontend {
			RespondWithError(w, http.StatusBadRequest, "backend of %q must be uploaded first", form.key)
			return
		}
		deployment = &Deployment{Key: form.key, Owner: owner}
	case err != nil:
		s.logger.Error().Err(err).Msg("Failed to load deployment")
		RespondWithError(w, http.StatusInternalServerError, "Failed to create deployment")
		return
	}

	if form.component == models.ComponentFrontend {
		if _, err := s.store.GetDeployEvent(ctx, form.initiatorEventID); err != nil {
			RespondWithError(w, http.StatusBadRequest, "unknown initiator event %d", form.initiatorEventID)
			return
		}
	}

	event := &DeployEvent{
		DeploymentKey:    form.key,
		Component:        string(form.component),
		InitiatorEventID: form.initiatorEventID,
		ArtifactSize:     form.size,
	}
	if err := s.store.CreateDeployEvent(ctx, event); err != nil {
		s.logger.Error().Err(err).Msg("Failed to record upload")
		RespondWithError(w, http.StatusInternalServerError, "Failed to create deployment")
		return
	}

	if form.component == models.ComponentBackend {
		if err := applyBackendForm(deployment, form); err != nil {
			RespondWithError(w, http.StatusBadRequest, "%v", err)
			return
		}
		deployment.BackendEventID = event.ID
	} else {
		deployment.FrontendEventID = event.ID
	}
	if err := s.store.SaveDeployment(ctx, deployment); err != nil {
		s.logger.Error().Err(err).Msg("Failed to save deployment")
		RespondWithError(w, http.StatusInternalServerError, "Failed to create deployment")
		return
	}

	if err := s.simulateBuild(r, deployment, form, event.ID); err != nil {
		s.logger.Error().Err(err).Msg("Failed to write build logs")
		RespondWithError(w, http.StatusInternalServerError, "Failed to create deployment")
		return
	}

	s.logger.Info().
		Str("key", form.key).
		Str("component", string(form.component)).
		Int64("event_id", event.ID).
		Int64("size", form.size).
		Msg("Artifact received")

	target := s.target(r, form.key)
	resp := models.DeploymentResponse{URL: target.FrontendURL, EventID: event.ID}
	if form.component == models.ComponentBackend {
		resp.URL = target.BackendURL
		resp.SidecarURL = target.FrontendURL + "/sidecar"
	}
	RespondWithJSON(w, http.StatusCreated, resp)
}

func applyBackendForm(deployment *Deployment, form *uploadForm) error {
	regionsJSON, err := json.Marshal(form.regions)
	if err != nil {
		return fmt.Errorf("marshal regions: %w", err)
	}
	envsJSON, err := json.Marshal(form.envs)
	if err != nil {
		return fmt.Errorf("marshal envs: %w", err)
	}

	deployment.AppName = form.appName
	deployment.AppPrefix = form.appPrefix
	deployment.Regions = string(regionsJSON)
	deployment.Envs = string(envsJSON)
	deployment.VMType = form.vmType
	deployment.CPUs = form.cpus
	deployment.MemoryMB = form.memoryMB
	deployment.Requirements = form.requirements
	return nil
}

// simulateBuild writes the log rows a real build would produce
func (s *Server) simulateBuild(r *http.Request, deployment *Deployment, form *uploadForm, eventID int64) error {
	ctx := r.Context()
	appName := strings.ToLower(deployment.AppName)
	key := deployment.Key

	if form.component == models.ComponentFrontend {
		if err := s.store.AppendLog(ctx, key, eventID, models.LogTypeDeploy, "building frontend"); err != nil {
			return err
		}
		return s.store.AppendLog(ctx, key, eventID, models.LogTypeDeploy, models.MilestoneFrontendSuccess)
	}

	received := fmt.Sprintf("received backend artifact (%d bytes)", form.size)
	if err := s.store.AppendLog(ctx, key, eventID, models.LogTypeDeploy, received); err != nil {
		return err
	}

	var packages []string
	for _, line := range strings.Split(form.requirements, "\n") {
		if line = strings.TrimSpace(line); line != "" && !strings.HasPrefix(line, "#") {
			packages = append(packages, line)
		}
	}
	if err := s.store.AppendLog(ctx, key, eventID, models.LogTypeDeploy, "building backend", packages...); err != nil {
		return err
	}

	if strings.Contains(appName, failMarker) {
		return s.store.AppendLog(ctx, key, eventID, models.LogTypeDeploy, "build failed: dependency resolution error")
	}
	if err := s.store.AppendLog(ctx, key, eventID, models.LogTypeDeploy, models.MilestoneBackendSuccess); err != nil {
		return err
	}

	if strings.Contains(appName, crashMarker) {
		return s.store.AppendLog(ctx, key, eventID, models.LogTypeApp,
			"Traceback (most recent call last):",
			`  File "main.py", line 3, in <module>`,
			"    import missing_module",
			"ModuleNotFoundError: No module named 'missing_module'",
		)
	}
	return s.store.AppendLog(ctx, key, eventID, models.LogTypeApp, "application started")
}

// listDeployments handles GET /deployments
func (s *Server) listDeployments(w http.ResponseWriter, r *http.Request) {
	owner := ClaimsFromContext(r.Context()).Email

	deployments, err := s.store.ListDeployments(r.Context(), owner)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list deployments")
		RespondWithError(w, http.StatusInternalServerError, "Failed to list deployments")
		return
	}

	response := make([]models.Deployment, 0, len(deployments))
	for _, deployment := range deployments {
		summary, err := s.summarize(r, &deployment)
		if err != nil {
			s.logger.Error().Err(err).Str("key", deployment.Key).Msg("Corrupt deployment row")
			continue
		}
		response = append(response, summary)
	}
	RespondWithJSON(w, http.StatusOK, response)
}

func (s *Server) summarize(r *http.Request, deployment *Deployment) (models.Deployment, error) {
	target := s.target(r, deployment.Key)
	summary := models.Deployment{
		Key:         deployment.Key,
		AppName:     deployment.AppName,
		VMType:      deployment.VMType,
		CPUs:        deployment.CPUs,
		MemoryMB:    deployment.MemoryMB,
		URL:         target.FrontendURL,
		BackendURL:  target.BackendURL,
		CreatedAt:   deployment.CreatedAt.UTC(),
		UpdatedAt:   deployment.UpdatedAt.UTC(),
		FrontendEID: deployment.FrontendEventID,
		BackendEID:  deployment.BackendEventID,
	}
	if deployment.Regions != "" {
		if err := json.Unmarshal([]byte(deployment.Regions), &summary.Regions); err != nil {
			return models.Deployment{}, fmt.Errorf("parse regions: %w", err)
		}
	}
	if summary.Regions == nil {
		summary.Regions = []string{}
	}
	if deployment.Envs != "" {
		if err := json.Unmarshal([]byte(deployment.Envs), &summary.Envs); err != nil {
			return models.Deployment{}, fmt.Errorf("parse envs: %w", err)
		}
	}
	return summary, nil
}

// ownedDeployment loads the deployment named in the URL, answering 404 when
// it does not exist or belongs to someone else.
func (s *Server) ownedDeployment(w http.ResponseWriter, r *http.Request, key string) (*Deployment, bool) {
	owner := ClaimsFromContext(r.Context()).Email

	deployment, err := s.store.GetDeployment(r.Context(), key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		s.logger.Error().Err(err).Msg("Failed to load deployment")
		RespondWithError(w, http.StatusInternalServerError, "Failed to load deployment")
		return nil, false
	}
	if err != nil || deployment.Owner != owner {
		RespondWithError(w, http.StatusNotFound, "Deployment %q not found", key)
		return nil, false
	}
	return deployment, true
}

// deleteDeployment handles DELETE /deployments/{key}
func (s *Server) deleteDeployment(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if _, ok := s.ownedDeployment(w, r, key); !ok {
		return
	}

	if err := s.store.DeleteDeployment(r.Context(), key); err != nil {
		if errors.Is(err, ErrNotFound) {
			RespondWithError(w, http.StatusNotFound, "Deployment %q not found", key)
			return
		}
		s.logger.Error().Err(err).Msg("Failed to delete deployment")
		RespondWithError(w, http.StatusInternalServerError, "Failed to delete deployment")
		return
	}

	s.logger.Info().Str("key", key).Msg("Deployment deleted")
	w.WriteHeader(http.StatusNoContent)
}

// deploymentStatus handles GET /deployments/{key}/status
func (s *Server) deploymentStatus(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	deployment, ok := s.ownedDeployment(w, r, key)
	if !ok {
		return
	}

	backendUp, frontendUp := componentHealth(deployment)
	target := s.target(r, key)
	updated := deployment.UpdatedAt.UTC()
	RespondWithJSON(w, http.StatusOK, models.DeploymentStatus{
		Frontend: models.ComponentStatus{URL: target.FrontendURL, Reachable: frontendUp, UpdatedAt: updated},
		Backend:  models.ComponentStatus{URL: target.BackendURL, Reachable: backendUp, UpdatedAt: updated},
	})
}

// componentHealth reports which halves of a deployment serve traffic
func componentHealth(deployment *Deployment) (backend, frontend bool) {
	appName := strings.ToLower(deployment.AppName)
	broken := strings.Contains(appName, failMarker) || strings.Contains(appName, crashMarker)
	backend = deployment.BackendEventID > 0 && !broken
	frontend = deployment.FrontendEventID > 0 && !strings.Contains(appName, failMarker)
	return backend, frontend
}

// fetchLogs handles POST /deployments/logs
func (s *Server) fetchLogs(w http.ResponseWriter, r *http.Request) {
	var req models.LogsRequest
	if err := DecodeJSON(r, &req); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request body: %v", err)
		return
	}
	if _, ok := s.ownedDeployment(w, r, req.Key); !ok {
		return
	}

	logType := req.LogType
	if logType == "" {
		logType = models.LogTypeDeploy
	}

	events, err := s.store.QueryLogs(r.Context(), LogQuery{
		Key:      req.Key,
		LogType:  logType,
		From:     req.FromISOTimestamp,
		EventIDs: req.DeployEventIDs,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to query logs")
		RespondWithError(w, http.StatusInternalServerError, "Failed to fetch logs")
		return
	}
	RespondWithJSON(w, http.StatusOK, events)
}

// listRegions handles GET /deployments/regions
func (s *Server) listRegions(w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(w, http.StatusOK, regions)
}
