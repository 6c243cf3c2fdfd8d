package hosting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/alvesdmateus/apphost/pkg/models"
)

// UploadRequest is the metadata sent alongside each artifact
type UploadRequest struct {
	Key              string
	AppName          string
	AppPrefix        string
	Regions          []string
	CPUs             int
	MemoryMB         int
	VMType           string
	Envs             map[string]string
	FrontendHostname string
	Requirements     string
}

// UploadBackend creates or updates the backend half of a deployment
func (c *Client) UploadBackend(ctx context.Context, req UploadRequest, zipPath string) (*models.DeploymentResponse, error) {
	fields, err := c.uploadFields(req, models.ComponentBackend)
	if err != nil {
		return nil, err
	}
	return c.upload(ctx, "upload backend", fields, zipPath)
}

// UploadFrontend uploads the frontend and ties it to the backend event
func (c *Client) UploadFrontend(ctx context.Context, req UploadRequest, zipPath string, initiatorEventID int64) (*models.DeploymentResponse, error) {
	fields, err := c.uploadFields(req, models.ComponentFrontend)
	if err != nil {
		return nil, err
	}
	fields["initiator_event_id"] = strconv.FormatInt(initiatorEventID, 10)
	return c.upload(ctx, "upload frontend", fields, zipPath)
}

func (c *Client) uploadFields(req UploadRequest, component models.Component) (map[string]string, error) {
	regions, err := json.Marshal(nonNil(req.Regions))
	if err != nil {
		return nil, fmt.Errorf("marshal regions: %w", err)
	}
	envs := req.Envs
	if envs == nil {
		envs = map[string]string{}
	}
	envsJSON, err := json.Marshal(envs)
	if err != nil {
		return nil, fmt.Errorf("marshal envs: %w", err)
	}

	fields := map[string]string{
		"component":       string(component),
		"key":             req.Key,
		"app_name":        req.AppName,
		"app_prefix":      req.AppPrefix,
		"regions_json":    string(regions),
		"envs_json":       string(envsJSON),
		"cli_version":     c.config.CLIVersion,
		"runtime_version": runtime.Version(),
	}
	if req.CPUs > 0 {
		fields["cpus"] = strconv.Itoa(req.CPUs)
	}
	if req.MemoryMB > 0 {
		fields["memory_mb"] = strconv.Itoa(req.MemoryMB)
	}
	if req.VMType != "" {
		fields["vm_type"] = req.VMType
	}
	if req.FrontendHostname != "" {
		fields["frontend_hostname"] = req.FrontendHostname
	}
	if component == models.ComponentBackend {
		fields["requirements"] = req.Requirements
	}
	return fields, nil
}

// upload posts the artifact as multipart form data. Failing to read the
// artifact is returned as is; every other failure is an InternalError unless
// the server rejected the request with a 400.
func (c *Client) upload(ctx context.Context, op string, fields map[string]string, zipPath string) (*models.DeploymentResponse, error) {
	token, err := c.Authenticated(ctx)
	if err != nil {
		return nil, err
	}

	body, contentType, err := multipartBody(fields, zipPath)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/deployments", nil), body)
	if err != nil {
		return nil, internalError(op, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	c.logger.Info().
		Str("component", fields["component"]).
		Str("key", fields["key"]).
		Msg("Uploading artifact")

	var resp models.DeploymentResponse
	if err := c.send(c.uploadClient, req, op, &resp); err != nil {
		var rejected *RejectedError
		if errors.As(err, &rejected) && rejected.StatusCode != http.StatusBadRequest {
			return nil, internalError(op, err)
		}
		return nil, err
	}

	if err := validateDeploymentResponse(&resp); err != nil {
		return nil, internalError(op, err)
	}

	return &resp, nil
}

func multipartBody(fields map[string]string, zipPath string) (io.Reader, string, error) {
	file, err := os.Open(zipPath)
	if err != nil {
		return nil, "", fmt.Errorf("open artifact: %w", err)
	}
	defer file.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", name, err)
		}
	}

	part, err := writer.CreateFormFile("file", filepath.Base(zipPath))
	if err != nil {
		return nil, "", fmt.Errorf("create file part: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, "", fmt.Errorf("read artifact: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart body: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

func validateDeploymentResponse(resp *models.DeploymentResponse) error {
	if !urlPattern.MatchString(resp.URL) {
		return &malformedResponseError{reason: fmt.Sprintf("invalid url %q", resp.URL)}
	}
	if resp.SidecarURL != "" && !urlPattern.MatchString(resp.SidecarURL) {
		return &malformedResponseError{reason: fmt.Sprintf("invalid sidecar url %q", resp.SidecarURL)}
	}
	if resp.EventID <= 0 {
		return &malformedResponseError{reason: fmt.Sprintf("invalid event id %d", resp.EventID)}
	}
	return nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
