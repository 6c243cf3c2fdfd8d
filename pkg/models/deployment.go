package models

import (
	"time"
)

// Component names one half of a deployment
type Component string

const (
	ComponentBackend  Component = "backend"
	ComponentFrontend Component = "frontend"
)

// Log types accepted by the log endpoints
const (
	LogTypeDeploy = "deploy"
	LogTypeApp    = "app"
	LogTypeAll    = "all"
)

// Terminal milestone messages emitted by the control plane
const (
	MilestoneBackendSuccess  = "deploy success (backend)"
	MilestoneFrontendSuccess = "deploy success (frontend)"
)

// PrepareRequest asks the control plane for a deployment key and hostnames
type PrepareRequest struct {
	AppName          string `json:"app_name"`
	Key              string `json:"key,omitempty"`
	FrontendHostname string `json:"frontend_hostname,omitempty"`
}

// DeploymentTarget is a key with the URLs it resolves to
type DeploymentTarget struct {
	Key         string `json:"key"`
	BackendURL  string `json:"api_url"`
	FrontendURL string `json:"deploy_url"`
}

// PrepareResponse carries exactly one of Reply, Existing or Suggestion
type PrepareResponse struct {
	Reply      *DeploymentTarget  `json:"reply,omitempty"`
	Existing   []DeploymentTarget `json:"existing,omitempty"`
	Suggestion *DeploymentTarget  `json:"suggestion,omitempty"`
}

// DeploymentResponse is returned by a component upload
type DeploymentResponse struct {
	URL        string `json:"url"`
	SidecarURL string `json:"sidecar_url,omitempty"`
	EventID    int64  `json:"event_id"`
}

// LogsRequest polls the log endpoint from a timestamp cursor
type LogsRequest struct {
	Key              string    `json:"key"`
	LogType          string    `json:"log_type"`
	FromISOTimestamp time.Time `json:"from_iso_timestamp"`
	DeployEventIDs   []int64   `json:"deploy_event_ids,omitempty"`
}

// LogEvent is one row of deployment or application logs
type LogEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Details   []string  `json:"details,omitempty"`
}

// Deployment is a summary row returned by the list endpoint
type Deployment struct {
	Key         string            `json:"key" yaml:"key"`
	AppName     string            `json:"app_name" yaml:"app_name"`
	Regions     []string          `json:"regions" yaml:"regions"`
	VMType      string            `json:"vm_type,omitempty" yaml:"vm_type,omitempty"`
	CPUs        int               `json:"cpus,omitempty" yaml:"cpus,omitempty"`
	MemoryMB    int               `json:"memory_mb,omitempty" yaml:"memory_mb,omitempty"`
	URL         string            `json:"url" yaml:"url"`
	BackendURL  string            `json:"api_url" yaml:"api_url"`
	Envs        map[string]string `json:"envs,omitempty" yaml:"envs,omitempty"`
	CreatedAt   time.Time         `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at" yaml:"updated_at"`
	FrontendEID int64             `json:"frontend_event_id,omitempty" yaml:"-"`
	BackendEID  int64             `json:"backend_event_id,omitempty" yaml:"-"`
}

// ComponentStatus reports reachability of one half of a deployment
type ComponentStatus struct {
	URL       string    `json:"url" yaml:"url"`
	Reachable bool      `json:"reachable" yaml:"reachable"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// DeploymentStatus is returned by the status endpoint
type DeploymentStatus struct {
	Frontend ComponentStatus `json:"frontend" yaml:"frontend"`
	Backend  ComponentStatus `json:"backend" yaml:"backend"`
}

// Region is a location deployments can be placed in
type Region struct {
	Code string `json:"code" yaml:"code"`
	Name string `json:"name" yaml:"name"`
}

// TokenResponse is returned by the browser auth fetch endpoint
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	Code        string `json:"code,omitempty"`
}

// UserInfo is returned when a token is validated
type UserInfo struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
}

// ErrorResponse is the control plane error body
type ErrorResponse struct {
	Detail string `json:"detail"`
}
