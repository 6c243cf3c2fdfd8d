package controlplane

import (
	"time"

	"github.com/google/uuid"
)

// Deployment is a hosted app owned by one user
type Deployment struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	Key             string    `gorm:"column:deployment_key;uniqueIndex;not null"`
	Owner           string    `gorm:"index;not null"`
	AppName         string    `gorm:"not null"`
	AppPrefix       string
	Regions         string    // JSON array
	Envs            string    // JSON object
	VMType          string
	CPUs            int
	MemoryMB        int
	Requirements    string
	BackendEventID  int64
	FrontendEventID int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// DeployEvent is one component upload; its ID is the event id handed to the CLI
type DeployEvent struct {
	ID               int64  `gorm:"primaryKey;autoIncrement"`
	DeploymentKey    string `gorm:"index;not null"`
	Component        string `gorm:"not null"`
	InitiatorEventID int64
	ArtifactSize     int64
	CreatedAt        time.Time
}

// LogEntry is one row of deployment or application logs
type LogEntry struct {
	ID            int64     `gorm:"primaryKey;autoIncrement"`
	DeploymentKey string    `gorm:"index;not null"`
	EventID       int64     `gorm:"index"`
	LogType       string    `gorm:"not null"`
	Timestamp     time.Time `gorm:"index;not null"`
	Message       string
	Details       string // JSON array
}

// AuthRequest tracks one browser login started by the CLI
type AuthRequest struct {
	RequestID  string `gorm:"primaryKey"`
	Email      string
	Token      string
	Code       string
	ApprovedAt *time.Time
	CreatedAt  time.Time
}

// allModels lists every table the control plane migrates
func allModels() []any {
	return []any{&Deployment{}, &DeployEvent{}, &LogEntry{}, &AuthRequest{}}
}
