package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/alvesdmateus/apphost/pkg/database"
	"github.com/alvesdmateus/apphost/pkg/models"
)

// eventSpacing separates consecutive log rows so a client cursor that skips
// ahead of the newest row never misses the next one.
const eventSpacing = 250 * time.Millisecond

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("not found")

// Store provides database operations for the control plane
type Store struct {
	db *gorm.DB

	clockMu  sync.Mutex
	lastTime time.Time
}

// NewStore wraps db and migrates the control plane tables
func NewStore(db *gorm.DB) (*Store, error) {
	if err := database.Migrate(db, allModels()...); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Reset wipes all state
func (s *Store) Reset() error {
	return database.Reset(s.db, allModels()...)
}

// Ping reports whether the database answers and every table is in place
func (s *Store) Ping() error {
	if err := database.HealthCheck(s.db); err != nil {
		return err
	}
	for _, model := range allModels() {
		if !database.HasTable(s.db, model) {
			return fmt.Errorf("table for %T is missing", model)
		}
	}
	return nil
}

// GetDeployment retrieves a deployment by key
func (s *Store) GetDeployment(ctx context.Context, key string) (*Deployment, error) {
	var deployment Deployment
	if err := s.db.WithContext(ctx).First(&deployment, "deployment_key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get deployment: %w", err)
	}
	return &deployment, nil
}

// ListDeployments returns the deployments of one owner, newest first
func (s *Store) ListDeployments(ctx context.Context, owner string) ([]Deployment, error) {
	var deployments []Deployment
	if err := s.db.WithContext(ctx).
		Where("owner = ?", owner).
		Order("created_at DESC").
		Find(&deployments).Error; err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}
	return deployments, nil
}

// FindByAppName returns the owner's deployments of one app
func (s *Store) FindByAppName(ctx context.Context, owner, appName string) ([]Deployment, error) {
	var deployments []Deployment
	if err := s.db.WithContext(ctx).
		Where("owner = ? AND app_name = ?", owner, appName).
		Order("created_at ASC").
		Find(&deployments).Error; err != nil {
		return nil, fmt.Errorf("failed to find deployments: %w", err)
	}
	return deployments, nil
}

// KeyTaken reports whether key belongs to someone other than owner
func (s *Store) KeyTaken(ctx context.Context, key, owner string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&Deployment{}).
		Where("deployment_key = ? AND owner <> ?", key, owner).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check key: %w", err)
	}
	return count > 0, nil
}

// SaveDeployment creates or updates a deployment
func (s *Store) SaveDeployment(ctx context.Context, deployment *Deployment) error {
	if deployment.ID == uuid.Nil {
		deployment.ID = uuid.New()
	}
	if err := s.db.WithContext(ctx).Save(deployment).Error; err != nil {
		return fmt.Errorf("failed to save deployment: %w", err)
	}
	return nil
}

// DeleteDeployment removes a deployment with its events and logs
func (s *Store) DeleteDeployment(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("deployment_key = ?", key).Delete(&Deployment{})
		if result.Error != nil {
			return fmt.Errorf("failed to delete deployment: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		if err := tx.Where("deployment_key = ?", key).Delete(&DeployEvent{}).Error; err != nil {
			return fmt.Errorf("failed to delete deploy events: %w", err)
		}
		if err := tx.Where("deployment_key = ?", key).Delete(&LogEntry{}).Error; err != nil {
			return fmt.Errorf("failed to delete logs: %w", err)
		}
		return nil
	})
}

// CreateDeployEvent records a component upload and assigns its event id
func (s *Store) CreateDeployEvent(ctx context.Context, event *DeployEvent) error {
	if err := s.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("failed to create deploy event: %w", err)
	}
	return nil
}

// GetDeployEvent retrieves an upload event by id
func (s *Store) GetDeployEvent(ctx context.Context, id int64) (*DeployEvent, error) {
	var event DeployEvent
	if err := s.db.WithContext(ctx).First(&event, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get deploy event: %w", err)
	}
	return &event, nil
}

// AppendLog adds a log row. Rows of one store get strictly increasing
// timestamps at least eventSpacing apart.
func (s *Store) AppendLog(ctx context.Context, key string, eventID int64, logType, message string, details ...string) error {
	detailsJSON := ""
	if len(details) > 0 {
		data, err := json.Marshal(details)
		if err != nil {
			return fmt.Errorf("failed to marshal log details: %w", err)
		}
		detailsJSON = string(data)
	}

	entry := &LogEntry{
		DeploymentKey: key,
		EventID:       eventID,
		LogType:       logType,
		Timestamp:     s.nextTimestamp(),
		Message:       message,
		Details:       detailsJSON,
	}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to append log: %w", err)
	}
	return nil
}

// LogQuery selects log rows
type LogQuery struct {
	Key      string
	LogType  string
	From     time.Time
	EventIDs []int64
}

// QueryLogs returns matching log rows, oldest first
func (s *Store) QueryLogs(ctx context.Context, q LogQuery) ([]models.LogEvent, error) {
	query := s.db.WithContext(ctx).
		Where("deployment_key = ? AND timestamp >= ?", q.Key, q.From.UTC()).
		Order("timestamp ASC, id ASC")

	if q.LogType != "" && q.LogType != models.LogTypeAll {
		query = query.Where("log_type = ?", q.LogType)
	}
	if len(q.EventIDs) > 0 {
		query = query.Where("event_id IN ?", q.EventIDs)
	}

	var entries []LogEntry
	if err := query.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to query logs: %w", err)
	}

	events := make([]models.LogEvent, 0, len(entries))
	for _, entry := range entries {
		event := models.LogEvent{Timestamp: entry.Timestamp.UTC(), Message: entry.Message}
		if entry.Details != "" {
			if err := json.Unmarshal([]byte(entry.Details), &event.Details); err != nil {
				return nil, fmt.Errorf("failed to parse log details: %w", err)
			}
		}
		events = append(events, event)
	}
	return events, nil
}

// CreateAuthRequest starts tracking a browser login
func (s *Store) CreateAuthRequest(ctx context.Context, requestID string) error {
	request := &AuthRequest{RequestID: requestID}
	if err := s.db.WithContext(ctx).FirstOrCreate(request, "request_id = ?", requestID).Error; err != nil {
		return fmt.Errorf("failed to create auth request: %w", err)
	}
	return nil
}

// ApproveAuthRequest attaches an issued token to a pending login
func (s *Store) ApproveAuthRequest(ctx context.Context, requestID, email, token, code string) error {
	result := s.db.WithContext(ctx).
		Model(&AuthRequest{}).
		Where("request_id = ?", requestID).
		Updates(map[string]any{
			"email":       email,
			"token":       token,
			"code":        code,
			"approved_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to approve auth request: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetAuthRequest retrieves a login by request id
func (s *Store) GetAuthRequest(ctx context.Context, requestID string) (*AuthRequest, error) {
	var request AuthRequest
	if err := s.db.WithContext(ctx).First(&request, "request_id = ?", requestID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get auth request: %w", err)
	}
	return &request, nil
}

func (s *Store) nextTimestamp() time.Time {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()

	now := time.Now().UTC()
	if next := s.lastTime.Add(eventSpacing); now.Before(next) {
		now = next
	}
	s.lastTime = now
	return now
}
