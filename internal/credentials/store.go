package credentials

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

// Credentials is the cached login state of the CLI
type Credentials struct {
	AccessToken string `json:"access_token,omitempty"`
	Code        string `json:"code,omitempty"`
	Project     string `json:"project,omitempty"`
}

// Empty reports whether no access token is cached
func (c Credentials) Empty() bool {
	return c.AccessToken == ""
}

// Store caches credentials between CLI invocations.
//
// Implementations never return errors: a failed read yields empty credentials
// and a failed write is logged and dropped, so the cache can never block a command.
type Store interface {
	Load() Credentials
	Save(token, code string)
	Delete(removeCode bool)
}

// FileStore keeps credentials in a JSON file
type FileStore struct {
	path string
}

// NewFileStore creates a store backed by the file at path
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the credential file location
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the credential file
func (s *FileStore) Load() Credentials {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Debug().Err(err).Str("path", s.path).Msg("Failed to read credentials file")
		}
		return Credentials{}
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		log.Debug().Err(err).Str("path", s.path).Msg("Failed to parse credentials file")
		return Credentials{}
	}

	return creds
}

// Save replaces the token and code, keeping only the cached project
func (s *FileStore) Save(token, code string) {
	creds := s.Load()
	creds.AccessToken = token
	creds.Code = code

	if err := s.write(creds); err != nil {
		log.Warn().Err(err).Str("path", s.path).Msg("Failed to save credentials")
	}
}

// Delete removes the access token and optionally the code
func (s *FileStore) Delete(removeCode bool) {
	creds := s.Load()
	if creds == (Credentials{}) {
		return
	}
	creds.AccessToken = ""
	if removeCode {
		creds.Code = ""
	}

	if err := s.write(creds); err != nil {
		log.Warn().Err(err).Str("path", s.path).Msg("Failed to delete credentials")
	}
}

func (s *FileStore) write(creds Credentials) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace credentials: %w", err)
	}

	return nil
}

// TokenExpired reports whether a JWT access token carries an exp claim in the past.
// The signature is not verified; opaque tokens are never considered expired.
func TokenExpired(token string, now time.Time) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}

	return !now.Before(exp.Time)
}
