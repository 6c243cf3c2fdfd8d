package controlplane

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alvesdmateus/apphost/pkg/database"
	"github.com/alvesdmateus/apphost/pkg/models"
)

const (
	testSecret = "test-secret-key-for-testing"
	testOwner  = "owner@example.com"
	otherOwner = "other@example.com"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := database.New(database.Config{DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })

	store, err := NewStore(db)
	require.NoError(t, err)
	return store
}

func setupTestServer(t *testing.T, cfg Config) (*Server, *Store) {
	t.Helper()

	if cfg.JWTSecret == "" {
		cfg.JWTSecret = testSecret
	}
	store := setupTestStore(t)
	return NewServer(cfg, store), store
}

func tokenFor(t *testing.T, s *Server, email string) string {
	t.Helper()

	token, _, err := s.Tokens().Issue(email)
	require.NoError(t, err)
	return token
}

func doJSON(t *testing.T, s *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func detailOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[models.ErrorResponse](t, rec).Detail
}

func uploadFields(component models.Component, key, appName string) map[string]string {
	return map[string]string{
		"component":    string(component),
		"key":          key,
		"app_name":     appName,
		"regions_json": `["us-east"]`,
		"envs_json":    `{"MODE":"test"}`,
		"cpus":         "2",
		"memory_mb":    "512",
		"requirements": "flask==3.0\nrequests\n",
	}
}

func upload(t *testing.T, s *Server, token string, fields map[string]string, artifact []byte) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for name, value := range fields {
		require.NoError(t, writer.WriteField(name, value))
	}
	if artifact != nil {
		part, err := writer.CreateFormFile("file", "artifact.zip")
		require.NoError(t, err)
		_, err = part.Write(artifact)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/deployments", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

// deploy uploads both components of appName under key and returns their event ids
func deploy(t *testing.T, s *Server, token, key, appName string) (int64, int64) {
	t.Helper()

	rec := upload(t, s, token, uploadFields(models.ComponentBackend, key, appName), []byte("backend"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	backend := decode[models.DeploymentResponse](t, rec)

	fields := uploadFields(models.ComponentFrontend, key, appName)
	fields["initiator_event_id"] = jsonInt(backend.EventID)
	rec = upload(t, s, token, fields, []byte("frontend"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	frontend := decode[models.DeploymentResponse](t, rec)

	return backend.EventID, frontend.EventID
}

func jsonInt(v int64) string {
	data, _ := json.Marshal(v)
	return string(data)
}
