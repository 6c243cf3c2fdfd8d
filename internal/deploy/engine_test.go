package deploy

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alvesdmateus/apphost/internal/controlplane"
	"github.com/alvesdmateus/apphost/internal/credentials"
	"github.com/alvesdmateus/apphost/internal/hosting"
	"github.com/alvesdmateus/apphost/internal/packager"
	"github.com/alvesdmateus/apphost/pkg/database"
	"github.com/alvesdmateus/apphost/pkg/models"
)

const testEmail = "dev@example.com"

type acceptingPrompter struct {
	confirms int
}

func (p *acceptingPrompter) Confirm(string, bool) (bool, error) {
	p.confirms++
	return true, nil
}

func (p *acceptingPrompter) Ask(string, string) (string, error) {
	return "", nil
}

// recordingExporter writes small zips and remembers the export directory
type recordingExporter struct {
	dirs  []string
	calls []packager.ExportOptions
}

func (e *recordingExporter) Export(ctx context.Context, opts packager.ExportOptions) error {
	e.dirs = append(e.dirs, opts.Dir)
	e.calls = append(e.calls, opts)

	name := packager.FrontendZip
	if opts.IncludeBackend {
		name = packager.BackendZip
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("main.py")
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte("print('hello')\n")); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(opts.Dir, name), buf.Bytes(), 0o600)
}

type testEnv struct {
	server   *httptest.Server
	client   *hosting.Client
	exporter *recordingExporter
	out      *bytes.Buffer
}

type engineSetup struct {
	config  hosting.Config
	handler func(http.Handler) http.Handler
}

func setupEngine(t *testing.T, opts ...func(*engineSetup)) *testEnv {
	t.Helper()

	db, err := database.New(database.Config{DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })

	store, err := controlplane.NewStore(db)
	require.NoError(t, err)

	setup := &engineSetup{
		config: hosting.Config{
			AuthRetries:       3,
			MilestoneRetries:  20,
			BackendTimeout:    2 * time.Second,
			FrontendTimeout:   2 * time.Second,
			HealthInterval:    5 * time.Millisecond,
			PromptMaxAttempts: 3,
		},
		handler: func(h http.Handler) http.Handler { return h },
	}
	for _, opt := range opts {
		opt(setup)
	}

	api := controlplane.NewServer(controlplane.Config{JWTSecret: "engine-test-secret"}, store)
	server := httptest.NewServer(setup.handler(api.Handler()))
	t.Cleanup(server.Close)

	token, _, err := api.Tokens().Issue(testEmail)
	require.NoError(t, err)

	setup.config.BaseURL = server.URL
	setup.config.AuthURL = server.URL + "/cli-auth"
	client, err := hosting.NewClient(setup.config, credentials.NewMemoryStore(credentials.Credentials{AccessToken: token}))
	require.NoError(t, err)
	client.OpenBrowser = func(string) error { return nil }

	return &testEnv{
		server:   server,
		client:   client,
		exporter: &recordingExporter{},
		out:      &bytes.Buffer{},
	}
}

// hideDeployLogs answers deploy log polls with no rows, so milestones never arrive
func hideDeployLogs(setup *engineSetup) {
	setup.config.MilestoneRetries = 2
	setup.handler = func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost && r.URL.Path == "/deployments/logs" {
				body, err := io.ReadAll(r.Body)
				if err != nil {
					http.Error(w, err.Error(), http.StatusBadRequest)
					return
				}
				var req models.LogsRequest
				if json.Unmarshal(body, &req) == nil && req.LogType == models.LogTypeDeploy {
					w.Header().Set("Content-Type", "application/json")
					_, _ = w.Write([]byte("[]"))
					return
				}
				r.Body = io.NopCloser(bytes.NewReader(body))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (env *testEnv) engine(prompter hosting.Prompter) *Engine {
	return NewEngine(env.client, env.exporter, prompter, env.out)
}

func TestDeploy(t *testing.T) {
	t.Run("healthy app", func(t *testing.T) {
		env := setupEngine(t)

		projectDir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(projectDir, packager.RequirementsFile), []byte("flask==3.0\n"), 0o600))

		result, err := env.engine(nil).Deploy(t.Context(), Request{
			AppName:    "shop",
			Key:        "Shop",
			Regions:    []string{"us-east"},
			CPUs:       1,
			MemoryMB:   256,
			ProjectDir: projectDir,
		})
		require.NoError(t, err)

		assert.Equal(t, "shop", result.Key)
		assert.Equal(t, env.server.URL+"/apps/shop", result.FrontendURL)
		assert.Equal(t, env.server.URL+"/apps/shop/api", result.BackendURL)
		assert.Equal(t, hosting.MilestoneSuccess, result.Milestones)
		assert.True(t, result.BackendReachable)
		assert.True(t, result.FrontendReachable)
		assert.Empty(t, result.BackendLogs)

		require.Len(t, env.exporter.calls, 2)
		assert.True(t, env.exporter.calls[0].IncludeBackend)
		assert.True(t, env.exporter.calls[1].IncludeFrontend)
		assert.Equal(t, result.BackendURL, env.exporter.calls[0].APIURL)
		assert.NoDirExists(t, env.exporter.dirs[0])

		output := env.out.String()
		assert.Contains(t, output, "Packaging shop...")
		assert.Contains(t, output, "deploy success (backend)")
		assert.Contains(t, output, "deploy success (frontend)")
		assert.Contains(t, output, "flask==3.0")

		deployments, err := env.client.ListDeployments(t.Context())
		require.NoError(t, err)
		require.Len(t, deployments, 1)
		assert.Equal(t, []string{"us-east"}, deployments[0].Regions)
		assert.Equal(t, 256, deployments[0].MemoryMB)
	})

	t.Run("logs requirements at debug level", func(t *testing.T) {
		env := setupEngine(t)

		projectDir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(projectDir, packager.RequirementsFile), []byte("flask==3.0\nrequests\n"), 0o600))

		var logs bytes.Buffer
		engine := env.engine(nil)
		engine.logger = zerolog.New(&logs).Level(zerolog.DebugLevel)

		_, err := engine.Deploy(t.Context(), Request{AppName: "shop", Key: "shop", ProjectDir: projectDir})
		require.NoError(t, err)

		assert.Contains(t, logs.String(), `"packages":2`)
		assert.Contains(t, logs.String(), "Read backend requirements")
	})

	t.Run("probes even when milestones are inconclusive", func(t *testing.T) {
		env := setupEngine(t, hideDeployLogs)

		result, err := env.engine(nil).Deploy(t.Context(), Request{AppName: "shop", Key: "shop"})
		require.NoError(t, err)

		assert.Equal(t, hosting.MilestoneInconclusive, result.Milestones)
		assert.True(t, result.BackendReachable)
		assert.True(t, result.FrontendReachable)
		assert.Contains(t, env.out.String(), "Deployment may still be in progress")
		assert.Contains(t, env.out.String(), "Waiting for the backend to come up...")
	})

	t.Run("failed build", func(t *testing.T) {
		env := setupEngine(t)

		result, err := env.engine(nil).Deploy(t.Context(), Request{AppName: "will-fail", Key: "broken"})

		require.ErrorIs(t, err, ErrDeploymentFailed)
		require.NotNil(t, result)
		assert.Equal(t, hosting.MilestoneFailure, result.Milestones)
		assert.False(t, result.BackendReachable)
		assert.Contains(t, env.out.String(), "build failed")
		assert.NoDirExists(t, env.exporter.dirs[0])
	})

	t.Run("crashing backend", func(t *testing.T) {
		env := setupEngine(t)

		result, err := env.engine(nil).Deploy(t.Context(), Request{AppName: "crash-app", Key: "crashy"})
		require.NoError(t, err)

		assert.Equal(t, hosting.MilestoneSuccess, result.Milestones)
		assert.False(t, result.BackendReachable)
		assert.Contains(t, result.BackendLogs, "Traceback (most recent call last):")
		assert.Contains(t, result.BackendLogs, "ModuleNotFoundError")
		assert.True(t, result.FrontendReachable)
		assert.Contains(t, env.out.String(), "The backend failed to start:")
	})

	t.Run("interactive accepts the suggestion", func(t *testing.T) {
		env := setupEngine(t)
		prompter := &acceptingPrompter{}

		result, err := env.engine(prompter).Deploy(t.Context(), Request{AppName: "My Blog", Interactive: true})
		require.NoError(t, err)

		assert.Equal(t, "my-blog", result.Key)
		assert.Equal(t, 1, prompter.confirms)

		// A second deploy of the same app overwrites without asking
		result, err = env.engine(prompter).Deploy(t.Context(), Request{AppName: "My Blog", Interactive: true})
		require.NoError(t, err)
		assert.Equal(t, "my-blog", result.Key)
		assert.Equal(t, 1, prompter.confirms)
		assert.Contains(t, env.out.String(), "Overwriting existing deployment my-blog")
	})

	t.Run("non-interactive without key", func(t *testing.T) {
		env := setupEngine(t)

		_, err := env.engine(nil).Deploy(t.Context(), Request{AppName: "shop"})

		assert.ErrorIs(t, err, hosting.ErrKeyRequired)
		assert.Empty(t, env.exporter.calls)
	})

	t.Run("invalid resources", func(t *testing.T) {
		env := setupEngine(t)

		_, err := env.engine(nil).Deploy(t.Context(), Request{AppName: "shop", Key: "shop", CPUs: -1})

		assert.Error(t, err)
		assert.Empty(t, env.exporter.calls)
	})

	t.Run("exporter failure", func(t *testing.T) {
		env := setupEngine(t)
		failing := packager.ExporterFunc(func(ctx context.Context, opts packager.ExportOptions) error {
			env.exporter.dirs = append(env.exporter.dirs, opts.Dir)
			return assert.AnError
		})

		_, err := NewEngine(env.client, failing, nil, env.out).Deploy(t.Context(), Request{AppName: "shop", Key: "shop"})

		assert.ErrorIs(t, err, assert.AnError)
		require.Len(t, env.exporter.dirs, 1)
		assert.NoDirExists(t, env.exporter.dirs[0])
	})

	t.Run("not logged in", func(t *testing.T) {
		env := setupEngine(t)
		env.client.Store().Save("forged", "")

		_, err := env.engine(nil).Deploy(t.Context(), Request{AppName: "shop", Key: "shop"})

		assert.ErrorIs(t, err, hosting.ErrNotAuthenticated)
		assert.Empty(t, env.exporter.calls)
	})
}
