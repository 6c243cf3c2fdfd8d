package commands

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alvesdmateus/apphost/internal/controlplane"
	"github.com/alvesdmateus/apphost/pkg/database"
	"github.com/alvesdmateus/apphost/pkg/models"
)

const testEmail = "cli@example.com"

type testHost struct {
	server *httptest.Server
	api    *controlplane.Server
	token  string
}

func setupHost(t *testing.T) *testHost {
	t.Helper()

	db, err := database.New(database.Config{DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })

	store, err := controlplane.NewStore(db)
	require.NoError(t, err)

	api := controlplane.NewServer(controlplane.Config{
		JWTSecret:      "cli-test-secret",
		AutoApprove:    true,
		StreamDuration: 200 * time.Millisecond,
		StreamInterval: 10 * time.Millisecond,
	}, store)
	server := httptest.NewServer(api.Handler())
	t.Cleanup(server.Close)

	token, _, err := api.Tokens().Issue(testEmail)
	require.NoError(t, err)

	return &testHost{server: server, api: api, token: token}
}

type cliResult struct {
	stdout string
	stderr string
	err    error
}

// runCLI executes one apphost invocation against host with token cached in memory
func (h *testHost) runCLI(t *testing.T, token, stdin string, args ...string) cliResult {
	t.Helper()

	viper.Reset()
	t.Setenv("APPHOST_API_URL", h.server.URL)
	t.Setenv("APPHOST_AUTH_URL", h.server.URL+"/cli-auth")
	t.Setenv("APPHOST_CONFIG_DIR", t.TempDir())
	t.Setenv("APPHOST_CREDENTIALS_BACKEND", "memory")
	t.Setenv("APPHOST_CREDENTIALS_TOKEN", token)
	t.Setenv("APPHOST_AUTH_INTERVAL", "10ms")
	t.Setenv("APPHOST_AUTH_RETRIES", "5")
	t.Setenv("APPHOST_DEPLOY_POLL_INTERVAL", "10ms")
	t.Setenv("APPHOST_HEALTH_INTERVAL", "10ms")
	t.Setenv("APPHOST_HEALTH_BACKEND_TIMEOUT", "2s")
	t.Setenv("APPHOST_HEALTH_FRONTEND_TIMEOUT", "2s")

	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetIn(strings.NewReader(stdin))
	err := run(t.Context(), cmd, args, &stdout, &stderr)

	return cliResult{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

// newProject creates a project directory with prebuilt backend and frontend
func newProject(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	files := map[string]string{
		"backend/main.py":     "print('hello')\n",
		"frontend/index.html": "<h1>hello</h1>\n",
		"requirements.txt":    "flask==3.0\n",
		".env":                "FROM_FILE=1\nMODE=file\n",
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	}
	return dir
}

func TestVersion(t *testing.T) {
	h := setupHost(t)

	res := h.runCLI(t, "", "", "version")

	require.NoError(t, res.err)
	assert.Equal(t, "apphost dev\n", res.stdout)
}

func TestLoginLogout(t *testing.T) {
	h := setupHost(t)

	var visited string
	original := openBrowser
	t.Cleanup(func() { openBrowser = original })
	openBrowser = func(url string) error {
		visited = url
		resp, err := http.Get(url)
		if err != nil {
			return err
		}
		return resp.Body.Close()
	}

	t.Run("browser login", func(t *testing.T) {
		res := h.runCLI(t, "", "", "login")

		require.NoError(t, res.err, res.stderr)
		assert.Contains(t, visited, h.server.URL+"/cli-auth?request-id=")
		assert.Contains(t, res.stdout, "Logged in.")
	})

	t.Run("cached token", func(t *testing.T) {
		visited = ""
		res := h.runCLI(t, h.token, "", "login")

		require.NoError(t, res.err)
		assert.Empty(t, visited)
	})

	t.Run("logout", func(t *testing.T) {
		res := h.runCLI(t, h.token, "", "logout")

		require.NoError(t, res.err)
		assert.Contains(t, res.stdout, "Logged out.")
	})
}

func TestDeployCommand(t *testing.T) {
	h := setupHost(t)
	project := newProject(t)

	t.Run("non-interactive", func(t *testing.T) {
		res := h.runCLI(t, h.token, "",
			"deploy", "shop",
			"--key", "shop",
			"--no-interactive",
			"--project-dir", project,
			"--regions", "us-east,eu-central",
			"--envfile", filepath.Join(project, ".env"),
			"--envs", "MODE=flag",
			"--cpus", "2",
		)

		require.NoError(t, res.err, res.stderr)
		assert.Contains(t, res.stdout, "Deployment shop")
		assert.Contains(t, res.stdout, "Frontend: "+h.server.URL+"/apps/shop")
		assert.Contains(t, res.stdout, "Backend:  "+h.server.URL+"/apps/shop/api")
	})

	t.Run("flag envs override the env file", func(t *testing.T) {
		res := h.runCLI(t, h.token, "", "--format", "json", "deployments", "list")
		require.NoError(t, res.err, res.stderr)

		var deployments []models.Deployment
		require.NoError(t, json.Unmarshal([]byte(res.stdout), &deployments))
		require.Len(t, deployments, 1)
		assert.Equal(t, map[string]string{"FROM_FILE": "1", "MODE": "flag"}, deployments[0].Envs)
		assert.Equal(t, []string{"us-east", "eu-central"}, deployments[0].Regions)
		assert.Equal(t, 2, deployments[0].CPUs)
	})

	t.Run("interactive accepts the suggestion", func(t *testing.T) {
		res := h.runCLI(t, h.token, "\n", "deploy", "My Blog", "--project-dir", project)

		require.NoError(t, res.err, res.stderr)
		assert.Contains(t, res.stdout, `Deploy with key "my-blog"`)
		assert.Contains(t, res.stdout, "Deployment my-blog")
	})

	t.Run("failed build", func(t *testing.T) {
		res := h.runCLI(t, h.token, "", "deploy", "will-fail", "--key", "broken", "--no-interactive", "--project-dir", project)

		require.Error(t, res.err)
		assert.Contains(t, res.stdout, "build failed")
		assert.Contains(t, res.stderr, "Error: deployment failed")
		assert.Contains(t, res.stderr, "build-logs")
	})

	t.Run("missing key", func(t *testing.T) {
		res := h.runCLI(t, h.token, "", "deploy", "--no-interactive", "--project-dir", project)

		require.Error(t, res.err)
		assert.Contains(t, res.stderr, "a deployment key is required")
	})

	t.Run("bad env entry", func(t *testing.T) {
		res := h.runCLI(t, h.token, "", "deploy", "--key", "x", "--envs", "1BAD=x", "--project-dir", project)

		require.Error(t, res.err)
		assert.Contains(t, res.stderr, "invalid environment variable name")
	})

	t.Run("not logged in", func(t *testing.T) {
		res := h.runCLI(t, "forged", "", "deploy", "--key", "shop", "--no-interactive", "--project-dir", project)

		require.Error(t, res.err)
		assert.Contains(t, res.stderr, "Error: not authenticated, run `apphost login` first")
	})
}

func TestDeploymentsCommands(t *testing.T) {
	h := setupHost(t)
	project := newProject(t)

	res := h.runCLI(t, h.token, "", "deploy", "shop", "--key", "shop", "--no-interactive", "--project-dir", project)
	require.NoError(t, res.err, res.stderr)

	t.Run("list table", func(t *testing.T) {
		res := h.runCLI(t, h.token, "", "deployments", "list")

		require.NoError(t, res.err)
		lines := strings.Split(strings.TrimSpace(res.stdout), "\n")
		require.Len(t, lines, 2)
		assert.True(t, strings.HasPrefix(lines[0], "KEY"))
		assert.Contains(t, lines[1], h.server.URL+"/apps/shop")
	})

	t.Run("list yaml", func(t *testing.T) {
		res := h.runCLI(t, h.token, "", "--format", "yaml", "deployments", "list")

		require.NoError(t, res.err)
		assert.Contains(t, res.stdout, "key: shop")
		assert.Contains(t, res.stdout, "app_name: shop")
	})

	t.Run("unknown format", func(t *testing.T) {
		res := h.runCLI(t, h.token, "", "--format", "xml", "deployments", "list")

		require.Error(t, res.err)
		assert.Contains(t, res.stderr, `unknown output format "xml"`)
	})

	t.Run("status", func(t *testing.T) {
		res := h.runCLI(t, h.token, "", "deployments", "status", "shop")

		require.NoError(t, res.err)
		assert.Contains(t, res.stdout, "frontend")
		assert.Contains(t, res.stdout, "yes")
	})

	t.Run("status of unknown deployment", func(t *testing.T) {
		res := h.runCLI(t, h.token, "", "deployments", "status", "nope")

		require.Error(t, res.err)
		assert.Contains(t, res.stderr, `Error: Deployment "nope" not found`)
	})

	t.Run("regions", func(t *testing.T) {
		res := h.runCLI(t, h.token, "", "deployments", "regions")

		require.NoError(t, res.err)
		assert.Contains(t, res.stdout, "us-east")
		assert.Contains(t, res.stdout, "eu-central")
	})

	t.Run("share", func(t *testing.T) {
		res := h.runCLI(t, h.token, "", "deployments", "share", "shop")

		require.NoError(t, res.err)
		assert.Equal(t, "Check out shop, deployed with apphost: "+h.server.URL+"/apps/shop\n", res.stdout)
	})

	t.Run("build logs", func(t *testing.T) {
		res := h.runCLI(t, h.token, "", "deployments", "build-logs", "shop")

		require.NoError(t, res.err, res.stderr)
		assert.Contains(t, res.stdout, "deploy success (backend)")
		assert.Contains(t, res.stdout, "deploy success (frontend)")
	})

	t.Run("app logs", func(t *testing.T) {
		res := h.runCLI(t, h.token, "", "deployments", "logs", "shop")

		require.NoError(t, res.err, res.stderr)
		assert.Contains(t, res.stdout, "application started")
		assert.NotContains(t, res.stdout, "deploy success")
	})

	t.Run("delete declined", func(t *testing.T) {
		res := h.runCLI(t, h.token, "n\n", "deployments", "delete", "shop")

		require.NoError(t, res.err)
		assert.Contains(t, res.stdout, "Aborted.")
	})

	t.Run("delete", func(t *testing.T) {
		res := h.runCLI(t, h.token, "", "deployments", "delete", "shop", "--yes")

		require.NoError(t, res.err)
		assert.Contains(t, res.stdout, "Deleted deployment shop")

		res = h.runCLI(t, h.token, "", "--format", "json", "deployments", "list")
		require.NoError(t, res.err)
		assert.JSONEq(t, "[]", res.stdout)
	})
}

func TestParseOutputFormat(t *testing.T) {
	tests := map[string]outputFormat{
		"":      formatTable,
		"table": formatTable,
		"JSON":  formatJSON,
		"yaml":  formatYAML,
	}
	for in, want := range tests {
		got, err := parseOutputFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := parseOutputFormat("csv")
	assert.Error(t, err)
}
