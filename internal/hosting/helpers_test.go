package hosting

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/alvesdmateus/apphost/internal/credentials"
	"github.com/alvesdmateus/apphost/pkg/models"
)

const testToken = "test-token"

// testAPI is a scripted control plane. /authenticate/me accepts testToken and
// refuses everything else with a 403.
type testAPI struct {
	server   *httptest.Server
	client   *Client
	store    *credentials.MemoryStore
	meCalls  atomic.Int32
	meStatus atomic.Int32
}

func newTestAPI(t *testing.T, routes func(r chi.Router)) *testAPI {
	t.Helper()

	api := &testAPI{store: credentials.NewMemoryStore(credentials.Credentials{AccessToken: testToken})}

	r := chi.NewRouter()
	r.Post("/authenticate/me", func(w http.ResponseWriter, req *http.Request) {
		api.meCalls.Add(1)
		if status := int(api.meStatus.Load()); status != 0 {
			writeJSON(w, status, models.ErrorResponse{Detail: http.StatusText(status)})
			return
		}
		if req.Header.Get("Authorization") != "Bearer "+testToken {
			writeJSON(w, http.StatusForbidden, models.ErrorResponse{Detail: "token revoked"})
			return
		}
		writeJSON(w, http.StatusOK, models.UserInfo{UserID: "user-1", Email: "dev@example.com"})
	})
	if routes != nil {
		routes(r)
	}

	api.server = httptest.NewServer(r)
	t.Cleanup(api.server.Close)

	client, err := NewClient(testConfig(api.server.URL), api.store)
	require.NoError(t, err)
	client.OpenBrowser = func(string) error { return nil }
	api.client = client

	return api
}

func testConfig(baseURL string) Config {
	return Config{
		BaseURL:           baseURL,
		AuthURL:           baseURL + "/cli-auth",
		CLIVersion:        "test",
		Timeout:           2 * time.Second,
		UploadTimeout:     2 * time.Second,
		AuthRetries:       3,
		MilestoneRetries:  5,
		BackendTimeout:    500 * time.Millisecond,
		FrontendTimeout:   200 * time.Millisecond,
		HealthInterval:    5 * time.Millisecond,
		LogLineLimit:      30,
		PromptMaxAttempts: 3,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// scriptedPrompter replays canned answers
type scriptedPrompter struct {
	mu        sync.Mutex
	confirms  []bool
	answers   []string
	questions []string
}

func (p *scriptedPrompter) Confirm(question string, defaultYes bool) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.questions = append(p.questions, question)
	if len(p.confirms) == 0 {
		return defaultYes, nil
	}
	answer := p.confirms[0]
	p.confirms = p.confirms[1:]
	return answer, nil
}

func (p *scriptedPrompter) Ask(question, defaultValue string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.questions = append(p.questions, question)
	if len(p.answers) == 0 {
		return defaultValue, nil
	}
	answer := p.answers[0]
	p.answers = p.answers[1:]
	return answer, nil
}
