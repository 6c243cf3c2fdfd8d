package controlplane

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alvesdmateus/apphost/pkg/models"
)

func TestRateLimitMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	send := func(h http.Handler, addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/deployments", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	t.Run("disabled passes everything", func(t *testing.T) {
		h := RateLimitMiddleware(RateLimitConfig{})(ok)
		for i := 0; i < 50; i++ {
			assert.Equal(t, http.StatusOK, send(h, "10.0.0.1:1234").Code)
		}
	})

	t.Run("blocks after the burst", func(t *testing.T) {
		h := RateLimitMiddleware(RateLimitConfig{RequestsPerSecond: 0.01, BurstSize: 2})(ok)

		assert.Equal(t, http.StatusOK, send(h, "10.0.0.2:1234").Code)
		assert.Equal(t, http.StatusOK, send(h, "10.0.0.2:5678").Code)

		rec := send(h, "10.0.0.2:1234")
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "1", rec.Header().Get("Retry-After"))
		assert.Equal(t, "Too many requests, retry in a moment", detailOf(t, rec))
	})

	t.Run("clients are limited separately", func(t *testing.T) {
		h := RateLimitMiddleware(RateLimitConfig{RequestsPerSecond: 0.01, BurstSize: 1})(ok)

		assert.Equal(t, http.StatusOK, send(h, "10.0.0.3:1").Code)
		assert.Equal(t, http.StatusTooManyRequests, send(h, "10.0.0.3:1").Code)
		assert.Equal(t, http.StatusOK, send(h, "10.0.0.4:1").Code)
	})
}

func TestIPRateLimiterSweepsIdleClients(t *testing.T) {
	rl := NewIPRateLimiter(RateLimitConfig{RequestsPerSecond: 1, IdleTimeout: 20 * time.Millisecond})

	require.True(t, rl.Allow("a"))
	require.True(t, rl.Allow("b"))
	assert.Equal(t, 2, rl.Len())

	time.Sleep(40 * time.Millisecond)
	require.True(t, rl.Allow("c"))
	assert.Equal(t, 1, rl.Len())
}

func TestUploadsAreRateLimited(t *testing.T) {
	s, _ := setupTestServer(t, Config{
		JWTSecret: testSecret,
		RateLimit: RateLimitConfig{RequestsPerSecond: 0.01, BurstSize: 1},
	})
	owner := tokenFor(t, s, testOwner)

	rec := upload(t, s, owner, uploadFields(models.ComponentBackend, "limited", "limited"), []byte("zip"))
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = upload(t, s, owner, uploadFields(models.ComponentBackend, "limited", "limited"), []byte("zip"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Reads are not limited
	rec = doJSON(t, s, http.MethodGet, "/deployments", owner, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
