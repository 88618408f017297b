package ratelim

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
)

func TestLimitPerIP(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	h := rl.Limit(func(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
		w.WriteHeader(http.StatusOK)
	})

	hit := func(addr string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h(rec, req, nil)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, hit("10.0.0.1:1000"))
	assert.Equal(t, http.StatusOK, hit("10.0.0.1:1001"))
	assert.Equal(t, http.StatusTooManyRequests, hit("10.0.0.1:1002"), "burst spent, port must not matter")
	assert.Equal(t, http.StatusOK, hit("10.0.0.2:1000"))
}

func TestSweep(t *testing.T) {
	rl := NewRateLimiter(60, 1)
	rl.getLimiter("a")
	rl.getLimiter("b")
	rl.visitors["a"].lastSeen = time.Now().Add(-time.Hour)

	rl.sweep(time.Now())
	assert.NotContains(t, rl.visitors, "a")
	assert.Contains(t, rl.visitors, "b")
}
