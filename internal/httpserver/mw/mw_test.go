package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/marks/internal/logger"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestDeviceAssignsCookie(t *testing.T) {
	var seen string
	h := Device(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = DeviceFrom(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	_, err := uuid.Parse(seen)
	require.NoError(t, err, "device id should be a uuid")

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	c := cookies[0]
	assert.Equal(t, DeviceCookie, c.Name)
	assert.Equal(t, seen, c.Value)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
}

func TestDeviceKeepsValidCookie(t *testing.T) {
	id := uuid.NewString()
	var seen string
	h := Device(false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = DeviceFrom(r.Context())
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.AddCookie(&http.Cookie{Name: DeviceCookie, Value: id})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, id, seen)
	assert.Empty(t, rec.Result().Cookies(), "a valid cookie is not reissued")
}

func TestDeviceReplacesForgedCookie(t *testing.T) {
	var seen string
	h := Device(false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = DeviceFrom(r.Context())
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.AddCookie(&http.Cookie{Name: DeviceCookie, Value: "../../etc/passwd"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.NotEqual(t, "../../etc/passwd", seen)
	assert.Len(t, rec.Result().Cookies(), 1)
}

func TestEnforceHost(t *testing.T) {
	h := EnforceHost([]string{"marks.example.com", "*.lan:8080"}, logger.Nop())(okHandler())

	tests := []struct {
		host string
		want int
	}{
		{"marks.example.com", http.StatusOK},
		{"MARKS.example.com:443", http.StatusOK},
		{"nas.lan", http.StatusOK},
		{"evil.com", http.StatusForbidden},
		{"example.com", http.StatusForbidden},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/", nil)
		req.Host = tt.host
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, tt.want, rec.Code, "host %s", tt.host)
	}
}

func TestEnforceHostPassthrough(t *testing.T) {
	h := EnforceHost(nil, logger.Nop())(okHandler())
	req := httptest.NewRequest("GET", "/", nil)
	req.Host = "anything"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAllowOnlyCIDRS(t *testing.T) {
	h := AllowOnlyCIDRS([]string{"10.0.0.0/8"}, false, logger.Nop())(okHandler())

	req := httptest.NewRequest("GET", "/healthz", nil)
	req.RemoteAddr = "10.1.1.1:1234"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest("GET", "/healthz", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	req.Header.Set("X-Forwarded-For", "10.1.1.1")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code, "forwarded headers are ignored without trustProxy")
}

func TestRateLimit(t *testing.T) {
	h := RateLimit(RateLimitConfig{Burst: 2, RefillPerIPPerMin: 1})(okHandler())

	send := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/bookmarks", nil)
		req.RemoteAddr = ip + ":1000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, send("192.0.2.1").Code)
	assert.Equal(t, http.StatusOK, send("192.0.2.1").Code)

	rec := send("192.0.2.1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	// buckets are per IP
	assert.Equal(t, http.StatusOK, send("192.0.2.2").Code)
}

func TestRateLimitPerDevice(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	h := RateLimit(RateLimitConfig{
		Burst:             1,
		RefillPerIPPerMin: 60,
		Now:               func() time.Time { return now },
	})(okHandler())

	send := func(ip, device string) int {
		req := httptest.NewRequest("POST", "/bookmarks", nil)
		req.RemoteAddr = ip + ":1000"
		req = req.WithContext(WithDevice(req.Context(), device))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("192.0.2.1", "laptop"))
	// a new address does not reset the device budget
	assert.Equal(t, http.StatusTooManyRequests, send("192.0.2.2", "laptop"))

	now = now.Add(2 * time.Second)
	assert.Equal(t, http.StatusOK, send("192.0.2.3", "laptop"), "bucket refills over time")
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://marks.example.com"})(okHandler())

	req := httptest.NewRequest("GET", "/api/state", nil)
	req.Header.Set("Origin", "https://marks.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "https://marks.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest("GET", "/api/state", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestLogKeepsHijacker(t *testing.T) {
	var ok bool
	h := Log(logger.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok = w.(http.Hijacker)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/ws", nil))
	assert.True(t, ok, "websocket upgrades need a Hijacker")
}
