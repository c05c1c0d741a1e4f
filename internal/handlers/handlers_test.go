package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/chepyr/daily-planner/internal/db"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jmoiron/sqlx"
)

var (
	testSecret = strings.Repeat("a", 32)
	// "today" for every handler test
	fixedNow = time.Date(2025, time.January, 1, 10, 30, 0, 0, time.UTC)
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupHTTP(t *testing.T) (*Handler, http.Handler, *sqlx.DB) {
	t.Helper()

	dbx, err := db.Connect("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.Migrate(context.Background(), dbx); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	h := &Handler{
		TaskRepo:  db.NewTaskRepository(dbx),
		UserRepo:  db.NewUserRepository(dbx),
		WSHub:     NewWSHub(discardLogger()),
		Logger:    discardLogger(),
		JWTSecret: []byte(testSecret),
		TokenTTL:  time.Hour,
		Location:  time.UTC,
		Now:       func() time.Time { return fixedNow },
	}
	return h, h.Routes(), dbx
}

func bearerForUser(t *testing.T, userID string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": userID,
		"exp": time.Now().Add(1 * time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign jwt: %v", err)
	}
	return "Bearer " + signed
}

// do sends a request through the router. authz and body may be empty.
func do(t *testing.T, router http.Handler, method, path, authz, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
}

func messageOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp messageResponse
	decodeBody(t, rec, &resp)
	return resp.Message
}

func TestClientIP(t *testing.T) {
	h := &Handler{TrustedProxies: []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("::1/128"),
	}}

	tests := []struct {
		name   string
		remote string
		fwd    string
		want   string
	}{
		{"no header", "127.0.0.1:5555", "", "127.0.0.1"},
		{"untrusted peer ignores header", "203.0.113.9:4000", "1.2.3.4", "203.0.113.9"},
		{"trusted peer", "10.0.0.1:1234", "1.2.3.4", "1.2.3.4"},
		{"rightmost untrusted hop", "10.0.0.1:1234", "1.2.3.4, 5.6.7.8, 10.0.0.2", "5.6.7.8"},
		{"every hop trusted", "10.0.0.1:1234", "10.0.0.3, 10.0.0.2", "10.0.0.3"},
		{"trusted peer without header", "10.0.0.1:1234", "", "10.0.0.1"},
		{"ipv6 proxy", "[::1]:8080", "2001:db8::1", "2001:db8::1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.fwd != "" {
				req.Header.Set("X-Forwarded-For", tt.fwd)
			}
			if got := h.clientIP(req); got != tt.want {
				t.Fatalf("clientIP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClientIP_NoTrustedProxies(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "1.2.3.4")
	req.RemoteAddr = "10.0.0.1:1234"
	if got := (&Handler{}).clientIP(req); got != "10.0.0.1" {
		t.Fatalf("clientIP = %q, want the peer address", got)
	}
}

func TestCheckOrigin_EmptyAllowsAll(t *testing.T) {
	h := &Handler{}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://any.example")
	if !h.checkOrigin(req) {
		t.Fatalf("checkOrigin should allow when no origins are configured")
	}
}

func TestCheckOrigin_ListAllowAndDeny(t *testing.T) {
	h := &Handler{AllowedOrigins: []string{"https://a.example", "https://b.example"}}
	allowReq := httptest.NewRequest(http.MethodGet, "/", nil)
	allowReq.Header.Set("Origin", "https://b.example")
	denyReq := httptest.NewRequest(http.MethodGet, "/", nil)
	denyReq.Header.Set("Origin", "https://c.example")

	if !h.checkOrigin(allowReq) {
		t.Fatalf("expected allow for https://b.example")
	}
	if h.checkOrigin(denyReq) {
		t.Fatalf("expected deny for https://c.example")
	}
}

func TestRateLimiter_AllowBlocksAndResets(t *testing.T) {
	rl := NewRateLimiter(2, 50*time.Millisecond)
	defer rl.Stop()

	ip := "1.2.3.4"
	if !rl.Allow(ip) || !rl.Allow(ip) {
		t.Fatalf("first two attempts should be allowed")
	}
	if rl.Allow(ip) {
		t.Fatalf("third attempt should be blocked")
	}

	time.Sleep(120 * time.Millisecond)
	if !rl.Allow(ip) {
		t.Fatalf("attempt after the window should be allowed")
	}
}

func TestRateLimiter_StopEndsResets(t *testing.T) {
	rl := NewRateLimiter(1, 20*time.Millisecond)
	rl.Stop()
	rl.Stop()

	// let a tick pass in case the loop had not seen done yet
	time.Sleep(30 * time.Millisecond)
	if !rl.Allow("k") {
		t.Fatalf("first attempt should be allowed")
	}
	time.Sleep(80 * time.Millisecond)
	if rl.Allow("k") {
		t.Fatalf("attempts were reset after Stop")
	}
}

func TestRateLimiter_NilAllowsEverything(t *testing.T) {
	var rl *RateLimiter
	for n := 0; n < 10; n++ {
		if !rl.Allow("1.2.3.4") {
			t.Fatalf("nil limiter must not block")
		}
	}
}

func TestLogRequests_SetsRequestID(t *testing.T) {
	h := &Handler{Logger: discardLogger()}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	h.LogRequests(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusTeapot)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("X-Request-ID header not set")
	}

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec = httptest.NewRecorder()
	h.LogRequests(next).ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Fatalf("X-Request-ID = %q, want the caller's id", got)
	}
}

func TestRoutes_MethodNotAllowed(t *testing.T) {
	_, router, dbx := setupHTTP(t)
	defer dbx.Close()

	cases := []struct {
		method, path string
	}{
		{http.MethodPost, "/api/history"},
		{http.MethodDelete, "/api/deleted"},
		{http.MethodGet, "/api/restore/1"},
		{http.MethodGet, "/api/tasks/1"},
		{http.MethodPost, "/api/tasks/today"},
		{http.MethodGet, "/api/tasks/cancel/1"},
		{http.MethodGet, "/api/register"},
	}
	for _, c := range cases {
		rec := do(t, router, c.method, c.path, "", "")
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s: status=%d, want 405", c.method, c.path, rec.Code)
		}
	}
}
