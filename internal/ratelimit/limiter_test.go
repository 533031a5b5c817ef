package ratelimit

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestLimiterEnforcesQuota(t *testing.T) {
	limiter := Limiter{
		Store:  NewMemoryStore(),
		Max:    3,
		Window: time.Minute,
		Key:    KeyByIP("api"),
	}

	var handled int
	handler := limiter.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handled++
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/thing", nil)
		req.RemoteAddr = "10.1.1.1:4000"
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rr.Code)
		}
	}

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/thing", nil)
	req.RemoteAddr = "10.1.1.1:4000"
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 over quota, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
	if handled != 3 {
		t.Fatalf("handler ran %d times, want 3", handled)
	}
}

func TestLimiterIsolatesKeys(t *testing.T) {
	limiter := Limiter{
		Store:  NewMemoryStore(),
		Max:    1,
		Window: time.Minute,
		Key:    KeyByIP("api"),
	}
	handler := limiter.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for _, addr := range []string{"10.0.0.1:1", "10.0.0.2:1", "10.0.0.3:1"} {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/x", nil)
		req.RemoteAddr = addr
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("distinct clients must not share quota, got %d for %s", rr.Code, addr)
		}
	}
}

func TestKeyByBodyFieldRestoresBody(t *testing.T) {
	key := KeyByBodyField("auth", "email")
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"email":"Tenant@Example.com","password":"x"}`))

	got := key(req)
	if got != "auth:email:tenant@example.com" {
		t.Fatalf("unexpected key: %q", got)
	}

	body, err := io.ReadAll(req.Body)
	if err != nil {
		t.Fatalf("read restored body: %v", err)
	}
	if !strings.Contains(string(body), "password") {
		t.Fatalf("body must be restored for downstream handlers, got %q", body)
	}
}

func TestKeyByBodyFieldSkipsUnkeyableRequests(t *testing.T) {
	key := KeyByBodyField("auth", "email")

	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`not-json`))
	if got := key(req); got != "" {
		t.Fatalf("expected empty key for malformed body, got %q", got)
	}

	req = httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"other":"field"}`))
	if got := key(req); got != "" {
		t.Fatalf("expected empty key when field missing, got %q", got)
	}
}

func TestKeyByBodyFieldOversizedBodyStaysIntact(t *testing.T) {
	key := KeyByBodyField("auth", "email")

	// A JSON body just over the inspection cap: too big to key, but the
	// downstream handler must still receive every byte.
	padding := strings.Repeat("x", maxKeyBodyBytes)
	payload := `{"email":"tenant@example.com","blob":"` + padding + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(payload))

	if got := key(req); got != "" {
		t.Fatalf("oversized body must pass through unkeyed, got %q", got)
	}

	body, err := io.ReadAll(req.Body)
	if err != nil {
		t.Fatalf("read restored body: %v", err)
	}
	if len(body) != len(payload) {
		t.Fatalf("restored body is %d bytes, want %d", len(body), len(payload))
	}
	if string(body) != payload {
		t.Fatal("restored body differs from what the client sent")
	}
}

func TestKeyBySubjectFallsBackToIP(t *testing.T) {
	key := KeyBySubject("api", "X-Renthaven-User")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.9:123"
	if got := key(req); got != "api:ip:192.168.1.9" {
		t.Fatalf("unexpected anonymous key: %q", got)
	}

	req.Header.Set("X-Renthaven-User", "u42")
	if got := key(req); got != "api:subject:u42" {
		t.Fatalf("unexpected subject key: %q", got)
	}
}
