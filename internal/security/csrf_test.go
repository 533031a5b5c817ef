package security

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCSRFIssueIsIdempotent(t *testing.T) {
	guard := NewCSRFGuard("", "", 30*time.Minute, false)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/security/csrf", nil)
	token, err := guard.Issue(rr, req, false)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if len(token) < 40 {
		t.Fatalf("token too short: %q", token)
	}

	cookies := rr.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != DefaultCSRFCookie {
		t.Fatalf("expected csrf cookie, got %v", cookies)
	}
	if cookies[0].SameSite != http.SameSiteStrictMode {
		t.Fatal("cookie must be SameSite=Strict")
	}
	if cookies[0].HttpOnly {
		t.Fatal("cookie must be readable by the client for the double submit")
	}

	// A request carrying the cookie gets the same token back.
	rr2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodGet, "/api/security/csrf", nil)
	req2.AddCookie(cookies[0])
	again, err := guard.Issue(rr2, req2, false)
	if err != nil {
		t.Fatalf("reissue: %v", err)
	}
	if again != token {
		t.Fatal("issuance must be idempotent while the cookie is valid")
	}
}

func TestCSRFForcedRefreshMintsNewToken(t *testing.T) {
	guard := NewCSRFGuard("", "", time.Minute, false)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	token, _ := guard.Issue(rr, req, false)

	rr2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodGet, "/", nil)
	req2.AddCookie(rr.Result().Cookies()[0])
	fresh, err := guard.Issue(rr2, req2, true)
	if err != nil {
		t.Fatalf("forced issue: %v", err)
	}
	if fresh == token {
		t.Fatal("forced refresh must mint a new token")
	}
}

func TestCSRFValidate(t *testing.T) {
	guard := NewCSRFGuard("", "", time.Minute, false)
	token, err := mintToken()
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	other, _ := mintToken()

	cases := []struct {
		name    string
		header  string
		cookie  string
		wantErr error
	}{
		{"match", token, token, nil},
		{"missing header", "", token, ErrCSRFTokenMissing},
		{"missing cookie", token, "", ErrCSRFTokenMissing},
		{"mismatch", token, other, ErrCSRFTokenMismatch},
		{"short header", "abc", token, ErrCSRFTokenMalformed},
		{"bad alphabet", strings.Repeat("$", 48), token, ErrCSRFTokenMalformed},
		{"bad cookie alphabet", token, token[:20] + "!!" + token[22:], ErrCSRFTokenMalformed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := guard.Validate(tc.header, tc.cookie)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("validate(%q, %q) = %v, want %v", tc.header, tc.cookie, err, tc.wantErr)
			}
		})
	}
}
