package auth

import (
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"
)

func TestSafeReturnTo(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"", "/"},
		{"/app", "/app"},
		{"/suites/suite-1", "/suites/suite-1"},
		{"https://evil.test/phish", "/"},
		{"//evil", "/"},
		{"relative/path", "/"},
		{"%zz", "/"},
	}
	for _, tc := range cases {
		if got := safeReturnTo(tc.raw); got != tc.want {
			t.Errorf("safeReturnTo(%q)=%q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestTokenFromHeader(t *testing.T) {
	cases := []struct {
		header string
		want   string
	}{
		{"", ""},
		{"Bearer tok-1", "tok-1"},
		{"bearer tok-1", "tok-1"},
		{"Bearer   tok-1", "tok-1"},
		{"Basic dXNlcg==", ""},
		{"Bearer", ""},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.header != "" {
			r.Header.Set("Authorization", tc.header)
		}
		if got := tokenFromHeader(r); got != tc.want {
			t.Errorf("tokenFromHeader(%q)=%q, want %q", tc.header, got, tc.want)
		}
	}
}

func TestPKCES256Challenge(t *testing.T) {
	// RFC 7636 appendix B vector.
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	want := "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"
	if got := pkceS256Challenge(verifier); got != want {
		t.Fatalf("pkceS256Challenge()=%q, want %q", got, want)
	}
}

func TestNewLoginAttempt(t *testing.T) {
	attempt, err := newLoginAttempt()
	if err != nil {
		t.Fatalf("newLoginAttempt() err=%v", err)
	}
	if attempt.State == "" || attempt.Verifier == "" || attempt.Nonce == "" {
		t.Fatalf("attempt has blank fields: %+v", attempt)
	}
	if attempt.State == attempt.Verifier || attempt.State == attempt.Nonce {
		t.Fatalf("attempt secrets not independent: %+v", attempt)
	}
	if attempt.challenge() != pkceS256Challenge(attempt.Verifier) {
		t.Fatalf("challenge does not match verifier")
	}
}

func TestExtractRolesClaim(t *testing.T) {
	cases := []struct {
		name   string
		claims map[string]any
		want   []string
	}{
		{"json array", map[string]any{"roles": []any{"Admin", " viewer ", 7, ""}}, []string{"admin", "viewer"}},
		{"string slice", map[string]any{"roles": []string{"Editor", ""}}, []string{"editor"}},
		{"csv string", map[string]any{"roles": "admin, viewer,admin"}, []string{"admin", "viewer"}},
		{"missing", map[string]any{}, nil},
		{"wrong type", map[string]any{"roles": 42}, nil},
	}
	for _, tc := range cases {
		got := extractRolesClaim(tc.claims, "roles")
		if len(got) == 0 && len(tc.want) == 0 {
			continue
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("%s: extractRolesClaim()=%v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestParseSameSite(t *testing.T) {
	if got := parseSameSite("Strict"); got != http.SameSiteStrictMode {
		t.Fatalf("parseSameSite(Strict)=%v", got)
	}
	if got := parseSameSite("none"); got != http.SameSiteNoneMode {
		t.Fatalf("parseSameSite(none)=%v", got)
	}
	if got := parseSameSite("anything-else"); got != http.SameSiteLaxMode {
		t.Fatalf("parseSameSite(default)=%v", got)
	}
}

func TestSetAndClearCookieAttributes(t *testing.T) {
	cfg := Config{
		SessionCookieSecure:   true,
		SessionCookieSameSite: "strict",
		SessionCookieMaxAge:   time.Hour,
	}

	rec := httptest.NewRecorder()
	setSessionCookie(rec, "verdict_session", "tok-1", cfg)
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("set: %d cookies, want 1", len(cookies))
	}
	c := cookies[0]
	if c.Name != "verdict_session" || c.Value != "tok-1" {
		t.Fatalf("cookie %q=%q", c.Name, c.Value)
	}
	if !c.HttpOnly || !c.Secure || c.SameSite != http.SameSiteStrictMode {
		t.Fatalf("cookie attributes: %+v", c)
	}
	if c.MaxAge != int(time.Hour.Seconds()) {
		t.Fatalf("MaxAge=%d, want %d", c.MaxAge, int(time.Hour.Seconds()))
	}

	rec = httptest.NewRecorder()
	clearCookie(rec, "verdict_session", cfg)
	cookies = rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge != -1 {
		t.Fatalf("clear: cookies=%v", cookies)
	}
}
