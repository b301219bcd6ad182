package auth

import (
	"net/http"
	"testing"
)

func TestHasAtLeast(t *testing.T) {
	cases := []struct {
		roles    []string
		required string
		want     bool
	}{
		{[]string{"viewer"}, RoleViewer, true},
		{[]string{"viewer"}, RoleEditor, false},
		{[]string{"editor"}, RoleViewer, true},
		{[]string{"admin"}, RoleEditor, true},
		{[]string{" Admin "}, RoleAdmin, true},
		{[]string{"intruder"}, RoleViewer, false},
		{nil, RoleViewer, false},
		{[]string{"admin"}, "owner", false},
	}
	for _, tc := range cases {
		if got := HasAtLeast(tc.roles, tc.required); got != tc.want {
			t.Errorf("HasAtLeast(%v, %q)=%v, want %v", tc.roles, tc.required, got, tc.want)
		}
	}
}

func TestRequiredRoleForRequest(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "http://example.test/", nil)
	if got := RequiredRoleForRequest(req); got != RoleViewer {
		t.Fatalf("RequiredRoleForRequest(GET)=%q, want viewer", got)
	}
	req.Method = http.MethodHead
	if got := RequiredRoleForRequest(req); got != RoleViewer {
		t.Fatalf("RequiredRoleForRequest(HEAD)=%q, want viewer", got)
	}
	req.Method = http.MethodPost
	if got := RequiredRoleForRequest(req); got != RoleEditor {
		t.Fatalf("RequiredRoleForRequest(POST)=%q, want editor", got)
	}
}
