package auth

import (
	"errors"
	"net/http"
	"strings"
)

var ErrForbidden = errors.New("forbidden")

const (
	RoleViewer = "viewer"
	RoleEditor = "editor"
	RoleAdmin  = "admin"
)

var roleLevels = map[string]int{
	RoleViewer: 1,
	RoleEditor: 2,
	RoleAdmin:  3,
}

// roleLevel returns 0 for unknown roles.
func roleLevel(role string) int {
	return roleLevels[strings.ToLower(strings.TrimSpace(role))]
}

func HasAtLeast(roles []string, required string) bool {
	need := roleLevel(required)
	if need == 0 {
		return false
	}
	for _, role := range roles {
		if roleLevel(role) >= need {
			return true
		}
	}
	return false
}

// RequiredRoleForRequest maps read methods to viewer and everything else
// to editor. Services with finer-grained rules layer their own Authorize
// func on top of this default.
func RequiredRoleForRequest(r *http.Request) string {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return RoleViewer
	default:
		return RoleEditor
	}
}
