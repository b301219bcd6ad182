package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

type ctxKeyProjectID struct{}

// ErrProjectRequired indicates a missing project scope for a request.
var ErrProjectRequired = errors.New("project_id_required")

// ProjectResolver extracts a project identifier for the request.
type ProjectResolver func(r *http.Request, identity Identity) (string, error)

func ContextWithProjectID(ctx context.Context, projectID string) context.Context {
	return context.WithValue(ctx, ctxKeyProjectID{}, strings.TrimSpace(projectID))
}

func ProjectIDFromContext(ctx context.Context) (string, bool) {
	value, ok := ctx.Value(ctxKeyProjectID{}).(string)
	return strings.TrimSpace(value), ok
}

// ProjectIDFromRequest checks the URL path, headers, and query for a
// project id. The path is parsed directly because the resolver runs before
// mux pattern matching.
func ProjectIDFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	if v := projectIDFromPath(r.URL.Path); v != "" {
		return v
	}
	if v := strings.TrimSpace(r.Header.Get("X-Project-Id")); v != "" {
		return v
	}
	if v := strings.TrimSpace(r.URL.Query().Get("project_id")); v != "" {
		return v
	}
	return ""
}

func projectIDFromPath(path string) string {
	rest, ok := strings.CutPrefix(path, "/projects/")
	if !ok {
		return ""
	}
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	return strings.TrimSpace(rest)
}

// RequireProjectIDResolver enforces project scoping for requests except
// listed prefixes.
func RequireProjectIDResolver(skipPrefixes []string) ProjectResolver {
	return func(r *http.Request, identity Identity) (string, error) {
		for _, prefix := range skipPrefixes {
			if strings.HasPrefix(r.URL.Path, prefix) {
				return "", nil
			}
		}
		projectID := ProjectIDFromRequest(r)
		if projectID == "" {
			return "", ErrProjectRequired
		}
		return projectID, nil
	}
}
