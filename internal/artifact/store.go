// Package artifact abstracts the content storage for callable code, model,
// and dataset bytes. Consumers address content by (project key, artifact
// type, artifact id, relative path); relative paths are opaque but must
// stay inside the artifact root.
package artifact

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
)

// Type partitions artifact content by what it stores.
type Type string

const (
	TypeCode    Type = "code"
	TypeModel   Type = "models"
	TypeDataset Type = "datasets"
)

// ErrInvalidPath marks a relative path that would escape the artifact root.
// Traversal attempts are refused, never silently normalized away.
var ErrInvalidPath = errors.New("invalid artifact path")

// Store is the narrow streaming interface the resolver and scheduler use to
// dereference artifact content during a run.
type Store interface {
	List(ctx context.Context, projectKey string, t Type, artifactID string) ([]string, error)
	OpenRead(ctx context.Context, projectKey string, t Type, artifactID, relPath string) (io.ReadCloser, error)
	Write(ctx context.Context, projectKey string, t Type, artifactID, relPath string, body io.Reader, size int64) error
}

// CleanRelPath validates a within-artifact relative path and returns its
// canonical form.
func CleanRelPath(relPath string) (string, error) {
	if strings.TrimSpace(relPath) == "" {
		return "", ErrInvalidPath
	}
	if strings.Contains(relPath, "\\") || strings.ContainsRune(relPath, 0) {
		return "", ErrInvalidPath
	}
	if path.IsAbs(relPath) {
		return "", ErrInvalidPath
	}
	cleaned := path.Clean(relPath)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrInvalidPath
	}
	return cleaned, nil
}

func validType(t Type) bool {
	switch t {
	case TypeCode, TypeModel, TypeDataset:
		return true
	default:
		return false
	}
}
