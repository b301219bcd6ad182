package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"

	"github.com/verdict-ml/verdict-go/internal/repo"
)

// MinioStore keeps artifact content in one S3-compatible bucket under
// <projectKey>/<type>/<artifactID>/<relPath> keys.
type MinioStore struct {
	client *minio.Client
	bucket string
}

func NewMinioStore(client *minio.Client, bucket string) (*MinioStore, error) {
	if client == nil {
		return nil, fmt.Errorf("minio client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	return &MinioStore{client: client, bucket: bucket}, nil
}

func (s *MinioStore) List(ctx context.Context, projectKey string, t Type, artifactID string) ([]string, error) {
	prefix, err := s.artifactPrefix(projectKey, t, artifactID)
	if err != nil {
		return nil, err
	}

	var paths []string
	objects := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})
	for object := range objects {
		if object.Err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, object.Err)
		}
		paths = append(paths, strings.TrimPrefix(object.Key, prefix))
	}
	return paths, nil
}

func (s *MinioStore) OpenRead(ctx context.Context, projectKey string, t Type, artifactID, relPath string) (io.ReadCloser, error) {
	key, err := s.objectKey(projectKey, t, artifactID, relPath)
	if err != nil {
		return nil, err
	}
	// StatObject first so a missing object surfaces as not-found instead of
	// a lazy read error.
	if _, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err != nil {
		return nil, mapMinioError(key, err)
	}
	object, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapMinioError(key, err)
	}
	return object, nil
}

func (s *MinioStore) Write(ctx context.Context, projectKey string, t Type, artifactID, relPath string, body io.Reader, size int64) error {
	key, err := s.objectKey(projectKey, t, artifactID, relPath)
	if err != nil {
		return err
	}
	if _, err := s.client.PutObject(ctx, s.bucket, key, body, size, minio.PutObjectOptions{}); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (s *MinioStore) artifactPrefix(projectKey string, t Type, artifactID string) (string, error) {
	projectKey = strings.TrimSpace(projectKey)
	artifactID = strings.TrimSpace(artifactID)
	if projectKey == "" {
		return "", fmt.Errorf("project key is required")
	}
	if !validType(t) {
		return "", fmt.Errorf("unknown artifact type %q", t)
	}
	if artifactID == "" {
		return "", fmt.Errorf("artifact id is required")
	}
	if strings.ContainsAny(projectKey, "/\\") || strings.ContainsAny(artifactID, "/\\") {
		return "", ErrInvalidPath
	}
	return fmt.Sprintf("%s/%s/%s/", projectKey, t, artifactID), nil
}

func (s *MinioStore) objectKey(projectKey string, t Type, artifactID, relPath string) (string, error) {
	prefix, err := s.artifactPrefix(projectKey, t, artifactID)
	if err != nil {
		return "", err
	}
	cleaned, err := CleanRelPath(relPath)
	if err != nil {
		return "", err
	}
	return prefix + cleaned, nil
}

func mapMinioError(key string, err error) error {
	var response minio.ErrorResponse
	if errors.As(err, &response) && response.StatusCode == 404 {
		return fmt.Errorf("%s: %w", key, repo.ErrNotFound)
	}
	return fmt.Errorf("stat %s: %w", key, err)
}
