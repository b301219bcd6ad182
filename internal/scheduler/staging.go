package scheduler

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/verdict-ml/verdict-go/internal/artifact"
	"github.com/verdict-ml/verdict-go/internal/domain"
)

// StagingBackend pulls the callable's code bundle and every model or
// dataset argument from object storage before handing the run to the inner
// backend. A staging failure fails the test with the cause preserved in the
// result message.
type StagingBackend struct {
	store  artifact.Store
	inner  Backend
	logger *slog.Logger
}

func NewStagingBackend(store artifact.Store, inner Backend, logger *slog.Logger) *StagingBackend {
	if store == nil || inner == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StagingBackend{store: store, inner: inner, logger: logger}
}

func (b *StagingBackend) Run(ctx context.Context, req RunRequest) (RunResult, error) {
	if req.Callable.CodeRef != "" {
		if err := b.stage(ctx, req.ProjectID, artifact.TypeCode, req.Callable.CodeRef); err != nil {
			return RunResult{}, fmt.Errorf("stage code %s: %w", req.Callable.CodeRef, err)
		}
	}
	for _, param := range req.Callable.Params {
		if !param.Type.IsArtifact() {
			continue
		}
		artifactID, ok := req.Args[param.Name]
		if !ok || artifactID == "" {
			continue
		}
		kind := artifact.TypeModel
		if param.Type == domain.ParamTypeDataset {
			kind = artifact.TypeDataset
		}
		if err := b.stage(ctx, req.ProjectID, kind, artifactID); err != nil {
			return RunResult{}, fmt.Errorf("stage %s %s: %w", param.Type, artifactID, err)
		}
	}
	return b.inner.Run(ctx, req)
}

func (b *StagingBackend) stage(ctx context.Context, projectID string, kind artifact.Type, artifactID string) error {
	paths, err := b.store.List(ctx, projectID, kind, artifactID)
	if err != nil {
		return err
	}
	var total int64
	for _, relPath := range paths {
		rc, err := b.store.OpenRead(ctx, projectID, kind, artifactID, relPath)
		if err != nil {
			return err
		}
		n, err := io.Copy(io.Discard, rc)
		rc.Close()
		if err != nil {
			return fmt.Errorf("read %s: %w", relPath, err)
		}
		total += n
	}
	b.logger.Debug("artifact staged",
		"project_id", projectID,
		"artifact_type", string(kind),
		"artifact_id", artifactID,
		"files", len(paths),
		"bytes", total)
	return nil
}
