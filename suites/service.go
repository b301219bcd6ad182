package main

import (
	"context"

	"github.com/verdict-ml/verdict-go/internal/artifact"
)

// artifactReferenceChecker answers model/dataset membership questions by
// probing the artifact store. A reference is visible in a project when at
// least one object exists under the project's prefix for it.
type artifactReferenceChecker struct {
	store artifact.Store
}

func newArtifactReferenceChecker(store artifact.Store) *artifactReferenceChecker {
	if store == nil {
		return nil
	}
	return &artifactReferenceChecker{store: store}
}

func (c *artifactReferenceChecker) ModelInProject(ctx context.Context, projectID, modelID string) (bool, error) {
	return c.exists(ctx, projectID, artifact.TypeModel, modelID)
}

func (c *artifactReferenceChecker) DatasetInProject(ctx context.Context, projectID, datasetID string) (bool, error) {
	return c.exists(ctx, projectID, artifact.TypeDataset, datasetID)
}

func (c *artifactReferenceChecker) exists(ctx context.Context, projectID string, t artifact.Type, id string) (bool, error) {
	files, err := c.store.List(ctx, projectID, t, id)
	if err != nil {
		return false, err
	}
	return len(files) > 0, nil
}

// allowAllReferences disables membership checks. Used when the deployment
// keeps models and datasets outside the artifact store.
type allowAllReferences struct{}

func (allowAllReferences) ModelInProject(context.Context, string, string) (bool, error) {
	return true, nil
}

func (allowAllReferences) DatasetInProject(context.Context, string, string) (bool, error) {
	return true, nil
}
