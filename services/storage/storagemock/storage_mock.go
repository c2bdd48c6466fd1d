// Package storagemock provides a func-field fake of storage.Storage for the
// run orchestrator's tests, so services/workflow never has to spin up
// pgxmock expectations just to exercise scheduling logic.
package storagemock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/fluxpanel/workflow-engine/services/storage"
)

type StorageMock struct {
	FindWorkflowWithLatestVersionMock func(ctx context.Context, workflowID, ownerID uuid.UUID) (*storage.Workflow, *storage.WorkflowVersion, error)
	BootstrapRunMock                  func(ctx context.Context, run *storage.WorkflowRun, scopedNodes []storage.ScopedNode) ([]storage.NodeRun, error)
	UpdateNodeRunMock                 func(ctx context.Context, id uuid.UUID, patch storage.NodeRunPatch) error
	UpdateRunMock                     func(ctx context.Context, id uuid.UUID, patch storage.RunPatch) error
	FindRunWithNodeRunsMock           func(ctx context.Context, runID uuid.UUID) (*storage.WorkflowRun, error)
	ListRunsByWorkflowMock            func(ctx context.Context, workflowID, ownerID uuid.UUID, limit int, cursor uuid.UUID) ([]storage.WorkflowRun, bool, error)
	UpsertAssetByProviderURLMock      func(ctx context.Context, asset *storage.Asset) (*storage.Asset, error)
	PublishWorkflowMock               func(ctx context.Context, workflowID uuid.UUID) (*storage.WorkflowVersion, error)
}

func (m *StorageMock) FindWorkflowWithLatestVersion(ctx context.Context, workflowID, ownerID uuid.UUID) (*storage.Workflow, *storage.WorkflowVersion, error) {
	if m != nil && m.FindWorkflowWithLatestVersionMock != nil {
		return m.FindWorkflowWithLatestVersionMock(ctx, workflowID, ownerID)
	}
	return nil, nil, pgx.ErrNoRows
}

func (m *StorageMock) BootstrapRun(ctx context.Context, run *storage.WorkflowRun, scopedNodes []storage.ScopedNode) ([]storage.NodeRun, error) {
	if m != nil && m.BootstrapRunMock != nil {
		return m.BootstrapRunMock(ctx, run, scopedNodes)
	}
	run.ID = uuid.New()
	run.RunNumber = 1
	run.StartedAt = time.Now()
	run.Status = storage.RunStatusRunning

	nodeRuns := make([]storage.NodeRun, 0, len(scopedNodes))
	for _, sn := range scopedNodes {
		nodeRuns = append(nodeRuns, storage.NodeRun{
			ID:       uuid.New(),
			RunID:    run.ID,
			NodeID:   sn.NodeID,
			NodeKind: sn.Kind,
			Status:   storage.NodeRunQueued,
		})
	}
	return nodeRuns, nil
}

func (m *StorageMock) UpdateNodeRun(ctx context.Context, id uuid.UUID, patch storage.NodeRunPatch) error {
	if m != nil && m.UpdateNodeRunMock != nil {
		return m.UpdateNodeRunMock(ctx, id, patch)
	}
	return nil
}

func (m *StorageMock) UpdateRun(ctx context.Context, id uuid.UUID, patch storage.RunPatch) error {
	if m != nil && m.UpdateRunMock != nil {
		return m.UpdateRunMock(ctx, id, patch)
	}
	return nil
}

func (m *StorageMock) FindRunWithNodeRuns(ctx context.Context, runID uuid.UUID) (*storage.WorkflowRun, error) {
	if m != nil && m.FindRunWithNodeRunsMock != nil {
		return m.FindRunWithNodeRunsMock(ctx, runID)
	}
	return nil, pgx.ErrNoRows
}

func (m *StorageMock) ListRunsByWorkflow(ctx context.Context, workflowID, ownerID uuid.UUID, limit int, cursor uuid.UUID) ([]storage.WorkflowRun, bool, error) {
	if m != nil && m.ListRunsByWorkflowMock != nil {
		return m.ListRunsByWorkflowMock(ctx, workflowID, ownerID, limit, cursor)
	}
	return nil, false, nil
}

func (m *StorageMock) UpsertAssetByProviderURL(ctx context.Context, asset *storage.Asset) (*storage.Asset, error) {
	if m != nil && m.UpsertAssetByProviderURLMock != nil {
		return m.UpsertAssetByProviderURLMock(ctx, asset)
	}
	if asset.ID == uuid.Nil {
		asset.ID = uuid.New()
	}
	return asset, nil
}

func (m *StorageMock) PublishWorkflow(ctx context.Context, workflowID uuid.UUID) (*storage.WorkflowVersion, error) {
	if m != nil && m.PublishWorkflowMock != nil {
		return m.PublishWorkflowMock(ctx, workflowID)
	}
	return &storage.WorkflowVersion{
		ID:            uuid.New(),
		WorkflowID:    workflowID,
		VersionNumber: 1,
		PublishedAt:   time.Now(),
	}, nil
}
