package workflow_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fluxpanel/workflow-engine/pkg/apierr"
	"github.com/fluxpanel/workflow-engine/pkg/remotetask"
	"github.com/fluxpanel/workflow-engine/services/graph"
	"github.com/fluxpanel/workflow-engine/services/nodes"
	"github.com/fluxpanel/workflow-engine/services/storage"
	"github.com/fluxpanel/workflow-engine/services/storage/storagemock"
	"github.com/fluxpanel/workflow-engine/services/workflow"
)

// stubRunner is a fixed-response remotetask.Runner for orchestrator tests.
type stubRunner struct {
	result remotetask.Result
	err    error
}

func (s *stubRunner) TriggerAndPoll(_ context.Context, _ string, _ map[string]any) (remotetask.Result, error) {
	return s.result, s.err
}

func textNode(id, value string) storage.Node {
	return storage.Node{ID: id, Kind: graph.KindText, Data: map[string]any{"value": value}}
}

// newFakeStore wraps ns/es into a single version and backs UpdateNodeRun/
// UpdateRun/FindRunWithNodeRuns with an in-memory run record, mirroring just
// enough of pgStorage's contract for the orchestrator to drive a full run
// without a database.
func newFakeStore(t *testing.T, workflowID uuid.UUID, ns []storage.Node, es []storage.Edge) *storagemock.StorageMock {
	t.Helper()
	version := &storage.WorkflowVersion{
		ID:            uuid.New(),
		WorkflowID:    workflowID,
		VersionNumber: 1,
		DagData:       storage.DagData{Nodes: ns, Edges: es},
	}

	runs := map[uuid.UUID]*storage.WorkflowRun{}
	nodeRuns := map[uuid.UUID]*storage.NodeRun{}

	mock := &storagemock.StorageMock{
		FindWorkflowWithLatestVersionMock: func(ctx context.Context, id, owner uuid.UUID) (*storage.Workflow, *storage.WorkflowVersion, error) {
			if id != workflowID {
				return nil, nil, errors.New("not found")
			}
			return &storage.Workflow{ID: workflowID, UserID: owner}, version, nil
		},
		BootstrapRunMock: func(ctx context.Context, run *storage.WorkflowRun, scoped []storage.ScopedNode) ([]storage.NodeRun, error) {
			run.ID = uuid.New()
			run.RunNumber = 1
			run.StartedAt = time.Now()
			run.Status = storage.RunStatusRunning
			runs[run.ID] = run

			out := make([]storage.NodeRun, 0, len(scoped))
			for _, sn := range scoped {
				nr := storage.NodeRun{ID: uuid.New(), RunID: run.ID, NodeID: sn.NodeID, NodeKind: sn.Kind, Status: storage.NodeRunQueued}
				nodeRuns[nr.ID] = &nr
				out = append(out, nr)
			}
			return out, nil
		},
		UpdateNodeRunMock: func(ctx context.Context, id uuid.UUID, patch storage.NodeRunPatch) error {
			nr, ok := nodeRuns[id]
			if !ok {
				return errors.New("unknown node run")
			}
			nr.Status = patch.Status
			nr.StartedAt = patch.StartedAt
			nr.FinishedAt = patch.FinishedAt
			nr.DurationMs = patch.DurationMs
			nr.Inputs = patch.Inputs
			nr.Outputs = patch.Outputs
			nr.ErrorMessage = patch.ErrorMessage
			nr.ErrorDetails = patch.ErrorDetails
			return nil
		},
		UpdateRunMock: func(ctx context.Context, id uuid.UUID, patch storage.RunPatch) error {
			run, ok := runs[id]
			if !ok {
				return errors.New("unknown run")
			}
			run.Status = patch.Status
			run.FinishedAt = patch.FinishedAt
			run.DurationMs = patch.DurationMs
			run.ErrorSummary = patch.ErrorSummary
			return nil
		},
		FindRunWithNodeRunsMock: func(ctx context.Context, id uuid.UUID) (*storage.WorkflowRun, error) {
			run, ok := runs[id]
			if !ok {
				return nil, errors.New("unknown run")
			}
			cp := *run
			for _, nr := range nodeRuns {
				if nr.RunID == id {
					cp.NodeRuns = append(cp.NodeRuns, *nr)
				}
			}
			return &cp, nil
		},
	}
	return mock
}

func newService(t *testing.T, store *storagemock.StorageMock, deps nodes.Deps) *workflow.Service {
	t.Helper()
	svc, err := workflow.NewService(store, deps)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

// S1 — smallest passing FULL run.
func TestExecute_SmallestPassingFullRun(t *testing.T) {
	workflowID := uuid.New()
	userID := uuid.New()
	ns := []storage.Node{
		textNode("t1", "hello"),
		{ID: "x1", Kind: graph.KindExportText},
	}
	es := []storage.Edge{{ID: "e1", Source: "t1", SourceHandle: "text", Target: "x1", TargetHandle: "text"}}

	store := newFakeStore(t, workflowID, ns, es)
	svc := newService(t, store, nodes.Deps{})

	run, err := svc.Execute(context.Background(), workflow.ExecuteRequest{
		WorkflowID: workflowID,
		UserID:     userID,
		Scope:      storage.RunScopeFull,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Status != storage.RunStatusSuccess {
		t.Fatalf("status: got %q, want SUCCESS", run.Status)
	}
	if run.RunNumber != 1 {
		t.Fatalf("runNumber: got %d, want 1", run.RunNumber)
	}
	if len(run.NodeRuns) != 2 {
		t.Fatalf("node runs: got %d, want 2", len(run.NodeRuns))
	}
	for _, nr := range run.NodeRuns {
		if nr.Status != storage.NodeRunSuccess {
			t.Errorf("node %s: got %q, want SUCCESS", nr.NodeID, nr.Status)
		}
		if nr.NodeID == "x1" && nr.Outputs["text"] != "hello" {
			t.Errorf("export_text output: got %#v", nr.Outputs)
		}
	}
}

// S2 — FULL rejects graphs without an export node.
func TestExecute_FullRequiresExportNode(t *testing.T) {
	workflowID := uuid.New()
	ns := []storage.Node{
		textNode("t1", "x"),
		{ID: "l1", Kind: graph.KindLLM},
	}
	es := []storage.Edge{{ID: "e1", Source: "t1", SourceHandle: "text", Target: "l1", TargetHandle: "user_message"}}

	store := newFakeStore(t, workflowID, ns, es)
	svc := newService(t, store, nodes.Deps{})

	_, err := svc.Execute(context.Background(), workflow.ExecuteRequest{
		WorkflowID: workflowID,
		UserID:     uuid.New(),
		Scope:      storage.RunScopeFull,
	})
	assertCode(t, err, "MISSING_EXPORT_NODE")
}

// S3 — cycle detection.
func TestExecute_CycleDetected(t *testing.T) {
	workflowID := uuid.New()
	ns := []storage.Node{textNode("a", "x"), textNode("b", "y")}
	es := []storage.Edge{
		{ID: "e1", Source: "a", SourceHandle: "text", Target: "b", TargetHandle: "text"},
		{ID: "e2", Source: "b", SourceHandle: "text", Target: "a", TargetHandle: "text"},
	}

	store := newFakeStore(t, workflowID, ns, es)
	svc := newService(t, store, nodes.Deps{})

	_, err := svc.Execute(context.Background(), workflow.ExecuteRequest{
		WorkflowID: workflowID,
		UserID:     uuid.New(),
		Scope:      storage.RunScopeFull,
	})
	assertCode(t, err, "INVALID_DAG")
}

// Scope validation rejects SELECTED/SINGLE without the right selection
// shape before ever touching storage.
func TestExecute_ScopeValidation(t *testing.T) {
	svc := newService(t, newFakeStore(t, uuid.New(), nil, nil), nodes.Deps{})

	_, err := svc.Execute(context.Background(), workflow.ExecuteRequest{
		WorkflowID: uuid.New(),
		UserID:     uuid.New(),
		Scope:      storage.RunScopeSelected,
	})
	assertCode(t, err, "INVALID_SCOPE")

	_, err = svc.Execute(context.Background(), workflow.ExecuteRequest{
		WorkflowID:      uuid.New(),
		UserID:          uuid.New(),
		Scope:           storage.RunScopeSingle,
		SelectedNodeIDs: []string{"a", "b"},
	})
	assertCode(t, err, "INVALID_SCOPE")
}

// S5 — partial run on remote failure: text succeeds, llm fails, the
// downstream export fails with MISSING_INPUT since llm produced nothing.
func TestExecute_PartialRunOnRemoteFailure(t *testing.T) {
	workflowID := uuid.New()
	ns := []storage.Node{
		textNode("t1", "p"),
		{ID: "l1", Kind: graph.KindLLM},
		{ID: "x1", Kind: graph.KindExportText},
	}
	es := []storage.Edge{
		{ID: "e1", Source: "t1", SourceHandle: "text", Target: "l1", TargetHandle: "user_message"},
		{ID: "e2", Source: "l1", SourceHandle: "text", Target: "x1", TargetHandle: "text"},
	}

	store := newFakeStore(t, workflowID, ns, es)
	deps := nodes.Deps{Tasks: &stubRunner{err: errors.New("remote task terminal failure")}}
	svc := newService(t, store, deps)

	run, err := svc.Execute(context.Background(), workflow.ExecuteRequest{
		WorkflowID: workflowID,
		UserID:     uuid.New(),
		Scope:      storage.RunScopeFull,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Status != storage.RunStatusPartial {
		t.Fatalf("status: got %q, want PARTIAL", run.Status)
	}
	if run.ErrorSummary == nil {
		t.Fatal("expected a non-nil error summary")
	}

	statusByNode := map[string]storage.NodeRunStatus{}
	for _, nr := range run.NodeRuns {
		statusByNode[nr.NodeID] = nr.Status
	}
	if statusByNode["t1"] != storage.NodeRunSuccess {
		t.Errorf("t1: got %q, want SUCCESS", statusByNode["t1"])
	}
	if statusByNode["l1"] != storage.NodeRunFailed {
		t.Errorf("l1: got %q, want FAILED", statusByNode["l1"])
	}
	if statusByNode["x1"] != storage.NodeRunFailed {
		t.Errorf("x1: got %q, want FAILED", statusByNode["x1"])
	}
}

// S6 — a remote task timeout is isolated to its own node and classified as
// TASK_TIMEOUT, not the generic INTERNAL_ERROR fallback.
func TestExecute_RemoteTaskTimeoutClassifiedAsTaskTimeout(t *testing.T) {
	workflowID := uuid.New()
	ns := []storage.Node{
		textNode("t1", "p"),
		{ID: "l1", Kind: graph.KindLLM},
	}
	es := []storage.Edge{
		{ID: "e1", Source: "t1", SourceHandle: "text", Target: "l1", TargetHandle: "user_message"},
	}

	store := newFakeStore(t, workflowID, ns, es)
	deps := nodes.Deps{Tasks: &stubRunner{err: &remotetask.TimeoutError{TaskName: "llm-execute"}}}
	svc := newService(t, store, deps)

	run, err := svc.Execute(context.Background(), workflow.ExecuteRequest{
		WorkflowID:      workflowID,
		UserID:          uuid.New(),
		Scope:           storage.RunScopeSelected,
		SelectedNodeIDs: []string{"l1"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var nodeRun *storage.NodeRun
	for i := range run.NodeRuns {
		if run.NodeRuns[i].NodeID == "l1" {
			nodeRun = &run.NodeRuns[i]
		}
	}
	if nodeRun == nil {
		t.Fatal("expected a node run for l1")
	}
	if nodeRun.Status != storage.NodeRunFailed {
		t.Fatalf("l1 status: got %q, want FAILED", nodeRun.Status)
	}
	if code, _ := nodeRun.ErrorDetails["code"].(string); code != string(apierr.CodeTaskTimeout) {
		t.Errorf("l1 error_details.code: got %q, want %q", code, apierr.CodeTaskTimeout)
	}
}

// S4 — SELECTED scope pulls in every ancestor of the selection.
func TestExecute_SelectedScopeIncludesAncestors(t *testing.T) {
	workflowID := uuid.New()
	ns := []storage.Node{
		textNode("t1", "a"),
		textNode("t2", "b"),
		{ID: "l1", Kind: graph.KindLLM},
	}
	es := []storage.Edge{
		{ID: "e1", Source: "t1", SourceHandle: "text", Target: "l1", TargetHandle: "system_prompt"},
		{ID: "e2", Source: "t2", SourceHandle: "text", Target: "l1", TargetHandle: "user_message"},
	}

	store := newFakeStore(t, workflowID, ns, es)
	deps := nodes.Deps{Tasks: &stubRunner{result: remotetask.Result{Output: map[string]any{"text": "ok"}}}}
	svc := newService(t, store, deps)

	run, err := svc.Execute(context.Background(), workflow.ExecuteRequest{
		WorkflowID:      workflowID,
		UserID:          uuid.New(),
		Scope:           storage.RunScopeSelected,
		SelectedNodeIDs: []string{"l1"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(run.NodeRuns) != 3 {
		t.Fatalf("node runs: got %d, want 3 (t1, t2, l1)", len(run.NodeRuns))
	}
	if run.Status != storage.RunStatusSuccess {
		t.Fatalf("status: got %q, want SUCCESS", run.Status)
	}
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with code %s, got nil", code)
	}
	ae, ok := apierr.As(err)
	if !ok {
		t.Fatalf("error %v is not an *apierr.Error", err)
	}
	if string(ae.Code) != code {
		t.Fatalf("code: got %s, want %s", ae.Code, code)
	}
}
