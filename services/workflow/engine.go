package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fluxpanel/workflow-engine/pkg/apierr"
	"github.com/fluxpanel/workflow-engine/pkg/tracing"
	"github.com/fluxpanel/workflow-engine/services/graph"
	"github.com/fluxpanel/workflow-engine/services/nodes"
	"github.com/fluxpanel/workflow-engine/services/storage"
)

// ExecuteRequest is the Execute API's parsed, validated input.
type ExecuteRequest struct {
	WorkflowID      uuid.UUID
	UserID          uuid.UUID
	Scope           storage.RunScope
	SelectedNodeIDs []string
}

// Execute is the public entry point: validate, scope, bootstrap a run
// record, dispatch every level concurrently, and finalize the aggregate
// status. Pre-flight failures are returned as *apierr.Error; a storage
// failure while bootstrapping or reloading the run is returned wrapped. A
// node failing during dispatch is recorded on the run, never returned here.
func (s *Service) Execute(ctx context.Context, req ExecuteRequest) (*storage.WorkflowRun, error) {
	if req.Scope == storage.RunScopeSelected && len(req.SelectedNodeIDs) == 0 {
		return nil, apierr.New(apierr.CodeInvalidScope, "SELECTED scope requires at least one selected node id")
	}
	if req.Scope == storage.RunScopeSingle && len(req.SelectedNodeIDs) != 1 {
		return nil, apierr.New(apierr.CodeInvalidScope, "SINGLE scope requires exactly one selected node id")
	}

	_, version, err := s.storage.FindWorkflowWithLatestVersion(ctx, req.WorkflowID, req.UserID)
	if err != nil {
		return nil, apierr.New(apierr.CodeNotFound, "workflow or published version not found")
	}

	fullNodes := make([]graph.Node, 0, len(version.DagData.Nodes))
	nodeData := make(map[string]storage.Node, len(version.DagData.Nodes))
	for _, n := range version.DagData.Nodes {
		fullNodes = append(fullNodes, graph.Node{ID: n.ID, Kind: n.Kind})
		nodeData[n.ID] = n
	}
	fullEdges := make([]graph.Edge, 0, len(version.DagData.Edges))
	for _, e := range version.DagData.Edges {
		fullEdges = append(fullEdges, graph.Edge{
			ID: e.ID, Source: e.Source, SourceHandle: e.SourceHandle,
			Target: e.Target, TargetHandle: e.TargetHandle,
		})
	}

	if !graph.ValidateDAG(fullNodes, fullEdges) {
		return nil, apierr.New(apierr.CodeInvalidDAG, "workflow graph contains a cycle")
	}

	scopedNodes, scopedEdges, err := graph.SubgraphForScope(fullNodes, fullEdges, graph.Scope(req.Scope), req.SelectedNodeIDs)
	if err != nil {
		return nil, apierr.New(apierr.CodeInvalidScope, err.Error())
	}
	if len(scopedNodes) == 0 {
		return nil, apierr.New(apierr.CodeInvalidScope, "scoped subgraph is empty")
	}
	if req.Scope == storage.RunScopeFull && !hasExportNode(scopedNodes) {
		return nil, apierr.New(apierr.CodeMissingExportNode, "FULL scope requires at least one export node")
	}

	levels, err := graph.ExecutionLevels(scopedNodes, scopedEdges)
	if err != nil {
		return nil, apierr.New(apierr.CodeInvalidDAG, "scoped subgraph contains a cycle")
	}

	byID := make(map[string]nodes.GraphNode, len(scopedNodes))
	scopedForBootstrap := make([]storage.ScopedNode, 0, len(scopedNodes))
	for _, n := range scopedNodes {
		sn := nodeData[n.ID]
		byID[n.ID] = nodes.GraphNode{ID: sn.ID, Kind: sn.Kind, Data: sn.Data}
		scopedForBootstrap = append(scopedForBootstrap, storage.ScopedNode{NodeID: sn.ID, Kind: sn.Kind})
	}

	run := &storage.WorkflowRun{
		WorkflowID:      req.WorkflowID,
		VersionID:       version.ID,
		UserID:          req.UserID,
		Scope:           req.Scope,
		SelectedNodeIDs: req.SelectedNodeIDs,
	}
	nodeRuns, err := s.storage.BootstrapRun(ctx, run, scopedForBootstrap)
	if err != nil {
		return nil, fmt.Errorf("bootstrap run: %w", err)
	}
	nodeRunByNodeID := make(map[string]uuid.UUID, len(nodeRuns))
	for _, nr := range nodeRuns {
		nodeRunByNodeID[nr.NodeID] = nr.ID
	}

	runCtx, runSpan := tracing.StartRunSpan(ctx, run.ID.String())
	outputsSoFar := make(map[string]map[string]any, len(scopedNodes))
	for _, level := range levels {
		s.metrics.SetQueueDepth(len(level))
		s.executeLevel(runCtx, run.ID.String(), req.UserID.String(), level, scopedEdges, byID, nodeRunByNodeID, outputsSoFar)
	}
	runSpan.End()

	s.finalizeRun(ctx, run.ID)

	finished, err := s.storage.FindRunWithNodeRuns(ctx, run.ID)
	if err != nil {
		return nil, fmt.Errorf("load finalized run: %w", err)
	}
	return finished, nil
}

// executeLevel runs every node of one level concurrently and waits for all
// of them before returning. A failure in one node does not cancel its
// peers and does not block the next level. Outputs of the level are merged
// into outputsSoFar only after every node of the level has finished, so
// nodes never read the map while it is being written.
func (s *Service) executeLevel(
	ctx context.Context,
	runID string,
	userID string,
	level []graph.Node,
	edges []graph.Edge,
	byID map[string]nodes.GraphNode,
	nodeRunByNodeID map[string]uuid.UUID,
	outputsSoFar map[string]map[string]any,
) {
	var mu sync.Mutex
	var wg sync.WaitGroup
	levelOutputs := make(map[string]map[string]any, len(level))

	s.metrics.SetInflightNodes(len(level))
	for _, gn := range level {
		gn := gn
		wg.Add(1)
		go func() {
			defer wg.Done()
			outputs := s.executeNode(ctx, runID, userID, gn, edges, byID, nodeRunByNodeID, outputsSoFar)
			if outputs != nil {
				mu.Lock()
				levelOutputs[gn.ID] = outputs
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	for id, outputs := range levelOutputs {
		outputsSoFar[id] = outputs
	}
	s.metrics.SetInflightNodes(0)
}

// executeNode resolves one node's inputs, transitions its NodeRun through
// RUNNING to a terminal state, and returns its outputs (nil on failure).
func (s *Service) executeNode(
	ctx context.Context,
	runID string,
	userID string,
	gn graph.Node,
	edges []graph.Edge,
	byID map[string]nodes.GraphNode,
	nodeRunByNodeID map[string]uuid.UUID,
	outputsSoFar map[string]map[string]any,
) map[string]any {
	nodeRunID := nodeRunByNodeID[gn.ID]
	target := byID[gn.ID]
	inputs := nodes.ResolveInputs(target, edges, outputsSoFar, byID)

	nodeCtx, nodeSpan := tracing.StartNodeSpan(ctx, runID, gn.ID, string(gn.Kind))
	defer nodeSpan.End()

	startedAt := time.Now()
	_ = s.storage.UpdateNodeRun(ctx, nodeRunID, storage.NodeRunPatch{
		Status:    storage.NodeRunRunning,
		StartedAt: &startedAt,
		Inputs:    inputs,
	})

	n, err := nodes.New(nodes.BaseFields{ID: gn.ID, Kind: gn.Kind, Data: target.Data, UserID: userID}, s.deps)
	if err != nil {
		s.recordNodeFailure(ctx, nodeRunID, startedAt, err)
		s.metrics.RecordStepLatency(string(gn.Kind), "error", time.Since(startedAt))
		tracing.EndWithError(nodeSpan, err)
		return nil
	}

	result, err := n.Execute(nodeCtx, inputs)
	finishedAt := time.Now()
	durationMs := finishedAt.Sub(startedAt).Milliseconds()

	if err != nil {
		s.recordNodeFailure(ctx, nodeRunID, startedAt, err)
		s.metrics.RecordStepLatency(string(gn.Kind), "error", finishedAt.Sub(startedAt))
		tracing.EndWithError(nodeSpan, err)
		return nil
	}

	s.metrics.RecordStepLatency(string(gn.Kind), "success", finishedAt.Sub(startedAt))

	var taskName, remoteRunID *string
	if result.TaskName != "" {
		taskName = &result.TaskName
	}
	if result.RemoteRunID != "" {
		remoteRunID = &result.RemoteRunID
	}
	_ = s.storage.UpdateNodeRun(ctx, nodeRunID, storage.NodeRunPatch{
		Status:      storage.NodeRunSuccess,
		StartedAt:   &startedAt,
		FinishedAt:  &finishedAt,
		DurationMs:  &durationMs,
		Inputs:      inputs,
		Outputs:     result.Outputs,
		TaskName:    taskName,
		RemoteRunID: remoteRunID,
	})
	return result.Outputs
}

// recordNodeFailure classifies err (an *apierr.Error when raised by a node
// executor, otherwise a generic internal failure) and writes the terminal
// FAILED patch.
func (s *Service) recordNodeFailure(ctx context.Context, nodeRunID uuid.UUID, startedAt time.Time, err error) {
	finishedAt := time.Now()
	durationMs := finishedAt.Sub(startedAt).Milliseconds()
	message := err.Error()

	details := map[string]any{}
	if ae, ok := apierr.As(err); ok {
		details["code"] = string(ae.Code)
		details["httpStatus"] = ae.Status()
		for k, v := range ae.Details {
			details[k] = v
		}
	} else {
		details["code"] = string(apierr.CodeInternal)
		details["httpStatus"] = apierr.HTTPStatus(apierr.CodeInternal)
	}

	_ = s.storage.UpdateNodeRun(ctx, nodeRunID, storage.NodeRunPatch{
		Status:       storage.NodeRunFailed,
		StartedAt:    &startedAt,
		FinishedAt:   &finishedAt,
		DurationMs:   &durationMs,
		ErrorMessage: &message,
		ErrorDetails: details,
	})
}

// finalizeRun loads the run's node runs, computes the aggregate status per
// the SUCCESS/FAILED/PARTIAL rule, and writes the closing patch.
func (s *Service) finalizeRun(ctx context.Context, runID uuid.UUID) {
	run, err := s.storage.FindRunWithNodeRuns(ctx, runID)
	if err != nil {
		return
	}

	var successes, failures int
	var failureMessages []string
	for _, nr := range run.NodeRuns {
		switch nr.Status {
		case storage.NodeRunSuccess:
			successes++
		case storage.NodeRunFailed:
			failures++
			msg := ""
			if nr.ErrorMessage != nil {
				msg = *nr.ErrorMessage
			}
			failureMessages = append(failureMessages, fmt.Sprintf("%s: %s", nr.NodeID, msg))
		}
	}

	status := storage.RunStatusSuccess
	switch {
	case failures == 0:
		status = storage.RunStatusSuccess
	case successes == 0:
		status = storage.RunStatusFailed
	default:
		status = storage.RunStatusPartial
	}

	finishedAt := time.Now()
	durationMs := finishedAt.Sub(run.StartedAt).Milliseconds()

	var errorSummary *string
	if len(failureMessages) > 0 {
		n := len(failureMessages)
		if n > 3 {
			n = 3
		}
		summary := strings.Join(failureMessages[:n], " | ")
		errorSummary = &summary
	}

	_ = s.storage.UpdateRun(ctx, runID, storage.RunPatch{
		Status:       status,
		FinishedAt:   &finishedAt,
		DurationMs:   &durationMs,
		ErrorSummary: errorSummary,
	})
}

// hasExportNode reports whether any node in the slice is one of the three
// export kinds, required before a FULL-scope run may execute.
func hasExportNode(ns []graph.Node) bool {
	for _, n := range ns {
		switch n.Kind {
		case graph.KindExportText, graph.KindExportImage, graph.KindExportVideo:
			return true
		}
	}
	return false
}
