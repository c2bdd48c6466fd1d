// Package nodes implements the per-kind node executors of the workflow
// engine: the input resolver and the ten-kind executor dispatch table that
// the run orchestrator drives one execution level at a time.
package nodes

import (
	"context"
	"errors"

	"github.com/fluxpanel/workflow-engine/pkg/apierr"
	"github.com/fluxpanel/workflow-engine/pkg/remotetask"
	"github.com/fluxpanel/workflow-engine/services/assets"
	"github.com/fluxpanel/workflow-engine/services/graph"
)

// ExecutionResult holds everything a single node run produces on success.
// TaskName and RemoteRunID are empty for passthrough kinds that never reach
// the remote task client.
type ExecutionResult struct {
	Outputs     map[string]any
	TaskName    string
	RemoteRunID string
}

// BaseFields holds the instance-level data every node kind shares: its graph
// identity plus the node-local configuration object persisted with the
// workflow version (e.g. a text node's literal value, a crop node's default
// percentages). Embedding BaseFields gives every node type its ID/Kind/Data
// for free.
type BaseFields struct {
	ID     string
	Kind   graph.NodeKind
	Data   map[string]any
	UserID string
}

// Deps holds the external collaborators a node's Execute may need. Nodes
// stay decoupled from concrete client implementations by depending only on
// these two small interfaces.
type Deps struct {
	Tasks  remotetask.Runner
	Assets assets.Persister
}

// Node is implemented by each of the ten closed node kinds.
type Node interface {
	// Kind returns the node's type, used by the resolver to compute
	// primary-output extraction and by the orchestrator for dispatch.
	Kind() graph.NodeKind
	// Execute runs the node against its already-resolved inputs.
	Execute(ctx context.Context, inputs map[string]any) (*ExecutionResult, error)
}

// translateTaskError maps the remote task client's sentinel errors onto the
// orchestrator's typed error codes, so a timed-out or terminally-failed
// compute task is recorded as TASK_TIMEOUT/TASK_FAILED instead of falling
// through to the generic INTERNAL_ERROR classification. Every compute node
// kind calls this on the error TriggerAndPoll returns before propagating it.
func translateTaskError(err error) error {
	var timeoutErr *remotetask.TimeoutError
	if errors.As(err, &timeoutErr) {
		return apierr.New(apierr.CodeTaskTimeout, timeoutErr.Error())
	}
	var failedErr *remotetask.FailedError
	if errors.As(err, &failedErr) {
		return apierr.New(apierr.CodeTaskFailed, failedErr.Error()).WithDetails(map[string]any{
			"taskName":     failedErr.TaskName,
			"remoteRunId":  failedErr.RemoteRunID,
			"remoteStatus": failedErr.RemoteStatus,
		})
	}
	return err
}

// New constructs the appropriate node type for base.Kind. Adding a new kind
// means adding a case here and a file implementing the Node interface.
func New(base BaseFields, deps Deps) (Node, error) {
	switch base.Kind {
	case graph.KindText:
		return NewTextNode(base), nil
	case graph.KindUploadImage, graph.KindUploadVideo:
		return NewUploadNode(base), nil
	case graph.KindLLM:
		return NewLLMNode(base, deps.Tasks), nil
	case graph.KindCropImage:
		return NewCropImageNode(base, deps.Tasks), nil
	case graph.KindExtractFrame:
		return NewExtractFrameNode(base, deps.Tasks), nil
	case graph.KindGenerateImage:
		return NewGenerateImageNode(base, deps.Tasks, deps.Assets), nil
	case graph.KindExportText:
		return NewExportTextNode(base), nil
	case graph.KindExportImage, graph.KindExportVideo:
		return NewExportAssetNode(base, deps.Assets), nil
	default:
		return nil, graph.ErrUnknownKind{Kind: string(base.Kind)}
	}
}
