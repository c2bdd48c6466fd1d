package nodes

import (
	"context"

	"github.com/fluxpanel/workflow-engine/pkg/apierr"
	"github.com/fluxpanel/workflow-engine/pkg/remotetask"
	"github.com/fluxpanel/workflow-engine/services/graph"
)

// ExtractFrameNode dispatches a single-frame extraction. timestamp is
// forwarded as-is: the remote worker accepts seconds, HH:MM:SS, MM:SS, or a
// trailing "%" as a percentage of total duration.
type ExtractFrameNode struct {
	BaseFields
	tasks remotetask.Runner
}

func NewExtractFrameNode(base BaseFields, tasks remotetask.Runner) *ExtractFrameNode {
	return &ExtractFrameNode{BaseFields: base, tasks: tasks}
}

func (n *ExtractFrameNode) Kind() graph.NodeKind { return graph.KindExtractFrame }

func (n *ExtractFrameNode) Execute(ctx context.Context, inputs map[string]any) (*ExecutionResult, error) {
	videoURL, _ := inputs["video"].(string)
	if videoURL == "" {
		return nil, apierr.New(apierr.CodeMissingInput, "extract_frame node requires a video input")
	}

	payload := map[string]any{
		"videoUrl":  videoURL,
		"timestamp": inputs["timestamp"],
	}

	result, err := n.tasks.TriggerAndPoll(ctx, "extract-frame", payload)
	if err != nil {
		return nil, translateTaskError(err)
	}

	frameURL, _ := result.Output["frameUrl"].(string)
	if frameURL == "" {
		frameURL, _ = result.Output["extractedFrameUrl"].(string)
	}
	if frameURL == "" {
		frameURL, _ = result.Output["imageUrl"].(string)
	}

	return &ExecutionResult{
		Outputs:     map[string]any{"frameUrl": frameURL, "extractedFrameUrl": frameURL, "imageUrl": frameURL},
		TaskName:    "extract-frame",
		RemoteRunID: result.RemoteRunID,
	}, nil
}
