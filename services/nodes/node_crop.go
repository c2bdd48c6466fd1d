package nodes

import (
	"context"

	"github.com/fluxpanel/workflow-engine/pkg/apierr"
	"github.com/fluxpanel/workflow-engine/pkg/remotetask"
	"github.com/fluxpanel/workflow-engine/services/graph"
)

// CropImageNode dispatches a rectangular crop, with percentage bounds
// defaulted and numerically coerced by the resolver.
type CropImageNode struct {
	BaseFields
	tasks remotetask.Runner
}

func NewCropImageNode(base BaseFields, tasks remotetask.Runner) *CropImageNode {
	return &CropImageNode{BaseFields: base, tasks: tasks}
}

func (n *CropImageNode) Kind() graph.NodeKind { return graph.KindCropImage }

func (n *CropImageNode) Execute(ctx context.Context, inputs map[string]any) (*ExecutionResult, error) {
	imageURL, _ := inputs["image"].(string)
	if imageURL == "" {
		return nil, apierr.New(apierr.CodeMissingInput, "crop_image node requires an image input")
	}

	payload := map[string]any{
		"imageUrl":      imageURL,
		"xPercent":      inputs["x_percent"],
		"yPercent":      inputs["y_percent"],
		"widthPercent":  inputs["width_percent"],
		"heightPercent": inputs["height_percent"],
	}

	result, err := n.tasks.TriggerAndPoll(ctx, "crop-image", payload)
	if err != nil {
		return nil, translateTaskError(err)
	}

	croppedURL, _ := result.Output["croppedUrl"].(string)
	if croppedURL == "" {
		croppedURL, _ = result.Output["imageUrl"].(string)
	}

	return &ExecutionResult{
		Outputs:     map[string]any{"croppedUrl": croppedURL, "imageUrl": croppedURL},
		TaskName:    "crop-image",
		RemoteRunID: result.RemoteRunID,
	}, nil
}
