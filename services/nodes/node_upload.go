package nodes

import (
	"context"

	"github.com/fluxpanel/workflow-engine/pkg/apierr"
	"github.com/fluxpanel/workflow-engine/services/graph"
)

// UploadNode is a passthrough source node for an asset the user uploaded
// before the run started. Serves both upload_image and upload_video; which
// one is determined by BaseFields.Kind.
type UploadNode struct {
	BaseFields
}

func NewUploadNode(base BaseFields) *UploadNode {
	return &UploadNode{BaseFields: base}
}

func (n *UploadNode) Kind() graph.NodeKind { return n.BaseFields.Kind }

func (n *UploadNode) Execute(_ context.Context, inputs map[string]any) (*ExecutionResult, error) {
	urlKey := "imageUrl"
	if n.BaseFields.Kind == graph.KindUploadVideo {
		urlKey = "videoUrl"
	}

	assetURL, _ := inputs[urlKey].(string)
	if assetURL == "" {
		return nil, apierr.New(apierr.CodeMissingAsset, "upload node is missing "+urlKey)
	}

	outputs := map[string]any{urlKey: assetURL, "url": assetURL}
	for _, key := range []string{"assetId", "mimeType", "width", "height", "duration"} {
		if v, ok := inputs[key]; ok {
			outputs[key] = v
		}
	}
	return &ExecutionResult{Outputs: outputs}, nil
}
