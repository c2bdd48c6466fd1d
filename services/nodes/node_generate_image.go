package nodes

import (
	"context"
	"strings"

	"github.com/fluxpanel/workflow-engine/pkg/apierr"
	"github.com/fluxpanel/workflow-engine/pkg/remotetask"
	"github.com/fluxpanel/workflow-engine/services/assets"
	"github.com/fluxpanel/workflow-engine/services/graph"
)

// GenerateImageNode dispatches a text-to-image (optionally image-guided)
// generation task, then hands the provider's returned source URL (often a
// temporary or base64 data URL) to the Asset Persister for durability.
type GenerateImageNode struct {
	BaseFields
	tasks  remotetask.Runner
	assetp assets.Persister
}

func NewGenerateImageNode(base BaseFields, tasks remotetask.Runner, assetp assets.Persister) *GenerateImageNode {
	return &GenerateImageNode{BaseFields: base, tasks: tasks, assetp: assetp}
}

func (n *GenerateImageNode) Kind() graph.NodeKind { return graph.KindGenerateImage }

func (n *GenerateImageNode) Execute(ctx context.Context, inputs map[string]any) (*ExecutionResult, error) {
	prompt, _ := inputs["prompt"].(string)
	if strings.TrimSpace(prompt) == "" {
		return nil, apierr.New(apierr.CodeMissingInput, "generate_image node requires a prompt")
	}

	payload := map[string]any{
		"prompt":     prompt,
		"referenceA": inputs["reference_a"],
		"referenceB": inputs["reference_b"],
	}

	result, err := n.tasks.TriggerAndPoll(ctx, "generate-image", payload)
	if err != nil {
		return nil, translateTaskError(err)
	}

	sourceURL, _ := result.Output["imageUrl"].(string)
	if sourceURL == "" {
		sourceURL, _ = result.Output["url"].(string)
	}
	if sourceURL == "" {
		return nil, apierr.New(apierr.CodeInvalidGenerationOutput, "generate_image: provider returned no image url")
	}

	asset, err := n.assetp.PersistDurableAsset(ctx, n.UserID, assets.KindImage, sourceURL, "", "")
	if err != nil {
		return nil, err
	}

	return &ExecutionResult{
		Outputs: map[string]any{
			"imageUrl": asset.URL,
			"url":      asset.URL,
			"provider": asset.Provider,
			"mimeType": asset.MimeType,
		},
		TaskName:    "generate-image",
		RemoteRunID: result.RemoteRunID,
	}, nil
}
