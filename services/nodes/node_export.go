package nodes

import (
	"context"
	"strings"

	"github.com/fluxpanel/workflow-engine/pkg/apierr"
	"github.com/fluxpanel/workflow-engine/services/assets"
	"github.com/fluxpanel/workflow-engine/services/graph"
)

// ExportTextNode is a sink: it requires a text input and passes it through
// unchanged, tagged with its export format.
type ExportTextNode struct {
	BaseFields
}

func NewExportTextNode(base BaseFields) *ExportTextNode {
	return &ExportTextNode{BaseFields: base}
}

func (n *ExportTextNode) Kind() graph.NodeKind { return graph.KindExportText }

func (n *ExportTextNode) Execute(_ context.Context, inputs map[string]any) (*ExecutionResult, error) {
	text, ok := inputs["text"].(string)
	if !ok {
		return nil, apierr.New(apierr.CodeMissingInput, "export_text node requires a text input")
	}
	return &ExecutionResult{Outputs: map[string]any{"text": text, "value": text, "format": "txt"}}, nil
}

// ExportAssetNode is a sink for image or video output: it validates the
// inferred media type against the kind it was declared as, then hands the
// URL to the Asset Persister for durability. Serves both export_image and
// export_video; which one is determined by BaseFields.Kind.
type ExportAssetNode struct {
	BaseFields
	assetp assets.Persister
}

func NewExportAssetNode(base BaseFields, assetp assets.Persister) *ExportAssetNode {
	return &ExportAssetNode{BaseFields: base, assetp: assetp}
}

func (n *ExportAssetNode) Kind() graph.NodeKind { return n.BaseFields.Kind }

func (n *ExportAssetNode) Execute(ctx context.Context, inputs map[string]any) (*ExecutionResult, error) {
	slot := "image"
	kind := assets.KindImage
	if n.BaseFields.Kind == graph.KindExportVideo {
		slot = "video"
		kind = assets.KindVideo
	}

	url, _ := inputs[slot].(string)
	if url == "" {
		return nil, apierr.New(apierr.CodeMissingInput, "export node requires a "+slot+" input")
	}
	if !mediaTypeMatches(url, kind) {
		return nil, apierr.New(apierr.CodeInvalidMediaType, "export node: input does not look like a "+string(kind))
	}

	asset, err := n.assetp.PersistDurableAsset(ctx, n.UserID, kind, url, "", "")
	if err != nil {
		return nil, err
	}

	return &ExecutionResult{Outputs: map[string]any{
		slot:       asset.URL,
		"url":      asset.URL,
		"provider": asset.Provider,
		"mimeType": asset.MimeType,
	}}, nil
}

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".svg"}
var videoExtensions = []string{".mp4", ".mov", ".webm", ".avi", ".mkv"}

// mediaTypeMatches is permissive: it only rejects a URL that clearly
// indicates the opposite media kind (by data-URL MIME prefix or file
// extension). Anything ambiguous (e.g. an extension-less URL) passes
// through; the durable provider is the final arbiter of MIME type.
func mediaTypeMatches(url string, kind assets.Kind) bool {
	lower := strings.ToLower(url)
	switch kind {
	case assets.KindImage:
		if strings.HasPrefix(lower, "data:video") {
			return false
		}
		return !hasAnySuffix(lower, videoExtensions...)
	case assets.KindVideo:
		if strings.HasPrefix(lower, "data:image") {
			return false
		}
		return !hasAnySuffix(lower, imageExtensions...)
	default:
		return true
	}
}

func hasAnySuffix(s string, suffixes ...string) bool {
	for _, suf := range suffixes {
		if strings.HasSuffix(s, suf) {
			return true
		}
	}
	return false
}
