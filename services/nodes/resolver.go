package nodes

import (
	"strconv"
	"strings"

	"github.com/fluxpanel/workflow-engine/services/graph"
)

// GraphNode is the input-resolution view of a workflow node: its identity,
// kind, and its own node-local configuration (the JSON blob the canvas
// persists per node instance, e.g. a text node's literal value or a crop
// node's configured default percentages).
type GraphNode struct {
	ID   string
	Kind graph.NodeKind
	Data map[string]any
}

// ResolveInputs computes the resolved input map for target given the graph's
// edges, the outputs produced by every already-executed node, and the full
// node set (for producer kind/data lookup). It never fails: a missing
// required slot is left absent, and the node executor raises MISSING_INPUT
// when it inspects the result. This keeps the resolver pure.
func ResolveInputs(target GraphNode, edges []graph.Edge, outputsSoFar map[string]map[string]any, nodesByID map[string]GraphNode) map[string]any {
	inputs := map[string]any{}

	for _, e := range edges {
		if e.Target != target.ID {
			continue
		}
		producer, ok := nodesByID[e.Source]
		if !ok {
			continue
		}
		val, ok := primaryOutput(producer.Kind, outputsSoFar[producer.ID], producer.Data)
		if !ok {
			continue
		}
		if e.TargetHandle == "images" {
			list, _ := inputs["images"].([]any)
			inputs["images"] = append(list, val)
		} else {
			inputs[e.TargetHandle] = val
		}
	}

	mergeDefaults(target, inputs)
	coerceNumerics(target.Kind, inputs)
	return inputs
}

// primaryOutput extracts the single value a producer contributes to a
// downstream slot, by kind. outputs is the producer's recorded output map
// (nil if the producer hasn't executed, e.g. in a SELECTED-scope reduction
// that still includes it as an ancestor whose own producer failed). nodeData
// is the producer's own configuration, used as the final fallback for
// passthrough/literal kinds.
func primaryOutput(kind graph.NodeKind, outputs map[string]any, nodeData map[string]any) (any, bool) {
	switch kind {
	case graph.KindText:
		return firstNonEmpty(outputs["text"], outputs["value"], nodeData["value"])
	case graph.KindUploadImage:
		return firstNonEmpty(outputs["imageUrl"], outputs["url"], nodeData["imageUrl"])
	case graph.KindUploadVideo:
		return firstNonEmpty(outputs["videoUrl"], outputs["url"], nodeData["videoUrl"])
	case graph.KindLLM:
		return firstNonEmpty(outputs["text"], outputs["response"], nodeData["response"])
	case graph.KindCropImage:
		return firstNonEmpty(outputs["croppedUrl"], outputs["imageUrl"], nodeData["croppedUrl"])
	case graph.KindExtractFrame:
		return firstNonEmpty(outputs["frameUrl"], outputs["extractedFrameUrl"], nodeData["extractedFrameUrl"])
	case graph.KindGenerateImage:
		return firstNonEmpty(outputs["imageUrl"], outputs["url"], nodeData["imageUrl"])
	case graph.KindExportText, graph.KindExportImage, graph.KindExportVideo:
		if outputs == nil {
			return nil, false
		}
		return outputs, true
	default:
		return nil, false
	}
}

// firstNonEmpty returns the first candidate that is present and not the
// empty string, or (nil, false) if all are absent/empty.
func firstNonEmpty(candidates ...any) (any, bool) {
	for _, c := range candidates {
		if c == nil {
			continue
		}
		if s, ok := c.(string); ok && s == "" {
			continue
		}
		return c, true
	}
	return nil, false
}

// mergeDefaults fills per-kind default slots from the node's own
// configuration for anything the edge-driven resolution left unset.
func mergeDefaults(target GraphNode, inputs map[string]any) {
	setIfAbsent := func(key string, sources ...string) {
		if _, ok := inputs[key]; ok {
			return
		}
		for _, src := range sources {
			if v, ok := target.Data[src]; ok {
				inputs[key] = v
				return
			}
		}
	}

	switch target.Kind {
	case graph.KindText:
		setIfAbsent("text", "value")
	case graph.KindUploadImage:
		setIfAbsent("imageUrl", "imageUrl", "url")
		setIfAbsent("assetId", "assetId")
		setIfAbsent("mimeType", "mimeType")
	case graph.KindUploadVideo:
		setIfAbsent("videoUrl", "videoUrl", "url")
		setIfAbsent("assetId", "assetId")
		setIfAbsent("mimeType", "mimeType")
	case graph.KindLLM:
		setIfAbsent("system_prompt", "systemPrompt")
		setIfAbsent("model", "model")
	case graph.KindCropImage:
		setIfAbsent("image", "imageUrl")
		setIfAbsent("x_percent", "xPercent")
		setIfAbsent("y_percent", "yPercent")
		setIfAbsent("width_percent", "widthPercent")
		setIfAbsent("height_percent", "heightPercent")
	case graph.KindExtractFrame:
		setIfAbsent("video", "videoUrl")
		setIfAbsent("timestamp", "timestamp")
	case graph.KindGenerateImage:
		setIfAbsent("prompt", "prompt")
	case graph.KindExportText:
		setIfAbsent("text", "text")
	case graph.KindExportImage:
		setIfAbsent("image", "imageUrl")
	case graph.KindExportVideo:
		setIfAbsent("video", "videoUrl")
	}
}

// numericDefaults names, per kind, the numeric slots that must be coerced
// (number, or parseable string, else a fallback constant) rather than left
// as whatever type the resolver happened to assemble.
var numericDefaults = map[graph.NodeKind]map[string]float64{
	graph.KindCropImage: {
		"x_percent":      0,
		"y_percent":      0,
		"width_percent":  100,
		"height_percent": 100,
	},
}

func coerceNumerics(kind graph.NodeKind, inputs map[string]any) {
	defaults, ok := numericDefaults[kind]
	if !ok {
		return
	}
	for key, fallback := range defaults {
		inputs[key] = coerceNumber(inputs[key], fallback)
	}
}

// coerceNumber accepts a number or a parseable numeric string; anything else
// (including absence) falls back to the given constant.
func coerceNumber(v any, fallback float64) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return f
		}
	}
	return fallback
}
