// Package graph implements the workflow DAG's typed handle registry and the
// pure graph algorithms (cycle detection, layering, scope reduction) used by
// the run orchestrator to schedule node execution.
package graph

import (
	"fmt"
	"sort"
)

// DataType is one of the three media/value kinds a handle can carry.
type DataType string

const (
	DataText  DataType = "text"
	DataImage DataType = "image"
	DataVideo DataType = "video"
)

// NodeKind is the closed set of node types a workflow graph may contain.
type NodeKind string

const (
	KindText          NodeKind = "text"
	KindUploadImage   NodeKind = "upload_image"
	KindUploadVideo   NodeKind = "upload_video"
	KindLLM           NodeKind = "llm"
	KindCropImage     NodeKind = "crop_image"
	KindExtractFrame  NodeKind = "extract_frame"
	KindGenerateImage NodeKind = "generate_image"
	KindExportText    NodeKind = "export_text"
	KindExportImage   NodeKind = "export_image"
	KindExportVideo   NodeKind = "export_video"
)

// KnownKinds lists every node kind the registry recognizes, in a stable order.
var KnownKinds = []NodeKind{
	KindText, KindUploadImage, KindUploadVideo, KindLLM, KindCropImage,
	KindExtractFrame, KindGenerateImage, KindExportText, KindExportImage, KindExportVideo,
}

// HandleSpec describes one named handle (input or output) on a node kind.
type HandleSpec struct {
	Type     DataType
	Required bool
	Multiple bool
}

type handleKey struct {
	Kind   NodeKind
	Handle string
}

// registry is the single source of truth for handle typing. Every edge
// endpoint must resolve here; anything absent is invalid by construction.
var registry = map[handleKey]HandleSpec{
	{KindText, "text"}: {Type: DataText},

	{KindUploadImage, "image"}: {Type: DataImage},
	{KindUploadVideo, "video"}: {Type: DataVideo},

	{KindLLM, "system_prompt"}: {Type: DataText},
	{KindLLM, "user_message"}:  {Type: DataText, Required: true},
	{KindLLM, "images"}:        {Type: DataImage, Multiple: true},
	{KindLLM, "text"}:          {Type: DataText},

	{KindCropImage, "image"}: {Type: DataImage, Required: true},
	{KindCropImage, "cropped"}: {Type: DataImage},

	{KindExtractFrame, "video"}: {Type: DataVideo, Required: true},
	{KindExtractFrame, "frame"}: {Type: DataImage},

	{KindGenerateImage, "prompt"}:      {Type: DataText, Required: true},
	{KindGenerateImage, "reference_a"}: {Type: DataImage},
	{KindGenerateImage, "reference_b"}: {Type: DataImage},
	{KindGenerateImage, "image"}:       {Type: DataImage},

	{KindExportText, "text"}: {Type: DataText, Required: true},

	{KindExportImage, "image"}: {Type: DataImage, Required: true},

	{KindExportVideo, "video"}: {Type: DataVideo, Required: true},
}

// outputHandle names the handle each kind exposes as its primary output.
// Sink kinds (export_*) have no output handle.
var outputHandle = map[NodeKind]string{
	KindText:          "text",
	KindUploadImage:    "image",
	KindUploadVideo:    "video",
	KindLLM:            "text",
	KindCropImage:      "cropped",
	KindExtractFrame:   "frame",
	KindGenerateImage:  "image",
}

// ValidKind reports whether kind is one of the closed set of node kinds.
func ValidKind(kind NodeKind) bool {
	_, ok := outputHandle[kind]
	if ok {
		return true
	}
	switch kind {
	case KindExportText, KindExportImage, KindExportVideo:
		return true
	default:
		return false
	}
}

// TypeOf resolves the data type of a (kind, handle) pair. The second return
// value is false if the pair is not present in the registry.
func TypeOf(kind NodeKind, handle string) (DataType, bool) {
	spec, ok := registry[handleKey{kind, handle}]
	if !ok {
		return "", false
	}
	return spec.Type, true
}

// Spec returns the full handle spec for a (kind, handle) pair.
func Spec(kind NodeKind, handle string) (HandleSpec, bool) {
	spec, ok := registry[handleKey{kind, handle}]
	return spec, ok
}

// OutputHandle returns the primary output handle id for a producer kind.
// Export kinds have no output handle and return ("", false).
func OutputHandle(kind NodeKind) (string, bool) {
	h, ok := outputHandle[kind]
	return h, ok
}

// Compatible reports whether an edge from (srcKind, srcHandle) to
// (dstKind, dstHandle) is legal: both sides must resolve in the registry and
// must carry the same data type. No implicit text<->image coercion.
func Compatible(srcKind NodeKind, srcHandle string, dstKind NodeKind, dstHandle string) bool {
	srcType, ok := TypeOf(srcKind, srcHandle)
	if !ok {
		return false
	}
	dstType, ok := TypeOf(dstKind, dstHandle)
	if !ok {
		return false
	}
	return srcType == dstType
}

// RequiredInputs returns the handle ids that must be filled for a node of
// the given kind to execute, sorted by handle id so the result is
// deterministic.
func RequiredInputs(kind NodeKind) []string {
	var out []string
	for k, spec := range registry {
		if k.Kind == kind && spec.Required {
			out = append(out, k.Handle)
		}
	}
	sort.Strings(out)
	return out
}

// ErrUnknownKind is returned by Node construction when the kind is not in
// the closed set.
type ErrUnknownKind struct{ Kind string }

func (e ErrUnknownKind) Error() string { return fmt.Sprintf("unknown node kind: %s", e.Kind) }
