// Package localrunner is the deterministic fallback backend used when no
// remote task runner is configured for a task name. It never calls out over
// the network: it simulates a terminal success so the pipeline stays
// testable end to end without external services.
package localrunner

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/fluxpanel/workflow-engine/pkg/remotetask"
)

// Backend simulates every known compute task locally: a text prefix for
// llm-execute, and an inline SVG placeholder data URL for the image/video
// transforms. Submit only derives a deterministic handle; Poll computes the
// simulated output and reports a terminal result on the first call:
// COMPLETED for a known task name, FAILED for an unknown one.
type Backend struct{}

// New constructs a local fallback backend.
func New() *Backend { return &Backend{} }

func (b *Backend) Submit(_ context.Context, taskName string, payload map[string]any) (string, error) {
	handle := fakeRunID(taskName, payload)
	slog.Debug("localrunner: simulating task", "task", taskName, "handle", handle)
	return handle, nil
}

func (b *Backend) Poll(_ context.Context, taskName, handle string) (remotetask.PollResult, error) {
	output, err := simulate(taskName)
	if err != nil {
		return remotetask.PollResult{Terminal: true, Success: false, Status: "FAILED", ErrorMessage: err.Error()}, nil
	}
	return remotetask.PollResult{Terminal: true, Success: true, Output: output, Status: "COMPLETED"}, nil
}

func simulate(taskName string) (map[string]any, error) {
	switch taskName {
	case "llm-execute":
		text := "[simulated response]"
		return map[string]any{"text": text, "response": text, "model": "local-stub"}, nil
	case "crop-image":
		url := placeholderSVG("crop")
		return map[string]any{"croppedUrl": url, "imageUrl": url}, nil
	case "extract-frame":
		url := placeholderSVG("frame")
		return map[string]any{"frameUrl": url, "extractedFrameUrl": url, "imageUrl": url}, nil
	case "generate-image":
		url := placeholderSVG("generated")
		return map[string]any{"imageUrl": url, "url": url}, nil
	default:
		return nil, fmt.Errorf("localrunner: unknown task %q", taskName)
	}
}

func placeholderSVG(label string) string {
	svg := fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" width="256" height="256"><rect width="100%%" height="100%%" fill="#ddd"/><text x="50%%" y="50%%" text-anchor="middle">%s</text></svg>`, label)
	return "data:image/svg+xml;utf8," + svg
}

func fakeRunID(taskName string, payload map[string]any) string {
	h := sha1.New()
	fmt.Fprintf(h, "%s:%v", taskName, payload)
	return "local-" + hex.EncodeToString(h.Sum(nil))[:12]
}
