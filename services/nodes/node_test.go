package nodes_test

import (
	"context"
	"testing"

	"github.com/fluxpanel/workflow-engine/pkg/apierr"
	"github.com/fluxpanel/workflow-engine/pkg/remotetask"
	"github.com/fluxpanel/workflow-engine/services/assets"
	"github.com/fluxpanel/workflow-engine/services/graph"
	"github.com/fluxpanel/workflow-engine/services/nodes"
)

// stubRunner is a fixed-response remotetask.Runner for node unit tests.
type stubRunner struct {
	result remotetask.Result
	err    error
}

func (s *stubRunner) TriggerAndPoll(_ context.Context, _ string, _ map[string]any) (remotetask.Result, error) {
	return s.result, s.err
}

// stubPersister is a fixed-response assets.Persister for node unit tests.
type stubPersister struct {
	asset *assets.DurableAsset
	err   error
}

func (s *stubPersister) PersistDurableAsset(_ context.Context, _ string, _ assets.Kind, sourceURL, _, _ string) (*assets.DurableAsset, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.asset != nil {
		return s.asset, nil
	}
	return &assets.DurableAsset{Provider: "stub", URL: sourceURL}, nil
}

func TestTextNode_Execute(t *testing.T) {
	t.Parallel()
	n := nodes.NewTextNode(nodes.BaseFields{ID: "t1", Kind: graph.KindText})
	res, err := n.Execute(context.Background(), map[string]any{"text": "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outputs["text"] != "hi" || res.Outputs["value"] != "hi" {
		t.Errorf("got %#v", res.Outputs)
	}
}

func TestUploadNode_MissingAsset(t *testing.T) {
	t.Parallel()
	n := nodes.NewUploadNode(nodes.BaseFields{ID: "u1", Kind: graph.KindUploadImage})
	_, err := n.Execute(context.Background(), map[string]any{})
	assertCode(t, err, apierr.CodeMissingAsset)
}

func TestUploadNode_Passthrough(t *testing.T) {
	t.Parallel()
	n := nodes.NewUploadNode(nodes.BaseFields{ID: "u1", Kind: graph.KindUploadVideo})
	res, err := n.Execute(context.Background(), map[string]any{"videoUrl": "https://x/a.mp4", "duration": 12.0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outputs["videoUrl"] != "https://x/a.mp4" || res.Outputs["duration"] != 12.0 {
		t.Errorf("got %#v", res.Outputs)
	}
}

func TestLLMNode_MissingUserMessage(t *testing.T) {
	t.Parallel()
	n := nodes.NewLLMNode(nodes.BaseFields{ID: "l1", Kind: graph.KindLLM}, &stubRunner{})
	_, err := n.Execute(context.Background(), map[string]any{})
	assertCode(t, err, apierr.CodeMissingInput)
}

func TestLLMNode_Success(t *testing.T) {
	t.Parallel()
	runner := &stubRunner{result: remotetask.Result{
		RemoteRunID: "run-1",
		Output:      map[string]any{"text": "answer", "model": "gpt-4o"},
	}}
	n := nodes.NewLLMNode(nodes.BaseFields{ID: "l1", Kind: graph.KindLLM}, runner)
	res, err := n.Execute(context.Background(), map[string]any{"user_message": "hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outputs["text"] != "answer" || res.Outputs["response"] != "answer" {
		t.Errorf("got %#v", res.Outputs)
	}
	if res.RemoteRunID != "run-1" {
		t.Errorf("remote run id: got %q", res.RemoteRunID)
	}
}

func TestLLMNode_TaskFailureTranslatesToTaskFailed(t *testing.T) {
	t.Parallel()
	wantErr := &remotetask.FailedError{TaskName: "llm-execute", RemoteStatus: "ERRORED"}
	n := nodes.NewLLMNode(nodes.BaseFields{ID: "l1", Kind: graph.KindLLM}, &stubRunner{err: wantErr})
	_, err := n.Execute(context.Background(), map[string]any{"user_message": "hello"})
	assertCode(t, err, apierr.CodeTaskFailed)
}

func TestLLMNode_TaskTimeoutTranslatesToTaskTimeout(t *testing.T) {
	t.Parallel()
	wantErr := &remotetask.TimeoutError{TaskName: "llm-execute"}
	n := nodes.NewLLMNode(nodes.BaseFields{ID: "l1", Kind: graph.KindLLM}, &stubRunner{err: wantErr})
	_, err := n.Execute(context.Background(), map[string]any{"user_message": "hello"})
	assertCode(t, err, apierr.CodeTaskTimeout)
}

func TestCropImageNode_MissingInput(t *testing.T) {
	t.Parallel()
	n := nodes.NewCropImageNode(nodes.BaseFields{ID: "c1", Kind: graph.KindCropImage}, &stubRunner{})
	_, err := n.Execute(context.Background(), map[string]any{})
	assertCode(t, err, apierr.CodeMissingInput)
}

func TestCropImageNode_Success(t *testing.T) {
	t.Parallel()
	runner := &stubRunner{result: remotetask.Result{
		RemoteRunID: "run-2",
		Output:      map[string]any{"croppedUrl": "https://x/cropped.png"},
	}}
	n := nodes.NewCropImageNode(nodes.BaseFields{ID: "c1", Kind: graph.KindCropImage}, runner)
	res, err := n.Execute(context.Background(), map[string]any{"image": "https://x/a.png", "x_percent": 0.0, "y_percent": 0.0, "width_percent": 100.0, "height_percent": 100.0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outputs["croppedUrl"] != "https://x/cropped.png" || res.Outputs["imageUrl"] != "https://x/cropped.png" {
		t.Errorf("got %#v", res.Outputs)
	}
}

func TestGenerateImageNode_PersistsDurableAsset(t *testing.T) {
	t.Parallel()
	runner := &stubRunner{result: remotetask.Result{
		Output: map[string]any{"imageUrl": "data:image/png;base64,AAA"},
	}}
	persister := &stubPersister{asset: &assets.DurableAsset{Provider: "cloudinary", URL: "https://cdn/x.png", MimeType: "image/png"}}
	n := nodes.NewGenerateImageNode(nodes.BaseFields{ID: "g1", Kind: graph.KindGenerateImage}, runner, persister)

	res, err := n.Execute(context.Background(), map[string]any{"prompt": "a cat"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outputs["imageUrl"] != "https://cdn/x.png" {
		t.Errorf("expected durable url, got %v", res.Outputs["imageUrl"])
	}
}

func TestGenerateImageNode_InvalidGenerationOutput(t *testing.T) {
	t.Parallel()
	runner := &stubRunner{result: remotetask.Result{Output: map[string]any{}}}
	n := nodes.NewGenerateImageNode(nodes.BaseFields{ID: "g1", Kind: graph.KindGenerateImage}, runner, &stubPersister{})
	_, err := n.Execute(context.Background(), map[string]any{"prompt": "a cat"})
	assertCode(t, err, apierr.CodeInvalidGenerationOutput)
}

func TestExportTextNode_MissingInput(t *testing.T) {
	t.Parallel()
	n := nodes.NewExportTextNode(nodes.BaseFields{ID: "e1", Kind: graph.KindExportText})
	_, err := n.Execute(context.Background(), map[string]any{})
	assertCode(t, err, apierr.CodeMissingInput)
}

func TestExportAssetNode_WrongMediaType(t *testing.T) {
	t.Parallel()
	n := nodes.NewExportAssetNode(nodes.BaseFields{ID: "e1", Kind: graph.KindExportImage}, &stubPersister{})
	_, err := n.Execute(context.Background(), map[string]any{"image": "https://x/clip.mp4"})
	assertCode(t, err, apierr.CodeInvalidMediaType)
}

func TestExportAssetNode_Success(t *testing.T) {
	t.Parallel()
	persister := &stubPersister{asset: &assets.DurableAsset{Provider: "cloudinary", URL: "https://cdn/final.jpg", MimeType: "image/jpeg"}}
	n := nodes.NewExportAssetNode(nodes.BaseFields{ID: "e1", Kind: graph.KindExportImage}, persister)
	res, err := n.Execute(context.Background(), map[string]any{"image": "https://x/a.png"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outputs["image"] != "https://cdn/final.jpg" {
		t.Errorf("got %#v", res.Outputs)
	}
}

func assertCode(t *testing.T, err error, want apierr.Code) {
	t.Helper()
	ae, ok := apierr.As(err)
	if !ok {
		t.Fatalf("expected *apierr.Error, got %T (%v)", err, err)
	}
	if ae.Code != want {
		t.Errorf("code: got %q, want %q", ae.Code, want)
	}
}
