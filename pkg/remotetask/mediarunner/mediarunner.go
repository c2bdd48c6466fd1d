// Package mediarunner backs the image/video compute tasks (crop-image,
// extract-frame, generate-image) with a generic HTTP job submission and
// polling protocol against an external media worker service.
package mediarunner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/fluxpanel/workflow-engine/pkg/handlestore"
	"github.com/fluxpanel/workflow-engine/pkg/remotetask"
)

// Backend submits {task, payload} as a job to baseURL and polls
// {baseURL}/jobs/{id} until the worker reports a terminal status. Once a
// poll observes a terminal status it is cached in store so a retried poll
// (or a process restart mid-poll-loop) does not need to hit the worker
// again for a result it already delivered.
type Backend struct {
	baseURL    string
	httpClient *http.Client
	store      handlestore.Store
}

// New constructs a Backend pointed at a media worker's base URL. store
// caches terminal poll results; pass a handlestore.NewMemoryStore() when no
// Redis address is configured.
func New(baseURL string, httpClient *http.Client, store handlestore.Store) *Backend {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Backend{baseURL: baseURL, httpClient: httpClient, store: store}
}

type submitRequest struct {
	Task    string         `json:"task"`
	Payload map[string]any `json:"payload"`
}

type submitResponse struct {
	JobID string `json:"jobId"`
}

func (b *Backend) Submit(ctx context.Context, taskName string, payload map[string]any) (string, error) {
	body, err := json.Marshal(submitRequest{Task: taskName, Payload: payload})
	if err != nil {
		return "", fmt.Errorf("mediarunner: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/jobs", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("mediarunner: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	slog.Debug("mediarunner: submitting job", "task", taskName)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("mediarunner: submit request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("mediarunner: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("mediarunner: submit returned %d: %s", resp.StatusCode, string(raw))
	}

	var out submitResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("mediarunner: decode response: %w", err)
	}
	return out.JobID, nil
}

type jobStatus struct {
	Status string         `json:"status"`
	Output map[string]any `json:"output"`
	Error  string         `json:"error"`
}

func (b *Backend) Poll(ctx context.Context, _ string, handle string) (remotetask.PollResult, error) {
	if cached, ok, err := b.store.Get(ctx, handle); err == nil && ok {
		return cached, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/jobs/%s", b.baseURL, handle), nil)
	if err != nil {
		return remotetask.PollResult{}, fmt.Errorf("mediarunner: build poll request: %w", err)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return remotetask.PollResult{}, fmt.Errorf("mediarunner: poll request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return remotetask.PollResult{}, fmt.Errorf("mediarunner: read poll response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return remotetask.PollResult{}, fmt.Errorf("mediarunner: poll returned %d: %s", resp.StatusCode, string(raw))
	}

	var js jobStatus
	if err := json.Unmarshal(raw, &js); err != nil {
		return remotetask.PollResult{}, fmt.Errorf("mediarunner: decode poll response: %w", err)
	}

	var result remotetask.PollResult
	switch js.Status {
	case "completed":
		result = remotetask.PollResult{Terminal: true, Success: true, Output: js.Output, Status: js.Status}
	case "failed", "canceled":
		result = remotetask.PollResult{Terminal: true, Success: false, Status: js.Status, ErrorMessage: js.Error}
	default:
		return remotetask.PollResult{Terminal: false, Status: js.Status}, nil
	}

	if setErr := b.store.Set(ctx, handle, result); setErr != nil {
		slog.Warn("mediarunner: failed to cache terminal poll result", "handle", handle, "err", setErr)
	}
	return result, nil
}
