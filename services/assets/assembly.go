package assets

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fluxpanel/workflow-engine/pkg/apierr"
)

// AssemblyFile is one file entry reported by a Transloadit-style assembly,
// either from a `results` step group or the raw `uploads` list.
type AssemblyFile struct {
	StepName string
	URL      string
	MimeType string
	IsTemp   bool
}

// Assembly is the subset of an assembly status payload the resolver needs.
type Assembly struct {
	Status  string
	Error   string
	Results map[string][]AssemblyFile
	Uploads []AssemblyFile
}

// ResolveResult is what ResolveAssemblyOutput returns.
type ResolveResult struct {
	Output       *AssemblyFile
	HasWrongType bool
}

// ResolveAssemblyOutput flattens results groups (in map iteration is not
// order-stable in Go, so callers that care about step ordering should pass
// Results pre-flattened via a slice; this implementation flattens by
// iterating Results then Uploads) and returns the first file matching
// expectedKind. If a file of the opposite kind is seen before any match,
// HasWrongType is set so the caller can return a specific 422.
func ResolveAssemblyOutput(assembly Assembly, expectedKind Kind, allowTemp bool) ResolveResult {
	var candidates []AssemblyFile
	for _, files := range assembly.Results {
		candidates = append(candidates, files...)
	}
	candidates = append(candidates, assembly.Uploads...)

	wrongType := false
	for _, f := range candidates {
		kind, ok := classify(f)
		if !ok {
			continue
		}
		if kind == expectedKind {
			if !allowTemp && f.IsTemp {
				continue
			}
			out := f
			return ResolveResult{Output: &out, HasWrongType: wrongType}
		}
		wrongType = true
	}
	return ResolveResult{HasWrongType: wrongType}
}

func classify(f AssemblyFile) (Kind, bool) {
	mime := strings.ToLower(f.MimeType)
	switch {
	case strings.HasPrefix(mime, "image/"):
		return KindImage, true
	case strings.HasPrefix(mime, "video/"):
		return KindVideo, true
	}

	url := strings.ToLower(f.URL)
	switch {
	case hasAnySuffix(url, ".jpg", ".jpeg", ".png", ".gif", ".webp", ".svg"):
		return KindImage, true
	case hasAnySuffix(url, ".mp4", ".mov", ".webm", ".avi", ".mkv"):
		return KindVideo, true
	}
	return "", false
}

func hasAnySuffix(s string, suffixes ...string) bool {
	for _, suf := range suffixes {
		if strings.HasSuffix(s, suf) {
			return true
		}
	}
	return false
}

var inProgressStates = map[string]bool{
	"ASSEMBLY_UPLOADING": true,
	"ASSEMBLY_EXECUTING": true,
	"ASSEMBLY_IMPORTING": true,
	"ASSEMBLY_WAITING":   true,
}

var terminalFailureStates = map[string]bool{
	"REQUEST_ABORTED":                true,
	"ASSEMBLY_CANCELED":              true,
	"ASSEMBLY_EXECUTION_REJECTED":    true,
	"ASSEMBLY_ABORTED":               true,
}

// ClassifyAssemblyStatus maps a raw assembly status (plus whether the
// payload carries a non-empty error field) onto the resolver endpoint's HTTP
// response shape: status code, error code (empty on success), and a
// retry-after hint for in-progress assemblies.
func ClassifyAssemblyStatus(status string, hasError bool) (httpStatus int, code apierr.Code, retryAfterMs int) {
	switch {
	case status == "ASSEMBLY_COMPLETED":
		return http.StatusOK, "", 0
	case inProgressStates[status]:
		return http.StatusAccepted, apierr.CodeAssemblyInProgress, 1500
	case terminalFailureStates[status] || hasError:
		return http.StatusConflict, apierr.CodeAssemblyTerminalFailure, 0
	default:
		return http.StatusBadGateway, apierr.CodeAssemblyUnknown, 0
	}
}

// retryableStatuses are the HTTP statuses the assembly-fetch retry helper
// treats as transient.
var retryableStatuses = map[int]bool{
	http.StatusRequestTimeout:      true,
	425:                            true, // Too Early
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// linearBackOff implements backoff.BackOff with a 300ms * attempt schedule,
// capped at maxRetries additional attempts after the first.
type linearBackOff struct {
	attempt     int
	base        time.Duration
	maxRetries  int
}

func (l *linearBackOff) NextBackOff() time.Duration {
	l.attempt++
	if l.attempt > l.maxRetries {
		return backoff.Stop
	}
	return time.Duration(l.attempt) * l.base
}

func (l *linearBackOff) Reset() { l.attempt = 0 }

// FetchAssemblyWithRetry GETs url, retrying up to 3 total attempts with a
// 300ms * attempt backoff on retryable HTTP statuses or transport errors.
// Other HTTP error statuses surface immediately without retry.
func FetchAssemblyWithRetry(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	if client == nil {
		client = http.DefaultClient
	}

	var body []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("assembly fetch: build request: %w", err))
		}

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("assembly fetch: transport error: %w", err)
		}
		defer resp.Body.Close()

		raw, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("assembly fetch: read body: %w", readErr)
		}

		if retryableStatuses[resp.StatusCode] {
			return fmt.Errorf("assembly fetch: retryable status %d", resp.StatusCode)
		}
		if resp.StatusCode >= 300 {
			return backoff.Permanent(fmt.Errorf("assembly fetch: status %d: %s", resp.StatusCode, string(raw)))
		}

		body = raw
		return nil
	}

	bo := &linearBackOff{base: 300 * time.Millisecond, maxRetries: 2}
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return body, nil
}
