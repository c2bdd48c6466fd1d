package workflow

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5"

	"github.com/fluxpanel/workflow-engine/pkg/apierr"
	"github.com/fluxpanel/workflow-engine/services/assets"
	"github.com/fluxpanel/workflow-engine/services/storage"
)

// maxRequestBody limits the size of the execute request body to prevent abuse.
const maxRequestBody = 1 << 20 // 1MB

// defaultRunsPageSize and maxRunsPageSize bound the History query's limit
// parameter: unset defaults to 20, anything above 100 is clamped.
const (
	defaultRunsPageSize = 20
	maxRunsPageSize     = 100
)

// writeAPIError writes the typed envelope every handler in this package
// shares: {code, message, details}. It centralizes status-code derivation so
// no handler has to repeat apierr.HTTPStatus(code) at each call site.
func writeAPIError(w http.ResponseWriter, err *apierr.Error) {
	w.WriteHeader(err.Status())
	json.NewEncoder(w).Encode(map[string]any{
		"code":    string(err.Code),
		"message": err.Message,
		"details": err.Details,
	})
}

func apiUnauthorized() *apierr.Error {
	return apierr.New(apierr.CodeUnauthorized, "missing or invalid X-User-ID header")
}

func apiInternal() *apierr.Error {
	return apierr.New(apierr.CodeInternal, "internal server error")
}

// writeJSON marshals v and writes it with the given status. v is marshalled
// before any header is written, so a marshal failure is logged and answered
// with the internal-error envelope instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to marshal response", "error", err)
		writeAPIError(w, apiInternal())
		return
	}
	w.WriteHeader(status)
	w.Write(payload)
}

// executeRequestBody is the Execute API's request shape.
type executeRequestBody struct {
	WorkflowID      string   `json:"workflow_id"`
	Scope           string   `json:"scope"`
	SelectedNodeIDs []string `json:"selected_node_ids"`
}

// HandleExecuteWorkflow validates the request, runs the scoped subgraph
// level by level, and returns the finalized run. Pre-flight failures (bad
// scope, unknown workflow, a cycle) are returned as typed errors; per-node
// failures are never surfaced here — they are baked into the returned run's
// node runs, and the run itself is still a 200.
func (s *Service) HandleExecuteWorkflow(w http.ResponseWriter, r *http.Request) {
	rid := reqID(r)
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	var body executeRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		slog.Warn("failed to decode execute request body", "requestId", rid, "error", err)
		writeAPIError(w, apierr.New(apierr.CodeValidationError, "invalid request body"))
		return
	}

	workflowID, err := uuid.Parse(body.WorkflowID)
	if err != nil {
		writeAPIError(w, apierr.New(apierr.CodeValidationError, "invalid workflow_id"))
		return
	}

	scope := storage.RunScope(body.Scope)
	switch scope {
	case storage.RunScopeFull, storage.RunScopeSelected, storage.RunScopeSingle:
	default:
		writeAPIError(w, apierr.Newf(apierr.CodeValidationError, "unknown scope %q", body.Scope))
		return
	}

	req := ExecuteRequest{
		WorkflowID:      workflowID,
		UserID:          callerID(r),
		Scope:           scope,
		SelectedNodeIDs: body.SelectedNodeIDs,
	}

	run, err := s.Execute(r.Context(), req)
	if err != nil {
		if ae, ok := apierr.As(err); ok {
			slog.Warn("execute rejected", "requestId", rid, "workflowId", workflowID, "code", ae.Code, "error", ae.Message)
			writeAPIError(w, ae)
			return
		}
		slog.Error("execute failed", "requestId", rid, "workflowId", workflowID, "error", err)
		writeAPIError(w, apiInternal())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"runId":      run.ID,
		"runNumber":  run.RunNumber,
		"status":     run.Status,
		"durationMs": run.DurationMs,
		"run":        run,
	})
}

// HandleListRuns serves the History query by workflowId: a caller-scoped,
// keyset-paginated list of runs ordered most-recent-first.
func (s *Service) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	rid := reqID(r)
	q := r.URL.Query()

	workflowID, err := uuid.Parse(q.Get("workflowId"))
	if err != nil {
		writeAPIError(w, apierr.New(apierr.CodeValidationError, "invalid workflowId"))
		return
	}

	limit := defaultRunsPageSize
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeAPIError(w, apierr.New(apierr.CodeValidationError, "invalid limit"))
			return
		}
		limit = n
	}
	if limit > maxRunsPageSize {
		limit = maxRunsPageSize
	}

	cursor := uuid.Nil
	if raw := q.Get("cursor"); raw != "" {
		cursor, err = uuid.Parse(raw)
		if err != nil {
			writeAPIError(w, apierr.New(apierr.CodeValidationError, "invalid cursor"))
			return
		}
	}

	runs, hasMore, err := s.storage.ListRunsByWorkflow(r.Context(), workflowID, callerID(r), limit, cursor)
	if err != nil {
		slog.Error("list runs failed", "requestId", rid, "workflowId", workflowID, "error", err)
		writeAPIError(w, apiInternal())
		return
	}

	var nextCursor *uuid.UUID
	if hasMore && len(runs) > 0 {
		last := runs[len(runs)-1].ID
		nextCursor = &last
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"runs": runs,
		"pagination": map[string]any{
			"nextCursor": nextCursor,
			"hasMore":    hasMore,
		},
	})
}

// HandleGetRun serves the History query by runId: a single run with its
// ordered node runs.
func (s *Service) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	rid := reqID(r)
	runID, err := uuid.Parse(mux.Vars(r)["runId"])
	if err != nil {
		writeAPIError(w, apierr.New(apierr.CodeValidationError, "invalid runId"))
		return
	}

	run, err := s.storage.FindRunWithNodeRuns(r.Context(), runID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeAPIError(w, apierr.New(apierr.CodeNotFound, "run not found"))
			return
		}
		slog.Error("get run failed", "requestId", rid, "runId", runID, "error", err)
		writeAPIError(w, apiInternal())
		return
	}
	if run.UserID != callerID(r) {
		writeAPIError(w, apierr.New(apierr.CodeNotFound, "run not found"))
		return
	}

	writeJSON(w, http.StatusOK, run)
}

// HandleResolveAssembly implements the assembly resolve endpoint: it
// fetches the assembly payload, classifies its status, and resolves the
// first output of the requested kind into a durable asset.
func (s *Service) HandleResolveAssembly(w http.ResponseWriter, r *http.Request) {
	rid := reqID(r)
	q := r.URL.Query()

	assemblyID := q.Get("assemblyId")
	if assemblyID == "" {
		writeAPIError(w, apierr.New(apierr.CodeValidationError, "assemblyId is required"))
		return
	}

	var kind assets.Kind
	switch q.Get("type") {
	case "image":
		kind = assets.KindImage
	case "video":
		kind = assets.KindVideo
	default:
		writeAPIError(w, apierr.New(apierr.CodeValidationError, "type must be image or video"))
		return
	}

	raw, err := assets.FetchAssemblyWithRetry(r.Context(), nil, assemblyID)
	if err != nil {
		slog.Error("assembly fetch failed", "requestId", rid, "assemblyId", assemblyID, "error", err)
		writeAPIError(w, apierr.New(apierr.CodeAssemblyUnknown, "failed to fetch assembly status"))
		return
	}

	var payload struct {
		Ok      string `json:"ok"`
		Error   string `json:"error"`
		Results map[string][]struct {
			URL      string `json:"url"`
			MimeType string `json:"mime"`
			Temp     bool   `json:"temp"`
		} `json:"results"`
		Uploads []struct {
			URL      string `json:"url"`
			MimeType string `json:"mime"`
			Temp     bool   `json:"temp"`
		} `json:"uploads"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		writeAPIError(w, apierr.New(apierr.CodeAssemblyUnknown, "malformed assembly payload"))
		return
	}

	httpStatus, code, retryAfterMs := assets.ClassifyAssemblyStatus(payload.Ok, payload.Error != "")
	if code == apierr.CodeAssemblyInProgress {
		writeJSON(w, httpStatus, map[string]any{"retryAfterMs": retryAfterMs})
		return
	}
	if code != "" {
		writeAPIError(w, apierr.New(code, payload.Error))
		return
	}

	assembly := assets.Assembly{Status: payload.Ok, Error: payload.Error, Results: map[string][]assets.AssemblyFile{}}
	for step, files := range payload.Results {
		for _, f := range files {
			assembly.Results[step] = append(assembly.Results[step], assets.AssemblyFile{
				StepName: step, URL: f.URL, MimeType: f.MimeType, IsTemp: f.Temp,
			})
		}
	}
	for _, f := range payload.Uploads {
		assembly.Uploads = append(assembly.Uploads, assets.AssemblyFile{URL: f.URL, MimeType: f.MimeType, IsTemp: f.Temp})
	}

	resolved := assets.ResolveAssemblyOutput(assembly, kind, false)
	if resolved.Output == nil {
		if resolved.HasWrongType {
			wrongTypeCode := apierr.CodeVideoResultNotVideo
			if kind == assets.KindImage {
				wrongTypeCode = apierr.CodeImageResultNotImage
			}
			writeAPIError(w, apierr.New(wrongTypeCode, "assembly output does not match requested type"))
			return
		}
		writeAPIError(w, apierr.New(apierr.CodeAssemblyUnknown, "assembly has no usable output"))
		return
	}

	durable, err := s.deps.Assets.PersistDurableAsset(r.Context(), callerID(r).String(), kind, resolved.Output.URL, assemblyID, resolved.Output.MimeType)
	if err != nil {
		if ae, ok := apierr.As(err); ok {
			writeAPIError(w, ae)
			return
		}
		slog.Error("persist durable asset failed", "requestId", rid, "assemblyId", assemblyID, "error", err)
		writeAPIError(w, apiInternal())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"assemblyId": assemblyID,
		"url":        durable.URL,
		"mimeType":   durable.MimeType,
		"outputType": q.Get("type"),
		"isTempUrl":  false,
		"provider":   durable.Provider,
		"assetId":    durable.ID,
		"publicId":   durable.ID,
	})
}
