package workflow_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5"

	"github.com/fluxpanel/workflow-engine/services/graph"
	"github.com/fluxpanel/workflow-engine/services/nodes"
	"github.com/fluxpanel/workflow-engine/services/storage"
	"github.com/fluxpanel/workflow-engine/services/storage/storagemock"
	"github.com/fluxpanel/workflow-engine/services/workflow"
)

// newTestRouter wires up the service with mux routing so handler tests
// can exercise the full request path including URL parameter extraction
// and the auth/request-ID/JSON middleware chain.
func newTestRouter(svc *workflow.Service) *mux.Router {
	router := mux.NewRouter()
	api := router.PathPrefix("/api/v1").Subrouter()
	svc.LoadRoutes(api)
	return router
}

func TestNewService_NilStore(t *testing.T) {
	_, err := workflow.NewService(nil, nodes.Deps{})
	if err == nil {
		t.Error("expected error for nil store, got nil")
	}
}

func TestHandleExecuteWorkflow(t *testing.T) {
	wfID := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	userID := uuid.New()

	ns := []storage.Node{
		{ID: "t1", Kind: graph.KindText, Data: map[string]any{"value": "hello"}},
		{ID: "x1", Kind: graph.KindExportText},
	}
	es := []storage.Edge{{ID: "e1", Source: "t1", SourceHandle: "text", Target: "x1", TargetHandle: "text"}}
	version := &storage.WorkflowVersion{ID: uuid.New(), WorkflowID: wfID, VersionNumber: 1, DagData: storage.DagData{Nodes: ns, Edges: es}}

	tests := []struct {
		name       string
		body       string
		userHeader string
		store      *storagemock.StorageMock
		wantStatus int
	}{
		{
			name:       "missing auth header returns 401",
			body:       `{"workflow_id":"` + wfID.String() + `","scope":"FULL"}`,
			userHeader: "",
			store:      &storagemock.StorageMock{},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "malformed body returns 400",
			body:       `not json`,
			userHeader: userID.String(),
			store:      &storagemock.StorageMock{},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown scope returns 400",
			body:       `{"workflow_id":"` + wfID.String() + `","scope":"BOGUS"}`,
			userHeader: userID.String(),
			store:      &storagemock.StorageMock{},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown workflow returns 404",
			body:       `{"workflow_id":"` + uuid.New().String() + `","scope":"FULL"}`,
			userHeader: userID.String(),
			store: &storagemock.StorageMock{
				FindWorkflowWithLatestVersionMock: func(ctx context.Context, id, owner uuid.UUID) (*storage.Workflow, *storage.WorkflowVersion, error) {
					return nil, nil, pgx.ErrNoRows
				},
			},
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "valid FULL run returns 200",
			body:       `{"workflow_id":"` + wfID.String() + `","scope":"FULL"}`,
			userHeader: userID.String(),
			store: &storagemock.StorageMock{
				FindWorkflowWithLatestVersionMock: func(ctx context.Context, id, owner uuid.UUID) (*storage.Workflow, *storage.WorkflowVersion, error) {
					return &storage.Workflow{ID: wfID, UserID: owner}, version, nil
				},
				FindRunWithNodeRunsMock: func(ctx context.Context, id uuid.UUID) (*storage.WorkflowRun, error) {
					return &storage.WorkflowRun{ID: id, WorkflowID: wfID, UserID: userID, Status: storage.RunStatusSuccess}, nil
				},
			},
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := workflow.NewService(tt.store, nodes.Deps{})
			if err != nil {
				t.Fatalf("failed to create service: %v", err)
			}

			router := newTestRouter(svc)
			req := httptest.NewRequest(http.MethodPost, "/api/v1/execute", strings.NewReader(tt.body))
			if tt.userHeader != "" {
				req.Header.Set("X-User-ID", tt.userHeader)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d (body: %s)", tt.wantStatus, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestHandleGetRun(t *testing.T) {
	userID := uuid.New()
	runID := uuid.New()
	otherUserRunID := uuid.New()

	store := &storagemock.StorageMock{
		FindRunWithNodeRunsMock: func(ctx context.Context, id uuid.UUID) (*storage.WorkflowRun, error) {
			switch id {
			case runID:
				return &storage.WorkflowRun{ID: runID, UserID: userID, Status: storage.RunStatusSuccess}, nil
			case otherUserRunID:
				return &storage.WorkflowRun{ID: otherUserRunID, UserID: uuid.New(), Status: storage.RunStatusSuccess}, nil
			default:
				return nil, pgx.ErrNoRows
			}
		},
	}

	svc, err := workflow.NewService(store, nodes.Deps{})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	router := newTestRouter(svc)

	tests := []struct {
		name       string
		runID      string
		wantStatus int
	}{
		{"owned run returns 200", runID.String(), http.StatusOK},
		{"unknown run returns 404", uuid.New().String(), http.StatusNotFound},
		{"other user's run returns 404", otherUserRunID.String(), http.StatusNotFound},
		{"invalid id returns 400", "not-a-uuid", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+tt.runID, nil)
			req.Header.Set("X-User-ID", userID.String())
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d (body: %s)", tt.wantStatus, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestHandleListRuns(t *testing.T) {
	userID := uuid.New()
	workflowID := uuid.New()

	store := &storagemock.StorageMock{
		ListRunsByWorkflowMock: func(ctx context.Context, wfID, owner uuid.UUID, limit int, cursor uuid.UUID) ([]storage.WorkflowRun, bool, error) {
			if limit != 2 {
				return nil, false, errors.New("unexpected limit")
			}
			return []storage.WorkflowRun{
				{ID: uuid.New(), WorkflowID: wfID, UserID: owner, RunNumber: 2},
				{ID: uuid.New(), WorkflowID: wfID, UserID: owner, RunNumber: 1},
			}, true, nil
		},
	}

	svc, err := workflow.NewService(store, nodes.Deps{})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs?workflowId="+workflowID.String()+"&limit=2", nil)
	req.Header.Set("X-User-ID", userID.String())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var out struct {
		Runs       []storage.WorkflowRun `json:"runs"`
		Pagination struct {
			NextCursor *uuid.UUID `json:"nextCursor"`
			HasMore    bool       `json:"hasMore"`
		} `json:"pagination"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(out.Runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(out.Runs))
	}
	if !out.Pagination.HasMore || out.Pagination.NextCursor == nil {
		t.Fatalf("expected hasMore=true with a nextCursor, got %+v", out.Pagination)
	}
}
