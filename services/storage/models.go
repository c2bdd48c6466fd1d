package storage

import (
	"time"

	"github.com/google/uuid"

	"github.com/fluxpanel/workflow-engine/services/graph"
)

// Workflow is the mutable container a user edits in the graph editor. Its
// node/edge set changes freely; only a published WorkflowVersion is ever
// executed. RunCounter backs run_number allocation and is only ever touched
// by BootstrapRun's atomic UPDATE ... RETURNING.
type Workflow struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	UserID     uuid.UUID  `json:"userId" db:"user_id"`
	Name       string     `json:"name" db:"name"`
	RunCounter int        `json:"-" db:"run_counter"`
	CreatedAt  time.Time  `json:"createdAt" db:"created_at"`
	ModifiedAt time.Time  `json:"modifiedAt" db:"modified_at"`
	DeletedAt  *time.Time `json:"deletedAt,omitempty" db:"deleted_at"`
}

// Node is the persisted representation of one workflow node: its stable id
// (stable across versions), closed-set kind, and kind-specific default data
// (selectedModel, xPercent, ...). Data is stored as a JSON document since its
// shape varies per kind; the execution core reads named keys out of it via
// services/nodes, never the whole blob.
type Node struct {
	ID       string         `json:"id" db:"node_id"`
	Kind     graph.NodeKind `json:"kind" db:"kind"`
	Data     map[string]any `json:"data" db:"data"`
	Selected bool           `json:"selected,omitempty" db:"selected"`
}

// Edge connects one producer handle to one consumer handle. No two edges in
// the same workflow share both endpoints and both handle ids.
type Edge struct {
	ID           string `json:"id" db:"edge_id"`
	Source       string `json:"sourceNode" db:"source_node"`
	SourceHandle string `json:"sourceHandle" db:"source_handle"`
	Target       string `json:"targetNode" db:"target_node"`
	TargetHandle string `json:"targetHandle" db:"target_handle"`
}

// Viewport is the editor's pan/zoom state. It has no bearing on execution;
// it is carried through snapshots purely so a published version reopens
// exactly as it was saved.
type Viewport struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Zoom float64 `json:"zoom"`
}

// DagData is the JSON shape stored in workflow_versions.dag_data: the frozen
// node/edge/viewport triple for one published version.
type DagData struct {
	Nodes    []Node   `json:"nodes"`
	Edges    []Edge   `json:"edges"`
	Viewport Viewport `json:"viewport"`
}

// WorkflowVersion is an immutable snapshot of a workflow's DAG, created on
// publish. Only the latest version of a workflow is ever executed; earlier
// versions stay addressable for run history but are never re-published or
// mutated.
type WorkflowVersion struct {
	ID            uuid.UUID `json:"id" db:"id"`
	WorkflowID    uuid.UUID `json:"workflowId" db:"workflow_id"`
	VersionNumber int       `json:"versionNumber" db:"version_number"`
	DagData       DagData   `json:"dagData" db:"dag_data"`
	PublishedAt   time.Time `json:"publishedAt" db:"published_at"`
}

// RunScope selects which nodes of a workflow version a run should execute.
type RunScope string

const (
	RunScopeFull     RunScope = "FULL"
	RunScopeSelected RunScope = "SELECTED"
	RunScopeSingle   RunScope = "SINGLE"
)

// RunStatus is a Workflow Run's aggregate outcome.
type RunStatus string

const (
	RunStatusRunning RunStatus = "RUNNING"
	RunStatusSuccess RunStatus = "SUCCESS"
	RunStatusFailed  RunStatus = "FAILED"
	RunStatusPartial RunStatus = "PARTIAL"
)

// WorkflowRun is one execution of a workflow version. RunNumber is a
// monotonically increasing per-workflow counter, incremented atomically with
// the run's creation (BootstrapRun does both in one transaction)
// so it is never reused even under concurrent Execute calls on the same
// workflow.
type WorkflowRun struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	WorkflowID      uuid.UUID  `json:"workflowId" db:"workflow_id"`
	VersionID       uuid.UUID  `json:"versionId" db:"version_id"`
	RunNumber       int        `json:"runNumber" db:"run_number"`
	UserID          uuid.UUID  `json:"userId" db:"user_id"`
	Scope           RunScope   `json:"scope" db:"scope"`
	SelectedNodeIDs []string   `json:"selectedNodeIds,omitempty" db:"selected_node_ids"`
	StartedAt       time.Time  `json:"startedAt" db:"started_at"`
	FinishedAt      *time.Time `json:"finishedAt,omitempty" db:"finished_at"`
	DurationMs      *int64     `json:"durationMs,omitempty" db:"duration_ms"`
	Status          RunStatus  `json:"status" db:"status"`
	ErrorSummary    *string    `json:"errorSummary,omitempty" db:"error_summary"`

	// NodeRuns is populated by FindRunWithNodeRuns, ordered by
	// (started_at, id). BootstrapRun never sets it.
	NodeRuns []NodeRun `json:"nodeRuns,omitempty" db:"-"`
}

// NodeRunStatus is a single node execution's state-machine position. It
// leaves QUEUED only to RUNNING, and leaves RUNNING only to a terminal
// state (SUCCESS or FAILED); terminal states are never mutated again.
type NodeRunStatus string

const (
	NodeRunQueued  NodeRunStatus = "QUEUED"
	NodeRunRunning NodeRunStatus = "RUNNING"
	NodeRunSuccess NodeRunStatus = "SUCCESS"
	NodeRunFailed  NodeRunStatus = "FAILED"
	NodeRunSkipped NodeRunStatus = "SKIPPED"
)

// NodeRun is the durable record of one node's execution within a run.
type NodeRun struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	RunID        uuid.UUID       `json:"runId" db:"run_id"`
	NodeID       string          `json:"nodeId" db:"node_id"`
	NodeKind     graph.NodeKind  `json:"nodeKind" db:"node_kind"`
	Status       NodeRunStatus   `json:"status" db:"status"`
	StartedAt    *time.Time      `json:"startedAt,omitempty" db:"started_at"`
	FinishedAt   *time.Time      `json:"finishedAt,omitempty" db:"finished_at"`
	DurationMs   *int64          `json:"durationMs,omitempty" db:"duration_ms"`
	Inputs       map[string]any  `json:"inputs,omitempty" db:"inputs"`
	Outputs      map[string]any  `json:"outputs,omitempty" db:"outputs"`
	ErrorMessage *string         `json:"errorMessage,omitempty" db:"error_message"`
	ErrorDetails map[string]any  `json:"errorDetails,omitempty" db:"error_details"`
	TaskName     *string         `json:"taskName,omitempty" db:"task_name"`
	RemoteRunID  *string         `json:"remoteRunId,omitempty" db:"remote_run_id"`
}

// NodeRunPatch carries the subset of NodeRun fields UpdateNodeRun may set.
// Zero-value pointer fields are left untouched by the row-level UPDATE.
type NodeRunPatch struct {
	Status       NodeRunStatus
	StartedAt    *time.Time
	FinishedAt   *time.Time
	DurationMs   *int64
	Inputs       map[string]any
	Outputs      map[string]any
	ErrorMessage *string
	ErrorDetails map[string]any
	TaskName     *string
	RemoteRunID  *string
}

// RunPatch carries the subset of WorkflowRun fields UpdateRun may set.
type RunPatch struct {
	Status       RunStatus
	FinishedAt   *time.Time
	DurationMs   *int64
	ErrorSummary *string
}

// AssetKind is the media type of a durable asset.
type AssetKind string

const (
	AssetKindImage AssetKind = "IMAGE"
	AssetKindVideo AssetKind = "VIDEO"
)

// Asset is a durable, provider-hosted media object. It is created on first
// ingestion of a given (provider,url) pair and never mutated thereafter;
// repeat ingestion of the same pair returns the existing record.
type Asset struct {
	ID         uuid.UUID `json:"id" db:"id"`
	UserID     uuid.UUID `json:"userId" db:"user_id"`
	Kind       AssetKind `json:"kind" db:"kind"`
	URL        string    `json:"url" db:"url"`
	Provider   string    `json:"provider" db:"provider"`
	AssemblyID *string   `json:"assemblyId,omitempty" db:"assembly_id"`
	MimeType   *string   `json:"mimeType,omitempty" db:"mime_type"`
	Bytes      *int64    `json:"bytes,omitempty" db:"bytes"`
	Width      *int      `json:"width,omitempty" db:"width"`
	Height     *int      `json:"height,omitempty" db:"height"`
	DurationMs *int64    `json:"durationMs,omitempty" db:"duration_ms"`
}
