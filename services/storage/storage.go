package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fluxpanel/workflow-engine/services/graph"
)

// DB abstracts the database operations used by the storage layer.
// Satisfied by *pgxpool.Pool in production and pgxmock in tests.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// querier is satisfied by both pgx.Tx and pgxpool.Pool, allowing hydration
// helpers to work inside or outside a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// pgStorage implements Storage using PostgreSQL.
type pgStorage struct {
	DB DB
}

// Storage is the repository the run orchestrator consumes. It is
// deliberately narrow: the orchestrator never issues raw SQL and never sees
// a transaction handle, only these operations. BootstrapRun is the one
// place the spec's increment_run_counter/create_run/create_node_run trio is
// combined, because the orchestrator requires all three in a single atomic
// unit of work (counter bump + run row + every node row, or none of them);
// every other write is an independent row update issued outside any
// transaction, per the concurrency model.
type Storage interface {
	// FindWorkflowWithLatestVersion loads a workflow owned by ownerID along
	// with its most recently published version. Returns pgx.ErrNoRows if the
	// workflow does not exist, is not owned by ownerID, or has never been
	// published.
	FindWorkflowWithLatestVersion(ctx context.Context, workflowID, ownerID uuid.UUID) (*Workflow, *WorkflowVersion, error)

	// BootstrapRun atomically increments the workflow's run counter and
	// creates the WorkflowRun and its scoped NodeRuns. The caller supplies
	// the run's fields and the set of (node_id, node_kind) pairs the scoped
	// subgraph selected; run.RunNumber and run.ID are populated on return.
	BootstrapRun(ctx context.Context, run *WorkflowRun, scopedNodes []ScopedNode) ([]NodeRun, error)

	// UpdateNodeRun applies a row-level patch to one NodeRun outside any
	// transaction; concurrent updates to distinct NodeRun rows never block
	// each other.
	UpdateNodeRun(ctx context.Context, id uuid.UUID, patch NodeRunPatch) error

	// UpdateRun applies the orchestrator's finalization patch to a run.
	UpdateRun(ctx context.Context, id uuid.UUID, patch RunPatch) error

	// FindRunWithNodeRuns returns a run and its NodeRuns ordered by
	// (started_at, id).
	FindRunWithNodeRuns(ctx context.Context, runID uuid.UUID) (*WorkflowRun, error)

	// ListRunsByWorkflow returns a page of runs owned by ownerID, newest
	// first, for the history query. cursor is the last run id returned by a
	// previous page, or uuid.Nil for the first page.
	ListRunsByWorkflow(ctx context.Context, workflowID, ownerID uuid.UUID, limit int, cursor uuid.UUID) (runs []WorkflowRun, hasMore bool, err error)

	// UpsertAssetByProviderURL idempotently records a durable asset: a
	// repeat call with the same (provider, url) pair returns the existing
	// row instead of inserting a duplicate.
	UpsertAssetByProviderURL(ctx context.Context, asset *Asset) (*Asset, error)

	// PublishWorkflow freezes the workflow's current draft nodes/edges
	// (maintained by the graph editor, out of this core's scope) into a new
	// immutable WorkflowVersion.
	PublishWorkflow(ctx context.Context, workflowID uuid.UUID) (*WorkflowVersion, error)
}

// ScopedNode is one node of the run's scoped subgraph, as the orchestrator
// hands it to BootstrapRun when creating the run's NodeRun set.
type ScopedNode struct {
	NodeID string
	Kind   graph.NodeKind
}

// NewInstance creates a new PostgreSQL-backed Storage implementation.
func NewInstance(db *pgxpool.Pool) (Storage, error) {
	if db == nil {
		return nil, fmt.Errorf("storage: db connection cannot be nil")
	}
	return &pgStorage{DB: db}, nil
}

// FindWorkflowWithLatestVersion loads the workflow header and its latest
// published version in a single read-only transaction so both reflect the
// same snapshot of the database.
func (r *pgStorage) FindWorkflowWithLatestVersion(ctx context.Context, workflowID, ownerID uuid.UUID) (*Workflow, *WorkflowVersion, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := r.DB.BeginTx(timeoutCtx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(timeoutCtx)

	wf := &Workflow{ID: workflowID}
	err = tx.QueryRow(timeoutCtx, `
        SELECT user_id, name, run_counter, created_at, modified_at
        FROM workflows
        WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`,
		workflowID, ownerID).Scan(&wf.UserID, &wf.Name, &wf.RunCounter, &wf.CreatedAt, &wf.ModifiedAt)
	if err != nil {
		return nil, nil, err // pgx.ErrNoRows if not found or not owned
	}

	version := &WorkflowVersion{WorkflowID: workflowID}
	var dagJSON []byte
	err = tx.QueryRow(timeoutCtx, `
        SELECT id, version_number, dag_data, published_at
        FROM workflow_versions
        WHERE workflow_id = $1
        ORDER BY version_number DESC
        LIMIT 1`,
		workflowID).Scan(&version.ID, &version.VersionNumber, &dagJSON, &version.PublishedAt)
	if err != nil {
		return nil, nil, err // pgx.ErrNoRows if never published
	}
	if err := json.Unmarshal(dagJSON, &version.DagData); err != nil {
		return nil, nil, fmt.Errorf("unmarshal version dag_data: %w", err)
	}

	return wf, version, tx.Commit(timeoutCtx)
}

// BootstrapRun is the orchestrator's one atomic write: bump the counter,
// insert the run, insert one QUEUED NodeRun per scoped node. All three
// happen inside one SERIALIZABLE transaction so two concurrent Execute
// calls on the same workflow never observe or assign the same run_number.
func (r *pgStorage) BootstrapRun(ctx context.Context, run *WorkflowRun, scopedNodes []ScopedNode) ([]NodeRun, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := r.DB.BeginTx(timeoutCtx, pgx.TxOptions{
		IsoLevel: pgx.Serializable,
	})
	if err != nil {
		return nil, fmt.Errorf("begin transaction for run bootstrap: %w", err)
	}
	defer tx.Rollback(timeoutCtx)

	var runNumber int
	err = tx.QueryRow(timeoutCtx, `
        UPDATE workflows
        SET run_counter = run_counter + 1
        WHERE id = $1
        RETURNING run_counter`,
		run.WorkflowID).Scan(&runNumber)
	if err != nil {
		return nil, fmt.Errorf("increment run counter: %w", err)
	}
	run.RunNumber = runNumber

	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	run.Status = RunStatusRunning

	selectedIDs, err := json.Marshal(run.SelectedNodeIDs)
	if err != nil {
		return nil, fmt.Errorf("marshal selected node ids: %w", err)
	}

	_, err = tx.Exec(timeoutCtx, `
        INSERT INTO workflow_runs
            (id, workflow_id, version_id, run_number, user_id, scope, selected_node_ids, started_at, status)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		run.ID, run.WorkflowID, run.VersionID, run.RunNumber, run.UserID, run.Scope, selectedIDs, run.StartedAt, run.Status)
	if err != nil {
		return nil, fmt.Errorf("insert workflow run: %w", err)
	}

	nodeRuns := make([]NodeRun, 0, len(scopedNodes))
	for _, sn := range scopedNodes {
		nr := NodeRun{
			ID:       uuid.New(),
			RunID:    run.ID,
			NodeID:   sn.NodeID,
			NodeKind: sn.Kind,
			Status:   NodeRunQueued,
		}
		_, err = tx.Exec(timeoutCtx, `
            INSERT INTO node_runs (id, run_id, node_id, node_kind, status)
            VALUES ($1, $2, $3, $4, $5)`,
			nr.ID, nr.RunID, nr.NodeID, nr.NodeKind, nr.Status)
		if err != nil {
			return nil, fmt.Errorf("insert node run %s: %w", sn.NodeID, err)
		}
		nodeRuns = append(nodeRuns, nr)
	}

	if err := tx.Commit(timeoutCtx); err != nil {
		return nil, fmt.Errorf("commit run bootstrap: %w", err)
	}
	return nodeRuns, nil
}

// UpdateNodeRun writes one NodeRun's terminal or transitional state. It runs
// outside any transaction by design: the concurrency model requires that
// per-node updates within a level never block each other.
func (r *pgStorage) UpdateNodeRun(ctx context.Context, id uuid.UUID, patch NodeRunPatch) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	inputsJSON, err := json.Marshal(patch.Inputs)
	if err != nil {
		return fmt.Errorf("marshal node run inputs: %w", err)
	}
	outputsJSON, err := json.Marshal(patch.Outputs)
	if err != nil {
		return fmt.Errorf("marshal node run outputs: %w", err)
	}
	errorDetailsJSON, err := json.Marshal(patch.ErrorDetails)
	if err != nil {
		return fmt.Errorf("marshal node run error details: %w", err)
	}

	result, err := r.DB.Exec(timeoutCtx, `
        UPDATE node_runs SET
            status = $2,
            started_at = COALESCE($3, started_at),
            finished_at = COALESCE($4, finished_at),
            duration_ms = COALESCE($5, duration_ms),
            inputs = $6,
            outputs = $7,
            error_message = COALESCE($8, error_message),
            error_details = $9,
            task_name = COALESCE($10, task_name),
            remote_run_id = COALESCE($11, remote_run_id)
        WHERE id = $1`,
		id, patch.Status, patch.StartedAt, patch.FinishedAt, patch.DurationMs,
		inputsJSON, outputsJSON, patch.ErrorMessage, errorDetailsJSON, patch.TaskName, patch.RemoteRunID)
	if err != nil {
		return fmt.Errorf("update node run %s: %w", id, err)
	}
	if result.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// UpdateRun applies the orchestrator's finalization patch (status,
// finished_at, duration_ms, error_summary).
func (r *pgStorage) UpdateRun(ctx context.Context, id uuid.UUID, patch RunPatch) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	result, err := r.DB.Exec(timeoutCtx, `
        UPDATE workflow_runs SET
            status = $2,
            finished_at = $3,
            duration_ms = $4,
            error_summary = $5
        WHERE id = $1`,
		id, patch.Status, patch.FinishedAt, patch.DurationMs, patch.ErrorSummary)
	if err != nil {
		return fmt.Errorf("update run %s: %w", id, err)
	}
	if result.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// FindRunWithNodeRuns hydrates a run and its node runs ordered by
// (started_at, id), the order the orchestrator's finalization contract
// requires.
func (r *pgStorage) FindRunWithNodeRuns(ctx context.Context, runID uuid.UUID) (*WorkflowRun, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	run := &WorkflowRun{ID: runID}
	var selectedIDsJSON []byte
	err := r.DB.QueryRow(timeoutCtx, `
        SELECT workflow_id, version_id, run_number, user_id, scope, selected_node_ids,
               started_at, finished_at, duration_ms, status, error_summary
        FROM workflow_runs
        WHERE id = $1`,
		runID).Scan(&run.WorkflowID, &run.VersionID, &run.RunNumber, &run.UserID, &run.Scope,
		&selectedIDsJSON, &run.StartedAt, &run.FinishedAt, &run.DurationMs, &run.Status, &run.ErrorSummary)
	if err != nil {
		return nil, err
	}
	if len(selectedIDsJSON) > 0 {
		if err := json.Unmarshal(selectedIDsJSON, &run.SelectedNodeIDs); err != nil {
			return nil, fmt.Errorf("unmarshal selected node ids: %w", err)
		}
	}

	rows, err := r.DB.Query(timeoutCtx, `
        SELECT id, node_id, node_kind, status, started_at, finished_at, duration_ms,
               inputs, outputs, error_message, error_details, task_name, remote_run_id
        FROM node_runs
        WHERE run_id = $1
        ORDER BY started_at NULLS FIRST, id`,
		runID)
	if err != nil {
		return nil, fmt.Errorf("query node runs for %s: %w", runID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var nr NodeRun
		var inputsJSON, outputsJSON, errorDetailsJSON []byte
		err := rows.Scan(&nr.ID, &nr.NodeID, &nr.NodeKind, &nr.Status, &nr.StartedAt, &nr.FinishedAt,
			&nr.DurationMs, &inputsJSON, &outputsJSON, &nr.ErrorMessage, &errorDetailsJSON,
			&nr.TaskName, &nr.RemoteRunID)
		if err != nil {
			return nil, fmt.Errorf("scan node run: %w", err)
		}
		if len(inputsJSON) > 0 {
			if err := json.Unmarshal(inputsJSON, &nr.Inputs); err != nil {
				return nil, fmt.Errorf("unmarshal node run inputs: %w", err)
			}
		}
		if len(outputsJSON) > 0 {
			if err := json.Unmarshal(outputsJSON, &nr.Outputs); err != nil {
				return nil, fmt.Errorf("unmarshal node run outputs: %w", err)
			}
		}
		if len(errorDetailsJSON) > 0 {
			if err := json.Unmarshal(errorDetailsJSON, &nr.ErrorDetails); err != nil {
				return nil, fmt.Errorf("unmarshal node run error details: %w", err)
			}
		}
		nr.RunID = runID
		run.NodeRuns = append(run.NodeRuns, nr)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return run, nil
}

// ListRunsByWorkflow returns a keyset page of runs, newest first, for the
// caller-scoped history query. It fetches one extra row to determine
// hasMore without a separate count query.
func (r *pgStorage) ListRunsByWorkflow(ctx context.Context, workflowID, ownerID uuid.UUID, limit int, cursor uuid.UUID) ([]WorkflowRun, bool, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := r.DB.Query(timeoutCtx, `
        SELECT r.id, r.version_id, r.run_number, r.scope, r.selected_node_ids,
               r.started_at, r.finished_at, r.duration_ms, r.status, r.error_summary
        FROM workflow_runs r
        JOIN workflows w ON w.id = r.workflow_id
        WHERE r.workflow_id = $1 AND w.user_id = $2
          AND ($3 = '00000000-0000-0000-0000-000000000000'
               OR r.started_at < (SELECT started_at FROM workflow_runs WHERE id = $3))
        ORDER BY r.started_at DESC, r.id DESC
        LIMIT $4`,
		workflowID, ownerID, cursor, limit+1)
	if err != nil {
		return nil, false, fmt.Errorf("list runs for workflow %s: %w", workflowID, err)
	}
	defer rows.Close()

	var runs []WorkflowRun
	for rows.Next() {
		run := WorkflowRun{WorkflowID: workflowID, UserID: ownerID}
		var selectedIDsJSON []byte
		err := rows.Scan(&run.ID, &run.VersionID, &run.RunNumber, &run.Scope, &selectedIDsJSON,
			&run.StartedAt, &run.FinishedAt, &run.DurationMs, &run.Status, &run.ErrorSummary)
		if err != nil {
			return nil, false, fmt.Errorf("scan run: %w", err)
		}
		if len(selectedIDsJSON) > 0 {
			if err := json.Unmarshal(selectedIDsJSON, &run.SelectedNodeIDs); err != nil {
				return nil, false, fmt.Errorf("unmarshal selected node ids: %w", err)
			}
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	hasMore := len(runs) > limit
	if hasMore {
		runs = runs[:limit]
	}
	return runs, hasMore, nil
}

// UpsertAssetByProviderURL is an idempotent ingestion point: a repeat call
// with the same (provider, url) returns the row inserted the first time
// rather than creating a duplicate.
func (r *pgStorage) UpsertAssetByProviderURL(ctx context.Context, asset *Asset) (*Asset, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if asset.ID == uuid.Nil {
		asset.ID = uuid.New()
	}

	out := &Asset{}
	err := r.DB.QueryRow(timeoutCtx, `
        INSERT INTO assets (id, user_id, kind, url, provider, assembly_id, mime_type, bytes, width, height, duration_ms)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        ON CONFLICT (provider, url) DO UPDATE SET provider = EXCLUDED.provider
        RETURNING id, user_id, kind, url, provider, assembly_id, mime_type, bytes, width, height, duration_ms`,
		asset.ID, asset.UserID, asset.Kind, asset.URL, asset.Provider, asset.AssemblyID,
		asset.MimeType, asset.Bytes, asset.Width, asset.Height, asset.DurationMs,
	).Scan(&out.ID, &out.UserID, &out.Kind, &out.URL, &out.Provider, &out.AssemblyID,
		&out.MimeType, &out.Bytes, &out.Width, &out.Height, &out.DurationMs)
	if err != nil {
		return nil, fmt.Errorf("upsert asset %s/%s: %w", asset.Provider, asset.URL, err)
	}
	return out, nil
}

// PublishWorkflow freezes the workflow's current draft (nodes and edges
// maintained by the out-of-scope graph editor, plus its stored viewport)
// into a new, immutable version. version_number is the prior maximum plus
// one; versions are never updated or deleted once created.
func (r *pgStorage) PublishWorkflow(ctx context.Context, workflowID uuid.UUID) (*WorkflowVersion, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	tx, err := r.DB.BeginTx(timeoutCtx, pgx.TxOptions{
		IsoLevel: pgx.RepeatableRead,
	})
	if err != nil {
		return nil, fmt.Errorf("begin transaction for publish: %w", err)
	}
	defer tx.Rollback(timeoutCtx)

	var viewport Viewport
	err = tx.QueryRow(timeoutCtx, `
        SELECT viewport_x, viewport_y, viewport_zoom
        FROM workflows WHERE id = $1 AND deleted_at IS NULL`,
		workflowID).Scan(&viewport.X, &viewport.Y, &viewport.Zoom)
	if err != nil {
		return nil, err // pgx.ErrNoRows if not found
	}

	nodes, err := hydrateNodes(timeoutCtx, tx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("hydrate draft nodes for publish: %w", err)
	}
	edges, err := hydrateEdges(timeoutCtx, tx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("hydrate draft edges for publish: %w", err)
	}

	dag := DagData{Nodes: nodes, Edges: edges, Viewport: viewport}
	if dag.Nodes == nil {
		dag.Nodes = []Node{}
	}
	if dag.Edges == nil {
		dag.Edges = []Edge{}
	}
	dagJSON, err := json.Marshal(dag)
	if err != nil {
		return nil, fmt.Errorf("marshal dag data: %w", err)
	}

	var nextVersion int
	err = tx.QueryRow(timeoutCtx, `
        SELECT COALESCE(MAX(version_number), 0) + 1
        FROM workflow_versions
        WHERE workflow_id = $1`,
		workflowID).Scan(&nextVersion)
	if err != nil {
		return nil, fmt.Errorf("get next version: %w", err)
	}

	version := &WorkflowVersion{WorkflowID: workflowID, VersionNumber: nextVersion, DagData: dag}
	err = tx.QueryRow(timeoutCtx, `
        INSERT INTO workflow_versions (workflow_id, version_number, dag_data)
        VALUES ($1, $2, $3)
        RETURNING id, published_at`,
		workflowID, nextVersion, dagJSON).Scan(&version.ID, &version.PublishedAt)
	if err != nil {
		return nil, fmt.Errorf("insert version: %w", err)
	}

	if err := tx.Commit(timeoutCtx); err != nil {
		return nil, fmt.Errorf("commit publish: %w", err)
	}
	return version, nil
}

// hydrateNodes and hydrateEdges read the workflow's live draft (as opposed
// to a frozen version); PublishWorkflow uses them to build the snapshot it
// freezes.
func hydrateNodes(ctx context.Context, q querier, workflowID uuid.UUID) ([]Node, error) {
	rows, err := q.Query(ctx, `
        SELECT node_id, kind, data, selected
        FROM workflow_nodes
        WHERE workflow_id = $1`,
		workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []Node
	for rows.Next() {
		var n Node
		var dataJSON []byte
		if err := rows.Scan(&n.ID, &n.Kind, &dataJSON, &n.Selected); err != nil {
			return nil, err
		}
		if len(dataJSON) > 0 {
			if err := json.Unmarshal(dataJSON, &n.Data); err != nil {
				return nil, fmt.Errorf("unmarshal node data: %w", err)
			}
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

func hydrateEdges(ctx context.Context, q querier, workflowID uuid.UUID) ([]Edge, error) {
	rows, err := q.Query(ctx, `
        SELECT edge_id, source_node, source_handle, target_node, target_handle
        FROM workflow_edges
        WHERE workflow_id = $1`,
		workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []Edge
	for rows.Next() {
		var e Edge
		if err := rows.Scan(&e.ID, &e.Source, &e.SourceHandle, &e.Target, &e.TargetHandle); err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}
