// Package remotetask implements the trigger-and-poll abstraction node
// executors use to hand compute work (LLM calls, image/video transforms) off
// to a backend. The retry of assembly-resolution HTTP calls lives in
// services/assets (FetchAssemblyWithRetry), not here.
package remotetask

import (
	"context"
	"fmt"
	"time"
)

// PollResult is what a Backend reports for one poll tick.
type PollResult struct {
	Terminal     bool
	Success      bool
	Output       map[string]any
	Status       string
	ErrorMessage string
}

// Backend submits a task and polls it to completion. Each compute node kind
// maps to exactly one backend at wiring time (see remoteBackends in
// main.go); a Backend may serve more than one task name.
type Backend interface {
	Submit(ctx context.Context, taskName string, payload map[string]any) (handle string, err error)
	Poll(ctx context.Context, taskName, handle string) (PollResult, error)
}

// Result is what TriggerAndPoll returns on success.
type Result struct {
	RemoteRunID string
	Output      map[string]any
}

// Runner is the interface node executors depend on. Client is the only
// production implementation; tests substitute a stub.
type Runner interface {
	TriggerAndPoll(ctx context.Context, taskName string, payload map[string]any) (Result, error)
}

// TimeoutError is raised when a task does not reach a terminal state within
// the configured per-task timeout.
type TimeoutError struct {
	TaskName string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("task %q timed out", e.TaskName)
}

// FailedError is raised when a task reaches a non-success terminal state.
type FailedError struct {
	TaskName     string
	RemoteRunID  string
	RemoteStatus string
	RemoteError  string
}

func (e *FailedError) Error() string {
	if e.RemoteError != "" {
		return fmt.Sprintf("task %q (run %s) failed: %s: %s", e.TaskName, e.RemoteRunID, e.RemoteStatus, e.RemoteError)
	}
	return fmt.Sprintf("task %q (run %s) failed: %s", e.TaskName, e.RemoteRunID, e.RemoteStatus)
}

const (
	defaultPollInterval = time.Second
	defaultTaskTimeout  = 120 * time.Second
)

// Option configures a Client at construction time.
type Option func(*Client)

// WithPollInterval overrides the default 1s poll tick.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) { c.pollInterval = d }
}

// WithTaskTimeout overrides the default 120s per-task bound.
func WithTaskTimeout(d time.Duration) Option {
	return func(c *Client) { c.taskTimeout = d }
}

// Client dispatches by task name to a configured Backend, falling back to a
// deterministic local backend when none is configured for that task (or
// when remote dispatch is disabled process-wide).
type Client struct {
	backends     map[string]Backend
	fallback     Backend
	pollInterval time.Duration
	taskTimeout  time.Duration
}

// NewClient builds a Client. backends maps task name (e.g. "llm-execute",
// "crop-image") to the Backend that serves it; fallback handles any task
// name absent from backends, and must never be nil.
func NewClient(backends map[string]Backend, fallback Backend, opts ...Option) *Client {
	c := &Client{
		backends:     backends,
		fallback:     fallback,
		pollInterval: defaultPollInterval,
		taskTimeout:  defaultTaskTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TriggerAndPoll submits taskName with payload to the resolved backend and
// polls it at the configured interval until a terminal state or timeout.
func (c *Client) TriggerAndPoll(ctx context.Context, taskName string, payload map[string]any) (Result, error) {
	backend := c.backends[taskName]
	if backend == nil {
		backend = c.fallback
	}

	ctx, cancel := context.WithTimeout(ctx, c.taskTimeout)
	defer cancel()

	handle, err := backend.Submit(ctx, taskName, payload)
	if err != nil {
		return Result{}, fmt.Errorf("submit %q: %w", taskName, err)
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return Result{}, &TimeoutError{TaskName: taskName}
		case <-ticker.C:
			res, err := backend.Poll(ctx, taskName, handle)
			if err != nil {
				return Result{}, fmt.Errorf("poll %q (run %s): %w", taskName, handle, err)
			}
			if !res.Terminal {
				continue
			}
			if !res.Success {
				return Result{}, &FailedError{
					TaskName:     taskName,
					RemoteRunID:  handle,
					RemoteStatus: res.Status,
					RemoteError:  res.ErrorMessage,
				}
			}
			return Result{RemoteRunID: handle, Output: res.Output}, nil
		}
	}
}
