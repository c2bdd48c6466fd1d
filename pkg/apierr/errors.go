// Package apierr centralizes the error-kind table shared by the HTTP layer
// and the node executors: a closed set of machine-readable codes, each with
// a fixed HTTP status, so handlers and orchestrator bookkeeping agree on how
// a failure is reported without re-deriving status codes at each call site.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is one of the closed set of machine-readable error identifiers.
type Code string

const (
	CodeUnauthorized            Code = "UNAUTHORIZED"
	CodeNotFound                Code = "NOT_FOUND"
	CodeValidationError         Code = "VALIDATION_ERROR"
	CodeInvalidScope            Code = "INVALID_SCOPE"
	CodeMissingExportNode       Code = "MISSING_EXPORT_NODE"
	CodeInvalidDAG              Code = "INVALID_DAG"
	CodeInvalidNodeType         Code = "INVALID_NODE_TYPE"
	CodeMissingInput            Code = "MISSING_INPUT"
	CodeMissingAsset            Code = "MISSING_ASSET"
	CodeInvalidMediaType        Code = "INVALID_MEDIA_TYPE"
	CodeProviderNotConfigured   Code = "PROVIDER_NOT_CONFIGURED"
	CodeTaskTimeout             Code = "TASK_TIMEOUT"
	CodeTaskFailed              Code = "TASK_FAILED"
	CodeInvalidGenerationOutput Code = "INVALID_GENERATION_OUTPUT"
	CodeAssemblyInProgress      Code = "ASSEMBLY_IN_PROGRESS"
	CodeAssemblyTerminalFailure Code = "ASSEMBLY_TERMINAL_FAILURE"
	CodeImageResultNotImage     Code = "IMAGE_RESULT_NOT_IMAGE"
	CodeVideoResultNotVideo     Code = "VIDEO_RESULT_NOT_VIDEO"
	CodeAssemblyUnknown         Code = "ASSEMBLY_UNKNOWN"
	CodeInternal                Code = "INTERNAL_ERROR"
)

var statusByCode = map[Code]int{
	CodeUnauthorized:            http.StatusUnauthorized,
	CodeNotFound:                http.StatusNotFound,
	CodeValidationError:         http.StatusBadRequest,
	CodeInvalidScope:            http.StatusBadRequest,
	CodeMissingExportNode:       http.StatusBadRequest,
	CodeInvalidDAG:              http.StatusBadRequest,
	CodeInvalidNodeType:         http.StatusBadRequest,
	CodeMissingInput:            http.StatusBadRequest,
	CodeMissingAsset:            http.StatusBadRequest,
	CodeInvalidMediaType:        http.StatusBadRequest,
	CodeProviderNotConfigured:   http.StatusInternalServerError,
	CodeTaskTimeout:             http.StatusGatewayTimeout,
	CodeTaskFailed:              http.StatusBadGateway,
	CodeInvalidGenerationOutput: http.StatusBadGateway,
	CodeAssemblyInProgress:      http.StatusAccepted,
	CodeAssemblyTerminalFailure: http.StatusConflict,
	CodeImageResultNotImage:     http.StatusUnprocessableEntity,
	CodeVideoResultNotVideo:     http.StatusUnprocessableEntity,
	CodeAssemblyUnknown:         http.StatusBadGateway,
	CodeInternal:                http.StatusInternalServerError,
}

// HTTPStatus returns the fixed HTTP status for a code, or 500 if the code is
// not in the table (which should never happen for a code minted via New).
func HTTPStatus(c Code) int {
	if s, ok := statusByCode[c]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Error is a typed, machine-readable error. Node executors and pre-flight
// validation both return *Error so the orchestrator and the HTTP layer can
// classify a failure without string matching.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
}

func (e *Error) Error() string { return e.Message }

// Status returns the HTTP status this error maps to.
func (e *Error) Status() int { return HTTPStatus(e.Code) }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithDetails attaches structured detail fields (e.g. task_name, remote_run_id)
// surfaced on FAILED node runs.
func (e *Error) WithDetails(details map[string]any) *Error {
	return &Error{Code: e.Code, Message: e.Message, Details: details}
}

// As reports whether err (or something it wraps) is an *Error, mirroring the
// std errors.As contract without forcing callers to import "errors" here.
func As(err error) (*Error, bool) {
	var ae *Error
	ok := errors.As(err, &ae)
	return ae, ok
}
