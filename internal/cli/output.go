package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Exit codes for posctl.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // the daemon refused or failed the request
	ExitCommandError = 2 // bad arguments, unreadable order file, unknown product
	ExitUnavailable  = 3 // daemon not running, or the POS server unreachable
)

// ExitError is an error carrying the process exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates an ExitError without an underlying error.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps err with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error. Errors that are not an
// ExitError exit with ExitFailure.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// rpcError turns a daemon call failure into an ExitError whose message is
// the status message the daemon sent.
func rpcError(err error) error {
	s, ok := status.FromError(err)
	if !ok {
		return WrapExitError(ExitFailure, "request failed", err)
	}
	switch s.Code() {
	case codes.Unavailable:
		return NewExitError(ExitUnavailable, s.Message())
	case codes.InvalidArgument, codes.NotFound, codes.FailedPrecondition, codes.Unauthenticated:
		return NewExitError(ExitCommandError, s.Message())
	default:
		return NewExitError(ExitFailure, s.Message())
	}
}

// Response is the JSON envelope written with --format json.
type Response struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

// printer writes command results as text or as a JSON envelope.
type printer struct {
	format string
	w      io.Writer
}

// emit writes data as JSON, or hands the writer to text in text mode.
func (p *printer) emit(data any, text func(io.Writer)) error {
	if p.format == "json" {
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return enc.Encode(Response{Status: "ok", Data: data})
	}
	text(p.w)
	return nil
}

// fail writes err in the configured format. Text errors are left to the
// caller, which prints them on stderr.
func (p *printer) fail(err error) {
	if p.format != "json" {
		return
	}
	_ = json.NewEncoder(p.w).Encode(Response{Status: "error", Error: err.Error()})
}
