package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure so callers can react to it programmatically.
// Kinds are string-based so they read well in logs and JSON reports.
type ErrorKind string

const (
	// KindIO indicates a local file could not be read or written.
	KindIO ErrorKind = "IO_ERROR"

	// KindNotFound indicates a file, directory, repository or branch does not exist.
	KindNotFound ErrorKind = "NOT_FOUND"

	// KindAuth indicates the credential is missing, invalid or expired.
	KindAuth ErrorKind = "UNAUTHORIZED"

	// KindPermission indicates the credential is valid but lacks the required scope.
	KindPermission ErrorKind = "FORBIDDEN"

	// KindNetwork indicates the host could not be reached or the call timed out.
	KindNetwork ErrorKind = "NETWORK_ERROR"

	// KindAPI indicates the host rejected a request with an unexpected status code.
	KindAPI ErrorKind = "API_ERROR"

	// KindParse indicates a document or response body is malformed or incomplete.
	KindParse ErrorKind = "PARSE_ERROR"

	// KindUnknown is returned by KindOf for errors that carry no kind.
	KindUnknown ErrorKind = "UNKNOWN"
)

// Sentinel errors, one per kind. Every *Error matches the sentinel of its kind
// with errors.Is.
var (
	ErrIO         = errors.New("i/o error")
	ErrNotFound   = errors.New("not found")
	ErrAuth       = errors.New("authentication failed")
	ErrPermission = errors.New("permission denied")
	ErrNetwork    = errors.New("network error")
	ErrAPI        = errors.New("api error")
	ErrParse      = errors.New("parse error")
)

var kindSentinels = map[ErrorKind]error{
	KindIO:         ErrIO,
	KindNotFound:   ErrNotFound,
	KindAuth:       ErrAuth,
	KindPermission: ErrPermission,
	KindNetwork:    ErrNetwork,
	KindAPI:        ErrAPI,
	KindParse:      ErrParse,
}

// Error is a classified error with the operation and path that produced it.
// StatusCode holds the host response code for errors returned by the remote API.
type Error struct {
	Kind       ErrorKind
	Op         string
	Path       string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	if sentinel, ok := kindSentinels[e.Kind]; ok {
		return msg + ": " + sentinel.Error()
	}
	return msg
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel error associated with the kind
func (e *Error) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && sentinel == target
}

// NewError creates a classified error
func NewError(kind ErrorKind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// IOError wraps a local file system failure
func IOError(op, path string, err error) error {
	return NewError(KindIO, op, path, err)
}

// NotFoundError reports a missing resource
func NotFoundError(op, path string, err error) error {
	return NewError(KindNotFound, op, path, err)
}

// ParseError reports a malformed document
func ParseError(op, path string, err error) error {
	return NewError(KindParse, op, path, err)
}

// KindOf returns the kind of the first *Error in the chain
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for kind, sentinel := range kindSentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindUnknown
}

// StatusCodeOf returns the host status code carried by the error chain, or 0
func StatusCodeOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode
	}
	return 0
}
