package search

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/pteich/elastic-query-builder/elastic"
	"github.com/pteich/elastic-query-builder/query"
)

var (
	ErrInvalidSpec   = query.ErrInvalidSpec
	ErrInvalidClause = query.ErrInvalidClause

	// ErrBackendUnreachable is returned when no answer arrived from the
	// backend. The caller may retry.
	ErrBackendUnreachable = errors.New("search backend unreachable")
	// ErrTimeout is an ErrBackendUnreachable caused by an elapsed timeout.
	ErrTimeout = fmt.Errorf("%w: timeout elapsed", ErrBackendUnreachable)
	// ErrMalformedResponse is returned when the backend answered with a body
	// that does not have the expected shape. Retrying does not help.
	ErrMalformedResponse = errors.New("malformed search response")
	// ErrBackendRejected is returned when the backend refused the request
	// with a client error status, e.g. a query on a missing index.
	ErrBackendRejected = errors.New("search request rejected by backend")
)

// Error describes a failed facade operation. Err is one of the package
// sentinels; Cause is the underlying error.
type Error struct {
	Op         string
	Index      string
	Err        error
	Cause      error
	StatusCode int
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Index != "" {
		msg += " " + e.Index
	}
	switch {
	case e.Cause == nil:
		return msg + ": " + e.Err.Error()
	case errors.Is(e.Cause, e.Err):
		return msg + ": " + e.Cause.Error()
	default:
		return msg + ": " + e.Err.Error() + ": " + e.Cause.Error()
	}
}

func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

// StatusCode returns the backend status code carried by err, or 0.
func StatusCode(err error) int {
	var serr *Error
	if errors.As(err, &serr) {
		return serr.StatusCode
	}
	return 0
}

func (e *Executor) invalid(op string, err error) error {
	sentinel := ErrInvalidSpec
	if errors.Is(err, ErrInvalidClause) {
		sentinel = ErrInvalidClause
	}
	return &Error{Op: op, Index: e.cfg.Index, Err: sentinel, Cause: err}
}

// classify maps a transport failure onto the error taxonomy. ctx is the
// per request context so an elapsed deadline wins over whatever error the
// transport produced while being torn down.
func (e *Executor) classify(ctx context.Context, op string, err error) error {
	serr := &Error{Op: op, Index: e.cfg.Index, Cause: err}

	var status *elastic.StatusError
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		serr.Err = ErrTimeout
	case errors.As(err, &status):
		serr.StatusCode = status.StatusCode
		serr.Err = statusSentinel(status.StatusCode)
	case errors.Is(err, elastic.ErrMalformedResponse):
		serr.Err = ErrMalformedResponse
	default:
		serr.Err = ErrBackendUnreachable
	}
	return serr
}

// statusSentinel treats client errors as rejections. Server errors,
// including 502, 503 and 504 from proxies, count as unreachable.
func statusSentinel(code int) error {
	if code >= http.StatusBadRequest && code < http.StatusInternalServerError {
		return ErrBackendRejected
	}
	return ErrBackendUnreachable
}

func timedOut(op, index string) error {
	return &Error{Op: op, Index: index, Err: ErrTimeout, Cause: errors.New("backend reported timed_out")}
}

var errEmptyResponse = errors.New("backend returned no response")

func malformed(op, index string, err error) error {
	return &Error{Op: op, Index: index, Err: ErrMalformedResponse, Cause: err}
}

// outcome is the metrics label of err.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidSpec), errors.Is(err, ErrInvalidClause):
		return "invalid"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrBackendRejected):
		return "rejected"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed"
	case errors.Is(err, ErrBackendUnreachable):
		return "unreachable"
	default:
		return "error"
	}
}
