package waweb

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Reason classifies why a connection closed.
type Reason string

const (
	// ReasonClose is a plain transport-level socket close.
	ReasonClose Reason = "close"
	// ReasonIntentional means the caller closed the connection.
	ReasonIntentional Reason = "intentional"
	// ReasonTimedOut means the idle-debounce timer expired.
	ReasonTimedOut Reason = "timed out"
	// ReasonReplaced means another device took over the session.
	ReasonReplaced Reason = "replaced"
	// ReasonInvalidSession means the server rejected the credentials.
	ReasonInvalidSession Reason = "invalid session"
	// ReasonBadSession is the HTTP-like 599 reply that forces a fresh
	// socket before retrying.
	ReasonBadSession Reason = "bad session"
)

var (
	// ErrNotConnected is returned when a frame is sent without an open
	// socket.
	ErrNotConnected = errors.New("waweb: not connected")
	// ErrTimeout is returned when a pending request or connection wait
	// exceeds its deadline.
	ErrTimeout = errors.New("waweb: timed out")
	// ErrDuplicateTag is returned when a waiter is already registered for
	// a tag.
	ErrDuplicateTag = errors.New("waweb: duplicate tag")
	// ErrInvalidSession is delivered to waiters when credentials are
	// rejected.
	ErrInvalidSession = errors.New("waweb: invalid session")
	// ErrReplaced is delivered to waiters when another client took over.
	ErrReplaced = errors.New("waweb: connection replaced")
	// ErrIntentional is delivered to waiters when the caller closed the
	// connection.
	ErrIntentional = errors.New("waweb: connection closed by caller")
	// ErrMissingKeys is returned when a binary frame is attempted without
	// both encryption keys loaded.
	ErrMissingKeys = errors.New("waweb: encryption keys not loaded")
	// ErrAlreadyConnected is returned by Connect on a non-closed
	// connection.
	ErrAlreadyConnected = errors.New("waweb: already connected")
)

// CloseError is returned when an operation fails because the connection is
// (or became) closed. Code follows the HTTP-like status convention used by
// the server, e.g. 428 for "connection required".
type CloseError struct {
	Code   int
	Reason Reason
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("waweb: closed (%d %s)", e.Code, e.Reason)
}

// ServerError is returned when a reply carries a status outside 200-299 and
// the query asked for status checking. It retains the originating query
// payload.
type ServerError struct {
	Status     int
	StatusText string
	Query      json.RawMessage
}

func (e *ServerError) Error() string {
	if e.StatusText != "" {
		return fmt.Sprintf("waweb: server returned %d (%s)", e.Status, e.StatusText)
	}
	return fmt.Sprintf("waweb: server returned %d", e.Status)
}

// statusTexts names the server statuses seen in practice.
var statusTexts = map[int]string{
	400: "bad request",
	401: "unauthorized",
	403: "forbidden",
	404: "not found",
	409: "conflict",
	419: "session expired",
	428: "connection required",
	429: "too many requests",
	500: "internal error",
	599: "bad session",
}

// StatusText returns the textual name of a server status, or "".
func StatusText(status int) string { return statusTexts[status] }

// reasonError maps a close reason to the error delivered to pending
// waiters.
func reasonError(r Reason) error {
	switch r {
	case ReasonTimedOut:
		return ErrTimeout
	case ReasonInvalidSession:
		return ErrInvalidSession
	case ReasonReplaced:
		return ErrReplaced
	case ReasonIntentional:
		return ErrIntentional
	default:
		return &CloseError{Code: 0, Reason: r}
	}
}
