package collab

import (
	"errors"
	"fmt"
)

var (
	ErrForbidden        = errors.New("forbidden")
	ErrNotFound         = errors.New("document not found")
	ErrNotJoined        = errors.New("not joined")
	ErrPersistFailed    = errors.New("persist failed")
	ErrBadRequest       = errors.New("bad request")
	ErrNotAuthenticated = errors.New("not authenticated")
	errSessionClosed    = errors.New("session closed")
)

// Error codes carried on "error" events.
const (
	CodeOK               = "ok"
	CodeForbidden        = "forbidden"
	CodeNotFound         = "not_found"
	CodeNotJoined        = "not_joined"
	CodePersistFailed    = "persist_failed"
	CodeBadRequest       = "bad_request"
	CodeNotAuthenticated = "not_authenticated"
	CodeInternal         = "internal"
)

// ErrorCode maps an operation error onto its wire code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrNotJoined):
		return CodeNotJoined
	case errors.Is(err, ErrPersistFailed):
		return CodePersistFailed
	case errors.Is(err, ErrBadRequest):
		return CodeBadRequest
	case errors.Is(err, ErrNotAuthenticated), errors.Is(err, errSessionClosed):
		return CodeNotAuthenticated
	default:
		return CodeInternal
	}
}

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBadRequest, fmt.Sprintf(format, args...))
}

// ErrorMessage is the human readable text sent to the client.
func ErrorMessage(msgType string, err error) string {
	switch ErrorCode(err) {
	case CodeForbidden:
		if msgType == MsgJoinRoom {
			return "You do not have access to this document"
		}
		return "You do not have permission to edit this document"
	case CodeNotFound:
		return "Document not found"
	case CodeNotJoined:
		return "Join the document before sending updates"
	case CodePersistFailed:
		return "Failed to update document"
	case CodeBadRequest:
		return err.Error()
	case CodeNotAuthenticated:
		return "Authentication required"
	default:
		return "An error occurred while processing " + msgType
	}
}
