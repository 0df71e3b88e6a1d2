package tooling

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies action failures. Every kind is rendered as text for
// the model; none of them stops the agent loop.
type ErrorKind int

const (
	ErrNotFound ErrorKind = iota + 1
	ErrTextNotFound
	ErrTimeout
	ErrUnknownAction
	ErrMalformedArguments
	ErrCollaboratorFailure
)

func (k ErrorKind) String() string {
	switch k {
	case ErrNotFound:
		return "not_found"
	case ErrTextNotFound:
		return "text_not_found"
	case ErrTimeout:
		return "timeout"
	case ErrUnknownAction:
		return "unknown_action"
	case ErrMalformedArguments:
		return "malformed_arguments"
	case ErrCollaboratorFailure:
		return "collaborator_failure"
	default:
		return "unknown"
	}
}

// ActionError is the typed failure produced by action handlers.
type ActionError struct {
	Kind    ErrorKind
	Action  string
	Target  string
	Timeout time.Duration
	Err     error
}

func (e *ActionError) Error() string {
	switch e.Kind {
	case ErrNotFound:
		if e.Action == KindChangeDirectory.String() {
			return fmt.Sprintf("directory does not exist: %s", e.Target)
		}
		return fmt.Sprintf("file not found: %s. Try an absolute path or add the file extension.", e.Target)
	case ErrTextNotFound:
		return fmt.Sprintf("replace failed: the old text was not found in %s.", e.Target)
	case ErrTimeout:
		return fmt.Sprintf("command timed out (exceeded %s): %s", e.Timeout, e.Target)
	case ErrUnknownAction:
		return fmt.Sprintf("unknown command: %s", e.Target)
	case ErrMalformedArguments:
		if e.Err != nil {
			return fmt.Sprintf("malformed arguments for %s: %v", e.Action, e.Err)
		}
		return fmt.Sprintf("malformed arguments for %s", e.Action)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s failed: %v", e.Action, e.Err)
		}
		return fmt.Sprintf("%s failed", e.Action)
	}
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

// KindOf extracts the ErrorKind from err, or 0 when err is not an ActionError.
func KindOf(err error) ErrorKind {
	var ae *ActionError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return 0
}

func notFound(action Kind, target string, err error) error {
	return &ActionError{Kind: ErrNotFound, Action: action.String(), Target: target, Err: err}
}

func textNotFound(action Kind, target string) error {
	return &ActionError{Kind: ErrTextNotFound, Action: action.String(), Target: target}
}

func malformed(action string, err error) error {
	return &ActionError{Kind: ErrMalformedArguments, Action: action, Err: err}
}

func collaboratorFailure(action Kind, err error) error {
	return &ActionError{Kind: ErrCollaboratorFailure, Action: action.String(), Err: err}
}
