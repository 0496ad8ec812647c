package ingest

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicate is returned by stores when a unique constraint rejects an insert.
	ErrDuplicate = errors.New("duplicate key")
	// ErrNotFound is returned by stores when a lookup matches no row.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned when a state machine would move backward.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrMissingCredential marks a provider that cannot run without a configured key.
	ErrMissingCredential = errors.New("missing credential")
	// ErrMissingTool marks a required media binary absent from PATH.
	ErrMissingTool = errors.New("missing media tool")
	// ErrMalformed marks a provider payload that failed boundary validation.
	ErrMalformed = errors.New("malformed provider payload")
)

// SetupError is an environment problem that makes every item in a batch fail, so the stage aborts
// before processing anything.
type SetupError struct {
	Stage string
	Err   error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("%s setup: %v", e.Stage, e.Err)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}

// IsSetupError reports whether err aborts an invocation.
func IsSetupError(err error) bool {
	var setupErr *SetupError
	return errors.As(err, &setupErr)
}
