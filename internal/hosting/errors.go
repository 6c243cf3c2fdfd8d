package hosting

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

var (
	// ErrNotAuthenticated is returned whenever no usable token is available,
	// whatever the underlying cause.
	ErrNotAuthenticated = errors.New("not authenticated, run `apphost login` first")

	// ErrAccessDenied is returned when the control plane refuses a token outright
	ErrAccessDenied = errors.New("access denied")

	// ErrAuthTimeout is returned when the browser login was not completed in time
	ErrAuthTimeout = errors.New("timed out waiting for browser login")

	// ErrKeyRequired is returned in non-interactive mode when no key was given
	ErrKeyRequired = errors.New("a deployment key is required in non-interactive mode")

	// ErrKeyNotConfirmed is returned when the control plane did not accept the key
	ErrKeyNotConfirmed = errors.New("deployment key was not confirmed by the server")

	// ErrInvalidKey is returned for keys that are not domain safe
	ErrInvalidKey = errors.New("deployment keys may only contain letters, digits and hyphens")

	// ErrInvalidEnvName is returned for environment variable names that are not identifiers
	ErrInvalidEnvName = errors.New("invalid environment variable name")

	// ErrEnvArity is returned for environment entries without a single KEY=VALUE pair
	ErrEnvArity = errors.New("environment variables must be given as KEY=VALUE")
)

// RejectedError is a request the control plane refused with an explanation.
// The detail is shown to the user verbatim and the request is not retried.
type RejectedError struct {
	StatusCode int
	Detail     string
}

func (e *RejectedError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("request rejected with status %d", e.StatusCode)
	}
	return e.Detail
}

// InternalError hides transport failures, server errors and malformed responses
// behind a generic message. The cause stays reachable through errors.Unwrap.
type InternalError struct {
	Op  string
	Err error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("unable to %s due to internal errors", e.Op)
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

// internalError logs the real cause at debug level and wraps it
func internalError(op string, err error) error {
	log.Debug().Err(err).Str("op", op).Msg("Control plane request failed")
	return &InternalError{Op: op, Err: err}
}

// IsRetryable reports whether an error may go away on its own
func IsRetryable(err error) bool {
	var internal *InternalError
	if !errors.As(err, &internal) {
		return false
	}
	var malformed *malformedResponseError
	return !errors.As(err, &malformed)
}

// malformedResponseError marks a response that broke the API contract
type malformedResponseError struct {
	reason string
}

func (e *malformedResponseError) Error() string {
	return "malformed response: " + e.reason
}
