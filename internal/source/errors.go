package source

import (
	"errors"
	"fmt"
)

// Resolve error codes.
const (
	ErrCodeUnsupportedSource = "UNSUPPORTED_SOURCE"
	ErrCodeEmptySource       = "EMPTY_SOURCE"
	ErrCodeChannelOffline    = "CHANNEL_OFFLINE"
	ErrCodeResolveTimeout    = "RESOLVE_TIMEOUT"
)

// ResolveError describes why a source could not be turned into a queue.
type ResolveError struct {
	Code    string
	Message string
	Cause   error
}

func (e *ResolveError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ResolveError) Unwrap() error {
	return e.Cause
}

// NewResolveError creates a resolve error with the given code.
func NewResolveError(code, message string, cause error) *ResolveError {
	return &ResolveError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// IsOffline reports whether err is a channel-offline resolve error.
// Offline channels are retryable; the caller is expected to poll.
func IsOffline(err error) bool {
	return hasCode(err, ErrCodeChannelOffline)
}

// IsUnsupported reports whether err marks a source the resolver cannot
// handle at all.
func IsUnsupported(err error) bool {
	return hasCode(err, ErrCodeUnsupportedSource)
}

func hasCode(err error, code string) bool {
	var re *ResolveError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}
