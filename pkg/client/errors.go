package client

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/charlie0129/te5025/pkg/te5025"
	"github.com/charlie0129/te5025/pkg/types"
)

var (
	// ErrDaemonNotRunning is returned when the daemon is not running
	ErrDaemonNotRunning = errors.New("daemon not running")

	// ErrPermissionDenied is returned when the user does not have permission to perform the requested action
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotFound is returned when 404 is returned from the daemon
	ErrNotFound = errors.New("404 not found")

	// ErrBusy is returned when a sequence owns the output
	ErrBusy = errors.New("daemon busy running a sequence")
)

// APIError is a non-2xx reply from the daemon. It matches the te5025
// sentinel named by its code, so callers can use errors.Is the same way
// they would with a local session.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("got %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Is(target error) bool {
	switch {
	case target == ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case target == ErrBusy:
		return e.Code == types.CodeBusy
	}

	sentinel := te5025.ErrorForCode(e.Code)
	return sentinel != nil && target == sentinel
}
