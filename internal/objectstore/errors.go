package objectstore

import (
	"fmt"
	"net/http"
)

// RemoteError is a failure reported by an object storage backend.
type RemoteError struct {
	Status  int
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s (%d)", e.Code, e.Status)
	}
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// NewRemoteError builds a RemoteError, deriving the code from the status
// when none is given.
func NewRemoteError(status int, code, format string, args ...interface{}) *RemoteError {
	if code == "" {
		code = http.StatusText(status)
	}
	return &RemoteError{
		Status:  status,
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}
