// Package errs classifies failures seen while queueing and replaying writes.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrStorage marks a failure of the durable store itself. It is always
	// returned to the caller, never recorded as a replay failure.
	ErrStorage = errors.New("storage error")

	// ErrConnectivity marks a call that never reached the server.
	ErrConnectivity = errors.New("connectivity error")

	ErrOperationAbsent = errors.New("operation not found")

	// ErrLeaseLost reports that a drain lease expired or was taken over
	// while its holder still believed it owned it.
	ErrLeaseLost = errors.New("drain lease lost")
)

// RemoteError is a non-success response from a reachable server.
type RemoteError struct {
	Status int
	Body   string
}

func (e *RemoteError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("remote rejected request: status %d", e.Status)
	}
	return fmt.Sprintf("remote rejected request: status %d: %s", e.Status, e.Body)
}

// Permanent reports whether the status looks like a rejection that will not
// succeed on retry. Informational only: the drain retries both kinds up to the cap.
func (e *RemoteError) Permanent() bool {
	return e.Status >= 400 && e.Status < 500
}

func Storage(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}

func Connectivity(err error) error {
	return fmt.Errorf("%w: %w", ErrConnectivity, err)
}

func IsStorage(err error) bool {
	return errors.Is(err, ErrStorage)
}

func IsConnectivity(err error) bool {
	return errors.Is(err, ErrConnectivity)
}

func IsRemote(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}

// Kind names the class of err for logs and metrics labels.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case IsStorage(err):
		return "storage"
	case IsConnectivity(err):
		return "connectivity"
	case IsRemote(err):
		return "remote"
	default:
		return "unknown"
	}
}
