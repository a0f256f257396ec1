package modbusclient

import (
	"errors"
	"fmt"
	"net"
)

var (
	ErrCommunication = errors.New("communication error")
	ErrClosed        = errors.New("client closed")
	ErrNotOpen       = errors.New("client not open")
	ErrShortResponse = errors.New("short response")
)

// CommunicationError reports a transaction that kept failing after every
// allowed attempt. errors.Is(err, ErrCommunication) holds for it and the
// last underlying error is reachable through Unwrap.
type CommunicationError struct {
	Op       string
	Addr     string
	Attempts int
	Err      error
}

func (e *CommunicationError) Error() string {
	return fmt.Sprintf("%s %s: %s after %d attempt(s): %v", e.Op, e.Addr, ErrCommunication, e.Attempts, e.Err)
}

func (e *CommunicationError) Unwrap() error { return e.Err }

func (e *CommunicationError) Is(target error) bool { return target == ErrCommunication }

type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Retryable marks err as a transient failure: the client drops the
// connection and tries the transaction again.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err is worth another attempt.
func IsTransient(err error) bool {
	var t *transientError
	if errors.As(err, &t) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}
