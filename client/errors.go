package client

import (
	"errors"
	"fmt"
	"strings"
)

// Failure kinds. Every error returned by this package matches exactly one of
// them under errors.Is.
var (
	// ErrTransport is a network-level failure: refused connection, timeout,
	// non-2xx status. The Waiter tolerates it until its deadline.
	ErrTransport = errors.New("transport error")
	// ErrProtocol means the executor answered but the payload broke the
	// expected contract. Never retried.
	ErrProtocol = errors.New("protocol error")
	// ErrRemoteFailure means the executor reported the job as failed.
	ErrRemoteFailure = errors.New("remote failure")
	// ErrNotFound means an artifact was missing at fetch time.
	ErrNotFound = errors.New("artifact not found")
	// ErrTimedOut means the deadline passed while the job was still pending
	// or running. The remote job is not cancelled.
	ErrTimedOut = errors.New("timed out")
	// ErrUnknownJob means the executor never created a record for the job.
	ErrUnknownJob = errors.New("unknown job")
)

// RemoteFailureError carries the executor's messages for a failed job, verbatim.
type RemoteFailureError struct {
	JobID    string
	Messages []string
}

func (e *RemoteFailureError) Error() string {
	if len(e.Messages) == 0 {
		return fmt.Sprintf("job %s failed", e.JobID)
	}
	return fmt.Sprintf("job %s failed: %s", e.JobID, strings.Join(e.Messages, "; "))
}

func (e *RemoteFailureError) Is(target error) bool {
	return target == ErrRemoteFailure
}

func transportError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrTransport, fmt.Sprintf(format, args...))
}

func protocolError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrProtocol, fmt.Sprintf(format, args...))
}
