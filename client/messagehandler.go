package client

import (
	"log/slog"
)

// NotificationHandlers defines optional callbacks for the notifications of
// one watched job. All handlers are optional - only provide handlers for the
// messages you care about. Handlers run on the stream's read goroutine and
// should return quickly.
type NotificationHandlers struct {
	// OnStatus is called with queue status broadcasts
	OnStatus func(*NotificationStatus)

	// OnStarted is called when execution of the job begins
	OnStarted func(*NotificationStarted)

	// OnExecuting is called when a node starts executing, and once more with
	// a nil node when the job is done
	OnExecuting func(*NotificationExecuting)

	// OnProgress is called with step updates during node execution
	OnProgress func(*NotificationProgress)

	// OnExecuted is called when a node has produced outputs
	OnExecuted func(*NotificationExecuted)

	// OnError is called if there was an exception during execution
	OnError func(*NotificationError)
}

// DefaultNotificationHandlers returns handlers that log job lifecycle
// messages. It does not include progress display.
func DefaultNotificationHandlers() *NotificationHandlers {
	return &NotificationHandlers{
		OnStarted: func(msg *NotificationStarted) {
			slog.Info("execution started", "job_id", msg.JobID)
		},
		OnExecuting: func(msg *NotificationExecuting) {
			if msg.Finished() {
				slog.Debug("execution finished", "job_id", msg.JobID)
				return
			}
			slog.Debug("executing node", "job_id", msg.JobID, "node_id", *msg.Node)
		},
		OnError: func(msg *NotificationError) {
			slog.Error("execution error",
				"job_id", msg.JobID,
				"node_id", msg.Node,
				"node_type", msg.NodeType,
				"error", msg.ExceptionMessage,
			)
		},
	}
}

// WithStatusHandler adds a status handler (builder pattern)
func (h *NotificationHandlers) WithStatusHandler(fn func(*NotificationStatus)) *NotificationHandlers {
	h.OnStatus = fn
	return h
}

// WithStartedHandler adds a started handler (builder pattern)
func (h *NotificationHandlers) WithStartedHandler(fn func(*NotificationStarted)) *NotificationHandlers {
	h.OnStarted = fn
	return h
}

// WithExecutingHandler adds an executing handler (builder pattern)
func (h *NotificationHandlers) WithExecutingHandler(fn func(*NotificationExecuting)) *NotificationHandlers {
	h.OnExecuting = fn
	return h
}

// WithProgressHandler adds a progress handler (builder pattern)
func (h *NotificationHandlers) WithProgressHandler(fn func(*NotificationProgress)) *NotificationHandlers {
	h.OnProgress = fn
	return h
}

// WithExecutedHandler adds an executed handler (builder pattern)
func (h *NotificationHandlers) WithExecutedHandler(fn func(*NotificationExecuted)) *NotificationHandlers {
	h.OnExecuted = fn
	return h
}

// WithErrorHandler adds an error handler (builder pattern)
func (h *NotificationHandlers) WithErrorHandler(fn func(*NotificationError)) *NotificationHandlers {
	h.OnError = fn
	return h
}

// dispatch hands n to the matching handler, if one is set.
func (h *NotificationHandlers) dispatch(n *Notification) {
	switch d := n.Data.(type) {
	case *NotificationStatus:
		if h.OnStatus != nil {
			h.OnStatus(d)
		}
	case *NotificationStarted:
		if h.OnStarted != nil {
			h.OnStarted(d)
		}
	case *NotificationExecuting:
		if h.OnExecuting != nil {
			h.OnExecuting(d)
		}
	case *NotificationProgress:
		if h.OnProgress != nil {
			h.OnProgress(d)
		}
	case *NotificationExecuted:
		if h.OnExecuted != nil {
			h.OnExecuted(d)
		}
	case *NotificationError:
		if h.OnError != nil {
			h.OnError(d)
		}
	default:
		slog.Debug("unhandled notification", "type", n.Type)
	}
}
