package client

import (
	"encoding/json"
	"log/slog"

	"github.com/richinsley/comfyjob/graphapi"
)

// Notification is one message pushed by the executor over the websocket.
// Data holds one of the Notification* payload types below, or nil for a
// message type this package does not know.
type Notification struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func (n *Notification) UnmarshalJSON(b []byte) error {
	// decode into a different type to avoid recursing into this method
	var temp struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &temp); err != nil {
		return err
	}

	n.Type = temp.Type
	switch n.Type {
	case "status":
		n.Data = &NotificationStatus{}
	case "execution_start":
		n.Data = &NotificationStarted{}
	case "executing":
		n.Data = &NotificationExecuting{}
	case "progress":
		n.Data = &NotificationProgress{}
	case "executed":
		n.Data = &NotificationExecuted{}
	case "execution_error":
		n.Data = &NotificationError{}
	default:
		n.Data = nil
	}

	if n.Data != nil && len(temp.Data) > 0 {
		if err := json.Unmarshal(temp.Data, n.Data); err != nil {
			return err
		}
	}
	return nil
}

// JobID returns the job the notification belongs to, or "" for broadcast
// messages such as queue status.
func (n *Notification) JobID() string {
	switch d := n.Data.(type) {
	case *NotificationStarted:
		return d.JobID
	case *NotificationExecuting:
		return d.JobID
	case *NotificationProgress:
		return d.JobID
	case *NotificationExecuted:
		return d.JobID
	case *NotificationError:
		return d.JobID
	}
	return ""
}

// jobRef accepts the job id under either key the executor has used for it.
type jobRef struct {
	JobID    string `json:"jobId"`
	PromptID string `json:"prompt_id"`
}

func (r jobRef) id() string {
	if r.JobID != "" {
		return r.JobID
	}
	return r.PromptID
}

/*
{"type": "status", "data": {"status": {"exec_info": {"queue_remaining": 1}}}}
*/
type NotificationStatus struct {
	QueueRemaining int
}

func (s *NotificationStatus) UnmarshalJSON(b []byte) error {
	var temp struct {
		Status struct {
			ExecInfo struct {
				QueueRemaining int `json:"queue_remaining"`
			} `json:"exec_info"`
		} `json:"status"`
	}
	if err := json.Unmarshal(b, &temp); err != nil {
		return err
	}
	s.QueueRemaining = temp.Status.ExecInfo.QueueRemaining
	return nil
}

/*
{"type": "execution_start", "data": {"jobId": "ed986d60-2a27-4d28-8871-2fdb36582902"}}
*/
type NotificationStarted struct {
	JobID string
}

func (s *NotificationStarted) UnmarshalJSON(b []byte) error {
	var temp jobRef
	if err := json.Unmarshal(b, &temp); err != nil {
		return err
	}
	s.JobID = temp.id()
	return nil
}

/*
{"type": "executing", "data": {"node": "5", "jobId": "ed986d60-2a27-4d28-8871-2fdb36582902"}}

node is null once the whole job has finished executing.
*/
type NotificationExecuting struct {
	Node  *graphapi.NodeID
	JobID string
}

func (e *NotificationExecuting) UnmarshalJSON(b []byte) error {
	var temp struct {
		jobRef
		Node *string `json:"node"`
	}
	if err := json.Unmarshal(b, &temp); err != nil {
		return err
	}
	e.JobID = temp.id()
	if temp.Node != nil {
		id := graphapi.NodeID(*temp.Node)
		e.Node = &id
	} else {
		e.Node = nil
	}
	return nil
}

// Finished reports whether this is the end-of-job marker.
func (e *NotificationExecuting) Finished() bool {
	return e.Node == nil
}

/*
{"type": "progress", "data": {"value": 1, "max": 20, "node": "5", "jobId": "ed986d60-2a27-4d28-8871-2fdb36582902"}}
*/
type NotificationProgress struct {
	Value int
	Max   int
	Node  graphapi.NodeID
	JobID string
}

func (p *NotificationProgress) UnmarshalJSON(b []byte) error {
	var temp struct {
		jobRef
		Value int    `json:"value"`
		Max   int    `json:"max"`
		Node  string `json:"node"`
	}
	if err := json.Unmarshal(b, &temp); err != nil {
		return err
	}
	p.Value = temp.Value
	p.Max = temp.Max
	p.Node = graphapi.NodeID(temp.Node)
	p.JobID = temp.id()
	return nil
}

/*
{"type": "executed", "data": {"node": "14", "output": {"images": [{"filename": "pony_00001.png", "subfolder": "", "type": "output"}]}, "jobId": "3bcf5bac-19e1-4219-a0eb-50a84e4db2ea"}}

every node with outputs sends its own "executed"
*/
type NotificationExecuted struct {
	Node   graphapi.NodeID
	Output []ArtifactRef
	JobID  string
}

func (e *NotificationExecuted) UnmarshalJSON(b []byte) error {
	var temp struct {
		jobRef
		Node   string          `json:"node"`
		Output json.RawMessage `json:"output"`
	}
	if err := json.Unmarshal(b, &temp); err != nil {
		return err
	}
	e.Node = graphapi.NodeID(temp.Node)
	e.JobID = temp.id()
	e.Output = nil
	if len(temp.Output) > 0 && string(temp.Output) != "null" {
		refs, err := decodeOutputRefs(temp.Output)
		if err != nil {
			slog.Warn("executed notification has unreadable output", "node", temp.Node, "error", err)
			return nil
		}
		e.Output = refs
	}
	return nil
}

/*
{"type": "execution_error", "data": {"jobId": "dc7093d7-980a-4fe6-bf0c-f6fef932c74b", "node_id": "5", "node_type": "KSampler", "exception_message": "sampler crashed", "exception_type": "RuntimeError", "traceback": [...]}}
*/
type NotificationError struct {
	JobID            string
	Node             graphapi.NodeID
	NodeType         string
	ExceptionMessage string
	ExceptionType    string
	Traceback        []string
}

func (e *NotificationError) UnmarshalJSON(b []byte) error {
	var temp struct {
		jobRef
		Node             string   `json:"node_id"`
		NodeType         string   `json:"node_type"`
		ExceptionMessage string   `json:"exception_message"`
		ExceptionType    string   `json:"exception_type"`
		Traceback        []string `json:"traceback"`
	}
	if err := json.Unmarshal(b, &temp); err != nil {
		return err
	}
	e.JobID = temp.id()
	e.Node = graphapi.NodeID(temp.Node)
	e.NodeType = temp.NodeType
	e.ExceptionMessage = temp.ExceptionMessage
	e.ExceptionType = temp.ExceptionType
	e.Traceback = temp.Traceback
	return nil
}
