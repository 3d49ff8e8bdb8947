package graphapi

// Submission is the body posted to the executor to enqueue a graph.
type Submission struct {
	Graph *Graph `json:"graph"`
	// ClientID routes asynchronous notifications for the job back to the
	// submitting client. Polling never consults it.
	ClientID string `json:"clientId"`
}

// SubmissionResponse is the executor's acknowledgement of a Submission.
type SubmissionResponse struct {
	JobID string `json:"jobId"`
}

// SubmissionError is the body of a rejected Submission.
type SubmissionError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
		Details string `json:"details"`
	} `json:"error"`
	NodeErrors map[string]interface{} `json:"node_errors"`
}
