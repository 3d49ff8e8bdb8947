package client

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
)

// JobHandle identifies a submitted job. It belongs to the caller until the
// job reaches a terminal state.
type JobHandle struct {
	ID string
}

// JobStatus moves Pending → Running → Succeeded|Failed and never leaves a
// terminal state.
type JobStatus int

const (
	Pending JobStatus = iota
	Running
	Succeeded
	Failed
)

func (s JobStatus) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Succeeded:
		return "success"
	case Failed:
		return "error"
	}
	return fmt.Sprintf("JobStatus(%d)", int(s))
}

// Terminal reports whether no further transition is possible.
func (s JobStatus) Terminal() bool {
	return s == Succeeded || s == Failed
}

func parseJobStatus(s string) (JobStatus, error) {
	switch s {
	case "pending":
		return Pending, nil
	case "running":
		return Running, nil
	case "success":
		return Succeeded, nil
	case "error":
		return Failed, nil
	}
	return 0, protocolError("unknown job status %q", s)
}

// JobRecord is the executor's snapshot of one job.
type JobRecord struct {
	JobID  string
	Status JobStatus
	// Outputs maps a node id to the artifacts that node produced.
	Outputs map[string][]ArtifactRef
	// Messages holds the executor's error messages for a failed job.
	Messages []string
	// Absent is set when the executor had no record for the job yet. The
	// record is then reported as Pending.
	Absent bool
}

// wireJobRecord is one entry of the GET /status/{id} body.
//
//	{"<jobId>": {"status": "success", "outputs": {"14": [{"filename": "pony_00001.png", "subfolder": "", "type": "output"}]}, "messages": []}}
//
// status may also arrive as {"status_str": "...", "messages": [...]}, and an
// output may be an object of lists ({"images": [...]}) instead of a bare list.
type wireJobRecord struct {
	Status   json.RawMessage            `json:"status"`
	Outputs  map[string]json.RawMessage `json:"outputs"`
	Messages []json.RawMessage          `json:"messages"`
}

func absentRecord(jobID string) *JobRecord {
	return &JobRecord{
		JobID:   jobID,
		Status:  Pending,
		Outputs: map[string][]ArtifactRef{},
		Absent:  true,
	}
}

func decodeJobRecord(jobID string, body []byte) (*JobRecord, error) {
	records := make(map[string]wireJobRecord)
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, protocolError("decoding status for job %s: %v", jobID, err)
	}

	w, ok := records[jobID]
	if !ok {
		return absentRecord(jobID), nil
	}

	statusStr, messages, err := decodeStatusField(w.Status)
	if err != nil {
		return nil, protocolError("job %s: %v", jobID, err)
	}
	status, err := parseJobStatus(statusStr)
	if err != nil {
		return nil, err
	}

	rec := &JobRecord{
		JobID:   jobID,
		Status:  status,
		Outputs: make(map[string][]ArtifactRef, len(w.Outputs)),
	}
	rec.Messages = append(rec.Messages, messages...)
	rec.Messages = append(rec.Messages, flattenMessages(w.Messages)...)

	for node, raw := range w.Outputs {
		refs, err := decodeOutputRefs(raw)
		if err != nil {
			return nil, protocolError("job %s node %s outputs: %v", jobID, node, err)
		}
		rec.Outputs[node] = refs
	}
	return rec, nil
}

func decodeStatusField(raw json.RawMessage) (string, []string, error) {
	if len(raw) == 0 {
		return "", nil, fmt.Errorf("record has no status")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil, nil
	}

	var obj struct {
		StatusStr string            `json:"status_str"`
		Messages  []json.RawMessage `json:"messages"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", nil, fmt.Errorf("status is neither a string nor an object: %s", string(raw))
	}
	return obj.StatusStr, flattenMessages(obj.Messages), nil
}

// flattenMessages keeps string messages as they are and renders anything
// else as compact JSON, so nothing the executor said is dropped.
func flattenMessages(raw []json.RawMessage) []string {
	retv := make([]string, 0, len(raw))
	for _, m := range raw {
		var s string
		if err := json.Unmarshal(m, &s); err == nil {
			retv = append(retv, s)
			continue
		}
		retv = append(retv, string(m))
	}
	return retv
}

// decodeOutputRefs accepts either a list of artifact descriptors or an
// object whose values are such lists. Object keys are visited in sorted order.
func decodeOutputRefs(raw json.RawMessage) ([]ArtifactRef, error) {
	var list []interface{}
	if err := json.Unmarshal(raw, &list); err == nil {
		return artifactRefsFromList(list), nil
	}

	var grouped map[string]interface{}
	if err := json.Unmarshal(raw, &grouped); err != nil {
		return nil, fmt.Errorf("expected a list or an object of lists")
	}
	keys := make([]string, 0, len(grouped))
	for k := range grouped {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	retv := make([]ArtifactRef, 0)
	for _, k := range keys {
		if l, ok := grouped[k].([]interface{}); ok {
			retv = append(retv, artifactRefsFromList(l)...)
		}
	}
	return retv, nil
}

func artifactRefsFromList(list []interface{}) []ArtifactRef {
	retv := make([]ArtifactRef, 0, len(list))
	for _, i := range list {
		outmap, ok := i.(map[string]interface{})
		if !ok {
			// text outputs and the like carry no retrievable blob
			slog.Debug("skipping non-artifact output entry", "entry", fmt.Sprintf("%v", i))
			continue
		}

		ref := ArtifactRef{}
		filename, ok := outmap["filename"].(string)
		if !ok || filename == "" {
			slog.Warn("output entry has no filename", "entry", fmt.Sprintf("%v", i))
			continue
		}
		ref.Filename = filename

		// subfolder may be absent
		ref.Subfolder, _ = outmap["subfolder"].(string)

		ref.Type, ok = outmap["type"].(string)
		if !ok {
			slog.Warn("output entry has no type", "entry", fmt.Sprintf("%v", i))
			continue
		}
		retv = append(retv, ref)
	}
	return retv
}
