package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/richinsley/comfyjob/graphapi"
)

/*
POST /submit          {"graph": {...}, "clientId": "..."} -> {"jobId": "..."}
GET  /status/{jobId}  {"<jobId>": {"status": "...", "outputs": {...}, "messages": [...]}}
GET  /artifact        ?filename=&subfolder=&type= -> raw bytes
GET  /system_stats
GET  /object_info
GET  /ws              ?clientId= (websocket notifications)
*/

type response struct {
	status int
	body   []byte
}

func (r *response) ok() bool {
	return r.status >= 200 && r.status < 300
}

// do performs the request and reads the whole body. Only network failures
// are returned as errors; status handling is up to the caller.
func (c *Client) do(req *http.Request) (*response, error) {
	resp, err := c.httpclient.Do(req)
	if err != nil {
		return nil, transportError("%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError("reading %s %s: %v", req.Method, req.URL.Path, err)
	}
	return &response{status: resp.StatusCode, body: body}, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values) (*response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path, params), nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) getJSON(ctx context.Context, path string, v interface{}) error {
	resp, err := c.get(ctx, path, nil)
	if err != nil {
		return err
	}
	if !resp.ok() {
		return transportError("GET %s: status %d", path, resp.status)
	}
	if err := json.Unmarshal(resp.body, v); err != nil {
		return protocolError("decoding %s: %v", path, err)
	}
	return nil
}

// Submit enqueues a graph and returns the handle of the new job.
func (c *Client) Submit(ctx context.Context, graph *graphapi.Graph) (JobHandle, error) {
	data, err := json.Marshal(&graphapi.Submission{Graph: graph, ClientID: c.clientid})
	if err != nil {
		return JobHandle{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/submit", nil), bytes.NewReader(data))
	if err != nil {
		return JobHandle{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return JobHandle{}, err
	}
	if !resp.ok() {
		// a rejected graph usually comes back as {"error": {"message": ...}}
		perror := &graphapi.SubmissionError{}
		if jerr := json.Unmarshal(resp.body, perror); jerr == nil && perror.Error.Message != "" {
			return JobHandle{}, transportError("POST /submit: status %d: %s", resp.status, perror.Error.Message)
		}
		return JobHandle{}, transportError("POST /submit: status %d", resp.status)
	}

	ack := &graphapi.SubmissionResponse{}
	if err := json.Unmarshal(resp.body, ack); err != nil {
		slog.Error("error unmarshalling submit response", "body", string(resp.body))
		return JobHandle{}, protocolError("decoding submit response: %v", err)
	}
	if strings.TrimSpace(ack.JobID) == "" {
		return JobHandle{}, protocolError("submit response has no jobId")
	}

	slog.Debug("submitted job", "job_id", ack.JobID, "nodes", graph.Len())
	return JobHandle{ID: ack.JobID}, nil
}

// FetchStatus retrieves the job's current record. A job the executor does
// not know about yet is reported as Pending with Absent set.
func (c *Client) FetchStatus(ctx context.Context, handle JobHandle) (*JobRecord, error) {
	resp, err := c.get(ctx, "/status/"+url.PathEscape(handle.ID), nil)
	if err != nil {
		return nil, err
	}
	if resp.status == http.StatusNotFound {
		return absentRecord(handle.ID), nil
	}
	if !resp.ok() {
		return nil, transportError("GET /status/%s: status %d", handle.ID, resp.status)
	}
	return decodeJobRecord(handle.ID, resp.body)
}

// FetchArtifact retrieves the raw bytes of an artifact.
func (c *Client) FetchArtifact(ctx context.Context, ref ArtifactRef) ([]byte, error) {
	params := url.Values{}
	params.Add("filename", ref.Filename)
	params.Add("subfolder", ref.Subfolder)
	params.Add("type", ref.Type)

	resp, err := c.get(ctx, "/artifact", params)
	if err != nil {
		return nil, err
	}
	if resp.status == http.StatusNotFound {
		return nil, &artifactNotFound{ref: ref}
	}
	if !resp.ok() {
		return nil, transportError("GET /artifact %s: status %d", ref.Filename, resp.status)
	}
	return resp.body, nil
}

type artifactNotFound struct {
	ref ArtifactRef
}

func (e *artifactNotFound) Error() string {
	return ErrNotFound.Error() + ": " + e.ref.Type + "/" + strings.TrimPrefix(e.ref.Subfolder+"/"+e.ref.Filename, "/")
}

func (e *artifactNotFound) Is(target error) bool {
	return target == ErrNotFound
}

// GetSystemStats queries the executor's host information. A successful call
// also shows that the executor is up.
func (c *Client) GetSystemStats(ctx context.Context) (*SystemStats, error) {
	retv := &SystemStats{}
	if err := c.getJSON(ctx, "/system_stats", retv); err != nil {
		return nil, err
	}
	return retv, nil
}

// GetObjectInfos retrieves the executor's node vocabulary.
func (c *Client) GetObjectInfos(ctx context.Context) (*graphapi.NodeObjects, error) {
	result := &graphapi.NodeObjects{}
	if err := c.getJSON(ctx, "/object_info", &result.Objects); err != nil {
		return nil, err
	}
	return result, nil
}

// WaitUntilReady polls GetSystemStats every interval until the executor
// answers or ctx is done. Only transport errors are retried.
func (c *Client) WaitUntilReady(ctx context.Context, interval time.Duration) (*SystemStats, error) {
	var stats *SystemStats
	op := func() error {
		s, err := c.GetSystemStats(ctx)
		if err != nil {
			if errors.Is(err, ErrTransport) {
				return err
			}
			return backoff.Permanent(err)
		}
		stats = s
		return nil
	}
	notify := func(err error, next time.Duration) {
		slog.Debug("executor not ready", "url", c.baseURL, "error", err)
	}
	b := backoff.WithContext(backoff.NewConstantBackOff(interval), ctx)
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return nil, err
	}
	return stats, nil
}
