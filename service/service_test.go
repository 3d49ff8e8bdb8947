package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/richinsley/comfyjob/client"
	"github.com/richinsley/comfyjob/graphapi"
	"github.com/stretchr/testify/require"
)

type autoClock struct {
	*clock.Mock
}

func (c autoClock) After(d time.Duration) <-chan time.Time {
	ch := c.Mock.After(d)
	c.Mock.Add(d)
	return ch
}

// stubExecutor answers every status poll with the same record and serves
// artifacts from a map.
type stubExecutor struct {
	mu        sync.Mutex
	submitErr error
	record    func(jobID string, graph *graphapi.Graph) *client.JobRecord
	artifacts map[string][]byte

	submitted []*graphapi.Graph
	polls     int
	fetches   int
}

func (s *stubExecutor) Submit(ctx context.Context, graph *graphapi.Graph) (client.JobHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitted = append(s.submitted, graph)
	if s.submitErr != nil {
		return client.JobHandle{}, s.submitErr
	}
	return client.JobHandle{ID: "job-1"}, nil
}

func (s *stubExecutor) FetchStatus(ctx context.Context, handle client.JobHandle) (*client.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls++
	return s.record(handle.ID, s.submitted[len(s.submitted)-1]), nil
}

func (s *stubExecutor) FetchArtifact(ctx context.Context, ref client.ArtifactRef) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	data, ok := s.artifacts[ref.Filename]
	if !ok {
		return nil, fmt.Errorf("%w: %s", client.ErrNotFound, ref.Filename)
	}
	return data, nil
}

func (s *stubExecutor) networkCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.submitted) + s.polls + s.fetches
}

func succeedWith(filename string) func(string, *graphapi.Graph) *client.JobRecord {
	return func(jobID string, g *graphapi.Graph) *client.JobRecord {
		return &client.JobRecord{
			JobID:  jobID,
			Status: client.Succeeded,
			Outputs: map[string][]client.ArtifactRef{
				string(g.OutputNodeID()): {{Filename: filename, Type: "output"}},
			},
		}
	}
}

func failWith(messages ...string) func(string, *graphapi.Graph) *client.JobRecord {
	return func(jobID string, g *graphapi.Graph) *client.JobRecord {
		return &client.JobRecord{JobID: jobID, Status: client.Failed, Outputs: map[string][]client.ArtifactRef{}, Messages: messages}
	}
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	img.Set(w/2, h/2, color.NRGBA{R: 200, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func redBall() graphapi.Request {
	return graphapi.Request{
		Prompt:         "a red ball",
		Width:          1024,
		Height:         1024,
		Steps:          18,
		CFG:            7.0,
		Seed:           graphapi.Seed(42),
		AdapterWeights: []float64{1.0, 1.0, 0.94, 0.9, 3.0, 0.34, 0.0},
	}
}

func samplerSeed(t *testing.T, g *graphapi.Graph) int64 {
	t.Helper()
	samplers := g.GetNodesWithKind(graphapi.Sampler)
	require.Len(t, samplers, 1)
	seed, ok := samplers[0].Params["seed"].(int64)
	require.True(t, ok)
	return seed
}

func newTestService(exec Executor, opts ...Option) *Service {
	opts = append([]Option{WithWaiterOptions(client.WithClock(autoClock{clock.NewMock()}))}, opts...)
	return New(exec, opts...)
}

func TestGenerateSuccess(t *testing.T) {
	want := pngBytes(t, 64, 64)
	exec := &stubExecutor{
		record:    succeedWith("pony_00001.png"),
		artifacts: map[string][]byte{"pony_00001.png": want},
	}

	res, msg := newTestService(exec).Generate(context.Background(), redBall())
	require.NotNil(t, res, msg)
	require.Equal(t, want, res.Image)
	require.Equal(t, "job-1", res.JobID)
	require.Equal(t, client.ArtifactRef{Filename: "pony_00001.png", Type: "output"}, res.Ref)
	require.Equal(t, "png", res.Format)
	require.Equal(t, 64, res.Width)
	require.EqualValues(t, 42, res.Seed)
	require.Contains(t, msg, "generated")
	require.Contains(t, msg, "pony_00001.png")

	require.Len(t, exec.submitted, 1)
	require.EqualValues(t, 42, samplerSeed(t, exec.submitted[0]))
	require.Equal(t, 1, exec.polls)
	require.Equal(t, 1, exec.fetches)
}

func TestGenerateRemoteFailure(t *testing.T) {
	exec := &stubExecutor{record: failWith("sampler crashed")}

	res, msg := newTestService(exec).Generate(context.Background(), redBall())
	require.Nil(t, res)
	require.True(t, strings.HasPrefix(msg, "remote failure: "), msg)
	require.Contains(t, msg, "sampler crashed")
	require.Zero(t, exec.fetches)
}

func TestGenerateFallbackSeed(t *testing.T) {
	exec := &stubExecutor{
		record:    succeedWith("pony_00001.png"),
		artifacts: map[string][]byte{"pony_00001.png": pngBytes(t, 8, 8)},
	}
	req := redBall()
	req.Seed = nil

	res, _ := newTestService(exec).Generate(context.Background(), req)
	require.NotNil(t, res)
	require.Equal(t, graphapi.FallbackSeed, res.Seed)
	require.Equal(t, graphapi.FallbackSeed, samplerSeed(t, exec.submitted[0]))
}

func TestGenerateConfigurationErrorsNeverReachExecutor(t *testing.T) {
	cases := map[string]func(*graphapi.Request){
		"short weights": func(r *graphapi.Request) { r.AdapterWeights = r.AdapterWeights[:6] },
		"empty prompt":  func(r *graphapi.Request) { r.Prompt = "  " },
		"width":         func(r *graphapi.Request) { r.Width = 1000 },
		"steps":         func(r *graphapi.Request) { r.Steps = 500 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			exec := &stubExecutor{record: succeedWith("pony_00001.png")}
			req := redBall()
			mutate(&req)

			res, msg := newTestService(exec).Generate(context.Background(), req)
			require.Nil(t, res)
			require.True(t, strings.HasPrefix(msg, "configuration error: "), msg)
			require.Zero(t, exec.networkCalls())
		})
	}
}

func TestGenerateFailureKinds(t *testing.T) {
	cases := []struct {
		name   string
		exec   *stubExecutor
		opts   []Option
		prefix string
	}{
		{
			name:   "submit refused",
			exec:   &stubExecutor{submitErr: fmt.Errorf("%w: POST /submit: connection refused", client.ErrTransport)},
			prefix: "transport error: ",
		},
		{
			name:   "artifact gone",
			exec:   &stubExecutor{record: succeedWith("pony_00001.png"), artifacts: map[string][]byte{}},
			prefix: "artifact not found: ",
		},
		{
			name:   "artifact not an image",
			exec:   &stubExecutor{record: succeedWith("pony_00001.png"), artifacts: map[string][]byte{"pony_00001.png": []byte("<html>")}},
			prefix: "protocol error: ",
		},
		{
			name: "succeeded without the writer",
			exec: &stubExecutor{record: func(jobID string, g *graphapi.Graph) *client.JobRecord {
				return &client.JobRecord{JobID: jobID, Status: client.Succeeded, Outputs: map[string][]client.ArtifactRef{}}
			}},
			prefix: "protocol error: ",
		},
		{
			name: "never finishes",
			exec: &stubExecutor{record: func(jobID string, g *graphapi.Graph) *client.JobRecord {
				return &client.JobRecord{JobID: jobID, Status: client.Running}
			}},
			opts:   []Option{WithTimeout(10 * time.Second)},
			prefix: "timed out: ",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, msg := newTestService(tc.exec, tc.opts...).Generate(context.Background(), redBall())
			require.Nil(t, res)
			require.True(t, strings.HasPrefix(msg, tc.prefix), msg)
		})
	}
}

func TestGenerateWithPreset(t *testing.T) {
	preset := graphapi.DefaultPreset()
	preset.Adapters = preset.Adapters[:2]
	preset.FilenamePrefix = "ball"
	exec := &stubExecutor{
		record:    succeedWith("ball_00001.png"),
		artifacts: map[string][]byte{"ball_00001.png": pngBytes(t, 8, 8)},
	}
	svc := newTestService(exec, WithPreset(preset))
	require.Len(t, svc.Preset().Adapters, 2)

	req := redBall()
	req.AdapterWeights = []float64{0.5, 0.5}
	res, msg := svc.Generate(context.Background(), req)
	require.NotNil(t, res, msg)
	require.Len(t, exec.submitted[0].GetNodesWithKind(graphapi.AdapterLoader), 2)
}

type fakeNotifier struct {
	mu       sync.Mutex
	watched  []string
	released int
}

func (f *fakeNotifier) Watch(jobID string, h *client.NotificationHandlers) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watched = append(f.watched, jobID)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.released++
	}
}

func TestGenerateWatchesNotifications(t *testing.T) {
	exec := &stubExecutor{
		record:    succeedWith("pony_00001.png"),
		artifacts: map[string][]byte{"pony_00001.png": pngBytes(t, 8, 8)},
	}
	n := &fakeNotifier{}
	res, _ := newTestService(exec, WithNotifications(n, client.DefaultNotificationHandlers())).
		Generate(context.Background(), redBall())
	require.NotNil(t, res)
	require.Equal(t, []string{"job-1"}, n.watched)
	require.Equal(t, 1, n.released)
}

func TestFailureMessage(t *testing.T) {
	require.Equal(t, "remote failure: job j failed: boom",
		FailureMessage(&client.RemoteFailureError{JobID: "j", Messages: []string{"boom"}}))
	require.Equal(t, "timed out: job j still running",
		FailureMessage(fmt.Errorf("%w: job j still running", client.ErrTimedOut)))
	require.Equal(t, "cancelled: context canceled", FailureMessage(context.Canceled))
	require.Equal(t, "error: something else", FailureMessage(errors.New("something else")))
}
