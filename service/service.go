// Package service runs one image generation end to end: build the graph,
// submit it, wait for the job and fetch the resulting image.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/richinsley/comfyjob/client"
	"github.com/richinsley/comfyjob/graphapi"
	"github.com/richinsley/comfyjob/imageutil"
)

// DefaultTimeout bounds the wait for one job.
const DefaultTimeout = 300 * time.Second

// Executor is the remote side of a generation. *client.Client implements it.
type Executor interface {
	Submit(ctx context.Context, graph *graphapi.Graph) (client.JobHandle, error)
	FetchStatus(ctx context.Context, handle client.JobHandle) (*client.JobRecord, error)
	FetchArtifact(ctx context.Context, ref client.ArtifactRef) ([]byte, error)
}

// Notifier routes progress notifications for a job. *client.NotificationStream
// implements it.
type Notifier interface {
	Watch(jobID string, h *client.NotificationHandlers) (unwatch func())
}

// Result is a successfully generated image.
type Result struct {
	JobID  string
	Ref    client.ArtifactRef
	Image  []byte
	Format string
	Width  int
	Height int
	Seed   int64
}

type Service struct {
	executor   Executor
	builder    *graphapi.Builder
	waiter     *client.Waiter
	timeout    time.Duration
	notifier   Notifier
	handlers   *client.NotificationHandlers
	waiterOpts []client.WaiterOption
}

type Option func(*Service)

// WithPreset builds graphs from p instead of graphapi.DefaultPreset().
func WithPreset(p graphapi.Preset) Option {
	return func(s *Service) {
		s.builder = graphapi.NewBuilder(p)
	}
}

// WithTimeout sets how long Generate waits for the job.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.timeout = d
	}
}

// WithWaiterOptions configures the waiter used for every job.
func WithWaiterOptions(opts ...client.WaiterOption) Option {
	return func(s *Service) {
		s.waiterOpts = append(s.waiterOpts, opts...)
	}
}

// WithNotifications hands the job's notifications to h while Generate waits.
func WithNotifications(n Notifier, h *client.NotificationHandlers) Option {
	return func(s *Service) {
		s.notifier = n
		s.handlers = h
	}
}

func New(executor Executor, opts ...Option) *Service {
	s := &Service{
		executor: executor,
		builder:  graphapi.NewBuilder(graphapi.DefaultPreset()),
		timeout:  DefaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.waiter = client.NewWaiter(executor, s.waiterOpts...)
	return s
}

// Preset returns the preset graphs are built from.
func (s *Service) Preset() graphapi.Preset {
	return s.builder.Preset()
}

// Generate turns req into exactly one remote job and returns the image it
// produced along with a status message. On failure the result is nil and
// the message starts with the failure kind. Generate never retries.
func (s *Service) Generate(ctx context.Context, req graphapi.Request) (*Result, string) {
	res, err := s.generate(ctx, req)
	if err != nil {
		msg := FailureMessage(err)
		slog.Error("generation failed", "error", msg)
		return nil, msg
	}
	msg := fmt.Sprintf("generated %dx%d %s with seed %d (job %s, %s)",
		res.Width, res.Height, res.Format, res.Seed, res.JobID, res.Ref.Filename)
	slog.Info("generation succeeded", "job_id", res.JobID, "artifact", res.Ref.Filename, "seed", res.Seed)
	return res, msg
}

func (s *Service) generate(ctx context.Context, req graphapi.Request) (*Result, error) {
	graph, err := s.builder.Build(req)
	if err != nil {
		return nil, err
	}

	handle, err := s.executor.Submit(ctx, graph)
	if err != nil {
		return nil, err
	}
	slog.Info("job submitted", "job_id", handle.ID)

	if s.notifier != nil && s.handlers != nil {
		unwatch := s.notifier.Watch(handle.ID, s.handlers)
		defer unwatch()
	}

	rec, err := s.waiter.Await(ctx, handle, graph, s.timeout)
	if err != nil {
		return nil, err
	}

	// the waiter guarantees at least one ref under the writer node
	ref := rec.Outputs[string(graph.OutputNodeID())][0]
	data, err := s.executor.FetchArtifact(ctx, ref)
	if err != nil {
		return nil, err
	}

	_, info, err := imageutil.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: artifact %s: %v", client.ErrProtocol, ref.Filename, err)
	}

	return &Result{
		JobID:  handle.ID,
		Ref:    ref,
		Image:  data,
		Format: info.Format,
		Width:  info.Width,
		Height: info.Height,
		Seed:   req.SeedOrFallback(),
	}, nil
}

// FailureMessage renders err as a message that begins with its failure kind.
func FailureMessage(err error) string {
	kind := failureKind(err)
	msg := err.Error()
	if strings.HasPrefix(msg, kind) {
		return msg
	}
	return kind + ": " + msg
}

func failureKind(err error) string {
	var cerr *graphapi.ConfigurationError
	switch {
	case errors.As(err, &cerr):
		return "configuration error"
	case errors.Is(err, client.ErrRemoteFailure):
		return client.ErrRemoteFailure.Error()
	case errors.Is(err, client.ErrProtocol):
		return client.ErrProtocol.Error()
	case errors.Is(err, client.ErrNotFound):
		return client.ErrNotFound.Error()
	case errors.Is(err, client.ErrTimedOut):
		return client.ErrTimedOut.Error()
	case errors.Is(err, client.ErrUnknownJob):
		return client.ErrUnknownJob.Error()
	case errors.Is(err, client.ErrTransport):
		return client.ErrTransport.Error()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	}
	return "error"
}
