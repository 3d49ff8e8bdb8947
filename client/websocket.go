package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

// DefaultConnectRetries is how many times OpenNotifications retries the
// initial dial before giving up.
const DefaultConnectRetries = 5

// NotificationStream receives the executor's websocket notifications for
// one client id and routes them to per-job handlers. A dropped connection
// is re-dialed in the background until Close.
type NotificationStream struct {
	url            string
	dialer         websocket.Dialer
	newBackoff     func() backoff.BackOff
	connectRetries uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex // guards conn and watchers
	conn     *websocket.Conn
	watchers map[string]*NotificationHandlers
}

type StreamOption func(*NotificationStream)

// WithDialer replaces the websocket dialer.
func WithDialer(d websocket.Dialer) StreamOption {
	return func(s *NotificationStream) {
		s.dialer = d
	}
}

// WithReconnectBackoff supplies the delay between dial attempts. factory is
// called once for the initial connect and once per reconnect.
func WithReconnectBackoff(factory func() backoff.BackOff) StreamOption {
	return func(s *NotificationStream) {
		s.newBackoff = factory
	}
}

// WithConnectRetries bounds the retries of the initial dial.
func WithConnectRetries(n uint64) StreamOption {
	return func(s *NotificationStream) {
		s.connectRetries = n
	}
}

func defaultReconnectBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// notificationURL maps the executor's http(s) address to its websocket endpoint.
func notificationURL(baseURL, clientID string) string {
	u := baseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws?clientId=" + clientID
}

// OpenNotifications connects to the executor's notification endpoint for
// this client's id. The initial dial is retried with backoff; ctx bounds
// only that initial connect.
func (c *Client) OpenNotifications(ctx context.Context, opts ...StreamOption) (*NotificationStream, error) {
	s := &NotificationStream{
		url:            notificationURL(c.baseURL, c.clientid),
		dialer:         *websocket.DefaultDialer,
		newBackoff:     defaultReconnectBackoff,
		connectRetries: DefaultConnectRetries,
		watchers:       make(map[string]*NotificationHandlers),
	}
	for _, opt := range opts {
		opt(s)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(s.newBackoff(), s.connectRetries), ctx)
	conn, err := s.dial(ctx, b)
	if err != nil {
		return nil, transportError("connecting to %s: %v", s.url, err)
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.conn = conn
	s.wg.Add(1)
	go s.run(conn)
	return s, nil
}

func (s *NotificationStream) dial(ctx context.Context, b backoff.BackOff) (*websocket.Conn, error) {
	var conn *websocket.Conn
	err := backoff.RetryNotify(func() error {
		c, _, err := s.dialer.DialContext(ctx, s.url, nil)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}, b, func(err error, next time.Duration) {
		slog.Warn("notification connect failed, will retry", "url", s.url, "error", err, "next", next)
	})
	return conn, err
}

// Watch routes notifications for jobID to h until the returned function is
// called. Queue status broadcasts go to every watcher.
func (s *NotificationStream) Watch(jobID string, h *NotificationHandlers) (unwatch func()) {
	s.mu.Lock()
	s.watchers[jobID] = h
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		if s.watchers[jobID] == h {
			delete(s.watchers, jobID)
		}
		s.mu.Unlock()
	}
}

// Close stops the stream and waits for its goroutine to exit. It is safe to
// call more than once.
func (s *NotificationStream) Close() error {
	s.cancel()
	s.mu.Lock()
	if s.conn != nil {
		// the read loop may already have closed it
		s.conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return nil
}

func (s *NotificationStream) run(conn *websocket.Conn) {
	defer s.wg.Done()
	for {
		s.readMessages(conn)
		conn.Close()
		if s.ctx.Err() != nil {
			return
		}

		slog.Warn("notification stream dropped, reconnecting", "url", s.url)
		next, err := s.dial(s.ctx, backoff.WithContext(s.newBackoff(), s.ctx))
		if err != nil {
			if s.ctx.Err() == nil {
				slog.Error("notification stream gave up reconnecting", "url", s.url, "error", err)
			}
			return
		}

		s.mu.Lock()
		if s.ctx.Err() != nil {
			s.mu.Unlock()
			next.Close()
			return
		}
		s.conn = next
		s.mu.Unlock()
		conn = next
	}
}

func (s *NotificationStream) readMessages(conn *websocket.Conn) {
	for {
		mt, message, err := conn.ReadMessage()
		if err != nil {
			if s.ctx.Err() == nil {
				slog.Warn("notification read error", "error", err)
			}
			return
		}
		if mt != websocket.TextMessage {
			// binary frames carry preview images
			continue
		}

		n := &Notification{}
		if err := json.Unmarshal(message, n); err != nil {
			slog.Warn("undecodable notification", "error", err, "message", fmt.Sprintf("%.200s", message))
			continue
		}
		s.route(n)
	}
}

func (s *NotificationStream) route(n *Notification) {
	jobID := n.JobID()

	s.mu.Lock()
	var targets []*NotificationHandlers
	if jobID == "" {
		targets = make([]*NotificationHandlers, 0, len(s.watchers))
		for _, h := range s.watchers {
			targets = append(targets, h)
		}
	} else if h, ok := s.watchers[jobID]; ok {
		targets = []*NotificationHandlers{h}
	}
	s.mu.Unlock()

	if len(targets) == 0 {
		slog.Debug("notification for unwatched job", "type", n.Type, "job_id", jobID)
		return
	}
	for _, h := range targets {
		h.dispatch(n)
	}
}
