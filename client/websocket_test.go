package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{}

func fastReconnect() backoff.BackOff {
	return backoff.NewConstantBackOff(10 * time.Millisecond)
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for notification")
	}
	var zero T
	return zero
}

func TestNotificationURL(t *testing.T) {
	require.Equal(t, "ws://127.0.0.1:8188/ws?clientId=abc", notificationURL("http://127.0.0.1:8188", "abc"))
	require.Equal(t, "wss://comfy.example.com/ws?clientId=abc", notificationURL("https://comfy.example.com", "abc"))
}

func TestNotificationStreamRoutesByJob(t *testing.T) {
	release := make(chan struct{})
	var gotClientID atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotClientID.Store(r.URL.Query().Get("clientId"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		<-release
		for _, m := range []string{
			`{"type": "status", "data": {"status": {"exec_info": {"queue_remaining": 2}}}}`,
			`{"type": "progress", "data": {"value": 1, "max": 18, "node": "5", "jobId": "other-job"}}`,
			`{"type": "progress", "data": {"value": 1, "max": 18, "node": "5", "jobId": "job-1"}}`,
			`not json`,
			`{"type": "progress", "data": {"value": 2, "max": 18, "node": "5", "jobId": "job-1"}}`,
			`{"type": "execution_error", "data": {"jobId": "job-1", "node_id": "5", "exception_message": "sampler crashed"}}`,
		} {
			conn.WriteMessage(websocket.TextMessage, []byte(m))
		}
		// hold the connection until the client goes away
		conn.ReadMessage()
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	stream, err := c.OpenNotifications(context.Background(), WithReconnectBackoff(fastReconnect))
	require.NoError(t, err)
	defer stream.Close()
	require.Equal(t, c.ClientID(), gotClientID.Load())

	statuses := make(chan *NotificationStatus, 10)
	progress := make(chan *NotificationProgress, 10)
	failures := make(chan *NotificationError, 10)
	unwatch := stream.Watch("job-1", (&NotificationHandlers{}).
		WithStatusHandler(func(m *NotificationStatus) { statuses <- m }).
		WithProgressHandler(func(m *NotificationProgress) { progress <- m }).
		WithErrorHandler(func(m *NotificationError) { failures <- m }))
	defer unwatch()
	close(release)

	require.Equal(t, 2, receive(t, statuses).QueueRemaining)
	p := receive(t, progress)
	require.Equal(t, "job-1", p.JobID)
	require.Equal(t, 1, p.Value)
	require.Equal(t, 2, receive(t, progress).Value)
	require.Equal(t, "sampler crashed", receive(t, failures).ExceptionMessage)

	// the other job's progress was never delivered
	require.Len(t, progress, 0)
}

func TestNotificationStreamReconnects(t *testing.T) {
	var conns int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if atomic.AddInt32(&conns, 1) == 1 {
			<-release
			// drop the first connection
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type": "progress", "data": {"value": 7, "max": 18, "jobId": "job-1"}}`))
		conn.ReadMessage()
	}))
	defer srv.Close()

	stream, err := NewClient(srv.URL).OpenNotifications(context.Background(), WithReconnectBackoff(fastReconnect))
	require.NoError(t, err)
	defer stream.Close()

	progress := make(chan *NotificationProgress, 10)
	stream.Watch("job-1", (&NotificationHandlers{}).WithProgressHandler(func(m *NotificationProgress) { progress <- m }))
	close(release)

	require.Equal(t, 7, receive(t, progress).Value)
	require.GreaterOrEqual(t, atomic.LoadInt32(&conns), int32(2))
}

func TestOpenNotificationsGivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no websockets here", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).OpenNotifications(context.Background(),
		WithReconnectBackoff(fastReconnect), WithConnectRetries(2))
	require.ErrorIs(t, err, ErrTransport)
}

func TestNotificationStreamCloseIsIdempotent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.ReadMessage()
	}))
	defer srv.Close()

	stream, err := NewClient(srv.URL).OpenNotifications(context.Background())
	require.NoError(t, err)
	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close())
}
