package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/wolpertingerlabs/mcp-secure-proxy/internal/ingest/event"
)

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	return New("discord-test", "", Config{Token: "tok", Intents: AllNonPrivilegedIntents}, 10, nil)
}

// fakeConn is a wsConn that serves a fixed script of frames and otherwise
// blocks ReadMessage until Close is called, so readPump exits cleanly
// instead of leaking once a session-level test tears the gateway down.
type fakeConn struct {
	mu     sync.Mutex
	frames []Frame
	idx    int
	writes []Frame

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeConn(frames ...Frame) *fakeConn {
	return &fakeConn{frames: frames, closed: make(chan struct{})}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	f.mu.Lock()
	if f.idx < len(f.frames) {
		fr := f.frames[f.idx]
		f.idx++
		f.mu.Unlock()
		b, err := json.Marshal(fr)
		return websocket.TextMessage, b, err
	}
	f.mu.Unlock()

	<-f.closed
	return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	var fr Frame
	if err := json.Unmarshal(data, &fr); err != nil {
		return err
	}
	f.mu.Lock()
	f.writes = append(f.writes, fr)
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) WriteControl(messageType int, data []byte, deadline time.Time) error {
	return nil
}

func (f *fakeConn) SetReadDeadline(t time.Time) error { return nil }

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func helloFrame(intervalMs int) Frame {
	return Frame{Op: OpHello, D: encodeData(helloPayload{HeartbeatIntervalMs: intervalMs})}
}

// TestRunSession_ZombieConnectionClosesAndReturnsError drives a real
// runSession over a fake wsConn: Hello arrives with a tiny heartbeat
// interval, the fake never acks the client's heartbeat, and the zombie
// check on the following tick must close with 4009 and return an error
// runLoop treats as reconnectable.
func TestRunSession_ZombieConnectionClosesAndReturnsError(t *testing.T) {
	g := newTestGateway(t)
	conn := newFakeConn(helloFrame(5))
	g.dial = func(ctx context.Context, url string) (wsConn, error) { return conn, nil }
	g.stopCh = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- g.runSession(context.Background()) }()

	select {
	case err := <-done:
		require.Error(t, err)
		require.Contains(t, err.Error(), "zombie")
		require.False(t, errors.Is(err, errStopRequested))
	case <-time.After(2 * time.Second):
		t.Fatal("runSession did not return after zombie detection")
	}
}

// TestRunLoop_ExceedsMaxReconnectAttemptsFlipsToFailed drives the full
// runLoop with a dialer that always fails. With MaxReconnectAttempts set to
// 0, the very first failure must exceed the ceiling and flip status to
// failed without ever sleeping through a backoff.
func TestRunLoop_ExceedsMaxReconnectAttemptsFlipsToFailed(t *testing.T) {
	g := newTestGateway(t)
	g.cfg.MaxReconnectAttempts = 0

	dialErr := errors.New("boom: connection refused")
	g.dial = func(ctx context.Context, url string) (wsConn, error) { return nil, dialErr }
	g.stopCh = make(chan struct{})
	g.doneCh = make(chan struct{})

	done := make(chan struct{})
	go func() {
		g.runLoop(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runLoop did not return after exceeding max reconnect attempts")
	}

	status := g.GetStatus()
	require.Equal(t, event.StateFailed, status.State)
	require.Contains(t, status.Error, "exceeded max reconnect attempts")
}

func TestOnHello_NoSessionSendsIdentify(t *testing.T) {
	g := newTestGateway(t)

	frame, interval := g.onHello(helloPayload{HeartbeatIntervalMs: 41250})

	require.Equal(t, OpIdentify, frame.Op)
	require.Equal(t, 41250*time.Millisecond, interval)

	var payload identifyPayload
	require.NoError(t, json.Unmarshal(frame.D, &payload))
	require.Equal(t, "tok", payload.Token)
	require.Equal(t, AllNonPrivilegedIntents, payload.Intents)
	require.Equal(t, "mcp-secure-proxy", payload.Properties.Browser)
}

func TestOnHello_WithSessionSendsResume(t *testing.T) {
	g := newTestGateway(t)
	seq := 42
	g.sessionID = "abc123"
	g.sequenceNumber = &seq

	frame, _ := g.onHello(helloPayload{HeartbeatIntervalMs: 30000})

	require.Equal(t, OpResume, frame.Op)
	var payload resumePayload
	require.NoError(t, json.Unmarshal(frame.D, &payload))
	require.Equal(t, "abc123", payload.SessionID)
	require.Equal(t, 42, payload.Seq)
	require.Equal(t, "tok", payload.Token)
}

func TestOnDispatch_ReadyCapturesSessionState(t *testing.T) {
	g := newTestGateway(t)
	seq := 1
	ready := readyPayload{SessionID: "sess-1", ResumeGatewayURL: "wss://resume.example/"}
	data, _ := json.Marshal(ready)
	typ := "READY"

	g.onDispatch(&seq, &typ, data)

	require.Equal(t, "sess-1", g.sessionID)
	require.Equal(t, "wss://resume.example/", g.resumeGatewayURL)
	require.Equal(t, 0, g.reconnectAttempts)
	require.Equal(t, &seq, g.sequenceNumber)

	events := g.GetEvents(-1)
	require.Len(t, events, 1)
	require.Equal(t, "READY", events[0].EventType)
}

func TestOnDispatch_FiltersNonReadyEvents(t *testing.T) {
	g := newTestGateway(t)
	g.cfg.EventFilter = map[string]struct{}{"MESSAGE_CREATE": {}}

	seq := 2
	typ := "TYPING_START"
	g.onDispatch(&seq, &typ, []byte(`{}`))
	require.Empty(t, g.GetEvents(-1))

	typ2 := "MESSAGE_CREATE"
	g.onDispatch(&seq, &typ2, []byte(`{"id":"msg-1"}`))
	events := g.GetEvents(-1)
	require.Len(t, events, 1)
	require.Equal(t, "msg-1", events[0].IdempotencyKey)
}

func TestOnDispatch_DedupesRepeatedEventID(t *testing.T) {
	g := newTestGateway(t)
	seq := 3
	typ := "MESSAGE_CREATE"

	g.onDispatch(&seq, &typ, []byte(`{"id":"dup-1"}`))
	g.onDispatch(&seq, &typ, []byte(`{"id":"dup-1"}`))

	require.Len(t, g.GetEvents(-1), 1)
}

func TestOnInvalidSession_NonResumableClearsState(t *testing.T) {
	g := newTestGateway(t)
	seq := 7
	g.sessionID = "sess-1"
	g.sequenceNumber = &seq
	g.resumeGatewayURL = "wss://resume.example/"

	wait := g.onInvalidSession(false)

	require.Empty(t, g.sessionID)
	require.Nil(t, g.sequenceNumber)
	require.Empty(t, g.resumeGatewayURL)
	require.GreaterOrEqual(t, wait, sessionInvalidMin)
	require.LessOrEqual(t, wait, sessionInvalidMax)
}

func TestOnInvalidSession_ResumablePreservesState(t *testing.T) {
	g := newTestGateway(t)
	seq := 7
	g.sessionID = "sess-1"
	g.sequenceNumber = &seq

	g.onInvalidSession(true)

	require.Equal(t, "sess-1", g.sessionID)
	require.Equal(t, &seq, g.sequenceNumber)
}

func TestClassifyClose_FatalVsReconnectable(t *testing.T) {
	require.True(t, classifyClose(CloseAuthenticationFailed))
	require.True(t, classifyClose(CloseInvalidIntents))
	require.True(t, classifyClose(CloseDisallowedIntents))
	require.False(t, classifyClose(CloseUnknownError))
	require.False(t, classifyClose(closeZombieConnection))
	require.False(t, classifyClose(1006))
}

func TestNextBackoff_GrowsAndCaps(t *testing.T) {
	g := newTestGateway(t)

	g.reconnectAttempts = 0
	d0 := g.nextBackoff()
	require.GreaterOrEqual(t, d0, baseBackoff)
	require.Less(t, d0, baseBackoff*2)

	g.reconnectAttempts = 10
	d10 := g.nextBackoff()
	require.LessOrEqual(t, d10, capBackoff+baseBackoff)
}
