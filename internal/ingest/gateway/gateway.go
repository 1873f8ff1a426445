// Package gateway implements the reference protocol ingestor: a Discord
// Gateway v10 WebSocket client with heartbeat/jitter, zombie detection,
// sequence-numbered resume, and exponential backoff reconnection.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sony/gobreaker"

	"github.com/wolpertingerlabs/mcp-secure-proxy/internal/ingest"
	"github.com/wolpertingerlabs/mcp-secure-proxy/internal/ingest/event"
)

// wsConn is the subset of *websocket.Conn the Gateway client drives. It
// exists so tests can substitute a fake without opening a real socket.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	Close() error
}

type dialerFunc func(ctx context.Context, url string) (wsConn, error)

func defaultDialer(ctx context.Context, url string) (wsConn, error) {
	d := websocket.Dialer{HandshakeTimeout: connectTimeout}
	conn, _, err := d.DialContext(ctx, url, http.Header{})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Gateway is the Discord Gateway v10 protocol ingestor.
type Gateway struct {
	*ingest.Base

	cfg    Config
	logger *slog.Logger
	dial   dialerFunc

	mu                  sync.Mutex
	heartbeatIntervalMs int
	heartbeatAcked      bool
	sequenceNumber      *int
	sessionID           string
	resumeGatewayURL    string
	reconnectAttempts   int

	conn wsConn

	stopCh chan struct{}
	doneCh chan struct{}

	breaker *gobreaker.CircuitBreaker
}

// New constructs a Gateway ingestor. token is taken from the resolved
// secrets map under "token" by the factory in register.go; New itself just
// takes the resolved value so the type stays easy to unit test.
func New(alias, instanceID string, cfg Config, bufferSize int, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{
		Base:           ingest.NewBase(alias, ingest.TypeWebSocket, instanceID, bufferSize, logger),
		cfg:            cfg.withDefaults(),
		logger:         logger,
		dial:           defaultDialer,
		heartbeatAcked: true,
	}
	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        alias + "-gateway-connect",
		MaxRequests: 1,
		Interval:    0, // never reset counts on a timer, only on a successful probe
		Timeout:     capBackoff,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// trips once consecutive dial failures alone exceed the
			// reconnect ceiling. runLoop's own attempt count reaches that
			// ceiling at the same failure or earlier, so within one run the
			// ingestor is already failed by the time the breaker opens.
			return counts.ConsecutiveFailures > uint32(g.cfg.MaxReconnectAttempts)
		},
	})
	return g
}

// Start opens the connection asynchronously; per spec it is safe to call
// repeatedly while already running.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	if g.stopCh != nil {
		g.mu.Unlock()
		return nil // already started
	}
	g.stopCh = make(chan struct{})
	g.doneCh = make(chan struct{})
	g.mu.Unlock()

	g.SetState(event.StateStarting)
	go g.runLoop(ctx)
	return nil
}

// Stop cancels timers, closes the socket with code 1000, and waits (up to a
// bounded time the caller enforces via ctx) for the run loop to exit. Safe
// to call from any state and safe to call more than once.
func (g *Gateway) Stop(ctx context.Context) error {
	g.mu.Lock()
	stopCh := g.stopCh
	doneCh := g.doneCh
	g.mu.Unlock()

	if stopCh == nil {
		g.SetState(event.StateStopped)
		return nil
	}

	g.StopOnce(func() { close(stopCh) })

	select {
	case <-doneCh:
	case <-ctx.Done():
		return ctx.Err()
	}
	g.SetState(event.StateStopped)
	return nil
}

// runLoop drives the connect -> session -> (reconnect | stop) cycle until
// Stop is called, a fatal close code is seen, or the reconnect attempts
// exceed MaxReconnectAttempts.
func (g *Gateway) runLoop(parentCtx context.Context) {
	defer close(g.doneCh)

	for {
		select {
		case <-g.stopCh:
			return
		default:
		}

		err := g.runSession(parentCtx)
		if errors.Is(err, errStopRequested) {
			return
		}
		if errors.Is(err, errFatal) {
			g.SetState(event.StateFailed)
			g.SetError(err)
			return
		}

		g.RecordReconnect()

		g.mu.Lock()
		g.reconnectAttempts++
		attempts := g.reconnectAttempts
		g.mu.Unlock()

		if attempts > g.cfg.MaxReconnectAttempts {
			g.SetState(event.StateFailed)
			g.SetError(fmt.Errorf("exceeded max reconnect attempts (%d): %w", g.cfg.MaxReconnectAttempts, err))
			return
		}

		g.SetState(event.StateReconnecting)
		g.SetError(err)
		delay := g.nextBackoff()
		g.logger.Info("gateway reconnecting",
			slog.String("connection", g.ConnectionAlias),
			slog.Int("attempt", attempts),
			slog.Duration("delay", delay),
			slog.Any("err", err))

		select {
		case <-g.stopCh:
			return
		case <-time.After(delay):
		}
	}
}

var (
	errStopRequested = errors.New("gateway: stop requested")
	errFatal         = errors.New("gateway: fatal close code")
)

// runSession owns exactly one WebSocket connection from dial to close.
func (g *Gateway) runSession(parentCtx context.Context) error {
	url := g.connectURL()

	dialResult, err := g.breaker.Execute(func() (any, error) {
		dialCtx, cancel := context.WithTimeout(parentCtx, connectTimeout)
		defer cancel()
		return g.dial(dialCtx, url)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			return fmt.Errorf("%w: circuit breaker open for %s: %w", errFatal, url, err)
		}
		return fmt.Errorf("dial %s: %w", url, err)
	}
	conn := dialResult.(wsConn)
	g.conn = conn
	defer conn.Close()

	g.logger.Info("gateway connected", slog.String("connection", g.ConnectionAlias), slog.String("url", url))

	frameCh := make(chan Frame)
	errCh := make(chan error, 1)
	go g.readPump(conn, frameCh, errCh)

	heartbeatTimer := time.NewTimer(time.Hour) // replaced once Hello sets the real interval
	defer heartbeatTimer.Stop()
	gotHello := false

	for {
		select {
		case <-g.stopCh:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return errStopRequested

		case err := <-errCh:
			code := closeCodeFromErr(err)
			if code != 0 && classifyClose(code) {
				return fmt.Errorf("%w: close code %d: %w", errFatal, code, err)
			}
			return err

		case frame := <-frameCh:
			switch frame.Op {
			case OpHello:
				var hello helloPayload
				_ = json.Unmarshal(frame.D, &hello)
				sendFrame, interval := g.onHello(hello)
				heartbeatTimer.Reset(jitteredFirstHeartbeat(interval))
				if err := g.writeFrame(conn, sendFrame); err != nil {
					return err
				}
				gotHello = true

			case OpDispatch:
				g.onDispatch(frame.S, frame.T, frame.D)

			case OpHeartbeat:
				if err := g.writeFrame(conn, buildHeartbeatAckFrame()); err != nil {
					return err
				}

			case OpHeartbeatAck:
				g.mu.Lock()
				g.heartbeatAcked = true
				g.mu.Unlock()

			case OpReconnect:
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(CloseUnknownError, "reconnect requested"),
					time.Now().Add(time.Second))
				return errors.New("gateway: server requested reconnect")

			case OpInvalidSession:
				var resumable bool
				_ = json.Unmarshal(frame.D, &resumable)
				wait := g.onInvalidSession(resumable)
				time.Sleep(wait)
				return errors.New("gateway: invalid session")
			}

		case <-heartbeatTimer.C:
			if !gotHello {
				continue
			}
			g.mu.Lock()
			acked := g.heartbeatAcked
			seq := g.sequenceNumber
			interval := g.heartbeatIntervalMs
			g.mu.Unlock()

			if !acked {
				g.logger.Error("zombie connection detected", slog.String("connection", g.ConnectionAlias))
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(closeZombieConnection, "zombie"),
					time.Now().Add(time.Second))
				return errors.New("gateway: zombie connection")
			}

			g.mu.Lock()
			g.heartbeatAcked = false
			g.mu.Unlock()
			if err := g.writeFrame(conn, buildHeartbeatFrame(seq)); err != nil {
				return err
			}
			heartbeatTimer.Reset(time.Duration(interval) * time.Millisecond)
		}
	}
}

func (g *Gateway) readPump(conn wsConn, frameCh chan<- Frame, errCh chan<- error) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			errCh <- err
			return
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			g.logger.Debug("dropping malformed gateway frame", slog.String("connection", g.ConnectionAlias), slog.Any("err", err))
			continue
		}
		frameCh <- f
	}
}

func (g *Gateway) writeFrame(conn wsConn, f Frame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, b)
}

func (g *Gateway) connectURL() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.resumeGatewayURL != "" {
		return g.resumeGatewayURL
	}
	return g.cfg.GatewayURL
}

// onHello applies an op-10 Hello frame: records the heartbeat interval and
// decides whether the next frame to send is Resume or Identify.
func (g *Gateway) onHello(hello helloPayload) (Frame, time.Duration) {
	g.mu.Lock()
	g.heartbeatIntervalMs = hello.HeartbeatIntervalMs
	g.heartbeatAcked = true
	sessionID := g.sessionID
	seq := g.sequenceNumber
	g.mu.Unlock()

	if sessionID != "" && seq != nil {
		return buildResumeFrame(g.cfg.Token, sessionID, *seq), time.Duration(hello.HeartbeatIntervalMs) * time.Millisecond
	}
	return buildIdentifyFrame(g.cfg.Token, g.cfg.Intents), time.Duration(hello.HeartbeatIntervalMs) * time.Millisecond
}

// onDispatch applies an op-0 Dispatch frame: bump sequenceNumber, capture
// READY session state, filter, and push the normalized event.
func (g *Gateway) onDispatch(s *int, t *string, data json.RawMessage) {
	if s != nil {
		g.mu.Lock()
		g.sequenceNumber = s
		g.mu.Unlock()
	}
	if t == nil {
		return
	}
	eventType := *t

	var decoded map[string]any
	_ = json.Unmarshal(data, &decoded)

	switch eventType {
	case "READY":
		var ready readyPayload
		_ = json.Unmarshal(data, &ready)
		g.mu.Lock()
		g.sessionID = ready.SessionID
		g.resumeGatewayURL = ready.ResumeGatewayURL
		g.reconnectAttempts = 0
		g.mu.Unlock()
		g.SetState(event.StateRunning)
		// READY/RESUMED are never filtered out, per spec.
	case "RESUMED":
		g.SetState(event.StateRunning)
	default:
		if !g.cfg.passesFilter(eventType) {
			return
		}
	}

	idempotencyKey := ""
	if id, ok := decoded["id"]; ok {
		if s, ok := id.(string); ok {
			idempotencyKey = s
		}
	}

	g.PushEvent(eventType, decoded, idempotencyKey)
}

// onInvalidSession applies an op-9 InvalidSession frame, per spec §4.5:
// if the session isn't resumable, session state is cleared so the next
// handshake is a fresh Identify. Returns the jittered backoff to wait
// before reconnecting.
func (g *Gateway) onInvalidSession(resumable bool) time.Duration {
	if !resumable {
		g.mu.Lock()
		g.sessionID = ""
		g.sequenceNumber = nil
		g.resumeGatewayURL = ""
		g.mu.Unlock()
	}
	return sessionInvalidMin + time.Duration(rand.Float64()*float64(sessionInvalidMax-sessionInvalidMin))
}

// nextBackoff computes the exponential-backoff-with-jitter reconnect delay.
func (g *Gateway) nextBackoff() time.Duration {
	g.mu.Lock()
	attempt := g.reconnectAttempts
	g.mu.Unlock()

	delay := baseBackoff * time.Duration(1<<uint(min(attempt, 20)))
	if delay > capBackoff {
		delay = capBackoff
	}
	jitter := time.Duration(rand.Float64() * float64(baseBackoff))
	return delay + jitter
}

func jitteredFirstHeartbeat(interval time.Duration) time.Duration {
	if interval <= 0 {
		return 0
	}
	return time.Duration(rand.Float64() * float64(interval))
}

// closeCodeFromErr extracts a WebSocket close code from an error returned
// by gorilla/websocket's ReadMessage, or 0 if it isn't a close error.
func closeCodeFromErr(err error) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return 0
}
