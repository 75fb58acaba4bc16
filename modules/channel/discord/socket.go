package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const maxGatewayMessage = 4 << 20

var errSocketClosed = errors.New("discord: socket closed")

// DispatchHandler receives gateway dispatch events by name.
type DispatchHandler func(ctx context.Context, event string, data json.RawMessage)

// Socket maintains the Discord gateway websocket connection. It handles the
// hello/identify handshake, heartbeating, and session resume on reconnect,
// and forwards dispatch events to the handler.
type Socket struct {
	client  *Client
	token   string
	handler DispatchHandler
	logger  *slog.Logger

	mu         sync.Mutex
	conn       *websocket.Conn
	sessionID  string
	resumeURL  string
	lastSeq    int64
	cancel     context.CancelFunc
	done       chan struct{}
	started    bool
	gatewayURL string
}

// NewSocket creates a gateway socket. gatewayURL overrides the URL from
// GET /gateway/bot when non-empty.
func NewSocket(client *Client, token, gatewayURL string, handler DispatchHandler, logger *slog.Logger) *Socket {
	return &Socket{
		client:     client,
		token:      token,
		handler:    handler,
		logger:     logger,
		gatewayURL: gatewayURL,
	}
}

// Start connects to the gateway and runs the read loop in the background,
// reconnecting with backoff until Stop is called.
func (s *Socket) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("discord: socket already started")
	}
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.started = true
	s.mu.Unlock()

	// First connection is synchronous so Start surfaces bad tokens.
	if err := s.connect(ctx); err != nil {
		cancel()
		s.mu.Lock()
		s.started = false
		s.mu.Unlock()
		return err
	}

	go s.run(runCtx)
	return nil
}

// Stop closes the connection and waits for the read loop to exit.
func (s *Socket) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.cancel()
	conn := s.conn
	done := s.done
	s.started = false
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "shutting down")
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Socket) run(ctx context.Context) {
	defer close(s.done)

	backoff := time.Second
	for {
		err := s.readLoop(ctx)
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("discord: gateway disconnected, reconnecting",
			"error", err, "backoff", backoff)

		timer := time.NewTimer(backoff + time.Duration(rand.Int63n(int64(time.Second))))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}

		if err := s.connect(ctx); err != nil {
			s.logger.Error("discord: gateway reconnect failed", "error", err)
			continue
		}
		backoff = time.Second
	}
}

// connect dials the gateway, performs the hello handshake, and identifies or
// resumes. It leaves the connection ready for readLoop.
func (s *Socket) connect(ctx context.Context) error {
	s.mu.Lock()
	url := s.resumeURL
	resuming := url != "" && s.sessionID != ""
	s.mu.Unlock()

	if !resuming {
		url = s.gatewayURL
		if url == "" {
			gw, err := s.client.GetGatewayBot(ctx)
			if err != nil {
				return fmt.Errorf("discord: resolve gateway url: %w", err)
			}
			url = gw.URL
		}
	}

	dialCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, url+"?v=10&encoding=json", nil)
	if err != nil {
		return fmt.Errorf("discord: dial gateway: %w", err)
	}
	conn.SetReadLimit(maxGatewayMessage)

	payload, err := s.read(ctx, conn)
	if err != nil {
		_ = conn.Close(websocket.StatusProtocolError, "no hello")
		return fmt.Errorf("discord: await hello: %w", err)
	}
	if payload.Op != opHello {
		_ = conn.Close(websocket.StatusProtocolError, "expected hello")
		return fmt.Errorf("discord: expected hello, got op %d", payload.Op)
	}
	var hello helloData
	if err := json.Unmarshal(payload.Data, &hello); err != nil {
		_ = conn.Close(websocket.StatusProtocolError, "bad hello")
		return fmt.Errorf("discord: decode hello: %w", err)
	}

	if resuming {
		s.mu.Lock()
		resume := resumeData{Token: s.token, SessionID: s.sessionID, Seq: s.lastSeq}
		s.mu.Unlock()
		err = s.write(ctx, conn, gatewayPayload{Op: opResume, Data: mustMarshal(resume)})
	} else {
		identify := identifyData{
			Token:   s.token,
			Intents: 0,
			Properties: identifyProperties{
				OS: "linux", Browser: "cooldownd", Device: "cooldownd",
			},
		}
		err = s.write(ctx, conn, gatewayPayload{Op: opIdentify, Data: mustMarshal(identify)})
	}
	if err != nil {
		_ = conn.Close(websocket.StatusProtocolError, "handshake failed")
		return fmt.Errorf("discord: handshake: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	interval := time.Duration(hello.HeartbeatInterval) * time.Millisecond
	go s.heartbeat(ctx, conn, interval)

	return nil
}

// readLoop processes gateway payloads until the connection drops.
func (s *Socket) readLoop(ctx context.Context) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return errSocketClosed
	}

	for {
		payload, err := s.read(ctx, conn)
		if err != nil {
			return err
		}

		switch payload.Op {
		case opDispatch:
			// The sequence number is null on non-dispatch ops and should
			// only advance when present.
			if payload.Seq != nil {
				s.mu.Lock()
				s.lastSeq = *payload.Seq
				s.mu.Unlock()
			}
			s.handleDispatch(ctx, payload)
		case opHeartbeat:
			s.mu.Lock()
			seq := s.lastSeq
			s.mu.Unlock()
			if err := s.write(ctx, conn, gatewayPayload{Op: opHeartbeat, Data: mustMarshal(seq)}); err != nil {
				return err
			}
		case opHeartbeatACK:
			// Healthy.
		case opReconnect:
			_ = conn.Close(websocket.StatusNormalClosure, "reconnect requested")
			return errors.New("discord: gateway requested reconnect")
		case opInvalidSession:
			// Session is gone. Drop resume state so reconnect re-identifies.
			s.mu.Lock()
			s.sessionID = ""
			s.resumeURL = ""
			s.mu.Unlock()
			_ = conn.Close(websocket.StatusNormalClosure, "invalid session")
			return errors.New("discord: gateway invalidated session")
		}
	}
}

func (s *Socket) handleDispatch(ctx context.Context, payload gatewayPayload) {
	if payload.Type == "READY" {
		var ready readyData
		if err := json.Unmarshal(payload.Data, &ready); err != nil {
			s.logger.Warn("discord: decode ready", "error", err)
			return
		}
		s.mu.Lock()
		s.sessionID = ready.SessionID
		s.resumeURL = ready.ResumeGatewayURL
		s.mu.Unlock()
		s.logger.Info("discord: gateway ready",
			"session_id", ready.SessionID, "user", ready.User.Username)
		return
	}
	if payload.Type == "RESUMED" {
		s.logger.Info("discord: gateway session resumed")
		return
	}
	if s.handler != nil {
		s.handler(ctx, payload.Type, payload.Data)
	}
}

func (s *Socket) heartbeat(ctx context.Context, conn *websocket.Conn, interval time.Duration) {
	// First beat after interval*jitter per the gateway contract.
	timer := time.NewTimer(time.Duration(float64(interval) * rand.Float64()))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		s.mu.Lock()
		current := s.conn
		seq := s.lastSeq
		s.mu.Unlock()
		if current != conn {
			return
		}

		if err := s.write(ctx, conn, gatewayPayload{Op: opHeartbeat, Data: mustMarshal(seq)}); err != nil {
			_ = conn.Close(websocket.StatusProtocolError, "heartbeat failed")
			return
		}
		timer.Reset(interval)
	}
}

func (s *Socket) read(ctx context.Context, conn *websocket.Conn) (gatewayPayload, error) {
	var payload gatewayPayload
	_, data, err := conn.Read(ctx)
	if err != nil {
		return payload, err
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return payload, fmt.Errorf("discord: decode gateway payload: %w", err)
	}
	return payload, nil
}

func (s *Socket) write(ctx context.Context, conn *websocket.Conn, payload gatewayPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("discord: encode gateway payload: %w", err)
	}
	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
