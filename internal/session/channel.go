package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/wirechat-client/internal/proto"
)

// wsConn abstracts the transport so tests can capture outbound envelopes.
type wsConn interface {
	WriteEnvelope(ctx context.Context, env proto.Envelope) error
	Close(code websocket.StatusCode, reason string) error
}

type realConn struct {
	c *websocket.Conn
}

func (r realConn) WriteEnvelope(ctx context.Context, env proto.Envelope) error {
	return wsjson.Write(ctx, r.c, env)
}

func (r realConn) Close(code websocket.StatusCode, reason string) error {
	return r.c.Close(code, reason)
}

// Connect dials the websocket and sends the Login intent as soon as the
// channel opens. Exactly one channel exists per session; calling Connect on an
// already-connected session is an error. There is no automatic reconnection:
// once the channel drops it stays down until the caller connects again.
func (s *Session) Connect(ctx context.Context, wsURL string) error {
	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		return errors.New("session already connected")
	}
	username := s.username
	s.mu.Unlock()

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}

	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	s.mu.Lock()
	s.conn = realConn{c: conn}
	s.connCtx = connCtx
	s.connCancel = cancel
	s.connected = true
	s.mu.Unlock()

	if !s.send(mustEncode(proto.TypeLogin, proto.LoginRequest{Username: username})) {
		s.Close()
		return errors.New("send login")
	}

	go s.readLoop(connCtx, conn)

	s.notify()
	return nil
}

func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var env proto.Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			s.channelDown(err)
			return
		}
		s.dispatch(env)
	}
}

// channelDown transitions to disconnected after a transport error. The local
// roster is cleared: the server has already told the other clients we left,
// so our copy of who is online can no longer be trusted.
func (s *Session) channelDown(err error) {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return
	}
	s.connected = false
	s.conn = nil
	s.roster = make(map[string]proto.User)
	s.rosterRev++
	cancel := s.connCancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		s.log.Info().Msg("channel closed")
	default:
		if errors.Is(err, context.Canceled) {
			s.log.Info().Msg("channel closed")
		} else {
			s.log.Warn().Err(err).Msg("channel closed with error")
		}
	}
	s.notify()
}

// Close tears the channel down. Idempotent; clears the roster like any other
// disconnect.
func (s *Session) Close() {
	s.mu.Lock()
	conn := s.conn
	cancel := s.connCancel
	was := s.connected
	s.conn = nil
	s.connected = false
	if was {
		s.roster = make(map[string]proto.User)
		s.rosterRev++
	}
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}
	if was {
		s.notify()
	}
}

// Logout closes the channel and synchronously wipes every derived store, so
// no event from this identity can leak into the next one.
func (s *Session) Logout() {
	s.Close()
	s.mu.Lock()
	s.reset()
	s.mu.Unlock()
	s.notify()
}

func (s *Session) forceLogout(reason string) {
	s.log.Info().Str("reason", reason).Msg("forced logout")
	s.Logout()
	if s.hooks.OnForcedLogout != nil {
		s.hooks.OnForcedLogout(reason)
	}
}

// send writes one envelope to the channel. It reports delivery as a boolean
// and never blocks on acknowledgment; false means the channel is not open or
// the write failed.
func (s *Session) send(env proto.Envelope) bool {
	s.mu.Lock()
	conn := s.conn
	ctx := s.connCtx
	ok := s.connected
	s.mu.Unlock()

	if !ok || conn == nil {
		return false
	}
	if err := conn.WriteEnvelope(ctx, env); err != nil {
		s.log.Warn().Err(err).Str("type", env.MessageType).Msg("send failed")
		return false
	}
	return true
}

func mustEncode(messageType string, payload any) proto.Envelope {
	env, err := proto.Encode(messageType, payload)
	if err != nil {
		// payload structs are all marshalable; this is unreachable in practice
		return proto.Envelope{MessageType: messageType}
	}
	return env
}
