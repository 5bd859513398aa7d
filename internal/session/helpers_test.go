package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/vovakirdan/wirechat-client/internal/log"
	"github.com/vovakirdan/wirechat-client/internal/proto"
)

// fakeConn captures outbound envelopes instead of hitting a network.
type fakeConn struct {
	mu     sync.Mutex
	sent   []proto.Envelope
	broken bool
}

func (f *fakeConn) WriteEnvelope(_ context.Context, env proto.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broken {
		return errors.New("write on broken channel")
	}
	f.sent = append(f.sent, env)
	return nil
}

func (f *fakeConn) Close(websocket.StatusCode, string) error { return nil }

func (f *fakeConn) sentOfType(messageType string) []proto.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []proto.Envelope
	for _, env := range f.sent {
		if env.MessageType == messageType {
			out = append(out, env)
		}
	}
	return out
}

type fakeFallback struct {
	mu    sync.Mutex
	calls []bool
	err   error
}

func (f *fakeFallback) SetAvailability(_ context.Context, _ string, available bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, available)
	return f.err
}

func (f *fakeFallback) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// newTestSession wires a session to a fake channel, already "connected".
func newTestSession(t *testing.T, username string, hooks Hooks, opts ...Option) (*Session, *fakeConn, *fakeFallback) {
	t.Helper()
	fb := &fakeFallback{}
	s := New(username, fb, hooks, log.Nop(), opts...)
	fc := &fakeConn{}
	attach(s, fc)
	return s, fc, fb
}

func attach(s *Session, fc *fakeConn) {
	s.mu.Lock()
	s.conn = fc
	s.connCtx = context.Background()
	s.connected = true
	s.mu.Unlock()
}

// dropChannel simulates an unusable channel without the close bookkeeping,
// the state LeaveRoom's degraded path is written for.
func dropChannel(s *Session) {
	s.mu.Lock()
	s.connected = false
	s.conn = nil
	s.mu.Unlock()
}

func deliver(t *testing.T, s *Session, messageType string, payload any) {
	t.Helper()
	env, err := proto.Encode(messageType, payload)
	if err != nil {
		t.Fatalf("encode %s: %v", messageType, err)
	}
	s.dispatch(env)
}

func deliverRaw(s *Session, messageType, data string) {
	s.dispatch(proto.Envelope{MessageType: messageType, Data: data})
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func strPtr(s string) *string { return &s }
