package devstub

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vovakirdan/wirechat-client/internal/api"
	"github.com/vovakirdan/wirechat-client/internal/log"
	"github.com/vovakirdan/wirechat-client/internal/proto"
	"github.com/vovakirdan/wirechat-client/internal/session"
)

func startStub(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	srv := httptest.NewServer(New(log.Nop()).Router())
	t.Cleanup(srv.Close)
	return srv, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func connect(t *testing.T, srv *httptest.Server, wsURL, username string, hooks session.Hooks) *session.Session {
	t.Helper()
	httpClient := api.New(srv.URL, 5*time.Second)
	if err := httpClient.CheckUsername(context.Background(), username); err != nil {
		t.Fatalf("pre-check for %s: %v", username, err)
	}
	s := session.New(username, httpClient, hooks, log.Nop())
	if err := s.Connect(context.Background(), wsURL); err != nil {
		t.Fatalf("connect %s: %v", username, err)
	}
	t.Cleanup(s.Logout)
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestLoginAndPresenceFlow(t *testing.T) {
	srv, wsURL := startStub(t)

	alice := connect(t, srv, wsURL, "alice", session.Hooks{})
	waitFor(t, "alice session id", func() bool { return alice.SessionID() != "" })

	bob := connect(t, srv, wsURL, "bob", session.Hooks{})
	waitFor(t, "rosters to converge", func() bool {
		return len(alice.Snapshot().Users) == 2 && len(bob.Snapshot().Users) == 2
	})

	bob.Logout()
	waitFor(t, "bob to disappear from alice's roster", func() bool {
		users := alice.Snapshot().Users
		return len(users) == 1 && users[0].Username == "alice"
	})
}

func TestSecondLoginWithSameUsernameRejected(t *testing.T) {
	srv, wsURL := startStub(t)

	alice := connect(t, srv, wsURL, "alice", session.Hooks{})
	waitFor(t, "alice login", func() bool { return alice.SessionID() != "" })

	httpClient := api.New(srv.URL, 5*time.Second)
	if err := httpClient.CheckUsername(context.Background(), "alice"); err == nil {
		t.Fatal("pre-check should reject a live username")
	}

	// a client that skips the pre-check gets the error over the socket
	dup := session.New("alice", httpClient, session.Hooks{}, log.Nop())
	if err := dup.Connect(context.Background(), wsURL); err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(dup.Logout)

	waitFor(t, "login error", func() bool { return dup.Snapshot().LoginError != "" })
}

func TestInviteAcceptDeliversReady(t *testing.T) {
	srv, wsURL := startStub(t)

	ready := make(chan proto.ChatReady, 1)
	alice := connect(t, srv, wsURL, "alice", session.Hooks{
		OnRoomReady: func(r proto.ChatReady) { ready <- r },
	})
	bob := connect(t, srv, wsURL, "bob", session.Hooks{})
	waitFor(t, "logins", func() bool { return alice.SessionID() != "" && bob.SessionID() != "" })

	chatID, ok := alice.SendInvite(proto.ChatPrivate, "bob", nil, "join me")
	if !ok {
		t.Fatal("invite send failed")
	}

	waitFor(t, "bob's invite", func() bool { return len(bob.Snapshot().Invites) == 1 })
	inv := bob.Snapshot().Invites[0]
	if inv.From != "alice" || inv.Message != "join me" {
		t.Fatalf("unexpected invite: %+v", inv)
	}

	if !bob.RespondToInvite(inv, true) {
		t.Fatal("accept failed")
	}

	select {
	case r := <-ready:
		if r.ChatID != chatID || r.AcceptedBy != "bob" {
			t.Fatalf("unexpected ready: %+v", r)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("ready notice never arrived")
	}
}

func TestInviteDeclineDeliversNotice(t *testing.T) {
	srv, wsURL := startStub(t)

	alice := connect(t, srv, wsURL, "alice", session.Hooks{})
	bob := connect(t, srv, wsURL, "bob", session.Hooks{})
	waitFor(t, "logins", func() bool { return alice.SessionID() != "" && bob.SessionID() != "" })

	if _, ok := alice.SendInvite(proto.ChatPrivate, "bob", nil, ""); !ok {
		t.Fatal("invite send failed")
	}
	waitFor(t, "bob's invite", func() bool { return len(bob.Snapshot().Invites) == 1 })

	bob.RespondToInvite(bob.Snapshot().Invites[0], false)

	waitFor(t, "alice's decline notice", func() bool {
		declined := alice.Snapshot().Declined
		return len(declined) == 1 && declined[0].RespondingUser == "bob"
	})
	if len(alice.Snapshot().Ready) != 0 {
		t.Fatal("decline produced a ready notice")
	}
}

func TestChatMessageRoundTrip(t *testing.T) {
	srv, wsURL := startStub(t)

	alice := connect(t, srv, wsURL, "alice", session.Hooks{})
	bob := connect(t, srv, wsURL, "bob", session.Hooks{})
	waitFor(t, "logins", func() bool { return alice.SessionID() != "" && bob.SessionID() != "" })

	chatID := "room-1"
	if !alice.SendMessage("hello bob", proto.ChatPrivate, "bob", nil, &chatID) {
		t.Fatal("send failed")
	}

	// sender sees the echo classified as own, receiver as other
	waitFor(t, "echo to alice", func() bool {
		msgs := alice.Snapshot().Messages
		return len(msgs) == 1 && msgs[0].Class == session.ClassOwn
	})
	waitFor(t, "delivery to bob", func() bool {
		msgs := bob.Snapshot().Messages
		return len(msgs) == 1 && msgs[0].Class == session.ClassOther && msgs[0].Content == "hello bob"
	})
}
