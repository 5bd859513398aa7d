// Package session implements the realtime session and presence engine of the
// chat client: it owns the single websocket channel for the logged-in user,
// routes every inbound event by type, and maintains the derived state a UI
// reads as one composed snapshot (roster, message log, invites, ready and
// declined notices, per-room membership, alone and abandoned flags).
package session

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-client/internal/proto"
)

// Classification says how a message should be rendered. It is derived locally
// from the sender, never trusted from the wire.
type Classification string

const (
	ClassOwn    Classification = "own"
	ClassOther  Classification = "other"
	ClassSystem Classification = "system"
)

// Message is one entry of the per-room message log.
type Message struct {
	ID        string
	ChatID    *string
	Sender    string
	Content   string
	Timestamp time.Time
	Class     Classification
}

// AvailabilityFallback is the HTTP degraded-mode path the leave guard uses
// when the channel is unusable. *api.Client satisfies it.
type AvailabilityFallback interface {
	SetAvailability(ctx context.Context, username string, available bool) error
}

// Hooks are the collaborator callbacks the engine triggers. All are optional
// and are invoked outside the session lock.
type Hooks struct {
	// OnRoomReady fires when an invite acceptance makes a room openable.
	OnRoomReady func(proto.ChatReady)
	// OnForcedLogout fires after the grace period following a fatal login
	// error; the session is already closed and reset when it runs.
	OnForcedLogout func(reason string)
	// OnUpdate fires after any state change a UI might want to re-render.
	OnUpdate func()
}

// Session owns all connection and derived state for one logged-in identity.
// Everything it holds is reset on logout so nothing bleeds into the next login.
type Session struct {
	log        *zerolog.Logger
	hooks      Hooks
	fallback   AvailabilityFallback
	loginGrace time.Duration

	mu        sync.Mutex
	username  string
	sessionID string
	loginErr  string
	connected bool

	conn       wsConn
	connCtx    context.Context
	connCancel context.CancelFunc

	roster    map[string]proto.User
	rosterRev uint64

	messages  []Message
	invites   []proto.ChatInvite
	ready     []proto.ChatReady
	declined  []proto.InviteResponseNotify
	alone     map[string]bool
	counts    map[string]proto.ChatUsersCount
	abandoned map[string]proto.ChatAbandoned
	leftUsers map[string]map[string]struct{}

	// leave guard; see LeaveRoom
	leaving    atomic.Bool
	inRoom     bool
	roomKind   proto.ChatKind
	roomTarget string
	roomMemb   []string
	roomChatID *string

	graceTimer *time.Timer
}

// Option tweaks session construction.
type Option func(*Session)

// WithLoginGrace overrides the delay between a "username taken" error and the
// forced logout.
func WithLoginGrace(d time.Duration) Option {
	return func(s *Session) { s.loginGrace = d }
}

// New builds a session for the given username. The username must already have
// passed the HTTP pre-check; the session sends the Login intent itself once
// the channel opens.
func New(username string, fallback AvailabilityFallback, hooks Hooks, logger *zerolog.Logger, opts ...Option) *Session {
	s := &Session{
		log:        logger,
		hooks:      hooks,
		fallback:   fallback,
		loginGrace: 3 * time.Second,
		username:   username,
		roster:     make(map[string]proto.User),
		alone:      make(map[string]bool),
		counts:     make(map[string]proto.ChatUsersCount),
		abandoned:  make(map[string]proto.ChatAbandoned),
		leftUsers:  make(map[string]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Username returns the identity this session was created for.
func (s *Session) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username
}

// SessionID returns the server-assigned session id, or "" before login
// succeeds. Distinct from the username: one user may hold several sessions.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Connected reports whether the channel is currently open.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Snapshot is the composed read-model a UI renders from.
type Snapshot struct {
	Username   string
	SessionID  string
	Connected  bool
	LoginError string

	Users     []proto.User
	RosterRev uint64

	Messages  []Message
	Invites   []proto.ChatInvite
	Ready     []proto.ChatReady
	Declined  []proto.InviteResponseNotify
	Alone     map[string]bool
	Counts    map[string]proto.ChatUsersCount
	Abandoned map[string]proto.ChatAbandoned
	LeftUsers map[string][]string
}

// Snapshot copies the current state. Users are sorted by username; the
// underlying stores are never exposed.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Username:   s.username,
		SessionID:  s.sessionID,
		Connected:  s.connected,
		LoginError: s.loginErr,
		RosterRev:  s.rosterRev,
		Users:      make([]proto.User, 0, len(s.roster)),
		Messages:   append([]Message(nil), s.messages...),
		Invites:    append([]proto.ChatInvite(nil), s.invites...),
		Ready:      append([]proto.ChatReady(nil), s.ready...),
		Declined:   append([]proto.InviteResponseNotify(nil), s.declined...),
		Alone:      make(map[string]bool, len(s.alone)),
		Counts:     make(map[string]proto.ChatUsersCount, len(s.counts)),
		Abandoned:  make(map[string]proto.ChatAbandoned, len(s.abandoned)),
		LeftUsers:  make(map[string][]string, len(s.leftUsers)),
	}
	for _, u := range s.roster {
		snap.Users = append(snap.Users, u)
	}
	sort.Slice(snap.Users, func(i, j int) bool { return snap.Users[i].Username < snap.Users[j].Username })
	for k, v := range s.alone {
		snap.Alone[k] = v
	}
	for k, v := range s.counts {
		snap.Counts[k] = v
	}
	for k, v := range s.abandoned {
		snap.Abandoned[k] = v
	}
	for chatID, set := range s.leftUsers {
		names := make([]string, 0, len(set))
		for name := range set {
			names = append(names, name)
		}
		sort.Strings(names)
		snap.LeftUsers[chatID] = names
	}
	return snap
}

// reset clears every derived store. Caller holds the lock. The abandoned map
// included: "terminal" means terminal within one identity's session, not
// across logins.
func (s *Session) reset() {
	s.sessionID = ""
	s.loginErr = ""
	s.roster = make(map[string]proto.User)
	s.rosterRev++
	s.messages = nil
	s.invites = nil
	s.ready = nil
	s.declined = nil
	s.alone = make(map[string]bool)
	s.counts = make(map[string]proto.ChatUsersCount)
	s.abandoned = make(map[string]proto.ChatAbandoned)
	s.leftUsers = make(map[string]map[string]struct{})
	s.inRoom = false
	s.roomKind = ""
	s.roomTarget = ""
	s.roomMemb = nil
	s.roomChatID = nil
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
}

// notify invokes the update hook. Must be called without the lock held.
func (s *Session) notify() {
	if s.hooks.OnUpdate != nil {
		s.hooks.OnUpdate()
	}
}

// DismissReady removes ready notices for chatID (the UI acted on them).
func (s *Session) DismissReady(chatID string) {
	s.mu.Lock()
	kept := s.ready[:0]
	for _, r := range s.ready {
		if r.ChatID != chatID {
			kept = append(kept, r)
		}
	}
	s.ready = kept
	s.mu.Unlock()
	s.notify()
}

// DismissDecline removes decline notices matching either an invite id or a
// chat id, whichever the UI has at hand.
func (s *Session) DismissDecline(idOrChatID string) {
	s.mu.Lock()
	kept := s.declined[:0]
	for _, d := range s.declined {
		if d.InviteID == idOrChatID {
			continue
		}
		if d.ChatID != nil && *d.ChatID == idOrChatID {
			continue
		}
		kept = append(kept, d)
	}
	s.declined = kept
	s.mu.Unlock()
	s.notify()
}

// ClearNotifications drops all pending invites, ready and decline notices.
func (s *Session) ClearNotifications() {
	s.mu.Lock()
	s.invites = nil
	s.ready = nil
	s.declined = nil
	s.mu.Unlock()
	s.notify()
}
