package session

import (
	"strings"
	"time"

	"github.com/vovakirdan/wirechat-client/internal/proto"
)

// dispatch routes one inbound envelope to exactly one handler. Events are
// applied in arrival order on the read loop goroutine; nothing is reordered
// or buffered. Unknown tags are tolerated (forward compatibility) and dropped
// at debug level; a malformed payload of a known tag is a real defect on one
// side of the wire and is logged at warn level before being dropped.
func (s *Session) dispatch(env proto.Envelope) {
	switch env.MessageType {
	case proto.TypeLoginSuccess:
		s.handleLoginSuccess(env.Data)
	case proto.TypeLoginError:
		s.handleLoginError(env.Data)
	case proto.TypeChatMessage:
		var msg proto.ChatMessage
		if !s.decode(env, &msg) {
			return
		}
		s.handleChatMessage(msg)
	case proto.TypeChatInvite:
		var inv proto.ChatInvite
		if !s.decode(env, &inv) {
			return
		}
		s.handleChatInvite(inv)
	case proto.TypeChatInviteResponse:
		var resp proto.InviteResponseNotify
		if !s.decode(env, &resp) {
			return
		}
		s.handleInviteResponse(resp)
	case proto.TypeChatReady:
		var ready proto.ChatReady
		if !s.decode(env, &ready) {
			return
		}
		s.handleChatReady(ready)
	case proto.TypeAloneInChat:
		var alone proto.AloneInChat
		if !s.decode(env, &alone) {
			return
		}
		s.handleAloneInChat(alone)
	case proto.TypeChatUsersCount:
		var count proto.ChatUsersCount
		if !s.decode(env, &count) {
			return
		}
		s.handleChatUsersCount(count)
	case proto.TypeChatAbandoned:
		var ab proto.ChatAbandoned
		if !s.decode(env, &ab) {
			return
		}
		s.handleChatAbandoned(ab)
	case proto.TypeChatInvalidated:
		var inv proto.ChatInvalidated
		if !s.decode(env, &inv) {
			return
		}
		s.handleChatInvalidated(inv)
	case proto.TypeUserJoined:
		var user proto.User
		if !s.decode(env, &user) {
			return
		}
		s.handleUserJoined(user)
	case proto.TypeUserLeft:
		// UserLeft carries the bare username, not a JSON document.
		s.handleUserLeft(env.Data)
	case proto.TypeUserStatusChanged:
		var upd proto.StatusUpdate
		if !s.decode(env, &upd) {
			return
		}
		s.handleUserStatusChanged(upd)
	case proto.TypeUsersList:
		var users []proto.User
		if !s.decode(env, &users) {
			return
		}
		s.handleUsersList(users)
	case proto.TypeError:
		s.log.Debug().Str("text", env.Data).Msg("server error message")
	default:
		s.log.Debug().Str("type", env.MessageType).Msg("unknown message type dropped")
	}
}

func (s *Session) decode(env proto.Envelope, v any) bool {
	if err := env.DecodeData(v); err != nil {
		s.log.Warn().Err(err).Str("type", env.MessageType).Msg("malformed payload dropped")
		return false
	}
	return true
}

func (s *Session) handleLoginSuccess(text string) {
	s.mu.Lock()
	if id := proto.ExtractSessionID(text); id != "" {
		s.sessionID = id
	}
	s.loginErr = ""
	s.mu.Unlock()
	s.notify()
}

// handleLoginError surfaces the error and, when the username is already in
// use, schedules a forced logout after the grace period so the user can read
// the message before the session is torn down.
func (s *Session) handleLoginError(text string) {
	taken := strings.Contains(text, "Username taken") || strings.Contains(text, "già in uso")

	s.mu.Lock()
	s.loginErr = text
	if taken && s.graceTimer == nil {
		s.graceTimer = time.AfterFunc(s.loginGrace, func() {
			s.forceLogout(text)
		})
	}
	s.mu.Unlock()
	s.notify()
}

func (s *Session) handleChatMessage(msg proto.ChatMessage) {
	s.mu.Lock()
	class := ClassOther
	switch msg.Username {
	case proto.SystemSender:
		class = ClassSystem
	case s.username:
		class = ClassOwn
	}
	s.messages = append(s.messages, Message{
		ID:        msg.ID,
		ChatID:    msg.ChatID,
		Sender:    msg.Username,
		Content:   msg.Content,
		Timestamp: msg.Timestamp,
		Class:     class,
	})
	s.mu.Unlock()
	s.notify()
}

func (s *Session) handleChatInvite(inv proto.ChatInvite) {
	s.mu.Lock()
	s.invites = append(s.invites, inv)
	s.mu.Unlock()
	s.notify()
}

// handleInviteResponse records declines for the inviter. Acceptances carry no
// state here: the server follows them with a ChatReady.
func (s *Session) handleInviteResponse(resp proto.InviteResponseNotify) {
	if resp.Accepted {
		return
	}
	s.mu.Lock()
	s.declined = append(s.declined, resp)
	s.mu.Unlock()
	s.notify()
}

// handleChatReady appends a ready notice. Group invites accumulate one notice
// per acceptance; a private invite has a single possible acceptor, so further
// Ready events for the same private chat id are ignored.
func (s *Session) handleChatReady(ready proto.ChatReady) {
	s.mu.Lock()
	if ready.ChatType.Kind == proto.ChatPrivate {
		for _, existing := range s.ready {
			if existing.ChatID == ready.ChatID {
				s.mu.Unlock()
				return
			}
		}
	}
	s.ready = append(s.ready, ready)
	s.mu.Unlock()

	if s.hooks.OnRoomReady != nil {
		s.hooks.OnRoomReady(ready)
	}
	s.notify()
}

// Most-recent-wins; the flag is superseded by an abandoned notice in the UI.
func (s *Session) handleAloneInChat(alone proto.AloneInChat) {
	s.mu.Lock()
	s.alone[alone.ChatID] = alone.IsAlone
	s.mu.Unlock()
	s.notify()
}

// handleChatUsersCount stores the new membership snapshot and diffs it
// against the previous one: anyone present before and absent now joined and
// then left, which the server never reports as a discrete event. The left-set
// accumulates and is never cleared within the session.
func (s *Session) handleChatUsersCount(count proto.ChatUsersCount) {
	s.mu.Lock()
	prev, had := s.counts[count.ChatID]
	if had {
		now := make(map[string]struct{}, len(count.UsersInChat))
		for _, u := range count.UsersInChat {
			now[u] = struct{}{}
		}
		for _, u := range prev.UsersInChat {
			if _, still := now[u]; still {
				continue
			}
			set := s.leftUsers[count.ChatID]
			if set == nil {
				set = make(map[string]struct{})
				s.leftUsers[count.ChatID] = set
			}
			set[u] = struct{}{}
		}
	}
	s.counts[count.ChatID] = count
	s.mu.Unlock()
	s.notify()
}

// Terminal per chat id: once recorded it survives every later event for the
// life of the session.
func (s *Session) handleChatAbandoned(ab proto.ChatAbandoned) {
	s.mu.Lock()
	s.abandoned[ab.ChatID] = ab
	s.mu.Unlock()
	s.notify()
}

// handleChatInvalidated retracts all pending ready notices for the chat id:
// the invite set changed and any "enter" affordance built on them is stale.
func (s *Session) handleChatInvalidated(inv proto.ChatInvalidated) {
	s.mu.Lock()
	kept := s.ready[:0]
	for _, r := range s.ready {
		if r.ChatID != inv.ChatID {
			kept = append(kept, r)
		}
	}
	s.ready = kept
	s.mu.Unlock()
	s.notify()
}

// Insert-if-absent: the server may rebroadcast joins and the roster must
// never hold two entries for one username.
func (s *Session) handleUserJoined(user proto.User) {
	s.mu.Lock()
	if _, exists := s.roster[user.Username]; exists {
		s.mu.Unlock()
		return
	}
	s.roster[user.Username] = user
	s.rosterRev++
	s.mu.Unlock()
	s.notify()
}

func (s *Session) handleUserLeft(username string) {
	s.mu.Lock()
	delete(s.roster, username)
	s.rosterRev++
	s.mu.Unlock()
	s.notify()
}

// handleUserStatusChanged updates a matching entry. A user who became
// available has no room by definition, so chat_id is forced to nil regardless
// of what the payload says.
func (s *Session) handleUserStatusChanged(upd proto.StatusUpdate) {
	s.mu.Lock()
	entry, exists := s.roster[upd.Username]
	if !exists {
		s.mu.Unlock()
		return
	}
	entry.IsAvailable = upd.IsAvailable
	if upd.IsAvailable {
		entry.ChatID = nil
	} else {
		entry.ChatID = upd.ChatID
	}
	s.roster[upd.Username] = entry
	s.rosterRev++
	s.mu.Unlock()
	s.notify()
}

// handleUsersList replaces the roster wholesale. The list is the server's
// authoritative resync and always wins over partial updates applied before it.
func (s *Session) handleUsersList(users []proto.User) {
	s.mu.Lock()
	s.roster = make(map[string]proto.User, len(users))
	for _, u := range users {
		s.roster[u.Username] = u
	}
	s.rosterRev++
	s.mu.Unlock()
	s.notify()
}
