package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vovakirdan/wirechat-client/internal/proto"
)

// SendMessage sends a chat message to the current room. The server echoes it
// back, so nothing is appended to the local log here (no duplicates).
// Returns false when the content is empty, the addressing is invalid, or the
// channel is not open.
func (s *Session) SendMessage(content string, kind proto.ChatKind, target string, members []string, chatID *string) bool {
	content = strings.TrimSpace(content)
	if content == "" {
		return false
	}

	chatType, ok := buildChatType(kind, target, members)
	if !ok {
		return false
	}

	s.mu.Lock()
	username := s.username
	s.mu.Unlock()

	msg := proto.ChatMessage{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		Username:  username,
		Content:   content,
		Timestamp: time.Now().UTC(),
		ChatType:  chatType,
	}
	return s.send(mustEncode(proto.TypeChatMessage, msg))
}

// SendInvite mints a chat id and fires an invite at the target (private) or
// members (group). The invite itself is fire-and-forget: no record is kept
// until the server answers with ChatReady, a decline, or an invalidation
// referencing the returned chat id.
func (s *Session) SendInvite(kind proto.ChatKind, target string, members []string, message string) (string, bool) {
	chatType, ok := buildChatType(kind, target, members)
	if !ok {
		return "", false
	}

	s.mu.Lock()
	username := s.username
	sessionID := s.sessionID
	s.mu.Unlock()

	chatID := uuid.NewString()
	if message == "" {
		label := "private"
		if kind == proto.ChatGroup {
			label = "group"
		}
		message = fmt.Sprintf("%s invited you to a %s chat", username, label)
	}

	inv := proto.ChatInvite{
		ID:            uuid.NewString(),
		ChatID:        &chatID,
		From:          username,
		FromSessionID: sessionID,
		ChatType:      chatType,
		Message:       message,
		Timestamp:     time.Now().UTC(),
	}
	if !s.send(mustEncode(proto.TypeChatInvite, inv)) {
		return "", false
	}
	return chatID, true
}

// RespondToInvite answers a received invite. The response is addressed to the
// inviter's originating session, since the same username may hold several.
// The invite is removed from the pending list regardless of whether the send
// succeeds: a dead channel must not leave a stale prompt on screen.
func (s *Session) RespondToInvite(inv proto.ChatInvite, accepted bool) bool {
	resp := proto.ChatInviteResponse{
		InviteID:      inv.ID,
		ChatID:        inv.ChatID,
		Accepted:      accepted,
		FromUser:      inv.From,
		FromSessionID: inv.FromSessionID,
		ChatType:      inv.ChatType,
	}
	ok := s.send(mustEncode(proto.TypeChatInviteResponse, resp))

	s.mu.Lock()
	kept := s.invites[:0]
	for _, pending := range s.invites {
		if pending.ID != inv.ID {
			kept = append(kept, pending)
		}
	}
	s.invites = kept
	s.mu.Unlock()
	s.notify()

	return ok
}

// EnterRoom joins a room that already has a server-assigned chat id: it
// clears the message log, records the in-room state the leave guard needs,
// announces unavailability, and optimistically flips the local roster entry
// before the server confirms.
func (s *Session) EnterRoom(kind proto.ChatKind, target string, members []string, chatID *string) bool {
	if chatID == nil {
		return false
	}
	if _, ok := buildChatType(kind, target, members); !ok {
		return false
	}

	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return false
	}
	username := s.username
	s.messages = nil
	s.inRoom = true
	s.roomKind = kind
	s.roomTarget = target
	s.roomMemb = append([]string(nil), members...)
	s.roomChatID = chatID
	s.mu.Unlock()

	status := proto.StatusChange{
		Available:  false,
		InChat:     true,
		ChatType:   strings.ToLower(string(kind)),
		TargetUser: target,
		Members:    members,
		ChatID:     chatID,
	}
	if !s.send(mustEncode(proto.TypeUserStatusChanged, status)) {
		return false
	}

	s.mu.Lock()
	if entry, exists := s.roster[username]; exists {
		entry.IsAvailable = false
		entry.ChatID = chatID
		s.roster[username] = entry
		s.rosterRev++
	}
	s.mu.Unlock()
	s.notify()
	return true
}

// LeaveRoom leaves the current room exactly once, no matter how many paths
// trigger it (explicit action plus teardown cleanup). With an open channel it
// announces the departure with a system message and flips availability; with
// a dead channel it skips the sends and falls back to the HTTP availability
// endpoint so presence is not stuck "busy" forever. The guard and the room
// bookkeeping are reset on every exit path.
func (s *Session) LeaveRoom() bool {
	if !s.leaving.CompareAndSwap(false, true) {
		return false
	}
	defer s.leaving.Store(false)

	s.mu.Lock()
	if !s.inRoom {
		s.mu.Unlock()
		return false
	}
	username := s.username
	kind := s.roomKind
	target := s.roomTarget
	members := append([]string(nil), s.roomMemb...)
	chatID := s.roomChatID
	connected := s.connected
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inRoom = false
		s.roomKind = ""
		s.roomTarget = ""
		s.roomMemb = nil
		s.roomChatID = nil
		s.mu.Unlock()
	}()

	if !connected {
		s.markSelfAvailable(username)
		s.notify()
		if s.fallback != nil {
			if err := s.fallback.SetAvailability(context.Background(), username, true); err != nil {
				s.log.Error().Err(err).Msg("availability fallback failed")
			}
		}
		return true
	}

	departure := proto.ChatMessage{
		ID:        uuid.NewString(),
		Username:  proto.SystemSender,
		Content:   fmt.Sprintf("%s left the chat", username),
		Timestamp: time.Now().UTC(),
		ChatType:  leaveChatType(kind, target, members, username),
	}
	status := proto.StatusChange{
		Available: true,
		InChat:    false,
		Members:   members,
		UserLeft:  username,
		ChatID:    chatID,
	}

	// departure first, then the status flip, matching what other clients
	// expect to render
	s.send(mustEncode(proto.TypeChatMessage, departure))
	s.send(mustEncode(proto.TypeUserStatusChanged, status))

	s.markSelfAvailable(username)
	s.notify()
	return true
}

func (s *Session) markSelfAvailable(username string) {
	s.mu.Lock()
	if entry, exists := s.roster[username]; exists {
		entry.IsAvailable = true
		entry.ChatID = nil
		s.roster[username] = entry
		s.rosterRev++
	}
	s.mu.Unlock()
}

func buildChatType(kind proto.ChatKind, target string, members []string) (proto.ChatType, bool) {
	switch kind {
	case proto.ChatPrivate:
		if target == "" {
			return proto.ChatType{}, false
		}
		return proto.PrivateChat(target), true
	case proto.ChatGroup:
		if len(members) == 0 {
			return proto.ChatType{}, false
		}
		return proto.GroupChat(members), true
	default:
		return proto.ChatType{}, false
	}
}

// leaveChatType addresses the departure announcement: for a private room the
// peer is whoever in the member list is not us.
func leaveChatType(kind proto.ChatKind, target string, members []string, self string) proto.ChatType {
	if kind == proto.ChatGroup {
		return proto.GroupChat(members)
	}
	peer := target
	if peer == "" {
		for _, m := range members {
			if m != self {
				peer = m
				break
			}
		}
	}
	return proto.PrivateChat(peer)
}
