package proto

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"
)

// Envelope is the bidirectional wire structure. Data carries the payload as a
// JSON document encoded into a string, so every message is double-encoded.
// A few server messages (LoginSuccess, LoginError, UserLeft, Error) put plain
// text in Data instead of JSON.
type Envelope struct {
	MessageType string `json:"message_type"`
	Data        string `json:"data"`
}

// Message type tags. Login is the only strictly client-to-server tag;
// ChatMessage, ChatInvite, ChatInviteResponse and UserStatusChanged travel in
// both directions with different payload shapes.
const (
	TypeLogin              = "Login"
	TypeLoginSuccess       = "LoginSuccess"
	TypeLoginError         = "LoginError"
	TypeChatMessage        = "ChatMessage"
	TypeUserJoined         = "UserJoined"
	TypeUserLeft           = "UserLeft"
	TypeUserStatusChanged  = "UserStatusChanged"
	TypeUsersList          = "UsersList"
	TypeChatInvite         = "ChatInvite"
	TypeChatInviteResponse = "ChatInviteResponse"
	TypeChatReady          = "ChatReady"
	TypeAloneInChat        = "AloneInChat"
	TypeChatUsersCount     = "ChatUsersCount"
	TypeChatAbandoned      = "ChatAbandoned"
	TypeChatInvalidated    = "ChatInvalidated"
	TypeError              = "Error"
)

// SystemSender is the username the server reserves for system messages.
const SystemSender = "Sistema"

// Encode wraps payload into an envelope with the given tag.
func Encode(messageType string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", messageType, err)
	}
	return Envelope{MessageType: messageType, Data: string(data)}, nil
}

// DecodeData unmarshals the envelope's inner payload into v.
func (e Envelope) DecodeData(v any) error {
	if err := json.Unmarshal([]byte(e.Data), v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.MessageType, err)
	}
	return nil
}

// LoginRequest asks the server to bind this connection to a username.
type LoginRequest struct {
	Username string `json:"username"`
}

// User is a roster entry as broadcast by the server.
type User struct {
	Username    string  `json:"username"`
	IsAvailable bool    `json:"is_available"`
	ChatID      *string `json:"chat_id"`
	ConnectedAt string  `json:"connected_at,omitempty"`
}

// ChatMessage is a chat message in either direction.
type ChatMessage struct {
	ID        string    `json:"id"`
	ChatID    *string   `json:"chat_id,omitempty"`
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	ChatType  ChatType  `json:"chat_type"`
}

// ChatInvite asks one or more users to join a room.
type ChatInvite struct {
	ID            string    `json:"id"`
	ChatID        *string   `json:"chat_id"`
	From          string    `json:"from"`
	FromSessionID string    `json:"from_session_id"`
	ChatType      ChatType  `json:"chat_type"`
	Message       string    `json:"message"`
	Timestamp     time.Time `json:"timestamp"`
}

// ChatInviteResponse is the invitee's accept/decline, addressed back to the
// inviter's originating session via FromSessionID.
type ChatInviteResponse struct {
	InviteID      string   `json:"invite_id"`
	ChatID        *string  `json:"chat_id"`
	Accepted      bool     `json:"accepted"`
	FromUser      string   `json:"from_user"`
	FromSessionID string   `json:"from_session_id"`
	ChatType      ChatType `json:"chat_type"`
}

// InviteResponseNotify is what the inviter receives under the
// ChatInviteResponse tag: the response plus who actually responded.
type InviteResponseNotify struct {
	InviteID       string   `json:"invite_id"`
	ChatID         *string  `json:"chat_id"`
	Accepted       bool     `json:"accepted"`
	FromUser       string   `json:"from_user"`
	FromSessionID  string   `json:"from_session_id"`
	ChatType       ChatType `json:"chat_type"`
	RespondingUser string   `json:"responding_user"`
}

// ChatReady tells the inviter that someone accepted and the room can be opened.
type ChatReady struct {
	ChatID           string   `json:"chat_id"`
	Inviter          string   `json:"inviter"`
	InviterSessionID string   `json:"inviter_session_id"`
	ChatType         ChatType `json:"chat_type"`
	AcceptedBy       string   `json:"accepted_by"`
}

// AloneInChat flags whether the recipient is currently the only member of a room.
type AloneInChat struct {
	ChatID  string `json:"chat_id"`
	Message string `json:"message"`
	IsAlone bool   `json:"is_alone"`
}

// ChatUsersCount is the server-recomputed membership snapshot for a room.
type ChatUsersCount struct {
	ChatID       string   `json:"chat_id"`
	InvitedUsers []string `json:"invited_users"`
	UsersInChat  []string `json:"users_in_chat"`
	InvitedCount int      `json:"invited_count"`
	InChatCount  int      `json:"in_chat_count"`
}

// ChatAbandoned marks a room as terminally abandoned.
type ChatAbandoned struct {
	ChatID        string `json:"chat_id"`
	AbandonedBy   string `json:"abandoned_by"`
	RemainingUser string `json:"remaining_user"`
	Message       string `json:"message"`
	IsPrivateChat bool   `json:"is_private_chat"`
}

// ChatInvalidated retracts any pending ChatReady notices for a room.
type ChatInvalidated struct {
	ChatID string `json:"chat_id"`
	Reason string `json:"reason"`
}

// StatusChange is the outbound UserStatusChanged payload. The enter and leave
// paths fill different subsets of the fields, so most are omitempty.
type StatusChange struct {
	Available  bool     `json:"available"`
	InChat     bool     `json:"inChat"`
	ChatType   string   `json:"chatType,omitempty"`
	TargetUser string   `json:"targetUser,omitempty"`
	Members    []string `json:"members"`
	UserLeft   string   `json:"userLeft,omitempty"`
	ChatID     *string  `json:"chatId"`
}

// StatusUpdate is the inbound UserStatusChanged payload.
type StatusUpdate struct {
	Username    string  `json:"username"`
	IsAvailable bool    `json:"is_available"`
	ChatID      *string `json:"chat_id"`
}

var sessionIDPattern = regexp.MustCompile(`session_id: ([0-9a-fA-F-]+)`)

// ExtractSessionID pulls the server-minted session id out of the free-text
// LoginSuccess payload ("... session_id: <uuid>"). Returns "" when the text
// does not carry one.
func ExtractSessionID(text string) string {
	m := sessionIDPattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return m[1]
}
