package devstub

import (
	"context"
	"fmt"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/vovakirdan/wirechat-client/internal/proto"
)

// peer is one connected client session.
type peer struct {
	user      proto.User
	sessionID string
	conn      *websocket.Conn
	ctx       context.Context
}

func (s *Server) handleWS(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.log.Error().Err(err).Msg("ws accept error")
		return
	}

	ctx := c.Request.Context()

	// first message must be the login
	var env proto.Envelope
	if err := wsjson.Read(ctx, conn, &env); err != nil || env.MessageType != proto.TypeLogin {
		conn.Close(websocket.StatusPolicyViolation, "expected login")
		return
	}
	var login proto.LoginRequest
	if err := env.DecodeData(&login); err != nil || login.Username == "" {
		conn.Close(websocket.StatusPolicyViolation, "bad login payload")
		return
	}

	s.mu.Lock()
	if _, taken := s.users[login.Username]; taken {
		s.mu.Unlock()
		_ = wsjson.Write(ctx, conn, proto.Envelope{
			MessageType: proto.TypeLoginError,
			Data:        fmt.Sprintf("Username taken: '%s'", login.Username),
		})
		// leave the socket open; the client closes itself after its grace period
		time.Sleep(50 * time.Millisecond)
		conn.Close(websocket.StatusNormalClosure, "username taken")
		return
	}

	p := &peer{
		user: proto.User{
			Username:    login.Username,
			IsAvailable: true,
			ConnectedAt: time.Now().UTC().Format(time.RFC3339),
		},
		sessionID: uuid.NewString(),
		conn:      conn,
		ctx:       ctx,
	}
	s.users[login.Username] = p
	s.mu.Unlock()

	s.log.Info().Str("user", login.Username).Str("session", p.sessionID).Msg("peer logged in")

	p.write(proto.Envelope{
		MessageType: proto.TypeLoginSuccess,
		Data:        fmt.Sprintf("Username '%s' is available; session_id: %s", login.Username, p.sessionID),
	})
	s.broadcast(mustEnvelope(proto.TypeUserJoined, p.user), login.Username)
	s.broadcastUsersList()

	s.readLoop(p)

	s.mu.Lock()
	delete(s.users, login.Username)
	s.mu.Unlock()

	s.broadcast(proto.Envelope{MessageType: proto.TypeUserLeft, Data: login.Username}, login.Username)
	s.broadcastUsersList()
	conn.Close(websocket.StatusNormalClosure, "bye")
}

func (s *Server) readLoop(p *peer) {
	for {
		var env proto.Envelope
		if err := wsjson.Read(p.ctx, p.conn, &env); err != nil {
			return
		}

		switch env.MessageType {
		case proto.TypeChatMessage:
			s.relayMessage(p, env)
		case proto.TypeChatInvite:
			s.relayInvite(p, env)
		case proto.TypeChatInviteResponse:
			s.relayInviteResponse(p, env)
		case proto.TypeUserStatusChanged:
			s.applyStatus(p, env)
		default:
			s.log.Debug().Str("type", env.MessageType).Msg("stub ignoring message")
		}
	}
}

// relayMessage forwards a chat message to its addressees (and echoes it back
// to the sender, which is what the client's message log relies on).
func (s *Server) relayMessage(p *peer, env proto.Envelope) {
	var msg proto.ChatMessage
	if err := env.DecodeData(&msg); err != nil {
		s.log.Warn().Err(err).Msg("bad chat message")
		return
	}
	p.write(env)
	for _, name := range addressees(msg.ChatType) {
		if name == p.user.Username {
			continue
		}
		s.writeTo(name, env)
	}
}

func (s *Server) relayInvite(p *peer, env proto.Envelope) {
	var inv proto.ChatInvite
	if err := env.DecodeData(&inv); err != nil {
		s.log.Warn().Err(err).Msg("bad invite")
		return
	}
	for _, name := range addressees(inv.ChatType) {
		if name == p.user.Username {
			continue
		}
		s.writeTo(name, env)
	}
}

// relayInviteResponse notifies the inviter of the outcome and, on acceptance,
// follows up with a ChatReady.
func (s *Server) relayInviteResponse(p *peer, env proto.Envelope) {
	var resp proto.ChatInviteResponse
	if err := env.DecodeData(&resp); err != nil {
		s.log.Warn().Err(err).Msg("bad invite response")
		return
	}

	notify := proto.InviteResponseNotify{
		InviteID:       resp.InviteID,
		ChatID:         resp.ChatID,
		Accepted:       resp.Accepted,
		FromUser:       resp.FromUser,
		FromSessionID:  resp.FromSessionID,
		ChatType:       resp.ChatType,
		RespondingUser: p.user.Username,
	}
	s.writeTo(resp.FromUser, mustEnvelope(proto.TypeChatInviteResponse, notify))

	if resp.Accepted && resp.ChatID != nil {
		ready := proto.ChatReady{
			ChatID:           *resp.ChatID,
			Inviter:          resp.FromUser,
			InviterSessionID: resp.FromSessionID,
			ChatType:         resp.ChatType,
			AcceptedBy:       p.user.Username,
		}
		s.writeTo(resp.FromUser, mustEnvelope(proto.TypeChatReady, ready))
	}
}

func (s *Server) applyStatus(p *peer, env proto.Envelope) {
	var status proto.StatusChange
	if err := env.DecodeData(&status); err != nil {
		s.log.Warn().Err(err).Msg("bad status change")
		return
	}

	s.mu.Lock()
	p.user.IsAvailable = status.Available
	if status.Available {
		p.user.ChatID = nil
	} else {
		p.user.ChatID = status.ChatID
	}
	s.mu.Unlock()

	s.broadcastStatus(p.user.Username)
}

func (s *Server) broadcastStatus(username string) {
	s.mu.Lock()
	p, ok := s.users[username]
	var upd proto.StatusUpdate
	if ok {
		upd = proto.StatusUpdate{
			Username:    p.user.Username,
			IsAvailable: p.user.IsAvailable,
			ChatID:      p.user.ChatID,
		}
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	s.broadcast(mustEnvelope(proto.TypeUserStatusChanged, upd), "")
}

func (s *Server) broadcastUsersList() {
	s.broadcast(mustEnvelope(proto.TypeUsersList, s.roster()), "")
}

func (s *Server) broadcast(env proto.Envelope, except string) {
	s.mu.Lock()
	peers := make([]*peer, 0, len(s.users))
	for name, p := range s.users {
		if name == except {
			continue
		}
		peers = append(peers, p)
	}
	s.mu.Unlock()

	for _, p := range peers {
		p.write(env)
	}
}

func (s *Server) writeTo(username string, env proto.Envelope) {
	s.mu.Lock()
	p, ok := s.users[username]
	s.mu.Unlock()
	if ok {
		p.write(env)
	}
}

func (p *peer) write(env proto.Envelope) {
	_ = wsjson.Write(p.ctx, p.conn, env)
}

func addressees(t proto.ChatType) []string {
	switch t.Kind {
	case proto.ChatPrivate:
		return []string{t.Target}
	case proto.ChatGroup:
		return t.Members
	default:
		return nil
	}
}

func mustEnvelope(messageType string, payload any) proto.Envelope {
	env, err := proto.Encode(messageType, payload)
	if err != nil {
		return proto.Envelope{MessageType: messageType}
	}
	return env
}
