// Package devstub is a local stand-in for the chat server, good enough to
// exercise the client end to end during development: it implements the three
// collaborator HTTP endpoints and just enough of the wire protocol (login
// bookkeeping, presence broadcast, message and invite relay). The production
// server stays a black box; none of this is a reimplementation of it.
package devstub

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-client/internal/proto"
)

// Server is the in-memory broker state.
type Server struct {
	log *zerolog.Logger

	mu    sync.Mutex
	users map[string]*peer
}

// New builds an empty broker.
func New(logger *zerolog.Logger) *Server {
	return &Server{
		log:   logger,
		users: make(map[string]*peer),
	}
}

// Router assembles the gin engine: collaborator HTTP endpoints plus the
// websocket upgrade route.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/api")
	{
		api.POST("/login", s.handleLogin)
		api.GET("/users", s.handleUsers)
		api.POST("/users/:username/availability", s.handleAvailability)
	}
	r.GET("/ws", s.handleWS)
	return r
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
}

// handleLogin is the pre-check: 200 when the username is free, 409 when a
// live session already holds it.
func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username is required"})
		return
	}

	s.mu.Lock()
	_, taken := s.users[req.Username]
	s.mu.Unlock()

	if taken {
		c.JSON(http.StatusConflict, "Username taken")
		return
	}
	c.JSON(http.StatusOK, gin.H{"username": req.Username, "available": true})
}

func (s *Server) handleUsers(c *gin.Context) {
	c.JSON(http.StatusOK, s.roster())
}

// handleAvailability is the leave-guard fallback target.
func (s *Server) handleAvailability(c *gin.Context) {
	username := c.Param("username")

	var available bool
	if err := c.ShouldBindJSON(&available); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "expected a boolean body"})
		return
	}

	s.mu.Lock()
	p, ok := s.users[username]
	if ok {
		p.user.IsAvailable = available
		if available {
			p.user.ChatID = nil
		}
	}
	s.mu.Unlock()

	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown user"})
		return
	}

	s.broadcastStatus(username)
	c.JSON(http.StatusOK, gin.H{"username": username, "available": available})
}

func (s *Server) roster() []proto.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]proto.User, 0, len(s.users))
	for _, p := range s.users {
		out = append(out, p.user)
	}
	return out
}
