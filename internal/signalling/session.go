package signalling

import (
	"errors"
	"sync"
	"time"
)

var ErrMissingSession = errors.New("clientId and movieId are required")

// Session is the typed state of one websocket connection, fixed at accept
// time.
type Session struct {
	ClientID    string
	MovieID     string
	ConnectedAt time.Time
}

func NewSession(clientID, movieID string) (Session, error) {
	if clientID == "" || movieID == "" {
		return Session{}, ErrMissingSession
	}
	return Session{ClientID: clientID, MovieID: movieID, ConnectedAt: time.Now()}, nil
}

// Sessions tracks the connections attached to this instance only. It is a
// delivery index for relayed messages and never answers swarm membership;
// the shared store does that.
type Sessions struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

func NewSessions() *Sessions {
	return &Sessions{conns: make(map[string]*Connection)}
}

// Register attaches conn and returns the connection it replaced, if any.
func (s *Sessions) Register(conn *Connection) *Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.conns[conn.Session.ClientID]
	s.conns[conn.Session.ClientID] = conn
	return prev
}

// Unregister detaches conn unless a newer connection for the same client
// has replaced it. It reports whether conn was the current one.
func (s *Sessions) Unregister(conn *Connection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.conns[conn.Session.ClientID]; ok && cur == conn {
		delete(s.conns, conn.Session.ClientID)
		return true
	}
	return false
}

func (s *Sessions) Lookup(clientID string) (*Connection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conn, ok := s.conns[clientID]
	return conn, ok
}

// MovieOf reports the movie of the client's current connection here.
func (s *Sessions) MovieOf(clientID string) (string, bool) {
	conn, ok := s.Lookup(clientID)
	if !ok {
		return "", false
	}
	return conn.Session.MovieID, true
}

func (s *Sessions) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}
