package server

import (
	"log"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"mchat/protocol"
	"mchat/store"
)

type Server struct {
	store  *store.Store
	config *ServerConfig
	rooms  *RoomRegistry

	mu           sync.RWMutex
	sessions     map[string]*Session
	currentUsers int
}

type ServerConfig struct {
	Port         int
	MaxUsers     int
	MaxRooms     int
	MaxRoomUsers int
	WriteTimeout time.Duration
}

func New(st *store.Store, config *ServerConfig) *Server {
	return &Server{
		store:    st,
		config:   config,
		rooms:    NewRoomRegistry(config.MaxRooms, config.MaxRoomUsers),
		sessions: make(map[string]*Session),
	}
}

func (s *Server) Start() error {
	listener, err := net.Listen("tcp", ":"+strconv.Itoa(s.config.Port))
	if err != nil {
		return err
	}
	defer listener.Close()

	log.Printf("Chat server started on port %d", s.config.Port)

	for {
		conn, err := listener.Accept()
		if err != nil {
			log.Printf("Error accepting connection: %v", err)
			continue
		}

		go s.handleConnection(conn)
	}
}

// handleConnection runs the connection gate, then the full session. The
// counter is released exactly once in session teardown.
func (s *Server) handleConnection(conn net.Conn) {
	if !s.tryAcquire() {
		s.reject(conn)
		return
	}

	log.Printf("New connection accepted from %s (%d/%d users)",
		conn.RemoteAddr(), s.connectedUsers(), s.config.MaxUsers)

	sess := newSession(s, conn)
	sess.run()
}

// tryAcquire checks the global user ceiling and claims a slot. Check and
// increment run under one lock, so concurrent accepts cannot exceed the
// ceiling.
func (s *Server) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentUsers >= s.config.MaxUsers {
		return false
	}
	s.currentUsers++
	return true
}

func (s *Server) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentUsers--
}

func (s *Server) connectedUsers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentUsers
}

func (s *Server) reject(conn net.Conn) {
	conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	conn.Write([]byte(protocol.Rejection(s.config.MaxUsers) + "\n"))
	conn.Close()
	log.Printf("Rejected connection from %s (server full)", conn.RemoteAddr())
}

// register inserts the session into the session registry unless the
// username already has a live session. The liveness check and the insert
// share the registry lock.
func (s *Server) register(username string, sess *Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[username]; ok {
		return false
	}
	s.sessions[username] = sess
	return true
}

// unregister removes the session, but only if it still owns the name.
func (s *Server) unregister(username string, sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.sessions[username]; ok && current == sess {
		delete(s.sessions, username)
	}
}

func (s *Server) lookup(username string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[username]
	return sess, ok
}

func (s *Server) isOnline(username string) bool {
	_, ok := s.lookup(username)
	return ok
}

// GetStats returns server statistics as a formatted string.
func (s *Server) GetStats() string {
	s.mu.RLock()
	activeConnections := s.currentUsers
	var users []string
	for username := range s.sessions {
		users = append(users, username)
	}
	s.mu.RUnlock()

	return "connections=" + strconv.Itoa(activeConnections) +
		",users=" + strings.Join(users, ";") +
		",rooms=" + strconv.Itoa(s.rooms.Len())
}

// Shutdown notifies every live session and closes its socket. Each
// session's own teardown handles the registry cleanup.
func (s *Server) Shutdown(reason string) {
	s.mu.RLock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.RUnlock()

	log.Printf("Shutting down (%s), notifying %d sessions", reason, len(sessions))

	for _, sess := range sessions {
		sess.push(protocol.Notice("Server is shutting down (" + reason + "). Goodbye!"))
	}

	// Give the writers a moment to flush before the sockets close.
	time.Sleep(100 * time.Millisecond)

	for _, sess := range sessions {
		sess.conn.Close()
	}
}
