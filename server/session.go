package server

import (
	"bufio"
	"errors"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"mchat/protocol"
	"mchat/store"
)

// errQuit marks an explicit client quit so menu handlers can unwind the
// session the same way a dropped connection does.
var errQuit = errors.New("client quit")

const outboundQueueSize = 64

// Session is the server-side state for one connected client: the blocking
// read loop, the outbound queue, and the menu state machine. All
// cross-session delivery goes through push onto the outbound queue, never
// through the peer's socket directly.
type Session struct {
	srv    *Server
	conn   net.Conn
	reader *bufio.Reader

	outgoing  chan string
	done      chan struct{}
	writeDone chan struct{}

	username string
	room     *Room
	friends  map[string]struct{}

	mu            sync.Mutex // guards privateTarget
	privateTarget string

	closeOnce sync.Once
}

func newSession(srv *Server, conn net.Conn) *Session {
	return &Session{
		srv:       srv,
		conn:      conn,
		reader:    bufio.NewReader(conn),
		outgoing:  make(chan string, outboundQueueSize),
		done:      make(chan struct{}),
		writeDone: make(chan struct{}),
		friends:   make(map[string]struct{}),
	}
}

func (s *Session) run() {
	defer s.teardown()
	go s.writeLoop()

	remoteAddr := s.conn.RemoteAddr().String()
	log.Printf("New client connected from %s", remoteAddr)

	if !s.authenticate() {
		log.Printf("Connection from %s closed during authentication", remoteAddr)
		return
	}

	log.Printf("User %q has joined the server", s.username)

	for {
		s.showMainMenu()
		choice, err := s.readLine()
		if err != nil {
			log.Printf("User %q disconnected", s.username)
			return
		}

		if protocol.IsCommand(choice, protocol.CmdQuit) {
			s.sayGoodbye()
			log.Printf("User %q disconnected via %s", s.username, protocol.CmdQuit)
			return
		}

		switch strings.TrimSpace(choice) {
		case "1":
			err = s.handleJoinRoom()
		case "2":
			err = s.handleCreateRoom()
		case "3":
			err = s.handleFriendMenu()
		default:
			s.send("Invalid option. Please type 1, 2, 3 or /exit to exit.")
		}

		if err != nil {
			if !errors.Is(err, errQuit) {
				log.Printf("User %q disconnected", s.username)
			}
			return
		}
	}
}

// writeLoop is the session's single socket writer. It drains the
// outbound queue until teardown or a write failure.
func (s *Session) writeLoop() {
	defer close(s.writeDone)

	for {
		select {
		case line := <-s.outgoing:
			s.conn.SetWriteDeadline(time.Now().Add(s.srv.config.WriteTimeout))
			if _, err := s.conn.Write([]byte(line + "\n")); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

// send enqueues a line for this session's own client. It blocks until
// the writer has room, or gives up once the session is torn down or the
// writer has died.
func (s *Session) send(line string) {
	select {
	case s.outgoing <- line:
	case <-s.done:
	case <-s.writeDone:
	}
}

// push enqueues a line from another session (broadcast or private
// message). Never blocks: a recipient with a full queue just misses the
// line, which keeps a stalled reader from blocking the sender.
func (s *Session) push(line string) bool {
	select {
	case <-s.done:
		return false
	case <-s.writeDone:
		return false
	default:
	}

	select {
	case s.outgoing <- line:
		return true
	default:
		return false
	}
}

func (s *Session) readLine() (string, error) {
	line, err := s.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// authenticate walks the login/registration dialogue. Returns false when
// the client quit or the connection dropped; on true the session is
// registered under its username.
func (s *Session) authenticate() bool {
	for {
		s.send("Enter username (or /exit to quit):")
		input, err := s.readLine()
		if err != nil {
			return false
		}

		if protocol.IsCommand(input, protocol.CmdQuit) {
			s.send(protocol.Notice("Goodbye! Disconnecting..."))
			s.flushBeforeClose()
			return false
		}

		username := strings.TrimSpace(input)
		if username == "" {
			s.send("Username cannot be empty. Please try again.")
			continue
		}
		if !store.ValidUsername(username) {
			s.send("Username cannot contain ':'. Please try again.")
			continue
		}

		if s.srv.isOnline(username) {
			s.send("The username is already taken. Please try again.")
			continue
		}

		exists, err := s.srv.store.UserExists(username)
		if err != nil {
			s.fail("auth", err)
			return false
		}

		if exists {
			s.send("Enter password:")
			password, err := s.readLine()
			if err != nil {
				return false
			}
			if strings.TrimSpace(password) == "" {
				s.send("Password cannot be empty. Please try again.")
				continue
			}

			ok, err := s.srv.store.Authenticate(username, password)
			if err != nil {
				s.fail("auth", err)
				return false
			}
			if !ok {
				s.send("Incorrect password.")
				continue
			}
		} else {
			s.send("New user. Set password:")
			password, err := s.readLine()
			if err != nil {
				return false
			}
			if strings.TrimSpace(password) == "" {
				s.send("Password cannot be empty. Please try again.")
				continue
			}

			if err := s.srv.store.CreateUser(username, password); err != nil {
				if errors.Is(err, store.ErrUserExists) {
					// Lost a registration race; treat the name as taken.
					s.send("The username is already taken. Please try again.")
					continue
				}
				s.fail("auth", err)
				return false
			}
		}

		if !s.srv.register(username, s) {
			s.send("The username is already taken. Please try again.")
			continue
		}

		s.username = username
		s.send("Login successful! Welcome " + username)
		return true
	}
}

func (s *Session) showMainMenu() {
	s.send("")
	s.send("=== MAIN MENU ===")
	s.send("1. Join a Room")
	s.send("2. Create a Room")
	s.send("3. Friend Menu")
	s.send("Type /exit to quit")
	s.send("Enter:")
}

func (s *Session) sayGoodbye() {
	s.send(protocol.Notice("Goodbye!"))
	s.flushBeforeClose()
}

// flushBeforeClose gives the writer a moment to drain farewell lines
// before teardown closes the socket.
func (s *Session) flushBeforeClose() {
	time.Sleep(100 * time.Millisecond)
}

func (s *Session) fail(operation string, err error) {
	log.Printf("%s error for %s: %v", operation, s.conn.RemoteAddr(), err)
	s.send(protocol.Notice("Internal error. Disconnecting..."))
	s.flushBeforeClose()
}

func (s *Session) setPrivateTarget(target string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.privateTarget = target
}

// PrivateTarget is the username this session is currently focused on in
// private chat, or empty. Read by peers to decide on live delivery.
func (s *Session) PrivateTarget() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.privateTarget
}

// leaveRoom departs the current room with a notice to the remaining
// members. No-op when the session is not in a room.
func (s *Session) leaveRoom() {
	room := s.room
	if room == nil {
		return
	}
	s.room = nil

	room.Leave(s)
	room.Broadcast(protocol.Notice(s.username+" left the room"), s)
	s.send(protocol.Notice("You left the room"))
}

// teardown releases everything the session holds: room membership (with
// the departure notice), the session registry entry, the global user
// slot, and the socket. Runs exactly once no matter how the session ends.
func (s *Session) teardown() {
	s.closeOnce.Do(func() {
		s.leaveRoom()
		s.setPrivateTarget("")
		if s.username != "" {
			s.srv.unregister(s.username, s)
		}
		s.srv.release()
		close(s.done)
		s.conn.Close()
		log.Printf("Connection from %s closed (%d/%d users)",
			s.conn.RemoteAddr(), s.srv.connectedUsers(), s.srv.config.MaxUsers)
	})
}
