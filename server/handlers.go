package server

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"

	"mchat/protocol"
)

// Menu handlers for an authenticated session. Every handler returns nil
// to go back to the calling menu; a non-nil error means the connection
// dropped (or the client quit) and the session must unwind.

func (s *Session) handleJoinRoom() error {
	rooms := s.srv.rooms.List()
	if len(rooms) == 0 {
		s.send("No rooms available. Please create one first.")
		return nil
	}

	s.send("")
	s.send("Available Rooms:")
	for _, room := range rooms {
		s.send(fmt.Sprintf("- %s (%d members)", room.Name(), room.MemberCount()))
	}

	for {
		s.send("")
		s.send("Enter room name (or /back to cancel):")
		input, err := s.readLine()
		if err != nil {
			return err
		}

		if protocol.IsCommand(input, protocol.CmdBack) {
			return nil
		}

		roomName := strings.TrimSpace(input)
		if roomName == "" {
			s.send("Room name cannot be empty. Please try again.")
			continue
		}

		room, ok := s.srv.rooms.Get(roomName)
		if !ok {
			s.send("Room doesn't exist! Please try again.")
			continue
		}

		for {
			s.send("Enter password (or /back to cancel):")
			password, err := s.readLine()
			if err != nil {
				return err
			}

			if protocol.IsCommand(password, protocol.CmdBack) {
				s.send("Canceled joining room...")
				return nil
			}

			if !room.CheckPassword(strings.TrimSpace(password)) {
				s.send("Wrong password! Try again.")
				continue
			}
			break
		}

		return s.enterRoom(room)
	}
}

func (s *Session) handleCreateRoom() error {
	if s.srv.rooms.Full() {
		s.send(protocol.Notice(fmt.Sprintf("Maximum rooms (%d) reached. Cannot create more.", s.srv.config.MaxRooms)))
		return nil
	}

	for {
		s.send("Enter new room name (or /back to cancel):")
		input, err := s.readLine()
		if err != nil {
			return err
		}

		if protocol.IsCommand(input, protocol.CmdBack) {
			return nil
		}

		roomName := strings.TrimSpace(input)
		if roomName == "" {
			s.send("Room name cannot be empty. Please try again.")
			continue
		}

		if s.srv.rooms.Exists(roomName) {
			s.send("Room already exists. Choose another name.")
			continue
		}

		s.send("Set password for '" + roomName + "':")
		password, err := s.readLine()
		if err != nil {
			return err
		}

		room, err := s.srv.rooms.Create(roomName, strings.TrimSpace(password))
		if errors.Is(err, ErrRoomExists) {
			// Another session claimed the name between the check and
			// the insert.
			s.send("Room already exists. Choose another name.")
			continue
		}
		if errors.Is(err, ErrMaxRooms) {
			s.send(protocol.Notice(fmt.Sprintf("Maximum rooms (%d) reached. Cannot create more.", s.srv.config.MaxRooms)))
			return nil
		}

		log.Printf("User %q created room %q (index %d)", s.username, room.Name(), room.Index())
		return s.enterRoom(room)
	}
}

// enterRoom joins the room and runs the chat loop until the client leaves
// or the connection drops. Refusal at the member ceiling leaves the
// session where it was.
func (s *Session) enterRoom(room *Room) error {
	if err := room.Join(s); err != nil {
		s.send(protocol.Notice(fmt.Sprintf("Room is full (max %d users)", s.srv.config.MaxRoomUsers)))
		return nil
	}
	s.room = room

	room.Broadcast(protocol.Notice(s.username+" joined the room"), s)
	s.send("")
	s.send(fmt.Sprintf("You're in '%s'. Type /back to leave.", room.Name()))

	for {
		message, err := s.readLine()
		if err != nil {
			return err
		}

		if protocol.IsCommand(message, protocol.CmdBack) {
			s.leaveRoom()
			return nil
		}

		if strings.TrimSpace(message) == "" {
			s.send("(Empty message not sent)")
			continue
		}

		room.Broadcast(protocol.ChatMessage(s.username, message), s)
	}
}

func (s *Session) handleFriendMenu() error {
	for {
		s.send("")
		s.send("=== FRIEND MENU ===")
		s.send("1. View friends")
		s.send("2. Add friend")
		s.send("3. Message friend")
		s.send("4. Back to main")
		s.send("Enter:")

		input, err := s.readLine()
		if err != nil {
			return err
		}

		choice := strings.TrimSpace(input)
		if choice == "" {
			s.send("Input cannot be empty. Please enter a Friend Menu option.")
			continue
		}

		if protocol.IsCommand(choice, protocol.CmdQuit) {
			s.sayGoodbye()
			log.Printf("User %q disconnected via %s", s.username, protocol.CmdQuit)
			return errQuit
		}

		switch choice {
		case "1":
			s.showFriends()
		case "2":
			err = s.handleAddFriend()
		case "3":
			err = s.handlePrivateChat()
		case "4":
			return nil
		default:
			s.send("Invalid option. Please enter 1, 2, 3, or 4.")
		}

		if err != nil {
			return err
		}
	}
}

func (s *Session) showFriends() {
	if len(s.friends) == 0 {
		s.send("You have no friends yet.")
		return
	}

	friends := make([]string, 0, len(s.friends))
	for friend := range s.friends {
		friends = append(friends, friend)
	}
	sort.Strings(friends)

	s.send("")
	s.send("=== Your Friends ===")
	for _, friend := range friends {
		status := "Offline"
		if s.srv.isOnline(friend) {
			status = "Online"
		}
		s.send("- " + friend + " [" + status + "]")
	}
}

// handleAddFriend adds a one-directional friend edge. The target must
// exist in the credential store but does not have to be online, and is
// not notified.
func (s *Session) handleAddFriend() error {
	for {
		s.send("")
		s.send("Enter your friend's username (or /back to cancel):")
		input, err := s.readLine()
		if err != nil {
			return err
		}

		if protocol.IsCommand(input, protocol.CmdBack) {
			s.send("Canceling Adding Friends...")
			return nil
		}

		friend := strings.TrimSpace(input)
		if friend == "" {
			s.send("Username cannot be empty. Please try again.")
			continue
		}

		exists, err := s.srv.store.UserExists(friend)
		if err != nil {
			s.fail("add friend", err)
			return err
		}

		switch {
		case !exists:
			s.send("User does not exist. Please try again.")
		case friend == s.username:
			s.send("You can't add yourself!")
		case s.hasFriend(friend):
			s.send(friend + " is already in your friend list.")
		default:
			s.friends[friend] = struct{}{}
			s.send(friend + " has been added to your friend list.")
			return nil
		}
	}
}

func (s *Session) hasFriend(username string) bool {
	_, ok := s.friends[username]
	return ok
}

// handlePrivateChat opens the private-chat loop with a befriended, online
// user: replays the shared thread, then appends each line to the store
// and pushes it live only while the target is focused on this
// conversation.
func (s *Session) handlePrivateChat() error {
	for {
		s.send("")
		s.send("Enter your friend's username to chat with (or /back to cancel):")
		input, err := s.readLine()
		if err != nil {
			return err
		}

		if protocol.IsCommand(input, protocol.CmdBack) {
			s.send("Private chat cancelled...")
			return nil
		}

		target := strings.TrimSpace(input)
		if target == "" {
			s.send("Username cannot be empty. Please try again.")
			continue
		}

		if !s.hasFriend(target) {
			s.send("Not in your friends list. Please try again.")
			continue
		}

		targetSession, ok := s.srv.lookup(target)
		if !ok {
			s.send("User is currently offline.")
			return nil
		}

		history, err := s.srv.store.Thread(s.username, target)
		if err != nil {
			s.fail("private chat", err)
			return err
		}

		if len(history) > 0 {
			s.send("")
			s.send("--- Chat History ---")
			for _, msg := range history {
				s.send(protocol.ChatMessage(msg.Sender, msg.Text))
			}
			s.send("-------------------")
		}

		s.setPrivateTarget(target)
		s.send("")
		s.send("[Private chat with " + target + "] (type /back to leave the DMs)")

		for {
			message, err := s.readLine()
			if err != nil {
				s.setPrivateTarget("")
				return err
			}

			if protocol.IsCommand(message, protocol.CmdBack) {
				s.setPrivateTarget("")
				return nil
			}

			if strings.TrimSpace(message) == "" {
				s.send("(Empty message not sent)")
				continue
			}

			if err := s.srv.store.AppendMessage(s.username, target, message); err != nil {
				s.setPrivateTarget("")
				s.fail("private chat", err)
				return err
			}

			// Live delivery only while the target is focused on this
			// conversation; otherwise the message waits in the thread.
			if targetSession.PrivateTarget() == s.username {
				targetSession.push(protocol.ChatMessage(s.username, message))
			}
		}
	}
}
