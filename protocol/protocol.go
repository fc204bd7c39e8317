// Package protocol owns the text shapes of the wire protocol: every line
// is newline-terminated, prompts that expect one line of input from the
// client end with a colon, and server notices carry the [Server] tag.
package protocol

import (
	"fmt"
	"strings"
)

const (
	// CmdQuit terminates the session from authentication or any menu.
	CmdQuit = "/exit"
	// CmdBack cancels the current prompt or leaves a room/private chat.
	CmdBack = "/back"

	ServerTag    = "[Server]"
	PromptSuffix = ":"
)

// Notice formats a system message, used for join/leave announcements and
// other server-originated lines.
func Notice(text string) string {
	return ServerTag + " " + text
}

// ChatMessage formats a chat line as it is delivered to recipients and
// stored in private-chat history.
func ChatMessage(sender, text string) string {
	return "[" + sender + "]: " + text
}

// Rejection is the single line written to a connection refused by the
// gate. Clients match on "Maximum users" since no menu state exists yet.
func Rejection(maxUsers int) string {
	return fmt.Sprintf("%s Maximum users (%d) reached. Try again later.", ServerTag, maxUsers)
}

// IsPrompt reports whether a server line expects one line of input next.
func IsPrompt(line string) bool {
	return strings.HasSuffix(line, PromptSuffix)
}

// IsCommand reports whether the input matches a command token, ignoring
// case and surrounding whitespace.
func IsCommand(input, cmd string) bool {
	return strings.EqualFold(strings.TrimSpace(input), cmd)
}
