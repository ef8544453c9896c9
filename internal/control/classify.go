package control

import "strings"

// Kind classifies one line of user input.
type Kind int

const (
	// KindEmpty is a blank line; ignored.
	KindEmpty Kind = iota
	// KindControl is a ":"-prefixed control command.
	KindControl
	// KindLocal is a "!"-prefixed command run by the local process.
	KindLocal
	// KindBroadcast is anything else: sent to every enabled session.
	KindBroadcast
)

// Classify splits a raw input line into its kind and payload. For control
// and local commands the payload has the prefix stripped; broadcast lines
// are returned as typed, trailing newline removed.
func Classify(line string) (Kind, string) {
	line = strings.TrimRight(line, "\r\n")
	trimmed := strings.TrimSpace(line)
	switch {
	case trimmed == "":
		return KindEmpty, ""
	case strings.HasPrefix(trimmed, ":"):
		return KindControl, strings.TrimSpace(trimmed[1:])
	case strings.HasPrefix(trimmed, "!"):
		return KindLocal, strings.TrimSpace(trimmed[1:])
	default:
		return KindBroadcast, line
	}
}
