// Package sentinel implements the out-of-band marker used to detect when a
// remote shell has returned to its prompt. A unique token is installed into
// the remote prompt string on connect; every line containing the token is a
// state signal rather than command output.
package sentinel

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Action identifies what a recognized trigger line means.
type Action int

const (
	// ActionNone marks a trigger that only delimits output.
	ActionNone Action = iota
	// ActionPrompt means the remote shell printed its prompt: it is idle.
	ActionPrompt
	// ActionRename carries a remote-expanded display name.
	ActionRename
)

// Match is the result of recognizing a trigger line.
type Match struct {
	Action Action

	// ExitStatus is the remote $? carried by a prompt trigger, or -1 when
	// the line did not include one.
	ExitStatus int

	// NewName is the remote-expanded name for ActionRename.
	NewName string
}

// NewToken returns the per-run marker token. It mixes the process start
// time with a random component so that ordinary command output is
// vanishingly unlikely to contain it.
func NewToken() string {
	return fmt.Sprintf("mash-%x-%s", time.Now().Unix(), uuid.NewString()[:8])
}

type entry struct {
	action Action
	repeat bool
}

// Registry holds the triggers registered for one session. Triggers embed
// the session rank so interleaved streams cannot be confused.
type Registry struct {
	token    string
	rank     int
	nrIssued int
	triggers map[string]entry
}

// NewRegistry creates a trigger registry for the session with the given rank.
func NewRegistry(token string, rank int) *Registry {
	return &Registry{
		token:    token,
		rank:     rank,
		triggers: make(map[string]entry),
	}
}

// Token returns the process-run token shared by all sessions.
func (r *Registry) Token() string { return r.token }

// Add registers a trigger and returns its two halves. The remote shell
// concatenates the halves when echoing, so the injected command itself
// never matches the trigger it installs.
func (r *Registry) Add(name string, action Action, repeat bool) (string, string) {
	safe := strings.ReplaceAll(name, "/", "_")
	nr := r.nrIssued
	r.nrIssued++

	trigger := fmt.Sprintf("%s:%s:%d:%d/", r.token, safe, r.rank, nr)
	r.triggers[trigger] = entry{action: action, repeat: repeat}

	split := len(r.token) / 2
	return trigger[:split], trigger[split:]
}

// Contains reports whether data contains the token anywhere. Cheap pre-check
// before line-by-line processing.
func (r *Registry) Contains(data []byte) bool {
	return bytes.Contains(data, []byte(r.token))
}

// Process inspects one line for a registered trigger. One-shot triggers are
// consumed; the prompt trigger repeats for the life of the session.
func (r *Registry) Process(line []byte) (Match, bool) {
	start := bytes.Index(line, []byte(r.token))
	if start < 0 {
		return Match{}, false
	}
	slash := bytes.IndexByte(line[start:], '/')
	if slash < 0 {
		return Match{}, false
	}
	end := start + slash + 1

	trigger := string(line[start:end])
	remainder := line[end:]

	e, ok := r.triggers[trigger]
	if !ok {
		return Match{}, false
	}
	if !e.repeat {
		delete(r.triggers, trigger)
	}

	m := Match{Action: e.action, ExitStatus: -1}
	switch e.action {
	case ActionPrompt:
		// Prompt triggers carry ":<exit status>" from the remote $?.
		rest := bytes.TrimSpace(remainder)
		if len(rest) > 1 && rest[0] == ':' {
			if code, err := strconv.Atoi(string(rest[1:])); err == nil {
				m.ExitStatus = code
			}
		}
	case ActionRename:
		var name []byte
		for _, b := range remainder {
			if b != '\n' && b != '\r' && b != ' ' {
				name = append(name, b)
			}
		}
		m.NewName = string(name)
	}
	return m, true
}
