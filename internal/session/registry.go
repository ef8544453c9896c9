package session

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/crisidev/mash/internal/console"
	"github.com/crisidev/mash/internal/hostexpand"
	"github.com/crisidev/mash/internal/sentinel"
)

// Registry is the ordered collection of all sessions and the single owner
// of session identity: ranks, display names, and enable/disable/purge
// mutations all go through it. It is confined to the controller goroutine.
type Registry struct {
	token    string
	con      *console.Console
	sessions []*Session
	byRank   map[int]*Session
	names    *namePool
	styles   []lipgloss.Style
	nextRank int
	colorIdx int
}

// NewRegistry creates an empty registry. token is the per-run sentinel
// token shared by every session.
func NewRegistry(token string, con *console.Console) *Registry {
	return &Registry{
		token:  token,
		con:    con,
		byRank: make(map[int]*Session),
		names:  newNamePool(),
		styles: console.Styles(),
	}
}

// Add creates a Session for the given host argument ("host" or
// "host:port"). Ranks are assigned in insertion order and never reused;
// duplicate hosts get suffixed display names. The session is not yet
// connected.
func (r *Registry) Add(hostArg string) *Session {
	host, port := hostexpand.SplitPort(hostArg)

	rank := r.nextRank
	r.nextRank++

	s := &Session{
		rank:     rank,
		host:     host,
		port:     port,
		name:     r.names.acquire(host),
		state:    StatePending,
		lastExit: -1,
		triggers: sentinel.NewRegistry(r.token, rank),
		style:    r.styles[r.colorIdx%len(r.styles)],
		con:      r.con,
	}
	r.colorIdx++

	r.sessions = append(r.sessions, s)
	r.byRank[rank] = s
	return s
}

// Get returns the session with the given rank, or nil.
func (r *Registry) Get(rank int) *Session {
	return r.byRank[rank]
}

// All returns every session in insertion (rank) order. The returned slice
// must not be mutated across registry mutations.
func (r *Registry) All() []*Session {
	return r.sessions
}

// Len returns the session count.
func (r *Registry) Len() int { return len(r.sessions) }

// Token returns the per-run sentinel token.
func (r *Registry) Token() string { return r.token }

// Purge removes a session. Only sessions that are both Dead and disabled
// can be purged; anything else is a reported no-op.
func (r *Registry) Purge(s *Session) error {
	if s.state != StateDead || !s.disabled {
		return fmt.Errorf("%s is %s and %s; only dead disabled sessions can be purged",
			s.name, s.state, enabledWord(s))
	}
	r.names.release(s.name)
	delete(r.byRank, s.rank)
	for i, cur := range r.sessions {
		if cur == s {
			r.sessions = append(r.sessions[:i], r.sessions[i+1:]...)
			break
		}
	}
	return nil
}

func enabledWord(s *Session) string {
	if s.disabled {
		return "disabled"
	}
	return "enabled"
}

// Rename gives s a new display name. Collisions with any other session are
// rejected; the '#' character is reserved for the suffix allocator. An
// empty name restores the original host argument (suffix-allocated if that
// is taken).
func (r *Registry) Rename(s *Session, newName string) error {
	if newName == "" {
		return r.resetName(s)
	}
	if strings.ContainsRune(newName, '#') {
		return ErrBadName
	}
	if newName == s.name {
		return nil
	}
	for _, other := range r.sessions {
		if other != s && other.name == newName {
			return fmt.Errorf("%q: %w", newName, ErrNameCollision)
		}
	}

	r.swapName(s, newName)
	return nil
}

func (r *Registry) resetName(s *Session) error {
	r.swapName(s, s.host)
	return nil
}

// swapName reallocates s's display name, keeping the pool's enabled-length
// accounting in step with the session's disabled bit.
func (r *Registry) swapName(s *Session, prefix string) {
	if !s.disabled {
		r.names.setEnabled(s.name, false)
	}
	r.names.release(s.name)
	s.name = r.names.acquire(prefix)
	if s.disabled {
		r.names.setEnabled(s.name, false)
	}
}

// SetEnabled flips the disabled bit through the name pool so prefix-width
// bookkeeping follows enabled sessions only.
func (r *Registry) SetEnabled(s *Session, enabled bool) {
	if s.Enabled() == enabled {
		return
	}
	if enabled {
		s.Enable()
	} else {
		s.Disable()
	}
	r.names.setEnabled(s.name, enabled)
}

// MaxNameLen returns the width output prefixes are padded to.
func (r *Registry) MaxNameLen() int {
	return r.names.maxNameLen()
}

// CountAwaited returns how many enabled sessions are not yet idle, and the
// total enabled count. The broadcast coordinator's ready signal is
// awaited == 0.
func (r *Registry) CountAwaited() (awaited, total int) {
	for _, s := range r.sessions {
		if s.disabled {
			continue
		}
		total++
		if s.state != StateIdle && s.state != StateDead {
			awaited++
		}
	}
	return awaited, total
}

// CountByState returns per-state counts for the status prompt. Disabled
// sessions are counted once, regardless of liveness.
func (r *Registry) CountByState() (idle, running, pending, dead, disabled int) {
	for _, s := range r.sessions {
		if s.disabled {
			disabled++
			continue
		}
		switch s.state {
		case StateIdle:
			idle++
		case StateRunning:
			running++
		case StatePending:
			pending++
		case StateDead:
			dead++
		}
	}
	return
}

// AllDead reports whether every session is dead. False for an empty
// registry, so startup does not immediately terminate the run.
func (r *Registry) AllDead() bool {
	if len(r.sessions) == 0 {
		return false
	}
	for _, s := range r.sessions {
		if s.state != StateDead {
			return false
		}
	}
	return true
}

// FormatInfo aligns :list rows into columns, padding every column except
// the last.
func FormatInfo(rows [][]string) []string {
	if len(rows) == 0 {
		return nil
	}
	widths := make([]int, len(rows[0]))
	for _, row := range rows {
		for i, col := range row {
			if len(col) > widths[i] {
				widths[i] = len(col)
			}
		}
	}

	out := make([]string, 0, len(rows))
	for _, row := range rows {
		var b strings.Builder
		for i, col := range row {
			if i > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(col)
			if i < len(row)-1 {
				b.WriteString(strings.Repeat(" ", widths[i]-len(col)))
			}
		}
		out = append(out, b.String())
	}
	return out
}
