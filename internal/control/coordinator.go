package control

import (
	"time"

	"github.com/crisidev/mash/internal/session"
)

// Coordinator gates broadcasts on every enabled session reaching idle.
// There is one pending set per broadcast: sessions leave it by printing
// their sentinel prompt or by dying; a session stuck Running past the
// idle-wait bound is flagged but never killed, since the remote command
// may just be slow.
type Coordinator struct {
	reg   *session.Registry
	bound time.Duration
}

// NewCoordinator creates a coordinator over reg with the given idle-wait
// bound. A zero bound disables straggler flagging.
func NewCoordinator(reg *session.Registry, bound time.Duration) *Coordinator {
	return &Coordinator{reg: reg, bound: bound}
}

// Ready reports whether a new broadcast may be dispatched: no enabled
// session is still Pending or Running. An empty enabled set is ready.
func (c *Coordinator) Ready() bool {
	awaited, _ := c.reg.CountAwaited()
	return awaited == 0
}

// FlagStragglers flags enabled sessions Running past the idle-wait bound
// and returns those newly flagged. Already-flagged sessions are not
// reported again.
func (c *Coordinator) FlagStragglers(now time.Time) []*session.Session {
	var flagged []*session.Session
	for _, s := range c.reg.All() {
		if !s.Enabled() || s.Flagged() {
			continue
		}
		if s.RunningPast(c.bound, now) {
			s.Flag()
			flagged = append(flagged, s)
		}
	}
	return flagged
}

// ExpireConnects marks Pending sessions past their connect deadline and
// returns them; the controller force-kills and reports each one.
func (c *Coordinator) ExpireConnects(now time.Time) []*session.Session {
	var expired []*session.Session
	for _, s := range c.reg.All() {
		if s.ConnectExpired(now) {
			expired = append(expired, s)
		}
	}
	return expired
}
