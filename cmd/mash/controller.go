package main

import (
	"bufio"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/crisidev/mash/internal/config"
	"github.com/crisidev/mash/internal/console"
	"github.com/crisidev/mash/internal/control"
	"github.com/crisidev/mash/internal/history"
	"github.com/crisidev/mash/internal/hostexpand"
	"github.com/crisidev/mash/internal/logging"
	"github.com/crisidev/mash/internal/sentinel"
	"github.com/crisidev/mash/internal/session"
)

var mainLog = logging.ForComponent(logging.CompMain)

// eventBuffer sizes the shared reader-to-controller channel. Readers block
// briefly when the controller is busy; the PTY buffers absorb the rest.
const eventBuffer = 256

// tickInterval paces timeout checks, spawn rate limiting, and the gated
// broadcast queue.
const tickInterval = 100 * time.Millisecond

// controller owns the registry and all session state. Every mutation
// happens on its Run goroutine; readers, the input reader, and hosts-file
// watchers only feed its channels.
type controller struct {
	cfg         config.Config
	con         *console.Console
	reg         *session.Registry
	disp        *control.Dispatcher
	coord       *control.Coordinator
	hist        *history.DB
	interactive bool
	password    string

	events   chan session.Event
	input    chan string
	sigs     chan os.Signal
	newHosts chan string
	watchers []*hostexpand.Watcher

	limiter *rate.Limiter
	toSpawn []*session.Session

	// pendingLines holds input waiting for every enabled session to reach
	// idle: one command is in flight at a time, interactive or not.
	// Interactive entries are bare broadcast payloads; non-interactive
	// entries are raw lines that still go through handleLine.
	pendingLines []string
	inputClosed  bool

	timedOut   map[int]bool
	echoHidden bool
	lastPrompt string

	quitting     bool
	killDeadline time.Time
	hardDeadline time.Time
	maxExit      int
	failed       bool
}

func newController(cfg config.Config, con *console.Console, password string, interactive bool) (*controller, error) {
	c := &controller{
		cfg:         cfg,
		con:         con,
		reg:         session.NewRegistry(sentinel.NewToken(), con),
		interactive: interactive,
		password:    password,
		events:      make(chan session.Event, eventBuffer),
		input:       make(chan string),
		sigs:        make(chan os.Signal, 4),
		newHosts:    make(chan string, 16),
		timedOut:    make(map[int]bool),
	}
	mainLog.Debug("run_token", slog.String("token", c.reg.Token()))
	c.coord = control.NewCoordinator(c.reg, cfg.IdleWait)
	c.disp = &control.Dispatcher{
		Registry:    c.reg,
		Console:     con,
		Interactive: interactive,
		Reconnect:   c.respawn,
		EchoOff: func() {
			setLocalEcho(false)
			c.echoHidden = true
		},
	}
	if cfg.SpawnPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.SpawnPerSecond), cfg.SpawnPerSecond)
	}

	if interactive && cfg.HistoryPath != "" {
		hist, err := history.Open(cfg.HistoryPath)
		if err != nil {
			con.Outputf("mash: history disabled: %v\n", err)
		} else {
			c.hist = hist
			if err := hist.Prune(history.DefaultLimit); err != nil {
				mainLog.Warn("history_prune_failed", slog.String("error", err.Error()))
			}
		}
	}

	for _, path := range cfg.HostsFiles {
		w, err := hostexpand.NewWatcher(path)
		if err != nil {
			mainLog.Warn("hosts_file_watch_failed",
				slog.String("path", path), slog.String("error", err.Error()))
			continue
		}
		c.watchers = append(c.watchers, w)
		go func() {
			for h := range w.Added() {
				c.newHosts <- h
			}
		}()
	}

	for _, host := range cfg.Hosts {
		c.addHost(host)
	}
	return c, nil
}

// Run drives the controller loop until shutdown completes. The return
// value is the process exit code.
func (c *controller) Run() int {
	defer c.cleanup()

	signal.Notify(c.sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGTSTP, syscall.SIGWINCH)
	defer signal.Stop(c.sigs)

	if c.cfg.Command != "" {
		c.pendingLines = splitLines(c.cfg.Command)
		c.inputClosed = true
	} else {
		go c.readInput()
	}

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case ev := <-c.events:
			c.handleEvent(ev)

		case line, ok := <-c.input:
			if !ok {
				c.input = nil
				c.inputClosed = true
				if c.interactive {
					// Ctrl-D: forward EOF to every remote shell, then leave.
					c.forwardByte(0x04)
					c.startQuit()
				}
				break
			}
			if c.interactive {
				c.handleLine(line)
			} else {
				c.pendingLines = append(c.pendingLines, line)
			}

		case sig := <-c.sigs:
			c.handleSignal(sig)

		case host := <-c.newHosts:
			c.con.Outputf("adding %s from hosts file\n", host)
			for _, h := range hostexpand.Expand(host) {
				c.addHost(h)
			}

		case now := <-ticker.C:
			if c.tick(now) {
				return c.exitCode()
			}
		}

		if c.quitting && c.reg.AllDead() {
			return c.exitCode()
		}
		c.refreshPrompt()
	}
}

func (c *controller) cleanup() {
	for _, w := range c.watchers {
		w.Close()
	}
	if c.hist != nil {
		c.hist.Close()
	}
	if c.echoHidden {
		setLocalEcho(true)
	}
}

func (c *controller) exitCode() int {
	if c.failed {
		return 1
	}
	if !c.interactive {
		return c.maxExit
	}
	return 0
}

// addHost registers a session for one expanded host argument and queues
// its spawn. The session is visible in :list as pending immediately.
func (c *controller) addHost(host string) {
	s := c.reg.Add(host)
	s.SetPassword(c.password)
	s.SetDebug(c.cfg.Debug)
	c.toSpawn = append(c.toSpawn, s)
}

func (c *controller) spawn(s *session.Session) {
	if err := s.Connect(c.cfg.SSHTemplate, c.cfg.User, c.cfg.ConnectTimeout, c.events); err != nil {
		c.con.Outputf("%s: %v\n", s.Name(), err)
		c.reg.SetEnabled(s, false)
		if c.cfg.AbortErrors {
			c.failed = true
			c.startQuit()
		}
		return
	}
	if cols, rows := c.remoteTermSize(); cols > 0 {
		s.SetTermSize(cols, rows)
	}
}

// remoteTermSize is the local terminal size with the name-prefix width
// taken off the columns, so full-width remote output still fits the
// prefixed display.
func (c *controller) remoteTermSize() (cols, rows uint16) {
	cols, rows = localTermSize()
	if cols == 0 {
		return 0, 0
	}
	prefix := uint16(c.reg.MaxNameLen() + len(" : "))
	if cols > prefix+10 {
		cols -= prefix
	}
	return cols, rows
}

// respawn backs the :reconnect command: a dead session is re-spawned in
// place, keeping its rank and display name.
func (c *controller) respawn(s *session.Session) error {
	delete(c.timedOut, s.Rank())
	return s.Reconnect(c.cfg.SSHTemplate, c.cfg.User, c.cfg.ConnectTimeout, c.events)
}

func (c *controller) handleEvent(ev session.Event) {
	s := c.reg.Get(ev.Rank)
	if s == nil {
		// Purged while the event was in flight.
		return
	}

	switch ev.Kind {
	case session.EventData:
		res := s.HandleData(ev.Data, c.reg.MaxNameLen())
		if res.NewName != "" {
			if err := c.reg.Rename(s, res.NewName); err != nil {
				c.con.Outputf("%s: %v\n", s.Name(), err)
			}
		}
		if res.Fatal && c.cfg.AbortErrors {
			c.failed = true
		}

	case session.EventClosed:
		wasPending := s.State() == session.StatePending
		s.MarkClosed(c.reg.MaxNameLen())
		c.reg.SetEnabled(s, false)
		if !c.quitting {
			c.con.Outputf("%s: connection closed (exit status %d)\n", s.Name(), ev.ExitCode)
			if ev.ExitCode != 0 && c.maxExit < ev.ExitCode {
				c.maxExit = ev.ExitCode
			}
			if wasPending && c.cfg.AbortErrors {
				c.failed = true
				c.startQuit()
			}
		}
	}
}

func (c *controller) handleLine(line string) {
	if c.hist != nil {
		if err := c.hist.Append(line); err != nil {
			mainLog.Warn("history_append_failed", slog.String("error", err.Error()))
		}
	}
	c.con.Log([]byte("> " + strings.TrimRight(line, "\r\n") + "\n"))

	kind, payload := control.Classify(line)
	switch kind {
	case control.KindEmpty:
		return

	case control.KindControl:
		res, err := c.disp.Dispatch(payload)
		if err != nil {
			c.con.Outputf("mash: %v\n", err)
			return
		}
		if res.Quit {
			c.startQuit()
		}
		for _, h := range res.AddHosts {
			c.addHost(h)
		}

	case control.KindLocal:
		c.runLocal(payload)

	case control.KindBroadcast:
		if c.echoHidden {
			// The remote commands are blocked reading this line; it has
			// to go through even while they are running.
			c.broadcast(payload)
			return
		}
		if len(c.pendingLines) == 0 && c.coord.Ready() {
			c.broadcast(payload)
		} else {
			c.pendingLines = append(c.pendingLines, payload)
			mainLog.Debug("broadcast_queued", slog.Int("pending", len(c.pendingLines)))
		}
	}
}

// broadcast delivers one input line to every enabled live session,
// restoring local echo if :hide_password turned it off.
func (c *controller) broadcast(payload string) {
	c.disp.Broadcast([]byte(payload))
	if c.echoHidden {
		setLocalEcho(true)
		c.echoHidden = false
	}
}

// runLocal executes a "!" command with the local shell and prints its
// output through the console.
func (c *controller) runLocal(command string) {
	out, err := exec.Command("/bin/sh", "-c", command).CombinedOutput()
	if len(out) > 0 {
		c.con.Output(out)
	}
	if err != nil {
		c.con.Outputf("mash: %v\n", err)
	}
}

func (c *controller) handleSignal(sig os.Signal) {
	switch sig {
	case syscall.SIGWINCH:
		if cols, rows := c.remoteTermSize(); cols > 0 {
			for _, s := range c.reg.All() {
				s.SetTermSize(cols, rows)
			}
		}
	case syscall.SIGINT:
		if c.interactive && !c.quitting {
			// Forward as Ctrl-C so the remote commands are interrupted,
			// not the controller.
			c.forwardByte(0x03)
			return
		}
		if c.maxExit < 130 {
			c.maxExit = 130
		}
		c.startQuit()
	case syscall.SIGTSTP:
		// Forward as Ctrl-Z; suspending the controller would strand the
		// remote sessions.
		c.forwardByte(0x1a)
	case syscall.SIGTERM:
		c.startQuit()
	}
}

// forwardByte sends one control byte to every enabled live session.
func (c *controller) forwardByte(b byte) {
	for _, s := range c.reg.All() {
		if s.Enabled() {
			s.WriteRaw([]byte{b})
		}
	}
}

// startQuit begins graceful teardown: terminate every live subprocess,
// then escalate to SIGKILL after the grace period.
func (c *controller) startQuit() {
	c.beginShutdown(true)
}

// beginShutdown arms the shutdown deadlines. With terminate set every live
// subprocess gets SIGTERM up front; without it the sessions are expected
// to exit on their own (they were just sent "exit") and only stragglers
// see the SIGKILL escalation.
func (c *controller) beginShutdown(terminate bool) {
	if c.quitting {
		return
	}
	c.quitting = true
	c.toSpawn = nil
	now := time.Now()
	c.killDeadline = now.Add(c.cfg.ShutdownGrace)
	c.hardDeadline = now.Add(2*c.cfg.ShutdownGrace + time.Second)
	if terminate {
		for _, s := range c.reg.All() {
			if s.State() != session.StateDead {
				s.Terminate(syscall.SIGTERM)
			}
		}
	}
	mainLog.Debug("quit_started")
}

// tick runs the periodic work. It returns true when the controller should
// exit.
func (c *controller) tick(now time.Time) bool {
	// Paced spawning.
	for len(c.toSpawn) > 0 && (c.limiter == nil || c.limiter.Allow()) {
		s := c.toSpawn[0]
		c.toSpawn = c.toSpawn[1:]
		c.spawn(s)
	}

	for _, s := range c.coord.ExpireConnects(now) {
		if c.timedOut[s.Rank()] {
			continue
		}
		c.timedOut[s.Rank()] = true
		c.con.Outputf("%s: timed out connecting\n", s.Name())
		s.Disconnect()
		if c.cfg.AbortErrors {
			c.failed = true
			c.startQuit()
		}
	}

	for _, s := range c.coord.FlagStragglers(now) {
		c.con.Outputf("%s: still running after %s\n", s.Name(), c.cfg.IdleWait)
		// A straggler is often stuck on a prompt that never got its
		// newline; show it.
		s.PrintUnfinished(c.reg.MaxNameLen())
	}

	// Gated dispatch: queued lines go out one at a time, each waiting for
	// every enabled session to come back to idle.
	if !c.quitting && len(c.toSpawn) == 0 && c.coord.Ready() {
		if len(c.pendingLines) > 0 {
			line := c.pendingLines[0]
			c.pendingLines = c.pendingLines[1:]
			if c.interactive {
				c.broadcast(line)
			} else {
				c.handleLine(line)
			}
		} else if !c.interactive && c.inputClosed {
			c.recordRemoteExits()
			c.disp.Broadcast([]byte("exit"))
			c.beginShutdown(false)
		}
	}

	if !c.quitting && c.reg.AllDead() {
		c.con.Outputf("all sessions are dead, exiting\n")
		c.startQuit()
	}

	if c.quitting {
		if c.reg.AllDead() {
			return true
		}
		if now.After(c.killDeadline) {
			for _, s := range c.reg.All() {
				if s.State() != session.StateDead {
					s.Terminate(syscall.SIGKILL)
				}
			}
			c.killDeadline = c.hardDeadline
		}
		if now.After(c.hardDeadline) {
			mainLog.Warn("shutdown_timeout")
			return true
		}
	}
	return false
}

// recordRemoteExits folds each session's last remote exit status into the
// process exit code before teardown obscures it.
func (c *controller) recordRemoteExits() {
	for _, s := range c.reg.All() {
		if code := s.LastExit(); code > c.maxExit {
			c.maxExit = code
		}
	}
}

// refreshPrompt redraws the interactive status prompt when the counts
// changed or output scrolled it away.
func (c *controller) refreshPrompt() {
	if !c.interactive || c.quitting {
		return
	}
	idle, running, pending, dead, disabled := c.reg.CountByState()
	styled, width := statusPrompt(idle, running, pending, dead, disabled)
	if styled != c.lastPrompt || !c.con.StatusShown() {
		c.lastPrompt = styled
		c.con.WriteStatus(styled, width)
	}
}

func (c *controller) readInput() {
	r := bufio.NewReader(os.Stdin)
	for {
		line, err := r.ReadString('\n')
		if len(line) > 0 {
			c.input <- line
		}
		if err != nil {
			close(c.input)
			return
		}
	}
}

func splitLines(s string) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
