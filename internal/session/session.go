// Package session manages the remote shell subprocesses: one Session per
// host, a rank-ordered Registry over all of them, and the glob selector
// that picks subsets for control commands.
//
// Session state is only ever touched from the controller goroutine. Reader
// goroutines own nothing but the PTY read side and the shared event channel.
package session

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/creack/pty"
	"github.com/mattn/go-runewidth"

	"github.com/crisidev/mash/internal/console"
	"github.com/crisidev/mash/internal/logging"
	"github.com/crisidev/mash/internal/sentinel"
)

var sessLog = logging.ForComponent(logging.CompSession)

// readChunkSize is the PTY read buffer size.
const readChunkSize = 4096

// Session owns one remote shell subprocess: its PTY, buffered partial
// output, and lifecycle state.
type Session struct {
	rank int
	host string
	port string
	name string

	state    State
	disabled bool
	debug    bool

	// flagged marks a session that stayed Running past the idle-wait
	// bound. It is informational: the command may legitimately be slow.
	flagged bool

	cmd  *exec.Cmd
	ptmx *os.File

	triggers *sentinel.Registry
	initSent bool

	readBuf    []byte // partial output since the last newline
	startupBuf []byte // lines collected while Pending, kept for :show_read_buffer
	lastLine   []byte // most recent non-sentinel output line
	lastExit   int    // remote $? carried by the latest sentinel prompt

	password string

	style lipgloss.Style
	con   *console.Console

	connectDeadline time.Time
	runningSince    time.Time
}

// DataResult reports side effects of HandleData the controller must act on.
type DataResult struct {
	// NewName is non-empty when a rename trigger fired; the controller
	// applies it through the Registry so uniqueness is enforced.
	NewName string

	// Fatal is set when a startup interlock (unknown host key) closed the
	// session. Relevant for --abort-errors during initial connect.
	Fatal bool
}

// Accessors. The controller goroutine is the only caller.

func (s *Session) Rank() int        { return s.rank }
func (s *Session) Host() string     { return s.host }
func (s *Session) Port() string     { return s.port }
func (s *Session) Name() string     { return s.name }
func (s *Session) State() State     { return s.state }
func (s *Session) Enabled() bool    { return !s.disabled }
func (s *Session) Debug() bool      { return s.debug }
func (s *Session) SetDebug(on bool) { s.debug = on }
func (s *Session) Flagged() bool    { return s.flagged }
func (s *Session) LastExit() int    { return s.lastExit }
func (s *Session) LastLine() []byte { return s.lastLine }

// SetPassword arms automatic password entry for the Pending phase.
func (s *Session) SetPassword(pw string) { s.password = pw }

// Connect spawns the remote-access subprocess under a PTY and starts its
// reader goroutine. The session enters Pending; it reaches Idle when the
// first sentinel prompt arrives, or Dead on spawn failure, stream close, or
// the connect timeout.
func (s *Session) Connect(sshTemplate, user string, timeout time.Duration, events chan<- Event) error {
	target := s.host
	if user != "" {
		target = user + "@" + s.host
	}
	portArg := ""
	if s.port != "22" {
		portArg = "-p " + s.port
	}

	command := strings.ReplaceAll(sshTemplate, "%(host)s", target)
	command = strings.ReplaceAll(command, "%(port)s", portArg)
	// Templates without %(host)s get the host appended.
	if !strings.Contains(sshTemplate, "%(host)s") && !strings.Contains(command, target) {
		command = command + " " + target
	}

	cmd := exec.Command("/bin/sh", "-c", command)
	ptmx, err := pty.Start(cmd)
	if err != nil {
		s.setState(StateDead)
		return fmt.Errorf("spawning %q: %w", command, err)
	}

	s.cmd = cmd
	s.ptmx = ptmx
	s.initSent = false
	s.readBuf = nil
	s.setState(StatePending)
	if timeout > 0 {
		s.connectDeadline = time.Now().Add(timeout)
	} else {
		s.connectDeadline = time.Time{}
	}

	sessLog.Debug("connect",
		slog.Int("rank", s.rank),
		slog.String("host", s.host),
		slog.Int("pid", cmd.Process.Pid))

	go reader(s.rank, ptmx, cmd, events)
	return nil
}

// reader pumps subprocess output into the shared event channel. It runs
// until EOF or a read error, reaps the process, and emits EventClosed.
func reader(rank int, ptmx *os.File, cmd *exec.Cmd, events chan<- Event) {
	buf := make([]byte, readChunkSize)
	for {
		n, err := ptmx.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			// The PTY gives \r\n even with onlcr off remotely during
			// startup; normalize so line splitting sees one terminator.
			for i, b := range data {
				if b == '\r' {
					data[i] = '\n'
				}
			}
			events <- Event{Rank: rank, Kind: EventData, Data: data}
		}
		if err != nil {
			break
		}
	}

	code := 255
	if err := cmd.Wait(); err == nil {
		code = 0
	} else if ee, ok := err.(*exec.ExitError); ok {
		code = ee.ExitCode()
		if code < 0 {
			// Killed by signal.
			code = 128 + int(ee.Sys().(syscall.WaitStatus).Signal())
		}
	}
	events <- Event{Rank: rank, Kind: EventClosed, ExitCode: code}
}

// Reconnect re-spawns a dead session in place, keeping its rank and display
// name. State resets to Pending.
func (s *Session) Reconnect(sshTemplate, user string, timeout time.Duration, events chan<- Event) error {
	if s.state != StateDead {
		return fmt.Errorf("%s: %w", s.name, ErrNotDead)
	}
	s.startupBuf = nil
	s.lastLine = nil
	s.flagged = false
	return s.Connect(sshTemplate, user, timeout, events)
}

// Send writes data to the subprocess. Writable while Idle or Running (the
// PTY input buffer preserves ordering); fails on dead or disabled sessions.
func (s *Session) Send(data []byte) error {
	if s.state == StateDead {
		return fmt.Errorf("%s: %w", s.name, ErrNotConnected)
	}
	if s.disabled {
		return fmt.Errorf("%s: %w", s.name, ErrDisabled)
	}
	s.write(data)
	return nil
}

// Dispatch sends a broadcast command and moves an idle session to Running.
// Running sessions get the bytes queued into their PTY as-is, preserving
// ordering for interactive programs expecting further input.
func (s *Session) Dispatch(command []byte) error {
	if err := s.Send(command); err != nil {
		return err
	}
	if s.state == StateIdle {
		s.setState(StateRunning)
		s.runningSince = time.Now()
	}
	return nil
}

// write pushes bytes at the PTY without eligibility checks. Used for
// control characters and automation that must reach even Running shells.
func (s *Session) write(data []byte) {
	if s.ptmx == nil {
		return
	}
	if _, err := s.ptmx.Write(data); err != nil {
		sessLog.Debug("write_failed", slog.Int("rank", s.rank), slog.String("error", err.Error()))
	}
}

// WriteRaw forwards bytes (e.g. a control character) regardless of state,
// as long as the subprocess is live.
func (s *Session) WriteRaw(data []byte) {
	if s.state != StateDead {
		s.write(data)
	}
}

// Disable excludes the session from broadcasts and the idle-wait set.
// Liveness state is untouched.
func (s *Session) Disable() { s.disabled = true }

// Enable restores broadcast eligibility. Liveness state is untouched.
func (s *Session) Enable() { s.disabled = false }

// ConnectExpired reports whether a Pending session has outlived its
// connect timeout.
func (s *Session) ConnectExpired(now time.Time) bool {
	return s.state == StatePending && !s.connectDeadline.IsZero() && now.After(s.connectDeadline)
}

// RunningPast reports whether the session has been Running longer than
// bound. Zero bound never expires.
func (s *Session) RunningPast(bound time.Duration, now time.Time) bool {
	return s.state == StateRunning && bound > 0 && now.Sub(s.runningSince) > bound
}

// Flag marks the session as running past the idle-wait bound.
func (s *Session) Flag() { s.flagged = true }

// Terminate sends the given signal to the subprocess's process group.
func (s *Session) Terminate(sig syscall.Signal) {
	if s.cmd == nil || s.cmd.Process == nil {
		return
	}
	// Negative pid signals the whole group started under the PTY.
	if err := syscall.Kill(-s.cmd.Process.Pid, sig); err != nil {
		_ = s.cmd.Process.Signal(sig)
	}
}

// MarkClosed transitions to Dead after the reader reported EOF, flushing
// retained startup output so nothing the host said is silently lost. The
// controller also disables the session (through the Registry, which owns
// the name-width bookkeeping) so a later :purge can collect it.
func (s *Session) MarkClosed(maxNameLen int) {
	s.readBuf = nil
	if len(s.startupBuf) > 0 {
		data := s.startupBuf
		s.startupBuf = nil
		s.PrintLines(data, maxNameLen)
	}
	s.setState(StateDead)
	if s.ptmx != nil {
		s.ptmx.Close()
		s.ptmx = nil
	}
}

// Disconnect force-kills the subprocess. The reader goroutine observes EOF
// and emits EventClosed, which completes the transition via MarkClosed.
func (s *Session) Disconnect() {
	s.Terminate(syscall.SIGKILL)
}

// SetTermSize propagates the local window size to the remote PTY.
func (s *Session) SetTermSize(cols, rows uint16) {
	if s.ptmx == nil {
		return
	}
	_ = pty.Setsize(s.ptmx, &pty.Winsize{Rows: rows, Cols: cols})
}

// HandleData ingests a chunk of subprocess output: buffers partial lines,
// recognizes sentinel triggers, prints completed lines, and runs the
// Pending-phase automation (password entry, host-key interlocks, init
// script injection).
func (s *Session) HandleData(data []byte, maxNameLen int) DataResult {
	var res DataResult
	if s.state == StateDead {
		return res
	}

	if s.debug {
		s.printDebug(append([]byte("==> "), data...))
	}

	s.readBuf = append(s.readBuf, data...)

	// Fast path: Running with no sentinel token anywhere in the buffer
	// means everything up to the last newline is plain output.
	if s.flushRunningOutput(maxNameLen) {
		return res
	}

	if s.state == StatePending && s.password != "" {
		if bytes.Contains(bytes.ToLower(s.readBuf), []byte("password:")) {
			s.write([]byte(s.password + "\n"))
			s.readBuf = nil
			return res
		}
	}

	for {
		idx := bytes.IndexByte(s.readBuf, '\n')
		if idx < 0 {
			break
		}
		line := append([]byte(nil), s.readBuf[:idx+1]...)
		s.readBuf = append(s.readBuf[:0:0], s.readBuf[idx+1:]...)

		if m, ok := s.triggers.Process(line); ok {
			switch m.Action {
			case sentinel.ActionPrompt:
				if m.ExitStatus >= 0 {
					s.lastExit = m.ExitStatus
				}
				s.setState(StateIdle)
			case sentinel.ActionRename:
				if m.NewName != "" {
					res.NewName = m.NewName
				} else {
					res.NewName = s.host
				}
			}
		} else {
			switch s.state {
			case StateIdle, StateRunning:
				s.PrintLines(line, maxNameLen)
			case StatePending:
				s.startupBuf = append(s.startupBuf, line...)
				if bytes.Contains(line, []byte("The authenticity of host ")) {
					msg := append(bytes.TrimSpace(line),
						[]byte(" Closing connection. Consider manually connecting or using ssh-keyscan.")...)
					s.PrintLines(msg, maxNameLen)
					s.Disconnect()
					res.Fatal = true
					return res
				}
				if bytes.Contains(line, []byte("REMOTE HOST IDENTIFICATION HAS CHANGED")) {
					s.PrintLines([]byte("Remote host identification has changed. Consider manually connecting or using ssh-keyscan."), maxNameLen)
				}
			}
		}

		if s.flushRunningOutput(maxNameLen) {
			return res
		}
	}

	// First output from the remote side means the shell is up: install the
	// sentinel prompt.
	if s.state == StatePending && !s.initSent {
		s.write(sentinel.InitScript(s.triggers))
		s.initSent = true
	}

	return res
}

// flushRunningOutput prints all complete lines when the buffer cannot
// contain a trigger. Returns true if it emitted anything.
func (s *Session) flushRunningOutput(maxNameLen int) bool {
	if s.state != StateRunning || s.triggers.Contains(s.readBuf) {
		return false
	}
	idx := bytes.LastIndexByte(s.readBuf, '\n')
	if idx < 0 {
		return false
	}
	out := s.readBuf[:idx]
	s.readBuf = append(s.readBuf[:0:0], s.readBuf[idx+1:]...)
	s.PrintLines(out, maxNameLen)
	return true
}

// ResetPrompt re-issues the shell init script. Used when a remote program
// is suspected to have clobbered the sentinel prompt.
func (s *Session) ResetPrompt() error {
	return s.Dispatch(sentinel.InitScript(s.triggers))
}

// RequestRename asks the remote shell to echo the (possibly shell-expanded)
// new name back through a rename trigger.
func (s *Session) RequestRename(name string) error {
	return s.Dispatch(sentinel.RenameCommand(s.triggers, name))
}

// StartupBuffer hands over the output retained from the Pending phase and
// clears it.
func (s *Session) StartupBuffer() []byte {
	data := s.startupBuf
	s.startupBuf = nil
	return data
}

// PrintUnfinished flushes a partial line stuck in the buffer of a Running
// session, so prompts like "continue? [Y/n] " become visible.
func (s *Session) PrintUnfinished(maxNameLen int) {
	if s.state != StateRunning || len(s.readBuf) == 0 {
		return
	}
	buf := s.readBuf
	s.readBuf = nil
	if _, ok := s.triggers.Process(buf); !ok {
		s.PrintLines(buf, maxNameLen)
	}
}

// PrintLines writes output lines to the display, each prefixed with the
// colored display name padded to the longest enabled name.
func (s *Session) PrintLines(lines []byte, maxNameLen int) {
	cleaned := stripBlankLines(lines)
	if len(cleaned) == 0 {
		return
	}

	pad := maxNameLen - runewidth.StringWidth(s.name)
	if pad < 0 {
		pad = 0
	}
	logPrefix := s.name + strings.Repeat(" ", pad) + " : "
	displayPrefix := s.style.Render(s.name+strings.Repeat(" ", pad)) + " : "

	var display, plain bytes.Buffer
	display.WriteString(displayPrefix)
	plain.WriteString(logPrefix)
	for _, b := range cleaned {
		if b == '\n' {
			display.WriteByte('\n')
			display.WriteString(displayPrefix)
			plain.WriteByte('\n')
			plain.WriteString(logPrefix)
		} else {
			display.WriteByte(b)
			plain.WriteByte(b)
		}
	}
	display.WriteByte('\n')
	plain.WriteByte('\n')

	s.con.OutputWithLog(display.Bytes(), plain.Bytes())

	if idx := bytes.LastIndexByte(cleaned, '\n'); idx >= 0 {
		s.lastLine = append([]byte(nil), cleaned[idx+1:]...)
	} else {
		s.lastLine = append([]byte(nil), cleaned...)
	}
}

func (s *Session) printDebug(msg []byte) {
	var b bytes.Buffer
	fmt.Fprintf(&b, "[dbg] %s[%s]: ", s.name, s.state)
	b.Write(msg)
	b.WriteByte('\n')
	s.con.Output(b.Bytes())
}

// Info returns the :list columns: name, enabled flag, state, last line.
func (s *Session) Info() []string {
	enabled := "enabled"
	if s.disabled {
		enabled = "disabled"
	}
	state := s.state.String()
	if s.flagged {
		state += "*"
	}
	return []string{s.name, enabled, state + ":", string(s.lastLine)}
}

func (s *Session) setState(next State) {
	if next == s.state {
		return
	}
	if s.debug {
		s.printDebug([]byte("state => " + next.String()))
	}
	if s.state == StatePending && next == StateIdle {
		// The shell reached its prompt; the startup chatter is no longer
		// interesting unless asked for.
		sessLog.Debug("first_prompt", slog.Int("rank", s.rank), slog.String("host", s.host))
	}
	s.state = next
}

// stripBlankLines drops leading/trailing newlines and whitespace-only lines.
func stripBlankLines(data []byte) []byte {
	var lines [][]byte
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		if len(bytes.TrimSpace(line)) > 0 {
			lines = append(lines, line)
		}
	}
	return bytes.Join(lines, []byte{'\n'})
}
