package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/crisidev/mash/internal/config"
	"github.com/crisidev/mash/internal/console"
	"github.com/crisidev/mash/internal/session"
)

func newTestController(t *testing.T, out *bytes.Buffer, interactive bool) *controller {
	t.Helper()
	console.ConfigureColors(false)
	cfg := config.Default()
	cfg.HistoryPath = ""
	c, err := newController(cfg, console.New(out, interactive), "", interactive)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.cleanup)
	return c
}

// addIdleHost registers a host and walks its session to idle the way a
// remote shell would: banner output installs the prompt trigger, then the
// prompt line arrives.
func addIdleHost(t *testing.T, c *controller, host string) *session.Session {
	t.Helper()
	c.addHost(host)
	c.toSpawn = nil
	s := c.reg.All()[c.reg.Len()-1]
	c.handleEvent(session.Event{Rank: s.Rank(), Kind: session.EventData, Data: []byte("login banner\n")})
	c.handleEvent(session.Event{Rank: s.Rank(), Kind: session.EventData, Data: []byte(promptLine(c, s))})
	if s.State() != session.StateIdle {
		t.Fatalf("session %s not idle, state %s", s.Name(), s.State())
	}
	return s
}

func promptLine(c *controller, s *session.Session) string {
	return fmt.Sprintf("%s:prompt:%d:0/:0\n", c.reg.Token(), s.Rank())
}

func TestStatusPromptCounts(t *testing.T) {
	console.ConfigureColors(false)
	styled, width := statusPrompt(2, 1, 0, 0, 0)
	if styled != "mash [● 2 ◉ 1] ❯❯❯ " {
		t.Fatalf("prompt %q", styled)
	}
	if width == 0 {
		t.Fatal("zero visible width")
	}
}

func TestStatusPromptSkipsZeroStates(t *testing.T) {
	console.ConfigureColors(false)
	styled, _ := statusPrompt(0, 0, 0, 3, 0)
	if strings.Contains(styled, "●") || !strings.Contains(styled, "✕ 3") {
		t.Fatalf("prompt %q", styled)
	}
}

func TestSplitLines(t *testing.T) {
	got := splitLines("uptime\n\n  \ndf -h\n")
	if len(got) != 2 || got[0] != "uptime" || got[1] != "df -h" {
		t.Fatalf("got %v", got)
	}
}

func TestStringListRepeatable(t *testing.T) {
	var l stringList
	l.Set("a")
	l.Set("b")
	if l.String() != "a,b" {
		t.Fatalf("got %q", l.String())
	}
}

func TestReadPasswordFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pw")
	if err := os.WriteFile(path, []byte("hunter2\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	pw, err := readPassword(path)
	if err != nil {
		t.Fatal(err)
	}
	if pw != "hunter2" {
		t.Fatalf("pw %q", pw)
	}
}

func TestReadPasswordEmptySource(t *testing.T) {
	pw, err := readPassword("")
	if err != nil || pw != "" {
		t.Fatalf("pw=%q err=%v", pw, err)
	}
}

func TestAddHostQueuesPendingSession(t *testing.T) {
	c := newTestController(t, &bytes.Buffer{}, false)
	c.addHost("web1")

	if c.reg.Len() != 1 {
		t.Fatalf("%d sessions", c.reg.Len())
	}
	s := c.reg.All()[0]
	if s.State() != session.StatePending {
		t.Fatalf("state %s", s.State())
	}
	if len(c.toSpawn) != 1 {
		t.Fatal("spawn not queued")
	}
}

func TestHandleEventClosedMarksDeadDisabled(t *testing.T) {
	var out bytes.Buffer
	c := newTestController(t, &out, false)
	c.addHost("web1")
	s := c.reg.All()[0]

	c.handleEvent(session.Event{Rank: s.Rank(), Kind: session.EventData, Data: []byte("banner\n")})
	c.handleEvent(session.Event{Rank: s.Rank(), Kind: session.EventClosed, ExitCode: 255})

	if s.State() != session.StateDead || s.Enabled() {
		t.Fatalf("state=%s enabled=%v", s.State(), s.Enabled())
	}
	if !strings.Contains(out.String(), "connection closed") {
		t.Fatalf("no close report: %q", out.String())
	}
	// Retained startup output was flushed rather than lost.
	if !strings.Contains(out.String(), "banner") {
		t.Fatalf("startup output lost: %q", out.String())
	}
	if c.maxExit != 255 {
		t.Fatalf("maxExit %d", c.maxExit)
	}
}

func TestHandleEventIgnoresPurgedRank(t *testing.T) {
	c := newTestController(t, &bytes.Buffer{}, false)
	// Rank never registered; must not panic.
	c.handleEvent(session.Event{Rank: 42, Kind: session.EventData, Data: []byte("x\n")})
}

func TestHandleLineControlCommand(t *testing.T) {
	var out bytes.Buffer
	c := newTestController(t, &out, true)
	c.addHost("web1")

	c.handleLine(":list\n")
	if !strings.Contains(out.String(), "web1") {
		t.Fatalf("list output %q", out.String())
	}

	out.Reset()
	c.handleLine(":bogus\n")
	if !strings.Contains(out.String(), "unknown control command") {
		t.Fatalf("no error for bad verb: %q", out.String())
	}
}

func TestHandleLineQuit(t *testing.T) {
	c := newTestController(t, &bytes.Buffer{}, true)
	c.handleLine(":quit\n")
	if !c.quitting {
		t.Fatal("quit not started")
	}
}

func TestHandleLineLocalCommand(t *testing.T) {
	var out bytes.Buffer
	c := newTestController(t, &out, true)
	c.handleLine("!echo local-output\n")
	if !strings.Contains(out.String(), "local-output") {
		t.Fatalf("got %q", out.String())
	}
}

func TestHandleLineAddHosts(t *testing.T) {
	c := newTestController(t, &bytes.Buffer{}, true)
	c.handleLine(":add web<1-2>\n")
	if c.reg.Len() != 2 {
		t.Fatalf("%d sessions", c.reg.Len())
	}
}

func TestBroadcastWaitsForRunningSessions(t *testing.T) {
	c := newTestController(t, &bytes.Buffer{}, true)
	s := addIdleHost(t, c, "web1")

	c.handleLine("sleep 2\n")
	if s.State() != session.StateRunning {
		t.Fatalf("state %s", s.State())
	}

	// A second line must wait for the first command to finish.
	c.handleLine("echo second\n")
	if len(c.pendingLines) != 1 {
		t.Fatalf("second line not queued: %v", c.pendingLines)
	}
	c.tick(time.Now())
	if len(c.pendingLines) != 1 || s.State() != session.StateRunning {
		t.Fatal("queued line dispatched while a session was running")
	}

	// The shell prints its prompt again; the queued line goes out on the
	// next tick.
	c.handleEvent(session.Event{Rank: s.Rank(), Kind: session.EventData, Data: []byte(promptLine(c, s))})
	if s.State() != session.StateIdle {
		t.Fatalf("state %s", s.State())
	}
	c.tick(time.Now())
	if len(c.pendingLines) != 0 {
		t.Fatal("queued line not dispatched once idle")
	}
	if s.State() != session.StateRunning {
		t.Fatalf("state %s after dispatch", s.State())
	}
}

func TestBroadcastImmediateWhenAllIdle(t *testing.T) {
	c := newTestController(t, &bytes.Buffer{}, true)
	s := addIdleHost(t, c, "web1")

	c.handleLine("uptime\n")
	if len(c.pendingLines) != 0 {
		t.Fatal("line queued with every session idle")
	}
	if s.State() != session.StateRunning {
		t.Fatalf("state %s", s.State())
	}
}

func TestHiddenPasswordLineBypassesGate(t *testing.T) {
	c := newTestController(t, &bytes.Buffer{}, true)
	s := addIdleHost(t, c, "web1")

	c.handleLine("sudo true\n")
	if s.State() != session.StateRunning {
		t.Fatalf("state %s", s.State())
	}

	// The running command is blocked reading the password; it must not
	// queue behind itself.
	c.echoHidden = true
	c.handleLine("hunter2\n")
	if len(c.pendingLines) != 0 {
		t.Fatal("password line queued")
	}
	if c.echoHidden {
		t.Fatal("echo not restored")
	}
}

func TestStragglerReportShowsUnfinishedLine(t *testing.T) {
	var out bytes.Buffer
	c := newTestController(t, &out, true)
	s := addIdleHost(t, c, "web1")

	c.handleLine("apt upgrade\n")
	c.handleEvent(session.Event{Rank: s.Rank(), Kind: session.EventData, Data: []byte("continue? [Y/n] ")})

	out.Reset()
	c.tick(time.Now().Add(c.cfg.IdleWait + time.Minute))
	if !strings.Contains(out.String(), "still running after") {
		t.Fatalf("no straggler report: %q", out.String())
	}
	if !strings.Contains(out.String(), "continue? [Y/n]") {
		t.Fatalf("stuck prompt not shown: %q", out.String())
	}
}

func TestExitCodeNonInteractiveUsesMaxExit(t *testing.T) {
	c := newTestController(t, &bytes.Buffer{}, false)
	c.maxExit = 3
	if got := c.exitCode(); got != 3 {
		t.Fatalf("exit %d", got)
	}
	c.failed = true
	if got := c.exitCode(); got != 1 {
		t.Fatalf("failed exit %d", got)
	}
}
