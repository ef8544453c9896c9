// Package control interprets the user's input lines: classification into
// broadcast/local/control, the control-command verb table, and the
// broadcast coordinator that gates on all sessions reaching idle.
package control

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/crisidev/mash/internal/console"
	"github.com/crisidev/mash/internal/hostexpand"
	"github.com/crisidev/mash/internal/logging"
	"github.com/crisidev/mash/internal/session"
)

var ctlLog = logging.ForComponent(logging.CompControl)

// Result reports dispatch side effects the controller loop must act on.
type Result struct {
	// Quit starts graceful shutdown.
	Quit bool

	// AddHosts are unexpanded host arguments to spawn sessions for.
	AddHosts []string
}

// Dispatcher executes control commands against the registry. It runs on
// the controller goroutine; commands mutate state directly and never block
// on remote I/O.
type Dispatcher struct {
	Registry    *session.Registry
	Console     *console.Console
	Interactive bool

	// Reconnect re-spawns a dead session in place. Wired by the
	// controller, which owns the spawn parameters and event channel.
	Reconnect func(*session.Session) error

	// EchoOff disables local terminal echo, for :hide_password.
	EchoOff func()
}

type verb struct {
	name string
	args string
	desc string
	run  func(d *Dispatcher, params string) (Result, error)
}

var verbs []verb

// Populated in init: the help verb renders the table itself, so a plain
// package-level initializer would be an initialization cycle.
func init() {
	verbs = []verb{
		{"help", "", "Show this help message", (*Dispatcher).help},
		{"list", "[PATTERN]", "List sessions and their status", (*Dispatcher).list},
		{"quit", "", "Close all connections and exit", (*Dispatcher).quit},
		{"enable", "[PATTERN]", "Enable matching sessions", (*Dispatcher).enable},
		{"disable", "[PATTERN]", "Disable matching sessions", (*Dispatcher).disable},
		{"reconnect", "[PATTERN]", "Reconnect dead sessions", (*Dispatcher).reconnect},
		{"add", "HOST...", "Add new connections", (*Dispatcher).add},
		{"purge", "[PATTERN]", "Remove dead disabled sessions", (*Dispatcher).purge},
		{"rename", "NAME", "Rename enabled sessions (supports remote shell expansion)", (*Dispatcher).rename},
		{"send_ctrl", "LETTER [PATTERN]", "Send a control character (e.g. :send_ctrl c)", (*Dispatcher).sendCtrl},
		{"reset_prompt", "[PATTERN]", "Re-send the prompt initialization string", (*Dispatcher).resetPrompt},
		{"chdir", "[PATH]", "Change the local working directory", (*Dispatcher).chdir},
		{"hide_password", "", "Disable echo, debug, and logging for password entry", (*Dispatcher).hidePassword},
		{"set_debug", "y|n [PATTERN]", "Enable or disable debug output per session", (*Dispatcher).setDebug},
		{"export_vars", "", "Set MASH_RANK/NAME/NR_SHELLS on each session", (*Dispatcher).exportVars},
		{"set_log", "[PATH]", "Set or disable the log file", (*Dispatcher).setLog},
		{"show_read_buffer", "[PATTERN]", "Show buffered output from session startup", (*Dispatcher).showReadBuffer},
	}
}

// VerbNames returns the control-command verbs, for completion.
func VerbNames() []string {
	names := make([]string, len(verbs))
	for i, v := range verbs {
		names[i] = v.name
	}
	return names
}

// Dispatch runs one control command ("verb arg..." with the ':' already
// stripped). Errors are user mistakes: reported, never fatal.
func (d *Dispatcher) Dispatch(command string) (Result, error) {
	name, params, _ := strings.Cut(command, " ")
	params = strings.TrimSpace(params)
	if name == "" {
		return Result{}, nil
	}

	for _, v := range verbs {
		if v.name == name {
			ctlLog.Debug("dispatch", slog.String("verb", name), slog.String("params", params))
			return v.run(d, params)
		}
	}
	return Result{}, unknownVerb(name)
}

// unknownVerb builds the error for a bad verb, with a fuzzy suggestion
// when one is close enough.
func unknownVerb(name string) error {
	matches := fuzzy.Find(name, VerbNames())
	if len(matches) > 0 {
		return fmt.Errorf("unknown control command: :%s (did you mean :%s? type :help for usage)",
			name, matches[0].Str)
	}
	return fmt.Errorf("unknown control command: :%s (type :help for usage)", name)
}

// selected resolves a pattern argument, reporting unmatched patterns. An
// empty pattern covers all enabled sessions.
func (d *Dispatcher) selected(pattern string) []*session.Session {
	matched, missing := d.Registry.Select(pattern)
	for _, m := range missing {
		d.Console.Outputf("%s not found\n", m)
	}
	return matched
}

// selectedAll is like selected but an empty pattern covers disabled
// sessions too. For commands whose targets are disabled by definition.
func (d *Dispatcher) selectedAll(pattern string) []*session.Session {
	matched, missing := d.Registry.SelectAll(pattern)
	for _, m := range missing {
		d.Console.Outputf("%s not found\n", m)
	}
	return matched
}

func (d *Dispatcher) quit(string) (Result, error) {
	return Result{Quit: true}, nil
}

func (d *Dispatcher) list(params string) (Result, error) {
	var rows [][]string
	for _, s := range d.selectedAll(params) {
		rows = append(rows, s.Info())
	}
	for _, line := range session.FormatInfo(rows) {
		d.Console.Outputf("%s\n", line)
	}
	return Result{}, nil
}

func (d *Dispatcher) enable(params string) (Result, error) {
	d.toggle(params, true)
	return Result{}, nil
}

func (d *Dispatcher) disable(params string) (Result, error) {
	d.toggle(params, false)
	return Result{}, nil
}

// toggle flips the disabled bit on matched sessions. Dead sessions stay
// disabled: enabling one would re-admit it to broadcast targeting with no
// subprocess behind it.
func (d *Dispatcher) toggle(pattern string, enable bool) {
	for _, s := range d.selectedAll(pattern) {
		if enable && s.State() == session.StateDead {
			continue
		}
		d.Registry.SetEnabled(s, enable)
	}
}

func (d *Dispatcher) reconnect(params string) (Result, error) {
	for _, s := range d.selectedAll(params) {
		if s.State() != session.StateDead {
			continue
		}
		if d.Reconnect == nil {
			continue
		}
		if err := d.Reconnect(s); err != nil {
			d.Console.Outputf("%s: %v\n", s.Name(), err)
			continue
		}
		d.Registry.SetEnabled(s, true)
	}
	return Result{}, nil
}

func (d *Dispatcher) add(params string) (Result, error) {
	hosts := hostexpand.ExpandAll(strings.Fields(params))
	if len(hosts) == 0 {
		return Result{}, fmt.Errorf("expected at least one hostname")
	}
	return Result{AddHosts: hosts}, nil
}

func (d *Dispatcher) purge(params string) (Result, error) {
	for _, s := range d.selectedAll(params) {
		if err := d.Registry.Purge(s); err != nil {
			d.Console.Outputf("%v\n", err)
		}
	}
	return Result{}, nil
}

func (d *Dispatcher) rename(params string) (Result, error) {
	name := strings.TrimSpace(params)
	for _, s := range d.selected("") {
		if name == "" {
			// Restore the original host argument locally.
			if err := d.Registry.Rename(s, ""); err != nil {
				d.Console.Outputf("%s: %v\n", s.Name(), err)
			}
			continue
		}
		// The remote shell expands the name, so "$(hostname -s)" works.
		if err := s.RequestRename(name); err != nil {
			d.Console.Outputf("%s: %v\n", s.Name(), err)
		}
	}
	return Result{}, nil
}

func (d *Dispatcher) sendCtrl(params string) (Result, error) {
	letter, pattern, _ := strings.Cut(params, " ")
	if letter == "" {
		return Result{}, fmt.Errorf("expected at least a letter")
	}
	lower := letter[0] | 0x20
	if len(letter) != 1 || lower < 'a' || lower > 'z' {
		return Result{}, fmt.Errorf("expected a single letter, got: %s", letter)
	}
	ctrl := lower - 'a' + 1

	for _, s := range d.selected(strings.TrimSpace(pattern)) {
		s.WriteRaw([]byte{ctrl})
	}
	return Result{}, nil
}

func (d *Dispatcher) resetPrompt(params string) (Result, error) {
	for _, s := range d.selected(params) {
		if err := s.ResetPrompt(); err != nil {
			d.Console.Outputf("%s: %v\n", s.Name(), err)
		}
	}
	return Result{}, nil
}

func (d *Dispatcher) chdir(params string) (Result, error) {
	path := strings.TrimSpace(params)
	if path == "" {
		path = "~"
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return Result{}, err
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	if err := os.Chdir(path); err != nil {
		d.Console.Outputf("%v\n", err)
	}
	return Result{}, nil
}

func (d *Dispatcher) hidePassword(string) (Result, error) {
	if !d.Interactive {
		return Result{}, fmt.Errorf("no terminal to hide input on")
	}
	warned := false
	for _, s := range d.Registry.All() {
		if s.Enabled() && s.Debug() {
			s.SetDebug(false)
			if !warned {
				d.Console.Outputf("Debugging disabled to avoid displaying passwords\n")
				warned = true
			}
		}
	}
	if d.Console.HasLog() {
		d.Console.Outputf("Logging disabled to avoid writing passwords\n")
		d.Console.DisableLog()
	}
	if d.EchoOff != nil {
		d.EchoOff()
	}
	return Result{}, nil
}

func (d *Dispatcher) setDebug(params string) (Result, error) {
	letter, pattern, _ := strings.Cut(params, " ")
	var debug bool
	switch strings.ToLower(letter) {
	case "y":
		debug = true
	case "n":
		debug = false
	case "":
		return Result{}, fmt.Errorf("expected 'y' or 'n'")
	default:
		return Result{}, fmt.Errorf("expected 'y' or 'n', got: %s", letter)
	}

	for _, s := range d.selectedAll(strings.TrimSpace(pattern)) {
		s.SetDebug(debug)
	}
	return Result{}, nil
}

func (d *Dispatcher) exportVars(string) (Result, error) {
	enabled := d.selected("")
	for rank, s := range enabled {
		cmd := fmt.Sprintf("export MASH_RANK=%d MASH_NAME=%s MASH_DISPLAY_NAME=%s\n",
			rank, shellQuote(s.Host()), shellQuote(s.Name()))
		if err := s.Dispatch([]byte(cmd)); err != nil {
			d.Console.Outputf("%s: %v\n", s.Name(), err)
		}
	}
	for _, s := range enabled {
		cmd := fmt.Sprintf("export MASH_NR_SHELLS=%d\n", len(enabled))
		if err := s.Dispatch([]byte(cmd)); err != nil {
			d.Console.Outputf("%s: %v\n", s.Name(), err)
		}
	}
	return Result{}, nil
}

func (d *Dispatcher) setLog(params string) (Result, error) {
	path := strings.TrimSpace(params)
	if path == "" {
		d.Console.DisableLog()
		d.Console.Outputf("Logging disabled\n")
		return Result{}, nil
	}
	if err := d.Console.SetLogFile(path); err != nil {
		return Result{}, err
	}
	return Result{}, nil
}

func (d *Dispatcher) showReadBuffer(params string) (Result, error) {
	width := d.Registry.MaxNameLen()
	for _, s := range d.selectedAll(params) {
		if data := s.StartupBuffer(); len(data) > 0 {
			s.PrintLines(data, width)
		}
	}
	return Result{}, nil
}

// Broadcast feeds one command line to every enabled live session. Dead and
// disabled sessions are skipped silently; the skip is visible via :list.
func (d *Dispatcher) Broadcast(line []byte) {
	if len(line) == 0 || line[len(line)-1] != '\n' {
		line = append(append([]byte(nil), line...), '\n')
	}
	for _, s := range d.Registry.All() {
		if !s.Enabled() || s.State() == session.StateDead {
			continue
		}
		if err := s.Dispatch(line); err != nil {
			ctlLog.Debug("broadcast_skip",
				slog.String("name", s.Name()), slog.String("error", err.Error()))
		}
	}
}

// shellQuote wraps s in single quotes when it contains anything the remote
// shell could interpret.
func shellQuote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\n\"'`$\\!*?[](){}<>|&;#~") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// SortedVerbNames is VerbNames in alphabetical order, for help output and
// tests.
func SortedVerbNames() []string {
	names := VerbNames()
	sort.Strings(names)
	return names
}
