package main

import (
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// connsPerHost is a rough bound on descriptors each session needs: the PTY
// pair plus slack for pipes.
const connsPerHost = 4

// raiseFileLimit lifts the soft RLIMIT_NOFILE towards the hard limit so a
// large host list does not run out of descriptors. Failure is not fatal:
// the user sees spawn errors instead.
func raiseFileLimit(hosts int) {
	var lim syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &lim); err != nil {
		return
	}
	need := uint64(hosts*connsPerHost + 64)
	if lim.Cur >= need {
		return
	}
	lim.Cur = lim.Max
	if need < lim.Cur {
		lim.Cur = need
	}
	_ = syscall.Setrlimit(syscall.RLIMIT_NOFILE, &lim)
}

// setLocalEcho toggles terminal echo on stdin. Used by :hide_password so a
// typed password is neither displayed nor logged.
func setLocalEcho(on bool) {
	fd := int(os.Stdin.Fd())
	tio, err := unix.IoctlGetTermios(fd, ioctlGetTermios)
	if err != nil {
		return
	}
	if on {
		tio.Lflag |= unix.ECHO
	} else {
		tio.Lflag &^= unix.ECHO
	}
	_ = unix.IoctlSetTermios(fd, ioctlSetTermios, tio)
}

// localTermSize returns the controlling terminal's size, or zeros when
// stdout is not a terminal.
func localTermSize() (cols, rows uint16) {
	c, r, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || c <= 0 || r <= 0 {
		return 0, 0
	}
	return uint16(c), uint16(r)
}

var (
	promptIdle     = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	promptRunning  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	promptPending  = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	promptDead     = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	promptDisabled = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	promptArrow    = lipgloss.NewStyle().Bold(true)
)

// statusPrompt renders the interactive prompt with per-state session
// counts, and returns it with its visible width.
func statusPrompt(idle, running, pending, dead, disabled int) (string, int) {
	var parts []string
	var plain []string

	add := func(style lipgloss.Style, symbol string, n int) {
		if n == 0 {
			return
		}
		parts = append(parts, style.Render(fmt.Sprintf("%s %d", symbol, n)))
		plain = append(plain, fmt.Sprintf("%s %d", symbol, n))
	}
	add(promptIdle, "●", idle)
	add(promptRunning, "◉", running)
	add(promptPending, "◌", pending)
	add(promptDead, "✕", dead)
	add(promptDisabled, "○", disabled)

	styled := "mash [" + strings.Join(parts, " ") + "] " + promptArrow.Render("❯❯❯") + " "
	visible := "mash [" + strings.Join(plain, " ") + "] ❯❯❯ "
	return styled, runewidth.StringWidth(visible)
}
