// Package config carries the resolved run configuration: CLI flags merged
// over the optional TOML preferences file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultSSHTemplate is the command used to reach each host. %(host)s and
// %(port)s are substituted per session.
const DefaultSSHTemplate = "exec ssh -oLogLevel=Quiet -t %(host)s %(port)s"

// Config is the fully resolved configuration the rest of the program runs on.
type Config struct {
	// Hosts is the concrete host list, after range expansion and hosts-file
	// merging.
	Hosts []string

	// HostsFiles are the --hosts-file arguments; kept for runtime watching.
	HostsFiles []string

	// Command, when non-empty, runs non-interactively on every host.
	Command string

	// SSHTemplate is the remote-access command template.
	SSHTemplate string

	// User is the remote login name, prepended as user@host when set.
	User string

	// NoColor disables colored display names.
	NoColor bool

	// PasswordFile is a file holding the remote password, or "-" to prompt.
	PasswordFile string

	// LogFile receives a copy of every conversation line.
	LogFile string

	// AbortErrors terminates the whole run if any session fails to reach
	// its first prompt during initial connect.
	AbortErrors bool

	// Debug prints per-session byte traces and enables debug logging.
	Debug bool

	// ConnectTimeout bounds the wait for a session's first prompt.
	ConnectTimeout time.Duration

	// IdleWait bounds how long a broadcast waits for all enabled sessions
	// to report idle before flagging stragglers. Zero means unbounded.
	IdleWait time.Duration

	// ShutdownGrace is how long :quit waits for sessions to exit before
	// force-killing them.
	ShutdownGrace time.Duration

	// SpawnPerSecond paces mass connects; zero means unlimited.
	SpawnPerSecond int

	// HistoryPath is the input history database; empty disables history.
	HistoryPath string
}

// Prefs mirrors the optional TOML preferences file.
type Prefs struct {
	SSH struct {
		Template string `toml:"template"`
		User     string `toml:"user"`
	} `toml:"ssh"`

	Timeouts struct {
		ConnectSecs  int `toml:"connect_secs"`
		IdleWaitSecs int `toml:"idle_wait_secs"`
		ShutdownSecs int `toml:"shutdown_secs"`
	} `toml:"timeouts"`

	Colors struct {
		Disabled bool `toml:"disabled"`
	} `toml:"colors"`

	Spawn struct {
		PerSecond int `toml:"per_second"`
	} `toml:"spawn"`

	History struct {
		Disabled bool   `toml:"disabled"`
		Path     string `toml:"path"`
	} `toml:"history"`
}

// Dir returns the mash configuration directory, creating it if needed.
func Dir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		home, herr := os.UserHomeDir()
		if herr != nil {
			return "", fmt.Errorf("locating config dir: %w", err)
		}
		base = filepath.Join(home, ".config")
	}
	dir := filepath.Join(base, "mash")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	return dir, nil
}

// LoadPrefs reads the TOML preferences file. A missing file is not an error.
func LoadPrefs(path string) (*Prefs, error) {
	var p Prefs
	if _, err := toml.DecodeFile(path, &p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &p, nil
		}
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &p, nil
}

// Default returns a Config with defaults applied.
func Default() Config {
	return Config{
		SSHTemplate:    DefaultSSHTemplate,
		ConnectTimeout: 20 * time.Second,
		IdleWait:       2 * time.Minute,
		ShutdownGrace:  3 * time.Second,
	}
}

// ApplyPrefs overlays preference-file values onto cfg, leaving fields the
// user set on the command line untouched by the caller's ordering: prefs
// are applied first, then flags overwrite.
func (c *Config) ApplyPrefs(p *Prefs) {
	if p.SSH.Template != "" {
		c.SSHTemplate = p.SSH.Template
	}
	if p.SSH.User != "" {
		c.User = p.SSH.User
	}
	if p.Timeouts.ConnectSecs > 0 {
		c.ConnectTimeout = time.Duration(p.Timeouts.ConnectSecs) * time.Second
	}
	if p.Timeouts.IdleWaitSecs > 0 {
		c.IdleWait = time.Duration(p.Timeouts.IdleWaitSecs) * time.Second
	}
	if p.Timeouts.ShutdownSecs > 0 {
		c.ShutdownGrace = time.Duration(p.Timeouts.ShutdownSecs) * time.Second
	}
	if p.Colors.Disabled {
		c.NoColor = true
	}
	if p.Spawn.PerSecond > 0 {
		c.SpawnPerSecond = p.Spawn.PerSecond
	}
	if p.History.Disabled {
		c.HistoryPath = ""
	} else if p.History.Path != "" {
		c.HistoryPath = p.History.Path
	}
}
