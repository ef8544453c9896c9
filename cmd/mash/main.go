// Command mash drives many remote shell sessions from one prompt: every
// typed line is broadcast to all enabled hosts, with interleaved output
// re-labeled by origin.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/term"

	"github.com/crisidev/mash/internal/config"
	"github.com/crisidev/mash/internal/console"
	"github.com/crisidev/mash/internal/hostexpand"
	"github.com/crisidev/mash/internal/logging"
)

const Version = "0.4.0"

// stringList collects a repeatable flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.Default()

	if dir, err := config.Dir(); err == nil {
		prefs, err := config.LoadPrefs(filepath.Join(dir, "config.toml"))
		if err != nil {
			fmt.Fprintf(os.Stderr, "mash: %v\n", err)
			return 1
		}
		cfg.ApplyPrefs(prefs)
		if cfg.HistoryPath == "" {
			cfg.HistoryPath = filepath.Join(dir, "history.db")
		}
	}

	var hostsFiles stringList
	var showVersion bool
	flag.StringVar(&cfg.Command, "command", cfg.Command,
		"command to run on every host instead of an interactive prompt")
	flag.StringVar(&cfg.SSHTemplate, "ssh", cfg.SSHTemplate,
		"remote access command, %(host)s and %(port)s are substituted")
	flag.StringVar(&cfg.User, "user", cfg.User, "remote login name")
	flag.Var(&hostsFiles, "hosts-file",
		"file with one host per line, watched for additions (repeatable)")
	flag.StringVar(&cfg.PasswordFile, "password-file", cfg.PasswordFile,
		"file containing the remote password, or - to prompt")
	flag.StringVar(&cfg.LogFile, "log-file", cfg.LogFile,
		"append a copy of the whole conversation to this file")
	flag.BoolVar(&cfg.NoColor, "no-color", cfg.NoColor, "disable colored display names")
	flag.BoolVar(&cfg.AbortErrors, "abort-errors", cfg.AbortErrors,
		"exit if any host fails during initial connect")
	flag.BoolVar(&cfg.Debug, "debug", cfg.Debug, "trace every byte exchanged with each host")
	flag.DurationVar(&cfg.ConnectTimeout, "connect-timeout", cfg.ConnectTimeout,
		"give up on hosts that have not reached a prompt within this bound")
	flag.DurationVar(&cfg.IdleWait, "idle-wait", cfg.IdleWait,
		"flag sessions still running a command after this bound (0 disables)")
	flag.DurationVar(&cfg.ShutdownGrace, "shutdown-grace", cfg.ShutdownGrace,
		"how long quit waits before force-killing sessions")
	flag.IntVar(&cfg.SpawnPerSecond, "spawn-rate", cfg.SpawnPerSecond,
		"maximum connections started per second (0 means unlimited)")
	flag.BoolVar(&showVersion, "version", false, "print version and exit")
	flag.Usage = usage
	flag.Parse()

	if showVersion {
		fmt.Printf("mash %s\n", Version)
		return 0
	}

	cfg.HostsFiles = append(cfg.HostsFiles, hostsFiles...)
	cfg.Hosts = hostexpand.ExpandAll(flag.Args())
	for _, path := range cfg.HostsFiles {
		fromFile, err := hostexpand.ReadHostsFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "mash: %v\n", err)
			return 1
		}
		cfg.Hosts = append(cfg.Hosts, hostexpand.ExpandAll(fromFile)...)
	}
	if len(cfg.Hosts) == 0 {
		fmt.Fprintln(os.Stderr, "mash: no hosts given")
		usage()
		return 1
	}

	password, err := readPassword(cfg.PasswordFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mash: %v\n", err)
		return 1
	}

	raiseFileLimit(len(cfg.Hosts))

	logDir := ""
	if cfg.Debug {
		if dir, err := config.Dir(); err == nil {
			logDir = dir
		}
	}
	logging.Init(logging.Config{LogDir: logDir, Level: "debug", Debug: cfg.Debug})
	defer logging.Shutdown()

	interactive := cfg.Command == "" && term.IsTerminal(int(os.Stdin.Fd()))
	console.ConfigureColors(!cfg.NoColor && term.IsTerminal(int(os.Stdout.Fd())))
	con := console.New(os.Stdout, interactive)
	if cfg.LogFile != "" {
		if err := con.SetLogFile(cfg.LogFile); err != nil {
			fmt.Fprintf(os.Stderr, "mash: %v\n", err)
			return 1
		}
	}

	ctl, err := newController(cfg, con, password, interactive)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mash: %v\n", err)
		return 1
	}
	return ctl.Run()
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: mash [options] host[:port]...

Host arguments accept ranges: web<1-20> db<1,3-5>.

Options:
`)
	flag.PrintDefaults()
}

// readPassword resolves the --password-file argument: empty means no
// password automation, "-" prompts on the terminal, anything else is read
// from the named file.
func readPassword(source string) (string, error) {
	switch source {
	case "":
		return "", nil
	case "-":
		fmt.Fprint(os.Stderr, "Password: ")
		pw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(pw), nil
	default:
		data, err := os.ReadFile(source)
		if err != nil {
			return "", fmt.Errorf("reading password file: %w", err)
		}
		return strings.TrimRight(string(data), "\r\n"), nil
	}
}
