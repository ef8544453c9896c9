package sentinel

import (
	"bytes"
	"fmt"
)

// InitScript returns the command sequence that tames the remote shell and
// installs the sentinel prompt. It is written to the session once the first
// remote output arrives, and again on :reset_prompt.
//
// The script must survive being fed to sh, bash, dash and zsh: zsh-only
// commands are silenced, and ZLE is switched off first so the remaining
// lines are not mangled by the line editor.
func InitScript(r *Registry) []byte {
	p1, p2 := r.Add("prompt", ActionPrompt, true)

	var b bytes.Buffer
	b.WriteString("unsetopt zle 2>/dev/null\n")
	b.WriteString(`stty -echo -onlcr -ctlecho;bind "set enable-bracketed-paste off" 2>/dev/null;`)
	// unset is POSIX-safe, unlike var=() which breaks dash.
	b.WriteString("unset precmd_functions preexec_functions chpwd_functions 2>/dev/null;")
	b.WriteString("unfunction precmd preexec 2>/dev/null;unset -f precmd preexec 2>/dev/null;")
	b.WriteString("prompt off 2>/dev/null;")
	// Kill zsh's partial-line marker so output parsing stays clean.
	b.WriteString("unsetopt PROMPT_CR PROMPT_SP 2>/dev/null;PROMPT_EOL_MARK=;")
	b.WriteString("PS2=;RPS1=;RPROMPT=;PROMPT_COMMAND=;TERM=ansi;unset HISTFILE;")
	// The $? is escaped so it lands in PS1 verbatim and expands per prompt.
	fmt.Fprintf(&b, "PS1=\"%s\"\"%s:\\$?\n\"\n", p1, p2)
	return b.Bytes()
}

// RenameCommand returns a remote echo command whose output triggers an
// ActionRename match carrying the shell-expanded name. Shell expansion on
// the remote side lets names reference remote state ("$(hostname -s)").
func RenameCommand(r *Registry, name string) []byte {
	r1, r2 := r.Add("rename", ActionRename, false)
	return fmt.Appendf(nil, "/bin/echo \"%s\"\"%s\" %s\n", r1, r2, name)
}
