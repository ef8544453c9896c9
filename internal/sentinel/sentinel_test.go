package sentinel

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewTokenUnique(t *testing.T) {
	a := NewToken()
	b := NewToken()
	if a == b {
		t.Errorf("tokens should differ: %q", a)
	}
	if !strings.HasPrefix(a, "mash-") {
		t.Errorf("unexpected token shape: %q", a)
	}
}

func TestAddReturnsSplitTrigger(t *testing.T) {
	r := NewRegistry(NewToken(), 3)
	p1, p2 := r.Add("prompt", ActionPrompt, true)

	full := p1 + p2
	if !strings.HasPrefix(full, r.Token()) {
		t.Errorf("trigger %q missing token prefix", full)
	}
	if !strings.HasSuffix(full, "/") {
		t.Errorf("trigger %q missing terminator", full)
	}
	if !strings.Contains(full, ":prompt:3:") {
		t.Errorf("trigger %q missing name and rank", full)
	}
	// Neither half alone contains the full token, so the echoed command
	// that installs the trigger cannot match it.
	if strings.Contains(p1, r.Token()) || strings.Contains(p2, r.Token()) {
		t.Error("a single trigger half must not contain the whole token")
	}
}

func TestAddSanitizesSlashes(t *testing.T) {
	r := NewRegistry(NewToken(), 0)
	p1, p2 := r.Add("a/b", ActionNone, false)
	if !strings.Contains(p1+p2, ":a_b:") {
		t.Errorf("slashes should be replaced: %q", p1+p2)
	}
}

func TestContains(t *testing.T) {
	r := NewRegistry(NewToken(), 0)
	data := []byte("output " + r.Token() + " more")
	if !r.Contains(data) {
		t.Error("Contains should find the token")
	}
	if r.Contains([]byte("plain command output")) {
		t.Error("Contains matched unrelated data")
	}
}

func TestProcessPromptWithExitStatus(t *testing.T) {
	r := NewRegistry(NewToken(), 1)
	p1, p2 := r.Add("prompt", ActionPrompt, true)

	line := []byte(p1 + p2 + ":0\n")
	m, ok := r.Process(line)
	if !ok {
		t.Fatal("expected a match")
	}
	if m.Action != ActionPrompt {
		t.Errorf("got action %v", m.Action)
	}
	if m.ExitStatus != 0 {
		t.Errorf("got exit status %d, want 0", m.ExitStatus)
	}

	line = []byte(p1 + p2 + ":127\n")
	m, _ = r.Process(line)
	if m.ExitStatus != 127 {
		t.Errorf("got exit status %d, want 127", m.ExitStatus)
	}
}

func TestProcessPromptMissingExitStatus(t *testing.T) {
	r := NewRegistry(NewToken(), 1)
	p1, p2 := r.Add("prompt", ActionPrompt, true)

	m, ok := r.Process([]byte(p1 + p2 + "\n"))
	if !ok {
		t.Fatal("expected a match")
	}
	if m.ExitStatus != -1 {
		t.Errorf("got exit status %d, want -1", m.ExitStatus)
	}
}

func TestProcessRepeatKeepsTrigger(t *testing.T) {
	r := NewRegistry(NewToken(), 0)
	p1, p2 := r.Add("prompt", ActionPrompt, true)
	line := []byte(p1 + p2 + ":0\n")

	if _, ok := r.Process(line); !ok {
		t.Fatal("first match failed")
	}
	if _, ok := r.Process(line); !ok {
		t.Error("repeat trigger should survive processing")
	}
}

func TestProcessOneShotConsumed(t *testing.T) {
	r := NewRegistry(NewToken(), 0)
	p1, p2 := r.Add("once", ActionNone, false)
	line := []byte(p1 + p2 + "\n")

	if _, ok := r.Process(line); !ok {
		t.Fatal("first match failed")
	}
	if _, ok := r.Process(line); ok {
		t.Error("one-shot trigger should be consumed")
	}
}

func TestProcessRenameCapturesName(t *testing.T) {
	r := NewRegistry(NewToken(), 0)
	p1, p2 := r.Add("rename", ActionRename, false)

	m, ok := r.Process([]byte(p1 + p2 + " web frontend \n"))
	if !ok {
		t.Fatal("expected a match")
	}
	if m.Action != ActionRename {
		t.Errorf("got action %v", m.Action)
	}
	if m.NewName != "webfrontend" {
		t.Errorf("got name %q", m.NewName)
	}
}

func TestProcessNoTrigger(t *testing.T) {
	r := NewRegistry(NewToken(), 0)
	r.Add("prompt", ActionPrompt, true)
	if _, ok := r.Process([]byte("uptime output\n")); ok {
		t.Error("unexpected match on plain output")
	}
}

func TestInitScriptInstallsPrompt(t *testing.T) {
	r := NewRegistry(NewToken(), 2)
	script := InitScript(r)

	if !bytes.HasPrefix(script, []byte("unsetopt zle")) {
		t.Error("init script must disable ZLE first")
	}
	if !bytes.Contains(script, []byte("PS1=")) {
		t.Error("init script must set PS1")
	}
	if !bytes.Contains(script, []byte(`:\$?`)) {
		t.Error("prompt must carry the escaped exit status placeholder")
	}
	// The script itself must never contain the assembled token, or the
	// echo of the script would register as a prompt.
	if bytes.Contains(script, []byte(r.Token())) {
		t.Error("init script contains the unsplit token")
	}
}

func TestRenameCommandTriggersRename(t *testing.T) {
	r := NewRegistry(NewToken(), 0)
	cmd := RenameCommand(r, "$(hostname -s)")

	if !bytes.Contains(cmd, []byte("$(hostname -s)")) {
		t.Error("rename command lost its argument")
	}
	if bytes.Contains(cmd, []byte(r.Token())) {
		t.Error("rename command contains the unsplit token")
	}

	// Simulate the remote side: halves joined by echo, then the name.
	r2 := NewRegistry(r.Token(), 0)
	q1, q2 := r2.Add("rename", ActionRename, false)
	m, ok := r2.Process([]byte(q1 + q2 + " myhost\n"))
	if !ok || m.NewName != "myhost" {
		t.Errorf("rename round trip failed: %+v ok=%v", m, ok)
	}
}
