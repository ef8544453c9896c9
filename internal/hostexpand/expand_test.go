package hostexpand

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestExpand(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"simple range", "host<1-3>", []string{"host1", "host2", "host3"}},
		{"reverse range", "host<3-1>", []string{"host3", "host2", "host1"}},
		{"zero padded", "host<01-03>", []string{"host01", "host02", "host03"}},
		{"comma and range", "host<1,3-5>", []string{"host1", "host3", "host4", "host5"}},
		{"single number", "host<1>", []string{"host1"}},
		{"no expansion", "hostname", []string{"hostname"}},
		{"nested", "h<1-2>s<3-4>", []string{"h1s3", "h1s4", "h2s3", "h2s4"}},
		{"prefix and suffix", "pre<1-3>.example.com", []string{"pre1.example.com", "pre2.example.com", "pre3.example.com"}},
		{"empty input", "", []string{""}},
		{"wide zero pad", "node<001-003>", []string{"node001", "node002", "node003"}},
		{"comma singles", "host<1,5,9>", []string{"host1", "host5", "host9"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Expand(tt.input)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Expand(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestSplitPort(t *testing.T) {
	h, p := SplitPort("host:2222")
	if h != "host" || p != "2222" {
		t.Errorf("got %q %q", h, p)
	}
	h, p = SplitPort("host")
	if h != "host" || p != "22" {
		t.Errorf("got %q %q", h, p)
	}
}

func TestReadHostsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hosts")
	content := "web1\n# a comment\nweb2 # trailing\n\ndb<1-2>\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	hosts, err := ReadHostsFile(path)
	if err != nil {
		t.Fatalf("ReadHostsFile: %v", err)
	}
	want := []string{"web1", "web2", "db1", "db2"}
	if !reflect.DeepEqual(hosts, want) {
		t.Errorf("got %v, want %v", hosts, want)
	}
}

func TestReadHostsFileMissing(t *testing.T) {
	if _, err := ReadHostsFile("/nonexistent/hosts"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestWatcherReportsAppendedHosts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hosts")
	if err := os.WriteFile(path, []byte("web1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("web2\n"); err != nil {
		t.Fatal(err)
	}
	f.Close()

	select {
	case h := <-w.Added():
		if h != "web2" {
			t.Errorf("got %q, want web2", h)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for appended host")
	}
}

func TestWatcherSkipsKnownHosts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hosts")
	if err := os.WriteFile(path, []byte("web1\nweb2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	// Rewrite the same content; nothing new should surface.
	if err := os.WriteFile(path, []byte("web1\nweb2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case h := <-w.Added():
		t.Errorf("unexpected host %q", h)
	case <-time.After(300 * time.Millisecond):
	}
}
