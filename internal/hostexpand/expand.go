// Package hostexpand turns host arguments like "web<1-20>:2222" into
// concrete host names, and reads host lists from files.
package hostexpand

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

var (
	rangeRe    = regexp.MustCompile(`<([0-9,\-]+)>`)
	intervalRe = regexp.MustCompile(`^([0-9]+)(-[0-9]+)?$`)
)

// SplitPort splits "host:port" into its parts. Hosts without an explicit
// port get the ssh default, 22.
func SplitPort(host string) (string, string) {
	if h, p, ok := strings.Cut(host, ":"); ok {
		return h, p
	}
	return host, "22"
}

// Expand expands "<N-M>" and "<A,B-C>" range syntax in a host argument.
// Multiple ranges multiply out ("h<1-2>s<3-4>" gives four hosts). Ranges
// may count down, and zero-padded bounds keep their width. Input without
// range syntax is returned as-is.
func Expand(input string) []string {
	m := rangeRe.FindStringIndex(input)
	if m == nil {
		return []string{input}
	}

	prefix := input[:m[0]]
	suffix := input[m[1]:]
	inner := input[m[0]+1 : m[1]-1]

	var results []string
	for _, interval := range strings.Split(inner, ",") {
		caps := intervalRe.FindStringSubmatch(interval)
		if caps == nil {
			continue
		}
		start := caps[1]
		end := start
		if caps[2] != "" {
			end = caps[2][1:]
		}
		for _, num := range iterNumbers(start, end) {
			results = append(results, Expand(prefix+num+suffix)...)
		}
	}
	return results
}

// ExpandAll expands every argument in order.
func ExpandAll(inputs []string) []string {
	var hosts []string
	for _, in := range inputs {
		hosts = append(hosts, Expand(in)...)
	}
	return hosts
}

func iterNumbers(start, end string) []string {
	s, _ := strconv.ParseInt(start, 10, 64)
	e, _ := strconv.ParseInt(end, 10, 64)
	zeroPad := (len(start) > 1 && start[0] == '0') || (len(end) > 1 && end[0] == '0')
	width := max(len(start), len(end))
	step := int64(1)
	if s > e {
		step = -1
	}

	var out []string
	for i := s; ; i += step {
		if zeroPad {
			out = append(out, fmt.Sprintf("%0*d", width, i))
		} else {
			out = append(out, strconv.FormatInt(i, 10))
		}
		if i == e {
			break
		}
	}
	return out
}

// ReadHostsFile reads one host per line from path. Everything after a '#'
// is a comment; blank lines are skipped. Entries are range-expanded.
func ReadHostsFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading hosts file %s: %w", path, err)
	}
	return parseHostLines(string(data)), nil
}

func parseHostLines(content string) []string {
	var hosts []string
	for _, line := range strings.Split(content, "\n") {
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		hosts = append(hosts, Expand(line)...)
	}
	return hosts
}
