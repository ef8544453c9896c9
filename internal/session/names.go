package session

import (
	"strconv"
	"strings"
)

// namePool allocates unique display names. Duplicate host arguments get a
// "#N" suffix, and freed suffixes are reused so names stay short. It also
// tracks the longest enabled name, which sets the output prefix width.
type namePool struct {
	// slots[prefix][i] is true while "prefix#i" (or bare "prefix" for
	// i == 0) is allocated.
	slots map[string][]bool

	// enabledByLen counts enabled names per length.
	enabledByLen map[int]int

	maxLen int
}

func newNamePool() *namePool {
	return &namePool{
		slots:        make(map[string][]bool),
		enabledByLen: make(map[int]int),
	}
}

// acquire returns a unique name for prefix, marking it enabled.
func (p *namePool) acquire(prefix string) string {
	slots := p.slots[prefix]
	idx := -1
	for i, used := range slots {
		if !used {
			idx = i
			break
		}
	}
	if idx < 0 {
		slots = append(slots, true)
		idx = len(slots) - 1
	} else {
		slots[idx] = true
	}
	p.slots[prefix] = slots

	name := prefix
	if idx > 0 {
		name = prefix + "#" + strconv.Itoa(idx)
	}
	p.setEnabled(name, true)
	return name
}

// release frees a previously acquired name. The caller must have marked it
// disabled first (or never enabled).
func (p *namePool) release(name string) {
	prefix := name
	idx := 0
	if base, suffix, ok := strings.Cut(name, "#"); ok {
		prefix = base
		idx, _ = strconv.Atoi(suffix)
	}

	slots, ok := p.slots[prefix]
	if !ok {
		return
	}
	if idx < len(slots) {
		slots[idx] = false
	}
	// Trim trailing holes so future allocations stay compact.
	for len(slots) > 0 && !slots[len(slots)-1] {
		slots = slots[:len(slots)-1]
	}
	if len(slots) == 0 {
		delete(p.slots, prefix)
	} else {
		p.slots[prefix] = slots
	}
}

// setEnabled updates the enabled-length bookkeeping for a name.
func (p *namePool) setEnabled(name string, enabled bool) {
	l := len(name)
	if enabled {
		p.enabledByLen[l]++
	} else if p.enabledByLen[l] > 0 {
		p.enabledByLen[l]--
		if p.enabledByLen[l] == 0 {
			delete(p.enabledByLen, l)
		}
	}
	p.maxLen = 0
	for l := range p.enabledByLen {
		if l > p.maxLen {
			p.maxLen = l
		}
	}
}

// maxNameLen returns the length of the longest enabled name.
func (p *namePool) maxNameLen() int {
	return p.maxLen
}
