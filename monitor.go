package link

import (
	"sort"
	"time"
)

// DefaultScanInterval is how often the manager diffs the port set
const DefaultScanInterval = 2 * time.Second

// PortMonitor tracks the set of available serial ports across scans and
// reports the diff. It holds no port handles and does no I/O beyond
// enumeration.
type PortMonitor struct {
	list func() ([]string, error)
	last map[string]struct{}
}

// NewPortMonitor creates a monitor. A nil list function uses ListPorts;
// tests inject their own enumerator.
func NewPortMonitor(list func() ([]string, error)) *PortMonitor {
	if list == nil {
		list = ListPorts
	}
	return &PortMonitor{
		list: list,
		last: make(map[string]struct{}),
	}
}

// Scan enumerates ports and returns the symmetric difference against the
// previous snapshot. Enumeration failure is never fatal: that tick simply
// sees an empty port set.
func (m *PortMonitor) Scan() (added, removed []string) {
	names, err := m.list()
	if err != nil {
		names = nil
	}

	current := make(map[string]struct{}, len(names))
	for _, name := range names {
		if isIgnoredPort(name) {
			continue
		}
		current[name] = struct{}{}
		if _, seen := m.last[name]; !seen {
			added = append(added, name)
		}
	}
	for name := range m.last {
		if _, present := current[name]; !present {
			removed = append(removed, name)
		}
	}

	m.last = current
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}

// Present reports whether a port was in the last snapshot
func (m *PortMonitor) Present(name string) bool {
	_, ok := m.last[name]
	return ok
}
