package link

import "sync"

// SkipReason records why a port is excluded from probing
type SkipReason int

const (
	// SkipSession: the port timed out a probe. Cleared when the port
	// disappears, so a re-plugged device gets another chance.
	SkipSession SkipReason = iota + 1

	// SkipPermanent: the hardware rejected the line configuration. The
	// port can never carry this firmware; persisted across sessions when
	// a SkipStore is wired in.
	SkipPermanent
)

// SkipStore persists permanently blacklisted ports across sessions.
// The library only calls it outside any lock; implementations may do I/O.
type SkipStore interface {
	Load() ([]string, error)
	Save(ports []string) error
}

type skipList struct {
	mu      sync.Mutex
	entries map[string]SkipReason
	store   SkipStore
}

func newSkipList(store SkipStore) (*skipList, error) {
	s := &skipList{
		entries: make(map[string]SkipReason),
		store:   store,
	}
	if store != nil {
		ports, err := store.Load()
		if err != nil {
			return nil, err
		}
		for _, port := range ports {
			s.entries[port] = SkipPermanent
		}
	}
	return s, nil
}

func (s *skipList) reason(port string) SkipReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[port]
}

func (s *skipList) skipped(port string) bool {
	return s.reason(port) != 0
}

func (s *skipList) addSession(port string) {
	s.mu.Lock()
	if s.entries[port] != SkipPermanent {
		s.entries[port] = SkipSession
	}
	s.mu.Unlock()
}

func (s *skipList) addPermanent(port string) error {
	s.mu.Lock()
	s.entries[port] = SkipPermanent
	permanent := s.permanentLocked()
	store := s.store
	s.mu.Unlock()

	if store != nil {
		return store.Save(permanent)
	}
	return nil
}

// clearSession drops a session-scoped skip when its port disappears.
// Permanent entries stay: unplugging does not fix incompatible hardware.
func (s *skipList) clearSession(port string) {
	s.mu.Lock()
	if s.entries[port] == SkipSession {
		delete(s.entries, port)
	}
	s.mu.Unlock()
}

func (s *skipList) permanentLocked() []string {
	var ports []string
	for port, reason := range s.entries {
		if reason == SkipPermanent {
			ports = append(ports, port)
		}
	}
	return ports
}
