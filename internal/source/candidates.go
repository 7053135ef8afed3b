package source

import "sync"

// candidateSet is a resolved set of native ids. It stays registered with
// its collection until released.
type candidateSet struct {
	owner *Collection

	mu       sync.Mutex
	ids      map[uint32]struct{}
	released bool
}

// Len returns the number of resolved ids.
func (s *candidateSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

// Release frees the set. A second call returns ErrReleased.
func (s *candidateSet) Release() error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return ErrReleased
	}
	s.released = true
	s.ids = nil
	s.mu.Unlock()

	s.owner.mu.Lock()
	s.owner.openSets--
	s.owner.mu.Unlock()
	return nil
}

func (s *candidateSet) isReleased() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

func (s *candidateSet) contains(id uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}
