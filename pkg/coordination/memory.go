package coordination

import (
	"strings"
	"sync"
)

// MemoryStore is an in-memory coordination.Store used by tests and by the
// event loop's own unit tests; it implements the same ephemeral-node and
// size-limit semantics as BoltStore without touching disk.
type MemoryStore struct {
	mu        sync.Mutex
	nodes     map[string][]byte
	ephemeral map[string]bool

	// FailWrites, when set, makes Create/Set/CreateEphemeral fail with
	// ErrTooLarge — used to exercise the "mirror write fails -> set drain"
	// path from spec.md §4.1.
	FailWrites bool
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes:     make(map[string][]byte),
		ephemeral: make(map[string]bool),
	}
}

func (s *MemoryStore) Create(p string, value []byte) error {
	p = normalize(p)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites {
		return ErrTooLarge
	}
	if len(value) > MaxNodeBytes {
		return ErrTooLarge
	}
	if _, exists := s.nodes[p]; exists {
		return ErrAlreadyExists
	}
	s.nodes[p] = append([]byte(nil), value...)
	return nil
}

func (s *MemoryStore) CreateEphemeral(p string, value []byte) error {
	if err := s.Create(p, value); err != nil {
		return err
	}
	s.mu.Lock()
	s.ephemeral[normalize(p)] = true
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Set(p string, value []byte) error {
	p = normalize(p)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites {
		return ErrTooLarge
	}
	if len(value) > MaxNodeBytes {
		return ErrTooLarge
	}
	s.nodes[p] = append([]byte(nil), value...)
	return nil
}

func (s *MemoryStore) Get(p string) ([]byte, error) {
	p = normalize(p)
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.nodes[p]
	if !ok {
		return nil, ErrNotExist
	}
	return append([]byte(nil), v...), nil
}

func (s *MemoryStore) Exists(p string) (bool, error) {
	p = normalize(p)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.nodes[p]
	return ok, nil
}

func (s *MemoryStore) Delete(p string) error {
	p = normalize(p)
	prefix := p + "/"
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.nodes, p)
	for k := range s.nodes {
		if strings.HasPrefix(k, prefix) {
			delete(s.nodes, k)
		}
	}
	return nil
}

func (s *MemoryStore) Children(p string) ([]string, error) {
	p = normalize(p)
	prefix := p
	if prefix != "/" {
		prefix += "/"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool)
	for k := range s.nodes {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := strings.TrimPrefix(k, prefix)
		if rest == "" {
			continue
		}
		if idx := strings.Index(rest, "/"); idx >= 0 {
			rest = rest[:idx]
		}
		seen[rest] = true
	}

	children := make([]string, 0, len(seen))
	for child := range seen {
		children = append(children, child)
	}
	return children, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for p := range s.ephemeral {
		delete(s.nodes, p)
	}
	s.ephemeral = make(map[string]bool)
	return nil
}
