package coordination

import (
	"fmt"
	"path"
	"strings"
	"sync"

	bolt "go.etcd.io/bbolt"
)

// bucketNodes holds every coordination node, keyed by its full, normalised
// path. A single bucket keyed by path (rather than the teacher's
// one-bucket-per-resource-kind layout in pkg/storage/boltdb.go) is what lets
// this store represent an arbitrary hierarchy instead of a fixed set of
// catalogue kinds.
var bucketNodes = []byte("nodes")

// BoltStore is a bbolt-backed coordination.Store, grounded in the teacher's
// pkg/storage/boltdb.go Open/Update/View/ForEach pattern.
type BoltStore struct {
	db *bolt.DB

	mu        sync.Mutex
	ephemeral map[string]bool
}

// NewBoltStore opens (creating if necessary) a bbolt database at dbPath to
// back a coordination.Store.
func NewBoltStore(dbPath string) (*BoltStore, error) {
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("coordination: open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketNodes)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("coordination: create bucket: %w", err)
	}

	return &BoltStore{db: db, ephemeral: make(map[string]bool)}, nil
}

func normalize(p string) string {
	p = path.Clean("/" + p)
	return p
}

func (s *BoltStore) Create(p string, value []byte) error {
	if len(value) > MaxNodeBytes {
		return ErrTooLarge
	}
	p = normalize(p)
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		if b.Get([]byte(p)) != nil {
			return ErrAlreadyExists
		}
		return b.Put([]byte(p), value)
	})
}

func (s *BoltStore) CreateEphemeral(p string, value []byte) error {
	if err := s.Create(p, value); err != nil {
		return err
	}
	s.mu.Lock()
	s.ephemeral[normalize(p)] = true
	s.mu.Unlock()
	return nil
}

func (s *BoltStore) Set(p string, value []byte) error {
	if len(value) > MaxNodeBytes {
		return ErrTooLarge
	}
	p = normalize(p)
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNodes).Put([]byte(p), value)
	})
}

func (s *BoltStore) Get(p string) ([]byte, error) {
	p = normalize(p)
	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketNodes).Get([]byte(p))
		if v == nil {
			return ErrNotExist
		}
		value = append([]byte(nil), v...)
		return nil
	})
	return value, err
}

func (s *BoltStore) Exists(p string) (bool, error) {
	p = normalize(p)
	var exists bool
	err := s.db.View(func(tx *bolt.Tx) error {
		exists = tx.Bucket(bucketNodes).Get([]byte(p)) != nil
		return nil
	})
	return exists, err
}

func (s *BoltStore) Delete(p string) error {
	p = normalize(p)
	prefix := []byte(p + "/")
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		if err := b.Delete([]byte(p)); err != nil {
			return err
		}
		var toDelete [][]byte
		c := b.Cursor()
		for k, _ := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, _ = c.Next() {
			toDelete = append(toDelete, append([]byte(nil), k...))
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) Children(p string) ([]string, error) {
	p = normalize(p)
	prefix := p
	if prefix != "/" {
		prefix += "/"
	}

	seen := make(map[string]bool)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		c := b.Cursor()
		for k, _ := c.Seek([]byte(prefix)); k != nil && strings.HasPrefix(string(k), prefix); k, _ = c.Next() {
			rest := strings.TrimPrefix(string(k), prefix)
			if rest == "" {
				continue
			}
			if idx := strings.Index(rest, "/"); idx >= 0 {
				rest = rest[:idx]
			}
			seen[rest] = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	children := make([]string, 0, len(seen))
	for child := range seen {
		children = append(children, child)
	}
	return children, nil
}

// Close drops every ephemeral node this client created, then closes the
// underlying database.
func (s *BoltStore) Close() error {
	s.mu.Lock()
	paths := make([]string, 0, len(s.ephemeral))
	for p := range s.ephemeral {
		paths = append(paths, p)
	}
	s.ephemeral = make(map[string]bool)
	s.mu.Unlock()

	for _, p := range paths {
		_ = s.Delete(p)
	}
	return s.db.Close()
}
