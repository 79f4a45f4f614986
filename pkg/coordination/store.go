// Package coordination defines the client interface to the external
// coordination service (spec.md §4.1/§6): a hierarchical key/value store
// with ephemeral nodes and atomic writes capped at 1 MiB. Relay never runs
// its own consensus group (see SPEC_FULL.md "Design notes"); this package
// only defines the contract and ships a local, single-process
// implementation on top of go.etcd.io/bbolt for development and tests.
package coordination

import "errors"

// ErrNotExist is returned by Get when path has no node. Deleting an absent
// path is not an error.
var ErrNotExist = errors.New("coordination: node does not exist")

// ErrAlreadyExists is returned by Create when path already has a node.
var ErrAlreadyExists = errors.New("coordination: node already exists")

// ErrTooLarge is returned by Set/Create when the payload exceeds the node
// size cap (1 MiB per spec.md §6, though the mirror layer itself enforces
// the tighter 256 kB cap from spec.md §4.1).
var ErrTooLarge = errors.New("coordination: node payload exceeds size limit")

// MaxNodeBytes is the hard cap on a single node's serialised value.
const MaxNodeBytes = 1 << 20 // 1 MiB

// Store is a hierarchical key/value coordination service client: paths are
// '/'-separated, writes are atomic, and ephemeral nodes disappear when the
// session that created them ends.
type Store interface {
	// Create creates path with value; fails if path already exists.
	Create(path string, value []byte) error

	// CreateEphemeral is like Create but the node is removed automatically
	// if the client disconnects or Close is called.
	CreateEphemeral(path string, value []byte) error

	// Set overwrites path's value, creating it if absent.
	Set(path string, value []byte) error

	// Get reads path's value. Returns ErrNotExist if absent.
	Get(path string) ([]byte, error)

	// Exists reports whether path has a node.
	Exists(path string) (bool, error)

	// Delete removes path. Deleting a non-leaf path removes its subtree.
	Delete(path string) error

	// Children lists the direct child path segments under path.
	Children(path string) ([]string, error)

	// Close releases the client's session, dropping any ephemeral nodes it
	// created.
	Close() error
}
