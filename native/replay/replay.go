// Package replay implements write-once key sets. The verification domain
// keeps one for spent nullifiers and the settlement domain keeps one for
// applied commitments. Entries are never removed.
package replay

import (
	"fmt"

	ethcommon "github.com/ethereum/go-ethereum/common"

	coreerrors "claimbridge/core/errors"
	"claimbridge/core/state"
)

// Set is a persistent write-once set of 32-byte keys under a state prefix.
type Set struct {
	prefix string
	label  string
}

// NewSet returns a set stored under prefix. label names the key kind in
// errors ("nullifier", "commitment").
func NewSet(prefix, label string) *Set {
	return &Set{prefix: prefix, label: label}
}

type entry struct {
	InsertedAt uint64
}

func (s *Set) key(k ethcommon.Hash) []byte {
	return append([]byte(s.prefix), k.Bytes()...)
}

// Contains reports whether k has been marked.
func (s *Set) Contains(r state.Reader, k ethcommon.Hash) (bool, error) {
	return r.KVHas(s.key(k))
}

// Mark records k. It fails with ErrAlreadyUsed when k is present, so the
// check and the insert happen in one step inside the caller's transaction.
func (s *Set) Mark(w state.Writer, k ethcommon.Hash, at uint64) error {
	if k == (ethcommon.Hash{}) {
		return fmt.Errorf("%w: zero %s", coreerrors.ErrInvalidInput, s.label)
	}
	key := s.key(k)
	used, err := w.KVHas(key)
	if err != nil {
		return err
	}
	if used {
		return fmt.Errorf("%s %s: %w", s.label, k.Hex(), coreerrors.ErrAlreadyUsed)
	}
	return w.KVPut(key, entry{InsertedAt: at})
}

// MarkedAt returns the unix time k was marked, if it was.
func (s *Set) MarkedAt(r state.Reader, k ethcommon.Hash) (uint64, bool, error) {
	var e entry
	ok, err := r.KVGet(s.key(k), &e)
	if err != nil || !ok {
		return 0, false, err
	}
	return e.InsertedAt, true, nil
}
