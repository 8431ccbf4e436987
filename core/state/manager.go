package state

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"

	"claimbridge/storage"
)

// Reader is the read half of the KV surface exposed to engines. Values are
// RLP encoded.
type Reader interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVHas(key []byte) (bool, error)
	KVGetList(key []byte, out interface{}) error
	// KVIterate walks keys under prefix in byte order and hands the raw RLP
	// payload to fn. Returning false stops the walk.
	KVIterate(prefix []byte, fn func(key, value []byte) (bool, error)) error
}

// Writer stages mutations. Nothing reaches the database until the owning
// transaction commits.
type Writer interface {
	Reader
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

// Manager is the committed view of a domain's state.
type Manager struct {
	db storage.Database
}

func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// Database exposes the backing store.
func (m *Manager) Database() storage.Database { return m.db }

func checkKey(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	return nil
}

func (m *Manager) raw(key []byte) ([]byte, bool, error) {
	data, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if err := checkKey(key); err != nil {
		return false, err
	}
	data, ok, err := m.raw(key)
	if err != nil || !ok {
		return false, err
	}
	return decodeInto(data, out)
}

func (m *Manager) KVHas(key []byte) (bool, error) {
	if err := checkKey(key); err != nil {
		return false, err
	}
	return m.db.Has(key)
}

// KVGetList decodes an RLP list into out. Missing keys decode to an empty
// slice.
func (m *Manager) KVGetList(key []byte, out interface{}) error {
	if err := checkKey(key); err != nil {
		return err
	}
	data, ok, err := m.raw(key)
	if err != nil {
		return err
	}
	return decodeList(data, ok, out)
}

func (m *Manager) KVIterate(prefix []byte, fn func(key, value []byte) (bool, error)) error {
	var cbErr error
	err := m.db.Iterate(prefix, func(key, value []byte) bool {
		cont, err := fn(key, value)
		if err != nil {
			cbErr = err
			return false
		}
		return cont
	})
	if cbErr != nil {
		return cbErr
	}
	return err
}

// Begin opens a transaction over the committed state.
func (m *Manager) Begin() *Txn {
	return &Txn{base: m, staged: make(map[string]*stagedValue)}
}

type stagedValue struct {
	data    []byte
	deleted bool
}

// Txn stages writes on top of a Manager. Reads observe the transaction's own
// writes. Commit lands every staged write through a single storage batch.
type Txn struct {
	base   *Manager
	staged map[string]*stagedValue
	done   bool
}

func (t *Txn) lookup(key []byte) ([]byte, bool, error) {
	if v, ok := t.staged[string(key)]; ok {
		if v.deleted {
			return nil, false, nil
		}
		return v.data, true, nil
	}
	return t.base.raw(key)
}

func (t *Txn) KVGet(key []byte, out interface{}) (bool, error) {
	if err := checkKey(key); err != nil {
		return false, err
	}
	data, ok, err := t.lookup(key)
	if err != nil || !ok {
		return false, err
	}
	return decodeInto(data, out)
}

func (t *Txn) KVHas(key []byte) (bool, error) {
	if err := checkKey(key); err != nil {
		return false, err
	}
	_, ok, err := t.lookup(key)
	return ok, err
}

func (t *Txn) KVGetList(key []byte, out interface{}) error {
	if err := checkKey(key); err != nil {
		return err
	}
	data, ok, err := t.lookup(key)
	if err != nil {
		return err
	}
	return decodeList(data, ok, out)
}

func (t *Txn) KVPut(key []byte, value interface{}) error {
	if err := t.writable(key); err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	t.staged[string(key)] = &stagedValue{data: encoded}
	return nil
}

func (t *Txn) KVDelete(key []byte) error {
	if err := t.writable(key); err != nil {
		return err
	}
	t.staged[string(key)] = &stagedValue{deleted: true}
	return nil
}

// KVIterate merges committed keys with staged writes under prefix.
func (t *Txn) KVIterate(prefix []byte, fn func(key, value []byte) (bool, error)) error {
	merged := make(map[string][]byte)
	if err := t.base.db.Iterate(prefix, func(key, value []byte) bool {
		merged[string(key)] = value
		return true
	}); err != nil {
		return err
	}
	for k, v := range t.staged {
		if !bytes.HasPrefix([]byte(k), prefix) {
			continue
		}
		if v.deleted {
			delete(merged, k)
			continue
		}
		merged[k] = v.data
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cont, err := fn([]byte(k), merged[k])
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

// Len reports the number of staged keys.
func (t *Txn) Len() int { return len(t.staged) }

// Commit writes every staged mutation atomically. A transaction can be
// committed once.
func (t *Txn) Commit() error {
	if t.done {
		return fmt.Errorf("kv: transaction already finished")
	}
	t.done = true
	if len(t.staged) == 0 {
		return nil
	}
	batch := t.base.db.NewBatch()
	for k, v := range t.staged {
		if v.deleted {
			batch.Delete([]byte(k))
			continue
		}
		batch.Put([]byte(k), v.data)
	}
	return batch.Write()
}

// Discard drops staged writes.
func (t *Txn) Discard() {
	t.done = true
	t.staged = nil
}

func (t *Txn) writable(key []byte) error {
	if t.done {
		return fmt.Errorf("kv: transaction already finished")
	}
	return checkKey(key)
}

func decodeInto(data []byte, out interface{}) (bool, error) {
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

func decodeList(data []byte, ok bool, out interface{}) error {
	if ok && len(data) > 0 {
		return rlp.DecodeBytes(data, out)
	}
	val := reflect.ValueOf(out)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		return fmt.Errorf("kv: destination must be a non-nil pointer")
	}
	elem := val.Elem()
	if elem.Kind() != reflect.Slice {
		return fmt.Errorf("kv: destination must point to a slice")
	}
	elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
	return nil
}
