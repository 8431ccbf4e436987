package state

import (
	"testing"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/stretchr/testify/require"

	"claimbridge/storage"
)

type sampleRecord struct {
	Name   string
	Amount uint64
}

func TestTxnReadYourWritesAndCommit(t *testing.T) {
	db := storage.NewMemDB()
	mgr := NewManager(db)

	txn := mgr.Begin()
	require.NoError(t, txn.KVPut([]byte("rec/1"), sampleRecord{Name: "one", Amount: 1}))

	var got sampleRecord
	ok, err := txn.KVGet([]byte("rec/1"), &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "one", got.Name)

	ok, err = mgr.KVHas([]byte("rec/1"))
	require.NoError(t, err)
	require.False(t, ok, "uncommitted write must not be visible")

	require.NoError(t, txn.Commit())
	ok, err = mgr.KVGet([]byte("rec/1"), &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(1), got.Amount)

	require.Error(t, txn.Commit())
	require.Error(t, txn.KVPut([]byte("rec/2"), sampleRecord{}))
}

func TestTxnDiscardLeavesStateUntouched(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	txn := mgr.Begin()
	require.NoError(t, txn.KVPut([]byte("k"), uint64(7)))
	txn.Discard()

	ok, err := mgr.KVHas([]byte("k"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTxnDeleteAndIterateMerge(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	seed := mgr.Begin()
	require.NoError(t, seed.KVPut([]byte("p/a"), uint64(1)))
	require.NoError(t, seed.KVPut([]byte("p/b"), uint64(2)))
	require.NoError(t, seed.Commit())

	txn := mgr.Begin()
	require.NoError(t, txn.KVDelete([]byte("p/a")))
	require.NoError(t, txn.KVPut([]byte("p/c"), uint64(3)))

	var keys []string
	var sum uint64
	require.NoError(t, txn.KVIterate([]byte("p/"), func(key, value []byte) (bool, error) {
		var v uint64
		if err := rlp.DecodeBytes(value, &v); err != nil {
			return false, err
		}
		keys = append(keys, string(key))
		sum += v
		return true, nil
	}))
	require.Equal(t, []string{"p/b", "p/c"}, keys)
	require.Equal(t, uint64(5), sum)

	ok, err := txn.KVHas([]byte("p/a"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEmptyKeyRejected(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	_, err := mgr.KVGet(nil, nil)
	require.Error(t, err)
	require.Error(t, mgr.Begin().KVPut(nil, uint64(1)))
}
