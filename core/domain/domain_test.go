package domain

import (
	"errors"
	"testing"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	coreerrors "claimbridge/core/errors"
	"claimbridge/core/events"
	"claimbridge/core/state"
	"claimbridge/native/common"
	"claimbridge/storage"
)

func TestMutateCommitsAndEmitsAfterCommit(t *testing.T) {
	rec := &events.Recorder{}
	d := New(Verification, storage.NewMemDB(), WithEmitter(rec))

	err := d.Mutate(func(tx *Tx) error {
		require.NoError(t, tx.KVPut([]byte("x"), uint64(1)))
		tx.Emit(events.TierAdded{Index: 8, Amount: 5})
		require.Empty(t, rec.Events(), "events must wait for commit")
		return nil
	})
	require.NoError(t, err)
	require.Len(t, rec.Events(), 1)

	require.NoError(t, d.View(func(r state.Reader) error {
		var v uint64
		ok, err := r.KVGet([]byte("x"), &v)
		require.True(t, ok)
		require.Equal(t, uint64(1), v)
		return err
	}))
}

func TestMutateFailureRollsBackEverything(t *testing.T) {
	rec := &events.Recorder{}
	d := New(Verification, storage.NewMemDB(), WithEmitter(rec))
	boom := errors.New("boom")

	err := d.Mutate(func(tx *Tx) error {
		require.NoError(t, tx.KVPut([]byte("x"), uint64(1)))
		tx.Emit(events.TierAdded{Index: 8, Amount: 5})
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Empty(t, rec.Events())

	require.NoError(t, d.View(func(r state.Reader) error {
		ok, err := r.KVHas([]byte("x"))
		require.False(t, ok)
		return err
	}))
}

func TestNowIsFixedPerTransaction(t *testing.T) {
	fixed := time.Unix(1_700_000_000, 0)
	d := New(Settlement, storage.NewMemDB(), WithNowFunc(func() time.Time { return fixed }))
	require.NoError(t, d.Mutate(func(tx *Tx) error {
		require.Equal(t, fixed, tx.Now())
		require.Equal(t, Settlement, tx.Domain())
		return nil
	}))
}

func TestPauseRequiresOperatorAndGuards(t *testing.T) {
	rec := &events.Recorder{}
	d := New(Settlement, storage.NewMemDB(), WithEmitter(rec))
	operator := ethcommon.HexToAddress("0x0a")
	stranger := ethcommon.HexToAddress("0x0b")
	require.NoError(t, d.Grant(common.RoleOperator, operator))

	require.ErrorIs(t, d.SetPaused(stranger, true), coreerrors.ErrUnauthorized)
	require.NoError(t, d.SetPaused(operator, true))

	paused, err := d.Paused()
	require.NoError(t, err)
	require.True(t, paused)

	err = d.Mutate(func(tx *Tx) error { return tx.Guard() })
	require.ErrorIs(t, err, coreerrors.ErrPaused)

	// Pausing again is a no-op and emits nothing new.
	require.NoError(t, d.SetPaused(operator, true))
	require.Len(t, rec.OfType(events.TypeDomainPaused), 1)

	require.NoError(t, d.SetPaused(operator, false))
	require.Len(t, rec.OfType(events.TypeDomainResumed), 1)
	require.NoError(t, d.Mutate(func(tx *Tx) error { return tx.Guard() }))
}

func TestHasRole(t *testing.T) {
	d := New(Verification, storage.NewMemDB())
	addr := ethcommon.HexToAddress("0x01")
	ok, err := d.HasRole(common.RoleAttestor, addr)
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, d.Grant(common.RoleAttestor, addr))
	ok, err = d.HasRole(common.RoleAttestor, addr)
	require.NoError(t, err)
	require.True(t, ok)
}
