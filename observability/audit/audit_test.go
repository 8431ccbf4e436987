package audit

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"
	"gorm.io/gorm"

	"claimbridge/core/events"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	store, err := NewStore(db, nil)
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func applied(n int64) events.MintApplied {
	return events.MintApplied{
		Commitment:   ethcommon.HexToHash(fmt.Sprintf("0x%x", n)),
		Recipient:    ethcommon.HexToAddress("0x00000000000000000000000000000000000000d1"),
		EditionID:    1,
		RewardAmount: 160_000,
	}
}

func TestAppendDedupes(t *testing.T) {
	store := setupStore(t)

	added, err := store.Append("settlement", applied(1))
	require.NoError(t, err)
	require.True(t, added)

	added, err = store.Append("settlement", applied(1))
	require.NoError(t, err)
	require.False(t, added)

	added, err = store.Append("settlement", applied(2))
	require.NoError(t, err)
	require.True(t, added)

	records, err := store.List(Filter{Domain: "settlement"})
	require.NoError(t, err)
	require.Len(t, records, 2)
	attrs, err := records[0].Attrs()
	require.NoError(t, err)
	require.Equal(t, "160000", attrs["rewardAmount"])
}

func TestRepeatableEventsAreKept(t *testing.T) {
	store := setupStore(t)
	tick := time.Unix(1_760_000_000, 0)
	store.nowFn = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}
	pause := events.DomainPauseChanged{Domain: "settlement", Paused: true}
	resume := events.DomainPauseChanged{Domain: "settlement", Paused: false}
	for _, evt := range []events.Event{pause, resume, pause} {
		added, err := store.Append("settlement", evt)
		require.NoError(t, err)
		require.True(t, added)
	}
	records, err := store.List(Filter{Type: events.TypeDomainPaused})
	require.NoError(t, err)
	require.Len(t, records, 2)
}

func TestSinkPublishesToSubscribers(t *testing.T) {
	store := setupStore(t)
	ch, cancel := store.Subscribe(4)
	defer cancel()

	sink := store.Sink("verification")
	sink.Emit(events.TierAdded{Index: 12, Amount: 99})
	sink.Emit(events.TierAdded{Index: 12, Amount: 99})

	select {
	case rec := <-ch:
		require.Equal(t, events.TypeTierAdded, rec.Type)
		require.Equal(t, "verification", rec.Domain)
	case <-time.After(time.Second):
		t.Fatalf("expected a published record")
	}
	select {
	case rec := <-ch:
		t.Fatalf("duplicate should not be published: %+v", rec)
	default:
	}
}

func TestListFilters(t *testing.T) {
	store := setupStore(t)
	base := time.Unix(1_760_000_000, 0)
	store.nowFn = func() time.Time { return base }
	_, err := store.Append("settlement", applied(1))
	require.NoError(t, err)
	store.nowFn = func() time.Time { return base.Add(time.Hour) }
	_, err = store.Append("verification", events.TierAdded{Index: 12, Amount: 1})
	require.NoError(t, err)

	recent, err := store.List(Filter{Since: base.Add(time.Minute)})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, "verification", recent[0].Domain)

	limited, err := store.List(Filter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	require.Equal(t, "settlement", limited[0].Domain)
}

func TestExportParquet(t *testing.T) {
	store := setupStore(t)
	for i := int64(1); i <= 3; i++ {
		_, err := store.Append("settlement", applied(i))
		require.NoError(t, err)
	}
	path := filepath.Join(t.TempDir(), "audit.parquet")
	n, err := store.ExportParquet(path, time.Time{})
	require.NoError(t, err)
	require.Equal(t, 3, n)

	fr, err := local.NewLocalFileReader(path)
	require.NoError(t, err)
	defer fr.Close()
	pr, err := reader.NewParquetReader(fr, new(parquetRow), 1)
	require.NoError(t, err)
	defer pr.ReadStop()
	require.Equal(t, int64(3), pr.GetNumRows())
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "x", nil)
	require.Error(t, err)
}
