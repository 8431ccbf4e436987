package relay

import (
	"fmt"
	"path/filepath"
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"claimbridge/core/bridge"
)

func testEnvelope(t *testing.T, seq uint64) bridge.Envelope {
	t.Helper()
	m := bridge.MintInstruction{
		FormatVersion:   bridge.FormatV2,
		Commitment:      ethcommon.HexToHash(fmt.Sprintf("0x%x", 0xc000+seq)),
		Recipient:       ethcommon.HexToAddress("0x00000000000000000000000000000000000000d1"),
		EditionID:       1,
		Tier:            0,
		RewardAmount:    160_000,
		PrincipalAmount: 8_000_000,
		TargetDomain:    "settlement",
		EventTime:       1_700_000_000,
	}
	ticket, err := m.Ticket()
	require.NoError(t, err)
	return bridge.Envelope{Sequence: seq, Ticket: ticket.String(), Instruction: m, FeePaid: 10, SentAt: 1_760_000_000}
}

func inboxes(t *testing.T) map[string]func() Inbox {
	return map[string]func() Inbox{
		"memory": func() Inbox { return NewMemoryInbox() },
		"bolt": func() Inbox {
			inbox, err := OpenBoltInbox(filepath.Join(t.TempDir(), "inbox.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = inbox.Close() })
			return inbox
		},
	}
}

func TestInboxQueueSemantics(t *testing.T) {
	for name, open := range inboxes(t) {
		t.Run(name, func(t *testing.T) {
			inbox := open()
			first, second := testEnvelope(t, 1), testEnvelope(t, 2)

			added, err := inbox.Put(first)
			require.NoError(t, err)
			require.True(t, added)
			added, err = inbox.Put(second)
			require.NoError(t, err)
			require.True(t, added)

			added, err = inbox.Put(first)
			require.NoError(t, err)
			require.False(t, added, "redelivery must not enqueue twice")

			pending, err := inbox.Pending(0)
			require.NoError(t, err)
			require.Len(t, pending, 2)
			require.Equal(t, first.Ticket, pending[0].Ticket)
			require.Equal(t, second.Ticket, pending[1].Ticket)

			limited, err := inbox.Pending(1)
			require.NoError(t, err)
			require.Len(t, limited, 1)

			require.NoError(t, inbox.Remove(first.Ticket))
			added, err = inbox.Put(first)
			require.NoError(t, err)
			require.False(t, added, "processed tickets stay known")

			require.NoError(t, inbox.DeadLetter(second, "capacity exceeded", 42))
			p, d, err := inbox.Depth()
			require.NoError(t, err)
			require.Equal(t, 0, p)
			require.Equal(t, 1, d)

			dead, err := inbox.DeadLetters()
			require.NoError(t, err)
			require.Len(t, dead, 1)
			require.Equal(t, second.Ticket, dead[0].Envelope.Ticket)
			require.Equal(t, "capacity exceeded", dead[0].Reason)
			require.Equal(t, uint64(42), dead[0].At)
		})
	}
}

func TestBoltInboxSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inbox.db")
	inbox, err := OpenBoltInbox(path)
	require.NoError(t, err)
	env := testEnvelope(t, 7)
	_, err = inbox.Put(env)
	require.NoError(t, err)
	require.NoError(t, inbox.Close())

	reopened, err := OpenBoltInbox(path)
	require.NoError(t, err)
	defer reopened.Close()
	pending, err := reopened.Pending(0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, env, pending[0])

	added, err := reopened.Put(env)
	require.NoError(t, err)
	require.False(t, added)
}
