package events

import "github.com/ethereum/go-ethereum/common"

const (
	// TypeClaimAccepted is emitted once per successfully verified claim.
	TypeClaimAccepted = "claims.accepted"
	// TypeTierAdded is emitted when governance appends a tier.
	TypeTierAdded = "claims.tier_added"
	// TypeActiveEditionSet is emitted when the edition stamped on new claims changes.
	TypeActiveEditionSet = "claims.active_edition_set"
	// TypeMintDispatched is emitted when a mint instruction enters the outbox.
	TypeMintDispatched = "dispatch.mint_dispatched"
	// TypeMintRejected is emitted when the channel permanently refuses an
	// envelope and it leaves the outbox unrelayed.
	TypeMintRejected = "dispatch.mint_rejected"
)

type ClaimAccepted struct {
	Commitment   common.Hash
	Recipient    common.Address
	RewardAmount uint64
	Tier         uint8
	Nullifier    common.Hash
	Legacy       bool
}

func (ClaimAccepted) EventType() string { return TypeClaimAccepted }

func (e ClaimAccepted) Event() *Record {
	legacy := "false"
	if e.Legacy {
		legacy = "true"
	}
	return &Record{
		Type: TypeClaimAccepted,
		Attributes: map[string]string{
			"commitment":   hashString(e.Commitment),
			"recipient":    addressString(e.Recipient),
			"rewardAmount": u64(e.RewardAmount),
			"tier":         u64(uint64(e.Tier)),
			"nullifier":    hashString(e.Nullifier),
			"legacy":       legacy,
		},
	}
}

type TierAdded struct {
	Index  uint8
	Amount uint64
}

func (TierAdded) EventType() string { return TypeTierAdded }

func (e TierAdded) Event() *Record {
	return &Record{
		Type: TypeTierAdded,
		Attributes: map[string]string{
			"index":  u64(uint64(e.Index)),
			"amount": u64(e.Amount),
		},
	}
}

type ActiveEditionSet struct {
	EditionID uint64
}

func (ActiveEditionSet) EventType() string { return TypeActiveEditionSet }

func (e ActiveEditionSet) Event() *Record {
	return &Record{
		Type:       TypeActiveEditionSet,
		Attributes: map[string]string{"editionId": u64(e.EditionID)},
	}
}

type MintDispatched struct {
	FeePaid    uint64
	Ticket     string
	Commitment common.Hash
	Sequence   uint64
}

func (MintDispatched) EventType() string { return TypeMintDispatched }

func (e MintDispatched) Event() *Record {
	return &Record{
		Type: TypeMintDispatched,
		Attributes: map[string]string{
			"feePaid":    u64(e.FeePaid),
			"ticket":     e.Ticket,
			"commitment": hashString(e.Commitment),
			"sequence":   u64(e.Sequence),
		},
	}
}

type MintRejected struct {
	Ticket     string
	Commitment common.Hash
	Sequence   uint64
	Reason     string
}

func (MintRejected) EventType() string { return TypeMintRejected }

func (e MintRejected) Event() *Record {
	return &Record{
		Type: TypeMintRejected,
		Attributes: map[string]string{
			"ticket":     e.Ticket,
			"commitment": hashString(e.Commitment),
			"sequence":   u64(e.Sequence),
			"reason":     e.Reason,
		},
	}
}
