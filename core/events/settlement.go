package events

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const (
	TypeMintApplied          = "settlement.mint_applied"
	TypeEditionCreated       = "settlement.edition_created"
	TypeEditionStatusChanged = "settlement.edition_status_changed"
	TypeDomainPaused         = "domain.paused"
	TypeDomainResumed        = "domain.resumed"
	TypeRelayDeadLettered    = "relay.dead_lettered"
)

type MintApplied struct {
	Commitment   common.Hash
	Recipient    common.Address
	EditionID    uint64
	RewardAmount uint64
	Caller       common.Address
	TotalMinted  *uint256.Int
}

func (MintApplied) EventType() string { return TypeMintApplied }

func (e MintApplied) Event() *Record {
	total := "0"
	if e.TotalMinted != nil {
		total = e.TotalMinted.Dec()
	}
	return &Record{
		Type: TypeMintApplied,
		Attributes: map[string]string{
			"commitment":   hashString(e.Commitment),
			"recipient":    addressString(e.Recipient),
			"editionId":    u64(e.EditionID),
			"rewardAmount": u64(e.RewardAmount),
			"caller":       addressString(e.Caller),
			"totalMinted":  total,
		},
	}
}

type EditionCreated struct {
	EditionID uint64
	Name      string
	MaxSupply *uint256.Int
}

func (EditionCreated) EventType() string { return TypeEditionCreated }

func (e EditionCreated) Event() *Record {
	supply := "0"
	if e.MaxSupply != nil {
		supply = e.MaxSupply.Dec()
	}
	return &Record{
		Type: TypeEditionCreated,
		Attributes: map[string]string{
			"editionId": u64(e.EditionID),
			"name":      e.Name,
			"maxSupply": supply,
		},
	}
}

type EditionStatusChanged struct {
	EditionID uint64
	Active    bool
}

func (EditionStatusChanged) EventType() string { return TypeEditionStatusChanged }

func (e EditionStatusChanged) Event() *Record {
	active := "false"
	if e.Active {
		active = "true"
	}
	return &Record{
		Type: TypeEditionStatusChanged,
		Attributes: map[string]string{
			"editionId": u64(e.EditionID),
			"active":    active,
		},
	}
}

// DomainPauseChanged covers both pause and resume; Paused selects the type.
type DomainPauseChanged struct {
	Domain string
	Paused bool
	Caller common.Address
}

func (e DomainPauseChanged) EventType() string {
	if e.Paused {
		return TypeDomainPaused
	}
	return TypeDomainResumed
}

func (e DomainPauseChanged) Event() *Record {
	return &Record{
		Type: e.EventType(),
		Attributes: map[string]string{
			"domain": e.Domain,
			"caller": addressString(e.Caller),
		},
	}
}

// RelayDeadLettered records an instruction the settlement domain refused
// permanently.
type RelayDeadLettered struct {
	Ticket     string
	Commitment common.Hash
	Reason     string
}

func (RelayDeadLettered) EventType() string { return TypeRelayDeadLettered }

func (e RelayDeadLettered) Event() *Record {
	return &Record{
		Type: TypeRelayDeadLettered,
		Attributes: map[string]string{
			"ticket":     e.Ticket,
			"commitment": hashString(e.Commitment),
			"reason":     e.Reason,
		},
	}
}
