// Package bridge defines the payload that crosses from the verification
// domain to the settlement domain.
package bridge

import (
	"fmt"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/google/uuid"

	coreerrors "claimbridge/core/errors"
)

const (
	// FormatV1 carries commitment, recipient, edition and amounts.
	FormatV1 uint32 = 1
	// FormatV2 adds the target domain and the origin event time.
	FormatV2 uint32 = 2
	// CurrentFormat is what the dispatcher produces.
	CurrentFormat = FormatV2
)

// ticketNamespace scopes correlation tickets so they never collide with other
// UUIDv5 spaces.
var ticketNamespace = uuid.MustParse("6f1c2b4e-9d0a-5e77-8f3c-2a1b0c9d8e7f")

// CorrelationTicket identifies one dispatched instruction. It is derived from
// the instruction digest, so a resend carries the same ticket.
type CorrelationTicket = uuid.UUID

// MintInstruction asks the settlement domain to record a reward.
type MintInstruction struct {
	FormatVersion   uint32            `json:"formatVersion"`
	Commitment      ethcommon.Hash    `json:"commitment"`
	Recipient       ethcommon.Address `json:"recipient"`
	EditionID       uint64            `json:"editionId"`
	Tier            uint8             `json:"tier"`
	RewardAmount    uint64            `json:"rewardAmount"`
	PrincipalAmount uint64            `json:"principalAmount"`
	TargetDomain    string            `json:"targetDomain,omitempty"`
	EventTime       uint64            `json:"eventTime,omitempty"`
}

func rejected(format string, args ...any) error {
	return fmt.Errorf("%w: %s", coreerrors.ErrChannelRejected, fmt.Sprintf(format, args...))
}

// Validate checks the instruction is well formed for its format version.
func (m MintInstruction) Validate() error {
	switch m.FormatVersion {
	case FormatV1:
		if m.TargetDomain != "" || m.EventTime != 0 {
			return rejected("v1 instruction carries v2 fields")
		}
	case FormatV2:
		if m.TargetDomain == "" {
			return rejected("target domain required")
		}
	default:
		return rejected("unsupported format version %d", m.FormatVersion)
	}
	if m.Commitment == (ethcommon.Hash{}) {
		return rejected("commitment required")
	}
	if m.Recipient == (ethcommon.Address{}) {
		return rejected("recipient required")
	}
	if m.EditionID == 0 {
		return rejected("edition required")
	}
	if m.RewardAmount == 0 {
		return rejected("reward must be positive")
	}
	if m.PrincipalAmount == 0 {
		return rejected("principal must be positive")
	}
	return nil
}

// Encode returns the canonical RLP form.
func (m MintInstruction) Encode() ([]byte, error) {
	return rlp.EncodeToBytes(&m)
}

func DecodeInstruction(data []byte) (MintInstruction, error) {
	var m MintInstruction
	if err := rlp.DecodeBytes(data, &m); err != nil {
		return MintInstruction{}, rejected("decode: %v", err)
	}
	return m, nil
}

// Digest is keccak256 over the canonical encoding.
func (m MintInstruction) Digest() (ethcommon.Hash, error) {
	encoded, err := m.Encode()
	if err != nil {
		return ethcommon.Hash{}, err
	}
	return crypto.Keccak256Hash(encoded), nil
}

// Ticket derives the correlation ticket for m.
func (m MintInstruction) Ticket() (CorrelationTicket, error) {
	digest, err := m.Digest()
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.NewSHA1(ticketNamespace, digest.Bytes()), nil
}
