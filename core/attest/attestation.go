// Package attest holds the claim attestation produced by the external proof
// system and the oracles that turn an opaque proof into a yes/no answer.
package attest

import (
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// Attestation is the attested origin event backing one claim.
type Attestation struct {
	Recipient      ethcommon.Address `json:"recipient"`
	Tier           uint8             `json:"tier"`
	Nullifier      ethcommon.Hash    `json:"nullifier"`
	Commitment     ethcommon.Hash    `json:"commitment"`
	OriginDomainID uint64            `json:"originDomainId"`
	EventTime      int64             `json:"eventTime"`
}

type canonicalAttestation struct {
	Recipient      ethcommon.Address
	Tier           uint8
	Nullifier      ethcommon.Hash
	Commitment     ethcommon.Hash
	OriginDomainID uint64
	EventTime      uint64
}

// Digest is keccak256 over the RLP encoding. Negative event times are
// clamped to zero; such attestations are rejected downstream anyway.
func (a Attestation) Digest() ethcommon.Hash {
	eventTime := uint64(0)
	if a.EventTime > 0 {
		eventTime = uint64(a.EventTime)
	}
	encoded, err := rlp.EncodeToBytes(&canonicalAttestation{
		Recipient:      a.Recipient,
		Tier:           a.Tier,
		Nullifier:      a.Nullifier,
		Commitment:     a.Commitment,
		OriginDomainID: a.OriginDomainID,
		EventTime:      eventTime,
	})
	if err != nil {
		// Fixed-size fields only; encoding cannot fail.
		panic(err)
	}
	return crypto.Keccak256Hash(encoded)
}
