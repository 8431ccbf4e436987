package attest

import (
	"encoding/binary"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"lukechampine.com/blake3"
)

// DeriveNullifier binds a depositor secret to the origin transaction. The same
// deposit always yields the same nullifier.
func DeriveNullifier(secret [32]byte, originTx ethcommon.Hash) ethcommon.Hash {
	buf := make([]byte, 0, 18+32+32)
	buf = append(buf, "claimbridge/nullif"...)
	buf = append(buf, secret[:]...)
	buf = append(buf, originTx.Bytes()...)
	return ethcommon.Hash(blake3.Sum256(buf))
}

// DeriveCommitment binds the secret to the claim parameters carried to the
// settlement domain.
func DeriveCommitment(secret [32]byte, recipient ethcommon.Address, tier uint8, originDomain uint64) ethcommon.Hash {
	buf := make([]byte, 0, 18+32+20+1+8)
	buf = append(buf, "claimbridge/commit"...)
	buf = append(buf, secret[:]...)
	buf = append(buf, recipient.Bytes()...)
	buf = append(buf, tier)
	buf = binary.BigEndian.AppendUint64(buf, originDomain)
	return ethcommon.Hash(blake3.Sum256(buf))
}
