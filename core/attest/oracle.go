package attest

import (
	"crypto/ecdsa"
	"fmt"
	"sync"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ProofOracle reports whether proof attests to att. Proof internals are
// opaque to the verifier.
type ProofOracle interface {
	Verify(att Attestation, proof []byte) bool
}

// StaticOracle answers every query with the same result. Development only.
type StaticOracle bool

func (s StaticOracle) Verify(Attestation, []byte) bool { return bool(s) }

const signatureLength = crypto.SignatureLength

var signingPrefix = []byte("claimbridge attestation:")

// SigningHash is the digest attestors sign.
func SigningHash(att Attestation) ethcommon.Hash {
	digest := att.Digest()
	return crypto.Keccak256Hash(signingPrefix, digest.Bytes())
}

// Sign produces one attestor signature over att.
func Sign(att Attestation, key *ecdsa.PrivateKey) ([]byte, error) {
	hash := SigningHash(att)
	return crypto.Sign(hash.Bytes(), key)
}

// QuorumOracle accepts a proof made of concatenated 65-byte secp256k1
// signatures when at least threshold distinct registered attestors signed.
type QuorumOracle struct {
	mu        sync.RWMutex
	signers   map[ethcommon.Address]struct{}
	threshold int
}

func NewQuorumOracle(threshold int, signers []ethcommon.Address) (*QuorumOracle, error) {
	if threshold <= 0 {
		return nil, fmt.Errorf("attest: threshold must be positive")
	}
	set := make(map[ethcommon.Address]struct{}, len(signers))
	for _, s := range signers {
		if s == (ethcommon.Address{}) {
			return nil, fmt.Errorf("attest: zero signer address")
		}
		set[s] = struct{}{}
	}
	if threshold > len(set) {
		return nil, fmt.Errorf("attest: threshold %d exceeds %d signers", threshold, len(set))
	}
	return &QuorumOracle{signers: set, threshold: threshold}, nil
}

func (q *QuorumOracle) Threshold() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.threshold
}

func (q *QuorumOracle) Verify(att Attestation, proof []byte) bool {
	if len(proof) == 0 || len(proof)%signatureLength != 0 {
		return false
	}
	hash := SigningHash(att).Bytes()

	q.mu.RLock()
	defer q.mu.RUnlock()
	seen := make(map[ethcommon.Address]struct{})
	for off := 0; off < len(proof); off += signatureLength {
		sig := proof[off : off+signatureLength]
		pub, err := crypto.SigToPub(hash, sig)
		if err != nil {
			return false
		}
		addr := crypto.PubkeyToAddress(*pub)
		if _, ok := q.signers[addr]; !ok {
			continue
		}
		seen[addr] = struct{}{}
	}
	return len(seen) >= q.threshold
}
