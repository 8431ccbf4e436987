package attest

import (
	"crypto/ecdsa"
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func sampleAttestation() Attestation {
	return Attestation{
		Recipient:      ethcommon.HexToAddress("0x00000000000000000000000000000000000000aa"),
		Tier:           5,
		Nullifier:      ethcommon.HexToHash("0x01"),
		Commitment:     ethcommon.HexToHash("0x02"),
		OriginDomainID: 0x584647,
		EventTime:      1_700_000_000,
	}
}

func newKeys(t *testing.T, n int) ([]*ecdsa.PrivateKey, []ethcommon.Address) {
	t.Helper()
	keys := make([]*ecdsa.PrivateKey, n)
	addrs := make([]ethcommon.Address, n)
	for i := range keys {
		k, err := crypto.GenerateKey()
		require.NoError(t, err)
		keys[i] = k
		addrs[i] = crypto.PubkeyToAddress(k.PublicKey)
	}
	return keys, addrs
}

func TestDigestChangesWithEveryField(t *testing.T) {
	base := sampleAttestation()
	seen := map[ethcommon.Hash]string{base.Digest(): "base"}
	mutations := map[string]func(*Attestation){
		"recipient":  func(a *Attestation) { a.Recipient[0] ^= 1 },
		"tier":       func(a *Attestation) { a.Tier++ },
		"nullifier":  func(a *Attestation) { a.Nullifier[0] ^= 1 },
		"commitment": func(a *Attestation) { a.Commitment[0] ^= 1 },
		"origin":     func(a *Attestation) { a.OriginDomainID++ },
		"time":       func(a *Attestation) { a.EventTime++ },
	}
	for name, mutate := range mutations {
		a := sampleAttestation()
		mutate(&a)
		d := a.Digest()
		if prev, ok := seen[d]; ok {
			t.Fatalf("%s collides with %s", name, prev)
		}
		seen[d] = name
	}
}

func TestQuorumOracle(t *testing.T) {
	keys, addrs := newKeys(t, 3)
	oracle, err := NewQuorumOracle(2, addrs)
	require.NoError(t, err)

	att := sampleAttestation()
	sig0, err := Sign(att, keys[0])
	require.NoError(t, err)
	sig1, err := Sign(att, keys[1])
	require.NoError(t, err)

	require.False(t, oracle.Verify(att, sig0), "one signature is below threshold")
	require.False(t, oracle.Verify(att, append(append([]byte{}, sig0...), sig0...)), "duplicate signer counted once")
	require.True(t, oracle.Verify(att, append(append([]byte{}, sig0...), sig1...)))

	tampered := att
	tampered.Tier = 7
	require.False(t, oracle.Verify(tampered, append(append([]byte{}, sig0...), sig1...)))

	outsider, _ := newKeys(t, 1)
	sigX, err := Sign(att, outsider[0])
	require.NoError(t, err)
	require.False(t, oracle.Verify(att, append(append([]byte{}, sig0...), sigX...)))

	require.False(t, oracle.Verify(att, []byte{1, 2, 3}))
	require.False(t, oracle.Verify(att, nil))
}

func TestNewQuorumOracleValidation(t *testing.T) {
	_, addrs := newKeys(t, 2)
	_, err := NewQuorumOracle(0, addrs)
	require.Error(t, err)
	_, err = NewQuorumOracle(3, addrs)
	require.Error(t, err)
	_, err = NewQuorumOracle(1, []ethcommon.Address{{}})
	require.Error(t, err)
}

func TestStaticOracle(t *testing.T) {
	require.True(t, StaticOracle(true).Verify(Attestation{}, nil))
	require.False(t, StaticOracle(false).Verify(Attestation{}, nil))
}

func TestDerivationIsDeterministicAndSeparated(t *testing.T) {
	var secret [32]byte
	secret[0] = 7
	tx := ethcommon.HexToHash("0xfeed")
	recipient := ethcommon.HexToAddress("0x01")

	n1 := DeriveNullifier(secret, tx)
	require.Equal(t, n1, DeriveNullifier(secret, tx))
	c1 := DeriveCommitment(secret, recipient, 3, 1)
	require.Equal(t, c1, DeriveCommitment(secret, recipient, 3, 1))
	require.NotEqual(t, n1, c1)
	require.NotEqual(t, c1, DeriveCommitment(secret, recipient, 4, 1))
	require.NotEqual(t, c1, DeriveCommitment(secret, recipient, 3, 2))
}
