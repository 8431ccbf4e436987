package settlement

import (
	"encoding/binary"
	"fmt"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	editionPrefix    = []byte("settlement/edition/")
	holderPrefix     = []byte("settlement/holder/")
	statsKey         = []byte("settlement/stats")
	commitmentPrefix = "settlement/commitment/"
)

func editionKey(id uint64) []byte {
	key := make([]byte, len(editionPrefix)+8)
	copy(key, editionPrefix)
	binary.BigEndian.PutUint64(key[len(editionPrefix):], id)
	return key
}

func holderKey(addr ethcommon.Address) []byte {
	return append(append([]byte(nil), holderPrefix...), addr.Bytes()...)
}

// Edition is a capped cohort of the issued reward asset.
type Edition struct {
	ID          uint64       `json:"id"`
	Name        string       `json:"name"`
	MaxSupply   *uint256.Int `json:"maxSupply"`
	TotalMinted *uint256.Int `json:"totalMinted"`
	CreatedAt   int64        `json:"createdAt"`
	Active      bool         `json:"active"`
}

// Remaining is the headroom under the cap.
func (e *Edition) Remaining() *uint256.Int {
	if e.TotalMinted.Cmp(e.MaxSupply) >= 0 {
		return uint256.NewInt(0)
	}
	return new(uint256.Int).Sub(e.MaxSupply, e.TotalMinted)
}

// HolderAccount aggregates everything minted to one recipient.
type HolderAccount struct {
	Address                ethcommon.Address `json:"address"`
	TotalPrincipalRecorded *uint256.Int      `json:"totalPrincipalRecorded"`
	TotalRewardRecorded    *uint256.Int      `json:"totalRewardRecorded"`
	FirstEventTime         int64             `json:"firstEventTime"`
	Mints                  uint64            `json:"mints"`
}

// Stats are advisory ledger-wide counters.
type Stats struct {
	Applied      uint64       `json:"applied"`
	ChannelMints uint64       `json:"channelMints"`
	YieldMints   uint64       `json:"yieldMints"`
	TotalMinted  *uint256.Int `json:"totalMinted"`
}

type storedEdition struct {
	ID          uint64
	Name        string
	MaxSupply   string
	TotalMinted string
	CreatedAt   uint64
	Active      bool
}

type storedHolder struct {
	TotalPrincipal string
	TotalReward    string
	FirstEventTime uint64
	Mints          uint64
}

type storedStats struct {
	Applied      uint64
	ChannelMints uint64
	YieldMints   uint64
	TotalMinted  string
}

func parseAmount(raw string) (*uint256.Int, error) {
	if raw == "" {
		return uint256.NewInt(0), nil
	}
	v, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, fmt.Errorf("settlement: parse amount %q: %w", raw, err)
	}
	return v, nil
}

func (s storedEdition) toEdition() (*Edition, error) {
	maxSupply, err := parseAmount(s.MaxSupply)
	if err != nil {
		return nil, err
	}
	minted, err := parseAmount(s.TotalMinted)
	if err != nil {
		return nil, err
	}
	return &Edition{
		ID:          s.ID,
		Name:        s.Name,
		MaxSupply:   maxSupply,
		TotalMinted: minted,
		CreatedAt:   int64(s.CreatedAt),
		Active:      s.Active,
	}, nil
}

func newStoredEdition(e *Edition) storedEdition {
	return storedEdition{
		ID:          e.ID,
		Name:        e.Name,
		MaxSupply:   e.MaxSupply.Dec(),
		TotalMinted: e.TotalMinted.Dec(),
		CreatedAt:   uint64(e.CreatedAt),
		Active:      e.Active,
	}
}

func (s storedHolder) toAccount(addr ethcommon.Address) (*HolderAccount, error) {
	principal, err := parseAmount(s.TotalPrincipal)
	if err != nil {
		return nil, err
	}
	reward, err := parseAmount(s.TotalReward)
	if err != nil {
		return nil, err
	}
	return &HolderAccount{
		Address:                addr,
		TotalPrincipalRecorded: principal,
		TotalRewardRecorded:    reward,
		FirstEventTime:         int64(s.FirstEventTime),
		Mints:                  s.Mints,
	}, nil
}
