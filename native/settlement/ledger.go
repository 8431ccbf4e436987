// Package settlement applies mint instructions on the settlement domain. It
// re-validates every invariant at application time: instructions arrive in no
// particular order and possibly more than once.
package settlement

import (
	"fmt"
	"log/slog"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"claimbridge/core/bridge"
	"claimbridge/core/domain"
	coreerrors "claimbridge/core/errors"
	"claimbridge/core/events"
	"claimbridge/core/state"
	"claimbridge/native/common"
	"claimbridge/native/replay"
	"claimbridge/observability/metrics"
)

// Ledger owns editions, holder accounts and the commitment set.
type Ledger struct {
	domain      *domain.Domain
	domainName  string
	commitments *replay.Set
	logger      *slog.Logger
	telemetry   *metrics.SettlementMetrics
}

// NewLedger binds the ledger to its domain. domainName is what v2
// instructions must carry as their target.
func NewLedger(d *domain.Domain, domainName string) *Ledger {
	if strings.TrimSpace(domainName) == "" {
		domainName = d.Name()
	}
	return &Ledger{
		domain:      d,
		domainName:  domainName,
		commitments: replay.NewSet(commitmentPrefix, "commitment"),
		logger:      d.Logger().With(slog.String("component", "settlement")),
		telemetry:   metrics.Settlement(),
	}
}

func loadEdition(r state.Reader, id uint64) (*Edition, bool, error) {
	var stored storedEdition
	ok, err := r.KVGet(editionKey(id), &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	e, err := stored.toEdition()
	if err != nil {
		return nil, false, err
	}
	return e, true, nil
}

func (l *Ledger) checkInstruction(m bridge.MintInstruction) error {
	switch m.FormatVersion {
	case bridge.FormatV1:
	case bridge.FormatV2:
		if m.TargetDomain != l.domainName {
			return fmt.Errorf("%w: instruction targets %q, this is %q", coreerrors.ErrInvalidInput, m.TargetDomain, l.domainName)
		}
	default:
		return fmt.Errorf("%w: unsupported format version %d", coreerrors.ErrInvalidInput, m.FormatVersion)
	}
	switch {
	case m.Commitment == (ethcommon.Hash{}):
		return fmt.Errorf("%w: commitment required", coreerrors.ErrInvalidInput)
	case m.Recipient == (ethcommon.Address{}):
		return fmt.Errorf("%w: recipient required", coreerrors.ErrInvalidInput)
	case m.RewardAmount == 0:
		return fmt.Errorf("%w: reward must be positive", coreerrors.ErrInvalidAmount)
	}
	return nil
}

// callerClass authorises caller and names the path it came through.
func callerClass(r state.Reader, caller ethcommon.Address) (string, error) {
	if ok, err := common.HasRole(r, common.RoleChannelEndpoint, caller); err != nil || ok {
		return string(common.RoleChannelEndpoint), err
	}
	if ok, err := common.HasRole(r, common.RoleYieldMinter, caller); err != nil || ok {
		return string(common.RoleYieldMinter), err
	}
	return "", fmt.Errorf("%w: %s may not mint", coreerrors.ErrUnauthorized, caller.Hex())
}

// ApplyMint records one mint. A commitment already applied is reported as
// ErrAlreadyUsed before edition checks run; a fresh commitment is consumed
// last, after every other check has passed, and all effects commit together.
func (l *Ledger) ApplyMint(m bridge.MintInstruction, caller ethcommon.Address) error {
	var (
		class   string
		edition *Edition
	)
	err := l.domain.Mutate(func(tx *domain.Tx) error {
		if err := tx.Guard(); err != nil {
			return err
		}
		var err error
		class, err = callerClass(tx, caller)
		if err != nil {
			return err
		}
		if err := l.checkInstruction(m); err != nil {
			return err
		}
		// A resend of an applied mint must read as a duplicate even when the
		// edition has since filled up or closed.
		applied, err := l.commitments.Contains(tx, m.Commitment)
		if err != nil {
			return err
		}
		if applied {
			return fmt.Errorf("commitment %s: %w", m.Commitment.Hex(), coreerrors.ErrAlreadyUsed)
		}

		var ok bool
		edition, ok, err = loadEdition(tx, m.EditionID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: unknown edition %d", coreerrors.ErrInvalidInput, m.EditionID)
		}
		if !edition.Active {
			return fmt.Errorf("%w: edition %d inactive", coreerrors.ErrCapacityExceeded, m.EditionID)
		}
		reward := uint256.NewInt(m.RewardAmount)
		next, overflow := new(uint256.Int).AddOverflow(edition.TotalMinted, reward)
		if overflow || next.Cmp(edition.MaxSupply) > 0 {
			return fmt.Errorf("%w: edition %d has %s remaining, need %d", coreerrors.ErrCapacityExceeded, m.EditionID, edition.Remaining().Dec(), m.RewardAmount)
		}

		if err := l.commitments.Mark(tx, m.Commitment, uint64(tx.Now().Unix())); err != nil {
			return err
		}

		edition.TotalMinted = next
		if err := tx.KVPut(editionKey(edition.ID), newStoredEdition(edition)); err != nil {
			return err
		}
		if err := creditHolder(tx, m, tx.Now().Unix()); err != nil {
			return err
		}
		if err := recordApply(tx, class, reward); err != nil {
			return err
		}
		tx.Emit(events.MintApplied{
			Commitment:   m.Commitment,
			Recipient:    m.Recipient,
			EditionID:    m.EditionID,
			RewardAmount: m.RewardAmount,
			Caller:       caller,
			TotalMinted:  new(uint256.Int).Set(next),
		})
		return nil
	})

	l.telemetry.ObserveApply(class, coreerrors.Code(err))
	if err != nil {
		l.logger.Warn("mint rejected",
			slog.String("commitment", m.Commitment.Hex()),
			slog.Uint64("edition", m.EditionID),
			slog.String("reason", coreerrors.Code(err)),
			slog.Any("error", err))
		return err
	}
	l.telemetry.SetEdition(edition.ID, edition.TotalMinted.Float64(), edition.MaxSupply.Float64())
	l.logger.Info("mint applied",
		slog.String("commitment", m.Commitment.Hex()),
		slog.String("recipient", m.Recipient.Hex()),
		slog.Uint64("edition", m.EditionID),
		slog.Uint64("reward", m.RewardAmount),
		slog.String("caller", class))
	return nil
}

func creditHolder(tx *domain.Tx, m bridge.MintInstruction, now int64) error {
	var stored storedHolder
	if _, err := tx.KVGet(holderKey(m.Recipient), &stored); err != nil {
		return err
	}
	account, err := stored.toAccount(m.Recipient)
	if err != nil {
		return err
	}
	account.TotalPrincipalRecorded.Add(account.TotalPrincipalRecorded, uint256.NewInt(m.PrincipalAmount))
	account.TotalRewardRecorded.Add(account.TotalRewardRecorded, uint256.NewInt(m.RewardAmount))
	if stored.FirstEventTime == 0 {
		first := m.EventTime
		if first == 0 && now > 0 {
			first = uint64(now)
		}
		stored.FirstEventTime = first
	}
	stored.TotalPrincipal = account.TotalPrincipalRecorded.Dec()
	stored.TotalReward = account.TotalRewardRecorded.Dec()
	stored.Mints++
	return tx.KVPut(holderKey(m.Recipient), &stored)
}

func recordApply(tx *domain.Tx, class string, reward *uint256.Int) error {
	var stored storedStats
	if _, err := tx.KVGet(statsKey, &stored); err != nil {
		return err
	}
	total, err := parseAmount(stored.TotalMinted)
	if err != nil {
		return err
	}
	total.Add(total, reward)
	stored.TotalMinted = total.Dec()
	stored.Applied++
	if class == string(common.RoleYieldMinter) {
		stored.YieldMints++
	} else {
		stored.ChannelMints++
	}
	return tx.KVPut(statsKey, &stored)
}

// CreateEdition opens a new capped cohort.
func (l *Ledger) CreateEdition(caller ethcommon.Address, id uint64, name string, maxSupply *uint256.Int, active bool) error {
	return l.domain.Mutate(func(tx *domain.Tx) error {
		if err := tx.Guard(); err != nil {
			return err
		}
		if err := common.RequireRole(tx, caller, common.RoleGovernance); err != nil {
			return err
		}
		return createEdition(tx, id, name, maxSupply, active)
	})
}

func createEdition(tx *domain.Tx, id uint64, name string, maxSupply *uint256.Int, active bool) error {
	name = strings.TrimSpace(name)
	switch {
	case id == 0:
		return fmt.Errorf("%w: edition id must be positive", coreerrors.ErrInvalidInput)
	case name == "":
		return fmt.Errorf("%w: edition name required", coreerrors.ErrInvalidInput)
	case maxSupply == nil || maxSupply.IsZero():
		return fmt.Errorf("%w: max supply must be positive", coreerrors.ErrInvalidAmount)
	}
	exists, err := tx.KVHas(editionKey(id))
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: edition %d already exists", coreerrors.ErrInvalidInput, id)
	}
	edition := &Edition{
		ID:          id,
		Name:        name,
		MaxSupply:   new(uint256.Int).Set(maxSupply),
		TotalMinted: uint256.NewInt(0),
		CreatedAt:   tx.Now().Unix(),
		Active:      active,
	}
	if err := tx.KVPut(editionKey(id), newStoredEdition(edition)); err != nil {
		return err
	}
	tx.Emit(events.EditionCreated{EditionID: id, Name: name, MaxSupply: edition.MaxSupply})
	if active {
		tx.Emit(events.EditionStatusChanged{EditionID: id, Active: true})
	}
	return nil
}

// SetEditionActive opens or closes an edition for minting.
func (l *Ledger) SetEditionActive(caller ethcommon.Address, id uint64, active bool) error {
	return l.domain.Mutate(func(tx *domain.Tx) error {
		if err := tx.Guard(); err != nil {
			return err
		}
		if err := common.RequireRole(tx, caller, common.RoleGovernance); err != nil {
			return err
		}
		edition, ok, err := loadEdition(tx, id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: unknown edition %d", coreerrors.ErrInvalidInput, id)
		}
		if edition.Active == active {
			return nil
		}
		edition.Active = active
		if err := tx.KVPut(editionKey(id), newStoredEdition(edition)); err != nil {
			return err
		}
		tx.Emit(events.EditionStatusChanged{EditionID: id, Active: active})
		return nil
	})
}

// EditionSpec describes an edition created at bootstrap.
type EditionSpec struct {
	ID        uint64
	Name      string
	MaxSupply *uint256.Int
	Active    bool
}

// Bootstrap creates missing editions without a role check. Existing editions
// are left untouched.
func (l *Ledger) Bootstrap(editions []EditionSpec) error {
	return l.domain.Mutate(func(tx *domain.Tx) error {
		for _, spec := range editions {
			exists, err := tx.KVHas(editionKey(spec.ID))
			if err != nil {
				return err
			}
			if exists {
				continue
			}
			if err := createEdition(tx, spec.ID, spec.Name, spec.MaxSupply, spec.Active); err != nil {
				return err
			}
		}
		return nil
	})
}

func (l *Ledger) IsCommitmentApplied(c ethcommon.Hash) (bool, error) {
	var applied bool
	err := l.domain.View(func(r state.Reader) error {
		var err error
		applied, err = l.commitments.Contains(r, c)
		return err
	})
	return applied, err
}

// CommitmentAppliedAt returns the unix time c was applied, if it was.
func (l *Ledger) CommitmentAppliedAt(c ethcommon.Hash) (at uint64, applied bool, err error) {
	err = l.domain.View(func(r state.Reader) error {
		at, applied, err = l.commitments.MarkedAt(r, c)
		return err
	})
	return at, applied, err
}

// EditionStatus returns the edition or ErrInvalidInput when unknown.
func (l *Ledger) EditionStatus(id uint64) (*Edition, error) {
	var edition *Edition
	err := l.domain.View(func(r state.Reader) error {
		e, ok, err := loadEdition(r, id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: unknown edition %d", coreerrors.ErrInvalidInput, id)
		}
		edition = e
		return nil
	})
	return edition, err
}

// Editions lists every edition in id order.
func (l *Ledger) Editions() ([]*Edition, error) {
	var out []*Edition
	err := l.domain.View(func(r state.Reader) error {
		return r.KVIterate(editionPrefix, func(_, value []byte) (bool, error) {
			var stored storedEdition
			if err := rlp.DecodeBytes(value, &stored); err != nil {
				return false, err
			}
			e, err := stored.toEdition()
			if err != nil {
				return false, err
			}
			out = append(out, e)
			return true, nil
		})
	})
	return out, err
}

// Holder returns the aggregate for addr. Unknown holders read as zero.
func (l *Ledger) Holder(addr ethcommon.Address) (*HolderAccount, error) {
	var account *HolderAccount
	err := l.domain.View(func(r state.Reader) error {
		var stored storedHolder
		if _, err := r.KVGet(holderKey(addr), &stored); err != nil {
			return err
		}
		var err error
		account, err = stored.toAccount(addr)
		return err
	})
	return account, err
}

func (l *Ledger) Stats() (Stats, error) {
	var out Stats
	err := l.domain.View(func(r state.Reader) error {
		var stored storedStats
		if _, err := r.KVGet(statsKey, &stored); err != nil {
			return err
		}
		total, err := parseAmount(stored.TotalMinted)
		if err != nil {
			return err
		}
		out = Stats{
			Applied:      stored.Applied,
			ChannelMints: stored.ChannelMints,
			YieldMints:   stored.YieldMints,
			TotalMinted:  total,
		}
		return nil
	})
	return out, err
}
