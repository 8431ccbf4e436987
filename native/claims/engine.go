package claims

import (
	"fmt"
	"log/slog"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"claimbridge/core/attest"
	"claimbridge/core/bridge"
	"claimbridge/core/domain"
	coreerrors "claimbridge/core/errors"
	"claimbridge/core/events"
	"claimbridge/core/state"
	"claimbridge/native/common"
	"claimbridge/native/dispatch"
	"claimbridge/native/replay"
	"claimbridge/observability/metrics"
)

// Config pins the parameters every claim is checked against.
type Config struct {
	// OriginDomainID is the network the attested events must come from.
	OriginDomainID uint64
	// TargetDomain is stamped into v2 instructions and checked on settlement.
	TargetDomain string
	// FormatVersion selects the instruction layout. Zero means current.
	FormatVersion uint32
}

// Verifier authorises claims on the verification domain and dispatches the
// resulting mint instructions.
type Verifier struct {
	domain     *domain.Domain
	dispatcher *dispatch.Dispatcher
	cutover    Cutover
	cfg        Config
	nullifiers *replay.Set
	logger     *slog.Logger
	telemetry  *metrics.ClaimsMetrics
}

func NewVerifier(d *domain.Domain, dispatcher *dispatch.Dispatcher, cutover Cutover, cfg Config) *Verifier {
	if cfg.FormatVersion == 0 {
		cfg.FormatVersion = bridge.CurrentFormat
	}
	return &Verifier{
		domain:     d,
		dispatcher: dispatcher,
		cutover:    cutover,
		cfg:        cfg,
		nullifiers: replay.NewSet(nullifierPrefix, "nullifier"),
		logger:     d.Logger().With(slog.String("component", "claims")),
		telemetry:  metrics.Claims(),
	}
}

func (v *Verifier) Cutover() Cutover { return v.cutover }

type storedTier struct {
	Index     uint8
	Principal uint64
	Term      uint8
	Amount    uint64
}

func loadSchedule(r state.Reader) (Schedule, error) {
	schedule := DefaultSchedule()
	var appended []storedTier
	if err := r.KVGetList(appendedTiersKey, &appended); err != nil {
		return Schedule{}, err
	}
	for _, t := range appended {
		if _, err := schedule.Append(t.Index, t.Principal, TermClass(t.Term), t.Amount); err != nil {
			return Schedule{}, fmt.Errorf("claims: stored tier %d: %w", t.Index, err)
		}
	}
	return schedule, nil
}

func (v *Verifier) validateAttestation(att attest.Attestation) error {
	switch {
	case att.Recipient == (ethcommon.Address{}):
		return fmt.Errorf("%w: recipient required", coreerrors.ErrInvalidInput)
	case att.Nullifier == (ethcommon.Hash{}):
		return fmt.Errorf("%w: nullifier required", coreerrors.ErrInvalidInput)
	case att.Commitment == (ethcommon.Hash{}):
		return fmt.Errorf("%w: commitment required", coreerrors.ErrInvalidInput)
	case att.EventTime <= 0:
		return fmt.Errorf("%w: event time required", coreerrors.ErrInvalidInput)
	case v.cfg.OriginDomainID != 0 && att.OriginDomainID != v.cfg.OriginDomainID:
		return fmt.Errorf("%w: origin domain %d, expected %d", coreerrors.ErrInvalidInput, att.OriginDomainID, v.cfg.OriginDomainID)
	}
	return nil
}

func (v *Verifier) buildInstruction(att attest.Attestation, tier Tier, reward, edition uint64) bridge.MintInstruction {
	m := bridge.MintInstruction{
		FormatVersion:   v.cfg.FormatVersion,
		Commitment:      att.Commitment,
		Recipient:       att.Recipient,
		EditionID:       edition,
		Tier:            tier.Index,
		RewardAmount:    reward,
		PrincipalAmount: tier.Principal,
	}
	if m.FormatVersion >= bridge.FormatV2 {
		m.TargetDomain = v.cfg.TargetDomain
		m.EventTime = uint64(att.EventTime)
	}
	return m
}

// Claim verifies an attested event and dispatches the reward. Every check
// that can fail runs before the nullifier is consumed, and the whole claim
// commits as one transaction, so a failed claim leaves no trace and may be
// retried.
func (v *Verifier) Claim(caller ethcommon.Address, att attest.Attestation, externalProofOK bool, fee dispatch.FeePayment) (bridge.CorrelationTicket, error) {
	var (
		ticket   bridge.CorrelationTicket
		tier     Tier
		reward   uint64
		isLegacy bool
	)
	if fee.Payer == (ethcommon.Address{}) {
		fee.Payer = caller
	}
	err := v.domain.Mutate(func(tx *domain.Tx) error {
		if err := tx.Guard(); err != nil {
			return err
		}
		if err := common.RequireRole(tx, caller, common.RoleAttestor); err != nil {
			return err
		}
		if !externalProofOK {
			return coreerrors.ErrInvalidProof
		}
		if err := v.validateAttestation(att); err != nil {
			return err
		}
		schedule, err := loadSchedule(tx)
		if err != nil {
			return err
		}
		tier, err = schedule.Tier(att.Tier)
		if err != nil {
			return err
		}
		var edition uint64
		if _, err := tx.KVGet(activeEditionKey, &edition); err != nil {
			return err
		}
		if edition == 0 {
			return fmt.Errorf("%w: no active edition", coreerrors.ErrInvalidInput)
		}

		isLegacy = v.cutover.IsLegacy(att.EventTime, att.Tier)
		reward, err = schedule.LookupReward(att.Tier, isLegacy)
		if err != nil {
			return err
		}
		instruction := v.buildInstruction(att, tier, reward, edition)
		if fee.Payer != caller {
			return fmt.Errorf("%w: fee must be paid by the submitting attestor", coreerrors.ErrChannelRejected)
		}
		if err := v.dispatcher.Check(instruction, fee); err != nil {
			return err
		}

		if err := v.nullifiers.Mark(tx, att.Nullifier, uint64(tx.Now().Unix())); err != nil {
			return err
		}

		ticket, err = v.dispatcher.Send(tx, instruction, fee)
		if err != nil {
			return err
		}
		if err := recordClaim(tx, tier, reward, isLegacy); err != nil {
			return err
		}
		tx.Emit(events.ClaimAccepted{
			Commitment:   att.Commitment,
			Recipient:    att.Recipient,
			RewardAmount: reward,
			Tier:         att.Tier,
			Nullifier:    att.Nullifier,
			Legacy:       isLegacy,
		})
		return nil
	})

	v.telemetry.ObserveOutcome(coreerrors.Code(err))
	if err != nil {
		v.logger.Warn("claim rejected",
			slog.String("nullifier", att.Nullifier.Hex()),
			slog.Int("tier", int(att.Tier)),
			slog.String("reason", coreerrors.Code(err)),
			slog.Any("error", err))
		return bridge.CorrelationTicket{}, err
	}
	v.telemetry.ObserveAccepted(tier.Index, isLegacy, reward, tier.Principal, fee.Amount)
	v.logger.Info("claim accepted",
		slog.String("ticket", ticket.String()),
		slog.String("recipient", att.Recipient.Hex()),
		slog.Int("tier", int(tier.Index)),
		slog.Bool("legacy", isLegacy),
		slog.Uint64("reward", reward))
	return ticket, nil
}

// AddTier appends a tier. index must be exactly one past the current max.
func (v *Verifier) AddTier(caller ethcommon.Address, index uint8, principal uint64, term TermClass, amount uint64) error {
	err := v.domain.Mutate(func(tx *domain.Tx) error {
		if err := tx.Guard(); err != nil {
			return err
		}
		if err := common.RequireRole(tx, caller, common.RoleGovernance); err != nil {
			return err
		}
		return appendTier(tx, index, principal, term, amount)
	})
	if err == nil {
		v.telemetry.ObserveTierAdded()
		v.logger.Info("tier added", slog.Int("index", int(index)), slog.Uint64("amount", amount))
	}
	return err
}

// AddTierAtRate quotes the reward from the governance rate and appends it.
// The quoted amount is frozen into the schedule.
func (v *Verifier) AddTierAtRate(caller ethcommon.Address, index uint8, principal uint64, term TermClass, rate GovernanceRate) (uint64, error) {
	amount, err := QuoteFromGovernance(rate, principal, term)
	if err != nil {
		return 0, err
	}
	if err := v.AddTier(caller, index, principal, term, amount); err != nil {
		return 0, err
	}
	return amount, nil
}

func appendTier(tx *domain.Tx, index uint8, principal uint64, term TermClass, amount uint64) error {
	schedule, err := loadSchedule(tx)
	if err != nil {
		return err
	}
	if _, err := schedule.Append(index, principal, term, amount); err != nil {
		return err
	}
	var appended []storedTier
	if err := tx.KVGetList(appendedTiersKey, &appended); err != nil {
		return err
	}
	appended = append(appended, storedTier{Index: index, Principal: principal, Term: uint8(term), Amount: amount})
	if err := tx.KVPut(appendedTiersKey, appended); err != nil {
		return err
	}
	tx.Emit(events.TierAdded{Index: index, Amount: amount})
	return nil
}

// SetActiveEdition changes the edition stamped on subsequent claims.
// Instructions already dispatched keep the edition captured at claim time.
func (v *Verifier) SetActiveEdition(caller ethcommon.Address, editionID uint64) error {
	return v.domain.Mutate(func(tx *domain.Tx) error {
		if err := tx.Guard(); err != nil {
			return err
		}
		if err := common.RequireRole(tx, caller, common.RoleGovernance); err != nil {
			return err
		}
		return setActiveEdition(tx, editionID)
	})
}

func setActiveEdition(tx *domain.Tx, editionID uint64) error {
	if editionID == 0 {
		return fmt.Errorf("%w: edition id must be positive", coreerrors.ErrInvalidInput)
	}
	if err := tx.KVPut(activeEditionKey, editionID); err != nil {
		return err
	}
	tx.Emit(events.ActiveEditionSet{EditionID: editionID})
	return nil
}

// TierSpec describes a tier supplied at bootstrap.
type TierSpec struct {
	Index     uint8
	Principal uint64
	Term      TermClass
	Amount    uint64
}

// Bootstrap applies genesis configuration without role checks. Tiers already
// present are compared rather than re-appended, so it is safe on restart.
func (v *Verifier) Bootstrap(tiers []TierSpec, activeEdition uint64) error {
	return v.domain.Mutate(func(tx *domain.Tx) error {
		for _, spec := range tiers {
			schedule, err := loadSchedule(tx)
			if err != nil {
				return err
			}
			if existing, err := schedule.Tier(spec.Index); err == nil {
				if existing.Principal != spec.Principal || existing.Term != spec.Term || existing.StandardReward != spec.Amount {
					return fmt.Errorf("%w: tier %d already defined differently", coreerrors.ErrSequenceViolation, spec.Index)
				}
				continue
			}
			if err := appendTier(tx, spec.Index, spec.Principal, spec.Term, spec.Amount); err != nil {
				return err
			}
		}
		if activeEdition == 0 {
			return nil
		}
		var current uint64
		if _, err := tx.KVGet(activeEditionKey, &current); err != nil {
			return err
		}
		if current != 0 {
			return nil
		}
		return setActiveEdition(tx, activeEdition)
	})
}

func (v *Verifier) IsNullifierUsed(n ethcommon.Hash) (bool, error) {
	var used bool
	err := v.domain.View(func(r state.Reader) error {
		var err error
		used, err = v.nullifiers.Contains(r, n)
		return err
	})
	return used, err
}

// NullifierSpentAt returns the unix time n was spent, if it was.
func (v *Verifier) NullifierSpentAt(n ethcommon.Hash) (at uint64, used bool, err error) {
	err = v.domain.View(func(r state.Reader) error {
		at, used, err = v.nullifiers.MarkedAt(r, n)
		return err
	})
	return at, used, err
}

func (v *Verifier) Schedule() (Schedule, error) {
	var s Schedule
	err := v.domain.View(func(r state.Reader) error {
		var err error
		s, err = loadSchedule(r)
		return err
	})
	return s, err
}

func (v *Verifier) LookupReward(tier uint8, legacy bool) (uint64, error) {
	s, err := v.Schedule()
	if err != nil {
		return 0, err
	}
	return s.LookupReward(tier, legacy)
}

func (v *Verifier) TierInfo(tier uint8, legacy bool) (TierInfo, error) {
	s, err := v.Schedule()
	if err != nil {
		return TierInfo{}, err
	}
	return s.Info(tier, legacy)
}

func (v *Verifier) MaxTierIndex() (uint8, error) {
	s, err := v.Schedule()
	if err != nil {
		return 0, err
	}
	return s.MaxIndex(), nil
}

func (v *Verifier) ActiveEdition() (uint64, error) {
	var edition uint64
	err := v.domain.View(func(r state.Reader) error {
		_, err := r.KVGet(activeEditionKey, &edition)
		return err
	})
	return edition, err
}

func (v *Verifier) Stats() (Stats, error) {
	var out Stats
	err := v.domain.View(func(r state.Reader) error {
		schedule, err := loadSchedule(r)
		if err != nil {
			return err
		}
		out, err = loadStats(r, &schedule)
		return err
	})
	return out, err
}
