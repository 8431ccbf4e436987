// Package dispatch hands mint instructions to the one-way channel toward the
// settlement domain. Sending writes the envelope to a transactional outbox in
// the same commit as the claim; the relayer drains it later. Nothing here
// waits for or learns the outcome on the settlement side.
package dispatch

import (
	"encoding/binary"
	"fmt"
	"log/slog"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"claimbridge/core/bridge"
	"claimbridge/core/domain"
	coreerrors "claimbridge/core/errors"
	"claimbridge/core/events"
	"claimbridge/core/state"
)

var (
	outboxPrefix  = []byte("dispatch/outbox/")
	rejectPrefix  = []byte("dispatch/rejected/")
	rejectedKey   = []byte("dispatch/rejected_total")
	sequenceKey   = []byte("dispatch/sequence")
	feesTotalKey  = []byte("dispatch/fees/total")
	feesPayerKey  = "dispatch/fees/payer/"
	deliveredKey  = []byte("dispatch/delivered")
	dispatchedKey = []byte("dispatch/dispatched")
)

func outboxKey(seq uint64) []byte { return seqKey(outboxPrefix, seq) }

func rejectKey(seq uint64) []byte { return seqKey(rejectPrefix, seq) }

func seqKey(prefix []byte, seq uint64) []byte {
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], seq)
	return key
}

// Rejection is an envelope the channel refused for good, parked on the
// sending side so it no longer blocks the outbox.
type Rejection struct {
	Envelope bridge.Envelope `json:"envelope"`
	Reason   string          `json:"reason"`
	At       uint64          `json:"at"`
}

// FeePayment funds execution of the instruction on the settlement domain.
type FeePayment struct {
	Payer  ethcommon.Address `json:"payer"`
	Amount uint64            `json:"amount"`
}

// Dispatcher owns the verification-side outbox.
type Dispatcher struct {
	domain *domain.Domain
	minFee uint64
	logger *slog.Logger
}

func New(d *domain.Domain, minFee uint64) *Dispatcher {
	return &Dispatcher{domain: d, minFee: minFee, logger: d.Logger().With(slog.String("component", "dispatch"))}
}

func (d *Dispatcher) MinFee() uint64 { return d.minFee }

// Check performs every send-time validation without touching state. Callers
// run it before any irrevocable write so a rejected send leaves nothing
// behind.
func (d *Dispatcher) Check(m bridge.MintInstruction, fee FeePayment) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if fee.Payer == (ethcommon.Address{}) {
		return fmt.Errorf("%w: fee payer required", coreerrors.ErrChannelRejected)
	}
	if fee.Amount < d.minFee {
		return fmt.Errorf("%w: fee %d below minimum %d", coreerrors.ErrChannelRejected, fee.Amount, d.minFee)
	}
	return nil
}

// Send debits the fee and enqueues the instruction inside tx. The returned
// ticket is for off-chain correlation only.
func (d *Dispatcher) Send(tx *domain.Tx, m bridge.MintInstruction, fee FeePayment) (bridge.CorrelationTicket, error) {
	if err := d.Check(m, fee); err != nil {
		return bridge.CorrelationTicket{}, err
	}
	ticket, err := m.Ticket()
	if err != nil {
		return bridge.CorrelationTicket{}, err
	}

	seq, err := bump(tx, sequenceKey, 1)
	if err != nil {
		return bridge.CorrelationTicket{}, err
	}
	env := bridge.Envelope{
		Sequence:    seq,
		Ticket:      ticket.String(),
		Instruction: m,
		FeePaid:     fee.Amount,
		SentAt:      uint64(tx.Now().Unix()),
	}
	if err := tx.KVPut(outboxKey(seq), &env); err != nil {
		return bridge.CorrelationTicket{}, err
	}
	if _, err := bump(tx, feesTotalKey, fee.Amount); err != nil {
		return bridge.CorrelationTicket{}, err
	}
	if _, err := bump(tx, append([]byte(feesPayerKey), fee.Payer.Bytes()...), fee.Amount); err != nil {
		return bridge.CorrelationTicket{}, err
	}
	if _, err := bump(tx, dispatchedKey, 1); err != nil {
		return bridge.CorrelationTicket{}, err
	}

	tx.Emit(events.MintDispatched{
		FeePaid:    fee.Amount,
		Ticket:     env.Ticket,
		Commitment: m.Commitment,
		Sequence:   seq,
	})
	return ticket, nil
}

// Pending returns up to limit queued envelopes in sequence order.
func (d *Dispatcher) Pending(limit int) ([]bridge.Envelope, error) {
	var out []bridge.Envelope
	err := d.domain.View(func(r state.Reader) error {
		return r.KVIterate(outboxPrefix, func(_, value []byte) (bool, error) {
			var env bridge.Envelope
			if err := rlp.DecodeBytes(value, &env); err != nil {
				return false, err
			}
			out = append(out, env)
			return limit <= 0 || len(out) < limit, nil
		})
	})
	return out, err
}

// Ack drops a relayed envelope from the outbox. Acking an unknown sequence is
// a no-op so redelivered acks are harmless.
func (d *Dispatcher) Ack(seq uint64) error {
	return d.domain.Mutate(func(tx *domain.Tx) error {
		ok, err := tx.KVHas(outboxKey(seq))
		if err != nil || !ok {
			return err
		}
		if err := tx.KVDelete(outboxKey(seq)); err != nil {
			return err
		}
		_, err = bump(tx, deliveredKey, 1)
		return err
	})
}

// Reject moves a queued envelope into the rejected area. The fee stays
// collected and the nullifier stays spent; an operator resolves the entry
// out of band. Rejecting an unknown sequence is a no-op.
func (d *Dispatcher) Reject(seq uint64, reason string) error {
	return d.domain.Mutate(func(tx *domain.Tx) error {
		var env bridge.Envelope
		ok, err := tx.KVGet(outboxKey(seq), &env)
		if err != nil || !ok {
			return err
		}
		if err := tx.KVDelete(outboxKey(seq)); err != nil {
			return err
		}
		if err := tx.KVPut(rejectKey(seq), &Rejection{Envelope: env, Reason: reason, At: uint64(tx.Now().Unix())}); err != nil {
			return err
		}
		if _, err := bump(tx, rejectedKey, 1); err != nil {
			return err
		}
		tx.Emit(events.MintRejected{
			Ticket:     env.Ticket,
			Commitment: env.Instruction.Commitment,
			Sequence:   seq,
			Reason:     reason,
		})
		return nil
	})
}

// Rejected lists parked envelopes in sequence order.
func (d *Dispatcher) Rejected(limit int) ([]Rejection, error) {
	var out []Rejection
	err := d.domain.View(func(r state.Reader) error {
		return r.KVIterate(rejectPrefix, func(_, value []byte) (bool, error) {
			var rej Rejection
			if err := rlp.DecodeBytes(value, &rej); err != nil {
				return false, err
			}
			out = append(out, rej)
			return limit <= 0 || len(out) < limit, nil
		})
	})
	return out, err
}

// Stats summarises outbox activity.
type Stats struct {
	Dispatched    uint64 `json:"dispatched"`
	Relayed       uint64 `json:"relayed"`
	Rejected      uint64 `json:"rejected"`
	FeesCollected uint64 `json:"feesCollected"`
}

func (s Stats) Depth() uint64 {
	done := s.Relayed + s.Rejected
	if done > s.Dispatched {
		return 0
	}
	return s.Dispatched - done
}

func (d *Dispatcher) Stats() (Stats, error) {
	var s Stats
	err := d.domain.View(func(r state.Reader) error {
		if _, err := r.KVGet(dispatchedKey, &s.Dispatched); err != nil {
			return err
		}
		if _, err := r.KVGet(deliveredKey, &s.Relayed); err != nil {
			return err
		}
		if _, err := r.KVGet(rejectedKey, &s.Rejected); err != nil {
			return err
		}
		_, err := r.KVGet(feesTotalKey, &s.FeesCollected)
		return err
	})
	return s, err
}

// FeesPaidBy reports the cumulative fee a payer has funded.
func (d *Dispatcher) FeesPaidBy(payer ethcommon.Address) (uint64, error) {
	var total uint64
	err := d.domain.View(func(r state.Reader) error {
		_, err := r.KVGet(append([]byte(feesPayerKey), payer.Bytes()...), &total)
		return err
	})
	return total, err
}

func bump(w state.Writer, key []byte, delta uint64) (uint64, error) {
	var current uint64
	if _, err := w.KVGet(key, &current); err != nil {
		return 0, err
	}
	if current > ^uint64(0)-delta {
		return 0, fmt.Errorf("dispatch: counter %s overflow", key)
	}
	current += delta
	if err := w.KVPut(key, current); err != nil {
		return 0, err
	}
	return current, nil
}
