package relay

import (
	"context"
	"errors"
	"log/slog"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"claimbridge/core/bridge"
	cerrors "claimbridge/core/errors"
	"claimbridge/core/events"
	"claimbridge/observability/metrics"
)

// MintApplier is the settlement ledger entry point.
type MintApplier interface {
	ApplyMint(m bridge.MintInstruction, caller ethcommon.Address) error
}

// Applier executes inbox envelopes against the settlement ledger as the
// channel endpoint.
type Applier struct {
	inbox     Inbox
	ledger    MintApplier
	endpoint  ethcommon.Address
	emitter   events.Emitter
	interval  time.Duration
	batch     int
	nowFn     func() time.Time
	logger    *slog.Logger
	telemetry *metrics.RelayMetrics
}

type ApplierOption func(*Applier)

func WithApplierEmitter(e events.Emitter) ApplierOption {
	return func(a *Applier) {
		if e != nil {
			a.emitter = e
		}
	}
}

func WithApplierInterval(d time.Duration) ApplierOption {
	return func(a *Applier) {
		if d > 0 {
			a.interval = d
		}
	}
}

func WithApplierLogger(l *slog.Logger) ApplierOption {
	return func(a *Applier) {
		if l != nil {
			a.logger = l
		}
	}
}

func NewApplier(inbox Inbox, ledger MintApplier, endpoint ethcommon.Address, opts ...ApplierOption) *Applier {
	a := &Applier{
		inbox:     inbox,
		ledger:    ledger,
		endpoint:  endpoint,
		emitter:   events.NoopEmitter{},
		interval:  time.Second,
		batch:     64,
		nowFn:     time.Now,
		logger:    slog.Default(),
		telemetry: metrics.Relay(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With(slog.String("component", "applier"))
	return a
}

// Drain applies queued envelopes in arrival order.
//
// Outcomes per envelope:
//   - applied, or refused as an already-applied commitment: removed;
//   - refused with any other domain error: dead-lettered;
//   - settlement paused: left queued and the pass stops;
//   - storage failure: left queued and the error returned.
func (a *Applier) Drain(ctx context.Context) (int, error) {
	pending, err := a.inbox.Pending(a.batch)
	if err != nil {
		return 0, err
	}
	applied := 0
	for _, env := range pending {
		if err := ctx.Err(); err != nil {
			return applied, err
		}
		err := a.ledger.ApplyMint(env.Instruction, a.endpoint)
		code := cerrors.Code(err)
		a.telemetry.ObserveApplied(code)
		switch {
		case err == nil:
			applied++
			if err := a.inbox.Remove(env.Ticket); err != nil {
				return applied, err
			}
		case errors.Is(err, cerrors.ErrPaused):
			a.logger.Info("settlement paused, holding inbox", slog.Int("queued", len(pending)-applied))
			a.reportDepth()
			return applied, nil
		case errors.Is(err, cerrors.ErrAlreadyUsed):
			a.logger.Info("duplicate commitment dropped",
				slog.String("ticket", env.Ticket),
				slog.String("commitment", env.Instruction.Commitment.Hex()))
			if err := a.inbox.Remove(env.Ticket); err != nil {
				return applied, err
			}
		case code != "internal":
			a.logger.Warn("instruction dead-lettered",
				slog.String("ticket", env.Ticket),
				slog.String("reason", code),
				slog.Any("error", err))
			if err := a.inbox.DeadLetter(env, err.Error(), uint64(a.nowFn().Unix())); err != nil {
				return applied, err
			}
			a.emitter.Emit(events.RelayDeadLettered{
				Ticket:     env.Ticket,
				Commitment: env.Instruction.Commitment,
				Reason:     code,
			})
		default:
			a.reportDepth()
			return applied, err
		}
	}
	a.reportDepth()
	return applied, nil
}

func (a *Applier) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		if _, err := a.Drain(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("apply pass failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (a *Applier) reportDepth() {
	pending, dead, err := a.inbox.Depth()
	if err != nil {
		return
	}
	a.telemetry.SetInboxDepth("pending", pending)
	a.telemetry.SetInboxDepth("deadletter", dead)
}
