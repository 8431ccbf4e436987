package relay

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"claimbridge/core/bridge"
	cerrors "claimbridge/core/errors"
	"claimbridge/observability/metrics"
)

// Outbox is the verification-side queue the relayer drains.
type Outbox interface {
	Pending(limit int) ([]bridge.Envelope, error)
	Ack(seq uint64) error
	// Reject parks an envelope the channel will never accept.
	Reject(seq uint64, reason string) error
}

type RelayerConfig struct {
	PollInterval time.Duration
	BatchSize    int
	// RatePerSecond caps delivery attempts. Zero disables pacing.
	RatePerSecond float64
	Burst         int
	Timeout       time.Duration
}

func (c RelayerConfig) withDefaults() RelayerConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 64
	}
	if c.Burst <= 0 {
		c.Burst = c.BatchSize
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	return c
}

// Relayer moves envelopes from the outbox over a Transport. Delivery is at
// least once: an envelope is acked only after the transport accepted it, and
// anything that fails stays queued for the next pass.
type Relayer struct {
	outbox    Outbox
	transport Transport
	cfg       RelayerConfig
	limiter   *rate.Limiter
	logger    *slog.Logger
	telemetry *metrics.RelayMetrics
}

func NewRelayer(outbox Outbox, transport Transport, cfg RelayerConfig, logger *slog.Logger) *Relayer {
	cfg = cfg.withDefaults()
	limiter := rate.NewLimiter(rate.Inf, cfg.Burst)
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Relayer{
		outbox:    outbox,
		transport: transport,
		cfg:       cfg,
		limiter:   limiter,
		logger:    logger.With(slog.String("component", "relayer")),
		telemetry: metrics.Relay(),
	}
}

// Flush makes one pass over the outbox and returns how many envelopes were
// delivered and acked. A permanent refusal parks the envelope and the pass
// moves on; any other failure ends the pass so ordering is preserved.
func (r *Relayer) Flush(ctx context.Context) (int, error) {
	pending, err := r.outbox.Pending(r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	delivered := 0
	for _, env := range pending {
		if err := r.limiter.Wait(ctx); err != nil {
			return delivered, err
		}
		start := time.Now()
		callCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
		err := r.transport.Deliver(callCtx, env)
		cancel()
		if errors.Is(err, cerrors.ErrChannelRejected) {
			r.telemetry.ObserveDelivery("rejected", time.Since(start))
			r.logger.Warn("envelope rejected by channel",
				slog.Uint64("sequence", env.Sequence),
				slog.String("ticket", env.Ticket),
				slog.Any("error", err))
			if err := r.outbox.Reject(env.Sequence, err.Error()); err != nil {
				return delivered, err
			}
			continue
		}
		if err != nil {
			r.telemetry.ObserveDelivery("failed", time.Since(start))
			r.logger.Warn("delivery failed",
				slog.Uint64("sequence", env.Sequence),
				slog.String("ticket", env.Ticket),
				slog.Any("error", err))
			return delivered, err
		}
		r.telemetry.ObserveDelivery("delivered", time.Since(start))
		if err := r.outbox.Ack(env.Sequence); err != nil {
			return delivered, err
		}
		delivered++
	}
	return delivered, nil
}

// Run flushes on every poll tick until ctx ends.
func (r *Relayer) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if _, err := r.Flush(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Debug("relay pass ended early", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
