package domain

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"claimbridge/core/events"
	"claimbridge/core/state"
	"claimbridge/native/common"
	"claimbridge/storage"
)

const (
	Verification = "verification"
	Settlement   = "settlement"
)

func pauseKey(name string) []byte { return []byte("domain/paused/" + name) }

// Domain hosts the state of one execution domain. Every mutation runs under a
// single writer lock inside one state transaction, so an operation either
// lands completely or not at all.
type Domain struct {
	name    string
	mu      sync.RWMutex
	state   *state.Manager
	emitter events.Emitter
	nowFn   func() time.Time
	logger  *slog.Logger
}

type Option func(*Domain)

func WithEmitter(e events.Emitter) Option {
	return func(d *Domain) {
		if e != nil {
			d.emitter = e
		}
	}
}

func WithNowFunc(fn func() time.Time) Option {
	return func(d *Domain) {
		if fn != nil {
			d.nowFn = fn
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(d *Domain) {
		if l != nil {
			d.logger = l
		}
	}
}

func New(name string, db storage.Database, opts ...Option) *Domain {
	d := &Domain{
		name:    name,
		state:   state.NewManager(db),
		emitter: events.NoopEmitter{},
		nowFn:   time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With(slog.String("domain", name))
	return d
}

func (d *Domain) Name() string { return d.name }

func (d *Domain) Logger() *slog.Logger { return d.logger }

// SetEmitter replaces the event sink. Safe to call before serving traffic.
func (d *Domain) SetEmitter(e events.Emitter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e == nil {
		e = events.NoopEmitter{}
	}
	d.emitter = e
}

// Mutate runs fn inside a transaction. Staged events are emitted only after
// the commit succeeds.
func (d *Domain) Mutate(fn func(*Tx) error) error {
	tx, emitter, err := d.apply(fn)
	if err != nil {
		return err
	}
	for _, evt := range tx.events {
		emitter.Emit(evt)
	}
	return nil
}

func (d *Domain) apply(fn func(*Tx) error) (*Tx, events.Emitter, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	txn := d.state.Begin()
	tx := &Tx{Txn: txn, domain: d, now: d.nowFn()}
	if err := fn(tx); err != nil {
		txn.Discard()
		return nil, nil, err
	}
	if err := txn.Commit(); err != nil {
		return nil, nil, fmt.Errorf("%s: commit: %w", d.name, err)
	}
	return tx, d.emitter, nil
}

// View runs fn against committed state.
func (d *Domain) View(fn func(state.Reader) error) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return fn(d.state)
}

func (d *Domain) Paused() (bool, error) {
	var paused bool
	err := d.View(func(r state.Reader) error {
		_, err := r.KVGet(pauseKey(d.name), &paused)
		return err
	})
	return paused, err
}

// SetPaused flips the circuit breaker. Only operators may call it, and it
// stays callable while the domain is paused.
func (d *Domain) SetPaused(caller ethcommon.Address, paused bool) error {
	return d.Mutate(func(tx *Tx) error {
		if err := common.RequireRole(tx, caller, common.RoleOperator); err != nil {
			return err
		}
		current := tx.IsPaused(d.name)
		if current == paused {
			return nil
		}
		if err := tx.KVPut(pauseKey(d.name), paused); err != nil {
			return err
		}
		tx.Emit(events.DomainPauseChanged{Domain: d.name, Paused: paused, Caller: caller})
		d.logger.Info("domain pause changed", slog.Bool("paused", paused), slog.String("caller", caller.Hex()))
		return nil
	})
}

// Grant assigns a role without a caller check. Used at boot from config.
func (d *Domain) Grant(role common.Role, addr ethcommon.Address) error {
	return d.Mutate(func(tx *Tx) error {
		return common.GrantRole(tx, role, addr)
	})
}

// ReconcileRoles replaces every stored grant with want in one commit, so an
// address dropped from config loses its access on the next boot.
func (d *Domain) ReconcileRoles(want map[common.Role][]ethcommon.Address) error {
	return d.Mutate(func(tx *Tx) error {
		revoked, err := common.ReconcileRoles(tx, want)
		if err != nil {
			return err
		}
		for _, g := range revoked {
			d.logger.Info("role revoked",
				slog.String("domain", d.name),
				slog.String("role", string(g.Role)),
				slog.String("address", g.Address.Hex()))
		}
		return nil
	})
}

func (d *Domain) HasRole(role common.Role, addr ethcommon.Address) (bool, error) {
	var ok bool
	err := d.View(func(r state.Reader) error {
		var err error
		ok, err = common.HasRole(r, role, addr)
		return err
	})
	return ok, err
}

// Tx is the handle passed to Mutate callbacks.
type Tx struct {
	*state.Txn
	domain *Domain
	events []events.Event
	now    time.Time
}

// Emit stages an event for delivery after commit.
func (tx *Tx) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	tx.events = append(tx.events, evt)
}

// Now is fixed for the lifetime of the transaction.
func (tx *Tx) Now() time.Time { return tx.now }

func (tx *Tx) Domain() string { return tx.domain.name }

// IsPaused implements common.PauseView. Read failures count as paused.
func (tx *Tx) IsPaused(name string) bool {
	var paused bool
	if _, err := tx.KVGet(pauseKey(name), &paused); err != nil {
		return true
	}
	return paused
}

// Guard rejects the transaction when the hosting domain is paused.
func (tx *Tx) Guard() error {
	return common.Guard(tx, tx.domain.name)
}
