// Package core assembles a claimbridge node from configuration: the domains
// it hosts, their storage, the channel between them and the public RPC.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"claimbridge/config"
	"claimbridge/core/attest"
	"claimbridge/core/domain"
	"claimbridge/core/events"
	"claimbridge/native/claims"
	"claimbridge/native/common"
	"claimbridge/native/dispatch"
	"claimbridge/native/settlement"
	"claimbridge/network/relay"
	"claimbridge/observability/audit"
	"claimbridge/observability/logging"
	"claimbridge/observability/metrics"
	"claimbridge/rpc"
	"claimbridge/storage"
)

// Node owns every long-lived component of one process.
type Node struct {
	cfg    *config.Config
	base   *slog.Logger
	logger *slog.Logger

	dbs []storage.Database

	verification *domain.Domain
	settlement   *domain.Domain

	Verifier   *claims.Verifier
	Dispatcher *dispatch.Dispatcher
	Ledger     *settlement.Ledger
	Oracle     attest.ProofOracle
	Audit      *audit.Store

	inbox     relay.Inbox
	transport relay.Transport
	relayer   *relay.Relayer
	applier   *relay.Applier
	inbound   *grpc.Server

	rpc *rpc.Server
}

// NewNode opens storage and wires the components selected by cfg.Mode. The
// caller must Close the node.
func NewNode(cfg *config.Config, logger *slog.Logger) (_ *Node, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	n := &Node{cfg: cfg, base: logger, logger: logger.With(slog.String("component", "node"))}
	defer func() {
		if err != nil {
			_ = n.Close()
		}
	}()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("prepare data dir: %w", err)
	}
	if cfg.Audit.Enabled {
		store, err := audit.Open(cfg.Audit.Driver, n.auditDSN(), logger)
		if err != nil {
			return nil, err
		}
		n.Audit = store
	}
	schedule, err := config.LoadSchedule(cfg.SchedulePath)
	if err != nil {
		return nil, err
	}

	var domains []*domain.Domain
	if cfg.HostsVerification() {
		if err := n.buildVerification(schedule); err != nil {
			return nil, err
		}
		domains = append(domains, n.verification)
	}
	if cfg.HostsSettlement() {
		if err := n.buildSettlement(schedule); err != nil {
			return nil, err
		}
		domains = append(domains, n.settlement)
	}
	if err := n.buildChannel(); err != nil {
		return nil, err
	}

	var limiter *rpc.RateLimiter
	if cfg.Auth.RequestsPerSec > 0 {
		proxies, err := config.ParsePrefixes(cfg.Auth.TrustedProxies)
		if err != nil {
			return nil, fmt.Errorf("trusted proxies: %w", err)
		}
		limiter = rpc.NewRateLimiter(cfg.Auth.RequestsPerSec, cfg.Auth.Burst).TrustProxies(proxies)
	}
	auth := rpc.NewAuthenticator(config.ResolveSecret(cfg.Auth.JWTSecret, cfg.Auth.JWTSecretEnv), cfg.Auth.Issuer)
	if !auth.Enabled() {
		n.logger.Warn("rpc auth secret not configured; mutating methods are disabled")
	}
	n.rpc = rpc.NewServer(rpc.Config{
		Verifier:   n.Verifier,
		Dispatcher: n.Dispatcher,
		Oracle:     n.Oracle,
		Ledger:     n.Ledger,
		Domains:    domains,
		Audit:      n.Audit,
		Auth:       auth,
		Limiter:    limiter,
		Logger:     logger,
	})
	return n, nil
}

func (n *Node) auditDSN() string {
	dsn := strings.TrimSpace(n.cfg.Audit.DSN)
	if strings.EqualFold(n.cfg.Audit.Driver, "postgres") || strings.HasPrefix(dsn, "file:") {
		return dsn
	}
	return n.cfg.DataPath(dsn)
}

func (n *Node) emitter(name string) events.Emitter {
	out := events.Multi{metrics.Events()}
	if n.Audit != nil {
		out = append(out, n.Audit.Sink(name))
	}
	return out
}

func (n *Node) openDomain(name string) (*domain.Domain, error) {
	db, err := storage.NewLevelDB(n.cfg.DataPath(name))
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", name, err)
	}
	n.dbs = append(n.dbs, db)
	return domain.New(name, db, domain.WithEmitter(n.emitter(name)), domain.WithLogger(n.base)), nil
}

// reconcileRoles parses the configured lists and makes them the domain's only
// grants.
func reconcileRoles(d *domain.Domain, raw map[common.Role][]string, extra map[common.Role][]ethcommon.Address) error {
	want := make(map[common.Role][]ethcommon.Address, len(raw)+len(extra))
	for role, list := range raw {
		addrs, err := config.ParseAddresses(list)
		if err != nil {
			return fmt.Errorf("%s %s: %w", d.Name(), role, err)
		}
		want[role] = addrs
	}
	for role, addrs := range extra {
		want[role] = append(want[role], addrs...)
	}
	if err := d.ReconcileRoles(want); err != nil {
		return fmt.Errorf("%s roles: %w", d.Name(), err)
	}
	return nil
}

func (n *Node) buildVerification(schedule *config.Schedule) error {
	cfg := n.cfg.Verification
	d, err := n.openDomain(domain.Verification)
	if err != nil {
		return err
	}
	n.verification = d
	if err := reconcileRoles(d, map[common.Role][]string{
		common.RoleAttestor:   cfg.Attestors,
		common.RoleGovernance: cfg.Governance,
		common.RoleOperator:   cfg.Operators,
	}, nil); err != nil {
		return err
	}

	cutover, err := schedule.CutoverTime()
	if err != nil {
		return err
	}
	if cutover.IsZero() {
		cutover = claims.DefaultCutover
	}
	n.Dispatcher = dispatch.New(d, cfg.MinFee)
	n.Verifier = claims.NewVerifier(d, n.Dispatcher, claims.NewCutover(cutover), claims.Config{
		OriginDomainID: cfg.OriginDomainID,
		TargetDomain:   n.cfg.Settlement.Domain,
		FormatVersion:  cfg.FormatVersion,
	})
	tiers, err := tierSpecs(schedule.Tiers)
	if err != nil {
		return err
	}
	if err := n.Verifier.Bootstrap(tiers, schedule.ActiveEdition); err != nil {
		return fmt.Errorf("bootstrap schedule: %w", err)
	}

	oracle, err := n.buildOracle()
	if err != nil {
		return err
	}
	n.Oracle = oracle
	return nil
}

// buildOracle prefers a signer quorum. Without signers only development
// environments accept proofs unchecked.
func (n *Node) buildOracle() (attest.ProofOracle, error) {
	cfg := n.cfg.Verification
	if len(cfg.QuorumSigners) > 0 {
		signers, err := config.ParseAddresses(cfg.QuorumSigners)
		if err != nil {
			return nil, err
		}
		return attest.NewQuorumOracle(cfg.QuorumThreshold, signers)
	}
	switch strings.ToLower(n.cfg.Environment) {
	case "dev", "development", "local":
		n.logger.Warn("no quorum signers configured; accepting every proof")
		return attest.StaticOracle(true), nil
	}
	n.logger.Warn("no quorum signers configured; rejecting every proof")
	return attest.StaticOracle(false), nil
}

func tierSpecs(raw []config.ScheduleTier) ([]claims.TierSpec, error) {
	specs := make([]claims.TierSpec, 0, len(raw))
	for _, t := range raw {
		term, err := claims.ParseTermClass(t.Term)
		if err != nil {
			return nil, fmt.Errorf("tier %d: %w", t.Index, err)
		}
		amount := t.Amount
		if amount == 0 {
			amount, err = claims.QuoteReward(t.Principal, t.RateBps, term.Months())
			if err != nil {
				return nil, fmt.Errorf("tier %d: %w", t.Index, err)
			}
		}
		specs = append(specs, claims.TierSpec{Index: t.Index, Principal: t.Principal, Term: term, Amount: amount})
	}
	return specs, nil
}

func (n *Node) buildSettlement(schedule *config.Schedule) error {
	cfg := n.cfg.Settlement
	d, err := n.openDomain(cfg.Domain)
	if err != nil {
		return err
	}
	n.settlement = d
	if err := reconcileRoles(d, map[common.Role][]string{
		common.RoleGovernance:  cfg.Governance,
		common.RoleOperator:    cfg.Operators,
		common.RoleYieldMinter: cfg.YieldMinters,
	}, map[common.Role][]ethcommon.Address{
		common.RoleChannelEndpoint: {ethcommon.HexToAddress(cfg.ChannelEndpoint)},
	}); err != nil {
		return err
	}
	n.Ledger = settlement.NewLedger(d, cfg.Domain)

	editions := make([]settlement.EditionSpec, 0, len(schedule.Editions))
	for _, e := range schedule.Editions {
		maxSupply, err := uint256.FromDecimal(e.MaxSupply)
		if err != nil {
			return fmt.Errorf("edition %d max_supply: %w", e.ID, err)
		}
		editions = append(editions, settlement.EditionSpec{ID: e.ID, Name: e.Name, MaxSupply: maxSupply, Active: e.Active})
	}
	if err := n.Ledger.Bootstrap(editions); err != nil {
		return fmt.Errorf("bootstrap editions: %w", err)
	}
	return nil
}

// buildChannel connects the dispatcher outbox to the settlement inbox. In
// "all" mode both ends live here and delivery is in-process.
func (n *Node) buildChannel() error {
	cfg := n.cfg.Relay
	secret := config.ResolveSecret(cfg.SharedSecret, cfg.SharedSecretEnv)
	channel := relay.ChannelSecret{Header: cfg.Header, Secret: secret, Source: domain.Verification}

	if n.Ledger != nil {
		inbox, err := relay.OpenBoltInbox(n.cfg.DataPath(n.cfg.Settlement.InboxPath))
		if err != nil {
			return err
		}
		n.inbox = inbox
		n.applier = relay.NewApplier(inbox, n.Ledger, ethcommon.HexToAddress(n.cfg.Settlement.ChannelEndpoint),
			relay.WithApplierEmitter(n.emitter(n.cfg.Settlement.Domain)),
			relay.WithApplierInterval(n.cfg.Settlement.ApplyInterval.Duration),
			relay.WithApplierLogger(n.base))
		if strings.TrimSpace(cfg.ListenAddress) != "" {
			server, err := relay.NewInboundServer(inbox, channel.Guard(), n.base)
			if err != nil {
				return err
			}
			n.inbound = relay.NewGRPCServer()
			server.Register(n.inbound)
		}
	}

	if n.Dispatcher == nil {
		return nil
	}
	switch {
	case n.inbox != nil && strings.TrimSpace(cfg.Endpoint) == "":
		n.transport = relay.NewLocalTransport(n.inbox)
	default:
		transport, err := relay.Dial(cfg.Endpoint,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithPerRPCCredentials(channel.Credentials()))
		if err != nil {
			return err
		}
		n.transport = transport
	}
	n.logger.Info("relay channel configured",
		slog.String("endpoint", cfg.Endpoint),
		slog.Bool("local", cfg.Endpoint == ""),
		logging.MaskField("shared_secret", secret))
	n.relayer = relay.NewRelayer(n.Dispatcher, n.transport, relay.RelayerConfig{
		PollInterval:  cfg.PollInterval.Duration,
		BatchSize:     cfg.BatchSize,
		RatePerSecond: cfg.RatePerSecond,
		Burst:         cfg.Burst,
		Timeout:       cfg.Timeout.Duration,
	}, n.base)
	return nil
}

// RPC exposes the JSON-RPC server, mainly for tests.
func (n *Node) RPC() *rpc.Server { return n.rpc }

// Run serves RPC and runs the channel workers until ctx ends or one of them
// fails.
func (n *Node) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				n.logger.Error("worker stopped", slog.String("worker", name), slog.Any("error", err))
				once.Do(func() { firstErr = fmt.Errorf("%s: %w", name, err) })
			}
			cancel()
		}()
	}

	start("rpc", func(ctx context.Context) error { return n.rpc.Serve(ctx, n.cfg.RPCAddress) })
	if n.relayer != nil {
		start("relayer", n.relayer.Run)
	}
	if n.applier != nil {
		start("applier", n.applier.Run)
	}
	if n.inbound != nil {
		lis, err := net.Listen("tcp", n.cfg.Relay.ListenAddress)
		if err != nil {
			cancel()
			wg.Wait()
			return fmt.Errorf("relay listen: %w", err)
		}
		start("inbound", func(ctx context.Context) error {
			go func() {
				<-ctx.Done()
				n.inbound.GracefulStop()
			}()
			n.logger.Info("relay inbound listening", slog.String("addr", lis.Addr().String()))
			return n.inbound.Serve(lis)
		})
	}
	n.logger.Info("node started",
		slog.String("mode", n.cfg.Mode),
		slog.Bool("verification", n.Verifier != nil),
		slog.Bool("settlement", n.Ledger != nil))

	wg.Wait()
	return firstErr
}

// Close releases storage and connections. It is safe after a failed NewNode.
func (n *Node) Close() error {
	var errs []error
	if closer, ok := n.transport.(interface{ Close() error }); ok {
		errs = append(errs, closer.Close())
	}
	if n.inbox != nil {
		errs = append(errs, n.inbox.Close())
	}
	if n.Audit != nil {
		errs = append(errs, n.Audit.Close())
	}
	for _, db := range n.dbs {
		db.Close()
	}
	n.dbs = nil
	return errors.Join(errs...)
}
