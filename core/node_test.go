package core

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"claimbridge/config"
	"claimbridge/core/attest"
	"claimbridge/core/domain"
	cerrors "claimbridge/core/errors"
	"claimbridge/native/claims"
	"claimbridge/native/common"
	"claimbridge/native/dispatch"
	"claimbridge/observability/audit"
)

const (
	attestorHex = "0x00000000000000000000000000000000000000a1"
	governorHex = "0x00000000000000000000000000000000000000a2"
	endpointHex = "0x00000000000000000000000000000000000000e1"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	schedule := filepath.Join(dir, "schedule.yaml")
	require.NoError(t, os.WriteFile(schedule, []byte(`cutover: "2025-09-01T00:00:00Z"
active_edition: 1
tiers:
  - index: 8
    principal: 200000000
    term: long
    rate_bps: 800
editions:
  - id: 1
    name: Genesis
    max_supply: "1000000000000"
    active: true
`), 0o600))

	cfg := config.Default()
	cfg.DataDir = dir
	cfg.Environment = "dev"
	cfg.SchedulePath = schedule
	cfg.RPCAddress = "127.0.0.1:0"
	cfg.Verification.OriginDomainID = 0x584647
	cfg.Verification.Attestors = []string{attestorHex}
	cfg.Verification.Governance = []string{governorHex}
	cfg.Settlement.ChannelEndpoint = endpointHex
	cfg.Settlement.Governance = []string{governorHex}
	cfg.Audit.Enabled = true
	cfg.Audit.DSN = fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestNodeAllModeEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	node, err := NewNode(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = node.Close() })

	require.NotNil(t, node.Verifier)
	require.NotNil(t, node.Ledger)
	require.Nil(t, node.inbound)

	maxIndex, err := node.Verifier.MaxTierIndex()
	require.NoError(t, err)
	require.Equal(t, uint8(8), maxIndex)
	info, err := node.Verifier.TierInfo(8, false)
	require.NoError(t, err)
	quoted, err := claims.QuoteReward(200_000_000, 800, claims.TermLong.Months())
	require.NoError(t, err)
	require.Equal(t, quoted, info.Reward)

	att := attest.Attestation{
		Recipient:      ethcommon.HexToAddress("0x00000000000000000000000000000000000000d1"),
		Tier:           0,
		Nullifier:      ethcommon.HexToHash("0xa1"),
		Commitment:     ethcommon.HexToHash("0xc1"),
		OriginDomainID: cfg.Verification.OriginDomainID,
		EventTime:      time.Now().Unix(),
	}
	require.True(t, node.Oracle.Verify(att, nil))
	_, err = node.Verifier.Claim(ethcommon.HexToAddress(attestorHex), att, true, dispatch.FeePayment{Payer: ethcommon.HexToAddress(attestorHex)})
	require.NoError(t, err)

	delivered, err := node.relayer.Flush(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, delivered)
	applied, err := node.applier.Drain(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, applied)

	ok, err := node.Ledger.IsCommitmentApplied(att.Commitment)
	require.NoError(t, err)
	require.True(t, ok)

	records, err := node.Audit.List(audit.Filter{Domain: cfg.Settlement.Domain})
	require.NoError(t, err)
	require.NotEmpty(t, records)

	rec := httptest.NewRecorder()
	node.RPC().Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestNodeReopensExistingState(t *testing.T) {
	cfg := testConfig(t)
	node, err := NewNode(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, node.Close())

	node, err = NewNode(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = node.Close() })
	edition, err := node.Ledger.EditionStatus(1)
	require.NoError(t, err)
	require.Equal(t, "Genesis", edition.Name)
}

func TestNodeReopenRevokesRolesDroppedFromConfig(t *testing.T) {
	cfg := testConfig(t)
	node, err := NewNode(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, node.Close())

	const (
		nextAttestorHex = "0x00000000000000000000000000000000000000a9"
		nextEndpointHex = "0x00000000000000000000000000000000000000e9"
	)
	cfg.Verification.Attestors = []string{nextAttestorHex}
	cfg.Settlement.ChannelEndpoint = nextEndpointHex
	require.NoError(t, cfg.Validate())

	node, err = NewNode(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = node.Close() })

	checks := []struct {
		domain *domain.Domain
		role   common.Role
		addr   string
		want   bool
	}{
		{node.verification, common.RoleAttestor, attestorHex, false},
		{node.verification, common.RoleAttestor, nextAttestorHex, true},
		{node.verification, common.RoleGovernance, governorHex, true},
		{node.settlement, common.RoleChannelEndpoint, endpointHex, false},
		{node.settlement, common.RoleChannelEndpoint, nextEndpointHex, true},
	}
	for _, c := range checks {
		ok, err := c.domain.HasRole(c.role, ethcommon.HexToAddress(c.addr))
		require.NoError(t, err)
		require.Equal(t, c.want, ok, "%s %s %s", c.domain.Name(), c.role, c.addr)
	}

	att := attest.Attestation{
		Recipient:      ethcommon.HexToAddress("0x00000000000000000000000000000000000000d1"),
		Nullifier:      ethcommon.HexToHash("0xa1"),
		Commitment:     ethcommon.HexToHash("0xc1"),
		OriginDomainID: cfg.Verification.OriginDomainID,
		EventTime:      time.Now().Unix(),
	}
	old := ethcommon.HexToAddress(attestorHex)
	_, err = node.Verifier.Claim(old, att, true, dispatch.FeePayment{Payer: old})
	require.ErrorIs(t, err, cerrors.ErrUnauthorized)
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Split(strings.TrimSpace(b.buf.String()), "\n")
}

func TestNodeLogLinesCarryOneComponent(t *testing.T) {
	cfg := testConfig(t)
	out := &lockedBuffer{}
	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: slog.LevelDebug}))
	node, err := NewNode(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = node.Close() })

	attestor := ethcommon.HexToAddress(attestorHex)
	att := attest.Attestation{
		Recipient:      ethcommon.HexToAddress("0x00000000000000000000000000000000000000d1"),
		Nullifier:      ethcommon.HexToHash("0xa1"),
		Commitment:     ethcommon.HexToHash("0xc1"),
		OriginDomainID: cfg.Verification.OriginDomainID,
		EventTime:      time.Now().Unix(),
	}
	_, err = node.Verifier.Claim(attestor, att, true, dispatch.FeePayment{Payer: attestor})
	require.NoError(t, err)
	_, err = node.relayer.Flush(context.Background())
	require.NoError(t, err)
	_, err = node.applier.Drain(context.Background())
	require.NoError(t, err)

	lines := out.lines()
	require.NotEmpty(t, lines)
	for _, line := range lines {
		require.LessOrEqual(t, strings.Count(line, `"component":`), 1, line)
	}
}

func TestNodeRunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	node, err := NewNode(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = node.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- node.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("node did not stop")
	}
}

func TestBuildOracleRejectsWithoutSignersOutsideDev(t *testing.T) {
	cfg := testConfig(t)
	cfg.Environment = "prod"
	node := &Node{cfg: cfg, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	oracle, err := node.buildOracle()
	require.NoError(t, err)
	require.False(t, oracle.Verify(attest.Attestation{}, nil))
}

func TestTierSpecsRejectsUnknownTerm(t *testing.T) {
	_, err := tierSpecs([]config.ScheduleTier{{Index: 8, Principal: 1, Term: "forever", Amount: 1}})
	require.Error(t, err)
}
