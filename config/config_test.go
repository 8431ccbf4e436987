package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const channelAddr = "0x00000000000000000000000000000000000000e1"

func writeFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadParsesSections(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "claimd.toml", `Mode = "verification"
DataDir = "data"
Environment = "staging"
SchedulePath = "schedule.yaml"

[log]
Level = "debug"

[verification]
OriginDomainID = 5785671
MinFee = 25
Attestors = ["0x00000000000000000000000000000000000000a1"]
QuorumSigners = ["0x00000000000000000000000000000000000000b1", "0x00000000000000000000000000000000000000b2"]
QuorumThreshold = 2

[relay]
Endpoint = "settlement.internal:7100"
SharedSecret = "s3cret"
PollInterval = "250ms"
RatePerSecond = 50

[telemetry]
Enabled = true
SampleRatio = 0.5
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeVerification || !cfg.HostsVerification() || cfg.HostsSettlement() {
		t.Fatalf("unexpected mode handling: %q", cfg.Mode)
	}
	if cfg.DataDir != filepath.Join(dir, "data") {
		t.Fatalf("data dir not resolved: %s", cfg.DataDir)
	}
	if cfg.SchedulePath != filepath.Join(dir, "schedule.yaml") {
		t.Fatalf("schedule path not resolved: %s", cfg.SchedulePath)
	}
	if cfg.Verification.OriginDomainID != 5785671 || cfg.Verification.MinFee != 25 {
		t.Fatalf("verification section: %+v", cfg.Verification)
	}
	if cfg.Verification.FormatVersion != 2 {
		t.Fatalf("expected default format 2, got %d", cfg.Verification.FormatVersion)
	}
	if cfg.Relay.PollInterval.Duration != 250*time.Millisecond {
		t.Fatalf("poll interval: %v", cfg.Relay.PollInterval)
	}
	if cfg.Relay.Timeout.Duration != 5*time.Second {
		t.Fatalf("default timeout: %v", cfg.Relay.Timeout)
	}
	if cfg.DataPath("inbox.db") != filepath.Join(dir, "data", "inbox.db") {
		t.Fatalf("data path: %s", cfg.DataPath("inbox.db"))
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, t.TempDir(), "claimd.toml", "Mode = \"all\"\nBogus = 1\n"+
		"[settlement]\nChannelEndpoint = \""+channelAddr+"\"\n")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "Bogus") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := Default()
		cfg.Settlement.ChannelEndpoint = channelAddr
		return cfg
	}
	if err := base().Validate(); err != nil {
		t.Fatalf("default all-mode config should validate: %v", err)
	}

	cases := map[string]func(*Config){
		"unknown mode":          func(c *Config) { c.Mode = "both" },
		"bad format":            func(c *Config) { c.Verification.FormatVersion = 3 },
		"bad attestor":          func(c *Config) { c.Verification.Attestors = []string{"nope"} },
		"zero operator":         func(c *Config) { c.Settlement.Operators = []string{"0x0000000000000000000000000000000000000000"} },
		"threshold too high":    func(c *Config) { c.Verification.QuorumSigners = []string{channelAddr}; c.Verification.QuorumThreshold = 2 },
		"missing endpoint addr": func(c *Config) { c.Settlement.ChannelEndpoint = "" },
		"split without secret":  func(c *Config) { c.Mode = ModeSettlement; c.Relay.ListenAddress = ":7100" },
		"listen without secret": func(c *Config) { c.Relay.ListenAddress = ":7100" },
		"bad trusted proxy":     func(c *Config) { c.Auth.TrustedProxies = []string{"not-an-ip"} },
		"verification no dial":  func(c *Config) { c.Mode = ModeVerification; c.Relay.SharedSecret = "x" },
		"settlement no listen":  func(c *Config) { c.Mode = ModeSettlement; c.Relay.SharedSecret = "x" },
		"bad audit driver":      func(c *Config) { c.Audit.Driver = "mysql" },
		"bad sample ratio":      func(c *Config) { c.Telemetry.SampleRatio = 2 },
	}
	for name, mutate := range cases {
		cfg := base()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestResolveSecretFromEnv(t *testing.T) {
	t.Setenv("CLAIMBRIDGE_TEST_SECRET", " from-env ")
	if got := ResolveSecret("", "CLAIMBRIDGE_TEST_SECRET"); got != "from-env" {
		t.Fatalf("unexpected secret %q", got)
	}
	if got := ResolveSecret("inline", "CLAIMBRIDGE_TEST_SECRET"); got != "inline" {
		t.Fatalf("inline should win, got %q", got)
	}
}

func TestLoadSchedule(t *testing.T) {
	path := writeFile(t, t.TempDir(), "schedule.yaml", `cutover: "2025-09-01T00:00:00Z"
active_edition: 1
tiers:
  - index: 12
    principal: 800000000000
    term: long
    rate_bps: 800
editions:
  - id: 1
    name: Genesis
    max_supply: "1000000000000000"
    active: true
`)
	s, err := LoadSchedule(path)
	if err != nil {
		t.Fatalf("load schedule: %v", err)
	}
	cutover, err := s.CutoverTime()
	if err != nil || !cutover.Equal(time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("cutover: %v %v", cutover, err)
	}
	if len(s.Tiers) != 1 || s.Tiers[0].RateBps != 800 || s.Tiers[0].Term != "long" {
		t.Fatalf("tiers: %+v", s.Tiers)
	}
	if len(s.Editions) != 1 || s.Editions[0].MaxSupply != "1000000000000000" {
		t.Fatalf("editions: %+v", s.Editions)
	}

	empty, err := LoadSchedule("")
	if err != nil || len(empty.Tiers) != 0 {
		t.Fatalf("empty path should yield empty manifest: %v", err)
	}
}

func TestScheduleValidate(t *testing.T) {
	cases := map[string]Schedule{
		"bad cutover":       {Cutover: "yesterday"},
		"both amounts":      {Tiers: []ScheduleTier{{Index: 12, Amount: 1, RateBps: 800}}},
		"neither amount":    {Tiers: []ScheduleTier{{Index: 12}}},
		"duplicate tier":    {Tiers: []ScheduleTier{{Index: 12, Amount: 1}, {Index: 12, Amount: 2}}},
		"zero edition":      {Editions: []ScheduleEdition{{ID: 0}}},
		"duplicate edition": {Editions: []ScheduleEdition{{ID: 1}, {ID: 1}}},
	}
	for name, s := range cases {
		if err := s.Validate(); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestExampleConfigLoads(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "config.example.toml"))
	if err != nil {
		t.Fatalf("load example: %v", err)
	}
	if !cfg.HostsVerification() || !cfg.HostsSettlement() {
		t.Fatalf("example should host both domains")
	}
	schedule, err := LoadSchedule(cfg.SchedulePath)
	if err != nil {
		t.Fatalf("load example schedule: %v", err)
	}
	if len(schedule.Tiers) != 1 || len(schedule.Editions) != 1 || schedule.ActiveEdition != 1 {
		t.Fatalf("unexpected example schedule: %+v", schedule)
	}
}
