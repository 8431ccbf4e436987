package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Run modes. "all" hosts both domains in one process and relays in memory.
const (
	ModeVerification = "verification"
	ModeSettlement   = "settlement"
	ModeAll          = "all"
)

// Duration wraps time.Duration so TOML accepts strings such as "1500ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type Config struct {
	Mode         string `toml:"Mode"`
	DataDir      string `toml:"DataDir"`
	Environment  string `toml:"Environment"`
	RPCAddress   string `toml:"RPCAddress"`
	SchedulePath string `toml:"SchedulePath"`

	Log          Log          `toml:"log"`
	Verification Verification `toml:"verification"`
	Settlement   Settlement   `toml:"settlement"`
	Relay        Relay        `toml:"relay"`
	Auth         Auth         `toml:"auth"`
	Audit        Audit        `toml:"audit"`
	Telemetry    Telemetry    `toml:"telemetry"`
}

type Log struct {
	Level      string `toml:"Level"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// Verification configures the claim verifier domain. Role lists hold hex
// addresses granted at boot.
type Verification struct {
	OriginDomainID  uint64   `toml:"OriginDomainID"`
	FormatVersion   uint32   `toml:"FormatVersion"`
	MinFee          uint64   `toml:"MinFee"`
	Attestors       []string `toml:"Attestors"`
	Governance      []string `toml:"Governance"`
	Operators       []string `toml:"Operators"`
	QuorumSigners   []string `toml:"QuorumSigners"`
	QuorumThreshold int      `toml:"QuorumThreshold"`
}

type Settlement struct {
	Domain          string   `toml:"Domain"`
	ChannelEndpoint string   `toml:"ChannelEndpoint"`
	Governance      []string `toml:"Governance"`
	Operators       []string `toml:"Operators"`
	YieldMinters    []string `toml:"YieldMinters"`
	InboxPath       string   `toml:"InboxPath"`
	ApplyInterval   Duration `toml:"ApplyInterval"`
}

// Relay covers both ends of the channel. ListenAddress is served by a
// settlement node; Endpoint is dialed by a verification node.
type Relay struct {
	ListenAddress   string   `toml:"ListenAddress"`
	Endpoint        string   `toml:"Endpoint"`
	Header          string   `toml:"Header"`
	SharedSecret    string   `toml:"SharedSecret"`
	SharedSecretEnv string   `toml:"SharedSecretEnv"`
	PollInterval    Duration `toml:"PollInterval"`
	Timeout         Duration `toml:"Timeout"`
	BatchSize       int      `toml:"BatchSize"`
	RatePerSecond   float64  `toml:"RatePerSecond"`
	Burst           int      `toml:"Burst"`
}

type Auth struct {
	JWTSecret      string  `toml:"JWTSecret"`
	JWTSecretEnv   string  `toml:"JWTSecretEnv"`
	Issuer         string  `toml:"Issuer"`
	RequestsPerSec float64 `toml:"RequestsPerSecond"`
	Burst          int     `toml:"Burst"`
	// TrustedProxies lists IPs or CIDRs whose X-Forwarded-For and X-Real-IP
	// headers identify the client. Everyone else is keyed by socket address.
	TrustedProxies []string `toml:"TrustedProxies"`
}

type Audit struct {
	Enabled bool   `toml:"Enabled"`
	Driver  string `toml:"Driver"`
	DSN     string `toml:"DSN"`
}

type Telemetry struct {
	Enabled     bool    `toml:"Enabled"`
	Endpoint    string  `toml:"Endpoint"`
	Insecure    bool    `toml:"Insecure"`
	Headers     string  `toml:"Headers"`
	Metrics     bool    `toml:"Metrics"`
	Traces      bool    `toml:"Traces"`
	SampleRatio float64 `toml:"SampleRatio"`
}

// Default returns a single-process development configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads the TOML file at path, fills defaults and validates the result.
// Relative paths inside the file resolve against the file's directory.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config %s: unknown key %s", path, undecoded[0].String())
	}
	cfg.applyDefaults()
	cfg.resolvePaths(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Mode) == "" {
		c.Mode = ModeAll
	}
	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	if c.DataDir == "" {
		c.DataDir = "./claimbridge-data"
	}
	if c.RPCAddress == "" {
		c.RPCAddress = ":8080"
	}
	if c.Verification.FormatVersion == 0 {
		c.Verification.FormatVersion = 2
	}
	if c.Settlement.Domain == "" {
		c.Settlement.Domain = "settlement"
	}
	if c.Settlement.InboxPath == "" {
		c.Settlement.InboxPath = "inbox.db"
	}
	if c.Settlement.ApplyInterval.Duration <= 0 {
		c.Settlement.ApplyInterval.Duration = time.Second
	}
	if c.Relay.Header == "" {
		c.Relay.Header = "x-claimbridge-channel"
	}
	if c.Relay.PollInterval.Duration <= 0 {
		c.Relay.PollInterval.Duration = time.Second
	}
	if c.Relay.Timeout.Duration <= 0 {
		c.Relay.Timeout.Duration = 5 * time.Second
	}
	if c.Relay.BatchSize <= 0 {
		c.Relay.BatchSize = 64
	}
	if c.Auth.Issuer == "" {
		c.Auth.Issuer = "claimbridge"
	}
	if c.Auth.RequestsPerSec <= 0 {
		c.Auth.RequestsPerSec = 20
	}
	if c.Auth.Burst <= 0 {
		c.Auth.Burst = 40
	}
	if c.Audit.Driver == "" {
		c.Audit.Driver = "sqlite"
	}
	if c.Audit.DSN == "" {
		c.Audit.DSN = "audit.sqlite"
	}
}

func (c *Config) resolvePaths(baseDir string) {
	c.DataDir = resolvePath(baseDir, c.DataDir)
	c.SchedulePath = resolvePath(baseDir, c.SchedulePath)
	if c.Log.File != "" {
		c.Log.File = resolvePath(baseDir, c.Log.File)
	}
}

// DataPath places name under DataDir unless it is already absolute.
func (c *Config) DataPath(name string) string {
	return resolvePath(c.DataDir, name)
}

func resolvePath(baseDir, path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return ""
	}
	if baseDir != "" && !filepath.IsAbs(trimmed) {
		return filepath.Join(baseDir, trimmed)
	}
	return trimmed
}

// ResolveSecret prefers the inline value and falls back to the named
// environment variable.
func ResolveSecret(inline, env string) string {
	if v := strings.TrimSpace(inline); v != "" {
		return v
	}
	if env = strings.TrimSpace(env); env != "" {
		return strings.TrimSpace(os.Getenv(env))
	}
	return ""
}

// HostsVerification reports whether this node runs the verifier.
func (c *Config) HostsVerification() bool {
	return c.Mode == ModeVerification || c.Mode == ModeAll
}

// HostsSettlement reports whether this node runs the ledger.
func (c *Config) HostsSettlement() bool {
	return c.Mode == ModeSettlement || c.Mode == ModeAll
}
