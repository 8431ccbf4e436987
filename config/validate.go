package config

import (
	"fmt"
	"net/netip"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

// Validate checks cross-field consistency. It does not touch the filesystem.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeVerification, ModeSettlement, ModeAll:
	default:
		return fmt.Errorf("mode: unknown %q", c.Mode)
	}
	if c.Verification.FormatVersion != 1 && c.Verification.FormatVersion != 2 {
		return fmt.Errorf("verification: FormatVersion must be 1 or 2")
	}
	for name, list := range map[string][]string{
		"verification.Attestors":     c.Verification.Attestors,
		"verification.Governance":    c.Verification.Governance,
		"verification.Operators":     c.Verification.Operators,
		"verification.QuorumSigners": c.Verification.QuorumSigners,
		"settlement.Governance":      c.Settlement.Governance,
		"settlement.Operators":       c.Settlement.Operators,
		"settlement.YieldMinters":    c.Settlement.YieldMinters,
	} {
		if _, err := ParseAddresses(list); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if n := len(c.Verification.QuorumSigners); n > 0 {
		if c.Verification.QuorumThreshold <= 0 || c.Verification.QuorumThreshold > n {
			return fmt.Errorf("verification: QuorumThreshold must be within 1..%d", n)
		}
	}
	if c.HostsSettlement() {
		if !ethcommon.IsHexAddress(c.Settlement.ChannelEndpoint) {
			return fmt.Errorf("settlement: ChannelEndpoint must be a hex address")
		}
	}
	listening := strings.TrimSpace(c.Relay.ListenAddress) != ""
	if c.Mode != ModeAll || listening {
		secret := ResolveSecret(c.Relay.SharedSecret, c.Relay.SharedSecretEnv)
		if secret == "" {
			return fmt.Errorf("relay: a shared secret is required whenever the channel crosses a network")
		}
	}
	if c.Mode != ModeAll {
		if c.Mode == ModeVerification && strings.TrimSpace(c.Relay.Endpoint) == "" {
			return fmt.Errorf("relay: Endpoint required in verification mode")
		}
		if c.Mode == ModeSettlement && strings.TrimSpace(c.Relay.ListenAddress) == "" {
			return fmt.Errorf("relay: ListenAddress required in settlement mode")
		}
	}
	if _, err := ParsePrefixes(c.Auth.TrustedProxies); err != nil {
		return fmt.Errorf("auth.TrustedProxies: %w", err)
	}
	if c.Relay.RatePerSecond < 0 {
		return fmt.Errorf("relay: RatePerSecond must not be negative")
	}
	switch strings.ToLower(c.Audit.Driver) {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("audit: unsupported driver %q", c.Audit.Driver)
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: SampleRatio must be within [0,1]")
	}
	return nil
}

// ParseAddresses converts hex strings to addresses, rejecting malformed or
// zero entries.
func ParseAddresses(raw []string) ([]ethcommon.Address, error) {
	out := make([]ethcommon.Address, 0, len(raw))
	for _, entry := range raw {
		trimmed := strings.TrimSpace(entry)
		if !ethcommon.IsHexAddress(trimmed) {
			return nil, fmt.Errorf("invalid address %q", entry)
		}
		addr := ethcommon.HexToAddress(trimmed)
		if addr == (ethcommon.Address{}) {
			return nil, fmt.Errorf("zero address not allowed")
		}
		out = append(out, addr)
	}
	return out, nil
}

// ParsePrefixes accepts bare IPs or CIDRs. A bare IP becomes a single-host
// prefix.
func ParsePrefixes(raw []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(raw))
	for _, entry := range raw {
		trimmed := strings.TrimSpace(entry)
		if strings.Contains(trimmed, "/") {
			prefix, err := netip.ParsePrefix(trimmed)
			if err != nil {
				return nil, fmt.Errorf("invalid prefix %q", entry)
			}
			out = append(out, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(trimmed)
		if err != nil {
			return nil, fmt.Errorf("invalid address %q", entry)
		}
		out = append(out, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
	}
	return out, nil
}
