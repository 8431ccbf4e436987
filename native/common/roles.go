package common

import (
	"fmt"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"

	coreerrors "claimbridge/core/errors"
	"claimbridge/core/state"
)

// Role names a capability held by an address within one domain.
type Role string

const (
	// RoleAttestor may submit claims on the verification domain.
	RoleAttestor Role = "attestor"
	// RoleGovernance may append tiers and manage editions.
	RoleGovernance Role = "governance"
	// RoleOperator may pause and resume a domain.
	RoleOperator Role = "operator"
	// RoleChannelEndpoint is the inbound end of the cross-domain channel.
	RoleChannelEndpoint Role = "channel"
	// RoleYieldMinter is the accrual module allowed to call ApplyMint directly.
	RoleYieldMinter Role = "yield_minter"
)

var knownRoles = map[Role]struct{}{
	RoleAttestor:        {},
	RoleGovernance:      {},
	RoleOperator:        {},
	RoleChannelEndpoint: {},
	RoleYieldMinter:     {},
}

// ParseRole maps a config string onto a Role.
func ParseRole(raw string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := knownRoles[role]; !ok {
		return "", fmt.Errorf("%w: unknown role %q", coreerrors.ErrInvalidInput, raw)
	}
	return role, nil
}

const rolePrefix = "roles/"

func roleKey(role Role, addr ethcommon.Address) []byte {
	return append([]byte(rolePrefix+string(role)+"/"), addr.Bytes()...)
}

// splitRoleKey reverses roleKey. The address is the fixed-width tail, so a
// '/' inside its bytes does not confuse the split.
func splitRoleKey(key []byte) (string, ethcommon.Address, bool) {
	rest := key[len(rolePrefix):]
	if len(rest) < ethcommon.AddressLength+2 || rest[len(rest)-ethcommon.AddressLength-1] != '/' {
		return "", ethcommon.Address{}, false
	}
	cut := len(rest) - ethcommon.AddressLength
	return string(rest[:cut-1]), ethcommon.BytesToAddress(rest[cut:]), true
}

func HasRole(r state.Reader, role Role, addr ethcommon.Address) (bool, error) {
	if addr == (ethcommon.Address{}) {
		return false, nil
	}
	return r.KVHas(roleKey(role, addr))
}

// RequireRole returns ErrUnauthorized unless addr holds at least one of roles.
func RequireRole(r state.Reader, addr ethcommon.Address, roles ...Role) error {
	for _, role := range roles {
		ok, err := HasRole(r, role, addr)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return fmt.Errorf("%w: %s lacks %v", coreerrors.ErrUnauthorized, addr.Hex(), roles)
}

func GrantRole(w state.Writer, role Role, addr ethcommon.Address) error {
	if addr == (ethcommon.Address{}) {
		return fmt.Errorf("%w: zero address", coreerrors.ErrInvalidInput)
	}
	return w.KVPut(roleKey(role, addr), true)
}

func RevokeRole(w state.Writer, role Role, addr ethcommon.Address) error {
	return w.KVDelete(roleKey(role, addr))
}

// Grant is one stored role assignment.
type Grant struct {
	Role    Role
	Address ethcommon.Address
}

// ReconcileRoles makes the stored grants equal want. Assignments missing from
// want, including ones under roles this build no longer knows, are revoked
// and returned in key order.
func ReconcileRoles(w state.Writer, want map[Role][]ethcommon.Address) ([]Grant, error) {
	norm := make(map[Role][]ethcommon.Address, len(want))
	wanted := make(map[string]struct{})
	for raw, addrs := range want {
		role, err := ParseRole(string(raw))
		if err != nil {
			return nil, err
		}
		norm[role] = append(norm[role], addrs...)
		for _, addr := range addrs {
			wanted[string(roleKey(role, addr))] = struct{}{}
		}
	}

	var stale [][]byte
	if err := w.KVIterate([]byte(rolePrefix), func(key, _ []byte) (bool, error) {
		if _, ok := wanted[string(key)]; !ok {
			stale = append(stale, append([]byte(nil), key...))
		}
		return true, nil
	}); err != nil {
		return nil, err
	}

	revoked := make([]Grant, 0, len(stale))
	for _, key := range stale {
		raw, addr, ok := splitRoleKey(key)
		if !ok {
			if err := w.KVDelete(key); err != nil {
				return nil, err
			}
			continue
		}
		role := Role(raw)
		if err := RevokeRole(w, role, addr); err != nil {
			return nil, err
		}
		revoked = append(revoked, Grant{Role: role, Address: addr})
	}

	for role, addrs := range norm {
		for _, addr := range addrs {
			if err := GrantRole(w, role, addr); err != nil {
				return nil, fmt.Errorf("grant %s: %w", role, err)
			}
		}
	}
	return revoked, nil
}
