package rpc

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"
)

// Scopes carried in the token's "scope" claim. Each gates one class of
// mutating method; reads need no token.
const (
	ScopeAttestor   = "attestor"
	ScopeGovernance = "governance"
	ScopeOperator   = "operator"
	ScopeMinter     = "minter"
)

const scopeClaim = "scope"

// Authenticator validates HMAC-signed bearer tokens. The token subject is the
// caller's hex address; the domains still check that address's roles.
type Authenticator struct {
	secret    []byte
	issuer    string
	clockSkew time.Duration
	nowFn     func() time.Time
}

func NewAuthenticator(secret, issuer string) *Authenticator {
	return &Authenticator{
		secret:    []byte(strings.TrimSpace(secret)),
		issuer:    strings.TrimSpace(issuer),
		clockSkew: 2 * time.Minute,
		nowFn:     time.Now,
	}
}

// Enabled is false when no secret is configured; every mutating call is then
// refused.
func (a *Authenticator) Enabled() bool {
	return a != nil && len(a.secret) > 0
}

// Issue signs a token for subject. Operators use it to mint credentials for
// attestors and governance keys.
func (a *Authenticator) Issue(subject ethcommon.Address, scopes []string, ttl time.Duration) (string, error) {
	if !a.Enabled() {
		return "", errors.New("auth secret not configured")
	}
	now := a.nowFn()
	claims := jwt.MapClaims{
		"sub":      subject.Hex(),
		"iat":      now.Unix(),
		scopeClaim: strings.Join(scopes, " "),
	}
	if a.issuer != "" {
		claims["iss"] = a.issuer
	}
	if ttl > 0 {
		claims["exp"] = now.Add(ttl).Unix()
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Authorize returns the caller address when the request carries a valid
// token holding scope.
func (a *Authenticator) Authorize(r *http.Request, scope string) (ethcommon.Address, *RPCError) {
	if !a.Enabled() {
		return ethcommon.Address{}, &RPCError{Code: codeUnauthorized, Message: "RPC authentication not configured"}
	}
	tokenString := extractBearer(r.Header.Get("Authorization"))
	if tokenString == "" {
		return ethcommon.Address{}, &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	claims, err := a.parseToken(tokenString)
	if err != nil {
		return ethcommon.Address{}, &RPCError{Code: codeUnauthorized, Message: "invalid token"}
	}
	if a.issuer != "" {
		if iss, _ := claims["iss"].(string); iss != a.issuer {
			return ethcommon.Address{}, &RPCError{Code: codeUnauthorized, Message: "invalid token"}
		}
	}
	if !hasScope(extractScopes(claims), scope) {
		return ethcommon.Address{}, &RPCError{Code: codeUnauthorized, Message: fmt.Sprintf("token lacks %s scope", scope)}
	}
	sub, _ := claims["sub"].(string)
	if !ethcommon.IsHexAddress(sub) {
		return ethcommon.Address{}, &RPCError{Code: codeUnauthorized, Message: "token subject must be an address"}
	}
	return ethcommon.HexToAddress(sub), nil
}

func (a *Authenticator) parseToken(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithLeeway(a.clockSkew), jwt.WithTimeFunc(a.nowFn))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token invalid")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("claims not map")
	}
	return claims, nil
}

func extractScopes(claims jwt.MapClaims) []string {
	switch v := claims[scopeClaim].(type) {
	case string:
		return strings.Fields(v)
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, entry := range v {
			if s, ok := entry.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func hasScope(scopes []string, required string) bool {
	for _, s := range scopes {
		if s == required {
			return true
		}
	}
	return false
}

func extractBearer(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
