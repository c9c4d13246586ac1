package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrTokenRejected is returned for any token that fails signature, issuer,
// audience, or claim-shape verification.
var ErrTokenRejected = errors.New("auth: token rejected")

// VerifiedClaims is the normalized result of a successful token verification,
// independent of whether the key came from static config or JWKS discovery.
type VerifiedClaims struct {
	ConsumerID string
	Roles      []string
	Email      string
	Raw        jwt.MapClaims
}

// KeyResolver resolves the verification key for a token, given its parsed
// headers. Static signed-token mode wraps a constant key; discovery mode
// wraps a JWKS client keyed by the kid header.
type KeyResolver func(token *jwt.Token) (interface{}, error)

// StaticKeyResolver builds a KeyResolver from a fixed shared secret or RSA
// public key, for signed-token mode.
func StaticKeyResolver(cfg TokenConfig) (KeyResolver, error) {
	switch {
	case cfg.PublicKeyPEM != "":
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(cfg.PublicKeyPEM))
		if err != nil {
			return nil, fmt.Errorf("auth: parse configured public key: %w", err)
		}
		return func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("%w: unexpected signing method %v", ErrTokenRejected, token.Method.Alg())
			}
			return key, nil
		}, nil
	case cfg.SharedSecret != "":
		secret := []byte(cfg.SharedSecret)
		return func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("%w: unexpected signing method %v", ErrTokenRejected, token.Method.Alg())
			}
			return secret, nil
		}, nil
	default:
		return nil, errors.New("auth: signed-token mode requires shared_secret or public_key_pem")
	}
}

// VerifyToken parses and validates a compact JWT using the given resolver,
// then normalizes the claims per cfg's claim-name mapping.
func VerifyToken(tokenString string, resolver KeyResolver, cfg TokenConfig) (*VerifiedClaims, error) {
	claims := jwt.MapClaims{}
	parserOpts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512", "RS256", "RS384", "RS512"})}
	if cfg.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(cfg.Audience))
	}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return resolver(t)
	}, parserOpts...)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrTokenRejected, err)
	}

	subjectClaim := firstNonEmpty(cfg.SubjectClaim, "sub")
	rolesClaim := firstNonEmpty(cfg.RolesClaim, "roles")
	emailClaim := firstNonEmpty(cfg.EmailClaim, "email")

	sub, _ := claims[subjectClaim].(string)
	if sub == "" {
		return nil, fmt.Errorf("%w: missing %q claim", ErrTokenRejected, subjectClaim)
	}
	email, _ := claims[emailClaim].(string)

	var roles []string
	switch v := claims[rolesClaim].(type) {
	case []interface{}:
		for _, r := range v {
			if s, ok := r.(string); ok {
				roles = append(roles, s)
			}
		}
	case string:
		roles = strings.Fields(v)
	}

	if len(cfg.AllowedEmailDomains) > 0 {
		if !emailDomainAllowed(email, cfg.AllowedEmailDomains) {
			return nil, fmt.Errorf("%w: email domain not allowed", ErrTokenRejected)
		}
	}

	return &VerifiedClaims{ConsumerID: sub, Roles: roles, Email: email, Raw: claims}, nil
}

func emailDomainAllowed(email string, allowed []string) bool {
	at := strings.LastIndexByte(email, '@')
	if at < 0 {
		return false
	}
	domain := strings.ToLower(email[at+1:])
	for _, a := range allowed {
		if strings.ToLower(a) == domain {
			return true
		}
	}
	return false
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
