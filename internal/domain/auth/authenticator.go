package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/toolgateway/gatekeeper/internal/domain/caller"
)

// ErrCredentialNotFound is returned when no configured credential matches
// the presented value.
var ErrCredentialNotFound = errors.New("auth: credential not found")

// ErrCredentialDisabled is returned for a credential that resolved but is
// disabled or expired.
var ErrCredentialDisabled = errors.New("auth: credential disabled or expired")

// nowFunc is a package-level seam so expiry checks are deterministic in tests.
var nowFunc = time.Now

// DiscoveryResolver resolves a KeyResolver for a discovery-signed-token's
// JWKS endpoint. github.com/toolgateway/gatekeeper/internal/adapter/outbound/jwks.Client
// implements this.
type DiscoveryResolver interface {
	Resolver(url string) KeyResolver
}

// Authenticator verifies a presented credential (an API-key-shaped string
// for pre-shared mode, or a compact JWT for the token modes) and produces
// the caller.Context the rest of the pipeline acts on.
type Authenticator struct {
	mode      Mode
	store     CredentialStore
	tokenCfg  TokenConfig
	staticKey KeyResolver
	discovery DiscoveryResolver
	logger    *slog.Logger
}

// New builds an Authenticator for ModeNone or ModePreShared.
func New(mode Mode, store CredentialStore, logger *slog.Logger) *Authenticator {
	return &Authenticator{mode: mode, store: store, logger: logger}
}

// NewSignedToken builds an Authenticator for ModeSignedToken, with a fixed
// verification key derived from cfg.
func NewSignedToken(cfg TokenConfig, logger *slog.Logger) (*Authenticator, error) {
	resolver, err := StaticKeyResolver(cfg)
	if err != nil {
		return nil, err
	}
	return &Authenticator{mode: ModeSignedToken, tokenCfg: cfg, staticKey: resolver, logger: logger}, nil
}

// NewDiscoverySignedToken builds an Authenticator for
// ModeDiscoverySignedToken, resolving verification keys through the given
// DiscoveryResolver (a JWKS client) on every call.
func NewDiscoverySignedToken(cfg TokenConfig, discovery DiscoveryResolver, logger *slog.Logger) *Authenticator {
	return &Authenticator{mode: ModeDiscoverySignedToken, tokenCfg: cfg, discovery: discovery, logger: logger}
}

// Authenticate verifies the presented credential and returns the resulting
// caller context. The meaning of "presented" depends on mode: ignored for
// none, a pre-shared secret for pre-shared, a compact JWT for the two
// token modes.
func (a *Authenticator) Authenticate(ctx context.Context, presented string) (*caller.Context, error) {
	switch a.mode {
	case ModeNone:
		return caller.Anonymous(), nil
	case ModePreShared:
		return a.authenticatePreShared(ctx, presented)
	case ModeSignedToken:
		claims, err := VerifyToken(presented, a.staticKey, a.tokenCfg)
		if err != nil {
			return nil, err
		}
		return claimsToContext(claims), nil
	case ModeDiscoverySignedToken:
		url := DiscoveryURLFor(a.tokenCfg)
		claims, err := VerifyToken(presented, a.discovery.Resolver(url), a.tokenCfg)
		if err != nil {
			return nil, err
		}
		return claimsToContext(claims), nil
	default:
		return nil, fmt.Errorf("auth: unknown mode %q", a.mode)
	}
}

func (a *Authenticator) authenticatePreShared(ctx context.Context, presented string) (*caller.Context, error) {
	record, ok := a.store.FindBySecret(ctx, presented)
	if !ok {
		return nil, ErrCredentialNotFound
	}
	if !record.Enabled {
		return nil, ErrCredentialDisabled
	}
	if record.Expired(nowFunc()) {
		return nil, ErrCredentialDisabled
	}
	return &caller.Context{
		ConsumerID:   record.ConsumerID,
		CredentialID: record.ID,
		Roles:        record.Roles,
		RateOverride: record.RateOverride,
	}, nil
}

func claimsToContext(claims *VerifiedClaims) *caller.Context {
	return &caller.Context{
		ConsumerID:   claims.ConsumerID,
		CredentialID: "token:" + claims.ConsumerID,
		Roles:        claims.Roles,
		Email:        claims.Email,
	}
}

// DiscoveryURLFor derives the JWKS endpoint for a discovery-signed-token
// config: the explicit override when set, otherwise the issuer's standard
// well-known path.
func DiscoveryURLFor(cfg TokenConfig) string {
	if cfg.DiscoveryURL != "" {
		return cfg.DiscoveryURL
	}
	return strings.TrimRight(cfg.Issuer, "/") + "/.well-known/jwks.json"
}
