package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/toolgateway/gatekeeper/internal/adapter/outbound/memory"
)

func TestAuthenticateNone(t *testing.T) {
	a := New(ModeNone, nil, nil)
	ctx, err := a.Authenticate(context.Background(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ctx.ConsumerID != "anonymous" || !ctx.HasRole("anything") {
		t.Fatalf("unexpected anonymous context: %+v", ctx)
	}
}

func TestAuthenticatePreShared(t *testing.T) {
	rate := 120
	store := memory.NewCredentialStore([]*CredentialRecord{
		{
			ID:           "cred-1",
			Credential:   HashSecret("s3cret"),
			ConsumerID:   "acme",
			Roles:        []string{"reader"},
			RateOverride: &rate,
			Enabled:      true,
		},
	})
	a := New(ModePreShared, store, nil)

	got, err := a.Authenticate(context.Background(), "s3cret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ConsumerID != "acme" || !got.HasRole("reader") || got.RateOverride == nil || *got.RateOverride != 120 {
		t.Fatalf("unexpected context: %+v", got)
	}

	if _, err := a.Authenticate(context.Background(), "wrong"); err != ErrCredentialNotFound {
		t.Fatalf("expected ErrCredentialNotFound, got %v", err)
	}
}

func TestAuthenticatePreSharedDisabled(t *testing.T) {
	store := memory.NewCredentialStore([]*CredentialRecord{
		{ID: "cred-1", Credential: HashSecret("s3cret"), ConsumerID: "acme", Enabled: false},
	})
	a := New(ModePreShared, store, nil)
	if _, err := a.Authenticate(context.Background(), "s3cret"); err != ErrCredentialDisabled {
		t.Fatalf("expected ErrCredentialDisabled, got %v", err)
	}
}

func TestAuthenticateSignedToken(t *testing.T) {
	cfg := TokenConfig{Mode: ModeSignedToken, SharedSecret: "top-secret", Issuer: "gatekeeper-test"}
	a, err := NewSignedToken(cfg, nil)
	if err != nil {
		t.Fatalf("NewSignedToken: %v", err)
	}

	claims := jwt.MapClaims{
		"sub":   "user-1",
		"roles": []interface{}{"writer", "reader"},
		"email": "user@example.com",
		"iss":   "gatekeeper-test",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte("top-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	got, err := a.Authenticate(context.Background(), signed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ConsumerID != "user-1" || !got.HasRole("writer") || got.Email != "user@example.com" {
		t.Fatalf("unexpected context: %+v", got)
	}
}

func TestAuthenticateSignedTokenWrongSecret(t *testing.T) {
	cfg := TokenConfig{Mode: ModeSignedToken, SharedSecret: "top-secret"}
	a, err := NewSignedToken(cfg, nil)
	if err != nil {
		t.Fatalf("NewSignedToken: %v", err)
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "user-1"})
	signed, _ := tok.SignedString([]byte("other-secret"))

	if _, err := a.Authenticate(context.Background(), signed); err == nil {
		t.Fatal("expected verification failure")
	}
}
