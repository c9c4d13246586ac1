package auth

import "context"

// CredentialStore resolves configured credential records. Implementations
// are expected to be cheap, read-mostly lookups backed by the live config
// snapshot.
type CredentialStore interface {
	// FindByID returns the credential record with the given ID.
	FindByID(ctx context.Context, id string) (*CredentialRecord, bool)
	// FindBySecret returns the credential record whose raw or hashed secret
	// matches the given presented value.
	FindBySecret(ctx context.Context, presented string) (*CredentialRecord, bool)
	// All returns every configured credential record, for admin/debug use.
	All(ctx context.Context) []*CredentialRecord
}
