// Package memory provides in-process implementations of the outbound
// ports: credential store, policy decision cache backing store, rate
// limiter, audit store, and meter, all backed by maps guarded by a mutex.
// They are the default backing for single-replica deployments and the
// fixture of choice in tests.
package memory

import (
	"context"
	"sync"

	"github.com/toolgateway/gatekeeper/internal/domain/auth"
)

// CredentialStore is an in-memory auth.CredentialStore keyed by credential
// ID and, redundantly, by secret hash for the pre-shared fast path.
type CredentialStore struct {
	mu      sync.RWMutex
	byID    map[string]*auth.CredentialRecord
	byHash  map[string]*auth.CredentialRecord
}

// NewCredentialStore builds a CredentialStore from a config-loaded slice of
// records. Records already store their secret in hashed form;
// NewCredentialStore never hashes on behalf of the caller.
func NewCredentialStore(records []*auth.CredentialRecord) *CredentialStore {
	s := &CredentialStore{
		byID:   make(map[string]*auth.CredentialRecord, len(records)),
		byHash: make(map[string]*auth.CredentialRecord, len(records)),
	}
	for _, r := range records {
		s.byID[r.ID] = r
		s.byHash[r.Credential] = r
	}
	return s
}

// FindByID implements auth.CredentialStore.
func (s *CredentialStore) FindByID(_ context.Context, id string) (*auth.CredentialRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byID[id]
	return r, ok
}

// FindBySecret implements auth.CredentialStore. It first tries the
// SHA-256 fast-path hash of the presented secret, then falls back to a
// linear Argon2id comparison against every configured record, mirroring
// the teacher's API-key validation fallback.
func (s *CredentialStore) FindBySecret(_ context.Context, presented string) (*auth.CredentialRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if r, ok := s.byHash[auth.HashSecret(presented)]; ok {
		return r, true
	}
	for _, r := range s.byID {
		ok, err := auth.VerifySecret(presented, r.Credential)
		if err == nil && ok {
			return r, true
		}
	}
	return nil, false
}

// All implements auth.CredentialStore.
func (s *CredentialStore) All(_ context.Context) []*auth.CredentialRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*auth.CredentialRecord, 0, len(s.byID))
	for _, r := range s.byID {
		out = append(out, r)
	}
	return out
}
