package credential

import (
	"context"
	"errors"
	"sync"

	"github.com/educ8africa/authcore/password"
)

// MemoryStore is a [Store] and [Rehasher] over a map.
type MemoryStore struct {
	hasher *password.Hasher
	dummy  string

	mu         sync.RWMutex
	identities map[string]Identity
}

// NewMemoryStore returns an empty store hashing with hasher.
func NewMemoryStore(hasher *password.Hasher) (*MemoryStore, error) {
	dummy, err := hasher.Hash("unknown-identity-placeholder")
	if err != nil {
		return nil, err
	}
	return &MemoryStore{hasher: hasher, dummy: dummy, identities: make(map[string]Identity)}, nil
}

// Add stores an identity with the given plaintext password.
func (s *MemoryStore) Add(id, tenantID, plaintext string) error {
	hash, err := s.hasher.Hash(plaintext)
	if err != nil {
		return err
	}
	return s.Put(Identity{ID: id, TenantID: tenantID, PasswordHash: hash})
}

// Put stores ident as is, replacing any identity with the same ID.
func (s *MemoryStore) Put(ident Identity) error {
	if ident.ID == "" {
		return errors.New("credential: identity ID is required")
	}
	s.mu.Lock()
	s.identities[ident.ID] = ident
	s.mu.Unlock()
	return nil
}

// SetLocked sets the locked flag of an identity.
func (s *MemoryStore) SetLocked(id string, locked bool) error {
	return s.update(id, func(ident *Identity) { ident.Locked = locked })
}

// SetDisabled sets the disabled flag of an identity.
func (s *MemoryStore) SetDisabled(id string, disabled bool) error {
	return s.update(id, func(ident *Identity) { ident.Disabled = disabled })
}

func (s *MemoryStore) update(id string, fn func(*Identity)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ident, ok := s.identities[id]
	if !ok {
		return ErrIdentityNotFound
	}
	fn(&ident)
	s.identities[id] = ident
	return nil
}

// VerifyPassword implements [Store].
func (s *MemoryStore) VerifyPassword(ctx context.Context, identityID, plaintext string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	ident, ok := s.identities[identityID]
	s.mu.RUnlock()
	if !ok {
		_, _ = s.hasher.Verify(plaintext, s.dummy)
		return false, nil
	}
	return verify(s.hasher, plaintext, ident.PasswordHash)
}

// GetIdentity implements [Store].
func (s *MemoryStore) GetIdentity(ctx context.Context, identityID string) (Identity, error) {
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ident, ok := s.identities[identityID]
	if !ok {
		return Identity{}, ErrIdentityNotFound
	}
	return ident, nil
}

// NeedsRehash implements [Rehasher].
func (s *MemoryStore) NeedsRehash(ctx context.Context, identityID string) (bool, error) {
	ident, err := s.GetIdentity(ctx, identityID)
	if err != nil {
		return false, err
	}
	return s.hasher.NeedsUpgrade(ident.PasswordHash), nil
}

// SetPassword implements [Rehasher].
func (s *MemoryStore) SetPassword(ctx context.Context, identityID, plaintext string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	hash, err := s.hasher.Hash(plaintext)
	if err != nil {
		return err
	}
	return s.update(identityID, func(ident *Identity) { ident.PasswordHash = hash })
}

// verify maps undecodable stored hashes to a plain mismatch.
func verify(h *password.Hasher, plaintext, encoded string) (bool, error) {
	ok, err := h.Verify(plaintext, encoded)
	if errors.Is(err, password.ErrInvalidHash) {
		return false, nil
	}
	return ok, err
}
