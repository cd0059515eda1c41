// Package memory provides in-process store implementations backed by maps.
// Used for tests and for single-node deployments that settle durability
// externally.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/veritaslabs/yieldengine/internal/domain"
	"github.com/veritaslabs/yieldengine/internal/persistence"
)

// Store implements every persistence interface behind a single mutex, which
// makes ClaimStore.Create's record-write-plus-credit trivially atomic.
type Store struct {
	mu       sync.RWMutex
	accounts map[string]persistence.Account
	capsules map[string][]domain.Capsule
	claims   map[string]persistence.ClaimRecord // keyed account|period
	stakes   map[string]persistence.StakePosition
	vault    *persistence.VaultSnapshot
}

// NewStore creates an empty in-memory store
func NewStore() *Store {
	return &Store{
		accounts: make(map[string]persistence.Account),
		capsules: make(map[string][]domain.Capsule),
		claims:   make(map[string]persistence.ClaimRecord),
		stakes:   make(map[string]persistence.StakePosition),
	}
}

func claimKey(accountID, periodID string) string {
	return accountID + "|" + periodID
}

// SeedAccount inserts or replaces an account record
func (s *Store) SeedAccount(acct persistence.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[acct.ID] = acct
}

// SeedCapsules replaces the capsule list for a creator
func (s *Store) SeedCapsules(accountID string, capsules []domain.Capsule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capsules[accountID] = append([]domain.Capsule(nil), capsules...)
}

// Get implements persistence.AccountStore
func (s *Store) Get(ctx context.Context, id string) (*persistence.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[id]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return &acct, nil
}

// ListByCreator implements persistence.CapsuleStore
func (s *Store) ListByCreator(ctx context.Context, accountID string) ([]domain.Capsule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]domain.Capsule(nil), s.capsules[accountID]...), nil
}

// Claims returns a ClaimStore view of the store
func (s *Store) Claims() persistence.ClaimStore { return (*claimStore)(s) }

// Stakes returns a StakeStore view of the store
func (s *Store) Stakes() persistence.StakeStore { return (*stakeStore)(s) }

// Vault returns a VaultStore view of the store
func (s *Store) Vault() persistence.VaultStore { return (*vaultStore)(s) }

type claimStore Store

func (s *claimStore) Get(ctx context.Context, accountID, periodID string) (*persistence.ClaimRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.claims[claimKey(accountID, periodID)]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return &rec, nil
}

func (s *claimStore) Create(ctx context.Context, rec persistence.ClaimRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := claimKey(rec.AccountID, rec.PeriodID)
	if _, exists := s.claims[key]; exists {
		return persistence.ErrDuplicateClaim
	}

	s.claims[key] = rec
	if acct, ok := s.accounts[rec.AccountID]; ok {
		acct.ClaimedTotal += rec.Amount
		s.accounts[rec.AccountID] = acct
	}
	return nil
}

func (s *claimStore) ListByAccount(ctx context.Context, accountID string, limit int) ([]persistence.ClaimRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var recs []persistence.ClaimRecord
	for _, rec := range s.claims {
		if rec.AccountID == accountID {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].ClaimedAt.After(recs[j].ClaimedAt) })
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

type stakeStore Store

func (s *stakeStore) Get(ctx context.Context, accountID string) (*persistence.StakePosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, ok := s.stakes[accountID]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return &pos, nil
}

func (s *stakeStore) Upsert(ctx context.Context, pos persistence.StakePosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stakes[pos.AccountID] = pos
	return nil
}

func (s *stakeStore) Delete(ctx context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.stakes, accountID)
	return nil
}

type vaultStore Store

func (s *vaultStore) Load(ctx context.Context) (*persistence.VaultSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.vault == nil {
		return nil, persistence.ErrNotFound
	}
	snap := *s.vault
	return &snap, nil
}

func (s *vaultStore) Save(ctx context.Context, snap persistence.VaultSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.vault = &snap
	return nil
}
