// AngelaMos | 2026
// store_memory.go

package credential

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/carterperez-dev/templates/credential-engine/internal/core"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps credentials in process memory behind a single mutex.
// Every method is atomic with respect to every other.
type MemoryStore struct {
	mu       sync.RWMutex
	byID     map[string]*Credential
	byDigest map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:     make(map[string]*Credential),
		byDigest: make(map[string]string),
	}
}

func (s *MemoryStore) Put(_ context.Context, c *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.putLocked(c)
}

func (s *MemoryStore) putLocked(c *Credential) error {
	if _, ok := s.byDigest[c.SecretDigest]; ok {
		return fmt.Errorf("put credential: %w", ErrDuplicateDigest)
	}
	if _, ok := s.byID[c.ID]; ok {
		return fmt.Errorf("put credential: %w", core.ErrDuplicateKey)
	}

	stored := cloneCredential(c)
	s.byID[c.ID] = stored
	s.byDigest[c.SecretDigest] = c.ID

	return nil
}

func (s *MemoryStore) FindByDigest(
	_ context.Context,
	digest string,
) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byDigest[digest]
	if !ok {
		return nil, fmt.Errorf("find credential: %w", core.ErrNotFound)
	}

	return cloneCredential(s.byID[id]), nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("delete credential: %w", core.ErrNotFound)
	}

	delete(s.byDigest, c.SecretDigest)
	delete(s.byID, id)

	return nil
}

func (s *MemoryStore) UpdateMany(
	_ context.Context,
	f Filter,
	p Patch,
) (int64, error) {
	if f.empty() {
		return 0, fmt.Errorf("update credentials: empty filter: %w", ErrInvalidOptions)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, c := range s.byID {
		if !f.matches(c) {
			continue
		}
		p.apply(c)
		n++
	}

	return n, nil
}

func (s *MemoryStore) ListActive(
	_ context.Context,
	principalID string,
	now time.Time,
) ([]Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Credential, 0)
	for _, c := range s.byID {
		if c.PrincipalID == principalID && c.IsLiveAt(now) {
			out = append(out, *cloneCredential(c))
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	return out, nil
}

func (s *MemoryStore) Swap(
	_ context.Context,
	oldID string,
	next *Credential,
	p Patch,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.byID[oldID]
	if !ok {
		return fmt.Errorf("swap credential: %w", ErrStaleRecord)
	}
	if old.Revoked {
		return fmt.Errorf("swap credential: %w", ErrStaleRecord)
	}
	if _, dup := s.byDigest[next.SecretDigest]; dup {
		return fmt.Errorf("swap credential: %w", ErrDuplicateDigest)
	}
	if _, dup := s.byID[next.ID]; dup {
		return fmt.Errorf("swap credential: %w", core.ErrDuplicateKey)
	}

	p.apply(old)

	return s.putLocked(next)
}

func (s *MemoryStore) DeleteExpired(
	_ context.Context,
	before time.Time,
) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, c := range s.byID {
		if c.ExpiresAt.Before(before) {
			delete(s.byDigest, c.SecretDigest)
			delete(s.byID, id)
			n++
		}
	}

	return n, nil
}

func cloneCredential(c *Credential) *Credential {
	out := *c
	out.Device.UserAgent = clonePtr(c.Device.UserAgent)
	out.Device.IP = clonePtr(c.Device.IP)
	out.RevokedAt = clonePtr(c.RevokedAt)
	out.RevokeReason = clonePtr(c.RevokeReason)
	out.FamilyID = clonePtr(c.FamilyID)
	return &out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
