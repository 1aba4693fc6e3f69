// AngelaMos | 2026
// repository_memory.go

package principal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/carterperez-dev/templates/credential-engine/internal/core"
)

// MemoryRepository backs the memory store driver. State is lost on restart.
type MemoryRepository struct {
	mu      sync.RWMutex
	byID    map[string]*Principal
	byEmail map[string]string
	now     func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:    make(map[string]*Principal),
		byEmail: make(map[string]string),
		now:     time.Now,
	}
}

func (r *MemoryRepository) Create(_ context.Context, p *Principal) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byEmail[p.Email]; ok {
		return fmt.Errorf("create principal: %w", core.ErrDuplicateKey)
	}
	if _, ok := r.byID[p.ID]; ok {
		return fmt.Errorf("create principal: %w", core.ErrDuplicateKey)
	}

	now := r.now()
	p.CreatedAt = now
	p.UpdatedAt = now

	stored := *p
	r.byID[p.ID] = &stored
	r.byEmail[p.Email] = p.ID

	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id string) (*Principal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("get principal: %w", core.ErrNotFound)
	}

	out := *p
	return &out, nil
}

func (r *MemoryRepository) GetByEmail(_ context.Context, email string) (*Principal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[email]
	if !ok {
		return nil, fmt.Errorf("get principal by email: %w", core.ErrNotFound)
	}

	out := *r.byID[id]
	return &out, nil
}

func (r *MemoryRepository) MarkVerified(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("mark principal verified: %w", core.ErrNotFound)
	}

	p.EmailVerified = true
	if p.VerifiedAt == nil {
		p.VerifiedAt = &at
	}
	p.UpdatedAt = r.now()

	return nil
}

func (r *MemoryRepository) UpdatePassword(_ context.Context, id, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("update password: %w", core.ErrNotFound)
	}

	p.PasswordHash = passwordHash
	p.UpdatedAt = r.now()

	return nil
}

func (r *MemoryRepository) Count(_ context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return int64(len(r.byID)), nil
}
