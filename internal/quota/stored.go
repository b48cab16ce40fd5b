package quota

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dmitrymomot/provisioner/internal/store"
)

// StoredPlans remembers the plan each user authenticates with so that
// admins acting for that user are measured against the user's own tier.
type StoredPlans struct {
	store store.UserPlans
	now   func() time.Time
	seen  sync.Map // user id -> last plan written
}

func NewStoredPlans(s store.UserPlans) *StoredPlans {
	return &StoredPlans{store: s, now: time.Now}
}

// Remember stores plan for userID. Unchanged plans are not rewritten.
func (p *StoredPlans) Remember(ctx context.Context, userID, plan string) error {
	if last, ok := p.seen.Load(userID); ok && last == plan {
		return nil
	}
	if err := p.store.SetUserPlan(ctx, userID, plan, p.now()); err != nil {
		return err
	}
	p.seen.Store(userID, plan)
	return nil
}

// Resolve is a PlanResolver. A user never seen resolves to the default tier.
func (p *StoredPlans) Resolve(ctx context.Context, userID string) (string, error) {
	plan, err := p.store.UserPlan(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	return plan, err
}
