package service

import (
	"context"
	"fmt"
	"time"

	"github.com/iliyamo/branch-reservation/internal/model"
	"github.com/iliyamo/branch-reservation/internal/repository"
)

// Availability overlays the reservations of a branch day on its slot
// calendar.  Reads are outside any transaction, so the answer may be stale
// by the time a create runs; the create's own check is authoritative.
type Availability struct {
	store  repository.Store
	policy Policy
}

func NewAvailability(store repository.Store, policy Policy) *Availability {
	return &Availability{store: store, policy: policy}
}

// Slots lists the slot start times of the day.
func (a *Availability) Slots(_ context.Context, companyID, branchID string, day time.Time) ([]time.Time, error) {
	if companyID == "" || branchID == "" {
		return nil, invalid("branch_id", "company and branch are required")
	}
	return a.policy.Hours.SlotsOn(day), nil
}

// Availability lists every slot of the day with the user holding it.
func (a *Availability) Availability(ctx context.Context, companyID, branchID string, day time.Time) ([]model.SlotAvailability, error) {
	slots, err := a.Slots(ctx, companyID, branchID, day)
	if err != nil {
		return nil, err
	}
	from, to := a.policy.Hours.DayBounds(day)
	rs, err := a.store.List(ctx, repository.Query{
		CompanyID:        companyID,
		BranchID:         branchID,
		From:             from,
		To:               to,
		ExcludeCancelled: true,
	})
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}

	taken := make(map[int64]string, len(rs))
	for _, r := range rs {
		taken[r.ScheduledAt.Unix()] = r.UserID
	}
	out := make([]model.SlotAvailability, 0, len(slots))
	for _, s := range slots {
		sa := model.SlotAvailability{Time: a.policy.Hours.Clock(s), StartsAt: s}
		if uid, ok := taken[s.Unix()]; ok {
			u := uid
			sa.Taken = true
			sa.UserID = &u
		}
		out = append(out, sa)
	}
	return out, nil
}
