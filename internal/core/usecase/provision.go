package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/kirillkom/immigration-intake/internal/core/domain"
	"github.com/kirillkom/immigration-intake/internal/core/ports"
)

// DailySlotTimes are the bookable time labels of one office day.
var DailySlotTimes = []string{"09:00", "10:30", "12:00", "14:00", "15:30"}

const DefaultSlotCapacity = 1

type SlotProvisioner struct {
	store ports.SlotStore
	now   func() time.Time
}

func NewSlotProvisioner(store ports.SlotStore) *SlotProvisioner {
	return &SlotProvisioner{store: store, now: time.Now}
}

// Provision creates slots for the given number of days starting tomorrow. Existing (date, time)
// pairs are left as they are; the returned count covers new slots only.
func (p *SlotProvisioner) Provision(ctx context.Context, days, capacity int) (int, error) {
	if days <= 0 {
		return 0, domain.WrapError(domain.ErrInvalidInput, "provision slots", fmt.Errorf("days must be positive"))
	}
	if capacity <= 0 {
		capacity = DefaultSlotCapacity
	}

	slots := PlanSlots(p.now(), days, capacity)
	created, err := p.store.CreateSlots(ctx, slots)
	if err != nil {
		return 0, fmt.Errorf("create slots: %w", err)
	}
	return created, nil
}

// PlanSlots lays out days x DailySlotTimes in chronological order, which is also the allocation tie-break order.
func PlanSlots(now time.Time, days, capacity int) []domain.Slot {
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
	slots := make([]domain.Slot, 0, days*len(DailySlotTimes))
	for d := 0; d < days; d++ {
		day := start.AddDate(0, 0, d)
		for _, label := range DailySlotTimes {
			at, err := time.ParseInLocation("15:04", label, now.Location())
			if err != nil {
				continue
			}
			slots = append(slots, domain.Slot{
				Date:        time.Date(day.Year(), day.Month(), day.Day(), at.Hour(), at.Minute(), 0, 0, now.Location()),
				TimeLabel:   label,
				MaxCapacity: capacity,
				IsAvailable: true,
			})
		}
	}
	return slots
}
