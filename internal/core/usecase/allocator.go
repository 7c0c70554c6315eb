package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/kirillkom/immigration-intake/internal/core/domain"
	"github.com/kirillkom/immigration-intake/internal/core/ports"
)

const DefaultAppointmentLocation = "Immigration Office - Main Building"

const (
	AllocationBooked    = "booked"
	AllocationExhausted = "exhausted"
	AllocationFailed    = "failed"
)

type SlotAllocator struct {
	store    ports.SlotStore
	location string
	now      func() time.Time
	observer ports.PipelineObserver
}

func NewSlotAllocator(store ports.SlotStore, location string, observer ports.PipelineObserver) *SlotAllocator {
	if location == "" {
		location = DefaultAppointmentLocation
	}
	return &SlotAllocator{
		store:    store,
		location: location,
		now:      time.Now,
		observer: observer,
	}
}

func (a *SlotAllocator) NextAvailable(ctx context.Context) (*domain.Slot, error) {
	slot, err := a.store.NextAvailable(ctx, a.now())
	if err != nil {
		return nil, fmt.Errorf("next available slot: %w", err)
	}
	return slot, nil
}

// Allocate books the earliest future slot for the request. A nil appointment with a nil error
// means no slot had capacity left.
func (a *SlotAllocator) Allocate(ctx context.Context, req *domain.Request) (*domain.Appointment, error) {
	if req == nil || req.ID <= 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "allocate slot", fmt.Errorf("request id is required"))
	}

	appointment, err := a.store.Book(ctx, domain.Booking{
		RequestID:         req.ID,
		Location:          a.location,
		RequiredDocuments: req.RequiredDocuments,
		Now:               a.now(),
	})
	if err != nil {
		a.observe(AllocationFailed)
		return nil, fmt.Errorf("book slot: %w", err)
	}
	if appointment == nil {
		a.observe(AllocationExhausted)
		return nil, nil
	}
	a.observe(AllocationBooked)
	return appointment, nil
}

func (a *SlotAllocator) observe(result string) {
	if a.observer != nil {
		a.observer.ObserveAllocation(result)
	}
}
