package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/aretw0/concierge/pkg/domain"
	"github.com/aretw0/concierge/pkg/ports"
	"github.com/aretw0/concierge/pkg/policy"
	"github.com/aretw0/concierge/pkg/registry"
)

// Booking is a reservation held by Bookings.
type Booking struct {
	ID        string
	Args      map[string]any
	Cancelled bool
}

// Bookings is an in-process booking backend serving the built-in catalog
// tools. Each date and time holds up to Capacity bookings.
type Bookings struct {
	mu       sync.Mutex
	capacity int
	seq      int
	bookings map[string]*Booking
	byKey    map[string]string
	taken    map[string]int
}

// NewBookings creates a backend with the given per-slot capacity.
func NewBookings(capacity int) *Bookings {
	if capacity <= 0 {
		capacity = 1
	}
	return &Bookings{
		capacity: capacity,
		bookings: make(map[string]*Booking),
		byKey:    make(map[string]string),
		taken:    make(map[string]int),
	}
}

// Register adds the catalog tools to reg.
func (b *Bookings) Register(reg *registry.Registry) {
	reg.RegisterFunc(policy.ToolCheckAvailability, b.check)
	reg.RegisterFunc(policy.ToolCreateBooking, b.create)
	reg.RegisterFunc(policy.ToolCancelBooking, b.cancel)
}

// Get returns a copy of a booking.
func (b *Bookings) Get(id string) (Booking, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bk, ok := b.bookings[id]
	if !ok {
		return Booking{}, false
	}
	return *bk, true
}

func slotKey(args map[string]any) string {
	return fmt.Sprintf("%v %v", args["date"], args["time"])
}

func (b *Bookings) check(_ context.Context, req ports.ToolRequest) (ports.ToolResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return ports.ToolResponse{
		Status:  domain.ToolSucceeded,
		Payload: map[string]any{"available": b.taken[slotKey(req.Args)] < b.capacity},
	}, nil
}

func (b *Bookings) create(_ context.Context, req ports.ToolRequest) (ports.ToolResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if id, ok := b.byKey[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return ports.ToolResponse{Status: domain.ToolSucceeded, Payload: map[string]any{"booking_id": id}}, nil
	}
	slot := slotKey(req.Args)
	if b.taken[slot] >= b.capacity {
		return ports.ToolResponse{Status: domain.ToolFailedPermanent, Error: "slot is fully booked"}, nil
	}

	b.seq++
	id := fmt.Sprintf("B-%03d", b.seq)
	args := make(map[string]any, len(req.Args))
	for k, v := range req.Args {
		args[k] = v
	}
	b.bookings[id] = &Booking{ID: id, Args: args}
	b.byKey[req.IdempotencyKey] = id
	b.taken[slot]++
	return ports.ToolResponse{Status: domain.ToolSucceeded, Payload: map[string]any{"booking_id": id}}, nil
}

func (b *Bookings) cancel(_ context.Context, req ports.ToolRequest) (ports.ToolResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := fmt.Sprint(req.Args["booking_id"])
	bk, ok := b.bookings[id]
	if !ok {
		return ports.ToolResponse{Status: domain.ToolFailedPermanent, Error: "unknown booking " + id}, nil
	}
	if !bk.Cancelled {
		bk.Cancelled = true
		b.taken[slotKey(bk.Args)]--
	}
	return ports.ToolResponse{Status: domain.ToolSucceeded, Payload: map[string]any{"cancelled": id}}, nil
}
