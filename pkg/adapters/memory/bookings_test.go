package memory_test

import (
	"context"
	"testing"

	"github.com/aretw0/concierge/pkg/adapters/memory"
	"github.com/aretw0/concierge/pkg/domain"
	"github.com/aretw0/concierge/pkg/policy"
	"github.com/aretw0/concierge/pkg/ports"
	"github.com/aretw0/concierge/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func invoke(t *testing.T, reg *registry.Registry, name, key string, args map[string]any) ports.ToolResponse {
	t.Helper()
	target, err := reg.Lookup(name)
	require.NoError(t, err)
	resp, err := target.Invoke(context.Background(), ports.ToolRequest{Name: name, Args: args, IdempotencyKey: key})
	require.NoError(t, err)
	return resp
}

func TestBookings_Lifecycle(t *testing.T) {
	bookings := memory.NewBookings(1)
	reg := registry.NewRegistry()
	bookings.Register(reg)
	slot := map[string]any{"date": "2026-10-15", "time": "19:00", "customer_name": "Ana"}

	resp := invoke(t, reg, policy.ToolCheckAvailability, "k0", slot)
	assert.Equal(t, true, resp.Payload["available"])

	resp = invoke(t, reg, policy.ToolCreateBooking, "k1", slot)
	require.Equal(t, domain.ToolSucceeded, resp.Status)
	id := resp.Payload["booking_id"].(string)
	assert.Equal(t, "B-001", id)

	resp = invoke(t, reg, policy.ToolCreateBooking, "k1", slot)
	assert.Equal(t, id, resp.Payload["booking_id"], "same key returns the same booking")

	resp = invoke(t, reg, policy.ToolCheckAvailability, "k2", slot)
	assert.Equal(t, false, resp.Payload["available"])

	resp = invoke(t, reg, policy.ToolCreateBooking, "k3", slot)
	assert.Equal(t, domain.ToolFailedPermanent, resp.Status)

	resp = invoke(t, reg, policy.ToolCancelBooking, "k4", map[string]any{"booking_id": id})
	assert.Equal(t, domain.ToolSucceeded, resp.Status)
	bk, ok := bookings.Get(id)
	require.True(t, ok)
	assert.True(t, bk.Cancelled)

	resp = invoke(t, reg, policy.ToolCheckAvailability, "k5", slot)
	assert.Equal(t, true, resp.Payload["available"])

	resp = invoke(t, reg, policy.ToolCancelBooking, "k6", map[string]any{"booking_id": "B-999"})
	assert.Equal(t, domain.ToolFailedPermanent, resp.Status)
}
