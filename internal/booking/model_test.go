package booking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from    AppointmentStatus
		to      AppointmentStatus
		allowed bool
	}{
		{StatusPending, StatusConfirmed, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusNoShow, true},
		{StatusPending, StatusCompleted, false},
		{StatusConfirmed, StatusCompleted, true},
		{StatusConfirmed, StatusCancelled, true},
		{StatusConfirmed, StatusNoShow, true},
		{StatusConfirmed, StatusPending, false},
		{StatusCancelled, StatusPending, false},
		{StatusCancelled, StatusConfirmed, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusNoShow, StatusConfirmed, false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.allowed, tc.from.CanTransitionTo(tc.to),
			"%s -> %s", tc.from, tc.to)
	}
}

func TestTerminalStatuses(t *testing.T) {
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusConfirmed.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusNoShow.IsTerminal())
}

func TestHoldsSlot(t *testing.T) {
	assert.True(t, StatusPending.HoldsSlot())
	assert.True(t, StatusConfirmed.HoldsSlot())
	assert.False(t, StatusCancelled.HoldsSlot())
	assert.False(t, StatusCompleted.HoldsSlot())
	assert.False(t, StatusNoShow.HoldsSlot())
}

func TestSlotClaimable(t *testing.T) {
	assert.True(t, (&Slot{}).Claimable())
	assert.False(t, (&Slot{IsBooked: true}).Claimable())
	assert.False(t, (&Slot{IsBlocked: true}).Claimable())
}

func TestValidAppointmentType(t *testing.T) {
	assert.True(t, ValidAppointmentType(TypeRegular))
	assert.True(t, ValidAppointmentType(TypeEmergency))
	assert.True(t, ValidAppointmentType(TypeFollowup))
	assert.False(t, ValidAppointmentType(AppointmentType("walk-in")))
	assert.False(t, ValidAppointmentType(AppointmentType("")))
}
