package appointment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLedgerReserveRelease(t *testing.T) {
	l := NewLedger()
	day := time.Date(2026, time.October, 12, 0, 0, 0, 0, time.UTC)

	assert.True(t, l.IsFree(day, "10:00"), "unseen dates are free")
	assert.True(t, l.Reserve(day, "10:00"))
	assert.False(t, l.IsFree(day, "10:00"))
	assert.False(t, l.Reserve(day, "10:00"), "a slot is reserved at most once")
	assert.Equal(t, 1, l.BookedCount(day))
	assert.Equal(t, []SlotTime{"10:00"}, l.Booked(day))

	other := day.AddDate(0, 0, 1)
	assert.True(t, l.IsFree(other, "10:00"), "dates are independent")

	assert.True(t, l.Release(day, "10:00"))
	assert.False(t, l.Release(day, "10:00"))
	assert.False(t, l.Release(other, "11:00"))
	assert.True(t, l.IsFree(day, "10:00"))
	assert.Empty(t, l.dates, "empty date entries are dropped")
}

func TestLedgerFreeAndFullyBooked(t *testing.T) {
	l := NewLedger()
	day := time.Date(2026, time.October, 12, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, DailySlots[:], l.Free(day))

	l.Reserve(day, "13:00")
	l.Reserve(day, "09:00")
	assert.Equal(t, []SlotTime{"09:00", "13:00"}, l.Booked(day))
	assert.NotContains(t, l.Free(day), SlotTime("13:00"))
	assert.Len(t, l.Free(day), SlotsPerDay-2)

	for _, s := range DailySlots {
		l.Reserve(day, s)
	}
	assert.True(t, l.FullyBooked(day))
	assert.Empty(t, l.Free(day))
}
