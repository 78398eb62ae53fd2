package appointment

import "time"

// Ledger records which daily slots are taken on one doctor's calendar, keyed
// by calendar date. A (date, time) pair is present at most once.
//
// Ledger does no locking of its own; the scheduler only touches a doctor's
// ledger while holding that doctor's lock.
type Ledger struct {
	dates map[string]map[SlotTime]struct{}
}

func NewLedger() *Ledger {
	return &Ledger{dates: make(map[string]map[SlotTime]struct{})}
}

// IsFree is true when nothing is reserved at t on date. A date the ledger has
// never seen is trivially free.
func (l *Ledger) IsFree(date time.Time, t SlotTime) bool {
	_, taken := l.dates[dateKey(date)][t]
	return !taken
}

// Reserve adds t to the date's reserved set, creating the date entry when
// needed. It returns false if t was already reserved.
func (l *Ledger) Reserve(date time.Time, t SlotTime) bool {
	key := dateKey(date)
	times, ok := l.dates[key]
	if !ok {
		times = make(map[SlotTime]struct{}, SlotsPerDay)
		l.dates[key] = times
	}
	if _, taken := times[t]; taken {
		return false
	}
	times[t] = struct{}{}
	return true
}

// Release frees t on date and reports whether it had been reserved.
func (l *Ledger) Release(date time.Time, t SlotTime) bool {
	key := dateKey(date)
	times, ok := l.dates[key]
	if !ok {
		return false
	}
	if _, taken := times[t]; !taken {
		return false
	}
	delete(times, t)
	if len(times) == 0 {
		delete(l.dates, key)
	}
	return true
}

func (l *Ledger) BookedCount(date time.Time) int {
	return len(l.dates[dateKey(date)])
}

func (l *Ledger) FullyBooked(date time.Time) bool {
	return l.BookedCount(date) >= SlotsPerDay
}

// Booked returns the reserved times on date in chronological order.
func (l *Ledger) Booked(date time.Time) []SlotTime {
	times := l.dates[dateKey(date)]
	out := make([]SlotTime, 0, len(times))
	for _, s := range DailySlots {
		if _, ok := times[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Free returns the daily slots still open on date in chronological order.
func (l *Ledger) Free(date time.Time) []SlotTime {
	times := l.dates[dateKey(date)]
	out := make([]SlotTime, 0, SlotsPerDay-len(times))
	for _, s := range DailySlots {
		if _, taken := times[s]; !taken {
			out = append(out, s)
		}
	}
	return out
}
