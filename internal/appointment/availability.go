package appointment

import (
	"iter"
	"time"
)

// DefaultWindowDays is how far ahead, today included, a doctor can be booked.
const DefaultWindowDays = 7

// AvailableDate is a calendar date on which a doctor works and still has at
// least one free slot.
type AvailableDate struct {
	Weekday time.Weekday
	Date    time.Time
}

// String renders the date as the booking desk lists it, e.g. "Monday - 12/10/2026".
func (d AvailableDate) String() string {
	return d.Weekday.String() + " - " + d.Date.Format(displayLayout)
}

// availableDates walks windowDays calendar dates starting at today and yields
// those whose weekday is in days and which full reports as not fully booked.
// The sequence holds no state of its own, so ranging over it again recomputes
// it against the current ledger.
func availableDates(days WeekdaySet, today time.Time, windowDays int, full func(time.Time) bool) iter.Seq[AvailableDate] {
	return func(yield func(AvailableDate) bool) {
		if days.Empty() {
			return
		}
		for i := 0; i < windowDays; i++ {
			date := today.AddDate(0, 0, i)
			if !days.Has(date.Weekday()) || full(date) {
				continue
			}
			if !yield(AvailableDate{Weekday: date.Weekday(), Date: date}) {
				return
			}
		}
	}
}

// AvailableDates lists the dates in the booking window on which doctor can
// still take an appointment. The doctor's lock is held only while each date's
// ledger entry is read.
func (s *Scheduler) AvailableDates(doctor Doctor) iter.Seq[AvailableDate] {
	full := func(date time.Time) bool {
		book := s.peekDoctor(doctor.ID)
		if book == nil {
			return false
		}
		book.mu.Lock()
		defer book.mu.Unlock()
		return book.ledger.FullyBooked(date)
	}
	return availableDates(doctor.AvailableDays, s.today(), s.cfg.WindowDays, full)
}

// AvailableTimes returns the daily slots not yet reserved for doctor on date.
// It is empty when the day is fully booked, and also for dates outside the
// booking window or on the doctor's days off, since nothing there can be
// scheduled.
func (s *Scheduler) AvailableTimes(doctor Doctor, date time.Time) []SlotTime {
	date = DateOf(date, s.cfg.Location)
	if !s.bookable(doctor, date) {
		return []SlotTime{}
	}
	book := s.peekDoctor(doctor.ID)
	if book == nil {
		return NewLedger().Free(date)
	}
	book.mu.Lock()
	defer book.mu.Unlock()
	return book.ledger.Free(date)
}

// selection validates that (date, t) lies inside doctor's computed
// availability window and returns the instant it denotes. Whether the slot
// is still free is the ledger's call, not this one.
func (s *Scheduler) selection(doctor Doctor, date time.Time, t SlotTime) (time.Time, error) {
	date = DateOf(date, s.cfg.Location)
	invalid := &SlotError{DoctorID: doctor.ID, Date: date, Time: t, Err: ErrInvalidSlotSelection}

	if !t.Valid() {
		return time.Time{}, invalid
	}
	if !s.bookable(doctor, date) {
		return time.Time{}, invalid
	}
	return t.On(date), nil
}

// bookable reports whether date lies in the booking window and on one of the
// doctor's working days. date must already be a calendar date.
func (s *Scheduler) bookable(doctor Doctor, date time.Time) bool {
	today := s.today()
	last := today.AddDate(0, 0, s.cfg.WindowDays)
	if date.Before(today) || !date.Before(last) {
		return false
	}
	return doctor.AvailableDays.Has(date.Weekday())
}
