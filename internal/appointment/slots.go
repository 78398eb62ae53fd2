package appointment

import (
	"fmt"
	"strings"
	"time"
)

// SlotTime is one of the fixed hourly labels a doctor can be booked at, in
// 24-hour "HH:MM" form.
type SlotTime string

// SlotsPerDay is the number of bookable hours on every working day.
const SlotsPerDay = 9

// DailySlots lists every bookable hour in chronological order.
var DailySlots = [SlotsPerDay]SlotTime{
	"09:00", "10:00", "11:00", "12:00", "13:00", "14:00", "15:00", "16:00", "17:00",
}

const (
	dateLayout    = "2006-01-02"
	displayLayout = "02/01/2006"
)

// ParseSlotTime accepts "14:00" as well as the 12-hour "02:00 PM" form used on
// printed schedules.
func ParseSlotTime(raw string) (SlotTime, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{"15:04", "03:04 PM", "3:04 PM"} {
		t, err := time.Parse(layout, strings.ToUpper(raw))
		if err != nil {
			continue
		}
		st := SlotTime(t.Format("15:04"))
		if st.Valid() {
			return st, nil
		}
		return "", fmt.Errorf("%q is not a bookable slot", raw)
	}
	return "", fmt.Errorf("invalid slot time %q", raw)
}

func (t SlotTime) Valid() bool {
	for _, s := range DailySlots {
		if s == t {
			return true
		}
	}
	return false
}

// Label renders the slot the way the front desk reads it, e.g. "01:00 PM".
func (t SlotTime) Label() string {
	parsed, err := time.Parse("15:04", string(t))
	if err != nil {
		return string(t)
	}
	return parsed.Format("03:04 PM")
}

func (t SlotTime) hour() int {
	parsed, err := time.Parse("15:04", string(t))
	if err != nil {
		return -1
	}
	return parsed.Hour()
}

// On returns the instant this slot starts on the given calendar date.
func (t SlotTime) On(date time.Time) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), t.hour(), 0, 0, 0, date.Location())
}

// SlotOf returns the slot an instant falls on, and false when it is not on an
// exact slot boundary.
func SlotOf(at time.Time) (SlotTime, bool) {
	if at.Minute() != 0 || at.Second() != 0 || at.Nanosecond() != 0 {
		return "", false
	}
	st := SlotTime(at.Format("15:04"))
	return st, st.Valid()
}

// ParseDate reads a "YYYY-MM-DD" calendar date in the clinic's time zone.
func ParseDate(raw string, loc *time.Location) (time.Time, error) {
	d, err := time.ParseInLocation(dateLayout, strings.TrimSpace(raw), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", raw)
	}
	return d, nil
}

// DateOf truncates t to midnight of its calendar day in loc.
func DateOf(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

func dateKey(d time.Time) string {
	return d.Format(dateLayout)
}

// WeekdaySet is a set of days of the week a doctor receives patients on.
type WeekdaySet uint8

func NewWeekdaySet(days ...time.Weekday) WeekdaySet {
	var s WeekdaySet
	for _, d := range days {
		s = s.With(d)
	}
	return s
}

func (s WeekdaySet) With(d time.Weekday) WeekdaySet {
	if d < time.Sunday || d > time.Saturday {
		return s
	}
	return s | 1<<uint(d)
}

func (s WeekdaySet) Has(d time.Weekday) bool {
	return s&(1<<uint(d)) != 0
}

func (s WeekdaySet) Empty() bool {
	return s == 0
}

// Days lists the set's members starting from Sunday.
func (s WeekdaySet) Days() []time.Weekday {
	var out []time.Weekday
	for d := time.Sunday; d <= time.Saturday; d++ {
		if s.Has(d) {
			out = append(out, d)
		}
	}
	return out
}

// ParseWeekday accepts full English day names in any case ("MONDAY", "Monday").
func ParseWeekday(raw string) (time.Weekday, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.ToLower(d.String()) == name {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", raw)
}
