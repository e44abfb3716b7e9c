// Package schedule computes recurring host-run times for hosted games.
//
// All times are in host time: minutes since the Unix epoch, UTC. A game owns
// an ordered list of schedules; the head is the current one and is discarded
// once its expiry condition is met for the game's current turn or time.
package schedule

import "time"

// Time is a host-time instant in minutes since the Unix epoch, UTC.
type Time int64

// MinutesPerDay is the length of a schedule day.
const MinutesPerDay = 1440

// FromGoTime converts a wall-clock instant to host time.
func FromGoTime(t time.Time) Time {
	return Time(t.Unix() / 60)
}

// GoTime converts a host-time instant back to a wall-clock instant.
func (t Time) GoTime() time.Time {
	return time.Unix(int64(t)*60, 0).UTC()
}

// Weekday reports the day of week of a host-time instant.
func (t Time) Weekday() time.Weekday {
	return dayWeekday(int64(t) / MinutesPerDay)
}

// dayWeekday maps a day number (days since epoch) to its weekday.
// The epoch day, 1970-01-01, was a Thursday.
func dayWeekday(day int64) time.Weekday {
	return time.Weekday((day + 4) % 7)
}

// WeekdaySet is a set of weekdays, one bit per time.Weekday value.
type WeekdaySet uint8

// Days builds a WeekdaySet from individual weekdays.
func Days(days ...time.Weekday) WeekdaySet {
	var s WeekdaySet
	for _, d := range days {
		s |= 1 << uint(d)
	}
	return s
}

// Contains reports whether the set includes the given weekday.
func (s WeekdaySet) Contains(d time.Weekday) bool {
	return s&(1<<uint(d)) != 0
}

// Kind selects the recurrence rule of a schedule.
type Kind int

const (
	// Stopped disables hosting entirely.
	Stopped Kind = iota
	// Quick hosts as soon as all turns are in; there is no recurring run.
	Quick
	// Manual hosts only on explicit operator request.
	Manual
	// Daily hosts every Interval days at Daytime.
	Daily
	// Weekly hosts on the weekdays in Weekdays at Daytime.
	Weekly
)

// String returns the lowercase label of the schedule kind.
func (k Kind) String() string {
	switch k {
	case Stopped:
		return "stopped"
	case Quick:
		return "quick"
	case Manual:
		return "manual"
	case Daily:
		return "daily"
	case Weekly:
		return "weekly"
	default:
		return "unknown"
	}
}

// Condition selects the expiry rule of a schedule.
type Condition int

const (
	// ConditionNone never expires.
	ConditionNone Condition = iota
	// ConditionTurn expires strictly after the target turn has been hosted.
	ConditionTurn
	// ConditionTime expires at or after the target host time.
	ConditionTime
)

// Schedule describes one recurring host-run rule.
//
// Only the fields matching Kind are read by the algorithms: Weekdays for
// Weekly, Interval for Daily. Callers are trusted to populate the field
// matching the kind they set.
type Schedule struct {
	Kind     Kind
	Weekdays WeekdaySet // Weekly only
	Interval int        // days between runs, Daily only
	Daytime  int        // minutes after midnight

	HostEarly bool // host as soon as all turns are in
	HostDelay int  // minutes to wait after the last turn before an early host
	HostLimit int  // minutes a run may be late before it is skipped

	Condition    Condition
	ConditionArg int64 // turn number (ConditionTurn) or Time (ConditionTime)
}

// NextHost returns the earliest valid run time at or after now, or 0 when
// the schedule has no recurring run (Stopped, Quick, Manual).
//
// When now is more than HostLimit past the previous scheduled run, that
// cadence is considered missed and the run after it is returned instead.
func (s Schedule) NextHost(now Time) Time {
	switch s.Kind {
	case Daily:
		if s.Interval <= 0 {
			return 0
		}
		prev := s.PreviousHost(now)
		next := prev + Time(s.Interval)*MinutesPerDay
		if now-prev > Time(s.HostLimit) {
			next += Time(s.Interval) * MinutesPerDay
		}
		return next
	case Weekly:
		if s.Weekdays == 0 {
			return 0
		}
		prev := s.PreviousHost(now)
		// Scan forward day by day. 14 days cover any weekday pattern even
		// when one cadence is skipped by the drift rule.
		t := prev
		for i := 0; i < 14; i++ {
			t += MinutesPerDay
			if !s.Weekdays.Contains(t.Weekday()) {
				continue
			}
			if now-prev > Time(s.HostLimit) {
				prev = t
				continue
			}
			return t
		}
		return 0
	default:
		return 0
	}
}

// PreviousHost returns the latest scheduled run time at or before now, or 0
// when the schedule has no recurring run.
func (s Schedule) PreviousHost(now Time) Time {
	switch s.Kind {
	case Daily:
		if s.Interval <= 0 {
			return 0
		}
		step := Time(s.Interval) * MinutesPerDay
		t := now - Time(s.Daytime)
		if t < 0 {
			return 0
		}
		return (t/step)*step + Time(s.Daytime)
	case Weekly:
		if s.Weekdays == 0 {
			return 0
		}
		day := int64(now) / MinutesPerDay
		if int64(now)%MinutesPerDay < int64(s.Daytime) {
			day--
		}
		for i := int64(0); i < 14; i++ {
			d := day - i
			if s.Weekdays.Contains(dayWeekday(d)) {
				return Time(d*MinutesPerDay + int64(s.Daytime))
			}
		}
		return 0
	default:
		return 0
	}
}

// PreviousVirtualHost returns a synthetic previous run time for a schedule
// that has just been installed or changed. Anchoring the cadence at this
// value makes the next computed run land near now instead of hosting
// immediately or far in the future.
func (s Schedule) PreviousVirtualHost(now Time) Time {
	t := now - Time(s.HostLimit) - 1
	if s.Kind == Daily && s.Interval > 1 {
		t -= Time(s.Interval-1) * MinutesPerDay
	}
	return s.PreviousHost(t)
}

// IsExpired reports whether this schedule is exhausted for the given game
// turn and host time. A Turn condition expires strictly after the target
// turn; a Time condition expires at or after the target time, inclusive.
func (s Schedule) IsExpired(turn int32, now Time) bool {
	switch s.Condition {
	case ConditionTurn:
		return int64(turn) > s.ConditionArg
	case ConditionTime:
		return int64(now) >= s.ConditionArg
	default:
		return false
	}
}

// AllowsTemporaryTurns reports whether marking a turn temporary is
// meaningful under this schedule: either hosting waits for all turns
// (Quick), or an early host leaves a real resubmission window.
func (s Schedule) AllowsTemporaryTurns() bool {
	if s.Kind == Quick {
		return true
	}
	return s.HostEarly && s.HostDelay >= 5
}
