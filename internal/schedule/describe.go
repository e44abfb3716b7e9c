package schedule

import "time"

// TimeConfig scales internal host times into the user-facing time unit.
// The hosting service runs on its own minute clock; presentation layers
// decide how that maps to what players see.
type TimeConfig interface {
	UserTime(t Time) int64
}

// Description is the read-only projection of a schedule for presentation.
// Times are already scaled to user-facing units.
type Description struct {
	Kind      Kind
	Weekdays  []time.Weekday
	Interval  int
	Daytime   int
	HostEarly bool
	HostDelay int
	HostLimit int

	Condition Condition
	// ConditionTurn is the target turn, set only for ConditionTurn.
	ConditionTurn int64
	// ConditionTime is the user-scaled target time, set only for ConditionTime.
	ConditionTime int64
}

// Describe projects the schedule into its user-facing description.
func (s Schedule) Describe(tc TimeConfig) Description {
	d := Description{
		Kind:      s.Kind,
		Interval:  s.Interval,
		Daytime:   s.Daytime,
		HostEarly: s.HostEarly,
		HostDelay: s.HostDelay,
		HostLimit: s.HostLimit,
		Condition: s.Condition,
	}
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		if s.Weekdays.Contains(wd) {
			d.Weekdays = append(d.Weekdays, wd)
		}
	}
	switch s.Condition {
	case ConditionTurn:
		d.ConditionTurn = s.ConditionArg
	case ConditionTime:
		if tc != nil {
			d.ConditionTime = tc.UserTime(Time(s.ConditionArg))
		} else {
			d.ConditionTime = s.ConditionArg
		}
	}
	return d
}
