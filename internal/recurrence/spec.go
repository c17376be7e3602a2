package recurrence

import "time"

// Spec is the serializable form of a pattern as clients and the store send
// it. Every field is optional on the wire; Pattern() enforces the
// invariants.
type Spec struct {
	Frequency   string `json:"frequency" yaml:"frequency"`
	Interval    int    `json:"interval" yaml:"interval"`
	DaysOfWeek  []int  `json:"daysOfWeek,omitempty" yaml:"days_of_week,omitempty"`
	EndDate     *Date  `json:"endDate,omitempty" yaml:"end_date,omitempty"`
	Occurrences *int   `json:"occurrences,omitempty" yaml:"occurrences,omitempty"`
}

// Pattern validates s and builds the immutable Pattern.
func (s Spec) Pattern() (Pattern, error) {
	freq, err := ParseFrequency(s.Frequency)
	if err != nil {
		return Pattern{}, invalid("frequency", ErrInvalidFrequency)
	}

	var days Weekdays
	if s.DaysOfWeek != nil {
		if len(s.DaysOfWeek) == 0 || freq != Weekly {
			return Pattern{}, invalid("daysOfWeek", ErrInvalidWeekdaySet)
		}
		for _, d := range s.DaysOfWeek {
			if d < 0 || d > 6 {
				return Pattern{}, invalid("daysOfWeek", ErrInvalidWeekdaySet)
			}
			days |= NewWeekdays(time.Weekday(d))
		}
	}

	end := Never()
	switch {
	case s.EndDate != nil && s.Occurrences != nil:
		return Pattern{}, invalid("endDate", ErrConflictingEndCondition)
	case s.EndDate != nil:
		end = UntilDate(*s.EndDate)
	case s.Occurrences != nil:
		end = AfterCount(*s.Occurrences)
	}

	return NewPattern(freq, s.Interval, days, end)
}

// Spec converts p back to its serializable form.
func (p Pattern) Spec() Spec {
	s := Spec{
		Frequency: p.freq.String(),
		Interval:  p.interval,
	}
	if p.days != 0 {
		s.DaysOfWeek = make([]int, 0, p.days.Len())
		for _, d := range p.days.Days() {
			s.DaysOfWeek = append(s.DaysOfWeek, int(d))
		}
	}
	if d, ok := p.end.Date(); ok {
		s.EndDate = &d
	}
	if n, ok := p.end.Count(); ok {
		s.Occurrences = &n
	}
	return s
}
