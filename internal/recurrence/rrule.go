package recurrence

import (
	"time"

	"github.com/teambition/rrule-go"
)

var rruleWeekdays = [7]rrule.Weekday{
	rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA,
}

// RuleSet returns an RFC 5545 rule set producing the same dates as
// OccursOn, with occurrences at midnight UTC. ok is false when the set
// would be empty (for example an end date before the anchor).
func (e Event) RuleSet() (set *rrule.Set, ok bool, err error) {
	return e.ruleSet(e.anchor.In(time.UTC))
}

// RRule returns the RRULE value (without the "RRULE:" prefix) for e with
// instances at the clock time of start, plus the extra RDATE, if any,
// that must accompany it. start should fall on the anchor date.
func (e Event) RRule(start time.Time) (rule string, rdate *time.Time, err error) {
	set, ok, err := e.ruleSet(start)
	if err != nil || !ok {
		return "", nil, err
	}
	if r := set.GetRRule(); r != nil {
		rule = r.OrigOptions.RRuleString()
	}
	if rd := set.GetRDate(); len(rd) > 0 {
		t := rd[0]
		rdate = &t
	}
	return rule, rdate, nil
}

func (e Event) ruleSet(dtstart time.Time) (*rrule.Set, bool, error) {
	p := e.pattern

	if until, hasUntil := p.end.Date(); hasUntil && until.Before(e.anchor) {
		return nil, false, nil
	}

	opt := rrule.ROption{
		Dtstart:  dtstart,
		Interval: p.interval,
		Wkst:     rrule.SU,
	}

	// An explicit weekday set that skips the anchor's weekday still starts
	// on the anchor; carry it as an RDATE and let the rule count the rest.
	extraAnchor := false

	switch p.freq {
	case Daily:
		opt.Freq = rrule.DAILY
	case Weekly:
		opt.Freq = rrule.WEEKLY
		if p.days != 0 {
			for _, d := range p.days.Days() {
				opt.Byweekday = append(opt.Byweekday, rruleWeekdays[d])
			}
			extraAnchor = !p.days.Has(e.anchor.Weekday())
		}
	case Monthly:
		opt.Freq = rrule.MONTHLY
		if e.anchor.Day > 28 {
			for d := 28; d <= e.anchor.Day; d++ {
				opt.Bymonthday = append(opt.Bymonthday, d)
			}
			opt.Bysetpos = []int{-1}
		}
	}

	withRule := true
	if until, hasUntil := p.end.Date(); hasUntil {
		// Inclusive through the end of the day so timed instances survive.
		opt.Until = until.AddDays(1).In(dtstart.Location()).Add(-time.Second)
	}
	if n, hasCount := p.end.Count(); hasCount {
		if extraAnchor {
			n--
		}
		withRule = n > 0
		opt.Count = n
	}

	set := &rrule.Set{}
	if withRule {
		r, err := rrule.NewRRule(opt)
		if err != nil {
			return nil, false, err
		}
		set.RRule(r)
	}
	if extraAnchor {
		set.RDate(dtstart)
	}
	return set, true, nil
}
