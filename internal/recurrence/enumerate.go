package recurrence

// Between returns the occurrence dates of e in the inclusive window
// [from, to], in ascending order.
func (e Event) Between(from, to Date) []Date {
	if from.Before(e.anchor) {
		from = e.anchor
	}
	if until, ok := e.pattern.end.Date(); ok && to.After(until) {
		to = until
	}

	var out []Date
	for d := from; !d.After(to); d = d.AddDays(1) {
		if e.OccursOnDate(d) {
			out = append(out, d)
		}
	}
	return out
}

// Next returns the first occurrence strictly after d, looking at most
// horizon days ahead.
func (e Event) Next(d Date, horizon int) (Date, bool) {
	start := d.AddDays(1)
	if start.Before(e.anchor) {
		start = e.anchor
	}
	for i := 0; i < horizon; i++ {
		c := start.AddDays(i)
		if until, ok := e.pattern.end.Date(); ok && c.After(until) {
			return Date{}, false
		}
		if e.OccursOnDate(c) {
			return c, true
		}
	}
	return Date{}, false
}
