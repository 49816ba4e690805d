package query

import "time"

const DefaultWindowDays = 7

// DefaultWindowEscalation is tried in order when a window has no rows.
var DefaultWindowEscalation = []int{7, 30, 90}

// windowSequence returns the requested length followed by every escalation
// length strictly larger than the last one tried.
func windowSequence(requested int, escalation []int) []int {
	if requested <= 0 {
		requested = DefaultWindowDays
	}
	seq := []int{requested}
	for _, days := range escalation {
		if days > seq[len(seq)-1] {
			seq = append(seq, days)
		}
	}
	return seq
}

// windowEndingAt returns the inclusive range of days ending on anchor.
func windowEndingAt(anchor time.Time, days int) Window {
	to := truncateDay(anchor)
	return Window{From: to.AddDate(0, 0, -(days - 1)), To: to, Days: days}
}

// Previous is the equal-length window that ends the day before w starts.
func (w Window) Previous() Window {
	return windowEndingAt(w.From.AddDate(0, 0, -1), w.Days)
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
