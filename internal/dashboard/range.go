package dashboard

import (
	"time"

	"watchdata/internal/models"
)

// DefaultRangeDays is the length of the fallback range.
const DefaultRangeDays = 30

// Range is an inclusive span of calendar dates.
type Range struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// DefaultRange is the last DefaultRangeDays days ending on the UTC date of now.
func DefaultRange(now time.Time) Range {
	to := now.UTC()
	return Range{
		From: to.AddDate(0, 0, -(DefaultRangeDays - 1)).Format(models.DateLayout),
		To:   to.Format(models.DateLayout),
	}
}

// ParseRange validates query parameters. Anything missing, malformed or
// reversed falls back to DefaultRange.
func ParseRange(from, to string, now time.Time) Range {
	f, errFrom := time.Parse(models.DateLayout, from)
	t, errTo := time.Parse(models.DateLayout, to)
	if errFrom != nil || errTo != nil || f.After(t) {
		return DefaultRange(now)
	}
	return Range{From: from, To: to}
}

// Days returns the number of dates in r.
func (r Range) Days() int {
	f, t := r.bounds()
	return int(t.Sub(f).Hours()/24) + 1
}

// Previous is the range of equal length ending the day before r starts.
func (r Range) Previous() Range {
	f, _ := r.bounds()
	prevTo := f.AddDate(0, 0, -1)
	prevFrom := prevTo.AddDate(0, 0, -(r.Days() - 1))
	return Range{From: prevFrom.Format(models.DateLayout), To: prevTo.Format(models.DateLayout)}
}

// Dates lists every date of r in order.
func (r Range) Dates() []string {
	f, t := r.bounds()
	var out []string
	for d := f; !d.After(t); d = d.AddDate(0, 0, 1) {
		out = append(out, d.Format(models.DateLayout))
	}
	return out
}

func (r Range) bounds() (time.Time, time.Time) {
	f, _ := time.Parse(models.DateLayout, r.From)
	t, _ := time.Parse(models.DateLayout, r.To)
	return f, t
}
