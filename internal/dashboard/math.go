package dashboard

// Delta compares a current value to a previous one. Pct is a percentage and is
// nil when the previous value is zero.
type Delta struct {
	Abs *float64 `json:"abs"`
	Pct *float64 `json:"pct"`
}

// RollingAverage averages each value with the window-1 values before it,
// skipping nils. A position whose window holds no values is nil.
func RollingAverage(values []*float64, window int) []*float64 {
	out := make([]*float64, len(values))
	if window <= 0 {
		return out
	}

	for i := range values {
		var sum float64
		var n int
		for _, v := range values[max(0, i-window+1) : i+1] {
			if v != nil {
				sum += *v
				n++
			}
		}
		if n > 0 {
			avg := sum / float64(n)
			out[i] = &avg
		}
	}
	return out
}

// Compare returns the delta of current against previous. Both fields are nil
// when either side is missing.
func Compare(current, previous *float64) Delta {
	if current == nil || previous == nil {
		return Delta{}
	}
	abs := *current - *previous
	d := Delta{Abs: &abs}
	if *previous != 0 {
		pct := abs / *previous * 100
		d.Pct = &pct
	}
	return d
}
