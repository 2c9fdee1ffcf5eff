package nightlight

import "time"

// YearStart is Jan 1 00:00 UTC of year.
func YearStart(year int) time.Time {
	return time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
}

// YearWindow is the half open interval [Jan 1 year, Jan 1 year+1).
func YearWindow(year int) (time.Time, time.Time) {
	return YearStart(year), YearStart(year + 1)
}

// YearSpan is [Jan 1 first, Jan 1 last+1).
func YearSpan(first, last int) (time.Time, time.Time) {
	return YearStart(first), YearStart(last + 1)
}
