package wire

import "time"

// daysFromCivil implements Howard Hinnant's days-from-civil algorithm,
// valid across the full proleptic Gregorian calendar. y/m/d is a UTC
// calendar date (m in [1,12], d in [1,31]); the result is the number of
// days since 1970-01-01.
func daysFromCivil(y int64, m, d uint) int64 {
	y -= boolToInt64(m <= 2)
	era := y
	if y < 0 {
		era -= 399
	}
	era /= 400
	yoe := y - era*400 // [0, 399]
	mp := (int64(m) + 9) % 12
	doy := (153*mp+2)/5 + int64(d) - 1 // [0, 365]
	doe := yoe*365 + yoe/4 - yoe/100 + doy // [0, 146096]
	return era*146097 + doe - 719468
}

func boolToInt64(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// civilDateTimeTag computes the 0x0F DateTime tag payload (microseconds
// within the second, second, minute, hour, day, month-1, year-1900) for
// t, converted to UTC.
// The civil-calendar math (day/month/year) uses Hinnant's algorithm
// applied to t's Unix day count so the conversion stays correct outside
// the range time.Time's own Date() method is commonly exercised for.
func civilDateTimeTag(t time.Time) (microseconds uint32, second, minute, hour, day, monthMinus1, yearMinus1900 uint8) {
	t = t.UTC()

	microseconds = uint32(t.Nanosecond() / 1000)
	second = uint8(t.Second())
	minute = uint8(t.Minute())
	hour = uint8(t.Hour())

	unixSecs := t.Unix()
	days := unixSecs / 86400
	if unixSecs%86400 < 0 {
		days-- // floor division for instants before the epoch
	}
	y, m, d := civilFromDays(days)
	day = uint8(d)
	monthMinus1 = uint8(m - 1)
	yearMinus1900 = uint8((y - 1900) & 0xFF) // wraps in 2156
	return
}

// civilFromDays is the inverse of daysFromCivil: given a day count since
// the epoch, returns the UTC civil (year, month, day). Included so the
// tag builder and any future consumer share one canonical conversion
// path rather than trusting time.Time's calendar math for extreme dates.
func civilFromDays(z int64) (y int64, m, d uint) {
	z += 719468
	era := z
	if z < 0 {
		era -= 146096
	}
	era /= 146097
	doe := z - era*146097                                   // [0, 146096]
	yoe := (doe - doe/1460 + doe/36524 - doe/146096) / 365   // [0, 399]
	y = yoe + era*400
	doy := doe - (365*yoe + yoe/4 - yoe/100) // [0, 365]
	mp := (5*doy + 2) / 153                  // [0, 11]
	d = uint(doy - (153*mp+2)/5 + 1)         // [1, 31]
	if mp < 10 {
		m = uint(mp + 3)
	} else {
		m = uint(mp - 9)
	}
	if m <= 2 {
		y++
	}
	return y, m, d
}
