package period

import "time"

// addCalendar adds units of rt to t using calendar-correct arithmetic:
// month/year addition preserves day-of-month when legal and clamps to the
// target month's last day otherwise. Hour/day/week addition is a fixed
// offset. Occurrences are computed in t's own location, so a period
// recurring monthly always lands on the same wall-clock hour it started at.
func addCalendar(t time.Time, rt RepeatType, units int64) time.Time {
	switch rt {
	case RepeatNone:
		return t
	case RepeatHour:
		return t.Add(time.Duration(units) * time.Hour)
	case RepeatDay:
		return t.AddDate(0, 0, int(units))
	case RepeatWeek:
		return t.AddDate(0, 0, int(units)*7)
	case RepeatMonth:
		return addMonthsClamped(t, units)
	case RepeatYear:
		return addMonthsClamped(t, units*12)
	default:
		return t
	}
}

// addMonthsClamped adds the given number of months to t, clamping the
// day-of-month to the target month's length (e.g. Jan 31 + 1 month = Feb 28
// or Feb 29, never Mar 2/3 as time.Time.AddDate would produce).
func addMonthsClamped(t time.Time, months int64) time.Time {
	year, month, day := t.Date()
	hour, min, sec := t.Clock()
	nsec := t.Nanosecond()
	loc := t.Location()

	totalMonths := int64(month) - 1 + months
	targetYear := year + int(totalMonths/12)
	targetMonthIdx := int(totalMonths % 12)
	if targetMonthIdx < 0 {
		targetMonthIdx += 12
		targetYear--
	}
	targetMonth := time.Month(targetMonthIdx + 1)

	if last := daysInMonth(targetYear, targetMonth); day > last {
		day = last
	}
	return time.Date(targetYear, targetMonth, day, hour, min, sec, nsec, loc)
}

func daysInMonth(year int, month time.Month) int {
	// Day 0 of the following month is the last day of this month.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// approxUnitSeconds gives a fixed-length approximation of one repeat unit,
// used only to seed the occurrence-index search window in period.go —
// never for exact arithmetic.
func approxUnitSeconds(rt RepeatType) float64 {
	const day = 86400.0
	switch rt {
	case RepeatHour:
		return 3600
	case RepeatDay:
		return day
	case RepeatWeek:
		return 7 * day
	case RepeatMonth:
		return 30.436875 * day
	case RepeatYear:
		return 365.2425 * day
	default:
		return 0
	}
}
