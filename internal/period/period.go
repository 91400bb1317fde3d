// Package period implements the Period value object: a time window plus an
// optional calendar recurrence and a per-occurrence capacity limit.
package period

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// RepeatType identifies how a Period recurs.
type RepeatType int

const (
	RepeatNone RepeatType = iota
	RepeatHour
	RepeatDay
	RepeatWeek
	RepeatMonth
	RepeatYear
)

func (rt RepeatType) String() string {
	switch rt {
	case RepeatNone:
		return "none"
	case RepeatHour:
		return "hour"
	case RepeatDay:
		return "day"
	case RepeatWeek:
		return "week"
	case RepeatMonth:
		return "month"
	case RepeatYear:
		return "year"
	default:
		return fmt.Sprintf("RepeatType(%d)", int(rt))
	}
}

func (rt RepeatType) valid() bool {
	return rt >= RepeatNone && rt <= RepeatYear
}

const (
	// CapacityUnlimited is the capacity_limit sentinel meaning no cap applies.
	CapacityUnlimited uint64 = math.MaxUint64
	// CapacityForbidden is the capacity_limit sentinel meaning the period
	// never permits a download.
	CapacityForbidden uint64 = 0
)

// ErrInvalidPeriod is the sentinel wrapped by every Period construction
// failure, so callers can errors.Is(err, ErrInvalidPeriod).
var ErrInvalidPeriod = errors.New("invalid period")

// Period is an immutable time window with an optional recurrence.
type Period struct {
	start         time.Time
	end           time.Time
	repeatType    RepeatType
	repeatPeriod  uint32
	capacityLimit uint64
}

// Validate checks start/end ordering and repeat-type/repeat-period
// consistency without constructing a Period.
func Validate(start, end time.Time, repeatType RepeatType, repeatPeriod uint32) error {
	if !repeatType.valid() {
		return fmt.Errorf("%w: unknown repeat type %v", ErrInvalidPeriod, repeatType)
	}
	if (repeatType == RepeatNone) != (repeatPeriod == 0) {
		return fmt.Errorf("%w: repeat_type=%v and repeat_period=%d are inconsistent", ErrInvalidPeriod, repeatType, repeatPeriod)
	}
	if !end.After(start) {
		return fmt.Errorf("%w: end (%s) must be after start (%s)", ErrInvalidPeriod, end, start)
	}
	return nil
}

// New validates and constructs a Period. capacityLimit is stored verbatim;
// CapacityUnlimited/CapacityForbidden are its two sentinel values.
func New(start, end time.Time, repeatType RepeatType, repeatPeriod uint32, capacityLimit uint64) (*Period, error) {
	if err := Validate(start, end, repeatType, repeatPeriod); err != nil {
		return nil, err
	}
	return &Period{
		start:         start,
		end:           end,
		repeatType:    repeatType,
		repeatPeriod:  repeatPeriod,
		capacityLimit: capacityLimit,
	}, nil
}

func (p *Period) Start() time.Time          { return p.start }
func (p *Period) End() time.Time            { return p.end }
func (p *Period) RepeatType() RepeatType    { return p.repeatType }
func (p *Period) RepeatPeriod() uint32      { return p.repeatPeriod }
func (p *Period) CapacityLimit() uint64     { return p.capacityLimit }
func (p *Period) Recurring() bool           { return p.repeatType != RepeatNone }

// occurrenceStart/occurrenceEnd return the n-th occurrence's bounds. n is
// only meaningful for recurring periods; non-recurring periods have exactly
// occurrence 0.
func (p *Period) occurrenceStart(n int64) time.Time {
	if p.repeatType == RepeatNone {
		return p.start
	}
	return addCalendar(p.start, p.repeatType, n*int64(p.repeatPeriod))
}

func (p *Period) occurrenceEnd(n int64) time.Time {
	if p.repeatType == RepeatNone {
		return p.end
	}
	return addCalendar(p.end, p.repeatType, n*int64(p.repeatPeriod))
}

// estimateOccurrenceIndex gives a starting guess for which occurrence index
// covers instant t, using a fixed-length approximation of the recurrence
// unit. Calendar months/years are not fixed-length, so the guess is refined
// by scanning a small window around it (see candidateWindow).
func (p *Period) estimateOccurrenceIndex(t time.Time) int64 {
	if p.repeatType == RepeatNone {
		return 0
	}
	unitSeconds := approxUnitSeconds(p.repeatType) * float64(p.repeatPeriod)
	if unitSeconds <= 0 {
		return 0
	}
	diff := t.Sub(p.start).Seconds()
	return int64(math.Floor(diff / unitSeconds))
}

const windowRadius = 4

// candidateWindow returns the occurrence indices worth checking for instant
// t: a small band around the fixed-length estimate, clamped to n >= 0.
func (p *Period) candidateWindow(t time.Time) []int64 {
	if p.repeatType == RepeatNone {
		return []int64{0}
	}
	center := p.estimateOccurrenceIndex(t)
	out := make([]int64, 0, 2*windowRadius+1)
	for n := center - windowRadius; n <= center+windowRadius; n++ {
		if n >= 0 {
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		out = append(out, 0)
	}
	return out
}

// Contains reports whether t falls within some occurrence of p.
func (p *Period) Contains(t time.Time) bool {
	_, _, ok := p.OccurrenceContaining(t)
	return ok
}

// OccurrenceContaining returns the [start, end) of the occurrence containing
// t, if any.
func (p *Period) OccurrenceContaining(t time.Time) (occStart, occEnd time.Time, ok bool) {
	for _, n := range p.candidateWindow(t) {
		s, e := p.occurrenceStart(n), p.occurrenceEnd(n)
		if !t.Before(s) && t.Before(e) {
			return s, e, true
		}
	}
	return time.Time{}, time.Time{}, false
}

// NextBoundaryAtOrAfter returns the earliest instant t' >= t that is the
// start or end of some occurrence of p.
func (p *Period) NextBoundaryAtOrAfter(t time.Time) (time.Time, bool) {
	return p.nextBoundary(t, false)
}

// NextBoundaryAfter returns the earliest instant t' > t that is a boundary
// of some occurrence of p. Used by the Tariff transition algorithm, which
// needs a strict inequality.
func (p *Period) NextBoundaryAfter(t time.Time) (time.Time, bool) {
	return p.nextBoundary(t, true)
}

func (p *Period) nextBoundary(t time.Time, strict bool) (time.Time, bool) {
	qualifies := func(b time.Time) bool {
		if strict {
			return b.After(t)
		}
		return !b.Before(t)
	}

	radius := windowRadius
	for attempt := 0; attempt < 4; attempt++ {
		var best time.Time
		found := false
		center := p.estimateOccurrenceIndex(t)
		if center < 0 {
			// t is before the first occurrence; occurrence 0 holds the
			// earliest boundaries.
			center = 0
		}
		for n := center - int64(radius); n <= center+int64(radius); n++ {
			if n < 0 {
				continue
			}
			for _, b := range [2]time.Time{p.occurrenceStart(n), p.occurrenceEnd(n)} {
				if !qualifies(b) {
					continue
				}
				if !found || b.Before(best) {
					best, found = b, true
				}
			}
			if p.repeatType == RepeatNone {
				break
			}
		}
		if found {
			return best, true
		}
		if p.repeatType == RepeatNone {
			return time.Time{}, false
		}
		radius *= 4
	}
	return time.Time{}, false
}
