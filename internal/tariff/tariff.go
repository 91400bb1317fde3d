// Package tariff implements the Tariff data model: a named, immutable,
// ordered collection of periods, with lookup-by-instant and
// next-transition algorithms.
package tariff

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mogwaid/mogwaid/internal/period"
)

// ErrInvalidTariff is the sentinel wrapped by every Tariff construction
// failure.
var ErrInvalidTariff = errors.New("invalid tariff")

// Tariff is an immutable, named, ordered set of periods. Overlap between
// periods is allowed; later entries in the stored order override earlier
// ones at overlapping instants (see LookupPeriod).
type Tariff struct {
	name    string
	periods []*period.Period
}

// ValidateName rejects empty names and names containing an embedded NUL.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name must not be empty", ErrInvalidTariff)
	}
	if strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: name must not contain an embedded NUL", ErrInvalidTariff)
	}
	return nil
}

// Validate checks that name is valid and periods is non-empty. Each
// period's own validity is that period's responsibility (checked at its
// own construction time, not re-checked here).
func Validate(name string, periods []*period.Period) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if len(periods) == 0 {
		return fmt.Errorf("%w: must have at least one period", ErrInvalidTariff)
	}
	return nil
}

// New validates and constructs a Tariff. The periods are stored in the
// exact order given, copied verbatim — that order is the override
// priority used by LookupPeriod.
func New(name string, periods []*period.Period) (*Tariff, error) {
	if err := Validate(name, periods); err != nil {
		return nil, err
	}
	stored := make([]*period.Period, len(periods))
	copy(stored, periods)
	return &Tariff{name: name, periods: stored}, nil
}

func (t *Tariff) Name() string { return t.name }

// Periods returns a copy of the stored period slice, in stored order.
func (t *Tariff) Periods() []*period.Period {
	out := make([]*period.Period, len(t.periods))
	copy(out, t.periods)
	return out
}

// LookupPeriod returns the last period in the stored order whose
// occurrences contain when, or nil if none do.
func (t *Tariff) LookupPeriod(when time.Time) *period.Period {
	var found *period.Period
	for _, p := range t.periods {
		if p.Contains(when) {
			found = p
		}
	}
	return found
}

// NextTransition returns the least instant strictly greater than after at
// which LookupPeriod's result changes, along with the periods in effect
// immediately before and at that instant. after == nil requests the very
// first transition; from is always nil in that case.
//
// ok is false when no period in the tariff has any boundary beyond after
// (e.g. every period is non-recurring and already exhausted).
func (t *Tariff) NextTransition(after *time.Time) (transitionInstant time.Time, from, to *period.Period, ok bool) {
	if after == nil {
		var earliest time.Time
		found := false
		for _, p := range t.periods {
			s := p.Start()
			if !found || s.Before(earliest) {
				earliest, found = s, true
			}
		}
		if !found {
			return time.Time{}, nil, nil, false
		}
		return earliest, nil, t.LookupPeriod(earliest), true
	}

	var earliest time.Time
	found := false
	for _, p := range t.periods {
		b, bok := p.NextBoundaryAfter(*after)
		if !bok {
			continue
		}
		if !found || b.Before(earliest) {
			earliest, found = b, true
		}
	}
	if !found {
		return time.Time{}, nil, nil, false
	}
	return earliest, t.LookupPeriod(*after), t.LookupPeriod(earliest), true
}
