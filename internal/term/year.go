package term

import (
	"fmt"
	"slices"

	"ttcal/internal/model"
)

// AcademicYear is an ordered set of non-overlapping terms.
type AcademicYear struct {
	terms []*TermWindow
}

// NewAcademicYear sorts terms by start date and rejects overlaps.
func NewAcademicYear(terms ...*TermWindow) (*AcademicYear, error) {
	if len(terms) == 0 {
		return nil, &ConfigurationError{Reason: "at least one term is required"}
	}
	ts := slices.Clone(terms)
	slices.SortStableFunc(ts, func(a, b *TermWindow) int {
		return a.start.Time().Compare(b.start.Time())
	})
	for i := 1; i < len(ts); i++ {
		if !ts[i].start.After(ts[i-1].end) {
			return nil, &ConfigurationError{
				Term:   ts[i].name,
				Reason: fmt.Sprintf("overlaps term %q (%s..%s)", ts[i-1].name, ts[i-1].start, ts[i-1].end),
			}
		}
	}
	return &AcademicYear{terms: ts}, nil
}

// Terms returns the terms in date order.
func (y *AcademicYear) Terms() []*TermWindow {
	return slices.Clone(y.terms)
}

// Resolve finds the term containing d and resolves d within it.
func (y *AcademicYear) Resolve(d model.Date) (TeachingSlot, bool) {
	for _, t := range y.terms {
		if t.Contains(d) {
			return t.Resolve(d)
		}
	}
	return TeachingSlot{}, false
}

// TeachingDayCount sums teaching dates across all terms.
func (y *AcademicYear) TeachingDayCount() (int, error) {
	n := 0
	for _, t := range y.terms {
		ds, err := t.TeachingDates()
		if err != nil {
			return 0, err
		}
		n += len(ds)
	}
	return n, nil
}
