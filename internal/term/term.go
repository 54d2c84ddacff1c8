package term

import (
	"fmt"
	"slices"
	"time"

	"github.com/teambition/rrule-go"

	"ttcal/internal/model"
)

// ConfigurationError reports an invalid term definition. It is fatal for the
// run: nothing is synthesized from a term that fails validation.
type ConfigurationError struct {
	Term   string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Term == "" {
		return "term configuration: " + e.Reason
	}
	return fmt.Sprintf("term %q configuration: %s", e.Term, e.Reason)
}

// ExclusionRange is a closed date interval without lessons (half-term, holiday).
type ExclusionRange struct {
	Name  string     `json:"name,omitempty"`
	Start model.Date `json:"start"`
	End   model.Date `json:"end"`
}

// Contains reports whether d lies in [Start, End].
func (r ExclusionRange) Contains(d model.Date) bool {
	return !d.Before(r.Start) && !d.After(r.End)
}

// TeachingSlot is the rotation position of a teaching day.
type TeachingSlot struct {
	WeekType  model.WeekType
	Weekday   time.Weekday
	WeekIndex int
}

// TermWindow is a closed term interval plus the exclusion ranges inside it.
// It is immutable after NewTermWindow.
type TermWindow struct {
	name       string
	start      model.Date
	end        model.Date
	anchor     model.Date
	exclusions []ExclusionRange
}

// NewTermWindow validates and builds a TermWindow.
//
// anchor is the Monday of a Week A; parity for every other week is counted
// from it in whole calendar weeks. Exclusions must lie inside [start, end]
// and must not overlap each other.
func NewTermWindow(name string, start, end, anchor model.Date, exclusions []ExclusionRange) (*TermWindow, error) {
	if start.IsZero() || end.IsZero() {
		return nil, &ConfigurationError{Term: name, Reason: "start and end dates are required"}
	}
	if end.Before(start) {
		return nil, &ConfigurationError{Term: name, Reason: fmt.Sprintf("end %s is before start %s", end, start)}
	}
	if anchor.IsZero() {
		return nil, &ConfigurationError{Term: name, Reason: "anchor Monday is required"}
	}
	if anchor.Weekday() != time.Monday {
		return nil, &ConfigurationError{Term: name, Reason: fmt.Sprintf("anchor %s is a %s, not a Monday", anchor, anchor.Weekday())}
	}

	ex := slices.Clone(exclusions)
	slices.SortStableFunc(ex, func(a, b ExclusionRange) int {
		return a.Start.Time().Compare(b.Start.Time())
	})
	for i, r := range ex {
		label := r.Name
		if label == "" {
			label = fmt.Sprintf("%s..%s", r.Start, r.End)
		}
		if r.End.Before(r.Start) {
			return nil, &ConfigurationError{Term: name, Reason: fmt.Sprintf("exclusion %s ends before it starts", label)}
		}
		if r.Start.Before(start) || r.End.After(end) {
			return nil, &ConfigurationError{Term: name, Reason: fmt.Sprintf("exclusion %s lies outside term %s..%s", label, start, end)}
		}
		if i > 0 && !r.Start.After(ex[i-1].End) {
			return nil, &ConfigurationError{Term: name, Reason: fmt.Sprintf("exclusion %s overlaps %s..%s", label, ex[i-1].Start, ex[i-1].End)}
		}
	}

	return &TermWindow{
		name:       name,
		start:      start,
		end:        end,
		anchor:     anchor,
		exclusions: ex,
	}, nil
}

func (w *TermWindow) Name() string      { return w.name }
func (w *TermWindow) Start() model.Date { return w.start }
func (w *TermWindow) End() model.Date   { return w.end }

// Contains reports whether d lies in [start, end].
func (w *TermWindow) Contains(d model.Date) bool {
	return !d.Before(w.start) && !d.After(w.end)
}

// Excluded reports whether d falls in an exclusion range.
func (w *TermWindow) Excluded(d model.Date) bool {
	for _, r := range w.exclusions {
		if r.Contains(d) {
			return true
		}
	}
	return false
}

// WeekIndex is the number of whole calendar weeks between the anchor Monday
// and the Monday of d's week. It is negative before the anchor.
func (w *TermWindow) WeekIndex(d model.Date) int {
	return floorDiv(d.Monday().DaysSince(w.anchor), 7)
}

// WeekType returns the parity of d's calendar week. Exclusions play no part:
// parity keeps advancing through holidays.
func (w *TermWindow) WeekType(d model.Date) model.WeekType {
	if floorMod(w.WeekIndex(d), 2) == 0 {
		return model.WeekA
	}
	return model.WeekB
}

// Resolve answers whether d is a teaching day and, if so, where it sits in
// the rotation. ok is false outside the term or inside an exclusion.
func (w *TermWindow) Resolve(d model.Date) (slot TeachingSlot, ok bool) {
	if !w.Contains(d) || w.Excluded(d) {
		return TeachingSlot{}, false
	}
	return TeachingSlot{WeekType: w.WeekType(d), Weekday: d.Weekday(), WeekIndex: w.WeekIndex(d)}, true
}

// TeachingDates enumerates the term's dates, start to end inclusive, minus
// every excluded day.
func (w *TermWindow) TeachingDates() ([]model.Date, error) {
	r, err := w.dailyRule()
	if err != nil {
		return nil, err
	}

	var set rrule.Set
	set.RRule(r)
	for _, ex := range w.exclusions {
		for d := ex.Start; !d.After(ex.End); d = d.AddDays(1) {
			set.ExDate(d.Time())
		}
	}
	return toDates(set.All()), nil
}

func (w *TermWindow) dailyRule() (*rrule.RRule, error) {
	r, err := rrule.NewRRule(rrule.ROption{
		Freq:    rrule.DAILY,
		Dtstart: w.start.Time(),
		Until:   w.end.Time(),
	})
	if err != nil {
		return nil, fmt.Errorf("term %q: build daily rule: %w", w.name, err)
	}
	return r, nil
}

func toDates(ts []time.Time) []model.Date {
	out := make([]model.Date, 0, len(ts))
	for _, t := range ts {
		out = append(out, model.DateOf(t.UTC()))
	}
	return out
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func floorMod(a, b int) int {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}
