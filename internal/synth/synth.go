package synth

import (
	"errors"
	"fmt"
	"slices"

	"ttcal/internal/model"
	"ttcal/internal/term"
)

// DataIntegrityError reports a DaySchedule whose periods are out of order,
// overlapping, or empty in time. Date and Slot name the first teaching day
// on which the broken schedule was reached.
type DataIntegrityError struct {
	Date     model.Date
	Slot     model.Slot
	Index    int
	Period   model.Period
	Previous *model.Period
	Reason   string
}

func (e *DataIntegrityError) Error() string {
	msg := fmt.Sprintf("timetable %s period #%d %s: %s", e.Slot, e.Index, e.Period, e.Reason)
	if e.Previous != nil {
		msg += fmt.Sprintf(" (previous %s)", *e.Previous)
	}
	if !e.Date.IsZero() {
		msg = e.Date.String() + ": " + msg
	}
	return msg
}

// Run is a merge chain: one or more contiguous periods with the same lesson,
// teacher and room.
type Run struct {
	Start   model.Clock
	End     model.Clock
	Lesson  string
	Teacher string
	Room    string
	Labels  []string
}

func (r Run) period() model.Period {
	return model.Period{Start: r.Start, End: r.End, Lesson: r.Lesson, Teacher: r.Teacher, Room: r.Room}
}

func (r Run) event(d model.Date, wt model.WeekType) model.CalendarEvent {
	return model.CalendarEvent{
		UID:      model.EventID(d, r.Start, r.Lesson),
		Date:     d,
		Start:    r.Start,
		End:      r.End,
		WeekType: wt,
		Lesson:   r.Lesson,
		Teacher:  r.Teacher,
		Room:     r.Room,
		Labels:   slices.Clone(r.Labels),
	}
}

// MergeDay folds an ordered DaySchedule into merge chains, left to right.
// Two neighbours join when the first ends exactly where the second starts
// and lesson, teacher and room are all equal.
func MergeDay(ds model.DaySchedule) ([]Run, error) {
	var (
		out []Run
		cur *Run
	)
	for i, p := range ds {
		if p.Start >= p.End {
			return nil, &DataIntegrityError{Index: i, Period: p, Reason: "start is not before end"}
		}
		if i > 0 {
			prev := ds[i-1]
			if p.Start < prev.Start {
				return nil, &DataIntegrityError{Index: i, Period: p, Previous: &prev, Reason: "out of chronological order"}
			}
			if p.Start < prev.End {
				return nil, &DataIntegrityError{Index: i, Period: p, Previous: &prev, Reason: "overlaps previous period"}
			}
		}

		if cur != nil && cur.End == p.Start && cur.period().SameLesson(p) {
			cur.End = p.End
			cur.Labels = appendLabel(cur.Labels, p.Label)
			continue
		}
		if cur != nil {
			out = append(out, *cur)
		}
		cur = &Run{
			Start:   p.Start,
			End:     p.End,
			Lesson:  p.Lesson,
			Teacher: p.Teacher,
			Room:    p.Room,
			Labels:  appendLabel(nil, p.Label),
		}
	}
	if cur != nil {
		out = append(out, *cur)
	}
	return out, nil
}

func appendLabel(labels []string, label string) []string {
	if label == "" {
		return labels
	}
	return append(labels, label)
}

// Synthesize walks the teaching dates of w in order and emits the merged
// events of each one. Output is ordered by (date, start). It holds no state
// between calls and may run concurrently for different inputs.
func Synthesize(w *term.TermWindow, tt *model.Timetable) ([]model.CalendarEvent, error) {
	if w == nil {
		return nil, errors.New("synthesize: nil term window")
	}
	dates, err := w.TeachingDates()
	if err != nil {
		return nil, err
	}

	runsBySlot := make(map[model.Slot][]Run)
	events := make([]model.CalendarEvent, 0)

	for _, d := range dates {
		ts, ok := w.Resolve(d)
		if !ok {
			return nil, fmt.Errorf("term %q: enumerated date %s is not a teaching day", w.Name(), d)
		}
		slot := model.Slot{WeekType: ts.WeekType, Weekday: ts.Weekday}

		runs, seen := runsBySlot[slot]
		if !seen {
			runs, err = MergeDay(tt.Day(slot.WeekType, slot.Weekday))
			if err != nil {
				var die *DataIntegrityError
				if errors.As(err, &die) {
					die.Date = d
					die.Slot = slot
				}
				return nil, err
			}
			runsBySlot[slot] = runs
		}

		for _, r := range runs {
			events = append(events, r.event(d, ts.WeekType))
		}
	}
	return events, nil
}

// SynthesizeYear runs Synthesize for every term of y and concatenates the
// results in term order.
func SynthesizeYear(y *term.AcademicYear, tt *model.Timetable) ([]model.CalendarEvent, error) {
	events := make([]model.CalendarEvent, 0)
	for _, w := range y.Terms() {
		evs, err := Synthesize(w, tt)
		if err != nil {
			return nil, fmt.Errorf("term %q: %w", w.Name(), err)
		}
		events = append(events, evs...)
	}
	return events, nil
}
