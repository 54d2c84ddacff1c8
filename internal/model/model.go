package model

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// WeekType identifies one of the two alternating rotation weeks.
type WeekType string

const (
	WeekA WeekType = "A"
	WeekB WeekType = "B"
)

// Label returns the form used by the upstream timetable documents ("Week A").
func (w WeekType) Label() string {
	return "Week " + string(w)
}

// ParseWeekType accepts "A", "B", "Week A" and "Week B" (case-insensitive).
func ParseWeekType(s string) (WeekType, error) {
	v := strings.ToUpper(strings.TrimSpace(s))
	v = strings.TrimSpace(strings.TrimPrefix(v, "WEEK"))
	switch v {
	case "A":
		return WeekA, nil
	case "B":
		return WeekB, nil
	}
	return "", fmt.Errorf("unknown week type %q", s)
}

// ParseWeekday accepts full English day names ("Monday") and three letter
// abbreviations ("Mon").
func ParseWeekday(s string) (time.Weekday, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	for _, d := range MondayFirst {
		name := strings.ToLower(d.String())
		if v == name || v == name[:3] {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}

// Period is one scheduled lesson slot.
type Period struct {
	// Label is the upstream slot label, e.g. "Period 3". Optional.
	Label string `json:"label,omitempty"`

	Start Clock `json:"start"`
	End   Clock `json:"end"`

	Lesson  string `json:"lesson"`
	Teacher string `json:"teacher,omitempty"`
	Room    string `json:"room,omitempty"`
}

// SameLesson reports whether p and o carry the same lesson identity.
func (p Period) SameLesson(o Period) bool {
	return p.Lesson == o.Lesson && p.Teacher == o.Teacher && p.Room == o.Room
}

func (p Period) String() string {
	return fmt.Sprintf("%s-%s %q", p.Start, p.End, p.Lesson)
}

// DaySchedule is the ordered list of periods for one (WeekType, Weekday).
type DaySchedule []Period

// Timetable maps WeekType -> Weekday -> DaySchedule. It is read-only once
// constructed; a missing key is simply a day without periods.
type Timetable struct {
	weeks map[WeekType]map[time.Weekday]DaySchedule
}

// NewTimetable deep-copies days into a new Timetable.
func NewTimetable(days map[WeekType]map[time.Weekday][]Period) *Timetable {
	tt := &Timetable{weeks: make(map[WeekType]map[time.Weekday]DaySchedule, len(days))}
	for wt, byDay := range days {
		m := make(map[time.Weekday]DaySchedule, len(byDay))
		for wd, periods := range byDay {
			if len(periods) == 0 {
				continue
			}
			m[wd] = slices.Clone(DaySchedule(periods))
		}
		tt.weeks[wt] = m
	}
	return tt
}

// Day returns the schedule for the given slot, or nil when there is none.
func (t *Timetable) Day(wt WeekType, wd time.Weekday) DaySchedule {
	if t == nil {
		return nil
	}
	return t.weeks[wt][wd]
}

// PeriodCount returns the total number of periods across all slots.
func (t *Timetable) PeriodCount() int {
	if t == nil {
		return 0
	}
	n := 0
	for _, byDay := range t.weeks {
		for _, ds := range byDay {
			n += len(ds)
		}
	}
	return n
}

// Slot is a (WeekType, Weekday) pair.
type Slot struct {
	WeekType WeekType
	Weekday  time.Weekday
}

func (s Slot) String() string {
	return s.WeekType.Label() + "/" + s.Weekday.String()
}

// MondayFirst is the school-week ordering of weekdays.
var MondayFirst = []time.Weekday{
	time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday, time.Sunday,
}

// CalendarEvent is one emitted feed entry.
type CalendarEvent struct {
	UID string `json:"uid"`

	Date  Date  `json:"date"`
	Start Clock `json:"start"`
	End   Clock `json:"end"`

	WeekType WeekType `json:"week_type"`

	Lesson  string `json:"lesson"`
	Teacher string `json:"teacher,omitempty"`
	Room    string `json:"room,omitempty"`

	// Labels holds the period labels collapsed into this event.
	Labels []string `json:"labels,omitempty"`
}

// Summary is the display title: "Lesson (Teacher)" or just "Lesson".
func (e CalendarEvent) Summary() string {
	if e.Teacher == "" {
		return e.Lesson
	}
	return e.Lesson + " (" + e.Teacher + ")"
}

// Location is the room, if any.
func (e CalendarEvent) Location() string {
	return e.Room
}

// Description joins the merged period labels, e.g. "Period 1 + Period 2".
func (e CalendarEvent) Description() string {
	return strings.Join(e.Labels, " + ")
}

var eventNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://ttcal/events"))

// EventID derives a stable identifier from (date, start, lesson). Identical
// inputs always yield the same identifier.
func EventID(d Date, start Clock, lesson string) string {
	key := d.String() + "|" + start.String() + "|" + lesson
	return uuid.NewSHA1(eventNamespace, []byte(key)).String()
}
