package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		want    Clock
		wantErr bool
	}{
		{in: "09:00", want: NewClock(9, 0)},
		{in: "9:05", want: NewClock(9, 5)},
		{in: " 23:59 ", want: NewClock(23, 59)},
		{in: "24:00", wantErr: true},
		{in: "12:60", wantErr: true},
		{in: "12:5", wantErr: true},
		{in: "N/A", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseClock(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseClock(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseClock(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestDateMonday(t *testing.T) {
	tests := []struct {
		date string
		want string
	}{
		{"2024-09-02", "2024-09-02"}, // Monday
		{"2024-09-06", "2024-09-02"}, // Friday
		{"2024-09-08", "2024-09-02"}, // Sunday
		{"2024-09-09", "2024-09-09"},
		{"2025-01-01", "2024-12-30"}, // across a year boundary
	}
	for _, tt := range tests {
		if got := MustDate(tt.date).Monday(); got != MustDate(tt.want) {
			t.Errorf("Monday(%s) = %s, want %s", tt.date, got, tt.want)
		}
	}
}

func TestDateDaysSinceAcrossDST(t *testing.T) {
	// 2024-10-27 is the UK clock change; civil dates must not drift.
	a := MustDate("2024-10-21")
	b := MustDate("2024-10-28")
	if got := b.DaysSince(a); got != 7 {
		t.Errorf("DaysSince = %d, want 7", got)
	}
	if got := a.DaysSince(b); got != -7 {
		t.Errorf("DaysSince = %d, want -7", got)
	}
}

func TestParseWeekType(t *testing.T) {
	for in, want := range map[string]WeekType{"Week A": WeekA, "week b": WeekB, "A": WeekA, " B ": WeekB} {
		got, err := ParseWeekType(in)
		if err != nil || got != want {
			t.Errorf("ParseWeekType(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseWeekType("Week C"); err == nil {
		t.Error("ParseWeekType(Week C) should fail")
	}
}

func TestParseWeekday(t *testing.T) {
	for in, want := range map[string]time.Weekday{"Monday": time.Monday, "fri": time.Friday, "SUNDAY": time.Sunday} {
		got, err := ParseWeekday(in)
		if err != nil || got != want {
			t.Errorf("ParseWeekday(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseWeekday("Funday"); err == nil {
		t.Error("ParseWeekday(Funday) should fail")
	}
}

func TestEventIDStable(t *testing.T) {
	d := MustDate("2024-09-09")
	a := EventID(d, NewClock(9, 0), "Maths")
	b := EventID(d, NewClock(9, 0), "Maths")
	if a != b {
		t.Fatalf("EventID not stable: %s != %s", a, b)
	}

	others := []string{
		EventID(d.AddDays(1), NewClock(9, 0), "Maths"),
		EventID(d, NewClock(9, 50), "Maths"),
		EventID(d, NewClock(9, 0), "Physics"),
	}
	for _, o := range others {
		if o == a {
			t.Errorf("EventID collision for different inputs: %s", o)
		}
	}
}

func TestTimetableDayIsCopy(t *testing.T) {
	src := map[WeekType]map[time.Weekday][]Period{
		WeekA: {time.Monday: {{Start: NewClock(9, 0), End: NewClock(10, 0), Lesson: "Maths"}}},
	}
	tt := NewTimetable(src)
	src[WeekA][time.Monday][0].Lesson = "Changed"

	if got := tt.Day(WeekA, time.Monday)[0].Lesson; got != "Maths" {
		t.Errorf("timetable mutated through source map: %q", got)
	}
	if got := tt.Day(WeekB, time.Monday); got != nil {
		t.Errorf("missing slot = %v, want nil", got)
	}
	if got := tt.PeriodCount(); got != 1 {
		t.Errorf("PeriodCount = %d, want 1", got)
	}
}

func TestCalendarEventSummary(t *testing.T) {
	ev := CalendarEvent{Lesson: "Maths", Teacher: "Mr Smith", Labels: []string{"Period 1", "Period 2"}}
	if got := ev.Summary(); got != "Maths (Mr Smith)" {
		t.Errorf("Summary = %q", got)
	}
	if got := ev.Description(); got != "Period 1 + Period 2" {
		t.Errorf("Description = %q", got)
	}
	ev.Teacher = ""
	if got := ev.Summary(); got != "Maths" {
		t.Errorf("Summary without teacher = %q", got)
	}
}

func TestClockJSON(t *testing.T) {
	b, err := json.Marshal(NewClock(9, 5))
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `"09:05"` {
		t.Errorf("marshal = %s", b)
	}
	var c Clock
	if err := json.Unmarshal([]byte(`"14:30"`), &c); err != nil || c != NewClock(14, 30) {
		t.Errorf("unmarshal = %s, %v", c, err)
	}
}
