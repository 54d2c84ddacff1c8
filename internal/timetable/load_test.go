package timetable

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ttcal/internal/model"
)

const sampleJSON = `{
  "Week A": {
    "Monday": [
      {"period": "Period 1", "start": "9:00", "end": "09:50", "lesson": "Maths", "teacher": "Mr  Smith", "room": "M12"},
      {"period": "Period 2", "start": "09:50", "end": "10:40", "lesson": "Maths", "teacher": "Mr Smith", "room": "M12"},
      {"period": "Break", "start": "10:40", "end": "11:00", "lesson": "N/A", "teacher": "N/A", "room": "N/A"},
      {"period": "Period 3", "start": "11:00", "end": "11:50", "lesson": "Tutor IGNORE", "teacher": "", "room": ""},
      {"period": "Period 4", "start": "11:50", "end": "12:40", "lesson": "English\nLiterature", "teacher": "N/A", "room": "N/A"}
    ],
    "Wed": []
  },
  "Week B": {
    "Tuesday": [
      {"period": "Period 1", "start": "09:00", "end": "09:50", "lesson": "", "teacher": "", "room": ""},
      {"period": "Period 2", "start": "09:50", "end": "10:40", "lesson": "Physics", "teacher": "Dr Jones", "room": "L3"}
    ]
  }
}`

func TestLoad(t *testing.T) {
	tt, err := Load(strings.NewReader(sampleJSON), Options{SkipMarkers: []string{"ignore"}})
	if err != nil {
		t.Fatal(err)
	}

	mon := tt.Day(model.WeekA, time.Monday)
	if len(mon) != 3 {
		t.Fatalf("Week A Monday has %d periods, want 3: %v", len(mon), mon)
	}
	if mon[0].Start != model.NewClock(9, 0) || mon[0].Teacher != "Mr Smith" {
		t.Errorf("first period = %+v", mon[0])
	}
	if got := mon[2]; got.Lesson != "English Literature" || got.Teacher != "" || got.Room != "" {
		t.Errorf("placeholder fields not cleared: %+v", got)
	}

	tue := tt.Day(model.WeekB, time.Tuesday)
	if len(tue) != 1 || tue[0].Lesson != "Physics" {
		t.Errorf("Week B Tuesday = %v", tue)
	}
	if got := tt.Day(model.WeekA, time.Wednesday); len(got) != 0 {
		t.Errorf("empty day = %v", got)
	}
	if n := tt.PeriodCount(); n != 4 {
		t.Errorf("PeriodCount = %d, want 4", n)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"not json", `[`, "decode timetable"},
		{"no weeks", `{}`, "no weeks"},
		{"bad week", `{"Week C": {}}`, "Week C"},
		{"bad day", `{"Week A": {"Someday": []}}`, "Someday"},
		{"bad start", `{"Week A": {"Monday": [{"start": "9am", "end": "10:00", "lesson": "Maths"}]}}`, "start"},
		{"bad end", `{"Week A": {"Monday": [{"start": "09:00", "end": "25:00", "lesson": "Maths"}]}}`, "end"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.doc), Options{})
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "k.thang19.json")
	if err := os.WriteFile(path, []byte(sampleJSON), 0o644); err != nil {
		t.Fatal(err)
	}

	tt, err := LoadFile(path, Options{})
	if err != nil {
		t.Fatal(err)
	}
	// Without skip markers the IGNORE row is kept.
	if n := tt.PeriodCount(); n != 5 {
		t.Errorf("PeriodCount = %d, want 5", n)
	}

	if _, err := LoadFile(filepath.Join(dir, "missing.json"), Options{}); !os.IsNotExist(err) {
		t.Errorf("missing file error = %v", err)
	}
}

func TestConvertRejectsAliasedKeys(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			"weekday alias",
			`{"Week A": {
			  "Monday": [{"start": "09:00", "end": "09:50", "lesson": "Maths"}],
			  "Mon": [{"start": "09:50", "end": "10:40", "lesson": "Art"}]
			}}`,
			`Week A: duplicate day "Monday": already given as "Mon"`,
		},
		{
			"week alias",
			`{"Week A": {"Monday": [{"start": "09:00", "end": "09:50", "lesson": "Maths"}]},
			  "A": {"Monday": [{"start": "09:50", "end": "10:40", "lesson": "Art"}]}}`,
			`duplicate week "Week A": already given as "A"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Map iteration order varies between runs; the outcome must not.
			for range 50 {
				_, err := Load(strings.NewReader(tt.doc), Options{})
				if err == nil {
					t.Fatal("expected duplicate key error")
				}
				if err.Error() != tt.want {
					t.Fatalf("error = %q, want %q", err, tt.want)
				}
			}
		})
	}
}

func TestLoadIsStable(t *testing.T) {
	first, err := Load(strings.NewReader(sampleJSON), Options{})
	if err != nil {
		t.Fatal(err)
	}
	want := first.Day(model.WeekA, time.Monday)

	for range 50 {
		tt, err := Load(strings.NewReader(sampleJSON), Options{})
		if err != nil {
			t.Fatal(err)
		}
		got := tt.Day(model.WeekA, time.Monday)
		if len(got) != len(want) {
			t.Fatalf("got %d periods, want %d", len(got), len(want))
		}
		for i := range got {
			if got[i] != want[i] {
				t.Fatalf("period %d = %v, want %v", i, got[i], want[i])
			}
		}
	}
}
