package timetable

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"ttcal/internal/model"
)

// placeholder is what the upstream CSV merge writes for a blank cell.
const placeholder = "N/A"

// Row is one lesson entry in the upstream nested JSON document:
//
//	{"Week A": {"Monday": [{"period": "Period 1", "start": "09:00", ...}]}}
type Row struct {
	Period  string `json:"period"`
	Start   string `json:"start"`
	End     string `json:"end"`
	Lesson  string `json:"lesson"`
	Teacher string `json:"teacher"`
	Room    string `json:"room"`
}

// Document is the raw upstream shape: week label -> day name -> rows.
type Document map[string]map[string][]Row

// Options tunes how rows become periods.
type Options struct {
	// SkipMarkers drops rows whose lesson contains any marker
	// (case-insensitive), e.g. "IGNORE".
	SkipMarkers []string
}

// LoadFile reads and converts a timetable JSON file.
func LoadFile(path string, opts Options) (*model.Timetable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	tt, err := Load(f, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return tt, nil
}

// Load decodes a Document from r and converts it.
func Load(r io.Reader, opts Options) (*model.Timetable, error) {
	var doc Document
	dec := json.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode timetable: %w", err)
	}
	return Convert(doc, opts)
}

// Convert maps a Document onto the typed Timetable. Row order within a day
// is preserved; ordering problems are left for the synthesizer to report.
// Two keys naming the same week ("Week A", "A") or the same day ("Monday",
// "Mon") are rejected, since their rows would have no defined order.
func Convert(doc Document, opts Options) (*model.Timetable, error) {
	if len(doc) == 0 {
		return nil, errors.New("timetable has no weeks")
	}

	days := make(map[model.WeekType]map[time.Weekday][]model.Period, len(doc))
	weekKeys := make(map[model.WeekType]string, len(doc))
	var errs []error

	for _, weekLabel := range slices.Sorted(maps.Keys(doc)) {
		wt, err := model.ParseWeekType(weekLabel)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if prev, dup := weekKeys[wt]; dup {
			errs = append(errs, fmt.Errorf("duplicate week %q: already given as %q", weekLabel, prev))
			continue
		}
		weekKeys[wt] = weekLabel

		byDay := doc[weekLabel]
		days[wt] = make(map[time.Weekday][]model.Period, len(byDay))
		dayKeys := make(map[time.Weekday]string, len(byDay))

		for _, dayName := range slices.Sorted(maps.Keys(byDay)) {
			wd, err := model.ParseWeekday(dayName)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", weekLabel, err))
				continue
			}
			if prev, dup := dayKeys[wd]; dup {
				errs = append(errs, fmt.Errorf("%s: duplicate day %q: already given as %q", weekLabel, dayName, prev))
				continue
			}
			dayKeys[wd] = dayName

			for i, row := range byDay[dayName] {
				p, keep, err := convertRow(row, opts)
				if err != nil {
					errs = append(errs, fmt.Errorf("%s/%s[%d]: %w", weekLabel, dayName, i, err))
					continue
				}
				if keep {
					days[wt][wd] = append(days[wt][wd], p)
				}
			}
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return model.NewTimetable(days), nil
}

func convertRow(row Row, opts Options) (model.Period, bool, error) {
	lesson := clean(row.Lesson)
	if lesson == "" || strings.EqualFold(lesson, placeholder) {
		return model.Period{}, false, nil
	}
	for _, m := range opts.SkipMarkers {
		if m != "" && strings.Contains(strings.ToUpper(lesson), strings.ToUpper(m)) {
			return model.Period{}, false, nil
		}
	}

	start, err := model.ParseClock(row.Start)
	if err != nil {
		return model.Period{}, false, fmt.Errorf("start: %w", err)
	}
	end, err := model.ParseClock(row.End)
	if err != nil {
		return model.Period{}, false, fmt.Errorf("end: %w", err)
	}

	return model.Period{
		Label:   optional(row.Period),
		Start:   start,
		End:     end,
		Lesson:  lesson,
		Teacher: optional(row.Teacher),
		Room:    optional(row.Room),
	}, true, nil
}

// clean collapses runs of whitespace, including line breaks left by PDF
// extraction, into single spaces.
func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func optional(s string) string {
	s = clean(s)
	if strings.EqualFold(s, placeholder) {
		return ""
	}
	return s
}
