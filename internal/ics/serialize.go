package ics

import (
	"bytes"
	"errors"
	"fmt"
	"time"
	_ "time/tzdata" // zone data for hosts without /usr/share/zoneinfo

	ical "github.com/arran4/golang-ical"

	"ttcal/internal/model"
)

const (
	DefaultTimezone  = "Europe/London"
	DefaultProductID = "-//ttcal//School Timetable//EN"
)

// IdentifierCollisionError means two synthesized events share a UID, which
// can only come from a merge or identifier bug upstream.
type IdentifierCollisionError struct {
	UID    string
	First  model.CalendarEvent
	Second model.CalendarEvent
}

func (e *IdentifierCollisionError) Error() string {
	return fmt.Sprintf("duplicate event identifier %s: %s %s %q and %s %s %q",
		e.UID,
		e.First.Date, e.First.Start, e.First.Lesson,
		e.Second.Date, e.Second.Start, e.Second.Lesson,
	)
}

// FeedOptions controls the calendar-level properties of a feed.
type FeedOptions struct {
	// Name is published as X-WR-CALNAME when set.
	Name string
	// ProductID is the PRODID value. Defaults to DefaultProductID.
	ProductID string
	// Timezone is the IANA zone qualifying DTSTART/DTEND. Defaults to
	// DefaultTimezone.
	Timezone string
	// Stamp is written as every event's DTSTAMP. It must be fixed by the
	// caller for output to stay byte-identical; the zero value falls back to
	// midnight UTC of the first event's date.
	Stamp time.Time
}

func (o *FeedOptions) normalize(events []model.CalendarEvent) {
	if o.ProductID == "" {
		o.ProductID = DefaultProductID
	}
	if o.Timezone == "" {
		o.Timezone = DefaultTimezone
	}
	if o.Stamp.IsZero() {
		if len(events) > 0 {
			o.Stamp = events[0].Date.Time()
		} else {
			o.Stamp = time.Unix(0, 0).UTC()
		}
	}
}

// Serialize renders events as an iCalendar feed.
//
// Output is deterministic: properties are written in a fixed order, lines
// end with CRLF and are folded at 75 octets, and events keep the order they
// were given in. Duplicate UIDs abort with *IdentifierCollisionError.
func Serialize(events []model.CalendarEvent, opts FeedOptions) ([]byte, error) {
	opts.normalize(events)

	if _, err := time.LoadLocation(opts.Timezone); err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", opts.Timezone, err)
	}

	seen := make(map[string]int, len(events))
	for i, ev := range events {
		if ev.UID == "" {
			return nil, fmt.Errorf("event %s %s %q has no identifier", ev.Date, ev.Start, ev.Lesson)
		}
		if j, dup := seen[ev.UID]; dup {
			return nil, &IdentifierCollisionError{UID: ev.UID, First: events[j], Second: ev}
		}
		seen[ev.UID] = i
	}

	cal := ical.NewCalendarFor("ttcal")
	cal.SetProductId(opts.ProductID)
	cal.SetCalscale("GREGORIAN")
	cal.SetMethod(ical.MethodPublish)
	if opts.Name != "" {
		cal.SetXWRCalName(opts.Name)
	}
	cal.SetXWRTimezone(opts.Timezone)

	for _, ev := range events {
		if ev.Start >= ev.End {
			return nil, fmt.Errorf("event %s: end %s is not after start %s", ev.UID, ev.End, ev.Start)
		}

		ve := cal.AddEvent(ev.UID)
		ve.SetDtStampTime(opts.Stamp)
		ve.SetProperty(ical.ComponentPropertyDtStart, localStamp(ev.Date, ev.Start), ical.WithTZID(opts.Timezone))
		ve.SetProperty(ical.ComponentPropertyDtEnd, localStamp(ev.Date, ev.End), ical.WithTZID(opts.Timezone))
		ve.SetSummary(ev.Summary())
		if room := ev.Location(); room != "" {
			ve.SetLocation(room)
		}
		if desc := ev.Description(); desc != "" {
			ve.SetDescription(desc)
		}
		if ev.WeekType != "" {
			ve.AddProperty(ical.ComponentPropertyCategories, ev.WeekType.Label())
		}
	}

	var buf bytes.Buffer
	if err := cal.SerializeTo(&buf, ical.WithNewLineWindows); err != nil {
		return nil, fmt.Errorf("serialize calendar: %w", err)
	}
	if buf.Len() == 0 {
		return nil, errors.New("serialize calendar: empty output")
	}
	return buf.Bytes(), nil
}

// localStamp renders the local DATE-TIME ("20240909T090000") qualified by
// TZID. Wall clock digits are written as given, even inside a DST gap.
func localStamp(d model.Date, c model.Clock) string {
	return fmt.Sprintf("%04d%02d%02dT%02d%02d00", d.Year, int(d.Month), d.Day, c.Hour(), c.Minute())
}
