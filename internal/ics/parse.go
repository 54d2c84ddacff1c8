package ics

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	ical "github.com/arran4/golang-ical"

	"ttcal/internal/model"
)

// Feed is a generated calendar read back for inspection.
type Feed struct {
	Name      string
	ProductID string
	Timezone  string
	Events    []ParsedEvent
}

// ParsedEvent is one VEVENT of a Feed.
type ParsedEvent struct {
	UID string

	Summary     string
	Description string
	Location    string

	// WeekType comes from the CATEGORIES property; empty when absent or
	// unrecognised.
	WeekType model.WeekType

	// Start / End carry the TZID location of the feed.
	Start time.Time
	End   time.Time
}

// Duration is End minus Start.
func (e ParsedEvent) Duration() time.Duration { return e.End.Sub(e.Start) }

// ParseFeed parses an ICS payload produced by Serialize. TZID-qualified
// times are resolved by the underlying library.
func ParseFeed(body []byte) (*Feed, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	feed := &Feed{Events: make([]ParsedEvent, 0)}
	for _, p := range cal.CalendarProperties {
		switch ical.Property(p.IANAToken) {
		case ical.PropertyXWRCalName:
			feed.Name = p.Value
		case ical.PropertyProductId:
			feed.ProductID = p.Value
		case ical.PropertyXWRTimezone:
			feed.Timezone = p.Value
		}
	}

	for i, comp := range cal.Events() {
		ev, perr := parseVEvent(comp)
		if perr != nil {
			return nil, fmt.Errorf("event #%d: %w", i, perr)
		}
		feed.Events = append(feed.Events, ev)
	}
	return feed, nil
}

func parseVEvent(ve *ical.VEvent) (ParsedEvent, error) {
	var out ParsedEvent

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uidProp.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyCategories); p != nil {
		if wt, err := model.ParseWeekType(p.Value); err == nil {
			out.WeekType = wt
		}
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return out, fmt.Errorf("%s: %w", out.UID, err)
	}
	end, err := ve.GetEndAt()
	if err != nil {
		return out, fmt.Errorf("%s: %w", out.UID, err)
	}
	out.Start = start
	out.End = end

	return out, nil
}
