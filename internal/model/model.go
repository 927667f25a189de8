package model

import "time"

// PromoEvent is a time-interval entity plotted across one or more day cells
// of a project's promo-type row.
type PromoEvent struct {
	ID       string
	Projects []string

	PromoType string // row type within the promo vocabulary
	PromoKind string

	Name     string
	Comment  string
	Segments []string
	Link     string

	// ResponsibleID references the person in charge; empty when unassigned.
	ResponsibleID string

	// Start / End are absolute instants in UTC.
	Start time.Time
	End   time.Time

	InfoChannels []InfoChannel

	// Recurrence is the RRULE of a recurring template (empty otherwise).
	Recurrence string

	// IsRecurring marks a virtual occurrence produced from a template.
	// OccurrenceID is then unique per occurrence while ID keeps the template id.
	IsRecurring  bool
	OccurrenceID string
}

// Project returns the primary project the event is displayed under.
func (e PromoEvent) Project() string {
	if len(e.Projects) == 0 {
		return ""
	}
	return e.Projects[0]
}

// HasProject reports whether the event is attached to project p.
func (e PromoEvent) HasProject(p string) bool {
	for _, x := range e.Projects {
		if x == p {
			return true
		}
	}
	return false
}

// LayoutID is the identity used for row packing and overlay bars. Occurrences
// of one template share ID, so they are told apart by OccurrenceID.
func (e PromoEvent) LayoutID() string {
	if e.OccurrenceID != "" {
		return e.OccurrenceID
	}
	return e.ID
}

// InfoChannel is a point-in-time announcement, optionally owned by an event.
type InfoChannel struct {
	ID      string
	Type    string // row type within the channel vocabulary
	Project string

	Start time.Time

	Name     string
	Segments []string
	Comment  string
	Link     string

	// EventID is the parent event; empty for a standalone channel.
	EventID string

	// OccurrenceID is set on the copy owned by a recurring occurrence. ID keeps
	// the server id shared by every occurrence.
	OccurrenceID string
}

// LayoutID is the identity used for row packing and overlay bars.
func (c InfoChannel) LayoutID() string {
	if c.OccurrenceID != "" {
		return c.OccurrenceID
	}
	return c.ID
}

// Standalone reports whether the channel has no parent event.
func (c InfoChannel) Standalone() bool {
	return c.EventID == ""
}

// DayColumn is one day of the displayed month.
type DayColumn struct {
	Date    time.Time // midnight UTC
	Day     int       // day of month, 1-based
	Weekday string    // short label
	Weekend bool
	Holiday bool
}

// Off reports whether the column should be rendered as a non-working day.
func (d DayColumn) Off() bool {
	return d.Weekend || d.Holiday
}
