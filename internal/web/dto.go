package web

import (
	"time"

	"promocal/internal/board"
	"promocal/internal/clipboard"
	"promocal/internal/model"
	"promocal/internal/overlay"
	"promocal/internal/virtual"
)

// eventsResponse is the JSON response shape for /api/events.
type eventsResponse struct {
	Year      int          `json:"year"`
	Month     int          `json:"month"`
	Events    []eventDTO   `json:"events"`
	Channels  []channelDTO `json:"channels"`
	Truncated []string     `json:"truncated_templates,omitempty"`
}

type eventDTO struct {
	ID            string       `json:"id"`
	OccurrenceID  string       `json:"occurrence_id,omitempty"`
	IsRecurring   bool         `json:"is_recurring"`
	Projects      []string     `json:"projects"`
	PromoType     string       `json:"promo_type"`
	PromoKind     string       `json:"promo_kind"`
	Name          string       `json:"name"`
	Comment       string       `json:"comment"`
	Segments      []string     `json:"segments"`
	Link          string       `json:"link"`
	ResponsibleID string       `json:"responsible_id,omitempty"`
	Start         time.Time    `json:"start"`
	End           time.Time    `json:"end"`
	InfoChannels  []channelDTO `json:"info_channels"`
}

type channelDTO struct {
	ID       string    `json:"id"`
	Type     string    `json:"type"`
	Project  string    `json:"project"`
	Name     string    `json:"name"`
	Comment  string    `json:"comment"`
	Segments []string  `json:"segments"`
	Link     string    `json:"link"`
	Start    time.Time `json:"start"`
	EventID  string    `json:"event_id,omitempty"`
}

func toEventDTO(ev model.PromoEvent) eventDTO {
	d := eventDTO{
		ID:            ev.ID,
		OccurrenceID:  ev.OccurrenceID,
		IsRecurring:   ev.IsRecurring,
		Projects:      ev.Projects,
		PromoType:     ev.PromoType,
		PromoKind:     ev.PromoKind,
		Name:          ev.Name,
		Comment:       ev.Comment,
		Segments:      ev.Segments,
		Link:          ev.Link,
		ResponsibleID: ev.ResponsibleID,
		Start:         ev.Start,
		End:           ev.End,
		InfoChannels:  make([]channelDTO, 0, len(ev.InfoChannels)),
	}
	for _, ch := range ev.InfoChannels {
		d.InfoChannels = append(d.InfoChannels, toChannelDTO(ch))
	}
	return d
}

func toChannelDTO(ch model.InfoChannel) channelDTO {
	return channelDTO{
		ID:       ch.ID,
		Type:     ch.Type,
		Project:  ch.Project,
		Name:     ch.Name,
		Comment:  ch.Comment,
		Segments: ch.Segments,
		Link:     ch.Link,
		Start:    ch.Start,
		EventID:  ch.EventID,
	}
}

// overlayResponse is the JSON response shape for /api/overlay.
type overlayResponse struct {
	Generation string        `json:"generation"`
	Bars       []overlay.Bar `json:"bars"`
}

// inputRequest is one pointer or keyboard event on the grid.
//
// Type is one of down, move, up, key, outside.
type inputRequest struct {
	Type   string `json:"type"`
	Cell   string `json:"cell"`
	Button int    `json:"button"`
	Ctrl   bool   `json:"ctrl"`
	Meta   bool   `json:"meta"`
	Shift  bool   `json:"shift"`
	Held   bool   `json:"held"`
	Key    string `json:"key"`
}

type inputResponse struct {
	State   string            `json:"state"`
	Changes []HighlightChange `json:"changes"`
}

type rangeDTO struct {
	Project  string    `json:"project"`
	RowType  string    `json:"row_type"`
	StartDay int       `json:"start_day"`
	EndDay   int       `json:"end_day"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
}

type menuRequest struct {
	Cell   string `json:"cell"`
	Action string `json:"action,omitempty"`
}

type menuResponse struct {
	Range   rangeDTO          `json:"range"`
	Target  string            `json:"target,omitempty"`
	Items   []board.MenuItem  `json:"items"`
	Changes []HighlightChange `json:"changes"`
}

type copyRequest struct {
	Project         string `json:"project"`
	RowType         string `json:"row_type"`
	StartDay        int    `json:"start_day"`
	EndDay          int    `json:"end_day"`
	IncludeChannels bool   `json:"include_channels"`
}

type bufferDTO struct {
	ID              string    `json:"id"`
	SourceProject   string    `json:"source_project"`
	SourceStart     time.Time `json:"source_start"`
	SourceEnd       time.Time `json:"source_end"`
	IncludeChannels bool      `json:"include_channels"`
	Items           int       `json:"items"`
}

func toBufferDTO(b clipboard.Buffer) bufferDTO {
	return bufferDTO{
		ID:              b.ID,
		SourceProject:   b.SourceProject,
		SourceStart:     b.SourceStart,
		SourceEnd:       b.SourceEnd,
		IncludeChannels: b.IncludeChannels,
		Items:           len(b.Items),
	}
}

type pasteRequest struct {
	Project string `json:"project"`
	Day     int    `json:"day"`
}

// reportDTO distinguishes full from partial success; a paste is never
// rolled back.
type reportDTO struct {
	Status    string   `json:"status"` // ok, partial, failed
	Attempted int      `json:"attempted"`
	Created   int      `json:"created"`
	Failed    int      `json:"failed"`
	DeltaDays int      `json:"delta_days"`
	Errors    []string `json:"errors,omitempty"`
}

func toReportDTO(r clipboard.Report) reportDTO {
	d := reportDTO{
		Attempted: r.Attempted,
		Created:   r.Created,
		Failed:    r.Failed,
		DeltaDays: r.DeltaDays,
	}
	switch {
	case r.OK():
		d.Status = "ok"
	case r.Partial():
		d.Status = "partial"
	default:
		d.Status = "failed"
	}
	for _, err := range r.Errors {
		d.Errors = append(d.Errors, err.Error())
	}
	return d
}

type runResponse struct {
	Buffer  *bufferDTO        `json:"buffer,omitempty"`
	Report  *reportDTO        `json:"report,omitempty"`
	Changes []HighlightChange `json:"changes"`
}

type collapseRequest struct {
	Project string `json:"project"`
	RowType string `json:"row_type"`
}

type visibilityRequest struct {
	Reports []struct {
		Project      string  `json:"project"`
		Intersecting bool    `json:"intersecting"`
		Ratio        float64 `json:"ratio"`
	} `json:"reports"`
	Scroll *virtual.ScrollMetrics `json:"scroll,omitempty"`
}

type visibilityResponse struct {
	Changed   bool                   `json:"changed"`
	Requested []string               `json:"requested,omitempty"`
	Observer  virtual.ObserverConfig `json:"observer"`
	Slots     []virtual.Slot         `json:"slots"`
}
