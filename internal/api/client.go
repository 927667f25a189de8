// Package api is the client of the external events/channels CRUD service.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	appLog "promocal/internal/log"
	"promocal/internal/model"
)

// DateLayout is the UTC-naive wire format of every date field.
const DateLayout = "2006-01-02T15:04:05"

// Client talks to the CRUD service.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a Client for baseURL (e.g. "http://127.0.0.1:8000/api").
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api: %s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

type channelPayload struct {
	ID       string `json:"id,omitempty"`
	Type     string `json:"type"`
	Project  string `json:"project,omitempty"`
	Name     string `json:"name"`
	Comment  string `json:"comment"`
	Segments string `json:"segments"`
	Link     string `json:"link"`
	Start    string `json:"start_date"`
	EventID  string `json:"promo_id,omitempty"`
}

type eventPayload struct {
	ID            string           `json:"id,omitempty"`
	Project       []string         `json:"project"`
	Name          string           `json:"name"`
	PromoType     string           `json:"promo_type"`
	PromoKind     string           `json:"promo_kind"`
	Comment       string           `json:"comment"`
	Segments      string           `json:"segments"`
	Start         string           `json:"start_date"`
	End           string           `json:"end_date"`
	Link          string           `json:"link"`
	ResponsibleID string           `json:"responsible_id,omitempty"`
	Recurrence    string           `json:"recurrence,omitempty"`
	IsRecurring   bool             `json:"is_recurring,omitempty"`
	OccurrenceID  string           `json:"occurrence_id,omitempty"`
	InfoChannels  []channelPayload `json:"info_channels"`
}

type deletePayload struct {
	IsRecurring bool `json:"is_recurring"`
	// OccurrenceStart names the single occurrence being deleted.
	OccurrenceStart string `json:"occurrence_start,omitempty"`
}

// FormatDate renders t in the wire format (UTC, no zone suffix).
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// ParseDate parses the wire format, tolerating an RFC 3339 zone suffix.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.ParseInLocation(DateLayout, s, time.UTC); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("api: bad date %q: %w", s, err)
	}
	return t.UTC(), nil
}

// JoinSegments encodes a segment set as the csv string the service expects.
func JoinSegments(segments []string) string {
	return strings.Join(segments, ",")
}

// SplitSegments decodes the csv segment string.
func SplitSegments(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func toChannelPayload(ch model.InfoChannel) channelPayload {
	return channelPayload{
		Type:     ch.Type,
		Project:  ch.Project,
		Name:     ch.Name,
		Comment:  ch.Comment,
		Segments: JoinSegments(ch.Segments),
		Link:     ch.Link,
		Start:    FormatDate(ch.Start),
	}
}

func toEventPayload(ev model.PromoEvent) eventPayload {
	p := eventPayload{
		Project:       append([]string{}, ev.Projects...),
		Name:          ev.Name,
		PromoType:     ev.PromoType,
		PromoKind:     ev.PromoKind,
		Comment:       ev.Comment,
		Segments:      JoinSegments(ev.Segments),
		Start:         FormatDate(ev.Start),
		End:           FormatDate(ev.End),
		Link:          ev.Link,
		ResponsibleID: ev.ResponsibleID,
		Recurrence:    ev.Recurrence,
		InfoChannels:  make([]channelPayload, 0, len(ev.InfoChannels)),
	}
	for _, ch := range ev.InfoChannels {
		cp := toChannelPayload(ch)
		cp.Project = ""
		p.InfoChannels = append(p.InfoChannels, cp)
	}
	return p
}

func fromChannelPayload(p channelPayload) (model.InfoChannel, error) {
	start, err := ParseDate(p.Start)
	if err != nil {
		return model.InfoChannel{}, err
	}
	return model.InfoChannel{
		ID:       p.ID,
		Type:     p.Type,
		Project:  p.Project,
		Start:    start,
		Name:     p.Name,
		Segments: SplitSegments(p.Segments),
		Comment:  p.Comment,
		Link:     p.Link,
		EventID:  p.EventID,
	}, nil
}

func fromEventPayload(p eventPayload) (model.PromoEvent, error) {
	start, err := ParseDate(p.Start)
	if err != nil {
		return model.PromoEvent{}, err
	}
	end, err := ParseDate(p.End)
	if err != nil {
		return model.PromoEvent{}, err
	}
	ev := model.PromoEvent{
		ID:            p.ID,
		Projects:      p.Project,
		PromoType:     p.PromoType,
		PromoKind:     p.PromoKind,
		Name:          p.Name,
		Comment:       p.Comment,
		Segments:      SplitSegments(p.Segments),
		Link:          p.Link,
		ResponsibleID: p.ResponsibleID,
		Start:         start,
		End:           end,
		Recurrence:    p.Recurrence,
		IsRecurring:   p.IsRecurring,
		OccurrenceID:  p.OccurrenceID,
	}
	for _, cp := range p.InfoChannels {
		ch, err := fromChannelPayload(cp)
		if err != nil {
			appLog.Warn("api: dropping channel with malformed date", "id", cp.ID, "event_id", p.ID, "err", err)
			continue
		}
		if ch.Project == "" {
			ch.Project = ev.Project()
		}
		if ch.EventID == "" {
			ch.EventID = ev.ID
		}
		ev.InfoChannels = append(ev.InfoChannels, ch)
	}
	return ev, nil
}

// ListMonth returns the events and standalone channels of a display window.
// Entities with unparseable dates are dropped with a logged warning.
func (c *Client) ListMonth(ctx context.Context, year int, month time.Month) ([]model.PromoEvent, []model.InfoChannel, error) {
	q := url.Values{}
	q.Set("year", strconv.Itoa(year))
	q.Set("month", strconv.Itoa(int(month)))

	var evPayloads []eventPayload
	if err := c.do(ctx, http.MethodGet, "/events?"+q.Encode(), nil, &evPayloads); err != nil {
		return nil, nil, err
	}
	var chPayloads []channelPayload
	if err := c.do(ctx, http.MethodGet, "/channels?"+q.Encode(), nil, &chPayloads); err != nil {
		return nil, nil, err
	}

	events := make([]model.PromoEvent, 0, len(evPayloads))
	for _, p := range evPayloads {
		ev, err := fromEventPayload(p)
		if err != nil {
			appLog.Warn("api: dropping event with malformed date", "id", p.ID, "err", err)
			continue
		}
		events = append(events, ev)
	}

	channels := make([]model.InfoChannel, 0, len(chPayloads))
	for _, p := range chPayloads {
		ch, err := fromChannelPayload(p)
		if err != nil {
			appLog.Warn("api: dropping channel with malformed date", "id", p.ID, "err", err)
			continue
		}
		channels = append(channels, ch)
	}

	appLog.Debug("api: month listed", "year", year, "month", int(month), "events", len(events), "channels", len(channels))
	return events, channels, nil
}

// CreateEvent posts ev with its channels embedded. Identity fields are
// never sent.
func (c *Client) CreateEvent(ctx context.Context, ev model.PromoEvent) error {
	if err := c.do(ctx, http.MethodPost, "/events", toEventPayload(ev), nil); err != nil {
		return fmt.Errorf("api: create event %q: %w", ev.Name, err)
	}
	return nil
}

// CreateChannel posts a standalone channel.
func (c *Client) CreateChannel(ctx context.Context, ch model.InfoChannel) error {
	if err := c.do(ctx, http.MethodPost, "/channels", toChannelPayload(ch), nil); err != nil {
		return fmt.Errorf("api: create channel %q: %w", ch.Name, err)
	}
	return nil
}

// DeleteEvent deletes an event. isRecurring selects deleting one occurrence
// of the template id, identified by occurrenceStart, rather than the template
// itself.
func (c *Client) DeleteEvent(ctx context.Context, id string, isRecurring bool, occurrenceStart time.Time) error {
	if id == "" {
		return errors.New("api: delete event: empty id")
	}
	body := deletePayload{IsRecurring: isRecurring}
	if isRecurring {
		if occurrenceStart.IsZero() {
			return fmt.Errorf("api: delete event %s: occurrence start required", id)
		}
		body.OccurrenceStart = FormatDate(occurrenceStart)
	}
	path := "/events/" + url.PathEscape(id)
	if err := c.do(ctx, http.MethodDelete, path, body, nil); err != nil {
		return fmt.Errorf("api: delete event %s: %w", id, err)
	}
	return nil
}

// DeleteChannel deletes a channel.
func (c *Client) DeleteChannel(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("api: delete channel: empty id")
	}
	if err := c.do(ctx, http.MethodDelete, "/channels/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("api: delete channel %s: %w", id, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("api: decode %s %s: %w", method, path, err)
	}
	return nil
}
