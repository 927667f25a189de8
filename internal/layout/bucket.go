package layout

import (
	"encoding/binary"
	"hash/fnv"
	"sync"
	"time"

	appLog "promocal/internal/log"
	"promocal/internal/model"
)

// Kind distinguishes events from channels inside a bucket.
type Kind int

const (
	KindEvent Kind = iota
	KindChannel
)

func (k Kind) String() string {
	if k == KindChannel {
		return "channel"
	}
	return "event"
}

// BucketKey is the (project, rowType) grouping within which packing happens.
type BucketKey struct {
	Project string
	RowType string
}

// Item is one packable entity. Channels are single-instant intervals.
type Item struct {
	Interval
	Kind    Kind
	Event   model.PromoEvent
	Channel model.InfoChannel
}

// Buckets groups entities by (project, rowType), preserving the supplied
// order inside every bucket. Events appear under each of their projects.
// Channels embedded in events and standalone channels are both placed in
// their channel-type row; a channel id seen twice is kept once.
// Row types outside vocab are dropped.
func Buckets(events []model.PromoEvent, channels []model.InfoChannel, vocab *model.Vocabulary) map[BucketKey][]Item {
	out := make(map[BucketKey][]Item)
	seenChannel := make(map[string]bool)

	addChannel := func(ch model.InfoChannel) {
		if id := ch.LayoutID(); id != "" {
			if seenChannel[id] {
				return
			}
			seenChannel[id] = true
		}
		if !vocab.Contains(ch.Type) {
			appLog.Debug("layout: channel row type not configured", "id", ch.ID, "type", ch.Type)
			return
		}
		key := BucketKey{Project: ch.Project, RowType: ch.Type}
		out[key] = append(out[key], Item{
			Interval: Interval{ID: ch.LayoutID(), Start: ch.Start, End: ch.Start},
			Kind:     KindChannel,
			Channel:  ch,
		})
	}

	for _, ev := range events {
		if vocab.Contains(ev.PromoType) {
			for _, p := range ev.Projects {
				key := BucketKey{Project: p, RowType: ev.PromoType}
				out[key] = append(out[key], Item{
					Interval: Interval{ID: ev.LayoutID(), Start: ev.Start, End: ev.End},
					Kind:     KindEvent,
					Event:    ev,
				})
			}
		} else {
			appLog.Debug("layout: event row type not configured", "id", ev.ID, "type", ev.PromoType)
		}
		for _, ch := range ev.InfoChannels {
			if ch.Project == "" {
				ch.Project = ev.Project()
			}
			if ch.EventID == "" {
				ch.EventID = ev.ID
			}
			addChannel(ch)
		}
	}
	for _, ch := range channels {
		addChannel(ch)
	}
	return out
}

// Intervals extracts the ordered intervals of a bucket.
func Intervals(items []Item) []Interval {
	out := make([]Interval, len(items))
	for i, it := range items {
		out[i] = it.Interval
	}
	return out
}

// Sanitize drops entities whose dates are unusable (zero, or end before
// start) with a logged warning, so they never reach the render path.
func Sanitize(events []model.PromoEvent, channels []model.InfoChannel) ([]model.PromoEvent, []model.InfoChannel) {
	evOut := make([]model.PromoEvent, 0, len(events))
	for _, ev := range events {
		if ev.Start.IsZero() || ev.End.IsZero() || ev.End.Before(ev.Start) {
			appLog.Warn("layout: dropping event with malformed dates", "id", ev.ID, "start", ev.Start, "end", ev.End)
			continue
		}
		kept := ev.InfoChannels[:0:0]
		for _, ch := range ev.InfoChannels {
			if ch.Start.IsZero() {
				appLog.Warn("layout: dropping channel with malformed date", "id", ch.ID, "event_id", ev.ID)
				continue
			}
			kept = append(kept, ch)
		}
		ev.InfoChannels = kept
		evOut = append(evOut, ev)
	}

	chOut := make([]model.InfoChannel, 0, len(channels))
	for _, ch := range channels {
		if ch.Start.IsZero() {
			appLog.Warn("layout: dropping channel with malformed date", "id", ch.ID)
			continue
		}
		chOut = append(chOut, ch)
	}
	return evOut, chOut
}

// Clip intersects [start, end] with the month [monthStart, monthEnd] and
// returns the first and last visible day of month. ok is false when nothing
// of the interval is visible. truncStart/truncEnd report that the true
// interval continues before/after the month.
func Clip(iv Interval, monthStart, monthEnd time.Time) (startDay, endDay int, truncStart, truncEnd, ok bool) {
	if iv.End.Before(monthStart) || iv.Start.After(monthEnd) {
		return 0, 0, false, false, false
	}
	s, e := iv.Start.UTC(), iv.End.UTC()
	if s.Before(monthStart) {
		s = monthStart
		truncStart = true
	}
	if e.After(monthEnd) {
		e = monthEnd
		truncEnd = true
	}
	return s.Day(), e.Day(), truncStart, truncEnd, true
}

type memoEntry struct {
	sig        uint64
	assignment Assignment
}

// Packer memoizes one Assignment per bucket and recomputes it only when the
// bucket's ordered interval list changes.
type Packer struct {
	mu   sync.Mutex
	memo map[BucketKey]memoEntry
}

func NewPacker() *Packer {
	return &Packer{memo: make(map[BucketKey]memoEntry)}
}

// Assign returns the row assignment for the bucket.
func (p *Packer) Assign(key BucketKey, intervals []Interval) Assignment {
	sig := signature(intervals)

	p.mu.Lock()
	defer p.mu.Unlock()
	if m, ok := p.memo[key]; ok && m.sig == sig {
		return m.assignment
	}
	a := Pack(intervals)
	p.memo[key] = memoEntry{sig: sig, assignment: a}
	return a
}

// Forget drops every memoized bucket.
func (p *Packer) Forget() {
	p.mu.Lock()
	p.memo = make(map[BucketKey]memoEntry)
	p.mu.Unlock()
}

func signature(intervals []Interval) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	for _, iv := range intervals {
		h.Write([]byte(iv.ID))
		h.Write([]byte{0})
		binary.LittleEndian.PutUint64(buf[:], uint64(iv.Start.UnixNano()))
		h.Write(buf[:])
		binary.LittleEndian.PutUint64(buf[:], uint64(iv.End.UnixNano()))
		h.Write(buf[:])
	}
	return h.Sum64()
}
