// Package layout packs overlapping time intervals into stacked rows.
package layout

import "time"

// Interval is one entity's closed time span inside a bucket.
type Interval struct {
	ID    string
	Start time.Time
	End   time.Time
}

// Overlaps is the closed-interval test: touching endpoints overlap.
func Overlaps(a, b Interval) bool {
	return !a.Start.After(b.End) && !a.End.Before(b.Start)
}

// Assignment maps entity id to its stacked row index.
type Assignment struct {
	Rows     map[string]int
	RowCount int
}

// Row returns the row of id and whether it was packed.
func (a Assignment) Row(id string) (int, bool) {
	r, ok := a.Rows[id]
	return r, ok
}

// Pack assigns every interval, in the order given, to the first row holding
// no interval it overlaps, appending a new row when none qualifies. The input
// order is not sorted; the result is a pure function of it.
func Pack(intervals []Interval) Assignment {
	out := Assignment{Rows: make(map[string]int, len(intervals))}
	var rows [][]Interval

	for _, iv := range intervals {
		placed := -1
		for r, members := range rows {
			free := true
			for _, other := range members {
				if Overlaps(iv, other) {
					free = false
					break
				}
			}
			if free {
				placed = r
				break
			}
		}
		if placed < 0 {
			rows = append(rows, nil)
			placed = len(rows) - 1
		}
		rows[placed] = append(rows[placed], iv)
		out.Rows[iv.ID] = placed
	}

	out.RowCount = len(rows)
	return out
}
