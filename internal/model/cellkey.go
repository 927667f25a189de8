package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidCellKey is returned by ParseCellKey for malformed input.
var ErrInvalidCellKey = errors.New("model: invalid cell key")

const cellKeySep = "|"

var projectEscaper = strings.NewReplacer("%", "%25", cellKeySep, "%7C")
var projectUnescaper = strings.NewReplacer("%7C", cellKeySep, "%25", "%")

// CellKey is the logical address of one grid cell.
type CellKey struct {
	Project string
	RowType string
	Day     int
}

// String encodes the key as "project|rowType|day". The project is escaped so
// that the first separator always ends it; the day always follows the last
// separator, so row types may contain the separator themselves.
func (k CellKey) String() string {
	return projectEscaper.Replace(k.Project) + cellKeySep + k.RowType + cellKeySep + strconv.Itoa(k.Day)
}

// SameRow reports whether both keys address the same (project, rowType) pair.
func (k CellKey) SameRow(o CellKey) bool {
	return k.Project == o.Project && k.RowType == o.RowType
}

// ParseCellKey is the inverse of CellKey.String.
func ParseCellKey(s string) (CellKey, error) {
	first := strings.Index(s, cellKeySep)
	last := strings.LastIndex(s, cellKeySep)
	if first < 0 || first == last {
		return CellKey{}, fmt.Errorf("%w: %q", ErrInvalidCellKey, s)
	}

	day, err := strconv.Atoi(s[last+1:])
	if err != nil || day < 1 || day > 31 {
		return CellKey{}, fmt.Errorf("%w: bad day in %q", ErrInvalidCellKey, s)
	}

	return CellKey{
		Project: projectUnescaper.Replace(s[:first]),
		RowType: s[first+1 : last],
		Day:     day,
	}, nil
}
