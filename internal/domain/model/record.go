package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Formatted is a rendered run result: raw value, display string and record date.
type Formatted struct {
	RawValue float64
	Rendered string
	Date     string // YYYY-MM-DD
}

// String renders "<raw>:<rendered>:<date>".
func (f Formatted) String() string {
	return FormatRaw(f.RawValue) + ":" + f.Rendered + ":" + f.Date
}

// PerformanceRecord is one persisted result line.
type PerformanceRecord struct {
	CompetitorID string
	Repository   string // owner/repo
	RawValue     float64
	Formatted    string
	Date         string
}

// NewRecord attaches a formatted result to its competitor.
func NewRecord(c Competitor, f Formatted) PerformanceRecord {
	return PerformanceRecord{
		CompetitorID: c.ID,
		Repository:   c.RepositoryRef(),
		RawValue:     f.RawValue,
		Formatted:    f.Rendered,
		Date:         f.Date,
	}
}

// Line renders "id:owner/repo:raw:formatted:date".
func (r PerformanceRecord) Line() string {
	return strings.Join([]string{r.CompetitorID, r.Repository, FormatRaw(r.RawValue), r.Formatted, r.Date}, ":")
}

// ParseRecordLine is the inverse of Line.
func ParseRecordLine(line string) (PerformanceRecord, error) {
	fields := strings.Split(strings.TrimRight(line, "\r\n"), ":")
	if len(fields) != 5 {
		return PerformanceRecord{}, fmt.Errorf("%w: want 5 fields, got %d", ErrMalformedRecord, len(fields))
	}
	raw, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return PerformanceRecord{}, fmt.Errorf("%w: raw value %q", ErrMalformedRecord, fields[2])
	}
	return PerformanceRecord{
		CompetitorID: fields[0],
		Repository:   fields[1],
		RawValue:     raw,
		Formatted:    fields[3],
		Date:         fields[4],
	}, nil
}
