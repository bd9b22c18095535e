package transform

import (
	"strconv"
	"strings"
	"time"
)

// eventDateLayout is dd-MM-yyyy, accepting one or two digit day and month.
const eventDateLayout = "2-1-2006"

// ParseFatalities casts a fatality count. Blank or non-integer values,
// and values outside int32, yield nil.
func ParseFatalities(s string) *int32 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return nil
	}
	v := int32(n)
	return &v
}

// ParseEventDate parses an event date in day-month-year form.
func ParseEventDate(s string) (time.Time, bool) {
	t, err := time.Parse(eventDateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// MonthYear splits an event date into month and year. Both are nil when
// the date does not parse.
func MonthYear(s string) (month, year *int32, ok bool) {
	t, ok := ParseEventDate(s)
	if !ok {
		return nil, nil, false
	}
	m, y := int32(t.Month()), int32(t.Year())
	return &m, &y, true
}
