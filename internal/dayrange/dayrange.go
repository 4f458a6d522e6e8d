// Package dayrange turns a local calendar date into the UTC millisecond
// bounds used by Binance trade history queries.
package dayrange

import (
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	DateLayout = "2006-01-02"

	// lastSecond is the offset of the 23:59:59 bound from local midnight.
	// The final sub-second of the day is not covered.
	lastSecond = 24*time.Hour - time.Second
)

// ErrInvalidDate is returned for dates that are not a real YYYY-MM-DD day.
var ErrInvalidDate = errors.New("invalid date")

// ErrInvalidOffset is returned for offsets outside UTC-12:00..UTC+14:00.
var ErrInvalidOffset = errors.New("invalid timezone offset")

// Offset is a fixed UTC offset in whole minutes.
type Offset struct {
	minutes int
}

// DefaultOffset is UTC+08:00.
var DefaultOffset = Offset{minutes: 8 * 60}

// OffsetFromHours converts signed, possibly fractional, hours (5.5 => +05:30)
// into an Offset.
func OffsetFromHours(hours float64) (Offset, error) {
	if math.IsNaN(hours) || hours < -12 || hours > 14 {
		return Offset{}, fmt.Errorf("%w: %v hours", ErrInvalidOffset, hours)
	}
	return Offset{minutes: int(math.Round(hours * 60))}, nil
}

// Location returns a fixed zone for the offset.
func (o Offset) Location() *time.Location {
	return time.FixedZone(o.String(), o.minutes*60)
}

// String formats the offset as +HH:MM or -HH:MM.
func (o Offset) String() string {
	sign := '+'
	m := o.minutes
	if m < 0 {
		sign = '-'
		m = -m
	}
	return fmt.Sprintf("%c%02d:%02d", sign, m/60, m%60)
}

// Range holds inclusive UTC epoch millisecond bounds of one local day.
type Range struct {
	Start int64
	End   int64
}

// Resolve returns the bounds of date (YYYY-MM-DD) from 00:00:00 to 23:59:59
// as observed at offset.
func Resolve(date string, offset Offset) (Range, error) {
	start, err := time.ParseInLocation(DateLayout, date, offset.Location())
	if err != nil {
		return Range{}, fmt.Errorf("%w %q: %v", ErrInvalidDate, date, err)
	}
	return Range{
		Start: start.UnixMilli(),
		End:   start.Add(lastSecond).UnixMilli(),
	}, nil
}
