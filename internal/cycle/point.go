// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cycle implements cycle-point and interval algebra for the two
// cycling regimes a workflow may use: plain integers and ISO-8601
// datetimes. It provides parse_point/parse_interval/add_offset and the
// Sequence type that yields successive valid points.
package cycle

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	cylcerrors "github.com/cylc/cylc-scheduler/internal/errors"
)

// Point is an opaque, ordered cycle-point token. Both cycling regimes
// (integer and datetime) implement it.
type Point interface {
	// Compare returns <0, 0, >0 as the receiver is less than, equal to, or
	// greater than other. Comparing points from different regimes panics —
	// that is a programming error, not a runtime condition callers recover
	// from.
	Compare(other Point) int

	// String renders the point using its configured format.
	String() string

	// Add returns the point offset by interval.
	Add(interval Interval) Point

	// IsZero reports whether this is the zero value of its regime.
	IsZero() bool
}

// Interval is a signed offset between two points of the same regime.
type Interval interface {
	String() string
	IsNull() bool
	// Negate returns the interval with its sign flipped.
	Negate() Interval
}

// IntegerPoint is a cycle point in the integer cycling regime.
type IntegerPoint int64

func (p IntegerPoint) Compare(other Point) int {
	o, ok := other.(IntegerPoint)
	if !ok {
		panic("cycle: cannot compare IntegerPoint with a different point regime")
	}
	switch {
	case p < o:
		return -1
	case p > o:
		return 1
	default:
		return 0
	}
}

func (p IntegerPoint) String() string { return strconv.FormatInt(int64(p), 10) }

func (p IntegerPoint) Add(interval Interval) Point {
	iv, ok := interval.(IntegerInterval)
	if !ok {
		panic("cycle: cannot add a non-integer interval to an IntegerPoint")
	}
	return IntegerPoint(int64(p) + int64(iv))
}

func (p IntegerPoint) IsZero() bool { return p == 0 }

// IntegerInterval is a signed offset in the integer cycling regime.
type IntegerInterval int64

func (i IntegerInterval) String() string {
	if i >= 0 {
		return fmt.Sprintf("+P%d", int64(i))
	}
	return fmt.Sprintf("-P%d", -int64(i))
}

func (i IntegerInterval) IsNull() bool      { return i == 0 }
func (i IntegerInterval) Negate() Interval  { return -i }

// DateTimePoint is a cycle point in the ISO-8601 datetime cycling regime.
// Format is the display format (Go reference layout); the zero value
// DefaultDateTimeFormat is used when Format is empty.
type DateTimePoint struct {
	Time   time.Time
	Format string
}

// DefaultDateTimeFormat mirrors cylc's default basic ISO-8601 extended
// format, e.g. 2024-01-01T00:00:00Z.
const DefaultDateTimeFormat = "2006-01-02T15:04:05Z"

func (p DateTimePoint) Compare(other Point) int {
	o, ok := other.(DateTimePoint)
	if !ok {
		panic("cycle: cannot compare DateTimePoint with a different point regime")
	}
	switch {
	case p.Time.Before(o.Time):
		return -1
	case p.Time.After(o.Time):
		return 1
	default:
		return 0
	}
}

func (p DateTimePoint) String() string {
	format := p.Format
	if format == "" {
		format = DefaultDateTimeFormat
	}
	return p.Time.Format(format)
}

func (p DateTimePoint) Add(interval Interval) Point {
	iv, ok := interval.(DateTimeInterval)
	if !ok {
		panic("cycle: cannot add a non-datetime interval to a DateTimePoint")
	}
	s := iv.sign()
	t := p.Time.AddDate(s*iv.Years, s*iv.Months, s*(iv.Weeks*7+iv.Days))
	t = t.Add(time.Duration(s) * (time.Duration(iv.Hours)*time.Hour + time.Duration(iv.Minutes)*time.Minute + time.Duration(iv.Seconds)*time.Second))
	return DateTimePoint{Time: t, Format: p.Format}
}

func (p DateTimePoint) IsZero() bool { return p.Time.IsZero() }

// DateTimeInterval is a signed ISO-8601 duration (PnYnMnWnDTnHnMnS).
type DateTimeInterval struct {
	Years, Months, Weeks, Days, Hours, Minutes, Seconds int
	Negative                                            bool
}

func (i DateTimeInterval) sign() int {
	if i.Negative {
		return -1
	}
	return 1
}

func (i DateTimeInterval) String() string {
	sign := "+"
	if i.Negative {
		sign = "-"
	}
	var b strings.Builder
	b.WriteString(sign)
	b.WriteString("P")
	if i.Years != 0 {
		fmt.Fprintf(&b, "%dY", i.Years)
	}
	if i.Months != 0 {
		fmt.Fprintf(&b, "%dM", i.Months)
	}
	if i.Weeks != 0 {
		fmt.Fprintf(&b, "%dW", i.Weeks)
	}
	if i.Days != 0 {
		fmt.Fprintf(&b, "%dD", i.Days)
	}
	if i.Hours != 0 || i.Minutes != 0 || i.Seconds != 0 {
		b.WriteString("T")
		if i.Hours != 0 {
			fmt.Fprintf(&b, "%dH", i.Hours)
		}
		if i.Minutes != 0 {
			fmt.Fprintf(&b, "%dM", i.Minutes)
		}
		if i.Seconds != 0 {
			fmt.Fprintf(&b, "%dS", i.Seconds)
		}
	}
	if b.Len() == len(sign)+1 {
		// Nothing filled in: degenerate "P" — render explicit zero duration.
		b.WriteString("0D")
	}
	return b.String()
}

func (i DateTimeInterval) IsNull() bool {
	return i.Years == 0 && i.Months == 0 && i.Weeks == 0 && i.Days == 0 &&
		i.Hours == 0 && i.Minutes == 0 && i.Seconds == 0
}

func (i DateTimeInterval) Negate() Interval {
	i.Negative = !i.Negative
	return i
}

// ParsePoint parses a cycle point string in either regime. Integer points
// are plain (optionally signed) integers; datetime points follow format
// (a Go reference layout) or DefaultDateTimeFormat when format is empty.
func ParsePoint(value string, format string) (Point, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, &cylcerrors.PointParsingError{Value: value, Reason: "empty cycle point"}
	}

	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		return IntegerPoint(n), nil
	}

	layout := format
	if layout == "" {
		layout = DefaultDateTimeFormat
	}
	t, err := time.Parse(layout, value)
	if err != nil {
		return nil, &cylcerrors.PointParsingError{Value: value, Reason: err.Error()}
	}
	return DateTimePoint{Time: t, Format: format}, nil
}

// ParseInterval parses a signed offset string: a plain (optionally signed)
// integer for integer cycling, or an ISO-8601 duration (PnYnMnWnDTnHnMnS,
// optionally prefixed with + or -) for datetime cycling.
func ParseInterval(value string) (Interval, error) {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return nil, &cylcerrors.IntervalParsingError{Value: value, Reason: "empty interval"}
	}

	negative := false
	body := raw
	switch body[0] {
	case '+':
		body = body[1:]
	case '-':
		negative = true
		body = body[1:]
	}

	if n, err := strconv.ParseInt(body, 10, 64); err == nil {
		if negative {
			n = -n
		}
		return IntegerInterval(n), nil
	}

	if len(body) == 0 || body[0] != 'P' {
		return nil, &cylcerrors.IntervalParsingError{Value: value, Reason: "expected integer offset or ISO-8601 duration starting with P"}
	}

	iv, err := parseISODuration(body[1:])
	if err != nil {
		return nil, &cylcerrors.IntervalParsingError{Value: value, Reason: err.Error()}
	}
	iv.Negative = negative
	return iv, nil
}

// parseISODuration parses the body of a PnYnMnWnDTnHnMnS duration (without
// the leading P).
func parseISODuration(body string) (DateTimeInterval, error) {
	var iv DateTimeInterval
	inTime := false
	numBuf := strings.Builder{}

	flush := func(unit byte) error {
		if numBuf.Len() == 0 {
			return fmt.Errorf("duration unit %q has no preceding number", string(unit))
		}
		n, err := strconv.Atoi(numBuf.String())
		if err != nil {
			return fmt.Errorf("invalid number %q before unit %q", numBuf.String(), string(unit))
		}
		numBuf.Reset()
		switch unit {
		case 'Y':
			iv.Years = n
		case 'M':
			if inTime {
				iv.Minutes = n
			} else {
				iv.Months = n
			}
		case 'W':
			iv.Weeks = n
		case 'D':
			iv.Days = n
		case 'H':
			iv.Hours = n
		case 'S':
			iv.Seconds = n
		default:
			return fmt.Errorf("unknown duration unit %q", string(unit))
		}
		return nil
	}

	for i := 0; i < len(body); i++ {
		c := body[i]
		switch {
		case c == 'T':
			inTime = true
		case c >= '0' && c <= '9':
			numBuf.WriteByte(c)
		default:
			if err := flush(c); err != nil {
				return DateTimeInterval{}, err
			}
		}
	}
	if numBuf.Len() > 0 {
		return DateTimeInterval{}, fmt.Errorf("trailing number %q without a unit", numBuf.String())
	}
	if iv.IsNull() {
		return DateTimeInterval{}, fmt.Errorf("duration has no components")
	}
	return iv, nil
}

// AddOffset adds a signed offset string to point, parsing it with
// ParseInterval first.
func AddOffset(point Point, offset string) (Point, error) {
	iv, err := ParseInterval(offset)
	if err != nil {
		return nil, err
	}
	return point.Add(iv), nil
}
