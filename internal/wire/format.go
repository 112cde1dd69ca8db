package wire

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/xtxerr/sensorlog/config"
	"github.com/xtxerr/sensorlog/internal/errors"
	"github.com/xtxerr/sensorlog/internal/record"
)

// TimestampLayout is the local date-time form used in requests and replies.
const TimestampLayout = "2006-01-02T15:04:05"

const (
	itemSeparator  = ";"
	fieldSeparator = "|"
)

// Reading is one timestamp/value pair of a GET reply.
type Reading struct {
	Timestamp int64
	Value     float64
}

// Format controls how GET replies render records.
type Format struct {
	// Location for timestamps. Nil means time.Local.
	Location *time.Location

	// Precision is the number of decimals for values; -1 selects the
	// shortest representation that round-trips.
	Precision int
}

// DefaultFormat returns the reply format of the legacy service.
func DefaultFormat() Format {
	return Format{Location: time.Local, Precision: config.DefaultValuePrecision}
}

func (f Format) location() *time.Location {
	if f.Location == nil {
		return time.Local
	}
	return f.Location
}

// FormatTimestamp renders seconds since the epoch in the layout.
func (f Format) FormatTimestamp(ts int64) string {
	return time.Unix(ts, 0).In(f.location()).Format(TimestampLayout)
}

// FormatValue renders a reading value.
func (f Format) FormatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', f.Precision, 64)
}

// FormatGet renders a successful GET reply:
//
//	<count>;<ts1>|<v1>;<ts2>|<v2>...
//
// An empty result renders as "0". Items are joined by ';' with no trailing
// separator, matching the replies existing clients already parse.
func (f Format) FormatGet(records []record.Record) string {
	var b strings.Builder
	b.Grow(8 + len(records)*32)
	b.WriteString(strconv.Itoa(len(records)))
	for _, r := range records {
		b.WriteString(itemSeparator)
		b.WriteString(f.FormatTimestamp(r.Timestamp))
		b.WriteString(fieldSeparator)
		b.WriteString(f.FormatValue(r.Value))
	}
	return b.String()
}

// ParseTimestamp parses the timestamp field of a LOG request.
func (f Format) ParseTimestamp(text string) (int64, error) {
	t, err := time.ParseInLocation(TimestampLayout, text, f.location())
	if err != nil {
		return 0, fmt.Errorf("%q: %w", text, errors.ErrInvalidTimestamp)
	}
	return t.Unix(), nil
}

// ParseValue parses the value field of a LOG request. NaN and infinities
// are rejected.
func ParseValue(text string) (float64, error) {
	v, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%q: %w", text, errors.ErrInvalidValue)
	}
	return v, nil
}

// ParseCount parses the count field of a GET request. It must be a
// non-negative decimal integer. A well-formed count above max, including
// one too large for an int, fails with ErrCountOverLimit rather than
// ErrInvalidCount: no sensor can serve it.
func ParseCount(text string, max int) (int, error) {
	n, err := strconv.Atoi(text)
	if errors.Is(err, strconv.ErrRange) && !strings.HasPrefix(text, "-") {
		return 0, fmt.Errorf("%s exceeds limit %d: %w", text, max, errors.ErrCountOverLimit)
	}
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%q: %w", text, errors.ErrInvalidCount)
	}
	if max > 0 && n > max {
		return 0, fmt.Errorf("%d exceeds limit %d: %w", n, max, errors.ErrCountOverLimit)
	}
	return n, nil
}

// ParseGet parses a successful GET reply. Error markers are not replies
// of this kind; use IsError first.
func (f Format) ParseGet(line string) ([]Reading, error) {
	items := strings.Split(line, itemSeparator)

	n, err := strconv.Atoi(items[0])
	if err != nil || n < 0 {
		return nil, fmt.Errorf("bad count %q: %w", items[0], errors.ErrProtocolMalformed)
	}
	if len(items)-1 != n {
		return nil, fmt.Errorf("count %d but %d items: %w", n, len(items)-1, errors.ErrProtocolMalformed)
	}

	readings := make([]Reading, 0, n)
	for _, item := range items[1:] {
		ts, val, ok := strings.Cut(item, fieldSeparator)
		if !ok {
			return nil, fmt.Errorf("bad item %q: %w", item, errors.ErrProtocolMalformed)
		}
		sec, err := f.ParseTimestamp(ts)
		if err != nil {
			return nil, err
		}
		v, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return nil, fmt.Errorf("bad value %q: %w", val, errors.ErrProtocolMalformed)
		}
		readings = append(readings, Reading{Timestamp: sec, Value: v})
	}
	return readings, nil
}

// IsError reports whether a reply line is an error marker.
func IsError(line string) bool {
	return strings.HasPrefix(line, "ERROR"+fieldSeparator)
}

// ErrorFor maps a reply marker back to the error it stands for.
// Unknown markers map to ErrInternal.
func ErrorFor(marker string) error {
	switch marker {
	case errors.ReplyInvalidSensorID:
		return errors.ErrInvalidSensorID
	case errors.ReplyMalformedRequest:
		return errors.ErrProtocolMalformed
	case errors.ReplyStorageUnavailable:
		return errors.ErrStorageUnavailable
	default:
		return errors.ErrInternal
	}
}
