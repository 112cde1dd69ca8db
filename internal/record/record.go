// Package record defines the fixed-width binary record persisted in a
// sensor log file and its codec.
package record

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/xtxerr/sensorlog/internal/errors"
	"github.com/xtxerr/sensorlog/internal/validation"
)

// Record encoding format (binary, little-endian, no padding):
// - SensorID (32 bytes, NUL-padded, at least one NUL)
// - Timestamp (8 bytes, int64 seconds since the Unix epoch)
// - Value (8 bytes, float64)
//
// There is no header, version byte, or checksum. A file is a plain
// concatenation of records.
const (
	IDFieldSize = 32
	MaxIDLength = IDFieldSize - 1
	Width       = IDFieldSize + 8 + 8

	timestampOffset = IDFieldSize
	valueOffset     = IDFieldSize + 8
)

// SensorID is a validated sensor identifier. The zero value is invalid;
// construct one with NewSensorID.
type SensorID struct {
	id string
}

// NewSensorID validates s and returns it as a SensorID.
// Ids that do not fit the record field are rejected, never truncated.
func NewSensorID(s string) (SensorID, error) {
	if err := validation.ValidateSensorID(s); err != nil {
		return SensorID{}, fmt.Errorf("%q: %v: %w", s, err, errors.ErrInvalidSensorID)
	}
	return SensorID{id: s}, nil
}

// MustSensorID is like NewSensorID but panics on an invalid id.
// Intended for tests and constants.
func MustSensorID(s string) SensorID {
	id, err := NewSensorID(s)
	if err != nil {
		panic(err)
	}
	return id
}

// String returns the identifier text.
func (s SensorID) String() string { return s.id }

// IsZero reports whether s was never assigned a valid id.
func (s SensorID) IsZero() bool { return s.id == "" }

// Record is one timestamped reading.
type Record struct {
	SensorID  SensorID
	Timestamp int64
	Value     float64
}

// Encode returns the Width-byte encoding of r.
func Encode(r Record) []byte {
	return AppendEncoded(make([]byte, 0, Width), r)
}

// AppendEncoded appends the encoding of r to dst.
func AppendEncoded(dst []byte, r Record) []byte {
	var id [IDFieldSize]byte
	copy(id[:MaxIDLength], r.SensorID.id)

	dst = append(dst, id[:]...)
	dst = binary.LittleEndian.AppendUint64(dst, uint64(r.Timestamp))
	dst = binary.LittleEndian.AppendUint64(dst, math.Float64bits(r.Value))
	return dst
}

// Decode decodes the first Width bytes of data.
// The id is read up to the first NUL and is not re-validated, so records
// written by other tools decode as they are.
func Decode(data []byte) (Record, error) {
	if len(data) < Width {
		return Record{}, fmt.Errorf("%d of %d bytes: %w", len(data), Width, errors.ErrShortRecord)
	}

	idField := data[:IDFieldSize]
	if n := bytes.IndexByte(idField, 0); n >= 0 {
		idField = idField[:n]
	}

	return Record{
		SensorID:  SensorID{id: string(idField)},
		Timestamp: int64(binary.LittleEndian.Uint64(data[timestampOffset:])),
		Value:     math.Float64frombits(binary.LittleEndian.Uint64(data[valueOffset:])),
	}, nil
}

// DecodeAll decodes every whole record in data. Trailing bytes that do not
// form a whole record are returned as the remainder count.
func DecodeAll(data []byte) ([]Record, int, error) {
	n := len(data) / Width
	records := make([]Record, 0, n)
	for i := 0; i < n; i++ {
		r, err := Decode(data[i*Width:])
		if err != nil {
			return nil, 0, fmt.Errorf("record %d: %w", i, err)
		}
		records = append(records, r)
	}
	return records, len(data) % Width, nil
}
