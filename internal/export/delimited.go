package export

import (
	"bufio"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protodelim"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/xtxerr/sensorlog/internal/record"
)

// maxDelimitedSize bounds one message when reading a delimited stream.
const maxDelimitedSize = 64 * 1024

// Field names of a delimited record message.
const (
	fieldSensor    = "sensor_id"
	fieldTimestamp = "timestamp"
	fieldValue     = "value"
)

// WriteDelimited writes each record as a length-delimited
// google.protobuf.Struct message. It returns the number written.
func WriteDelimited(w io.Writer, records []record.Record) (int, error) {
	bw := bufio.NewWriter(w)
	for i, r := range records {
		msg := &structpb.Struct{Fields: map[string]*structpb.Value{
			fieldSensor:    structpb.NewStringValue(r.SensorID.String()),
			fieldTimestamp: structpb.NewNumberValue(float64(r.Timestamp)),
			fieldValue:     structpb.NewNumberValue(r.Value),
		}}
		if _, err := protodelim.MarshalTo(bw, msg); err != nil {
			return i, fmt.Errorf("write record %d: %w", i, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return len(records), fmt.Errorf("flush: %w", err)
	}
	return len(records), nil
}

// ReadDelimited reads a stream written by WriteDelimited.
func ReadDelimited(r io.Reader) ([]record.Record, error) {
	br := bufio.NewReader(r)
	opts := protodelim.UnmarshalOptions{MaxSize: maxDelimitedSize}

	var out []record.Record
	for {
		msg := &structpb.Struct{}
		if err := opts.UnmarshalFrom(br, msg); err != nil {
			if err == io.EOF {
				return out, nil
			}
			return nil, fmt.Errorf("read record %d: %w", len(out), err)
		}

		rec, err := structToRecord(msg)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", len(out), err)
		}
		out = append(out, rec)
	}
}

func structToRecord(msg *structpb.Struct) (record.Record, error) {
	f := msg.GetFields()

	sensor, ok := f[fieldSensor].GetKind().(*structpb.Value_StringValue)
	if !ok {
		return record.Record{}, fmt.Errorf("missing %s", fieldSensor)
	}
	ts, ok := f[fieldTimestamp].GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return record.Record{}, fmt.Errorf("missing %s", fieldTimestamp)
	}
	val, ok := f[fieldValue].GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return record.Record{}, fmt.Errorf("missing %s", fieldValue)
	}

	id, err := record.NewSensorID(sensor.StringValue)
	if err != nil {
		return record.Record{}, err
	}
	return record.Record{SensorID: id, Timestamp: int64(ts.NumberValue), Value: val.NumberValue}, nil
}
