// Package command parses request lines into typed commands.
//
// A request is a sequence of fields separated by '|'. Empty fields are
// dropped, so "LOG||S1|...|" parses like "LOG|S1|...". There is no
// escaping. Fields beyond those a verb needs are ignored.
package command

import "strings"

// Verbs recognised on the wire. Matching is case-sensitive.
const (
	VerbLog = "LOG"
	VerbGet = "GET"
)

// FieldDelimiter separates request fields.
const FieldDelimiter = "|"

// Command is one of Log, Get or Malformed.
type Command interface {
	command()
}

// Log appends one reading. Fields are raw text; the session validates them.
type Log struct {
	SensorID      string
	TimestampText string
	ValueText     string
}

// Get requests the first Count records of a sensor.
type Get struct {
	SensorID  string
	CountText string
}

// Malformed is any line that is not a recognisable request.
type Malformed struct {
	Reason string
}

func (Log) command()       {}
func (Get) command()       {}
func (Malformed) command() {}

// Split splits line on the field delimiter and drops empty fields.
func Split(line string) []string {
	raw := strings.Split(line, FieldDelimiter)
	fields := raw[:0]
	for _, f := range raw {
		if f != "" {
			fields = append(fields, f)
		}
	}
	return fields
}

// Parse classifies a request line. It never fails; unrecognised input
// yields Malformed.
func Parse(line string) Command {
	fields := Split(line)
	if len(fields) == 0 {
		return Malformed{Reason: "empty request"}
	}

	switch fields[0] {
	case VerbLog:
		if len(fields) < 4 {
			return Malformed{Reason: "LOG needs sensor, timestamp and value"}
		}
		return Log{SensorID: fields[1], TimestampText: fields[2], ValueText: fields[3]}

	case VerbGet:
		if len(fields) < 3 {
			return Malformed{Reason: "GET needs sensor and count"}
		}
		return Get{SensorID: fields[1], CountText: fields[2]}
	}

	return Malformed{Reason: "unknown verb"}
}

// Name returns a low-cardinality label for c.
func Name(c Command) string {
	switch c.(type) {
	case Log:
		return "log"
	case Get:
		return "get"
	default:
		return "malformed"
	}
}
