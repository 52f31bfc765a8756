// Package defect decides whether classification metadata describes a defective item.
package defect

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

type Decision int

const (
	Clear Decision = iota
	Alarm
)

func (d Decision) String() string {
	switch d {
	case Clear:
		return "CLEAR"
	case Alarm:
		return "ALARM"
	default:
		return "UNKNOWN"
	}
}

// IsAlarm reports whether the red light should be on.
func (d Decision) IsAlarm() bool {
	return d == Alarm
}

var (
	ErrMalformedMetadata = errors.New("malformed classification metadata")
	ErrMalformedDefect   = errors.New("defect record has no type")
)

// Defect is one entry of the "defects" list. Fields other than type are ignored.
type Defect struct {
	Type *int `json:"type"`
}

// Metadata is the part of a classification result the evaluator reads.
type Metadata struct {
	Defects []Defect `json:"defects"`
}

// recognizedTypes are the defect categories that trigger the alarm.
var recognizedTypes = map[int]struct{}{
	0: {},
	1: {},
	2: {},
	3: {},
}

// Decode parses a metadata payload. An empty payload or JSON null yields nil metadata.
func Decode(payload []byte) (*Metadata, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	var m Metadata
	if err := json.Unmarshal(trimmed, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMetadata, err)
	}

	return &m, nil
}

// Evaluate maps metadata to a decision. Missing or empty defects are CLEAR, any
// recognized type code is ALARM, and defects with only unrecognized codes are CLEAR.
func Evaluate(m *Metadata) (Decision, error) {
	if m == nil || len(m.Defects) == 0 {
		return Clear, nil
	}

	decision := Clear
	for i, d := range m.Defects {
		if d.Type == nil {
			return Clear, fmt.Errorf("%w (index %d)", ErrMalformedDefect, i)
		}
		if _, ok := recognizedTypes[*d.Type]; ok {
			decision = Alarm
		}
	}

	return decision, nil
}
