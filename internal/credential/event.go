package credential

import (
	"encoding/json"
	"fmt"
	"time"
)

// Topic carries credential issuance facts from the issuance side to the
// verification side. Delivery is at-least-once with no ordering guarantee
// across subjects; consumers must treat replays as no-ops.
const Topic = "credential.issued"

// issuedEvent is the wire form of an issuance fact. The field names are fixed
// by the channel contract; do not rename them.
type issuedEvent struct {
	SubjectID SubjectID       `json:"userid"`
	Payload   json.RawMessage `json:"payload"`
	IssuedBy  string          `json:"workerId"`
	IssuedAt  string          `json:"timestamp"`
}

// EncodeIssued renders a record as a wire event.
func EncodeIssued(rec Record) ([]byte, error) {
	b, err := json.Marshal(issuedEvent{
		SubjectID: rec.SubjectID,
		Payload:   rec.Payload,
		IssuedBy:  rec.IssuedBy,
		IssuedAt:  FormatTime(rec.IssuedAt),
	})
	if err != nil {
		return nil, fmt.Errorf("encode issued event: %w", err)
	}
	return b, nil
}

// DecodeIssued parses a wire event back into a record. Any missing or
// unparseable field makes the whole event malformed; callers decide what a
// malformed event means for the delivery.
func DecodeIssued(b []byte) (Record, error) {
	var ev issuedEvent
	if err := json.Unmarshal(b, &ev); err != nil {
		return Record{}, fmt.Errorf("decode issued event: %w", err)
	}
	if ev.SubjectID.IsZero() {
		return Record{}, fmt.Errorf("decode issued event: missing userid")
	}
	var issuedAt time.Time
	if ev.IssuedAt != "" {
		t, err := ParseTime(ev.IssuedAt)
		if err != nil {
			return Record{}, fmt.Errorf("decode issued event: bad timestamp %q: %w", ev.IssuedAt, err)
		}
		issuedAt = t
	} else {
		return Record{}, fmt.Errorf("decode issued event: missing timestamp")
	}
	return Record{
		SubjectID: ev.SubjectID,
		Payload:   ev.Payload,
		IssuedBy:  ev.IssuedBy,
		IssuedAt:  issuedAt,
	}, nil
}
