// Package credential holds the domain model shared by the issuance and
// verification sides: the issuance record and its wire representation.
package credential

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SubjectID is the opaque key a credential is issued against. Callers send it
// as a JSON string or a JSON number; the original token is kept so re-encoding
// is byte-identical and no lossy coercion ever happens. The textual form
// doubles as the store key.
type SubjectID struct {
	value  string
	number bool
}

// NewSubjectID builds a string-form subject id. Used by stores reading keys
// back and by tests.
func NewSubjectID(s string) SubjectID {
	return SubjectID{value: s}
}

// String returns the textual form used as the store key: the unquoted value
// for strings, the literal for numbers.
func (s SubjectID) String() string { return s.value }

// IsZero reports whether the subject id is absent.
func (s SubjectID) IsZero() bool { return s.value == "" }

func (s *SubjectID) UnmarshalJSON(b []byte) error {
	if len(b) == 0 {
		return errors.New("empty subject id")
	}
	if string(b) == "null" {
		*s = SubjectID{}
		return nil
	}
	if b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = SubjectID{value: v}
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("subject id must be a string or number")
	}
	*s = SubjectID{value: n.String(), number: true}
	return nil
}

func (s SubjectID) MarshalJSON() ([]byte, error) {
	if s.number {
		return []byte(s.value), nil
	}
	return json.Marshal(s.value)
}

// Record is one issuance fact: which worker issued a credential for a subject
// and when. IssuedBy and IssuedAt are set once by the issuance side and never
// change; Payload is the caller's request body, carried verbatim and never
// interpreted.
type Record struct {
	SubjectID SubjectID
	Payload   json.RawMessage
	IssuedBy  string
	IssuedAt  time.Time
}

// timeLayout matches the millisecond UTC ISO-8601 form the wire contract
// fixes ("2025-03-01T12:00:00.000Z").
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTime renders a timestamp in the wire format.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// ParseTime reads a wire timestamp.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
