package audit

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/recruitflow/internal/canonical"
)

// Actor identifies who caused an event.
type Actor string

const (
	ActorSystem    Actor = "system"
	ActorAgent     Actor = "agent"
	ActorCandidate Actor = "candidate"
)

// Valid reports whether a is one of the known actors.
func (a Actor) Valid() bool {
	switch a {
	case ActorSystem, ActorAgent, ActorCandidate:
		return true
	}
	return false
}

// Timestamp is an event time in microseconds since the Unix epoch.
//
// On the wire and inside the hash it is rendered as decimal epoch seconds
// with exactly six fractional digits ("1756425600.000123"), so the text a
// client sees is the text that was hashed.
type Timestamp int64

// TimestampOf truncates t to microsecond precision.
func TimestampOf(t time.Time) Timestamp {
	return Timestamp(t.UnixMicro())
}

// Time converts the timestamp back to a time.Time in UTC.
func (ts Timestamp) Time() time.Time {
	return time.UnixMicro(int64(ts)).UTC()
}

// String renders the timestamp as epoch seconds with six fractional digits.
func (ts Timestamp) String() string {
	us := int64(ts)
	sign := ""
	if us < 0 {
		sign = "-"
		us = -us
	}
	return fmt.Sprintf("%s%d.%06d", sign, us/1_000_000, us%1_000_000)
}

// MarshalJSON encodes the timestamp as a JSON number.
func (ts Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(ts.String()), nil
}

// UnmarshalJSON accepts a JSON number with at most six fractional digits.
func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	parsed, err := ParseTimestamp(string(data))
	if err != nil {
		return err
	}
	*ts = parsed
	return nil
}

// ParseTimestamp parses decimal epoch seconds ("1756425600.5" or
// "1756425600.000123"). More than six fractional digits is an error
// because the value could not round-trip through the hash.
func ParseTimestamp(s string) (Timestamp, error) {
	neg := strings.HasPrefix(s, "-")
	digits := strings.TrimPrefix(s, "-")

	whole, frac, _ := strings.Cut(digits, ".")
	if len(frac) > 6 {
		return 0, fmt.Errorf("timestamp %q: more than six fractional digits", s)
	}
	sec, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("timestamp %q: %w", s, err)
	}
	var us int64
	if frac != "" {
		us, err = strconv.ParseInt(frac+strings.Repeat("0", 6-len(frac)), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("timestamp %q: %w", s, err)
		}
	}
	total := sec*1_000_000 + us
	if neg {
		total = -total
	}
	return Timestamp(total), nil
}

// Event is one immutable entry in the audit chain.
type Event struct {
	ID       string           `json:"id"`
	TS       Timestamp        `json:"ts"`
	Actor    Actor            `json:"actor"`
	Action   string           `json:"action"`
	Payload  canonical.Object `json:"payload"`
	Hash     string           `json:"hash"`
	PrevHash string           `json:"prevHash"`
}

// Entry pairs an event with its 0-based position in the log.
type Entry struct {
	Index int   `json:"index"`
	Event Event `json:"event"`
}

// Cursor is the resume position after this entry.
func (e Entry) Cursor() int {
	return e.Index + 1
}
