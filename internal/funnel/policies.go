package funnel

import (
	"crypto/sha256"
	"encoding/binary"
	"time"
)

// QualificationPolicy decides whether a candidate passes knockout
// questions. Implementations must be pure functions of the id.
type QualificationPolicy interface {
	Qualify(candidateID string) bool
}

// SlotAllocator assigns an interview slot token (RFC 3339) to a candidate.
// Implementations must be pure functions of the id.
type SlotAllocator interface {
	Allocate(candidateID string) string
}

// QualifyFunc adapts a function to QualificationPolicy.
type QualifyFunc func(candidateID string) bool

func (f QualifyFunc) Qualify(candidateID string) bool { return f(candidateID) }

// SlotFunc adapts a function to SlotAllocator.
type SlotFunc func(candidateID string) string

func (f SlotFunc) Allocate(candidateID string) string { return f(candidateID) }

// HashQualification passes three of every four candidate ids.
type HashQualification struct{}

func (HashQualification) Qualify(candidateID string) bool {
	return digest(candidateID)%4 != 0
}

// HashSlots assigns one of eight hourly slots starting an hour after Day.
type HashSlots struct {
	Day time.Time
}

// NewHashSlots creates an allocator for the day containing t (UTC).
func NewHashSlots(t time.Time) HashSlots {
	y, m, d := t.UTC().Date()
	return HashSlots{Day: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

func (h HashSlots) Allocate(candidateID string) string {
	hour := time.Duration(digest(candidateID)%8+1) * time.Hour
	return h.Day.Add(hour).Format(time.RFC3339)
}

func digest(s string) uint64 {
	sum := sha256.Sum256([]byte(s))
	return binary.BigEndian.Uint64(sum[:8])
}
