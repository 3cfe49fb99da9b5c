package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/roach88/recruitflow/internal/canonical"
	"github.com/roach88/recruitflow/internal/fault"
)

// GenesisHash is the prevHash of the first event in every chain.
const GenesisHash = ""

// ComputeHash returns hex(SHA-256(ts || canonical(payload) || prevHash || secret)).
func ComputeHash(ts Timestamp, payload canonical.Object, prevHash, secret string) (string, error) {
	if payload == nil {
		payload = canonical.Object{}
	}
	body, err := canonical.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("hash payload: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(ts.String()))
	h.Write(body)
	h.Write([]byte(prevHash))
	h.Write([]byte(secret))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyResult is the outcome of a full chain verification.
// BrokenAtIndex is set only when OK is false.
type VerifyResult struct {
	OK            bool `json:"ok"`
	BrokenAtIndex *int `json:"brokenAtIndex,omitempty"`
	Count         int  `json:"count"`
}

// Err returns an INTEGRITY error for a broken chain, nil otherwise.
func (r VerifyResult) Err() error {
	if r.OK || r.BrokenAtIndex == nil {
		return nil
	}
	return fault.Integrity(*r.BrokenAtIndex, "hash or prevHash mismatch")
}

// Verifier checks a chain one event at a time, starting from the genesis
// sentinel. The same verifier validates live logs and exported archives.
//
// After the first mismatch every later Add returns the same error; a chain
// is never repaired.
type Verifier struct {
	secret   string
	prev     string
	count    int
	broken   error
	brokenAt int
}

// NewVerifier creates a verifier for chains signed with secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: secret, prev: GenesisHash}
}

// Add checks the next event. It returns an INTEGRITY error naming the
// event's index when its prevHash or hash disagrees with recomputation.
func (v *Verifier) Add(ev Event) error {
	if v.broken != nil {
		return v.broken
	}
	idx := v.count
	v.count++
	v.brokenAt = idx

	if ev.PrevHash != v.prev {
		v.broken = fault.Integrity(idx, "prevHash does not match previous hash")
		return v.broken
	}
	want, err := ComputeHash(ev.TS, ev.Payload, ev.PrevHash, v.secret)
	if err != nil {
		v.broken = fault.Integrity(idx, err.Error())
		return v.broken
	}
	if ev.Hash != want {
		v.broken = fault.Integrity(idx, "hash mismatch")
		return v.broken
	}
	v.prev = ev.Hash
	return nil
}

// Count returns how many events have been added.
func (v *Verifier) Count() int {
	return v.count
}

// LastHash returns the hash of the last verified event.
func (v *Verifier) LastHash() string {
	return v.prev
}

// Result summarizes the verification. total is the chain length to report;
// pass Count() when every event was added.
func (v *Verifier) Result(total int) VerifyResult {
	if v.broken == nil {
		return VerifyResult{OK: true, Count: total}
	}
	idx := v.brokenAt
	return VerifyResult{OK: false, BrokenAtIndex: &idx, Count: total}
}
