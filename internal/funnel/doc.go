// Package funnel implements the candidate lifecycle state machine.
//
//	new → contacted → consented-pending → qualified | disqualified
//	qualified → scheduled (hold) → confirmed → ATS sync
//
// Every transition is appended to the audit log before the in-memory state
// is committed, so a failed append leaves state untouched. Transitions on
// one candidate are serialized by a per-candidate lock; different candidates
// proceed concurrently. The ATS sync after a confirmation runs outside every
// lock and its failure never rolls back the confirmation.
//
// Qualification and slot assignment are injected (QualificationPolicy,
// SlotAllocator). The defaults derive their answers from a SHA-256 of the
// candidate id, so the same id always gets the same outcome.
package funnel
