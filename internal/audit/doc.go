// Package audit implements the hash-chained, append-only audit log.
//
// Every state change in the funnel is recorded as an Event whose hash covers
// its timestamp, its canonical payload, the previous event's hash and a
// shared signing secret:
//
//	hash = hex(SHA-256(ts || canonical(payload) || prevHash || secret))
//
// The first event's prevHash is the empty sentinel. Position in the log
// (0-based index) is the only ordering; events are never reordered,
// deleted or edited.
//
// Key operations:
//   - Append: validate a typed payload, chain it, write it
//   - Verify: recompute the whole chain and report the first broken index
//   - Page: cursor pagination walking backward from the newest event
//   - Tail: an iterator over events at or after an index that waits for
//     new appends
//
// A Log owns its running lastHash; there is no package-level state.
package audit
