// Package canonical provides the constrained JSON value model used for audit
// payloads and its RFC 8785 canonical serialization.
//
// Canonical bytes are the only serialization that feeds the audit hash chain.
// Two payloads with the same content always produce identical bytes:
//   - object keys are sorted by UTF-16 code units
//   - strings are NFC normalized and never HTML escaped
//   - numbers are integers only; floats are rejected
//
// This package imports nothing internal.
package canonical
