// Package archive exports the audit chain as a self-contained compliance
// archive and verifies archives offline.
//
// An archive is a zstd stream holding a sequence of deterministic CBOR
// items: one Header followed by Header.Count event records. Payloads are
// stored as their canonical JSON text so the hash inputs survive the
// round trip byte for byte.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/roach88/recruitflow/internal/audit"
	"github.com/roach88/recruitflow/internal/canonical"
	"github.com/roach88/recruitflow/internal/fault"
)

const (
	// Format identifies recruitflow audit archives.
	Format = "recruitflow-audit-archive"

	// Version is the archive layout version.
	Version = 1
)

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("archive: CBOR encoder initialization failed: " + err.Error())
	}
}

// Header describes the archive contents.
type Header struct {
	Format     string `cbor:"format"`
	Version    int    `cbor:"version"`
	Count      int    `cbor:"count"`
	LastHash   string `cbor:"lastHash"`
	ExportedAt int64  `cbor:"exportedAt"`
}

type record struct {
	ID       string `cbor:"id"`
	TS       int64  `cbor:"ts"`
	Actor    string `cbor:"actor"`
	Action   string `cbor:"action"`
	Payload  string `cbor:"payload"`
	Hash     string `cbor:"hash"`
	PrevHash string `cbor:"prevHash"`
}

func recordOf(ev audit.Event) (record, error) {
	payload, err := canonical.Marshal(ev.Payload)
	if err != nil {
		return record{}, fmt.Errorf("encode payload of %s: %w", ev.ID, err)
	}
	return record{
		ID:       ev.ID,
		TS:       int64(ev.TS),
		Actor:    string(ev.Actor),
		Action:   ev.Action,
		Payload:  string(payload),
		Hash:     ev.Hash,
		PrevHash: ev.PrevHash,
	}, nil
}

func (r record) event() (audit.Event, error) {
	var payload canonical.Object
	if err := payload.UnmarshalJSON([]byte(r.Payload)); err != nil {
		return audit.Event{}, fmt.Errorf("decode payload of %s: %w", r.ID, err)
	}
	return audit.Event{
		ID:       r.ID,
		TS:       audit.Timestamp(r.TS),
		Actor:    audit.Actor(r.Actor),
		Action:   r.Action,
		Payload:  payload,
		Hash:     r.Hash,
		PrevHash: r.PrevHash,
	}, nil
}

// Export writes every event currently in log to w. Events appended while
// the export runs are not included; the header count is fixed up front.
func Export(ctx context.Context, log *audit.Log, w io.Writer, now time.Time) (Header, error) {
	total, err := log.Len(ctx)
	if err != nil {
		return Header{}, fmt.Errorf("export: %w", err)
	}

	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return Header{}, fmt.Errorf("export: zstd writer: %w", err)
	}
	enc := encMode.NewEncoder(zw)

	header := Header{
		Format:     Format,
		Version:    Version,
		Count:      total,
		ExportedAt: now.UTC().Unix(),
	}
	records := make([]record, 0, total)
	for entry, err := range log.Scan(ctx, 0) {
		if err != nil {
			zw.Close()
			return Header{}, fmt.Errorf("export: %w", err)
		}
		if entry.Index >= total {
			break
		}
		rec, err := recordOf(entry.Event)
		if err != nil {
			zw.Close()
			return Header{}, fmt.Errorf("export: %w", err)
		}
		records = append(records, rec)
		header.LastHash = entry.Event.Hash
	}
	if len(records) != total {
		zw.Close()
		return Header{}, fmt.Errorf("export: read %d events, expected %d", len(records), total)
	}

	if err := enc.Encode(header); err != nil {
		zw.Close()
		return Header{}, fmt.Errorf("export: write header: %w", err)
	}
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			zw.Close()
			return Header{}, fmt.Errorf("export: write event %s: %w", rec.ID, err)
		}
	}
	if err := zw.Close(); err != nil {
		return Header{}, fmt.Errorf("export: flush: %w", err)
	}
	return header, nil
}

// Report is the outcome of verifying an archive.
type Report struct {
	Header Header             `json:"header"`
	Result audit.VerifyResult `json:"result"`
}

// Verify reads an archive from r and checks its chain with secret. A
// broken chain is reported in Report.Result; errors are reserved for
// archives that cannot be read at all.
func Verify(r io.Reader, secret string) (Report, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return Report{}, fmt.Errorf("verify archive: zstd reader: %w", err)
	}
	defer zr.Close()
	dec := cbor.NewDecoder(zr)

	var header Header
	if err := dec.Decode(&header); err != nil {
		return Report{}, fault.Validation("not an audit archive: %v", err)
	}
	if header.Format != Format {
		return Report{}, fault.Validation("not an audit archive: format %q", header.Format)
	}
	if header.Version != Version {
		return Report{}, fault.Validation("unsupported archive version %d", header.Version)
	}

	v := audit.NewVerifier(secret)
	for i := 0; i < header.Count; i++ {
		var rec record
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return Report{}, fault.Integrity(i, fmt.Sprintf("archive truncated: %v", err))
		}
		ev, err := rec.event()
		if err != nil {
			return Report{}, fault.Integrity(i, err.Error())
		}
		if v.Add(ev) != nil {
			break
		}
	}

	report := Report{Header: header, Result: v.Result(header.Count)}
	if report.Result.OK && v.LastHash() != header.LastHash {
		idx := max(header.Count-1, 0)
		report.Result = audit.VerifyResult{OK: false, BrokenAtIndex: &idx, Count: header.Count}
	}
	return report, nil
}
