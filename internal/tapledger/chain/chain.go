package chain

import (
	"bytes"
	"fmt"
	"time"
)

// Row is the minimal view of a raw ledger event the validator needs.
type Row struct {
	SequenceID int64
	ReaderID   string
	CardUID    string
	EventKind  string
	OccurredAt time.Time
	PrevHash   []byte
	SelfHash   []byte
}

// Range is an inclusive-of-endpoints description of a sequence gap:
// From and To are the present sequence ids bounding the missing ones.
type Range struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

// Report is the outcome of validating a window of ledger rows.
type Report struct {
	IsValid         bool    `json:"is_valid"`
	FailedSequences []int64 `json:"failed_sequences,omitempty"`
	Gaps            []Range `json:"gaps,omitempty"`
}

// Compute returns the self-hash for an event: a digest over the event's
// canonical fields concatenated with the previous event's hash. The
// encoding must stay stable — any change breaks every stored chain.
func Compute(h Hasher, seq int64, readerID, cardUID, eventKind string, occurredAt time.Time, prevHash []byte) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%d|%s|%s|%s|%d|", seq, readerID, cardUID, eventKind, occurredAt.UTC().UnixMilli())
	b.Write(prevHash)
	return h.Sum(b.Bytes())
}

// Validate checks a window of rows sorted by SequenceID ascending.
//
// Two independent checks run per row:
//   - the stored self-hash must equal the recomputation over the row's
//     fields and stored prev-hash (detects in-place field tampering);
//   - for consecutive sequence ids, prev-hash must equal the predecessor's
//     self-hash (detects rewritten history).
//
// Sequence discontinuities are reported as gaps, never as failures, and the
// link check is skipped across a gap since the true predecessor is absent.
//
// Validate is pure: it never mutates storage and rows are read-only.
func Validate(h Hasher, rows []Row) Report {
	var failed []int64
	var gaps []Range
	seen := make(map[int64]struct{})

	fail := func(seq int64) {
		if _, ok := seen[seq]; ok {
			return
		}
		seen[seq] = struct{}{}
		failed = append(failed, seq)
	}

	for i, r := range rows {
		recomputed := Compute(h, r.SequenceID, r.ReaderID, r.CardUID, r.EventKind, r.OccurredAt, r.PrevHash)
		if !bytes.Equal(recomputed, r.SelfHash) {
			fail(r.SequenceID)
		}

		if i == 0 {
			continue
		}

		prev := rows[i-1]
		switch {
		case r.SequenceID == prev.SequenceID+1:
			if !bytes.Equal(r.PrevHash, prev.SelfHash) {
				fail(r.SequenceID)
			}
		case r.SequenceID > prev.SequenceID+1:
			gaps = append(gaps, Range{From: prev.SequenceID, To: r.SequenceID})
		}
	}

	return Report{
		IsValid:         len(failed) == 0 && len(gaps) == 0,
		FailedSequences: failed,
		Gaps:            gaps,
	}
}
