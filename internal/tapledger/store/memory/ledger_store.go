package memory

import (
	"context"
	"sync"
	"time"

	"github.com/jmrettig/tapledger/internal/tapledger/chain"
	"github.com/jmrettig/tapledger/internal/tapledger/store"
)

// LedgerStore is an in-memory raw ledger for tests and dev environments.
// It mirrors the sqlite store's claim semantics.
type LedgerStore struct {
	mu     sync.Mutex
	hasher chain.Hasher
	rows   []store.RawLedgerRecord
	claims map[int64]string
}

func NewLedgerStore(h chain.Hasher) *LedgerStore {
	return &LedgerStore{
		hasher: h,
		claims: make(map[int64]string),
	}
}

func (s *LedgerStore) Append(_ context.Context, tap store.AppendTap) (store.RawLedgerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tap.ReceivedAt.IsZero() {
		tap.ReceivedAt = time.Now().UTC()
	}

	seq := int64(1)
	prev := chain.Genesis()
	if n := len(s.rows); n > 0 {
		seq = s.rows[n-1].SequenceID + 1
		prev = s.rows[n-1].SelfHash
	}

	rec := store.RawLedgerRecord{
		SequenceID: seq,
		ReaderID:   tap.ReaderID,
		CardUID:    tap.CardUID,
		EventKind:  tap.EventKind,
		OccurredAt: tap.OccurredAt.UTC(),
		ReceivedAt: tap.ReceivedAt.UTC(),
		PrevHash:   prev,
	}
	rec.SelfHash = chain.Compute(s.hasher, rec.SequenceID, rec.ReaderID, rec.CardUID, string(rec.EventKind), rec.OccurredAt, rec.PrevHash)

	s.rows = append(s.rows, rec)
	return rec, nil
}

func (s *LedgerStore) Head(_ context.Context) (int64, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.rows) == 0 {
		return 0, chain.Genesis(), nil
	}
	last := s.rows[len(s.rows)-1]
	return last.SequenceID, last.SelfHash, nil
}

func (s *LedgerStore) ClaimUnprocessed(_ context.Context, token string, limit int) ([]store.RawLedgerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.RawLedgerRecord
	for _, r := range s.rows {
		if limit > 0 && len(out) >= limit {
			break
		}
		if r.Processed || r.Flagged {
			continue
		}
		if _, claimed := s.claims[r.SequenceID]; claimed {
			continue
		}
		s.claims[r.SequenceID] = token
		out = append(out, r)
	}
	return out, nil
}

func (s *LedgerStore) MarkProcessed(_ context.Context, token string, seqs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, seq := range seqs {
		if s.claims[seq] != token {
			continue
		}
		delete(s.claims, seq)
		for i := range s.rows {
			if s.rows[i].SequenceID == seq {
				s.rows[i].Processed = true
				break
			}
		}
	}
	return nil
}

func (s *LedgerStore) ReleaseClaim(_ context.Context, token string, seqs []int64, flag bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, seq := range seqs {
		if s.claims[seq] != token {
			continue
		}
		delete(s.claims, seq)
		if flag {
			for i := range s.rows {
				if s.rows[i].SequenceID == seq {
					s.rows[i].Flagged = true
					break
				}
			}
		}
	}
	return nil
}

func (s *LedgerStore) ListRange(_ context.Context, from, to int64) ([]store.RawLedgerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.RawLedgerRecord
	for _, r := range s.rows {
		if r.SequenceID >= from && r.SequenceID <= to {
			out = append(out, r)
		}
	}
	return out, nil
}

// Rows returns a copy of all ledger rows. Test-only helper.
func (s *LedgerStore) Rows() []store.RawLedgerRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.RawLedgerRecord, len(s.rows))
	copy(out, s.rows)
	return out
}

// Tamper mutates a stored row in place, bypassing the append-only surface.
// Exists only so tests can simulate out-of-band history rewrites.
func (s *LedgerStore) Tamper(seq int64, fn func(*store.RawLedgerRecord)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rows {
		if s.rows[i].SequenceID == seq {
			fn(&s.rows[i])
			return
		}
	}
}

// Drop removes a row entirely, simulating lost events for gap tests.
func (s *LedgerStore) Drop(seq int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rows {
		if s.rows[i].SequenceID == seq {
			s.rows = append(s.rows[:i], s.rows[i+1:]...)
			return
		}
	}
}
