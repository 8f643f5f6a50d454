package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

type SeedDevOptions struct {
	// Readers from config to pre-commission in dev.
	KnownReaders []string
}

func SeedDev(ctx context.Context, db *sql.DB, opt SeedDevOptions) error {
	now := time.Now().UTC().UnixMilli()

	readers := opt.KnownReaders
	if len(readers) == 0 {
		readers = []string{"reader-001"}
	}

	for _, rid := range readers {
		rid = strings.TrimSpace(rid)
		if rid == "" {
			continue
		}

		if _, err := db.ExecContext(ctx, `
INSERT INTO readers(
  reader_id, display_name, location,
  enabled, commissioned_at_ms,
  created_at_ms, updated_at_ms
) VALUES (?, ?, 'Dev', 1, ?, ?, ?)
ON CONFLICT(reader_id) DO UPDATE SET
  enabled = 1,
  commissioned_at_ms = COALESCE(readers.commissioned_at_ms, excluded.commissioned_at_ms),
  updated_at_ms = excluded.updated_at_ms;
`, rid, rid, now, now, now); err != nil {
			return fmt.Errorf("seed reader %s: %w", rid, err)
		}
	}

	// A starter badge so a dev tap resolves to an employee.
	if _, err := db.ExecContext(ctx, `
INSERT OR IGNORE INTO badges(
  card_uid, employee_id, status, issued_at_ms, created_at_ms, updated_at_ms
) VALUES ('AABBCCDD', 'emp-001', 'active', ?, ?, ?);
`, now, now, now); err != nil {
		return fmt.Errorf("seed badge: %w", err)
	}

	return nil
}
