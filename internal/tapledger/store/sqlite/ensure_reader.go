package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// ensureReader guarantees a readers row exists for the given readerID so that
// foreign-key constraints from heartbeats are satisfied.
//
// New rows start disabled and uncommissioned — only an admin action (or the
// dev seeder) should set enabled=1 and commissioned_at_ms.
//
// Must be called inside an existing transaction.
func ensureReader(ctx context.Context, tx *sql.Tx, readerID string, nowMs int64) error {
	if _, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO readers(
  reader_id, enabled, created_at_ms, updated_at_ms
) VALUES (?, 0, ?, ?);
`, readerID, nowMs, nowMs); err != nil {
		return fmt.Errorf("ensureReader %s: %w", readerID, err)
	}
	return nil
}
