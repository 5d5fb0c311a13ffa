package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/louisbranch/hederapoly/internal/services/game/domain"
	"github.com/louisbranch/hederapoly/internal/services/game/storage"
)

// AppendActivity persists one journal record. Re-appending an ID is a no-op.
func (s *Store) AppendActivity(ctx context.Context, record storage.ActivityRecord) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("activity id is required")
	}
	if record.Account.IsZero() {
		return fmt.Errorf("activity account is required")
	}

	_, err := s.sqlDB.ExecContext(ctx,
		"INSERT INTO activity (id, account, severity, message_key, message, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		record.ID, record.Account.String(), record.Severity, record.Key, record.Message, toMillis(record.CreatedAt),
	)
	if err != nil {
		if isConstraintError(err) {
			return nil
		}
		return fmt.Errorf("append activity: %w", err)
	}
	return nil
}

// ListActivity returns the newest limit records for account, oldest first.
func (s *Store) ListActivity(ctx context.Context, account domain.AccountID, limit int) ([]storage.ActivityRecord, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if account.IsZero() {
		return nil, fmt.Errorf("account is required")
	}
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, severity, message_key, message, created_at FROM (
    SELECT id, severity, message_key, message, created_at, rowid AS seq
    FROM activity WHERE account = ?
    ORDER BY created_at DESC, seq DESC
    LIMIT ?
) ORDER BY created_at ASC, seq ASC`, account.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	var records []storage.ActivityRecord
	for rows.Next() {
		record := storage.ActivityRecord{Account: account}
		var createdAt int64
		if err := rows.Scan(&record.ID, &record.Severity, &record.Key, &record.Message, &createdAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		record.CreatedAt = fromMillis(createdAt)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read activity: %w", err)
	}
	return records, nil
}
