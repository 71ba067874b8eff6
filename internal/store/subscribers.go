package store

import (
	"context"
	"time"
)

// AddSubscriber records consent for (tenant, chat). Inserting an existing
// pair is a no-op, not an error.
func (s *Store) AddSubscriber(ctx context.Context, tenantID int64, chatID string) error {
	now := time.Now().UTC().Format(timeFormat)
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO bot_subscribers(user_id, telegram_chat_id, joined_at)
		 VALUES(?,?,?)`,
		tenantID, chatID, now,
	)
	return err
}

// RemoveSubscriber deletes the pair if present. Removing an absent pair is a
// no-op; the returned bool reports whether a row was deleted.
func (s *Store) RemoveSubscriber(ctx context.Context, tenantID int64, chatID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM bot_subscribers WHERE user_id = ? AND telegram_chat_id = ?`,
		tenantID, chatID,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) IsSubscribed(ctx context.Context, tenantID int64, chatID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM bot_subscribers WHERE user_id = ? AND telegram_chat_id = ?`,
		tenantID, chatID,
	).Scan(&one)
	if err == nil {
		return true, nil
	}
	if isNoRows(err) {
		return false, nil
	}
	return false, err
}

func (s *Store) ListSubscribers(ctx context.Context, tenantID int64) ([]Subscriber, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, telegram_chat_id, joined_at
		 FROM bot_subscribers WHERE user_id = ? ORDER BY id`,
		tenantID,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Subscriber
	for rows.Next() {
		var sub Subscriber
		var joined string
		if err := rows.Scan(&sub.ID, &sub.TenantID, &sub.ChatID, &joined); err != nil {
			return nil, err
		}
		sub.JoinedAt = parseTime(joined)
		out = append(out, sub)
	}
	return out, rows.Err()
}
