package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// CreatePost inserts a new pending post addressed by its opaque link.
func (s *Store) CreatePost(ctx context.Context, link string, tenantID int64, message, mediaPath string, scheduledAt time.Time) (*PendingPost, error) {
	if strings.TrimSpace(link) == "" {
		return nil, errors.New("store: post link is required")
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pending_posts(user_id, message, media_path, link_post, scheduled_at, status, created_at)
		 VALUES(?,?,?,?,?,?,?)`,
		tenantID, message, nullStr(mediaPath), link,
		scheduledAt.UTC().Format(timeFormat), string(PostPending), now.Format(timeFormat),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return s.GetPostByLink(ctx, link)
}

func (s *Store) GetPostByLink(ctx context.Context, link string) (*PendingPost, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, link_post, user_id, message, COALESCE(media_path, ''), scheduled_at, status, created_at
		 FROM pending_posts WHERE link_post = ?`, link)

	var p PendingPost
	var scheduled, created, status string
	err := row.Scan(&p.ID, &p.Link, &p.TenantID, &p.Message, &p.MediaPath, &scheduled, &status, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.ScheduledAt = parseTime(scheduled)
	p.CreatedAt = parseTime(created)
	p.Status = PostStatus(status)
	return &p, nil
}

// FinishPost performs the single terminal transition pending -> sent/failed.
// It is a guarded compare-and-set: the returned bool reports whether this
// call performed the transition. A post that is absent or already terminal is
// left untouched.
func (s *Store) FinishPost(ctx context.Context, link string, status PostStatus) (bool, error) {
	if status != PostSent && status != PostFailed {
		return false, errors.New("store: terminal status must be sent or failed")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE pending_posts SET status = ? WHERE link_post = ? AND status = ?`,
		string(status), link, string(PostPending),
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

// DeletePost removes a post (cancellation before fire). The dispatcher treats
// a missing row as "nothing to do".
func (s *Store) DeletePost(ctx context.Context, link string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pending_posts WHERE link_post = ?`, link)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListPosts returns a tenant's posts, newest first.
func (s *Store) ListPosts(ctx context.Context, tenantID int64) ([]PendingPost, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, link_post, user_id, message, COALESCE(media_path, ''), scheduled_at, status, created_at
		 FROM pending_posts WHERE user_id = ? ORDER BY scheduled_at DESC`, tenantID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []PendingPost
	for rows.Next() {
		var p PendingPost
		var scheduled, created, status string
		if err := rows.Scan(&p.ID, &p.Link, &p.TenantID, &p.Message, &p.MediaPath, &scheduled, &status, &created); err != nil {
			return nil, err
		}
		p.ScheduledAt = parseTime(scheduled)
		p.CreatedAt = parseTime(created)
		p.Status = PostStatus(status)
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListPendingPosts returns every post still awaiting delivery, across all
// tenants, soonest first. Used at daemon startup to re-arm timers.
func (s *Store) ListPendingPosts(ctx context.Context) ([]PendingPost, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, link_post, user_id, message, COALESCE(media_path, ''), scheduled_at, status, created_at
		 FROM pending_posts WHERE status = ? ORDER BY scheduled_at`, string(PostPending))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []PendingPost
	for rows.Next() {
		var p PendingPost
		var scheduled, created, status string
		if err := rows.Scan(&p.ID, &p.Link, &p.TenantID, &p.Message, &p.MediaPath, &scheduled, &status, &created); err != nil {
			return nil, err
		}
		p.ScheduledAt = parseTime(scheduled)
		p.CreatedAt = parseTime(created)
		p.Status = PostStatus(status)
		out = append(out, p)
	}
	return out, rows.Err()
}

// PruneTerminalPosts deletes sent/failed posts whose scheduled instant is
// older than the cutoff. Used by the dispatcher's retention sweep.
func (s *Store) PruneTerminalPosts(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM pending_posts WHERE status IN (?,?) AND scheduled_at < ?`,
		string(PostSent), string(PostFailed), olderThan.UTC().Format(timeFormat),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
