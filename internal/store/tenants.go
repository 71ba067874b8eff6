package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const tenantColumns = `id, login, email, password_hash,
	COALESCE(avatar_url, ''), COALESCE(telegram_token, ''), COALESCE(telegram_channel, ''),
	created_at, updated_at`

func scanTenant(row *sql.Row) (*Tenant, error) {
	var t Tenant
	var created, updated string
	err := row.Scan(&t.ID, &t.Login, &t.Email, &t.PasswordHash,
		&t.AvatarURL, &t.Token, &t.Channel, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.CreatedAt = parseTime(created)
	t.UpdatedAt = parseTime(updated)
	return &t, nil
}

// CreateTenant registers a new channel owner account. The password is stored
// as a bcrypt hash.
func (s *Store) CreateTenant(ctx context.Context, login, email, password string) (*Tenant, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC().Format(timeFormat)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO admin_users(login, email, password_hash, created_at, updated_at)
		 VALUES(?,?,?,?,?)`,
		login, email, hash, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.GetTenant(ctx, id)
}

func (s *Store) GetTenant(ctx context.Context, id int64) (*Tenant, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+tenantColumns+` FROM admin_users WHERE id = ?`, id)
	return scanTenant(row)
}

func (s *Store) GetTenantByEmail(ctx context.Context, email string) (*Tenant, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+tenantColumns+` FROM admin_users WHERE email = ?`, email)
	return scanTenant(row)
}

func (s *Store) GetTenantByLogin(ctx context.Context, login string) (*Tenant, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+tenantColumns+` FROM admin_users WHERE login = ?`, login)
	return scanTenant(row)
}

// GetTenantByToken answers "is a tenant defined for this bot token".
func (s *Store) GetTenantByToken(ctx context.Context, token string) (*Tenant, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+tenantColumns+` FROM admin_users WHERE telegram_token = ?`, token)
	return scanTenant(row)
}

// Authorize verifies the email/password pair and returns the tenant on success.
func (s *Store) Authorize(ctx context.Context, email, password string) (*Tenant, error) {
	t, err := s.GetTenantByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword(t.PasswordHash, []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return t, nil
}

// VerifyPassword checks a tenant's current password (profile edits).
func (s *Store) VerifyPassword(ctx context.Context, id int64, password string) (bool, error) {
	t, err := s.GetTenant(ctx, id)
	if err != nil {
		return false, err
	}
	return bcrypt.CompareHashAndPassword(t.PasswordHash, []byte(password)) == nil, nil
}

func (s *Store) UpdatePassword(ctx context.Context, id int64, newPassword string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return s.updateTenant(ctx, id, "password_hash = ?", hash)
}

func (s *Store) UpdateAvatar(ctx context.Context, id int64, avatarURL string) error {
	return s.updateTenant(ctx, id, "avatar_url = ?", nullStr(avatarURL))
}

func (s *Store) UpdateLogin(ctx context.Context, id int64, login string) error {
	err := s.updateTenant(ctx, id, "login = ?", login)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// UpdateTelegramSettings stores a tenant's bot token and channel. Callers own
// the worker restart when the token changes.
func (s *Store) UpdateTelegramSettings(ctx context.Context, id int64, token, channel string) error {
	now := time.Now().UTC().Format(timeFormat)
	res, err := s.db.ExecContext(ctx,
		`UPDATE admin_users SET telegram_token = ?, telegram_channel = ?, updated_at = ? WHERE id = ?`,
		nullStr(token), nullStr(channel), now, id,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) updateTenant(ctx context.Context, id int64, setClause string, arg any) error {
	now := time.Now().UTC().Format(timeFormat)
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE admin_users SET %s, updated_at = ? WHERE id = ?`, setClause),
		arg, now, id,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
