package store

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a tenant or post does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrInvalidCredentials is returned by Authorize on a bad email/password pair.
	ErrInvalidCredentials = errors.New("store: invalid credentials")
	// ErrDuplicate is returned when a unique column (login, email, link) collides.
	ErrDuplicate = errors.New("store: duplicate")
)

// Config configures the sqlite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means driver default
}

// Tenant is a channel owner: the admin account a bot token and channel
// belong to.
type Tenant struct {
	ID           int64
	Login        string
	Email        string
	PasswordHash []byte
	AvatarURL    string
	Token        string // bot token; empty when the bot is not configured
	Channel      string // channel identifier, e.g. "@mychannel"
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Subscriber is one (tenant, chat) consent pair.
type Subscriber struct {
	ID       int64
	TenantID int64
	ChatID   string
	JoinedAt time.Time
}

// PostStatus is the lifecycle state of a pending post. A post transitions
// from pending to exactly one terminal state and never back.
type PostStatus string

const (
	PostPending PostStatus = "pending"
	PostSent    PostStatus = "sent"
	PostFailed  PostStatus = "failed"
)

// PendingPost is a persisted scheduled message, addressed by its opaque link.
type PendingPost struct {
	ID          int64
	Link        string
	TenantID    int64
	Message     string
	MediaPath   string // relative to the assets dir; empty means text-only
	ScheduledAt time.Time
	Status      PostStatus
	CreatedAt   time.Time
}
