package panel

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/ArtemKrvzng/telegram-control-panel/internal/store"
	"github.com/ArtemKrvzng/telegram-control-panel/internal/telegram"
	logx "github.com/ArtemKrvzng/telegram-control-panel/pkg/logx"
)

var (
	ErrNoToken      = errors.New("panel: tenant has no bot token configured")
	ErrNoChannel    = errors.New("panel: tenant has no channel configured")
	ErrPastSchedule = errors.New("panel: schedule time must be in the future")
)

// Supervisor is the worker-process registry the panel drives.
type Supervisor interface {
	Start(token string, tenantID int64) bool
	Stop(token string) bool
	IsRunning(token string) bool
}

// Scheduler registers delayed post deliveries.
type Scheduler interface {
	Schedule(link string, fireAt time.Time) error
	Cancel(link string) bool
}

// Store is the slice of the account/post store the panel operations touch.
type Store interface {
	GetTenant(ctx context.Context, id int64) (*store.Tenant, error)
	UpdateTelegramSettings(ctx context.Context, id int64, token, channel string) error
	ListSubscribers(ctx context.Context, tenantID int64) ([]store.Subscriber, error)
	CreatePost(ctx context.Context, link string, tenantID int64, message, mediaPath string, scheduledAt time.Time) (*store.PendingPost, error)
	DeletePost(ctx context.Context, link string) (bool, error)
	ListPosts(ctx context.Context, tenantID int64) ([]store.PendingPost, error)
}

type Config struct {
	// AssetsDir resolves relative media paths for immediate sends.
	AssetsDir string
	// BroadcastRatePerSec paces per-subscriber sends; 0 disables pacing.
	BroadcastRatePerSec float64
}

// Service implements the admin-side operations: worker lifecycle, Telegram
// settings, immediate posting, broadcasts, and scheduling.
type Service struct {
	cfg    Config
	log    logx.Logger
	store  Store
	sup    Supervisor
	sched  Scheduler
	sender telegram.Sender
}

func New(cfg Config, st Store, sup Supervisor, sched Scheduler, sender telegram.Sender, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, log: log, store: st, sup: sup, sched: sched, sender: sender}
}

// EnsureBotRunning starts the tenant's worker unless one is already live.
func (s *Service) EnsureBotRunning(ctx context.Context, tenantID int64) (bool, error) {
	t, err := s.store.GetTenant(ctx, tenantID)
	if err != nil {
		return false, err
	}
	if strings.TrimSpace(t.Token) == "" {
		return false, ErrNoToken
	}
	if s.sup.IsRunning(t.Token) {
		return true, nil
	}
	ok := s.sup.Start(t.Token, t.ID)
	if !ok {
		// Lost a race with another starter, or the spawn failed.
		return s.sup.IsRunning(t.Token), nil
	}
	s.log.Info("worker started", logx.Int64("tenant", t.ID))
	return true, nil
}

// StopBot stops the tenant's worker if one is running.
func (s *Service) StopBot(ctx context.Context, tenantID int64) (bool, error) {
	t, err := s.store.GetTenant(ctx, tenantID)
	if err != nil {
		return false, err
	}
	if t.Token == "" {
		return false, nil
	}
	stopped := s.sup.Stop(t.Token)
	if stopped {
		s.log.Info("worker stopped", logx.Int64("tenant", t.ID))
	}
	return stopped, nil
}

// NormalizeChannel folds the accepted channel spellings into the canonical
// "@name" form. Numeric chat IDs pass through untouched.
func NormalizeChannel(channel string) string {
	c := strings.TrimSpace(channel)
	switch {
	case c == "":
		return ""
	case strings.HasPrefix(c, "https://t.me/"):
		return "@" + strings.TrimPrefix(c, "https://t.me/")
	case strings.HasPrefix(c, "t.me/"):
		return "@" + strings.TrimPrefix(c, "t.me/")
	case strings.HasPrefix(c, "@"):
		return c
	case c[0] == '-' || (c[0] >= '0' && c[0] <= '9'):
		return c
	default:
		return "@" + c
	}
}

// UpdateTelegramSettings persists new bot credentials and swaps the running
// worker over: the old token's process is stopped first when the token
// changed, then a worker for the new token is started.
func (s *Service) UpdateTelegramSettings(ctx context.Context, tenantID int64, token, channel string) error {
	t, err := s.store.GetTenant(ctx, tenantID)
	if err != nil {
		return err
	}

	token = strings.TrimSpace(token)
	channel = NormalizeChannel(channel)

	if err := s.store.UpdateTelegramSettings(ctx, tenantID, token, channel); err != nil {
		return err
	}

	oldToken := t.Token
	if oldToken != "" && oldToken != token {
		if s.sup.Stop(oldToken) {
			s.log.Info("worker for replaced token stopped", logx.Int64("tenant", tenantID))
		}
	}
	if token != "" && !s.sup.IsRunning(token) {
		if !s.sup.Start(token, tenantID) && !s.sup.IsRunning(token) {
			return fmt.Errorf("panel: worker for tenant %d failed to start", tenantID)
		}
	}
	s.log.Info("telegram settings updated",
		logx.Int64("tenant", tenantID), logx.String("channel", channel))
	return nil
}

// SendNow posts to the tenant's channel immediately. One attempt, no retry.
func (s *Service) SendNow(ctx context.Context, tenantID int64, message, mediaPath string) error {
	t, err := s.store.GetTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	if t.Token == "" {
		return ErrNoToken
	}
	if t.Channel == "" {
		return ErrNoChannel
	}

	res := s.send(ctx, t.Token, t.Channel, message, mediaPath)
	if !res.OK {
		return fmt.Errorf("panel: channel post rejected: %s", res.Description)
	}
	s.log.Info("channel post sent", logx.Int64("tenant", tenantID))
	return nil
}

// Broadcast sends the message to every subscriber of the tenant, one attempt
// each. Individual failures are logged and counted, never aborting the loop.
func (s *Service) Broadcast(ctx context.Context, tenantID int64, message, mediaPath string) (sent, total int, err error) {
	t, err := s.store.GetTenant(ctx, tenantID)
	if err != nil {
		return 0, 0, err
	}
	if t.Token == "" {
		return 0, 0, ErrNoToken
	}

	subs, err := s.store.ListSubscribers(ctx, tenantID)
	if err != nil {
		return 0, 0, err
	}

	var limiter *rate.Limiter
	if s.cfg.BroadcastRatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.BroadcastRatePerSec), 1)
	}

	for _, sub := range subs {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return sent, len(subs), err
			}
		} else if ctx.Err() != nil {
			return sent, len(subs), ctx.Err()
		}

		res := s.send(ctx, t.Token, sub.ChatID, message, mediaPath)
		if res.OK {
			sent++
		} else {
			s.log.Warn("broadcast delivery failed",
				logx.Int64("tenant", tenantID), logx.String("chat", sub.ChatID),
				logx.String("desc", res.Description))
		}
	}

	s.log.Info("broadcast finished",
		logx.Int64("tenant", tenantID), logx.Int("sent", sent), logx.Int("total", len(subs)))
	return sent, len(subs), nil
}

// SchedulePost persists a pending post under a fresh opaque link and arms its
// one-shot delivery timer. The instant must be strictly in the future.
func (s *Service) SchedulePost(ctx context.Context, tenantID int64, message, mediaPath string, fireAt time.Time) (string, error) {
	// Reject before the insert so a past instant never leaves a pending row
	// behind, even when the rollback delete below would fail.
	if !fireAt.After(time.Now()) {
		return "", fmt.Errorf("%w: %s", ErrPastSchedule, fireAt.Format(time.RFC3339))
	}
	if _, err := s.store.GetTenant(ctx, tenantID); err != nil {
		return "", err
	}
	link := uuid.NewString()
	if _, err := s.store.CreatePost(ctx, link, tenantID, message, mediaPath, fireAt); err != nil {
		return "", err
	}
	if err := s.sched.Schedule(link, fireAt); err != nil {
		if _, derr := s.store.DeletePost(ctx, link); derr != nil {
			s.log.Warn("orphaned post cleanup failed", logx.String("link", link), logx.Err(derr))
		}
		return "", err
	}
	s.log.Info("post scheduled",
		logx.Int64("tenant", tenantID), logx.String("link", link), logx.Time("fire_at", fireAt))
	return link, nil
}

// CancelPost disarms the timer and removes the pending row.
func (s *Service) CancelPost(ctx context.Context, link string) (bool, error) {
	timerStopped := s.sched.Cancel(link)
	deleted, err := s.store.DeletePost(ctx, link)
	if err != nil {
		return false, err
	}
	return timerStopped || deleted, nil
}

// RestorePending re-arms timers for pending posts whose instant is still in
// the future, typically at daemon startup. Past-due pending posts are left
// alone and reported; they are never fired late.
func (s *Service) RestorePending(ctx context.Context, tenantID int64) (restored int, err error) {
	posts, err := s.store.ListPosts(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	now := time.Now()
	for _, p := range posts {
		if p.Status != store.PostPending {
			continue
		}
		if !p.ScheduledAt.After(now) {
			s.log.Warn("pending post missed its window",
				logx.String("link", p.Link), logx.Time("scheduled_at", p.ScheduledAt))
			continue
		}
		if err := s.sched.Schedule(p.Link, p.ScheduledAt); err != nil {
			s.log.Warn("post restore failed", logx.String("link", p.Link), logx.Err(err))
			continue
		}
		restored++
	}
	return restored, nil
}

func (s *Service) send(ctx context.Context, token, destination, message, mediaPath string) telegram.SendResult {
	if mediaPath != "" {
		path := mediaPath
		if !filepath.IsAbs(path) {
			path = filepath.Join(s.cfg.AssetsDir, path)
		}
		return s.sender.SendMedia(ctx, token, destination, path, message)
	}
	return s.sender.SendText(ctx, token, destination, message)
}
