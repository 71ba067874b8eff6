package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ArtemKrvzng/telegram-control-panel/internal/store"
	"github.com/ArtemKrvzng/telegram-control-panel/internal/telegram"
	logx "github.com/ArtemKrvzng/telegram-control-panel/pkg/logx"
)

// ErrPastSchedule rejects registrations whose target instant is not strictly
// in the future. The dispatcher never runs a job "late-and-immediately".
var ErrPastSchedule = errors.New("dispatcher: scheduled time must be in the future")

// PostStore is the slice of the store the dispatcher re-reads at fire time.
type PostStore interface {
	GetPostByLink(ctx context.Context, link string) (*store.PendingPost, error)
	FinishPost(ctx context.Context, link string, status store.PostStatus) (bool, error)
	PruneTerminalPosts(ctx context.Context, olderThan time.Time) (int64, error)
}

// TenantStore resolves a post's tenant to its current token and channel.
type TenantStore interface {
	GetTenant(ctx context.Context, id int64) (*store.Tenant, error)
}

type Config struct {
	Workers   int
	QueueSize int
	// AssetsDir is the root relative media paths resolve against.
	AssetsDir string
	// Retention prunes terminal posts older than this age; 0 disables the sweep.
	Retention time.Duration
}

type job struct {
	link string
}

// Service is the delayed-job runner for pending posts.
type Service struct {
	cfg     Config
	log     logx.Logger
	posts   PostStore
	tenants TenantStore
	sender  telegram.Sender

	mu       sync.Mutex
	queue    chan job
	stopCh   chan struct{}
	runCtx   context.Context
	cancel   context.CancelFunc
	workerWG sync.WaitGroup
	sweeper  *cron.Cron

	// One-shot timers keyed by link. Versions let a replaced or cancelled
	// timer's stale callback recognize itself and bail out.
	tmu    sync.Mutex
	timers map[string]*time.Timer
	vers   map[string]uint64
}

func New(cfg Config, posts PostStore, tenants TenantStore, sender telegram.Sender, log logx.Logger) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg,
		log:     log,
		posts:   posts,
		tenants: tenants,
		sender:  sender,
		timers:  map[string]*time.Timer{},
		vers:    map[string]uint64{},
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}
	s.stopCh = make(chan struct{})
	s.runCtx, s.cancel = context.WithCancel(ctx)
	s.queue = make(chan job, s.cfg.QueueSize)

	runCtx := s.runCtx
	stopCh := s.stopCh
	queue := s.queue

	s.workerWG.Add(s.cfg.Workers)
	for i := 0; i < s.cfg.Workers; i++ {
		idx := i
		go func() {
			defer s.workerWG.Done()
			s.worker(runCtx, stopCh, queue, idx)
		}()
	}

	if s.cfg.Retention > 0 {
		s.sweeper = cron.New()
		retention := s.cfg.Retention
		_, err := s.sweeper.AddFunc("@every 1h", func() {
			cutoff := time.Now().Add(-retention)
			n, err := s.posts.PruneTerminalPosts(runCtx, cutoff)
			if err != nil {
				s.log.Warn("post retention sweep failed", logx.Err(err))
				return
			}
			if n > 0 {
				s.log.Info("pruned terminal posts", logx.Int64("count", n))
			}
		})
		if err != nil {
			s.log.Error("retention sweep registration failed", logx.Err(err))
		} else {
			s.sweeper.Start()
		}
	}

	s.log.Info("dispatcher started",
		logx.Int("workers", s.cfg.Workers), logx.Duration("retention", s.cfg.Retention))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	stopCh := s.stopCh
	cancel := s.cancel
	sweeper := s.sweeper
	s.stopCh = nil
	s.cancel = nil
	s.queue = nil
	s.sweeper = nil
	s.mu.Unlock()

	close(stopCh)
	if sweeper != nil {
		<-sweeper.Stop().Done()
	}

	// Disarm all timers. A job already inside its dispatch routine still
	// completes its single delivery attempt (no mid-flight abort), so the
	// run context is cancelled only after the pool drained.
	s.tmu.Lock()
	for _, t := range s.timers {
		_ = t.Stop()
	}
	s.timers = map[string]*time.Timer{}
	s.vers = map[string]uint64{}
	s.tmu.Unlock()

	done := make(chan struct{})
	go func() {
		s.workerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	if cancel != nil {
		cancel()
	}
	s.log.Info("dispatcher stopped")
}

// Schedule arms (or replaces) the one-shot timer for a link. Registration is
// non-blocking; the target instant must be strictly in the future.
func (s *Service) Schedule(link string, fireAt time.Time) error {
	if link == "" {
		return errors.New("dispatcher: link is required")
	}
	if !fireAt.After(time.Now()) {
		return fmt.Errorf("%w: %s", ErrPastSchedule, fireAt.Format(time.RFC3339))
	}

	s.tmu.Lock()
	defer s.tmu.Unlock()

	if t, ok := s.timers[link]; ok {
		_ = t.Stop()
		delete(s.timers, link)
	}
	ver := s.vers[link] + 1
	s.vers[link] = ver

	localLink := link
	localVer := ver
	s.timers[link] = time.AfterFunc(time.Until(fireAt), func() {
		// A replaced or cancelled timer ignores its stale callback.
		s.tmu.Lock()
		if s.vers[localLink] != localVer {
			s.tmu.Unlock()
			return
		}
		delete(s.timers, localLink)
		delete(s.vers, localLink)
		s.tmu.Unlock()

		s.enqueue(job{link: localLink})
	})

	s.log.Debug("post scheduled", logx.String("link", link), logx.Time("fire_at", fireAt))
	return nil
}

// Cancel disarms a pending timer. A job that already fired is unaffected.
func (s *Service) Cancel(link string) bool {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	t, ok := s.timers[link]
	if !ok {
		return false
	}
	_ = t.Stop()
	delete(s.timers, link)
	s.vers[link]++
	s.log.Debug("post schedule cancelled", logx.String("link", link))
	return true
}

// Scheduled reports whether a timer is currently armed for the link.
func (s *Service) Scheduled(link string) bool {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	_, ok := s.timers[link]
	return ok
}

func (s *Service) enqueue(j job) {
	s.mu.Lock()
	q := s.queue
	s.mu.Unlock()
	if q == nil {
		s.log.Warn("dispatcher not running; dropping fired post", logx.String("link", j.link))
		return
	}
	select {
	case q <- j:
	default:
		s.log.Warn("dispatcher queue full; dropping fired post",
			logx.String("link", j.link), logx.Int("queue_cap", cap(q)))
	}
}

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan job, idx int) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case j := <-queue:
			s.fireOne(ctx, j)
		}
	}
}

// fireOne is the outer boundary: nothing escaping the dispatch routine may
// kill the worker pool or affect other jobs.
func (s *Service) fireOne(ctx context.Context, j job) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic dispatching post",
				logx.String("link", j.link), logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
	}()
	if err := s.dispatch(ctx, j.link); err != nil {
		s.log.Error("post dispatch failed", logx.String("link", j.link), logx.Err(err))
	}
}

// dispatch performs the idempotent fire routine for one link.
func (s *Service) dispatch(ctx context.Context, link string) error {
	post, err := s.posts.GetPostByLink(ctx, link)
	if errors.Is(err, store.ErrNotFound) {
		s.log.Debug("post vanished before fire", logx.String("link", link))
		return nil
	}
	if err != nil {
		return err
	}
	if post.Status != store.PostPending {
		// Manual intervention or a double fire; leave the status alone.
		s.log.Debug("post no longer pending",
			logx.String("link", link), logx.String("status", string(post.Status)))
		return nil
	}

	tenant, err := s.tenants.GetTenant(ctx, post.TenantID)
	if errors.Is(err, store.ErrNotFound) {
		s.log.Warn("post tenant vanished", logx.String("link", link), logx.Int64("tenant", post.TenantID))
		return nil
	}
	if err != nil {
		return err
	}

	res := s.deliver(ctx, tenant, post)

	status := store.PostFailed
	if res.OK {
		status = store.PostSent
	}
	changed, err := s.posts.FinishPost(ctx, link, status)
	if err != nil {
		return fmt.Errorf("finish post: %w", err)
	}
	if !changed {
		s.log.Warn("post already finished by someone else", logx.String("link", link))
		return nil
	}
	if res.OK {
		s.log.Info("scheduled post delivered", logx.String("link", link), logx.Int64("tenant", tenant.ID))
	} else {
		s.log.Warn("scheduled post failed",
			logx.String("link", link), logx.Int64("tenant", tenant.ID),
			logx.String("desc", res.Description))
	}
	return nil
}

// deliver makes exactly one send attempt. A media reference whose backing
// file is gone degrades to a text-only send, not a failure.
func (s *Service) deliver(ctx context.Context, tenant *store.Tenant, post *store.PendingPost) telegram.SendResult {
	if post.MediaPath != "" {
		path := post.MediaPath
		if !filepath.IsAbs(path) {
			path = filepath.Join(s.cfg.AssetsDir, path)
		}
		if _, err := os.Stat(path); err == nil {
			return s.sender.SendMedia(ctx, tenant.Token, tenant.Channel, path, post.Message)
		}
		s.log.Warn("post media missing; sending text only",
			logx.String("link", post.Link), logx.String("media", post.MediaPath))
	}
	return s.sender.SendText(ctx, tenant.Token, tenant.Channel, post.Message)
}
