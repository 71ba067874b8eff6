package panel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ArtemKrvzng/telegram-control-panel/internal/store"
	"github.com/ArtemKrvzng/telegram-control-panel/internal/telegram"
	logx "github.com/ArtemKrvzng/telegram-control-panel/pkg/logx"
)

type fakeStore struct {
	mu      sync.Mutex
	tenants map[int64]*store.Tenant
	subs    map[int64][]store.Subscriber
	posts   map[string]*store.PendingPost
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tenants: map[int64]*store.Tenant{},
		subs:    map[int64][]store.Subscriber{},
		posts:   map[string]*store.PendingPost{},
	}
}

func (f *fakeStore) GetTenant(ctx context.Context, id int64) (*store.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tenants[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeStore) UpdateTelegramSettings(ctx context.Context, id int64, token, channel string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tenants[id]
	if !ok {
		return store.ErrNotFound
	}
	t.Token, t.Channel = token, channel
	return nil
}

func (f *fakeStore) ListSubscribers(ctx context.Context, tenantID int64) ([]store.Subscriber, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.Subscriber(nil), f.subs[tenantID]...), nil
}

func (f *fakeStore) CreatePost(ctx context.Context, link string, tenantID int64, message, mediaPath string, scheduledAt time.Time) (*store.PendingPost, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, dup := f.posts[link]; dup {
		return nil, store.ErrDuplicate
	}
	p := &store.PendingPost{
		Link: link, TenantID: tenantID, Message: message,
		MediaPath: mediaPath, ScheduledAt: scheduledAt, Status: store.PostPending,
	}
	f.posts[link] = p
	cp := *p
	return &cp, nil
}

func (f *fakeStore) DeletePost(ctx context.Context, link string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.posts[link]
	delete(f.posts, link)
	return ok, nil
}

func (f *fakeStore) ListPosts(ctx context.Context, tenantID int64) ([]store.PendingPost, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.PendingPost
	for _, p := range f.posts {
		if p.TenantID == tenantID {
			out = append(out, *p)
		}
	}
	return out, nil
}

type fakeSupervisor struct {
	mu      sync.Mutex
	running map[string]bool
	starts  []string
	stops   []string
}

func newFakeSupervisor(running ...string) *fakeSupervisor {
	f := &fakeSupervisor{running: map[string]bool{}}
	for _, tok := range running {
		f.running[tok] = true
	}
	return f
}

func (f *fakeSupervisor) Start(token string, tenantID int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running[token] {
		return false
	}
	f.running[token] = true
	f.starts = append(f.starts, token)
	return true
}

func (f *fakeSupervisor) Stop(token string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running[token] {
		return false
	}
	delete(f.running, token)
	f.stops = append(f.stops, token)
	return true
}

func (f *fakeSupervisor) IsRunning(token string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[token]
}

type fakeScheduler struct {
	mu        sync.Mutex
	scheduled map[string]time.Time
	cancelled []string
	fail      error
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{scheduled: map[string]time.Time{}}
}

func (f *fakeScheduler) Schedule(link string, fireAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.scheduled[link] = fireAt
	return nil
}

func (f *fakeScheduler) Cancel(link string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.scheduled[link]
	delete(f.scheduled, link)
	f.cancelled = append(f.cancelled, link)
	return ok
}

type scriptedSender struct {
	mu      sync.Mutex
	results []telegram.SendResult
	calls   int
}

func (s *scriptedSender) next() telegram.SendResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := telegram.SendResult{OK: true}
	if s.calls < len(s.results) {
		res = s.results[s.calls]
	}
	s.calls++
	return res
}

func (s *scriptedSender) SendText(ctx context.Context, token, destination, text string) telegram.SendResult {
	return s.next()
}

func (s *scriptedSender) SendMedia(ctx context.Context, token, destination, filePath, caption string) telegram.SendResult {
	return s.next()
}

func newTestService(st Store, sup Supervisor, sched Scheduler, sender telegram.Sender) *Service {
	return New(Config{}, st, sup, sched, sender, logx.Nop())
}

func seedTenant(fs *fakeStore, id int64, token, channel string) {
	fs.tenants[id] = &store.Tenant{ID: id, Token: token, Channel: channel}
}

func TestNormalizeChannel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
	}{
		{"https://t.me/mychan", "@mychan"},
		{"t.me/mychan", "@mychan"},
		{"@mychan", "@mychan"},
		{"mychan", "@mychan"},
		{"  mychan  ", "@mychan"},
		{"-1001234567890", "-1001234567890"},
		{"1234567", "1234567"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeChannel(tt.in); got != tt.want {
			t.Fatalf("NormalizeChannel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEnsureBotRunning(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fs := newFakeStore()
	seedTenant(fs, 1, "tok:a", "@chan")
	seedTenant(fs, 2, "", "")
	sup := newFakeSupervisor()
	svc := newTestService(fs, sup, newFakeScheduler(), &scriptedSender{})

	ok, err := svc.EnsureBotRunning(ctx, 1)
	if err != nil || !ok {
		t.Fatalf("EnsureBotRunning = (%v, %v), want (true, nil)", ok, err)
	}
	if !sup.IsRunning("tok:a") {
		t.Fatal("worker for tok:a not started")
	}

	// Second call is a no-op; the worker is already live.
	ok, err = svc.EnsureBotRunning(ctx, 1)
	if err != nil || !ok {
		t.Fatalf("second EnsureBotRunning = (%v, %v), want (true, nil)", ok, err)
	}
	if len(sup.starts) != 1 {
		t.Fatalf("starts = %d, want 1", len(sup.starts))
	}

	if _, err := svc.EnsureBotRunning(ctx, 2); !errors.Is(err, ErrNoToken) {
		t.Fatalf("tokenless tenant = %v, want ErrNoToken", err)
	}
	if _, err := svc.EnsureBotRunning(ctx, 99); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("unknown tenant = %v, want ErrNotFound", err)
	}
}

func TestUpdateTelegramSettingsSwapsWorker(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fs := newFakeStore()
	seedTenant(fs, 1, "tok:old", "@old")
	sup := newFakeSupervisor("tok:old")
	svc := newTestService(fs, sup, newFakeScheduler(), &scriptedSender{})

	if err := svc.UpdateTelegramSettings(ctx, 1, "tok:new", "t.me/newchan"); err != nil {
		t.Fatalf("UpdateTelegramSettings error: %v", err)
	}

	got, _ := fs.GetTenant(ctx, 1)
	if got.Token != "tok:new" || got.Channel != "@newchan" {
		t.Fatalf("persisted settings = (%s, %s)", got.Token, got.Channel)
	}
	if sup.IsRunning("tok:old") {
		t.Fatal("old token's worker must be stopped")
	}
	if !sup.IsRunning("tok:new") {
		t.Fatal("new token's worker must be started")
	}
}

func TestUpdateTelegramSettingsSameToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fs := newFakeStore()
	seedTenant(fs, 1, "tok:same", "@old")
	sup := newFakeSupervisor("tok:same")
	svc := newTestService(fs, sup, newFakeScheduler(), &scriptedSender{})

	if err := svc.UpdateTelegramSettings(ctx, 1, "tok:same", "@new"); err != nil {
		t.Fatalf("UpdateTelegramSettings error: %v", err)
	}
	if len(sup.stops) != 0 {
		t.Fatal("unchanged token must not stop the worker")
	}
	if !sup.IsRunning("tok:same") {
		t.Fatal("worker must stay up across a channel-only change")
	}
}

func TestSendNow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fs := newFakeStore()
	seedTenant(fs, 1, "tok:a", "@chan")
	seedTenant(fs, 2, "tok:b", "")
	sender := &scriptedSender{}
	svc := newTestService(fs, newFakeSupervisor(), newFakeScheduler(), sender)

	if err := svc.SendNow(ctx, 1, "hello", ""); err != nil {
		t.Fatalf("SendNow error: %v", err)
	}
	if err := svc.SendNow(ctx, 2, "hello", ""); !errors.Is(err, ErrNoChannel) {
		t.Fatalf("channelless tenant = %v, want ErrNoChannel", err)
	}

	rejected := &scriptedSender{results: []telegram.SendResult{{OK: false, Description: "blocked"}}}
	svc = newTestService(fs, newFakeSupervisor(), newFakeScheduler(), rejected)
	if err := svc.SendNow(ctx, 1, "hello", ""); err == nil {
		t.Fatal("rejected send must surface an error")
	}
}

func TestBroadcastCounts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fs := newFakeStore()
	seedTenant(fs, 1, "tok:a", "@chan")
	fs.subs[1] = []store.Subscriber{
		{TenantID: 1, ChatID: "10"},
		{TenantID: 1, ChatID: "20"},
		{TenantID: 1, ChatID: "30"},
	}
	// Second delivery fails; the loop keeps going.
	sender := &scriptedSender{results: []telegram.SendResult{
		{OK: true}, {OK: false, Description: "blocked"}, {OK: true},
	}}
	svc := newTestService(fs, newFakeSupervisor(), newFakeScheduler(), sender)

	sent, total, err := svc.Broadcast(ctx, 1, "news", "")
	if err != nil {
		t.Fatalf("Broadcast error: %v", err)
	}
	if sent != 2 || total != 3 {
		t.Fatalf("Broadcast = (%d, %d), want (2, 3)", sent, total)
	}
}

func TestBroadcastNoSubscribers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fs := newFakeStore()
	seedTenant(fs, 1, "tok:a", "@chan")
	svc := newTestService(fs, newFakeSupervisor(), newFakeScheduler(), &scriptedSender{})

	sent, total, err := svc.Broadcast(ctx, 1, "news", "")
	if err != nil || sent != 0 || total != 0 {
		t.Fatalf("Broadcast = (%d, %d, %v), want (0, 0, nil)", sent, total, err)
	}
}

func TestSchedulePost(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fs := newFakeStore()
	seedTenant(fs, 1, "tok:a", "@chan")
	sched := newFakeScheduler()
	svc := newTestService(fs, newFakeSupervisor(), sched, &scriptedSender{})

	fireAt := time.Now().Add(time.Hour)
	link, err := svc.SchedulePost(ctx, 1, "later", "", fireAt)
	if err != nil {
		t.Fatalf("SchedulePost error: %v", err)
	}
	if link == "" {
		t.Fatal("link must be generated")
	}
	if _, ok := fs.posts[link]; !ok {
		t.Fatal("pending row not created")
	}
	if got := sched.scheduled[link]; !got.Equal(fireAt) {
		t.Fatalf("scheduled instant = %v, want %v", got, fireAt)
	}
}

func TestSchedulePostRollbackOnTimerFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fs := newFakeStore()
	seedTenant(fs, 1, "tok:a", "@chan")
	sched := newFakeScheduler()
	sched.fail = errors.New("registration failed")
	svc := newTestService(fs, newFakeSupervisor(), sched, &scriptedSender{})

	if _, err := svc.SchedulePost(ctx, 1, "late", "", time.Now().Add(time.Hour)); err == nil {
		t.Fatal("timer registration failure must surface")
	}
	if len(fs.posts) != 0 {
		t.Fatal("row for a rejected schedule must be cleaned up")
	}
}

func TestSchedulePostRejectsPast(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fs := newFakeStore()
	seedTenant(fs, 1, "tok:a", "@chan")
	sched := newFakeScheduler()
	svc := newTestService(fs, newFakeSupervisor(), sched, &scriptedSender{})

	if _, err := svc.SchedulePost(ctx, 1, "late", "", time.Now().Add(-time.Hour)); !errors.Is(err, ErrPastSchedule) {
		t.Fatalf("past instant = %v, want ErrPastSchedule", err)
	}
	// The instant is vetted before anything touches the store or the timers.
	if len(fs.posts) != 0 {
		t.Fatal("past instant must not create a row")
	}
	if len(sched.scheduled) != 0 {
		t.Fatal("past instant must not register a timer")
	}
}

func TestCancelPost(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fs := newFakeStore()
	seedTenant(fs, 1, "tok:a", "@chan")
	sched := newFakeScheduler()
	svc := newTestService(fs, newFakeSupervisor(), sched, &scriptedSender{})

	link, err := svc.SchedulePost(ctx, 1, "later", "", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("SchedulePost error: %v", err)
	}

	ok, err := svc.CancelPost(ctx, link)
	if err != nil || !ok {
		t.Fatalf("CancelPost = (%v, %v), want (true, nil)", ok, err)
	}
	if len(fs.posts) != 0 {
		t.Fatal("cancelled post must be removed")
	}

	ok, err = svc.CancelPost(ctx, link)
	if err != nil || ok {
		t.Fatalf("second CancelPost = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestRestorePending(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fs := newFakeStore()
	seedTenant(fs, 1, "tok:a", "@chan")
	sched := newFakeScheduler()
	svc := newTestService(fs, newFakeSupervisor(), sched, &scriptedSender{})

	future := time.Now().Add(time.Hour)
	past := time.Now().Add(-time.Hour)
	if _, err := fs.CreatePost(ctx, "future", 1, "x", "", future); err != nil {
		t.Fatalf("CreatePost error: %v", err)
	}
	if _, err := fs.CreatePost(ctx, "missed", 1, "y", "", past); err != nil {
		t.Fatalf("CreatePost error: %v", err)
	}
	if _, err := fs.CreatePost(ctx, "done", 1, "z", "", future); err != nil {
		t.Fatalf("CreatePost error: %v", err)
	}
	fs.posts["done"].Status = store.PostSent

	restored, err := svc.RestorePending(ctx, 1)
	if err != nil {
		t.Fatalf("RestorePending error: %v", err)
	}
	if restored != 1 {
		t.Fatalf("restored = %d, want 1", restored)
	}
	if _, ok := sched.scheduled["future"]; !ok {
		t.Fatal("future pending post not re-armed")
	}
	if _, ok := sched.scheduled["missed"]; ok {
		t.Fatal("past-due post must not be re-armed")
	}
	if _, ok := sched.scheduled["done"]; ok {
		t.Fatal("terminal post must not be re-armed")
	}
}
