package botproc

import (
	"bufio"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	logx "github.com/ArtemKrvzng/telegram-control-panel/pkg/logx"
)

const defaultStopGrace = 10 * time.Second

// CommandBuilder constructs the worker command for a (token, tenant) pair.
// Tests substitute a harmless long-running command.
type CommandBuilder func(token string, tenantID int64) *exec.Cmd

// NewWorkerCommand builds the production worker invocation:
// botworker -config <path> <token> <tenant-id>.
func NewWorkerCommand(binPath, configPath string) CommandBuilder {
	return func(token string, tenantID int64) *exec.Cmd {
		return exec.Command(binPath, "-config", configPath, token, strconv.FormatInt(tenantID, 10))
	}
}

type Config struct {
	// StopGrace is how long a worker gets after SIGTERM before SIGKILL.
	StopGrace time.Duration
}

// handle is the ownership relation {token -> running worker}.
type handle struct {
	token    string
	tenantID int64

	// started is closed once the spawn attempt finished (cmd set on success,
	// nil on failure). Stop waits on it so it never observes a half-started
	// handle.
	started chan struct{}
	cmd     *exec.Cmd

	// drains counts the running output-drain goroutines. The reaper waits on
	// it before cmd.Wait, which closes the pipes and would cut off buffered
	// output.
	drains sync.WaitGroup

	// waitDone is closed by the reaper once cmd.Wait returned.
	waitDone chan struct{}
	waitErr  error
}

// Manager owns the token->worker registry.
type Manager struct {
	cfg   Config
	build CommandBuilder
	log   logx.Logger

	mu      sync.Mutex
	handles map[string]*handle
}

func NewManager(cfg Config, build CommandBuilder, log logx.Logger) *Manager {
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = defaultStopGrace
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{
		cfg:     cfg,
		build:   build,
		log:     log,
		handles: make(map[string]*handle),
	}
}

// Start spawns a worker for the token unless one is already tracked.
// It returns true once the process has been launched; an invalid bot token
// surfaces later inside the worker, not here.
func (m *Manager) Start(token string, tenantID int64) bool {
	token = strings.TrimSpace(token)
	if token == "" {
		m.log.Warn("worker start skipped: empty token")
		return false
	}

	h := &handle{
		token:    token,
		tenantID: tenantID,
		started:  make(chan struct{}),
		waitDone: make(chan struct{}),
	}

	// Reserve the registry slot first so two racing Starts for the same token
	// serialize here; Starts for other tokens are not blocked by the spawn.
	m.mu.Lock()
	if _, exists := m.handles[token]; exists {
		m.mu.Unlock()
		m.log.Debug("worker already running", logx.String("bot", tokenTag(token)))
		return false
	}
	m.handles[token] = h
	m.mu.Unlock()

	cmd := m.build(token, tenantID)
	// Own process group so a SIGKILL sweep reaches worker children too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err == nil {
		var stderr io.ReadCloser
		stderr, err = cmd.StderrPipe()
		if err == nil {
			err = cmd.Start()
		}
		if err == nil {
			h.drains.Add(2)
			go m.drain(h, "stdout", stdout)
			go m.drain(h, "stderr", stderr)
		}
	}
	if err != nil {
		m.mu.Lock()
		if m.handles[token] == h {
			delete(m.handles, token)
		}
		m.mu.Unlock()
		close(h.started)
		m.log.Error("worker spawn failed",
			logx.String("bot", tokenTag(token)), logx.Int64("tenant", tenantID), logx.Err(err))
		return false
	}

	h.cmd = cmd
	close(h.started)
	m.log.Info("worker started",
		logx.String("bot", tokenTag(token)), logx.Int64("tenant", tenantID),
		logx.Int("pid", cmd.Process.Pid))

	go m.reap(h)
	return true
}

// IsRunning is a pure registry lookup.
func (m *Manager) IsRunning(token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.handles[strings.TrimSpace(token)]
	return ok
}

// Stop terminates the token's worker if one is tracked. The handle is removed
// from the registry whether termination was graceful or forced.
func (m *Manager) Stop(token string) bool {
	token = strings.TrimSpace(token)

	m.mu.Lock()
	h, ok := m.handles[token]
	if !ok {
		m.mu.Unlock()
		m.log.Debug("worker stop skipped: not running", logx.String("bot", tokenTag(token)))
		return false
	}
	delete(m.handles, token)
	m.mu.Unlock()

	<-h.started
	if h.cmd == nil || h.cmd.Process == nil {
		// Spawn failed after the slot was reserved; nothing to terminate.
		return false
	}
	m.terminate(h)
	return true
}

// StopAll stops every tracked worker. Used at application shutdown; individual
// stop failures are logged and do not abort the sweep.
func (m *Manager) StopAll() {
	m.mu.Lock()
	tokens := make([]string, 0, len(m.handles))
	for t := range m.handles {
		tokens = append(tokens, t)
	}
	m.mu.Unlock()

	for _, t := range tokens {
		if !m.Stop(t) {
			m.log.Warn("worker stop failed during shutdown", logx.String("bot", tokenTag(t)))
		}
	}
	m.log.Info("all workers stopped", logx.Int("count", len(tokens)))
}

// terminate requests graceful exit and escalates to SIGKILL after the grace
// period. The process group is signalled so worker children die too.
func (m *Manager) terminate(h *handle) {
	pid := h.cmd.Process.Pid
	tag := tokenTag(h.token)

	_ = syscall.Kill(-pid, syscall.SIGTERM)

	select {
	case <-h.waitDone:
		m.log.Info("worker stopped", logx.String("bot", tag), logx.Int("pid", pid))
		return
	case <-time.After(m.cfg.StopGrace):
	}

	_ = syscall.Kill(-pid, syscall.SIGKILL)
	select {
	case <-h.waitDone:
	case <-time.After(2 * time.Second):
		// best-effort; the reaper will finish eventually
	}
	m.log.Warn("worker killed after grace period", logx.String("bot", tag), logx.Int("pid", pid))
}

// reap waits for the process and clears the registry entry on abnormal exit
// (a Stop in flight has already removed it). The drains must reach EOF first:
// stdout and stderr are the worker's only channel back, and the final lines
// explaining an abnormal exit are exactly the ones Wait's pipe close discards.
func (m *Manager) reap(h *handle) {
	h.drains.Wait()
	err := h.cmd.Wait()
	h.waitErr = err
	close(h.waitDone)

	m.mu.Lock()
	abnormal := m.handles[h.token] == h
	if abnormal {
		delete(m.handles, h.token)
	}
	m.mu.Unlock()

	if abnormal {
		m.log.Warn("worker exited unexpectedly",
			logx.String("bot", tokenTag(h.token)), logx.Int64("tenant", h.tenantID), logx.Err(err))
	}
}

// drain relays one child output stream to the operator log line by line.
func (m *Manager) drain(h *handle, stream string, r io.Reader) {
	defer h.drains.Done()
	tag := tokenTag(h.token)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		m.log.Info("worker output",
			logx.String("bot", tag), logx.String("stream", stream), logx.String("line", line))
	}
	if err := sc.Err(); err != nil {
		m.log.Debug("worker output drain ended",
			logx.String("bot", tag), logx.String("stream", stream), logx.Err(err))
	}
}

// tokenTag shortens a bot token for logging; tokens are secrets.
func tokenTag(token string) string {
	if i := strings.IndexByte(token, ':'); i > 0 {
		return token[:i]
	}
	if len(token) > 8 {
		return token[:8] + "..."
	}
	return token
}
