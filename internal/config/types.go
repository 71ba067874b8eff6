package config

// Config is the root configuration shared by the panel daemon and the
// per-tenant worker processes. Both read the same file; the worker only
// consumes the storage/telegram/gpt/logging sections.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	Storage    StorageConfig    `json:"storage"`
	Telegram   TelegramConfig   `json:"telegram"`
	Worker     WorkerConfig     `json:"worker"`
	Dispatcher DispatcherConfig `json:"dispatcher"`
	GPT        GPTConfig        `json:"gpt,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig points at the sqlite database file.
type StorageConfig struct {
	Path string `json:"path"`
	// BusyTimeout is a Go duration string; 0 means driver default.
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// TelegramConfig controls the Bot API delivery client and the worker's
// long-poll loop.
type TelegramConfig struct {
	// APIBaseURL overrides the Bot API endpoint (tests, local relays).
	// Default: "https://api.telegram.org".
	APIBaseURL string `json:"api_base_url,omitempty"`
	// HTTPTimeout bounds every single send call.
	HTTPTimeout string `json:"http_timeout,omitempty"`
	// PollTimeout is the worker's long-poll timeout.
	PollTimeout string `json:"poll_timeout,omitempty"`
	// AssetsDir is the root that relative media paths of pending posts
	// resolve against.
	AssetsDir string `json:"assets_dir,omitempty"`
}

// WorkerConfig controls how the supervisor spawns bot worker processes.
type WorkerConfig struct {
	// BinPath is the worker executable. Empty means "botworker" next to the
	// panel binary.
	BinPath string `json:"bin_path,omitempty"`
	// StopGrace is how long a worker gets after SIGTERM before SIGKILL.
	StopGrace string `json:"stop_grace,omitempty"`
}

// DispatcherConfig controls the scheduled-post dispatcher.
type DispatcherConfig struct {
	Workers   int `json:"workers,omitempty"`
	QueueSize int `json:"queue_size,omitempty"`
	// Retention prunes sent/failed posts older than this age. "0s" disables
	// the sweep.
	Retention string `json:"retention,omitempty"`
	// BroadcastRatePerSec paces manual subscriber broadcasts. 0 disables
	// pacing.
	BroadcastRatePerSec int `json:"broadcast_rate_per_sec,omitempty"`
}

// GPTConfig points the /ask command at an OpenAI-compatible endpoint.
type GPTConfig struct {
	BaseURL string `json:"base_url,omitempty"`
	APIKey  string `json:"api_key,omitempty"`
	Model   string `json:"model,omitempty"`
	// Timeout bounds a single completion call.
	Timeout string `json:"timeout,omitempty"`
}
