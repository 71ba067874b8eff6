package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ArtemKrvzng/telegram-control-panel/internal/config"
	"github.com/ArtemKrvzng/telegram-control-panel/internal/gpt"
	"github.com/ArtemKrvzng/telegram-control-panel/internal/store"
	"github.com/ArtemKrvzng/telegram-control-panel/internal/worker"
	logx "github.com/ArtemKrvzng/telegram-control-panel/pkg/logx"
)

// The worker is spawned by the panel as:
//
//	botworker -config <path> <token> <tenant-id>
//
// It logs to stdout only; the panel drains and relabels the stream.
func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.json", "path to config file (json or yaml)")
	flag.Parse()

	if flag.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "usage: botworker -config <path> <token> <tenant-id>")
		os.Exit(2)
	}
	token := flag.Arg(0)
	tenantID, err := strconv.ParseInt(flag.Arg(1), 10, 64)
	if err != nil || tenantID <= 0 {
		fmt.Fprintln(os.Stderr, "botworker: tenant id must be a positive integer")
		os.Exit(2)
	}

	if err := run(cfgPath, token, tenantID); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(cfgPath, token string, tenantID int64) error {
	cfg, err := config.NewManager(cfgPath).Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logx.NewConsole(cfg.Logging.Level).With(logx.Int64("tenant", tenantID))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return err
	}
	st, err := store.Open(store.Config{Path: cfg.Storage.Path, BusyTimeout: busy},
		log.With(logx.String("svc", "store")))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	// The token must belong to a known tenant; a mismatch means the panel and
	// the store disagree and the worker must not serve the dialog.
	if _, err := st.GetTenant(ctx, tenantID); err != nil {
		return fmt.Errorf("tenant %d: %w", tenantID, err)
	}

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return err
	}
	gptTimeout, err := config.ParseDurationOrDefault("gpt.timeout", cfg.GPT.Timeout, 30*time.Second)
	if err != nil {
		return err
	}

	ask := gpt.NewClient(gpt.Config{
		BaseURL: cfg.GPT.BaseURL,
		APIKey:  cfg.GPT.APIKey,
		Model:   cfg.GPT.Model,
		Timeout: gptTimeout,
	})

	w, err := worker.New(worker.Config{
		Token:       token,
		TenantID:    tenantID,
		APIBaseURL:  cfg.Telegram.APIBaseURL,
		PollTimeout: pollTimeout,
	}, st, ask, log)
	if err != nil {
		return err
	}
	return w.Run(ctx)
}
