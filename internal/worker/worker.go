package worker

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
	telemw "gopkg.in/telebot.v4/middleware"

	"github.com/ArtemKrvzng/telegram-control-panel/internal/gpt"
	logx "github.com/ArtemKrvzng/telegram-control-panel/pkg/logx"
)

type Config struct {
	Token    string
	TenantID int64
	// APIBaseURL overrides the Bot API endpoint; empty means api.telegram.org.
	APIBaseURL  string
	PollTimeout time.Duration
	// AskTimeout bounds a single /ask completion round-trip.
	AskTimeout time.Duration
}

// Worker is the event loop for one tenant's bot token. It owns the per-chat
// active-prompt map; all durable state lives in the subscription store.
type Worker struct {
	cfg  Config
	log  logx.Logger
	subs Subscriptions
	ask  Asker

	bot     *tele.Bot
	prompts *promptTracker

	runCtx context.Context
}

func New(cfg Config, subs Subscriptions, ask Asker, log logx.Logger) (*Worker, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("worker: bot token is empty")
	}
	if cfg.TenantID <= 0 {
		return nil, errors.New("worker: tenant id is required")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	if cfg.AskTimeout <= 0 {
		cfg.AskTimeout = 60 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	b, err := tele.NewBot(tele.Settings{
		Token:     cfg.Token,
		URL:       cfg.APIBaseURL,
		Poller:    &tele.LongPoller{Timeout: cfg.PollTimeout},
		ParseMode: tele.ModeHTML,
		OnError: func(err error, c tele.Context) {
			log.Error("handler error escaped", logx.Err(err))
		},
	})
	if err != nil {
		return nil, err
	}
	// telebot runs each handler on a bare goroutine; only returned errors
	// reach OnError. A panic would take the whole process down with it.
	b.Use(recoverMiddleware(log))

	w := &Worker{
		cfg:     cfg,
		log:     log,
		subs:    subs,
		ask:     ask,
		bot:     b,
		prompts: newPromptTracker(),
	}
	w.route()
	return w, nil
}

// Run polls for updates until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.runCtx = ctx
	go func() {
		<-ctx.Done()
		w.bot.Stop()
	}()
	w.log.Info("worker polling started",
		logx.Int64("tenant", w.cfg.TenantID), logx.Duration("poll_timeout", w.cfg.PollTimeout))
	w.bot.Start()
	w.log.Info("worker polling stopped", logx.Int64("tenant", w.cfg.TenantID))
	return nil
}

// recoverMiddleware converts a handler panic into a logged error so the event
// loop keeps polling.
func recoverMiddleware(log logx.Logger) tele.MiddlewareFunc {
	return telemw.Recover(func(err error, _ tele.Context) {
		log.Error("handler panic recovered", logx.Err(err))
	})
}

func (w *Worker) route() {
	w.bot.Handle("/start", w.onStart)
	w.bot.Handle("/help", w.onHelp)
	w.bot.Handle("/ask", w.onAsk)
	w.bot.Handle(tele.OnCallback, w.onCallback)
	w.bot.Handle(tele.OnText, w.onText)
}

func (w *Worker) ctx() context.Context {
	if w.runCtx != nil {
		return w.runCtx
	}
	return context.Background()
}

func (w *Worker) onStart(c tele.Context) error {
	chat := c.Chat()
	if chat == nil {
		return nil
	}
	chatKey := strconv.FormatInt(chat.ID, 10)
	w.log.Info("start command", logx.String("chat", chatKey))

	// A still-live previous prompt would leave stale clickable buttons
	// behind; delete it first. Failure is logged and ignored.
	if msgID, ok := w.prompts.activePrompt(chatKey); ok {
		stale := tele.StoredMessage{MessageID: strconv.Itoa(msgID), ChatID: chat.ID}
		if err := w.bot.Delete(stale); err != nil {
			w.log.Warn("stale prompt delete failed", logx.String("chat", chatKey), logx.Err(err))
		}
	}

	text, subscribed, err := resolveStart(w.ctx(), w.subs, w.cfg.TenantID, chatKey)
	if err != nil {
		w.log.Error("start failed", logx.String("chat", chatKey), logx.Err(err))
		return c.Send(replyInternalError)
	}

	var markup *tele.ReplyMarkup
	if subscribed {
		markup = &tele.ReplyMarkup{InlineKeyboard: [][]tele.InlineButton{{
			{Text: buttonUnsubscribe, Data: actionUnsubscribe},
		}}}
	} else {
		markup = &tele.ReplyMarkup{InlineKeyboard: [][]tele.InlineButton{{
			{Text: buttonYes, Data: actionSubscribeYes},
			{Text: buttonNo, Data: actionSubscribeNo},
		}}}
	}

	sent, err := w.bot.Send(chat, text, markup)
	if err != nil {
		w.log.Error("prompt send failed", logx.String("chat", chatKey), logx.Err(err))
		return nil
	}
	w.prompts.remember(chatKey, sent.ID)
	return nil
}

func (w *Worker) onCallback(c tele.Context) error {
	cb := c.Callback()
	msg := c.Message()
	if cb == nil || msg == nil || msg.Chat == nil {
		return nil
	}
	action := strings.TrimSpace(strings.TrimPrefix(cb.Data, "\f"))
	switch action {
	case actionSubscribeYes, actionSubscribeNo, actionUnsubscribe:
	default:
		return c.Respond()
	}

	chatKey := strconv.FormatInt(msg.Chat.ID, 10)
	w.log.Info("subscription action", logx.String("chat", chatKey), logx.String("action", action))

	text, err := resolveCallback(w.ctx(), w.subs, w.cfg.TenantID, chatKey, action)
	if err != nil {
		w.log.Error("callback failed",
			logx.String("chat", chatKey), logx.String("action", action), logx.Err(err))
		_ = c.Edit(replyActionError)
		return c.Respond()
	}
	if text != "" {
		if err := c.Edit(text); err != nil {
			w.log.Warn("prompt edit failed", logx.String("chat", chatKey), logx.Err(err))
		}
	}
	w.prompts.deactivate(chatKey)
	return c.Respond()
}

func (w *Worker) onHelp(c tele.Context) error {
	return c.Send(replyHelp)
}

func (w *Worker) onAsk(c tele.Context) error {
	prompt := askPrompt(c.Text())
	if prompt == "" {
		return c.Reply(replyAskEmpty)
	}

	ctx, cancel := context.WithTimeout(w.ctx(), w.cfg.AskTimeout)
	defer cancel()

	answer, err := w.ask.Complete(ctx, prompt)
	if err != nil {
		if !errors.Is(err, gpt.ErrNotConfigured) {
			w.log.Error("completion failed", logx.Err(err))
		}
		return c.Reply(replyAskFailed)
	}
	return c.Reply(strings.TrimSpace(answer))
}

func (w *Worker) onText(c tele.Context) error {
	text := c.Text()
	if text == "" || strings.HasPrefix(text, "/") {
		// Unknown slash commands are ignored rather than answered.
		return nil
	}
	if isGreeting(text) {
		return c.Send(replyGreeting)
	}
	return c.Send(replyUnknown)
}
