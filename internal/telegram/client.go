package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "github.com/ArtemKrvzng/telegram-control-panel/pkg/logx"
)

const (
	defaultBaseURL = "https://api.telegram.org"
	defaultTimeout = 10 * time.Second
)

// SendResult is the structured outcome of exactly one Bot API call.
type SendResult struct {
	OK          bool
	Description string
	ErrorCode   int
}

// Sender is the call shape the worker, the dispatcher and the panel share.
type Sender interface {
	SendText(ctx context.Context, token, destination, text string) SendResult
	SendMedia(ctx context.Context, token, destination, filePath, caption string) SendResult
}

type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client performs single Bot API calls over HTTP.
type Client struct {
	base string
	http *http.Client
	log  logx.Logger
}

func NewClient(cfg Config, log logx.Logger) *Client {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		base: base,
		http: &http.Client{Timeout: timeout},
		log:  log,
	}
}

// SendText performs exactly one sendMessage call.
func (c *Client) SendText(ctx context.Context, token, destination, text string) SendResult {
	if token == "" || destination == "" || text == "" {
		return SendResult{OK: false, Description: "token, destination or text is empty"}
	}
	form := url.Values{}
	form.Set("chat_id", destination)
	form.Set("text", text)
	form.Set("parse_mode", "HTML")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.methodURL(token, "sendMessage"), strings.NewReader(form.Encode()))
	if err != nil {
		return SendResult{OK: false, Description: err.Error()}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

// SendMedia uploads one local file with an optional caption. The send method
// is chosen by the file's MIME type.
func (c *Client) SendMedia(ctx context.Context, token, destination, filePath, caption string) SendResult {
	if token == "" || destination == "" || filePath == "" {
		return SendResult{OK: false, Description: "token, destination or file path is empty"}
	}
	kind := ClassifyMedia(filePath)

	f, err := os.Open(filePath)
	if err != nil {
		return SendResult{OK: false, Description: err.Error()}
	}
	defer func() { _ = f.Close() }()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("chat_id", destination); err != nil {
		return SendResult{OK: false, Description: err.Error()}
	}
	if caption != "" {
		_ = mw.WriteField("caption", caption)
		_ = mw.WriteField("parse_mode", "HTML")
	}
	part, err := mw.CreateFormFile(kind.Field, filepath.Base(filePath))
	if err != nil {
		return SendResult{OK: false, Description: err.Error()}
	}
	if _, err := io.Copy(part, f); err != nil {
		return SendResult{OK: false, Description: err.Error()}
	}
	if err := mw.Close(); err != nil {
		return SendResult{OK: false, Description: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.methodURL(token, kind.Method), &body)
	if err != nil {
		return SendResult{OK: false, Description: err.Error()}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.do(req)
}

func (c *Client) methodURL(token, method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.base, token, method)
}

func (c *Client) do(req *http.Request) SendResult {
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("telegram request failed", logx.Err(err))
		return SendResult{OK: false, Description: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	var out struct {
		OK          bool   `json:"ok"`
		ErrorCode   int    `json:"error_code"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return SendResult{OK: false, Description: "malformed api response: " + err.Error()}
	}
	if !out.OK {
		c.log.Warn("telegram api error",
			logx.Int("code", out.ErrorCode), logx.String("desc", out.Description))
	}
	return SendResult{OK: out.OK, Description: out.Description, ErrorCode: out.ErrorCode}
}
