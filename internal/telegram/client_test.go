package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	logx "github.com/ArtemKrvzng/telegram-control-panel/pkg/logx"
)

func TestSendText(t *testing.T) {
	t.Parallel()

	var gotPath, gotChat, gotText, gotMode string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm error: %v", err)
		}
		gotChat = r.PostFormValue("chat_id")
		gotText = r.PostFormValue("text")
		gotMode = r.PostFormValue("parse_mode")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL}, logx.Nop())
	res := c.SendText(context.Background(), "123:abc", "@chan", "<b>hi</b>")

	if !res.OK {
		t.Fatalf("SendText not OK: %+v", res)
	}
	if gotPath != "/bot123:abc/sendMessage" {
		t.Fatalf("path = %s, want /bot123:abc/sendMessage", gotPath)
	}
	if gotChat != "@chan" || gotText != "<b>hi</b>" || gotMode != "HTML" {
		t.Fatalf("form = (%s, %s, %s)", gotChat, gotText, gotMode)
	}
}

func TestSendTextAPIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL}, logx.Nop())
	res := c.SendText(context.Background(), "123:abc", "@nochan", "hi")

	if res.OK {
		t.Fatal("expected not-OK result")
	}
	if res.ErrorCode != 400 || res.Description != "Bad Request: chat not found" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestSendTextEmptyArgs(t *testing.T) {
	t.Parallel()
	c := NewClient(Config{}, logx.Nop())

	if res := c.SendText(context.Background(), "", "@chan", "hi"); res.OK {
		t.Fatal("empty token must fail without a network call")
	}
	if res := c.SendText(context.Background(), "tok", "", "hi"); res.OK {
		t.Fatal("empty destination must fail without a network call")
	}
	if res := c.SendText(context.Background(), "tok", "@chan", ""); res.OK {
		t.Fatal("empty text must fail without a network call")
	}
}

func TestSendMediaRoutesByType(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	photo := filepath.Join(dir, "cat.png")
	if err := os.WriteFile(photo, []byte("png-bytes"), 0o644); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}

	var gotPath, gotCaption string
	var hadPhotoPart bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm error: %v", err)
		}
		gotCaption = r.PostFormValue("caption")
		_, hadPhotoPart = r.MultipartForm.File["photo"]
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL}, logx.Nop())
	res := c.SendMedia(context.Background(), "123:abc", "@chan", photo, "look")

	if !res.OK {
		t.Fatalf("SendMedia not OK: %+v", res)
	}
	if gotPath != "/bot123:abc/sendPhoto" {
		t.Fatalf("path = %s, want /bot123:abc/sendPhoto", gotPath)
	}
	if !hadPhotoPart {
		t.Fatal("multipart upload missing the photo field")
	}
	if gotCaption != "look" {
		t.Fatalf("caption = %s, want look", gotCaption)
	}
}

func TestSendMediaMissingFile(t *testing.T) {
	t.Parallel()
	c := NewClient(Config{BaseURL: "http://127.0.0.1:0"}, logx.Nop())

	res := c.SendMedia(context.Background(), "tok", "@chan", "/nonexistent/file.png", "")
	if res.OK {
		t.Fatal("missing file must yield a not-OK result")
	}
}
