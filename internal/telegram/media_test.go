package telegram

import "testing"

func TestClassifyMedia(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		path   string
		method string
		field  string
	}{
		{name: "jpeg", path: "pics/cat.jpg", method: "sendPhoto", field: "photo"},
		{name: "png", path: "cat.PNG", method: "sendPhoto", field: "photo"},
		{name: "webp", path: "sticker.webp", method: "sendPhoto", field: "photo"},
		{name: "gif is animation", path: "loop.gif", method: "sendAnimation", field: "animation"},
		{name: "mp4", path: "clip.mp4", method: "sendVideo", field: "video"},
		{name: "mov", path: "clip.mov", method: "sendVideo", field: "video"},
		{name: "mp3", path: "song.mp3", method: "sendAudio", field: "audio"},
		{name: "ogg", path: "voice.ogg", method: "sendAudio", field: "audio"},
		{name: "pdf falls back to document", path: "report.pdf", method: "sendDocument", field: "document"},
		{name: "no extension", path: "blob", method: "sendDocument", field: "document"},
		{name: "unknown extension", path: "data.xyz123", method: "sendDocument", field: "document"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyMedia(tt.path)
			if got.Method != tt.method || got.Field != tt.field {
				t.Fatalf("ClassifyMedia(%q) = {%s %s}, want {%s %s}",
					tt.path, got.Method, got.Field, tt.method, tt.field)
			}
		})
	}
}
