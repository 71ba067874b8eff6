package telegram

import (
	"mime"
	"path/filepath"
	"strings"
)

// MediaKind selects the Bot API method and multipart field for an attachment.
type MediaKind struct {
	Method string // e.g. "sendPhoto"
	Field  string // multipart field name, e.g. "photo"
}

var (
	kindPhoto     = MediaKind{Method: "sendPhoto", Field: "photo"}
	kindVideo     = MediaKind{Method: "sendVideo", Field: "video"}
	kindAudio     = MediaKind{Method: "sendAudio", Field: "audio"}
	kindAnimation = MediaKind{Method: "sendAnimation", Field: "animation"}
	kindDocument  = MediaKind{Method: "sendDocument", Field: "document"}
)

// ClassifyMedia routes a local file to a send method by its MIME type:
// image -> photo (except gif), video -> video, audio -> audio,
// gif -> animation, anything unrecognized -> generic document.
func ClassifyMedia(path string) MediaKind {
	ext := strings.ToLower(filepath.Ext(path))
	mt := mime.TypeByExtension(ext)
	if mt == "" {
		mt = extFallback[ext]
	}
	switch {
	case strings.HasSuffix(mt, "gif"):
		return kindAnimation
	case strings.HasPrefix(mt, "image/"):
		return kindPhoto
	case strings.HasPrefix(mt, "video/"):
		return kindVideo
	case strings.HasPrefix(mt, "audio/"):
		return kindAudio
	default:
		return kindDocument
	}
}

// extFallback covers common extensions the host's MIME table may miss.
var extFallback = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".gif":  "image/gif",
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".mkv":  "video/x-matroska",
	".mp3":  "audio/mpeg",
	".ogg":  "audio/ogg",
	".wav":  "audio/wav",
	".flac": "audio/flac",
}
