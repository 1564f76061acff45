package genai

import (
	"path/filepath"
	"strings"
)

// extensionToMIME is the fixed table of attachment types the upstream model
// accepts. Anything outside this table is rejected from both token counting
// and message attachments.
var extensionToMIME = map[string]string{
	"pdf":  "application/pdf",
	"js":   "application/x-javascript",
	"py":   "text/x-python",
	"css":  "text/css",
	"md":   "text/md",
	"csv":  "text/csv",
	"xml":  "text/xml",
	"rtf":  "text/rtf",
	"txt":  "text/plain",
	"png":  "image/png",
	"jpeg": "image/jpeg",
	"jpg":  "image/jpeg",
	"webp": "image/webp",
	"heic": "image/heic",
	"heif": "image/heif",
	"mp4":  "video/mp4",
	"mpeg": "video/mpeg",
	"mov":  "video/mov",
	"avi":  "video/avi",
	"flv":  "video/x-flv",
	"mpg":  "video/mpg",
	"webm": "video/webm",
	"wmv":  "video/wmv",
	"3gpp": "video/3gpp",
	"wav":  "audio/wav",
	"mp3":  "audio/mp3",
	"aiff": "audio/aiff",
	"aac":  "audio/aac",
	"ogg":  "audio/ogg",
	"flac": "audio/flac",
}

// knownMIME is the value set of extensionToMIME.
var knownMIME = func() map[string]struct{} {
	out := make(map[string]struct{}, len(extensionToMIME))
	for _, m := range extensionToMIME {
		out[m] = struct{}{}
	}
	return out
}()

// MIMEForFilename maps a file name to its recognized MIME type by extension.
func MIMEForFilename(name string) (string, bool) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	m, ok := extensionToMIME[ext]
	return m, ok
}

// KnownMIME reports whether m is one of the recognized attachment MIME types.
func KnownMIME(m string) bool {
	_, ok := knownMIME[m]
	return ok
}
