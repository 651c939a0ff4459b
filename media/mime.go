// Package media knows what a media file is: the extension to MIME mapping,
// the filename tag heuristic, and the full-scan engine that reconciles a
// directory tree with the index.
package media

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// mimeByExtension is the canonical extension table. Lookups are by
// lowercased extension without the leading dot.
var mimeByExtension = map[string]string{
	// video
	"mkv":  "video/x-matroska",
	"mp4":  "video/mp4",
	"avi":  "video/x-msvideo",
	"mov":  "video/quicktime",
	"wmv":  "video/x-ms-wmv",
	"flv":  "video/x-flv",
	"webm": "video/webm",
	"m4v":  "video/x-m4v",
	"3gp":  "video/3gpp",
	"mpg":  "video/mpeg",
	"mpeg": "video/mpeg",
	// audio
	"mp3":  "audio/mpeg",
	"flac": "audio/flac",
	"wav":  "audio/wav",
	"aac":  "audio/aac",
	"ogg":  "audio/ogg",
	"wma":  "audio/x-ms-wma",
	"m4a":  "audio/mp4",
	"opus": "audio/opus",
	"aiff": "audio/aiff",
	// image
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"bmp":  "image/bmp",
	"tiff": "image/tiff",
	"webp": "image/webp",
	"svg":  "image/svg+xml",
}

// SupportedExtensions returns the canonical extension list, lowercased,
// without dots.
func SupportedExtensions() []string {
	out := make([]string, 0, len(mimeByExtension))
	for ext := range mimeByExtension {
		out = append(out, ext)
	}
	return out
}

// ExtensionOf returns the lowercased extension of path without the dot.
func ExtensionOf(path string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}

// MimeTypeFor maps a path to its MIME type via the extension table. For
// unknown extensions it falls back to sniffing the file contents, and
// finally to application/octet-stream.
func MimeTypeFor(path string) string {
	if mt, ok := mimeByExtension[ExtensionOf(path)]; ok {
		return mt
	}
	if fi, err := os.Stat(path); err == nil && fi.Mode().IsRegular() {
		if mt, err := mimetype.DetectFile(path); err == nil {
			return mt.String()
		}
	}
	return "application/octet-stream"
}

// IsSupportedExtension reports whether path carries one of the given
// extensions (the canonical table when exts is empty).
func IsSupportedExtension(path string, exts []string) bool {
	ext := ExtensionOf(path)
	if ext == "" {
		return false
	}
	if len(exts) == 0 {
		_, ok := mimeByExtension[ext]
		return ok
	}
	for _, e := range exts {
		if ext == strings.TrimPrefix(strings.ToLower(e), ".") {
			return true
		}
	}
	return false
}

// UPnPClassFor maps a MIME type to the DIDL-Lite object class browsed
// clients filter on.
func UPnPClassFor(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "audio/"):
		return "object.item.audioItem"
	case strings.HasPrefix(mimeType, "image/"):
		return "object.item.imageItem"
	default:
		return "object.item.videoItem"
	}
}
