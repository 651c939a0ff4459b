package media

import (
	"path/filepath"
	"strings"
)

// Tags are the best-effort metadata derived from a filename. Deep tag
// parsing is out of scope; the heuristic below covers the common
// "Artist - Title.ext" naming convention.
type Tags struct {
	Title  string
	Artist string
	Album  string
}

// ParseTags derives tags from the file stem: a single " - " separator
// splits into artist and title, anything else is just the title.
func ParseTags(path string) Tags {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if parts := strings.Split(stem, " - "); len(parts) == 2 {
		artist := strings.TrimSpace(parts[0])
		title := strings.TrimSpace(parts[1])
		if artist != "" && title != "" {
			return Tags{Artist: artist, Title: title}
		}
	}
	return Tags{Title: stem}
}
