package audio

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/dhowden/tag"
)

// TrackLabel derives a human-readable label for a library file from its
// embedded tags, falling back to the filename without extension.
func TrackLabel(path string) string {
	if f, err := os.Open(path); err == nil {
		defer f.Close()
		if meta, err := tag.ReadFrom(f); err == nil {
			title := strings.TrimSpace(meta.Title())
			artist := strings.TrimSpace(meta.Artist())
			switch {
			case title != "" && artist != "":
				return artist + " - " + title
			case title != "":
				return title
			}
		}
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
