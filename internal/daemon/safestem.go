package daemon

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

var (
	unsafeStemChars = regexp.MustCompile(`[^0-9A-Za-z가-힣 _.\-]`)
	stemWhitespace  = regexp.MustCompile(`\s+`)
)

// SafeStem derives a filesystem-safe directory name from an uploaded
// filename. Unsafe characters become underscores, whitespace collapses to a
// single underscore, and a stem already present under mediaDir gets a
// numeric suffix so every upload owns its own directory.
func SafeStem(filename, mediaDir string) string {
	stem := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	stem = unsafeStemChars.ReplaceAllString(stem, "_")
	stem = strings.Trim(strings.TrimSpace(stem), ".")
	stem = stemWhitespace.ReplaceAllString(stem, "_")
	if stem == "" {
		stem = "video_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	}

	base := stem
	for i := 2; stemExists(mediaDir, stem); i++ {
		stem = base + "-" + strconv.Itoa(i)
	}
	return stem
}

func stemExists(mediaDir, stem string) bool {
	if mediaDir == "" {
		return false
	}
	_, err := os.Stat(filepath.Join(mediaDir, stem))
	return err == nil
}
