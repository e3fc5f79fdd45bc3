package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"
)

// KeyConfig is the target configuration folded into a chunk's cache key.
// Two chunks share a key only when both the normalized content and every
// field here match.
type KeyConfig struct {
	SourceLang string
	TargetLang string
	Mode       string
}

// CacheKey derives the content-addressed key for a chunk. The key is a
// SHA-256 over the normalized chunk text and the target configuration, with
// NUL separators so field boundaries stay unambiguous.
func CacheKey(content string, cfg KeyConfig) string {
	h := sha256.New()
	_, _ = io.WriteString(h, NormalizeContent(content))
	for _, field := range []string{cfg.SourceLang, cfg.TargetLang, cfg.Mode} {
		h.Write([]byte{0})
		_, _ = io.WriteString(h, field)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizeContent collapses whitespace runs to single spaces and trims the
// ends, so formatting-only differences never cause a second worker call.
func NormalizeContent(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
