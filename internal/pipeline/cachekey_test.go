package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeContent(t *testing.T) {
	assert.Equal(t, "hello world", NormalizeContent("  hello \t\n  world  "))
	assert.Equal(t, "", NormalizeContent("   \n\t "))
	assert.Equal(t, "a b c", NormalizeContent("a b c"))
}

func TestCacheKeyIgnoresFormattingDifferences(t *testing.T) {
	cfg := KeyConfig{SourceLang: "en", TargetLang: "vi", Mode: "standard"}

	a := CacheKey("Hello   world", cfg)
	b := CacheKey("Hello world", cfg)
	c := CacheKey("  Hello\nworld\t", cfg)

	assert.Equal(t, a, b)
	assert.Equal(t, a, c)
}

func TestCacheKeyVariesWithConfig(t *testing.T) {
	content := "Hello world"
	base := CacheKey(content, KeyConfig{SourceLang: "en", TargetLang: "vi", Mode: "standard"})

	assert.NotEqual(t, base, CacheKey("Goodbye world", KeyConfig{SourceLang: "en", TargetLang: "vi", Mode: "standard"}))
	assert.NotEqual(t, base, CacheKey(content, KeyConfig{SourceLang: "fr", TargetLang: "vi", Mode: "standard"}))
	assert.NotEqual(t, base, CacheKey(content, KeyConfig{SourceLang: "en", TargetLang: "ja", Mode: "standard"}))
	assert.NotEqual(t, base, CacheKey(content, KeyConfig{SourceLang: "en", TargetLang: "vi", Mode: "literal"}))
}

func TestCacheKeyFieldBoundariesUnambiguous(t *testing.T) {
	// "ab"+"c" and "a"+"bc" across the separator must not collide.
	a := CacheKey("x", KeyConfig{SourceLang: "ab", TargetLang: "c"})
	b := CacheKey("x", KeyConfig{SourceLang: "a", TargetLang: "bc"})
	assert.NotEqual(t, a, b)
}
