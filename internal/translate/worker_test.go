package translate

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/nclamvn/dich-tai-lieu-sub001/internal/pipeline"
)

type completerFunc func(ctx context.Context, systemPrompt, userPrompt string) (string, error)

func (f completerFunc) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return f(ctx, systemPrompt, userPrompt)
}

func TestWorkerTranslatesChunk(t *testing.T) {
	var gotSystem, gotUser string
	worker := NewWorker(completerFunc(func(_ context.Context, systemPrompt, userPrompt string) (string, error) {
		gotSystem = systemPrompt
		gotUser = userPrompt
		return "  bonjour le monde  ", nil
	}), WorkerConfig{SourceLang: "en", TargetLang: language.French, Model: "test-model"})

	result, err := worker.Process(context.Background(), pipeline.Chunk{Index: 3, Text: "hello world"})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Index)
	assert.Equal(t, "bonjour le monde", result.Text, "reply is trimmed")
	assert.Equal(t, "hello world", gotUser)
	assert.Contains(t, gotSystem, "en")
	assert.Contains(t, gotSystem, "fr")
	assert.Equal(t, "en", result.Metadata["source_lang"])
	assert.Equal(t, "test-model", result.Metadata["model"])
	assert.Greater(t, result.Quality, float64(0))
	assert.False(t, result.ProducedAt.IsZero())
}

func TestWorkerPassesEmptyChunkThrough(t *testing.T) {
	worker := NewWorker(completerFunc(func(_ context.Context, _, _ string) (string, error) {
		t.Fatal("completer must not be called for blank chunks")
		return "", nil
	}), WorkerConfig{TargetLang: language.Vietnamese})

	result, err := worker.Process(context.Background(), pipeline.Chunk{Index: 0, Text: "   \n "})
	require.NoError(t, err)
	assert.Equal(t, "   \n ", result.Text)
	assert.Equal(t, float64(1), result.Quality)
}

func TestWorkerEmptyReplyIsTransient(t *testing.T) {
	worker := NewWorker(completerFunc(func(_ context.Context, _, _ string) (string, error) {
		return "   ", nil
	}), WorkerConfig{SourceLang: "en", TargetLang: language.Vietnamese})

	_, err := worker.Process(context.Background(), pipeline.Chunk{Index: 0, Text: "hello"})
	require.Error(t, err)
	assert.True(t, pipeline.IsTransient(err))
}

func TestWorkerPropagatesClientError(t *testing.T) {
	cause := pipeline.Fatal(errors.New("rejected"))
	worker := NewWorker(completerFunc(func(_ context.Context, _, _ string) (string, error) {
		return "", cause
	}), WorkerConfig{SourceLang: "en", TargetLang: language.Vietnamese})

	_, err := worker.Process(context.Background(), pipeline.Chunk{Index: 5, Text: "hello"})
	require.Error(t, err)
	assert.False(t, pipeline.Retryable(err), "classification survives wrapping")
	assert.Contains(t, err.Error(), "chunk 5")
}

func TestWorkerDetectsSourceLanguage(t *testing.T) {
	worker := NewWorker(completerFunc(func(_ context.Context, _, _ string) (string, error) {
		return "ok", nil
	}), WorkerConfig{TargetLang: language.Vietnamese})

	result, err := worker.Process(context.Background(), pipeline.Chunk{
		Index: 0,
		Text:  "The quick brown fox jumps over the lazy dog and keeps on running through the field.",
	})
	require.NoError(t, err)
	assert.Equal(t, "en", result.Metadata["source_lang"])
}

func TestDetectLanguage(t *testing.T) {
	assert.Equal(t, "en", DetectLanguage("The quick brown fox jumps over the lazy dog and keeps running."))
	assert.Equal(t, "und", DetectLanguage("xq"), "unreliable detection falls back to und")
}

func TestLengthRatioQuality(t *testing.T) {
	assert.Equal(t, float64(1), lengthRatioQuality("hello world", "bonjour monde"))
	assert.Equal(t, float64(0), lengthRatioQuality("hello", ""))
	assert.Less(t, lengthRatioQuality(strings.Repeat("a", 100), "ok"), 0.5)
}
