package translate

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nclamvn/dich-tai-lieu-sub001/internal/pipeline"
)

func TestChunkerPacksParagraphs(t *testing.T) {
	chunker := NewTextChunker(30)
	doc := pipeline.Document{Text: "first para\n\nsecond para\n\nthird paragraph here\n\nfourth"}

	chunks, err := chunker.Chunk(context.Background(), doc)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.Index, "indices are contiguous from zero")
		assert.NotEmpty(t, chunk.Text)
	}

	// Nothing lost: every paragraph appears in exactly one chunk.
	joined := strings.Join(chunkTexts(chunks), "\n\n")
	for _, para := range []string{"first para", "second para", "third paragraph here", "fourth"} {
		assert.Contains(t, joined, para)
	}
}

func TestChunkerRespectsBudget(t *testing.T) {
	chunker := NewTextChunker(25)
	doc := pipeline.Document{Text: "aaaaaaaaaa\n\nbbbbbbbbbb\n\ncccccccccc"}

	chunks, err := chunker.Chunk(context.Background(), doc)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk.Text), 25)
	}
}

func TestChunkerOversizedParagraphStandsAlone(t *testing.T) {
	long := strings.Repeat("x", 100)
	chunker := NewTextChunker(25)

	chunks, err := chunker.Chunk(context.Background(), pipeline.Document{Text: "short\n\n" + long + "\n\nend"})
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, "short", chunks[0].Text)
	assert.Equal(t, long, chunks[1].Text, "an oversized paragraph is never cut")
	assert.Equal(t, "end", chunks[2].Text)
}

func TestChunkerNormalizesLineEndingsAndBlanks(t *testing.T) {
	chunker := NewTextChunker(1000)
	chunks, err := chunker.Chunk(context.Background(), pipeline.Document{Text: "a\r\n\r\nb\n\n\n\nc"})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "a\n\nb\n\nc", chunks[0].Text)
}

func TestChunkerEmptyDocument(t *testing.T) {
	chunker := NewTextChunker(0) // falls back to the default budget
	chunks, err := chunker.Chunk(context.Background(), pipeline.Document{Text: "   \n\n  "})
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestMergerJoinsInOrder(t *testing.T) {
	merger := NewTextMerger()
	artifact, err := merger.Merge(context.Background(), []pipeline.ChunkResult{
		{Index: 0, Text: "one"},
		{Index: 1, Text: "two"},
		{Index: 2, Text: "three"},
	})
	require.NoError(t, err)
	assert.Equal(t, "one\n\ntwo\n\nthree", artifact.Text)
}

func TestMergerRejectsOutOfOrderResults(t *testing.T) {
	merger := NewTextMerger()
	_, err := merger.Merge(context.Background(), []pipeline.ChunkResult{
		{Index: 1, Text: "two"},
		{Index: 0, Text: "one"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of order")
}

func chunkTexts(chunks []pipeline.Chunk) []string {
	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}
	return texts
}
