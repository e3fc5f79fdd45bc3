package translate

import (
	"context"
	"fmt"
	"strings"

	"github.com/nclamvn/dich-tai-lieu-sub001/internal/pipeline"
)

const defaultMaxChunkChars = 4000

// TextChunker splits plain text into chunks along paragraph boundaries,
// packing adjacent paragraphs up to a character budget. A single paragraph
// longer than the budget becomes its own chunk rather than being cut.
type TextChunker struct {
	maxChars int
}

func NewTextChunker(maxChars int) *TextChunker {
	if maxChars <= 0 {
		maxChars = defaultMaxChunkChars
	}
	return &TextChunker{maxChars: maxChars}
}

func (c *TextChunker) Chunk(_ context.Context, doc pipeline.Document) ([]pipeline.Chunk, error) {
	text := strings.ReplaceAll(doc.Text, "\r\n", "\n")
	paragraphs := splitParagraphs(text)

	chunks := make([]pipeline.Chunk, 0)
	var current strings.Builder
	flush := func() {
		if current.Len() == 0 {
			return
		}
		chunks = append(chunks, pipeline.Chunk{
			Index: len(chunks),
			Text:  current.String(),
		})
		current.Reset()
	}

	for _, para := range paragraphs {
		if current.Len() > 0 && current.Len()+len(para)+2 > c.maxChars {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()

	return chunks, nil
}

func splitParagraphs(text string) []string {
	ret := make([]string, 0)
	for _, block := range strings.Split(text, "\n\n") {
		block = strings.TrimSpace(block)
		if block != "" {
			ret = append(ret, block)
		}
	}
	return ret
}

// TextMerger joins chunk results back into one document, preserving the
// original chunk order.
type TextMerger struct{}

func NewTextMerger() *TextMerger {
	return &TextMerger{}
}

func (m *TextMerger) Merge(_ context.Context, results []pipeline.ChunkResult) (pipeline.Artifact, error) {
	parts := make([]string, 0, len(results))
	for i, result := range results {
		if result.Index != i {
			return pipeline.Artifact{}, fmt.Errorf("results out of order: got chunk %d at position %d", result.Index, i)
		}
		parts = append(parts, result.Text)
	}
	return pipeline.Artifact{Text: strings.Join(parts, "\n\n")}, nil
}
