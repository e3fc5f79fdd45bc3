package translate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/abadojack/whatlanggo"
	"golang.org/x/text/language"

	"github.com/nclamvn/dich-tai-lieu-sub001/internal/pipeline"
)

// completer is the slice of Client the worker needs.
type completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// WorkerConfig fixes the translation direction for one worker instance.
// SourceLang may be empty; the worker then detects it per chunk.
type WorkerConfig struct {
	SourceLang string
	TargetLang language.Tag
	Model      string
}

// Worker translates one chunk per call through the LLM client. Stateless and
// safe for concurrent use.
type Worker struct {
	client completer
	cfg    WorkerConfig
}

func NewWorker(client completer, cfg WorkerConfig) *Worker {
	return &Worker{client: client, cfg: cfg}
}

const systemPromptTemplate = "You are a professional document translator. " +
	"Translate the user's text from %s to %s. " +
	"Preserve paragraph breaks, lists and inline formatting markers exactly. " +
	"Output only the translated text with no commentary."

func (w *Worker) Process(ctx context.Context, chunk pipeline.Chunk) (pipeline.ChunkResult, error) {
	if strings.TrimSpace(chunk.Text) == "" {
		return pipeline.ChunkResult{
			Index:      chunk.Index,
			Text:       chunk.Text,
			Quality:    1,
			ProducedAt: time.Now().UTC(),
		}, nil
	}

	sourceLang := w.cfg.SourceLang
	if sourceLang == "" {
		sourceLang = DetectLanguage(chunk.Text)
	}

	systemPrompt := fmt.Sprintf(systemPromptTemplate, languageName(sourceLang), w.cfg.TargetLang.String())
	translated, err := w.client.Complete(ctx, systemPrompt, chunk.Text)
	if err != nil {
		return pipeline.ChunkResult{}, fmt.Errorf("translate chunk %d: %w", chunk.Index, err)
	}
	translated = strings.TrimSpace(translated)
	if translated == "" {
		return pipeline.ChunkResult{}, pipeline.Transient(fmt.Errorf("empty translation for chunk %d", chunk.Index))
	}

	return pipeline.ChunkResult{
		Index:   chunk.Index,
		Text:    translated,
		Quality: lengthRatioQuality(chunk.Text, translated),
		Metadata: map[string]string{
			"source_lang": sourceLang,
			"model":       w.cfg.Model,
		},
		ProducedAt: time.Now().UTC(),
	}, nil
}

// DetectLanguage guesses the ISO 639-1 code of the text, falling back to
// "und" when detection is unreliable.
func DetectLanguage(text string) string {
	info := whatlanggo.Detect(text)
	if !info.IsReliable() {
		return "und"
	}
	code := info.Lang.Iso6391()
	if code == "" {
		return "und"
	}
	return code
}

func languageName(code string) string {
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	return tag.String()
}

// lengthRatioQuality is a crude sanity signal: translations wildly shorter
// or longer than the source score lower. It is advisory only and never
// gates acceptance.
func lengthRatioQuality(source, translated string) float64 {
	srcLen := len([]rune(source))
	dstLen := len([]rune(translated))
	if srcLen == 0 || dstLen == 0 {
		return 0
	}
	ratio := float64(dstLen) / float64(srcLen)
	if ratio > 1 {
		ratio = 1 / ratio
	}
	if ratio > 0.5 {
		return 1
	}
	return ratio * 2
}
