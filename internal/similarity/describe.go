package similarity

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/starford/notegraph/internal/llm"
	"github.com/starford/notegraph/internal/metrics"
	"github.com/starford/notegraph/internal/models"
)

const describeExcerpt = 1000

// Percent formats relevance as the plain suggestion context.
func Percent(relevance float64) string {
	return fmt.Sprintf("Relevance score: %.2f%%", relevance*100)
}

// Describer writes the context string for a suggestion.
type Describer struct {
	gen    llm.Generator
	opts   llm.Options
	logger *slog.Logger
}

// NewDescriber returns a Describer. A nil gen always yields Percent.
func NewDescriber(gen llm.Generator, opts llm.Options, logger *slog.Logger) *Describer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Describer{gen: gen, opts: opts, logger: logger}
}

// Describe returns a one-sentence description of how target relates to
// source, or Percent(relevance) when generation is unavailable or fails.
func (d *Describer) Describe(ctx context.Context, source, target models.Note, relevance float64) string {
	if d == nil || d.gen == nil || !d.gen.Available(ctx) {
		return Percent(relevance)
	}
	prompt := fmt.Sprintf(
		"In one sentence, describe how these two notes are related.\n\nNote A:\n%s\n\nNote B:\n%s",
		excerpt(source.Content), excerpt(target.Content))

	out, err := d.gen.Generate(ctx, prompt, d.opts)
	if err != nil {
		metrics.ScoringFailures.WithLabelValues("describe").Inc()
		d.logger.Warn("similarity: describe failed",
			slog.String("source", source.ID),
			slog.String("target", target.ID),
			slog.String("error", err.Error()))
		return Percent(relevance)
	}
	out = firstLine(out)
	if out == "" {
		return Percent(relevance)
	}
	return out
}

func excerpt(s string) string {
	r := []rune(s)
	if len(r) <= describeExcerpt {
		return s
	}
	return string(r[:describeExcerpt])
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
