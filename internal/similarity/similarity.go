// Package similarity scores how related two notes are.
package similarity

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/starford/notegraph/internal/models"
)

// DefaultThreshold is the minimum relevance for a candidate to be suggested.
const DefaultThreshold = 0.7

// Strategy names accepted by Select.
const (
	StrategyAuto    = "auto"
	StrategyLexical = "lexical"
	StrategyVector  = "vector"
)

// Scorer rates a candidate note against a source note. Scores are in [0,1].
type Scorer interface {
	Name() string
	Score(ctx context.Context, source, candidate models.Note) (float64, error)
}

// Embedder turns text into a vector. Available is expected to be cheap after
// the first call.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	Available(ctx context.Context) bool
}

// Select returns the scorer for strategy. With StrategyAuto the vector scorer
// is used when the embedder reports itself available, lexical otherwise.
func Select(ctx context.Context, strategy string, e Embedder, logger *slog.Logger) (Scorer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch strategy {
	case StrategyLexical:
		return Lexical{}, nil
	case StrategyVector:
		if e == nil {
			return nil, fmt.Errorf("similarity: vector strategy needs an embedding provider")
		}
		return NewVector(e), nil
	case StrategyAuto, "":
		if e != nil && e.Available(ctx) {
			return NewVector(e), nil
		}
		logger.Info("similarity: embedding provider unavailable, using lexical scoring")
		return Lexical{}, nil
	default:
		return nil, fmt.Errorf("similarity: unknown strategy %q", strategy)
	}
}

// Lexical scores by Jaccard similarity of lowercased whitespace tokens.
type Lexical struct{}

func (Lexical) Name() string { return StrategyLexical }

func (Lexical) Score(_ context.Context, source, candidate models.Note) (float64, error) {
	return Jaccard(source.Content, candidate.Content), nil
}

// Jaccard returns |A∩B| / |A∪B| over the token sets of a and b. Two empty
// texts score 0.
func Jaccard(a, b string) float64 {
	ta, tb := tokenSet(a), tokenSet(b)
	if len(ta) == 0 && len(tb) == 0 {
		return 0
	}
	shared := 0
	for tok := range ta {
		if _, ok := tb[tok]; ok {
			shared++
		}
	}
	union := len(ta) + len(tb) - shared
	return float64(shared) / float64(union)
}

func tokenSet(s string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(s))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// Clamp bounds v to [0,1].
func Clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
