package similarity

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/notegraph/internal/llm"
	"github.com/starford/notegraph/internal/models"
)

type fakeEmbedder struct {
	available bool
	vectors   map[string][]float64
	calls     atomic.Int32
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	f.calls.Add(1)
	v, ok := f.vectors[text]
	if !ok {
		return nil, errors.New("no vector")
	}
	return v, nil
}

func (f *fakeEmbedder) Available(context.Context) bool { return f.available }

type fakeGenerator struct {
	available bool
	out       string
	err       error
}

func (f fakeGenerator) Generate(context.Context, string, llm.Options) (string, error) {
	return f.out, f.err
}

func (f fakeGenerator) Available(context.Context) bool { return f.available }

func TestJaccard_Example(t *testing.T) {
	got := Jaccard("the quick brown fox", "the quick brown dog")
	assert.InDelta(t, 0.6, got, 1e-9)
}

func TestJaccard_CaseAndWhitespace(t *testing.T) {
	assert.InDelta(t, 1.0, Jaccard("Hello   WORLD", "hello world\n"), 1e-9)
	assert.Equal(t, 0.0, Jaccard("", ""))
	assert.Equal(t, 0.0, Jaccard("a", ""))
}

func TestLexical_Range(t *testing.T) {
	texts := []string{"", "a", "a b c", "c d e f", "a a a", "x y z a b"}
	for _, a := range texts {
		for _, b := range texts {
			s, err := Lexical{}.Score(context.Background(), models.Note{Content: a}, models.Note{Content: b})
			require.NoError(t, err)
			assert.GreaterOrEqual(t, s, 0.0)
			assert.LessOrEqual(t, s, 1.0)
		}
	}
}

func TestCosine(t *testing.T) {
	got, err := Cosine([]float64{1, 0}, []float64{1, 0})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, got, 1e-9)

	got, err = Cosine([]float64{1, 0}, []float64{0, 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, got, 1e-9)

	got, err = Cosine([]float64{0, 0}, []float64{0, 1})
	require.NoError(t, err)
	assert.Equal(t, 0.0, got)

	_, err = Cosine([]float64{1}, []float64{1, 2})
	assert.Error(t, err)
}

func TestVector_ClampsAndCaches(t *testing.T) {
	e := &fakeEmbedder{available: true, vectors: map[string][]float64{
		"a": {1, 0},
		"b": {-1, 0},
		"c": {1, 1},
	}}
	v := NewVector(e)
	ctx := context.Background()

	a := models.Note{ID: "n1", OwnerID: "u1", Content: "a"}
	s, err := v.Score(ctx, a, models.Note{ID: "n2", OwnerID: "u1", Content: "b"})
	require.NoError(t, err)
	assert.Equal(t, 0.0, s)

	s, err = v.Score(ctx, a, models.Note{ID: "n3", OwnerID: "u1", Content: "c"})
	require.NoError(t, err)
	assert.InDelta(t, 0.7071, s, 1e-3)

	assert.Equal(t, int32(3), e.calls.Load())
}

func TestVector_EditReplacesCachedEmbedding(t *testing.T) {
	e := &fakeEmbedder{available: true, vectors: map[string][]float64{
		"a": {1, 0},
		"b": {0, 1},
		"c": {1, 1},
	}}
	v := NewVector(e)
	ctx := context.Background()
	other := models.Note{ID: "n2", OwnerID: "u1", Content: "c"}

	for _, content := range []string{"a", "b", "a"} {
		_, err := v.Score(ctx, models.Note{ID: "n1", OwnerID: "u1", Content: content}, other)
		require.NoError(t, err)
	}
	assert.Len(t, v.cache, 2)
	assert.Equal(t, int32(4), e.calls.Load())

	v.Forget("u1", "n1")
	assert.Len(t, v.cache, 1)
}

func TestVector_UnavailableScoresZero(t *testing.T) {
	v := NewVector(&fakeEmbedder{available: false})
	s, err := v.Score(context.Background(), models.Note{Content: "a"}, models.Note{Content: "a"})
	require.NoError(t, err)
	assert.Equal(t, 0.0, s)
}

func TestVector_EmbedError(t *testing.T) {
	v := NewVector(&fakeEmbedder{available: true, vectors: map[string][]float64{}})
	_, err := v.Score(context.Background(), models.Note{Content: "a"}, models.Note{Content: "b"})
	assert.Error(t, err)
}

func TestSelect(t *testing.T) {
	ctx := context.Background()

	s, err := Select(ctx, StrategyAuto, &fakeEmbedder{available: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, StrategyVector, s.Name())

	s, err = Select(ctx, StrategyAuto, &fakeEmbedder{available: false}, nil)
	require.NoError(t, err)
	assert.Equal(t, StrategyLexical, s.Name())

	s, err = Select(ctx, StrategyAuto, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, StrategyLexical, s.Name())

	s, err = Select(ctx, StrategyLexical, &fakeEmbedder{available: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, StrategyLexical, s.Name())

	_, err = Select(ctx, StrategyVector, nil, nil)
	assert.Error(t, err)

	_, err = Select(ctx, "bogus", nil, nil)
	assert.Error(t, err)
}

func TestPercent(t *testing.T) {
	assert.Equal(t, "Relevance score: 60.00%", Percent(0.6))
	assert.Equal(t, "Relevance score: 87.35%", Percent(0.8735))
}

func TestDescriber(t *testing.T) {
	ctx := context.Background()
	src, dst := models.Note{ID: "a", Content: "x"}, models.Note{ID: "b", Content: "y"}

	assert.Equal(t, "Relevance score: 75.00%", NewDescriber(nil, llm.Options{}, nil).Describe(ctx, src, dst, 0.75))

	d := NewDescriber(fakeGenerator{available: true, out: "Both cover Go.\nextra"}, llm.Options{}, nil)
	assert.Equal(t, "Both cover Go.", d.Describe(ctx, src, dst, 0.75))

	d = NewDescriber(fakeGenerator{available: true, err: errors.New("boom")}, llm.Options{}, nil)
	assert.Equal(t, "Relevance score: 75.00%", d.Describe(ctx, src, dst, 0.75))

	d = NewDescriber(fakeGenerator{available: false, out: "unused"}, llm.Options{}, nil)
	assert.Equal(t, "Relevance score: 75.00%", d.Describe(ctx, src, dst, 0.75))
}
