package search

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thomas-villani/nb-sub001/internal/apperr"
	"github.com/thomas-villani/nb-sub001/internal/index"
	"github.com/thomas-villani/nb-sub001/internal/models"
)

var now = time.Date(2025, 11, 19, 12, 0, 0, 0, time.UTC)

type fakeStore struct {
	hits   []index.KeywordHit
	chunks []models.Chunk
	notes  map[string]models.Note
	gotNB  string
}

func (f *fakeStore) KeywordSearch(_ context.Context, _, notebook string, _ int) ([]index.KeywordHit, error) {
	f.gotNB = notebook
	return f.hits, nil
}

func (f *fakeStore) Chunks(_ context.Context, _ string) ([]models.Chunk, error) {
	return f.chunks, nil
}

func (f *fakeStore) Notes(_ context.Context, paths []string) (map[string]models.Note, error) {
	out := map[string]models.Note{}
	for _, p := range paths {
		if n, ok := f.notes[p]; ok {
			out[p] = n
		}
	}
	return out, nil
}

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f fakeEmbedder) GenerateEmbedding(context.Context, string) ([]float32, error) { return f.vec, f.err }
func (f fakeEmbedder) GenerateEmbeddings(context.Context, []string) ([][]float32, error) {
	return nil, f.err
}
func (f fakeEmbedder) Dimension() int { return len(f.vec) }
func (f fakeEmbedder) Model() string  { return "fake" }

func note(p string, age time.Duration) models.Note {
	return models.Note{Path: p, Title: p, ModifiedAt: now.Add(-age)}
}

func ranker(store Store, emb *fakeEmbedder, cfg Config) *Ranker {
	opts := []Option{WithClock(func() time.Time { return now }), WithLogger(slog.New(slog.NewJSONHandler(io.Discard, nil)))}
	if emb == nil {
		return NewRanker(store, nil, cfg, opts...)
	}
	return NewRanker(store, *emb, cfg, opts...)
}

func TestContent(t *testing.T) {
	assert.InDelta(t, 0.7*0.5+0.3*1.0, Content(Hybrid, 0.7, 1, 0.5), 1e-9)
	assert.Equal(t, 1.0, Content(Keyword, 0.7, 1, 0.5))
	assert.Equal(t, 0.5, Content(Vector, 0.7, 1, 0.5))
	assert.Equal(t, 1.0, Content(Hybrid, 2, 0, 1.5), "inputs clamp to [0,1]")
}

func TestRecency(t *testing.T) {
	assert.Equal(t, 1.0, Recency(0, 30))
	assert.InDelta(t, math.Exp(-1), Recency(30, 30), 1e-9)
	assert.Equal(t, 1.0, Recency(400, 0), "decay disabled")
	assert.Equal(t, 1.0, Recency(-5, 30), "future timestamps count as new")
}

func TestScoreIsDeterministic(t *testing.T) {
	cfg := Config{VectorWeight: 0.5, RecencyDecayDays: 10, RecencyWeight: 0.4}
	got := Score(cfg, Hybrid, 0.8, 0.6, 10)
	want := (0.5*0.6 + 0.5*0.8) * (1 - 0.4 + 0.4*math.Exp(-1))
	assert.InDelta(t, want, got, 1e-12)
	assert.Equal(t, got, Score(cfg, Hybrid, 0.8, 0.6, 10))
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1, Cosine([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1, Cosine([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Zero(t, Cosine([]float32{1}, []float32{1, 2}))
	assert.Zero(t, Cosine([]float32{0, 0}, []float32{1, 2}))
}

func TestSortTieBreaks(t *testing.T) {
	rs := []Result{
		{Path: "b.md", Score: 0.5, ModifiedAt: now},
		{Path: "a.md", Score: 0.5, ModifiedAt: now},
		{Path: "c.md", Score: 0.5, ModifiedAt: now.Add(time.Hour)},
		{Path: "d.md", Score: 0.9, ModifiedAt: now.Add(-time.Hour)},
	}
	Sort(rs)
	var paths []string
	for _, r := range rs {
		paths = append(paths, r.Path)
	}
	assert.Equal(t, []string{"d.md", "c.md", "a.md", "b.md"}, paths)
}

func TestKeywordOnlyWithoutProviderIsDegraded(t *testing.T) {
	store := &fakeStore{
		hits: []index.KeywordHit{
			{Path: "a.md", Score: 4, Snippet: "alpha"},
			{Path: "b.md", Score: 2, Snippet: "beta"},
		},
		notes: map[string]models.Note{"a.md": note("a.md", 0), "b.md": note("b.md", 0)},
	}
	cfg := DefaultConfig()
	cfg.RecencyDecayDays = 0
	resp, err := ranker(store, nil, cfg).Search(context.Background(), Query{Text: "x", Notebook: "work"})
	require.NoError(t, err)

	assert.True(t, resp.Degraded)
	assert.Equal(t, Keyword, resp.Mode)
	assert.ErrorIs(t, resp.Warning, apperr.ErrBackendUnavailable)
	assert.Equal(t, "work", store.gotNB)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "a.md", resp.Results[0].Path)
	assert.Equal(t, 1.0, resp.Results[0].Score)
	assert.Equal(t, 0.5, resp.Results[1].Score)
}

func TestExplicitKeywordModeIsNotDegraded(t *testing.T) {
	store := &fakeStore{
		hits:  []index.KeywordHit{{Path: "a.md", Score: 1}},
		notes: map[string]models.Note{"a.md": note("a.md", 0)},
	}
	resp, err := ranker(store, nil, DefaultConfig()).Search(context.Background(), Query{Text: "x", Mode: Keyword})
	require.NoError(t, err)
	assert.False(t, resp.Degraded)
	assert.NoError(t, resp.Warning)
}

func TestBackendFailureDegrades(t *testing.T) {
	store := &fakeStore{
		hits:   []index.KeywordHit{{Path: "a.md", Score: 1}},
		chunks: []models.Chunk{{Path: "b.md", Content: "b", Vector: []float32{1, 0}}},
		notes:  map[string]models.Note{"a.md": note("a.md", 0), "b.md": note("b.md", 0)},
	}
	emb := &fakeEmbedder{err: errors.New("connection refused")}
	resp, err := ranker(store, emb, DefaultConfig()).Search(context.Background(), Query{Text: "x", Mode: Vector})
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	assert.ErrorIs(t, resp.Warning, apperr.ErrBackendUnavailable)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "a.md", resp.Results[0].Path)
}

func TestHybridBlendsSignals(t *testing.T) {
	store := &fakeStore{
		hits: []index.KeywordHit{
			{Path: "kw.md", Score: 10, Snippet: "keyword snippet"},
			{Path: "both.md", Score: 5},
		},
		chunks: []models.Chunk{
			{Path: "both.md", Heading: "Intro", StartLine: 3, Content: "both chunk", Vector: []float32{1, 0}},
			{Path: "both.md", Content: "weaker", Vector: []float32{1, 1}},
			{Path: "vec.md", Content: "vector only", Vector: []float32{0.6, 0.8}},
			{Path: "opposite.md", Content: "no", Vector: []float32{-1, 0}},
		},
		notes: map[string]models.Note{
			"kw.md": note("kw.md", 0), "both.md": note("both.md", 0),
			"vec.md": note("vec.md", 0), "opposite.md": note("opposite.md", 0),
		},
	}
	cfg := Config{Mode: Hybrid, VectorWeight: 0.5, ScoreThreshold: 0.2}
	resp, err := ranker(store, &fakeEmbedder{vec: []float32{1, 0}}, cfg).Search(context.Background(), Query{Text: "q"})
	require.NoError(t, err)
	assert.False(t, resp.Degraded)

	scores := map[string]float64{}
	for _, r := range resp.Results {
		scores[r.Path] = r.Score
	}
	assert.InDelta(t, 0.5*1+0.5*0.5, scores["both.md"], 1e-9)
	assert.InDelta(t, 0.5*1, scores["kw.md"], 1e-9)
	assert.InDelta(t, 0.5*0.6, scores["vec.md"], 1e-9)
	assert.NotContains(t, scores, "opposite.md")

	require.Len(t, resp.Results, 3)
	top := resp.Results[0]
	assert.Equal(t, "both.md", top.Path)
	assert.Equal(t, "Intro", top.Heading)
	assert.Equal(t, 3, top.Line)
	assert.Equal(t, "both chunk", top.Snippet)
}

func TestThresholdAndRecency(t *testing.T) {
	store := &fakeStore{
		hits: []index.KeywordHit{
			{Path: "new.md", Score: 1},
			{Path: "old.md", Score: 1},
		},
		notes: map[string]models.Note{
			"new.md": note("new.md", 0),
			"old.md": note("old.md", 300*24*time.Hour),
		},
	}
	cfg := Config{Mode: Keyword, RecencyDecayDays: 30, RecencyWeight: 0.5, ScoreThreshold: 0.6}
	resp, err := ranker(store, nil, cfg).Search(context.Background(), Query{Text: "q"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "new.md", resp.Results[0].Path)
}

func TestLimitAndEmptyQuery(t *testing.T) {
	store := &fakeStore{
		hits:  []index.KeywordHit{{Path: "a.md", Score: 1}, {Path: "b.md", Score: 1}},
		notes: map[string]models.Note{"a.md": note("a.md", time.Hour), "b.md": note("b.md", 0)},
	}
	r := ranker(store, nil, Config{Mode: Keyword})
	resp, err := r.Search(context.Background(), Query{Text: "q", Limit: 1})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "b.md", resp.Results[0].Path, "equal scores break on recency")

	resp, err = r.Search(context.Background(), Query{Text: "   "})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)

	_, err = r.Search(context.Background(), Query{Text: "q", Mode: "fuzzy"})
	assert.Error(t, err)
}
