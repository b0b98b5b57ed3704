package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/thomas-villani/nb-sub001/internal/apperr"
	"github.com/thomas-villani/nb-sub001/internal/embed"
	"github.com/thomas-villani/nb-sub001/internal/index"
	"github.com/thomas-villani/nb-sub001/internal/models"
)

// Store is the part of the index the ranker reads.
type Store interface {
	KeywordSearch(ctx context.Context, query, notebook string, limit int) ([]index.KeywordHit, error)
	Chunks(ctx context.Context, notebook string) ([]models.Chunk, error)
	Notes(ctx context.Context, paths []string) (map[string]models.Note, error)
}

// Query is one search request. Zero Mode and Limit fall back to the ranker config.
type Query struct {
	Text     string
	Notebook string
	Mode     Mode
	Limit    int
}

// Result is one ranked note.
type Result struct {
	Path         string    `json:"path"`
	Title        string    `json:"title"`
	Notebook     string    `json:"notebook"`
	Snippet      string    `json:"snippet"`
	Heading      string    `json:"heading,omitempty"`
	Line         int       `json:"line,omitempty"`
	Score        float64   `json:"score"`
	KeywordScore float64   `json:"keyword_score"`
	VectorScore  float64   `json:"vector_score"`
	ModifiedAt   time.Time `json:"modified_at"`
}

// Response carries the ranked results. When the vector signal could not be
// used, Degraded is set, Mode is the effective mode and Warning wraps
// apperr.ErrBackendUnavailable.
type Response struct {
	Results  []Result `json:"results"`
	Mode     Mode     `json:"mode"`
	Degraded bool     `json:"degraded"`
	Warning  error    `json:"-"`
}

// Ranker runs hybrid searches over a Store.
type Ranker struct {
	store    Store
	embedder embed.Provider
	cfg      Config
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Ranker.
type Option func(*Ranker)

// WithClock overrides time.Now for recency.
func WithClock(now func() time.Time) Option { return func(r *Ranker) { r.now = now } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(r *Ranker) { r.logger = l } }

// NewRanker creates a Ranker. embedder may be nil, in which case every search is
// keyword-only and reported as degraded unless keyword mode was requested.
func NewRanker(store Store, embedder embed.Provider, cfg Config, opts ...Option) *Ranker {
	if !cfg.Mode.Valid() {
		cfg.Mode = Hybrid
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 20
	}
	r := &Ranker{store: store, embedder: embedder, cfg: cfg, now: time.Now, logger: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	return r
}

type candidate struct {
	keyword, vector float64
	snippet         string
	heading         string
	line            int
}

// Search ranks notes for q.
func (r *Ranker) Search(ctx context.Context, q Query) (*Response, error) {
	mode := q.Mode
	if mode == "" {
		mode = r.cfg.Mode
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("search: unknown mode %q", mode)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = r.cfg.Limit
	}
	resp := &Response{Mode: mode, Results: []Result{}}
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return resp, nil
	}

	var qvec []float32
	if mode != Keyword {
		var err error
		if r.embedder == nil {
			err = fmt.Errorf("search: no embedding provider configured: %w", apperr.ErrBackendUnavailable)
		} else if qvec, err = r.embedder.GenerateEmbedding(ctx, text); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			err = fmt.Errorf("search: query embedding: %w", err)
		}
		if err != nil {
			r.logger.Warn("search: vector search unavailable, using keyword only", slog.String("error", err.Error()))
			resp.Mode, resp.Degraded, resp.Warning = Keyword, true, err
			qvec = nil
		}
	}
	mode = resp.Mode

	cands := map[string]*candidate{}
	get := func(p string) *candidate {
		c, ok := cands[p]
		if !ok {
			c = &candidate{}
			cands[p] = c
		}
		return c
	}

	if mode != Vector {
		hits, err := r.store.KeywordSearch(ctx, text, q.Notebook, max(limit*5, 50))
		if err != nil {
			return nil, err
		}
		var top float64
		for _, h := range hits {
			top = max(top, h.Score)
		}
		for _, h := range hits {
			c := get(h.Path)
			if top > 0 {
				c.keyword = h.Score / top
			}
			c.snippet = h.Snippet
		}
	}

	if qvec != nil {
		chunks, err := r.store.Chunks(ctx, q.Notebook)
		if err != nil {
			return nil, err
		}
		for _, ch := range chunks {
			sim := max(0, Cosine(qvec, ch.Vector))
			if sim == 0 {
				continue
			}
			c := get(ch.Path)
			if sim > c.vector {
				c.vector, c.heading, c.line = sim, ch.Heading, ch.StartLine
				if mode == Vector || c.snippet == "" {
					c.snippet = truncate(ch.Content, 200)
				}
			}
		}
	}

	paths := make([]string, 0, len(cands))
	for p := range cands {
		paths = append(paths, p)
	}
	notes, err := r.store.Notes(ctx, paths)
	if err != nil {
		return nil, err
	}

	now := r.now()
	for p, c := range cands {
		n, ok := notes[p]
		if !ok {
			continue
		}
		age := now.Sub(n.ModifiedAt).Hours() / 24
		score := Score(r.cfg, mode, c.keyword, c.vector, age)
		if score <= 0 || score < r.cfg.ScoreThreshold {
			continue
		}
		resp.Results = append(resp.Results, Result{
			Path:         p,
			Title:        n.Title,
			Notebook:     n.Notebook,
			Snippet:      c.snippet,
			Heading:      c.heading,
			Line:         c.line,
			Score:        score,
			KeywordScore: c.keyword,
			VectorScore:  c.vector,
			ModifiedAt:   n.ModifiedAt,
		})
	}

	Sort(resp.Results)
	if len(resp.Results) > limit {
		resp.Results = resp.Results[:limit]
	}
	return resp, nil
}

// Sort orders results by score descending, then most recently modified, then path.
func Sort(rs []Result) {
	sort.SliceStable(rs, func(i, j int) bool {
		a, b := rs[i], rs[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.ModifiedAt.Equal(b.ModifiedAt) {
			return a.ModifiedAt.After(b.ModifiedAt)
		}
		return a.Path < b.Path
	})
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
