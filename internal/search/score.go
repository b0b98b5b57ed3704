// Package search ranks notes by blending keyword relevance, vector similarity
// and recency.
package search

import (
	"math"
)

// Mode selects which signals contribute to the content score.
type Mode string

const (
	Hybrid  Mode = "hybrid"
	Keyword Mode = "keyword"
	Vector  Mode = "vector"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case Hybrid, Keyword, Vector:
		return true
	}
	return false
}

// Config holds the tunables of the ranking formula.
type Config struct {
	Mode             Mode
	VectorWeight     float64 // share of the vector score in hybrid mode, [0,1]
	RecencyDecayDays float64 // e-folding time of the recency factor; <= 0 disables recency
	RecencyWeight    float64 // how much recency can pull a score down, [0,1]
	ScoreThreshold   float64 // results scoring below are dropped
	Limit            int
}

// DefaultConfig returns the ranking defaults.
func DefaultConfig() Config {
	return Config{
		Mode:             Hybrid,
		VectorWeight:     0.7,
		RecencyDecayDays: 30,
		RecencyWeight:    0.2,
		ScoreThreshold:   0,
		Limit:            20,
	}
}

// Content blends normalized sub-scores for the given effective mode:
//
//	hybrid:  w*vector + (1-w)*keyword
//	keyword: keyword
//	vector:  vector
func Content(mode Mode, w, keyword, vector float64) float64 {
	switch mode {
	case Keyword:
		return clamp01(keyword)
	case Vector:
		return clamp01(vector)
	}
	w = clamp01(w)
	return w*clamp01(vector) + (1-w)*clamp01(keyword)
}

// Recency returns exp(-age/decay) for ageDays >= 0, and 1 when decay is disabled.
func Recency(ageDays, decayDays float64) float64 {
	if decayDays <= 0 {
		return 1
	}
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Exp(-ageDays / decayDays)
}

// Score is the final ranking formula, applied identically in every mode:
//
//	score = content * (1 - rw + rw*recency)
//
// A brand-new note keeps its full content score; a very old one keeps 1-rw of it.
func Score(cfg Config, mode Mode, keyword, vector, ageDays float64) float64 {
	rw := clamp01(cfg.RecencyWeight)
	return Content(mode, cfg.VectorWeight, keyword, vector) * (1 - rw + rw*Recency(ageDays, cfg.RecencyDecayDays))
}

// Cosine returns the cosine similarity of a and b, or 0 when the lengths differ
// or either vector is zero.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func clamp01(x float64) float64 {
	switch {
	case math.IsNaN(x) || x < 0:
		return 0
	case x > 1:
		return 1
	}
	return x
}
