// Package chunker splits a note body into embeddable chunks using the goldmark
// block structure.
package chunker

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/thomas-villani/nb-sub001/internal/models"
)

// Strategies.
const (
	Paragraph = "paragraph"
	Sentence  = "sentence"
	Section   = "section"
	Tokens    = "tokens"
)

// DefaultMaxTokens bounds chunk size when no limit is configured.
const DefaultMaxTokens = 256

var sentenceEnd = regexp.MustCompile(`[.!?]+(?:["')\]]*)\s+`)

// Chunker splits note bodies. It is safe for concurrent use.
type Chunker struct {
	strategy  string
	maxTokens int
	md        goldmark.Markdown
}

// New validates strategy and returns a Chunker.
func New(strategy string, maxTokens int) (*Chunker, error) {
	switch strategy {
	case "":
		strategy = Paragraph
	case Paragraph, Sentence, Section, Tokens:
	default:
		return nil, fmt.Errorf("chunker: unknown strategy %q", strategy)
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Chunker{strategy: strategy, maxTokens: maxTokens, md: goldmark.New()}, nil
}

// block is a top-level markdown block with its line span (0-based, inclusive).
type block struct {
	heading   string // set for heading blocks
	level     int
	startLine int
	endLine   int
}

// Split chunks body. firstLine is the 1-based file line of the body's first line,
// so chunk line numbers match the note file.
func (c *Chunker) Split(path string, body []byte, firstLine int) []models.Chunk {
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}
	lines := strings.Split(string(body), "\n")
	var pieces []piece
	switch c.strategy {
	case Tokens:
		pieces = c.tokenWindows(lines)
	default:
		blocks := c.blocks(body)
		switch c.strategy {
		case Section:
			pieces = c.sections(blocks, lines)
		case Sentence:
			pieces = c.sentences(blocks, lines)
		default:
			pieces = c.paragraphs(blocks, lines)
		}
	}

	out := make([]models.Chunk, 0, len(pieces))
	for _, p := range pieces {
		content := strings.TrimSpace(p.content)
		if content == "" {
			continue
		}
		out = append(out, models.Chunk{
			Path:      path,
			Seq:       len(out),
			Heading:   p.heading,
			Content:   content,
			StartLine: firstLine + p.start,
			EndLine:   firstLine + p.end,
		})
	}
	return out
}

type piece struct {
	heading    string
	content    string
	start, end int
}

func (c *Chunker) blocks(src []byte) []block {
	doc := c.md.Parser().Parse(text.NewReader(src))
	starts := lineStarts(src)

	var out []block
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		lo, hi, ok := span(n)
		if !ok {
			continue
		}
		b := block{startLine: lineOf(starts, lo), endLine: lineOf(starts, max(hi-1, lo))}
		if h, isHeading := n.(*ast.Heading); isHeading {
			b.level = h.Level
			b.heading = strings.TrimSpace(string(h.Lines().Value(src)))
		}
		out = append(out, b)
	}
	return out
}

// span returns the byte range covered by n's own lines or its descendants'.
func span(n ast.Node) (int, int, bool) {
	lo, hi, found := 0, 0, false
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || c.Type() != ast.TypeBlock {
			return ast.WalkContinue, nil
		}
		lines := c.Lines()
		if lines == nil || lines.Len() == 0 {
			return ast.WalkContinue, nil
		}
		first, last := lines.At(0), lines.At(lines.Len()-1)
		if !found || first.Start < lo {
			lo = first.Start
		}
		if !found || last.Stop > hi {
			hi = last.Stop
		}
		found = true
		return ast.WalkContinue, nil
	})
	return lo, hi, found
}

func lineStarts(src []byte) []int {
	starts := []int{0}
	for i, b := range src {
		if b == '\n' {
			starts = append(starts, i+1)
		}
	}
	return starts
}

func lineOf(starts []int, offset int) int {
	return sort.Search(len(starts), func(i int) bool { return starts[i] > offset }) - 1
}

func joinLines(lines []string, start, end int) string {
	if end >= len(lines) {
		end = len(lines) - 1
	}
	return strings.Join(lines[start:end+1], "\n")
}

func (c *Chunker) paragraphs(blocks []block, lines []string) []piece {
	var out []piece
	heading := ""
	for _, b := range blocks {
		if b.level > 0 {
			heading = b.heading
			continue
		}
		out = append(out, c.bound(piece{heading: heading, content: joinLines(lines, b.startLine, b.endLine), start: b.startLine, end: b.endLine})...)
	}
	return out
}

func (c *Chunker) sections(blocks []block, lines []string) []piece {
	var out []piece
	var cur *piece
	flush := func() {
		if cur != nil {
			out = append(out, c.bound(*cur)...)
			cur = nil
		}
	}
	for _, b := range blocks {
		if b.level > 0 {
			flush()
		}
		if cur == nil {
			cur = &piece{heading: b.heading, start: b.startLine}
		}
		cur.end = b.endLine
		cur.content = joinLines(lines, cur.start, cur.end)
	}
	flush()
	return out
}

func (c *Chunker) sentences(blocks []block, lines []string) []piece {
	var out []piece
	heading := ""
	for _, b := range blocks {
		if b.level > 0 {
			heading = b.heading
			continue
		}
		body := joinLines(lines, b.startLine, b.endLine)
		var group []string
		count := 0
		emit := func() {
			if len(group) > 0 {
				out = append(out, piece{heading: heading, content: strings.Join(group, " "), start: b.startLine, end: b.endLine})
				group, count = nil, 0
			}
		}
		for _, s := range splitSentences(body) {
			n := len(strings.Fields(s))
			if count > 0 && count+n > c.maxTokens {
				emit()
			}
			group = append(group, s)
			count += n
		}
		emit()
	}
	return out
}

func splitSentences(s string) []string {
	s = strings.Join(strings.Fields(s), " ")
	var out []string
	last := 0
	for _, m := range sentenceEnd.FindAllStringIndex(s+" ", -1) {
		end := min(m[1], len(s))
		if part := strings.TrimSpace(s[last:end]); part != "" {
			out = append(out, part)
		}
		last = end
	}
	if last < len(s) {
		if part := strings.TrimSpace(s[last:]); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// tokenWindows slices the body into windows of at most maxTokens words.
func (c *Chunker) tokenWindows(lines []string) []piece {
	var out []piece
	var words []string
	start, last := -1, 0
	for i, l := range lines {
		for _, w := range strings.Fields(l) {
			if start < 0 {
				start = i
			}
			last = i
			words = append(words, w)
			if len(words) == c.maxTokens {
				out = append(out, piece{content: strings.Join(words, " "), start: start, end: i})
				words, start = nil, -1
			}
		}
	}
	if len(words) > 0 {
		out = append(out, piece{content: strings.Join(words, " "), start: start, end: last})
	}
	return out
}

// bound splits p into word windows when it exceeds maxTokens.
func (c *Chunker) bound(p piece) []piece {
	words := strings.Fields(p.content)
	if len(words) <= c.maxTokens {
		return []piece{p}
	}
	var out []piece
	for i := 0; i < len(words); i += c.maxTokens {
		j := min(i+c.maxTokens, len(words))
		out = append(out, piece{heading: p.heading, content: strings.Join(words[i:j], " "), start: p.start, end: p.end})
	}
	return out
}
