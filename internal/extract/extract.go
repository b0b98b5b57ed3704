// Package extract turns a parsed note into todo items with stable IDs, section
// paths, inherited tags and nesting.
package extract

import (
	"fmt"
	"strings"
	"time"

	"github.com/thomas-villani/nb-sub001/internal/checksum"
	"github.com/thomas-villani/nb-sub001/internal/models"
	"github.com/thomas-villani/nb-sub001/internal/parser"
)

// Options carries the per-note context of an extraction.
type Options struct {
	Notebook string
	Now      time.Time
}

// Result holds the extracted todos as a flat arena. Parents[i] is the arena index
// of Todos[i]'s parent, or -1.
type Result struct {
	Todos    []models.Todo
	Parents  []int
	Warnings []string
}

type openTodo struct {
	idx    int
	indent int
}

type heading struct {
	level int
	text  string
}

// Todos extracts every checkbox line of doc outside fenced code.
func Todos(doc *parser.Document, opts Options) *Result {
	res := &Result{}
	noteTags := doc.Frontmatter.Tags

	var (
		stack    []openTodo
		sections []heading
		detailOf = -1 // arena index currently collecting detail lines
		prevTodo = -1 // arena index if the previous line was a checkbox
		details  = map[int][]string{}
	)

	for _, line := range doc.Lines {
		text := line.Text
		blank := strings.TrimSpace(text) == ""

		if !line.Fenced {
			if level, htext, ok := parser.ParseHeading(text); ok {
				for len(sections) > 0 && sections[len(sections)-1].level >= level {
					sections = sections[:len(sections)-1]
				}
				sections = append(sections, heading{level: level, text: htext})
				stack, detailOf, prevTodo = stack[:0], -1, -1
				continue
			}
		}

		if blank {
			detailOf, prevTodo = -1, -1
			continue
		}

		if cb, ok := MatchCheckbox(text); ok && !line.Fenced {
			for len(stack) > 0 && stack[len(stack)-1].indent >= cb.Indent {
				stack = stack[:len(stack)-1]
			}
			parent := -1
			if len(stack) > 0 {
				parent = stack[len(stack)-1].idx
			}
			depth := len(stack)

			md := ParseMetadata(cb.Rest, opts.Now)
			for _, w := range md.Warnings {
				res.Warnings = append(res.Warnings, lineWarning(line.No, w))
			}
			todo := models.Todo{
				ID:       checksum.TodoID(doc.Path, line.No, depth, md.Content),
				Path:     doc.Path,
				Notebook: opts.Notebook,
				Line:     line.No,
				Depth:    depth,
				Content:  md.Content,
				Status:   cb.Status,
				Due:      md.Due,
				DueTime:  md.DueTime,
				Priority: md.Priority,
				Tags:     parser.NormalizeTags(append(append([]string{}, noteTags...), md.Tags...)),
				Section:  sectionPath(sections),
			}
			if parent >= 0 {
				todo.ParentID = res.Todos[parent].ID
			}
			idx := len(res.Todos)
			res.Todos = append(res.Todos, todo)
			res.Parents = append(res.Parents, parent)
			stack = append(stack, openTodo{idx: idx, indent: cb.Indent})
			detailOf, prevTodo = -1, idx
			continue
		}

		indent := IndentWidth(text)
		switch {
		case detailOf >= 0 && indent > stack[len(stack)-1].indent:
			details[detailOf] = append(details[detailOf], strings.TrimSpace(text))
		case prevTodo >= 0 && indent > stack[len(stack)-1].indent:
			detailOf = prevTodo
			details[detailOf] = append(details[detailOf], strings.TrimSpace(text))
		default:
			detailOf = -1
			for len(stack) > 0 && stack[len(stack)-1].indent >= indent {
				stack = stack[:len(stack)-1]
			}
		}
		prevTodo = -1
	}

	for idx, lines := range details {
		res.Todos[idx].Details = strings.Join(lines, "\n")
	}
	return res
}

// Descendants returns the arena indexes of every todo nested under i, in file order.
func (r *Result) Descendants(i int) []int {
	var out []int
	for j := i + 1; j < len(r.Todos); j++ {
		if r.isAncestor(i, j) {
			out = append(out, j)
		}
	}
	return out
}

func (r *Result) isAncestor(anc, j int) bool {
	for p := r.Parents[j]; p >= 0; p = r.Parents[p] {
		if p == anc {
			return true
		}
	}
	return false
}

// IndexOf returns the arena index of the todo with id, or -1.
func (r *Result) IndexOf(id string) int {
	for i, t := range r.Todos {
		if t.ID == id {
			return i
		}
	}
	return -1
}

// IndexAtLine returns the arena index of the todo on the given line, or -1.
func (r *Result) IndexAtLine(line int) int {
	for i, t := range r.Todos {
		if t.Line == line {
			return i
		}
	}
	return -1
}

func sectionPath(hs []heading) []string {
	out := make([]string, len(hs))
	for i, h := range hs {
		out[i] = h.text
	}
	return out
}

func lineWarning(line int, msg string) string {
	return fmt.Sprintf("line %d: %s", line, msg)
}
