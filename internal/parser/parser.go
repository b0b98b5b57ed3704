// Package parser splits a Markdown note into frontmatter and body and derives
// its title, heading outline, and outgoing links.
package parser

import (
	"path"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/thomas-villani/nb-sub001/internal/models"
)

var (
	headingRe  = regexp.MustCompile(`^(#{1,6})[ \t]+(.*?)(?:[ \t]+#+)?[ \t]*$`)
	wikilinkRe = regexp.MustCompile(`\[\[([^\]\|#]+)(?:#[^\]\|]*)?(?:\|[^\]]*)?\]\]`)
	mdLinkRe   = regexp.MustCompile(`(!?)\[[^\]]*\]\(\s*<?([^)\s>]+)>?(?:\s+"[^"]*")?\s*\)`)
	schemeRe   = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.-]*:`)
)

// Line is one physical line of a note with its 1-based number in the full file.
type Line struct {
	No     int
	Text   string
	Fenced bool // inside (or delimiting) a fenced code block
}

// Document is the parsed form of one note.
type Document struct {
	Path        string
	Frontmatter Frontmatter
	Body        string
	Lines       []Line // body lines only
	Title       string
	Outline     []models.Heading
	Links       []models.Link
	Warnings    []string
}

// Parse splits data into frontmatter and body. Malformed frontmatter never fails
// the parse: defaults are used and the problem is recorded in Warnings.
// notePath is the slash-separated path used to resolve relative links.
func Parse(notePath string, data []byte) *Document {
	text := strings.TrimPrefix(string(data), "\ufeff")
	block, body, bodyLine, ok := splitFrontmatter(text)

	doc := &Document{Path: notePath, Body: body}
	if ok {
		if err := yaml.Unmarshal([]byte(block), &doc.Frontmatter); err != nil {
			doc.Frontmatter = Frontmatter{}
			doc.Warnings = append(doc.Warnings, "frontmatter: invalid YAML: "+err.Error())
		}
		doc.Warnings = append(doc.Warnings, doc.Frontmatter.Warnings...)
	}

	doc.Lines = SplitLines(body, bodyLine)
	doc.Outline = outline(doc.Lines)
	doc.Title = deriveTitle(notePath, doc.Frontmatter.Title, doc.Outline)
	doc.Links = extractLinks(notePath, doc.Frontmatter.Links, doc.Lines)
	return doc
}

// splitFrontmatter separates a leading `---` delimited YAML block from the body.
// bodyLine is the 1-based file line where the body starts.
func splitFrontmatter(text string) (block, body string, bodyLine int, ok bool) {
	if !strings.HasPrefix(text, "---\n") && !strings.HasPrefix(text, "---\r\n") {
		return "", text, 1, false
	}
	lines := strings.SplitAfter(text, "\n")
	for i := 1; i < len(lines); i++ {
		l := strings.TrimRight(lines[i], "\r\n")
		if l == "---" || l == "..." {
			return strings.Join(lines[1:i], ""), strings.Join(lines[i+1:], ""), i + 2, true
		}
	}
	// No closing delimiter: the whole file is body.
	return "", text, 1, false
}

// SplitLines breaks body into lines numbered from first and marks fenced code.
func SplitLines(body string, first int) []Line {
	if body == "" {
		return nil
	}
	raw := strings.Split(strings.TrimSuffix(body, "\n"), "\n")
	out := make([]Line, len(raw))
	var fence string
	for i, l := range raw {
		l = strings.TrimSuffix(l, "\r")
		out[i] = Line{No: first + i, Text: l}
		trimmed := strings.TrimLeft(l, " \t")
		if fence != "" {
			out[i].Fenced = true
			if t := strings.TrimSpace(trimmed); strings.HasPrefix(t, fence) && strings.Trim(t, fence[:1]) == "" {
				fence = ""
			}
			continue
		}
		if f := fenceOpener(trimmed); f != "" {
			fence = f
			out[i].Fenced = true
		}
	}
	return out
}

func fenceOpener(trimmed string) string {
	for _, c := range []byte{'`', '~'} {
		n := 0
		for n < len(trimmed) && trimmed[n] == c {
			n++
		}
		if n >= 3 {
			return trimmed[:n]
		}
	}
	return ""
}

// ParseHeading reports the level and text of an ATX heading line.
func ParseHeading(line string) (int, string, bool) {
	if strings.HasPrefix(line, "    ") || strings.HasPrefix(line, "\t") {
		return 0, "", false
	}
	m := headingRe.FindStringSubmatch(strings.TrimLeft(line, " "))
	if m == nil {
		return 0, "", false
	}
	text := strings.TrimSpace(m[2])
	if text == "" {
		return 0, "", false
	}
	return len(m[1]), text, true
}

func outline(lines []Line) []models.Heading {
	var out []models.Heading
	for _, l := range lines {
		if l.Fenced {
			continue
		}
		if level, text, ok := ParseHeading(l.Text); ok {
			out = append(out, models.Heading{Level: level, Text: text, Line: l.No})
		}
	}
	return out
}

// deriveTitle: frontmatter title, then the first H1, then the file name stem.
func deriveTitle(notePath, fmTitle string, headings []models.Heading) string {
	if fmTitle != "" {
		return fmTitle
	}
	for _, h := range headings {
		if h.Level == 1 {
			return h.Text
		}
	}
	base := path.Base(notePath)
	return strings.TrimSuffix(base, path.Ext(base))
}

func extractLinks(source string, fmLinks []FrontmatterLink, lines []Line) []models.Link {
	var out []models.Link
	for _, l := range fmLinks {
		out = append(out, resolveLink(source, l.Target, models.LinkFrontmatter, 0))
	}
	for _, l := range lines {
		if l.Fenced {
			continue
		}
		for _, m := range wikilinkRe.FindAllStringSubmatch(l.Text, -1) {
			target := strings.TrimSpace(m[1])
			if target == "" {
				continue
			}
			if path.Ext(target) == "" {
				target += ".md"
			}
			out = append(out, models.Link{Source: source, Target: target, Type: models.LinkWiki, Line: l.No})
		}
		for _, m := range mdLinkRe.FindAllStringSubmatch(l.Text, -1) {
			if m[1] == "!" {
				continue // image
			}
			out = append(out, resolveLink(source, m[2], models.LinkMarkdown, l.No))
		}
	}
	return out
}

// resolveLink turns a raw link target into a URL or a note path relative to the root.
func resolveLink(source, raw, kind string, line int) models.Link {
	raw = strings.TrimSpace(raw)
	if schemeRe.MatchString(raw) && !isWindowsDrive(raw) {
		return models.Link{Source: source, Target: raw, Type: kind, Line: line, External: true}
	}
	target := raw
	if i := strings.IndexAny(target, "#?"); i >= 0 {
		target = target[:i]
	}
	target = strings.ReplaceAll(target, "%20", " ")
	switch {
	case target == "":
		target = source
	case strings.HasPrefix(target, "/"):
		target = path.Clean(strings.TrimPrefix(target, "/"))
	default:
		target = path.Clean(path.Join(path.Dir(source), target))
	}
	if kind == models.LinkFrontmatter && path.Ext(target) == "" {
		target += ".md"
	}
	return models.Link{Source: source, Target: target, Type: kind, Line: line}
}

func isWindowsDrive(s string) bool {
	return len(s) > 2 && s[1] == ':' && (s[2] == '\\' || s[2] == '/')
}
