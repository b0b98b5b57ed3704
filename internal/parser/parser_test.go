package parser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thomas-villani/nb-sub001/internal/models"
)

func TestParse_FrontmatterAndBody(t *testing.T) {
	input := []byte("---\ntitle: Hello\ndate: 2025-03-04\ntags:\n  - Go\n  - notes\n  - go\ntodo_exclude: true\nowner: sam\n---\n# Heading\nBody text.\n")
	doc := Parse("work/hello.md", input)

	assert.Equal(t, "Hello", doc.Title)
	assert.Equal(t, []string{"go", "notes"}, doc.Frontmatter.Tags)
	assert.True(t, doc.Frontmatter.TodoExclude)
	require.NotNil(t, doc.Frontmatter.Date)
	assert.Equal(t, time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC), *doc.Frontmatter.Date)
	assert.Equal(t, map[string]any{"owner": "sam"}, doc.Frontmatter.Extra)
	assert.Equal(t, "# Heading\nBody text.\n", doc.Body)
	assert.Empty(t, doc.Warnings)

	// Body lines keep their position in the full file.
	require.Len(t, doc.Lines, 2)
	assert.Equal(t, 11, doc.Lines[0].No)
}

func TestParse_NoFrontmatter(t *testing.T) {
	doc := Parse("a.md", []byte("# Just a heading\nSome text.\n"))
	assert.Equal(t, "Just a heading", doc.Title)
	assert.Nil(t, doc.Frontmatter.Tags)
	assert.Equal(t, 1, doc.Lines[0].No)
}

func TestParse_TitleFallsBackToFileStem(t *testing.T) {
	doc := Parse("daily/2025-01-02.md", []byte("## Not a title\n"))
	assert.Equal(t, "2025-01-02", doc.Title)
}

func TestParse_InvalidYAMLDegrades(t *testing.T) {
	doc := Parse("a.md", []byte("---\n: invalid: yaml: {{{\n---\nBody\n"))
	assert.NotEmpty(t, doc.Warnings)
	assert.Equal(t, "Body\n", doc.Body)
	assert.Equal(t, 4, doc.Lines[0].No)
}

func TestParse_MalformedFieldKeepsOthers(t *testing.T) {
	doc := Parse("a.md", []byte("---\ntitle: Kept\ntodo_exclude: maybe\ntags: {a: b}\n---\n"))
	assert.Equal(t, "Kept", doc.Title)
	assert.False(t, doc.Frontmatter.TodoExclude)
	assert.Len(t, doc.Warnings, 2)
}

func TestParse_ScalarTags(t *testing.T) {
	doc := Parse("a.md", []byte("---\ntags: project, Urgent\n---\n"))
	assert.Equal(t, []string{"project", "urgent"}, doc.Frontmatter.Tags)
}

func TestParse_OutlineSkipsFences(t *testing.T) {
	body := "# Top\n```\n# not a heading\n```\n## Sub ##\n"
	doc := Parse("a.md", []byte(body))
	require.Len(t, doc.Outline, 2)
	assert.Equal(t, models.Heading{Level: 1, Text: "Top", Line: 1}, doc.Outline[0])
	assert.Equal(t, models.Heading{Level: 2, Text: "Sub", Line: 5}, doc.Outline[1])
}

func TestParse_Links(t *testing.T) {
	input := "---\nlinks:\n  - projects/alpha\n  - {path: https://example.com, title: Site}\n---\n" +
		"See [[Note A]] and [[Note B|alias]].\n" +
		"Also [rel](../ref/guide.md#intro), [web](https://go.dev) and ![img](pic.png).\n"
	doc := Parse("work/plan.md", []byte(input))

	require.Len(t, doc.Links, 6)
	assert.Equal(t, models.Link{Source: "work/plan.md", Target: "projects/alpha.md", Type: models.LinkFrontmatter}, doc.Links[0])
	assert.True(t, doc.Links[1].External)
	assert.Equal(t, "Note A.md", doc.Links[2].Target)
	assert.Equal(t, 6, doc.Links[2].Line)
	assert.Equal(t, "Note B.md", doc.Links[3].Target)
	assert.Equal(t, "ref/guide.md", doc.Links[4].Target)
	assert.Equal(t, models.LinkMarkdown, doc.Links[4].Type)
	assert.Equal(t, "https://go.dev", doc.Links[5].Target)
	assert.True(t, doc.Links[5].External)
}

func TestSplitLines_TildeFenceAndCRLF(t *testing.T) {
	lines := SplitLines("a\r\n~~~~\n- [ ] x\n~~~~\nb\r\n", 3)
	require.Len(t, lines, 5)
	assert.Equal(t, "a", lines[0].Text)
	assert.False(t, lines[0].Fenced)
	assert.True(t, lines[2].Fenced)
	assert.False(t, lines[4].Fenced)
	assert.Equal(t, 7, lines[4].No)
}

func TestNormalizeTags(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, NormalizeTags([]string{"#B", " a ", "b", ""}))
}
