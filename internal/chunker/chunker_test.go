package chunker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const body = "# Intro\nFirst para one.\n\n- item a\n- item b\n\n## Next\nSecond para. Another sentence! Third one.\n"

func TestSplit_Paragraph(t *testing.T) {
	c, err := New(Paragraph, 0)
	require.NoError(t, err)
	chunks := c.Split("a.md", []byte(body), 1)
	require.Len(t, chunks, 3)

	assert.Equal(t, "First para one.", chunks[0].Content)
	assert.Equal(t, "Intro", chunks[0].Heading)
	assert.Equal(t, 2, chunks[0].StartLine)
	assert.Equal(t, 2, chunks[0].EndLine)

	assert.Equal(t, "- item a\n- item b", chunks[1].Content)
	assert.Equal(t, 4, chunks[1].StartLine)
	assert.Equal(t, 5, chunks[1].EndLine)

	assert.Equal(t, "Next", chunks[2].Heading)
	assert.Equal(t, 2, chunks[2].Seq)
	assert.Equal(t, "a.md", chunks[2].Path)
}

func TestSplit_Section(t *testing.T) {
	c, err := New(Section, 0)
	require.NoError(t, err)
	chunks := c.Split("a.md", []byte(body), 5)
	require.Len(t, chunks, 2)
	assert.Equal(t, "Intro", chunks[0].Heading)
	assert.Equal(t, 5, chunks[0].StartLine)
	assert.Contains(t, chunks[0].Content, "- item b")
	assert.Equal(t, "Next", chunks[1].Heading)
	assert.Equal(t, 11, chunks[1].StartLine)
}

func TestSplit_Sentence(t *testing.T) {
	c, err := New(Sentence, 3)
	require.NoError(t, err)
	chunks := c.Split("a.md", []byte("Second para. Another sentence! Third one.\n"), 1)
	require.Len(t, chunks, 3)
	assert.Equal(t, "Second para.", chunks[0].Content)
	assert.Equal(t, "Another sentence!", chunks[1].Content)
	assert.Equal(t, "Third one.", chunks[2].Content)
}

func TestSplit_TokensAndBound(t *testing.T) {
	c, err := New(Tokens, 4)
	require.NoError(t, err)
	chunks := c.Split("a.md", []byte("one two three\nfour five six\n\nseven\n"), 1)
	require.Len(t, chunks, 2)
	assert.Equal(t, "one two three four", chunks[0].Content)
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 2, chunks[0].EndLine)
	assert.Equal(t, "five six seven", chunks[1].Content)
	assert.Equal(t, 4, chunks[1].EndLine)

	p, err := New(Paragraph, 2)
	require.NoError(t, err)
	assert.Len(t, p.Split("a.md", []byte("a b c d e\n"), 1), 3)
}

func TestSplit_EmptyAndUnknown(t *testing.T) {
	c, err := New("", 0)
	require.NoError(t, err)
	assert.Empty(t, c.Split("a.md", []byte("  \n\n"), 1))

	_, err = New("words", 0)
	assert.Error(t, err)
}
