package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thomas-villani/nb-sub001/internal/checksum"
)

func write(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func actions(cs *ChangeSet) map[string]Action {
	out := make(map[string]Action, len(cs.Changes))
	for _, c := range cs.Changes {
		out[c.Path] = c.Action
	}
	return out
}

func newScanner() *Scanner {
	return New(Options{ReservedDir: ".nb", Ignore: []string{"node_modules"}, Workers: 2}, nil)
}

func TestScan_DetectsActions(t *testing.T) {
	root := t.TempDir()
	write(t, root, "same.md", "same")
	write(t, root, "work/changed.md", "new body")
	write(t, root, "work/new.md", "fresh")
	write(t, root, "image.png", "binary")
	write(t, root, ".nb/cache.md", "reserved")
	write(t, root, ".hidden/x.md", "hidden")
	write(t, root, "node_modules/pkg/readme.md", "ignored")

	known := map[string]string{
		"same.md":         checksum.Sum([]byte("same")),
		"work/changed.md": checksum.Sum([]byte("old body")),
		"gone.md":         "deadbeef",
	}
	cs, err := newScanner().Scan(context.Background(), []Root{{Path: root, Recursive: true}}, known)
	require.NoError(t, err)

	assert.Equal(t, map[string]Action{
		"gone.md":         Deleted,
		"same.md":         Unchanged,
		"work/changed.md": Modified,
		"work/new.md":     Added,
	}, actions(cs))
	assert.Empty(t, cs.Errors)
	assert.Len(t, cs.Pending(), 2)

	// Deterministic order.
	var paths []string
	for _, c := range cs.Changes {
		paths = append(paths, c.Path)
	}
	assert.IsIncreasing(t, paths)

	for _, c := range cs.Changes {
		if c.Path == "work/new.md" {
			assert.Equal(t, "work", c.Notebook)
		}
		if c.Path == "same.md" {
			assert.Equal(t, "", c.Notebook)
		}
	}
}

func TestScan_SymlinkLoopTruncated(t *testing.T) {
	root := t.TempDir()
	write(t, root, "a/note.md", "x")
	if err := os.Symlink(root, filepath.Join(root, "a", "loop")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	cs, err := newScanner().Scan(context.Background(), []Root{{Path: root, Recursive: true}}, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]Action{"a/note.md": Added}, actions(cs))
}

func TestScan_LinkedRoots(t *testing.T) {
	root := t.TempDir()
	ext := t.TempDir()
	write(t, ext, "top.md", "top")
	write(t, ext, "deep/inner.md", "inner")
	single := filepath.Join(t.TempDir(), "single.md")
	require.NoError(t, os.WriteFile(single, []byte("one"), 0o644))

	roots := []Root{
		{Path: root, Recursive: true},
		{Path: ext, Notebook: "ext", External: true, Recursive: false, TodoExclude: true},
		{Path: single, Notebook: "solo", External: true},
	}
	known := map[string]string{filepath.ToSlash(filepath.Join(ext, "removed.md")): "x"}
	cs, err := newScanner().Scan(context.Background(), roots, known)
	require.NoError(t, err)

	got := actions(cs)
	assert.Equal(t, Added, got[filepath.ToSlash(filepath.Join(ext, "top.md"))])
	assert.NotContains(t, got, filepath.ToSlash(filepath.Join(ext, "deep", "inner.md")))
	assert.Equal(t, Added, got[filepath.ToSlash(single)])
	assert.Equal(t, Deleted, got[filepath.ToSlash(filepath.Join(ext, "removed.md"))])

	for _, c := range cs.Changes {
		if c.Path == filepath.ToSlash(filepath.Join(ext, "top.md")) {
			assert.True(t, c.External)
			assert.True(t, c.TodoExclude)
			assert.Equal(t, "ext", c.Notebook)
		}
	}
}

func TestScan_DeletionScopedToScannedRoots(t *testing.T) {
	root := t.TempDir()
	known := map[string]string{"/elsewhere/linked.md": "x"}
	cs, err := newScanner().Scan(context.Background(), []Root{{Path: root, Recursive: true}}, known)
	require.NoError(t, err)
	assert.Empty(t, cs.Changes)
}

func TestScan_UnreadableFileIsPerFileError(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permissions are not enforced for root")
	}
	root := t.TempDir()
	write(t, root, "ok.md", "fine")
	write(t, root, "locked.md", "secret")
	require.NoError(t, os.Chmod(filepath.Join(root, "locked.md"), 0o000))
	t.Cleanup(func() { _ = os.Chmod(filepath.Join(root, "locked.md"), 0o644) })

	known := map[string]string{"locked.md": "old"}
	cs, err := newScanner().Scan(context.Background(), []Root{{Path: root, Recursive: true}}, known)
	require.NoError(t, err)

	require.Len(t, cs.Errors, 1)
	assert.Equal(t, "locked.md", cs.Errors[0].Path)
	assert.Equal(t, map[string]Action{"ok.md": Added}, actions(cs))
}

func TestScan_MissingRootKeepsKnownPaths(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "gone")
	cs, err := newScanner().Scan(context.Background(), []Root{{Path: missing, Recursive: true}}, map[string]string{"a.md": "x"})
	require.NoError(t, err)
	assert.Len(t, cs.Errors, 1)
	assert.Empty(t, cs.Changes)
}

func TestScan_Cancelled(t *testing.T) {
	root := t.TempDir()
	write(t, root, "a.md", "x")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newScanner().Scan(ctx, []Root{{Path: root, Recursive: true}}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNotebookOf(t *testing.T) {
	assert.Equal(t, "work", NotebookOf("work/2025/plan.md"))
	assert.Equal(t, "", NotebookOf("inbox.md"))
}
