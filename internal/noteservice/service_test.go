package noteservice_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thomas-villani/nb-sub001/internal/apperr"
	"github.com/thomas-villani/nb-sub001/internal/models"
	"github.com/thomas-villani/nb-sub001/internal/scanner"
	"github.com/thomas-villani/nb-sub001/internal/search"
	"github.com/thomas-villani/nb-sub001/internal/syncer"
	"github.com/thomas-villani/nb-sub001/internal/testutil"
)

const plan = "---\ntags: [launch]\n---\n# Plan\n\nSee [[ideas]].\n\n## Milestones\n\n- [ ] Ship release @due(2025-11-18) @priority(1) #launch\n  - [ ] Write notes\n- [x] Kickoff\n"

func setup(t *testing.T) *testutil.Env {
	t.Helper()
	env := testutil.NewEnv(t, syncer.Options{AutoCompleteChildren: true})
	testutil.WriteNote(t, env.Root, "work/plan.md", plan)
	testutil.WriteNote(t, env.Root, "work/ideas.md", "# Ideas\n\nA rocket release idea.\n")
	testutil.WriteNote(t, env.Root, "home/list.md", "- [ ] Buy milk #errand\n")
	_, err := env.Service.Index(context.Background())
	require.NoError(t, err)
	return env
}

func TestScanIsReadOnly(t *testing.T) {
	ctx := context.Background()
	env := setup(t)
	testutil.WriteNote(t, env.Root, "work/new.md", "fresh")

	cs, err := env.Service.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, cs.Count(scanner.Added))
	assert.Equal(t, 3, cs.Count(scanner.Unchanged))

	cs, err = env.Service.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, cs.Count(scanner.Added), "scan must not commit")
}

func TestListTodosUsesServiceClock(t *testing.T) {
	ctx := context.Background()
	env := setup(t)

	overdue, err := env.Service.ListTodos(ctx, models.TodoFilter{Overdue: true})
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, "Ship release", overdue[0].Content)

	none, err := env.Service.ListTodos(ctx, models.TodoFilter{Notebook: "nowhere"})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestToggleCascadesThroughService(t *testing.T) {
	ctx := context.Background()
	env := setup(t)
	todos, err := env.Service.ListTodos(ctx, models.TodoFilter{Path: "work/plan.md"})
	require.NoError(t, err)
	require.NotEmpty(t, todos)

	var parent models.Todo
	for _, td := range todos {
		if td.Content == "Ship release" {
			parent = td
		}
	}
	res, err := env.Service.Toggle(ctx, parent.ID[:6])
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, res.Todo.Status)
	require.Len(t, res.Cascaded, 1)
	assert.Equal(t, "Write notes", res.Cascaded[0].Content)

	open, err := env.Service.ListTodos(ctx, models.TodoFilter{
		Path:     "work/plan.md",
		Statuses: []models.Status{models.StatusPending, models.StatusInProgress},
	})
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestGetNoteAndBacklinks(t *testing.T) {
	ctx := context.Background()
	env := setup(t)

	n, err := env.Service.GetNote(ctx, "work/plan.md")
	require.NoError(t, err)
	assert.Equal(t, "Plan", n.Title)
	assert.Equal(t, "work", n.Notebook)
	assert.Equal(t, plan, n.Content)
	assert.Len(t, n.Todos, 3)
	require.Len(t, n.Links, 1)
	assert.Equal(t, "ideas.md", n.Links[0].Target)

	bl, err := env.Service.Backlinks(ctx, "work/ideas.md")
	require.NoError(t, err)
	require.Len(t, bl, 1)
	assert.Equal(t, "work/plan.md", bl[0].Source)

	_, err = env.Service.GetNote(ctx, "missing.md")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestMarkViewedAndHistory(t *testing.T) {
	ctx := context.Background()
	env := setup(t)

	require.NoError(t, env.Service.MarkViewed(ctx, "work/ideas.md"))
	assert.ErrorIs(t, env.Service.MarkViewed(ctx, "nope.md"), apperr.ErrNotFound)

	viewed, err := env.Service.History(ctx, models.HistoryViewed, 10)
	require.NoError(t, err)
	require.Len(t, viewed, 1)
	assert.Equal(t, "work/ideas.md", viewed[0].Path)
	assert.True(t, viewed[0].At.Equal(testutil.Now))

	modified, err := env.Service.History(ctx, models.HistoryModified, 10)
	require.NoError(t, err)
	assert.Len(t, modified, 3)

	recent, err := env.Service.RecentlyViewed(ctx, 5)
	require.NoError(t, err)
	require.Len(t, recent, 1)

	_, err = env.Service.History(ctx, "deleted", 10)
	assert.Error(t, err)
}

func TestSearchIsDegradedWithoutEmbeddings(t *testing.T) {
	env := setup(t)
	resp, err := env.Service.Search(context.Background(), search.Query{Text: "release"})
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	assert.ErrorIs(t, resp.Warning, apperr.ErrBackendUnavailable)
	require.NotEmpty(t, resp.Results)

	var paths []string
	for _, r := range resp.Results {
		paths = append(paths, r.Path)
	}
	assert.ElementsMatch(t, []string{"work/plan.md", "work/ideas.md"}, paths)
}

func TestAggregates(t *testing.T) {
	ctx := context.Background()
	env := setup(t)

	nbs, err := env.Service.NotebookCounts(ctx)
	require.NoError(t, err)
	require.Len(t, nbs, 2)
	assert.Equal(t, "home", nbs[0].Notebook)
	assert.Equal(t, 1, nbs[0].OpenTodos)
	assert.Equal(t, "work", nbs[1].Notebook)
	assert.Equal(t, 2, nbs[1].Notes)
	assert.Equal(t, 2, nbs[1].OpenTodos)

	tags, err := env.Service.TagCounts(ctx)
	require.NoError(t, err)
	byTag := map[string]int{}
	for _, c := range tags {
		byTag[c.Tag] = c.Notes + c.Todos
	}
	assert.Equal(t, 4, byTag["launch"], "todos inherit note tags")
	assert.Equal(t, 1, byTag["errand"])

	recent, err := env.Service.RecentlyModified(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func TestLinkedRegistration(t *testing.T) {
	ctx := context.Background()
	env := setup(t)
	ext := t.TempDir()
	testutil.WriteNote(t, ext, "tasks.md", "- [ ] remote task\n")

	rep, err := env.Service.RegisterLinked(ctx, models.LinkedPath{Path: ext, Alias: "ext", Sync: true})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Added)

	todos, err := env.Service.ListTodos(ctx, models.TodoFilter{Notebook: "ext"})
	require.NoError(t, err)
	require.Len(t, todos, 1)

	n, err := env.Service.GetNote(ctx, todos[0].Path)
	require.NoError(t, err)
	assert.True(t, n.External)
	assert.Equal(t, "- [ ] remote task\n", n.Content)

	linked, err := env.Service.LinkedPaths(ctx)
	require.NoError(t, err)
	require.Len(t, linked, 1)

	require.NoError(t, env.Service.UnregisterLinked(ctx, ext))
	todos, err = env.Service.ListTodos(ctx, models.TodoFilter{Notebook: "ext"})
	require.NoError(t, err)
	assert.Empty(t, todos)

	assert.ErrorIs(t, env.Service.UnregisterLinked(ctx, ext), apperr.ErrNotFound)

	_, err = env.Service.RegisterLinked(ctx, models.LinkedPath{Path: ext + "/missing"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRebuildMatchesIndex(t *testing.T) {
	ctx := context.Background()
	env := setup(t)
	before, err := env.Service.ListTodos(ctx, models.TodoFilter{IncludeExcluded: true})
	require.NoError(t, err)

	rep, err := env.Service.Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Added)

	after, err := env.Service.ListTodos(ctx, models.TodoFilter{IncludeExcluded: true})
	require.NoError(t, err)
	assert.Equal(t, before, after)
}
