package graph_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"specline/internal/config"
	"specline/internal/domain"
	"specline/internal/graph"
	"specline/internal/repo"
)

func spec(id string, status domain.Status, deps ...string) *domain.Spec {
	return &domain.Spec{ID: id, Status: status, DependsOn: deps}
}

func TestDetectCyclesDAG(t *testing.T) {
	items := []*domain.Spec{
		spec("a", domain.StatusPending, "b", "c"),
		spec("b", domain.StatusPending, "c"),
		spec("c", domain.StatusPending, "external-2026-01-01-001-aaa"),
	}
	assert.Empty(t, graph.DetectCycles(items))
}

func TestDetectCyclesSelfLoop(t *testing.T) {
	cycles := graph.DetectCycles([]*domain.Spec{spec("A", domain.StatusPending, "A")})
	assert.Equal(t, [][]string{{"A"}}, cycles)
}

func TestDetectCyclesReportsDisjointCycles(t *testing.T) {
	items := []*domain.Spec{
		spec("a", domain.StatusPending, "b"),
		spec("b", domain.StatusPending, "a"),
		spec("c", domain.StatusPending, "d"),
		spec("d", domain.StatusPending, "e"),
		spec("e", domain.StatusPending, "c"),
		spec("f", domain.StatusPending, "a"),
	}
	cycles := graph.DetectCycles(items)
	assert.Equal(t, [][]string{{"a", "b"}, {"c", "d", "e"}}, cycles)
}

func TestDetectCyclesDeepChain(t *testing.T) {
	var items []*domain.Spec
	const n = 50000
	for i := 0; i < n; i++ {
		var deps []string
		if i+1 < n {
			deps = []string{idx(i + 1)}
		}
		items = append(items, spec(idx(i), domain.StatusPending, deps...))
	}
	assert.Empty(t, graph.DetectCycles(items))
	order, err := graph.TopoSort(items)
	require.NoError(t, err)
	assert.Equal(t, idx(n-1), order[0])
	assert.Equal(t, idx(0), order[n-1])
}

func idx(i int) string {
	return "n" + string(rune('a'+i%26)) + "-" + itoa(i)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var b []byte
	for i > 0 {
		b = append([]byte{byte('0' + i%10)}, b...)
		i /= 10
	}
	return string(b)
}

func TestTopoSortOrdersDependenciesFirst(t *testing.T) {
	items := []*domain.Spec{
		spec("app", domain.StatusPending, "lib", "cfg"),
		spec("lib", domain.StatusPending, "cfg", "cfg"),
		spec("docs", domain.StatusPending),
		spec("cfg", domain.StatusPending, "other:2026-01-01-001-aaa"),
	}
	order, err := graph.TopoSort(items)
	require.NoError(t, err)
	assert.Equal(t, []string{"docs", "cfg", "lib", "app"}, order)

	pos := map[string]int{}
	for i, id := range order {
		pos[id] = i
	}
	for _, s := range items {
		for _, dep := range s.DependsOn {
			if _, ok := pos[dep]; ok {
				assert.Less(t, pos[dep], pos[s.ID], "%s must precede %s", dep, s.ID)
			}
		}
	}
}

func TestTopoSortFailsOnCycle(t *testing.T) {
	items := []*domain.Spec{
		spec("a", domain.StatusPending, "b"),
		spec("b", domain.StatusPending, "a"),
		spec("c", domain.StatusPending),
	}
	order, err := graph.TopoSort(items)
	assert.Nil(t, order)
	require.ErrorIs(t, err, graph.ErrCycleDetected)
	var ce *graph.CycleError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, []string{"a", "b"}, ce.Cycle)
	assert.Contains(t, err.Error(), "a -> b -> a")
}

func TestIsReadyDependencies(t *testing.T) {
	dep := spec("2026-01-24-001-aaa", domain.StatusInProgress)
	item := spec("2026-01-25-001-bbb", domain.StatusPending, dep.ID)
	snap := graph.NewSnapshot([]*domain.Spec{dep, item}, nil)

	assert.False(t, graph.IsReady(item, snap))
	blockers := graph.Blockers(item, snap)
	require.Len(t, blockers, 1)
	assert.Equal(t, graph.BlockerIncomplete, blockers[0].Kind)
	assert.Equal(t, domain.StatusInProgress, blockers[0].Status)
	assert.Equal(t, domain.StatusBlocked, graph.DisplayStatus(item, snap))

	dep.Status = domain.StatusCompleted
	assert.True(t, graph.IsReady(item, snap))
	assert.Equal(t, domain.StatusReady, graph.DisplayStatus(item, snap))

	item.Status = domain.StatusFailed
	assert.True(t, graph.IsReady(item, snap), "failed specs may be retried")
	item.Status = domain.StatusInProgress
	assert.False(t, graph.IsReady(item, snap))
	assert.Equal(t, domain.StatusInProgress, graph.DisplayStatus(item, snap))
}

func TestIsReadyTransitive(t *testing.T) {
	root := spec("c", domain.StatusPending)
	mid := spec("b", domain.StatusPending, "c")
	top := spec("a", domain.StatusPending, "b")
	snap := graph.NewSnapshot([]*domain.Spec{top, mid, root}, nil)
	assert.False(t, graph.IsReady(top, snap))
	assert.True(t, graph.IsReady(root, snap))
	root.Status = domain.StatusCompleted
	assert.False(t, graph.IsReady(top, snap))
	mid.Status = domain.StatusCompleted
	assert.True(t, graph.IsReady(top, snap))
}

func TestMissingDependencyBlocks(t *testing.T) {
	item := spec("a", domain.StatusPending, "ghost")
	snap := graph.NewSnapshot([]*domain.Spec{item}, nil)
	blockers := graph.Blockers(item, snap)
	require.Len(t, blockers, 1)
	assert.Equal(t, graph.BlockerMissing, blockers[0].Kind)
	assert.False(t, graph.IsReady(item, snap))
}

// Archived specs satisfy dependents whatever status they were archived with,
// so manually closed-out work never strands the specs that depend on it.
func TestArchivedDependencySatisfiedRegardlessOfStatus(t *testing.T) {
	archived := spec("old", domain.StatusFailed)
	item := spec("new", domain.StatusPending, "old")
	snap := graph.NewSnapshot([]*domain.Spec{item}, []*domain.Spec{archived})
	assert.True(t, graph.IsReady(item, snap))
}

func TestSiblingGating(t *testing.T) {
	const d = "2026-01-25-001-abc"
	first := spec(d+".1", domain.StatusInProgress)
	second := spec(d+".2", domain.StatusPending)
	third := spec(d+".3", domain.StatusPending)
	snap := graph.NewSnapshot([]*domain.Spec{spec(d, domain.StatusInProgress), first, second, third}, nil)

	assert.False(t, graph.IsReady(second, snap))
	blockers := graph.Blockers(third, snap)
	require.Len(t, blockers, 2)
	assert.Equal(t, graph.BlockerPriorSibling, blockers[0].Kind)
	assert.Equal(t, first.ID, blockers[0].ID)

	first.Status = domain.StatusCompleted
	assert.True(t, graph.IsReady(second, snap))
	second.Status = domain.StatusCancelled
	assert.True(t, graph.IsReady(third, snap))
}

// Declaring any depends_on, even on an unrelated spec, opts a member out of
// waiting for its earlier siblings.
func TestExplicitDependencySkipsSiblingGating(t *testing.T) {
	const d = "2026-01-25-001-abc"
	unrelated := spec("2026-01-20-001-zzz", domain.StatusCompleted)
	first := spec(d+".1", domain.StatusPending)
	second := spec(d+".2", domain.StatusPending, unrelated.ID)
	snap := graph.NewSnapshot([]*domain.Spec{unrelated, first, second}, nil)
	assert.True(t, graph.IsReady(second, snap))
}

func TestArchivedSiblingDoesNotBlock(t *testing.T) {
	const d = "2026-01-25-001-abc"
	second := spec(d+".2", domain.StatusPending)
	snap := graph.NewSnapshot([]*domain.Spec{second}, []*domain.Spec{spec(d+".1", domain.StatusFailed)})
	assert.True(t, graph.IsReady(second, snap))
}

func writeSpec(t *testing.T, dir, id string, status domain.Status) {
	t.Helper()
	r := repo.New(dir, "")
	require.NoError(t, r.Create(&domain.Spec{ID: id, Status: status}))
}

func TestResolverCrossRepo(t *testing.T) {
	home := t.TempDir()
	backend := filepath.Join(home, "src", "backend")
	backendSpecs := filepath.Join(backend, config.DefaultSpecsDir)
	writeSpec(t, backendSpecs, "2026-01-20-001-aaa", domain.StatusCompleted)
	require.NoError(t, os.MkdirAll(filepath.Join(home, "src", "empty"), 0o755))

	localDir := filepath.Join(t.TempDir(), "specs")
	writeSpec(t, localDir, "2026-01-25-001-bbb", domain.StatusPending)

	res := graph.Resolver{
		Local: repo.New(localDir, ""),
		Repos: []config.RepoConfig{
			{Name: "backend", Path: "~/src/backend"},
			{Name: "empty", Path: "~/src/empty"},
			{Name: "gone", Path: "~/src/gone"},
		},
		HomeDir: home,
	}

	got, err := res.Resolve("backend:2026-01-20-001-aaa")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Spec.Status)
	assert.Equal(t, "2026-01-20-001-aaa", got.Spec.ID)

	_, err = res.Resolve("frontend:2026-01-20-001-aaa")
	assert.ErrorIs(t, err, graph.ErrRepoNotFound)

	_, err = res.Resolve("gone:2026-01-20-001-aaa")
	assert.ErrorIs(t, err, graph.ErrRepoPathMissing)
	var re *graph.ResolveError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, filepath.Join(home, "src", "gone"), re.Path)

	_, err = res.Resolve("empty:2026-01-20-001-aaa")
	assert.ErrorIs(t, err, graph.ErrRepoPathMissing)

	_, err = res.Resolve("backend:2026-01-20-009-zzz")
	assert.ErrorIs(t, err, graph.ErrSpecNotFoundInRepo)

	_, err = res.Resolve("2026-01-30-001-zzz")
	assert.ErrorIs(t, err, repo.ErrNotFound)

	_, err = res.Resolve(":bad")
	assert.Error(t, err)
}

func TestResolverSnapshotAndFind(t *testing.T) {
	home := t.TempDir()
	backendSpecs := filepath.Join(home, "backend", config.DefaultSpecsDir)
	writeSpec(t, backendSpecs, "2026-01-20-001-aaa", domain.StatusCompleted)

	localDir := filepath.Join(t.TempDir(), "specs")
	local := repo.New(localDir, "")
	item := &domain.Spec{ID: "2026-01-25-001-bbb", Status: domain.StatusPending,
		DependsOn: []string{"backend:2026-01-20-001-aaa", "missing:2026-01-20-001-aaa"}}
	require.NoError(t, local.Create(item))

	res := graph.Resolver{
		Local:   local,
		Repos:   []config.RepoConfig{{Name: "backend", Path: filepath.Join(home, "backend")}},
		HomeDir: home,
	}
	snap, err := res.Snapshot()
	require.NoError(t, err)
	require.Len(t, snap.Active, 1)
	blockers := graph.Blockers(snap.Active[0], snap)
	require.Len(t, blockers, 1)
	assert.Equal(t, graph.BlockerUnresolved, blockers[0].Kind)
	assert.Equal(t, "missing:2026-01-20-001-aaa", blockers[0].ID)

	found, err := res.FindSpecByID("2026-01-25-001-bbb", snap.Active)
	require.NoError(t, err)
	assert.Same(t, snap.Active[0], found)

	found, err = res.FindSpecByID("backend:2026-01-20-001-aaa", snap.Active)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, found.Status)
}
