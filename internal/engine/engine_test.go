package engine_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"specline/internal/app"
	"specline/internal/config"
	"specline/internal/db"
	"specline/internal/domain"
	"specline/internal/engine"
	"specline/internal/events"
	"specline/internal/lifecycle"
	"specline/internal/migrate"
	"specline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

var fixedNow = time.Date(2026, 1, 25, 10, 0, 0, 0, time.UTC)

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	return newTestEnvWithConfig(t, config.Default("proj"))
}

func newTestEnvWithConfig(t *testing.T, cfg *config.Config) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	appCtx, err := app.New(dir, cfg, dir)
	if err != nil {
		t.Fatalf("app context: %v", err)
	}
	appCtx.Now = func() time.Time { return fixedNow }
	return testEnv{Engine: engine.New(appCtx, conn, nil), Ctx: context.Background()}
}

func (env testEnv) create(t *testing.T, opts engine.SpecCreateOptions) *domain.Spec {
	t.Helper()
	if opts.Title == "" {
		opts.Title = "Do work"
	}
	spec, err := env.Engine.Create(env.Ctx, opts)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return spec
}

func (env testEnv) journal(t *testing.T, specID string) []domain.Event {
	t.Helper()
	evts, err := events.Reader{DB: env.Engine.DB}.List(env.Ctx, events.Query{SpecID: specID})
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	return evts
}

func TestCreateAssignsSequentialIDs(t *testing.T) {
	env := newTestEnv(t)
	first := env.create(t, engine.SpecCreateOptions{Title: "First"})
	second := env.create(t, engine.SpecCreateOptions{Title: "Second", DependsOn: []string{first.ID}})
	if first.ID[:14] != "2026-01-25-001" || second.ID[:14] != "2026-01-25-002" {
		t.Fatalf("unexpected ids %s %s", first.ID, second.ID)
	}
	loaded, err := env.Engine.Get(second.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Title() != "Second" || loaded.Status != domain.StatusPending || len(loaded.DependsOn) != 1 {
		t.Fatalf("unexpected spec %+v", loaded)
	}
	if evts := env.journal(t, first.ID); len(evts) != 1 || evts[0].Type != events.TypeSpecCreated {
		t.Fatalf("expected created event, got %+v", evts)
	}
	if _, err := env.Engine.Create(env.Ctx, engine.SpecCreateOptions{Title: "Bad", DependsOn: []string{":x"}}); err == nil {
		t.Fatalf("expected malformed dependency to be rejected")
	}
}

func TestCreateSkipsSequencesInSeparateArchive(t *testing.T) {
	cfg := config.Default("proj")
	cfg.Specs.ArchiveDir = "done-specs"
	env := newTestEnvWithConfig(t, cfg)
	first := env.create(t, engine.SpecCreateOptions{Title: "First"})
	if _, err := env.Engine.Cancel(env.Ctx, first.ID, "tester"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	paths, err := env.Engine.Archive(env.Ctx, first.ID, false, "tester")
	if err != nil || len(paths) != 1 {
		t.Fatalf("archive: %v %v", paths, err)
	}
	if rel, _ := filepath.Rel(env.Engine.App.SpecsDir, paths[0]); !strings.HasPrefix(rel, "..") {
		t.Fatalf("expected archive outside the specs dir, got %s", paths[0])
	}
	second := env.create(t, engine.SpecCreateOptions{Title: "Second"})
	if second.ID[:14] != "2026-01-25-002" {
		t.Fatalf("archived sequence reused: %s", second.ID)
	}
}

func TestStartWorkChecksReadiness(t *testing.T) {
	env := newTestEnv(t)
	dep := env.create(t, engine.SpecCreateOptions{Title: "Dep"})
	item := env.create(t, engine.SpecCreateOptions{Title: "Item", DependsOn: []string{dep.ID}})

	_, err := env.Engine.StartWork(env.Ctx, item.ID, engine.StartOptions{PID: 4242})
	if !errors.Is(err, engine.ErrNotReady) {
		t.Fatalf("expected not ready, got %v", err)
	}
	var nre *engine.NotReadyError
	if !errors.As(err, &nre) || len(nre.Blockers) != 1 || nre.Blockers[0].ID != dep.ID {
		t.Fatalf("unexpected blockers %+v", nre)
	}

	if _, err := env.Engine.StartWork(env.Ctx, dep.ID, engine.StartOptions{PID: os.Getpid()}); err != nil {
		t.Fatalf("start dep: %v", err)
	}
	if _, err := env.Engine.StartWork(env.Ctx, dep.ID, engine.StartOptions{}); !errors.Is(err, lifecycle.ErrIllegalTransition) {
		t.Fatalf("second start must be rejected, got %v", err)
	}
	pid, err := env.Engine.Locks.ReadPID(dep.ID)
	if err != nil || pid != os.Getpid() {
		t.Fatalf("pid file: %d %v", pid, err)
	}
	done, err := env.Engine.Complete(env.Ctx, dep.ID, engine.CompleteOptions{Commits: []string{"abc"}, Branch: "spec/dep", Model: "m1"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.CompletedAt != "2026-01-25T10:00:00Z" || done.Branch != "spec/dep" || len(done.Commits) != 1 {
		t.Fatalf("unexpected provenance %+v", done)
	}
	if _, err := env.Engine.Locks.ReadPID(dep.ID); !os.IsNotExist(err) {
		t.Fatalf("pid file should be removed, got %v", err)
	}

	ready, err := env.Engine.Ready()
	if err != nil || len(ready) != 1 || ready[0].ID != item.ID {
		t.Fatalf("unexpected ready set %v %v", ready, err)
	}
	if _, err := env.Engine.StartWork(env.Ctx, item.ID, engine.StartOptions{}); err != nil {
		t.Fatalf("start item: %v", err)
	}
}

func TestForceTransition(t *testing.T) {
	env := newTestEnv(t)
	spec := env.create(t, engine.SpecCreateOptions{})
	if _, err := env.Engine.ForceTransition(env.Ctx, spec.ID, domain.StatusCompleted, "admin", "imported"); err != nil {
		t.Fatalf("force complete: %v", err)
	}
	if _, err := env.Engine.Transition(env.Ctx, spec.ID, domain.StatusPending, "user"); !errors.Is(err, lifecycle.ErrIllegalTransition) {
		t.Fatalf("expected illegal transition, got %v", err)
	}
	reopened, err := env.Engine.ForceTransition(env.Ctx, spec.ID, domain.StatusPending, "admin", "reopen")
	if err != nil {
		t.Fatalf("force reopen: %v", err)
	}
	if reopened.CompletedAt != "" {
		t.Fatalf("reopening should clear completed_at")
	}
	evts := env.journal(t, spec.ID)
	if len(evts) != 3 || evts[1].Type != events.TypeSpecForced || evts[2].Type != events.TypeSpecForced {
		t.Fatalf("unexpected journal %+v", evts)
	}
}

func TestGroupCascade(t *testing.T) {
	env := newTestEnv(t)
	driver := env.create(t, engine.SpecCreateOptions{Title: "Driver"})
	m1 := env.create(t, engine.SpecCreateOptions{Title: "Part one", DriverID: driver.ID})
	m2 := env.create(t, engine.SpecCreateOptions{Title: "Part two", DriverID: driver.ID})
	if m1.ID != driver.ID+".1" || m2.ID != driver.ID+".2" {
		t.Fatalf("unexpected member ids %s %s", m1.ID, m2.ID)
	}

	if _, err := env.Engine.StartWork(env.Ctx, m2.ID, engine.StartOptions{}); !errors.Is(err, engine.ErrNotReady) {
		t.Fatalf("second member must wait for the first, got %v", err)
	}
	if _, err := env.Engine.StartWork(env.Ctx, m1.ID, engine.StartOptions{}); err != nil {
		t.Fatalf("start m1: %v", err)
	}
	d, _ := env.Engine.Get(driver.ID)
	if d.Status != domain.StatusInProgress {
		t.Fatalf("driver should follow first member, got %s", d.Status)
	}
	if _, err := env.Engine.Complete(env.Ctx, m1.ID, engine.CompleteOptions{}); err != nil {
		t.Fatalf("complete m1: %v", err)
	}
	d, _ = env.Engine.Get(driver.ID)
	if d.Status != domain.StatusInProgress {
		t.Fatalf("driver must not complete with a member outstanding, got %s", d.Status)
	}
	if _, err := env.Engine.StartWork(env.Ctx, m2.ID, engine.StartOptions{}); err != nil {
		t.Fatalf("start m2: %v", err)
	}
	if _, err := env.Engine.Complete(env.Ctx, m2.ID, engine.CompleteOptions{}); err != nil {
		t.Fatalf("complete m2: %v", err)
	}
	d, _ = env.Engine.Get(driver.ID)
	if d.Status != domain.StatusCompleted || d.Model != "auto-completed" || d.CompletedAt == "" {
		t.Fatalf("driver should auto-complete, got %+v", d)
	}
	cascades, err := events.Reader{DB: env.Engine.DB}.List(env.Ctx, events.Query{Type: events.TypeDriverCascaded})
	if err != nil || len(cascades) != 2 {
		t.Fatalf("expected two cascade events, got %d %v", len(cascades), err)
	}

	paths, err := env.Engine.Archive(env.Ctx, driver.ID, false, "tester")
	if err != nil || len(paths) != 3 {
		t.Fatalf("archive group: %v %v", paths, err)
	}
	if !env.Engine.Repo.IsArchived(m2.ID) {
		t.Fatalf("members should be archived with their driver")
	}
}

func TestMemberFailureFailsDriver(t *testing.T) {
	env := newTestEnv(t)
	driver := env.create(t, engine.SpecCreateOptions{Title: "Driver"})
	m1 := env.create(t, engine.SpecCreateOptions{DriverID: driver.ID})
	if _, err := env.Engine.StartWork(env.Ctx, m1.ID, engine.StartOptions{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := env.Engine.Fail(env.Ctx, m1.ID, "tests failed", "tester"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	d, _ := env.Engine.Get(driver.ID)
	if d.Status != domain.StatusFailed {
		t.Fatalf("driver should fail with its member, got %s", d.Status)
	}
	reset, err := env.Engine.Reset(env.Ctx, m1.ID, "tester")
	if err != nil || reset.Status != domain.StatusPending {
		t.Fatalf("reset: %v %+v", err, reset)
	}
}

func TestArchiveRefusesOpenSpecs(t *testing.T) {
	env := newTestEnv(t)
	spec := env.create(t, engine.SpecCreateOptions{})
	if _, err := env.Engine.Archive(env.Ctx, spec.ID, false, "tester"); !errors.Is(err, repo.ErrNotTerminal) {
		t.Fatalf("expected not terminal, got %v", err)
	}
	if _, err := env.Engine.Cancel(env.Ctx, spec.ID, "tester"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := env.Engine.Archive(env.Ctx, spec.ID, false, "tester"); err != nil {
		t.Fatalf("archive: %v", err)
	}
	loaded, err := env.Engine.Get(spec.ID)
	if err != nil || loaded.Status != domain.StatusCancelled {
		t.Fatalf("archived spec keeps its status: %v %+v", err, loaded)
	}
}

func TestCleanupStale(t *testing.T) {
	env := newTestEnv(t)
	spec := env.create(t, engine.SpecCreateOptions{})
	if _, err := env.Engine.StartWork(env.Ctx, spec.ID, engine.StartOptions{PID: -1}); err != nil {
		t.Fatalf("start: %v", err)
	}
	cleaned, err := env.Engine.CleanupStale(env.Ctx, "janitor")
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if len(cleaned) != 1 || cleaned[0] != spec.ID {
		t.Fatalf("unexpected cleaned set %v", cleaned)
	}
	loaded, _ := env.Engine.Get(spec.ID)
	if loaded.Status != domain.StatusFailed {
		t.Fatalf("stale spec should be failed, got %s", loaded.Status)
	}
	if _, err := os.Stat(env.Engine.Locks.PIDPath(spec.ID)); !os.IsNotExist(err) {
		t.Fatalf("pid file should be gone, got %v", err)
	}
}

func TestOrderAndCycles(t *testing.T) {
	env := newTestEnv(t)
	a := env.create(t, engine.SpecCreateOptions{Title: "A"})
	b := env.create(t, engine.SpecCreateOptions{Title: "B", DependsOn: []string{a.ID}})
	order, err := env.Engine.Order()
	if err != nil || len(order) != 2 || order[0] != a.ID || order[1] != b.ID {
		t.Fatalf("unexpected order %v %v", order, err)
	}
	loaded, _ := env.Engine.Get(a.ID)
	loaded.DependsOn = []string{b.ID}
	if err := env.Engine.Repo.Save(loaded); err != nil {
		t.Fatalf("save: %v", err)
	}
	cycles, err := env.Engine.Cycles()
	if err != nil || len(cycles) != 1 || len(cycles[0]) != 2 {
		t.Fatalf("expected one cycle, got %v %v", cycles, err)
	}
	if _, err := env.Engine.Order(); err == nil {
		t.Fatalf("expected order to fail on a cycle")
	}
}

func TestRunMergeDriverJournals(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()
	write := func(name, content string) string {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		return p
	}
	base := write("base", "---\nstatus: pending\n---\nbody\n")
	ours := write("ours", "---\nstatus: in_progress\n---\nbody\n")
	theirs := write("theirs", "---\nstatus: completed\n---\nbody\n")
	clean, err := env.Engine.RunMergeDriver(env.Ctx, base, ours, theirs, ".specline/specs/2026-01-25-001-abc.md")
	if err != nil || !clean {
		t.Fatalf("merge driver: %v %v", clean, err)
	}
	if evts := env.journal(t, "2026-01-25-001-abc"); len(evts) != 1 || evts[0].Type != events.TypeMergeReconciled {
		t.Fatalf("expected merge event, got %+v", evts)
	}
}
