package repo_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"specline/internal/domain"
	"specline/internal/repo"
)

func newRepo(t *testing.T) repo.Repo {
	t.Helper()
	return repo.New(filepath.Join(t.TempDir(), "specs"), "")
}

func TestCreateLoadSave(t *testing.T) {
	r := newRepo(t)
	spec := &domain.Spec{ID: "2026-01-25-001-abc", Status: domain.StatusPending, Body: "\n# Title\n"}
	if err := r.Create(spec); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := r.Create(spec); !errors.Is(err, repo.ErrAlreadyExists) {
		t.Fatalf("expected already exists, got %v", err)
	}
	got, err := r.Load(spec.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Status != domain.StatusPending || got.Title() != "Title" {
		t.Fatalf("unexpected spec %+v", got)
	}
	got.Status = domain.StatusInProgress
	got.Commits = []string{"abc123"}
	if err := r.Save(got); err != nil {
		t.Fatalf("save: %v", err)
	}
	again, err := r.Load(spec.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.Status != domain.StatusInProgress || len(again.Commits) != 1 {
		t.Fatalf("save not persisted: %+v", again)
	}
	entries, _ := os.ReadDir(r.SpecsDir)
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %d entries", len(entries))
	}
}

func TestLoadMissing(t *testing.T) {
	r := newRepo(t)
	if _, err := r.Load("2026-01-25-001-abc"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := r.Load("../escape"); err == nil {
		t.Fatalf("expected path-like id to be rejected")
	}
}

func TestListSorted(t *testing.T) {
	r := newRepo(t)
	for _, id := range []string{"2026-01-25-002-aaa", "2026-01-25-001-abc.10", "2026-01-25-001-abc", "2026-01-25-001-abc.2"} {
		if err := r.Create(&domain.Spec{ID: id, Status: domain.StatusPending}); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	specs, err := r.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"2026-01-25-001-abc", "2026-01-25-001-abc.2", "2026-01-25-001-abc.10", "2026-01-25-002-aaa"}
	if len(specs) != len(want) {
		t.Fatalf("expected %d specs, got %d", len(want), len(specs))
	}
	for i, s := range specs {
		if s.ID != want[i] {
			t.Fatalf("position %d: got %s want %s", i, s.ID, want[i])
		}
	}
}

func TestArchive(t *testing.T) {
	r := newRepo(t)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	done := &domain.Spec{ID: "2026-01-25-001-abc", Status: domain.StatusCompleted}
	open := &domain.Spec{ID: "2026-01-25-002-def", Status: domain.StatusPending}
	for _, s := range []*domain.Spec{done, open} {
		if err := r.Create(s); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	dest, err := r.Archive(done.ID, now, false)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if dest != filepath.Join(r.ArchiveDir, "2026-01-25", done.ID+".md") {
		t.Fatalf("unexpected destination %s", dest)
	}
	if !r.IsArchived(done.ID) || !r.Exists(done.ID) {
		t.Fatalf("expected archived spec to be found")
	}
	loaded, err := r.Load(done.ID)
	if err != nil || loaded.Status != domain.StatusCompleted {
		t.Fatalf("load from archive: %v %+v", err, loaded)
	}
	if _, err := r.Archive(done.ID, now, false); !errors.Is(err, repo.ErrAlreadyArchived) {
		t.Fatalf("expected already archived, got %v", err)
	}
	if _, err := r.Archive(open.ID, now, false); !errors.Is(err, repo.ErrNotTerminal) {
		t.Fatalf("expected not terminal, got %v", err)
	}
	if _, err := r.Archive(open.ID, now, true); err != nil {
		t.Fatalf("forced archive: %v", err)
	}

	active, err := r.List()
	if err != nil || len(active) != 0 {
		t.Fatalf("expected no active specs, got %d %v", len(active), err)
	}
	archived, err := r.ListArchived()
	if err != nil || len(archived) != 2 {
		t.Fatalf("expected two archived specs, got %d %v", len(archived), err)
	}
}

func TestCreateRefusesArchivedID(t *testing.T) {
	root := t.TempDir()
	r := repo.New(filepath.Join(root, "specs"), filepath.Join(root, "elsewhere"))
	spec := &domain.Spec{ID: "2026-01-25-001-abc", Status: domain.StatusCompleted}
	if err := r.Create(spec); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := r.Archive(spec.ID, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), false); err != nil {
		t.Fatalf("archive: %v", err)
	}
	again := &domain.Spec{ID: spec.ID, Status: domain.StatusPending}
	if err := r.Create(again); !errors.Is(err, repo.ErrAlreadyExists) {
		t.Fatalf("expected already exists for archived id, got %v", err)
	}
	if _, err := os.Stat(r.Path(spec.ID)); !os.IsNotExist(err) {
		t.Fatalf("no active file should be written, got %v", err)
	}
}

func TestArchiveUsesClockForLegacyIDs(t *testing.T) {
	r := newRepo(t)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if err := r.Create(&domain.Spec{ID: "legacy", Status: domain.StatusCancelled}); err != nil {
		t.Fatalf("create: %v", err)
	}
	dest, err := r.Archive("legacy", now, false)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if filepath.Base(filepath.Dir(dest)) != "2026-03-01" {
		t.Fatalf("unexpected bucket %s", dest)
	}
}
