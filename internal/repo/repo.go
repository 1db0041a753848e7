// Package repo stores specs as {id}.md files under a specs directory with a
// date-bucketed archive beneath it.
package repo

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"specline/internal/domain"
	"specline/internal/specfile"
	"specline/internal/specid"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrAlreadyExists        = errors.New("already exists")
	ErrAlreadyArchived      = errors.New("already archived")
	ErrNotTerminal          = errors.New("spec is not in a terminal status")
	ErrPersistenceInvariant = errors.New("persistence invariant violated")
)

const fileExt = ".md"

type Repo struct {
	SpecsDir   string
	ArchiveDir string
}

// New returns a Repo with the archive at specsDir/archive unless archiveDir is set.
func New(specsDir, archiveDir string) Repo {
	if archiveDir == "" {
		archiveDir = filepath.Join(specsDir, "archive")
	}
	return Repo{SpecsDir: specsDir, ArchiveDir: archiveDir}
}

func (r Repo) archiveDir() string {
	if r.ArchiveDir == "" {
		return filepath.Join(r.SpecsDir, "archive")
	}
	return r.ArchiveDir
}

// Path is where an active spec with this id lives.
func (r Repo) Path(id string) string {
	return filepath.Join(r.SpecsDir, id+fileExt)
}

// Exists reports whether id is present, active or archived.
func (r Repo) Exists(id string) bool {
	_, err := r.locate(id)
	return err == nil
}

// IsArchived reports whether id is only present in the archive.
func (r Repo) IsArchived(id string) bool {
	path, err := r.locate(id)
	return err == nil && path != r.Path(id)
}

func (r Repo) locate(id string) (string, error) {
	if err := checkID(id); err != nil {
		return "", err
	}
	active := r.Path(id)
	if _, err := os.Stat(active); err == nil {
		return active, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", err
	}
	return r.findArchived(id)
}

func (r Repo) findArchived(id string) (string, error) {
	dir := r.archiveDir()
	flat := filepath.Join(dir, id+fileExt)
	if _, err := os.Stat(flat); err == nil {
		return flat, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("spec %s: %w", id, ErrNotFound)
		}
		return "", err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		candidate := filepath.Join(dir, e.Name(), id+fileExt)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("spec %s: %w", id, ErrNotFound)
}

func checkID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return fmt.Errorf("spec %q: %w", id, specid.ErrMalformedIdentifier)
	}
	return nil
}

// Load reads a spec by id, falling back to the archive.
func (r Repo) Load(id string) (*domain.Spec, error) {
	path, err := r.locate(id)
	if err != nil {
		return nil, err
	}
	return LoadFile(path, id)
}

// LoadFile parses the record stored at path.
func LoadFile(path, id string) (*domain.Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("spec %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return specfile.Parse(id, string(data))
}

// Create writes a new spec, failing with ErrAlreadyExists if the id is
// already taken, active or archived.
func (r Repo) Create(spec *domain.Spec) error {
	if err := checkID(spec.ID); err != nil {
		return err
	}
	if _, err := r.findArchived(spec.ID); err == nil {
		return fmt.Errorf("spec %s is archived: %w", spec.ID, ErrAlreadyExists)
	}
	data, err := specfile.Marshal(spec)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(r.SpecsDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(r.Path(spec.ID), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("spec %s: %w", spec.ID, ErrAlreadyExists)
		}
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Save replaces the record file atomically wherever it currently lives and
// reloads it to confirm the write.
func (r Repo) Save(spec *domain.Spec) error {
	path, err := r.locate(spec.ID)
	if errors.Is(err, ErrNotFound) {
		path = r.Path(spec.ID)
	} else if err != nil {
		return err
	}
	data, err := specfile.Marshal(spec)
	if err != nil {
		return err
	}
	if err := writeAtomic(path, data); err != nil {
		return fmt.Errorf("save %s: %w", spec.ID, err)
	}
	reloaded, err := LoadFile(path, spec.ID)
	if err != nil {
		return fmt.Errorf("%w: %s: reload: %v", ErrPersistenceInvariant, spec.ID, err)
	}
	again, err := specfile.Marshal(reloaded)
	if err != nil || string(again) != string(data) {
		return fmt.Errorf("%w: %s: reloaded content differs from written content", ErrPersistenceInvariant, spec.ID)
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// List returns active specs sorted by id.
func (r Repo) List() ([]*domain.Spec, error) {
	entries, err := os.ReadDir(r.SpecsDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []*domain.Spec
	for _, e := range entries {
		if e.IsDir() || !isSpecFile(e.Name()) {
			continue
		}
		id := strings.TrimSuffix(e.Name(), fileExt)
		spec, err := LoadFile(filepath.Join(r.SpecsDir, e.Name()), id)
		if err != nil {
			return nil, err
		}
		out = append(out, spec)
	}
	sortSpecs(out)
	return out, nil
}

// ListArchived returns every archived spec sorted by id.
func (r Repo) ListArchived() ([]*domain.Spec, error) {
	var out []*domain.Spec
	err := filepath.WalkDir(r.archiveDir(), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || !isSpecFile(d.Name()) {
			return nil
		}
		spec, err := LoadFile(path, strings.TrimSuffix(d.Name(), fileExt))
		if err != nil {
			return err
		}
		out = append(out, spec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortSpecs(out)
	return out, nil
}

func isSpecFile(name string) bool {
	return strings.HasSuffix(name, fileExt) && !strings.HasPrefix(name, ".")
}

func sortSpecs(specs []*domain.Spec) {
	slices.SortStableFunc(specs, func(a, b *domain.Spec) int {
		return specid.Compare(a.ID, b.ID)
	})
}

// Archive moves an active spec to archive/YYYY-MM-DD/{id}.md, the date taken
// from the id when it carries one. Non-terminal specs need force.
func (r Repo) Archive(id string, now time.Time, force bool) (string, error) {
	spec, err := LoadFile(r.Path(id), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) && r.Exists(id) {
			return "", fmt.Errorf("spec %s: %w", id, ErrAlreadyArchived)
		}
		return "", err
	}
	if !spec.Status.IsTerminal() && !force {
		return "", fmt.Errorf("archive %s (%s): %w", id, spec.Status, ErrNotTerminal)
	}
	bucket := now.Format("2006-01-02")
	if parsed, err := specid.Parse(id); err == nil {
		if date, _, _, ok := parsed.Parts(); ok {
			bucket = date
		}
	}
	dest := filepath.Join(r.archiveDir(), bucket, id+fileExt)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", err
	}
	if _, err := os.Stat(dest); err == nil {
		return "", fmt.Errorf("spec %s: %w", id, ErrAlreadyArchived)
	}
	if err := os.Rename(r.Path(id), dest); err != nil {
		return "", fmt.Errorf("archive %s: %w", id, err)
	}
	return dest, nil
}
