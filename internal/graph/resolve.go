package graph

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"specline/internal/config"
	"specline/internal/domain"
	"specline/internal/repo"
	"specline/internal/specid"
)

// Resolver looks dependency ids up locally or in configured repositories.
type Resolver struct {
	Local   repo.Repo
	Repos   []config.RepoConfig
	HomeDir string
}

// Resolve loads the record a dependency id names. Local ids fall back to the
// local archive; repo:id loads id from that repository's specs directory.
func (r Resolver) Resolve(dep string) (Resolved, error) {
	id, err := specid.Parse(dep)
	if err != nil {
		return Resolved{}, err
	}
	if !id.IsCrossRepo() {
		spec, err := r.Local.Load(dep)
		if err != nil {
			return Resolved{}, err
		}
		return Resolved{Spec: spec, Archived: r.Local.IsArchived(dep)}, nil
	}
	foreign, err := r.repoFor(id.Repo)
	if err != nil {
		return Resolved{}, err
	}
	local := id.Local().String()
	spec, err := foreign.Load(local)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return Resolved{}, &ResolveError{Kind: ErrSpecNotFoundInRepo, Repo: id.Repo, Path: foreign.SpecsDir, ID: local}
		}
		return Resolved{}, fmt.Errorf("repo %s: %w", id.Repo, err)
	}
	return Resolved{Spec: spec, Archived: foreign.IsArchived(local)}, nil
}

func (r Resolver) repoFor(name string) (repo.Repo, error) {
	var rc *config.RepoConfig
	for i := range r.Repos {
		if r.Repos[i].Name == name {
			rc = &r.Repos[i]
			break
		}
	}
	if rc == nil {
		return repo.Repo{}, &ResolveError{Kind: ErrRepoNotFound, Repo: name}
	}
	root := config.ExpandHome(rc.Path, r.HomeDir)
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return repo.Repo{}, &ResolveError{Kind: ErrRepoPathMissing, Repo: name, Path: root}
	}
	specsDir := filepath.Join(root, config.DefaultSpecsDir)
	archiveDir := ""
	if cfg, err := config.LoadOptional(root); err == nil && cfg != nil {
		specsDir = joinUnder(root, config.ExpandHome(cfg.Specs.Dir, r.HomeDir))
		if cfg.Specs.ArchiveDir != "" {
			archiveDir = joinUnder(root, config.ExpandHome(cfg.Specs.ArchiveDir, r.HomeDir))
		}
	}
	if info, err := os.Stat(specsDir); err != nil || !info.IsDir() {
		return repo.Repo{}, &ResolveError{Kind: ErrRepoPathMissing, Repo: name, Path: specsDir}
	}
	return repo.New(specsDir, archiveDir), nil
}

func joinUnder(root, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

// FindSpecByID checks the local set for an exact match before trying
// cross-repo resolution, since the two id spaces can overlap.
func (r Resolver) FindSpecByID(id string, local []*domain.Spec) (*domain.Spec, error) {
	for _, spec := range local {
		if spec.ID == id {
			return spec, nil
		}
	}
	res, err := r.Resolve(id)
	if err != nil {
		return nil, err
	}
	return res.Spec, nil
}

// Snapshot loads the local repository and pre-resolves every cross-repo
// dependency it mentions.
func (r Resolver) Snapshot() (*Snapshot, error) {
	active, err := r.Local.List()
	if err != nil {
		return nil, err
	}
	archived, err := r.Local.ListArchived()
	if err != nil {
		return nil, err
	}
	snap := NewSnapshot(active, archived)
	for _, spec := range snap.All() {
		for _, dep := range spec.DependsOn {
			if _, done := snap.External[dep]; done {
				continue
			}
			id, err := specid.Parse(dep)
			if err != nil || !id.IsCrossRepo() {
				continue
			}
			res, err := r.Resolve(dep)
			if err != nil {
				res = Resolved{Err: err}
			}
			snap.External[dep] = res
		}
	}
	return snap, nil
}
