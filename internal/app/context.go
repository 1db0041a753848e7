// Package app holds the explicit runtime context threaded into the core: the
// workspace paths, the cross-repo table, the home directory and the clock.
package app

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"specline/internal/config"
	"specline/internal/repo"
)

type Context struct {
	Workspace  string
	SpecsDir   string
	ArchiveDir string
	Prefix     string
	Repos      []config.RepoConfig
	HomeDir    string
	Config     *config.Config
	Now        func() time.Time
}

// New resolves config-relative paths against workspace. homeDir falls back
// to os.UserHomeDir when empty.
func New(workspace string, cfg *config.Config, homeDir string) (Context, error) {
	if cfg == nil {
		return Context{}, fmt.Errorf("config not loaded")
	}
	if workspace == "" {
		workspace = "."
	}
	if homeDir == "" {
		h, err := os.UserHomeDir()
		if err == nil {
			homeDir = h
		}
	}
	specsDir := resolvePath(workspace, cfg.Specs.Dir, homeDir)
	archiveDir := filepath.Join(specsDir, "archive")
	if cfg.Specs.ArchiveDir != "" {
		archiveDir = resolvePath(workspace, cfg.Specs.ArchiveDir, homeDir)
	}
	return Context{
		Workspace:  workspace,
		SpecsDir:   specsDir,
		ArchiveDir: archiveDir,
		Prefix:     cfg.Project.Prefix,
		Repos:      cfg.Repos,
		HomeDir:    homeDir,
		Config:     cfg,
		Now:        time.Now,
	}, nil
}

// Load reads specline.yml from workspace, using defaults when it is absent.
func Load(workspace string) (Context, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return Context{}, err
	}
	return New(workspace, cfg, "")
}

func resolvePath(workspace, path, home string) string {
	path = config.ExpandHome(path, home)
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(workspace, path)
}

func (c Context) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Today is the current date in UTC.
func (c Context) Today() time.Time {
	return c.now().UTC()
}

// Repo is the local specs store.
func (c Context) Repo() repo.Repo {
	return repo.New(c.SpecsDir, c.ArchiveDir)
}

// StateDir is the .specline directory holding the journal, locks and pids.
func (c Context) StateDir() string {
	return filepath.Join(c.Workspace, config.WorkspaceDir)
}
