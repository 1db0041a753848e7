package graph

import (
	"fmt"

	"specline/internal/domain"
	"specline/internal/repo"
	"specline/internal/specid"
)

// Resolved is the outcome of looking up one dependency id.
type Resolved struct {
	Spec     *domain.Spec
	Archived bool
	Err      error
}

// Snapshot is the consistent view every readiness and ordering computation
// runs against. Nothing in this package re-reads the filesystem once a
// snapshot exists.
type Snapshot struct {
	Active   []*domain.Spec
	Archived []*domain.Spec
	// External holds pre-resolved cross-repo dependencies keyed by the
	// repo:id text used in depends_on.
	External map[string]Resolved

	active   map[string]*domain.Spec
	archived map[string]*domain.Spec
}

func NewSnapshot(active, archived []*domain.Spec) *Snapshot {
	s := &Snapshot{
		Active:   active,
		Archived: archived,
		External: map[string]Resolved{},
		active:   make(map[string]*domain.Spec, len(active)),
		archived: make(map[string]*domain.Spec, len(archived)),
	}
	for _, spec := range active {
		if _, dup := s.active[spec.ID]; !dup {
			s.active[spec.ID] = spec
		}
	}
	for _, spec := range archived {
		if _, dup := s.archived[spec.ID]; !dup {
			s.archived[spec.ID] = spec
		}
	}
	return s
}

// Get returns an active spec.
func (s *Snapshot) Get(id string) (*domain.Spec, bool) {
	spec, ok := s.active[id]
	return spec, ok
}

// All returns active specs followed by archived ones.
func (s *Snapshot) All() []*domain.Spec {
	out := make([]*domain.Spec, 0, len(s.Active)+len(s.Archived))
	out = append(out, s.Active...)
	return append(out, s.Archived...)
}

// Lookup resolves a dependency id against the snapshot. Local ids check the
// active set, then the archive; cross-repo ids use External.
func (s *Snapshot) Lookup(id string) Resolved {
	if spec, ok := s.active[id]; ok {
		return Resolved{Spec: spec}
	}
	if spec, ok := s.archived[id]; ok {
		return Resolved{Spec: spec, Archived: true}
	}
	parsed, err := specid.Parse(id)
	if err != nil {
		return Resolved{Err: err}
	}
	if parsed.IsCrossRepo() {
		if res, ok := s.External[id]; ok {
			return res
		}
		return Resolved{Err: &ResolveError{Kind: ErrRepoNotFound, Repo: parsed.Repo, ID: parsed.Local().String()}}
	}
	return Resolved{Err: fmt.Errorf("spec %s: %w", id, repo.ErrNotFound)}
}
