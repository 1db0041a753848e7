package graph

import (
	"errors"
	"fmt"

	"specline/internal/domain"
	"specline/internal/group"
	"specline/internal/repo"
)

type BlockerKind string

const (
	BlockerMissing      BlockerKind = "missing"
	BlockerIncomplete   BlockerKind = "incomplete"
	BlockerUnresolved   BlockerKind = "unresolved"
	BlockerPriorSibling BlockerKind = "prior_sibling"
)

// Blocker is one unmet readiness condition.
type Blocker struct {
	Kind   BlockerKind   `json:"kind" enum:"missing,incomplete,unresolved,prior_sibling"`
	ID     string        `json:"id"`
	Status domain.Status `json:"status,omitempty"`
	Reason string        `json:"reason"`
}

// Satisfied reports whether a resolved dependency no longer blocks. Archived
// specs count as done whatever their stored status.
func (r Resolved) Satisfied() bool {
	if r.Err != nil || r.Spec == nil {
		return false
	}
	return r.Archived || r.Spec.Status == domain.StatusCompleted
}

// Blockers lists why spec cannot start, ignoring its own status.
func Blockers(spec *domain.Spec, snap *Snapshot) []Blocker {
	var out []Blocker
	for _, dep := range spec.DependsOn {
		res := snap.Lookup(dep)
		if res.Satisfied() {
			continue
		}
		switch {
		case res.Err != nil && errors.Is(res.Err, repo.ErrNotFound):
			out = append(out, Blocker{Kind: BlockerMissing, ID: dep, Reason: "dependency does not exist"})
		case res.Err != nil:
			out = append(out, Blocker{Kind: BlockerUnresolved, ID: dep, Reason: res.Err.Error()})
		default:
			out = append(out, Blocker{
				Kind:   BlockerIncomplete,
				ID:     dep,
				Status: res.Spec.Status,
				Reason: fmt.Sprintf("dependency is %s", res.Spec.Status),
			})
		}
	}
	// Any explicit dependency opts a member out of sibling ordering. Archived
	// siblings are not in the active set and so never block.
	if len(spec.DependsOn) > 0 {
		return out
	}
	for _, prior := range group.PriorSiblings(spec.ID, snap.Active) {
		if prior.Status == domain.StatusCompleted || prior.Status == domain.StatusCancelled {
			continue
		}
		out = append(out, Blocker{
			Kind:   BlockerPriorSibling,
			ID:     prior.ID,
			Status: prior.Status,
			Reason: fmt.Sprintf("earlier member is %s", prior.Status),
		})
	}
	return out
}

// IsReady reports whether spec may start: it is Pending (or Failed, for a
// retry) and nothing blocks it.
func IsReady(spec *domain.Spec, snap *Snapshot) bool {
	if spec.Status != domain.StatusPending && spec.Status != domain.StatusFailed {
		return false
	}
	return len(Blockers(spec, snap)) == 0
}

// DisplayStatus presents a Pending spec as Ready or Blocked without
// persisting either.
func DisplayStatus(spec *domain.Spec, snap *Snapshot) domain.Status {
	if spec.Status != domain.StatusPending {
		return spec.Status
	}
	if IsReady(spec, snap) {
		return domain.StatusReady
	}
	return domain.StatusBlocked
}

// Ready returns the active specs that can start now, in snapshot order.
func Ready(snap *Snapshot) []*domain.Spec {
	var out []*domain.Spec
	for _, spec := range snap.Active {
		if IsReady(spec, snap) {
			out = append(out, spec)
		}
	}
	return out
}
