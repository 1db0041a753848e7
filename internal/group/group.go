// Package group keeps a driver spec's status in line with its members.
//
// A member is any spec whose id is driver.N or driver.N.M. Members run in
// numeric order unless they declare their own depends_on, a driver moves to
// in_progress when its first member starts, completes once every member is
// completed or cancelled, and fails when a member fails.
package group

import (
	"errors"
	"slices"
	"time"

	"specline/internal/domain"
	"specline/internal/lifecycle"
	"specline/internal/repo"
	"specline/internal/specid"
)

// AutoCompletedModel tags drivers completed by the cascade.
const AutoCompletedModel = "auto-completed"

// Members returns every spec under driverID at any depth, in id order.
func Members(driverID string, items []*domain.Spec) []*domain.Spec {
	var out []*domain.Spec
	for _, spec := range items {
		if specid.IsMemberOf(spec.ID, driverID) {
			out = append(out, spec)
		}
	}
	slices.SortStableFunc(out, func(a, b *domain.Spec) int { return specid.Compare(a.ID, b.ID) })
	return out
}

// PriorSiblings returns the members sharing id's parent and depth whose last
// number is lower. Non-members have no siblings.
func PriorSiblings(id string, items []*domain.Spec) []*domain.Spec {
	parsed, err := specid.Parse(id)
	if err != nil || !parsed.IsMember() {
		return nil
	}
	depth := len(parsed.Members)
	last := parsed.Members[depth-1]
	parent := parsed
	parent.Members = parsed.Members[:depth-1]
	parentID := parent.String()

	var out []*domain.Spec
	for _, spec := range items {
		if !specid.IsMemberOf(spec.ID, parentID) {
			continue
		}
		other, err := specid.Parse(spec.ID)
		if err != nil || len(other.Members) != depth {
			continue
		}
		if other.Members[depth-1] < last {
			out = append(out, spec)
		}
	}
	slices.SortStableFunc(out, func(a, b *domain.Spec) int { return specid.Compare(a.ID, b.ID) })
	return out
}

// IsDone reports whether a member no longer holds up its driver.
func IsDone(s domain.Status) bool {
	return s == domain.StatusCompleted || s == domain.StatusCancelled
}

// AllMembersDone reports whether driverID has at least one member and every
// member is completed or cancelled.
func AllMembersDone(driverID string, items []*domain.Spec) bool {
	members := Members(driverID, items)
	if len(members) == 0 {
		return false
	}
	for _, m := range members {
		if !IsDone(m.Status) {
			return false
		}
	}
	return true
}

// Store is the persistence the propagator needs.
type Store interface {
	Load(id string) (*domain.Spec, error)
	Save(spec *domain.Spec) error
}

// Change records a cascade applied to a driver.
type Change struct {
	DriverID string
	From     domain.Status
	To       domain.Status
}

// Propagator applies driver cascades. Each method is a no-op, returning a
// nil Change, when the driver is absent or already past the state it would
// move to.
type Propagator struct {
	Store Store
	Now   func() time.Time
}

func (p Propagator) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p Propagator) loadDriver(driverID string) (*domain.Spec, error) {
	driver, err := p.Store.Load(driverID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	return driver, err
}

func (p Propagator) force(driver *domain.Spec, to domain.Status) (*Change, error) {
	from := driver.Status
	if err := lifecycle.ForceTransition(driver, to); err != nil {
		return nil, err
	}
	if err := p.Store.Save(driver); err != nil {
		return nil, err
	}
	return &Change{DriverID: driver.ID, From: from, To: to}, nil
}

// MarkDriverInProgress moves a pending driver to in_progress.
func (p Propagator) MarkDriverInProgress(driverID string) (*Change, error) {
	driver, err := p.loadDriver(driverID)
	if err != nil || driver == nil {
		return nil, err
	}
	if driver.Status != domain.StatusPending {
		return nil, nil
	}
	return p.force(driver, domain.StatusInProgress)
}

// AutoCompleteDriverIfReady completes memberID's driver once every member in
// items is done. items must reflect the member's own new status.
func (p Propagator) AutoCompleteDriverIfReady(memberID string, items []*domain.Spec) (*Change, error) {
	driverID, isMember := specid.DriverOf(memberID)
	if !isMember {
		return nil, nil
	}
	driver, err := p.loadDriver(driverID)
	if err != nil || driver == nil {
		return nil, err
	}
	if driver.Status != domain.StatusInProgress && driver.Status != domain.StatusPending {
		return nil, nil
	}
	if !AllMembersDone(driverID, items) {
		return nil, nil
	}
	driver.CompletedAt = p.now().UTC().Format(time.RFC3339)
	driver.Model = AutoCompletedModel
	return p.force(driver, domain.StatusCompleted)
}

// MarkDriverFailedOnMemberFailure fails memberID's driver unless it is
// already terminal.
func (p Propagator) MarkDriverFailedOnMemberFailure(memberID string) (*Change, error) {
	driverID, isMember := specid.DriverOf(memberID)
	if !isMember {
		return nil, nil
	}
	driver, err := p.loadDriver(driverID)
	if err != nil || driver == nil {
		return nil, err
	}
	if driver.Status.IsTerminal() {
		return nil, nil
	}
	return p.force(driver, domain.StatusFailed)
}
