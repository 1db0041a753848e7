package graph

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrCycleDetected      = errors.New("dependency cycle detected")
	ErrInternalInvariant  = errors.New("internal invariant violated")
	ErrRepoNotFound       = errors.New("repository not configured")
	ErrRepoPathMissing    = errors.New("repository path missing")
	ErrSpecNotFoundInRepo = errors.New("spec not found in repository")
)

// CycleError carries one offending cycle in dependency order.
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	if len(e.Cycle) == 0 {
		return ErrCycleDetected.Error()
	}
	path := append(append([]string{}, e.Cycle...), e.Cycle[0])
	return fmt.Sprintf("%s: %s", ErrCycleDetected.Error(), strings.Join(path, " -> "))
}

func (e *CycleError) Unwrap() error { return ErrCycleDetected }

// ResolveError describes a failed cross-repo lookup with enough context to
// fix the configuration.
type ResolveError struct {
	Kind error
	Repo string
	Path string
	ID   string
}

func (e *ResolveError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Repo != "" {
		fmt.Fprintf(&b, ": repo %s", e.Repo)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " (path %s)", e.Path)
	}
	if e.ID != "" {
		fmt.Fprintf(&b, ": id %s", e.ID)
	}
	return b.String()
}

func (e *ResolveError) Unwrap() error { return e.Kind }
