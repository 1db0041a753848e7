package merge

import (
	"specline/internal/domain"
)

// MergeMetadata reconciles the front matter of two sides against their
// common ancestor. ours wins every tie. The body is left as ours; see
// MergeBody.
func MergeMetadata(base, ours, theirs *domain.Spec) *domain.Spec {
	if base == nil {
		base = &domain.Spec{}
	}
	out := ours.Clone()
	if theirs.Status.MergeRank() > ours.Status.MergeRank() {
		out.Status = theirs.Status
	}

	out.Type = fillIfAbsent(ours.Type, theirs.Type)
	out.CompletedAt = fillIfAbsent(ours.CompletedAt, theirs.CompletedAt)
	out.Model = fillIfAbsent(ours.Model, theirs.Model)
	out.Branch = fillIfAbsent(ours.Branch, theirs.Branch)
	out.LastVerified = fillIfAbsent(ours.LastVerified, theirs.LastVerified)
	out.VerificationStatus = fillIfAbsent(ours.VerificationStatus, theirs.VerificationStatus)
	if len(out.VerificationFailures) == 0 {
		out.VerificationFailures = append([]string(nil), theirs.VerificationFailures...)
	}
	out.ReplayedAt = fillIfAbsent(ours.ReplayedAt, theirs.ReplayedAt)
	if out.ReplayCount == 0 {
		out.ReplayCount = theirs.ReplayCount
	}
	out.OriginalCompletedAt = fillIfAbsent(ours.OriginalCompletedAt, theirs.OriginalCompletedAt)

	out.Commits = union(ours.Commits, theirs.Commits)
	out.Labels = union(ours.Labels, theirs.Labels)
	out.TargetFiles = union(ours.TargetFiles, theirs.TargetFiles)
	out.Context = union(ours.Context, theirs.Context)
	out.DependsOn = mergeDependencies(base.DependsOn, ours.DependsOn, theirs.DependsOn)

	seen := make(map[string]bool, len(out.Extra))
	for _, e := range out.Extra {
		seen[e.Key] = true
	}
	for _, e := range theirs.Extra {
		if !seen[e.Key] {
			seen[e.Key] = true
			out.Extra = append(out.Extra, e)
		}
	}
	return out
}

func fillIfAbsent(ours, theirs string) string {
	if ours != "" {
		return ours
	}
	return theirs
}

// union keeps first occurrences, ours before theirs.
func union(ours, theirs []string) []string {
	if len(ours) == 0 && len(theirs) == 0 {
		return nil
	}
	out := make([]string, 0, len(ours)+len(theirs))
	seen := make(map[string]bool, len(ours)+len(theirs))
	for _, list := range [][]string{ours, theirs} {
		for _, v := range list {
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	return out
}

// mergeDependencies applies set semantics against base: an entry removed on
// either side stays removed, an entry added on either side is kept. Order
// follows ours, then theirs.
func mergeDependencies(base, ours, theirs []string) []string {
	inBase := toSet(base)
	inOurs := toSet(ours)
	inTheirs := toSet(theirs)
	keep := func(id string) bool {
		if inBase[id] {
			return inOurs[id] && inTheirs[id]
		}
		return inOurs[id] || inTheirs[id]
	}
	var out []string
	seen := map[string]bool{}
	for _, list := range [][]string{ours, theirs} {
		for _, id := range list {
			if seen[id] || !keep(id) {
				continue
			}
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func toSet(list []string) map[string]bool {
	set := make(map[string]bool, len(list))
	for _, v := range list {
		set[v] = true
	}
	return set
}
