package specid

import (
	"slices"
	"strings"
)

// Compare orders ids for display: a driver sorts immediately before its own
// members, members of one driver sort by numeric suffix, and otherwise ids
// sort by date, then numeric sequence, then suffix.
func Compare(a, b string) int {
	ia, errA := Parse(a)
	ib, errB := Parse(b)
	if errA != nil || errB != nil {
		return strings.Compare(a, b)
	}
	return ia.Compare(ib)
}

// Compare is the ID form of Compare.
func (id ID) Compare(other ID) int {
	if c := strings.Compare(id.Repo, other.Repo); c != 0 {
		return c
	}
	if id.Project == other.Project && id.Base == other.Base {
		return compareMembers(id.Members, other.Members)
	}
	dateA, seqA, sufA, okA := id.Parts()
	dateB, seqB, sufB, okB := other.Parts()
	if !okA || !okB {
		if c := strings.Compare(id.localBase(), other.localBase()); c != 0 {
			return c
		}
		return compareMembers(id.Members, other.Members)
	}
	if c := strings.Compare(dateA, dateB); c != 0 {
		return c
	}
	nA, errA := DecodeBase36(seqA)
	nB, errB := DecodeBase36(seqB)
	switch {
	case errA == nil && errB == nil && nA != nB:
		if nA < nB {
			return -1
		}
		return 1
	case errA != nil || errB != nil:
		if c := strings.Compare(seqA, seqB); c != 0 {
			return c
		}
	}
	if c := strings.Compare(sufA, sufB); c != 0 {
		return c
	}
	if c := strings.Compare(id.Project, other.Project); c != 0 {
		return c
	}
	return compareMembers(id.Members, other.Members)
}

// compareMembers puts a prefix before its extensions and compares numerically.
func compareMembers(a, b []int) int {
	return slices.Compare(a, b)
}

// Sort orders ids in place using Compare.
func Sort(ids []string) {
	slices.SortStableFunc(ids, Compare)
}
