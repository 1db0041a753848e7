// Package specid implements the work item identifier scheme:
//
//	[repo:][project-]YYYY-MM-DD-SSS-XXX[.N[.M...]]
//
// SSS is a per-day base-36 sequence and XXX a random base-36 suffix. A
// trailing .N marks a group member of the driver named by the rest of the id.
package specid

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrMalformedIdentifier is returned (wrapped in *ParseError) for ids that
// cannot be decomposed.
var ErrMalformedIdentifier = errors.New("malformed identifier")

// ParseError carries the offending input so callers can surface it verbatim.
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s %q: %s", ErrMalformedIdentifier.Error(), e.Input, e.Reason)
}

func (e *ParseError) Unwrap() error { return ErrMalformedIdentifier }

func malformed(input, format string, args ...any) error {
	return &ParseError{Input: input, Reason: fmt.Sprintf(format, args...)}
}

var repoNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidRepoName reports whether name may be used as a cross-repo prefix.
func ValidRepoName(name string) bool {
	return repoNamePattern.MatchString(name)
}

// ID is a decomposed identifier. The zero value is not a valid id.
type ID struct {
	Repo    string
	Project string
	Base    string
	Members []int
}

// Parse decomposes text into an ID. It accepts local, project-scoped,
// cross-repo and member forms; String on the result reproduces text.
func Parse(text string) (ID, error) {
	if text == "" {
		return ID{}, malformed(text, "empty identifier")
	}
	if strings.ContainsAny(text, " \t\r\n/\\") {
		return ID{}, malformed(text, "contains whitespace or path separators")
	}
	var id ID
	rest := text
	if i := strings.IndexByte(text, ':'); i >= 0 {
		repo := text[:i]
		if repo == "" {
			return ID{}, malformed(text, "empty repository prefix")
		}
		if !ValidRepoName(repo) {
			return ID{}, malformed(text, "invalid repository name %q", repo)
		}
		id.Repo = repo
		rest = text[i+1:]
		if strings.IndexByte(rest, ':') >= 0 {
			return ID{}, malformed(text, "more than one repository separator")
		}
	}
	base := rest
	if i := strings.IndexByte(rest, '.'); i >= 0 {
		base = rest[:i]
		for _, seg := range strings.Split(rest[i+1:], ".") {
			n, err := parseMember(seg)
			if err != nil {
				return ID{}, malformed(text, "%v", err)
			}
			id.Members = append(id.Members, n)
		}
	}
	if base == "" {
		return ID{}, malformed(text, "empty base id")
	}
	project, baseID, err := splitProject(base)
	if err != nil {
		return ID{}, malformed(text, "%v", err)
	}
	if baseID == "" {
		return ID{}, malformed(text, "empty base id")
	}
	id.Project = project
	id.Base = baseID
	return id, nil
}

// MustParse is Parse for ids known to be valid, such as test fixtures.
func MustParse(text string) ID {
	id, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return id
}

func parseMember(seg string) (int, error) {
	if seg == "" {
		return 0, errors.New("empty member suffix")
	}
	for _, r := range seg {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("member suffix %q is not decimal", seg)
		}
	}
	if len(seg) > 1 && seg[0] == '0' {
		return 0, fmt.Errorf("member suffix %q has a leading zero", seg)
	}
	n, err := strconv.Atoi(seg)
	if err != nil {
		return 0, fmt.Errorf("member suffix %q: %w", seg, err)
	}
	return n, nil
}

// splitProject treats everything before the first 4-digit year token as the
// project name.
func splitProject(base string) (string, string, error) {
	segs := strings.Split(base, "-")
	for i, seg := range segs {
		if !isYear(seg) {
			continue
		}
		if i == 0 {
			return "", base, nil
		}
		project := strings.Join(segs[:i], "-")
		if project == "" || strings.HasPrefix(project, "-") {
			return "", "", errors.New("empty project prefix")
		}
		return project, strings.Join(segs[i:], "-"), nil
	}
	return "", base, nil
}

func isYear(seg string) bool {
	if len(seg) != 4 {
		return false
	}
	for i := 0; i < 4; i++ {
		if seg[i] < '0' || seg[i] > '9' {
			return false
		}
	}
	return true
}

// String renders the id in its canonical text form.
func (id ID) String() string {
	var b strings.Builder
	if id.Repo != "" {
		b.WriteString(id.Repo)
		b.WriteByte(':')
	}
	b.WriteString(id.localBase())
	for _, m := range id.Members {
		b.WriteByte('.')
		b.WriteString(strconv.Itoa(m))
	}
	return b.String()
}

func (id ID) localBase() string {
	if id.Project == "" {
		return id.Base
	}
	return id.Project + "-" + id.Base
}

// Local returns the id without its repository prefix. Cross-repo lookups
// load the file named by Local under the foreign repository.
func (id ID) Local() ID {
	id.Repo = ""
	return id
}

// Driver returns the id with every member suffix removed.
func (id ID) Driver() ID {
	id.Members = nil
	return id
}

// IsMember reports whether the id carries a member suffix.
func (id ID) IsMember() bool { return len(id.Members) > 0 }

// IsCrossRepo reports whether the id names a spec in another repository.
func (id ID) IsCrossRepo() bool { return id.Repo != "" }

// Parts splits a well-formed base into date, sequence and suffix. ok is
// false for bases that do not follow YYYY-MM-DD-SSS-XXX.
func (id ID) Parts() (date, seq, suffix string, ok bool) {
	segs := strings.Split(id.Base, "-")
	if len(segs) != 5 {
		return "", "", "", false
	}
	if !isYear(segs[0]) || !isDigits(segs[1], 2) || !isDigits(segs[2], 2) {
		return "", "", "", false
	}
	if segs[3] == "" || segs[4] == "" {
		return "", "", "", false
	}
	return segs[0] + "-" + segs[1] + "-" + segs[2], segs[3], segs[4], true
}

func isDigits(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for i := 0; i < n; i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// DriverOf returns the driver id for a member id. For non-members it returns
// id and false. Unparseable ids fall back to cutting at the first dot.
func DriverOf(id string) (string, bool) {
	parsed, err := Parse(id)
	if err != nil {
		if i := strings.IndexByte(id, '.'); i > 0 {
			return id[:i], true
		}
		return id, false
	}
	if !parsed.IsMember() {
		return id, false
	}
	return parsed.Driver().String(), true
}

// IsMemberOf reports whether id is driverID.N[.M...].
func IsMemberOf(id, driverID string) bool {
	if !strings.HasPrefix(id, driverID+".") {
		return false
	}
	for _, seg := range strings.Split(id[len(driverID)+1:], ".") {
		if _, err := parseMember(seg); err != nil {
			return false
		}
	}
	return true
}

// MemberPath returns the numeric member suffixes of id, or nil.
func MemberPath(id string) []int {
	parsed, err := Parse(id)
	if err != nil {
		return nil
	}
	return parsed.Members
}
