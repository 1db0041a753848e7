// Package merge reconciles three versions of one spec file: the common
// ancestor, ours and theirs. It backs the git merge driver.
package merge

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"specline/internal/domain"
	"specline/internal/specfile"
)

// Result is the reconciled file and whether it still needs a human.
type Result struct {
	Output   string
	Conflict bool
	Spec     *domain.Spec
}

// MergeBody reconciles free-text bodies. When one side is unchanged from
// base (ignoring surrounding whitespace) the other side is taken verbatim.
func MergeBody(base, ours, theirs string) (string, bool) {
	b, o, t := strings.TrimSpace(base), strings.TrimSpace(ours), strings.TrimSpace(theirs)
	switch {
	case b == o:
		return theirs, false
	case b == t:
		return ours, false
	case o == t:
		return ours, false
	}
	return Merge3(base, ours, theirs)
}

// Reconcile merges three file contents. A side whose front matter cannot be
// parsed contributes defaults for its metadata but keeps its body. Some
// output is always produced.
func Reconcile(base, ours, theirs string) (Result, error) {
	b := specfile.ParseLenient("", base)
	o := specfile.ParseLenient("", ours)
	t := specfile.ParseLenient("", theirs)

	merged := MergeMetadata(b, o, t)
	body, conflict := MergeBody(b.Body, o.Body, t.Body)
	merged.Body = body

	data, err := specfile.Marshal(merged)
	if err != nil {
		return Result{}, err
	}
	out := string(data)
	return Result{Output: out, Conflict: conflict || HasConflictMarkers(body), Spec: merged}, nil
}

// RunDriver implements the git merge driver contract: it merges the three
// files and writes the result over oursPath. clean is false when conflict
// markers remain.
func RunDriver(ancestorPath, oursPath, theirsPath string) (clean bool, err error) {
	base, err := readOptional(ancestorPath)
	if err != nil {
		return false, err
	}
	ours, err := os.ReadFile(oursPath)
	if err != nil {
		return false, fmt.Errorf("read ours: %w", err)
	}
	theirs, err := readOptional(theirsPath)
	if err != nil {
		return false, err
	}
	res, err := Reconcile(base, string(ours), theirs)
	if err != nil {
		return false, err
	}
	if err := writeFile(oursPath, []byte(res.Output)); err != nil {
		return false, fmt.Errorf("write %s: %w", oursPath, err)
	}
	return !res.Conflict, nil
}

// readOptional treats a missing file as empty, which is what git hands the
// driver for add/add merges.
func readOptional(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	return string(data), nil
}

func writeFile(path string, data []byte) error {
	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.merge")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), mode); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
