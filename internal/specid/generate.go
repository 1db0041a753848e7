package specid

import (
	"errors"
	"fmt"
	"io/fs"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// SequenceWidth is the number of base-36 digits in the per-day sequence.
	SequenceWidth = 3
	// SuffixWidth is the number of random base-36 digits at the end of an id.
	SuffixWidth = 3

	dateLayout = "2006-01-02"
)

// Generator produces new ids for one specs directory. The suffix only makes
// collisions unlikely; callers must still create files exclusively and retry.
type Generator struct {
	// Dir and ArchiveDir are scanned recursively, so archived specs keep
	// their sequence numbers wherever the archive lives.
	Dir        string
	ArchiveDir string
	Project    string
	// Rand returns a value in [0, n). Nil uses math/rand/v2.
	Rand func(n int) int
}

// Generate is Generator{Dir: specsDir}.Next(today).
func Generate(specsDir string, today time.Time) (string, error) {
	return Generator{Dir: specsDir}.Next(today)
}

// Next returns YYYY-MM-DD-SSS-XXX for today where SSS is one past the highest
// sequence already used on that date.
func (g Generator) Next(today time.Time) (string, error) {
	date := today.Format(dateLayout)
	next := uint32(1)
	for _, dir := range []string{g.Dir, g.ArchiveDir} {
		if dir == "" {
			continue
		}
		max, found, err := MaxSequence(dir, date)
		if err != nil {
			return "", err
		}
		if found && max+1 > next {
			next = max + 1
		}
	}
	if next > MaxForWidth(SequenceWidth) || next == 0 {
		return "", fmt.Errorf("sequence space exhausted for %s", date)
	}
	id := ID{
		Project: g.Project,
		Base:    date + "-" + EncodeBase36(next, SequenceWidth) + "-" + g.suffix(),
	}
	text := id.String()
	parsed, err := Parse(text)
	if err != nil {
		return "", fmt.Errorf("project prefix %q: %w", g.Project, err)
	}
	if parsed.Project != g.Project {
		return "", fmt.Errorf("project prefix %q does not round-trip", g.Project)
	}
	return text, nil
}

func (g Generator) suffix() string {
	pick := g.Rand
	if pick == nil {
		pick = rand.IntN
	}
	b := make([]byte, SuffixWidth)
	for i := range b {
		b[i] = Base36Alphabet[pick(len(Base36Alphabet))]
	}
	return string(b)
}

// MaxSequence scans dir for spec files dated date and returns the highest
// sequence found. A missing dir is not an error.
func MaxSequence(dir, date string) (uint32, bool, error) {
	var (
		max   uint32
		found bool
	)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".md") {
			return nil
		}
		id, perr := Parse(strings.TrimSuffix(d.Name(), ".md"))
		if perr != nil {
			return nil
		}
		fileDate, seq, _, ok := id.Parts()
		if !ok || fileDate != date {
			return nil
		}
		n, derr := DecodeBase36(seq)
		if derr != nil {
			return nil
		}
		if !found || n > max {
			max = n
			found = true
		}
		return nil
	})
	if err != nil {
		return 0, false, fmt.Errorf("scan %s: %w", dir, err)
	}
	return max, found, nil
}
