package merge

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

const (
	MarkerOurs   = "<<<<<<< ours"
	MarkerSep    = "======="
	MarkerTheirs = ">>>>>>> theirs"
)

// hunk replaces base lines [start, end) with lines.
type hunk struct {
	start int
	end   int
	lines []string
}

// splitLines keeps line terminators so joining the result restores s.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// lineTable gives every distinct line its own rune so the diff runs over
// whole lines.
type lineTable struct {
	runes map[string]rune
	lines map[rune]string
}

func newLineTable() *lineTable {
	return &lineTable{runes: map[string]rune{}, lines: map[rune]string{}}
}

func (t *lineTable) encode(lines []string) []rune {
	out := make([]rune, len(lines))
	for i, l := range lines {
		r, ok := t.runes[l]
		if !ok {
			r = rune(len(t.runes) + 1)
			if r >= 0xD800 {
				// skip the surrogate range, which does not survive string conversion
				r += 0x800
			}
			t.runes[l] = r
			t.lines[r] = l
		}
		out[i] = r
	}
	return out
}

func (t *lineTable) decode(text string) []string {
	var out []string
	for _, r := range text {
		out = append(out, t.lines[r])
	}
	return out
}

// hunks diffs base against other line by line and returns the changes in
// base coordinates.
func hunks(dmp *diffmatchpatch.DiffMatchPatch, table *lineTable, base []rune, other []string) []hunk {
	diffs := dmp.DiffMainRunes(base, table.encode(other), false)

	var out []hunk
	var cur *hunk
	pos := 0
	flush := func() {
		if cur != nil {
			out = append(out, *cur)
			cur = nil
		}
	}
	for _, d := range diffs {
		lines := table.decode(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			flush()
			pos += len(lines)
		case diffmatchpatch.DiffDelete:
			if cur == nil {
				cur = &hunk{start: pos, end: pos}
			}
			cur.end += len(lines)
			pos += len(lines)
		case diffmatchpatch.DiffInsert:
			if cur == nil {
				cur = &hunk{start: pos, end: pos}
			}
			cur.lines = append(cur.lines, lines...)
		}
	}
	flush()
	return out
}

func apply(base []string, start, end int, hs []hunk) []string {
	var out []string
	p := start
	for _, h := range hs {
		out = append(out, base[p:h.start]...)
		out = append(out, h.lines...)
		p = h.end
	}
	return append(out, base[p:end]...)
}

// Merge3 performs a line-based three-way merge. Changes made on only one side
// are applied; overlapping or adjacent changes that differ are emitted
// between conflict markers. conflict reports whether any markers were
// written.
func Merge3(base, ours, theirs string) (merged string, conflict bool) {
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0
	table := newLineTable()
	baseLines := splitLines(base)
	baseRunes := table.encode(baseLines)
	oursHunks := hunks(dmp, table, baseRunes, splitLines(ours))
	theirsHunks := hunks(dmp, table, baseRunes, splitLines(theirs))

	var b strings.Builder
	writeLines := func(lines []string) {
		for _, l := range lines {
			b.WriteString(l)
		}
	}

	pos, i, j := 0, 0, 0
	for i < len(oursHunks) || j < len(theirsHunks) {
		start := -1
		if i < len(oursHunks) {
			start = oursHunks[i].start
		}
		if j < len(theirsHunks) && (start < 0 || theirsHunks[j].start < start) {
			start = theirsHunks[j].start
		}
		end := start
		var ourPart, theirPart []hunk
		for grew := true; grew; {
			grew = false
			if i < len(oursHunks) && oursHunks[i].start <= end {
				ourPart = append(ourPart, oursHunks[i])
				end = max(end, oursHunks[i].end)
				i++
				grew = true
			}
			if j < len(theirsHunks) && theirsHunks[j].start <= end {
				theirPart = append(theirPart, theirsHunks[j])
				end = max(end, theirsHunks[j].end)
				j++
				grew = true
			}
		}

		writeLines(baseLines[pos:start])
		switch {
		case len(theirPart) == 0:
			writeLines(apply(baseLines, start, end, ourPart))
		case len(ourPart) == 0:
			writeLines(apply(baseLines, start, end, theirPart))
		default:
			o := apply(baseLines, start, end, ourPart)
			t := apply(baseLines, start, end, theirPart)
			if strings.Join(o, "") == strings.Join(t, "") {
				writeLines(o)
				break
			}
			conflict = true
			b.WriteString(MarkerOurs + "\n")
			writeBlock(&b, o)
			b.WriteString(MarkerSep + "\n")
			writeBlock(&b, t)
			b.WriteString(MarkerTheirs + "\n")
		}
		pos = end
	}
	writeLines(baseLines[pos:])
	return b.String(), conflict
}

func writeBlock(b *strings.Builder, lines []string) {
	for _, l := range lines {
		b.WriteString(l)
	}
	if n := len(lines); n > 0 && !strings.HasSuffix(lines[n-1], "\n") {
		b.WriteByte('\n')
	}
}

// HasConflictMarkers reports whether text contains a line opening or closing
// a conflict block.
func HasConflictMarkers(text string) bool {
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, "<<<<<<<") || strings.HasPrefix(line, ">>>>>>>") {
			return true
		}
	}
	return false
}
