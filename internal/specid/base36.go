package specid

import (
	"fmt"
	"math"
	"strings"
)

// Base36Alphabet is the digit set used for sequences and suffixes.
const Base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// EncodeBase36 renders n in base 36, left-padded with zeros to width.
// Values wider than width are not truncated.
func EncodeBase36(n uint32, width int) string {
	var buf [8]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = Base36Alphabet[n%36]
		n /= 36
	}
	s := string(buf[i:])
	if width < 1 {
		width = 1
	}
	if len(s) < width {
		s = strings.Repeat("0", width-len(s)) + s
	}
	return s
}

// DecodeBase36 parses a lowercase base-36 string.
func DecodeBase36(s string) (uint32, error) {
	if s == "" {
		return 0, fmt.Errorf("base36: empty input")
	}
	var n uint64
	for i := 0; i < len(s); i++ {
		d := strings.IndexByte(Base36Alphabet, s[i])
		if d < 0 {
			return 0, fmt.Errorf("base36: invalid digit %q in %q", s[i], s)
		}
		n = n*36 + uint64(d)
		if n > math.MaxUint32 {
			return 0, fmt.Errorf("base36: %q overflows uint32", s)
		}
	}
	return uint32(n), nil
}

// MaxForWidth is the largest value that fits in width base-36 digits.
func MaxForWidth(width int) uint32 {
	max := uint64(1)
	for i := 0; i < width; i++ {
		max *= 36
		if max > math.MaxUint32 {
			return math.MaxUint32
		}
	}
	return uint32(max - 1)
}
