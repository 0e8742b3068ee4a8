package dedup

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	maxASCII  = 0x7f
	maxLatin1 = 0xff
	maxBMP    = 0xffff
)

// EscapeASCII renders s in pure ASCII: runes above 0x7f become \xNN, \uNNNN or
// \UNNNNNNNN and bytes that are not valid UTF-8 become \xNN. ASCII input is
// returned unchanged, so already-escaped ledger lines round-trip to themselves.
func EscapeASCII(s string) string {
	if isASCII(s) {
		return s
	}

	var b strings.Builder

	b.Grow(len(s) + len(s)/2)

	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])

		switch {
		case r == utf8.RuneError && size == 1:
			fmt.Fprintf(&b, `\x%02x`, s[i])
		case r <= maxASCII:
			b.WriteByte(byte(r))
		case r <= maxLatin1:
			fmt.Fprintf(&b, `\x%02x`, r)
		case r <= maxBMP:
			fmt.Fprintf(&b, `\u%04x`, r)
		default:
			fmt.Fprintf(&b, `\U%08x`, r)
		}

		i += size
	}

	return b.String()
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > maxASCII {
			return false
		}
	}

	return true
}
