// Package ids generates node identifiers: opaque random UUIDs and
// title-derived slugs (FIDs).
package ids

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// UUIDLength is the length of generated node UUIDs.
const UUIDLength = 8

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789_"

// UUID returns a random identifier of UUIDLength characters over
// [A-Za-z0-9_]. Collisions are reported by the repository, never retried.
func UUID() string {
	out := make([]byte, 0, UUIDLength)
	buf := make([]byte, 2*UUIDLength)
	for len(out) < UUIDLength {
		if _, err := rand.Read(buf); err != nil {
			panic(fmt.Sprintf("ids: reading random bytes: %v", err))
		}
		for _, b := range buf {
			// bytes at or above maxByte would favour the first characters
			if int(b) >= maxByte {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == UUIDLength {
				break
			}
		}
	}
	return string(out)
}

// maxByte is the largest multiple of len(alphabet) that fits in a byte.
const maxByte = 256 - 256%len(alphabet)

// Letters that do not decompose into a base letter plus combining marks.
var transliterations = map[rune]string{
	'ß': "ss",
	'æ': "ae", 'Æ': "ae",
	'œ': "oe", 'Œ': "oe",
	'ø': "o", 'Ø': "o",
	'ł': "l", 'Ł': "l",
	'đ': "d", 'Đ': "d",
	'ð': "d", 'Ð': "d",
	'þ': "th", 'Þ': "th",
	'ı': "i",
}

// FID derives a slug from title: lower case, diacritics stripped, runs of
// non-word characters collapsed into a single '-', separators trimmed.
// Identical titles yield identical slugs.
func FID(title string) string {
	if title == "" {
		return ""
	}

	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, title)
	if err != nil {
		stripped = title
	}

	var b strings.Builder
	b.Grow(len(stripped))
	pendingSep := false
	for _, r := range strings.ToLower(stripped) {
		if s, ok := transliterations[r]; ok {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingSep = false
			b.WriteString(s)
			continue
		}
		if isWord(r) {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	return b.String()
}

func isWord(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_'
}

// UniqueFID derives a slug from title and appends -2, -3, ... until exists
// reports it unused.
func UniqueFID(ctx context.Context, title string, exists func(ctx context.Context, fid string) (bool, error)) (string, error) {
	base := FID(title)
	if base == "" {
		base = strings.ToLower(UUID())
	}
	candidate := base
	for i := 2; ; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		taken, err := exists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, i)
	}
}
