package conversation

import (
	"slices"
	"strings"

	"github.com/llminster/llminster/pkg/session"
)

// BuildWindow formats turns as "speaker: content" lines in ascending
// sequence order, joined by "\n" with trailing whitespace trimmed.
func BuildWindow(turns []*session.Turn) string {
	if len(turns) == 0 {
		return ""
	}

	ordered := slices.Clone(turns)
	slices.SortStableFunc(ordered, func(a, b *session.Turn) int {
		switch {
		case a.SequenceNumber < b.SequenceNumber:
			return -1
		case a.SequenceNumber > b.SequenceNumber:
			return 1
		default:
			return 0
		}
	})

	var b strings.Builder
	for i, t := range ordered {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(t.Speaker)
		b.WriteString(": ")
		b.WriteString(t.Content)
	}

	return strings.TrimRight(b.String(), " \t\r\n")
}
