// Package directive extracts the @usemodel:<alias> model selection line
// from prompt text.
package directive

import (
	"strings"
	"unicode"
)

// Prefix starts a directive line. Matching is case-insensitive.
const Prefix = "@usemodel:"

// Mode selects which directive lines are removed.
type Mode int

const (
	// ModeFirst removes only the first directive line. Later directive
	// lines are kept verbatim.
	ModeFirst Mode = iota
	// ModeAll removes every directive line.
	ModeAll
)

// Result is the outcome of parsing.
type Result struct {
	// Alias is the selected alias, or the default when no usable directive was found.
	Alias string
	// Text is the remaining content, left-trimmed when a directive was removed.
	Text string
	// Found reports whether a directive line was present.
	Found bool
}

// Parse scans text for directive lines. The first directive sets the alias;
// an empty alias after the colon falls back to defaultAlias but the line is
// still removed. Without any directive the text is returned unchanged.
func Parse(text, defaultAlias string, mode Mode) Result {
	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))

	res := Result{Alias: defaultAlias}
	for _, line := range lines {
		alias, ok := parseLine(line)
		if !ok {
			kept = append(kept, line)
			continue
		}

		if !res.Found {
			res.Found = true
			if alias != "" {
				res.Alias = alias
			}
			continue
		}

		if mode == ModeAll {
			continue
		}
		kept = append(kept, line)
	}

	if !res.Found {
		res.Text = text
		return res
	}

	res.Text = strings.TrimLeftFunc(strings.Join(kept, "\n"), unicode.IsSpace)
	return res
}

// Strip removes every directive line, for archiving a question.
func Strip(text string) string {
	return Parse(text, "", ModeAll).Text
}

// parseLine reports whether line is a directive and returns its alias.
func parseLine(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if len(trimmed) < len(Prefix) || !strings.EqualFold(trimmed[:len(Prefix)], Prefix) {
		return "", false
	}
	return strings.TrimSpace(trimmed[len(Prefix):]), true
}
