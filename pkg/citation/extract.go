package citation

import (
	"regexp"
	"slices"
	"strings"
)

// Extractor pulls regulation references out of free text. Matches of every
// pattern are unioned and normalized to canonical tokens:
//
//	"§ 1234.56", "Section 1234.56", "16 CFR 1234.56" → "1234.56"
//	"Part 1234"                                      → "1234"
//	"Subpart B"                                      → "B"
type Extractor struct {
	patterns []*regexp.Regexp
}

var defaultPatterns = []*regexp.Regexp{
	regexp.MustCompile(`§\s*(\d+)\.(\d+)`),
	regexp.MustCompile(`[Ss]ection\s+(\d+)\.(\d+)`),
	regexp.MustCompile(`\d+\s+CFR\s+(\d+)\.(\d+)`),
	regexp.MustCompile(`[Pp]art\s+(\d+)`),
	regexp.MustCompile(`[Ss]ubpart\s+([A-Z])`),
}

func NewExtractor() *Extractor {
	return &Extractor{patterns: defaultPatterns}
}

// Extract returns the sorted, de-duplicated tokens found in text. Empty or
// malformed text yields an empty slice.
func (x *Extractor) Extract(text string) []string {
	if strings.TrimSpace(text) == "" {
		return []string{}
	}

	seen := make(map[string]struct{})
	for _, re := range x.patterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			var token string
			switch len(m) {
			case 3:
				token = m[1] + "." + m[2]
			case 2:
				token = m[1]
			default:
				continue
			}
			seen[token] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// Canonicalize normalizes a stored section number so it compares equal to
// extracted tokens: surrounding space and a leading "§" or "Sec." are removed.
func Canonicalize(number string) string {
	n := strings.TrimSpace(number)
	n = strings.TrimPrefix(n, "§")
	n = strings.TrimPrefix(n, "Sec.")
	return strings.TrimSpace(n)
}
