package search

import (
	"cmp"
	"regexp"
	"slices"
	"strings"
)

// DefaultMaxEntities caps ExtractEntities output.
const DefaultMaxEntities = 16

var (
	quotedPattern = regexp.MustCompile("\"([^\"]{2,80})\"|`([^`]{2,80})`")
	urlPattern    = regexp.MustCompile(`https?://[^\s"'<>]+`)
	wordPattern   = regexp.MustCompile(`\S+`)

	errorCodePattern = regexp.MustCompile(`^(ERR_\w+|E\d{4,5}|[A-Z]{2,}\d{3,}|\w+(Exception|Error))$`)
	filePathPattern  = regexp.MustCompile(`(?i)^[\w\-./\\]+\.(go|ts|tsx|js|jsx|py|md|json|yaml|yml|toml|css|html|rs|java|kt|c|cpp|h|hpp|rb|php|swift|sh|sql|proto)$`)

	camelCasePattern      = regexp.MustCompile(`^[a-z]+([A-Z][a-z0-9]*)+$`)
	pascalCasePattern     = regexp.MustCompile(`^([A-Z][a-z0-9]+){2,}$`)
	snakeCasePattern      = regexp.MustCompile(`^[a-z]+(_[a-z0-9]+)+$`)
	screamingSnakePattern = regexp.MustCompile(`^[A-Z]+(_[A-Z0-9]+)+$`)
)

// ExtractEntities pulls identifier-like tokens out of free text: quoted
// strings, URLs, file paths, error codes and camel, Pascal, snake and
// screaming-snake identifiers. Results are unique, in order of first
// appearance, and capped at DefaultMaxEntities.
func ExtractEntities(text string) []string {
	return ExtractEntitiesN(text, DefaultMaxEntities)
}

// ExtractEntitiesN is ExtractEntities with an explicit cap. max <= 0
// means no cap.
func ExtractEntitiesN(text string, max int) []string {
	type hit struct {
		pos  int
		text string
	}
	var (
		hits  []hit
		taken [][2]int
	)
	overlaps := func(s, e int) bool {
		for _, t := range taken {
			if s < t[1] && e > t[0] {
				return true
			}
		}
		return false
	}

	for _, m := range quotedPattern.FindAllStringSubmatchIndex(text, -1) {
		for g := 1; g <= 2; g++ {
			if s, e := m[2*g], m[2*g+1]; s >= 0 {
				hits = append(hits, hit{m[0], strings.TrimSpace(text[s:e])})
				break
			}
		}
		taken = append(taken, [2]int{m[0], m[1]})
	}
	for _, m := range urlPattern.FindAllStringIndex(text, -1) {
		if overlaps(m[0], m[1]) {
			continue
		}
		hits = append(hits, hit{m[0], strings.TrimRight(text[m[0]:m[1]], ".,;:)")})
		taken = append(taken, [2]int{m[0], m[1]})
	}
	for _, m := range wordPattern.FindAllStringIndex(text, -1) {
		if overlaps(m[0], m[1]) {
			continue
		}
		word := strings.Trim(text[m[0]:m[1]], ".,;:!?()[]{}<>\"'`")
		if isEntityWord(word) {
			hits = append(hits, hit{m[0], word})
		}
	}

	slices.SortStableFunc(hits, func(a, b hit) int { return cmp.Compare(a.pos, b.pos) })

	seen := make(map[string]struct{}, len(hits))
	out := []string{}
	for _, h := range hits {
		if h.text == "" {
			continue
		}
		if _, dup := seen[h.text]; dup {
			continue
		}
		seen[h.text] = struct{}{}
		out = append(out, h.text)
		if max > 0 && len(out) == max {
			break
		}
	}
	return out
}

func isEntityWord(w string) bool {
	if len(w) < 2 {
		return false
	}
	return errorCodePattern.MatchString(w) ||
		filePathPattern.MatchString(w) ||
		camelCasePattern.MatchString(w) ||
		pascalCasePattern.MatchString(w) ||
		snakeCasePattern.MatchString(w) ||
		screamingSnakePattern.MatchString(w)
}
