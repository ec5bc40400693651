package store

import (
	"regexp"
	"strings"
	"unicode"
)

var tokenRegex = regexp.MustCompile(`[a-zA-Z0-9_]+`)

// TokenizeCode splits text into lowercase terms, breaking camelCase,
// PascalCase and snake_case identifiers apart. Terms shorter than two
// characters are dropped. A compound identifier also yields itself, so
// "HybridVectorStore" matches both "vector" and "hybridvectorstore".
func TokenizeCode(text string) []string {
	var tokens []string
	for _, word := range tokenRegex.FindAllString(text, -1) {
		parts := SplitCodeToken(word)
		for _, p := range parts {
			if lower := strings.ToLower(p); len(lower) >= 2 {
				tokens = append(tokens, lower)
			}
		}
		if len(parts) > 1 {
			tokens = append(tokens, strings.ToLower(strings.ReplaceAll(word, "_", "")))
		}
	}
	return tokens
}

// SplitCodeToken splits snake_case, then camelCase within each part.
func SplitCodeToken(token string) []string {
	if !strings.Contains(token, "_") {
		return SplitCamelCase(token)
	}
	var result []string
	for _, part := range strings.Split(token, "_") {
		if part != "" {
			result = append(result, SplitCamelCase(part)...)
		}
	}
	return result
}

// SplitCamelCase splits camelCase and PascalCase identifiers, keeping
// acronyms together:
//   - "getUserById" -> ["get", "User", "By", "Id"]
//   - "parseHTTPRequest" -> ["parse", "HTTP", "Request"]
func SplitCamelCase(s string) []string {
	if s == "" {
		return []string{}
	}

	var (
		result  []string
		current strings.Builder
	)
	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevIsLower := unicode.IsLower(runes[i-1])
			nextIsLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if (prevIsLower || nextIsLower) && current.Len() > 0 {
				result = append(result, current.String())
				current.Reset()
			}
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		result = append(result, current.String())
	}
	return result
}

// FilterStopWords removes stop words from a token list.
func FilterStopWords(tokens []string, stopWords map[string]struct{}) []string {
	result := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, isStop := stopWords[strings.ToLower(token)]; !isStop {
			result = append(result, token)
		}
	}
	return result
}

// BuildStopWordMap converts a slice of stop words to a lookup set.
func BuildStopWordMap(stopWords []string) map[string]struct{} {
	m := make(map[string]struct{}, len(stopWords))
	for _, word := range stopWords {
		m[strings.ToLower(word)] = struct{}{}
	}
	return m
}

// UniqueTerms tokenizes text, drops stop words and returns each term once
// in first-seen order.
func UniqueTerms(text string, stopWords map[string]struct{}) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, t := range FilterStopWords(TokenizeCode(text), stopWords) {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
