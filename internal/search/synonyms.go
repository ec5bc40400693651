package search

import "strings"

// CodeSynonyms maps everyday words in a task description to the
// vocabulary code tends to use for them. Lexical retrieval has no notion
// of meaning, so "implement config loading" should also look for "cfg",
// "load" and "parse".
var CodeSynonyms = map[string][]string{
	// definitions
	"function":  {"func", "method", "fn", "def"},
	"method":    {"func", "function", "fn"},
	"class":     {"type", "struct", "interface"},
	"type":      {"struct", "class", "interface"},
	"interface": {"protocol", "trait", "contract"},

	// failure handling
	"error":     {"err", "exception", "failure"},
	"exception": {"error", "err", "panic"},
	"retry":     {"attempt", "backoff"},
	"timeout":   {"deadline", "context", "cancel"},

	// transport
	"request":  {"req", "http", "call"},
	"response": {"resp", "reply", "result"},
	"endpoint": {"handler", "route", "api"},
	"client":   {"conn", "connection", "session"},

	// configuration
	"config":   {"cfg", "configuration", "settings"},
	"settings": {"config", "options", "preferences"},
	"options":  {"opts", "config", "flags"},
	"flag":     {"option", "toggle", "switch"},

	// storage
	"database":   {"db", "store", "sql"},
	"store":      {"storage", "repository", "persist"},
	"cache":      {"lru", "memo", "memoize"},
	"index":      {"indexer", "catalog", "lookup"},
	"query":      {"search", "find", "lookup"},
	"search":     {"query", "retrieve", "lookup"},
	"vector":     {"embedding", "dense", "hnsw"},
	"embedding":  {"vector", "embed", "embedder"},
	"keyword":    {"lexical", "bm25", "term"},
	"chunk":      {"segment", "span", "block"},
	"token":      {"tokens", "tokenize", "budget"},
	"rank":       {"score", "ranking", "order"},
	"dedupe":     {"duplicate", "overlap", "unique"},
	"dedup":      {"duplicate", "overlap", "unique"},
	"duplicate":  {"dedupe", "dup", "unique"},
	"similarity": {"cosine", "distance", "score"},

	// actions
	"create":    {"new", "make", "init"},
	"implement": {"impl", "implementation", "build"},
	"load":      {"read", "parse", "open"},
	"save":      {"write", "persist", "store"},
	"delete":    {"remove", "drop", "evict"},
	"start":     {"run", "init", "launch"},
	"stop":      {"close", "shutdown", "cancel"},
	"parse":     {"parser", "decode", "unmarshal"},
	"serialize": {"marshal", "encode", "render"},

	// concurrency
	"concurrent": {"goroutine", "parallel", "errgroup"},
	"lock":       {"mutex", "flock", "sync"},
	"worker":     {"pool", "goroutine", "job"},

	// testing
	"test": {"testing", "assert", "spec"},
	"mock": {"fake", "stub", "spy"},

	// observability
	"log":   {"logger", "slog", "logging"},
	"trace": {"span", "event", "debug"},
}

// Synonyms returns the expansions for term, case-insensitively.
func Synonyms(term string) []string {
	return CodeSynonyms[strings.ToLower(term)]
}
