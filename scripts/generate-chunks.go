//go:build ignore

// Command generate-chunks writes a synthetic chunk file for load-testing
// `rehydrate index` and `rehydrate query`.
//
// Usage: go run scripts/generate-chunks.go -n 5000 -o testdata/chunks.jsonl
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	count  = flag.Int("n", 1000, "Number of chunks")
	out    = flag.String("o", "testdata/chunks.jsonl", "Output file")
	seed   = flag.Int64("seed", 42, "Random seed")
	recent = flag.Float64("recent", 0.05, "Share of chunks carrying a recency timestamp")
)

var (
	packages = []string{"auth", "billing", "search", "store", "router", "cache", "session", "ingest"}
	nouns    = []string{"Token", "Index", "Ledger", "Query", "Vector", "Handler", "Pipeline", "Snapshot"}
	verbs    = []string{"Load", "Merge", "Validate", "Flush", "Resolve", "Encode", "Rank", "Expire"}
	words    = []string{"retry", "budget", "deadline", "checksum", "replica", "cursor", "shard", "lease", "window", "backoff"}
)

type chunk struct {
	ID               string            `json:"id"`
	SourcePath       string            `json:"source_path"`
	SpanStart        int               `json:"span_start"`
	SpanEnd          int               `json:"span_end"`
	Text             string            `json:"text"`
	RecencyTimestamp *time.Time        `json:"recency_timestamp,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

func main() {
	flag.Parse()
	r := rand.New(rand.NewSource(*seed))
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := os.MkdirAll(filepath.Dir(*out), 0o755); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	f, err := os.Create(*out)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)

	line := map[string]int{}
	for i := range *count {
		pkg := packages[r.Intn(len(packages))]
		noun := nouns[r.Intn(len(nouns))]
		verb := verbs[r.Intn(len(verbs))]
		category := "implementation"
		path := fmt.Sprintf("internal/%s/%s.go", pkg, strings.ToLower(noun))
		if r.Intn(5) == 0 {
			category = "test"
			path = strings.TrimSuffix(path, ".go") + "_test.go"
		}

		start := line[path] + 1
		n := 5 + r.Intn(40)
		line[path] = start + n

		var body []string
		for range 6 + r.Intn(10) {
			body = append(body, words[r.Intn(len(words))])
		}
		c := chunk{
			ID:         fmt.Sprintf("c%06d", i),
			SourcePath: path,
			SpanStart:  start,
			SpanEnd:    start + n - 1,
			Text: fmt.Sprintf("// %s%s %ss the %s.\nfunc (s *%sService) %s%s(ctx context.Context) error { // %s\n}",
				verb, noun, strings.ToLower(verb), strings.ToLower(noun), pkg, verb, noun, strings.Join(body, " ")),
			Metadata: map[string]string{"category": category, "package": pkg},
		}
		if r.Float64() < *recent {
			ts := base.Add(time.Duration(r.Intn(270*24)) * time.Hour)
			c.RecencyTimestamp = &ts
		}
		if err := enc.Encode(c); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	if err := w.Flush(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("wrote %d chunks to %s\n", *count, *out)
}
