package index

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/Aman-CERP/rehydrate/internal/store"
)

// maxLineBytes bounds one JSONL record.
const maxLineBytes = 16 * 1024 * 1024

// Record is one line of a chunk file: a chunk plus an optional
// precomputed embedding.
type Record struct {
	store.Chunk
	Embedding []float32 `json:"embedding,omitempty"`
}

// LoadFile reads chunk records from a JSONL file.
func LoadFile(path string) ([]*Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open chunk file: %w", err)
	}
	defer f.Close()
	return ReadRecords(f)
}

// ReadRecords decodes one record per non-blank line. A record without an
// ID, or with an ID seen earlier in the stream, is an error naming the
// line.
func ReadRecords(r io.Reader) ([]*Record, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var out []*Record
	seen := make(map[string]int)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}

		rec := &Record{}
		if err := json.Unmarshal(raw, rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if rec.ID == "" {
			return nil, fmt.Errorf("line %d: chunk id is required", line)
		}
		if prev, dup := seen[rec.ID]; dup {
			return nil, fmt.Errorf("line %d: duplicate chunk id %q (first on line %d)", line, rec.ID, prev)
		}
		if rec.SpanEnd < rec.SpanStart {
			return nil, fmt.Errorf("line %d: span_end %d before span_start %d", line, rec.SpanEnd, rec.SpanStart)
		}
		seen[rec.ID] = line
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read chunk records: %w", err)
	}
	return out, nil
}
