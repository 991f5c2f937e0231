package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/tmc/langchaingo/textsplitter"

	"medical-interpreter/internal/vectorstore"
)

const maxLine = 1 << 20

type record struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

var now = time.Now

// readCorpus reads JSONL records and splits each into chunk documents with
// ids of the form "<record id>#<chunk index>".
func readCorpus(r io.Reader, splitter textsplitter.TextSplitter) ([]vectorstore.Document, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)

	indexedAt := now().Unix()
	seen := make(map[string]struct{})
	var docs []vectorstore.Document
	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		var rec record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rec.ID = strings.TrimSpace(rec.ID)
		if rec.ID == "" {
			return nil, fmt.Errorf("line %d: missing id", line)
		}
		if _, dup := seen[rec.ID]; dup {
			return nil, fmt.Errorf("line %d: duplicate id %q", line, rec.ID)
		}
		seen[rec.ID] = struct{}{}
		if strings.TrimSpace(rec.Text) == "" {
			continue
		}

		chunks, err := splitter.SplitText(rec.Text)
		if err != nil {
			return nil, fmt.Errorf("line %d: split: %w", line, err)
		}
		for i, c := range chunks {
			if strings.TrimSpace(c) == "" {
				continue
			}
			docs = append(docs, vectorstore.Document{
				ID:        rec.ID + "#" + strconv.Itoa(i),
				Text:      c,
				IndexedAt: indexedAt,
			})
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read corpus: %w", err)
	}
	return docs, nil
}
