package main

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/textsplitter"
)

func viperForTest() *viper.Viper { return viper.New() }

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fixedSplitter struct {
	chunks []string
	err    error
	calls  int
}

func (f *fixedSplitter) SplitText(string) ([]string, error) {
	f.calls++
	return f.chunks, f.err
}

func withNow(t *testing.T, ts time.Time) {
	t.Helper()
	orig := now
	now = func() time.Time { return ts }
	t.Cleanup(func() { now = orig })
}

func TestReadCorpus_ChunkIDs(t *testing.T) {
	withNow(t, time.Unix(1700000000, 0))
	sp := &fixedSplitter{chunks: []string{"first", " ", "second"}}
	in := `{"id":"migraine","text":"Migraine is a primary headache disorder."}

{"id":"fever","text":"Fever is a raised body temperature."}
`
	docs, err := readCorpus(strings.NewReader(in), sp)
	require.NoError(t, err)
	require.Equal(t, 2, sp.calls)
	require.Len(t, docs, 4)
	require.Equal(t, "migraine#0", docs[0].ID)
	require.Equal(t, "migraine#2", docs[1].ID)
	require.Equal(t, "second", docs[1].Text)
	require.Equal(t, "fever#0", docs[2].ID)
	for _, d := range docs {
		require.Equal(t, int64(1700000000), d.IndexedAt)
	}
}

func TestReadCorpus_RecursiveSplitter(t *testing.T) {
	sp := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(40),
		textsplitter.WithChunkOverlap(0),
	)
	text := strings.Repeat("Headache with nausea needs review. ", 6)
	in := `{"id":"h","text":"` + text + `"}`
	docs, err := readCorpus(strings.NewReader(in), sp)
	require.NoError(t, err)
	require.Greater(t, len(docs), 1)
	for _, d := range docs {
		require.True(t, strings.HasPrefix(d.ID, "h#"))
		require.LessOrEqual(t, len(d.Text), 40)
	}
}

func TestReadCorpus_SkipsEmptyText(t *testing.T) {
	sp := &fixedSplitter{chunks: []string{"x"}}
	docs, err := readCorpus(strings.NewReader(`{"id":"a","text":"  "}`), sp)
	require.NoError(t, err)
	require.Empty(t, docs)
	require.Zero(t, sp.calls)
}

func TestReadCorpus_Errors(t *testing.T) {
	cases := []struct {
		name string
		in   string
		sp   *fixedSplitter
		want string
	}{
		{"bad json", "{not json}", &fixedSplitter{}, "line 1"},
		{"missing id", `{"text":"abc"}`, &fixedSplitter{}, "missing id"},
		{"duplicate id", "{\"id\":\"a\",\"text\":\"x\"}\n{\"id\":\"a\",\"text\":\"y\"}", &fixedSplitter{chunks: []string{"x"}}, "duplicate id"},
		{"split error", `{"id":"a","text":"x"}`, &fixedSplitter{err: errors.New("boom")}, "split: boom"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := readCorpus(strings.NewReader(tc.in), tc.sp)
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestRun_Validation(t *testing.T) {
	cases := []struct {
		name string
		args []string
		want string
	}{
		{"no corpus", []string{"--out", "x"}, "--medical or --cultural"},
		{"no destination", []string{"--medical", "m.jsonl"}, "--out"},
		{"bad overlap", []string{"--medical", "m.jsonl", "--out", "x", "--chunk-overlap", "700"}, "invalid chunking"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("VECTOR_BUCKET", "")
			t.Setenv("VECTOR_KEY", "")
			v := viperForTest()
			cmd := newRootCmd(v, discardLogger())
			cmd.SetArgs(tc.args)
			err := cmd.Execute()
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}
