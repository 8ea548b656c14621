package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thumbshift/internal/filter"
	"thumbshift/internal/keyevent"
	"thumbshift/internal/trace"
)

const sampleScript = `# single key, then a thumb chord, then a tap
0 a
200000 lshift
220000 a
400000 b
410000 (release b)
`

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keys.txt")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

// resolutions drops the timestamps from replay output.
func resolutions(out string) []string {
	var got []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		_, rest, _ := strings.Cut(line, " ")
		got = append(got, rest)
	}
	return got
}

func TestReplayScript(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := run([]string{"-script", writeScript(t, sampleScript)}, &stdout, &stderr)
	require.NoError(t, err, stderr.String())

	out := stdout.String()
	assert.True(t, strings.HasPrefix(out, "100001 fwd a\n"), out)
	assert.Equal(t, []string{
		"fwd a",
		"fwd (lshift a)",
		"sync b",
	}, resolutions(out))
	assert.Contains(t, out, "410000 sync b\n")
}

func TestReplayOverrides(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := run([]string{"-script", writeScript(t, "0 a\n"), "-timeout", "50000", "-overlap", "20000"}, &stdout, &stderr)
	require.NoError(t, err)
	assert.Equal(t, "50001 fwd a\n", stdout.String())
}

func TestParseScriptErrors(t *testing.T) {
	tests := []struct {
		name   string
		script string
	}{
		{"missing event", "100\n"},
		{"bad offset", "x a\n"},
		{"negative offset", "-5 a\n"},
		{"backwards", "10 a\n5 b\n"},
		{"bad notation", "0 (bogus a)\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseScript(strings.NewReader(tt.script))
			assert.Error(t, err)
		})
	}
}

func TestRequiresOneSource(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Error(t, run(nil, &stdout, &stderr))
	assert.Error(t, run([]string{"-script", "a", "-db", "b"}, &stdout, &stderr))
	assert.Error(t, run([]string{"-script", "a", "-check"}, &stdout, &stderr))
}

func TestReplayTrace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.db")
	store, err := trace.Open(path)
	require.NoError(t, err)

	cfg := filter.DefaultConfig()
	id, err := store.StartSession("test", 5_000_000, cfg)
	require.NoError(t, err)
	require.NoError(t, store.Record(
		trace.Event{SessionID: id, TimeUs: 5_000_000, Direction: trace.In, Key: keyevent.MustParse("b")},
		trace.Event{SessionID: id, TimeUs: 5_010_000, Direction: trace.In, Key: keyevent.MustParse("(release b)")},
		trace.Event{SessionID: id, TimeUs: 5_010_000, Direction: trace.Out, Key: keyevent.MustParse("b")},
	))
	require.NoError(t, store.Close())

	var stdout, stderr bytes.Buffer
	require.NoError(t, run([]string{"-db", path, "-check"}, &stdout, &stderr), stderr.String())
	assert.Equal(t, "10000 sync b\n", stdout.String())

	stdout.Reset()
	require.NoError(t, run([]string{"-db", path, "-list"}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "test")

	store, err = trace.Open(path)
	require.NoError(t, err)
	sess, err := store.Session(id)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	stdout.Reset()
	require.NoError(t, run([]string{"-db", path, "-session", sess.UUID}, &stdout, &stderr))
	assert.Equal(t, "10000 sync b\n", stdout.String())

	assert.Error(t, run([]string{"-db", path, "-session", "42"}, &stdout, &stderr))
}

func TestReplayTraceWithReset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.db")
	store, err := trace.Open(path)
	require.NoError(t, err)

	id, err := store.StartSession("reset", 0, filter.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, store.Record(
		trace.Event{SessionID: id, TimeUs: 1_000_000, Direction: trace.In, Key: keyevent.MustParse("a")},
		trace.Event{SessionID: id, TimeUs: 1_030_000, Direction: trace.Reset, Key: keyevent.New("non-filter key", keyevent.ModNone)},
		trace.Event{SessionID: id, TimeUs: 1_200_000, Direction: trace.In, Key: keyevent.MustParse("b")},
		trace.Event{SessionID: id, TimeUs: 1_210_000, Direction: trace.In, Key: keyevent.MustParse("(release b)")},
		trace.Event{SessionID: id, TimeUs: 1_210_000, Direction: trace.Out, Key: keyevent.MustParse("b")},
	))
	require.NoError(t, store.Close())

	var stdout, stderr bytes.Buffer
	require.NoError(t, run([]string{"-db", path, "-check"}, &stdout, &stderr), stderr.String())
	assert.Equal(t, "210000 sync b\n", stdout.String())
	assert.Empty(t, stderr.String())
}

func TestReplayScriptReset(t *testing.T) {
	var stdout, stderr bytes.Buffer
	script := "0 a\n30000 !reset\n200000 b\n"
	require.NoError(t, run([]string{"-script", writeScript(t, script)}, &stdout, &stderr))
	assert.Equal(t, "300001 fwd b\n", stdout.String())
}

func TestCompareReportsMismatch(t *testing.T) {
	var stderr bytes.Buffer
	err := compare(
		[]keyevent.KeyEvent{keyevent.Char('a')},
		[]resolution{{kind: "fwd", key: keyevent.Char('b')}},
		&stderr,
	)
	assert.ErrorIs(t, err, errMismatch)
	assert.Contains(t, stderr.String(), `recorded "a", replayed "b"`)
}
