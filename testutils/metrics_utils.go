// Test double for the StatsSink interface: collects emitted exposition
// lines instead of writing them anywhere, so tests can assert on content.

package threadly_testutils

import (
	"bytes"
	"strings"
	"sync"
)

// TestStatsSink implements threadly_internal.StatsSink, indexing every
// emitted line by its occurrence count so tests can assert presence and
// catch accidental duplicates.
type TestStatsSink struct {
	mu    sync.Mutex
	lines map[string]int
	flush int
}

func NewTestStatsSink() *TestStatsSink {
	return &TestStatsSink{
		lines: make(map[string]int),
	}
}

// Write satisfies the io.Writer half of StatsSink; Flush below is the other.
func (s *TestStatsSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, line := range strings.Split(string(p), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			s.lines[line]++
		}
	}
	return len(p), nil
}

func (s *TestStatsSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flush++
	return nil
}

func (s *TestStatsSink) FlushCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flush
}

// Report returns one diagnostic line per wanted metric that is missing, and,
// when reportExtra is set, one line per collected metric that was not asked
// for or that appeared more than once.
func (s *TestStatsSink) Report(wantLines []string, reportExtra bool) *bytes.Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()

	errBuf := &bytes.Buffer{}
	seen := make(map[string]bool, len(wantLines))
	for _, want := range wantLines {
		want = strings.TrimSpace(want)
		if s.lines[want] == 0 {
			errBuf.WriteString("\nmissing: " + want)
		} else {
			seen[want] = true
		}
	}

	if reportExtra {
		for got, count := range s.lines {
			if !seen[got] {
				errBuf.WriteString("\nunexpected: " + got)
			}
			if count > 1 {
				errBuf.WriteString("\nduplicate: " + got)
			}
		}
	}
	return errBuf
}
