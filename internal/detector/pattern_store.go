package detector

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// PatternStore holds the active ordered list of compiled case-insensitive
// regexes, swapped atomically under a lock on load/reload. Grounded on
// original_source/detector.py's load_patterns/reload_patterns.
type PatternStore struct {
	dir    string
	log    *zap.SugaredLogger
	mu     sync.RWMutex
	active []*regexp.Regexp
}

// NewPatternStore creates a store rooted at dir. Call Load once at startup.
func NewPatternStore(dir string, log *zap.SugaredLogger) *PatternStore {
	return &PatternStore{dir: dir, log: log}
}

// Load enumerates dir for *.txt/*.conf files sorted by filename, compiles
// every non-blank, non-comment line as a case-insensitive regex, and swaps
// the active list atomically. Invalid regexes are logged and skipped. Returns
// the number of patterns loaded.
func (s *PatternStore) Load() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.log.Warnw("patterns directory does not exist, regex engine has 0 patterns", "dir", s.dir, "error", err)
		s.swap(nil)
		return 0, nil
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".txt" && ext != ".conf" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var compiled []*regexp.Regexp
	for _, name := range names {
		path := filepath.Join(s.dir, name)
		raw, err := os.ReadFile(path)
		if err != nil {
			s.log.Warnw("cannot read pattern file", "file", path, "error", err)
			continue
		}
		for lineno, line := range strings.Split(string(raw), "\n") {
			stripped := strings.TrimSpace(line)
			if stripped == "" || strings.HasPrefix(stripped, "#") {
				continue
			}
			re, err := regexp.Compile("(?i)" + stripped)
			if err != nil {
				s.log.Warnw("invalid regex, skipping", "file", name, "line", lineno+1, "pattern", stripped, "error", err)
				continue
			}
			compiled = append(compiled, re)
		}
	}

	s.swap(compiled)
	s.log.Infow("loaded regex patterns", "count", len(compiled), "dir", s.dir)
	return len(compiled), nil
}

func (s *PatternStore) swap(patterns []*regexp.Regexp) {
	s.mu.Lock()
	s.active = patterns
	s.mu.Unlock()
}

// Snapshot returns the currently active pattern list. Callers must not
// mutate the returned slice; matching happens outside the lock.
func (s *PatternStore) Snapshot() []*regexp.Regexp {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}
