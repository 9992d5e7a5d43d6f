package lifecycle

import (
	"path/filepath"
	"runtime"
	"strings"
)

// imageMatcher compares process names against executable image names.
// Extensions are ignored; Windows compares case-insensitively like tasklist.
//
// Matching by name is approximate: any unrelated process whose executable
// shares a base name is matched too.
type imageMatcher struct {
	images          map[string]bool
	caseInsensitive bool
}

func newImageMatcher(images ...string) *imageMatcher {
	m := &imageMatcher{caseInsensitive: runtime.GOOS == "windows"}
	m.add(images...)
	return m
}

func (m *imageMatcher) add(images ...string) {
	if m.images == nil {
		m.images = make(map[string]bool, len(images))
	}
	for _, image := range images {
		if image == "" {
			continue
		}
		if k := m.key(image); k != "" && k != "." {
			m.images[k] = true
		}
	}
}

func (m *imageMatcher) key(name string) string {
	base := filepath.Base(name)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if m.caseInsensitive {
		return strings.ToLower(base)
	}
	return base
}

func (m *imageMatcher) matches(processName string) bool {
	if processName == "" {
		return false
	}
	return m.images[m.key(processName)]
}
