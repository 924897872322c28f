package track

import (
	"fmt"

	"github.com/gobwas/glob"
)

// IgnoreList excludes entity types from tracking. Patterns are glob
// expressions matched against the full entity type name, e.g. "audit.*"
// or "tagging.TagAssignment". An empty list ignores nothing.
type IgnoreList struct {
	globs []glob.Glob
}

// NewIgnoreList compiles the given patterns.
func NewIgnoreList(patterns []string) (*IgnoreList, error) {
	list := &IgnoreList{globs: make([]glob.Glob, 0, len(patterns))}
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid ignore pattern %q: %w", pattern, err)
		}
		list.globs = append(list.globs, g)
	}
	return list, nil
}

// Matches reports whether the entity type is excluded from tracking.
func (l *IgnoreList) Matches(entityType string) bool {
	if l == nil {
		return false
	}
	for _, g := range l.globs {
		if g.Match(entityType) {
			return true
		}
	}
	return false
}
