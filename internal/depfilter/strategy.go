package depfilter

import (
	"fmt"
	"strings"

	"github.com/example/hdeploy/internal/project"
)

// Strategy derives exclusion keys from runtime library filenames and matches
// project artifacts against them.
type Strategy interface {
	Name() string
	// Key derives the exclusion key for a library filename. ok is false when
	// the file contributes nothing.
	Key(filename string) (key string, ok bool)
	Matches(set ExclusionSet, a project.Artifact) bool
}

// BaseNameStrategy keys a library by the filename text before its last
// hyphen (hadoop-core-1.0.0.jar -> hadoop-core) and matches on artifactId.
type BaseNameStrategy struct{}

func (BaseNameStrategy) Name() string { return "basename" }

func (BaseNameStrategy) Key(filename string) (string, bool) {
	return BaseName(filename)
}

func (BaseNameStrategy) Matches(set ExclusionSet, a project.Artifact) bool {
	return set.Has(a.ArtifactID)
}

// FileNameStrategy keys a library by its full filename and matches on the
// artifact's backing file name.
type FileNameStrategy struct{}

func (FileNameStrategy) Name() string { return "filename" }

func (FileNameStrategy) Key(filename string) (string, bool) {
	return filename, filename != ""
}

func (FileNameStrategy) Matches(set ExclusionSet, a project.Artifact) bool {
	return set.Has(a.FileName())
}

// BaseName strips the final hyphen and everything after it. Names without a
// hyphen, or with nothing before it, yield ok=false.
func BaseName(filename string) (string, bool) {
	idx := strings.LastIndex(filename, "-")
	if idx <= 0 {
		return "", false
	}
	return filename[:idx], true
}

// StrategyByName resolves a CLI/config strategy name.
func StrategyByName(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "basename", "base-name":
		return BaseNameStrategy{}, nil
	case "filename", "file-name", "exact":
		return FileNameStrategy{}, nil
	default:
		return nil, fmt.Errorf("unknown exclusion strategy %q (expected basename or filename)", name)
	}
}
