// File: internal/depfilter/depfilter.go
// Brief: Removes dependencies the target runtime already ships on its classpath.

// Package depfilter computes which project dependencies must travel inside
// the deploy archive. The runtime's library directory carries no structured
// artifact identity, so exclusion works from filenames through a pluggable
// Strategy plus two namespace rules.
package depfilter

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/example/hdeploy/internal/packerr"
	"github.com/example/hdeploy/internal/project"
)

const (
	// DefaultReservedGroupPrefix is the group namespace of the runtime's own artifacts.
	DefaultReservedGroupPrefix = "org.apache"
	// DefaultReservedArtifactPrefix narrows DefaultReservedGroupPrefix to the runtime's modules.
	DefaultReservedArtifactPrefix = "hadoop"
	// DefaultStubPrefix marks servlet/JSP stub libraries the runtime always supplies.
	DefaultStubPrefix = "jsp-"
)

// DefaultExtensions lists the library file extensions scanned by default.
var DefaultExtensions = []string{".jar"}

// Options tunes the filter. A nil prefix takes its Default value; a prefix
// pointing at "" disables the rule it drives.
type Options struct {
	Strategy               Strategy
	Extensions             []string
	ReservedGroupPrefix    *string
	ReservedArtifactPrefix *string
	StubPrefix             *string
}

// DefaultOptions returns options tuned to the Hadoop runtime namespace.
func DefaultOptions() Options {
	return Options{
		Strategy:               BaseNameStrategy{},
		Extensions:             append([]string(nil), DefaultExtensions...),
		ReservedGroupPrefix:    Prefix(DefaultReservedGroupPrefix),
		ReservedArtifactPrefix: Prefix(DefaultReservedArtifactPrefix),
		StubPrefix:             Prefix(DefaultStubPrefix),
	}
}

// Prefix returns a pointer to s for use in Options.
func Prefix(s string) *string { return &s }

func prefixOr(p *string, def string) string {
	if p == nil {
		return def
	}
	return *p
}

// ExclusionSet holds the keys derived from the runtime library directory.
type ExclusionSet map[string]struct{}

// Has reports whether key was derived from a runtime library file.
func (s ExclusionSet) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// Len returns the number of distinct keys.
func (s ExclusionSet) Len() int { return len(s) }

// Sorted returns the keys in lexicographic order.
func (s ExclusionSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Decision records why an artifact was kept or dropped.
type Decision struct {
	Artifact project.Artifact `json:"artifact"`
	Excluded bool             `json:"excluded"`
	Reason   string           `json:"reason,omitempty"`
}

// Filter applies Options to dependency lists.
type Filter struct {
	opts Options

	reservedGroup    string
	reservedArtifact string
	stub             string
}

// New returns a Filter. A nil Strategy falls back to BaseNameStrategy, an
// empty extension list to DefaultExtensions and nil prefixes to their
// defaults, so the zero Options filters like DefaultOptions.
func New(opts Options) *Filter {
	if opts.Strategy == nil {
		opts.Strategy = BaseNameStrategy{}
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = append([]string(nil), DefaultExtensions...)
	}
	exts := make([]string, 0, len(opts.Extensions))
	for _, ext := range opts.Extensions {
		ext = strings.TrimSpace(ext)
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts = append(exts, strings.ToLower(ext))
	}
	opts.Extensions = exts
	return &Filter{
		opts:             opts,
		reservedGroup:    prefixOr(opts.ReservedGroupPrefix, DefaultReservedGroupPrefix),
		reservedArtifact: prefixOr(opts.ReservedArtifactPrefix, DefaultReservedArtifactPrefix),
		stub:             prefixOr(opts.StubPrefix, DefaultStubPrefix),
	}
}

// Strategy returns the active strategy.
func (f *Filter) Strategy() Strategy { return f.opts.Strategy }

// Exclusions scans runtimeLibDir recursively and derives the ExclusionSet.
// A missing or unreadable directory is a KindFilter error; it never degrades
// to an empty set.
func (f *Filter) Exclusions(runtimeLibDir string) (ExclusionSet, error) {
	info, err := os.Stat(runtimeLibDir)
	if err != nil {
		return nil, packerr.Filter("stat runtime library directory", runtimeLibDir, err)
	}
	if !info.IsDir() {
		return nil, packerr.Filter("stat runtime library directory", runtimeLibDir, fs.ErrInvalid)
	}

	set := ExclusionSet{}
	err = filepath.WalkDir(runtimeLibDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !f.isLibrary(d.Name()) {
			return nil
		}
		if key, ok := f.opts.Strategy.Key(d.Name()); ok {
			set[key] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, packerr.Filter("list runtime library directory", runtimeLibDir, err)
	}
	return set, nil
}

// Evaluate decides a single artifact against set.
func (f *Filter) Evaluate(set ExclusionSet, a project.Artifact) Decision {
	if f.opts.Strategy.Matches(set, a) {
		return Decision{Artifact: a, Excluded: true, Reason: "provided by the runtime library directory (" + f.opts.Strategy.Name() + " match)"}
	}
	if g, p := f.reservedGroup, f.reservedArtifact; g != "" && p != "" &&
		strings.HasPrefix(a.GroupID, g) && strings.HasPrefix(a.ArtifactID, p) {
		return Decision{Artifact: a, Excluded: true, Reason: "in '" + g + "' and starts with '" + p + "'"}
	}
	if s := f.stub; s != "" && strings.HasPrefix(a.ArtifactID, s) {
		return Decision{Artifact: a, Excluded: true, Reason: "starts with '" + s + "'"}
	}
	return Decision{Artifact: a}
}

// Apply returns the dependencies not supplied by the runtime, ordered by
// Key, together with one Decision per distinct input artifact. Duplicate
// keys in deps collapse to their first occurrence.
func (f *Filter) Apply(deps []project.Artifact, runtimeLibDir string) ([]project.Artifact, []Decision, error) {
	set, err := f.Exclusions(runtimeLibDir)
	if err != nil {
		return nil, nil, err
	}
	retained, decisions := f.Retain(set, deps)
	return retained, decisions, nil
}

// Retain is Apply against a precomputed set.
func (f *Filter) Retain(set ExclusionSet, deps []project.Artifact) ([]project.Artifact, []Decision) {
	unique := dedupe(deps)
	retained := make([]project.Artifact, 0, len(unique))
	decisions := make([]Decision, 0, len(unique))
	for _, a := range unique {
		d := f.Evaluate(set, a)
		decisions = append(decisions, d)
		if !d.Excluded {
			retained = append(retained, a)
		}
	}
	return retained, decisions
}

func (f *Filter) isLibrary(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, want := range f.opts.Extensions {
		if ext == want {
			return true
		}
	}
	return false
}

func dedupe(deps []project.Artifact) []project.Artifact {
	seen := make(map[string]struct{}, len(deps))
	out := make([]project.Artifact, 0, len(deps))
	for _, a := range deps {
		k := a.Key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}
