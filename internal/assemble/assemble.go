// File: internal/assemble/assemble.go
// Brief: Stages compiled output plus retained dependencies and packs the deploy archive.

// Package assemble runs one pack: validate the configuration, rebuild the
// staging tree, copy compiled output and the dependencies the runtime does
// not already provide, then stream the staging root into the deploy archive.
// A run is synchronous and owns its output directory exclusively.
package assemble

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/example/hdeploy/internal/archive"
	"github.com/example/hdeploy/internal/depfilter"
	"github.com/example/hdeploy/internal/packerr"
	"github.com/example/hdeploy/internal/project"
	"github.com/example/hdeploy/internal/staging"
)

// DefaultOutputDirName is the staging/output directory created next to the
// compiled output when Config.OutputDir is empty.
const DefaultOutputDirName = "hadoop-deploy"

// DefaultCopyWorkers keeps dependency copies serial unless a caller opts in.
const DefaultCopyWorkers = 1

// DefaultLibraryTypes are the packaging types copied into lib/.
var DefaultLibraryTypes = []string{"jar"}

// Config is the immutable input of one pack run.
type Config struct {
	// RuntimeLibDir is the target runtime's own library directory. Required.
	RuntimeLibDir string
	// CompiledOutputDir is the project's build output. Required.
	CompiledOutputDir string
	// OutputDir holds the staging tree and the final archive. Defaults to
	// <parent of CompiledOutputDir>/hadoop-deploy.
	OutputDir string
	// ProjectID names the archive <ProjectID>-hdeploy.jar. Required.
	ProjectID string
	// LibraryTypes restricts which artifact packaging types are staged.
	LibraryTypes []string
	// Filter tunes dependency exclusion.
	Filter depfilter.Options
	// Excludes are patterns pruned from the staged compiled output.
	Excludes []string
	// Archive tunes the archive writer.
	Archive archive.Options
	// CopyWorkers bounds concurrent dependency copies. Zero means
	// DefaultCopyWorkers.
	CopyWorkers int
}

// DependencyLister supplies the project's dependency artifacts.
type DependencyLister interface {
	Dependencies() []project.Artifact
}

// Dependencies adapts a plain slice to DependencyLister.
type Dependencies []project.Artifact

func (d Dependencies) Dependencies() []project.Artifact { return d }

// Skipped records a dependency left out before filtering.
type Skipped struct {
	Artifact project.Artifact `json:"artifact"`
	Reason   string           `json:"reason"`
}

// Result describes a successful run.
type Result struct {
	ArchivePath string               `json:"archivePath"`
	StagingRoot string               `json:"stagingRoot"`
	Exclusions  int                  `json:"exclusions"`
	Retained    []project.Artifact   `json:"retained"`
	Excluded    []depfilter.Decision `json:"excluded,omitempty"`
	Skipped     []Skipped            `json:"skipped,omitempty"`
	Compiled    staging.CopyStats    `json:"compiled"`
	Archive     *archive.WriteResult `json:"archive"`
}

// Assembler runs pack invocations.
type Assembler struct {
	log logr.Logger
}

// New returns an Assembler logging to log. A zero logger discards output.
func New(log logr.Logger) *Assembler {
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	return &Assembler{log: log}
}

// Invoke runs the pack pipeline. Every returned error is a *packerr.Error.
// Configuration problems are reported before the filesystem is touched; any
// later failure leaves the staging tree as it was when the failure hit.
func (a *Assembler) Invoke(ctx context.Context, cfg Config, deps DependencyLister) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := normalize(cfg)
	if err != nil {
		return nil, err
	}
	layout := staging.NewLayout(cfg.OutputDir)
	log := a.log.WithValues("project", cfg.ProjectID)

	if err := staging.Reset(layout); err != nil {
		return nil, packerr.IO("reset staging directory", layout.OutputDir, err)
	}
	log.Info("staging directory reset", "path", layout.Root)

	compiled, err := staging.CopyTree(ctx, cfg.CompiledOutputDir, layout.Root, staging.CopyOptions{
		Excludes:   cfg.Excludes,
		IgnoreFile: true,
	})
	if err != nil {
		return nil, packerr.IO("copy compiled output", cfg.CompiledOutputDir, err)
	}
	log.V(1).Info("compiled output staged", "files", compiled.Files, "dirs", compiled.Dirs, "skipped", compiled.Skipped)

	var all []project.Artifact
	if deps != nil {
		all = deps.Dependencies()
	}
	libraries, skipped := selectLibraries(all, cfg.LibraryTypes)
	for _, s := range skipped {
		if s.Reason == reasonMissingFile {
			log.Info("warning: dependency file not found, skipping", "artifact", s.Artifact.String(), "file", s.Artifact.File)
			continue
		}
		log.V(1).Info("skipping dependency", "artifact", s.Artifact.String(), "reason", s.Reason)
	}

	filter := depfilter.New(cfg.Filter)
	set, err := filter.Exclusions(cfg.RuntimeLibDir)
	if err != nil {
		return nil, err
	}
	log.V(1).Info("runtime library keys", "strategy", filter.Strategy().Name(), "keys", set.Sorted())
	retained, decisions := filter.Retain(set, libraries)

	res := &Result{
		StagingRoot: layout.Root,
		Exclusions:  set.Len(),
		Retained:    retained,
		Skipped:     skipped,
		Compiled:    compiled,
	}
	for _, d := range decisions {
		if d.Excluded {
			log.V(1).Info("ignoring dependency", "artifact", d.Artifact.String(), "reason", d.Reason)
			res.Excluded = append(res.Excluded, d)
		}
	}
	log.Info("dependencies independent of the runtime classpath", "count", len(retained), "excluded", len(res.Excluded))

	if err := stageLibraries(ctx, log, retained, layout.Lib, cfg.CopyWorkers); err != nil {
		return nil, err
	}

	archivePath := filepath.Join(cfg.OutputDir, project.ArchiveBaseName(cfg.ProjectID)+archive.Extension)
	written, err := archive.WriteFile(ctx, layout.Root, archivePath, cfg.Archive)
	if err != nil {
		return nil, packerr.IO("write archive", archivePath, err)
	}
	res.ArchivePath = written.Path
	res.Archive = written
	log.Info("job archive available", "path", written.Path, "entries", len(written.Entries), "digest", written.Digest.String())
	return res, nil
}

// stageLibraries copies retained dependencies into libDir. Names are checked
// for collisions up front so the copies themselves are order-independent.
func stageLibraries(ctx context.Context, log logr.Logger, deps []project.Artifact, libDir string, workers int) error {
	staged := make(map[string]project.Artifact, len(deps))
	for _, dep := range deps {
		name := filepath.Base(dep.File)
		if prev, ok := staged[name]; ok {
			return packerr.IO("copy dependency", dep.File, fmt.Errorf("lib/%s already staged from %s", name, prev))
		}
		staged[name] = dep
	}
	if workers <= 0 {
		workers = DefaultCopyWorkers
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, dep := range deps {
		dep := dep
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return packerr.IO("copy dependency", dep.File, err)
			}
			target, n, err := staging.CopyFileToDir(dep.File, libDir)
			if err != nil {
				return packerr.IO("copy dependency", dep.File, err)
			}
			log.V(1).Info("dependency staged", "artifact", dep.String(), "file", filepath.Base(target), "bytes", n)
			return nil
		})
	}
	return g.Wait()
}

const (
	reasonMissingFile = "backing file not found"
	reasonNoFile      = "no backing file"
)

func selectLibraries(deps []project.Artifact, types []string) ([]project.Artifact, []Skipped) {
	var (
		out     []project.Artifact
		skipped []Skipped
	)
	for _, dep := range deps {
		if !isLibraryType(dep.PackagingType(), types) {
			skipped = append(skipped, Skipped{Artifact: dep, Reason: "packaging type " + dep.PackagingType() + " is not a library"})
			continue
		}
		if strings.TrimSpace(dep.File) == "" {
			skipped = append(skipped, Skipped{Artifact: dep, Reason: reasonNoFile})
			continue
		}
		if fi, err := os.Stat(dep.File); err != nil || fi.IsDir() {
			skipped = append(skipped, Skipped{Artifact: dep, Reason: reasonMissingFile})
			continue
		}
		out = append(out, dep)
	}
	return out, skipped
}

func isLibraryType(t string, types []string) bool {
	for _, want := range types {
		if strings.EqualFold(t, want) {
			return true
		}
	}
	return false
}

func normalize(cfg Config) (Config, error) {
	cfg.RuntimeLibDir = strings.TrimSpace(cfg.RuntimeLibDir)
	if cfg.RuntimeLibDir == "" {
		return cfg, packerr.Configuration("runtime library directory", "", errors.New("must be set for packing to work"))
	}
	cfg.CompiledOutputDir = strings.TrimSpace(cfg.CompiledOutputDir)
	if cfg.CompiledOutputDir == "" {
		return cfg, packerr.Configuration("compiled output directory", "", errors.New("must be set"))
	}
	cfg.ProjectID = strings.TrimSpace(cfg.ProjectID)
	if cfg.ProjectID == "" || strings.ContainsAny(cfg.ProjectID, `/\`) {
		return cfg, packerr.Configuration("project identifier", cfg.ProjectID, errors.New("must be a non-empty file name"))
	}

	var err error
	if cfg.RuntimeLibDir, err = filepath.Abs(cfg.RuntimeLibDir); err != nil {
		return cfg, packerr.Configuration("runtime library directory", cfg.RuntimeLibDir, err)
	}
	fi, err := os.Stat(cfg.RuntimeLibDir)
	if err != nil {
		return cfg, packerr.Configuration("runtime library directory", cfg.RuntimeLibDir, err)
	}
	if !fi.IsDir() {
		return cfg, packerr.Configuration("runtime library directory", cfg.RuntimeLibDir, errors.New("not a directory"))
	}
	if cfg.CopyWorkers < 0 {
		return cfg, packerr.Configuration("copy workers", "", fmt.Errorf("must not be negative, got %d", cfg.CopyWorkers))
	}
	if cfg.CompiledOutputDir, err = filepath.Abs(cfg.CompiledOutputDir); err != nil {
		return cfg, packerr.Configuration("compiled output directory", cfg.CompiledOutputDir, err)
	}
	fi, err = os.Stat(cfg.CompiledOutputDir)
	if err != nil {
		return cfg, packerr.Configuration("compiled output directory", cfg.CompiledOutputDir, err)
	}
	if !fi.IsDir() {
		return cfg, packerr.Configuration("compiled output directory", cfg.CompiledOutputDir, errors.New("not a directory"))
	}

	if strings.TrimSpace(cfg.OutputDir) == "" {
		cfg.OutputDir = filepath.Join(filepath.Dir(cfg.CompiledOutputDir), DefaultOutputDirName)
	}
	if cfg.OutputDir, err = filepath.Abs(strings.TrimSpace(cfg.OutputDir)); err != nil {
		return cfg, packerr.Configuration("output directory", cfg.OutputDir, err)
	}
	if filepath.Dir(cfg.OutputDir) == cfg.OutputDir {
		return cfg, packerr.Configuration("output directory", cfg.OutputDir, errors.New("refusing to use a filesystem root"))
	}
	for _, src := range []struct{ what, path string }{
		{"compiled output directory", cfg.CompiledOutputDir},
		{"runtime library directory", cfg.RuntimeLibDir},
	} {
		if staging.Contains(cfg.OutputDir, src.path) {
			return cfg, packerr.Configuration("output directory", cfg.OutputDir, fmt.Errorf("would delete the %s %s", src.what, src.path))
		}
		if staging.Contains(src.path, cfg.OutputDir) {
			return cfg, packerr.Configuration("output directory", cfg.OutputDir, fmt.Errorf("lies inside the %s %s", src.what, src.path))
		}
	}

	if len(cfg.LibraryTypes) == 0 {
		cfg.LibraryTypes = DefaultLibraryTypes
	}
	return cfg, nil
}
