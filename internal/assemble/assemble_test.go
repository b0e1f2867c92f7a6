package assemble

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
	"github.com/google/go-cmp/cmp"

	"github.com/example/hdeploy/internal/archive"
	"github.com/example/hdeploy/internal/depfilter"
	"github.com/example/hdeploy/internal/packerr"
	"github.com/example/hdeploy/internal/project"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

type fixture struct {
	build    string
	classes  string
	runtime  string
	repo     string
	deps     Dependencies
	utilsJar string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{
		build:   filepath.Join(root, "target"),
		runtime: filepath.Join(root, "hadoop", "share", "lib"),
		repo:    filepath.Join(root, "m2"),
	}
	f.classes = filepath.Join(f.build, "classes")
	writeFile(t, filepath.Join(f.classes, "com", "example", "Job.class"), "bytecode")
	writeFile(t, filepath.Join(f.runtime, "hadoop-core-1.0.0.jar"), "runtime")
	writeFile(t, filepath.Join(f.runtime, "common", "commons-logging-1.1.1.jar"), "runtime")

	f.utilsJar = filepath.Join(f.repo, "lib-utils-2.1.jar")
	writeFile(t, f.utilsJar, "utils")
	hadoopCore := filepath.Join(f.repo, "hadoop-core-1.0.0.jar")
	writeFile(t, hadoopCore, "provided")
	logging := filepath.Join(f.repo, "commons-logging-1.1.1.jar")
	writeFile(t, logging, "provided")
	jsp := filepath.Join(f.repo, "jsp-api-2.1.jar")
	writeFile(t, jsp, "stub")

	f.deps = Dependencies{
		{GroupID: "com.example", ArtifactID: "lib-utils", Version: "2.1", File: f.utilsJar},
		{GroupID: "org.apache.hadoop", ArtifactID: "hadoop-core", Version: "1.0.0", File: hadoopCore},
		{GroupID: "commons-logging", ArtifactID: "commons-logging", Version: "1.1.1", File: logging},
		{GroupID: "javax.servlet", ArtifactID: "jsp-api", Version: "2.1", File: jsp},
	}
	return f
}

func (f *fixture) config() Config {
	return Config{
		RuntimeLibDir:     f.runtime,
		CompiledOutputDir: f.classes,
		ProjectID:         "wordcount",
	}
}

func TestInvokeBuildsArchive(t *testing.T) {
	f := newFixture(t)
	res, err := New(logr.Discard()).Invoke(context.Background(), f.config(), f.deps)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	wantPath := filepath.Join(f.build, DefaultOutputDirName, "wordcount-hdeploy.jar")
	if res.ArchivePath != wantPath {
		t.Fatalf("archive path = %s, want %s", res.ArchivePath, wantPath)
	}
	if len(res.Retained) != 1 || res.Retained[0].ArtifactID != "lib-utils" {
		t.Fatalf("unexpected retained set %v", res.Retained)
	}
	if len(res.Excluded) != 3 {
		t.Fatalf("expected 3 exclusions, got %v", res.Excluded)
	}
	if res.Exclusions != 2 {
		t.Fatalf("expected 2 runtime keys, got %d", res.Exclusions)
	}

	listing, err := archive.Inspect(res.ArchivePath)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	var names []string
	for _, e := range listing.Entries {
		names = append(names, e.Name)
	}
	want := []string{"com/", "com/example/", "com/example/Job.class", "lib/", "lib/lib-utils-2.1.jar"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Fatalf("entries mismatch (-want +got):\n%s", diff)
	}
	if listing.Digest != res.Archive.Digest {
		t.Fatalf("digest mismatch: %s vs %s", listing.Digest, res.Archive.Digest)
	}
}

func TestInvokeLeavesSourcesUntouched(t *testing.T) {
	f := newFixture(t)
	if _, err := New(logr.Discard()).Invoke(context.Background(), f.config(), f.deps); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	for _, p := range []string{
		filepath.Join(f.classes, "com", "example", "Job.class"),
		filepath.Join(f.runtime, "hadoop-core-1.0.0.jar"),
		f.utilsJar,
	} {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("source %s changed: %v", p, err)
		}
	}
}

func TestInvokeRebuildsStagingFromScratch(t *testing.T) {
	f := newFixture(t)
	cfg := f.config()
	cfg.OutputDir = filepath.Join(t.TempDir(), "out")
	stale := filepath.Join(cfg.OutputDir, "root", "stale.class")
	writeFile(t, stale, "old")

	res, err := New(logr.Discard()).Invoke(context.Background(), cfg, f.deps)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("stale staging content survived: %v", err)
	}
	listing, err := archive.Inspect(res.ArchivePath)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	for _, e := range listing.Entries {
		if e.Name == "stale.class" {
			t.Fatalf("stale entry archived")
		}
	}
}

func TestInvokeMissingRuntimeDirIsConfigurationError(t *testing.T) {
	f := newFixture(t)
	cfg := f.config()
	cfg.RuntimeLibDir = ""
	cfg.OutputDir = filepath.Join(t.TempDir(), "out")
	existing := filepath.Join(t.TempDir(), "existing")
	writeFile(t, filepath.Join(existing, "root", "keep.class"), "keep")

	_, err := New(logr.Discard()).Invoke(context.Background(), cfg, f.deps)
	if !packerr.Is(err, packerr.KindConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if _, err := os.Stat(cfg.OutputDir); !os.IsNotExist(err) {
		t.Fatalf("staging directory must not be created: %v", err)
	}

	cfg.OutputDir = existing
	if _, err := New(logr.Discard()).Invoke(context.Background(), cfg, f.deps); !packerr.Is(err, packerr.KindConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(existing, "root", "keep.class")); err != nil {
		t.Fatalf("existing staging directory must not be deleted: %v", err)
	}
}

func TestInvokeRuntimeDirMustExist(t *testing.T) {
	f := newFixture(t)
	cfg := f.config()
	cfg.RuntimeLibDir = filepath.Join(t.TempDir(), "missing")
	if _, err := New(logr.Discard()).Invoke(context.Background(), cfg, f.deps); !packerr.Is(err, packerr.KindConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestInvokeUnreadableCompiledOutputIsIOError(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced for root")
	}
	f := newFixture(t)
	cfg := f.config()
	cfg.OutputDir = filepath.Join(t.TempDir(), "out")
	writeFile(t, filepath.Join(cfg.OutputDir, "root", "stale.class"), "old")
	if err := os.Chmod(f.classes, 0o000); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(f.classes, 0o755) })

	_, err := New(logr.Discard()).Invoke(context.Background(), cfg, f.deps)
	if !packerr.Is(err, packerr.KindIO) {
		t.Fatalf("expected io error, got %v", err)
	}
	// Staging was reset before the copy failed and is not rolled back.
	if fi, err := os.Stat(filepath.Join(cfg.OutputDir, "root", "lib")); err != nil || !fi.IsDir() {
		t.Fatalf("expected recreated staging root: %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.OutputDir, "root", "stale.class")); !os.IsNotExist(err) {
		t.Fatalf("expected cleared staging root, stat err=%v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.OutputDir, "wordcount-hdeploy.jar")); !os.IsNotExist(err) {
		t.Fatalf("no archive expected, stat err=%v", err)
	}
}

func TestInvokeMissingCompiledOutputIsConfigurationError(t *testing.T) {
	f := newFixture(t)
	cfg := f.config()
	cfg.OutputDir = filepath.Join(t.TempDir(), "out")
	stale := filepath.Join(cfg.OutputDir, "root", "stale.class")
	writeFile(t, stale, "old")

	for name, compiled := range map[string]string{
		"missing":   filepath.Join(f.build, "missing-classes"),
		"not a dir": filepath.Join(f.classes, "com", "example", "Job.class"),
	} {
		t.Run(name, func(t *testing.T) {
			cfg := cfg
			cfg.CompiledOutputDir = compiled
			if _, err := New(logr.Discard()).Invoke(context.Background(), cfg, f.deps); !packerr.Is(err, packerr.KindConfiguration) {
				t.Fatalf("expected configuration error, got %v", err)
			}
			if _, err := os.Stat(stale); err != nil {
				t.Fatalf("staging must be left alone on configuration errors: %v", err)
			}
		})
	}
}

func TestInvokeRejectsUnsafeOutputDir(t *testing.T) {
	f := newFixture(t)
	nested := filepath.Join(f.classes, "deploy", "keep.class")
	writeFile(t, nested, "keep")
	for name, out := range map[string]string{
		"compiled output": f.classes,
		"build parent":    f.build,
		"runtime parent":  filepath.Dir(f.runtime),
		"filesystem root": string(filepath.Separator),
		"inside compiled": filepath.Join(f.classes, "deploy"),
		"inside runtime":  filepath.Join(f.runtime, "deploy"),
	} {
		t.Run(name, func(t *testing.T) {
			cfg := f.config()
			cfg.OutputDir = out
			if _, err := New(logr.Discard()).Invoke(context.Background(), cfg, f.deps); !packerr.Is(err, packerr.KindConfiguration) {
				t.Fatalf("expected configuration error, got %v", err)
			}
		})
	}
	for _, p := range []string{filepath.Join(f.classes, "com", "example", "Job.class"), nested} {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("compiled output was touched: %v", err)
		}
	}
}

func TestInvokeSkipsNonLibraryAndMissingArtifacts(t *testing.T) {
	f := newFixture(t)
	pom := filepath.Join(f.repo, "parent-1.pom")
	writeFile(t, pom, "<project/>")
	deps := append(Dependencies{
		{GroupID: "com.example", ArtifactID: "parent", Version: "1", Type: "pom", File: pom},
		{GroupID: "com.example", ArtifactID: "ghost", Version: "1", File: filepath.Join(f.repo, "ghost-1.jar")},
	}, f.deps...)

	res, err := New(logr.Discard()).Invoke(context.Background(), f.config(), deps)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if len(res.Skipped) != 2 {
		t.Fatalf("expected 2 skipped artifacts, got %v", res.Skipped)
	}
	got := map[string]string{}
	for _, s := range res.Skipped {
		got[s.Artifact.ArtifactID] = s.Reason
	}
	if got["ghost"] != reasonMissingFile {
		t.Fatalf("ghost skipped for %q", got["ghost"])
	}
	if len(res.Retained) != 1 || res.Retained[0].ArtifactID != "lib-utils" {
		t.Fatalf("unexpected retained set %v", res.Retained)
	}
}

func TestInvokeRejectsCollidingLibraryFiles(t *testing.T) {
	f := newFixture(t)
	other := filepath.Join(t.TempDir(), "lib-utils-2.1.jar")
	writeFile(t, other, "fork")
	deps := append(Dependencies{
		{GroupID: "org.fork", ArtifactID: "lib-utils", Version: "2.1", File: other},
	}, f.deps...)
	if _, err := New(logr.Discard()).Invoke(context.Background(), f.config(), deps); !packerr.Is(err, packerr.KindIO) {
		t.Fatalf("expected io error, got %v", err)
	}
}

func TestProjectSatisfiesDependencyLister(t *testing.T) {
	f := newFixture(t)
	p, err := project.FromDescriptor(project.Descriptor{
		ArtifactID:   "wordcount",
		BuildDir:     f.build,
		Dependencies: f.deps,
	}, f.build, "")
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	cfg := Config{
		RuntimeLibDir:     f.runtime,
		CompiledOutputDir: p.CompiledOutputDir(),
		OutputDir:         p.DefaultOutputDir(),
		ProjectID:         p.Identifier(),
	}
	res, err := New(logr.Discard()).Invoke(context.Background(), cfg, p)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if filepath.Base(res.ArchivePath) != "wordcount-hdeploy.jar" {
		t.Fatalf("unexpected archive %s", res.ArchivePath)
	}
}

func TestInvokeCopiesManyDependenciesWithBoundedWorkers(t *testing.T) {
	f := newFixture(t)
	deps := append(Dependencies(nil), f.deps...)
	for i := 0; i < 12; i++ {
		name := "extra-" + string(rune('a'+i))
		file := filepath.Join(f.repo, name+"-1.0.jar")
		writeFile(t, file, name)
		deps = append(deps, project.Artifact{GroupID: "com.example", ArtifactID: name, Version: "1.0", File: file})
	}
	cfg := f.config()
	cfg.CopyWorkers = 2
	res, err := New(logr.Discard()).Invoke(context.Background(), cfg, deps)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if len(res.Retained) != 13 {
		t.Fatalf("expected 13 retained, got %d", len(res.Retained))
	}
	if res.Archive.Files != 14 {
		t.Fatalf("expected 14 archived files, got %d", res.Archive.Files)
	}

	cfg.CopyWorkers = -1
	if _, err := New(logr.Discard()).Invoke(context.Background(), cfg, deps); !packerr.Is(err, packerr.KindConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestInvokeZeroFilterAppliesNamespaceRules(t *testing.T) {
	f := newFixture(t)
	custom := filepath.Join(f.repo, "hadoop-custom-1.0.0.jar")
	writeFile(t, custom, "custom")
	deps := append(Dependencies{
		{GroupID: "org.apache.hadoop", ArtifactID: "hadoop-custom", Version: "1.0.0", File: custom},
	}, f.deps...)

	cfg := f.config()
	cfg.Filter = depfilter.Options{}
	res, err := New(logr.Discard()).Invoke(context.Background(), cfg, deps)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if len(res.Retained) != 1 || res.Retained[0].ArtifactID != "lib-utils" {
		t.Fatalf("unexpected retained set %v", res.Retained)
	}
	excluded := map[string]bool{}
	for _, d := range res.Excluded {
		excluded[d.Artifact.ArtifactID] = true
	}
	for _, id := range []string{"hadoop-custom", "jsp-api"} {
		if !excluded[id] {
			t.Fatalf("expected %s to be excluded, got %v", id, res.Excluded)
		}
	}
}

func TestInvokeScopesCopyLogsToProject(t *testing.T) {
	f := newFixture(t)
	var (
		mu    sync.Mutex
		lines []string
	)
	log := funcr.New(func(prefix, args string) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, args)
	}, funcr.Options{Verbosity: 1})

	cfg := f.config()
	cfg.CopyWorkers = 2
	if _, err := New(log).Invoke(context.Background(), cfg, f.deps); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	var staged int
	for _, line := range lines {
		if !strings.Contains(line, `"msg"="dependency staged"`) {
			continue
		}
		staged++
		if !strings.Contains(line, `"project"="wordcount"`) {
			t.Fatalf("copy log is missing the project key: %s", line)
		}
	}
	if staged != 1 {
		t.Fatalf("expected one staged dependency log line, got %d in %v", staged, lines)
	}
}
