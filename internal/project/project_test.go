package project

import (
	"os"
	"path/filepath"
	"testing"
)

func writeDescriptor(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, DescriptorName)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write descriptor: %v", err)
	}
	return path
}

func TestLoadResolvesDefaultsRelativeToDescriptor(t *testing.T) {
	dir := t.TempDir()
	writeDescriptor(t, dir, `groupId: com.example
artifactId: wordcount
version: 1.0.0
localRepository: repo
dependencies:
  - groupId: org.apache.commons
    artifactId: commons-lang3
    version: "3.12.0"
  - groupId: com.example
    artifactId: lib-utils
    version: "2.1"
    file: libs/lib-utils-2.1.jar
  - groupId: com.example
    artifactId: parent
    version: "1"
    type: pom
`)

	p, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if p.Identifier() != "wordcount" {
		t.Fatalf("identifier = %q", p.Identifier())
	}
	if got, want := p.CompiledOutputDir(), filepath.Join(dir, "target", "classes"); got != want {
		t.Fatalf("compiled output = %q, want %q", got, want)
	}
	if got, want := p.DefaultOutputDir(), filepath.Join(dir, "target", "hadoop-deploy"); got != want {
		t.Fatalf("default output = %q, want %q", got, want)
	}

	deps := p.Dependencies()
	if len(deps) != 3 {
		t.Fatalf("expected 3 dependencies, got %d", len(deps))
	}
	wantRepo := filepath.Join(dir, "repo", "org", "apache", "commons", "commons-lang3", "3.12.0", "commons-lang3-3.12.0.jar")
	if deps[0].File != wantRepo {
		t.Fatalf("repository path = %q, want %q", deps[0].File, wantRepo)
	}
	if deps[1].File != filepath.Join(dir, "libs", "lib-utils-2.1.jar") {
		t.Fatalf("explicit file not resolved against descriptor dir: %q", deps[1].File)
	}
	if deps[2].PackagingType() != "pom" || deps[0].PackagingType() != "jar" {
		t.Fatalf("unexpected packaging types %q %q", deps[2].PackagingType(), deps[0].PackagingType())
	}
}

func TestLoadHonoursCompiledOutputOverride(t *testing.T) {
	dir := t.TempDir()
	path := writeDescriptor(t, dir, "artifactId: job\nbuildDir: out\ncompiledOutput: out/bin\n")
	p, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if p.CompiledOutputDir() != filepath.Join(dir, "out", "bin") {
		t.Fatalf("compiled output = %q", p.CompiledOutputDir())
	}
	if p.DefaultOutputDir() != filepath.Join(dir, "out", "hadoop-deploy") {
		t.Fatalf("default output = %q", p.DefaultOutputDir())
	}
}

func TestLoadRejectsMissingArtifactID(t *testing.T) {
	dir := t.TempDir()
	writeDescriptor(t, dir, "groupId: com.example\n")
	if _, err := Load(dir); err == nil {
		t.Fatalf("expected error for missing artifactId")
	}
}

func TestLoadRejectsDependencyWithoutArtifactID(t *testing.T) {
	dir := t.TempDir()
	writeDescriptor(t, dir, "artifactId: job\ndependencies:\n  - groupId: x\n")
	if _, err := Load(dir); err == nil {
		t.Fatalf("expected error for dependency without artifactId")
	}
}

func TestArtifactIdentity(t *testing.T) {
	a := Artifact{GroupID: "org.apache", ArtifactID: "hadoop-core", Version: "1.0.0"}
	b := Artifact{GroupID: "org.apache", ArtifactID: "hadoop-core", Version: "1.2.0", File: "/x/hadoop-core-1.2.0.jar"}
	if a.Key() != b.Key() {
		t.Fatalf("version must not change identity: %q vs %q", a.Key(), b.Key())
	}
	if a.FileName() != "hadoop-core-1.0.0.jar" {
		t.Fatalf("conventional file name = %q", a.FileName())
	}
	if b.FileName() != "hadoop-core-1.2.0.jar" {
		t.Fatalf("backing file name = %q", b.FileName())
	}
	if a.String() != "org.apache:hadoop-core:jar:1.0.0" {
		t.Fatalf("string = %q", a.String())
	}
	if ArchiveBaseName("wordcount") != "wordcount-hdeploy" {
		t.Fatalf("archive base name = %q", ArchiveBaseName("wordcount"))
	}
}
