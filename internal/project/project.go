// File: internal/project/project.go
// Brief: Project descriptor (hdeploy.yaml) and artifact coordinates.

// Package project loads the project model consumed by a pack run: the
// project's identity, where its compiled output lives and which dependency
// artifacts back it.
package project

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"
)

const (
	// DescriptorName is the file Load looks for when handed a directory.
	DescriptorName = "hdeploy.yaml"

	defaultBuildDir     = "target"
	defaultClassesDir   = "classes"
	defaultDeployDir    = "hadoop-deploy"
	defaultLocalRepo    = "~/.m2/repository"
	defaultArtifactType = "jar"
	archiveSuffix       = "-hdeploy"
)

// Artifact identifies one dependency and the file that backs it.
type Artifact struct {
	GroupID    string `yaml:"groupId" json:"groupId"`
	ArtifactID string `yaml:"artifactId" json:"artifactId"`
	Version    string `yaml:"version,omitempty" json:"version,omitempty"`
	Type       string `yaml:"type,omitempty" json:"type,omitempty"`
	Classifier string `yaml:"classifier,omitempty" json:"classifier,omitempty"`
	File       string `yaml:"file,omitempty" json:"file,omitempty"`
}

// Key is the identity used for set semantics: two artifacts with the same key
// are the same dependency regardless of version or backing file.
func (a Artifact) Key() string {
	key := a.GroupID + ":" + a.ArtifactID + ":" + a.PackagingType()
	if a.Classifier != "" {
		key += ":" + a.Classifier
	}
	return key
}

// PackagingType returns the artifact type, defaulting to jar.
func (a Artifact) PackagingType() string {
	if t := strings.TrimSpace(a.Type); t != "" {
		return t
	}
	return defaultArtifactType
}

// FileName is the base name of the backing file, or the conventional
// <artifactId>-<version>[-<classifier>].<type> name when no file is set.
func (a Artifact) FileName() string {
	if a.File != "" {
		return filepath.Base(a.File)
	}
	name := a.ArtifactID
	if a.Version != "" {
		name += "-" + a.Version
	}
	if a.Classifier != "" {
		name += "-" + a.Classifier
	}
	return name + "." + a.PackagingType()
}

func (a Artifact) String() string {
	parts := []string{a.GroupID, a.ArtifactID, a.PackagingType()}
	if a.Classifier != "" {
		parts = append(parts, a.Classifier)
	}
	if a.Version != "" {
		parts = append(parts, a.Version)
	}
	return strings.Join(parts, ":")
}

// Descriptor is the on-disk shape of hdeploy.yaml.
type Descriptor struct {
	GroupID         string     `yaml:"groupId,omitempty"`
	ArtifactID      string     `yaml:"artifactId"`
	Version         string     `yaml:"version,omitempty"`
	BuildDir        string     `yaml:"buildDir,omitempty"`
	CompiledOutput  string     `yaml:"compiledOutput,omitempty"`
	LocalRepository string     `yaml:"localRepository,omitempty"`
	Dependencies    []Artifact `yaml:"dependencies,omitempty"`
}

// Project is a loaded descriptor with every path made absolute.
type Project struct {
	Path string

	groupID      string
	artifactID   string
	version      string
	buildDir     string
	compiledDir  string
	localRepo    string
	dependencies []Artifact
}

// Load reads a descriptor. path may name the file itself or the directory
// that holds hdeploy.yaml.
func Load(path string) (*Project, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("project descriptor path is required")
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("expand project path: %w", err)
	}
	if info, err := os.Stat(expanded); err == nil && info.IsDir() {
		expanded = filepath.Join(expanded, DescriptorName)
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return nil, fmt.Errorf("resolve project path: %w", err)
	}
	raw, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read project descriptor: %w", err)
	}
	var desc Descriptor
	if err := yaml.Unmarshal(raw, &desc); err != nil {
		return nil, fmt.Errorf("parse project descriptor %s: %w", abs, err)
	}
	return FromDescriptor(desc, filepath.Dir(abs), abs)
}

// FromDescriptor resolves desc relative to baseDir. source is recorded as
// the project's Path and may be empty.
func FromDescriptor(desc Descriptor, baseDir, source string) (*Project, error) {
	if strings.TrimSpace(desc.ArtifactID) == "" {
		return nil, errors.New("project descriptor: artifactId is required")
	}
	resolve := func(p string) (string, error) {
		p, err := homedir.Expand(strings.TrimSpace(p))
		if err != nil {
			return "", err
		}
		if !filepath.IsAbs(p) {
			p = filepath.Join(baseDir, p)
		}
		return filepath.Clean(p), nil
	}

	buildDir, err := resolve(firstNonEmpty(desc.BuildDir, defaultBuildDir))
	if err != nil {
		return nil, fmt.Errorf("resolve buildDir: %w", err)
	}
	compiled := filepath.Join(buildDir, defaultClassesDir)
	if strings.TrimSpace(desc.CompiledOutput) != "" {
		if compiled, err = resolve(desc.CompiledOutput); err != nil {
			return nil, fmt.Errorf("resolve compiledOutput: %w", err)
		}
	}
	localRepo, err := resolve(firstNonEmpty(desc.LocalRepository, defaultLocalRepo))
	if err != nil {
		return nil, fmt.Errorf("resolve localRepository: %w", err)
	}

	p := &Project{
		Path:        source,
		groupID:     strings.TrimSpace(desc.GroupID),
		artifactID:  strings.TrimSpace(desc.ArtifactID),
		version:     strings.TrimSpace(desc.Version),
		buildDir:    buildDir,
		compiledDir: compiled,
		localRepo:   localRepo,
	}
	for i, dep := range desc.Dependencies {
		dep.GroupID = strings.TrimSpace(dep.GroupID)
		dep.ArtifactID = strings.TrimSpace(dep.ArtifactID)
		dep.Version = strings.TrimSpace(dep.Version)
		dep.Type = strings.TrimSpace(dep.Type)
		dep.Classifier = strings.TrimSpace(dep.Classifier)
		if dep.ArtifactID == "" {
			return nil, fmt.Errorf("dependency %d: artifactId is required", i)
		}
		if strings.TrimSpace(dep.File) != "" {
			if dep.File, err = resolve(dep.File); err != nil {
				return nil, fmt.Errorf("dependency %s: resolve file: %w", dep, err)
			}
		} else {
			dep.File = RepositoryPath(localRepo, dep)
		}
		p.dependencies = append(p.dependencies, dep)
	}
	return p, nil
}

// RepositoryPath returns where a Maven-layout repository rooted at repo
// stores a.
func RepositoryPath(repo string, a Artifact) string {
	parts := []string{repo}
	parts = append(parts, strings.Split(a.GroupID, ".")...)
	parts = append(parts, a.ArtifactID, a.Version, a.FileName())
	return filepath.Join(parts...)
}

// Identifier names the final archive: <artifactId>.
func (p *Project) Identifier() string { return p.artifactID }

func (p *Project) GroupID() string { return p.groupID }

func (p *Project) Version() string { return p.version }

// BuildDir is the project's build directory (default <project>/target).
func (p *Project) BuildDir() string { return p.buildDir }

// CompiledOutputDir is where the compiled classes live.
func (p *Project) CompiledOutputDir() string { return p.compiledDir }

// DefaultOutputDir is <buildDir>/hadoop-deploy.
func (p *Project) DefaultOutputDir() string {
	return filepath.Join(p.buildDir, defaultDeployDir)
}

// Dependencies returns a copy of the resolved dependency list.
func (p *Project) Dependencies() []Artifact {
	out := make([]Artifact, len(p.dependencies))
	copy(out, p.dependencies)
	return out
}

// ArchiveBaseName is the archive file name without extension.
func ArchiveBaseName(identifier string) string {
	return identifier + archiveSuffix
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
