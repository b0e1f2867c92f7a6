package appconfig

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// PackConfig holds the pack defaults a repo or user can pin in YAML.
type PackConfig struct {
	RuntimeHome            string   `yaml:"runtimeHome,omitempty"`
	RuntimeLibDir          string   `yaml:"runtimeLibDir,omitempty"`
	OutputDir              string   `yaml:"outputDir,omitempty"`
	Strategy               string   `yaml:"strategy,omitempty"`
	ReservedGroupPrefix    *string  `yaml:"reservedGroupPrefix,omitempty"`
	ReservedArtifactPrefix *string  `yaml:"reservedArtifactPrefix,omitempty"`
	StubPrefix             *string  `yaml:"stubPrefix,omitempty"`
	LibraryTypes           []string `yaml:"libraryTypes,omitempty"`
	Excludes               []string `yaml:"excludes,omitempty"`
	MainClass              string   `yaml:"mainClass,omitempty"`
}

type Config struct {
	Pack PackConfig `yaml:"pack,omitempty"`
}

func DefaultGlobalPath() string {
	home, _ := os.UserHomeDir()
	if strings.TrimSpace(home) == "" {
		return ""
	}
	return filepath.Join(home, ".hdeploy", "config.yaml")
}

func DefaultRepoPath(repoRoot string) string {
	repoRoot = strings.TrimSpace(repoRoot)
	if repoRoot == "" {
		return ""
	}
	return filepath.Join(repoRoot, RepoConfigName)
}

// Load merges the global and repo config files; the repo file wins. Missing
// files are not an error. Relative paths in the repo file resolve against
// the repo root.
func Load(ctx context.Context, globalPath, repoPath string) (Config, error) {
	_ = ctx
	cfg := Config{}
	if strings.TrimSpace(globalPath) != "" {
		if c, err := loadOne(globalPath); err != nil {
			return Config{}, fmt.Errorf("load global config: %w", err)
		} else {
			cfg = merge(cfg, c)
		}
	}
	if strings.TrimSpace(repoPath) != "" {
		if c, err := loadOne(repoPath); err != nil {
			return Config{}, fmt.Errorf("load repo config: %w", err)
		} else {
			cfg = merge(cfg, c)
		}
	}
	return cfg, nil
}

func loadOne(path string) (Config, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Config{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, nil
		}
		return Config{}, err
	}
	raw = []byte(strings.TrimSpace(string(raw)))
	if len(raw) == 0 {
		return Config{}, nil
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, err
	}
	cfg.Pack = absPaths(cfg.Pack, filepath.Dir(path))
	return cfg, nil
}

func absPaths(p PackConfig, base string) PackConfig {
	abs := func(v string) string {
		v = strings.TrimSpace(v)
		if v == "" || filepath.IsAbs(v) || strings.HasPrefix(v, "~") {
			return v
		}
		return filepath.Join(base, v)
	}
	p.RuntimeHome = abs(p.RuntimeHome)
	p.RuntimeLibDir = abs(p.RuntimeLibDir)
	p.OutputDir = abs(p.OutputDir)
	return p
}

func merge(a, b Config) Config {
	out := a
	out.Pack = mergePack(a.Pack, b.Pack)
	return out
}

func mergePack(a, b PackConfig) PackConfig {
	out := a
	if b.RuntimeHome != "" {
		out.RuntimeHome = b.RuntimeHome
	}
	if b.RuntimeLibDir != "" {
		out.RuntimeLibDir = b.RuntimeLibDir
	}
	if b.OutputDir != "" {
		out.OutputDir = b.OutputDir
	}
	if b.Strategy != "" {
		out.Strategy = b.Strategy
	}
	if b.ReservedGroupPrefix != nil {
		out.ReservedGroupPrefix = b.ReservedGroupPrefix
	}
	if b.ReservedArtifactPrefix != nil {
		out.ReservedArtifactPrefix = b.ReservedArtifactPrefix
	}
	if b.StubPrefix != nil {
		out.StubPrefix = b.StubPrefix
	}
	if len(b.LibraryTypes) > 0 {
		out.LibraryTypes = b.LibraryTypes
	}
	if len(b.Excludes) > 0 {
		out.Excludes = b.Excludes
	}
	if b.MainClass != "" {
		out.MainClass = b.MainClass
	}
	return out
}
