// File: cmd/hdeploy/pack.go
// Brief: CLI command wiring and implementation for 'pack'.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"

	"github.com/example/hdeploy/internal/appconfig"
	"github.com/example/hdeploy/internal/assemble"
	"github.com/example/hdeploy/internal/depfilter"
	"github.com/example/hdeploy/internal/logging"
	"github.com/example/hdeploy/internal/packerr"
	"github.com/example/hdeploy/internal/project"
)

// runtimeHomeEnv is consulted when neither flags nor config name a runtime.
const runtimeHomeEnv = "HADOOP_HOME"

type packOptions struct {
	project                string
	runtimeHome            string
	runtimeLibDir          string
	compiledOutput         string
	outputDir              string
	name                   string
	strategy               string
	reservedGroupPrefix    string
	reservedArtifactPrefix string
	stubPrefix             string
	libraryTypes           []string
	excludes               []string
	mainClass              string
	jsonOut                bool
	quiet                  bool
}

func newPackCommand(logLevel *string) *cobra.Command {
	opts := packOptions{
		reservedGroupPrefix:    depfilter.DefaultReservedGroupPrefix,
		reservedArtifactPrefix: depfilter.DefaultReservedArtifactPrefix,
		stubPrefix:             depfilter.DefaultStubPrefix,
	}
	cmd := &cobra.Command{
		Use:           "pack [PROJECT]",
		Short:         "Stage compiled output and non-runtime dependencies into a job archive",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var positional string
			if len(args) == 1 {
				positional = args[0]
			}
			projectPath := firstNonEmpty(opts.project, positional, ".")
			return runPack(cmd, projectPath, &opts, *logLevel)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.project, "project", "p", "", "Project descriptor or directory (overrides the PROJECT argument)")
	f.StringVar(&opts.runtimeHome, "runtime-home", "", "Hadoop installation directory (defaults to $HADOOP_HOME); its lib/ is the runtime library directory")
	f.StringVar(&opts.runtimeLibDir, "runtime-lib-dir", "", "Directory holding the runtime's own jars (overrides <runtime-home>/lib)")
	f.StringVar(&opts.compiledOutput, "compiled-output", "", "Compiled classes directory (defaults to the project's <buildDir>/classes)")
	f.StringVar(&opts.outputDir, "output-dir", "", "Staging and archive directory, wiped on every run (defaults to <buildDir>/hadoop-deploy)")
	f.StringVar(&opts.name, "name", "", "Project identifier used to name <name>-hdeploy.jar (defaults to the descriptor's artifactId)")
	f.StringVar(&opts.strategy, "strategy", "", "Runtime exclusion strategy: basename|filename")
	f.StringVar(&opts.reservedGroupPrefix, "reserved-group-prefix", opts.reservedGroupPrefix, "Group prefix of the runtime's own namespace (empty disables the rule)")
	f.StringVar(&opts.reservedArtifactPrefix, "reserved-artifact-prefix", opts.reservedArtifactPrefix, "Artifact prefix of the runtime's own namespace (empty disables the rule)")
	f.StringVar(&opts.stubPrefix, "stub-prefix", opts.stubPrefix, "Artifact prefix of stub libraries that are never bundled (empty disables the rule)")
	f.StringSliceVar(&opts.libraryTypes, "library-type", nil, "Artifact packaging types copied into lib/ (default jar)")
	f.StringSliceVar(&opts.excludes, "exclude", nil, "Pattern pruned from the staged compiled output (repeatable)")
	f.StringVar(&opts.mainClass, "main-class", "", "Job main class shown in the submission hint")
	f.BoolVar(&opts.jsonOut, "json", false, "Print JSON output")
	f.BoolVar(&opts.quiet, "quiet", false, "Print only the archive path")
	_ = cmd.MarkFlagFilename("project", "yaml", "yml")
	_ = cmd.MarkFlagDirname("runtime-home")
	_ = cmd.MarkFlagDirname("runtime-lib-dir")
	_ = cmd.MarkFlagDirname("compiled-output")
	_ = cmd.MarkFlagDirname("output-dir")
	cmd.Example = `  # Pack the project in the current directory
  hdeploy pack --runtime-home /opt/hadoop

  # Point at a descriptor elsewhere and keep test classes out
  hdeploy pack ./jobs/wordcount --runtime-lib-dir /opt/hadoop/lib --exclude '**/*Test.class'

  # Match runtime jars by exact file name instead of derived base name
  hdeploy pack --runtime-home /opt/hadoop --strategy filename`
	return cmd
}

func runPack(cmd *cobra.Command, projectPath string, opts *packOptions, logLevel string) error {
	if opts.quiet && opts.jsonOut {
		return fmt.Errorf("--quiet and --json are mutually exclusive")
	}
	log, err := logging.New(logLevel, cmd.ErrOrStderr())
	if err != nil {
		return packerr.Configuration("configure logging", "", err)
	}

	proj, err := project.Load(projectPath)
	if err != nil {
		return packerr.Configuration("load project", projectPath, err)
	}
	repoRoot := appconfig.FindRepoRoot(filepath.Dir(proj.Path))
	fileCfg, err := appconfig.Load(cmd.Context(), appconfig.DefaultGlobalPath(), appconfig.DefaultRepoPath(repoRoot))
	if err != nil {
		return packerr.Configuration("load config", repoRoot, err)
	}
	cfg, runtimeHome, err := resolvePackConfig(cmd, opts, proj, fileCfg.Pack)
	if err != nil {
		return err
	}
	log.V(1).Info("resolved pack configuration",
		"project", proj.Path,
		"runtimeLibDir", cfg.RuntimeLibDir,
		"compiledOutput", cfg.CompiledOutputDir,
		"outputDir", cfg.OutputDir,
		"strategy", cfg.Filter.Strategy.Name())

	res, err := assemble.New(log).Invoke(cmd.Context(), cfg, proj)
	if err != nil {
		if opts.jsonOut {
			raw, _ := json.Marshal(map[string]any{
				"success": false,
				"kind":    packerr.KindOf(err).String(),
				"error":   err.Error(),
			})
			fmt.Fprintln(cmd.OutOrStdout(), string(raw))
		}
		return err
	}

	out := cmd.OutOrStdout()
	if opts.jsonOut {
		raw, _ := json.Marshal(res)
		fmt.Fprintln(out, string(raw))
		return nil
	}
	if opts.quiet {
		fmt.Fprintln(out, res.ArchivePath)
		return nil
	}
	for _, s := range res.Skipped {
		color.New(color.FgYellow).Fprintf(cmd.ErrOrStderr(), "warning: skipped %s (%s)\n", s.Artifact, s.Reason)
	}
	color.New(color.FgGreen).Fprintf(out, "Job archive %s packed", res.ArchivePath)
	fmt.Fprintf(out, " (files=%d dirs=%d bytes=%d %s)\n", res.Archive.Files, res.Archive.Dirs, res.Archive.Bytes, res.Archive.Digest)
	fmt.Fprintf(out, "Bundled %d dependencies, left %d to the runtime\n", len(res.Retained), len(res.Excluded))
	fmt.Fprintf(out, "Submit with: %s\n", submissionHint(runtimeHome, res.ArchivePath, opts.mainClass))
	return nil
}

// resolvePackConfig layers explicit flags (including HDEPLOY_* env and the
// viper config file) over the merged appconfig files, the project
// descriptor and built-in defaults.
func resolvePackConfig(cmd *cobra.Command, opts *packOptions, proj *project.Project, fileCfg appconfig.PackConfig) (assemble.Config, string, error) {
	flags := cmd.Flags()
	changed := func(name string) bool { return flags.Changed(name) }

	runtimeHome, err := expandPath(firstNonEmpty(opts.runtimeHome, fileCfg.RuntimeHome, os.Getenv(runtimeHomeEnv)))
	if err != nil {
		return assemble.Config{}, "", packerr.Configuration("runtime home", opts.runtimeHome, err)
	}
	runtimeLib, err := expandPath(firstNonEmpty(opts.runtimeLibDir, fileCfg.RuntimeLibDir))
	if err != nil {
		return assemble.Config{}, "", packerr.Configuration("runtime library directory", opts.runtimeLibDir, err)
	}
	if runtimeLib == "" && runtimeHome != "" {
		runtimeLib = filepath.Join(runtimeHome, "lib")
	}
	compiled, err := expandPath(firstNonEmpty(opts.compiledOutput, proj.CompiledOutputDir()))
	if err != nil {
		return assemble.Config{}, "", packerr.Configuration("compiled output directory", opts.compiledOutput, err)
	}
	outputDir, err := expandPath(firstNonEmpty(opts.outputDir, fileCfg.OutputDir, proj.DefaultOutputDir()))
	if err != nil {
		return assemble.Config{}, "", packerr.Configuration("output directory", opts.outputDir, err)
	}

	strategy, err := depfilter.StrategyByName(firstNonEmpty(opts.strategy, fileCfg.Strategy))
	if err != nil {
		return assemble.Config{}, "", packerr.Configuration("exclusion strategy", opts.strategy, err)
	}
	filter := depfilter.DefaultOptions()
	filter.Strategy = strategy
	filter.ReservedGroupPrefix = layeredPrefix(changed("reserved-group-prefix"), opts.reservedGroupPrefix, fileCfg.ReservedGroupPrefix, filter.ReservedGroupPrefix)
	filter.ReservedArtifactPrefix = layeredPrefix(changed("reserved-artifact-prefix"), opts.reservedArtifactPrefix, fileCfg.ReservedArtifactPrefix, filter.ReservedArtifactPrefix)
	filter.StubPrefix = layeredPrefix(changed("stub-prefix"), opts.stubPrefix, fileCfg.StubPrefix, filter.StubPrefix)

	libraryTypes := opts.libraryTypes
	if len(libraryTypes) == 0 {
		libraryTypes = fileCfg.LibraryTypes
	}
	if opts.mainClass == "" {
		opts.mainClass = fileCfg.MainClass
	}

	return assemble.Config{
		RuntimeLibDir:     runtimeLib,
		CompiledOutputDir: compiled,
		OutputDir:         outputDir,
		ProjectID:         firstNonEmpty(opts.name, proj.Identifier()),
		LibraryTypes:      libraryTypes,
		Filter:            filter,
		Excludes:          append(append([]string(nil), fileCfg.Excludes...), opts.excludes...),
	}, runtimeHome, nil
}

func layeredPrefix(flagSet bool, flagVal string, fileVal *string, def *string) *string {
	if flagSet {
		return depfilter.Prefix(strings.TrimSpace(flagVal))
	}
	if fileVal != nil {
		return depfilter.Prefix(strings.TrimSpace(*fileVal))
	}
	return def
}

func submissionHint(runtimeHome, archivePath, mainClass string) string {
	bin := "hadoop"
	if runtimeHome != "" {
		bin = filepath.Join(runtimeHome, "bin", "hadoop")
	}
	if strings.TrimSpace(mainClass) == "" {
		mainClass = "<main-class>"
	}
	return fmt.Sprintf("%s jar %s %s", bin, archivePath, mainClass)
}

func expandPath(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", nil
	}
	return homedir.Expand(p)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
