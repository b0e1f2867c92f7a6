// main.go bootstraps hdeploy: it builds the root Cobra command, binds env/config defaults, and executes with a signal-aware context.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/example/hdeploy/internal/packerr"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rootCmd := newRootCommand()
	err := rootCmd.ExecuteContext(ctx)
	handleError(err)
	if err != nil {
		os.Exit(packerr.ExitCode(err))
	}
}

func newRootCommand() *cobra.Command {
	logLevel := "info"
	cmd := &cobra.Command{
		Use:           "hdeploy",
		Short:         "Bundle a JVM project into a self-contained job archive for Hadoop",
		Long:          "hdeploy stages a project's compiled output plus the dependencies the Hadoop runtime does not already ship, and packs them into a single jar for 'hadoop jar'.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.CompletionOptions.DisableDefaultCmd = true
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", logLevel, "Log level for hdeploy output (debug, info, warn, error)")

	packCmd := newPackCommand(&logLevel)
	verifyCmd := newVerifyCommand()
	unpackCmd := newUnpackCommand()
	cmd.AddCommand(packCmd, verifyCmd, unpackCmd, newVersionCommand())
	cmd.Example = `  # Pack the project in the current directory against a local Hadoop install
  hdeploy pack --runtime-home /opt/hadoop

  # Same, with the runtime location pinned in the environment
  HDEPLOY_RUNTIME_HOME=/opt/hadoop hdeploy pack ./wordcount

  # Check the archive that was produced
  hdeploy verify target/hadoop-deploy/wordcount-hdeploy.jar`
	bindViper(cmd, packCmd, verifyCmd, unpackCmd)
	return cmd
}

func bindViper(commands ...*cobra.Command) {
	if len(commands) == 0 {
		return
	}
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.SetEnvPrefix("HDEPLOY")
	v.AutomaticEnv()
	configFile := os.Getenv("HDEPLOY_CONFIG")
	configureConfigFile(v, configFile)

	cobra.OnInitialize(func() {
		for _, cmd := range commands {
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				cobra.CheckErr(err)
			}
			if err := v.BindPFlags(cmd.PersistentFlags()); err != nil {
				cobra.CheckErr(err)
			}
		}
		if err := readConfigFile(v, configFile != ""); err != nil {
			cobra.CheckErr(err)
		}
		for _, cmd := range commands {
			flagSets := []*pflag.FlagSet{cmd.Flags(), cmd.PersistentFlags()}
			for _, fs := range flagSets {
				fs.VisitAll(func(f *pflag.Flag) {
					if f.Changed {
						return
					}
					if !v.IsSet(f.Name) {
						return
					}
					val := viperFlagValue(v.Get(f.Name))
					if val == "" {
						return
					}
					// Set through the FlagSet so the value counts as explicit
					// and outranks repo/global config files.
					_ = fs.Set(f.Name, val)
				})
			}
		}
	})
}

// viperFlagValue renders a viper value the way pflag parses it. Lists from
// a config file become comma-separated slices.
func viperFlagValue(raw any) string {
	switch val := raw.(type) {
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, fmt.Sprintf("%v", item))
		}
		return strings.Join(parts, ",")
	case []string:
		return strings.Join(val, ",")
	default:
		return fmt.Sprintf("%v", raw)
	}
}

func configureConfigFile(v *viper.Viper, explicitPath string) {
	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
		return
	}
	v.SetConfigName("config")
	for _, dir := range configSearchDirs() {
		v.AddConfigPath(dir)
	}
}

func readConfigFile(v *viper.Viper, strict bool) error {
	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if errors.As(err, &cfgErr) && !strict {
			return nil
		}
		return err
	}
	return nil
}

func configSearchDirs() []string {
	added := make(map[string]struct{})
	var dirs []string
	add := func(path string) {
		if path == "" {
			return
		}
		if _, ok := added[path]; ok {
			return
		}
		added[path] = struct{}{}
		dirs = append(dirs, path)
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		add(filepath.Join(xdg, "hdeploy"))
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		add(filepath.Join(home, ".config", "hdeploy"))
		add(filepath.Join(home, ".hdeploy"))
	}
	return dirs
}

func handleError(err error) {
	if err == nil || errors.Is(err, pflag.ErrHelp) {
		return
	}
	message := err.Error()
	switch {
	case errors.Is(err, context.Canceled):
		message = fmt.Sprintf("%s\nHint: the run was interrupted; the staging directory may be incomplete and is rebuilt on the next pack.", err)
	case packerr.Is(err, packerr.KindConfiguration):
		message = fmt.Sprintf("%s\nHint: pass --runtime-home or --runtime-lib-dir, or set runtimeHome in .hdeploy.yaml.", err)
	case packerr.Is(err, packerr.KindFilter):
		message = fmt.Sprintf("%s\nHint: the runtime library directory must be readable; check --runtime-lib-dir.", err)
	}
	fmt.Fprintf(os.Stderr, "Error: %s\n", message)
}
