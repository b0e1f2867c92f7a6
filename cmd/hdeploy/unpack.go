// unpack.go backs 'hdeploy unpack', extracting a job archive for inspection.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"

	"github.com/example/hdeploy/internal/archive"
	"github.com/example/hdeploy/internal/packerr"
)

func newUnpackCommand() *cobra.Command {
	var (
		destination  string
		force        bool
		skipManifest bool
		jsonOut      bool
		quiet        bool
	)
	cmd := &cobra.Command{
		Use:           "unpack ARCHIVE",
		Short:         "Extract a job archive into a directory",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if quiet && jsonOut {
				return fmt.Errorf("--quiet and --json are mutually exclusive")
			}
			path := strings.TrimSpace(args[0])
			dest, err := homedir.Expand(strings.TrimSpace(destination))
			if err != nil {
				return packerr.Configuration("expand destination", destination, err)
			}
			if dest == "" {
				return packerr.Configuration("unpack", "", errors.New("--destination is required"))
			}
			if !force {
				if entries, err := os.ReadDir(dest); err == nil && len(entries) > 0 {
					return packerr.Configuration("unpack", dest, errors.New("destination is not empty (use --force)"))
				}
			}
			res, err := archive.Extract(cmd.Context(), path, dest, archive.ExtractOptions{SkipManifest: skipManifest})
			if err != nil {
				return packerr.IO("unpack archive", path, err)
			}
			out := cmd.OutOrStdout()
			switch {
			case jsonOut:
				raw, _ := json.Marshal(res)
				fmt.Fprintln(out, string(raw))
			case quiet:
				fmt.Fprintln(out, res.Destination)
			default:
				fmt.Fprintf(out, "Archive %s unpacked to %s (files=%d dirs=%d bytes=%d)\n", path, res.Destination, res.Files, res.Dirs, res.Bytes)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&destination, "destination", "d", "", "Directory to extract into")
	cmd.Flags().BoolVar(&force, "force", false, "Extract into a non-empty destination, overwriting files")
	cmd.Flags().BoolVar(&skipManifest, "skip-manifest", false, "Leave META-INF/MANIFEST.MF out of the extracted tree")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print JSON output")
	cmd.Flags().BoolVar(&quiet, "quiet", false, "Print only the destination path")
	_ = cmd.MarkFlagDirname("destination")
	return cmd
}
