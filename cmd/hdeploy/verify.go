// verify.go backs 'hdeploy verify', re-reading a job archive and reporting its shape and digest.
package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/example/hdeploy/internal/archive"
	"github.com/example/hdeploy/internal/packerr"
)

func newVerifyCommand() *cobra.Command {
	var (
		jsonOut  bool
		quiet    bool
		list     bool
		printSHA bool
	)
	cmd := &cobra.Command{
		Use:           "verify ARCHIVE",
		Short:         "Check that a job archive starts with its manifest and has no duplicate entries",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if quiet && jsonOut {
				return fmt.Errorf("--quiet and --json are mutually exclusive")
			}
			path := strings.TrimSpace(args[0])
			res, err := archive.Inspect(path)
			if err != nil {
				err = packerr.IO("verify archive", path, err)
				if jsonOut {
					raw, _ := json.Marshal(map[string]any{
						"success": false,
						"error":   err.Error(),
					})
					fmt.Fprintln(cmd.OutOrStdout(), string(raw))
				}
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				raw, _ := json.Marshal(res)
				fmt.Fprintln(out, string(raw))
				return nil
			}
			if quiet {
				if printSHA {
					fmt.Fprintf(out, "%s %s\n", res.Digest.Encoded(), res.Path)
				} else {
					fmt.Fprintln(out, res.Path)
				}
				return nil
			}
			if list {
				for _, e := range res.Entries {
					fmt.Fprintln(out, e.Name)
				}
			}
			color.New(color.FgGreen).Fprintf(out, "Archive %s verified", res.Path)
			fmt.Fprintf(out, " (manifest=%s files=%d dirs=%d bytes=%d %s)\n", res.ManifestVersion, res.Files, res.Dirs, res.Bytes, res.Digest)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print JSON output")
	cmd.Flags().BoolVar(&quiet, "quiet", false, "Print only the archive path")
	cmd.Flags().BoolVar(&list, "list", false, "List every entry before the summary")
	cmd.Flags().BoolVar(&printSHA, "print-sha", false, "With --quiet, emit '<sha256> <path>'")
	return cmd
}
