package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvandessel/threestep/internal/config"
	"github.com/nvandessel/threestep/internal/trialfile"
	"github.com/nvandessel/threestep/internal/trials"
)

func newVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify [trials-file]",
		Short: "Check a trial file against its checksum sidecar",
		Long: `Recompute the SHA-256 of a trial file and compare it with the digest in its
checksum sidecar. Compressed trial files also have their embedded payload
checksum checked. When the bytes match, every trial record is checked for
consistency: sequential trial counts, well-formed mappings, transition codes
that agree with the mapping and the running high rewarding stimulus.

Without an argument the configured output file is verified. A trial file given
on the command line is compared with the sidecar next to it unless --checksum
names another one.

Examples:
  threestep verify
  threestep verify data/session1.json
  threestep verify trials.json --checksum trials.sha256`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			root, err := projectRoot(cmd)
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			checksum, _ := cmd.Flags().GetString("checksum")
			path, checksumPath := trialFilePaths(cfg, root, args, checksum)

			v, err := trialfile.Verify(path, checksumPath)
			if err != nil && !errors.Is(err, trialfile.ErrIntegrityMismatch) {
				return err
			}

			// Records are only checked once the bytes are known to be intact.
			var issues []trials.Issue
			if err == nil {
				if issues, err = checkTrialFile(path); err != nil {
					return err
				}
				if len(issues) > 0 {
					err = fmt.Errorf("%s: %d trial records are inconsistent", path, len(issues))
				}
			}

			if jsonOut {
				result := map[string]any{
					"path":          v.Path,
					"checksum_path": v.ChecksumPath,
					"expected":      v.Expected,
					"actual":        v.Actual,
					"match":         v.Match,
					"issues":        issues,
				}
				if header, herr := trialfile.ReadHeader(path); herr == nil {
					result["header"] = header
				}
				if err != nil {
					result["error"] = err.Error()
				}
				if werr := writeJSON(cmd.OutOrStdout(), result); werr != nil {
					return werr
				}
				return err
			}

			out := cmd.OutOrStdout()
			if !v.Match {
				fmt.Fprintf(out, "✗ %s\n", v.Path)
				fmt.Fprintf(out, "  expected: %s\n", v.Expected)
				fmt.Fprintf(out, "  actual:   %s\n", v.Actual)
				return err
			}
			fmt.Fprintf(out, "✓ %s matches %s\n", v.Path, v.ChecksumPath)
			fmt.Fprintf(out, "  sha256: %s\n", v.Actual)
			if header, herr := trialfile.ReadHeader(path); herr == nil {
				fmt.Fprintf(out, "  compressed: %d trial types, %d trials, created %s\n",
					header.Groups, header.Trials, header.CreatedAt.Local().Format("2006-01-02 15:04:05"))
			}
			for _, issue := range issues {
				fmt.Fprintf(out, "  ✗ %s\n", issue)
			}
			return err
		},
	}

	cmd.Flags().String("checksum", "", "Checksum sidecar path (default: next to the trial file)")

	return cmd
}

// checkTrialFile re-derives the invariants of every trial type in the file
// at path. Issues are prefixed with their trial type.
func checkTrialFile(path string) ([]trials.Issue, error) {
	f, err := trialfile.Read(path)
	if err != nil {
		return nil, err
	}
	var issues []trials.Issue
	for _, c := range f.Collections() {
		for _, issue := range c.Check() {
			issue.Field = c.Name + "." + issue.Field
			issues = append(issues, issue)
		}
	}
	return issues, nil
}

// trialFilePaths returns the trial file named in args, or the configured
// output file, together with its checksum sidecar.
func trialFilePaths(cfg *config.Config, root string, args []string, checksum string) (string, string) {
	defTrials, defChecksum, _ := cfg.Output.Resolve(root)
	if len(args) == 0 {
		if checksum == "" {
			checksum = defChecksum
		}
		return defTrials, checksum
	}
	if checksum == "" {
		checksum = cfg.Output.SidecarFor(args[0])
	}
	return args[0], checksum
}
