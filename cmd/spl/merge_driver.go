package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"specline/internal/app"
	"specline/internal/engine"
	"specline/internal/merge"
)

const mergeDriverName = "specline"

func mergeDriverCmd() *cobra.Command {
	var printConfig bool
	cmd := &cobra.Command{
		Use:   "merge-driver <ancestor> <ours> <theirs> [path]",
		Short: "Git merge driver for spec files",
		Long: `Reconciles the three versions git hands a merge driver and writes the result
over <ours>. Exits 0 when clean and 1 when conflict markers remain in the body.
Install with the lines printed by --print-config.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if printConfig {
				return printMergeDriverConfig()
			}
			if len(args) < 3 || len(args) > 4 {
				return fmt.Errorf("merge-driver needs <ancestor> <ours> <theirs> [path], got %d args", len(args))
			}
			specPath := ""
			if len(args) == 4 {
				specPath = args[3]
			}
			clean, err := runMergeDriver(cmd.Context(), args[0], args[1], args[2], specPath)
			if err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
				return exitError{code: 2}
			}
			if !clean {
				fmt.Fprintf(os.Stderr, "conflicts left in %s\n", displayPath(specPath, args[1]))
				return exitError{code: 1}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&printConfig, "print-config", false, "print .gitattributes and git config lines")
	return cmd
}

// runMergeDriver journals through the engine when the workspace journal
// opens and merges without it otherwise.
func runMergeDriver(ctx context.Context, ancestor, ours, theirs, specPath string) (bool, error) {
	var clean, ran bool
	err := withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		ran = true
		var err error
		clean, err = e.RunMergeDriver(ctx, ancestor, ours, theirs, specPath)
		return err
	})
	if ran {
		return clean, err
	}
	logger.Debug("merging without journal", "err", err)
	return merge.RunDriver(ancestor, ours, theirs)
}

func displayPath(specPath, fallback string) string {
	if specPath != "" {
		return specPath
	}
	return fallback
}

func printMergeDriverConfig() error {
	appCtx, err := app.Load(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	specsDir := appCtx.Config.Specs.Dir
	if rel, err := filepath.Rel(appCtx.Workspace, appCtx.SpecsDir); err == nil {
		specsDir = filepath.ToSlash(rel)
	}
	fmt.Printf("# .gitattributes\n%s/**/*.md merge=%s\n\n", specsDir, mergeDriverName)
	fmt.Printf("# git config\n")
	fmt.Printf("git config merge.%s.name \"specline spec reconciliation\"\n", mergeDriverName)
	fmt.Printf("git config merge.%s.driver \"spl merge-driver %%O %%A %%B %%P\"\n", mergeDriverName)
	return nil
}
