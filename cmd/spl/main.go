package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"specline/internal/app"
	"specline/internal/db"
	"specline/internal/domain"
	"specline/internal/engine"
	"specline/internal/migrate"
)

var rootCmd = &cobra.Command{
	Use:   "spl",
	Short: "Specline CLI",
	Long: `Specline orchestrates spec files: markdown documents with YAML front matter
that live under .specline/specs and are versioned with the code.
- Ids: [project-]YYYY-MM-DD-NNN-xxx, members of a driver add .N, other repos use repo:id.
- Statuses: pending, ready, in_progress, paused, blocked, needs_attention, completed, failed, cancelled.
- Readiness: a pending or failed spec can start once every depends_on entry is completed
  or archived and, for members without explicit dependencies, every earlier sibling is done.
- Drivers follow their members: first member started, any member failed, all members done.
- Merges: install the git merge driver with 'spl merge-driver --print-config'.
- Event log: every change is journaled, view with 'spl log tail'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = newLogger(viper.GetBool("verbose"), viper.GetString("log-format"))
		return nil
	},
}

var logger = slog.Default()

// exitError ends the process with code without printing an error line.
type exitError struct {
	code int
}

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		var ee exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SPECLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier recorded in the event log")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	for _, name := range []string{"workspace", "json", "actor-id", "verbose", "log-format"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func newLogger(verbose bool, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if verbose {
		opts.Level = slog.LevelDebug
	}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(createCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(showCmd())
	rootCmd.AddCommand(readyCmd())
	rootCmd.AddCommand(blockersCmd())
	rootCmd.AddCommand(cyclesCmd())
	rootCmd.AddCommand(orderCmd())
	rootCmd.AddCommand(resolveCmd())
	rootCmd.AddCommand(transitionCmd())
	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(completeCmd())
	rootCmd.AddCommand(failCmd())
	rootCmd.AddCommand(resetCmd())
	rootCmd.AddCommand(cancelCmd())
	rootCmd.AddCommand(archiveCmd())
	rootCmd.AddCommand(idCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(lockCmd())
	rootCmd.AddCommand(mergeDriverCmd())
	rootCmd.AddCommand(serveCmd())
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	appCtx, err := app.Load(workspace)
	if err != nil {
		return err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		return err
	}
	return fn(ctx, engine.New(appCtx, conn, logger))
}

func actor() string {
	return viper.GetString("actor-id")
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	return tw
}

func printSpec(spec *domain.Spec) error {
	if viper.GetBool("json") {
		return printJSON(spec)
	}
	fmt.Printf("%s  %s  [%s]\n", spec.ID, spec.Title(), spec.Status)
	return nil
}
