package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"specline/internal/config"
	"specline/internal/db"
	"specline/internal/domain"
	"specline/internal/engine"
	"specline/internal/migrate"
)

func initCmd() *cobra.Command {
	var name, prefix string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create specline.yml and the specs directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if name == "" {
				abs, err := filepath.Abs(workspace)
				if err != nil {
					return err
				}
				name = filepath.Base(abs)
			}
			text := config.GenerateDefault(name)
			if prefix != "" {
				text = strings.Replace(text, `prefix: ""`, fmt.Sprintf("prefix: %q", prefix), 1)
			}
			cfg, err := config.FromYAML([]byte(text))
			if err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Join(workspace, cfg.Specs.Dir), 0o755); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.MigrateContext(cmd.Context(), conn); err != nil {
				return err
			}
			fmt.Printf("Initialized %s (specs in %s)\n", path, cfg.Specs.Dir)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "project name (defaults to the directory name)")
	cmd.Flags().StringVar(&prefix, "prefix", "", "project prefix for new ids")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func createCmd() *cobra.Command {
	var opts engine.SpecCreateOptions
	cmd := &cobra.Command{
		Use:   "create <title>",
		Short: "Create a spec",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Title = strings.Join(args, " ")
			opts.Actor = actor()
			if opts.Body == "-" {
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return err
				}
				opts.Body = string(data)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				spec, err := e.Create(ctx, opts)
				if err != nil {
					return err
				}
				return printSpec(spec)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Type, "type", "code", "spec type")
	cmd.Flags().StringVar(&opts.Body, "body", "", "body text, - reads stdin")
	cmd.Flags().StringSliceVar(&opts.DependsOn, "depends-on", nil, "dependency ids (repo:id for other repositories)")
	cmd.Flags().StringSliceVar(&opts.Labels, "label", nil, "labels")
	cmd.Flags().StringSliceVar(&opts.TargetFiles, "target-file", nil, "files the work is expected to change")
	cmd.Flags().StringSliceVar(&opts.Context, "context", nil, "files to read before starting")
	cmd.Flags().StringVar(&opts.DriverID, "driver", "", "create as the next member of this driver")
	return cmd
}

func listCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active specs with display status",
		RunE: func(cmd *cobra.Command, args []string) error {
			var want domain.Status
			if status != "" {
				st, ok := domain.ParseStatus(status)
				if !ok {
					return fmt.Errorf("unknown status %q", status)
				}
				want = st
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				views, err := e.List()
				if err != nil {
					return err
				}
				var out []engine.SpecView
				for _, v := range views {
					if want == "" || v.DisplayStatus == want {
						out = append(out, v)
					}
				}
				if viper.GetBool("json") {
					rows := make([]map[string]any, 0, len(out))
					for _, v := range out {
						rows = append(rows, map[string]any{
							"id":             v.Spec.ID,
							"title":          v.Title,
							"status":         v.Spec.Status,
							"display_status": v.DisplayStatus,
							"depends_on":     v.Spec.DependsOn,
						})
					}
					return printJSON(rows)
				}
				tw := newTable(table.Row{"ID", "Title", "Status", "Depends On"})
				for _, v := range out {
					tw.AppendRow(table.Row{v.Spec.ID, v.Title, v.DisplayStatus, strings.Join(v.Spec.DependsOn, ", ")})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by display status")
	return cmd
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a spec, including archived and repo:id specs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.Resolve(args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"spec": res.Spec, "archived": res.Archived})
				}
				archived := ""
				if res.Archived {
					archived = " (archived)"
				}
				fmt.Printf("%s  [%s]%s\n", res.Spec.ID, res.Spec.Status, archived)
				if len(res.Spec.DependsOn) > 0 {
					fmt.Printf("depends_on: %s\n", strings.Join(res.Spec.DependsOn, ", "))
				}
				fmt.Print(res.Spec.Body)
				return nil
			})
		},
	}
}

func transitionCmd() *cobra.Command {
	var force bool
	var reason string
	cmd := &cobra.Command{
		Use:   "transition <id> <status>",
		Short: "Change a spec's status",
		Long:  "Validated against the status transition table. --force skips the table and is journaled as spec.forced.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			to, ok := domain.ParseStatus(args[1])
			if !ok {
				return fmt.Errorf("unknown status %q", args[1])
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var spec *domain.Spec
				var err error
				if force {
					spec, err = e.ForceTransition(ctx, args[0], to, actor(), reason)
				} else {
					spec, err = e.Transition(ctx, args[0], to, actor())
				}
				if err != nil {
					return err
				}
				return printSpec(spec)
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "skip the transition table")
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded with a forced transition")
	return cmd
}

func startCmd() *cobra.Command {
	var opts engine.StartOptions
	cmd := &cobra.Command{
		Use:   "start <id>",
		Short: "Start work on a ready spec",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Actor = actor()
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				spec, err := e.StartWork(ctx, args[0], opts)
				var nre *engine.NotReadyError
				if errors.As(err, &nre) && !viper.GetBool("json") {
					printBlockers(nre.ID, nre.Blockers)
				}
				if err != nil {
					return err
				}
				return printSpec(spec)
			})
		},
	}
	cmd.Flags().IntVar(&opts.PID, "pid", 0, "worker process id (defaults to this process)")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "start even if dependencies are unfinished")
	return cmd
}

func completeCmd() *cobra.Command {
	var opts engine.CompleteOptions
	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Mark an in-progress spec completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Actor = actor()
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				spec, err := e.Complete(ctx, args[0], opts)
				if err != nil {
					return err
				}
				return printSpec(spec)
			})
		},
	}
	cmd.Flags().StringSliceVar(&opts.Commits, "commit", nil, "commit hashes")
	cmd.Flags().StringVar(&opts.Branch, "branch", "", "branch the work landed on")
	cmd.Flags().StringVar(&opts.Model, "model", "", "model or tool that did the work")
	return cmd
}

func failCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "fail <id>",
		Short: "Mark an in-progress spec failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				spec, err := e.Fail(ctx, args[0], reason, actor())
				if err != nil {
					return err
				}
				return printSpec(spec)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "failure reason")
	return cmd
}

func resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <id>",
		Short: "Return a spec to pending from any status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				spec, err := e.Reset(ctx, args[0], actor())
				if err != nil {
					return err
				}
				return printSpec(spec)
			})
		},
	}
}

func cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a spec",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				spec, err := e.Cancel(ctx, args[0], actor())
				if err != nil {
					return err
				}
				return printSpec(spec)
			})
		},
	}
}

func archiveCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "archive <id>",
		Short: "Move a finished spec and its members into the archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				paths, err := e.Archive(ctx, args[0], force, actor())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"archived": paths})
				}
				for _, p := range paths {
					fmt.Println(p)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "archive even if not terminal")
	return cmd
}
