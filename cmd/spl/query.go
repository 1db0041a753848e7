package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"specline/internal/app"
	"specline/internal/config"
	"specline/internal/domain"
	"specline/internal/engine"
	"specline/internal/events"
	"specline/internal/graph"
	"specline/internal/lock"
	"specline/internal/specid"
)

func readyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ready",
		Short: "List specs that can start now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Ready()
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Title", "Status"})
				for _, spec := range items {
					tw.AppendRow(table.Row{spec.ID, spec.Title(), spec.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func blockersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "blockers <id>",
		Short: "Explain why a spec cannot start",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				blockers, err := e.Blockers(args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": args[0], "blockers": blockers})
				}
				printBlockers(args[0], blockers)
				return nil
			})
		},
	}
}

func printBlockers(id string, blockers []graph.Blocker) {
	if len(blockers) == 0 {
		fmt.Printf("%s has no blockers\n", id)
		return
	}
	tw := newTable(table.Row{"Kind", "ID", "Status", "Reason"})
	for _, b := range blockers {
		tw.AppendRow(table.Row{b.Kind, b.ID, b.Status, b.Reason})
	}
	tw.Render()
}

func cyclesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cycles",
		Short: "Report every dependency cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				cycles, err := e.Cycles()
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"cycles": cycles})
				}
				if len(cycles) == 0 {
					fmt.Println("no cycles")
					return nil
				}
				for _, c := range cycles {
					fmt.Println(strings.Join(c, " -> ") + " -> " + c[0])
				}
				return exitError{code: 1}
			})
		},
	}
}

func orderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "order",
		Short: "Print active specs in dependency order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				order, err := e.Order()
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(order)
				}
				tw := newTable(table.Row{"#", "ID"})
				for i, id := range order {
					tw.AppendRow(table.Row{i + 1, id})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func resolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <dep>",
		Short: "Resolve a local or repo:id dependency and print where it lives",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.Resolve(args[0])
				if err != nil {
					return err
				}
				out := map[string]any{
					"dependency": args[0],
					"id":         res.Spec.ID,
					"status":     res.Spec.Status,
					"archived":   res.Archived,
					"satisfied":  res.Satisfied(),
				}
				return printJSONOrTable(out)
			})
		},
	}
}

func idCmd() *cobra.Command {
	c := &cobra.Command{Use: "id", Short: "Generate and inspect spec ids"}
	c.AddCommand(&cobra.Command{
		Use:   "new",
		Short: "Print the next id without creating a file",
		RunE: func(cmd *cobra.Command, args []string) error {
			appCtx, err := app.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			gen := specid.Generator{Dir: appCtx.SpecsDir, ArchiveDir: appCtx.ArchiveDir, Project: appCtx.Prefix}
			id, err := gen.Next(appCtx.Today())
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	})
	c.AddCommand(&cobra.Command{
		Use:   "parse <id>",
		Short: "Parse an id into its parts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := specid.Parse(args[0])
			if err != nil {
				return err
			}
			out := map[string]any{
				"id":      id.String(),
				"repo":    id.Repo,
				"project": id.Project,
				"base":    id.Base,
				"members": id.Members,
			}
			if date, seq, suffix, ok := id.Parts(); ok {
				out["date"], out["sequence"], out["suffix"] = date, seq, suffix
			}
			if driver, ok := specid.DriverOf(id.String()); ok {
				out["driver_id"] = driver
			}
			return printJSONOrTable(out)
		},
	})
	return c
}

func configCmd() *cobra.Command {
	c := &cobra.Command{Use: "config", Short: "Inspect specline.yml"}
	c.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	})
	c.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate specline.yml and the configured repositories",
		RunE: func(cmd *cobra.Command, args []string) error {
			appCtx, err := app.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			var problems []string
			res := graph.Resolver{Repos: appCtx.Repos, HomeDir: appCtx.HomeDir}
			for _, r := range appCtx.Repos {
				// A probe id that cannot exist only fails on repo configuration.
				if _, err := res.Resolve(r.Name + ":2000-01-01-001-000"); err != nil && !errors.Is(err, graph.ErrSpecNotFoundInRepo) {
					problems = append(problems, err.Error())
				}
			}
			if len(problems) > 0 {
				return fmt.Errorf("config invalid:\n  %s", strings.Join(problems, "\n  "))
			}
			fmt.Println("config ok")
			return nil
		},
	})
	return c
}

func logCmd() *cobra.Command {
	c := &cobra.Command{Use: "log", Short: "Event log"}
	c.AddCommand(logTailCmd())
	return c
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, specID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				r := events.Reader{DB: e.DB}
				var items []domain.Event
				var err error
				if evtType == "" && specID == "" {
					items, err = r.Tail(ctx, n)
				} else {
					items, err = r.List(ctx, events.Query{Type: evtType, SpecID: specID, Limit: n})
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"Seq", "TS", "Type", "Spec", "Actor", "Payload"})
				for _, evt := range items {
					tw.AppendRow(table.Row{evt.Seq, evt.TS, evt.Type, evt.SpecID, evt.Actor, evt.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&n, "lines", "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&specID, "spec", "", "spec id filter")
	return cmd
}

func lockCmd() *cobra.Command {
	c := &cobra.Command{Use: "lock", Short: "Locks and worker PID files"}
	c.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List PID files and whether their process is alive",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				pids, err := e.Locks.PIDs()
				if err != nil {
					return err
				}
				ids := make([]string, 0, len(pids))
				for id := range pids {
					ids = append(ids, id)
				}
				specid.Sort(ids)
				rows := make([]map[string]any, 0, len(ids))
				for _, id := range ids {
					rows = append(rows, map[string]any{
						"id":      id,
						"pid":     pids[id],
						"running": lock.ProcessRunning(pids[id]),
						"locked":  e.Locks.IsLocked(id),
					})
				}
				if viper.GetBool("json") {
					return printJSON(rows)
				}
				tw := newTable(table.Row{"ID", "PID", "Running", "Locked"})
				for _, r := range rows {
					tw.AppendRow(table.Row{r["id"], r["pid"], r["running"], r["locked"]})
				}
				tw.Render()
				return nil
			})
		},
	})
	c.AddCommand(&cobra.Command{
		Use:   "cleanup",
		Short: "Fail in-progress specs whose worker process is gone",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				cleaned, err := e.CleanupStale(ctx, actor())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"failed": cleaned})
				}
				if len(cleaned) == 0 {
					fmt.Println("no stale specs")
				}
				for _, id := range cleaned {
					fmt.Printf("%s -> failed\n", id)
				}
				return nil
			})
		},
	})
	return c
}
