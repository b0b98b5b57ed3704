package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/thomas-villani/nb-sub001/internal/apperr"
	"github.com/thomas-villani/nb-sub001/internal/dates"
	"github.com/thomas-villani/nb-sub001/internal/models"
	"github.com/thomas-villani/nb-sub001/internal/scanner"
	"github.com/thomas-villani/nb-sub001/internal/search"
)

var stdout io.Writer = os.Stdout

func printJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func indexCommand() *cli.Command {
	return &cli.Command{
		Name:  "index",
		Usage: "Bring the index up to date with the notes tree",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "rebuild", Usage: "Drop derived data and reindex everything"},
			&cli.BoolFlag{Name: "dry-run", Usage: "Only report what would change"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			app, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			if cmd.Bool("dry-run") {
				cs, err := app.Service.Scan(ctx)
				if err != nil {
					return err
				}
				for _, c := range cs.Changes {
					if c.Action != scanner.Unchanged {
						fmt.Fprintf(stdout, "%-9s %s\n", c.Action, c.Path)
					}
				}
				for _, e := range cs.Errors {
					fmt.Fprintf(os.Stderr, "error: %v\n", e)
				}
				return nil
			}

			run := app.Service.Index
			if cmd.Bool("rebuild") {
				run = app.Service.Rebuild
			}
			rep, err := run(ctx)
			if err != nil {
				return err
			}
			if cmd.Bool("json") {
				return printJSON(rep)
			}
			fmt.Fprintf(stdout, "added %d, modified %d, deleted %d, unchanged %d\n",
				rep.Added, rep.Modified, rep.Deleted, rep.Unchanged)
			for _, e := range rep.Errors {
				fmt.Fprintf(os.Stderr, "error: %v\n", e)
			}
			for _, w := range rep.Warnings {
				fmt.Fprintf(os.Stderr, "warning: %s\n", w)
			}
			return nil
		},
	}
}

func searchCommand() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Rank notes against a query",
		ArgsUsage: "<query>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "mode", Aliases: []string{"m"}, Usage: "hybrid, keyword or vector"},
			&cli.StringFlag{Name: "notebook", Aliases: []string{"n"}},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			text := strings.Join(cmd.Args().Slice(), " ")
			if strings.TrimSpace(text) == "" {
				return errors.New("search: query is required")
			}
			mode := search.Mode(cmd.String("mode"))
			if mode != "" && !mode.Valid() {
				return fmt.Errorf("search: unknown mode %q", mode)
			}

			app, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			resp, err := app.Service.Search(ctx, search.Query{
				Text:     text,
				Notebook: cmd.String("notebook"),
				Mode:     mode,
				Limit:    int(cmd.Int("limit")),
			})
			if err != nil {
				return err
			}
			if resp.Warning != nil {
				fmt.Fprintf(os.Stderr, "warning: %v\n", resp.Warning)
			}
			if cmd.Bool("json") {
				return printJSON(resp)
			}
			tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
			for _, r := range resp.Results {
				fmt.Fprintf(tw, "%.3f\t%s\t%s\n", r.Score, r.Path, r.Snippet)
			}
			return tw.Flush()
		},
	}
}

func todosCommand() *cli.Command {
	return &cli.Command{
		Name:  "todos",
		Usage: "List todos ordered by due date and priority",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "status", Aliases: []string{"s"}, Usage: "pending, in_progress, completed"},
			&cli.StringFlag{Name: "notebook", Aliases: []string{"n"}},
			&cli.StringSliceFlag{Name: "tag", Aliases: []string{"t"}},
			&cli.StringFlag{Name: "path"},
			&cli.StringFlag{Name: "due-before", Usage: "Date expression, e.g. friday or 2025-12-01"},
			&cli.StringFlag{Name: "due-after"},
			&cli.BoolFlag{Name: "overdue"},
			&cli.IntFlag{Name: "priority"},
			&cli.StringFlag{Name: "contains", Aliases: []string{"q"}},
			&cli.BoolFlag{Name: "all", Aliases: []string{"a"}, Usage: "Include completed todos and excluded notes"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			app, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			now := time.Now()
			f := models.TodoFilter{
				Notebook:        cmd.String("notebook"),
				Tags:            cmd.StringSlice("tag"),
				Path:            cmd.String("path"),
				Overdue:         cmd.Bool("overdue"),
				Priority:        int(cmd.Int("priority")),
				Contains:        cmd.String("contains"),
				IncludeExcluded: cmd.Bool("all"),
				Limit:           int(cmd.Int("limit")),
			}
			for _, raw := range cmd.StringSlice("status") {
				st, err := models.ParseStatus(raw)
				if err != nil {
					return err
				}
				f.Statuses = append(f.Statuses, st)
			}
			if len(f.Statuses) == 0 && !cmd.Bool("all") && !app.Config.Todo.IncludeCompleted {
				f.Statuses = []models.Status{models.StatusPending, models.StatusInProgress}
			}
			if raw := cmd.String("due-before"); raw != "" {
				r, err := dates.Resolve(raw, now)
				if err != nil {
					return err
				}
				f.DueBefore = &r.Time
			}
			if raw := cmd.String("due-after"); raw != "" {
				r, err := dates.Resolve(raw, now)
				if err != nil {
					return err
				}
				f.DueAfter = &r.Time
			}

			todos, err := app.Service.ListTodos(ctx, f)
			if err != nil {
				return err
			}
			if cmd.Bool("json") {
				return printJSON(todos)
			}
			tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
			for _, td := range todos {
				fmt.Fprintf(tw, "%s\t%s\t%s%s\t%s:%d\n",
					td.ID, td.Status.Marker(), strings.Repeat("  ", td.Depth), td.Content+todoSuffix(td), td.Path, td.Line)
			}
			return tw.Flush()
		},
	}
}

func todoSuffix(td models.Todo) string {
	var parts []string
	if td.Due != nil {
		layout := "2006-01-02"
		if td.DueTime {
			layout = "2006-01-02 15:04"
		}
		parts = append(parts, "due "+td.Due.Format(layout))
	}
	if td.Priority > 0 {
		parts = append(parts, fmt.Sprintf("p%d", td.Priority))
	}
	for _, t := range td.Tags {
		parts = append(parts, "#"+t)
	}
	if len(parts) == 0 {
		return ""
	}
	return " (" + strings.Join(parts, " ") + ")"
}

func toggleCommand() *cli.Command {
	return &cli.Command{
		Name:      "toggle",
		Usage:     "Toggle a todo, or set its status, and write the change to the note",
		ArgsUsage: "<id-prefix>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "status", Aliases: []string{"s"}, Usage: "Set this status instead of toggling"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			prefix := cmd.Args().First()
			if prefix == "" {
				return errors.New("toggle: todo id is required")
			}
			app, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			res, err := func() (any, error) {
				if raw := cmd.String("status"); raw != "" {
					st, err := models.ParseStatus(raw)
					if err != nil {
						return nil, err
					}
					return app.Service.SetStatus(ctx, prefix, st)
				}
				return app.Service.Toggle(ctx, prefix)
			}()
			var amb *apperr.AmbiguousError
			if errors.As(err, &amb) {
				return fmt.Errorf("%q matches several todos: %s", amb.Prefix, strings.Join(amb.Candidates, ", "))
			}
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
}

func backlinksCommand() *cli.Command {
	return &cli.Command{
		Name:      "backlinks",
		Usage:     "List notes linking to a note",
		ArgsUsage: "<path>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			p := cmd.Args().First()
			if p == "" {
				return errors.New("backlinks: note path is required")
			}
			app, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			links, err := app.Service.Backlinks(ctx, p)
			if err != nil {
				return err
			}
			if cmd.Bool("json") {
				return printJSON(links)
			}
			for _, l := range links {
				fmt.Fprintf(stdout, "%s:%d\t%s\n", l.Source, l.Line, l.Type)
			}
			return nil
		},
	}
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Show recently viewed or modified notes",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "kind", Aliases: []string{"k"}, Value: models.HistoryViewed, Usage: "viewed or modified"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: 20},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			app, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			entries, err := app.Service.History(ctx, cmd.String("kind"), int(cmd.Int("limit")))
			if err != nil {
				return err
			}
			if cmd.Bool("json") {
				return printJSON(entries)
			}
			for _, e := range entries {
				fmt.Fprintf(stdout, "%s\t%s\n", e.At.Local().Format("2006-01-02 15:04"), e.Path)
			}
			return nil
		},
	}
}
