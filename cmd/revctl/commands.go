package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rpattn/revisionable/internal/app"
	"github.com/rpattn/revisionable/internal/config"
	"github.com/rpattn/revisionable/internal/domain"
	"github.com/rpattn/revisionable/internal/export"
	"github.com/rpattn/revisionable/internal/middleware"
	"github.com/rpattn/revisionable/internal/revision"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	backend    string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "revctl",
		Short:         "Inspect, roll back and prune revision history",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", ".", "directory containing revisionable.yaml")
	root.PersistentFlags().StringVar(&flags.backend, "store", config.BackendSQLite, "store backend (sqlite or postgres)")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "log at debug level")

	root.AddCommand(
		newMigrateCmd(flags),
		newHistoryCmd(flags),
		newRollbackCmd(flags),
		newPruneCmd(flags),
		newExportCmd(flags),
		newTokenCmd(flags),
	)
	return root
}

func (f *globalFlags) logger() *slog.Logger {
	level := slog.LevelWarn
	if f.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func (f *globalFlags) options() (config.Options, error) {
	return config.Load(f.configPath, f.logger())
}

func (f *globalFlags) open(ctx context.Context) (*app.App, error) {
	opts, err := f.options()
	if err != nil {
		return nil, err
	}
	return app.New(ctx, app.Settings{Backend: strings.ToLower(f.backend)}, opts, f.logger())
}

func newMigrateCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the revisions table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := flags.options()
			if err != nil {
				return err
			}
			if err := app.Migrate(cmd.Context(), strings.ToLower(flags.backend), opts); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrated %s table %q\n", flags.backend, opts.Table)
			return nil
		},
	}
}

func newHistoryCmd(flags *globalFlags) *cobra.Command {
	var (
		latest bool
		step   int
		at     string
	)
	cmd := &cobra.Command{
		Use:   "history <type:id>",
		Short: "Print a record's revisions, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			subject, err := domain.ParseSubjectRef(args[0])
			if err != nil {
				return err
			}
			a, err := flags.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			history := a.Engine.History
			var result any
			switch {
			case at != "":
				ts, err := parseTimestamp(at)
				if err != nil {
					return err
				}
				result, err = history.Snapshot(cmd.Context(), subject, ts)
				if err != nil {
					return err
				}
			case latest:
				result, err = history.LatestRevision(cmd.Context(), subject)
				if err != nil {
					return err
				}
			case cmd.Flags().Changed("step"):
				result, err = history.HistoryStep(cmd.Context(), subject, step)
				if err != nil {
					return err
				}
			default:
				result, err = history.Revisions(cmd.Context(), subject)
				if err != nil {
					return err
				}
			}
			return printJSON(cmd, result)
		},
	}
	cmd.Flags().BoolVar(&latest, "latest", false, "print only the newest revision")
	cmd.Flags().IntVar(&step, "step", 0, "print the revision n steps back from the newest")
	cmd.Flags().StringVar(&at, "at", "", "print the newest revision at or before this timestamp")
	return cmd
}

func newRollbackCmd(flags *globalFlags) *cobra.Command {
	var (
		steps int
		at    string
	)
	cmd := &cobra.Command{
		Use:   "rollback <type:id>",
		Short: "Restore a record to an earlier revision",
		Long: `Restore a record to the revision n steps back (--steps) or to the newest
revision at or before a timestamp (--at). Only the postgres backend persists host
records, so rollback requires --store postgres.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (at == "") == !cmd.Flags().Changed("steps") {
				return fmt.Errorf("exactly one of --steps or --at is required")
			}
			if backend := strings.ToLower(flags.backend); backend != config.BackendPostgres {
				return fmt.Errorf("rollback needs persisted records; the %s backend keeps them in memory, use --store postgres", backend)
			}
			subject, err := domain.ParseSubjectRef(args[0])
			if err != nil {
				return err
			}
			a, err := flags.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			var result *revision.Result
			if at != "" {
				ts, err := parseTimestamp(at)
				if err != nil {
					return err
				}
				result, err = a.Engine.Rollback.ToTimestamp(cmd.Context(), subject, ts)
				if err != nil {
					return err
				}
			} else {
				result, err = a.Engine.Rollback.Steps(cmd.Context(), subject, steps)
				if err != nil {
					return err
				}
			}
			if result == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "no matching revision for %s\n", subject)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rolled %s back to revision %d\n", subject, result.Target.ID)
			return nil
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 0, "number of revisions to step back")
	cmd.Flags().StringVar(&at, "at", "", "timestamp to roll back to")
	return cmd
}

func newPruneCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "prune <type:id>...",
		Short: "Trim records' history to the configured revision limit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := flags.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			for _, arg := range args {
				subject, err := domain.ParseSubjectRef(arg)
				if err != nil {
					return err
				}
				deleted, err := a.Engine.Prune(cmd.Context(), subject)
				if err != nil {
					return fmt.Errorf("prune %s: %w", subject, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: pruned %d revisions\n", subject, deleted)
			}
			return nil
		},
	}
}

func newExportCmd(flags *globalFlags) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export <type:id>",
		Short: "Write a record's history to an XLSX workbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			subject, err := domain.ParseSubjectRef(args[0])
			if err != nil {
				return err
			}
			a, err := flags.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if output == "" {
				output = export.FileName(subject)
			}
			file, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", output, err)
			}
			count, err := export.NewService(a.Engine.History, flags.logger()).WriteHistory(cmd.Context(), subject, file)
			if closeErr := file.Close(); err == nil {
				err = closeErr
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d revisions to %s\n", count, output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default <type>-<id>-revisions.xlsx)")
	return cmd
}

func newTokenCmd(flags *globalFlags) *cobra.Command {
	var claims []string
	cmd := &cobra.Command{
		Use:   "token <subject>",
		Short: "Sign a bearer token for the configured JWT secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := flags.options()
			if err != nil {
				return err
			}
			if opts.JWTSecret == "" {
				return fmt.Errorf("auth.jwt_secret is not configured")
			}
			extra := make(map[string]any, len(claims))
			for _, claim := range claims {
				key, value, ok := strings.Cut(claim, "=")
				if !ok || key == "" {
					return fmt.Errorf("invalid claim %q, expected key=value", claim)
				}
				extra[key] = value
			}
			token, err := middleware.SignToken([]byte(opts.JWTSecret), args[0], extra)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&claims, "claim", nil, "extra claim as key=value (repeatable)")
	return cmd
}

func printJSON(cmd *cobra.Command, value any) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

// parseTimestamp accepts RFC 3339 or the stored "2006-01-02 15:04:05" UTC form.
func parseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts, nil
	}
	ts, err := time.ParseInLocation(domain.DateTimeFormat, value, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", value)
	}
	return ts, nil
}
