package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"equipviz/internal/analysis"
	"equipviz/internal/analysis/remote"
	"equipviz/internal/cli"
	"equipviz/internal/core"
	"equipviz/internal/journal"
	"equipviz/internal/log"
	"equipviz/internal/session"
)

const cliClientIP = "cli"

// options are the persistent flags shared by every command.
type options struct {
	server      string
	username    string
	password    string
	timeout     time.Duration
	journalPath string
	logLevel    string
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "equipviz-cli",
		Short: "Command line client for the chemical equipment analysis service",
		Long: `Upload equipment datasets, browse the upload history and download PDF
reports from the command line.

Credentials come from --username/--password or EQUIPVIZ_USERNAME and
EQUIPVIZ_PASSWORD. The service root comes from --server or BACKEND_URL.`,
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.server, "server", envOr("BACKEND_URL", "http://127.0.0.1:8000/api"), "Analysis service base URL")
	flags.StringVar(&opts.username, "username", os.Getenv("EQUIPVIZ_USERNAME"), "Username")
	flags.StringVar(&opts.password, "password", os.Getenv("EQUIPVIZ_PASSWORD"), "Password")
	flags.DurationVar(&opts.timeout, "timeout", 30*time.Second, "Timeout for each request")
	flags.StringVar(&opts.journalPath, "journal", os.Getenv("JOURNAL_DB_PATH"), "SQLite activity journal to record to (optional)")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "Log level: debug|info|warn|error")

	root.AddCommand(
		newLoginCmd(opts),
		newHistoryCmd(opts),
		newUploadCmd(opts),
		newViewCmd(opts),
		newReportCmd(opts),
		newActivityCmd(opts),
	)
	return root
}

// app is one command's worth of wiring: a signed-in session backed by the
// same manager the dashboard uses.
type app struct {
	manager *session.Manager
	store   *session.Store
	journal *journal.Journal
	sess    *session.Session
}

func (o *options) logger(cmd *cobra.Command) *log.Logger {
	return log.New(log.Config{
		Level:     log.ParseLevel(o.logLevel),
		Component: log.ComponentCLI,
		Output:    cmd.ErrOrStderr(),
	})
}

// signIn verifies the credentials and loads the upload history once.
func (o *options) signIn(ctx context.Context, cmd *cobra.Command) (*app, error) {
	logger := o.logger(cmd)
	client, err := remote.NewClient(remote.Config{
		BaseURL:      o.server,
		Timeout:      o.timeout,
		LoginTimeout: o.timeout,
		MaxRetries:   2,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}

	a := &app{store: session.NewStore(1, 24*time.Hour, logger)}
	var sinks []session.ActivitySink
	if o.journalPath != "" {
		a.journal, err = journal.Open(o.journalPath, logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, a.journal)
	}
	a.manager = session.NewManager(client, a.store, session.WithActivitySinks(sinks...), session.WithLogger(logger))

	a.sess, err = a.manager.Login(ctx, o.username, o.password, cliClientIP)
	if err != nil {
		a.close()
		return nil, loginError(err)
	}
	return a, nil
}

func (a *app) close() {
	a.store.Close()
	if a.journal != nil {
		_ = a.journal.Close()
	}
}

func loginError(err error) error {
	var (
		se     *analysis.StatusError
		locked *session.LockedOutError
	)
	switch {
	case errors.Is(err, session.ErrMissingCredentials):
		return errors.New("enter username and password (--username/--password or EQUIPVIZ_USERNAME/EQUIPVIZ_PASSWORD)")
	case errors.Is(err, session.ErrInvalidCredentials):
		return errors.New("wrong username or password")
	case errors.As(err, &locked):
		return fmt.Errorf("too many failed attempts, retry in %s", locked.RetryIn())
	case errors.Is(err, analysis.ErrUnavailable):
		return fmt.Errorf("analysis service unavailable, try again: %w", err)
	case errors.As(err, &se):
		return fmt.Errorf("login failed (status %d)", se.StatusCode)
	default:
		return err
	}
}

// withSession runs fn against a fresh signed-in session bounded by --timeout.
func (o *options) withSession(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
	defer cancel()

	a, err := o.signIn(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a)
}

func newLoginCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Check the credentials against the analysis service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withSession(cmd, func(ctx context.Context, a *app) error {
				st := a.sess.Snapshot()
				fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (%d uploads)\n", st.Username, len(st.History))
				return nil
			})
		},
	}
}

func newHistoryCmd(opts *options) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List previous uploads, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withSession(cmd, func(ctx context.Context, a *app) error {
				return cli.FormatHistory(cmd.OutOrStdout(), a.sess.Snapshot().History, limit)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 5, "Number of uploads to show (0 for all)")
	return cmd
}

func newUploadCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "upload FILE",
		Short: "Upload a CSV or Excel dataset and print its summary",
		Long: `Upload a dataset for analysis. CSV files are sent as they are; the first
sheet of an .xlsx or .xlsm workbook is converted to CSV first.

Example: equipviz-cli upload sample_equipment_data.csv`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("open dataset: %w", err)
			}
			defer f.Close()

			return opts.withSession(cmd, func(ctx context.Context, a *app) error {
				res, err := a.manager.Upload(ctx, a.sess, filepath.Base(path), f)
				st := a.sess.Snapshot()
				if err != nil {
					if st.Message != "" {
						return errors.New(st.Message)
					}
					return err
				}
				out := cmd.OutOrStdout()
				if st.ActiveID.Valid() {
					fmt.Fprintf(out, "%s (dataset %s)\n\n", st.Message, st.ActiveID)
				} else {
					fmt.Fprintf(out, "%s\n\n", st.Message)
				}
				cli.FormatSummary(out, res.Summary)
				return nil
			})
		},
	}
}

func newViewCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "view ID",
		Short: "Print the summary of a previous upload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := core.ParseDatasetID(args[0])
			if err != nil {
				return err
			}
			return opts.withSession(cmd, func(ctx context.Context, a *app) error {
				if err := a.manager.View(a.sess, id); err != nil {
					if alert := a.sess.TakeAlert(); alert != "" {
						return errors.New(alert)
					}
					return err
				}
				st := a.sess.Snapshot()
				entry, _ := core.FindEntry(st.History, id)
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Dataset %s: %s\n\n", id, entry.Filename)
				cli.FormatSummary(out, *st.Summary)
				return nil
			})
		},
	}
}

func newReportCmd(opts *options) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "report ID",
		Short: "Download the PDF report of a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := core.ParseDatasetID(args[0])
			if err != nil {
				return err
			}
			return opts.withSession(cmd, func(ctx context.Context, a *app) error {
				rep, err := a.manager.FetchReport(ctx, a.sess, id)
				if err != nil {
					if alert := a.sess.TakeAlert(); alert != "" {
						return errors.New(alert)
					}
					return err
				}
				target := output
				if target == "" {
					target = rep.Filename
				}
				if err := os.WriteFile(target, rep.Data, 0o644); err != nil {
					return fmt.Errorf("save report: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (%d bytes)\n", target, len(rep.Data))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output path (default report_{id}.pdf)")
	return cmd
}

func newActivityCmd(opts *options) *cobra.Command {
	var (
		limit int
		all   bool
	)

	cmd := &cobra.Command{
		Use:   "activity",
		Short: "Show recorded activity from the journal",
		Long: `Show the activity journal written by the dashboard or by this client
when --journal is set. Lists the --username's activity unless --all is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.journalPath == "" {
				return errors.New("no journal: pass --journal or set JOURNAL_DB_PATH")
			}
			j, err := journal.Open(opts.journalPath, opts.logger(cmd))
			if err != nil {
				return err
			}
			defer j.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			var activities []core.Activity
			if all || opts.username == "" {
				activities, err = j.All(ctx, limit)
			} else {
				activities, err = j.Recent(ctx, core.NewCredentials(opts.username, "").Username, limit)
			}
			if err != nil {
				return err
			}
			return cli.FormatActivity(cmd.OutOrStdout(), activities)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of records to show")
	cmd.Flags().BoolVar(&all, "all", false, "Show every user's activity")
	return cmd
}
