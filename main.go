// Command dashboard is the headless admin surface for the kindred sync
// backend: it triggers sync jobs, watches their progress, and manages
// parse-analysis results from the terminal or a scheduler.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/camp/kindred/dashboard/backend"
	"github.com/camp/kindred/dashboard/logging"
	"github.com/camp/kindred/dashboard/parse"
	"github.com/camp/kindred/dashboard/sync"
)

func main() {
	logging.Init("dashboard")

	if err := newRootCmd().Execute(); err != nil {
		if errors.Is(err, backend.ErrAlreadyRunning) {
			fmt.Fprintln(os.Stderr, "A sync is already in progress; try again when it finishes.")
		}
		os.Exit(1)
	}
}

// app wires the backend client, registry, status store, and trigger
// once per invocation.
type app struct {
	client   *backend.Client
	registry *sync.Registry
	store    *sync.StatusStore
	trigger  *sync.Trigger
}

func newApp() (*app, error) {
	client, err := backend.NewClientFromEnv()
	if err != nil {
		return nil, err
	}

	registry := sync.DefaultRegistry()
	store := sync.NewStatusStore(client, registry)
	return &app{
		client:   client,
		registry: registry,
		store:    store,
		trigger:  sync.NewTrigger(client, registry, store),
	}, nil
}

// refresh polls status once so trigger gating sees current state.
func (a *app) refresh(ctx context.Context) error {
	return a.store.Poll(ctx)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "dashboard",
		Short:         "Admin dashboard for the kindred sync backend",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.AddCommand(
		newStatusCmd(),
		newRunCmd(),
		newHistoricalCmd(),
		newProcessRequestsCmd(),
		newReparseCmd(),
		newClearCmd(),
		newWatchCmd(),
	)
	return root
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current status of every sync type",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if err := a.refresh(ctx); err != nil {
				return err
			}

			printStatus(cmd, a)
			return nil
		},
	}
}

func printStatus(cmd *cobra.Command, a *app) {
	snapshot := a.store.Snapshot()
	meta := a.store.Meta()

	ids := make([]string, 0, len(snapshot))
	for id := range snapshot {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		st := snapshot[id]
		line := fmt.Sprintf("%-26s %s", id, st.Status)
		switch st.Status {
		case backend.StatusRunning:
			if !st.StartTime.IsZero() {
				line += fmt.Sprintf("  (%s)", time.Since(st.StartTime).Round(time.Second))
			}
		case backend.StatusFailed:
			line += "  " + st.Error
		case backend.StatusSuccess:
			line += fmt.Sprintf("  created=%d updated=%d errors=%d", st.Summary.Created, st.Summary.Updated, st.Summary.Errors)
		}
		cmd.Println(line)
	}

	if meta.DailySyncRunning || meta.WeeklySyncRunning || meta.HistoricalSyncRunning {
		cmd.Println()
		if meta.DailySyncRunning {
			cmd.Println("Daily sync pipeline is running")
		}
		if meta.WeeklySyncRunning {
			cmd.Println("Weekly sync pipeline is running")
		}
		if meta.HistoricalSyncRunning {
			cmd.Printf("Historical sync for %d is running\n", meta.HistoricalSyncYear)
		}
	}
	if meta.QueueLength > 0 {
		cmd.Printf("\n%d sync(s) queued\n", meta.QueueLength)
	}
}

func newRunCmd() *cobra.Command {
	var (
		session                  string
		debug                    bool
		includeCustomFieldValues bool
	)

	cmd := &cobra.Command{
		Use:   "run [sync-type]",
		Short: "Trigger the full pipeline, or one sync type",
		Long: "With no argument, triggers the full sync pipeline for the current season.\n" +
			"With a sync type argument, triggers that type alone. For persons,\n" +
			"--include-custom-values also runs the person and household custom value syncs.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if err := a.refresh(ctx); err != nil {
				return err
			}

			if len(args) == 0 {
				result, err := a.trigger.RunAll(ctx, debug)
				if err != nil {
					return err
				}
				printTriggerResult(cmd, "full sync", result)
				return nil
			}

			syncType := args[0]
			form := sync.NewEntitySyncForm(syncType)
			form.Session = session
			form.Debug = debug
			form.IncludeCustomFieldValues = includeCustomFieldValues
			opts, err := form.Options()
			if err != nil {
				return err
			}

			results, err := a.trigger.RunEntitySync(ctx, syncType, opts)
			if err != nil {
				return err
			}
			for _, result := range results {
				name := result.SyncType
				if name == "" {
					name = syncType
				}
				printTriggerResult(cmd, name, result)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&session, "session", "all", "session filter ("+strings.Join(sync.SessionTokens(), ", ")+")")
	cmd.Flags().BoolVar(&debug, "debug", false, "run in debug mode")
	cmd.Flags().BoolVar(&includeCustomFieldValues, "include-custom-values", false, "also sync person and household custom values (persons only)")
	return cmd
}

func newHistoricalCmd() *cobra.Command {
	var (
		service             string
		includeCustomValues bool
		debug               bool
	)

	cmd := &cobra.Command{
		Use:   "historical <year>",
		Short: "Sync data for a past season",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var year int
			if _, err := fmt.Sscanf(args[0], "%d", &year); err != nil {
				return fmt.Errorf("invalid year %q", args[0])
			}

			a, err := newApp()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if err := a.refresh(ctx); err != nil {
				return err
			}

			result, err := a.trigger.RunHistorical(ctx, sync.HistoricalOptions{
				Year:                year,
				Service:             service,
				IncludeCustomValues: includeCustomValues,
				Debug:               debug,
			})
			if err != nil {
				return err
			}
			printTriggerResult(cmd, fmt.Sprintf("historical %d", year), result)
			return nil
		},
	}

	cmd.Flags().StringVar(&service, "service", "all", "sync type to run, or all")
	cmd.Flags().BoolVar(&includeCustomValues, "include-custom-values", false, "also fetch custom field values")
	cmd.Flags().BoolVar(&debug, "debug", false, "run in debug mode")
	return cmd
}

func newProcessRequestsCmd() *cobra.Command {
	var (
		form sync.ProcessRequestForm
		yes  bool
	)
	form = sync.NewProcessRequestForm()

	cmd := &cobra.Command{
		Use:   "process-requests",
		Short: "Run the AI parser over intake request fields",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			params, err := form.Params()
			if err != nil {
				return err
			}

			// Force reprocesses every field and spends API credits on
			// requests that already have results, so it needs an
			// explicit confirmation.
			if params.Force && !yes {
				return errors.New("--force reprocesses all matching requests; re-run with --yes to confirm")
			}

			a, err := newApp()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if err := a.refresh(ctx); err != nil {
				return err
			}

			result, err := a.trigger.RunProcessRequests(ctx, params)
			if err != nil {
				return err
			}
			printTriggerResult(cmd, "process requests", result)
			return nil
		},
	}

	cmd.Flags().StringVar(&form.Session, "session", "all", "session filter")
	cmd.Flags().StringVar(&form.Limit, "limit", "", "max requests to process (empty = no limit)")
	cmd.Flags().BoolVar(&form.Force, "force", false, "reprocess requests that already have results")
	cmd.Flags().StringSliceVar(&form.SourceFields, "source-field", nil, "source fields to process (default all)")
	cmd.Flags().BoolVar(&form.Debug, "debug", false, "write results to the debug collection")
	cmd.Flags().BoolVar(&form.Trace, "trace", false, "record full parser traces")
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm a --force run")
	return cmd
}

func newReparseCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "reparse <field-id>...",
		Short: "Reparse specific request fields in debug mode",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := backend.NewClientFromEnv()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			session := parse.NewSession(client)
			if err := session.Reparse(ctx, args, force); err != nil {
				return err
			}
			cmd.Printf("Reparse started for %d field(s)\n", len(args))
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "reparse even fields that already have debug results")
	return cmd
}

func newClearCmd() *cobra.Command {
	var (
		session     string
		sourceField string
		yes         bool
	)

	cmd := &cobra.Command{
		Use:   "clear [field-id]...",
		Short: "Delete debug parse results",
		Long: "With field ids, deletes the debug results for those fields. With no\n" +
			"arguments, deletes every debug result matching --session and --source-field.",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := backend.NewClientFromEnv()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			if len(args) == 0 && !yes {
				return errors.New("clearing a whole scope is destructive; re-run with --yes to confirm")
			}

			scope := backend.ClearScope{IDs: args}
			if len(args) == 0 {
				scope = backend.ClearScope{Session: session, SourceField: sourceField}
			}

			deleted, err := client.ClearParseResults(ctx, scope)
			if err != nil {
				return err
			}
			cmd.Printf("Deleted %d debug result(s)\n", deleted)
			return nil
		},
	}

	cmd.Flags().StringVar(&session, "session", "", "session scope for a bulk clear")
	cmd.Flags().StringVar(&sourceField, "source-field", "", "source field scope for a bulk clear")
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm a bulk clear")
	return cmd
}

func newWatchCmd() *cobra.Command {
	var (
		interval   time.Duration
		staleAfter time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll sync status continuously and run the nightly pipeline",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			poller := sync.NewPoller(a.store, sync.LogNotifier{}, &sync.PollerConfig{
				Interval:   interval,
				StaleAfter: staleAfter,
			})
			return sync.NewWatcher(a.trigger, poller).Start(ctx)
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 0, "status poll interval (default 5s)")
	cmd.Flags().DurationVar(&staleAfter, "stale-after", 0, "flag syncs running longer than this (default 45m)")
	return cmd
}

func printTriggerResult(cmd *cobra.Command, name string, result *backend.TriggerResult) {
	if result.Queued() {
		cmd.Printf("%s queued at position %d (id %s)\n", name, result.Position, result.QueueID)
		return
	}
	cmd.Printf("%s started\n", name)
}
