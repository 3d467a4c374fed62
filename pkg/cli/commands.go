package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nimburion/batchsync/pkg/config"
	"github.com/nimburion/batchsync/pkg/health"
	"github.com/nimburion/batchsync/pkg/migrate"
	"github.com/nimburion/batchsync/pkg/observability/logger"
	"github.com/nimburion/batchsync/pkg/runner"
	"github.com/nimburion/batchsync/pkg/scheduler"
	"github.com/nimburion/batchsync/pkg/version"
)

const closeTimeout = 15 * time.Second

func newVersionCommand(service string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			info := version.Current(service)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Service:    %s\n", info.Service)
			fmt.Fprintf(out, "Version:    %s\n", info.Version)
			fmt.Fprintf(out, "Commit:     %s\n", info.Commit)
			fmt.Fprintf(out, "Build Time: %s\n", info.BuildTime)
			fmt.Fprintf(out, "Go:         %s\n", info.GoVersion)
		},
	}
}

// withApp loads the configuration, builds the App and closes it after fn.
// ctx is cancelled on SIGINT and SIGTERM.
func (r *rootCommand) withApp(cmd *cobra.Command, fn func(ctx context.Context, cfg *config.Config, log logger.Logger, app *App) error) error {
	cfg, _, log, err := r.loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := NewApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := app.Close(closeCtx); err != nil {
			log.Error("failed to close application", "error", err)
		}
	}()
	return fn(ctx, cfg, log, app)
}

func (r *rootCommand) newRunCommand() *cobra.Command {
	var (
		queueName        string
		maxAttempts      int
		maxExecutionTime time.Duration
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute the jobs of a queue once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return r.withApp(cmd, func(ctx context.Context, cfg *config.Config, _ logger.Logger, app *App) error {
				runCfg := runner.Config{
					MaxAttempts:      cfg.Runner.MaxAttempts,
					MaxExecutionTime: cfg.Runner.MaxExecutionTime,
				}
				if cmd.Flags().Changed("max-attempts") {
					runCfg.MaxAttempts = maxAttempts
				}
				if cmd.Flags().Changed("max-execution-time") {
					runCfg.MaxExecutionTime = maxExecutionTime
				}
				name := queueName
				if name == "" {
					name = cfg.Queue.DefaultQueue
				}

				stats, err := app.Run(ctx, name, runCfg)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "run %s on %s: executed=%d retried=%d dead_lettered=%d\n",
					stats.RunID, name, stats.Executed, stats.Retried, stats.DeadLettered)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&queueName, "queue", "q", "", "queue to run (defaults to queue.default_queue)")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", runner.DefaultMaxAttempts, "attempts before a job is dead-lettered")
	cmd.Flags().DurationVar(&maxExecutionTime, "max-execution-time", runner.DefaultMaxExecutionTime, "time budget of the pass")
	return cmd
}

func (r *rootCommand) newScheduleCommand() *cobra.Command {
	var trigger string
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the distributed scheduler and the management server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return r.withApp(cmd, func(ctx context.Context, cfg *config.Config, log logger.Logger, app *App) error {
				if !cfg.Scheduler.Enabled {
					return errors.New("scheduler is disabled, set scheduler.enabled to true")
				}
				lock, err := newLockProvider(cfg.Scheduler, log)
				if err != nil {
					return fmt.Errorf("create scheduler lock provider: %w", err)
				}
				defer func() {
					if err := lock.Close(); err != nil {
						log.Error("failed to close scheduler lock provider", "error", err)
					}
				}()
				app.Health().Register(scheduler.NewLockProviderHealthChecker(scheduler.LockHealthCheckName, lock, 0))

				runtime, err := scheduler.NewRuntime(app, lock, log, scheduler.Config{
					DispatchTimeout: cfg.Scheduler.DispatchTimeout,
					DefaultLockTTL:  cfg.Scheduler.LockTTL,
				})
				if err != nil {
					return fmt.Errorf("create scheduler: %w", err)
				}
				if err := registerTasks(runtime, cfg.Scheduler); err != nil {
					return err
				}
				if trigger != "" {
					return runtime.Trigger(ctx, trigger)
				}
				return serveScheduler(ctx, cfg.Management.Enabled, app, runtime)
			})
		},
	}
	cmd.Flags().StringVar(&trigger, "trigger", "", "dispatch the named task once and exit")
	return cmd
}

// serveScheduler runs the scheduler, and the management server when
// enabled, until ctx is done or one of them fails.
func serveScheduler(ctx context.Context, managementEnabled bool, app *App, runtime *scheduler.Runtime) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		serveErr error
	)
	if managementEnabled {
		mgmt, err := app.ManagementServer()
		if err != nil {
			return fmt.Errorf("create management server: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := mgmt.Start(runCtx); err != nil {
				serveErr = err
				cancel()
			}
		}()
	}

	err := runtime.Start(runCtx)
	cancel()
	wg.Wait()
	return errors.Join(err, serveErr)
}

func (r *rootCommand) newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration commands",
	}
	action := func(name string) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			parsed, err := migrate.ParseArgs(append([]string{name}, args...))
			if err != nil {
				return err
			}
			return r.withApp(cmd, func(ctx context.Context, _ *config.Config, log logger.Logger, app *App) error {
				status, err := migrate.Execute(ctx, app.Migrator(), parsed, migrate.DefaultTimeout, log)
				if err != nil {
					return fmt.Errorf("migrate %s: %w", name, err)
				}
				printMigrationStatus(cmd.OutOrStdout(), status)
				return nil
			})
		}
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			Args:  cobra.NoArgs,
			RunE:  action(migrate.ActionUp),
		},
		&cobra.Command{
			Use:   "down [steps]",
			Short: "Revert the last migrations (default 1)",
			Args:  cobra.MaximumNArgs(1),
			RunE:  action(migrate.ActionDown),
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show applied and pending migrations",
			Args:  cobra.NoArgs,
			RunE:  action(migrate.ActionStatus),
		},
	)
	return cmd
}

func printMigrationStatus(out io.Writer, status *migrate.Status) {
	if status == nil {
		return
	}
	fmt.Fprintf(out, "applied: %d\n", len(status.AppliedVersions))
	for _, v := range status.AppliedVersions {
		fmt.Fprintf(out, "  %d\n", v)
	}
	fmt.Fprintf(out, "pending: %d\n", len(status.Pending))
	for _, p := range status.Pending {
		fmt.Fprintf(out, "  %d %s\n", p.Version, p.Name)
	}
}

func (r *rootCommand) newLedgerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Transaction ledger maintenance",
	}

	var masterDays, detailDays int
	cleanup := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete ledger records older than the retention windows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return r.withApp(cmd, func(ctx context.Context, cfg *config.Config, _ logger.Logger, app *App) error {
				if !cmd.Flags().Changed("master-days") {
					masterDays = cfg.Ledger.MasterRetentionDays
				}
				if !cmd.Flags().Changed("detail-days") {
					detailDays = cfg.Ledger.DetailRetentionDays
				}
				details, err := app.Ledger().CleanupDetails(ctx, detailDays)
				if err != nil {
					return err
				}
				masters, err := app.Ledger().CleanupMaster(ctx, masterDays)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d masters older than %d days and %d details older than %d days\n",
					masters, masterDays, details, detailDays)
				return nil
			})
		},
	}
	cleanup.Flags().IntVar(&masterDays, "master-days", 0, "master retention in days (defaults to ledger.master_retention_days)")
	cleanup.Flags().IntVar(&detailDays, "detail-days", 0, "detail retention in days (defaults to ledger.detail_retention_days)")
	cmd.AddCommand(cleanup)
	return cmd
}

func (r *rootCommand) newStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Export status checks",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "enqueue <contract-id> <task-id>",
		Short: "Queue a status check of an export task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.withApp(cmd, func(ctx context.Context, _ *config.Config, _ logger.Logger, app *App) error {
				if err := app.EnqueueStatusCheck(ctx, args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "status check of task %s queued\n", args[1])
				return nil
			})
		},
	})
	return cmd
}

func (r *rootCommand) newHealthcheckCommand() *cobra.Command {
	var only string
	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Check the database, the queue backlogs and the scheduler lock backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return r.withApp(cmd, func(ctx context.Context, cfg *config.Config, log logger.Logger, app *App) error {
				if cfg.Scheduler.Enabled {
					lock, err := newLockProvider(cfg.Scheduler, log)
					if err != nil {
						return fmt.Errorf("create scheduler lock provider: %w", err)
					}
					defer func() { _ = lock.Close() }()
					app.Health().Register(scheduler.NewLockProviderHealthChecker(scheduler.LockHealthCheckName, lock, 0))
				}
				if only != "" {
					check, err := app.Health().CheckOne(ctx, only)
					if err != nil {
						return err
					}
					printHealth(cmd.OutOrStdout(), health.AggregatedResult{Status: check.Status, Checks: []health.CheckResult{check}})
					if check.Status == health.StatusUnhealthy {
						return fmt.Errorf("%s is %s", check.Name, check.Status)
					}
					return nil
				}
				result := app.Health().Check(ctx)
				printHealth(cmd.OutOrStdout(), result)
				if !result.IsHealthy() {
					return fmt.Errorf("service is %s", result.Status)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&only, "check", "", "run a single named check (database, queue:<lane>, scheduler_lock)")
	return cmd
}

func printHealth(out io.Writer, result health.AggregatedResult) {
	fmt.Fprintf(out, "status: %s\n", result.Status)
	for _, check := range result.Checks {
		detail := check.Message
		if check.Error != "" {
			detail = check.Error
		}
		fmt.Fprintf(out, "  %-20s %-10s %s\n", check.Name, check.Status, detail)
	}
}

func (r *rootCommand) newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration inspection",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration with secrets masked",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, secrets, _, err := r.loadConfig()
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), cfg.Redacted(secrets))
				return nil
			},
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Validate the configuration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				if _, _, _, err := r.loadConfig(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
				return nil
			},
		},
	)
	return cmd
}
