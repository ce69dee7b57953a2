// Package main is the entry point for the snapkeep binary.
// It wires the CLI flags onto internal/orchestrator and runs exactly one
// command per invocation — there is no daemon or scheduling loop here; an
// external scheduler (cron, systemd timer) is expected to invoke snapkeep
// run/transfer/purge periodically.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/snapkeep/snapkeep/internal/dockersrc"
	"github.com/snapkeep/snapkeep/internal/history"
	"github.com/snapkeep/snapkeep/internal/hostmetrics"
	"github.com/snapkeep/snapkeep/internal/logging"
	"github.com/snapkeep/snapkeep/internal/metrics"
	"github.com/snapkeep/snapkeep/internal/notify"
	"github.com/snapkeep/snapkeep/internal/orchestrator"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// globalConfig holds the persistent flags shared by every subcommand.
type globalConfig struct {
	logLevel     string
	historyDSN   string
	dockerSocket string
}

// exitError lets a subcommand report a specific process exit code, per the
// convention: 0 success, 1 runtime error, 2 usage error, 130 interrupted.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func usageErrorf(format string, args ...any) error {
	return &exitError{code: 2, err: fmt.Errorf(format, args...)}
}

func runtimeError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, orchestrator.Interrupted) {
		return &exitError{code: 130, err: err}
	}
	return &exitError{code: 1, err: err}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		code := 1
		var ee *exitError
		if errors.As(err, &ee) {
			code = ee.code
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(code)
	}
}

func exactArgs(n int, usage string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return usageErrorf("usage: %s", usage)
		}
		return nil
	}
}

func newRootCmd() *cobra.Command {
	cfg := &globalConfig{}

	root := &cobra.Command{
		Use:   "snapkeep",
		Short: "snapkeep — copy-on-write snapshot backup orchestrator",
		Long: `snapkeep takes a read-only snapshot of a source subvolume, sends it
(incrementally, when possible) to a destination container on another
endpoint, applies a retention policy on both sides, and keeps a job
descriptor in sync. It is designed to be invoked by an external scheduler
(cron, systemd timer), not to run as a daemon.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", envOrDefault("SNAPKEEP_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&cfg.historyDSN, "history-db", envOrDefault("SNAPKEEP_HISTORY_DB", ""), "Path to the local run-history SQLite database (empty disables run history)")
	root.PersistentFlags().StringVar(&cfg.dockerSocket, "docker-socket", envOrDefault("SNAPKEEP_DOCKER_SOCKET", ""), "Docker socket path, for docker-volume:// source references (empty = platform default)")

	root.AddCommand(
		newInitCmd(cfg),
		newUpdateCmd(cfg),
		newRunCmd(cfg),
		newInfoCmd(cfg),
		newPurgeCmd(cfg),
		newDestroyCmd(cfg),
		newTransferCmd(cfg),
		newVersionCmd(),
	)

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("snapkeep %s (commit: %s, built: %s)\n", version, commit, date)
			return nil
		},
	}
}

// commandContext wires the signal-cancelled context every subcommand runs
// under, so an operator interrupt is visible at the next suspension point.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

// buildDeps assembles the optional collaborators shared by run/transfer from
// the global config: logger, run-history recorder, and webhook notifier.
// All are best-effort — a failure to open the history database is logged
// and the command proceeds without run history rather than aborting.
func buildDeps(cfg *globalConfig) (orchestrator.Deps, func(), error) {
	logger, err := logging.Build(cfg.logLevel)
	if err != nil {
		return orchestrator.Deps{}, func() {}, fmt.Errorf("building logger: %w", err)
	}

	deps := orchestrator.Deps{
		Logger: logger,
		Notify: notify.NewWebhookService(),
	}
	cleanup := func() { _ = logger.Sync() }

	if cfg.historyDSN != "" {
		db, err := history.Open(history.Config{DSN: cfg.historyDSN, Logger: logger})
		if err != nil {
			logger.Warn("failed to open run-history database, continuing without run history", zap.Error(err))
		} else {
			deps.History = history.NewRecorder(db)
		}
	}

	return deps, cleanup, nil
}

func buildDockerClient(logger *zap.Logger, socket string) *dockersrc.Client {
	client, err := dockersrc.NewClient(socket)
	if err != nil {
		logger.Warn("failed to create Docker client, docker-volume:// sources unavailable", zap.Error(err))
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx); err != nil {
		logger.Warn("Docker daemon unreachable, docker-volume:// sources unavailable", zap.Error(err))
		client.Close()
		return nil
	}
	return client
}

func newInitCmd(cfg *globalConfig) *cobra.Command {
	var opts orchestrator.InitOptions

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialise a new backup job pair",
		Args:  exactArgs(0, "snapkeep init --source <locator> --destination <locator> [flags]"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.SourceLocator == "" || opts.DestLocator == "" {
				return usageErrorf("--source and --destination are required")
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()

			j, err := orchestrator.Init(ctx, opts)
			if err != nil {
				return runtimeError(err)
			}
			fmt.Printf("initialised job: %s -> %s\n", j.SourceEndpoint.String()+":"+j.SourceContainerPath, j.DestEndpoint.String()+":"+j.DestContainerPath)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.SourceLocator, "source", "", "Source subvolume endpoint URL (ssh://[user@]host[:port]/path or a bare local path); the container defaults to .sxbackup immediately below it")
	flags.StringVar(&opts.SourceContainerOverride, "source-container", "", "Explicit source container path, overriding the .sxbackup default (e.g. to keep using a pre-existing sxbackup container)")
	flags.StringVar(&opts.DestLocator, "destination", "", "Destination container endpoint URL")
	flags.StringVar(&opts.SourceRetention, "source-retention", "", "Retention expression applied to source snapshots")
	flags.StringVar(&opts.DestRetention, "destination-retention", "", "Retention expression applied to destination snapshots")
	flags.BoolVar(&opts.Compress, "compress", false, "Compress the transfer stream with lzop")
	flags.StringVar(&opts.SourceSubvolume, "source-subvolume", "", "Subvolume to snapshot (defaults to the source container's parent directory); may be docker-volume://<name>")
	flags.StringVar(&opts.HookPreSnapshot, "hook-pre-snapshot", "", "Shell command run before each snapshot is taken")
	flags.StringVar(&opts.HookPostTransfer, "hook-post-transfer", "", "Shell command run after a successful transfer")
	flags.StringVar(&opts.WebhookURL, "webhook-url", "", "Webhook URL notified on run completion")
	flags.StringVar(&opts.WebhookSecret, "webhook-secret", "", "HMAC secret for the webhook payload")

	return cmd
}

func newUpdateCmd(cfg *globalConfig) *cobra.Command {
	var (
		sourceRetention, destRetention                     string
		compress, noCompress                                bool
		hookPreSnapshot, hookPostTransfer                   string
		clearHookPre, clearHookPost                         bool
		webhookURL, webhookSecret                           string
		clearWebhook                                        bool
	)

	cmd := &cobra.Command{
		Use:   "update <locator>",
		Short: "Rewrite retention, compression, hook, or webhook settings for an existing job",
		Args:  exactArgs(1, "snapkeep update <locator> [flags]"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if compress && noCompress {
				return usageErrorf("--compress and --no-compress are mutually exclusive")
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()

			j, err := orchestrator.Open(ctx, args[0])
			if err != nil {
				return runtimeError(err)
			}

			opts := orchestrator.UpdateOptions{
				SourceRetention:  sourceRetention,
				DestRetention:    destRetention,
				HookPreSnapshot:  hookPreSnapshot,
				ClearHookPre:     clearHookPre,
				HookPostTransfer: hookPostTransfer,
				ClearHookPost:    clearHookPost,
				WebhookURL:       webhookURL,
				WebhookSecret:    webhookSecret,
				ClearWebhook:     clearWebhook,
			}
			switch {
			case compress:
				opts.Compress = orchestrator.CompressOn
			case noCompress:
				opts.Compress = orchestrator.CompressOff
			default:
				opts.Compress = orchestrator.CompressUnchanged
			}

			if err := orchestrator.Update(ctx, j, opts); err != nil {
				return runtimeError(err)
			}
			fmt.Println("job updated")
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&sourceRetention, "source-retention", "", "New retention expression for source snapshots")
	flags.StringVar(&destRetention, "destination-retention", "", "New retention expression for destination snapshots")
	flags.BoolVar(&compress, "compress", false, "Turn compression on")
	flags.BoolVar(&noCompress, "no-compress", false, "Turn compression off")
	flags.StringVar(&hookPreSnapshot, "hook-pre-snapshot", "", "New pre-snapshot hook command")
	flags.BoolVar(&clearHookPre, "clear-hook-pre-snapshot", false, "Remove the pre-snapshot hook")
	flags.StringVar(&hookPostTransfer, "hook-post-transfer", "", "New post-transfer hook command")
	flags.BoolVar(&clearHookPost, "clear-hook-post-transfer", false, "Remove the post-transfer hook")
	flags.StringVar(&webhookURL, "webhook-url", "", "New webhook URL")
	flags.StringVar(&webhookSecret, "webhook-secret", "", "New webhook HMAC secret")
	flags.BoolVar(&clearWebhook, "clear-webhook", false, "Remove the webhook configuration")

	return cmd
}

func newRunCmd(cfg *globalConfig) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "run <locator>",
		Short: "Take a new snapshot and transfer it to the destination",
		Args:  exactArgs(1, "snapkeep run <locator> [flags]"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOrTransfer(cmd, cfg, args[0], metricsAddr, false)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Expose /metrics in Prometheus text format on this address for the run's duration")
	return cmd
}

func newTransferCmd(cfg *globalConfig) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "transfer <locator>",
		Short: "Resend the newest existing source snapshot without taking a new one",
		Long: `transfer is the recovery command for a run whose TRANSFERRED step
failed after the source snapshot was already created: it resends the
newest existing source snapshot instead of minting a new one, then runs
retention and metadata sync exactly like run.`,
		Args: exactArgs(1, "snapkeep transfer <locator> [flags]"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOrTransfer(cmd, cfg, args[0], metricsAddr, true)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Expose /metrics in Prometheus text format on this invocation's duration")
	return cmd
}

func runOrTransfer(cmd *cobra.Command, cfg *globalConfig, locator, metricsAddr string, isTransfer bool) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	deps, cleanup, err := buildDeps(cfg)
	if err != nil {
		return runtimeError(err)
	}
	defer cleanup()

	j, err := orchestrator.Open(ctx, locator)
	if err != nil {
		return runtimeError(err)
	}

	docker := buildDockerClient(deps.Logger, cfg.dockerSocket)
	if docker != nil {
		defer docker.Close()
	}

	if metricsAddr != "" {
		deps.Metrics = metrics.NewCollector()
	}
	opts := orchestrator.RunOptions{Deps: deps, Docker: docker, MetricsAddr: metricsAddr}

	if metricsAddr != "" {
		collector := deps.Metrics
		srvCtx, srvCancel := context.WithCancel(ctx)
		defer srvCancel()
		done := make(chan error, 1)
		go func() { done <- collector.Serve(srvCtx, metricsAddr) }()
		defer func() {
			srvCancel()
			<-done
		}()
	}

	var res *orchestrator.RunResult
	if isTransfer {
		res, err = orchestrator.Transfer(ctx, j, opts)
	} else {
		res, err = orchestrator.Run(ctx, j, opts)
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}
	if err != nil {
		return runtimeError(err)
	}
	fmt.Printf("%s: %s transfer, %d bytes, snapshot %s\n", res.Outcome, res.TransferMode, res.BytesSent, res.Snapshot.Name())
	return nil
}

func newInfoCmd(cfg *globalConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info <locator>",
		Short: "Show job configuration, snapshot inventory, disk usage, and recent run history",
		Args:  exactArgs(1, "snapkeep info <locator>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			deps, cleanup, err := buildDeps(cfg)
			if err != nil {
				return runtimeError(err)
			}
			defer cleanup()

			j, err := orchestrator.Open(ctx, args[0])
			if err != nil {
				return runtimeError(err)
			}

			info, err := orchestrator.LoadInfo(ctx, j, deps.History)
			if err != nil {
				return runtimeError(err)
			}
			printInfo(info)
			return nil
		},
	}
	return cmd
}

func printInfo(info *orchestrator.Info) {
	d := info.Job.Descriptor
	fmt.Printf("source:      %s:%s\n", info.Job.SourceEndpoint.String(), info.Job.SourceContainerPath)
	fmt.Printf("destination: %s:%s\n", info.Job.DestEndpoint.String(), info.Job.DestContainerPath)
	fmt.Printf("retention:   source=%q destination=%q\n", d.SourceRetention, d.DestinationRetention)
	fmt.Printf("compress:    %v\n", d.Compress)

	fmt.Printf("\nsource snapshots (%d):\n", len(info.SourceSnapshots))
	for _, s := range info.SourceSnapshots {
		printSnapshotInfo(s)
	}
	fmt.Printf("\ndestination snapshots (%d):\n", len(info.DestSnapshots))
	for _, s := range info.DestSnapshots {
		printSnapshotInfo(s)
	}

	printDiskUsage("source", info.SourceDiskUsage)
	printDiskUsage("destination", info.DestDiskUsage)

	if len(info.RecentRuns) > 0 {
		fmt.Printf("\nrecent runs:\n")
		for _, r := range info.RecentRuns {
			fmt.Printf("  %s  %-8s %-7s %s  %d bytes\n", r.StartedAt.Format(time.RFC3339), r.Command, r.Outcome, r.TransferMode, r.BytesSent)
		}
	}
}

func printSnapshotInfo(s orchestrator.SnapshotInfo) {
	fmt.Printf("  %s  (%s UTC / %s local)\n", s.Name, s.UTC.Format(time.RFC3339), s.Local.Format(time.RFC3339))
}

func printDiskUsage(label string, u *hostmetrics.Usage) {
	if u == nil {
		return
	}
	fmt.Printf("\n%s disk usage: %.1f%% used (%d / %d bytes)\n", label, u.UsedPercent, u.UsedBytes, u.TotalBytes)
}

func newPurgeCmd(cfg *globalConfig) *cobra.Command {
	var sourceOverride, destOverride string

	cmd := &cobra.Command{
		Use:   "purge <locator>",
		Short: "Run retention evaluation and deletion on both sides without a transfer",
		Args:  exactArgs(1, "snapkeep purge <locator> [flags]"),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			j, err := orchestrator.Open(ctx, args[0])
			if err != nil {
				return runtimeError(err)
			}

			res, err := orchestrator.Purge(ctx, j, orchestrator.PurgeOptions{
				SourceRetentionOverride: sourceOverride,
				DestRetentionOverride:   destOverride,
			})
			if err != nil {
				return runtimeError(err)
			}
			fmt.Printf("purged %d source snapshot(s), %d destination snapshot(s)\n", res.SourceDeleted, res.DestDeleted)
			return nil
		},
	}
	cmd.Flags().StringVar(&sourceOverride, "source-retention", "", "Override the source retention expression for this sweep only")
	cmd.Flags().StringVar(&destOverride, "destination-retention", "", "Override the destination retention expression for this sweep only")
	return cmd
}

func newDestroyCmd(cfg *globalConfig) *cobra.Command {
	var purge bool

	cmd := &cobra.Command{
		Use:   "destroy <locator>",
		Short: "Delete the job descriptor on both sides",
		Long: `destroy deletes the job descriptor on both sides. With --purge it
additionally deletes every managed snapshot on both sides. When the
destination is unreachable, local cleanup still completes and the remote
side is reported as skipped rather than failing the command.`,
		Args: exactArgs(1, "snapkeep destroy <locator> [--purge]"),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			logger, err := logging.Build(cfg.logLevel)
			if err != nil {
				return runtimeError(err)
			}
			defer logger.Sync() //nolint:errcheck

			j, err := orchestrator.Open(ctx, args[0])
			if err != nil {
				return runtimeError(err)
			}

			res, err := orchestrator.Destroy(ctx, j, orchestrator.DestroyOptions{Purge: purge, Logger: logger})
			if err != nil {
				return runtimeError(err)
			}
			if res.DestSkipped {
				fmt.Fprintln(os.Stderr, "warning: destination unreachable; local cleanup completed, remote cleanup skipped")
			}
			fmt.Println("job destroyed")
			return nil
		},
	}
	cmd.Flags().BoolVar(&purge, "purge", false, "Also delete every managed snapshot on both sides")
	return cmd
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
