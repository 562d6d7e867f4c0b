// Command worker starts a single dispatch-loop agent for one service, together with the
// liveness-sweep reaper, against the engine's datastore. Grounded on the teacher's bb-runner
// main (config load → build app → Start → wait for signal → Stop), using cobra for flags the
// way bb-runner's sibling bb-server/bb-tools binaries do, since unlike bb-runner this engine
// has no separate flag-parsing helper of its own to reuse.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/buildbeaver/workflow-engine/common/logger"
	"github.com/buildbeaver/workflow-engine/common/models"
	"github.com/buildbeaver/workflow-engine/engine/config"
	"github.com/buildbeaver/workflow-engine/engine/reaper"
	"github.com/buildbeaver/workflow-engine/engine/services/dispatch"
	"github.com/buildbeaver/workflow-engine/engine/services/lifecycle"
	"github.com/buildbeaver/workflow-engine/engine/store"
	"github.com/buildbeaver/workflow-engine/engine/store/jobs"
	"github.com/buildbeaver/workflow-engine/engine/store/migrations"
	"github.com/buildbeaver/workflow-engine/engine/store/nodes"
	"github.com/buildbeaver/workflow-engine/engine/store/tasks"
	"github.com/buildbeaver/workflow-engine/engine/store/workflows"
	"github.com/buildbeaver/workflow-engine/worker"
)

var flags struct {
	service    string
	nodeName   string
	runReaper  bool
	runMigrate bool
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "worker",
	Short:         "Runs a dispatch-loop agent for one service against the workflow engine",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().StringVar(&flags.service, "service", "", "The service name this worker claims tasks for (required)")
	rootCmd.Flags().StringVar(&flags.nodeName, "node", "", "The node name to claim tasks as (defaults to the hostname)")
	rootCmd.Flags().BoolVar(&flags.runReaper, "run-reaper", true, "Run the liveness-sweep reaper alongside this worker")
	rootCmd.Flags().BoolVar(&flags.runMigrate, "migrate", true, "Apply schema migrations on startup before serving")
}

func run(cmd *cobra.Command, args []string) error {
	if flags.service == "" {
		return fmt.Errorf("error --service is required")
	}
	nodeName := flags.nodeName
	if nodeName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("error determining hostname: %w", err)
		}
		nodeName = hostname
	}

	registry, err := logger.NewLogRegistry("")
	if err != nil {
		return err
	}
	logFactory := logger.MakeLogrusLogFactoryStdOut(registry)
	log := logFactory("main")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var migrationRunner store.MigrationRunner
	if flags.runMigrate {
		migrationRunner = migrations.NewEngineMigrateRunner(logFactory)
	}
	db, cleanupDB, err := store.NewDatabase(ctx, cfg.DatabaseConfig, migrationRunner)
	if err != nil {
		return fmt.Errorf("error connecting to database: %w", err)
	}
	defer cleanupDB()

	workflowStore := workflows.NewStore(db, logFactory)
	jobStore := jobs.NewStore(db, logFactory)
	taskStore := tasks.NewStore(db, logFactory)
	nodeStore := nodes.NewStore(db, logFactory)

	dispatcher := dispatch.NewDispatcher(db, taskStore, nodeStore, logFactory)
	lifecycleManager := lifecycle.NewManager(db, taskStore, jobStore, workflowStore, cfg.Backoff, logFactory)

	w := worker.NewWorker(worker.Config{
		Service:      flags.service,
		NodeName:     nodeName,
		PollInterval: worker.DefaultPollInterval,
		BatchSize:    worker.DefaultBatchSize,
	}, dispatcher, lifecycleManager, passThroughExecutor, logFactory)
	w.Start()
	defer w.Stop()
	log.Infof("worker started for service %q on node %q", flags.service, nodeName)

	var r *reaper.Reaper
	if flags.runReaper {
		r = reaper.NewReaper(db, taskStore, lifecycleManager, config.DefaultHeartbeatTimeout, logFactory)
		r.Start()
		defer r.Stop()
	}

	<-ctx.Done()
	log.Info("shutdown signal received, stopping")
	return nil
}

// passThroughExecutor is the reference worker's default Executor: it marks every claimed task
// done immediately with no results. Real service-specific computation is explicitly out of
// scope (spec.md §1); a deployment wires its own Executor in place of this one.
func passThroughExecutor(ctx context.Context, task *models.JobTask) (models.Payload, error) {
	return models.NewPayload(), nil
}
