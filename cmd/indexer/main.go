package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	// Import built-in indexing functions to register them.
	_ "github.com/evmindex/evmindex/examples/indexers/erc20"
	"github.com/evmindex/evmindex/internal/checkpoint"
	"github.com/evmindex/evmindex/internal/collector"
	"github.com/evmindex/evmindex/internal/common"
	"github.com/evmindex/evmindex/internal/config"
	"github.com/evmindex/evmindex/internal/db"
	"github.com/evmindex/evmindex/internal/entitystore"
	"github.com/evmindex/evmindex/internal/gateway"
	"github.com/evmindex/evmindex/internal/logger"
	"github.com/evmindex/evmindex/internal/metrics"
	"github.com/evmindex/evmindex/internal/migrations"
	"github.com/evmindex/evmindex/internal/reorg"
	"github.com/evmindex/evmindex/internal/rpc"
	"github.com/evmindex/evmindex/internal/scheduler"
	"github.com/evmindex/evmindex/internal/syncstore"
	"github.com/evmindex/evmindex/pkg/api"
	pkgconfig "github.com/evmindex/evmindex/pkg/config"
	"github.com/evmindex/evmindex/pkg/indexing"
	"github.com/spf13/cobra"
)

const (
	version = "1.0.0"
	banner  = `
╔═══════════════════════════════════════════╗
║              evmindex v%s                ║
║   Multi-Chain EVM Event Indexing Engine    ║
╚═══════════════════════════════════════════╝
`
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "indexer",
	Short:   "evmindex - multi-chain EVM event indexing engine",
	Long:    `evmindex ingests logs from multiple EVM-compatible chains into a single total-ordered checkpoint clock and dispatches decoded events to registered indexing functions.`, //nolint:lll
	Version: version,
	RunE:    runIndexer,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFromFile(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := migrations.RunMigrations(cfg.DB.Path); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		fmt.Println("migrations applied")
		return nil
	},
}

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List configured log-filter and factory sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFromFile(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if len(cfg.Sources) == 0 {
			fmt.Println("(no sources configured)")
			return nil
		}
		for _, src := range cfg.Sources {
			kind := "direct"
			if src.Factory != nil {
				kind = "factory"
			}
			fmt.Printf("  - %s (chain %d, %s): %v\n", src.Name, src.ChainID, kind, src.Events)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(sourcesCmd)
}

func componentLogger(cfg *pkgconfig.LoggingConfig, component string) (*logger.Logger, error) {
	level, dev := "info", false
	if cfg != nil {
		level = cfg.GetComponentLevel(component)
		dev = cfg.IsDevelopment()
	}
	log, err := logger.NewLogger(level, dev)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s logger: %w", component, err)
	}
	return log.WithComponent(component), nil
}

func runIndexer(cmd *cobra.Command, args []string) error {
	fmt.Printf(banner, version)

	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\n\nShutting down gracefully...")
		cancel()
	}()

	log, err := componentLogger(cfg.Logging, common.ComponentSyncStore)
	if err != nil {
		return err
	}

	var metricsServer *metrics.Server
	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics)
		if err := metricsServer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			if err := metricsServer.Stop(ctx); err != nil {
				log.Warnf("Failed to stop metrics server: %v", err)
			}
		}()
		log.Infof("Metrics server started on %s%s", cfg.Metrics.ListenAddress, cfg.Metrics.Path)
	}

	log.Info("Running database migrations...")
	if err := migrations.RunMigrations(cfg.DB.Path); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	database, err := db.NewSQLiteDBFromConfig(cfg.DB)
	if err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}
	defer database.Close()

	maintLog, err := componentLogger(cfg.Logging, common.ComponentMaintenance)
	if err != nil {
		return err
	}
	dbMaintenance := db.NewMaintenanceCoordinator(cfg.DB.Path, database, cfg.Maintenance, maintLog)
	if cfg.Maintenance != nil {
		if cfg.Maintenance.VacuumOnStartup {
			if err := dbMaintenance.RunMaintenance(ctx); err != nil {
				log.Warnf("startup maintenance failed: %v", err)
			}
		}
		if err := dbMaintenance.Start(ctx); err != nil {
			log.Warnf("failed to start maintenance coordinator: %v", err)
		} else {
			defer func() {
				if err := dbMaintenance.Stop(); err != nil {
					log.Warnf("failed to stop maintenance coordinator: %v", err)
				}
			}()
		}
	}

	log.Info("Connecting to configured chains...")
	pool, err := rpc.NewPool(ctx, cfg.Chains)
	if err != nil {
		return fmt.Errorf("failed to create RPC pool: %w", err)
	}
	defer pool.Close()
	log.Infof("Connected to %d chain(s)", len(cfg.Chains))

	syncLog, err := componentLogger(cfg.Logging, common.ComponentSyncStore)
	if err != nil {
		return err
	}
	store := syncstore.New(database, syncLog, cfg.Retry)

	entLog, err := componentLogger(cfg.Logging, common.ComponentEntityStore)
	if err != nil {
		return err
	}
	ents := entitystore.New(database, entLog)

	chainIDs := make([]uint64, 0, len(cfg.Chains))
	chainNames := make(map[uint64]string, len(cfg.Chains))
	for _, c := range cfg.Chains {
		chainIDs = append(chainIDs, c.ChainID)
		chainNames[c.ChainID] = c.Name
	}
	gw := gateway.New(chainIDs)

	sourcesByChain, err := buildChainSources(cfg)
	if err != nil {
		return fmt.Errorf("failed to build chain sources: %w", err)
	}

	schedLog, err := componentLogger(cfg.Logging, common.ComponentScheduler)
	if err != nil {
		return err
	}
	clientFactory := func(chainID uint64) indexing.Client {
		client, ok := pool.Get(chainID)
		if !ok {
			return nil
		}
		return client
	}
	sched := scheduler.New(cfg.Scheduler, database, schedLog, gw, store, ents, chainNames, clientFactory)

	specs, err := buildFunctionSpecs(cfg)
	if err != nil {
		return fmt.Errorf("failed to build indexing function specs: %w", err)
	}
	if len(specs) == 0 {
		log.Warn("No indexing functions registered. Exiting.")
		return nil
	}
	if err := sched.Reset(ctx, specs); err != nil {
		return fmt.Errorf("failed to reset scheduler: %w", err)
	}

	reorgLog, err := componentLogger(cfg.Logging, common.ComponentReorgDetector)
	if err != nil {
		return err
	}
	onReorg := func(safe checkpoint.Checkpoint) {
		ev := gw.HandleReorg(safe)
		reorgLog.Warnf("reorg handled, safe checkpoint now %s", ev.SafeCheckpoint)
		if err := sched.HandleReorg(ctx, safe); err != nil {
			reorgLog.Errorf("scheduler reorg handling failed: %v", err)
		}
	}

	errCh := make(chan error, len(cfg.Chains)+1)
	for _, c := range cfg.Chains {
		chainLog, err := componentLogger(cfg.Logging, common.ComponentCollector)
		if err != nil {
			return err
		}
		client, ok := pool.Get(c.ChainID)
		if !ok {
			return fmt.Errorf("no RPC client dialed for chain %d", c.ChainID)
		}

		chainReorgLog := reorgLog.WithComponent(fmt.Sprintf("reorg-detector-%d", c.ChainID))
		reorgDetector, err := reorg.NewReorgDetector(database, c.ChainID, client, chainReorgLog, dbMaintenance)
		if err != nil {
			return fmt.Errorf("failed to build reorg detector for chain %d: %w", c.ChainID, err)
		}

		cs := sourcesByChain[c.ChainID]
		col := collector.New(collector.Config{
			ChainID:      c.ChainID,
			ChunkSize:    c.ChunkSize,
			Finality:     parseFinality(c.Finality),
			FinalizedLag: c.FinalizedLag,
			StartBlock:   c.StartBlock,
			Filters:      cs.filters,
			Factories:    cs.factories,
		}, client, store, gw, reorgDetector, chainLog)

		go func(c pkgconfig.ChainConfig) {
			if err := col.Run(ctx, onReorg); err != nil && ctx.Err() == nil {
				errCh <- fmt.Errorf("collector for chain %d: %w", c.ChainID, err)
			}
		}(c)
	}

	go func() {
		if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
			errCh <- fmt.Errorf("scheduler: %w", err)
		}
	}()

	if cfg.API != nil && cfg.API.Enabled {
		apiLog, err := componentLogger(cfg.Logging, common.ComponentAPI)
		if err != nil {
			return err
		}
		apiServer := api.NewServer(cfg.API, ents, apiLog)
		go func() {
			if err := apiServer.Start(ctx); err != nil {
				apiLog.Errorf("API server error: %v", err)
			}
		}()
	}

	log.Info("evmindex running. Press Ctrl+C to stop.")

	select {
	case <-ctx.Done():
	case err := <-errCh:
		cancel()
		return err
	}

	log.Info("evmindex stopped")
	return nil
}
