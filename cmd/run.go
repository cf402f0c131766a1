package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mezonai/mmn-aa/bootloader"
	"github.com/mezonai/mmn-aa/config"
	"github.com/mezonai/mmn-aa/events"
	"github.com/mezonai/mmn-aa/exception"
	"github.com/mezonai/mmn-aa/genesis"
	"github.com/mezonai/mmn-aa/jsonrpc"
	"github.com/mezonai/mmn-aa/logx"
	"github.com/mezonai/mmn-aa/monitoring"
	"github.com/mezonai/mmn-aa/ratelimit"
	"github.com/mezonai/mmn-aa/service"
	"github.com/mezonai/mmn-aa/store"
	"github.com/mezonai/mmn-aa/telemetry"
	"github.com/spf13/cobra"
)

var (
	runConfigPath  string
	runGenesisPath string
	runEnvPath     string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the account abstraction node",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runNode(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&runConfigPath, "config", "c", "config/node.ini", "Path to node configuration")
	runCmd.Flags().StringVarP(&runGenesisPath, "genesis", "g", "config/genesis.yml", "Path to genesis configuration")
	runCmd.Flags().StringVar(&runEnvPath, "env", ".env", "Optional dotenv file")
}

func runNode(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := config.LoadDotEnv(runEnvPath); err != nil {
		return err
	}
	cfg, err := config.LoadNodeConfig(runConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load node config: %w", err)
	}
	genesisCfg, err := config.LoadGenesisConfig(runGenesisPath)
	if err != nil {
		return fmt.Errorf("failed to load genesis: %w", err)
	}

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OtelEndpoint)
	if err != nil {
		return fmt.Errorf("failed to init tracer: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(sctx); err != nil {
			logx.Warn("NODE", "tracer shutdown:", err.Error())
		}
	}()
	if cfg.Node.MetricsEnabled {
		monitoring.InitMetrics()
	}

	stores, err := store.CreateStores(&store.StoreConfig{
		Backend:   cfg.DB.Backend,
		Directory: cfg.DB.Path,
		RedisAddr: cfg.DB.RedisAddr,
		RedisDB:   cfg.DB.RedisDB,
	})
	if err != nil {
		return fmt.Errorf("failed to open stores: %w", err)
	}
	defer func() {
		if err := stores.Close(); err != nil {
			logx.Warn("NODE", "closing stores:", err.Error())
		}
	}()

	chain, err := genesis.Load(ctx, stores.State, genesisCfg)
	if err != nil {
		return fmt.Errorf("failed to load genesis: %w", err)
	}

	bus := events.NewEventBus()
	if brokers := cfg.KafkaBrokers(); len(brokers) > 0 {
		sink, err := events.NewKafkaSink(events.KafkaSinkConfig{Brokers: brokers, Topic: cfg.Kafka.Topic})
		if err != nil {
			return fmt.Errorf("failed to create kafka sink: %w", err)
		}
		defer sink.Close()
		exception.SafeGo("KafkaSink", func() { sink.Run(ctx, bus) })
	}

	bl := bootloader.New(chain.Machine, chain.System, stores.Receipts, bus, bootloader.Config{
		InflightTTL:   cfg.InflightTTL(),
		SweepInterval: cfg.SweepInterval(),
	})
	bl.Start(ctx)

	srv := jsonrpc.NewServer(cfg.Node.RPCAddr,
		service.NewAAService(bl),
		service.NewAccountService(bl),
		service.NewHealthService(bl, chain.Machine, cfg.Node.ID),
	)
	if cors, ok := jsonrpc.CORSFromEnv(); ok {
		srv.SetCORSConfig(cors)
	}
	if cfg.RateLimit.Enabled {
		limiter := ratelimit.NewSubmissionLimiter(ratelimit.Config{
			PerIP:      cfg.RateLimit.PerIP,
			PerAccount: cfg.RateLimit.PerAccount,
			Window:     cfg.RateLimitWindow(),
		})
		exception.SafeGo("RateLimitCleanup", func() { limiter.Run(ctx, time.Minute) })
		srv.SetRateLimiter(limiter)
	}
	srv.Start()
	logx.Info("NODE", fmt.Sprintf("node %s serving chain %s on %s", cfg.Node.ID, chain.Machine.ChainID().Dec(), cfg.Node.RPCAddr))

	<-ctx.Done()
	logx.Info("NODE", "shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}
