package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shizukutanaka/Temari/internal/api"
	"github.com/shizukutanaka/Temari/internal/config"
	"github.com/shizukutanaka/Temari/internal/cryptonight"
	"github.com/shizukutanaka/Temari/internal/hardware"
	"github.com/shizukutanaka/Temari/internal/logging"
	"github.com/shizukutanaka/Temari/internal/mining"
	"github.com/shizukutanaka/Temari/internal/monitoring"
)

// reportPeriod is the cadence of the console hashrate line.
const reportPeriod = 30 * time.Second

var startTarget uint64

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the mining session",
	Long: `Start the configured search threads and mine until interrupted.

Without a pool attached, work comes from the deterministic local job
source, which keeps the full engine exercisable end to end.`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)

	startCmd.Flags().Uint64Var(&startTarget, "target", 0x0000ffffffffffff,
		"qualifying-digest upper bound for the local job source")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.GenerateDefault(cfgFile)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer logger.Sync()

	caps := hardware.Detect()
	hardware.LogSummary(logger, caps)

	backend := cryptonight.NewV0()
	if !backend.HardwareAES() {
		logger.Info("AES-NI not available, using the software hash path")
	}

	opts := cfg.ThreadOptions()
	for i := range opts {
		opts[i].ThreadNo = i
		opts[i].ThreadCount = len(opts)
	}
	if err := mining.SelfTest(opts, cfg.MemoryPolicy(), backend, logger); err != nil {
		return fmt.Errorf("startup self-test: %w", err)
	}

	results := make(chan mining.JobResult, 256)
	pool := mining.StartThreads(opts, cfg.MemoryPolicy(), backend,
		mining.EmptyWork(), results, logger)

	var exporter *monitoring.Exporter
	if cfg.Monitoring.Enabled {
		exporter = monitoring.NewExporter(pool, logger)
		exporter.Start(cfg.Monitoring.ListenAddr)
	}
	var status *api.Server
	if cfg.API.Enabled {
		status = api.NewServer(pool, logger)
		status.Start(cfg.API.ListenAddr)
	}

	go consumeResults(results, exporter, logger)

	watcher, err := config.NewWatcher(cfgFile, logger)
	if err != nil {
		logger.Warn("Config watcher unavailable", zap.Error(err))
	} else {
		watcher.Start(func() {
			logger.Warn("Configuration changed on disk, restart required to apply it")
		})
		defer watcher.Stop()
	}

	work := mining.NewBenchmarkWork(startTarget)
	work.NiceHash = cfg.Mining.NiceHash
	pool.Publish(work)
	logger.Info("Mining started",
		zap.Int("threads", pool.ThreadCount()),
		zap.String("memory_policy", cfg.Mining.MemoryPolicy),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	report := time.NewTicker(reportPeriod)
	defer report.Stop()

	for {
		select {
		case <-report.C:
			logHashrate(pool, logger)
		case sig := <-sigCh:
			logger.Info("Shutting down", zap.String("signal", sig.String()))
			pool.Stop()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if exporter != nil {
				exporter.Stop(ctx)
			}
			if status != nil {
				status.Stop(ctx)
			}
			logger.Info("Temari stopped")
			return nil
		}
	}
}

func consumeResults(results <-chan mining.JobResult, exporter *monitoring.Exporter,
	logger *zap.Logger) {

	for res := range results {
		if exporter != nil {
			exporter.CountResult()
		}
		logger.Info("Result found",
			zap.Uint32("nonce", res.Nonce),
			zap.String("job", string(trimJobID(res.JobID))),
		)
	}
}

func logHashrate(pool *mining.Pool, logger *zap.Logger) {
	total, ok := pool.Hashrate(10_000)
	if !ok {
		logger.Info("Hashrate: no data yet")
		return
	}
	fields := []zap.Field{
		zap.String("total", humanize.SIWithDigits(total, 1, "H/s")),
	}
	for i := 0; i < pool.ThreadCount(); i++ {
		if rate, ok := pool.ThreadRate(i, 10_000); ok {
			fields = append(fields, zap.Float64(fmt.Sprintf("thread_%d", i), rate))
		}
	}
	logger.Info("Hashrate report", fields...)
}

// trimJobID drops trailing NULs from the fixed-size identifier for display.
func trimJobID(id [mining.JobIDSize]byte) []byte {
	end := len(id)
	for end > 0 && id[end-1] == 0 {
		end--
	}
	return id[:end]
}
