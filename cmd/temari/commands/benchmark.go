package commands

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/shizukutanaka/Temari/internal/config"
	"github.com/shizukutanaka/Temari/internal/cryptonight"
	"github.com/shizukutanaka/Temari/internal/logging"
	"github.com/shizukutanaka/Temari/internal/mining"
)

var benchDuration time.Duration

var benchmarkCmd = &cobra.Command{
	Use:   "benchmark",
	Short: "Measure the hashrate of the configured threads",
	Long: `Mine a fixed local job for the given duration and report per-thread
and total hashrates.`,
	RunE: runBenchmarkCmd,
}

func init() {
	rootCmd.AddCommand(benchmarkCmd)

	benchmarkCmd.Flags().DurationVar(&benchDuration, "duration", 60*time.Second,
		"benchmark duration")
}

func runBenchmarkCmd(cmd *cobra.Command, args []string) error {
	cfg, err := config.GenerateDefault(cfgFile)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer logger.Sync()

	backend := cryptonight.NewV0()

	opts := cfg.ThreadOptions()
	for i := range opts {
		opts[i].ThreadNo = i
		opts[i].ThreadCount = len(opts)
	}
	if err := mining.SelfTest(opts, cfg.MemoryPolicy(), backend, logger); err != nil {
		return fmt.Errorf("startup self-test: %w", err)
	}

	// A zero target means no digest ever qualifies, so the run measures the
	// pure search loop with no result traffic.
	results := make(chan mining.JobResult, 16)
	pool := mining.StartThreads(opts, cfg.MemoryPolicy(), backend,
		mining.EmptyWork(), results, logger)
	pool.Publish(mining.NewBenchmarkWork(0))

	fmt.Printf("Benchmarking %d threads for %s...\n", pool.ThreadCount(), benchDuration)
	time.Sleep(benchDuration)

	// Report over three quarters of the run; the telemetry window needs
	// history on both sides of it to answer.
	windowMs := uint64(benchDuration/time.Millisecond) * 3 / 4
	for i := 0; i < pool.ThreadCount(); i++ {
		if rate, ok := pool.ThreadRate(i, windowMs); ok {
			fmt.Printf("  thread %d: %s\n", i, humanize.SIWithDigits(rate, 1, "H/s"))
		} else {
			fmt.Printf("  thread %d: no data\n", i)
		}
	}
	if total, ok := pool.Hashrate(windowMs); ok {
		fmt.Printf("  total:    %s\n", humanize.SIWithDigits(total, 1, "H/s"))
	} else {
		fmt.Println("  total:    no data")
	}

	pool.Stop()
	return nil
}
