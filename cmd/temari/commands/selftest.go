package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shizukutanaka/Temari/internal/config"
	"github.com/shizukutanaka/Temari/internal/cryptonight"
	"github.com/shizukutanaka/Temari/internal/logging"
	"github.com/shizukutanaka/Temari/internal/mining"
)

var selftestCmd = &cobra.Command{
	Use:   "selftest",
	Short: "Validate the hash backend and memory policy",
	Long: `Run the startup self-test in isolation: provision hash contexts under
the configured memory policy and check every digest path against the
reference vector.`,
	RunE: runSelftest,
}

func init() {
	rootCmd.AddCommand(selftestCmd)
}

func runSelftest(cmd *cobra.Command, args []string) error {
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
		fmt.Println("self-test: FAILED")
		return err
	}
	fmt.Println("self-test: OK")
	return nil
}
