// Package commands implements the temari CLI.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const Version = "1.0.0"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "temari",
	Short: "CryptoNight CPU miner worker engine",
	Long: `Temari runs the CPU proof-of-work search threads: hash self-test,
scratchpad provisioning under a configurable memory policy, single- and
double-hash worker loops with nonce-space partitioning, and trailing
hashrate telemetry.`,
	Version: Version,
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "temari.yaml",
		"config file path")

	rootCmd.SetVersionTemplate(`Temari {{.Version}}
CryptoNight CPU miner worker engine
`)
}
