package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"voting-ledger/config"
	"voting-ledger/logging"
)

var (
	rootCmd = &cobra.Command{
		Use:          "voting-ledger",
		Short:        "run the vote ledger HTTP API",
		RunE:         run,
		SilenceUsage: true,
	}
)

func init() {
	flags := rootCmd.Flags()
	flags.BoolP("verbose", "v", false, "increase verbosity")
	flags.StringP("listen", "l", ":5000", "HTTP listen address")
	flags.StringP("storage-dir", "d", "blockchain_data", "directory for chain and voter snapshots")
	flags.Int("difficulty", 12, "leading zero bits required of every block hash")
	flags.Int("batch-size", 5, "pending votes that trigger mining")
	flags.String("admin-key", "", "key required to register voters")
	flags.Duration("session-duration", 0, "voting session length, 0 for no deadline")

	viper.BindPFlag(config.Cfg_verbose, flags.Lookup("verbose"))
	viper.BindPFlag(config.Cfg_listenAddr, flags.Lookup("listen"))
	viper.BindPFlag(config.Cfg_storageDir, flags.Lookup("storage-dir"))
	viper.BindPFlag(config.Cfg_difficulty, flags.Lookup("difficulty"))
	viper.BindPFlag(config.Cfg_batchSize, flags.Lookup("batch-size"))
	viper.BindPFlag(config.Cfg_adminKey, flags.Lookup("admin-key"))
	viper.BindPFlag(config.Cfg_sessionDuration, flags.Lookup("session-duration"))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logging.WithError(err).Error("voting-ledger exited")
		os.Exit(1)
	}
}
