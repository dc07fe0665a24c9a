package main

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/becomeliminal/yieldmind/config"
)

// version can be overridden at build time via:
// go build -ldflags "-X main.version=1.2.3"
var version = "dev"

var envFile string

var rootCmd = &cobra.Command{
	Use:   "yieldmind",
	Short: "YieldMind - AI yield rebalancing agent for BNB Chain",
	Long: color.CyanString("YieldMind") +
		"\nPeriodically asks Claude whether vault funds should move between PancakeSwap V3, Venus and Lista DAO.",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCmd.RunE(cmd, args)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(cycleCmd)
	rootCmd.AddCommand(versionCmd)
}

func loadConfig() (*config.Config, error) {
	return config.Load(envFile)
}
