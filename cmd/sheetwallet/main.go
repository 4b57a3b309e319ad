package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/Maphikza/sheet-wallet/internal/config"
	"github.com/Maphikza/sheet-wallet/internal/logger"
)

var settings config.Settings

var rootCmd = &cobra.Command{
	Use:   "sheetwallet",
	Short: "Spreadsheet-driven EVM wallet",
	Long: `An EVM wallet that connects to dApps over WalletConnect and asks for
approval of every signing request through a spreadsheet.`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(addressCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(pairCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(rejectCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(statusCmd)
}

func initConfig() {
	if err := config.LoadConfig(); err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}
	settings = config.Snapshot()

	if err := logger.Init(settings.LogFile, settings.LogLevel, settings.LogFormat, settings.LogSampler); err != nil {
		log.Printf("Error opening log file %s: %v", settings.LogFile, err)
	}
}

func main() {
	defer logger.Cleanup()
	if err := rootCmd.Execute(); err != nil {
		logger.Error("command failed", "error", err.Error())
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
