package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/fleetprint/agent/internal/agent"
	"github.com/fleetprint/agent/internal/config"
	"github.com/fleetprint/agent/internal/logging"
	"github.com/fleetprint/agent/internal/printers"
)

var (
	version      = "0.1.0"
	cfgFile      string
	dashboardURL string
	apiKey       string
)

var rootCmd = &cobra.Command{
	Use:   "fleetprint-agent",
	Short: "FleetPrint Agent",
	Long:  `FleetPrint Agent - printer fleet monitoring and remediation agent for Windows, macOS, and Linux`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the agent",
	Run: func(cmd *cobra.Command, args []string) {
		runAgent()
	},
}

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Write agent configuration for the FleetPrint dashboard",
	Run: func(cmd *cobra.Command, args []string) {
		configureAgent()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("FleetPrint Agent v%s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check agent configuration status",
	Run: func(cmd *cobra.Command, args []string) {
		checkStatus()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/fleetprint/agent.yaml)")
	rootCmd.PersistentFlags().StringVar(&dashboardURL, "dashboard", "", "FleetPrint dashboard URL")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "agent API key")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(configureCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runAgent() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, os.Stderr)
	cfg.Validate()

	a := agent.New(*cfg, cfgFile, version, printers.NewSystemProvider())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Agent stopped with error: %v\n", err)
		os.Exit(1)
	}
}

func configureAgent() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		cfg = config.Default()
	}

	if dashboardURL != "" {
		cfg.DashboardURL = dashboardURL
	}
	if apiKey != "" {
		cfg.APIKey = apiKey
	}
	if cfg.AgentID == "" {
		cfg.AgentID = uuid.NewString()
	}

	if cfg.DashboardURL == "" {
		fmt.Fprintln(os.Stderr, "Dashboard URL required. Use --dashboard flag or set in config.")
		os.Exit(1)
	}
	if cfg.APIKey == "" {
		fmt.Fprintln(os.Stderr, "API key required. Use --api-key flag or set in config.")
		os.Exit(1)
	}

	if cfgFile != "" {
		err = config.SaveTo(cfg, cfgFile)
	} else {
		err = config.Save(cfg)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to save config: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Configuration saved.")
	fmt.Printf("Agent ID: %s\n", cfg.AgentID)
	fmt.Println("Run 'fleetprint-agent run' to start the agent.")
}

func checkStatus() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Println("Status: Not configured")
		return
	}

	if !cfg.Ready() {
		fmt.Println("Status: Incomplete (missing API key or dashboard URL)")
		return
	}

	fmt.Println("Status: Configured")
	fmt.Printf("Agent ID: %s\n", cfg.AgentID)
	fmt.Printf("Dashboard: %s\n", cfg.DashboardURL)
	fmt.Printf("Realtime transport: %v\n", cfg.UseRealtimeTransport)
}
