package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/anibaldeboni/zero-paper/sensorhub/config"
	"github.com/anibaldeboni/zero-paper/sensorhub/control"
	"github.com/anibaldeboni/zero-paper/sensorhub/remote"
)

const envPrefix = "SENSORHUB"

var rootCmd = &cobra.Command{
	Use:   "sensorhub",
	Short: "Raspberry Pi sensor station with Sensor Control",
	Long: `sensorhub records local sensor readings, forwards them to online services
and serves the station commands other stations use. Sensor Control fans out
to remote stations and collects their reports, databases and logs.`,
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the station",
	RunE:  runServe,
}

var statusCmd = &cobra.Command{
	Use:   "status [address...]",
	Short: "Check whether remote stations are online",
	Long: `Check every address, or the configured sensor_control.addresses when none
are given, and print hostname, response time and status per station.`,
	RunE: runStatus,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration helpers",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write an example configuration file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "sensorhub.yaml"
		if len(args) == 1 {
			path = args[0]
		}
		if _, err := os.Stat(path); err == nil && !viper.GetBool("force") {
			return fmt.Errorf("%s already exists, use --force to overwrite", path)
		}
		if err := config.GenerateExampleConfig(path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Example configuration written to %s\n", path)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		PrintVersion(cmd.OutOrStdout())
	},
}

func init() {
	cobra.OnInitialize(initViper)

	rootCmd.PersistentFlags().String("config", "", "configuration file (default: search sensorhub.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "override logging.level (debug, info, warn, error)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))

	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")
	_ = viper.BindPFlag("force", configInitCmd.Flags().Lookup("force"))

	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(serveCmd, statusCmd, configCmd, versionCmd)
}

// initViper maps SENSORHUB_CONFIG and SENSORHUB_LOG_LEVEL onto the flags.
func initViper() {
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// loadConfig reads the configuration and applies command line overrides.
func loadConfig() (*config.AppConfig, error) {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return nil, err
	}
	if level := viper.GetString("log_level"); level != "" {
		cfg.Logging.Level = level
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if len(args) == 0 {
		args = cfg.SensorControl.Addresses
	}
	addrs, err := remote.ParseAddresses(args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	state := control.NewState(cfg.RemoteCredentials())
	results := remote.CheckStatus(ctx, remote.NewClient(state), addrs, cfg.SensorControl.StatusTimeout)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-28s %-24s %-10s %s\n", "ADDRESS", "HOSTNAME", "SECONDS", "STATUS")
	offline := 0
	for _, r := range results {
		fmt.Fprintf(out, "%-28s %-24s %-10s %s\n", r.Address.Raw(), r.Hostname, r.ElapsedString(), r.Status)
		if !r.Completed() {
			offline++
		}
	}
	if offline > 0 {
		return fmt.Errorf("%d of %d stations did not answer", offline, len(results))
	}
	return nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
