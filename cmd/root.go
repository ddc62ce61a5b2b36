/*
Copyright © 2025 AWEAR Health
*/
package cmd

import (
	"fmt"
	"os"

	"github.com/awearhealth/go-link"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "awear-link",
	Short: "Discover and manage AWEAR biometric hardware over serial",
	Long: `awear-link finds AWEAR receivers and senders attached to this machine,
classifies them with the identify handshake, streams decoded vitals
telemetry, and pairs senders with a receiver.

The manager scans serial ports on an interval, probes anything new at
the firmware line configuration (921600 8N1, DTR/RTS asserted), and
tears connections down cleanly when hardware disappears.`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.awear-link.yaml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().Duration("scan-interval", link.DefaultScanInterval, "How often the port set is re-scanned")
	rootCmd.PersistentFlags().Duration("settle-delay", link.DefaultSettleDelay, "How long a probe waits for device boot before identify")
	rootCmd.PersistentFlags().Duration("probe-window", link.DefaultProbeTimeout, "How long a probe waits for a classifying handshake")

	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("scan_interval", rootCmd.PersistentFlags().Lookup("scan-interval"))
	viper.BindPFlag("settle_delay", rootCmd.PersistentFlags().Lookup("settle-delay"))
	viper.BindPFlag("probe_window", rootCmd.PersistentFlags().Lookup("probe-window"))
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".awear-link")
	}

	viper.SetEnvPrefix("AWEAR_LINK")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// newLogger builds the CLI's console logger from the verbose setting
func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if viper.GetBool("verbose") {
		level = zerolog.DebugLevel
	}
	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}
	return zerolog.New(writer).Level(level).With().Timestamp().Logger()
}

// newManager assembles a link manager from the CLI configuration. The
// viper-backed skip store makes configuration-failure blacklists survive
// restarts.
func newManager(extra ...link.ManagerOption) (*link.Manager, error) {
	opts := []link.ManagerOption{
		link.WithLogger(newLogger()),
		link.WithSkipStore(&viperSkipStore{}),
		link.WithScanInterval(viper.GetDuration("scan_interval")),
		link.WithSettleDelay(viper.GetDuration("settle_delay")),
		link.WithProbeWindow(viper.GetDuration("probe_window")),
	}
	opts = append(opts, extra...)
	return link.NewManager(opts...)
}
