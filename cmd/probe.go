/*
Copyright © 2025 AWEAR Health
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/awearhealth/go-link"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// probeCmd represents the probe command
var probeCmd = &cobra.Command{
	Use:   "probe <port>",
	Short: "Run one identify handshake against a port",
	Long: `Open a port at the firmware line configuration, send the identify
command and report what answers.

This is a single manual classification attempt with the same timing and
failure taxonomy the manager applies during discovery.

Examples:
  awear-link probe /dev/ttyUSB0
  awear-link probe /dev/ttyACM0 --probe-window 3s`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		portPath := args[0]

		engine := link.NewProbeEngine(nil,
			viper.GetDuration("settle_delay"),
			viper.GetDuration("probe_window"),
			newLogger())

		res, err := engine.Probe(context.Background(), portPath)
		if err != nil {
			switch {
			case errors.Is(err, link.ErrPortBusy):
				fmt.Fprintf(os.Stderr, "Port is busy: %v\n", err)
			case errors.Is(err, link.ErrConfigRejected):
				fmt.Fprintf(os.Stderr, "Hardware rejected the line configuration: %v\n", err)
				fmt.Fprintln(os.Stderr, "This port cannot carry AWEAR firmware (921600 8N1)")
			case errors.Is(err, link.ErrProbeTimeout):
				fmt.Fprintln(os.Stderr, "No handshake within the probe window")
				fmt.Fprintln(os.Stderr, "Nothing speaking the AWEAR protocol is attached to this port")
			default:
				fmt.Fprintf(os.Stderr, "Probe failed: %v\n", err)
			}
			os.Exit(1)
		}
		defer res.Conn.Close()

		fmt.Printf("Classified: %s\n\n", portPath)
		fmt.Printf("  Type: %s\n", res.Type)
		fmt.Printf("  MAC:  %s\n", res.MAC)
		if res.PairedTo != "" {
			fmt.Printf("  Paired to: %s\n", res.PairedTo)
		}
	},
}

func init() {
	rootCmd.AddCommand(probeCmd)
}
