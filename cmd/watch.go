/*
Copyright © 2025 AWEAR Health
*/
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/awearhealth/go-link"
	"github.com/awearhealth/go-link/internal/tui/models"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live dashboard of connected devices and vitals",
	Long: `Run the full discovery manager with a live terminal dashboard.

The dashboard shows every classified device (port, type, MAC, pairing,
lifecycle state) and the latest vitals sample per sender, updating as
hardware is plugged in and removed.

Keys:
  p      pair all active senders to the current receiver
  ?      toggle help
  q      quit`,
	Run: func(cmd *cobra.Command, args []string) {
		// The TUI owns the terminal; manager logs would corrupt it
		mgr, err := newManager(link.WithLogger(zerolog.Nop()))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := mgr.Start(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer mgr.Stop()

		dashboard, err := models.NewDashboard(mgr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		p := tea.NewProgram(dashboard, tea.WithAltScreen())
		if _, err := p.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
