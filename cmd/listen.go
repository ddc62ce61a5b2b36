/*
Copyright © 2025 AWEAR Health
*/
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// listenCmd represents the listen command
var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Stream decoded vitals frames to stdout",
	Long: `Run the full discovery manager and print every decoded vitals frame
as one JSON object per line.

Diagnostics go to stderr, frames to stdout, so the output pipes cleanly:

  awear-link listen | jq .hr
  awear-link listen > vitals.jsonl`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		mgr, err := newManager()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := mgr.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer mgr.Stop()

		_, vitals, err := mgr.Vitals(256)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		enc := json.NewEncoder(os.Stdout)
		for {
			select {
			case frame, ok := <-vitals:
				if !ok {
					return
				}
				if err := enc.Encode(frame); err != nil {
					fmt.Fprintf(os.Stderr, "Error writing frame: %v\n", err)
					return
				}
			case <-ctx.Done():
				return
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(listenCmd)
}
