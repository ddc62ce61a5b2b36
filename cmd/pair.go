/*
Copyright © 2025 AWEAR Health
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/awearhealth/go-link"
	"github.com/spf13/cobra"
)

// pairCmd represents the pair command
var pairCmd = &cobra.Command{
	Use:   "pair <senderPort> <receiverMac>",
	Short: "Pair a sender with a receiver",
	Long: `Send the pairing command to a sender and wait for its acknowledgment.

The sender port is opened directly (the device must not be held by a
running manager), the PAIR command is written, and the connection is
watched for the PAIRED_OK acknowledgment.

Examples:
  awear-link pair /dev/ttyACM0 08:92:72:85:83:78
  awear-link pair /dev/ttyACM0 08:92:72:85:83:78 --wait 10s`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		portPath, receiverMac := args[0], args[1]
		wait, _ := cmd.Flags().GetDuration("wait")

		conn, err := link.Open(portPath)
		if err != nil {
			if errors.Is(err, link.ErrPortBusy) {
				fmt.Fprintln(os.Stderr, "Port is busy; stop any running manager first")
			} else {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			}
			os.Exit(1)
		}
		defer conn.Close()

		pc := link.NewPairingController(0)
		ctx, cancel := context.WithTimeout(context.Background(), wait)
		defer cancel()

		if err := pc.Pair(ctx, conn, receiverMac); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Sent PAIR:%s to %s, waiting for acknowledgment...\n", receiverMac, portPath)

		buf := make([]byte, 1024)
		for {
			n, err := conn.ReadContext(ctx, buf)
			if n > 0 {
				pc.Observe(portPath, buf[:n])
				if pc.Succeeded(portPath) {
					fmt.Println("Pairing acknowledged (PAIRED_OK)")
					return
				}
			}
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					fmt.Fprintf(os.Stderr, "No acknowledgment within %s\n", wait)
				} else {
					fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				}
				os.Exit(1)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(pairCmd)

	pairCmd.Flags().DurationP("wait", "w", 5*time.Second, "How long to wait for the acknowledgment")
}
