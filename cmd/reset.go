/*
Copyright © 2025 AWEAR Health
*/
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/awearhealth/go-link"
	"github.com/spf13/cobra"
)

// resetCmd represents the reset command
var resetCmd = &cobra.Command{
	Use:   "reset <port|serial>",
	Short: "Reset a hung USB receiver or sender",
	Long: `Perform a USB-level reset on a serial device. This can recover flaky
AWEAR hardware that is hung or unresponsive without physically
unplugging it.

The device will re-enumerate after reset, which may change the port path
(e.g. /dev/ttyUSB0 might become /dev/ttyUSB1). Use serial numbers to
reliably identify devices across resets.

Requirements:
- usbreset utility must be installed (from usbutils package)
- Root/sudo permissions required for USB operations

Examples:
  sudo awear-link reset /dev/ttyUSB0       # Reset by port path
  sudo awear-link reset --serial NC7ILXW1  # Reset by serial number`,
	Args: func(cmd *cobra.Command, args []string) error {
		serialFlag, _ := cmd.Flags().GetString("serial")
		if serialFlag == "" && len(args) != 1 {
			return errors.New("requires either a port path argument or --serial flag")
		}
		if serialFlag != "" && len(args) > 0 {
			return errors.New("cannot specify both port path and --serial flag")
		}
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		if !link.IsUSBResetAvailable() {
			fmt.Fprintln(os.Stderr, "Error: usbreset utility not available")
			fmt.Fprintln(os.Stderr, "Install with: sudo apt-get install usbutils")
			os.Exit(1)
		}

		serialFlag, _ := cmd.Flags().GetString("serial")

		var err error
		if serialFlag != "" {
			fmt.Printf("Resetting USB device with serial: %s\n", serialFlag)
			err = link.ResetUSBDeviceBySerial(serialFlag)
		} else {
			portPath := args[0]
			fmt.Printf("Resetting USB device: %s\n", portPath)
			err = link.ResetUSBDevice(portPath)
		}

		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			if errors.Is(err, link.ErrUSBInfoNotAvailable) {
				fmt.Fprintln(os.Stderr, "This device does not appear to be a USB device")
			}
			os.Exit(1)
		}

		fmt.Println("USB device reset successfully")
		fmt.Println("Device will re-enumerate (port path may change)")
		fmt.Println("\nUse 'awear-link list --table' to see the updated device list")
	},
}

func init() {
	rootCmd.AddCommand(resetCmd)

	resetCmd.Flags().StringP("serial", "s", "", "Reset device by serial number")
}
