/*
Copyright © 2025 AWEAR Health
*/
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/awearhealth/go-link"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List available serial ports",
	Long: `List all serial ports the manager would consider probing.

This scans for communication-capable serial devices including:
- USB serial adapters (ttyUSB*)
- USB CDC/ACM devices (ttyACM*)
- Standard serial ports (ttyS*)
- ARM/Raspberry Pi ports (ttyAMA*)

The reserved system console ports (/dev/ttyS0, /dev/ttyAMA0), virtual
terminals and pseudo-terminals are excluded.`,
	Run: func(cmd *cobra.Command, args []string) {
		ports, err := link.ListPorts()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing ports: %v\n", err)
			os.Exit(1)
		}

		if len(ports) == 0 {
			fmt.Println("No serial ports found")
			return
		}

		filterType, _ := cmd.Flags().GetString("filter")
		tableFormat, _ := cmd.Flags().GetBool("table")

		filteredPorts := filterPorts(ports, filterType)
		if len(filteredPorts) == 0 {
			fmt.Printf("No serial ports found matching filter: %s\n", filterType)
			return
		}

		if tableFormat {
			renderTable(filteredPorts)
		} else {
			renderSimple(filteredPorts)
		}
	},
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringP("filter", "f", "", "Filter by port type: usb, standard, arm, all")
	listCmd.Flags().BoolP("table", "t", false, "Display output in a styled table format")
}

// filterPorts filters the port list based on the specified filter type
func filterPorts(ports []string, filterType string) []string {
	if filterType == "" || filterType == "all" {
		return ports
	}

	var filtered []string
	for _, port := range ports {
		info, err := link.GetPortInfo(port)
		if err != nil {
			continue
		}

		name := strings.ToLower(info.Name)
		switch strings.ToLower(filterType) {
		case "usb":
			if strings.HasPrefix(name, "ttyusb") || strings.HasPrefix(name, "ttyacm") {
				filtered = append(filtered, port)
			}
		case "standard":
			if strings.HasPrefix(name, "ttys") {
				filtered = append(filtered, port)
			}
		case "arm":
			if strings.HasPrefix(name, "ttyama") {
				filtered = append(filtered, port)
			}
		}
	}
	return filtered
}

// renderTable renders the port list in a styled static table format
func renderTable(ports []string) {
	fmt.Printf("Found %d serial port(s):\n\n", len(ports))

	portWidth := 15
	descWidth := 24
	vidWidth := 6
	pidWidth := 6
	serialWidth := 16

	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("99")).
		Border(lipgloss.NormalBorder(), false, false, true, false).
		BorderForeground(lipgloss.Color("240")).
		PaddingBottom(1)

	cellStyle := lipgloss.NewStyle().
		PaddingRight(2)

	header := fmt.Sprintf("%-*s %-*s %-*s %-*s %-*s",
		portWidth, "Port",
		descWidth, "Description",
		vidWidth, "VID",
		pidWidth, "PID",
		serialWidth, "Serial")
	fmt.Println(headerStyle.Render(header))

	for _, port := range ports {
		info, err := link.GetPortInfo(port)
		if err != nil {
			row := fmt.Sprintf("%-*s %-*s", portWidth, port, descWidth, fmt.Sprintf("Error: %v", err))
			fmt.Println(cellStyle.Render(row))
			continue
		}

		row := fmt.Sprintf("%-*s %-*s %-*s %-*s %-*s",
			portWidth, info.Name,
			descWidth, info.Description,
			vidWidth, orDash(info.VendorID),
			pidWidth, orDash(info.ProductID),
			serialWidth, orDash(info.SerialNumber))
		fmt.Println(cellStyle.Render(row))
	}
}

// renderSimple renders the port list in simple text format
func renderSimple(ports []string) {
	for _, port := range ports {
		fmt.Println(port)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
