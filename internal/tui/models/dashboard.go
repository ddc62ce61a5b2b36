package models

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/awearhealth/go-link"
	"github.com/awearhealth/go-link/internal/tui/keys"
	"github.com/awearhealth/go-link/internal/tui/styles"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Messages pumped from the manager's subscription channels
type (
	SnapshotMsg []link.Device
	VitalsMsg   link.VitalsFrame
	PairingMsg  link.PairingEvent
)

// Dashboard is the live device and telemetry view backing `watch`
type Dashboard struct {
	mgr *link.Manager

	devices  table.Model
	snapshot []link.Device
	vitals   map[string]link.VitalsFrame // latest frame per sender MAC
	status   string
	statusAt time.Time

	snapshots <-chan []link.Device
	frames    <-chan link.VitalsFrame
	pairings  <-chan link.PairingEvent
	snapID    string
	vitalsID  string

	keys   keys.DashboardKeys
	help   help.Model
	width  int
	height int
}

// NewDashboard subscribes to the manager's snapshot and vitals streams
// and builds the initial view.
func NewDashboard(mgr *link.Manager) (*Dashboard, error) {
	snapID, snapshots := mgr.Devices(8)
	vitalsID, frames, err := mgr.Vitals(64)
	if err != nil {
		mgr.UnsubscribeDevices(snapID)
		return nil, err
	}

	columns := []table.Column{
		{Title: "Port", Width: 16},
		{Title: "Type", Width: 10},
		{Title: "MAC", Width: 19},
		{Title: "Paired To", Width: 19},
		{Title: "State", Width: 14},
		{Title: "Last Seen", Width: 12},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(false),
		table.WithHeight(6),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.Bold(false)
	t.SetStyles(s)

	return &Dashboard{
		mgr:       mgr,
		devices:   t,
		vitals:    make(map[string]link.VitalsFrame),
		snapshots: snapshots,
		frames:    frames,
		pairings:  mgr.PairingEvents(),
		snapID:    snapID,
		vitalsID:  vitalsID,
		keys:      keys.NewDashboardKeys(),
		help:      help.New(),
	}, nil
}

func (d *Dashboard) Init() tea.Cmd {
	return tea.Batch(d.waitSnapshot(), d.waitFrame(), d.waitPairing())
}

func (d *Dashboard) waitSnapshot() tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-d.snapshots
		if !ok {
			return nil
		}
		return SnapshotMsg(snap)
	}
}

func (d *Dashboard) waitFrame() tea.Cmd {
	return func() tea.Msg {
		frame, ok := <-d.frames
		if !ok {
			return nil
		}
		return VitalsMsg(frame)
	}
}

func (d *Dashboard) waitPairing() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-d.pairings
		if !ok {
			return nil
		}
		return PairingMsg(ev)
	}
}

func (d *Dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		d.width = msg.Width
		d.height = msg.Height
		d.help.Width = msg.Width
		return d, nil

	case SnapshotMsg:
		d.snapshot = msg
		d.refreshTable()
		return d, d.waitSnapshot()

	case VitalsMsg:
		d.vitals[msg.Sender] = link.VitalsFrame(msg)
		return d, d.waitFrame()

	case PairingMsg:
		d.status = styles.PairedStyle.Render(fmt.Sprintf("PAIRED_OK from %s", msg.PortName))
		d.statusAt = msg.At
		return d, d.waitPairing()

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "Q", "ctrl+c":
			d.mgr.UnsubscribeDevices(d.snapID)
			d.mgr.UnsubscribeVitals(d.vitalsID)
			return d, tea.Quit
		case "?":
			d.help.ShowAll = !d.help.ShowAll
			return d, nil
		case "p", "P":
			return d, d.pairAll()
		}
	}

	var cmd tea.Cmd
	d.devices, cmd = d.devices.Update(msg)
	return d, cmd
}

// pairAll sends a pair command for the current receiver to every active
// sender. Results show up via PairingMsg when the hardware acknowledges.
func (d *Dashboard) pairAll() tea.Cmd {
	recv, ok := d.mgr.Receiver()
	if !ok || recv.MAC == link.MACUnknown {
		d.status = styles.ErrorStyle.Render("no receiver to pair against")
		d.statusAt = time.Now()
		return nil
	}
	senders := d.mgr.Senders()
	if len(senders) == 0 {
		d.status = styles.ErrorStyle.Render("no active senders")
		d.statusAt = time.Now()
		return nil
	}

	mgr, mac := d.mgr, recv.MAC
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		for _, s := range senders {
			mgr.Pair(ctx, s.PortName, mac)
		}
		return nil
	}
}

func (d *Dashboard) refreshTable() {
	sorted := append([]link.Device(nil), d.snapshot...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PortName < sorted[j].PortName })

	rows := make([]table.Row, 0, len(sorted))
	for _, dev := range sorted {
		pairedTo := dev.PairedTo
		if pairedTo == "" {
			pairedTo = "-"
		}
		rows = append(rows, table.Row{
			dev.PortName,
			dev.Type.String(),
			dev.MAC,
			pairedTo,
			styles.StateStyle(dev.State).Render(dev.State.String()),
			dev.LastSeen.Format("15:04:05"),
		})
	}
	d.devices.SetRows(rows)
}

func (d *Dashboard) View() string {
	title := styles.TitleStyle.Render("AWEAR Link")

	var vitalsView string
	if len(d.vitals) == 0 {
		vitalsView = styles.InfoStyle.Render("waiting for vitals frames...")
	} else {
		macs := make([]string, 0, len(d.vitals))
		for mac := range d.vitals {
			macs = append(macs, mac)
		}
		sort.Strings(macs)
		for _, mac := range macs {
			f := d.vitals[mac]
			line := fmt.Sprintf("hr=%.1f spo2=%d rr=%.1f temp=%.1f stress=%.1f rssi=%d",
				f.HeartRate, f.SpO2, f.RespirationRate, f.Temperature, f.Stress, f.RSSI)
			rendered := styles.VitalsSenderStyle.Render(mac) + "  " + styles.VitalsValueStyle.Render(line)
			if f.MotionArtifact {
				rendered += "  " + styles.MotionArtifactStyle.Render("[motion]")
			}
			vitalsView += rendered + "\n"
		}
	}

	status := d.status
	if status != "" && time.Since(d.statusAt) > 5*time.Second {
		status = ""
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		title,
		"",
		d.devices.View(),
		styles.ContentBorderStyle.Width(max(d.width, 40)).Render(""),
		vitalsView,
		status,
		d.help.View(d.keys),
	)
}
