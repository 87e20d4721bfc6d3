package main

import (
	"fmt"
	"sort"
	"strings"

	"whpvr/pkg/types"
	"whpvr/pkg/whpvr"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	primaryColor   = lipgloss.Color("#FF79C6")
	secondaryColor = lipgloss.Color("#8BE9FD")
	accentColor    = lipgloss.Color("#50FA7B")
	warningColor   = lipgloss.Color("#FFB86C")
	dangerColor    = lipgloss.Color("#FF5555")
	mutedColor     = lipgloss.Color("#6272A4")
	fgColor        = lipgloss.Color("#F8F8F2")

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(1, 2)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginBottom(1)

	mutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	labelStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Width(22)

	valueStyle = lipgloss.NewStyle().
			Foreground(fgColor).
			Bold(true)

	accentValueStyle = lipgloss.NewStyle().
				Foreground(accentColor).
				Bold(true)

	warningValueStyle = lipgloss.NewStyle().
				Foreground(warningColor).
				Bold(true)

	dangerValueStyle = lipgloss.NewStyle().
				Foreground(dangerColor).
				Bold(true)
)

// consoleDialog shows dialogs as a panel on stdout.
type consoleDialog struct{}

func (consoleDialog) CreateAndShowDialogue(id, title, message string) {
	fmt.Println(createPanel(title, message, 60))
}

func createPanel(title, content string, width int) string {
	panel := panelStyle
	if width > 0 {
		panel = panel.Width(width)
	}
	return panel.Render(lipgloss.JoinVertical(lipgloss.Left, titleStyle.Render(title), content))
}

func line(label, value string, style lipgloss.Style) string {
	return fmt.Sprintf("%s %s", labelStyle.Render(label+":"), style.Render(value))
}

func renderStatus(svc *whpvr.Service, healthStatus string) string {
	enabled := dangerValueStyle.Render("DISABLED")
	if svc.IsEnabled() {
		enabled = accentValueStyle.Render("ENABLED")
	}

	var content strings.Builder
	content.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render("Whole-home recording:"), enabled))
	content.WriteString(line("Name", svc.LocalName(), valueStyle) + "\n")
	content.WriteString(line("UDN", svc.LocalServerUDN(), valueStyle) + "\n")
	content.WriteString(line("Remote peers", fmt.Sprintf("%d", len(svc.Servers())), valueStyle) + "\n")
	content.WriteString(renderRecordServer(svc) + "\n")
	content.WriteString(line("Service health", healthStatus, healthValueStyle(healthStatus)))

	return createPanel("WHOLE-HOME RECORDING", content.String(), 70)
}

func healthValueStyle(status string) lipgloss.Style {
	if status == "SERVING" {
		return accentValueStyle
	}
	return warningValueStyle
}

func renderHealthOnly(address, healthStatus string) string {
	var content strings.Builder
	content.WriteString(line("Health endpoint", address, valueStyle) + "\n")
	content.WriteString(line("Service health", healthStatus, healthValueStyle(healthStatus)) + "\n")
	content.WriteString(mutedStyle.Render("Preferences are held by the running service"))

	return createPanel("WHOLE-HOME RECORDING", content.String(), 70)
}

func renderRecordServer(svc *whpvr.Service) string {
	switch {
	case svc.IsLocalRecordServer():
		return line("Record server", "local ("+svc.LocalName()+")", accentValueStyle)
	case svc.IsRemoteRecordServerValid():
		return line("Record server", svc.CurrentRecordServerName()+" "+svc.CurrentRecordServer(), valueStyle)
	default:
		return line("Record server", svc.CurrentRecordServer()+" (not on network)", warningValueStyle)
	}
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(secondaryColor)).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == 0:
				return lipgloss.NewStyle().
					Foreground(lipgloss.Color("#ffffff")).
					Bold(true).
					Padding(0, 1)
			default:
				return lipgloss.NewStyle().
					Padding(0, 1)
			}
		}).
		Headers(headers...)
}

func createPeersTable(svc *whpvr.Service, servers []types.Device) string {
	recordings := map[string]int{}
	for _, rec := range svc.AllRecordings() {
		recordings[rec.UDN]++
	}
	schedules := map[string]int{}
	for _, sched := range svc.AllSchedules() {
		schedules[sched.UDN]++
	}

	current := svc.CurrentRecordServer()
	t := newTable("UDN", "NAME", "MODEL", "RECORDINGS", "SCHEDULES", "ROLE")
	for _, dev := range servers {
		role := mutedStyle.Render("peer")
		if dev.UDN == current {
			role = accentValueStyle.Render("RECORD SERVER")
		}
		t.Row(
			dev.UDN,
			dev.FriendlyName,
			dev.ModelName+" "+dev.ModelNumber,
			fmt.Sprintf("%d", recordings[dev.UDN]),
			fmt.Sprintf("%d", schedules[dev.UDN]),
			role,
		)
	}

	return lipgloss.NewStyle().
		MarginBottom(1).
		Render("RECORDING PEERS\n" + t.Render())
}

func createPrefsTable(all map[string]string) string {
	paths := make([]string, 0, len(all))
	for path := range all {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	t := newTable("PREFERENCE", "VALUE")
	for _, path := range paths {
		t.Row(path, all[path])
	}
	return "PREFERENCES\n" + t.Render()
}

type searchResult struct {
	udn    string
	object types.ContentObject
}

func createSearchTable(svc *whpvr.Service, results []searchResult) string {
	if len(results) == 0 {
		return mutedStyle.Render("No matches")
	}

	t := newTable("TITLE", "FOLDER", "TV")
	for _, r := range results {
		t.Row(r.object.Title, r.object.UIFolder, svc.TVNameByUDN(r.udn))
	}
	return t.Render()
}
