// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Live TUI dashboard of scheduler/throttle/RailCom state",
	RunE:  runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	st := NewStation(cfg, log)
	go st.Run()
	defer st.Stop()

	st.Scheduler.SetModeOps()

	p := tea.NewProgram(newMonitorModel(st), tea.WithAltScreen())
	_, err = p.Run()
	return err
}

type monitorTickMsg time.Time

type monitorModel struct {
	st       *Station
	throttle table.Model
	quitting bool
}

func newMonitorModel(st *Station) monitorModel {
	cols := []table.Column{
		{Title: "ADDR", Width: 8},
		{Title: "SPEED", Width: 8},
		{Title: "FUNCTIONS", Width: 40},
	}
	t := table.New(
		table.WithColumns(cols),
		table.WithFocused(false),
		table.WithHeight(10),
	)
	t.SetStyles(table.Styles{
		Header: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		Cell:   lipgloss.NewStyle(),
	})
	return monitorModel{st: st, throttle: t}
}

func monitorTickCmd() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

func (m monitorModel) Init() tea.Cmd {
	return monitorTickCmd()
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "o":
			m.st.Scheduler.SetModeOps()
		case "x":
			m.st.Scheduler.SetModeOff()
		}
	case monitorTickMsg:
		m.refreshRows()
		return m, monitorTickCmd()
	}
	return m, nil
}

func (m *monitorModel) refreshRows() {
	var rows []table.Row
	for _, t := range m.st.Scheduler.Throttles() {
		on := []int{}
		for n := 0; n <= 68; n++ {
			if t.Function(n) {
				on = append(on, n)
			}
		}
		rows = append(rows, table.Row{
			fmt.Sprintf("%d", t.Address()),
			fmt.Sprintf("%d", t.Speed()),
			fmt.Sprintf("%v", on),
		})
	}
	m.throttle.SetRows(rows)
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	titleStyle := lipgloss.NewStyle().Bold(true).
		Foreground(lipgloss.Color("15")).
		Background(lipgloss.Color("62")).
		Padding(0, 1)
	labelStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	valueStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	var b strings.Builder
	b.WriteString(titleStyle.Render("DCCSTATION MONITOR"))
	b.WriteString("\n\n")

	sched := m.st.Scheduler
	b.WriteString(labelStyle.Render("Mode: "))
	b.WriteString(valueStyle.Render(sched.Mode().String()))
	b.WriteString("   ")
	b.WriteString(labelStyle.Render("Ack armed: "))
	b.WriteString(valueStyle.Render(fmt.Sprintf("%v", m.st.ADC.Armed())))
	b.WriteString("\n\n")

	if len(sched.Throttles()) == 0 {
		b.WriteString(boxStyle.Render("(no throttles — use 'dccstation console' to add one)"))
	} else {
		b.WriteString(boxStyle.Render(m.throttle.View()))
	}

	b.WriteString("\n\no: Ops Mode   x: Off   q: quit\n")
	return b.String()
}
