package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
)

type reportFunc func(percent int, label string)

type progressMsg struct {
	percent int
	label   string
}

type doneMsg struct{}

// progressModel draws a single bar while a long job runs. Esc, q or ctrl+c
// ask the job to stop; the model quits once the job reports done.
type progressModel struct {
	title      string
	bar        progress.Model
	percent    float64
	label      string
	cancel     func()
	cancelling bool
}

func newProgressModel(title string, cancel func()) progressModel {
	bar := progress.New(progress.WithDefaultGradient())
	bar.Width = 50
	return progressModel{title: title, bar: bar, cancel: cancel}
}

func (m progressModel) Init() tea.Cmd { return nil }

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc", "q":
			if !m.cancelling && m.cancel != nil {
				m.cancel()
				m.cancelling = true
			}
		}
	case tea.WindowSizeMsg:
		m.bar.Width = min(max(msg.Width-4, 10), 60)
	case progressMsg:
		m.percent = float64(msg.percent) / 100
		m.label = msg.label
	case doneMsg:
		return m, tea.Quit
	}
	return m, nil
}

func (m progressModel) View() string {
	var b strings.Builder
	b.WriteString(m.title)
	b.WriteString("\n\n")
	b.WriteString(m.bar.ViewAs(m.percent))
	b.WriteString("\n")
	b.WriteString(m.label)
	b.WriteString("\n")
	if m.cancelling {
		b.WriteString(warnStyle.Render("cancelling..."))
	} else {
		b.WriteString("esc to cancel")
	}
	b.WriteString("\n")
	return b.String()
}

// runWithProgress runs work while showing its progress on w. Plain mode
// prints one line per change instead of drawing a bar.
func runWithProgress(w io.Writer, plain bool, title string, cancel func(), work func(report reportFunc) error) error {
	if plain {
		last := progressMsg{percent: -1}
		return work(func(percent int, label string) {
			if percent == last.percent && label == last.label {
				return
			}
			last = progressMsg{percent: percent, label: label}
			fmt.Fprintf(w, "%s %3d%% %s\n", title, percent, label)
		})
	}

	p := tea.NewProgram(newProgressModel(title, cancel), tea.WithOutput(w))
	result := make(chan error, 1)
	go func() {
		err := work(func(percent int, label string) {
			p.Send(progressMsg{percent: percent, label: label})
		})
		result <- err
		p.Send(doneMsg{})
	}()
	if _, err := p.Run(); err != nil {
		if cancel != nil {
			cancel()
		}
		<-result
		return fmt.Errorf("progress display: %w", err)
	}
	return <-result
}
