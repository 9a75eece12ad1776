package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/bnema/greenscore/internal/domain"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type txDoneMsg struct {
	receipt domain.TxReceipt
	err     error
}

type txSpinnerModel struct {
	spinner spinner.Model
	label   string
	send    tea.Cmd
	receipt domain.TxReceipt
	err     error
	done    bool
}

func newTxSpinnerModel(label string, send tea.Cmd) txSpinnerModel {
	s := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("42"))),
	)

	return txSpinnerModel{
		spinner: s,
		label:   label,
		send:    send,
	}
}

func (m txSpinnerModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.send)
}

func (m txSpinnerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case txDoneMsg:
		m.done = true
		m.receipt = msg.receipt
		m.err = msg.err
		return m, tea.Quit
	default:
		return m, nil
	}
}

func (m txSpinnerModel) View() string {
	if m.done {
		return ""
	}

	return fmt.Sprintf("%s %s", m.spinner.View(), m.label)
}

// runTxSpinner shows label while send encrypts, signs and waits for the
// transaction to be mined.
func runTxSpinner(ctx context.Context, output io.Writer, label string, send func(context.Context) (domain.TxReceipt, error)) (domain.TxReceipt, error) {
	sendCmd := func() tea.Msg {
		receipt, err := send(ctx)
		return txDoneMsg{receipt: receipt, err: err}
	}

	p := tea.NewProgram(
		newTxSpinnerModel(label, sendCmd),
		tea.WithInput(nil),
		tea.WithOutput(output),
		tea.WithContext(ctx),
	)

	finalModel, err := p.Run()
	if err != nil {
		return domain.TxReceipt{}, err
	}

	result, ok := finalModel.(txSpinnerModel)
	if !ok {
		return domain.TxReceipt{}, fmt.Errorf("unexpected final spinner model type %T", finalModel)
	}

	return result.receipt, result.err
}
