package status

import (
	"errors"
	"io"

	"github.com/bnema/greenscore/internal/application"
	"github.com/bnema/greenscore/internal/domain"
	tea "github.com/charmbracelet/bubbletea"
)

var ErrUnexpectedRenderModel = errors.New("unexpected final bubbletea model type")

type renderReadyMsg struct{}

// Dashboard is one render of the runtime. View is nil until the score has
// been fetched.
type Dashboard struct {
	Status application.RuntimeStatus
	View   *domain.AggregateView
}

type model struct {
	dashboard Dashboard
	opts      RenderOptions
	styles    styles
	output    string
}

func newModel(dashboard Dashboard, opts RenderOptions) model {
	return model{
		dashboard: dashboard,
		opts:      opts,
		styles:    newStyles(opts.Theme),
	}
}

func (m model) Init() tea.Cmd {
	return func() tea.Msg {
		return renderReadyMsg{}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg.(type) {
	case renderReadyMsg:
		m.output = renderView(m.dashboard, m.opts, m.styles)
		return m, tea.Quit
	default:
		return m, nil
	}
}

func (m model) View() string {
	return m.output
}

func Render(dashboard Dashboard, opts RenderOptions) (string, error) {
	p := tea.NewProgram(
		newModel(dashboard, opts),
		tea.WithInput(nil),
		tea.WithOutput(io.Discard),
	)

	finalModel, err := p.Run()
	if err != nil {
		return "", err
	}

	rendered, ok := finalModel.(model)
	if !ok {
		return "", ErrUnexpectedRenderModel
	}

	return rendered.View(), nil
}
