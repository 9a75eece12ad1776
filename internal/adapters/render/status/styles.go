package status

import (
	"github.com/bnema/greenscore/internal/domain"
	"github.com/charmbracelet/lipgloss"
)

type styles struct {
	title      lipgloss.Style
	header     lipgloss.Style
	account    lipgloss.Style
	detail     lipgloss.Style
	warning    lipgloss.Style
	section    lipgloss.Style
	empty      lipgloss.Style
	metricKey  lipgloss.Style
	metricMeta lipgloss.Style
	barBracket lipgloss.Style
	barFill    lipgloss.Style
	barEmpty   lipgloss.Style
}

type palette struct {
	accent, text, muted, fill, track lipgloss.Color
}

var palettes = map[domain.Theme]palette{
	domain.ThemeDark:  {accent: "42", text: "252", muted: "245", fill: "120", track: "238"},
	domain.ThemeLight: {accent: "28", text: "235", muted: "243", fill: "34", track: "252"},
}

// newStyles picks the palette for theme. The system theme follows the
// terminal background.
func newStyles(theme domain.Theme) styles {
	p, ok := palettes[theme]
	if !ok {
		p = palettes[domain.ThemeDark]
		if !lipgloss.HasDarkBackground() {
			p = palettes[domain.ThemeLight]
		}
	}

	return styles{
		title:      lipgloss.NewStyle().Bold(true).Foreground(p.accent),
		header:     lipgloss.NewStyle().Foreground(p.muted),
		account:    lipgloss.NewStyle().Bold(true).Foreground(p.accent),
		detail:     lipgloss.NewStyle().Foreground(p.text),
		warning:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203")),
		section:    lipgloss.NewStyle().MarginTop(1),
		empty:      lipgloss.NewStyle().Faint(true),
		metricKey:  lipgloss.NewStyle().Foreground(p.text),
		metricMeta: lipgloss.NewStyle().Foreground(p.muted),
		barBracket: lipgloss.NewStyle().Foreground(p.muted),
		barFill:    lipgloss.NewStyle().Foreground(p.fill),
		barEmpty:   lipgloss.NewStyle().Foreground(p.track),
	}
}
