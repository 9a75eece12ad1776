package status

import (
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/bnema/greenscore/internal/application"
	"github.com/bnema/greenscore/internal/domain"
	"github.com/charmbracelet/lipgloss"
)

type RenderOptions struct {
	Theme   domain.Theme
	Density domain.Density
	// TxHash, when set, is shown as the last transaction sent.
	TxHash string
}

const barWidth = 24

func renderView(d Dashboard, opts RenderOptions, s styles) string {
	lines := []string{
		s.title.Render("GreenScore"),
		s.header.Render(sessionLine(d.Status)),
	}
	if d.Status.Wallet.Connected() {
		lines = append(lines, s.account.Render(accountLine(d.Status)))
	}
	for _, warning := range warnings(d.Status) {
		lines = append(lines, s.warning.Render(warning))
	}

	switch {
	case d.View == nil:
		lines = append(lines, s.empty.Render("Score not loaded."))
	case d.View.Decrypted == nil:
		lines = append(lines, s.section.Render(renderSealed(d.View.Handles, s)))
	default:
		lines = append(lines, s.section.Render(renderDecrypted(*d.View, opts, s)))
	}

	if opts.TxHash != "" {
		lines = append(lines, s.header.Render("last tx: "+opts.TxHash))
	}

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func sessionLine(status application.RuntimeStatus) string {
	parts := []string{fmt.Sprintf("wallet: %s", status.Wallet.Status)}
	if status.Wallet.ProviderName != "" {
		parts = append(parts, fmt.Sprintf("via %s", status.Wallet.ProviderName))
	}
	parts = append(parts, fmt.Sprintf("fhe: %s", status.Instance.Status))
	if status.Ready {
		parts = append(parts, "ready")
	}
	return strings.Join(parts, " | ")
}

func accountLine(status application.RuntimeStatus) string {
	account := shortAddress(status.Wallet.Snapshot.ActiveAccount())
	chain := "unknown chain"
	if id := status.Wallet.Snapshot.ChainID; id != nil {
		chain = fmt.Sprintf("chain %d", *id)
		if status.ChainName != "" {
			chain = fmt.Sprintf("%s (%d)", status.ChainName, *id)
		}
	}
	return fmt.Sprintf("Account: %s on %s", account, chain)
}

func warnings(status application.RuntimeStatus) []string {
	var out []string
	if status.Wallet.Error != "" {
		out = append(out, "wallet error: "+status.Wallet.Error)
	}
	if status.Instance.Status == domain.FhevmStatusError {
		out = append(out, "fhe error: "+status.Instance.Error)
	}
	if status.Wallet.Connected() && status.ContractErr != nil {
		out = append(out, "contract: "+status.ContractErr.Error())
	}
	return out
}

func renderSealed(bundle domain.HandleBundle, s styles) string {
	sealed := len(bundle.NonZeroHandles())
	return lipgloss.JoinVertical(
		lipgloss.Left,
		s.detail.Render(fmt.Sprintf("score: encrypted (%d handles)", sealed)),
		s.detail.Render(fmt.Sprintf("actions on record: %d", bundle.PlainActionCount)),
	)
}

func renderDecrypted(view domain.AggregateView, opts RenderOptions, s styles) string {
	d := view.Decrypted
	parts := []string{
		metricLine("score", d.Score, s),
		metricLine("actions", d.Actions, s),
		metricLine("pending rewards", d.PendingRewards, s),
	}
	if opts.Density == domain.DensityCompact {
		return lipgloss.JoinVertical(lipgloss.Left, parts...)
	}

	parts = append(parts,
		metricLine("global score", d.GlobalScore, s),
		metricLine("global actions", d.GlobalActions, s),
		s.header.Render(fmt.Sprintf("actions on record: %d", view.Handles.PlainActionCount)),
	)

	total := sumValues(d.Buckets[:])
	for _, action := range domain.Actions() {
		parts = append(parts, bucketLine(action, d.Buckets[action.Bucket], total, s))
	}

	if leaders := leaderboardLines(d.Leaderboard, s); len(leaders) > 0 {
		parts = append(parts, s.section.Render(s.metricKey.Render("leaderboard")))
		parts = append(parts, leaders...)
	}

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func metricLine(label string, value *big.Int, s styles) string {
	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		s.metricKey.Render(label+":"),
		" ",
		s.detail.Render(formatValue(value)),
	)
}

func bucketLine(action domain.GreenActionDefinition, value, total *big.Int, s styles) string {
	percent := sharePercent(value, total)
	label := s.metricKey.Render(fmt.Sprintf("%-20s", action.Label))
	meta := lipgloss.NewStyle().Foreground(interpolateColor(percent, 0, 100)).Render(fmt.Sprintf("%3.0f%%", percent))

	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		label,
		" ",
		renderProgressBar(percent, barWidth, s),
		" ",
		meta,
		" ",
		s.metricMeta.Render(fmt.Sprintf("(%s pts)", formatValue(value))),
	)
}

func leaderboardLines(slots [domain.BucketCount]*big.Int, s styles) []string {
	var lines []string
	for i, value := range slots {
		if value == nil {
			continue
		}
		lines = append(lines, s.detail.Render(fmt.Sprintf("#%d  %s", i+1, value.String())))
	}
	return lines
}

func formatValue(value *big.Int) string {
	if value == nil {
		return "n/a"
	}
	return value.String()
}

func sumValues(values []*big.Int) *big.Int {
	total := new(big.Int)
	for _, value := range values {
		if value != nil {
			total.Add(total, value)
		}
	}
	return total
}

func sharePercent(value, total *big.Int) float64 {
	if value == nil || total == nil || total.Sign() <= 0 {
		return 0
	}
	ratio, _ := new(big.Rat).SetFrac(value, total).Float64()
	return clampPercent(ratio * 100)
}

func renderProgressBar(percent float64, width int, s styles) string {
	if width <= 0 {
		return ""
	}

	filled := int(math.Round(float64(width) * clampPercent(percent) / 100))
	if filled < 0 {
		filled = 0
	}
	if filled > width {
		filled = width
	}

	empty := width - filled
	fillSegment := s.barFill.Render(strings.Repeat("=", filled))
	emptySegment := s.barEmpty.Render(strings.Repeat("-", empty))

	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		s.barBracket.Render("["),
		fillSegment,
		emptySegment,
		s.barBracket.Render("]"),
	)
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func shortAddress(address string) string {
	if len(address) <= 12 {
		return address
	}
	return address[:6] + "..." + address[len(address)-4:]
}

func interpolateColor(value, min, max float64) lipgloss.Color {
	if max == min {
		return lipgloss.Color("255")
	}

	normalized := (value - min) / (max - min)
	if normalized < 0 {
		normalized = 0
	}
	if normalized > 1 {
		normalized = 1
	}

	// ANSI 256 greyscale ramp, 240 at min up to 255 at max.
	baseColor := 240.0
	targetColor := 255.0
	colorCode := int(baseColor + (targetColor-baseColor)*normalized)

	return lipgloss.Color(fmt.Sprintf("%d", colorCode))
}
