package status

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bnema/botkeeper/internal/domain"
	"github.com/charmbracelet/lipgloss"
)

const barWidth = 24

type RenderOptions struct {
	Now                time.Time
	LedgerPath         string
	CheckpointInterval time.Duration
	RotationInterval   time.Duration
}

func renderView(record domain.RuntimeRecord, opts RenderOptions, s styles) string {
	lines := []string{s.title.Render("Bot Runtime")}
	if opts.LedgerPath != "" {
		lines = append(lines, s.header.Render("ledger: "+opts.LedgerPath))
	}

	if record.BotID == "" && record.StartedAt.IsZero() {
		lines = append(lines, s.empty.Render("No runtime recorded yet."))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}

	parts := []string{
		s.bot.Render(botTitle(record)),
		s.detail.Render(listenerLine(record)),
		s.detail.Render(fmt.Sprintf("started: %s, restarts: %d", formatWhen(record.StartedAt, opts.Now), record.Restarts)),
		s.detail.Render("last login: " + formatWhen(record.LastLoginAt, opts.Now)),
		s.detail.Render("credentials: " + encryptionLabel(record.Encrypted)),
		scheduleLine("checkpoint", record.LastCheckpointAt, opts.CheckpointInterval, opts.Now, s),
		scheduleLine("rotation", record.LastRotationAt, opts.RotationInterval, opts.Now, s),
		s.detail.Render(fmt.Sprintf("rotations: %d", record.Rotations)),
	}

	if opts.CheckpointInterval > 0 && !opts.Now.IsZero() && record.CheckpointStale(opts.Now, opts.CheckpointInterval) {
		parts = append(parts, s.warning.Render("[checkpoint overdue]"))
	}
	if record.LastCheckpointError != "" {
		parts = append(parts, s.warning.Render("last checkpoint failed: "+record.LastCheckpointError))
	}

	lines = append(lines, s.section.Render(lipgloss.JoinVertical(lipgloss.Left, parts...)))
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func botTitle(record domain.RuntimeRecord) string {
	if record.BotID == "" {
		return "Bot (not logged in)"
	}
	return fmt.Sprintf("Bot %s", record.BotID)
}

func listenerLine(record domain.RuntimeRecord) string {
	if record.ListenerID == "" {
		return "listener: none"
	}
	return "listener: " + string(record.ListenerID)
}

func encryptionLabel(encrypted bool) string {
	if encrypted {
		return "encrypted"
	}
	return "plain"
}

// scheduleLine shows how much of the interval has elapsed since last.
func scheduleLine(name string, last time.Time, interval time.Duration, now time.Time, s styles) string {
	label := s.key.Render(name + ":")
	if last.IsZero() {
		return lipgloss.JoinHorizontal(lipgloss.Top, label, " ", s.empty.Render("never"))
	}
	if interval <= 0 || now.IsZero() {
		return lipgloss.JoinHorizontal(lipgloss.Top, label, " ", s.detail.Render(formatWhen(last, now)))
	}

	elapsed := now.Sub(last)
	percent := clampPercent(100 * elapsed.Seconds() / interval.Seconds())
	next := last.Add(interval)

	nextStyle := lipgloss.NewStyle().Foreground(interpolateColor(percent, 0, 100))
	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		label,
		" ",
		renderProgressBar(percent, barWidth, s),
		" ",
		s.detail.Render(formatWhen(last, now)),
		" ",
		nextStyle.Render(fmt.Sprintf("(%s)", formatNext(next, now))),
	)
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

	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		s.barBracket.Render("["),
		s.barFill.Render(strings.Repeat("=", filled)),
		s.barEmpty.Render(strings.Repeat("-", width-filled)),
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

func formatWhen(at, now time.Time) string {
	if at.IsZero() {
		return "never"
	}
	if now.IsZero() {
		return at.Format(time.RFC3339)
	}
	if at.After(now) {
		return at.Format("15:04 on 02 Jan")
	}
	return humanDuration(now.Sub(at)) + " ago"
}

func formatNext(next, now time.Time) string {
	if !next.After(now) {
		return "due now"
	}
	return "next in " + humanDuration(next.Sub(now))
}

func humanDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return plural(int(d.Seconds()), "second")
	case d < time.Hour:
		return plural(int(d.Minutes()), "minute")
	case d < 48*time.Hour:
		return plural(int(math.Round(d.Hours())), "hour")
	default:
		return plural(int(d.Hours()/24), "day")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
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

	// ANSI 256 greyscale ramp, 240 faded to 255 bright.
	return lipgloss.Color(fmt.Sprintf("%d", int(240+15*normalized)))
}
