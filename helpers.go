package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/lucasb-eyer/go-colorful"
)

const (
	signalLowDark   = "#BC3C00"
	signalHighDark  = "#00FF00"
	signalLowLight  = "#D05F00"
	signalHighLight = "#00B300"
)

var (
	subtleStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#BDBDBD", Dark: "#616161"})
	headerStyle = lipgloss.NewStyle().Bold(true)
)

// formatDuration renders a duration the way people say it, like "90 seconds"
// or "2.5 hours".
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Minute*2:
		return fmt.Sprintf("%0.f seconds", d.Seconds())
	case d < time.Hour*2:
		return fmt.Sprintf("%0.f minutes", d.Minutes())
	case d < time.Hour*48:
		return fmt.Sprintf("%0.1f hours", d.Hours())
	}
	return fmt.Sprintf("%0.f days", d.Hours()/24)
}

// signalColor blends from the low to the high signal color by quality (0-100).
func signalColor(quality int) lipgloss.Color {
	low, high := signalLowLight, signalHighLight
	if lipgloss.HasDarkBackground() {
		low, high = signalLowDark, signalHighDark
	}
	start, _ := colorful.Hex(low)
	end, _ := colorful.Hex(high)
	p := float64(quality) / 100.0
	return lipgloss.Color(start.BlendRgb(end, p).Hex())
}

func signalStyle(quality int) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(signalColor(quality))
}
