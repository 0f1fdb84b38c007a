// Package view renders analysis sessions for the terminal.
package view

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/ashureev/cryptomind-desk/internal/domain"
)

const panelWidth = 72

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED")).
			Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#3B82F6")).
			Padding(0, 1).
			Width(panelWidth)

	activePanelStyle = panelStyle.
				BorderForeground(lipgloss.Color("#F59E0B"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280"))

	statusStyles = map[domain.AnalysisStatus]lipgloss.Style{
		domain.StatusPending:  lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280")),
		domain.StatusActive:   lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B")).Bold(true),
		domain.StatusComplete: lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981")).Bold(true),
		domain.StatusExpired:  lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")),
	}

	verdictStyles = map[string]lipgloss.Style{
		"UP":      lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981")).Bold(true),
		"DOWN":    lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")).Bold(true),
		"NEUTRAL": lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF")).Bold(true),
	}
)

// Options controls rendering.
type Options struct {
	// ActiveID highlights the active session.
	ActiveID string
	// Now is used for elapsed times; zero means time.Now().
	Now time.Time
	// Limit keeps only the newest sessions; zero shows all.
	Limit int
}

// RenderPanel renders sessions newest first.
func RenderPanel(sessions []*domain.AnalysisSession, opts Options) string {
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	ordered := slices.Clone(sessions)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Seq > ordered[j].Seq })
	if opts.Limit > 0 && len(ordered) > opts.Limit {
		ordered = ordered[:opts.Limit]
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("Analyses (%d)", len(sessions))))
	b.WriteString("\n")
	if len(ordered) == 0 {
		b.WriteString(labelStyle.Render("  no analyses yet"))
		b.WriteString("\n")
		return b.String()
	}
	for _, s := range ordered {
		b.WriteString(RenderSession(s, s.ID == opts.ActiveID, opts.Now))
		b.WriteString("\n")
	}
	return b.String()
}

// RenderSession renders one session card.
func RenderSession(s *domain.AnalysisSession, active bool, now time.Time) string {
	status := statusStyles[s.Status].Render(strings.ToUpper(string(s.Status)))
	header := fmt.Sprintf("%s  %s  %s", lipgloss.NewStyle().Bold(true).Render(s.Symbol), s.Timeframe, status)
	if active {
		header += "  " + labelStyle.Render("(active)")
	}

	lines := []string{header, labelStyle.Render(sessionTiming(s, now))}
	lines = append(lines, dataLines(s.Data)...)

	style := panelStyle
	if active {
		style = activePanelStyle
	}
	return style.Render(strings.Join(lines, "\n"))
}

func sessionTiming(s *domain.AnalysisSession, now time.Time) string {
	short := s.ID
	if len(short) > 8 {
		short = short[:8]
	}
	if s.FinishedAt != nil {
		return fmt.Sprintf("%s  took %s", short, s.FinishedAt.Sub(s.CreatedAt).Round(time.Second))
	}
	return fmt.Sprintf("%s  running %s", short, now.Sub(s.CreatedAt).Round(time.Second))
}

func dataLines(data domain.Snapshot) []string {
	if len(data) == 0 {
		return nil
	}
	var lines []string
	if v, ok := data["verdict"].(string); ok {
		style, known := verdictStyles[strings.ToUpper(v)]
		if !known {
			style = lipgloss.NewStyle().Bold(true)
		}
		lines = append(lines, labelStyle.Render("verdict ")+style.Render(strings.ToUpper(v)))
	}

	shown := map[string]bool{"verdict": true}
	for _, key := range priceKeys {
		if f, ok := FormatPrice(data[key]); ok {
			lines = append(lines, labelStyle.Render(key+" ")+f)
			shown[key] = true
		}
	}
	for _, key := range percentKeys {
		if f, ok := FormatPercent(data[key]); ok {
			lines = append(lines, labelStyle.Render(key+" ")+f)
			shown[key] = true
		}
	}

	rest := make([]string, 0, len(data))
	for key := range data {
		if !shown[key] {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)
	for _, key := range rest {
		lines = append(lines, labelStyle.Render(key+" ")+fmt.Sprint(data[key]))
	}
	return lines
}
