package report

import "github.com/charmbracelet/lipgloss"

// Color constants
const (
	ColorPrimary   = "39"  // Blue
	ColorSuccess   = "42"  // Green
	ColorWarning   = "214" // Orange
	ColorError     = "196" // Red
	ColorMuted     = "245" // Gray
	ColorHighlight = "212" // Pink
)

// Styles contains all styles used by the reports.
type Styles struct {
	Title    lipgloss.Style
	Subtitle lipgloss.Style
	Status   lipgloss.Style
	Success  lipgloss.Style
	Error    lipgloss.Style
	Warning  lipgloss.Style
	Muted    lipgloss.Style
	ID       lipgloss.Style
	Duration lipgloss.Style
	Border   lipgloss.Style
}

// DefaultStyles returns the default report styles.
func DefaultStyles() Styles {
	return Styles{
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color(ColorPrimary)),
		Subtitle: lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorHighlight)),
		Status: lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorMuted)),
		Success: lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorSuccess)),
		Error: lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorError)),
		Warning: lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorWarning)),
		Muted: lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorMuted)),
		ID: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color(ColorPrimary)),
		Duration: lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorMuted)),
		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(ColorMuted)),
	}
}

// Status icons
const (
	IconRunning = "●"
	IconSuccess = "✓"
	IconFailed  = "✗"
	IconPending = "○"
	IconSkipped = "⊘"
)

// StatusIcon returns the icon for a run, step or story status.
func StatusIcon(status string) string {
	switch status {
	case "done", "pass":
		return IconSuccess
	case "failed", "fail":
		return IconFailed
	case "pending":
		return IconPending
	case "exhausted":
		return IconSkipped
	default:
		return IconRunning
	}
}

// StatusStyle returns the style for a run, step or story status.
func (s Styles) StatusStyle(status string) lipgloss.Style {
	switch status {
	case "done", "pass":
		return s.Success
	case "failed", "fail":
		return s.Error
	case "exhausted":
		return s.Warning
	case "pending":
		return s.Muted
	default:
		return s.Status
	}
}
