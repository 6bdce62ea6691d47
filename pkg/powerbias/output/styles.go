package output

import "github.com/charmbracelet/lipgloss"

// ANSI 256-color palette.
const (
	ColorPrimary = lipgloss.Color("39")
	ColorSuccess = lipgloss.Color("42")
	ColorWarning = lipgloss.Color("214")
	ColorMuted   = lipgloss.Color("245")
)

var (
	// LabelStyle is used for field labels such as "Power source:".
	LabelStyle = lipgloss.NewStyle().Bold(true)

	// TitleStyle is used for section titles.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary)

	// SuccessStyle marks values that match the policy.
	SuccessStyle = lipgloss.NewStyle().
			Foreground(ColorSuccess)

	// WarningStyle marks unknown or unreadable values.
	WarningStyle = lipgloss.NewStyle().
			Foreground(ColorWarning)

	// MutedStyle is used for secondary text.
	MutedStyle = lipgloss.NewStyle().
			Foreground(ColorMuted)
)
