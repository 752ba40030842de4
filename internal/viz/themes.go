package viz

import "github.com/charmbracelet/lipgloss"

// Theme is the TUI color scheme.
type Theme struct {
	Name      string
	Primary   lipgloss.Color
	Secondary lipgloss.Color
	Text      lipgloss.Color
	Muted     lipgloss.Color
	Normal    lipgloss.Color
	Paused    lipgloss.Color
	Fault     lipgloss.Color
}

var (
	ThemePanel = Theme{
		Name:      "panel",
		Primary:   lipgloss.Color("#00ccff"),
		Secondary: lipgloss.Color("#888899"),
		Text:      lipgloss.Color("#e0e0e0"),
		Muted:     lipgloss.Color("#666688"),
		Normal:    lipgloss.Color("#00ff88"),
		Paused:    lipgloss.Color("#ffaa00"),
		Fault:     lipgloss.Color("#ff4444"),
	}

	ThemeRetroGreen = Theme{
		Name:      "retro",
		Primary:   lipgloss.Color("#00ff00"), // green phosphor
		Secondary: lipgloss.Color("#00cc00"),
		Text:      lipgloss.Color("#00ff00"),
		Muted:     lipgloss.Color("#005500"),
		Normal:    lipgloss.Color("#88ff88"),
		Paused:    lipgloss.Color("#ffff00"),
		Fault:     lipgloss.Color("#ff0000"),
	}

	ThemeMinimal = Theme{
		Name:      "minimal",
		Primary:   lipgloss.Color("#ffffff"),
		Secondary: lipgloss.Color("#cccccc"),
		Text:      lipgloss.Color("#ffffff"),
		Muted:     lipgloss.Color("#888888"),
		Normal:    lipgloss.Color("#00ff00"),
		Paused:    lipgloss.Color("#ffaa00"),
		Fault:     lipgloss.Color("#ff0000"),
	}

	Themes = []Theme{ThemePanel, ThemeRetroGreen, ThemeMinimal}
)

// GetTheme returns a theme by name, falling back to the panel theme.
func GetTheme(name string) Theme {
	for _, t := range Themes {
		if t.Name == name {
			return t
		}
	}
	return ThemePanel
}

// NextTheme returns the theme after t in Themes.
func NextTheme(t Theme) Theme {
	for i, th := range Themes {
		if th.Name == t.Name {
			return Themes[(i+1)%len(Themes)]
		}
	}
	return ThemePanel
}

func ThemeNames() []string {
	names := make([]string, len(Themes))
	for i, t := range Themes {
		names[i] = t.Name
	}
	return names
}
