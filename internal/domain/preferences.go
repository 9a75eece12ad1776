package domain

import (
	"fmt"
	"strings"
)

type Theme string

const (
	ThemeLight  Theme = "light"
	ThemeDark   Theme = "dark"
	ThemeSystem Theme = "system"
)

type Density string

const (
	DensityComfortable Density = "comfortable"
	DensityCompact     Density = "compact"
)

type Preferences struct {
	Theme   Theme   `json:"theme"`
	Density Density `json:"density"`
}

func DefaultPreferences() Preferences {
	return Preferences{Theme: ThemeSystem, Density: DensityComfortable}
}

func ParseTheme(raw string) (Theme, error) {
	switch Theme(strings.ToLower(strings.TrimSpace(raw))) {
	case ThemeLight:
		return ThemeLight, nil
	case ThemeDark:
		return ThemeDark, nil
	case ThemeSystem:
		return ThemeSystem, nil
	default:
		return "", fmt.Errorf("invalid theme %q (expected light, dark or system)", raw)
	}
}

func ParseDensity(raw string) (Density, error) {
	switch Density(strings.ToLower(strings.TrimSpace(raw))) {
	case DensityComfortable:
		return DensityComfortable, nil
	case DensityCompact:
		return DensityCompact, nil
	default:
		return "", fmt.Errorf("invalid density %q (expected comfortable or compact)", raw)
	}
}
