package ui

import "time"

// Config contains TUI-specific configuration.
type Config struct {
	// How often live counts are refreshed
	Refresh time.Duration `env:"SPEECT_UI_REFRESH" envDefault:"1s"`

	EnableMouse bool
}
