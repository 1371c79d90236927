package tui

import (
	"github.com/gdamore/tcell/v2"
)

// dumpguard color palette
var (
	// Primary accent, the PostgreSQL blue
	AccentBlue = tcell.NewRGBColor(51, 103, 145) // #336791

	// Neutral colors
	Dark  = tcell.NewRGBColor(40, 40, 40)    // #282828
	Gray  = tcell.NewRGBColor(128, 128, 128) // #808080
	Light = tcell.NewRGBColor(200, 200, 200) // #C8C8C8

	// Status colors
	SuccessGreen  = tcell.NewRGBColor(34, 197, 94)  // #22C55E
	ErrorRed      = tcell.NewRGBColor(239, 68, 68)  // #EF4444
	WarningYellow = tcell.NewRGBColor(234, 179, 8)  // #EAB308
	InfoBlue      = tcell.NewRGBColor(59, 130, 246) // #3B82F6

	// Additional UI colors
	White     = tcell.ColorWhite
	Black     = tcell.ColorBlack
	LightGray = tcell.ColorLightGray
	DarkGray  = tcell.ColorDarkGray
)

// Symbols and icons
const (
	SymbolSuccess  = "✓"
	SymbolError    = "✗"
	SymbolWarning  = "⚠"
	SymbolInfo     = "ℹ"
	SymbolSelected = "▸"
	SymbolArrow    = "→"
	SymbolBullet   = "•"
)

// StatusColor returns the appropriate color for a status
func StatusColor(status string) tcell.Color {
	switch status {
	case "success", "ok", "matched", "healthy":
		return SuccessGreen
	case "error", "failed", "mismatched":
		return ErrorRed
	case "warning", "warn", "probe failed":
		return WarningYellow
	case "info", "pending", "record created", "encrypted":
		return InfoBlue
	default:
		return LightGray
	}
}

// StatusSymbol returns the appropriate symbol for a status
func StatusSymbol(status string) string {
	switch status {
	case "success", "ok", "matched", "healthy":
		return SymbolSuccess
	case "error", "failed", "mismatched":
		return SymbolError
	case "warning", "warn", "probe failed":
		return SymbolWarning
	case "info", "pending", "record created", "encrypted":
		return SymbolInfo
	default:
		return SymbolBullet
	}
}
