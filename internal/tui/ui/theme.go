package ui

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
)

// Theme holds color constants for the console.
type Theme struct {
	BgColor          tcell.Color
	FgColor          tcell.Color
	BorderColor      tcell.Color
	TitleColor       tcell.Color
	TableHeaderFg    tcell.Color
	MenuKeyColor     tcell.Color
	OnlineColor      tcell.Color
	OfflineColor     tcell.Color
	ReconnectedColor tcell.Color
	FailedColor      tcell.Color
	FlashInfoColor   tcell.Color
	FlashOKColor     tcell.Color
	FlashWarnColor   tcell.Color
}

// DefaultTheme returns a k9s-inspired dark theme.
func DefaultTheme() *Theme {
	return &Theme{
		BgColor:          tcell.ColorBlack,
		FgColor:          tcell.ColorCadetBlue,
		BorderColor:      tcell.ColorDodgerBlue,
		TitleColor:       tcell.ColorFuchsia,
		TableHeaderFg:    tcell.ColorWhite,
		MenuKeyColor:     tcell.ColorDodgerBlue,
		OnlineColor:      tcell.ColorGreen,
		OfflineColor:     tcell.ColorOrangeRed,
		ReconnectedColor: tcell.ColorYellow,
		FailedColor:      tcell.ColorOrangeRed,
		FlashInfoColor:   tcell.ColorNavajoWhite,
		FlashOKColor:     tcell.ColorGreen,
		FlashWarnColor:   tcell.ColorOrange,
	}
}

// Tag renders c as a tview color tag.
func Tag(c tcell.Color) string {
	return fmt.Sprintf("[#%06x]", c.Hex())
}
