package views

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"
	"github.com/wtfpos/posd/internal/api"
	"github.com/wtfpos/posd/internal/tui/model"
	"github.com/wtfpos/posd/internal/tui/ui"
)

// StatusBar shows the terminal, its connectivity and the queue size on one
// line, with the current flash message on the right.
type StatusBar struct {
	*tview.TextView
	theme      *ui.Theme
	terminal   string
	status     *api.StatusResponse
	flash      string
	flashLevel model.Level
}

// NewStatusBar creates a new status bar.
func NewStatusBar(theme *ui.Theme, terminal string) *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)

	sb := &StatusBar{TextView: tv, theme: theme, terminal: terminal}
	sb.render()
	return sb
}

// SetStatus updates the terminal snapshot.
func (sb *StatusBar) SetStatus(s *api.StatusResponse) {
	sb.status = s
	sb.render()
}

// SetFlash sets a temporary message.
func (sb *StatusBar) SetFlash(msg string, level model.Level) {
	sb.flash = msg
	sb.flashLevel = level
	sb.render()
}

// connectivity renders the online indicator. "Reconnected" is shown for a
// few seconds after the link comes back.
func (sb *StatusBar) connectivity() string {
	s := sb.status
	switch {
	case s == nil:
		return "connecting"
	case s.Online && s.ShowReconnected:
		return ui.Tag(sb.theme.ReconnectedColor) + "● reconnected[-]"
	case s.Online:
		return ui.Tag(sb.theme.OnlineColor) + "● online[-]"
	default:
		return ui.Tag(sb.theme.OfflineColor) + "● offline[-]"
	}
}

func (sb *StatusBar) render() {
	sb.Clear()

	parts := []string{fmt.Sprintf(" [::b]%s[-:-:-]", tview.Escape(sb.terminal)), sb.connectivity()}
	if s := sb.status; s != nil {
		parts = append(parts, s.State)
		pending := fmt.Sprintf("%d pending", s.PendingCount)
		if s.Syncing {
			pending += " [green]~[-]"
		}
		parts = append(parts, pending)
		if !s.Authenticated {
			parts = append(parts, ui.Tag(sb.theme.FlashWarnColor)+"signed out[-]")
		}
	}
	if sb.flash != "" {
		color := sb.theme.FlashInfoColor
		switch sb.flashLevel {
		case model.LevelSuccess:
			color = sb.theme.FlashOKColor
		case model.LevelWarning:
			color = sb.theme.FlashWarnColor
		}
		parts = append(parts, ui.Tag(color)+tview.Escape(sb.flash)+"[-]")
	}

	_, _ = fmt.Fprint(sb, strings.Join(parts, " | "))
}
