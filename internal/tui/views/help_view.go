package views

import (
	"fmt"

	"github.com/rivo/tview"
	"github.com/wtfpos/posd/internal/tui/ui"
)

// HelpView displays the key and command reference.
type HelpView struct {
	*tview.TextView
	theme *ui.Theme
}

// NewHelpView creates a new help view.
func NewHelpView(theme *ui.Theme) *HelpView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Help ")
	tv.SetTitleColor(theme.TitleColor)

	hv := &HelpView{TextView: tv, theme: theme}
	hv.render()
	return hv
}

func (hv *HelpView) render() {
	kc := ui.Tag(hv.theme.MenuKeyColor)

	help := fmt.Sprintf(`
  [::b]Keys[-:-:-]

  %[1]sp[-:-:-]      Pending orders       %[1]so[-:-:-]     Products
  %[1]ss[-:-:-]      Sync now             %[1]sr[-:-:-]     Refresh catalog
  %[1]sc[-:-:-]      Check connection     %[1]s?[-:-:-]     Help
  %[1]s:[-:-:-]      Command mode         %[1]sq[-:-:-]     Quit

  [::b]Pending orders[-:-:-]

  %[1]sd[-:-:-]      Remove order         %[1]sl[-:-:-]     Lock / unlock for editing

  [::b]Commands (: mode)[-:-:-]

  %[1]s:login <token>[-:-:-]     Sign in to the POS server
  %[1]s:logout[-:-:-]            Forget the token
  %[1]s:find <text>[-:-:-]       Filter products
  %[1]s:remove <local-id>[-:-:-] Remove an order
  %[1]s:sync[-:-:-]              Sync now
  %[1]s:quit[-:-:-] / %[1]s:q[-:-:-]       Quit
`, kc)

	_, _ = fmt.Fprint(hv, help)
}
