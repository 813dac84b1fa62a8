package views

import (
	"fmt"

	"github.com/rivo/tview"
	"github.com/wtfpos/posd/internal/api"
	"github.com/wtfpos/posd/internal/pos"
	"github.com/wtfpos/posd/internal/tui/ui"
)

// PendingTable lists orders waiting to sync, oldest first.
type PendingTable struct {
	*tview.Table
	theme  *ui.Theme
	orders []api.PendingOrder
}

// NewPendingTable creates the queue table.
func NewPendingTable(theme *ui.Theme) *PendingTable {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetFixed(1, 0).
		SetBorders(false)
	table.SetBorder(true).SetTitle(" Pending orders ")
	table.SetBorderColor(theme.BorderColor)
	table.SetTitleColor(theme.TitleColor)

	pt := &PendingTable{Table: table, theme: theme}
	pt.Update(nil)
	return pt
}

func (pt *PendingTable) header(cols ...string) {
	for i, c := range cols {
		pt.SetCell(0, i, tview.NewTableCell(" "+c).SetSelectable(false).SetTextColor(pt.theme.TableHeaderFg))
	}
}

// Update replaces the rows, keeping the selection on the same order when it
// is still there.
func (pt *PendingTable) Update(orders []api.PendingOrder) {
	selected := pt.Selected()
	pt.orders = orders
	pt.Clear()
	pt.header("Local ID", "Status", "Items", "Total", "Customer", "Created", "Error")

	row := 1
	for i, o := range orders {
		st := o.Status
		if o.Locked {
			st += " (locked)"
		}
		statusCell := tview.NewTableCell(" " + st)
		if o.Status == "failed" {
			statusCell.SetTextColor(pt.theme.FailedColor)
		}
		items := 0
		for _, it := range o.Cart {
			items += it.Quantity
		}
		pt.SetCell(i+1, 0, tview.NewTableCell(" "+o.LocalID))
		pt.SetCell(i+1, 1, statusCell)
		pt.SetCell(i+1, 2, tview.NewTableCell(fmt.Sprintf(" %d", items)).SetAlign(tview.AlignRight))
		pt.SetCell(i+1, 3, tview.NewTableCell(" "+pos.FormatMoney(o.Total)).SetAlign(tview.AlignRight))
		pt.SetCell(i+1, 4, tview.NewTableCell(" "+o.CustomerName).SetMaxWidth(24).SetExpansion(1))
		pt.SetCell(i+1, 5, tview.NewTableCell(" "+o.CreatedAt.Local().Format("15:04")))
		pt.SetCell(i+1, 6, tview.NewTableCell(" "+o.Error).SetMaxWidth(40).SetExpansion(2))
		if o.LocalID == selected {
			row = i + 1
		}
	}
	if len(orders) > 0 {
		pt.Select(row, 0)
	}
}

// Selected returns the local id of the highlighted order, or "".
func (pt *PendingTable) Selected() string {
	row, _ := pt.GetSelection()
	idx := row - 1 // account for header
	if idx >= 0 && idx < len(pt.orders) {
		return pt.orders[idx].LocalID
	}
	return ""
}
