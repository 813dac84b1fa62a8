package views

import (
	"fmt"

	"github.com/rivo/tview"
	"github.com/wtfpos/posd/internal/pos"
	"github.com/wtfpos/posd/internal/tui/ui"
)

// ProductTable lists sellable products from the cached catalog.
type ProductTable struct {
	*tview.Table
	theme *ui.Theme
}

// NewProductTable creates the product table.
func NewProductTable(theme *ui.Theme) *ProductTable {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetFixed(1, 0).
		SetBorders(false)
	table.SetBorder(true).SetTitle(" Products ")
	table.SetBorderColor(theme.BorderColor)
	table.SetTitleColor(theme.TitleColor)
	return &ProductTable{Table: table, theme: theme}
}

// Update replaces the rows. query is shown in the title when set.
func (pt *ProductTable) Update(products []pos.Product, query string) {
	pt.Clear()
	if query != "" {
		pt.SetTitle(fmt.Sprintf(" Products /%s ", tview.Escape(query)))
	} else {
		pt.SetTitle(" Products ")
	}
	for i, c := range []string{"Name", "Code", "Price", "Add-ons"} {
		pt.SetCell(0, i, tview.NewTableCell(" "+c).SetSelectable(false).SetTextColor(pt.theme.TableHeaderFg))
	}
	for i, p := range products {
		price := pos.FormatMoney(p.EffectivePrice())
		if p.OverridePrice != nil {
			price += "*"
		}
		pt.SetCell(i+1, 0, tview.NewTableCell(" "+p.Name).SetExpansion(1))
		pt.SetCell(i+1, 1, tview.NewTableCell(" "+p.Code))
		pt.SetCell(i+1, 2, tview.NewTableCell(" "+price).SetAlign(tview.AlignRight))
		pt.SetCell(i+1, 3, tview.NewTableCell(fmt.Sprintf(" %d", p.AddOnCount)).SetAlign(tview.AlignRight))
	}
}
