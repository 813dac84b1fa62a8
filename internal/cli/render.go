package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/wtfpos/posd/internal/api"
	"github.com/wtfpos/posd/internal/catalog"
	"github.com/wtfpos/posd/internal/outbox"
	"github.com/wtfpos/posd/internal/pos"
)

// displayLocation is the zone timestamps are shown in.
var displayLocation = time.Local

const (
	dateTimeLayout = "2006-01-02 15:04"
	clockLayout    = "15:04:05"
)

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func field(w io.Writer, label, value string) {
	_, _ = fmt.Fprintf(w, "%-14s%s\n", label+":", value)
}

func renderStatus(w io.Writer, s *api.StatusResponse) {
	field(w, "terminal", s.Terminal)
	if s.Server != "" {
		field(w, "server", s.Server)
	}
	field(w, "state", s.State)

	conn := s.Connectivity
	if s.ShowReconnected {
		conn += " (reconnected)"
	}
	if s.LastCheckUnixMs > 0 {
		conn += ", checked " + time.UnixMilli(s.LastCheckUnixMs).In(displayLocation).Format(clockLayout)
	}
	field(w, "connectivity", conn)

	if s.Authenticated {
		field(w, "auth", "signed in")
	} else {
		field(w, "auth", "signed out")
	}

	pending := pos.Plural(pos.MsgOrdersQueued, s.PendingCount)
	if s.Syncing {
		pending += " (syncing)"
	}
	field(w, "pending", pending)
	if len(s.Locks) > 0 {
		field(w, "locked", strings.Join(s.Locks, ", "))
	}

	var cat string
	switch {
	case s.CatalogLoading:
		cat = "loading"
	case !s.CatalogLoaded:
		cat = "not loaded"
	default:
		cat = fmt.Sprintf("%d products", s.Products)
		if s.CatalogSyncedAtUnixMs > 0 {
			cat += ", synced " + time.UnixMilli(s.CatalogSyncedAtUnixMs).In(displayLocation).Format(dateTimeLayout)
		}
		if s.CatalogSyncing {
			cat += " (refreshing)"
		}
	}
	field(w, "catalog", cat)
	field(w, "uptime", (time.Duration(s.UptimeMs) * time.Millisecond).Round(time.Second).String())
}

func renderCheck(w io.Writer, r *api.CheckResponse) {
	if r.Online {
		_, _ = fmt.Fprintln(w, "POS server reachable.")
		return
	}
	_, _ = fmt.Fprintln(w, "POS server unreachable; orders will be saved offline.")
}

func renderProducts(w io.Writer, products []pos.Product) {
	if len(products) == 0 {
		_, _ = fmt.Fprintln(w, "No products.")
		return
	}
	tw := newTable(w)
	_, _ = fmt.Fprintln(tw, "NAME\tCODE\tPRICE\tADD-ONS\tID")
	for _, p := range products {
		code := p.Code
		if code == "" {
			code = "-"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", p.Name, code, pos.FormatMoney(p.EffectivePrice()), p.AddOnCount, p.ID)
	}
	_ = tw.Flush()
}

func renderCustomers(w io.Writer, customers []pos.Customer) {
	if len(customers) == 0 {
		_, _ = fmt.Fprintln(w, "No customers.")
		return
	}
	tw := newTable(w)
	_, _ = fmt.Fprintln(tw, "NAME\tID")
	for _, c := range customers {
		_, _ = fmt.Fprintf(tw, "%s\t%s\n", c.DisplayName(), c.ID)
	}
	_ = tw.Flush()
}

func renderAddOns(w io.Writer, groups []pos.AddOnGroup) {
	if len(groups) == 0 {
		_, _ = fmt.Fprintln(w, "No add-ons.")
		return
	}
	for i, g := range groups {
		if i > 0 {
			_, _ = fmt.Fprintln(w)
		}
		_, _ = fmt.Fprintf(w, "%s\n", g.DisplayName)
		for _, o := range g.Options {
			_, _ = fmt.Fprintf(w, "  + %s  %s  %s\n", o.Name, pos.FormatMoney(o.EffectivePrice()), o.ID)
		}
	}
}

func renderStalePrices(w io.Writer, stale []catalog.StalePrice) {
	if len(stale) == 0 {
		_, _ = fmt.Fprintln(w, "No price changes.")
		return
	}
	tw := newTable(w)
	_, _ = fmt.Fprintln(tw, "PRODUCT\tOLD\tNEW")
	for _, s := range stale {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Name, pos.FormatMoney(s.OldPrice), pos.FormatMoney(s.NewPrice))
	}
	_ = tw.Flush()
}

func renderRefresh(w io.Writer, r *api.RefreshResponse) {
	if !r.Refreshed {
		_, _ = fmt.Fprintln(w, "Catalog refresh already running.")
		return
	}
	_, _ = fmt.Fprintln(w, "Catalog refreshed.")
	if len(r.StalePrices) > 0 {
		_, _ = fmt.Fprintln(w)
		renderStalePrices(w, r.StalePrices)
	}
}

func itemCount(cart []pos.CartItem) int {
	n := 0
	for _, it := range cart {
		n += it.Quantity
	}
	return n
}

func renderPendingList(w io.Writer, r *api.PendingListResponse) {
	if len(r.Orders) == 0 {
		_, _ = fmt.Fprintln(w, "No orders waiting to sync.")
		return
	}
	tw := newTable(w)
	_, _ = fmt.Fprintln(tw, "LOCAL ID\tSTATUS\tITEMS\tTOTAL\tCUSTOMER\tCREATED")
	for _, o := range r.Orders {
		st := o.Status
		if o.Locked {
			st += " (locked)"
		}
		customer := o.CustomerName
		if customer == "" {
			customer = "-"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
			o.LocalID, st, itemCount(o.Cart), pos.FormatMoney(o.Total), customer,
			o.CreatedAt.In(displayLocation).Format(clockLayout))
	}
	_ = tw.Flush()

	for _, o := range r.Orders {
		if o.Error != "" {
			_, _ = fmt.Fprintf(w, "%s: %s\n", o.LocalID, o.Error)
		}
	}
	footer := pos.Plural(pos.MsgOrdersQueued, len(r.Orders))
	if r.Syncing {
		footer += " (sync in progress)"
	}
	_, _ = fmt.Fprintln(w, footer)
}

func renderCart(w io.Writer, cart []pos.CartItem) {
	for _, it := range cart {
		_, _ = fmt.Fprintf(w, "  %d x %s  %s\n", it.Quantity, it.Name, pos.FormatMoney(it.LineTotal()))
		for _, a := range it.AddOns {
			_, _ = fmt.Fprintf(w, "      + %s  %s\n", a.Name, pos.FormatMoney(a.Price))
		}
		if it.SpecialInstructions != "" {
			_, _ = fmt.Fprintf(w, "      %q\n", it.SpecialInstructions)
		}
	}
}

func renderPendingOrder(w io.Writer, o *api.PendingOrder) {
	st := o.Status
	if o.Locked {
		st += ", locked for editing"
	}
	_, _ = fmt.Fprintf(w, "%s (%s)\n", o.LocalID, st)
	if o.CustomerName != "" {
		field(w, "customer", o.CustomerName)
	}
	field(w, "created", o.CreatedAt.In(displayLocation).Format(dateTimeLayout))
	if o.RetryCount > 0 {
		field(w, "retries", fmt.Sprintf("%d", o.RetryCount))
	}
	if o.Error != "" {
		field(w, "error", o.Error)
	}
	_, _ = fmt.Fprintln(w)
	renderCart(w, o.Cart)
	_, _ = fmt.Fprintf(w, "total: %s\n", pos.FormatMoney(o.Total))
}

func renderSyncResult(w io.Writer, r *outbox.SyncResult) {
	if r.Skipped {
		_, _ = fmt.Fprintln(w, "Sync already in progress.")
		return
	}
	if r.Batches == 0 {
		_, _ = fmt.Fprintln(w, "Nothing to sync.")
		return
	}
	if r.Synced > 0 {
		_, _ = fmt.Fprintln(w, pos.Plural(pos.MsgOrdersSynced, r.Synced))
	}
	if r.Failed > 0 {
		_, _ = fmt.Fprintln(w, pos.Plural(pos.MsgOrdersFailed, r.Failed))
	}
	if r.Stopped {
		_, _ = fmt.Fprintln(w, "Stopped early: connection lost.")
	}
	if r.Remaining > 0 {
		_, _ = fmt.Fprintln(w, pos.Plural(pos.MsgOrdersQueued, r.Remaining))
	}
}

func renderCheckout(w io.Writer, r *outbox.CheckoutResult) {
	if r.Queued {
		_, _ = fmt.Fprintf(w, "Saved offline as %s; it will sync when the connection returns.\n", r.LocalID)
		return
	}
	if r.Order == nil {
		_, _ = fmt.Fprintln(w, "Order created.")
		return
	}
	_, _ = fmt.Fprintf(w, "Order #%d created, total %s.\n", r.Order.OrderNumber, pos.FormatMoney(r.Order.TotalAmount))
}

func renderDraft(w io.Writer, r *api.DraftResponse) {
	if !r.Found || r.Draft == nil {
		_, _ = fmt.Fprintln(w, "No draft.")
		return
	}
	d := r.Draft
	if d.CustomerName != "" {
		field(w, "customer", d.CustomerName)
	}
	field(w, "saved", d.UpdatedAt.In(displayLocation).Format(dateTimeLayout))
	_, _ = fmt.Fprintln(w)
	renderCart(w, d.Items)
	_, _ = fmt.Fprintf(w, "total: %s\n", pos.FormatMoney(d.Total))
}

func renderEvent(w io.Writer, e *api.Event) {
	at := time.UnixMilli(e.OccurredAtUnixMs).In(displayLocation).Format(clockLayout)
	if len(e.Payload) == 0 {
		_, _ = fmt.Fprintf(w, "%s  %s\n", at, e.Kind)
		return
	}
	_, _ = fmt.Fprintf(w, "%s  %s  %s\n", at, e.Kind, e.Payload)
}
