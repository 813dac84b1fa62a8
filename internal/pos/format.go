package pos

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/feature/plural"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
	"golang.org/x/text/unicode/norm"
)

// Message keys with plural forms.
const (
	MsgOrdersSynced = "%d orders synced"
	MsgOrdersFailed = "%d orders failed to sync"
	MsgOrdersQueued = "%d orders waiting to sync"
)

var printer = newPrinter()

func newPrinter() *message.Printer {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	set := func(key, one, other string) {
		_ = b.Set(language.English, key, plural.Selectf(1, "%d", "=1", one, "other", other))
	}
	set(MsgOrdersSynced, "1 order synced", "%[1]d orders synced")
	set(MsgOrdersFailed, "1 order failed to sync", "%[1]d orders failed to sync")
	set(MsgOrdersQueued, "1 order waiting to sync", "%[1]d orders waiting to sync")
	return message.NewPrinter(language.English, message.Catalog(b))
}

// Plural renders one of the Msg* keys for n.
func Plural(key string, n int) string {
	return printer.Sprintf(key, n)
}

// FormatMoney renders an amount with two decimals and thousands separators.
func FormatMoney(d decimal.Decimal) string {
	s := d.StringFixed(2)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	whole, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	b.WriteByte('.')
	b.WriteString(frac)
	return b.String()
}

// NormalizeName trims a person's name and puts it in Unicode NFC so the
// same name typed on different keyboards compares equal.
func NormalizeName(s string) string {
	return norm.NFC.String(strings.Join(strings.Fields(s), " "))
}
