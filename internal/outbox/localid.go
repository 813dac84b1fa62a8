package outbox

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	localIDPrefix = "OFF-"
	dayLayout     = "060102"
	counterKey    = "outbox.counter"
)

// FormatLocalID returns OFF-<YYMMDD>-<NNN>. Sequences past 999 keep all
// their digits.
func FormatLocalID(day string, seq int) string {
	return fmt.Sprintf("%s%s-%03d", localIDPrefix, day, seq)
}

// dayOf returns the YYMMDD day key of t in its own location.
func dayOf(t time.Time) string {
	return t.Format(dayLayout)
}

// parseLocalID splits a local id into its day and sequence.
func parseLocalID(id string) (day string, seq int, ok bool) {
	rest, found := strings.CutPrefix(id, localIDPrefix)
	if !found {
		return "", 0, false
	}
	day, num, found := strings.Cut(rest, "-")
	if !found || len(day) != len(dayLayout) {
		return "", 0, false
	}
	seq, err := strconv.Atoi(num)
	if err != nil || seq < 0 {
		return "", 0, false
	}
	return day, seq, true
}

// encodeCounter and decodeCounter persist {day, counter} as "YYMMDD:N".
func encodeCounter(day string, n int) string {
	return day + ":" + strconv.Itoa(n)
}

func decodeCounter(v string) (day string, n int, ok bool) {
	day, num, found := strings.Cut(v, ":")
	if !found {
		return "", 0, false
	}
	n, err := strconv.Atoi(num)
	if err != nil {
		return "", 0, false
	}
	return day, n, true
}
