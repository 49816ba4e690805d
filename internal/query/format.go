package query

import (
	"fmt"
	"math"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const dateLayout = "2006-01-02"

var krwPrinter = message.NewPrinter(language.Korean)

// formatKRW renders an amount in won with thousands separators, e.g. 1,250,000원.
func formatKRW(amount float64) string {
	return krwPrinter.Sprintf("%d원", int64(math.Round(amount)))
}

func formatPct(p float64) string {
	return fmt.Sprintf("%+.1f%%", p)
}
