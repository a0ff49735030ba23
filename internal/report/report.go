// Package report prints the human-readable poll summary.
package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/nugget/amswatch/internal/ams"
)

// noColor stands in for a tray that reports no color, e.g. an empty slot.
const noColor = "------"

// ColorCode returns the RGB part of a tray color. Printers report
// RRGGBBAA; the alpha byte is dropped. Truncation counts runes, so an
// unexpected non-ASCII value is never cut mid-character.
func ColorCode(color string) string {
	if color == "" {
		return noColor
	}
	n := 0
	for i := range color {
		if n == 6 {
			return color[:i]
		}
		n++
	}
	return color
}

// FormatRemain renders a remaining percentage without a trailing ".0"
// for whole numbers.
func FormatRemain(remain float64) string {
	return strconv.FormatFloat(remain, 'f', -1, 64)
}

// Line formats the summary line for one tray.
func Line(t ams.Tray) string {
	return fmt.Sprintf("  Tray %s: %s (%s) #%s - %s%% remaining",
		t.TrayID, t.TraySubBrands, t.TrayIDName, ColorCode(t.TrayColor), FormatRemain(t.Remain))
}

// Trays writes one summary line per tray.
func Trays(w io.Writer, trays []ams.Tray) {
	for _, t := range trays {
		fmt.Fprintln(w, Line(t))
	}
}
