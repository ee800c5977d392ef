package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBold   = "\033[1m"
)

// lowStock is the on-hand quantity under which a product is flagged.
const lowStock = 10

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+fmt.Sprintf(format, args...)))
}

func printError(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+fmt.Sprintf(format, args...)))
}

func printWarning(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+fmt.Sprintf(format, args...)))
}

// printStatus writes one "label: value" line of `rxdesk status`.
func printStatus(label string, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "  %s %s\n", colorize(colorBold, label+":"), fmt.Sprintf(format, args...))
}

// formatQty renders an on-hand quantity: red when out of stock (or oversold
// in the projection), yellow when low.
func formatQty(qty int64) string {
	s := strconv.FormatInt(qty, 10)
	switch {
	case qty <= 0:
		return colorize(colorRed, s+" (out)")
	case qty < lowStock:
		return colorize(colorYellow, s+" (low)")
	}
	return s
}

// newTable returns a writer aligning tab-separated columns; Flush it when done.
func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}
