package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rickgao/marketfeed/internal/model"
	"github.com/rickgao/marketfeed/internal/router"
)

// tickPrinter writes one line per tick.
type tickPrinter struct {
	w       io.Writer
	quiet   bool
	verbose bool
}

func newTickPrinter(w io.Writer, opts watchOptions) *tickPrinter {
	return &tickPrinter{w: w, quiet: opts.quiet, verbose: opts.verbose}
}

// Print writes msg unless the printer is quiet.
func (p *tickPrinter) Print(msg router.TickMsg) {
	if p.quiet {
		return
	}
	fmt.Fprintln(p.w, formatTick(msg.Tick, p.verbose))
}

func formatTick(t model.Tick, verbose bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %-16s %12.2f %+8.2f%%",
		t.Timestamp.Format("15:04:05.000"), t.Security, t.LastPrice, t.ChangePct)

	if !verbose {
		return b.String()
	}

	fmt.Fprintf(&b, "  prev=%.2f bid=%s ask=%s", t.PrevClose, optFloat(t.Bid), optFloat(t.Ask))
	if spread, ok := t.Spread(); ok {
		fmt.Fprintf(&b, " spread=%.2f", spread)
	}
	vol := "-"
	if t.Volume != nil {
		vol = strconv.FormatInt(*t.Volume, 10)
	}
	fmt.Fprintf(&b, " vol=%s", vol)
	return b.String()
}

func optFloat(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}
