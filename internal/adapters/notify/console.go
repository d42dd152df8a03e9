package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/gridbot/internal/domain"
)

// Console implementa ports.Notifier.
type Console struct {
	out   io.Writer
	table bool
	now   func() time.Time
}

// NewConsole crea un notificador que escribe a stdout. Con table=true cada
// ciclo imprime además la tabla de matches.
func NewConsole(table bool) *Console {
	return &Console{out: os.Stdout, table: table, now: time.Now}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer, table bool) *Console {
	return &Console{out: w, table: table, now: time.Now}
}

// NotifyCycle imprime el resumen del ciclo en una línea.
func (c *Console) NotifyCycle(_ context.Context, s domain.CycleSummary) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s %.2f %s/%s sp:%.2f%% lv:%d | +%d -%d",
		c.now().Format("15:04:05"), s.Pair, s.Price,
		s.Spec.Volatility, s.Spec.Regime, s.Spec.Spacing*100, s.Spec.LevelCount,
		s.Placed, s.Cancelled)
	if s.FailedOrders > 0 {
		fmt.Fprintf(&sb, " !%d", s.FailedOrders)
	}
	fmt.Fprintf(&sb, " | fills:%d hold:%.8f real:$%.4f unrl:$%.4f",
		s.NewFills, s.Holdings, s.RealizedProfit, s.Unrealized)
	if s.Paused {
		fmt.Fprintf(&sb, " | PAUSED %s", s.PauseReason)
	}
	for i, w := range s.Warnings {
		if i >= 3 {
			fmt.Fprintf(&sb, "\n  >> (+%d more)", len(s.Warnings)-i)
			break
		}
		fmt.Fprintf(&sb, "\n  >> %s", w)
	}
	fmt.Fprintln(c.out, sb.String())

	if c.table && len(s.Matches) > 0 {
		c.printMatches(s.Matches)
	}
	return nil
}

// printMatches imprime una fila por venta con su base de coste.
func (c *Console) printMatches(matches []domain.MatchResult) {
	table := tablewriter.NewWriter(c.out)
	table.Header("Fill", "Sell", "Qty", "Lots", "Expected", "Shortfall", "Net", "Quality")

	for _, m := range matches {
		lots := make([]string, 0, len(m.ConsumedLots))
		for _, cl := range m.ConsumedLots {
			lots = append(lots, fmt.Sprintf("%.8f@%.2f", cl.QuantityTaken, cl.LotPriceAtMatch))
		}
		shortfall := "-"
		if m.Shortfall > 0 {
			shortfall = fmt.Sprintf("%.8f (%s)", m.Shortfall, m.ShortfallQuality)
		}
		table.Append(
			m.SellFillID,
			fmt.Sprintf("%.2f", m.SellPrice),
			fmt.Sprintf("%.8f", m.SellQuantity),
			strings.Join(lots, " "),
			fmt.Sprintf("%.2f", m.ExpectedBuyPrice),
			shortfall,
			fmt.Sprintf("$%.4f", m.RealizedNet),
			string(m.Quality),
		)
	}
	table.Render()
}

// NotifyReconciliation imprime qué lotes añadió o recortó la reconciliación.
func (c *Console) NotifyReconciliation(_ context.Context, r domain.ReconciliationReport) error {
	fmt.Fprintf(c.out, "\n=== RECONCILIATION %s (%s) ===\n", r.Pair, r.RanAt.Format(time.RFC3339))
	fmt.Fprintf(c.out, "  replayed fills: %d\n", r.ReplayedFills)
	fmt.Fprintf(c.out, "  holdings:       %.8f → %.8f (exchange %.8f)\n",
		r.HoldingsBefore, r.HoldingsAfter, r.Balance)
	fmt.Fprintf(c.out, "  profit delta:   $%.4f\n", r.ProfitDelta)

	if r.Empty() {
		fmt.Fprintf(c.out, "  ledger already consistent, nothing changed\n\n")
		return nil
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Change", "Lot", "Price", "Qty", "Remaining", "Note")
	for _, lot := range r.AddedLots {
		table.Append(
			"ADD",
			shortID(lot.ID),
			fmt.Sprintf("%.2f", lot.Price),
			fmt.Sprintf("%.8f", lot.OriginalQuantity),
			fmt.Sprintf("%.8f", lot.RemainingQuantity),
			string(lot.Source),
		)
	}
	for _, adj := range r.RemovedLots {
		note := ""
		if adj.ReferencedByMatch {
			note = "referenced by a match"
		}
		table.Append(
			"REMOVE",
			shortID(adj.LotID),
			fmt.Sprintf("%.2f", adj.Price),
			fmt.Sprintf("%.8f", adj.QuantityRemoved),
			fmt.Sprintf("%.8f", adj.RemainingAfter),
			note,
		)
	}
	table.Render()
	fmt.Fprintln(c.out)
	return nil
}

// PrintLedger imprime los lotes vivos del ledger valorados a price.
func (c *Console) PrintLedger(pair string, snap domain.LedgerSnapshot, price float64) {
	fmt.Fprintf(c.out, "\n=== LEDGER %s ===\n", pair)

	table := tablewriter.NewWriter(c.out)
	table.Header("Lot", "Opened", "Price", "Original", "Remaining", "Fee", "Source", "PnL@mkt")

	var remaining, cost float64
	live := 0
	for _, lot := range snap.Lots {
		if lot.RemainingQuantity <= 0 {
			continue
		}
		live++
		remaining += lot.RemainingQuantity
		cost += lot.CostBasis()
		table.Append(
			shortID(lot.ID),
			lot.OpenedAt.Format("2006-01-02 15:04"),
			fmt.Sprintf("%.2f", lot.Price),
			fmt.Sprintf("%.8f", lot.OriginalQuantity),
			fmt.Sprintf("%.8f", lot.RemainingQuantity),
			fmt.Sprintf("$%.4f", lot.FeePaid),
			string(lot.Source),
			fmt.Sprintf("$%.4f", (price-lot.Price)*lot.RemainingQuantity),
		)
	}
	if live == 0 {
		fmt.Fprintf(c.out, "  no open lots\n")
	} else {
		table.Render()
	}

	avg := 0.0
	if remaining > 0 {
		avg = cost / remaining
	}
	fmt.Fprintf(c.out, "  holdings: %.8f  avg cost: %.2f  realized: $%.4f  matches: %d  last fill: %s\n\n",
		remaining, avg, snap.RealizedProfitTotal, snap.MatchCount, orDash(snap.LastProcessedFillID))
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:8] + "…"
	}
	return id
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
