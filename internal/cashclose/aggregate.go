package cashclose

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/forgefit/forgefit/internal/money"
)

// MovementSource reads the money movement tables owned by the rest of the system.
// Implementations filter rows to the inclusive range and, when set, to Range.ActorID.
type MovementSource interface {
	Payments(ctx context.Context, rng Range) ([]Payment, error)
	Refunds(ctx context.Context, rng Range) ([]Refund, error)
	CashMovements(ctx context.Context, rng Range) ([]CashMovement, error)
	TrainerPayouts(ctx context.Context, rng Range) ([]TrainerPayout, error)
	Sales(ctx context.Context, rng Range) ([]Sale, error)
	CompletedSessions(ctx context.Context, rng Range) (int, error)
	CommissionTotal(ctx context.Context, rng Range) (float64, error)
}

// Mode selects how sub-query failures are treated.
type Mode int

const (
	// ModeBestEffort logs failed sub-queries and substitutes zero values. Used by previews.
	ModeBestEffort Mode = iota
	// ModeStrict aborts on the first failure. Used by closes.
	ModeStrict
)

func (m Mode) String() string {
	if m == ModeStrict {
		return "strict"
	}
	return "best_effort"
}

// Sub-query names reported in FinancialSnapshot.Degraded.
const (
	queryPayments       = "payments"
	queryRefunds        = "refunds"
	queryCashMovements  = "cash_movements"
	queryTrainerPayouts = "trainer_payouts"
	querySales          = "sales"
	querySessions       = "sessions"
	queryCommissions    = "commissions"
)

// collector runs the source sub-queries under one mode.
type collector struct {
	src      MovementSource
	mode     Mode
	logger   *slog.Logger
	parallel bool
}

type collected struct {
	movements   Movements
	sessions    int
	commissions float64
	degraded    []string
}

// collect fetches every movement kind plus the KPI sub-queries. In strict mode the first
// failure is returned; in best-effort mode failures are logged and listed as degraded.
// Sources bound to a single transaction must be collected sequentially.
func (c collector) collect(ctx context.Context, rng Range) (collected, error) {
	var out collected
	failed := make([]bool, 7)

	g, gctx := errgroup.WithContext(ctx)
	if !c.parallel {
		g.SetLimit(1)
	}
	run := func(idx int, name string, fn func(context.Context) error) {
		g.Go(func() error {
			if err := fn(gctx); err != nil {
				if c.mode == ModeStrict {
					return fmt.Errorf("cashclose: load %s: %w", name, err)
				}
				failed[idx] = true
				if c.logger != nil {
					c.logger.Warn("preview sub-query degraded",
						slog.String("query", name),
						slog.Any("error", err))
				}
			}
			return nil
		})
	}

	run(0, queryPayments, func(ctx context.Context) error {
		rows, err := c.src.Payments(ctx, rng)
		out.movements.Payments = rows
		return err
	})
	run(1, queryRefunds, func(ctx context.Context) error {
		rows, err := c.src.Refunds(ctx, rng)
		out.movements.Refunds = rows
		return err
	})
	run(2, queryCashMovements, func(ctx context.Context) error {
		rows, err := c.src.CashMovements(ctx, rng)
		out.movements.CashMovements = rows
		return err
	})
	run(3, queryTrainerPayouts, func(ctx context.Context) error {
		rows, err := c.src.TrainerPayouts(ctx, rng)
		out.movements.Payouts = rows
		return err
	})
	run(4, querySales, func(ctx context.Context) error {
		rows, err := c.src.Sales(ctx, rng)
		out.movements.Sales = rows
		return err
	})
	run(5, querySessions, func(ctx context.Context) error {
		n, err := c.src.CompletedSessions(ctx, rng)
		out.sessions = n
		return err
	})
	run(6, queryCommissions, func(ctx context.Context) error {
		total, err := c.src.CommissionTotal(ctx, rng)
		out.commissions = total
		return err
	})

	if err := g.Wait(); err != nil {
		return collected{}, err
	}

	names := []string{queryPayments, queryRefunds, queryCashMovements, queryTrainerPayouts, querySales, querySessions, queryCommissions}
	for i, f := range failed {
		if !f {
			continue
		}
		out.degraded = append(out.degraded, names[i])
		switch i {
		case 0:
			out.movements.Payments = nil
		case 1:
			out.movements.Refunds = nil
		case 2:
			out.movements.CashMovements = nil
		case 3:
			out.movements.Payouts = nil
		case 4:
			out.movements.Sales = nil
		case 5:
			out.sessions = 0
		case 6:
			out.commissions = 0
		}
	}
	out.commissions = money.Round(out.commissions)
	return out, nil
}

type methodBuckets map[money.Method]float64

func (b methodBuckets) add(m money.Method, amount float64) {
	b[m] = money.Add(b[m], amount)
}

// CalculateCashClosingStats derives expected on-hand amounts per method from the movements.
// It is pure: the same movements always yield the same stats.
func CalculateCashClosingStats(m Movements) ExpectedStats {
	revenue := methodBuckets{}
	refunds := methodBuckets{}
	payouts := methodBuckets{}
	var stats ExpectedStats

	for _, p := range m.Payments {
		if !IsCompletedPaymentStatus(p.Status) || p.Amount <= 0 {
			continue
		}
		revenue.add(money.NormalizeMethod(p.Method), p.Amount)
		stats.PaymentsCount++
	}
	for _, s := range m.Sales {
		if s.TotalAmount <= 0 {
			continue
		}
		revenue.add(money.NormalizeMethod(s.PaymentMethod), s.TotalAmount)
		stats.SalesCount++
	}
	for _, r := range m.Refunds {
		if r.Amount <= 0 {
			continue
		}
		refunds.add(money.NormalizeMethod(r.PaymentMethod), r.Amount)
		stats.RefundsCount++
	}
	for _, mv := range m.CashMovements {
		if mv.Amount <= 0 {
			continue
		}
		switch mv.Type {
		case CashMovementIn:
			stats.CashIn = money.Add(stats.CashIn, mv.Amount)
		case CashMovementOut:
			stats.CashOut = money.Add(stats.CashOut, mv.Amount)
		}
	}
	for _, p := range m.Payouts {
		if p.TotalAmount <= 0 {
			continue
		}
		payouts.add(money.NormalizeMethod(p.Method), p.TotalAmount)
	}

	stats.CashRevenue = revenue[money.MethodCash]
	stats.CardRevenue = revenue[money.MethodCard]
	stats.TransferRevenue = revenue[money.MethodTransfer]
	stats.RevenueTotal = money.Sum(stats.CashRevenue, stats.CardRevenue, stats.TransferRevenue)

	stats.CashRefunds = refunds[money.MethodCash]
	stats.CardRefunds = refunds[money.MethodCard]
	stats.TransferRefunds = refunds[money.MethodTransfer]
	stats.RefundsTotal = money.Sum(stats.CashRefunds, stats.CardRefunds, stats.TransferRefunds)

	stats.PayoutsCash = payouts[money.MethodCash]
	stats.PayoutsCard = payouts[money.MethodCard]
	stats.PayoutsTransfer = payouts[money.MethodTransfer]
	stats.PayoutsTotal = money.Sum(stats.PayoutsCash, stats.PayoutsCard, stats.PayoutsTransfer)

	// Cash-out movements leave the drawer like cash payouts do.
	stats.ExpectedCash = money.Add(stats.CashRevenue, stats.CashIn)
	stats.ExpectedCash = money.Sub(stats.ExpectedCash, stats.CashOut)
	stats.ExpectedCash = money.Sub(stats.ExpectedCash, stats.PayoutsCash)
	stats.ExpectedCash = money.Sub(stats.ExpectedCash, stats.CashRefunds)

	stats.ExpectedCard = money.Sub(stats.CardRevenue, stats.PayoutsCard)
	stats.ExpectedCard = money.Sub(stats.ExpectedCard, stats.CardRefunds)

	stats.ExpectedTransfer = money.Sub(stats.TransferRevenue, stats.PayoutsTransfer)
	stats.ExpectedTransfer = money.Sub(stats.ExpectedTransfer, stats.TransferRefunds)

	stats.ExpectedNonCash = money.Add(stats.ExpectedCard, stats.ExpectedTransfer)
	stats.ExpectedTotal = money.Add(stats.ExpectedCash, stats.ExpectedNonCash)
	return stats
}
