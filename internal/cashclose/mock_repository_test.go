package cashclose

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/forgefit/forgefit/internal/money"
)

// mockRepository keeps periods in memory and serves movements filtered by range and actor.
// WithTx snapshots the period table and restores it when fn fails.
type mockRepository struct {
	mu          sync.Mutex
	nextID      int64
	periods     map[int64]Period
	adjustments []Adjustment
	movements   Movements
	sessions    int
	commissions float64

	sourceCalls   int
	failQuery     map[string]error
	insertErr     error
	closeErr      error
	onInsertOpen  func()
	enforceUnique bool
}

func newMockRepository() *mockRepository {
	return &mockRepository{periods: map[int64]Period{}, failQuery: map[string]error{}, enforceUnique: true}
}

func (m *mockRepository) seedOpen(start time.Time) Period {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	p := Period{ID: m.nextID, PeriodType: PeriodTypeDaily, Status: PeriodStatusOpen, StartAt: start}
	m.periods[p.ID] = p
	return p
}

func (m *mockRepository) openPeriods() []Period {
	var out []Period
	for _, p := range m.periods {
		if p.Status == PeriodStatusOpen {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *mockRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	saved := make(map[int64]Period, len(m.periods))
	for k, v := range m.periods {
		saved[k] = v
	}
	savedID := m.nextID
	m.mu.Unlock()

	if err := fn(ctx, &mockTx{m: m}); err != nil {
		m.mu.Lock()
		m.periods = saved
		m.nextID = savedID
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *mockRepository) ListOpenPeriods(ctx context.Context) ([]Period, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openPeriods(), nil
}

func (m *mockRepository) InsertPeriod(ctx context.Context, in OpenPeriodInput) (Period, error) {
	if m.onInsertOpen != nil {
		hook := m.onInsertOpen
		m.onInsertOpen = nil
		hook()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return Period{}, m.insertErr
	}
	if m.enforceUnique && len(m.openPeriods()) > 0 {
		return Period{}, &pgconn.PgError{Code: pgUniqueViolation}
	}
	m.nextID++
	p := Period{ID: m.nextID, PeriodType: in.PeriodType, Status: PeriodStatusOpen, StartAt: in.StartAt}
	if in.CreatedBy > 0 {
		by := in.CreatedBy
		p.CreatedBy = &by
	}
	m.periods[p.ID] = p
	return p, nil
}

func (m *mockRepository) GetPeriod(ctx context.Context, id int64) (Period, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.periods[id]
	if !ok {
		return Period{}, &Error{Code: CodeNotFound, Message: "cash period not found"}
	}
	return p, nil
}

func (m *mockRepository) ListPeriods(ctx context.Context, f ListFilter) ([]Period, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Period
	for _, p := range m.periods {
		if f.Status != nil && p.Status != *f.Status {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	total := len(out)
	if f.Offset >= len(out) {
		return nil, total, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, total, nil
}

func (m *mockRepository) SummarizePeriods(ctx context.Context, f ListFilter) (HistorySummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var s HistorySummary
	for _, p := range m.periods {
		if f.Status != nil && p.Status != *f.Status {
			continue
		}
		s.Periods++
		s.ExpectedTotal = money.Add(s.ExpectedTotal, p.ExpectedTotalAmount)
		s.ActualTotal = money.Add(s.ActualTotal, p.ActualTotalAmount)
		s.DifferenceTotal = money.Add(s.DifferenceTotal, p.DifferenceTotal)
		s.RevenueTotal = money.Add(s.RevenueTotal, p.RevenueTotal)
	}
	return s, nil
}

func (m *mockRepository) InsertAdjustment(ctx context.Context, in AdjustmentInput, method money.Method) (Adjustment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	by := in.ActorID
	a := Adjustment{ID: int64(len(m.adjustments) + 1), PeriodID: in.PeriodID, Amount: in.Amount, Method: method, Reason: in.Reason, CreatedBy: &by}
	m.adjustments = append(m.adjustments, a)
	return a, nil
}

func (m *mockRepository) ListAdjustments(ctx context.Context, periodID int64) ([]Adjustment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Adjustment
	for _, a := range m.adjustments {
		if a.PeriodID == periodID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *mockRepository) enter(query string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sourceCalls++
	return m.failQuery[query]
}

func actorMatches(rng Range, actor *int64) bool {
	return rng.ActorID == nil || (actor != nil && *actor == *rng.ActorID)
}

func (m *mockRepository) Payments(ctx context.Context, rng Range) ([]Payment, error) {
	if err := m.enter(queryPayments); err != nil {
		return nil, err
	}
	var out []Payment
	for _, p := range m.movements.Payments {
		if rng.Contains(p.PaidAt) && actorMatches(rng, p.ActorID) && IsCompletedPaymentStatus(p.Status) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockRepository) Refunds(ctx context.Context, rng Range) ([]Refund, error) {
	if err := m.enter(queryRefunds); err != nil {
		return nil, err
	}
	var out []Refund
	for _, r := range m.movements.Refunds {
		if rng.Contains(r.CreatedAt) && actorMatches(rng, r.ActorID) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockRepository) CashMovements(ctx context.Context, rng Range) ([]CashMovement, error) {
	if err := m.enter(queryCashMovements); err != nil {
		return nil, err
	}
	var out []CashMovement
	for _, mv := range m.movements.CashMovements {
		if rng.Contains(mv.CreatedAt) && actorMatches(rng, mv.ActorID) {
			out = append(out, mv)
		}
	}
	return out, nil
}

func (m *mockRepository) TrainerPayouts(ctx context.Context, rng Range) ([]TrainerPayout, error) {
	if err := m.enter(queryTrainerPayouts); err != nil {
		return nil, err
	}
	var out []TrainerPayout
	for _, p := range m.movements.Payouts {
		if rng.Contains(p.PaidAt) && actorMatches(rng, p.ActorID) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockRepository) Sales(ctx context.Context, rng Range) ([]Sale, error) {
	if err := m.enter(querySales); err != nil {
		return nil, err
	}
	var out []Sale
	for _, s := range m.movements.Sales {
		if rng.Contains(s.CreatedAt) && actorMatches(rng, s.ActorID) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *mockRepository) CompletedSessions(ctx context.Context, rng Range) (int, error) {
	if err := m.enter(querySessions); err != nil {
		return 0, err
	}
	return m.sessions, nil
}

func (m *mockRepository) CommissionTotal(ctx context.Context, rng Range) (float64, error) {
	if err := m.enter(queryCommissions); err != nil {
		return 0, err
	}
	return m.commissions, nil
}

type mockTx struct {
	m *mockRepository
}

func (t *mockTx) LockOpenPeriods(ctx context.Context) ([]Period, error) {
	return t.m.ListOpenPeriods(ctx)
}

func (t *mockTx) InsertPeriod(ctx context.Context, in OpenPeriodInput) (Period, error) {
	return t.m.InsertPeriod(ctx, in)
}

func (t *mockTx) ClosePeriod(ctx context.Context, id int64, rec CloseRecord) (Period, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if t.m.closeErr != nil {
		return Period{}, t.m.closeErr
	}
	p, ok := t.m.periods[id]
	if !ok || p.Status != PeriodStatusOpen {
		return Period{}, errors.New("period not open")
	}
	end, closedAt := rec.EndAt, rec.ClosedAt
	by := rec.ClosedBy
	p.Status = PeriodStatusClosed
	p.PeriodType = rec.PeriodType
	p.EndAt = &end
	p.ClosedAt = &closedAt
	p.ClosedBy = &by
	p.Notes = rec.Notes
	p.ExpectedCashAmount = rec.ExpectedCashAmount
	p.ExpectedNonCashAmount = rec.ExpectedNonCashAmount
	p.ExpectedCardAmount = rec.ExpectedCardAmount
	p.ExpectedTransferAmount = rec.ExpectedTransferAmount
	p.ExpectedTotalAmount = rec.ExpectedTotalAmount
	p.ActualCashAmount = rec.ActualCashAmount
	p.ActualNonCashAmount = rec.ActualNonCashAmount
	p.ActualTotalAmount = rec.ActualTotalAmount
	p.DifferenceCash = rec.DifferenceCash
	p.DifferenceNonCash = rec.DifferenceNonCash
	p.DifferenceTotal = rec.DifferenceTotal
	p.RevenueTotal = rec.RevenueTotal
	p.SessionsTotal = rec.SessionsTotal
	p.PayoutsTotal = rec.PayoutsTotal
	p.CashInTotal = rec.CashInTotal
	p.CashRefundsTotal = rec.CashRefundsTotal
	p.CashRevenue = rec.CashRevenue
	p.CardRevenue = rec.CardRevenue
	p.TransferRevenue = rec.TransferRevenue
	p.ExportVersion = rec.ExportVersion
	p.SnapshotJSON = append([]byte(nil), rec.SnapshotJSON...)
	t.m.periods[id] = p
	return p, nil
}

func (t *mockTx) Payments(ctx context.Context, rng Range) ([]Payment, error) {
	return t.m.Payments(ctx, rng)
}

func (t *mockTx) Refunds(ctx context.Context, rng Range) ([]Refund, error) {
	return t.m.Refunds(ctx, rng)
}

func (t *mockTx) CashMovements(ctx context.Context, rng Range) ([]CashMovement, error) {
	return t.m.CashMovements(ctx, rng)
}

func (t *mockTx) TrainerPayouts(ctx context.Context, rng Range) ([]TrainerPayout, error) {
	return t.m.TrainerPayouts(ctx, rng)
}

func (t *mockTx) Sales(ctx context.Context, rng Range) ([]Sale, error) {
	return t.m.Sales(ctx, rng)
}

func (t *mockTx) CompletedSessions(ctx context.Context, rng Range) (int, error) {
	return t.m.CompletedSessions(ctx, rng)
}

func (t *mockTx) CommissionTotal(ctx context.Context, rng Range) (float64, error) {
	return t.m.CommissionTotal(ctx, rng)
}
