package cashclose

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgefit/forgefit/internal/money"
)

func TestBuildCloseSnapshotBreakdown(t *testing.T) {
	movements := scenarioMovements(periodStart)
	movements.Payments = append(movements.Payments, Payment{ID: 3, Amount: 9, Method: "cash", Status: "pending", PaidAt: periodStart})
	movements.Sales = []Sale{{ID: 5, TotalAmount: 4.5, PaymentMethod: "Mastercard", CreatedAt: periodStart}}
	rng := Range{Start: periodStart, End: periodStart.Add(time.Hour)}
	snap := FinancialSnapshot{ExpectedStats: CalculateCashClosingStats(movements), Range: rng, SessionsTotal: 4}
	record := buildCloseRecord(snap, CloseInput{DeclaredCashAmount: 90}, rng.End, rng.End)

	out := BuildCloseSnapshot(11, rng, snap, record, movements, rng.End)

	assert.Equal(t, SnapshotVersion, out.Version)
	assert.NotEmpty(t, out.SnapshotID)
	assert.Equal(t, int64(11), out.Period.ID)
	assert.Len(t, out.Breakdown.Payments.Rows, 2, "pending payments are excluded")
	assert.Len(t, out.Breakdown.Refunds.Rows, 2)
	assert.Len(t, out.Breakdown.CashIn.Rows, 1)
	assert.Len(t, out.Breakdown.CashOut.Rows, 1)
	assert.Len(t, out.Breakdown.Payouts.Rows, 2)
	require.Len(t, out.Breakdown.Sales.Rows, 1)
	assert.Equal(t, money.MethodCard, out.Breakdown.Sales.Rows[0].Method)
	assert.Equal(t, 4, out.Breakdown.Sessions.TotalSessions)
	assert.Equal(t, 90.0, out.Totals.ExpectedCashAmount)
	assert.Equal(t, 0.0, out.Totals.DifferenceCash)

	summary := out.Breakdown.Payments.SummaryByMethod
	require.Len(t, summary, 3)
	assert.Equal(t, MethodSummary{Method: money.MethodCash, Count: 1, Amount: 100}, summary[0])
	assert.Equal(t, MethodSummary{Method: money.MethodCard, Count: 1, Amount: 200}, summary[1])
	assert.Equal(t, MethodSummary{Method: money.MethodTransfer}, summary[2])
}

func TestBuildCloseSnapshotEmptySectionsAreArrays(t *testing.T) {
	rng := Range{Start: periodStart, End: periodStart}
	out := BuildCloseSnapshot(1, rng, FinancialSnapshot{}, CloseRecord{}, Movements{}, periodStart)
	raw, err := EncodeSnapshot(out)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"payments":{"rows":[]`)
	assert.Contains(t, string(raw), `"cashOut":{"rows":[]}`)
}

func TestDecodeSnapshotRejectsBadInput(t *testing.T) {
	_, err := DecodeSnapshot(nil)
	assert.Error(t, err)
	_, err = DecodeSnapshot([]byte("{"))
	assert.Error(t, err)
	_, err = DecodeSnapshot([]byte(`{"version":99}`))
	assert.Error(t, err)
}

func TestBuildExportPayload(t *testing.T) {
	rng := Range{Start: periodStart, End: periodStart.Add(time.Hour)}
	raw, err := EncodeSnapshot(BuildCloseSnapshot(4, rng, FinancialSnapshot{}, CloseRecord{}, Movements{}, rng.End))
	require.NoError(t, err)
	closedAt := time.Date(2025, 3, 2, 1, 0, 0, 0, time.UTC)

	payload, err := BuildExportPayload(Period{ID: 4, Status: PeriodStatusClosed, ClosedAt: &closedAt, ExportVersion: 1, SnapshotJSON: raw})
	require.NoError(t, err)
	assert.Equal(t, int64(4), payload.PeriodID)
	assert.Equal(t, "cash-closing-4-2025-03-02.csv", ExportFilename(payload, "csv"))

	_, err = BuildExportPayload(Period{ID: 5, Status: PeriodStatusOpen})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestVerifySnapshot(t *testing.T) {
	repo := newMockRepository()
	repo.seedOpen(periodStart)
	repo.movements = scenarioMovements(periodStart.Add(time.Hour))
	svc := newTestService(repo, ServiceConfig{})
	result, err := svc.Close(context.Background(), CloseInput{DeclaredCashAmount: 80, DeclaredNonCashAmount: 140, ActorID: 1})
	require.NoError(t, err)

	closed := repo.periods[result.ClosedPeriod.ID]
	require.NoError(t, VerifySnapshot(closed))

	tampered := closed
	tampered.ExpectedCashAmount = 91
	err = VerifySnapshot(tampered)
	require.ErrorIs(t, err, ErrSnapshotMismatch)
	assert.Contains(t, err.Error(), "expected cash 90.00 != 91.00")

	assert.ErrorIs(t, VerifySnapshot(result.NewOpenPeriod), ErrValidation)
}
