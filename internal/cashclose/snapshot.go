package cashclose

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/forgefit/forgefit/internal/money"
)

// CloseSnapshot is the immutable, versioned record captured once when a period closes.
type CloseSnapshot struct {
	Version     int               `json:"version"`
	SnapshotID  string            `json:"snapshotId"`
	GeneratedAt time.Time         `json:"generatedAt"`
	Period      SnapshotPeriod    `json:"period"`
	Totals      SnapshotTotals    `json:"totals"`
	Breakdown   SnapshotBreakdown `json:"breakdown"`
}

// SnapshotPeriod is the closed range.
type SnapshotPeriod struct {
	ID      int64     `json:"id"`
	StartAt time.Time `json:"startAt"`
	EndAt   time.Time `json:"endAt"`
	ActorID *int64    `json:"actorId,omitempty"`
}

// SnapshotTotals mirrors the financial columns written to the period row.
type SnapshotTotals struct {
	ExpectedCashAmount     float64 `json:"expectedCashAmount"`
	ExpectedNonCashAmount  float64 `json:"expectedNonCashAmount"`
	ExpectedCardAmount     float64 `json:"expectedCardAmount"`
	ExpectedTransferAmount float64 `json:"expectedTransferAmount"`
	ExpectedTotalAmount    float64 `json:"expectedTotalAmount"`
	ActualCashAmount       float64 `json:"actualCashAmount"`
	ActualNonCashAmount    float64 `json:"actualNonCashAmount"`
	ActualTotalAmount      float64 `json:"actualTotalAmount"`
	DifferenceCash         float64 `json:"differenceCash"`
	DifferenceNonCash      float64 `json:"differenceNonCash"`
	DifferenceTotal        float64 `json:"differenceTotal"`
	RevenueTotal           float64 `json:"revenueTotal"`
	PayoutsTotal           float64 `json:"payoutsTotal"`
	CashInTotal            float64 `json:"cashInTotal"`
	CashOutTotal           float64 `json:"cashOutTotal"`
	CashRefundsTotal       float64 `json:"cashRefundsTotal"`
	RefundsTotal           float64 `json:"refundsTotal"`
	CashRevenue            float64 `json:"cashRevenue"`
	CardRevenue            float64 `json:"cardRevenue"`
	TransferRevenue        float64 `json:"transferRevenue"`
	CommissionTotal        float64 `json:"commissionTotal"`
}

// SnapshotRow is the flat shape every breakdown row is normalised to.
type SnapshotRow struct {
	ID      int64        `json:"id"`
	Method  money.Method `json:"method"`
	Amount  float64      `json:"amount"`
	At      time.Time    `json:"at"`
	Note    string       `json:"note,omitempty"`
	ActorID *int64       `json:"actorId,omitempty"`
}

// MethodSummary totals rows for one method.
type MethodSummary struct {
	Method money.Method `json:"method"`
	Count  int          `json:"count"`
	Amount float64      `json:"amount"`
}

// RowSection is a breakdown category.
type RowSection struct {
	Rows            []SnapshotRow   `json:"rows"`
	SummaryByMethod []MethodSummary `json:"summaryByMethod,omitempty"`
}

// SessionSection carries the session KPI.
type SessionSection struct {
	TotalSessions int `json:"totalSessions"`
}

// SnapshotBreakdown groups the row-level detail captured at close time.
type SnapshotBreakdown struct {
	Payments RowSection     `json:"payments"`
	Refunds  RowSection     `json:"refunds"`
	CashIn   RowSection     `json:"cashIn"`
	CashOut  RowSection     `json:"cashOut"`
	Payouts  RowSection     `json:"payouts"`
	Sales    RowSection     `json:"sales"`
	Sessions SessionSection `json:"sessions"`
}

// BuildCloseSnapshot captures the totals and row detail of a close.
func BuildCloseSnapshot(periodID int64, rng Range, snap FinancialSnapshot, record CloseRecord, movements Movements, generatedAt time.Time) CloseSnapshot {
	out := CloseSnapshot{
		Version:     SnapshotVersion,
		SnapshotID:  uuid.NewString(),
		GeneratedAt: generatedAt.UTC(),
		Period: SnapshotPeriod{
			ID:      periodID,
			StartAt: rng.Start.UTC(),
			EndAt:   rng.End.UTC(),
			ActorID: rng.ActorID,
		},
		Totals: SnapshotTotals{
			ExpectedCashAmount:     record.ExpectedCashAmount,
			ExpectedNonCashAmount:  record.ExpectedNonCashAmount,
			ExpectedCardAmount:     record.ExpectedCardAmount,
			ExpectedTransferAmount: record.ExpectedTransferAmount,
			ExpectedTotalAmount:    record.ExpectedTotalAmount,
			ActualCashAmount:       record.ActualCashAmount,
			ActualNonCashAmount:    record.ActualNonCashAmount,
			ActualTotalAmount:      record.ActualTotalAmount,
			DifferenceCash:         record.DifferenceCash,
			DifferenceNonCash:      record.DifferenceNonCash,
			DifferenceTotal:        record.DifferenceTotal,
			RevenueTotal:           snap.RevenueTotal,
			PayoutsTotal:           snap.PayoutsTotal,
			CashInTotal:            snap.CashIn,
			CashOutTotal:           snap.CashOut,
			CashRefundsTotal:       snap.CashRefunds,
			RefundsTotal:           snap.RefundsTotal,
			CashRevenue:            snap.CashRevenue,
			CardRevenue:            snap.CardRevenue,
			TransferRevenue:        snap.TransferRevenue,
			CommissionTotal:        snap.CommissionTotal,
		},
	}

	for _, p := range movements.Payments {
		if !IsCompletedPaymentStatus(p.Status) {
			continue
		}
		out.Breakdown.Payments.Rows = append(out.Breakdown.Payments.Rows, SnapshotRow{
			ID: p.ID, Method: money.NormalizeMethod(p.Method), Amount: money.Round(p.Amount),
			At: p.PaidAt.UTC(), Note: p.Note, ActorID: p.ActorID,
		})
	}
	for _, r := range movements.Refunds {
		out.Breakdown.Refunds.Rows = append(out.Breakdown.Refunds.Rows, SnapshotRow{
			ID: r.ID, Method: money.NormalizeMethod(r.PaymentMethod), Amount: money.Round(r.Amount),
			At: r.CreatedAt.UTC(), Note: r.Reason, ActorID: r.ActorID,
		})
	}
	for _, mv := range movements.CashMovements {
		row := SnapshotRow{
			ID: mv.ID, Method: money.MethodCash, Amount: money.Round(mv.Amount),
			At: mv.CreatedAt.UTC(), Note: mv.Note, ActorID: mv.ActorID,
		}
		switch mv.Type {
		case CashMovementIn:
			out.Breakdown.CashIn.Rows = append(out.Breakdown.CashIn.Rows, row)
		case CashMovementOut:
			out.Breakdown.CashOut.Rows = append(out.Breakdown.CashOut.Rows, row)
		}
	}
	for _, p := range movements.Payouts {
		out.Breakdown.Payouts.Rows = append(out.Breakdown.Payouts.Rows, SnapshotRow{
			ID: p.ID, Method: money.NormalizeMethod(p.Method), Amount: money.Round(p.TotalAmount),
			At: p.PaidAt.UTC(), Note: p.Note, ActorID: p.ActorID,
		})
	}
	for _, s := range movements.Sales {
		out.Breakdown.Sales.Rows = append(out.Breakdown.Sales.Rows, SnapshotRow{
			ID: s.ID, Method: money.NormalizeMethod(s.PaymentMethod), Amount: money.Round(s.TotalAmount),
			At: s.CreatedAt.UTC(), Note: s.Note, ActorID: s.ActorID,
		})
	}

	for _, section := range []*RowSection{
		&out.Breakdown.Payments, &out.Breakdown.Refunds, &out.Breakdown.CashIn,
		&out.Breakdown.CashOut, &out.Breakdown.Payouts, &out.Breakdown.Sales,
	} {
		sortRows(section.Rows)
		if section.Rows == nil {
			section.Rows = []SnapshotRow{}
		}
	}
	out.Breakdown.Payments.SummaryByMethod = SummarizeByMethod(out.Breakdown.Payments.Rows)
	out.Breakdown.Sales.SummaryByMethod = SummarizeByMethod(out.Breakdown.Sales.Rows)
	out.Breakdown.Sessions.TotalSessions = snap.SessionsTotal
	return out
}

func sortRows(rows []SnapshotRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].At.Equal(rows[j].At) {
			return rows[i].ID < rows[j].ID
		}
		return rows[i].At.Before(rows[j].At)
	})
}

// SummarizeByMethod totals positive rows per method, always listing every method.
func SummarizeByMethod(rows []SnapshotRow) []MethodSummary {
	index := map[money.Method]*MethodSummary{}
	out := make([]MethodSummary, 0, len(money.Methods()))
	for _, m := range money.Methods() {
		out = append(out, MethodSummary{Method: m})
	}
	for i := range out {
		index[out[i].Method] = &out[i]
	}
	for _, row := range rows {
		if row.Amount <= 0 {
			continue
		}
		s := index[row.Method]
		if s == nil {
			s = index[money.MethodCash]
		}
		s.Count++
		s.Amount = money.Add(s.Amount, row.Amount)
	}
	return out
}

// EncodeSnapshot serialises a snapshot for storage.
func EncodeSnapshot(s CloseSnapshot) ([]byte, error) {
	return json.Marshal(s)
}

// DecodeSnapshot parses a stored snapshot blob.
func DecodeSnapshot(raw []byte) (CloseSnapshot, error) {
	var s CloseSnapshot
	if len(raw) == 0 {
		return s, fmt.Errorf("cashclose: empty snapshot")
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return s, fmt.Errorf("cashclose: decode snapshot: %w", err)
	}
	if s.Version <= 0 || s.Version > SnapshotVersion {
		return s, fmt.Errorf("cashclose: unsupported snapshot version %d", s.Version)
	}
	return s, nil
}

// ExportPayload is the in-memory document every export format renders from.
type ExportPayload struct {
	ExportVersion int           `json:"exportVersion"`
	PeriodID      int64         `json:"periodId"`
	PeriodType    PeriodType    `json:"periodType"`
	ClosedAt      *time.Time    `json:"closedAt"`
	ClosedBy      *int64        `json:"closedBy"`
	Notes         string        `json:"notes"`
	Snapshot      CloseSnapshot `json:"snapshot"`
}

// BuildExportPayload builds the export document from the stored snapshot of a closed period.
// It never consults live movement tables.
func BuildExportPayload(p Period) (ExportPayload, error) {
	if !p.IsClosed() {
		return ExportPayload{}, validationError("period %d is not closed", p.ID)
	}
	snap, err := DecodeSnapshot(p.SnapshotJSON)
	if err != nil {
		return ExportPayload{}, err
	}
	return ExportPayload{
		ExportVersion: p.ExportVersion,
		PeriodID:      p.ID,
		PeriodType:    p.PeriodType,
		ClosedAt:      p.ClosedAt,
		ClosedBy:      p.ClosedBy,
		Notes:         p.Notes,
		Snapshot:      snap,
	}, nil
}

// ExportFilename names an export attachment after the period id and close date.
func ExportFilename(p ExportPayload, ext string) string {
	day := p.Snapshot.Period.EndAt
	if p.ClosedAt != nil {
		day = *p.ClosedAt
	}
	return fmt.Sprintf("cash-closing-%d-%s.%s", p.PeriodID, day.UTC().Format("2006-01-02"), ext)
}

// VerifySnapshot checks that the stored snapshot of a closed period agrees with the period
// row and that the row totals add up.
func VerifySnapshot(p Period) error {
	if !p.IsClosed() {
		return validationError("period %d is not closed", p.ID)
	}
	snap, err := DecodeSnapshot(p.SnapshotJSON)
	if err != nil {
		return err
	}
	var problems []string
	check := func(name string, got, want float64) {
		if money.Round(got) != money.Round(want) {
			problems = append(problems, fmt.Sprintf("%s %s != %s", name, money.Format(got), money.Format(want)))
		}
	}
	t := snap.Totals
	check("expected cash", t.ExpectedCashAmount, p.ExpectedCashAmount)
	check("expected non-cash", t.ExpectedNonCashAmount, p.ExpectedNonCashAmount)
	check("actual total", t.ActualTotalAmount, p.ActualTotalAmount)
	check("difference total", t.DifferenceTotal, p.DifferenceTotal)
	check("expected total", p.ExpectedTotalAmount, money.Add(p.ExpectedCashAmount, p.ExpectedNonCashAmount))
	check("actual total sum", p.ActualTotalAmount, money.Add(p.ActualCashAmount, p.ActualNonCashAmount))
	check("difference", p.DifferenceTotal, money.Sub(p.ActualTotalAmount, p.ExpectedTotalAmount))
	if snap.Period.ID != p.ID {
		problems = append(problems, fmt.Sprintf("snapshot period %d != %d", snap.Period.ID, p.ID))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrSnapshotMismatch, strings.Join(problems, "; "))
	}
	return nil
}

// ErrSnapshotMismatch reports a closed period whose snapshot disagrees with its row.
var ErrSnapshotMismatch = errors.New("cashclose: snapshot does not match period totals")
