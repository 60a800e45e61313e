package cashclose

import (
	"strings"
	"time"

	"github.com/forgefit/forgefit/internal/money"
)

// PeriodStatus enumerates cash period lifecycle stages.
type PeriodStatus string

const (
	PeriodStatusOpen   PeriodStatus = "OPEN"
	PeriodStatusClosed PeriodStatus = "CLOSED"
)

// PeriodType classifies how a period was scheduled.
type PeriodType string

const (
	PeriodTypeDaily   PeriodType = "DAILY"
	PeriodTypeWeekly  PeriodType = "WEEKLY"
	PeriodTypeMonthly PeriodType = "MONTHLY"
	PeriodTypeManual  PeriodType = "MANUAL"
)

// ParsePeriodType returns the matching period type, or false when raw is unknown.
func ParsePeriodType(raw string) (PeriodType, bool) {
	switch PeriodType(strings.ToUpper(strings.TrimSpace(raw))) {
	case PeriodTypeDaily:
		return PeriodTypeDaily, true
	case PeriodTypeWeekly:
		return PeriodTypeWeekly, true
	case PeriodTypeMonthly:
		return PeriodTypeMonthly, true
	case PeriodTypeManual:
		return PeriodTypeManual, true
	default:
		return "", false
	}
}

// SnapshotVersion tags the layout of the serialized close snapshot.
const SnapshotVersion = 1

// WarningNegativeExpectedCash flags a close whose computed cash is below zero.
const WarningNegativeExpectedCash = "NEGATIVE_EXPECTED_CASH"

// Period is a cash reconciliation period. Financial fields are zero while the period is open
// and fixed once it is closed.
type Period struct {
	ID         int64        `json:"id"`
	PeriodType PeriodType   `json:"periodType"`
	Status     PeriodStatus `json:"status"`
	StartAt    time.Time    `json:"startAt"`
	EndAt      *time.Time   `json:"endAt"`
	ClosedAt   *time.Time   `json:"closedAt"`
	CreatedBy  *int64       `json:"createdBy"`
	ClosedBy   *int64       `json:"closedBy"`
	Notes      string       `json:"notes"`

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
	SessionsTotal          int     `json:"sessionsTotal"`
	PayoutsTotal           float64 `json:"payoutsTotal"`
	CashInTotal            float64 `json:"cashInTotal"`
	CashRefundsTotal       float64 `json:"cashRefundsTotal"`
	CashRevenue            float64 `json:"cashRevenue"`
	CardRevenue            float64 `json:"cardRevenue"`
	TransferRevenue        float64 `json:"transferRevenue"`
	ExportVersion          int     `json:"exportVersion"`

	SnapshotJSON []byte    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// IsClosed reports whether the period has been closed.
func (p Period) IsClosed() bool {
	return p.Status == PeriodStatusClosed
}

// Range is an inclusive time window, optionally scoped to the actor who recorded the rows.
type Range struct {
	Start   time.Time `json:"startAt"`
	End     time.Time `json:"endAt"`
	ActorID *int64    `json:"actorId,omitempty"`
}

// Contains reports whether t falls inside the inclusive range.
func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// Payment is a member payment as read from the payments table.
type Payment struct {
	ID      int64     `json:"id"`
	Amount  float64   `json:"amount"`
	Method  string    `json:"method"`
	Status  string    `json:"status"`
	PaidAt  time.Time `json:"paidAt"`
	ActorID *int64    `json:"actorId,omitempty"`
	Note    string    `json:"note"`
}

// Refund is a refund joined to the method of the payment it reverses.
type Refund struct {
	ID            int64     `json:"id"`
	PaymentID     int64     `json:"paymentId"`
	Amount        float64   `json:"amount"`
	PaymentMethod string    `json:"paymentMethod"`
	CreatedAt     time.Time `json:"createdAt"`
	ActorID       *int64    `json:"actorId,omitempty"`
	Reason        string    `json:"reason"`
}

// CashMovementType distinguishes manual drawer top-ups from withdrawals.
type CashMovementType string

const (
	CashMovementIn  CashMovementType = "IN"
	CashMovementOut CashMovementType = "OUT"
)

// CashMovement is a manual non-sale cash event.
type CashMovement struct {
	ID        int64            `json:"id"`
	Type      CashMovementType `json:"type"`
	Amount    float64          `json:"amount"`
	CreatedAt time.Time        `json:"createdAt"`
	ActorID   *int64           `json:"actorId,omitempty"`
	Note      string           `json:"note"`
}

// TrainerPayout is a payout settled to a trainer.
type TrainerPayout struct {
	ID          int64     `json:"id"`
	TrainerID   int64     `json:"trainerId"`
	TotalAmount float64   `json:"totalAmount"`
	Method      string    `json:"method"`
	PaidAt      time.Time `json:"paidAt"`
	ActorID     *int64    `json:"actorId,omitempty"`
	Note        string    `json:"note"`
}

// Sale is a point-of-sale transaction.
type Sale struct {
	ID            int64     `json:"id"`
	TotalAmount   float64   `json:"totalAmount"`
	PaymentMethod string    `json:"paymentMethod"`
	CreatedAt     time.Time `json:"createdAt"`
	ActorID       *int64    `json:"actorId,omitempty"`
	Note          string    `json:"note"`
}

// Movements bundles every money movement fetched for a range.
type Movements struct {
	Payments      []Payment
	Refunds       []Refund
	CashMovements []CashMovement
	Payouts       []TrainerPayout
	Sales         []Sale
}

// completedPaymentStatuses are the payment states that count as collected money. Refunded
// payments stay in the set because refunds are deducted separately.
var completedPaymentStatuses = []string{
	"completed",
	"complete",
	"paid",
	"success",
	"settled",
	"refunded",
	"partial_refund",
	"partially_refunded",
}

// CompletedPaymentStatuses returns the canonical completed-state set.
func CompletedPaymentStatuses() []string {
	out := make([]string, len(completedPaymentStatuses))
	copy(out, completedPaymentStatuses)
	return out
}

// IsCompletedPaymentStatus reports whether a raw status belongs to the completed-state set.
// Display variants such as "Partial Refund" or "partially-refunded" are accepted.
func IsCompletedPaymentStatus(raw string) bool {
	status := canonicalStatus(raw)
	for _, s := range completedPaymentStatuses {
		if status == s {
			return true
		}
	}
	return false
}

func canonicalStatus(raw string) string {
	folded := money.Fold(raw)
	folded = strings.ReplaceAll(folded, "-", "_")
	return strings.Join(strings.Fields(folded), "_")
}

// ExpectedStats is the output of the aggregation engine. Every amount is rounded to two decimals.
type ExpectedStats struct {
	ExpectedCash     float64 `json:"expectedCash"`
	ExpectedCard     float64 `json:"expectedCard"`
	ExpectedTransfer float64 `json:"expectedTransfer"`
	ExpectedNonCash  float64 `json:"expectedNonCash"`
	ExpectedTotal    float64 `json:"expectedTotal"`

	CashRevenue     float64 `json:"cashRevenue"`
	CardRevenue     float64 `json:"cardRevenue"`
	TransferRevenue float64 `json:"transferRevenue"`
	RevenueTotal    float64 `json:"revenueTotal"`

	CashIn  float64 `json:"cashIn"`
	CashOut float64 `json:"cashOut"`

	PayoutsCash     float64 `json:"payoutsCash"`
	PayoutsCard     float64 `json:"payoutsCard"`
	PayoutsTransfer float64 `json:"payoutsTransfer"`
	PayoutsTotal    float64 `json:"payoutsTotal"`

	CashRefunds     float64 `json:"cashRefunds"`
	CardRefunds     float64 `json:"cardRefunds"`
	TransferRefunds float64 `json:"transferRefunds"`
	RefundsTotal    float64 `json:"refundsTotal"`

	PaymentsCount int `json:"paymentsCount"`
	SalesCount    int `json:"salesCount"`
	RefundsCount  int `json:"refundsCount"`
}

// FinancialSnapshot layers session and commission KPIs over the expected stats.
type FinancialSnapshot struct {
	ExpectedStats
	Range           Range    `json:"range"`
	SessionsTotal   int      `json:"sessionsTotal"`
	CommissionTotal float64  `json:"commissionTotal"`
	Degraded        []string `json:"degraded,omitempty"`
}

// CloseInput carries a close request after HTTP decoding.
type CloseInput struct {
	PeriodType            PeriodType
	EndAt                 *time.Time
	DeclaredCashAmount    float64
	DeclaredNonCashAmount float64
	Notes                 string
	ExpectedPeriodID      int64
	ActorID               int64
	IdempotencyKey        string
}

// CloseRecord holds every value written to a period row when it is closed.
type CloseRecord struct {
	PeriodType PeriodType
	EndAt      time.Time
	ClosedAt   time.Time
	ClosedBy   int64
	Notes      string

	ExpectedCashAmount     float64
	ExpectedNonCashAmount  float64
	ExpectedCardAmount     float64
	ExpectedTransferAmount float64
	ExpectedTotalAmount    float64
	ActualCashAmount       float64
	ActualNonCashAmount    float64
	ActualTotalAmount      float64
	DifferenceCash         float64
	DifferenceNonCash      float64
	DifferenceTotal        float64
	RevenueTotal           float64
	SessionsTotal          int
	PayoutsTotal           float64
	CashInTotal            float64
	CashRefundsTotal       float64
	CashRevenue            float64
	CardRevenue            float64
	TransferRevenue        float64
	ExportVersion          int
	SnapshotJSON           []byte
}

// CloseResult is returned after a successful close.
type CloseResult struct {
	ClosedPeriod  Period
	NewOpenPeriod Period
	Snapshot      CloseSnapshot
	WarningCode   string
}

// OpenPeriodInput describes a period to open.
type OpenPeriodInput struct {
	PeriodType PeriodType
	StartAt    time.Time
	CreatedBy  int64
}

// Adjustment is a manual post-close correction recorded against a closed period.
type Adjustment struct {
	ID        int64        `json:"id"`
	PeriodID  int64        `json:"periodId"`
	Amount    float64      `json:"amount"`
	Method    money.Method `json:"method"`
	Reason    string       `json:"reason"`
	CreatedBy *int64       `json:"createdBy"`
	CreatedAt time.Time    `json:"createdAt"`
}

// AdjustmentInput describes a new adjustment.
type AdjustmentInput struct {
	PeriodID int64
	Amount   float64
	Method   string
	Reason   string
	ActorID  int64
}

// ListFilter narrows period listings.
type ListFilter struct {
	Status *PeriodStatus
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}

// HistorySummary aggregates the periods matched by a ListFilter.
type HistorySummary struct {
	Periods         int     `json:"periods"`
	ExpectedTotal   float64 `json:"expectedTotal"`
	ActualTotal     float64 `json:"actualTotal"`
	DifferenceTotal float64 `json:"differenceTotal"`
	RevenueTotal    float64 `json:"revenueTotal"`
}

// PeriodDetail is a period together with its post-close adjustments.
type PeriodDetail struct {
	Period           Period       `json:"period"`
	Adjustments      []Adjustment `json:"adjustments"`
	AdjustmentsTotal float64      `json:"adjustmentsTotal"`
	AdjustedDiff     float64      `json:"adjustedDifferenceTotal"`
}
