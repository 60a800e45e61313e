// Package export renders closed cash period snapshots. Every renderer works from the same
// in-memory payload so all formats agree and none touches the database.
package export

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/forgefit/forgefit/internal/cashclose"
	"github.com/forgefit/forgefit/internal/money"
)

// Format is a supported export encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatXLSX Format = "xlsx"
)

// ParseFormat resolves a query value, defaulting to CSV when raw is empty.
func ParseFormat(raw string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(raw))) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatJSON:
		return FormatJSON, nil
	case FormatXLSX:
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("export: unsupported format %q", raw)
	}
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "text/csv; charset=utf-8"
	}
}

// Render writes payload to w in format f.
func Render(w io.Writer, f Format, payload cashclose.ExportPayload) error {
	switch f {
	case FormatCSV:
		return WriteCSV(w, payload)
	case FormatJSON:
		return WriteJSON(w, payload)
	case FormatXLSX:
		return WriteXLSX(w, payload)
	default:
		return fmt.Errorf("export: unsupported format %q", f)
	}
}

type section struct {
	name string
	rows cashclose.RowSection
}

func sections(b cashclose.SnapshotBreakdown) []section {
	return []section{
		{name: "Payments", rows: b.Payments},
		{name: "Refunds", rows: b.Refunds},
		{name: "Cash In", rows: b.CashIn},
		{name: "Cash Out", rows: b.CashOut},
		{name: "Payouts", rows: b.Payouts},
		{name: "Sales", rows: b.Sales},
	}
}

type reconciliationLine struct {
	label      string
	expected   float64
	actual     float64
	difference float64
}

func reconciliation(t cashclose.SnapshotTotals) []reconciliationLine {
	return []reconciliationLine{
		{label: "Cash", expected: t.ExpectedCashAmount, actual: t.ActualCashAmount, difference: t.DifferenceCash},
		{label: "Non-cash", expected: t.ExpectedNonCashAmount, actual: t.ActualNonCashAmount, difference: t.DifferenceNonCash},
		{label: "Total", expected: t.ExpectedTotalAmount, actual: t.ActualTotalAmount, difference: t.DifferenceTotal},
	}
}

type metric struct {
	label string
	value float64
}

func totalsMetrics(t cashclose.SnapshotTotals) []metric {
	return []metric{
		{"Expected Card", t.ExpectedCardAmount},
		{"Expected Transfer", t.ExpectedTransferAmount},
		{"Revenue Total", t.RevenueTotal},
		{"Cash Revenue", t.CashRevenue},
		{"Card Revenue", t.CardRevenue},
		{"Transfer Revenue", t.TransferRevenue},
		{"Cash In", t.CashInTotal},
		{"Cash Out", t.CashOutTotal},
		{"Payouts Total", t.PayoutsTotal},
		{"Refunds Total", t.RefundsTotal},
		{"Cash Refunds", t.CashRefundsTotal},
		{"Commission Total", t.CommissionTotal},
	}
}

func headerFields(p cashclose.ExportPayload) [][2]string {
	return [][2]string{
		{"Period ID", strconv.FormatInt(p.PeriodID, 10)},
		{"Period Type", string(p.PeriodType)},
		{"Start", formatTime(p.Snapshot.Period.StartAt)},
		{"End", formatTime(p.Snapshot.Period.EndAt)},
		{"Closed At", formatTimePtr(p.ClosedAt)},
		{"Closed By", formatIDPtr(p.ClosedBy)},
		{"Notes", p.Notes},
		{"Snapshot ID", p.Snapshot.SnapshotID},
		{"Snapshot Version", strconv.Itoa(p.Snapshot.Version)},
		{"Export Version", strconv.Itoa(p.ExportVersion)},
		{"Sessions", strconv.Itoa(p.Snapshot.Breakdown.Sessions.TotalSessions)},
	}
}

func formatAmount(v float64) string {
	return money.Format(v)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func formatIDPtr(id *int64) string {
	if id == nil {
		return ""
	}
	return strconv.FormatInt(*id, 10)
}
