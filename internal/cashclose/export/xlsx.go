package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/forgefit/forgefit/internal/cashclose"
)

const summarySheet = "Summary"

// WriteXLSX renders a workbook with a summary sheet and one sheet per breakdown section.
func WriteXLSX(w io.Writer, p cashclose.ExportPayload) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("export: style: %w", err)
	}
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return fmt.Errorf("export: rename sheet: %w", err)
	}

	sw := sheetWriter{f: f, sheet: summarySheet, bold: bold}
	for _, field := range headerFields(p) {
		sw.row(false, field[0], field[1])
	}
	sw.skip()
	sw.row(true, "Bucket", "Expected", "Actual", "Difference")
	for _, line := range reconciliation(p.Snapshot.Totals) {
		sw.row(false, line.label, line.expected, line.actual, line.difference)
	}
	sw.skip()
	sw.row(true, "Metric", "Value")
	for _, m := range totalsMetrics(p.Snapshot.Totals) {
		sw.row(false, m.label, m.value)
	}
	if sw.err != nil {
		return sw.err
	}
	_ = f.SetColWidth(summarySheet, "A", "D", 20)

	for _, s := range sections(p.Snapshot.Breakdown) {
		if _, err := f.NewSheet(s.name); err != nil {
			return fmt.Errorf("export: sheet %s: %w", s.name, err)
		}
		sw := sheetWriter{f: f, sheet: s.name, bold: bold}
		sw.row(true, "ID", "Method", "Amount", "At", "Note", "Actor")
		for _, row := range s.rows.Rows {
			sw.row(false, row.ID, string(row.Method), row.Amount, formatTime(row.At), row.Note, formatIDPtr(row.ActorID))
		}
		if len(s.rows.SummaryByMethod) > 0 {
			sw.skip()
			sw.row(true, "Method", "Count", "Amount")
			for _, m := range s.rows.SummaryByMethod {
				sw.row(false, string(m.Method), m.Count, m.Amount)
			}
		}
		if sw.err != nil {
			return sw.err
		}
		_ = f.SetColWidth(s.name, "A", "F", 18)
	}

	f.SetActiveSheet(0)
	if err := f.Write(w); err != nil {
		return fmt.Errorf("export: write workbook: %w", err)
	}
	return nil
}

// sheetWriter appends rows to one sheet and keeps the first error.
type sheetWriter struct {
	f     *excelize.File
	sheet string
	bold  int
	next  int
	err   error
}

func (s *sheetWriter) skip() {
	s.next++
}

func (s *sheetWriter) row(header bool, values ...any) {
	if s.err != nil {
		return
	}
	s.next++
	start, err := excelize.CoordinatesToCellName(1, s.next)
	if err != nil {
		s.err = err
		return
	}
	if err := s.f.SetSheetRow(s.sheet, start, &values); err != nil {
		s.err = fmt.Errorf("export: %s row %d: %w", s.sheet, s.next, err)
		return
	}
	if header {
		end, _ := excelize.CoordinatesToCellName(len(values), s.next)
		s.err = s.f.SetCellStyle(s.sheet, start, end, s.bold)
	}
}
