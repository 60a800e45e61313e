package export

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/forgefit/forgefit/internal/cashclose"
)

// WriteCSV flattens the snapshot into one delimited document: header fields, the
// expected/actual/difference table, totals, then every breakdown row tagged with its section.
func WriteCSV(w io.Writer, p cashclose.ExportPayload) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	write := func(record ...string) error {
		return writer.Write(record)
	}

	if err := write("Field", "Value"); err != nil {
		return err
	}
	for _, f := range headerFields(p) {
		if err := write(f[0], f[1]); err != nil {
			return err
		}
	}

	if err := write(); err != nil {
		return err
	}
	if err := write("Bucket", "Expected", "Actual", "Difference"); err != nil {
		return err
	}
	for _, line := range reconciliation(p.Snapshot.Totals) {
		if err := write(line.label, formatAmount(line.expected), formatAmount(line.actual), formatAmount(line.difference)); err != nil {
			return err
		}
	}

	if err := write(); err != nil {
		return err
	}
	if err := write("Metric", "Value"); err != nil {
		return err
	}
	for _, m := range totalsMetrics(p.Snapshot.Totals) {
		if err := write(m.label, formatAmount(m.value)); err != nil {
			return err
		}
	}

	if err := write(); err != nil {
		return err
	}
	if err := write("Section", "ID", "Method", "Amount", "At", "Note", "Actor"); err != nil {
		return err
	}
	for _, s := range sections(p.Snapshot.Breakdown) {
		for _, row := range s.rows.Rows {
			if err := write(
				s.name,
				strconv.FormatInt(row.ID, 10),
				string(row.Method),
				formatAmount(row.Amount),
				formatTime(row.At),
				row.Note,
				formatIDPtr(row.ActorID),
			); err != nil {
				return err
			}
		}
	}
	writer.Flush()
	return writer.Error()
}
