package cashclose

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/forgefit/forgefit/internal/money"
	"github.com/forgefit/forgefit/internal/platform/db"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type repository struct {
	sources
	pool *pgxpool.Pool
}

// NewRepository returns the Postgres-backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{sources: sources{db: pool}, pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{sources: sources{db: tx}, tx: tx})
	})
}

type txRepository struct {
	sources
	tx pgx.Tx
}

const periodColumns = `id, period_type, status, start_at, end_at, closed_at, created_by, closed_by,
	COALESCE(notes, ''),
	expected_cash_amount::float8, expected_non_cash_amount::float8, expected_card_amount::float8,
	expected_transfer_amount::float8, expected_total_amount::float8,
	actual_cash_amount::float8, actual_non_cash_amount::float8, actual_total_amount::float8,
	difference_cash::float8, difference_non_cash::float8, difference_total::float8,
	revenue_total::float8, sessions_total, payouts_total::float8, cash_in_total::float8,
	cash_refunds_total::float8, cash_revenue::float8, card_revenue::float8, transfer_revenue::float8,
	export_version, snapshot_json, created_at, updated_at`

func scanPeriod(row pgx.Row) (Period, error) {
	var p Period
	err := row.Scan(
		&p.ID, &p.PeriodType, &p.Status, &p.StartAt, &p.EndAt, &p.ClosedAt, &p.CreatedBy, &p.ClosedBy,
		&p.Notes,
		&p.ExpectedCashAmount, &p.ExpectedNonCashAmount, &p.ExpectedCardAmount,
		&p.ExpectedTransferAmount, &p.ExpectedTotalAmount,
		&p.ActualCashAmount, &p.ActualNonCashAmount, &p.ActualTotalAmount,
		&p.DifferenceCash, &p.DifferenceNonCash, &p.DifferenceTotal,
		&p.RevenueTotal, &p.SessionsTotal, &p.PayoutsTotal, &p.CashInTotal,
		&p.CashRefundsTotal, &p.CashRevenue, &p.CardRevenue, &p.TransferRevenue,
		&p.ExportVersion, &p.SnapshotJSON, &p.CreatedAt, &p.UpdatedAt,
	)
	return p, err
}

func collectPeriods(rows pgx.Rows) ([]Period, error) {
	defer rows.Close()
	var out []Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func insertPeriod(ctx context.Context, q querier, in OpenPeriodInput) (Period, error) {
	var createdBy *int64
	if in.CreatedBy > 0 {
		createdBy = &in.CreatedBy
	}
	row := q.QueryRow(ctx, `INSERT INTO cash_periods (period_type, status, start_at, created_by)
		VALUES ($1, 'OPEN', $2, $3)
		RETURNING `+periodColumns, in.PeriodType, in.StartAt.UTC(), createdBy)
	return scanPeriod(row)
}

func (r *repository) ListOpenPeriods(ctx context.Context) ([]Period, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+periodColumns+` FROM cash_periods WHERE status = 'OPEN' ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return collectPeriods(rows)
}

func (r *repository) InsertPeriod(ctx context.Context, in OpenPeriodInput) (Period, error) {
	return insertPeriod(ctx, r.pool, in)
}

func (r *repository) GetPeriod(ctx context.Context, id int64) (Period, error) {
	p, err := scanPeriod(r.pool.QueryRow(ctx, `SELECT `+periodColumns+` FROM cash_periods WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Period{}, &Error{Code: CodeNotFound, Message: fmt.Sprintf("cash period %d not found", id), Err: err}
	}
	return p, err
}

const periodFilter = `($1::text IS NULL OR status = $1)
	AND ($2::timestamptz IS NULL OR COALESCE(end_at, start_at) >= $2)
	AND ($3::timestamptz IS NULL OR start_at <= $3)`

func filterArgs(f ListFilter) []any {
	var status *string
	if f.Status != nil {
		s := string(*f.Status)
		status = &s
	}
	return []any{status, f.From, f.To}
}

func (r *repository) ListPeriods(ctx context.Context, filter ListFilter) ([]Period, int, error) {
	var total int
	args := filterArgs(filter)
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM cash_periods WHERE `+periodFilter, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+periodColumns+` FROM cash_periods WHERE `+periodFilter+`
		ORDER BY start_at DESC, id DESC LIMIT $4 OFFSET $5`, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	periods, err := collectPeriods(rows)
	return periods, total, err
}

func (r *repository) SummarizePeriods(ctx context.Context, filter ListFilter) (HistorySummary, error) {
	var s HistorySummary
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*),
		COALESCE(SUM(expected_total_amount), 0)::float8,
		COALESCE(SUM(actual_total_amount), 0)::float8,
		COALESCE(SUM(difference_total), 0)::float8,
		COALESCE(SUM(revenue_total), 0)::float8
		FROM cash_periods WHERE `+periodFilter, filterArgs(filter)...).
		Scan(&s.Periods, &s.ExpectedTotal, &s.ActualTotal, &s.DifferenceTotal, &s.RevenueTotal)
	if err != nil {
		return HistorySummary{}, err
	}
	s.ExpectedTotal = money.Round(s.ExpectedTotal)
	s.ActualTotal = money.Round(s.ActualTotal)
	s.DifferenceTotal = money.Round(s.DifferenceTotal)
	s.RevenueTotal = money.Round(s.RevenueTotal)
	return s, nil
}

func (r *repository) InsertAdjustment(ctx context.Context, in AdjustmentInput, method money.Method) (Adjustment, error) {
	var createdBy *int64
	if in.ActorID > 0 {
		createdBy = &in.ActorID
	}
	var a Adjustment
	err := r.pool.QueryRow(ctx, `INSERT INTO cash_period_adjustments (period_id, amount, method, reason, created_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, period_id, amount::float8, method, reason, created_by, created_at`,
		in.PeriodID, in.Amount, method, in.Reason, createdBy).
		Scan(&a.ID, &a.PeriodID, &a.Amount, &a.Method, &a.Reason, &a.CreatedBy, &a.CreatedAt)
	return a, err
}

func (r *repository) ListAdjustments(ctx context.Context, periodID int64) ([]Adjustment, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, period_id, amount::float8, method, reason, created_by, created_at
		FROM cash_period_adjustments WHERE period_id = $1 ORDER BY created_at, id`, periodID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Adjustment
	for rows.Next() {
		var a Adjustment
		if err := rows.Scan(&a.ID, &a.PeriodID, &a.Amount, &a.Method, &a.Reason, &a.CreatedBy, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (t *txRepository) LockOpenPeriods(ctx context.Context) ([]Period, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+periodColumns+` FROM cash_periods WHERE status = 'OPEN' ORDER BY id FOR UPDATE`)
	if err != nil {
		return nil, err
	}
	return collectPeriods(rows)
}

func (t *txRepository) InsertPeriod(ctx context.Context, in OpenPeriodInput) (Period, error) {
	return insertPeriod(ctx, t.tx, in)
}

func (t *txRepository) ClosePeriod(ctx context.Context, id int64, rec CloseRecord) (Period, error) {
	var closedBy *int64
	if rec.ClosedBy > 0 {
		closedBy = &rec.ClosedBy
	}
	row := t.tx.QueryRow(ctx, `UPDATE cash_periods SET
		status = 'CLOSED', period_type = $2, end_at = $3, closed_at = $4, closed_by = $5, notes = NULLIF($6, ''),
		expected_cash_amount = $7, expected_non_cash_amount = $8, expected_card_amount = $9,
		expected_transfer_amount = $10, expected_total_amount = $11,
		actual_cash_amount = $12, actual_non_cash_amount = $13, actual_total_amount = $14,
		difference_cash = $15, difference_non_cash = $16, difference_total = $17,
		revenue_total = $18, sessions_total = $19, payouts_total = $20, cash_in_total = $21,
		cash_refunds_total = $22, cash_revenue = $23, card_revenue = $24, transfer_revenue = $25,
		export_version = $26, snapshot_json = $27, updated_at = NOW()
		WHERE id = $1 AND status = 'OPEN'
		RETURNING `+periodColumns,
		id, rec.PeriodType, rec.EndAt.UTC(), rec.ClosedAt.UTC(), closedBy, rec.Notes,
		rec.ExpectedCashAmount, rec.ExpectedNonCashAmount, rec.ExpectedCardAmount,
		rec.ExpectedTransferAmount, rec.ExpectedTotalAmount,
		rec.ActualCashAmount, rec.ActualNonCashAmount, rec.ActualTotalAmount,
		rec.DifferenceCash, rec.DifferenceNonCash, rec.DifferenceTotal,
		rec.RevenueTotal, rec.SessionsTotal, rec.PayoutsTotal, rec.CashInTotal,
		rec.CashRefundsTotal, rec.CashRevenue, rec.CardRevenue, rec.TransferRevenue,
		rec.ExportVersion, string(rec.SnapshotJSON),
	)
	p, err := scanPeriod(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Period{}, conflictError(fmt.Sprintf("period %d is no longer open", id), err)
	}
	return p, err
}

// sources reads the movement tables owned by the payments, POS and trainer modules.
type sources struct {
	db querier
}

func (s sources) Payments(ctx context.Context, rng Range) ([]Payment, error) {
	rows, err := s.db.Query(ctx, `SELECT id, amount::float8, COALESCE(method, ''), COALESCE(status, ''), paid_at, created_by, COALESCE(notes, '')
		FROM payments
		WHERE paid_at BETWEEN $1 AND $2
		  AND lower(status) = ANY($3)
		  AND ($4::bigint IS NULL OR created_by = $4)
		ORDER BY paid_at, id`, rng.Start, rng.End, statusFilter(), rng.ActorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.Amount, &p.Method, &p.Status, &p.PaidAt, &p.ActorID, &p.Note); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// statusFilter widens the completed-state set with the display spellings stored by older clients.
func statusFilter() []string {
	base := CompletedPaymentStatuses()
	out := make([]string, 0, len(base)*3)
	for _, s := range base {
		out = append(out, s)
		if spaced := strings.ReplaceAll(s, "_", " "); spaced != s {
			out = append(out, spaced, strings.ReplaceAll(s, "_", "-"))
		}
	}
	return out
}

func (s sources) Refunds(ctx context.Context, rng Range) ([]Refund, error) {
	rows, err := s.db.Query(ctx, `SELECT r.id, r.payment_id, r.amount::float8, COALESCE(p.method, ''), r.created_at, r.created_by, COALESCE(r.reason, '')
		FROM refunds r
		LEFT JOIN payments p ON p.id = r.payment_id
		WHERE r.created_at BETWEEN $1 AND $2
		  AND ($3::bigint IS NULL OR r.created_by = $3)
		ORDER BY r.created_at, r.id`, rng.Start, rng.End, rng.ActorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Refund
	for rows.Next() {
		var r Refund
		if err := rows.Scan(&r.ID, &r.PaymentID, &r.Amount, &r.PaymentMethod, &r.CreatedAt, &r.ActorID, &r.Reason); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s sources) CashMovements(ctx context.Context, rng Range) ([]CashMovement, error) {
	rows, err := s.db.Query(ctx, `SELECT id, upper(type), amount::float8, created_at, created_by, COALESCE(note, '')
		FROM cash_movements
		WHERE created_at BETWEEN $1 AND $2
		  AND ($3::bigint IS NULL OR created_by = $3)
		ORDER BY created_at, id`, rng.Start, rng.End, rng.ActorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CashMovement
	for rows.Next() {
		var m CashMovement
		if err := rows.Scan(&m.ID, &m.Type, &m.Amount, &m.CreatedAt, &m.ActorID, &m.Note); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s sources) TrainerPayouts(ctx context.Context, rng Range) ([]TrainerPayout, error) {
	rows, err := s.db.Query(ctx, `SELECT id, trainer_id, total_amount::float8, COALESCE(method, ''), paid_at, created_by, COALESCE(note, '')
		FROM trainer_payouts
		WHERE paid_at BETWEEN $1 AND $2
		  AND ($3::bigint IS NULL OR created_by = $3)
		ORDER BY paid_at, id`, rng.Start, rng.End, rng.ActorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TrainerPayout
	for rows.Next() {
		var p TrainerPayout
		if err := rows.Scan(&p.ID, &p.TrainerID, &p.TotalAmount, &p.Method, &p.PaidAt, &p.ActorID, &p.Note); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s sources) Sales(ctx context.Context, rng Range) ([]Sale, error) {
	rows, err := s.db.Query(ctx, `SELECT id, total_amount::float8, COALESCE(payment_method, ''), created_at, created_by, COALESCE(note, '')
		FROM sale_transactions
		WHERE created_at BETWEEN $1 AND $2
		  AND ($3::bigint IS NULL OR created_by = $3)
		ORDER BY created_at, id`, rng.Start, rng.End, rng.ActorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Sale
	for rows.Next() {
		var sale Sale
		if err := rows.Scan(&sale.ID, &sale.TotalAmount, &sale.PaymentMethod, &sale.CreatedAt, &sale.ActorID, &sale.Note); err != nil {
			return nil, err
		}
		out = append(out, sale)
	}
	return out, rows.Err()
}

func (s sources) CompletedSessions(ctx context.Context, rng Range) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM sessions
		WHERE lower(status) = 'completed'
		  AND COALESCE(completed_at, scheduled_at) BETWEEN $1 AND $2`, rng.Start, rng.End).Scan(&n)
	return n, err
}

func (s sources) CommissionTotal(ctx context.Context, rng Range) (float64, error) {
	var total float64
	err := s.db.QueryRow(ctx, `SELECT COALESCE(SUM(commission_amount), 0)::float8 FROM trainer_earnings
		WHERE created_at BETWEEN $1 AND $2`, rng.Start, rng.End).Scan(&total)
	return money.Round(total), err
}
