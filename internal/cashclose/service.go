package cashclose

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/forgefit/forgefit/internal/money"
	"github.com/forgefit/forgefit/internal/platform/cache"
	"github.com/forgefit/forgefit/internal/shared"
)

// Repository is the storage contract of the cash close service.
type Repository interface {
	MovementSource
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListOpenPeriods(ctx context.Context) ([]Period, error)
	InsertPeriod(ctx context.Context, in OpenPeriodInput) (Period, error)
	GetPeriod(ctx context.Context, id int64) (Period, error)
	ListPeriods(ctx context.Context, filter ListFilter) ([]Period, int, error)
	SummarizePeriods(ctx context.Context, filter ListFilter) (HistorySummary, error)
	InsertAdjustment(ctx context.Context, in AdjustmentInput, method money.Method) (Adjustment, error)
	ListAdjustments(ctx context.Context, periodID int64) ([]Adjustment, error)
}

// TxRepository exposes the operations available inside the close transaction.
type TxRepository interface {
	MovementSource
	LockOpenPeriods(ctx context.Context) ([]Period, error)
	InsertPeriod(ctx context.Context, in OpenPeriodInput) (Period, error)
	ClosePeriod(ctx context.Context, id int64, rec CloseRecord) (Period, error)
}

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyGuard rejects replayed request keys.
type IdempotencyGuard interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Release(ctx context.Context, key, module string) error
}

// CloseNotifier is told about committed closes.
type CloseNotifier interface {
	NotifyPeriodClosed(ctx context.Context, periodID int64) error
}

const idempotencyModule = "cash_close"

// ServiceConfig bundles optional collaborators. Nil collaborators are skipped.
type ServiceConfig struct {
	DefaultPeriodType PeriodType
	Logger            *slog.Logger
	Audit             AuditRecorder
	Idempotency       IdempotencyGuard
	Cache             *cache.Versioned
	Notifier          CloseNotifier
	Metrics           *Metrics
}

// Service owns the cash period lifecycle, previews and exports.
type Service struct {
	repo     Repository
	cfg      ServiceConfig
	logger   *slog.Logger
	tracer   trace.Tracer
	previews singleflight.Group
	now      func() time.Time
}

// NewService constructs a Service.
func NewService(repo Repository, cfg ServiceConfig) *Service {
	if cfg.DefaultPeriodType == "" {
		cfg.DefaultPeriodType = PeriodTypeDaily
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		cfg:    cfg,
		logger: logger,
		tracer: otel.Tracer("github.com/forgefit/forgefit/internal/cashclose"),
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// EnsureOpenPeriod returns the single OPEN period, creating it lazily when none exists.
// More than one OPEN period is an integrity anomaly and is reported, never resolved here.
func (s *Service) EnsureOpenPeriod(ctx context.Context, actorID int64) (Period, error) {
	for attempt := 0; attempt < 2; attempt++ {
		open, err := s.repo.ListOpenPeriods(ctx)
		if err != nil {
			return Period{}, err
		}
		switch len(open) {
		case 1:
			return open[0], nil
		case 0:
			created, err := s.repo.InsertPeriod(ctx, OpenPeriodInput{
				PeriodType: s.cfg.DefaultPeriodType,
				StartAt:    s.now(),
				CreatedBy:  actorID,
			})
			if err == nil {
				s.logger.Info("cash period opened", slog.Int64("period_id", created.ID))
				return created, nil
			}
			if !IsUniqueViolation(err) {
				return Period{}, err
			}
			// a concurrent request created it first; read it back
		default:
			return Period{}, s.duplicateOpen(open)
		}
	}
	return Period{}, conflictError("open period changed concurrently", nil)
}

func (s *Service) duplicateOpen(open []Period) error {
	ids := make([]string, 0, len(open))
	for _, p := range open {
		ids = append(ids, strconv.FormatInt(p.ID, 10))
	}
	s.cfg.Metrics.openAnomaly()
	s.logger.Error("multiple open cash periods", slog.String("period_ids", strings.Join(ids, ",")))
	return conflictError(fmt.Sprintf("%d open periods found (%s); resolve manually", len(open), strings.Join(ids, ",")), nil)
}

// ResolveRange returns the explicit range when both bounds are given, otherwise the current
// open period up to now. The returned period is nil for explicit ranges.
func (s *Service) ResolveRange(ctx context.Context, start, end *time.Time, actorID *int64) (Range, *Period, error) {
	if (start == nil) != (end == nil) {
		return Range{}, nil, validationError("startAt and endAt must be provided together")
	}
	if start != nil {
		if end.Before(*start) {
			return Range{}, nil, validationError("endAt must not precede startAt")
		}
		return Range{Start: start.UTC(), End: end.UTC(), ActorID: actorID}, nil, nil
	}
	period, err := s.EnsureOpenPeriod(ctx, 0)
	if err != nil {
		return Range{}, nil, err
	}
	end2 := s.now()
	if end2.Before(period.StartAt) {
		end2 = period.StartAt
	}
	return Range{Start: period.StartAt, End: end2, ActorID: actorID}, &period, nil
}

// calculateFinancialSnapshot is the single aggregation entry point used by previews and closes.
func (s *Service) calculateFinancialSnapshot(ctx context.Context, src MovementSource, rng Range, mode Mode, parallel bool) (FinancialSnapshot, Movements, error) {
	c := collector{src: src, mode: mode, logger: s.logger, parallel: parallel}
	got, err := c.collect(ctx, rng)
	if err != nil {
		return FinancialSnapshot{}, Movements{}, err
	}
	for _, q := range got.degraded {
		s.cfg.Metrics.previewDegraded(q)
	}
	return FinancialSnapshot{
		ExpectedStats:   CalculateCashClosingStats(got.movements),
		Range:           rng,
		SessionsTotal:   got.sessions,
		CommissionTotal: got.commissions,
		Degraded:        got.degraded,
	}, got.movements, nil
}

// errDegradedPreview keeps degraded previews out of the cache.
var errDegradedPreview = errors.New("cashclose: degraded preview not cached")

// Preview computes a best-effort financial snapshot. Sub-query failures degrade to zeros.
// cacheScope identifies the range for the preview cache; empty disables caching.
func (s *Service) Preview(ctx context.Context, rng Range, cacheScope string) FinancialSnapshot {
	ctx, span := s.tracer.Start(ctx, "cashclose.Preview")
	defer span.End()

	load := func(ctx context.Context) (any, error) {
		snap, _, err := s.calculateFinancialSnapshot(ctx, s.repo, rng, ModeBestEffort, true)
		return snap, err
	}
	if cacheScope != "" {
		cacheScope = cacheScope + ":" + actorToken(rng.ActorID)
		if s.cfg.Cache != nil {
			var degraded FinancialSnapshot
			cacheable := func(ctx context.Context) (any, error) {
				v, err := load(ctx)
				if err != nil {
					return nil, err
				}
				if snap := v.(FinancialSnapshot); len(snap.Degraded) > 0 {
					degraded = snap
					return nil, errDegradedPreview
				}
				return v, nil
			}
			key, err := s.cfg.Cache.BuildKey(ctx, "cashclose", "preview", cacheScope)
			if err == nil {
				var cached FinancialSnapshot
				err = s.cfg.Cache.FetchJSON(ctx, key, &cached, cacheable)
				if err == nil {
					return cached
				}
				if errors.Is(err, errDegradedPreview) {
					return degraded
				}
			}
			s.logger.Warn("preview cache unavailable", slog.Any("error", err))
		}
	}
	key := cacheScope
	if key == "" {
		key = rangeToken(rng)
	}
	v, err, _ := s.previews.Do(key, func() (any, error) { return load(ctx) })
	if err != nil {
		s.logger.Warn("preview failed", slog.Any("error", err))
		return FinancialSnapshot{Range: rng, Degraded: []string{"all"}}
	}
	return v.(FinancialSnapshot)
}

// CurrentPeriodView is the open period with its live preview.
type CurrentPeriodView struct {
	Period  Period            `json:"period"`
	Preview FinancialSnapshot `json:"preview"`
}

// CurrentPeriod returns the OPEN period, lazily created, and its preview.
func (s *Service) CurrentPeriod(ctx context.Context, actorID int64) (CurrentPeriodView, error) {
	period, err := s.EnsureOpenPeriod(ctx, actorID)
	if err != nil {
		return CurrentPeriodView{}, err
	}
	end := s.now()
	if end.Before(period.StartAt) {
		end = period.StartAt
	}
	rng := Range{Start: period.StartAt, End: end}
	return CurrentPeriodView{
		Period:  period,
		Preview: s.Preview(ctx, rng, "open:"+strconv.FormatInt(period.ID, 10)),
	}, nil
}

// SalesPreview lists the POS sales of a range with per-method totals.
type SalesPreview struct {
	Range           Range           `json:"range"`
	Rows            []SnapshotRow   `json:"rows"`
	SummaryByMethod []MethodSummary `json:"summaryByMethod"`
	Total           float64         `json:"total"`
	Degraded        bool            `json:"degraded,omitempty"`
}

// SalesPreview reads sales best-effort; failures produce an empty, degraded preview.
func (s *Service) SalesPreview(ctx context.Context, rng Range) SalesPreview {
	out := SalesPreview{Range: rng, Rows: []SnapshotRow{}}
	sales, err := s.repo.Sales(ctx, rng)
	if err != nil {
		s.logger.Warn("sales preview degraded", slog.Any("error", err))
		s.cfg.Metrics.previewDegraded(querySales)
		out.Degraded = true
		out.SummaryByMethod = SummarizeByMethod(nil)
		return out
	}
	for _, sale := range sales {
		out.Rows = append(out.Rows, SnapshotRow{
			ID: sale.ID, Method: money.NormalizeMethod(sale.PaymentMethod), Amount: money.Round(sale.TotalAmount),
			At: sale.CreatedAt.UTC(), Note: sale.Note, ActorID: sale.ActorID,
		})
	}
	sortRows(out.Rows)
	out.SummaryByMethod = SummarizeByMethod(out.Rows)
	for _, m := range out.SummaryByMethod {
		out.Total = money.Add(out.Total, m.Amount)
	}
	return out
}

// Close reconciles and closes the OPEN period and opens its successor in one transaction.
func (s *Service) Close(ctx context.Context, in CloseInput) (result CloseResult, err error) {
	ctx, span := s.tracer.Start(ctx, "cashclose.Close")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := validateCloseInput(in); err != nil {
		s.cfg.Metrics.closeOutcome(err)
		return CloseResult{}, err
	}
	if in.IdempotencyKey != "" && s.cfg.Idempotency != nil {
		if err := s.cfg.Idempotency.CheckAndInsert(ctx, in.IdempotencyKey, idempotencyModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				err = conflictError("close request already processed", err)
			}
			s.cfg.Metrics.closeOutcome(err)
			return CloseResult{}, err
		}
		defer func() {
			if err != nil {
				if delErr := s.cfg.Idempotency.Release(context.WithoutCancel(ctx), in.IdempotencyKey, idempotencyModule); delErr != nil {
					s.logger.Warn("release idempotency key", slog.Any("error", delErr))
				}
			}
		}()
	}

	now := s.now()
	endAt := now
	if in.EndAt != nil {
		endAt = in.EndAt.UTC()
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		open, err := tx.LockOpenPeriods(ctx)
		if err != nil {
			return err
		}
		var period Period
		switch len(open) {
		case 0:
			period, err = tx.InsertPeriod(ctx, OpenPeriodInput{
				PeriodType: s.periodTypeFor(in, Period{}),
				StartAt:    minTime(now, endAt),
				CreatedBy:  in.ActorID,
			})
			if err != nil {
				return err
			}
		case 1:
			period = open[0]
		default:
			return s.duplicateOpen(open)
		}
		if in.ExpectedPeriodID != 0 && in.ExpectedPeriodID != period.ID {
			return conflictError(fmt.Sprintf("period %d is no longer open; current open period is %d", in.ExpectedPeriodID, period.ID), nil)
		}
		if endAt.Before(period.StartAt) {
			return &Error{
				Code:    CodeCloseEndBeforeStart,
				Message: fmt.Sprintf("endAt %s precedes period start %s", endAt.Format(time.RFC3339), period.StartAt.UTC().Format(time.RFC3339)),
			}
		}

		rng := Range{Start: period.StartAt, End: endAt}
		snap, movements, err := s.calculateFinancialSnapshot(ctx, tx, rng, ModeStrict, false)
		if err != nil {
			return err
		}

		record := buildCloseRecord(snap, in, endAt, now)
		record.PeriodType = s.periodTypeFor(in, period)
		closeSnap := BuildCloseSnapshot(period.ID, rng, snap, record, movements, now)
		record.SnapshotJSON, err = EncodeSnapshot(closeSnap)
		if err != nil {
			return err
		}

		closed, err := tx.ClosePeriod(ctx, period.ID, record)
		if err != nil {
			return err
		}
		successor, err := tx.InsertPeriod(ctx, OpenPeriodInput{
			PeriodType: closed.PeriodType,
			StartAt:    endAt.Add(time.Second),
			CreatedBy:  in.ActorID,
		})
		if err != nil {
			return err
		}
		result = CloseResult{ClosedPeriod: closed, NewOpenPeriod: successor, Snapshot: closeSnap}
		return nil
	})
	if err != nil {
		if IsSerializationFailure(err) || IsUniqueViolation(err) {
			err = conflictError("another close committed first; reload the current period", err)
		}
		s.cfg.Metrics.closeOutcome(err)
		return CloseResult{}, err
	}

	if result.ClosedPeriod.ExpectedCashAmount < 0 {
		result.WarningCode = WarningNegativeExpectedCash
		s.cfg.Metrics.negativeCash()
	}
	span.SetAttributes(
		attribute.Int64("cashclose.period_id", result.ClosedPeriod.ID),
		attribute.Float64("cashclose.expected_cash", result.ClosedPeriod.ExpectedCashAmount),
	)
	s.cfg.Metrics.closeOutcome(nil)
	s.afterClose(ctx, in, result)
	return result, nil
}

// afterClose runs the post-commit side effects. Failures are logged and never undo the close.
func (s *Service) afterClose(ctx context.Context, in CloseInput, result CloseResult) {
	ctx = context.WithoutCancel(ctx)
	closed := result.ClosedPeriod
	logger := s.logger.With(slog.Int64("period_id", closed.ID))
	logger.Info("cash period closed",
		slog.Float64("expected_cash", closed.ExpectedCashAmount),
		slog.Float64("actual_cash", closed.ActualCashAmount),
		slog.Float64("difference_total", closed.DifferenceTotal),
		slog.Int64("successor_id", result.NewOpenPeriod.ID))

	if s.cfg.Audit != nil {
		err := s.cfg.Audit.Record(ctx, shared.AuditLog{
			ActorID:  in.ActorID,
			Action:   "cash_period.close",
			Entity:   "cash_period",
			EntityID: strconv.FormatInt(closed.ID, 10),
			Meta: map[string]any{
				"expected_cash": closed.ExpectedCashAmount,
				"actual_cash":   closed.ActualCashAmount,
				"difference":    closed.DifferenceTotal,
				"snapshot_id":   result.Snapshot.SnapshotID,
				"successor_id":  result.NewOpenPeriod.ID,
				"warning_code":  result.WarningCode,
			},
			At: s.now(),
		})
		if err != nil {
			logger.Warn("audit cash close", slog.Any("error", err))
		}
	}
	if s.cfg.Cache != nil {
		if err := s.cfg.Cache.Bump(ctx); err != nil {
			logger.Warn("bump preview cache", slog.Any("error", err))
		}
	}
	if s.cfg.Notifier != nil {
		if err := s.cfg.Notifier.NotifyPeriodClosed(ctx, closed.ID); err != nil {
			logger.Warn("notify period closed", slog.Any("error", err))
		}
	}
}

func (s *Service) periodTypeFor(in CloseInput, current Period) PeriodType {
	if in.PeriodType != "" {
		return in.PeriodType
	}
	if current.PeriodType != "" {
		return current.PeriodType
	}
	return s.cfg.DefaultPeriodType
}

func validateCloseInput(in CloseInput) error {
	if math.IsNaN(in.DeclaredCashAmount) || math.IsNaN(in.DeclaredNonCashAmount) ||
		math.IsInf(in.DeclaredCashAmount, 0) || math.IsInf(in.DeclaredNonCashAmount, 0) {
		return validationError("declared amounts must be finite numbers")
	}
	if in.PeriodType != "" {
		if _, ok := ParsePeriodType(string(in.PeriodType)); !ok {
			return validationError("unknown periodType %q", in.PeriodType)
		}
	}
	if in.ExpectedPeriodID < 0 {
		return validationError("expectedPeriodId must be positive")
	}
	return nil
}

func buildCloseRecord(snap FinancialSnapshot, in CloseInput, endAt, closedAt time.Time) CloseRecord {
	declaredCash := money.Clamp(in.DeclaredCashAmount)
	declaredNonCash := money.Clamp(in.DeclaredNonCashAmount)
	actualTotal := money.Add(declaredCash, declaredNonCash)
	return CloseRecord{
		EndAt:    endAt,
		ClosedAt: closedAt,
		ClosedBy: in.ActorID,
		Notes:    strings.TrimSpace(in.Notes),

		ExpectedCashAmount:     snap.ExpectedCash,
		ExpectedNonCashAmount:  snap.ExpectedNonCash,
		ExpectedCardAmount:     snap.ExpectedCard,
		ExpectedTransferAmount: snap.ExpectedTransfer,
		ExpectedTotalAmount:    snap.ExpectedTotal,
		ActualCashAmount:       declaredCash,
		ActualNonCashAmount:    declaredNonCash,
		ActualTotalAmount:      actualTotal,
		DifferenceCash:         money.Sub(declaredCash, snap.ExpectedCash),
		DifferenceNonCash:      money.Sub(declaredNonCash, snap.ExpectedNonCash),
		DifferenceTotal:        money.Sub(actualTotal, snap.ExpectedTotal),
		RevenueTotal:           snap.RevenueTotal,
		SessionsTotal:          snap.SessionsTotal,
		PayoutsTotal:           snap.PayoutsTotal,
		CashInTotal:            snap.CashIn,
		CashRefundsTotal:       snap.CashRefunds,
		CashRevenue:            snap.CashRevenue,
		CardRevenue:            snap.CardRevenue,
		TransferRevenue:        snap.TransferRevenue,
		ExportVersion:          SnapshotVersion,
	}
}

// GetPeriod returns a period with its adjustments.
func (s *Service) GetPeriod(ctx context.Context, id int64) (PeriodDetail, error) {
	period, err := s.repo.GetPeriod(ctx, id)
	if err != nil {
		return PeriodDetail{}, err
	}
	adjustments, err := s.repo.ListAdjustments(ctx, id)
	if err != nil {
		return PeriodDetail{}, err
	}
	if adjustments == nil {
		adjustments = []Adjustment{}
	}
	detail := PeriodDetail{Period: period, Adjustments: adjustments}
	for _, a := range adjustments {
		detail.AdjustmentsTotal = money.Add(detail.AdjustmentsTotal, a.Amount)
	}
	detail.AdjustedDiff = money.Add(period.DifferenceTotal, detail.AdjustmentsTotal)
	return detail, nil
}

// PeriodList is a page of periods with an aggregate summary of the whole filter.
type PeriodList struct {
	Periods    []Period          `json:"periods"`
	Pagination shared.Pagination `json:"pagination"`
	Summary    HistorySummary    `json:"summary"`
}

// ListPeriods returns a page of periods and the summary of every period matching the filter.
func (s *Service) ListPeriods(ctx context.Context, filter ListFilter, page, perPage int) (PeriodList, error) {
	pg := shared.NewPagination(page, perPage, 0)
	filter.Limit = pg.PerPage
	filter.Offset = pg.Offset()
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return PeriodList{}, validationError("to must not precede from")
	}
	periods, total, err := s.repo.ListPeriods(ctx, filter)
	if err != nil {
		return PeriodList{}, err
	}
	summary, err := s.repo.SummarizePeriods(ctx, filter)
	if err != nil {
		return PeriodList{}, err
	}
	if periods == nil {
		periods = []Period{}
	}
	return PeriodList{
		Periods:    periods,
		Pagination: shared.NewPagination(pg.Page, pg.PerPage, total),
		Summary:    summary,
	}, nil
}

// AddAdjustment records a post-close correction. The period snapshot is left untouched.
func (s *Service) AddAdjustment(ctx context.Context, in AdjustmentInput) (Adjustment, error) {
	in.Reason = strings.TrimSpace(in.Reason)
	if in.Reason == "" {
		return Adjustment{}, validationError("reason is required")
	}
	in.Amount = money.Round(in.Amount)
	if in.Amount == 0 {
		return Adjustment{}, validationError("amount must not be zero")
	}
	period, err := s.repo.GetPeriod(ctx, in.PeriodID)
	if err != nil {
		return Adjustment{}, err
	}
	if !period.IsClosed() {
		return Adjustment{}, validationError("adjustments apply to closed periods only")
	}
	adj, err := s.repo.InsertAdjustment(ctx, in, money.NormalizeMethod(in.Method))
	if err != nil {
		return Adjustment{}, err
	}
	if s.cfg.Audit != nil {
		auditCtx := context.WithoutCancel(ctx)
		if err := s.cfg.Audit.Record(auditCtx, shared.AuditLog{
			ActorID:  in.ActorID,
			Action:   "cash_period.adjust",
			Entity:   "cash_period",
			EntityID: strconv.FormatInt(in.PeriodID, 10),
			Meta:     map[string]any{"adjustment_id": adj.ID, "amount": adj.Amount, "method": adj.Method, "reason": adj.Reason},
			At:       s.now(),
		}); err != nil {
			s.logger.Warn("audit cash adjustment", slog.Any("error", err))
		}
	}
	return adj, nil
}

// Export loads the stored snapshot of a closed period.
func (s *Service) Export(ctx context.Context, id int64) (ExportPayload, error) {
	_, span := s.tracer.Start(ctx, "cashclose.Export", trace.WithAttributes(attribute.Int64("cashclose.period_id", id)))
	defer span.End()
	period, err := s.repo.GetPeriod(ctx, id)
	if err != nil {
		return ExportPayload{}, err
	}
	return BuildExportPayload(period)
}

func minTime(a, b time.Time) time.Time {
	if b.Before(a) {
		return b
	}
	return a
}

func actorToken(actorID *int64) string {
	if actorID == nil {
		return "-"
	}
	return strconv.FormatInt(*actorID, 10)
}

func rangeToken(rng Range) string {
	return rng.Start.UTC().Format(time.RFC3339Nano) + "|" + rng.End.UTC().Format(time.RFC3339Nano) + "|" + actorToken(rng.ActorID)
}
