package cashclosehttp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/forgefit/forgefit/internal/cashclose"
	"github.com/forgefit/forgefit/internal/cashclose/export"
	"github.com/forgefit/forgefit/internal/platform/httpx"
	"github.com/forgefit/forgefit/internal/rbac"
	"github.com/forgefit/forgefit/internal/shared"
)

type cashCloseService interface {
	CurrentPeriod(ctx context.Context, actorID int64) (cashclose.CurrentPeriodView, error)
	ResolveRange(ctx context.Context, start, end *time.Time, actorID *int64) (cashclose.Range, *cashclose.Period, error)
	Preview(ctx context.Context, rng cashclose.Range, cacheScope string) cashclose.FinancialSnapshot
	SalesPreview(ctx context.Context, rng cashclose.Range) cashclose.SalesPreview
	Close(ctx context.Context, in cashclose.CloseInput) (cashclose.CloseResult, error)
	ListPeriods(ctx context.Context, filter cashclose.ListFilter, page, perPage int) (cashclose.PeriodList, error)
	GetPeriod(ctx context.Context, id int64) (cashclose.PeriodDetail, error)
	AddAdjustment(ctx context.Context, in cashclose.AdjustmentInput) (cashclose.Adjustment, error)
	Export(ctx context.Context, id int64) (cashclose.ExportPayload, error)
}

// Handler exposes the cash close JSON API.
type Handler struct {
	logger         *slog.Logger
	service        cashCloseService
	rbac           rbac.Middleware
	validate       *validator.Validate
	exportBasePath string
}

// NewHandler constructs a cash close HTTP handler. exportBasePath prefixes the export links
// returned after a close.
func NewHandler(logger *slog.Logger, service cashCloseService, rbac rbac.Middleware, exportBasePath string) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:         logger,
		service:        service,
		rbac:           rbac,
		validate:       newValidator(),
		exportBasePath: strings.TrimRight(exportBasePath, "/"),
	}
}

// MountRoutes registers HTTP routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/api/cash-closings", func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermCashCloseView))
		r.Get("/period/current", h.currentPeriod)
		r.Get("/calculate-expected", h.calculateExpected)
		r.Get("/sales-preview", h.salesPreview)
		r.Get("/financial-preview", h.financialPreview)
		r.Get("/history", h.history)
		r.With(h.rbac.RequireAny(shared.PermCashCloseClose)).Post("/", h.closePeriod)
		r.With(h.rbac.RequireAny(shared.PermCashCloseExport)).Get("/{id}/export", h.exportPeriod)
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAll(shared.PermCashCloseAdmin))
			r.Get("/", h.listPeriods)
			r.Get("/{id}", h.showPeriod)
			r.Post("/{id}/adjustments", h.addAdjustment)
		})
	})
}

func actorID(r *http.Request) int64 {
	actor, _ := shared.ActorFromContext(r.Context())
	return actor.ID
}

func (h *Handler) currentPeriod(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.CurrentPeriod(r.Context(), actorID(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

// previewRange resolves the range of a preview request. Validation failures and open-period
// anomalies are reported; any other failure degrades the preview to an empty range.
func (h *Handler) previewRange(w http.ResponseWriter, r *http.Request) (cashclose.Range, string, bool) {
	q := r.URL.Query()
	start, err := parseTimeParam(q.Get("startAt"), false)
	if err != nil {
		h.respondValidation(w, err.Error())
		return cashclose.Range{}, "", false
	}
	end, err := parseTimeParam(q.Get("endAt"), true)
	if err != nil {
		h.respondValidation(w, err.Error())
		return cashclose.Range{}, "", false
	}
	var actor *int64
	if raw := strings.TrimSpace(q.Get("actorId")); raw != "" {
		id, err := parsePositiveID(raw)
		if err != nil {
			h.respondValidation(w, "actorId must be a positive integer")
			return cashclose.Range{}, "", false
		}
		actor = &id
	}

	rng, period, err := h.service.ResolveRange(r.Context(), start, end, actor)
	if err != nil {
		if errors.Is(err, cashclose.ErrValidation) || errors.Is(err, cashclose.ErrOpenPeriodExists) {
			h.respondError(w, r, err)
			return cashclose.Range{}, "", false
		}
		h.logger.Warn("preview range degraded", slog.Any("error", err))
		return cashclose.Range{ActorID: actor}, "", true
	}
	if period != nil {
		return rng, "open:" + strconv.FormatInt(period.ID, 10), true
	}
	return rng, "range:" + rng.Start.Format(time.RFC3339) + ":" + rng.End.Format(time.RFC3339), true
}

func (h *Handler) calculateExpected(w http.ResponseWriter, r *http.Request) {
	rng, scope, ok := h.previewRange(w, r)
	if !ok {
		return
	}
	resp := ExpectedResponse{Range: rng}
	if scope != "" {
		snap := h.service.Preview(r.Context(), rng, scope)
		resp.ExpectedStats = snap.ExpectedStats
		resp.Degraded = snap.Degraded
		if strings.HasPrefix(scope, "open:") {
			resp.PeriodID, _ = strconv.ParseInt(strings.TrimPrefix(scope, "open:"), 10, 64)
		}
	} else {
		resp.Degraded = []string{"range"}
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) financialPreview(w http.ResponseWriter, r *http.Request) {
	rng, scope, ok := h.previewRange(w, r)
	if !ok {
		return
	}
	if scope == "" {
		httpx.JSON(w, http.StatusOK, cashclose.FinancialSnapshot{Range: rng, Degraded: []string{"range"}})
		return
	}
	httpx.JSON(w, http.StatusOK, h.service.Preview(r.Context(), rng, scope))
}

func (h *Handler) salesPreview(w http.ResponseWriter, r *http.Request) {
	rng, scope, ok := h.previewRange(w, r)
	if !ok {
		return
	}
	if scope == "" {
		httpx.JSON(w, http.StatusOK, cashclose.SalesPreview{
			Range:           rng,
			Rows:            []cashclose.SnapshotRow{},
			SummaryByMethod: cashclose.SummarizeByMethod(nil),
			Degraded:        true,
		})
		return
	}
	httpx.JSON(w, http.StatusOK, h.service.SalesPreview(r.Context(), rng))
}

func (h *Handler) closePeriod(w http.ResponseWriter, r *http.Request) {
	var req CloseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.respondValidation(w, "invalid JSON body: "+err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.respondValidation(w, describeValidation(err))
		return
	}
	result, err := h.service.Close(r.Context(), req.toInput(actorID(r), r.Header.Get("Idempotency-Key")))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, CloseResponse{
		CloseID:       result.ClosedPeriod.ID,
		SnapshotID:    result.Snapshot.SnapshotID,
		ExportURL:     fmt.Sprintf("%s/%d/export?format=csv", h.exportBasePath, result.ClosedPeriod.ID),
		ClosedPeriod:  result.ClosedPeriod,
		NewOpenPeriod: result.NewOpenPeriod,
		WarningCode:   result.WarningCode,
	})
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	status := cashclose.PeriodStatusClosed
	h.list(w, r, &status)
}

func (h *Handler) listPeriods(w http.ResponseWriter, r *http.Request) {
	var status *cashclose.PeriodStatus
	switch strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("status"))) {
	case "":
	case string(cashclose.PeriodStatusOpen):
		s := cashclose.PeriodStatusOpen
		status = &s
	case string(cashclose.PeriodStatusClosed):
		s := cashclose.PeriodStatusClosed
		status = &s
	default:
		h.respondValidation(w, "status must be OPEN or CLOSED")
		return
	}
	h.list(w, r, status)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request, status *cashclose.PeriodStatus) {
	q := r.URL.Query()
	from, err := parseTimeParam(q.Get("from"), false)
	if err != nil {
		h.respondValidation(w, err.Error())
		return
	}
	to, err := parseTimeParam(q.Get("to"), true)
	if err != nil {
		h.respondValidation(w, err.Error())
		return
	}
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("perPage"))
	out, err := h.service.ListPeriods(r.Context(), cashclose.ListFilter{Status: status, From: from, To: to}, page, perPage)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) showPeriod(w http.ResponseWriter, r *http.Request) {
	id, err := parsePositiveID(chi.URLParam(r, "id"))
	if err != nil {
		h.respondValidation(w, err.Error())
		return
	}
	detail, err := h.service.GetPeriod(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, detail)
}

func (h *Handler) addAdjustment(w http.ResponseWriter, r *http.Request) {
	id, err := parsePositiveID(chi.URLParam(r, "id"))
	if err != nil {
		h.respondValidation(w, err.Error())
		return
	}
	var req AdjustmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.respondValidation(w, "invalid JSON body: "+err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.respondValidation(w, describeValidation(err))
		return
	}
	adj, err := h.service.AddAdjustment(r.Context(), cashclose.AdjustmentInput{
		PeriodID: id,
		Amount:   req.Amount,
		Method:   req.Method,
		Reason:   req.Reason,
		ActorID:  actorID(r),
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, adj)
}

func (h *Handler) exportPeriod(w http.ResponseWriter, r *http.Request) {
	id, err := parsePositiveID(chi.URLParam(r, "id"))
	if err != nil {
		h.respondValidation(w, err.Error())
		return
	}
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		h.respondValidation(w, "format must be csv, json or xlsx")
		return
	}
	payload, err := h.service.Export(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := export.Render(&buf, format, payload); err != nil {
		h.logger.Error("render export", slog.Int64("period_id", id), slog.Any("error", err))
		httpx.ProblemWithCode(w, http.StatusInternalServerError, "Internal Error", "export rendering failed", string(cashclose.CodeDBError))
		return
	}
	filename := cashclose.ExportFilename(payload, string(format))
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) respondValidation(w http.ResponseWriter, detail string) {
	httpx.ProblemWithCode(w, http.StatusBadRequest, "Validation Failed", detail, string(cashclose.CodeValidation))
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := cashclose.MapError(err)
	attrs := []any{
		slog.String("path", r.URL.Path),
		slog.String("code", string(code)),
		slog.Any("error", err),
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("cash close request failed", attrs...)
	} else {
		h.logger.Info("cash close request rejected", attrs...)
	}
	httpx.ProblemWithCode(w, status, http.StatusText(status), message, string(code))
}
