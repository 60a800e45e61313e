package cashclosehttp

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/forgefit/forgefit/internal/cashclose"
)

// CloseRequest is the body of POST /.
type CloseRequest struct {
	PeriodType            string     `json:"periodType" validate:"omitempty,periodtype"`
	EndAt                 *time.Time `json:"endAt"`
	DeclaredCashAmount    *float64   `json:"declaredCashAmount" validate:"required,gte=0"`
	DeclaredNonCashAmount float64    `json:"declaredNonCashAmount" validate:"gte=0"`
	Notes                 string     `json:"notes" validate:"max=2000"`
	ExpectedPeriodID      int64      `json:"expectedPeriodId" validate:"gte=0"`
}

// AdjustmentRequest is the body of POST /{id}/adjustments.
type AdjustmentRequest struct {
	Amount float64 `json:"amount" validate:"required"`
	Method string  `json:"method" validate:"omitempty,max=32"`
	Reason string  `json:"reason" validate:"required,min=3,max=500"`
}

// CloseResponse is returned by a successful close.
type CloseResponse struct {
	CloseID       int64            `json:"closeId"`
	SnapshotID    string           `json:"snapshotId"`
	ExportURL     string           `json:"exportUrl"`
	ClosedPeriod  cashclose.Period `json:"closedPeriod"`
	NewOpenPeriod cashclose.Period `json:"newOpenPeriod"`
	WarningCode   string           `json:"warningCode,omitempty"`
}

// ExpectedResponse is returned by GET /calculate-expected.
type ExpectedResponse struct {
	cashclose.ExpectedStats
	Range    cashclose.Range `json:"range"`
	PeriodID int64           `json:"periodId,omitempty"`
	Degraded []string        `json:"degraded,omitempty"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("periodtype", func(fl validator.FieldLevel) bool {
		_, ok := cashclose.ParsePeriodType(fl.Field().String())
		return ok
	})
	return v
}

func (r CloseRequest) toInput(actorID int64, idempotencyKey string) cashclose.CloseInput {
	in := cashclose.CloseInput{
		EndAt:                 r.EndAt,
		DeclaredNonCashAmount: r.DeclaredNonCashAmount,
		Notes:                 r.Notes,
		ExpectedPeriodID:      r.ExpectedPeriodID,
		ActorID:               actorID,
		IdempotencyKey:        strings.TrimSpace(idempotencyKey),
	}
	if r.DeclaredCashAmount != nil {
		in.DeclaredCashAmount = *r.DeclaredCashAmount
	}
	if pt, ok := cashclose.ParsePeriodType(r.PeriodType); ok {
		in.PeriodType = pt
	}
	return in
}

func describeValidation(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", lowerFirst(fe.Field()), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

// parseTimeParam accepts RFC3339 timestamps or plain dates. A plain end date covers the whole day.
func parseTimeParam(raw string, endOfDay bool) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		t = t.UTC()
		return &t, nil
	}
	day, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, fmt.Errorf("invalid time %q", raw)
	}
	if endOfDay {
		day = day.Add(24*time.Hour - time.Second)
	}
	return &day, nil
}

func parsePositiveID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}
