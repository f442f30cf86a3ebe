package discount

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/qtybreak/internal/common"
	"github.com/noah-isme/qtybreak/internal/obs"
	"github.com/noah-isme/qtybreak/internal/pricing"
	"github.com/noah-isme/qtybreak/internal/tiers"
)

const defaultMaxBody = 1 << 20

// Handler exposes the evaluator over HTTP.
type Handler struct {
	Evaluator *Evaluator
	Source    TierSource
	Logger    zerolog.Logger
	MaxBody   int64
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func requestValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Run accepts the platform's run input and answers with the discount instruction.
func (h *Handler) Run(w http.ResponseWriter, r *http.Request) {
	if h.Evaluator == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "evaluator not configured", nil)
		return
	}
	var in Input
	if err := h.decode(w, r, &in); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid run input", err.Error())
		return
	}

	evalID := uuid.NewString()
	w.Header().Set(obs.EvaluationIDHeader, evalID)
	ctx := obs.WithEvaluationID(r.Context(), evalID)

	out, err := h.Evaluator.Run(ctx, in)
	if err != nil {
		h.Logger.Warn().Err(err).Str("evaluation_id", evalID).Msg("discount run aborted")
		common.JSONError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "discount run aborted", nil)
		return
	}
	h.Logger.Debug().
		Str("evaluation_id", evalID).
		Int("lines", len(in.Cart.Lines)).
		Int("discounts", len(out.Discounts)).
		Str("total_discount", TotalDiscount(out).String()).
		Msg("discount run complete")
	common.JSON(w, http.StatusOK, out)
}

// QuoteRequest asks for a diagnostic pricing of one record and quantity.
type QuoteRequest struct {
	Record            json.RawMessage `json:"record,omitempty"`
	VariantID         string          `json:"variantId,omitempty" validate:"max=255"`
	Quantity          int             `json:"quantity" validate:"gt=0,lte=1000000"`
	ExternalUnitPrice decimal.Decimal `json:"externalUnitPrice"`
	ExternalLineTotal decimal.Decimal `json:"externalLineTotal"`
}

// QuoteBand is one graduated pricing band.
type QuoteBand struct {
	Min       int             `json:"min"`
	FromUnit  int             `json:"fromUnit"`
	ToUnit    int             `json:"toUnit"`
	Base      bool            `json:"base"`
	Units     int             `json:"units"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

// QuoteDiscount mirrors pricing.Decision for the wire.
type QuoteDiscount struct {
	UnitPrice          decimal.Decimal `json:"unitPrice"`
	DiscountAmount     decimal.Decimal `json:"discountAmount"`
	DiscountPercentage decimal.Decimal `json:"discountPercentage"`
	Message            string          `json:"message"`
}

// QuoteResponse reports flat and graduated pricing for a quantity.
type QuoteResponse struct {
	Status          string          `json:"status"`
	Tiers           *tiers.Record   `json:"tiers,omitempty"`
	Quantity        int             `json:"quantity"`
	Eligible        bool            `json:"eligible"`
	UnitPrice       decimal.Decimal `json:"unitPrice"`
	TargetLineTotal decimal.Decimal `json:"targetLineTotal"`
	GraduatedTotal  decimal.Decimal `json:"graduatedTotal"`
	Bands           []QuoteBand     `json:"bands"`
	Difference      decimal.Decimal `json:"difference"`
	Discount        *QuoteDiscount  `json:"discount"`
}

// Quote prices a tier record (inline or looked up by variant) for diagnostics.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	var req QuoteRequest
	if err := h.decode(w, r, &req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid quote request", err.Error())
		return
	}
	if err := requestValidator().Struct(req); err != nil {
		common.WriteError(w, common.NewAppError("VALIDATION_FAILED", "invalid quote request", http.StatusUnprocessableEntity, err).
			WithDetails(validationDetails(err)))
		return
	}

	parsed, err := h.lookup(r, req)
	if err != nil {
		var appErr *common.AppError
		if errors.As(err, &appErr) && appErr.HTTPStatus >= http.StatusInternalServerError {
			h.Logger.Warn().Err(err).Str("variant_id", req.VariantID).Msg("tier record lookup failed")
		}
		common.WriteError(w, err)
		return
	}

	common.JSON(w, http.StatusOK, map[string]any{"data": BuildQuote(parsed, req)})
}

// BuildQuote assembles the diagnostic view of a parsed record.
func BuildQuote(parsed tiers.ParseResult, req QuoteRequest) QuoteResponse {
	resp := QuoteResponse{Status: parsed.Status.String(), Quantity: req.Quantity, Bands: []QuoteBand{}}
	if !parsed.OK() {
		return resp
	}
	table := parsed.Table
	record := table.Record()
	resp.Tiers = &record
	resp.Eligible = pricing.Eligible(table, req.Quantity)

	cmp := pricing.Compare(table, req.Quantity)
	resp.UnitPrice = cmp.FlatUnitPrice
	resp.TargetLineTotal = cmp.FlatTotal
	resp.GraduatedTotal = cmp.Graduated.Total
	resp.Difference = cmp.Difference
	for _, b := range cmp.Graduated.Bands {
		resp.Bands = append(resp.Bands, QuoteBand{
			Min:       b.Min,
			FromUnit:  b.FromUnit,
			ToUnit:    b.ToUnit,
			Base:      b.Base,
			Units:     b.Units,
			UnitPrice: b.UnitPrice,
			Subtotal:  b.Subtotal,
		})
	}

	decision, ok := pricing.Evaluate(table, pricing.Quote{
		Quantity:          req.Quantity,
		ExternalUnitPrice: req.ExternalUnitPrice,
		ExternalLineTotal: req.ExternalLineTotal,
	})
	if ok {
		resp.Discount = &QuoteDiscount{
			UnitPrice:          decision.UnitPrice,
			DiscountAmount:     decision.DiscountAmount,
			DiscountPercentage: decision.DiscountPercentage,
			Message:            decision.Message,
		}
	}
	return resp
}

func (h *Handler) lookup(r *http.Request, req QuoteRequest) (tiers.ParseResult, error) {
	if len(req.Record) > 0 && string(req.Record) != "null" {
		return tiers.Decode(req.Record), nil
	}
	variantID := strings.TrimSpace(req.VariantID)
	if variantID == "" {
		return tiers.ParseResult{}, common.NewAppError("VALIDATION_FAILED", "record or variantId is required", http.StatusUnprocessableEntity, nil)
	}
	if h.Source == nil {
		return tiers.ParseResult{}, common.NewAppError("NOT_FOUND", "no tier source configured", http.StatusNotFound, nil)
	}
	raw, ok, err := h.Source.TierRecord(r.Context(), variantID)
	if err != nil {
		return tiers.ParseResult{}, common.NewAppError("SOURCE_UNAVAILABLE", "tier record lookup failed", http.StatusBadGateway, err)
	}
	if !ok {
		return tiers.ParseResult{}, common.NewAppError("NOT_FOUND", "variant has no tier record", http.StatusNotFound, nil)
	}
	return tiers.ParseString(raw), nil
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	limit := h.MaxBody
	if limit <= 0 {
		limit = defaultMaxBody
	}
	body := http.MaxBytesReader(w, r.Body, limit)
	defer body.Close()
	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		return err
	}
	return nil
}

func validationDetails(err error) map[string]string {
	details := map[string]string{}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		details["request"] = err.Error()
		return details
	}
	for _, fe := range verrs {
		details[lowerFirst(fe.Field())] = fe.Tag()
	}
	return details
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
