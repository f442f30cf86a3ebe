package discount

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/qtybreak/internal/obs"
	"github.com/noah-isme/qtybreak/internal/pricing"
	"github.com/noah-isme/qtybreak/internal/tiers"
)

// Evaluation outcomes reported in logs and metrics.
const (
	ResultApplied     = "applied"
	ResultNoDiscount  = "no_discount"
	ResultIneligible  = "ineligible"
	ResultNoTiers     = "no_tiers"
	ResultSourceError = "source_error"
)

// TierSource looks up the tier record for a variant when the line does not embed one.
type TierSource interface {
	TierRecord(ctx context.Context, variantID string) (string, bool, error)
}

// Evaluator turns a cart into discount instructions. It holds configuration only;
// every run is independent.
type Evaluator struct {
	Source            TierSource
	Logger            zerolog.Logger
	CombineQuantities bool
	Concurrency       int
	Mode              ValueMode
	Now               func() time.Time
}

// LineOutcome is the per-line trace of a run, useful for diagnostics.
type LineOutcome struct {
	LineID     string
	Result     string
	Status     tiers.Status
	Decision   *pricing.Decision
	Comparison *pricing.Comparison
}

type lineState struct {
	line    CartLine
	parsed  tiers.ParseResult
	srcErr  error
	tierQty int
}

// Run evaluates every cart line and returns the platform instruction. Lines without
// a discount are omitted. It only fails when ctx is cancelled.
func (e *Evaluator) Run(ctx context.Context, in Input) (Output, error) {
	out, _, err := e.RunDetailed(ctx, in)
	return out, err
}

// RunDetailed is Run plus the per-line outcomes in input order.
func (e *Evaluator) RunDetailed(ctx context.Context, in Input) (Output, []LineOutcome, error) {
	now := e.now()
	start := now()
	ctx, span := obs.StartSpan(ctx, "discount.run")
	defer span.End()
	span.SetAttributes(attribute.Int("discount.lines", len(in.Cart.Lines)))

	log := e.Logger.With().Str("evaluation_id", obs.EvaluationIDFromContext(ctx)).Logger()

	states, err := e.resolve(ctx, in.Cart.Lines)
	if err != nil {
		span.RecordError(err)
		return Empty(), nil, err
	}
	if e.CombineQuantities {
		combine(states)
	}

	out := Empty()
	outcomes := make([]LineOutcome, 0, len(states))
	for _, st := range states {
		oc := e.evaluateLine(log, st)
		outcomes = append(outcomes, oc)
		obs.ObserveEvaluation(oc.Result)
		if oc.Decision == nil {
			continue
		}
		amount, _ := oc.Decision.DiscountAmount.Float64()
		obs.ObserveDiscountAmount(amount)
		out.Discounts = append(out.Discounts, e.instruction(st.line.ID, *oc.Decision))
	}

	span.SetAttributes(attribute.Int("discount.applied", len(out.Discounts)))
	obs.ObserveRunLatency(obs.DurationMillis(now().Sub(start)))
	return out, outcomes, nil
}

// resolve loads and parses each line's tier record concurrently. Lookups are
// independent, so results are written by index and need no locking.
func (e *Evaluator) resolve(ctx context.Context, lines []CartLine) ([]lineState, error) {
	states := make([]lineState, len(lines))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency())
	for i := range lines {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			st := lineState{line: lines[i], tierQty: lines[i].Quantity}
			st.parsed, st.srcErr = e.tableFor(gctx, lines[i])
			states[i] = st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return states, nil
}

func (e *Evaluator) tableFor(ctx context.Context, line CartLine) (tiers.ParseResult, error) {
	if mf := line.Merchandise.TierMetafield; mf != nil && len(mf.Value) > 0 {
		if res := tiers.Decode(mf.Value); res.Status != tiers.StatusMissing {
			return res, nil
		}
	}
	if e.Source == nil || strings.TrimSpace(line.Merchandise.VariantID) == "" {
		return tiers.ParseResult{Status: tiers.StatusMissing}, nil
	}
	raw, ok, err := e.Source.TierRecord(ctx, line.Merchandise.VariantID)
	if err != nil {
		return tiers.ParseResult{Status: tiers.StatusMissing}, err
	}
	if !ok {
		return tiers.ParseResult{Status: tiers.StatusMissing}, nil
	}
	return tiers.ParseString(raw), nil
}

// combine sums quantities of lines that share a product and an identical tier table,
// so the group total selects the tier for each of its lines.
func combine(states []lineState) {
	totals := make(map[string]int)
	keys := make([]string, len(states))
	for i, st := range states {
		if !st.parsed.OK() || st.line.Quantity <= 0 || st.line.Merchandise.ProductID == "" {
			continue
		}
		keys[i] = st.line.Merchandise.ProductID + "#" + st.parsed.Table.Fingerprint()
		totals[keys[i]] += st.line.Quantity
	}
	for i := range states {
		if keys[i] != "" {
			states[i].tierQty = totals[keys[i]]
		}
	}
}

func (e *Evaluator) evaluateLine(log zerolog.Logger, st lineState) LineOutcome {
	oc := LineOutcome{LineID: st.line.ID, Status: st.parsed.Status}
	lineLog := log.With().
		Str("line_id", st.line.ID).
		Str("variant_id", st.line.Merchandise.VariantID).
		Int("quantity", st.line.Quantity).
		Logger()

	if st.srcErr != nil {
		lineLog.Warn().Err(st.srcErr).Msg("tier record lookup failed")
		oc.Result = ResultSourceError
		return oc
	}
	obs.ObserveTierRecord(st.parsed.Status.String())
	if !st.parsed.OK() {
		if st.parsed.Status != tiers.StatusMissing {
			lineLog.Warn().Str("status", st.parsed.Status.String()).Msg("tier record unusable")
		}
		oc.Result = ResultNoTiers
		return oc
	}
	table := st.parsed.Table
	if dups := table.Duplicates(); len(dups) > 0 {
		lineLog.Warn().Ints("duplicate_mins", dups).Msg("tier record has duplicate thresholds")
	}
	if st.parsed.Dropped > 0 {
		lineLog.Debug().Int("dropped", st.parsed.Dropped).Msg("tier record entries dropped")
	}
	if !pricing.Eligible(table, st.line.Quantity) {
		oc.Result = ResultIneligible
		return oc
	}

	cmp := pricing.Compare(table, st.tierQty)
	oc.Comparison = &cmp
	lineLog.Debug().
		Int("tier_quantity", st.tierQty).
		Str("flat_unit_price", cmp.FlatUnitPrice.String()).
		Str("flat_total", cmp.FlatTotal.String()).
		Str("graduated_total", cmp.Graduated.Total.String()).
		Str("difference", cmp.Difference.String()).
		Msg("tier pricing comparison")

	decision, ok := pricing.Evaluate(table, pricing.Quote{
		Quantity:          st.line.Quantity,
		ExternalUnitPrice: st.line.Cost.AmountPerQuantity.Amount,
		ExternalLineTotal: st.line.Cost.TotalAmount.Amount,
		TierQuantity:      st.tierQty,
	})
	if !ok {
		oc.Result = ResultNoDiscount
		return oc
	}
	oc.Result = ResultApplied
	oc.Decision = &decision
	lineLog.Info().
		Str("unit_price", decision.UnitPrice.String()).
		Str("discount_amount", decision.DiscountAmount.String()).
		Str("discount_percentage", decision.DiscountPercentage.String()).
		Msg("quantity break applied")
	return oc
}

func (e *Evaluator) instruction(lineID string, d pricing.Decision) Discount {
	value := Value{FixedAmount: &FixedAmount{Amount: d.DiscountAmount}}
	if e.Mode == ValuePercentage && d.DiscountPercentage.IsPositive() {
		value = Value{Percentage: &Percentage{Value: d.DiscountPercentage}}
	}
	return Discount{
		Targets: []Target{{CartLine: CartLineTarget{ID: lineID}}},
		Value:   value,
		Message: d.Message,
	}
}

func (e *Evaluator) concurrency() int {
	if e.Concurrency < 1 {
		return 1
	}
	return e.Concurrency
}

func (e *Evaluator) now() func() time.Time {
	if e.Now != nil {
		return e.Now
	}
	return time.Now
}

// TotalDiscount sums the fixed amounts of an output.
func TotalDiscount(out Output) decimal.Decimal {
	total := decimal.Zero
	for _, d := range out.Discounts {
		if d.Value.FixedAmount != nil {
			total = total.Add(d.Value.FixedAmount.Amount)
		}
	}
	return total
}
