package tiers

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// Status tags the outcome of parsing a tier record.
type Status int

const (
	// StatusOK means the record decoded into a usable table.
	StatusOK Status = iota
	// StatusMissing means no record was attached to the variant.
	StatusMissing
	// StatusMalformed means the record was not valid JSON.
	StatusMalformed
	// StatusInvalid means the JSON did not match the record schema.
	StatusInvalid
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusMissing:
		return "missing"
	case StatusMalformed:
		return "malformed"
	case StatusInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// ParseResult is the tagged outcome of Parse. Only StatusOK carries a table.
type ParseResult struct {
	Table   Table
	Status  Status
	Dropped int
}

// OK reports whether the record produced a table.
func (r ParseResult) OK() bool {
	return r.Status == StatusOK
}

// Record is the persisted metadata shape attached to a product variant.
type Record struct {
	Fixed  string  `json:"fixed"`
	Breaks []Break `json:"breaks"`
}

// Break is one persisted quantity break.
type Break struct {
	Min   int    `json:"min"`
	Price string `json:"price"`
}

// envelope accepts both string and numeric scalars before normalization.
type envelope struct {
	Fixed  json.RawMessage   `json:"fixed" validate:"required"`
	Breaks []json.RawMessage `json:"breaks" validate:"required"`
}

type rawBreak struct {
	Min   json.RawMessage `json:"min"`
	Price json.RawMessage `json:"price"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func schema() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Parse decodes a serialized tier record. It never fails loudly: a missing, malformed
// or schema-violating record yields a non-OK status and callers treat the variant as a
// plain fixed-price item. Break entries with an unusable min or price are dropped.
func Parse(raw []byte) ParseResult {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ParseResult{Status: StatusMissing}
	}
	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return ParseResult{Status: StatusMalformed}
	}
	if err := schema().Struct(env); err != nil {
		return ParseResult{Status: StatusInvalid}
	}
	base, ok := parseAmount(env.Fixed)
	if !ok {
		return ParseResult{Status: StatusInvalid}
	}

	tiers := make([]Tier, 0, len(env.Breaks))
	dropped := 0
	for _, msg := range env.Breaks {
		var b rawBreak
		if err := json.Unmarshal(msg, &b); err != nil {
			dropped++
			continue
		}
		qty, okMin := parseMin(b.Min)
		price, okPrice := parseAmount(b.Price)
		if !okMin || !okPrice {
			dropped++
			continue
		}
		tiers = append(tiers, Tier{Min: qty, Price: price})
	}
	return ParseResult{Table: New(base, tiers...), Status: StatusOK, Dropped: dropped}
}

// ParseString is Parse for metadata delivered as text.
func ParseString(raw string) ParseResult {
	return Parse([]byte(raw))
}

// Resolve returns the table for raw, or false when no tiering applies.
func Resolve(raw string) (Table, bool) {
	res := ParseString(raw)
	return res.Table, res.OK()
}

// Decode applies the Parse contract to a metadata value the host already decoded,
// such as a JSON object embedded in the function input.
func Decode(v any) ParseResult {
	switch val := v.(type) {
	case nil:
		return ParseResult{Status: StatusMissing}
	case string:
		return ParseString(val)
	case []byte:
		return Parse(val)
	case json.RawMessage:
		// A JSON string wrapping the record is unwrapped first.
		var s string
		if err := json.Unmarshal(val, &s); err == nil {
			return ParseString(s)
		}
		return Parse(val)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ParseResult{Status: StatusMalformed}
	}
	return Parse(data)
}

// Record converts the table back to its persisted shape.
func (t Table) Record() Record {
	breaks := make([]Break, 0, len(t.Tiers))
	for _, tier := range t.Tiers {
		breaks = append(breaks, Break{Min: tier.Min, Price: tier.Price.String()})
	}
	return Record{Fixed: t.Base.String(), Breaks: breaks}
}

// Marshal serializes the table as a tier record.
func Marshal(t Table) ([]byte, error) {
	return json.Marshal(t.Record())
}

// parseAmount accepts a JSON string or number holding a non-negative decimal.
func parseAmount(raw json.RawMessage) (decimal.Decimal, bool) {
	text, ok := scalarText(raw)
	if !ok {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(text)
	if err != nil || d.IsNegative() {
		return decimal.Zero, false
	}
	return d, true
}

// parseMin accepts a positive whole quantity given as a JSON number or numeric string.
func parseMin(raw json.RawMessage) (int, bool) {
	text, ok := scalarText(raw)
	if !ok {
		return 0, false
	}
	d, err := decimal.NewFromString(text)
	if err != nil || !d.IsPositive() || !d.Equal(d.Truncate(0)) {
		return 0, false
	}
	if d.GreaterThan(decimal.NewFromInt(math.MaxInt32)) {
		return 0, false
	}
	return int(d.IntPart()), true
}

func scalarText(raw json.RawMessage) (string, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", false
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", false
		}
		s = strings.TrimSpace(s)
		return s, s != ""
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return "", false
	}
	return n.String(), true
}
