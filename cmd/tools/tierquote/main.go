package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/qtybreak/internal/discount"
	"github.com/noah-isme/qtybreak/internal/obs"
	"github.com/noah-isme/qtybreak/internal/tiers"
)

type options struct {
	Record   string
	File     string
	Quantity int
	External string
	JSON     bool
}

// tierquote prices a tier record for one quantity and prints the flat price,
// the graduated breakdown and the discount the evaluator would emit.
func main() {
	var opts options
	flag.StringVar(&opts.Record, "record", "", "inline tier record JSON")
	flag.StringVar(&opts.File, "file", "", "file holding a tier record (- for stdin)")
	flag.IntVar(&opts.Quantity, "qty", 1, "line quantity")
	flag.StringVar(&opts.External, "external", "0", "line total already charged by the platform")
	flag.BoolVar(&opts.JSON, "json", false, "print the quote as JSON")
	flag.Parse()

	logger := obs.NewLogger("console", "warn")
	if err := run(opts, os.Stdin, os.Stdout); err != nil {
		logger.Error().Err(err).Msg("tierquote failed")
		os.Exit(2)
	}
}

func run(opts options, stdin io.Reader, out io.Writer) error {
	raw, err := readRecord(opts, stdin)
	if err != nil {
		return err
	}
	if opts.Quantity <= 0 {
		return errors.New("-qty must be positive")
	}
	external, err := decimal.NewFromString(strings.TrimSpace(opts.External))
	if err != nil {
		return fmt.Errorf("-external: %w", err)
	}

	quote := discount.BuildQuote(tiers.ParseString(raw), discount.QuoteRequest{
		Quantity:          opts.Quantity,
		ExternalLineTotal: external,
	})
	if opts.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(quote)
	}
	return printQuote(out, quote)
}

func readRecord(opts options, stdin io.Reader) (string, error) {
	switch {
	case strings.TrimSpace(opts.Record) != "":
		return opts.Record, nil
	case opts.File == "-":
		data, err := io.ReadAll(stdin)
		return string(data), err
	case opts.File != "":
		data, err := os.ReadFile(opts.File)
		return string(data), err
	default:
		return "", errors.New("one of -record or -file is required")
	}
}

func printQuote(out io.Writer, q discount.QuoteResponse) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "status\t%s\n", q.Status)
	if q.Tiers == nil {
		return tw.Flush()
	}
	fmt.Fprintf(tw, "quantity\t%d\n", q.Quantity)
	fmt.Fprintf(tw, "flat unit price\t%s\n", q.UnitPrice.StringFixed(2))
	fmt.Fprintf(tw, "flat total\t%s\n", q.TargetLineTotal.StringFixed(2))
	fmt.Fprintf(tw, "graduated total\t%s\n", q.GraduatedTotal.StringFixed(2))
	fmt.Fprintf(tw, "flat - graduated\t%s\n", q.Difference.StringFixed(2))
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "band\tunits\tunit price\tsubtotal")
	for _, b := range q.Bands {
		label := fmt.Sprintf("%d+", b.Min)
		if b.Base {
			label = "base"
		}
		fmt.Fprintf(tw, "%s\t%d-%d\t%s\t%s\n", label, b.FromUnit, b.ToUnit, b.UnitPrice.StringFixed(2), b.Subtotal.StringFixed(2))
	}
	fmt.Fprintln(tw)
	if q.Discount == nil {
		fmt.Fprintln(tw, "discount\tnone")
	} else {
		fmt.Fprintf(tw, "discount\t%s (%s%%)\n", q.Discount.DiscountAmount.StringFixed(2), q.Discount.DiscountPercentage.String())
		fmt.Fprintf(tw, "message\t%s\n", q.Discount.Message)
	}
	return tw.Flush()
}
