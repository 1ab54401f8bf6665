package cli

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/lodgeledger/lodgeledger/internal/accounting/fx"
	"github.com/lodgeledger/lodgeledger/internal/money"
)

func newFXCommand(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fx",
		Short: "Manage exchange rates",
	}
	cmd.AddCommand(newFXImportCommand(st))
	return cmd
}

func newFXImportCommand(st *state) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "import <file|->",
		Short: "Import dated exchange rates from CSV",
		Long: `Reads a CSV with the columns pair, date and rate, for example:

  pair,date,rate
  USDINR,2026-04-01,83.10

Rates apply to transactions dated on or after their date.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				data []byte
				err  error
			)
			if args[0] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return err
			}
			rates, err := parseRateCSV(data)
			if err != nil {
				return err
			}
			if dryRun {
				if st.jsonOut {
					return st.printJSON(rates)
				}
				for _, r := range rates {
					fmt.Fprintf(st.out, "%s %s %s\n", fx.Pair(r.From, r.To), r.EffectiveDate.Format("2006-01-02"), r.Rate)
				}
				return nil
			}
			if err := st.requireDatabase(); err != nil {
				return err
			}
			c, err := st.container(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			n, err := c.RatesStore.Upsert(cmd.Context(), rates)
			if err != nil {
				return err
			}
			fmt.Fprintf(st.out, "imported %d rates\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Parse and print without writing")
	return cmd
}

func parseRateCSV(data []byte) ([]fx.Rate, error) {
	reader := csv.NewReader(bytes.NewReader(bytes.TrimSpace(data)))
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("fx import: empty source")
		}
		return nil, err
	}
	idx := map[string]int{"pair": -1, "date": -1, "rate": -1}
	for i, col := range header {
		col = strings.ToLower(strings.TrimSpace(col))
		if _, ok := idx[col]; ok {
			idx[col] = i
		}
	}
	for col, i := range idx {
		if i < 0 {
			return nil, fmt.Errorf("fx import: missing column %q", col)
		}
	}
	var out []fx.Rate
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		pair := strings.ToUpper(strings.TrimSpace(record[idx["pair"]]))
		if len(pair) != 6 {
			return nil, fmt.Errorf("fx import: line %d: pair %q must be two ISO codes", line, pair)
		}
		from, err := money.ParseCurrency(pair[:3])
		if err != nil {
			return nil, fmt.Errorf("fx import: line %d: %w", line, err)
		}
		to, err := money.ParseCurrency(pair[3:])
		if err != nil {
			return nil, fmt.Errorf("fx import: line %d: %w", line, err)
		}
		date, err := time.Parse("2006-01-02", strings.TrimSpace(record[idx["date"]]))
		if err != nil {
			return nil, fmt.Errorf("fx import: line %d: invalid date", line)
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(record[idx["rate"]]))
		if err != nil || !rate.IsPositive() {
			return nil, fmt.Errorf("fx import: line %d: rate must be a positive decimal", line)
		}
		out = append(out, fx.Rate{From: from, To: to, EffectiveDate: date, Rate: rate})
	}
	return out, nil
}
