package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/lodgeledger/lodgeledger/internal/accounting/reconcile"
	"github.com/lodgeledger/lodgeledger/internal/shared"
)

func newSeedAccountsCommand(st *state) *cobra.Command {
	var hotel string
	cmd := &cobra.Command{
		Use:   "seed-accounts",
		Short: "Create the canonical chart of accounts for a hotel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := st.requireDatabase(); err != nil {
				return err
			}
			hotelID, err := parseHotel(hotel)
			if err != nil {
				return err
			}
			c, err := st.container(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			created, err := c.Accounts.Seed(cmd.Context(), shared.SystemUser(hotelID), hotelID)
			if err != nil {
				return err
			}
			if st.jsonOut {
				return st.printJSON(created)
			}
			fmt.Fprintf(st.out, "created %d accounts for hotel %s\n", len(created), hotelID)
			return nil
		},
	}
	cmd.Flags().StringVar(&hotel, "hotel", "", "Hotel id")
	_ = cmd.MarkFlagRequired("hotel")
	return cmd
}

func newReconcileCommand(st *state) *cobra.Command {
	var (
		hotel  string
		repair bool
	)
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Compare cached account balances with the ledger",
		Long: `Recomputes every account balance from ledger records and reports
accounts whose cached balance drifted. With --repair the cached balance is
rewritten from the ledger.`,
		Example: `  lodgectl reconcile --hotel 6f0c...
  lodgectl reconcile --repair`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := st.requireDatabase(); err != nil {
				return err
			}
			c, err := st.container(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			var reportsOut []reconcile.Report
			if hotel == "" {
				reportsOut, err = c.Reconcile.RunAll(cmd.Context(), repair)
			} else {
				var hotelID uuid.UUID
				if hotelID, err = parseHotel(hotel); err != nil {
					return err
				}
				var rep reconcile.Report
				rep, err = c.Reconcile.Run(cmd.Context(), hotelID, repair)
				reportsOut = []reconcile.Report{rep}
			}
			if err != nil {
				return err
			}
			if st.jsonOut {
				return st.printJSON(reportsOut)
			}
			return writeReconcileTable(st, reportsOut)
		},
	}
	cmd.Flags().StringVar(&hotel, "hotel", "", "Hotel id (default: every hotel)")
	cmd.Flags().BoolVar(&repair, "repair", false, "Rewrite drifted cached balances")
	return cmd
}

func writeReconcileTable(st *state, reps []reconcile.Report) error {
	tw := tabwriter.NewWriter(st.out, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "HOTEL\tACCOUNTS\tDRIFTS\tREPAIRED\tBALANCED")
	for _, r := range reps {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%t\n", r.HotelID, r.Accounts, len(r.Drifts), r.Repaired, r.Balanced)
		for _, d := range r.Drifts {
			fmt.Fprintf(tw, "  %s %s\t\tcached %s\tledger %s\t\n", d.Code, d.Name, d.Cached, d.Ledger)
		}
	}
	return tw.Flush()
}

func newTrialBalanceCommand(st *state) *cobra.Command {
	var hotel, asOf string
	cmd := &cobra.Command{
		Use:   "trial-balance",
		Short: "Print a hotel's trial balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := st.requireDatabase(); err != nil {
				return err
			}
			hotelID, err := parseHotel(hotel)
			if err != nil {
				return err
			}
			var date time.Time
			if asOf != "" {
				if date, err = time.Parse("2006-01-02", asOf); err != nil {
					return fmt.Errorf("invalid --as-of %q", asOf)
				}
			}
			c, err := st.container(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			tb, err := c.Reports.TrialBalance(cmd.Context(), hotelID, date)
			if err != nil {
				return err
			}
			if st.jsonOut {
				return st.printJSON(tb)
			}
			tw := tabwriter.NewWriter(st.out, 0, 2, 2, ' ', 0)
			fmt.Fprintln(tw, "CODE\tNAME\tDEBIT\tCREDIT")
			for _, g := range tb.Groups {
				for _, a := range g.Accounts {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", a.Code, a.Name, a.DebitBalance.Canonical(), a.CreditBalance.Canonical())
				}
			}
			fmt.Fprintf(tw, "\tTOTAL\t%s\t%s\n", tb.TotalDebit.Canonical(), tb.TotalCredit.Canonical())
			if err := tw.Flush(); err != nil {
				return err
			}
			if !tb.Balanced {
				return fmt.Errorf("trial balance out of balance by %s", tb.Difference())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&hotel, "hotel", "", "Hotel id")
	cmd.Flags().StringVar(&asOf, "as-of", "", "Balance date YYYY-MM-DD (default: today)")
	_ = cmd.MarkFlagRequired("hotel")
	return cmd
}
