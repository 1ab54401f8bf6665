package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lodgeledger/lodgeledger/internal/platform/db"
)

func newMigrateCommand(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := st.requireDatabase(); err != nil {
				return err
			}
			pool, err := db.New(cmd.Context(), st.cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()
			applied, err := db.Migrate(cmd.Context(), pool)
			for _, name := range applied {
				fmt.Fprintf(st.out, "applied %s\n", name)
			}
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(st.out, "schema up to date")
			}
			return nil
		},
	}
}
