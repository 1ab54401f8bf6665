// Package cli implements lodgectl, the operations CLI for ledger
// maintenance, seeding and job triggers.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/lodgeledger/lodgeledger/internal/app"
)

var version = "dev"

// state is shared by every subcommand of one invocation.
type state struct {
	cfg     *app.Config
	logger  *slog.Logger
	out     io.Writer
	jsonOut bool
	load    func() (*app.Config, error)
}

// Execute runs lodgectl with args and returns the process exit code.
func Execute(args []string, stdout, stderr io.Writer) int {
	root := NewRootCommand(stdout, stderr)
	root.SetArgs(args)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "lodgectl: %v\n", err)
		return 1
	}
	return 0
}

// NewRootCommand builds the command tree over the environment config.
func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	return newRoot(stdout, stderr, app.LoadConfig)
}

func newRoot(stdout, stderr io.Writer, load func() (*app.Config, error)) *cobra.Command {
	st := &state{out: stdout, load: load}
	root := &cobra.Command{
		Use:           "lodgectl",
		Short:         "Operations CLI for the lodgeledger accounting core",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := st.load()
			if err != nil {
				return err
			}
			st.cfg = cfg
			st.logger = app.NewLogger(cfg)
			return nil
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().BoolVar(&st.jsonOut, "json", false, "Print results as JSON")

	root.AddCommand(
		newMigrateCommand(st),
		newSeedAccountsCommand(st),
		newReconcileCommand(st),
		newTrialBalanceCommand(st),
		newFXCommand(st),
		newJobsCommand(st),
	)
	return root
}

// container wires the services against the configured stores.
func (st *state) container(ctx context.Context) (*app.Container, error) {
	return app.Build(ctx, st.cfg, st.logger, app.Options{})
}

func (st *state) requireDatabase() error {
	if st.cfg == nil || st.cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required for this command")
	}
	return nil
}

func (st *state) requireRedis() error {
	if st.cfg == nil || st.cfg.RedisAddr == "" {
		return errors.New("REDIS_ADDR is required for this command")
	}
	return nil
}

func (st *state) printJSON(v any) error {
	enc := json.NewEncoder(st.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseHotel(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("invalid --hotel %q", raw)
	}
	return id, nil
}
