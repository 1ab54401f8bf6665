package cli

import (
	"fmt"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/lodgeledger/lodgeledger/jobs"
)

func newJobsCommand(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Trigger and inspect background jobs",
	}
	cmd.AddCommand(newJobsTriggerCommand(st), newJobsStatsCommand(st))
	return cmd
}

func newJobsTriggerCommand(st *state) *cobra.Command {
	var (
		hotel  string
		repair bool
	)
	cmd := &cobra.Command{
		Use:       "trigger <task>",
		Short:     "Enqueue a job now",
		Long:      "Enqueue one of: " + strings.Join(jobs.Types, ", "),
		Args:      cobra.ExactArgs(1),
		ValidArgs: jobs.Types,
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := jobs.NewTask(args[0], hotel, repair)
			if err != nil {
				return err
			}
			if err := st.requireRedis(); err != nil {
				return err
			}
			client := jobs.NewClient(asynq.RedisClientOpt{Addr: st.cfg.RedisAddr})
			defer client.Close()
			info, err := client.Enqueue(cmd.Context(), task)
			if err != nil {
				return err
			}
			fmt.Fprintf(st.out, "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
			return nil
		},
	}
	cmd.Flags().StringVar(&hotel, "hotel", "all", "Hotel id or all")
	cmd.Flags().BoolVar(&repair, "repair", false, "Repair drift (ledger:reconcile only)")
	return cmd
}

func newJobsStatsCommand(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show queue statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := st.requireRedis(); err != nil {
				return err
			}
			inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: st.cfg.RedisAddr})
			defer inspector.Close()
			info, err := inspector.GetQueueInfo(jobs.QueueDefault)
			if err != nil {
				return err
			}
			stats := jobs.HealthOf(info)
			if st.jsonOut {
				return st.printJSON(stats)
			}
			fmt.Fprintf(st.out, "queue=%s paused=%t pending=%d active=%d scheduled=%d retry=%d failed=%d archived=%d\n",
				stats.Queue, stats.Paused, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Failed, stats.Archived)
			return nil
		},
	}
}
