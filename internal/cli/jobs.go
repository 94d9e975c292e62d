package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"retouch/internal/domain"
)

func newJobsCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and steer edit jobs",
	}

	var status string
	var limit int
	list := &cobra.Command{
		Use:          "list",
		Short:        "List recent jobs",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withEnv(cmd, func(ctx context.Context, env *Env) error {
				jobs, err := env.Operator.ListJobs(ctx, domain.JobFilter{Status: domain.JobStatus(status), Limit: limit})
				if err != nil {
					return err
				}
				return opts.emit(cmd, jobs, func(w io.Writer) {
					row(w, "ID", "TOOL", "STATUS", "CREDITS", "ERROR", "CREATED")
					for _, j := range jobs {
						row(w, j.ID, j.ToolID, j.Status, j.CreditsCharged, j.ErrorCode, j.CreatedAt.Format("2006-01-02 15:04:05"))
					}
				})
			})
		},
	}
	list.Flags().StringVar(&status, "status", "", "filter by status")
	list.Flags().IntVar(&limit, "limit", 50, "maximum rows")

	stats := &cobra.Command{
		Use:          "stats",
		Short:        "Show job counts per status",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withEnv(cmd, func(ctx context.Context, env *Env) error {
				st, err := env.Operator.JobStats(ctx)
				if err != nil {
					return err
				}
				return opts.emit(cmd, st, func(w io.Writer) {
					row(w, "STATUS", "COUNT", "AVG_MS")
					for _, s := range st {
						row(w, s.Status, s.Count, fmt.Sprintf("%.0f", s.AvgProcessingTimeMs))
					}
				})
			})
		},
	}

	cmd.AddCommand(list, stats,
		jobAction(opts, "retry", "Put a failed or stuck job back in the queue"),
		jobAction(opts, "cancel", "Cancel a job and refund its credits"),
	)
	return cmd
}

func jobAction(opts *RootOptions, verb, short string) *cobra.Command {
	return &cobra.Command{
		Use:          verb + " <job-id>",
		Short:        short,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withEnv(cmd, func(ctx context.Context, env *Env) error {
				var (
					job *domain.Job
					err error
				)
				if verb == "retry" {
					job, err = env.Operator.RetryJob(ctx, cliActor, args[0])
				} else {
					job, err = env.Operator.CancelJob(ctx, cliActor, args[0])
				}
				if err != nil {
					return fmt.Errorf("%s %s: %w", verb, args[0], err)
				}
				return opts.emit(cmd, job, func(w io.Writer) {
					fmt.Fprintf(w, "job %s is now %s\n", job.ID, job.Status)
				})
			})
		},
	}
}
