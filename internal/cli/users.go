package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"retouch/internal/domain"
)

func newUsersCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage user accounts",
	}
	cmd.AddCommand(&cobra.Command{
		Use:          "plan <user-id> <free|pro|business>",
		Short:        "Assign a subscription plan",
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.ToLower(strings.TrimSpace(args[1]))
			plan := domain.ParsePlan(name)
			if string(plan) != name {
				return fmt.Errorf("unsupported plan %q", args[1])
			}
			return opts.withEnv(cmd, func(ctx context.Context, env *Env) error {
				if err := env.Operator.SetPlan(ctx, cliActor, args[0], plan); err != nil {
					return err
				}
				return opts.emit(cmd, map[string]any{"userId": args[0], "plan": plan}, func(w io.Writer) {
					fmt.Fprintf(w, "user %s is now on the %s plan\n", args[0], plan)
				})
			})
		},
	})
	return cmd
}
