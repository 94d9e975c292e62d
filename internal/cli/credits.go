package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"retouch/internal/domain"
)

func newCreditsCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credits",
		Short: "Adjust user credit balances",
	}

	var typ, desc string
	grant := &cobra.Command{
		Use:          "grant <user-id> <amount>",
		Short:        "Add credits to a user's balance",
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.Atoi(args[1])
			if err != nil || amount <= 0 {
				return fmt.Errorf("amount must be a positive integer, got %q", args[1])
			}
			return opts.withEnv(cmd, func(ctx context.Context, env *Env) error {
				balance, err := env.Operator.GrantCredits(ctx, cliActor, args[0], amount, domain.TransactionType(typ), desc)
				if err != nil {
					return err
				}
				return opts.emit(cmd, map[string]any{"userId": args[0], "credits": balance}, func(w io.Writer) {
					fmt.Fprintf(w, "user %s now has %d credits\n", args[0], balance)
				})
			})
		},
	}
	grant.Flags().StringVar(&typ, "type", string(domain.TransactionPurchase), "ledger entry type (purchase|bonus)")
	grant.Flags().StringVar(&desc, "description", "granted by operator", "ledger description")

	cmd.AddCommand(grant)
	return cmd
}
