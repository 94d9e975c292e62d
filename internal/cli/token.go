package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"retouch/internal/middleware"
)

func newTokenCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Store provider secrets referenced as token:<name>",
	}

	var value, fromEnv string
	set := &cobra.Command{
		Use:          "set <name>",
		Short:        "Store a secret under name",
		Long:         "Store a secret under name. The value comes from --value, --from-env or the first line of stdin.",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := secretValue(cmd.InOrStdin(), value, fromEnv)
			if err != nil {
				return err
			}
			return opts.withEnv(cmd, func(ctx context.Context, env *Env) error {
				if err := env.Tokens.SetToken(ctx, args[0], secret); err != nil {
					return fmt.Errorf("store token %s: %w", args[0], err)
				}
				return opts.emit(cmd, map[string]string{"name": args[0]}, func(w io.Writer) {
					fmt.Fprintf(w, "stored token %s (reference it as token:%s)\n", args[0], args[0])
				})
			})
		},
	}
	set.Flags().StringVar(&value, "value", "", "secret value")
	set.Flags().StringVar(&fromEnv, "from-env", "", "read the secret from this environment variable")

	cmd.AddCommand(set)
	return cmd
}

func secretValue(stdin io.Reader, value, fromEnv string) (string, error) {
	switch {
	case strings.TrimSpace(value) != "":
		return strings.TrimSpace(value), nil
	case fromEnv != "":
		v := strings.TrimSpace(os.Getenv(fromEnv))
		if v == "" {
			return "", fmt.Errorf("%s is empty", fromEnv)
		}
		return v, nil
	}
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	if line = strings.TrimSpace(line); line == "" {
		return "", fmt.Errorf("secret is required via --value, --from-env or stdin")
	}
	return line, nil
}

func newAdminTokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin-token",
		Short: "Helpers for the operator API token",
	}
	cmd.AddCommand(&cobra.Command{
		Use:          "hash <token>",
		Short:        "Print the bcrypt hash to put in ADMIN_TOKEN_HASH",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := middleware.HashAdminToken(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	})
	return cmd
}
