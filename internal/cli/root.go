// Package cli implements retouchctl, the operator command line.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"retouch/internal/bootstrap"
	"retouch/internal/domain"
	"retouch/internal/infra"
	"retouch/internal/providers"
	"retouch/internal/service"
)

// Operator is the admin surface the commands drive. *service.AdminService
// satisfies it.
type Operator interface {
	ListProviders(ctx context.Context, tool domain.ToolID) ([]domain.ProviderConfig, error)
	CreateProvider(ctx context.Context, actor service.Actor, cfg *domain.ProviderConfig) error
	UpdateProvider(ctx context.Context, actor service.Actor, cfg *domain.ProviderConfig) error
	CheckProvider(ctx context.Context, id string) ([]providers.HealthReport, error)
	ListJobs(ctx context.Context, f domain.JobFilter) ([]domain.Job, error)
	JobStats(ctx context.Context) ([]domain.JobStat, error)
	CancelJob(ctx context.Context, actor service.Actor, id string) (*domain.Job, error)
	RetryJob(ctx context.Context, actor service.Actor, id string) (*domain.Job, error)
	GrantCredits(ctx context.Context, actor service.Actor, userID string, amount int, typ domain.TransactionType, description string) (int, error)
	SetPlan(ctx context.Context, actor service.Actor, userID string, plan domain.Plan) error
}

// TokenStore persists provider secrets. *credentials.Store satisfies it.
type TokenStore interface {
	SetToken(ctx context.Context, name, token string) error
}

// Env is what a database-backed command runs against.
type Env struct {
	Operator Operator
	Tokens   TokenStore
	Close    func()
}

// Opener builds an Env from the loaded configuration.
type Opener func(ctx context.Context, cfg *infra.Config, logger zerolog.Logger) (*Env, error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	EnvFile string
	Format  string
	open    Opener
}

var cliActor = service.Actor{Name: "cli"}

// NewRootCommand creates retouchctl backed by the real database.
func NewRootCommand() *cobra.Command {
	return NewRootCommandWith(openContainer)
}

// NewRootCommandWith lets tests replace the database-backed environment.
func NewRootCommandWith(open Opener) *cobra.Command {
	opts := &RootOptions{open: open}
	cmd := &cobra.Command{
		Use:           "retouchctl",
		Short:         "Operate the retouch image edit service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.Format != "text" && opts.Format != "json" {
				return fmt.Errorf("invalid format %q: must be text or json", opts.Format)
			}
			if opts.EnvFile != "" {
				if err := godotenv.Load(opts.EnvFile); err != nil && !os.IsNotExist(err) {
					return fmt.Errorf("load %s: %w", opts.EnvFile, err)
				}
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file to load before reading configuration")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(
		newMigrateCommand(),
		newProvidersCommand(opts),
		newJobsCommand(opts),
		newCreditsCommand(opts),
		newUsersCommand(opts),
		newTokenCommand(opts),
		newAdminTokenCommand(),
	)
	return cmd
}

// withEnv loads configuration, opens the environment and runs fn.
func (o *RootOptions) withEnv(cmd *cobra.Command, fn func(ctx context.Context, env *Env) error) error {
	cfg, err := infra.LoadConfig()
	if err != nil {
		return err
	}
	logger := zerolog.New(cmd.ErrOrStderr()).Level(zerolog.WarnLevel).With().Timestamp().Str("cmd", cmd.CommandPath()).Logger()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	env, err := o.open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if env.Close != nil {
		defer env.Close()
	}
	return fn(ctx, env)
}

func openContainer(ctx context.Context, cfg *infra.Config, logger zerolog.Logger) (*Env, error) {
	c, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	admin, err := c.AdminService(nil)
	if err != nil {
		c.Close()
		return nil, err
	}
	return &Env{Operator: admin, Tokens: c.Credentials, Close: c.Close}, nil
}
