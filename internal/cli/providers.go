package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"retouch/internal/domain"
	"retouch/internal/pipeline"
)

// seedFile is the YAML layout read by "providers seed".
type seedFile struct {
	Providers []seedProvider `yaml:"providers"`
}

type seedProvider struct {
	Tool           string               `yaml:"tool"`
	Type           string               `yaml:"type"`
	Endpoint       string               `yaml:"endpoint"`
	CredentialRef  string               `yaml:"credentialRef"`
	Model          string               `yaml:"model"`
	Priority       int                  `yaml:"priority"`
	Default        bool                 `yaml:"default"`
	Active         *bool                `yaml:"active"`
	TimeoutSeconds int                  `yaml:"timeoutSeconds"`
	RetryCount     int                  `yaml:"retryCount"`
	PayloadKeys    domain.PayloadKeyMap `yaml:"payloadKeys"`
	Params         map[string]any       `yaml:"params"`
	UseBase64      bool                 `yaml:"useBase64"`
}

func (p seedProvider) config() (*domain.ProviderConfig, error) {
	tool := domain.ToolID(strings.TrimSpace(p.Tool))
	if _, ok := pipeline.Lookup(tool); !ok {
		return nil, fmt.Errorf("unknown tool %q", p.Tool)
	}
	switch p.Type {
	case domain.ProviderTypeRunPod, domain.ProviderTypeReplicate, domain.ProviderTypeLocal:
	default:
		return nil, fmt.Errorf("%s: unknown provider type %q", tool, p.Type)
	}
	active := true
	if p.Active != nil {
		active = *p.Active
	}
	return &domain.ProviderConfig{
		ToolID:        tool,
		ProviderType:  p.Type,
		Endpoint:      p.Endpoint,
		CredentialRef: p.CredentialRef,
		Model:         p.Model,
		Priority:      p.Priority,
		IsDefault:     p.Default,
		IsActive:      active,
		Timeout:       time.Duration(p.TimeoutSeconds) * time.Second,
		RetryCount:    p.RetryCount,
		PayloadKeys:   p.PayloadKeys,
		Params:        p.Params,
		UseBase64:     p.UseBase64,
	}, nil
}

// readSeed parses and validates a provider seed file.
func readSeed(r io.Reader) ([]*domain.ProviderConfig, error) {
	var f seedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	out := make([]*domain.ProviderConfig, 0, len(f.Providers))
	for i, p := range f.Providers {
		cfg, err := p.config()
		if err != nil {
			return nil, fmt.Errorf("providers[%d]: %w", i, err)
		}
		out = append(out, cfg)
	}
	return out, nil
}

func newProvidersCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "Manage provider configurations",
	}
	cmd.AddCommand(newProvidersSeedCommand(opts), newProvidersListCommand(opts), newProvidersHealthCommand(opts))
	return cmd
}

func newProvidersSeedCommand(opts *RootOptions) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:          "seed",
		Short:        "Create or update provider configs from a YAML file",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer f.Close()
			configs, err := readSeed(f)
			if err != nil {
				return err
			}
			return opts.withEnv(cmd, func(ctx context.Context, env *Env) error {
				created, updated, err := seedProviders(ctx, env.Operator, configs)
				if err != nil {
					return err
				}
				return opts.emit(cmd, map[string]int{"created": created, "updated": updated}, func(w io.Writer) {
					fmt.Fprintf(w, "%d created, %d updated\n", created, updated)
				})
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "providers.yaml", "seed file")
	return cmd
}

// seedProviders upserts configs keyed by tool, type and endpoint.
func seedProviders(ctx context.Context, op Operator, configs []*domain.ProviderConfig) (created, updated int, err error) {
	existing := map[domain.ToolID][]domain.ProviderConfig{}
	for _, cfg := range configs {
		list, ok := existing[cfg.ToolID]
		if !ok {
			if list, err = op.ListProviders(ctx, cfg.ToolID); err != nil {
				return created, updated, err
			}
			existing[cfg.ToolID] = list
		}
		id := ""
		for _, e := range list {
			if e.ProviderType == cfg.ProviderType && e.Endpoint == cfg.Endpoint {
				id = e.ID
				break
			}
		}
		if id == "" {
			if err := op.CreateProvider(ctx, cliActor, cfg); err != nil {
				return created, updated, fmt.Errorf("create %s/%s: %w", cfg.ToolID, cfg.ProviderType, err)
			}
			existing[cfg.ToolID] = append(existing[cfg.ToolID], *cfg)
			created++
			continue
		}
		cfg.ID = id
		if err := op.UpdateProvider(ctx, cliActor, cfg); err != nil {
			return created, updated, fmt.Errorf("update %s: %w", id, err)
		}
		updated++
	}
	return created, updated, nil
}

func newProvidersListCommand(opts *RootOptions) *cobra.Command {
	var tool string
	cmd := &cobra.Command{
		Use:          "list",
		Short:        "List provider configurations",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withEnv(cmd, func(ctx context.Context, env *Env) error {
				list, err := env.Operator.ListProviders(ctx, domain.ToolID(tool))
				if err != nil {
					return err
				}
				return opts.emit(cmd, list, func(w io.Writer) {
					row(w, "ID", "TOOL", "TYPE", "PRIORITY", "DEFAULT", "ACTIVE", "HEALTH", "ENDPOINT")
					for _, p := range list {
						row(w, p.ID, p.ToolID, p.ProviderType, p.Priority, p.IsDefault, p.IsActive, p.HealthStatus, p.Endpoint)
					}
				})
			})
		},
	}
	cmd.Flags().StringVar(&tool, "tool", "", "only list configs for this tool")
	return cmd
}

func newProvidersHealthCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "health [id]",
		Short:        "Probe one provider config, or all of them",
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id := ""
			if len(args) == 1 {
				id = args[0]
			}
			return opts.withEnv(cmd, func(ctx context.Context, env *Env) error {
				reports, err := env.Operator.CheckProvider(ctx, id)
				if err != nil {
					return err
				}
				return opts.emit(cmd, reports, func(w io.Writer) {
					row(w, "ID", "TOOL", "TYPE", "HEALTHY")
					for _, h := range reports {
						row(w, h.ID, h.ToolID, h.ProviderType, h.Healthy)
					}
				})
			})
		},
	}
}
