package main

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"cardgen/internal/adapter/repo"
	"cardgen/internal/domain"
	"cardgen/internal/infra/credentials"
	"cardgen/internal/middleware"
)

func priceCommands(c *ctl) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "price",
		Short: "Inspect and change operation prices",
	}

	set := &cobra.Command{
		Use:   "set <operation> <tokens>",
		Short: "Set the per-unit token price of an operation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			op := domain.Operation(strings.ToLower(args[0]))
			if !slices.Contains(domain.Operations, op) {
				return fmt.Errorf("unknown operation %q", args[0])
			}
			tokens, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("tokens: %w", err)
			}
			svc, err := c.services(cmd.Context())
			if err != nil {
				return err
			}
			if err := svc.Pricing.Set(cmd.Context(), op, tokens); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %d tokens\n", op, tokens)
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "Show the current price of every operation",
		RunE: func(cmd *cobra.Command, _ []string) error {
			runner, err := c.sql(cmd.Context())
			if err != nil {
				return err
			}
			prices := repo.NewPricingRepository(runner)
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "OPERATION\tTOKENS")
			for _, op := range domain.Operations {
				tokens, err := prices.Get(cmd.Context(), op)
				switch {
				case err == nil:
					fmt.Fprintf(w, "%s\t%d\n", op, tokens)
				case errors.Is(err, domain.ErrPricingNotConfigured):
					fmt.Fprintf(w, "%s\t-\n", op)
				default:
					return err
				}
			}
			return w.Flush()
		},
	}

	cmd.AddCommand(set, list)
	return cmd
}

func tokenCommands(c *ctl) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Inspect and credit user token balances",
	}

	var reason string
	grant := &cobra.Command{
		Use:   "grant <user_id> <amount>",
		Short: "Credit tokens to a user, creating the account if needed",
		Args:  cobra.MatchAll(cobra.ExactArgs(2), uuidArg(0, "user id")),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("amount: %w", err)
			}
			svc, err := c.services(cmd.Context())
			if err != nil {
				return err
			}
			if err := repo.NewBalanceRepository(svc.Runner).EnsureAccount(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("ensure account: %w", err)
			}
			l := svc.Ledger()
			if err := l.Grant(cmd.Context(), args[0], amount, reason); err != nil {
				return err
			}
			balance, err := l.Balance(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "balance of %s is now %d\n", args[0], balance)
			return nil
		},
	}
	grant.Flags().StringVar(&reason, "reason", domain.ReasonManualGrant, "ledger reason recorded on the credit")

	balance := &cobra.Command{
		Use:   "balance <user_id>",
		Short: "Print a user's token balance",
		Args:  cobra.MatchAll(cobra.ExactArgs(1), uuidArg(0, "user id")),
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, err := c.sql(cmd.Context())
			if err != nil {
				return err
			}
			bal, err := repo.NewBalanceRepository(runner).Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), bal)
			return nil
		},
	}

	cmd.AddCommand(grant, balance)
	return cmd
}

func providerCommands(c *ctl) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provider",
		Short: "Manage stored provider API keys",
	}

	var model string
	setKey := &cobra.Command{
		Use:   "set-key <provider> <key>",
		Short: "Store an API key used when the environment has none",
		Long: "Providers: " + strings.Join([]string{
			credentials.ProviderOpenAI,
			credentials.ProviderGemini,
			credentials.ProviderKlingAccess,
			credentials.ProviderKlingSecret,
		}, ", "),
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, err := c.sql(cmd.Context())
			if err != nil {
				return err
			}
			props := map[string]any{}
			if model != "" {
				props["model"] = model
			}
			if err := credentials.NewStore(runner).SetToken(cmd.Context(), args[0], args[1], props); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored key for %s\n", strings.ToLower(args[0]))
			return nil
		},
	}
	setKey.Flags().StringVar(&model, "model", "", "model name recorded with the key")

	list := &cobra.Command{
		Use:   "list",
		Short: "List providers with a stored key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			runner, err := c.sql(cmd.Context())
			if err != nil {
				return err
			}
			entries, err := credentials.NewStore(runner).List(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tUPDATED")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\n", e.Provider, e.UpdatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}

	cmd.AddCommand(setKey, list)
	return cmd
}

func jobCommands(c *ctl) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Inspect generation jobs",
	}

	audit := &cobra.Command{
		Use:   "audit <job_id>",
		Short: "Compare a job's ledger entries with its completed units",
		Args:  cobra.MatchAll(cobra.ExactArgs(1), uuidArg(0, "job id")),
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, err := c.sql(cmd.Context())
			if err != nil {
				return err
			}
			repos := repo.Bind(runner)
			job, err := repos.Jobs.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			counts, err := repos.Tasks.Counts(cmd.Context(), job.ID)
			if err != nil {
				return err
			}
			net, err := repo.NewBalanceRepository(runner).JobNetAmount(cmd.Context(), job.ID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "job %s kind=%s status=%s\n", job.ID, job.Kind, job.Status)
			fmt.Fprintf(out, "units: %d/%d completed, %d failed\n", counts.Completed, job.TotalUnits, counts.Failed)
			fmt.Fprintf(out, "charged=%d refunded=%d ledger_net=%d\n", job.TokensCost, job.TokensRefunded, net)
			if job.Status.Terminal() {
				want := -counts.Completed * job.UnitPrice
				if net != want {
					return fmt.Errorf("ledger mismatch: net %d, completed units cost %d", net, -want)
				}
				fmt.Fprintln(out, "ledger consistent")
			}
			return nil
		},
	}

	cmd.AddCommand(audit)
	return cmd
}

func issueTokenCommand(c *ctl) *cobra.Command {
	var (
		locale string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "issue-token <user_id>",
		Short: "Sign an API access token for local testing",
		Args:  cobra.MatchAll(cobra.ExactArgs(1), uuidArg(0, "user id")),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.cfg.ValidateAPI(); err != nil {
				return err
			}
			token, err := middleware.SignToken(c.cfg.JWTSecret, args[0], locale, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&locale, "locale", "", "locale claim (ru or en)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

// uuidArg rejects a positional id that is not a UUID before any connection
// is opened.
func uuidArg(i int, what string) cobra.PositionalArgs {
	return func(_ *cobra.Command, args []string) error {
		if i < len(args) && uuid.Validate(args[i]) != nil {
			return fmt.Errorf("%s %q is not a UUID", what, args[i])
		}
		return nil
	}
}
