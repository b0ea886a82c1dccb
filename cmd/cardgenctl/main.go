package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"cardgen/internal/bootstrap"
	"cardgen/internal/infra"
)

// ctl carries state shared by every subcommand.
type ctl struct {
	cfg    *infra.Config
	logger infra.Logger
	svc    *bootstrap.Services
	pool   *pgxpool.Pool
}

func (c *ctl) load(cmd *cobra.Command, _ []string) error {
	_ = godotenv.Load()
	cfg, err := infra.LoadConfig()
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.logger = infra.NewLogger(cfg).With().Str("cmd", cmd.Name()).Logger()
	return nil
}

// services opens the shared services on first use.
func (c *ctl) services(ctx context.Context) (*bootstrap.Services, error) {
	if c.svc != nil {
		return c.svc, nil
	}
	svc, err := bootstrap.Open(ctx, c.cfg, &c.logger)
	if err != nil {
		return nil, err
	}
	c.svc = svc
	return svc, nil
}

// sql opens only the database, for commands that need nothing else.
func (c *ctl) sql(ctx context.Context) (*infra.SQLRunner, error) {
	if c.svc != nil {
		return c.svc.Runner, nil
	}
	if c.pool == nil {
		pool, err := infra.NewDBPool(ctx, c.cfg)
		if err != nil {
			return nil, err
		}
		c.pool = pool
	}
	return infra.NewSQLRunner(c.pool, &c.logger), nil
}

func (c *ctl) close(*cobra.Command, []string) {
	if c.svc != nil {
		c.svc.Close()
	}
	if c.pool != nil {
		c.pool.Close()
	}
}

func newRootCommand() *cobra.Command {
	c := &ctl{}
	root := &cobra.Command{
		Use:               "cardgenctl",
		Short:             "Operate the card generation pipeline",
		SilenceUsage:      true,
		PersistentPreRunE: c.load,
		PersistentPostRun: c.close,
	}
	root.AddCommand(
		migrateCommands(c),
		reapCommand(c),
		sweepCommand(c),
		priceCommands(c),
		tokenCommands(c),
		providerCommands(c),
		jobCommands(c),
		issueTokenCommand(c),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
