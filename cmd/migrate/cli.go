package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/outpostdb/migrator/internal/idgen"
	"github.com/outpostdb/migrator/internal/migrate/chain"
	"github.com/outpostdb/migrator/internal/migrate/migrateerr"
	"github.com/outpostdb/migrator/internal/migrate/runner"
	"github.com/outpostdb/migrator/internal/migrateconfig"
	"github.com/outpostdb/migrator/internal/redislock"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

const cliVersion = "0.1.0"

// newCommand builds the cmd/migrate command tree (spec §10.5): new, which
// prints a fresh migration ID, and list, status, up, down, rollback, which
// operate over the compiled-in migrations.All() chain.
func newCommand() *cli.Command {
	return &cli.Command{
		Name:    "migrate",
		Usage:   "Document-database schema migration engine",
		Version: cliVersion,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a config file (overrides the default search locations)",
				Sources: cli.EnvVars("CONFIG"),
			},
		},
		Commands: []*cli.Command{
			newMigrationCommand(),
			listCommand(),
			statusCommand(),
			upCommand(),
			downCommand(),
			rollbackCommand(),
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return cli.ShowAppHelp(c)
		},
	}
}

func newMigrationCommand() *cli.Command {
	return &cli.Command{
		Name:      "new",
		Usage:     "print a fresh sortable migration ID for a new file under migrations/",
		ArgsUsage: "<slug>",
		Action: func(ctx context.Context, c *cli.Command) error {
			slug := c.Args().First()
			if slug == "" {
				return fmt.Errorf("usage: migrate new <slug>")
			}
			id := idgen.MigrationID(time.Now(), slug)
			fmt.Println(id)
			return nil
		},
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "list every migration in chain order",
		Action: func(ctx context.Context, c *cli.Command) error {
			defs, result := loadedChain()
			if !result.OK {
				return fmt.Errorf("chain is invalid: %s", strings.Join(result.Errors, "; "))
			}
			for _, d := range defs {
				fmt.Printf("%s\t%s\n", d.ID, d.Name)
			}
			return nil
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "show which migrations have been applied",
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := migrateconfig.Load(c.String("config"))
			if err != nil {
				return err
			}
			_, applier, _, cleanup, err := buildDeps(ctx, cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			defs, result := loadedChain()
			if !result.OK {
				return fmt.Errorf("chain is invalid: %s", strings.Join(result.Errors, "; "))
			}
			for _, d := range defs {
				applied, err := applier.IsMigrationApplied(ctx, d.ID)
				if err != nil {
					return err
				}
				state := "pending"
				if applied {
					state = "applied"
				}
				fmt.Printf("%-8s %s\t%s\n", state, d.ID, d.Name)
			}
			return nil
		},
	}
}

func upCommand() *cli.Command {
	return &cli.Command{
		Name:  "up",
		Usage: "apply every not-yet-applied migration up to --to (default: the chain's leaf)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "to", Usage: "target migration ID; defaults to the last migration in the chain"},
			&cli.BoolFlag{Name: "dry-run", Usage: "simulate the run without calling the database applier"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := migrateconfig.Load(c.String("config"))
			if err != nil {
				return err
			}
			logger, applier, client, cleanup, err := buildDeps(ctx, cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			defs, result := loadedChain()
			if !result.OK {
				return fmt.Errorf("chain is invalid: %s", strings.Join(result.Errors, "; "))
			}
			if len(defs) == 0 {
				fmt.Println("no migrations to apply")
				return nil
			}

			target := defs[len(defs)-1]
			if to := c.String("to"); to != "" {
				target = findByID(defs, to)
				if target == nil {
					return fmt.Errorf("no migration with ID %q", to)
				}
			}

			rc := runner.DefaultConfig()
			rc.MaxRetries = cfg.MaxRetries
			rc.RetryDelay = cfg.RetryDelay()
			rc.OperationTimeout = cfg.OperationTimeout()
			rc.Logger = logger
			rc.DryRun = c.Bool("dry-run")
			rc.Lock = redislock.New(client, redislock.WithTTL(cfg.LockTTL()))
			rc.OnProgress = func(e runner.ProgressEvent) {
				logger.Info("migration progress",
					zap.String("migration", e.MigrationID),
					zap.String("phase", e.Phase),
					zap.Int("completed", e.Completed),
					zap.Int("total", e.Total))
			}

			r := runner.New(applier, rc)
			res, err := r.Up(ctx, target)
			if err != nil {
				return classifyCLIError(err)
			}
			fmt.Printf("migrated up to %s (%d operations in %s)\n", target.ID, res.AppliedOperations, res.ExecutionTime.Round(time.Millisecond))
			return nil
		},
	}
}

func downCommand() *cli.Command {
	return &cli.Command{
		Name:  "down",
		Usage: "revert applied migrations back to --to (default: revert everything)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "to", Usage: "target migration ID to roll back to (exclusive); empty reverts the whole chain"},
			&cli.BoolFlag{Name: "dry-run", Usage: "simulate the rollback without calling the database applier"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := migrateconfig.Load(c.String("config"))
			if err != nil {
				return err
			}
			logger, applier, client, cleanup, err := buildDeps(ctx, cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			defs, result := loadedChain()
			if !result.OK {
				return fmt.Errorf("chain is invalid: %s", strings.Join(result.Errors, "; "))
			}

			head, err := currentHead(ctx, applier, defs)
			if err != nil {
				return err
			}
			if head == nil {
				fmt.Println("nothing applied")
				return nil
			}

			var newBase *chain.Definition
			if to := c.String("to"); to != "" {
				newBase = findByID(defs, to)
				if newBase == nil {
					return fmt.Errorf("no migration with ID %q", to)
				}
			}

			rc := runner.DefaultConfig()
			rc.MaxRetries = cfg.MaxRetries
			rc.RetryDelay = cfg.RetryDelay()
			rc.OperationTimeout = cfg.OperationTimeout()
			rc.Logger = logger
			rc.DryRun = c.Bool("dry-run")
			rc.Lock = redislock.New(client, redislock.WithTTL(cfg.LockTTL()))

			r := runner.New(applier, rc)
			res, err := r.Down(ctx, head, newBase)
			if err != nil {
				return classifyCLIError(err)
			}
			fmt.Printf("rollback complete (%d operations reversed)\n", res.AppliedOperations)
			return nil
		},
	}
}

func rollbackCommand() *cli.Command {
	return &cli.Command{
		Name:  "rollback",
		Usage: "revert exactly the most recently applied migration",
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := migrateconfig.Load(c.String("config"))
			if err != nil {
				return err
			}
			logger, applier, client, cleanup, err := buildDeps(ctx, cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			defs, result := loadedChain()
			if !result.OK {
				return fmt.Errorf("chain is invalid: %s", strings.Join(result.Errors, "; "))
			}

			head, err := currentHead(ctx, applier, defs)
			if err != nil {
				return err
			}
			if head == nil {
				fmt.Println("nothing applied")
				return nil
			}

			rc := runner.DefaultConfig()
			rc.MaxRetries = cfg.MaxRetries
			rc.RetryDelay = cfg.RetryDelay()
			rc.OperationTimeout = cfg.OperationTimeout()
			rc.Logger = logger
			rc.Lock = redislock.New(client, redislock.WithTTL(cfg.LockTTL()))

			r := runner.New(applier, rc)
			if _, err := r.Down(ctx, head, head.Parent); err != nil {
				return classifyCLIError(err)
			}
			fmt.Printf("reverted %s\n", head.ID)
			return nil
		},
	}
}

// classifyCLIError annotates known taxonomy kinds with their Kind tag; the
// underlying error is always preserved for errors.Is/errors.As.
func classifyCLIError(err error) error {
	var mErr *migrateerr.MigrationError
	if errors.As(err, &mErr) {
		return fmt.Errorf("[%s] %w", mErr.Kind, err)
	}
	return err
}
