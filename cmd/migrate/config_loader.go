package main

import (
	"context"
	"fmt"

	"github.com/outpostdb/migrator/internal/logging"
	"github.com/outpostdb/migrator/internal/migrate/chain"
	"github.com/outpostdb/migrator/internal/migrate/dbapplier"
	"github.com/outpostdb/migrator/internal/migrateconfig"
	internalredis "github.com/outpostdb/migrator/internal/redis"
	"github.com/outpostdb/migrator/migrations"
)

// buildDeps wires a parsed Config into a logger and a live Redis applier,
// the CLI's only core-facing construction step (spec §10.5).
func buildDeps(ctx context.Context, cfg *migrateconfig.Config) (*logging.Logger, *dbapplier.Applier, internalredis.Client, func(), error) {
	logger, err := logging.NewLogger(logging.WithLogLevel(cfg.LogLevel))
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("construct logger: %w", err)
	}

	client, err := internalredis.NewClient(ctx, cfg.Redis.ToInternal())
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("connect to redis: %w", err)
	}

	applier := dbapplier.New(client,
		dbapplier.WithPrefix(cfg.KeyPrefix),
		dbapplier.WithIndexConcurrency(cfg.IndexConcurrency),
	)

	cleanup := func() { client.Close() }
	return logger, applier, client, cleanup, nil
}

// currentHead returns the furthest-along migration in defs (a linear
// chain, root first) that the applier has recorded as applied and not
// reverted, or nil if none has.
func currentHead(ctx context.Context, applier *dbapplier.Applier, defs []*chain.Definition) (*chain.Definition, error) {
	var head *chain.Definition
	for _, def := range defs {
		applied, err := applier.IsMigrationApplied(ctx, def.ID)
		if err != nil {
			return nil, err
		}
		if applied {
			head = def
		}
	}
	return head, nil
}

// findByID returns the definition with the given ID, or nil.
func findByID(defs []*chain.Definition, id string) *chain.Definition {
	for _, d := range defs {
		if d.ID == id {
			return d
		}
	}
	return nil
}

func loadedChain() ([]*chain.Definition, *chain.Result) {
	defs := migrations.All()
	result := chain.Validate(defs, chain.DefaultOptions())
	return defs, result
}
