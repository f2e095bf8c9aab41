package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/med-connect/prescriber-cli/internal/alias"
	"github.com/med-connect/prescriber-cli/internal/claims"
	"github.com/med-connect/prescriber-cli/internal/match"
)

// initStore opens the claims store selected by config.
func initStore(ctx context.Context) (claims.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "prescriber.db"
		}
		return claims.NewSQLite(dsn)
	case "postgres":
		return claims.NewPostgres(ctx, cfg.Store.DatabaseURL, &claims.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initResolver loads the alias reference data: the configured YAML file
// if set, otherwise the embedded defaults.
func initResolver() (*alias.Resolver, error) {
	if cfg.Aliases.Path != "" {
		return alias.LoadFile(cfg.Aliases.Path)
	}
	return alias.Default()
}

// initEngine wires the alias resolver, claims store, and matching engine.
// Callers own the returned store and should defer Close.
func initEngine(ctx context.Context) (*match.Engine, claims.Store, error) {
	resolver, err := initResolver()
	if err != nil {
		return nil, nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, nil, err
	}

	engine := match.NewEngine(resolver, st, match.WithMaxResults(cfg.Search.MaxResults))
	return engine, st, nil
}
