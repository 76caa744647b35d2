package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/sandevgo/percept/internal/config"
	"github.com/sandevgo/percept/internal/core"
	"github.com/sandevgo/percept/internal/providers/search"
	"github.com/sandevgo/percept/internal/service/entity"
	"github.com/sandevgo/percept/internal/service/graph"
	"github.com/sandevgo/percept/internal/storage/sqlite"
	"github.com/sandevgo/percept/pkg/log"
)

// app holds the configuration, storage and in-memory stores shared by every subcommand.
type app struct {
	cfg      *config.AppConfig
	settings *config.SettingsStore
	db       *sql.DB

	conversations *sqlite.ConversationsRepo
	speakers      *sqlite.SpeakersRepo
	contacts      *sqlite.ContactsRepo
	entities      *sqlite.EntitiesRepo
	relations     *sqlite.RelationshipsRepo
	actions       *sqlite.ActionsRepo

	searcher core.EntitySearcher
	catalog  *entity.Catalog
	graph    *graph.Graph
}

func openApp(ctx context.Context) (*app, error) {
	if err := initEnv(ctx, config.GetRuntimePath()); err != nil {
		return nil, fmt.Errorf("init env: %w", err)
	}

	a := &app{cfg: config.NewAppConfig(ctx)}

	a.settings = config.NewSettingsStore(a.cfg.GetSettingsPath())
	if err := a.settings.Load(ctx); err != nil {
		return nil, err
	}

	db, err := sqlite.NewDB(ctx, a.cfg.GetDatabasePath())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.db = db

	a.conversations = sqlite.NewConversationsRepo(db)
	a.speakers = sqlite.NewSpeakersRepo(db)
	a.contacts = sqlite.NewContactsRepo(db)
	a.entities = sqlite.NewEntitiesRepo(db)
	a.relations = sqlite.NewRelationshipsRepo(db)
	a.actions = sqlite.NewActionsRepo(db)

	var catalogOpts []entity.CatalogOption
	if a.cfg.EnableSearch {
		client := search.NewClient(config.NewSearchConfig(ctx))
		a.searcher = client
		catalogOpts = append(catalogOpts, entity.WithSearcher(client))
	}

	a.catalog = entity.NewCatalog(a.entities, a.contacts, a.speakers, catalogOpts...)
	if err := a.catalog.Load(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("load entity catalog: %w", err)
	}

	a.graph = graph.New(a.relations, a.settings)
	if err := a.graph.Load(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("load relationship graph: %w", err)
	}

	return a, nil
}

func (a *app) resolver() *entity.Resolver {
	return entity.NewResolver(entity.ResolverDeps{
		Directory: a.catalog,
		Graph:     a.graph,
		Searcher:  a.searcher,
		Settings:  a.settings,
	})
}

func (a *app) Close() error {
	return a.db.Close()
}

func initEnv(ctx context.Context, runtimePath string) error {
	logger := log.FromCtx(ctx)
	envFile := filepath.Join(runtimePath, ".env")

	if _, err := os.Stat(envFile); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	if err := godotenv.Load(envFile); err != nil {
		logger.Warn().Err(err).Str("path", envFile).Msg("failed to load .env file")
		return err
	}

	logger.Debug().Str("path", envFile).Msg("loaded .env file")
	return nil
}
