package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/noflyroute/internal/db"
	"github.com/sells-group/noflyroute/internal/pipeline"
	"github.com/sells-group/noflyroute/internal/provider"
	"github.com/sells-group/noflyroute/internal/route"
	"github.com/sells-group/noflyroute/internal/store"
	"github.com/sells-group/noflyroute/internal/zone"
)

var (
	regionFlag     string
	categoriesFlag []string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&regionFlag, "region", "", "region name (default from config)")
	rootCmd.PersistentFlags().StringSliceVar(&categoriesFlag, "categories", nil,
		"zone categories to load, comma separated (default all)")
}

// initStore opens the configured store and applies migrations. The "none"
// driver returns a nil store.
func initStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "none":
		return nil, nil
	case "sqlite":
		dsn := cfg.Store.DSN
		if dsn == "" {
			dsn = "noflyroute.db"
		}
		st, err = store.NewSQLite(dsn)
	case "postgres":
		pool, perr := db.Open(ctx, cfg.Store.DatabaseURL, cfg.Store.Pool)
		if perr != nil {
			return nil, perr
		}
		st = store.NewPostgres(pool, pool.Close)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

// requireStore is initStore for commands that cannot run without one.
func requireStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, eris.New("this command needs a store (set store.driver to sqlite or postgres)")
	}
	return st, nil
}

// initProvider builds the configured provider, cached in st when caching is
// enabled and a store is available.
func initProvider(st store.Store) provider.Provider {
	var p provider.Provider
	switch cfg.Provider.Kind {
	case "file":
		p = provider.NewFileProvider(cfg.Provider.NetworkPath, cfg.Provider.ZonesPath)
	default:
		p = provider.NewOverpass(cfg.Provider.Overpass)
	}
	// Local files are cheaper to read than the cache.
	if st != nil && cfg.Provider.CacheTTL > 0 && cfg.Provider.Kind != "file" {
		p = provider.NewCached(p, st, cfg.Provider.CacheTTL)
	}
	return p
}

func activeRegion() provider.Region {
	r := cfg.Region
	if regionFlag != "" {
		r = provider.Region{Name: regionFlag}
	}
	if r.Name == "" && r.BBox == nil {
		r.Name = provider.DefaultRegion
	}
	return r
}

func activeCategories() ([]zone.Category, error) {
	names := cfg.Planner.Categories
	if len(categoriesFlag) > 0 {
		names = categoriesFlag
	}
	return zone.ParseCategories(names)
}

// prepareScene fetches and builds the scene for the active region.
func prepareScene(ctx context.Context, st store.Store, opts ...pipeline.Option) (*pipeline.Scene, error) {
	cats, err := activeCategories()
	if err != nil {
		return nil, err
	}
	if st != nil {
		opts = append(opts, pipeline.WithStore(st))
	}
	if cfg.Planner.NoHeuristic {
		opts = append(opts, pipeline.WithEngineOptions(route.WithoutHeuristic()))
	}

	region := activeRegion()
	zap.L().Info("preparing scene",
		zap.String("region", region.String()),
		zap.String("provider", cfg.Provider.Kind),
	)
	return pipeline.New(initProvider(st), opts...).Prepare(ctx, region, cats)
}

func closeStore(st store.Store) {
	if st == nil {
		return
	}
	if err := st.Close(); err != nil {
		zap.L().Warn("close store", zap.Error(err))
	}
}
