package app

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"stallplan/internal/cache"
	"stallplan/internal/config"
	"stallplan/internal/db"
	"stallplan/internal/engine"
	"stallplan/internal/migrate"
	"stallplan/internal/oracle"
)

// ResolveConfig loads stallplan.yml from the workspace, falling back to the
// built-in defaults when the file does not exist.
func ResolveConfig(workspace string) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg, nil
}

func resolvePath(workspace, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, path)
}

// OpenCache builds the prediction cache selected by cache.kind.
func OpenCache(ctx context.Context, workspace string, cfg *config.Config) (cache.Cache, error) {
	switch cfg.Cache.Kind {
	case "", config.CacheNone:
		return cache.NewNullCache(), nil
	case config.CacheFile:
		dir := cfg.Cache.Dir
		if dir == "" {
			dir = filepath.Join(db.StateDir(workspace), "cache")
		} else {
			dir = resolvePath(workspace, dir)
		}
		return cache.NewFileCache(dir)
	case config.CacheRedis:
		return cache.NewRedisCache(ctx, cache.RedisConfig{
			Addr:     cfg.Cache.Addr,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
			Prefix:   cfg.Cache.Prefix,
		})
	default:
		return nil, fmt.Errorf("unknown cache kind %q", cfg.Cache.Kind)
	}
}

// BuildOracle constructs the oracle selected by oracle.kind and wraps it in
// the cache. The static oracle is never cached.
func BuildOracle(ctx context.Context, workspace string, cfg *config.Config, c cache.Cache) (oracle.Oracle, error) {
	var (
		base oracle.Oracle
		ns   string
	)
	switch cfg.Oracle.Kind {
	case "", config.OracleNone:
		return oracle.None{}, nil
	case config.OracleStatic:
		s, err := oracle.LoadStatic(resolvePath(workspace, cfg.Oracle.Path))
		if err != nil {
			return nil, fmt.Errorf("load static oracle: %w", err)
		}
		return s, nil
	case config.OracleRegressor:
		path := resolvePath(workspace, cfg.Oracle.Path)
		r, err := oracle.LoadRegressor(path)
		if err != nil {
			return nil, fmt.Errorf("load regressor: %w", err)
		}
		// replaced weights under the same name must not hit old entries
		base, ns = r, "regressor:"+filepath.Base(path)+":"+r.Digest()[:16]
	case config.OracleHTTP:
		base, ns = &oracle.Remote{URL: cfg.Oracle.URL, Timeout: cfg.Oracle.Timeout}, "http:"+cfg.Oracle.URL
	default:
		return nil, fmt.Errorf("unknown oracle kind %q", cfg.Oracle.Kind)
	}
	if c == nil {
		return base, nil
	}
	return oracle.Cached{Oracle: base, Cache: c, TTL: cfg.Cache.TTL, Namespace: ns}, nil
}

// Env is an opened workspace: database, cache and a ready engine.
type Env struct {
	Engine engine.Engine
	Cache  cache.Cache
	DB     *sql.DB
}

func (e *Env) Close() error {
	var errs []string
	if e.Cache != nil {
		if err := e.Cache.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if e.DB != nil {
		if err := e.DB.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close workspace: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Open migrates the workspace database and wires the engine from config.
func Open(ctx context.Context, workspace string, logger *log.Logger) (*Env, error) {
	cfg, err := ResolveConfig(workspace)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	c, err := OpenCache(ctx, workspace, cfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open cache: %w", err)
	}
	orc, err := BuildOracle(ctx, workspace, cfg, c)
	if err != nil {
		c.Close()
		conn.Close()
		return nil, err
	}
	eng := engine.New(conn, cfg, orc, logger)
	if logger != nil {
		logger.Debug("workspace opened", "db", db.Path(workspace), "oracle", eng.OracleName, "cache", cfg.Cache.Kind)
	}
	return &Env{Engine: eng, Cache: c, DB: conn}, nil
}
