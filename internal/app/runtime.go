// Package app wires a workspace's config into an opened catalog and engine.
package app

import (
	"context"
	"database/sql"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"navigator/internal/artifacts"
	"navigator/internal/config"
	"navigator/internal/db"
	"navigator/internal/engine"
	"navigator/internal/migrate"
	"navigator/internal/taxonomy"
)

// Runtime is an opened, migrated catalog and the engine over it.
type Runtime struct {
	DB     *sql.DB
	Engine engine.Engine
}

func (r *Runtime) Close() error {
	if r == nil || r.DB == nil {
		return nil
	}
	return r.DB.Close()
}

// Open opens the workspace catalog, applies pending migrations and builds
// the engine with the configured taxonomies and artifact store.
func Open(ctx context.Context, workspace string, cfg *config.Config, logger *zap.Logger) (*Runtime, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	reg, err := Taxonomies(workspace, cfg)
	if err != nil {
		return nil, err
	}
	store, err := Store(ctx, workspace, cfg)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "migrate catalog")
	}
	logger.Debug("catalog opened", zap.String("path", db.Path(workspace)), zap.String("artifacts", cfg.Artifacts.Backend))
	return &Runtime{DB: conn, Engine: engine.New(conn, cfg, reg, store, logger)}, nil
}

// Taxonomies returns the built-in registry, or the one in cfg.Taxonomy.File
// resolved against the workspace.
func Taxonomies(workspace string, cfg *config.Config) (*taxonomy.Registry, error) {
	if cfg.Taxonomy.File == "" {
		return taxonomy.Default()
	}
	return taxonomy.Load(resolve(workspace, cfg.Taxonomy.File))
}

// Store builds the configured artifact backend.
func Store(ctx context.Context, workspace string, cfg *config.Config) (artifacts.Store, error) {
	a := cfg.Artifacts
	switch a.Backend {
	case config.BackendS3:
		return artifacts.NewS3Store(ctx, artifacts.S3Options{
			Bucket:    a.Bucket,
			Prefix:    a.Prefix,
			Region:    a.Region,
			Endpoint:  a.Endpoint,
			PathStyle: a.PathStyle,
		})
	case config.BackendLocal, "":
		dir := a.Dir
		if dir == "" {
			dir = filepath.Join(".navigator", "artifacts")
		}
		return artifacts.LocalStore{Dir: filepath.Join(resolve(workspace, dir), a.Prefix)}, nil
	}
	return nil, errors.Newf("unknown artifact backend %q", a.Backend)
}

func resolve(workspace, p string) string {
	if filepath.IsAbs(p) || workspace == "" {
		return p
	}
	return filepath.Join(workspace, p)
}
