package commands

import (
	"context"
	"time"

	// Database drivers for the catalog.
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/docmill/docmill/internal/catalog"
	"github.com/docmill/docmill/internal/config"
	"github.com/docmill/docmill/internal/domain"
	"github.com/docmill/docmill/internal/observability"
)

// loadConfig loads configuration from the --config file (or the default
// search path) and applies the global CLI flags on top.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Observability.LogLevel = "debug"
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *observability.Logger {
	return observability.NewLogger(observability.LogConfig{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: "docmill",
	})
}

// openCatalog opens the run catalog for commands that cannot work without
// one. Commands that merely benefit from the catalog open it themselves and
// degrade when it is unavailable.
func openCatalog(ctx context.Context, cfg *config.Config) (*catalog.Catalog, error) {
	if !cfg.Catalog.Enabled {
		return nil, domain.ConfigError("catalog is not enabled; set catalog.enabled in the config file or DATABASE_URL", nil)
	}

	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return catalog.Open(openCtx, cfg.Catalog)
}
