package cmd

import (
	"fmt"

	"github.com/samsaffron/relaychat/internal/config"
	"github.com/samsaffron/relaychat/internal/store"
	"github.com/samsaffron/relaychat/internal/tools"
	"github.com/samsaffron/relaychat/internal/usage"
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func loadCatalog(cfg *config.Config) (*usage.Catalog, error) {
	catalog, err := usage.LoadCatalog(cfg.Models.Catalog)
	if err != nil {
		return nil, fmt.Errorf("failed to load model catalog: %w", err)
	}
	return catalog, nil
}

func openStore(cfg *config.Config) (store.Store, error) {
	st, err := store.NewStore(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return st, nil
}

func newToolRegistry(cfg *config.Config) *tools.Registry {
	return tools.NewDefaultRegistry(cfg.Jina)
}
