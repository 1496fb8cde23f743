package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/dantte-lp/gopimd/internal/config"
	"github.com/dantte-lp/gopimd/internal/filter"
	"github.com/dantte-lp/gopimd/internal/pim"
)

// newFilters builds the prefix list registry of cfg.
func newFilters(cfg *config.Config, logger *slog.Logger) (*filter.Registry, error) {
	lists, err := cfg.BuildPrefixLists()
	if err != nil {
		return nil, err
	}
	filters := filter.NewRegistry(logger)
	filters.Replace(lists)
	return filters, nil
}

// controllerOptions returns the controller options derived from cfg.
func controllerOptions(cfg *config.Config, filters *filter.Registry) ([]pim.Option, error) {
	afi, err := config.ParseFamily(cfg.PIM.Family)
	if err != nil {
		return nil, err
	}
	return []pim.Option{
		pim.WithFilterSource(filters),
		pim.WithAddressFamily(afi),
		pim.WithRPFCacheCapacity(cfg.PIM.RPFCacheSize),
		pim.WithDefaultVRFName(cfg.PIM.DefaultVRFName),
		pim.WithAutoCreate(cfg.PIM.AutoCreate),
	}, nil
}

// writeOfflineConfig creates the configured instances unbound, with no
// dataplane, and writes their configuration dump to w.
func writeOfflineConfig(ctx context.Context, w io.Writer, cfg *config.Config) error {
	logger := slog.New(slog.DiscardHandler)

	filters, err := newFilters(cfg, logger)
	if err != nil {
		return err
	}
	opts, err := controllerOptions(cfg, filters)
	if err != nil {
		return err
	}
	specs, err := cfg.InstanceSpecs()
	if err != nil {
		return err
	}

	ctrl := pim.NewController(pim.NewRegistry(), logger, opts...)
	defer ctrl.Shutdown()

	if _, err := ctrl.Reconcile(ctx, specs); err != nil {
		return fmt.Errorf("build instances: %w", err)
	}
	return ctrl.WriteConfig(w, nil)
}
