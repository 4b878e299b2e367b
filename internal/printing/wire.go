package printing

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"kioskprint/internal/backend"
	"kioskprint/internal/config"
	"kioskprint/internal/cupsclient"
	"kioskprint/internal/device"
	"kioskprint/internal/layout"
	"kioskprint/internal/model"
	"kioskprint/internal/spool"
	"kioskprint/internal/status"
	"kioskprint/internal/store"
	"kioskprint/internal/supply"
	"kioskprint/internal/tracker"
)

// Runtime holds every component built from one configuration.
type Runtime struct {
	Config   config.Config
	Client   *cupsclient.Client
	Registry *device.Registry
	Prober   *backend.Prober
	Oracle   *status.Oracle
	Paper    *layout.Resolver
	Tracker  *tracker.Tracker
	Supplies *supply.Probe
	Journal  *store.Store
	Spool    spool.Spool
	Service  *Service
}

// TimingFromConfig maps the configured intervals onto tracker timing.
func TimingFromConfig(cfg config.Config) tracker.Timing {
	return tracker.Timing{
		QueuePollInterval:     cfg.QueuePollInterval,
		HardwarePollInterval:  cfg.HardwarePollInterval,
		FirstPageSeconds:      cfg.FirstPageSeconds,
		AdditionalPageSeconds: cfg.AdditionalPageSeconds,
		MinimumWaitFraction:   cfg.MinimumWaitFraction,
		MinimumWaitFloor:      cfg.MinimumWaitFloor,
		MaximumWaitBuffer:     cfg.MaximumWaitBuffer,
		AbsoluteMaximumWait:   cfg.AbsoluteMaximumWait,
		OfflineDebounce:       cfg.OfflineDebounce,
		DiscoveryGracePolls:   cfg.DiscoveryGracePolls,
	}
}

// Wire builds the runtime. The journal is optional: a journal that cannot be
// opened is logged and printing continues without it.
func Wire(ctx context.Context, cfg config.Config, opts ...cupsclient.ClientOption) (*Runtime, error) {
	client := cupsclient.NewFromConfig(opts...)
	registry := device.New(client, device.WithFreshness(cfg.StatusFreshness))
	if cfg.Printer != "" {
		registry.Select(cfg.Printer)
	}
	prober := &backend.Prober{Queue: client, Community: cfg.SNMPCommunity, Timeout: cfg.SNMPTimeout}
	oracle := status.New(registry, prober,
		status.WithSlowQueryThreshold(cfg.SlowQueryThreshold),
		status.WithDeviceURICache(cfg.DeviceURICacheSize, 10*time.Minute))
	paper := layout.NewResolver(client, cfg.PaperTolerance, cfg.ConfusableMarkers, cfg.PaperCacheTTL)
	tr := tracker.New(registry, oracle, client, tracker.WithTiming(TimingFromConfig(cfg)))
	probe := supply.New(client, registry, prober, supply.WithLowPercent(cfg.SupplyLowPercent))

	rt := &Runtime{
		Config:   cfg,
		Client:   client,
		Registry: registry,
		Prober:   prober,
		Oracle:   oracle,
		Paper:    paper,
		Tracker:  tr,
		Supplies: probe,
		Spool:    spool.Spool{Dir: cfg.SpoolDir},
	}
	if cfg.JournalEnabled {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
			log.Printf("[print] journal disabled: %v", err)
		} else if st, err := store.Open(ctx, cfg.DBPath); err != nil {
			log.Printf("[print] journal disabled: %v", err)
		} else {
			rt.Journal = st
		}
	}
	if err := rt.Spool.Ensure(); err != nil {
		return nil, fmt.Errorf("spool %s: %w", cfg.SpoolDir, err)
	}
	if n, err := rt.Spool.Prune(24*time.Hour, time.Now()); err == nil && n > 0 {
		log.Printf("[print] removed %d stale spool file(s)", n)
	}

	rt.Service = New(Deps{
		Printers: registry,
		Paper:    paper,
		Tracker:  tr,
		Supplies: probe,
		Journal:  rt.Journal,
		Spool:    rt.Spool,
		Settings: Settings{
			Paper:          model.PaperSize{Name: cfg.PaperName, Width: cfg.PaperWidth, Height: cfg.PaperHeight},
			DPI:            cfg.DPI,
			StripTopOffset: cfg.StripTopOffset,
		},
	})
	return rt, nil
}

func (rt *Runtime) Close() error {
	if rt == nil || rt.Journal == nil {
		return nil
	}
	return rt.Journal.Close()
}
