// Package app wires the daemon together: logging, configuration with
// hot reload, storage, the bandwidth protocol server, the device
// scanner, the measurement orchestrator, the scheduler and the web API.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/c4g7-dev/netwatch/internal/bwproto"
	"github.com/c4g7-dev/netwatch/internal/config"
	"github.com/c4g7-dev/netwatch/internal/eventbus"
	"github.com/c4g7-dev/netwatch/internal/netinfo"
	"github.com/c4g7-dev/netwatch/internal/orchestrator"
	"github.com/c4g7-dev/netwatch/internal/probe"
	"github.com/c4g7-dev/netwatch/internal/provider"
	"github.com/c4g7-dev/netwatch/internal/scan"
	"github.com/c4g7-dev/netwatch/internal/sched"
	"github.com/c4g7-dev/netwatch/internal/storage"
	"github.com/c4g7-dev/netwatch/internal/web"
	logx "github.com/c4g7-dev/netwatch/pkg/logx"
)

// App owns every subsystem's lifecycle.
type App struct {
	logsvc *logx.Service
	log    logx.Logger

	cfgMgr *config.Manager
	bus    eventbus.Bus

	store    *storage.Store
	bwsrv    *bwproto.Server
	scanner  *scan.Scanner
	orch     *orchestrator.Orchestrator
	schedule *sched.Service
	web      *web.Server

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New loads the configuration and constructs all subsystems without
// starting them.
func New(cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logsvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Format != "json",
		File: logx.FileConfig{
			Enabled: cfg.Logging.File != "",
			Path:    cfg.Logging.File,
		},
	})
	mgr.SetLogger(log.With(logx.String("svc", "config")))

	a := &App{
		logsvc: logsvc,
		log:    log,
		cfgMgr: mgr,
		bus:    eventbus.New(),
	}
	if err := a.build(cfg); err != nil {
		_ = logsvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config) error {
	busyTimeout, _ := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, a.log.With(logx.String("svc", "storage")))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	a.store = store

	perProbe, _ := config.ParseDurationOrDefault("probe.per_probe_timeout", cfg.Probe.PerProbeTimeout, time.Second)
	prober := probe.New(probe.Config{PerProbeTimeout: perProbe}, a.log.With(logx.String("svc", "probe")))

	a.scanner = scan.New(scan.Config{
		NetworkPrefix:  cfg.Scanner.NetworkPrefix,
		MaxWorkers:     cfg.Scanner.MaxWorkers,
		ProbesPerSec:   cfg.Scanner.ProbesPerSec,
		SamplesPerHost: cfg.Scanner.SamplesPerHost,
	}, prober, a.log.With(logx.String("svc", "scan")))

	// Auto-registration borrows the scanner's view for MAC lookup.
	store.SetMACResolver(func(ip string) string {
		if d, ok := a.scanner.Get(ip); ok {
			return d.MAC
		}
		return ""
	})

	if cfg.Server.Enabled {
		a.bwsrv = bwproto.NewServer(bwproto.ServerConfig{
			BindAddress: cfg.Server.BindAddress,
			Port:        cfg.Server.Port,
		}, a.log.With(logx.String("svc", "bwserver")))
	}

	prov, err := buildProvider(cfg, a.log)
	if err != nil {
		return err
	}

	resolver := netinfo.NewResolver(a.log.With(logx.String("svc", "netinfo")))
	a.orch = orchestrator.New(orchestrator.Config{
		ReferenceTarget: cfg.Measure.ReferenceTarget,
		LatencyProbes:   cfg.Measure.LatencyProbes,
		GatewayProbes:   cfg.Measure.GatewayProbes,
		SamplerDelay:    cfg.Measure.SamplerDelayOrDefault(),
		PhaseTimeout:    cfg.Measure.PhaseTimeoutOrDefault(),
	}, prober, resolver, prov, store, a.log.With(logx.String("svc", "orchestrator")))

	a.schedule = sched.New(sched.Config{
		Enabled:     cfg.Schedule.Enabled,
		MeasureSpec: cfg.Schedule.MeasureSpec,
		ScanSpec:    cfg.Schedule.ScanSpec,
	}, a.scheduledMeasure, a.scheduledScan, a.log.With(logx.String("svc", "sched")))

	if cfg.Web.Enabled {
		a.web = web.NewServer(web.Config{
			Enabled:     true,
			BindAddress: cfg.Web.BindAddress,
			Port:        cfg.Web.Port,
		}, a.orch, a.scanner, a.store, a.bwsrv, a.bus, a.log.With(logx.String("svc", "web")))
	}
	return nil
}

func buildProvider(cfg *config.Config, log logx.Logger) (provider.Provider, error) {
	switch cfg.Measure.Provider {
	case "", "lan":
		return provider.NewLAN(provider.LANConfig{
			Host:          cfg.Measure.LANHost,
			Port:          cfg.Measure.LANPort,
			TransferBytes: cfg.Measure.LANTransferBytes,
		}, log.With(logx.String("svc", "provider"))), nil
	case "internet":
		return provider.NewInternet(provider.InternetConfig{}, log.With(logx.String("svc", "provider"))), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Measure.Provider)
	}
}

// Start brings every subsystem up. A bandwidth-server bind failure is
// a reported outcome, not a startup abort: the web API, scanner and
// scheduler still come up, and the server can be started later through
// the API once the port is free.
func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if a.bwsrv != nil {
		if err := a.bwsrv.Start(); err != nil {
			switch {
			case errors.Is(err, bwproto.ErrAddrInUse):
				a.log.Error("bandwidth server: address already in use", logx.Err(err))
			case errors.Is(err, bwproto.ErrPermission):
				a.log.Error("bandwidth server: permission denied binding port", logx.Err(err))
			default:
				a.log.Error("bandwidth server failed to start", logx.Err(err))
			}
			a.bus.Publish(eventbus.Event{Type: eventbus.TypeServerState, Data: "error"})
		} else {
			a.bus.Publish(eventbus.Event{Type: eventbus.TypeServerState, Data: "running"})
		}
	}

	if a.web != nil {
		if err := a.web.Start(); err != nil {
			return fmt.Errorf("web server: %w", err)
		}
	}

	if err := a.schedule.Start(runCtx); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}

	// Config hot reload.
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = a.cfgMgr.Watch(runCtx)
	}()
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.reloadLoop(runCtx)
	}()

	a.log.Info("netwatch started")
	return nil
}

// reloadLoop applies the subset of config that is safe to change at
// runtime: log level/sinks and the schedule.
func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgMgr.Subscribe(1)
	defer a.cfgMgr.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			a.logsvc.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Format != "json",
				File: logx.FileConfig{
					Enabled: cfg.Logging.File != "",
					Path:    cfg.Logging.File,
				},
			})
			if err := a.schedule.Apply(ctx, sched.Config{
				Enabled:     cfg.Schedule.Enabled,
				MeasureSpec: cfg.Schedule.MeasureSpec,
				ScanSpec:    cfg.Schedule.ScanSpec,
			}); err != nil {
				a.log.Warn("schedule reload failed", logx.Err(err))
			}
		}
	}
}

func (a *App) scheduledMeasure(ctx context.Context) error {
	sink := orchestrator.SinkFunc(func(e orchestrator.Event) {
		a.bus.Publish(eventbus.Event{Type: eventbus.TypeRunEvent, Data: e})
	})
	return a.orch.Start(ctx, sink)
}

func (a *App) scheduledScan(ctx context.Context) {
	found := a.scanner.ScanNetwork(ctx)
	for _, d := range found {
		_, err := a.store.UpsertDevice(ctx, storage.Device{
			MAC:            d.MAC,
			IP:             d.IP,
			Hostname:       d.Hostname,
			ConnectionType: string(d.ConnectionType),
			IsLocal:        d.IsLocal,
		})
		if err != nil {
			a.log.Warn("device upsert failed", logx.String("ip", d.IP), logx.Err(err))
		}
	}
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeScanComplete, Data: len(found)})
}

// Stop tears subsystems down in reverse order, none of which may hang
// past its own bound.
func (a *App) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	a.schedule.Stop()
	if a.web != nil {
		a.web.Stop(ctx)
	}
	if a.bwsrv != nil {
		if err := a.bwsrv.Stop(); err != nil {
			a.log.Warn("bandwidth server stop", logx.Err(err))
		}
		_ = a.store.RecordServerStatus(ctx, false, 0, int64(a.bwsrv.TestCount()))
	}
	a.wg.Wait()
	if err := a.store.Close(); err != nil {
		a.log.Warn("storage close", logx.Err(err))
	}
	a.log.Info("netwatch stopped")
	return a.logsvc.Close()
}
