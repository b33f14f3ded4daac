// Package app wires the engine together: config, logging, storage, the
// agent host, the restart gate and the scheduler, with hot reload of the
// config file.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"agentdeck/internal/agent"
	"agentdeck/internal/config"
	"agentdeck/internal/eventbus"
	"agentdeck/internal/observability/pprof"
	"agentdeck/internal/runtime/supervisor"
	"agentdeck/internal/storage"
	"agentdeck/internal/task/restartgate"
	"agentdeck/internal/task/scheduler"
	logx "agentdeck/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	host  *agent.Host
	gate  *restartgate.Gate
	sched *scheduler.Service
	pprof *pprof.Service
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	host := agent.NewHost(mapAgentConfig(cfg), log.With(logx.String("comp", "agent")))
	gate := restartgate.New(host, bus, log.With(logx.String("comp", "restartgate")))

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	sched := scheduler.New(schedCfg, store, host, gate, bus, log.With(logx.String("comp", "scheduler")))

	pprofCfg, err := mapPprofConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	pprofSvc := pprof.New(pprofCfg, log.With(logx.String("comp", "pprof")))

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		host:    host,
		gate:    gate,
		sched:   sched,
		pprof:   pprofSvc,
	}, nil
}

// Scheduler exposes the task API to the presentation layer.
func (a *App) Scheduler() *scheduler.Service { return a.sched }

// Gate exposes restart state (pending/busy) for status surfaces.
func (a *App) Gate() *restartgate.Gate { return a.gate }

// Done is closed when the app supervisor context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// Transactional config reload: validate before commit/publish.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return config.Validate(cfg)
	})

	if err := a.host.Start(a.sup.Context()); err != nil {
		return err
	}
	if a.sched.Enabled() {
		a.sched.Start(a.sup.Context())
	}
	if a.pprof.Enabled() {
		a.pprof.Start(a.sup.Context())
	}

	// Debug-level event tap; components subscribe themselves for real work.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// reloadLoop applies hot config updates. An agent-section change is the one
// that needs a host restart; it goes through the gate so in-flight task runs
// finish first.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
					continue
				default:
				}
				break
			}

			sections, attrs := config.SummarizeConfigChange(lastApplied, newCfg)
			lastApplied = newCfg
			if len(sections) == 0 {
				a.log.Debug("config reload received, but no effective changes detected")
				continue
			}
			fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
			a.log.Debug("config change summary", fields...)

			if config.SectionChanged(sections, "logging") {
				a.logs.Apply(logx.Config{
					Level:   newCfg.Logging.Level,
					Console: newCfg.Logging.Console,
					File: logx.FileConfig{
						Enabled: newCfg.Logging.File.Enabled,
						Path:    newCfg.Logging.File.Path,
					},
				})
			}

			if config.SectionChanged(sections, "storage") {
				a.log.Warn("storage config changed; restart required for changes to take effect")
			}

			if config.SectionChanged(sections, "scheduler") {
				prevEnabled := a.sched.Enabled()
				schedCfg, err := mapSchedulerConfig(newCfg)
				if err != nil {
					a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
				} else {
					a.sched.Apply(schedCfg)
					if prevEnabled && !schedCfg.Enabled {
						a.log.Info("scheduler disabled via config")
						stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
						a.sched.Stop(stopCtx)
						cancel()
					} else if !prevEnabled && schedCfg.Enabled {
						a.log.Info("scheduler enabled via config")
						a.sched.Start(ctx)
					}
				}
			}

			if config.SectionChanged(sections, "agent") {
				a.host.Apply(mapAgentConfig(newCfg))
				a.log.Info("agent config changed; requesting host restart",
					logx.Int("busy", a.gate.BusyCount()))
				if err := a.gate.RequestRestart(ctx); err != nil {
					a.log.Error("agent host restart failed", logx.Err(err))
				}
			}

			if config.SectionChanged(sections, "pprof") {
				ppc, err := mapPprofConfig(newCfg)
				if err != nil {
					a.log.Warn("invalid pprof config; keeping previous", logx.Err(err))
				} else {
					a.pprof.Reconfigure(ctx, ppc)
				}
			}

			a.log.Info("config reloaded", logx.String("changed", strings.Join(sections, ",")))
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// Bounded shutdown steps so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem > 0 && rem < max {
					max = rem
				}
			}
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("scheduler", 5*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("pprof", time.Second, func(c context.Context) error { a.pprof.Stop(c); return nil })
	step("agent", 6*time.Second, func(c context.Context) error { return a.host.Stop(c) })
	step("storage", time.Second, func(c context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}
