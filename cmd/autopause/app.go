package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"autopause/internal/config"
	"autopause/internal/detector"
	"autopause/internal/health"
	"autopause/internal/inventory"
	"autopause/internal/journal"
	"autopause/internal/logging"
	"autopause/internal/metrics"
	"autopause/internal/notify"
	"autopause/internal/publish"
	"autopause/internal/registry"
	"autopause/internal/trigger"
)

// app wires the engine and its optional sinks for the interactive shell.
type app struct {
	logger     *logging.Logger
	scanner    *inventory.Scanner
	subscriber notify.Subscriber
	debouncer  *trigger.Debouncer
	engine     *detector.Engine
	registry   *registry.Registry
	learner    *registry.Learner
	metrics    *metrics.Metrics

	journal   *journal.Journal
	publisher *publish.Publisher

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newScanner(logger *logging.Logger) *inventory.Scanner {
	return inventory.NewScanner(inventory.NewPlatformProvider(), logger.Component("inventory"))
}

func newApp(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*app, error) {
	key, err := cfg.TriggerKey()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	a := &app{
		logger:     logger,
		scanner:    newScanner(logger),
		subscriber: notify.NewPlatformSubscriber(logger.Component("notify"), cfg.Detection.EventBuffer),
		registry:   registry.New(),
		metrics:    metrics.New(),
		ctx:        ctx,
		cancel:     cancel,
	}

	a.debouncer = trigger.NewDebouncer(trigger.NewPlatformInjector(),
		trigger.WithWindow(cfg.DebounceWindow()),
		trigger.WithKey(key),
		trigger.WithLogger(logger.Component("trigger")),
		trigger.WithListener(consoleListener(os.Stdout)),
		trigger.WithListener(a.metrics),
	)

	if cfg.Journal.Enabled {
		j, err := journal.Open(cfg.Journal.Path, logger.Component("journal"))
		if err != nil {
			logger.Warn("trigger journal unavailable", "path", cfg.Journal.Path, "error", err)
		} else {
			a.journal = j
			a.debouncer.AddListener(j)
		}
	}

	if cfg.MQTT.Enabled {
		p, err := publish.Connect(cfg.MQTT, logger.Component("mqtt"))
		if err != nil {
			logger.Warn("mqtt publishing unavailable", "broker", cfg.MQTT.Broker, "error", err)
		} else {
			a.publisher = p
			a.debouncer.AddListener(p)
		}
	}

	a.engine = detector.NewEngine(a.scanner, a.subscriber, a.debouncer, detector.Options{
		PollInterval: cfg.PollInterval(),
		ForcePolling: cfg.Detection.ForcePolling,
		Logger:       logger.Component("detector"),
		Observer:     a.metrics,
	})
	a.learner = registry.NewLearner(a.subscriber, a.registry, logger.Component("registry"))

	if cfg.Metrics.Enabled {
		srv, err := metrics.Listen(cfg.Metrics.Listen, a.metrics, logger.Component("metrics"))
		if err != nil {
			logger.Warn("metrics endpoint unavailable", "error", err)
		} else {
			checker := a.healthChecker()
			srv.Handle("/healthz", checker.LivenessHandler())
			srv.Handle("/health", checker.Handler())
			logger.Debug("health checks registered", "components", checker.Names())

			a.wg.Add(1)
			go func() {
				defer a.wg.Done()
				if err := srv.Serve(ctx); err != nil {
					logger.Error("metrics endpoint stopped", "error", err)
				}
			}()
		}
	}

	logger.Info("autopause started",
		"version", Version,
		"trigger_key", key.String(),
		"debounce", cfg.DebounceWindow(),
		"force_polling", cfg.Detection.ForcePolling,
	)
	return a, nil
}

// healthChecker registers the detection session and the enabled sinks.
func (a *app) healthChecker() *health.Checker {
	checker := health.NewChecker()
	checker.RegisterFunc("detection", true, health.SessionCheck(a.engine.Active))
	if a.journal != nil {
		checker.RegisterFunc("journal", false, health.PingCheck(a.journal.Ping))
	}
	if a.publisher != nil {
		checker.RegisterFunc("mqtt", false, health.ConnectionCheck(a.publisher.Connected))
	}
	return checker
}

// watchConfig applies hot-reloadable settings on file changes.
func (a *app) watchConfig(loader *config.Loader) {
	loader.OnChange(a.applyConfig)
	if err := loader.Watch(); err != nil {
		a.logger.Warn("config hot reload disabled", "path", loader.Path(), "error", err)
		return
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-a.ctx.Done():
				return
			case err := <-loader.Errors():
				a.logger.Warn("config reload rejected", "error", err)
			}
		}
	}()
}

func (a *app) applyConfig(cfg *config.Config) {
	if level, err := logging.ParseLevel(cfg.Logging.Level); err == nil {
		a.logger.SetLevel(level)
	}
	a.debouncer.SetWindow(cfg.DebounceWindow())
	a.engine.SetForcePolling(cfg.Detection.ForcePolling)
	a.logger.Info("configuration reloaded",
		"level", cfg.Logging.Level,
		"debounce", cfg.DebounceWindow(),
		"force_polling", cfg.Detection.ForcePolling,
	)
}

// Close stops the active session and releases the sinks.
func (a *app) Close() {
	a.engine.Stop(detector.ReturnToMainMenu)
	a.cancel()

	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("closing mqtt publisher", "error", err)
		}
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.logger.Warn("closing journal", "error", err)
		}
	}
	a.wg.Wait()
}

// consoleListener prints the trigger line for every injected key press.
func consoleListener(w io.Writer) trigger.Listener {
	var mu sync.Mutex
	return trigger.ListenerFunc(func(ev trigger.Event) {
		if ev.Debounced {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprint(w, formatTriggerLine(ev))
		if ev.Err != nil {
			fmt.Fprintf(w, "%s   key injection failed: %v%s\r\n", colorRed, ev.Err, colorReset)
		}
	})
}

// formatTriggerLine renders the console notice. Lines end in CRLF because
// the terminal is in raw mode while listening.
func formatTriggerLine(ev trigger.Event) string {
	return fmt.Sprintf("%s[%s] DISCONNECTION DETECTED: %s%s\r\n",
		colorRed+colorBold, ev.Time.Format("15:04:05"), ev.Device, colorReset)
}
