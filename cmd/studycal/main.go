package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"studycal/internal/calendar"
	"studycal/internal/config"
	"studycal/internal/ics"
	appLog "studycal/internal/log"
	"studycal/internal/metrics"
	"studycal/internal/reminder"
	"studycal/internal/store"
	"studycal/internal/web"
)

const version = "0.3.0"

// flagConfig holds CLI flag values; non-empty values override the config.
type flagConfig struct {
	configPath string
	envFile    string
	listen     string
	store      string
	logLevel   string
	once       bool
	dump       bool
}

func main() {
	flags := parseFlags()

	if err := config.LoadDotEnv(flags.envFile); err != nil {
		appLog.Error("failed to load env file", err, "path", flags.envFile)
		os.Exit(1)
	}

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.store != "" {
		conf.Store = flags.store
	}
	if flags.logLevel != "" {
		conf.LogLevel = flags.logLevel
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("studycal starting", "version", version)
	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"week_start", conf.WeekStart,
		"store", conf.Store,
		"reminder_cron", conf.ReminderCron,
		"ics_count", len(conf.ICS),
		"ics_guard", conf.GuardICS(),
		"once", flags.once,
		"dump", flags.dump,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, conf, flags); err != nil {
		appLog.Error("studycal stopped with error", err)
		os.Exit(1)
	}
	appLog.Info("studycal exiting")
}

func run(ctx context.Context, conf *config.Config, flags flagConfig) error {
	loc := resolveLocationOrLocal(conf.Timezone)

	st, err := openStore(ctx, conf)
	if err != nil {
		return err
	}
	defer st.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mc := metrics.NewCollector(reg)

	fetchOpts := []ics.FetcherOption{ics.WithObserver(mc)}
	if !conf.GuardICS() {
		appLog.Warn("ICS SSRF guard disabled; subscriptions may reach private addresses")
		fetchOpts = append(fetchOpts, ics.WithHTTPClient(&http.Client{Timeout: 15 * time.Second}))
	}
	feed := ics.NewFeed(ics.NewFetcher(conf.ICSCacheDir, fetchOpts...), icsSources(conf), 0)

	svc := calendar.NewService(st,
		calendar.WithLocation(loc),
		calendar.WithWeekStart(calendar.ParseWeekStart(conf.WeekStart)),
		calendar.WithExternal(feed),
		calendar.WithMetrics(mc),
	)

	if flags.dump {
		doc, err := svc.Export(ctx, "studycal")
		if err != nil {
			return err
		}
		_, err = os.Stdout.WriteString(doc)
		return err
	}

	sched, err := reminder.NewScheduler(st, reminder.LogNotifier{}, reminder.Options{
		Spec:     conf.ReminderCron,
		Location: loc,
		Metrics:  mc,
	})
	if err != nil {
		return err
	}

	if flags.once {
		sent, err := sched.Scan(ctx)
		appLog.Info("single reminder scan finished", "sent", sent)
		return err
	}

	if err := sched.Start(); err != nil {
		return err
	}
	defer sched.Stop()

	srv := web.NewServer(conf, svc, web.WithMetrics(mc, reg), web.WithFeed(feed))
	defer srv.Close()

	httpServer := &http.Server{
		Addr:              conf.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		appLog.Info("signal received, shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func openStore(ctx context.Context, conf *config.Config) (store.Store, error) {
	switch conf.Store {
	case "memory":
		appLog.Warn("using in-memory store; events are lost on exit")
		return store.NewMemoryStore(), nil
	case "postgres":
		if conf.DatabaseURL == "" {
			return nil, errors.New("store=postgres requires database_url or STUDYCAL_DATABASE_URL")
		}
		return store.OpenPostgres(ctx, conf.DatabaseURL)
	default:
		return store.OpenFileStore(conf.DataPath)
	}
}

// icsSources builds fetch sources from config. A source without an ID is
// keyed by its name, or by its URL as a last resort.
func icsSources(conf *config.Config) []ics.Source {
	sources := make([]ics.Source, 0, len(conf.ICS))
	for _, csrc := range conf.ICS {
		if csrc.URL == "" {
			continue
		}
		id := csrc.ID
		if id == "" {
			if csrc.Name != "" {
				id = csrc.Name
			} else {
				id = csrc.URL
			}
		}
		sources = append(sources, ics.Source{ID: id, Name: csrc.Name, URL: csrc.URL})
	}
	return sources
}

func resolveLocationOrLocal(name string) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", name)
		return time.Local
	}
	return loc
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "./studycal.yaml", "Path to config file")
	flag.StringVar(&cfg.envFile, "env-file", ".env", "Optional .env file loaded before the config")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.store, "store", "", "Event store: file, postgres or memory (overrides config if set)")
	flag.StringVar(&cfg.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one reminder scan and exit")
	flag.BoolVar(&cfg.dump, "dump", false, "Write the ICS export of all events to stdout and exit")

	flag.Parse()

	return cfg
}
