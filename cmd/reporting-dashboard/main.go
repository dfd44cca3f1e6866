// Package main implements the entry point for the infrastructure reporting
// dashboard. The dashboard polls several upstream systems (download mirrors,
// the issue tracker, GitHub Actions, mail relays, uptime monitors, the host
// inventory) on fixed intervals, caches the aggregates in memory and serves
// them over an authenticated JSON API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/apache/infrastructure-reporting-dashboard/auth"
	"github.com/apache/infrastructure-reporting-dashboard/builds"
	"github.com/apache/infrastructure-reporting-dashboard/config"
	"github.com/apache/infrastructure-reporting-dashboard/downloads"
	"github.com/apache/infrastructure-reporting-dashboard/health"
	"github.com/apache/infrastructure-reporting-dashboard/jira"
	"github.com/apache/infrastructure-reporting-dashboard/machines"
	"github.com/apache/infrastructure-reporting-dashboard/mailstats"
	"github.com/apache/infrastructure-reporting-dashboard/metric"
	"github.com/apache/infrastructure-reporting-dashboard/pkg/tlsutil"
	"github.com/apache/infrastructure-reporting-dashboard/projects"
	"github.com/apache/infrastructure-reporting-dashboard/pubsub"
	"github.com/apache/infrastructure-reporting-dashboard/scheduler"
	"github.com/apache/infrastructure-reporting-dashboard/search"
	"github.com/apache/infrastructure-reporting-dashboard/server"
	"github.com/apache/infrastructure-reporting-dashboard/uptime"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "reporting-dashboard"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg, logger, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	metrics := metric.NewRegistry()
	monitor := health.NewMonitor()

	events, err := connectEventStream(ctx, cfg, logger)
	if err != nil {
		// Trigger loss only delays scans; the intervals still run.
		slog.Warn("Event stream unavailable, running on intervals only", "error", err)
	}
	if events != nil {
		defer events.Close()
	}

	g, ctx := errgroup.WithContext(ctx)

	lister := projects.NewLister(cfg.Reporting.Downloads.ProjectsList, logger)
	sources := server.Sources{
		TicketRetentionDays: cfg.Reporting.Jira.RetentionDays,
		UptimeSeries:        cfg.Reporting.Uptime.Series,
	}

	if err := setupDownloads(ctx, g, cfg, logger, lister, &sources); err != nil {
		return err
	}
	setupJira(ctx, g, cfg, logger, metrics, monitor, events, &sources)
	if err := setupBuilds(ctx, g, cfg, logger, lister, events, &sources); err != nil {
		return err
	}
	setupScanners(ctx, g, cfg, logger, metrics, monitor, &sources)

	// HTTP API
	tlsConfig, err := tlsutil.LoadServerConfig(cfg.Server.TLS)
	if err != nil {
		return fmt.Errorf("load TLS config: %w", err)
	}
	sessions := auth.NewManager(cfg.Auth.Secret, cfg.Auth.SessionTimeout)
	api := server.NewServer(sessions, sources,
		server.WithLogger(logger),
		server.WithHealthMonitor(monitor),
		server.WithMetrics(metrics),
		server.WithTLSConfig(tlsConfig))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Bind, cfg.Server.Port)
	g.Go(func() error {
		slog.Info("Serving API", "addr", addr)
		return api.ListenAndServe(ctx, addr)
	})

	slog.Info("Dashboard started")
	err = g.Wait()
	slog.Info("Dashboard shutdown complete")
	return err
}

// initializeCLI parses flags and sets up logging
func initializeCLI() (*CLIConfig, *slog.Logger, bool, error) {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, nil, true, nil
	}

	if cliCfg.ShowHelp {
		printHelp()
		return nil, nil, true, nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting reporting dashboard",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	return cliCfg, logger, false, nil
}

// connectEventStream connects to the event stream if one is configured and
// any scanner wants triggers from it.
func connectEventStream(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pubsub.Client, error) {
	if cfg.NATS.URL == "" {
		return nil, nil
	}
	if cfg.Reporting.Jira.PubSubSubject == "" && cfg.GitHub.PubSubSubject == "" {
		return nil, nil
	}

	client, err := pubsub.NewClient(cfg.NATS.URL, pubsub.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	slog.Info("Event stream connected", "url", cfg.NATS.URL)
	return client, nil
}

// setupDownloads wires the download statistics aggregator and, when a data
// directory is configured, the monthly report writer.
func setupDownloads(
	ctx context.Context,
	g *errgroup.Group,
	cfg *config.Config,
	logger *slog.Logger,
	lister *projects.Lister,
	sources *server.Sources,
) error {
	client := search.NewClient(cfg.Reporting.Downloads.DataURL, search.WithLogger(logger))
	agg, err := downloads.NewAggregator(client, downloads.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("download aggregator: %w", err)
	}
	sources.Downloads = agg

	if dataDir := cfg.Reporting.Downloads.DataDir; dataDir != "" {
		writer := downloads.NewReportWriter(agg, lister, dataDir, logger)
		g.Go(func() error {
			writer.Run(ctx)
			return nil
		})
	}
	return nil
}

// setupJira wires the issue scanner, its scheduler and any event triggers.
func setupJira(
	ctx context.Context,
	g *errgroup.Group,
	cfg *config.Config,
	logger *slog.Logger,
	metrics *metric.Registry,
	monitor *health.Monitor,
	events *pubsub.Client,
	sources *server.Sources,
) {
	jcfg := cfg.Reporting.Jira
	if jcfg.APIURL == "" {
		slog.Info("Issue scanner disabled, no API URL configured")
		return
	}

	policy := jira.Policy{
		TicketURL:       jcfg.TicketURL,
		SLAs:            make(map[string]jira.SLA, len(jcfg.SLAs)),
		ExemptTypes:     jcfg.NoSLAs,
		ApplyStatuses:   jcfg.SLAApplyStatuses,
		DiscountWeekend: jcfg.SLADiscountWeekend,
	}
	for priority, sla := range jcfg.SLAs {
		policy.SLAs[priority] = jira.SLA{Respond: sla.Respond, Resolve: sla.Resolve}
	}

	store := jira.NewStore()
	scanner := jira.NewScanner(jcfg.APIURL, jcfg.Project, jcfg.Token, policy, store,
		jira.WithScannerLogger(logger),
		jira.WithScanDays(jcfg.ScanDays))
	sources.Tickets = store

	sched := scheduler.New("jira", jcfg.ScanInterval, scanner.Scan,
		scheduler.WithLogger(logger),
		scheduler.WithMetrics(metrics.Scans),
		scheduler.WithHealthMonitor(monitor))
	g.Go(func() error {
		sched.Run(ctx)
		return nil
	})

	if events != nil && jcfg.PubSubSubject != "" {
		stream, err := events.Subscribe(ctx, jcfg.PubSubSubject)
		if err != nil {
			slog.Warn("Issue trigger subscription failed", "error", err)
			return
		}
		g.Go(func() error {
			sched.Consume(ctx, eventTriggers(ctx, stream))
			return nil
		})
	}
}

// setupBuilds wires the GitHub Actions run store, the event-driven collector
// and the windowed query cache. A missing data directory disables the module.
func setupBuilds(
	ctx context.Context,
	g *errgroup.Group,
	cfg *config.Config,
	logger *slog.Logger,
	lister *projects.Lister,
	events *pubsub.Client,
	sources *server.Sources,
) error {
	if cfg.GitHub.DataDir == "" {
		slog.Info("Build scanner disabled, no data directory configured")
		return nil
	}

	store, err := builds.OpenStore(filepath.Join(cfg.GitHub.DataDir, "ghactions.db"))
	if err != nil {
		return fmt.Errorf("open build store: %w", err)
	}
	g.Go(func() error {
		<-ctx.Done()
		return store.Close()
	})

	cache := builds.NewCache(store, lister, logger)
	sources.Builds = cache
	g.Go(func() error {
		cache.Run(ctx)
		return nil
	})

	if events != nil && cfg.GitHub.PubSubSubject != "" && cfg.GitHub.ReadToken != "" {
		collector := builds.NewCollector(cfg.GitHub.ReadToken, store,
			builds.WithCollectorLogger(logger))
		stream, err := events.Subscribe(ctx, cfg.GitHub.PubSubSubject)
		if err != nil {
			slog.Warn("Build event subscription failed", "error", err)
			return nil
		}
		g.Go(func() error {
			collector.Consume(ctx, stream)
			return nil
		})
	}
	return nil
}

// setupScanners wires the interval-only scanners: mail queues, uptime and
// host fingerprints.
func setupScanners(
	ctx context.Context,
	g *errgroup.Group,
	cfg *config.Config,
	logger *slog.Logger,
	metrics *metric.Registry,
	monitor *health.Monitor,
	sources *server.Sources,
) {
	runScheduler := func(sched *scheduler.Scheduler) {
		g.Go(func() error {
			sched.Run(ctx)
			return nil
		})
	}

	if hosts := cfg.Reporting.MailStats.Hosts; len(hosts) > 0 {
		scanner := mailstats.NewScanner(hosts, logger)
		sources.Mail = scanner
		runScheduler(scheduler.New("mailstats", mailstats.ScanInterval, scanner.Scan,
			scheduler.WithLogger(logger),
			scheduler.WithMetrics(metrics.Scans),
			scheduler.WithHealthMonitor(monitor)))
	}

	if ucfg := cfg.Reporting.Uptime; ucfg.SummaryURL != "" {
		scanner := uptime.NewScanner(ucfg.SummaryURL, ucfg.HostURL, ucfg.ResultsURL, logger)
		sources.Uptime = scanner
		runScheduler(scheduler.New("uptime", uptime.ScanInterval, scanner.Scan,
			scheduler.WithLogger(logger),
			scheduler.WithMetrics(metrics.Scans),
			scheduler.WithHealthMonitor(monitor)))
	}

	if mcfg := cfg.Reporting.Machines; mcfg.IPDataURL != "" {
		scanner := machines.NewScanner(mcfg.IPDataURL, mcfg.Domain, mcfg.IgnoreHosts,
			machines.WithLogger(logger))
		sources.Machines = scanner
		runScheduler(scheduler.New("machines", machines.ScanInterval, scanner.Scan,
			scheduler.WithLogger(logger),
			scheduler.WithMetrics(metrics.Scans),
			scheduler.WithHealthMonitor(monitor)))
	}
}

// eventTriggers converts an event stream into bare scan triggers.
func eventTriggers(ctx context.Context, events <-chan pubsub.Event) <-chan struct{} {
	triggers := make(chan struct{}, 1)
	go func() {
		defer close(triggers)
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-events:
				if !ok {
					return
				}
				select {
				case triggers <- struct{}{}:
				default:
				}
			}
		}
	}()
	return triggers
}

// printHelp prints help information
func printHelp() {
	printDetailedHelp()
}
