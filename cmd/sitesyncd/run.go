package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"sitesync/internal/config"
	"sitesync/internal/dispatcher"
	"sitesync/internal/fetcher"
	"sitesync/internal/metrics"
	"sitesync/internal/model"
	"sitesync/internal/orchestrator"
	"sitesync/internal/plugin"
	"sitesync/internal/retrypolicy"
	"sitesync/internal/runmeta"
	"sitesync/internal/sitelog"
	"sitesync/internal/store"
	"sitesync/internal/urlfilter"
	"sitesync/internal/worker"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metricsAddr is the listen address for the /metrics endpoint the run
// command exposes for the lifetime of the crawl, scraped the same way the
// teacher's own long-running server commands expose prometheus/client_golang
// collectors.
const metricsAddr = ":9090"

func newRunCmd() *cobra.Command {
	var (
		configPath       string
		localConfigPath  string
		sourceName       string
		resume           bool
		depthOverride    int
		parallelOverride int
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "start or resume a crawl for one configured source",
		RunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			v.SetEnvPrefix("SITESYNC")
			v.AutomaticEnv()

			cfg, err := config.Load(configPath, localConfigPath)
			if err != nil {
				return err
			}
			if p := v.GetString("storage_path"); p != "" {
				cfg.Storage.Path = p
			}
			if p := v.GetString("outputs_base_path"); p != "" {
				cfg.Outputs.BasePath = p
			}
			if lvl := v.GetString("log_level"); lvl != "" {
				cfg.Logging.Level = lvl
			}

			name := sourceName
			if name == "" {
				name = cfg.DefaultSource
			}
			source, ok := cfg.Source(name)
			if !ok {
				return fmt.Errorf("sitesyncd: source %q not found", name)
			}

			logger, err := sitelog.New(cfg.Logging.Path, cfg.Logging.NormalizedLevel())
			if err != nil {
				return err
			}

			st, err := store.Open(cfg.Storage.Path)
			if err != nil {
				return err
			}
			defer st.Close()

			var overrides orchestrator.Overrides
			if depthOverride >= 0 {
				overrides.Depth = &depthOverride
			}
			if parallelOverride > 0 {
				overrides.ParallelAgents = &parallelOverride
			}

			orch := &orchestrator.Orchestrator{Store: st, Crawler: cfg.Crawler}
			summary, err := orch.Run(source, resume, overrides)
			if err != nil {
				return err
			}
			logger.Info("run starting", "run_id", summary.Run.ID, "source", name, "resumed", summary.Resumed, "queued", summary.QueuedCount)
			color.Green("sitesyncd: run %d (%s) queued %d task(s)", summary.Run.ID, name, summary.QueuedCount)

			rules := urlfilter.Rules{}
			for domain, df := range source.AllowedDomains {
				rules[domain] = urlfilter.DomainRule{AllowPaths: df.AllowPaths, DenyPaths: df.DenyPaths}
			}
			filter := urlfilter.New(rules)

			reg := prometheus.NewRegistry()
			m := metrics.New(reg)

			metricsSrv := &http.Server{Addr: metricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
			go func() {
				if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("metrics server stopped", "error", err)
				}
			}()
			defer metricsSrv.Close()

			mediaFetcher := fetcher.NewHTTPMediaFetcher(filepath.Join(cfg.Outputs.BasePath, cfg.Outputs.MediaSubdir))
			pageFetcher := &fetcher.NullFetcher{}
			plugins := plugin.NewRegistry()

			fetchTimeout := time.Duration(0)
			if cfg.Crawler.FetchTimeoutSeconds != nil {
				fetchTimeout = time.Duration(*cfg.Crawler.FetchTimeoutSeconds * float64(time.Second))
			}

			retryCfg := retrypolicy.Config{
				MaxRetries:        cfg.Crawler.MaxRetries,
				BackoffMin:        time.Duration(cfg.Crawler.BackoffMinSeconds * float64(time.Second)),
				BackoffMax:        time.Duration(cfg.Crawler.BackoffMaxSeconds * float64(time.Second)),
				BackoffMultiplier: cfg.Crawler.BackoffMultiplier,
				FetchTimeout:      fetchTimeout,
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				select {
				case <-sigCh:
					logger.Info("shutdown requested")
					cancel()
				case <-ctx.Done():
				}
			}()

			workChan := dispatcher.Channel(summary.PagesPerAgent, summary.ParallelAgents)

			d := &dispatcher.Dispatcher{
				Store: st, Filter: filter, Metrics: m,
				RunID: summary.Run.ID, WorkerCount: summary.ParallelAgents,
				PagesPerAgent: summary.PagesPerAgent, LeaseSeconds: 60,
				MaxRetries: cfg.Crawler.MaxRetries, BackoffSeconds: int(cfg.Crawler.BackoffMinSeconds),
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return d.Run(gctx, workChan) })

			for i := 0; i < summary.ParallelAgents; i++ {
				w := &worker.Worker{
					ID: fmt.Sprintf("worker-%d", i), RunID: summary.Run.ID,
					Store: st, PageFetcher: pageFetcher, MediaFetcher: mediaFetcher,
					Plugins: plugins, Filter: filter, Retry: retryCfg, FetchTimeout: fetchTimeout,
					Metrics: m,
				}
				g.Go(func() error { return w.Run(gctx, workChan) })
			}

			runErr := g.Wait()

			if ctx.Err() != nil {
				st.ReleaseInProgressTasks(summary.Run.ID, "stopped")
				st.MarkRunStatus(summary.Run.ID, model.RunStopped)
			} else {
				st.MarkRunStatus(summary.Run.ID, model.RunCompleted)
			}

			counts, _ := st.TaskStatusCounts(summary.Run.ID)
			run, _ := st.GetRun(summary.Run.ID)

			artifactPath, metaErr := runmeta.Write(cfg.Outputs, runmeta.Document{
				Run: run, Source: source, Crawler: cfg.Crawler, Outputs: cfg.Outputs,
				TaskCounts: counts, RuntimeDenies: filter.RuntimeDenies(),
				Environment: runmeta.CurrentEnvironment(), WrittenAt: time.Now().UTC(),
			})
			if metaErr != nil {
				logger.Error("failed to write run metadata", "error", metaErr)
			} else {
				color.Cyan("sitesyncd: wrote run metadata to %s", artifactPath)
			}

			return runErr
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "config/default.yaml", "path to the default configuration document")
	cmd.Flags().StringVar(&localConfigPath, "local-config", "", "path to an optional local configuration overlay")
	cmd.Flags().StringVar(&sourceName, "source", "", "source name to crawl (defaults to default_source)")
	cmd.Flags().BoolVar(&resume, "resume", true, "resume the most recent non-terminal run for the source if one exists")
	cmd.Flags().IntVar(&depthOverride, "depth", -1, "override the source's configured depth (-1 means no override)")
	cmd.Flags().IntVar(&parallelOverride, "parallel", 0, "override the effective parallel agent count (0 means no override)")

	return cmd
}
