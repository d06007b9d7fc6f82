// Command dnswasm runs one or more DNS listeners, each driving its
// configured plugin chain, per original_source/rubydns/src/lib.rs's
// run(): parse args, init logging, load config, build one server per
// configured listen address, serve until interrupted.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	"github.com/dnswasm/dnswasm/internal/chain"
	"github.com/dnswasm/dnswasm/internal/config"
	"github.com/dnswasm/dnswasm/internal/dnslog"
	"github.com/dnswasm/dnswasm/internal/dnsserver"
	"github.com/dnswasm/dnswasm/internal/isolate"
	"github.com/dnswasm/dnswasm/internal/metrics"
	"github.com/dnswasm/dnswasm/internal/sharedmap"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "dnswasm",
		Short: "Plugin-based DNS forwarder with WebAssembly guest plugins",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
		SilenceUsage: true,
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "dnswasm.yaml", "path to the configuration file")
	return cmd
}

func run(configPath string) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()
	dnslog.Init(logger)
	log := dnslog.New("main")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := isolate.NewRuntime(ctx)
	if err != nil {
		return fmt.Errorf("build wasm runtime: %w", err)
	}
	defer rt.Close(ctx)

	shared := sharedmap.New()

	servers, err := buildServers(ctx, rt, cfg, shared)
	if err != nil {
		return err
	}

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		metricsSrv = startMetricsServer(cfg.MetricsAddr, log)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var wg sync.WaitGroup
	for _, srv := range servers {
		srv := srv
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Serve(); err != nil {
				log.Errorw("server stopped", "error", err)
			}
		}()
	}

	<-sigCh
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	for _, srv := range servers {
		if err := srv.Stop(shutdownCtx); err != nil {
			log.Warnw("error stopping server", "error", err)
		}
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	wg.Wait()
	return nil
}

func buildServers(ctx context.Context, rt wazero.Runtime, cfg *config.Config, shared *sharedmap.Map) ([]*dnsserver.Server, error) {
	servers := make([]*dnsserver.Server, 0, len(cfg.Servers))
	for _, sc := range cfg.Servers {
		c, err := chain.Build(ctx, rt, cfg.PluginDir, sc.Plugins, shared)
		if err != nil {
			return nil, fmt.Errorf("build chain for %s: %w", sc.ListenAddr, err)
		}
		servers = append(servers, dnsserver.New(sc.ListenAddr, c))
	}
	return servers, nil
}

func startMetricsServer(addr string, log *zap.SugaredLogger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warnw("metrics server stopped", "error", err)
		}
	}()
	return srv
}
