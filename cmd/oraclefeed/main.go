package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/oraclefeed/internal/aggregator"
	"github.com/sawpanic/oraclefeed/internal/cache"
	"github.com/sawpanic/oraclefeed/internal/clients"
	"github.com/sawpanic/oraclefeed/internal/config"
	"github.com/sawpanic/oraclefeed/internal/decode"
	"github.com/sawpanic/oraclefeed/internal/domain"
	"github.com/sawpanic/oraclefeed/internal/health"
	httpiface "github.com/sawpanic/oraclefeed/internal/interfaces/http"
	"github.com/sawpanic/oraclefeed/internal/interfaces/ws"
	"github.com/sawpanic/oraclefeed/internal/metrics"
	"github.com/sawpanic/oraclefeed/internal/scheduler"
)

const (
	appName = "oraclefeed"
	version = "v0.1.0"
)

var symbolsPath string

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Real-time on-chain price oracle aggregation service",
		Version: version,
	}
	rootCmd.PersistentFlags().StringVar(&symbolsPath, "symbols", "config/symbols.yaml", "Path to the symbol universe YAML file")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the poll scheduler, HTTP/WebSocket API, and metrics server",
		RunE:  runServe,
	}

	priceCmd := &cobra.Command{
		Use:   "price <symbol>",
		Short: "Print the current aggregated price for one symbol and exit",
		Args:  cobra.ExactArgs(1),
		RunE:  runPrice,
	}

	rootCmd.AddCommand(serveCmd, priceCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("fatal error")
	}
}

// app bundles every component build() wires together, shared by serve and
// price so the one-shot command exercises the identical fetch/aggregate
// path that the long-running scheduler uses.
type app struct {
	symbols    []domain.SymbolSpec
	runtime    config.Runtime
	aggregator *aggregator.Aggregator
	cache      *cache.PriceCache
	health     *health.Tracker
	metrics    *metrics.Registry
	scheduler  *scheduler.Manager
	hub        *ws.Hub
}

func build() (*app, error) {
	symbols, err := config.LoadSymbols(symbolsPath)
	if err != nil {
		return nil, fmt.Errorf("load symbols: %w", err)
	}

	rt, err := config.LoadRuntime()
	if err != nil {
		return nil, fmt.Errorf("load runtime config: %w", err)
	}

	reg := metrics.NewRegistry()
	tracker := health.New()
	agg := aggregator.New(aggregator.NewDefaultConfig())
	priceCache := cache.New(cache.NewRedisStore(rt.CacheURL), 0).WithMetrics(reg)

	doer := solanaAccountDoer(rt.RPCURL)
	transport := clients.NewRPCTransport(doer, 5*time.Second)

	// Re-probe a tripped source after ~60 poll intervals rather than the
	// library's minute-scale default, so recovery is detected on roughly
	// the same cadence the scheduler already polls at.
	clientCfg := clients.NewDefaultConfig()
	if cooldown := rt.PollInterval * 60; cooldown > 0 {
		clientCfg.BreakerCooldown = cooldown
	}

	primaryClient := clients.New(domain.SourcePrimary, "primary", transport, decode.NewPrimaryDecoder(), clientCfg)
	secondaryClient := clients.New(domain.SourceSecondary, "secondary", transport, decode.NewSecondaryDecoder(), clientCfg)

	mgr := scheduler.New(symbols, []scheduler.SourceClient{primaryClient, secondaryClient}, agg, priceCache, tracker, reg, rt.PollInterval)
	hub := ws.NewHub(priceCache)

	return &app{
		symbols: symbols, runtime: rt, aggregator: agg, cache: priceCache,
		health: tracker, metrics: reg, scheduler: mgr, hub: hub,
	}, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := build()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := httpiface.NewServer(
		httpiface.DefaultServerConfig(a.runtime.Host, a.runtime.Port),
		a.scheduler, a.health, a.symbols, a.cache, a.hub, a.metrics,
	)
	if err != nil {
		return fmt.Errorf("build http server: %w", err)
	}

	errCh := make(chan error, 2)
	go func() {
		if err := a.scheduler.Start(ctx); err != nil && ctx.Err() == nil {
			errCh <- fmt.Errorf("scheduler: %w", err)
		}
	}()
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	log.Info().Str("addr", srv.Address()).Int("symbols", len(a.symbols)).Msg("oraclefeed serving")

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("component failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runPrice(cmd *cobra.Command, args []string) error {
	symbol := args[0]
	a, err := build()
	if err != nil {
		return err
	}

	var spec domain.SymbolSpec
	found := false
	for _, s := range a.symbols {
		if s.Name == symbol {
			spec, found = s, true
			break
		}
	}
	if !found {
		return &domain.UnknownSymbolError{Symbol: symbol}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	readings := a.scheduler.FetchOnce(ctx, spec)
	if len(readings) == 0 {
		return fmt.Errorf("no sources responded for %s", symbol)
	}

	out, err := a.aggregator.Combine(symbol, readings)
	if err != nil {
		return fmt.Errorf("aggregate %s: %w", symbol, err)
	}

	fmt.Printf("%s: %.8f (confidence ±%.8f, %d sources, ts=%d)\n",
		out.Symbol, out.Value(), out.ConfidenceValue(), len(readings), out.Timestamp)
	return nil
}
