package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	server "stream-drop/server"
	"stream-drop/server/internal/config"
	"stream-drop/server/internal/cooldown"
	"stream-drop/server/internal/economy"
	servernet "stream-drop/server/internal/net"
	"stream-drop/server/internal/observability"
	"stream-drop/server/internal/policy"
	"stream-drop/server/internal/storage/sqlite"
	"stream-drop/server/internal/telemetry"
	"stream-drop/server/logging"
	loggingeconomy "stream-drop/server/logging/economy"
	loggingSinks "stream-drop/server/logging/sinks"
	"stream-drop/server/powerups/catalog"
)

const shutdownTimeout = 5 * time.Second

type Config struct {
	Logger   telemetry.Logger
	Settings config.Config
	// Listener replaces the listener on Settings.HTTPAddr when set.
	Listener net.Listener
}

// Run serves the command surface and drives the simulation until ctx is
// cancelled or a component fails.
func Run(ctx context.Context, cfg Config) error {
	telemetryLogger := cfg.Logger
	if telemetryLogger == nil {
		telemetryLogger = telemetry.WrapLogger(log.Default())
	}

	fallbackLogger := log.Default()
	if provider, ok := telemetryLogger.(interface{ StandardLogger() *log.Logger }); ok {
		if candidate := provider.StandardLogger(); candidate != nil {
			fallbackLogger = candidate
		}
	}

	settings := cfg.Settings
	logConfig := settings.Logging()
	sinks := map[string]logging.Sink{
		"console": loggingSinks.NewConsole(os.Stdout),
	}
	if logConfig.HasSink("json") {
		jsonSink, err := loggingSinks.OpenJSONFile(logConfig.JSON.FilePath, logConfig.JSON.FlushInterval)
		if err != nil {
			return fmt.Errorf("failed to open json log: %w", err)
		}
		sinks["json"] = jsonSink
	}

	router, err := logging.NewRouter(logConfig, logging.SystemClock{}, fallbackLogger, sinks)
	if err != nil {
		return fmt.Errorf("failed to construct logging router: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if cerr := router.Close(closeCtx); cerr != nil {
			telemetryLogger.Printf("failed to close logging router: %v", cerr)
		}
	}()

	if dir := filepath.Dir(settings.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create data dir: %w", err)
		}
	}
	store, err := sqlite.Open(ctx, settings.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			telemetryLogger.Printf("failed to close store: %v", cerr)
		}
	}()

	powerupCatalog, err := catalog.Load(settings.CatalogPath)
	if err != nil {
		telemetryLogger.Printf("using built-in powerup catalog: %v", err)
		loggingeconomy.CatalogFallback(ctx, router, loggingeconomy.CatalogFallbackPayload{
			Path:  settings.CatalogPath,
			Error: err.Error(),
		}, nil)
	}

	exempt := policy.NewAllowList(settings.Admins...)
	econ, err := economy.New(economy.Config{
		Store:     store,
		Pricing:   powerupCatalog,
		Exemption: exempt,
		Publisher: router,
	})
	if err != nil {
		return err
	}
	gate, err := cooldown.NewGate(store, nil, exempt)
	if err != nil {
		return err
	}

	hubCfg := settings.Hub()
	hubCfg.Logger = telemetryLogger
	hubCfg.Metrics = telemetry.WrapMetrics(router.Metrics())
	hub, err := server.NewHub(hubCfg, server.HubDeps{
		Economy:   econ,
		Cooldowns: gate,
		Catalog:   powerupCatalog,
		Publisher: router,
	})
	if err != nil {
		return fmt.Errorf("failed to construct hub: %w", err)
	}

	handler := servernet.NewHTTPHandler(hub, servernet.HTTPHandlerConfig{
		Logger:        telemetryLogger,
		Observability: observability.Config{EnablePprofTrace: settings.EnablePprof},
	})
	srv := &http.Server{Addr: settings.HTTPAddr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	listener := cfg.Listener
	if listener == nil {
		listener, err = net.Listen("tcp", settings.HTTPAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", settings.HTTPAddr, err)
		}
	}
	telemetryLogger.Printf("server listening on %s", listener.Addr())

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return hub.Run(groupCtx)
	})
	group.Go(func() error {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return group.Wait()
}
