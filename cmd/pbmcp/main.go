// Command pbmcp serves an MCP streamable HTTP endpoint backed by a
// PocketBase instance.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joeshaw/envdecode"

	"github.com/pbserve/pbmcp/internal/logctx"
	"github.com/pbserve/pbmcp/mcp"
	"github.com/pbserve/pbmcp/streaminghttp"
	"github.com/pbserve/pbmcp/tools"
)

type config struct {
	// PBURL is the base URL of the PocketBase instance. No default: a
	// transport with nowhere to dispatch to is a misconfiguration.
	PBURL string `env:"PB_URL,required"`

	// PBAdminIdentity and PBAdminPassword enable eager superuser auth for
	// sessions that never call the authenticate tool. Optional; without
	// them each session must authenticate explicitly.
	PBAdminIdentity string `env:"PB_ADMIN_IDENTITY"`
	PBAdminPassword string `env:"PB_ADMIN_PASSWORD"`

	Addr     string `env:"ADDR,default=:8090"`
	Path     string `env:"MCP_PATH,default=/mcp"`
	LogLevel string `env:"LOG_LEVEL,default=info"`

	ServerName    string `env:"SERVER_NAME,default=pbmcp"`
	ServerVersion string `env:"SERVER_VERSION,default=dev"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func main() {
	var cfg config
	if err := envdecode.StrictDecode(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log := slog.New(logctx.Handler{
		Handler: slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}),
	})
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server.fatal", slog.String("err", err.Error()))
		os.Exit(1)
	}
}

func run(cfg config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	set := tools.NewPocketBaseSet(tools.BackendConfig{
		URL:           cfg.PBURL,
		AdminIdentity: cfg.PBAdminIdentity,
		AdminPassword: cfg.PBAdminPassword,
		Logger:        log,
	})

	h, err := streaminghttp.New(cfg.Path, set,
		streaminghttp.WithLogger(log),
		streaminghttp.WithServerInfo(mcp.ImplementationInfo{
			Name:    cfg.ServerName,
			Version: cfg.ServerVersion,
		}),
	)
	if err != nil {
		return fmt.Errorf("build handler: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server.listen", slog.String("addr", cfg.Addr), slog.String("path", cfg.Path), slog.String("pb_url", cfg.PBURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("server.shutdown.start")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("server.shutdown.ok")
	return nil
}
