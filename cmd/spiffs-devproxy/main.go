package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"spiffs-devproxy/internal/banner"
	"spiffs-devproxy/internal/client"
	"spiffs-devproxy/internal/config"
	"spiffs-devproxy/internal/cstring"
	"spiffs-devproxy/internal/handler"
	"spiffs-devproxy/internal/metrics"
	"spiffs-devproxy/internal/middleware"
	"spiffs-devproxy/internal/service"
	"spiffs-devproxy/internal/static"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type cli struct {
	Serve   serveCmd         `kong:"cmd,default='withargs',help='Serve the local root and forward everything else to the device (default).'"`
	CString cstringCmd       `kong:"cmd,name='cstring',help='Convert a text file into C string literals.'"`
	Version kong.VersionFlag `kong:"help='Print version and exit.'"`
}

type serveCmd struct {
	config.CLI `kong:"embed"`
}

func (s *serveCmd) Run() error {
	flags := s.CLI
	fx.New(
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			l := &fxevent.SlogLogger{Logger: logger.With("component", "fx")}
			l.UseLogLevel(slog.LevelDebug)
			return l
		}),
		fx.Provide(
			func() *config.CLI { return &flags },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			metrics.New,
			newEcho,
			client.NewUpstreamClient,
			service.NewForwarder,
			static.NewResolver,
			handler.NewDispatchHandler,
			handler.NewHealthHandler,
		),
		fx.Invoke(handler.RegisterRoutes, startServer),
	).Run()
	return nil
}

type cstringCmd struct {
	File string `kong:"arg,optional,default='index.html',type='existingfile',help='Text file to convert.'"`
	Var  string `kong:"help='Wrap the literals in a static const char array with this name.'"`
	Out  string `kong:"short='o',type='path',help='Write to this file instead of stdout.'"`
}

func (c *cstringCmd) Run() (err error) {
	in, err := os.Open(c.File)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	var out io.Writer = os.Stdout
	if c.Out != "" {
		f, ferr := os.Create(c.Out)
		if ferr != nil {
			return ferr
		}
		defer func() {
			if cerr := f.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
		out = f
	}

	return cstring.Convert(out, in, cstring.Options{Var: c.Var})
}

func main() {
	var c cli
	ctx := kong.Parse(&c,
		kong.Name("spiffs-devproxy"),
		kong.Description("Development server for the device web UI: serves a local SPIFFS image and forwards everything else to the device."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run())
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

func newEcho(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Inbound timeouts to mitigate slow clients. WriteTimeout must leave room
	// for a full upstream exchange.
	e.Server.ReadTimeout = 30 * time.Second
	e.Server.WriteTimeout = time.Duration(cfg.Upstream.TimeoutSeconds)*time.Second + 30*time.Second
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLogger(logger))
	if cfg.Metrics.Enabled {
		e.Use(middleware.MetricsMiddleware(m))
		logger.Info("metrics enabled", "path", cfg.Metrics.Path)
	}
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))
	e.Use(middleware.SecurityHeaders())

	if cfg.Server.RateLimit.Enabled {
		e.Use(middleware.RateLimit(cfg.Server.RateLimit.RequestsPerSecond))
		logger.Info("rate limiter enabled", "rps", cfg.Server.RateLimit.RequestsPerSecond)
	}

	return e
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting server",
				"addr", addr,
				"root", cfg.Static.Root,
				"upstream", cfg.Upstream.Origin,
				"config", cfg.FilePath(),
			)
			banner.Print(os.Stdout, cfg)
			go func() {
				if err := e.Server.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			return e.Shutdown(ctx)
		},
	})
}
