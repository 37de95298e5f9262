package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"FluxDash/internal/handler/api"
	domrepo "FluxDash/internal/domain/repository"
	"FluxDash/internal/usecase"
	pkgcache "FluxDash/pkg/cache"
	pkgch "FluxDash/pkg/clickhouse"
	"FluxDash/pkg/config"
	xhttp "FluxDash/pkg/http"
	pkgkafka "FluxDash/pkg/kafka"
	applogger "FluxDash/pkg/logger"
)

// Deps are the components the App runs and closes. Optional ones are nil
// when the configured backend does not need them.
type Deps struct {
	HTTP      *xhttp.Server
	Collector *usecase.FluxCollector
	Processor *usecase.FluxProcessor
	Hub       *api.StreamHub
	Cache     pkgcache.Service
	Consumer  *pkgkafka.Consumer
	Handler   pkgkafka.MessageHandler
	Producer  *pkgkafka.Producer
	Storage   domrepo.Storage
	CHClient  *pkgch.Client
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg *config.Config
	log *applogger.Logger
	Deps
}

// New creates a new App instance with all dependencies.
func New(cfg *config.Config, log *applogger.Logger, deps Deps) *App {
	if log == nil {
		log = applogger.Nop()
	}
	return &App{cfg: cfg, log: log, Deps: deps}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		_ = a.Shutdown(context.Background())
		return err
	}

	<-ctx.Done()
	a.log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	return a.Shutdown(shutdownCtx)
}

// Start launches the consumer, the collector and the HTTP server.
func (a *App) Start(ctx context.Context) error {
	if a.Consumer != nil && a.Handler != nil {
		a.Consumer.RegisterHandler(a.Handler)
		if err := a.Consumer.Start(); err != nil {
			return fmt.Errorf("kafka consumer: %w", err)
		}
		a.log.Info("kafka consumer started", applogger.String("topic", a.Handler.Topic()))
	}

	if a.Collector != nil {
		if err := a.Collector.Start(ctx); err != nil {
			return fmt.Errorf("collector: %w", err)
		}
	}

	if err := a.HTTP.Start(); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	a.log.Info("app started",
		applogger.String("env", a.cfg.Environment),
		applogger.String("backend", a.cfg.Backend.Type),
		applogger.Int("port", a.cfg.Server.Port))
	return nil
}

// Shutdown stops every component in reverse dependency order.
func (a *App) Shutdown(ctx context.Context) error {
	start := time.Now()
	a.log.Info("shutting down")

	if a.HTTP != nil {
		if err := a.HTTP.Stop(ctx); err != nil {
			a.log.Error("http shutdown error", applogger.Error(err))
		}
	}
	if a.Hub != nil {
		a.Hub.Close()
	}
	if a.Collector != nil {
		if err := a.Collector.Shutdown(ctx); err != nil {
			a.log.Warn("collector stop error", applogger.Error(err))
		}
	}
	if a.Consumer != nil {
		if err := a.Consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	// flush aggregated logs while the producer is still open
	a.log.RemoveCollector()

	if a.Processor != nil {
		if err := a.Processor.Close(); err != nil {
			a.log.Warn("processor close error", applogger.Error(err))
		}
	}
	if a.Producer != nil {
		if err := a.Producer.Close(); err != nil {
			a.log.Warn("kafka producer close error", applogger.Error(err))
		}
	}
	if a.Storage != nil {
		if err := a.Storage.Close(); err != nil {
			a.log.Warn("storage close error", applogger.Error(err))
		}
	}
	if a.CHClient != nil {
		if err := a.CHClient.Close(); err != nil {
			a.log.Warn("clickhouse close error", applogger.Error(err))
		}
	}
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			a.log.Warn("cache close error", applogger.Error(err))
		}
	}

	a.log.Info("shutdown complete", applogger.Duration("took", time.Since(start)))
	return nil
}
