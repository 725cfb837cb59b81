package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/tradekernel/internal/pipeline"
	"github.com/alanyoungcy/tradekernel/internal/server"
	"github.com/alanyoungcy/tradekernel/internal/server/handler"
	"github.com/alanyoungcy/tradekernel/internal/server/ws"
	"github.com/alanyoungcy/tradekernel/internal/trust"
)

// ServerMode serves the HTTP and WebSocket API.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// WorkerMode runs the scheduled trust refresh and dossier sweep without
// serving traffic.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting worker mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startRefresher(ctx, g, deps)
	a.startArchiver(ctx, g, deps)
	return g.Wait()
}

// FullMode runs the API and the background workers in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startRefresher(ctx, g, deps)
	a.startArchiver(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

func (a *App) startRefresher(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	r := trust.NewRefresher(deps.Trust, deps.Counterparties, deps.LockManager, deps.Metrics, trust.RefresherConfig{
		Schedule:    a.cfg.Trust.RefreshCron,
		Concurrency: a.cfg.Trust.RefreshConcurrency,
		PageSize:    a.cfg.Trust.RefreshPageSize,
		LockTTL:     a.cfg.Trust.LockTTL.Duration,
	}, a.logger)
	g.Go(func() error {
		return r.Run(ctx)
	})
}

// startArchiver is a no-op without object storage.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Dossiers == nil {
		return
	}
	arch := pipeline.NewArchiver(deps.Trades, deps.Dossiers, deps.Kernel, deps.LockManager, pipeline.ArchiverConfig{
		Schedule: a.cfg.S3.ArchiveCron,
		Lookback: a.cfg.S3.ArchiveLookback.Duration,
		LockTTL:  a.cfg.Trust.LockTTL.Duration,
	}, a.logger)
	g.Go(func() error {
		return arch.RunCron(ctx)
	})
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:           a.cfg.Mode,
		StartedAt:      time.Now().UTC(),
		AllowedOrigins: a.cfg.Server.CORSOrigins,
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	var dossiers handler.DossierReader
	if deps.Dossiers != nil {
		dossiers = deps.Dossiers
	}
	var inspector handler.InspectionAttestor
	if deps.Inspector != nil {
		inspector = deps.Inspector
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKeys:     a.cfg.Server.APIKeys,
		RateLimit:   a.cfg.Server.RateLimit,
	}, server.Handlers{
		Health:    handler.NewHealthHandler(a.cfg.Mode, deps.Checks, a.logger),
		Trades:    handler.NewTradeHandler(deps.Kernel, dossiers, a.logger),
		Consensus: handler.NewConsensusHandler(deps.Protocol, inspector, a.logger),
		Trust:     handler.NewTrustHandler(deps.Trust, a.logger),
		Fraud:     handler.NewFraudHandler(deps.Fraud, a.logger),
		Corridors: handler.NewCorridorHandler(deps.Estimator, a.logger),
		Metrics:   deps.Metrics.Handler(),
	}, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
