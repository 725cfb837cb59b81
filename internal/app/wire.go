package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/alanyoungcy/tradekernel/internal/blob/s3"
	"github.com/alanyoungcy/tradekernel/internal/cache/redis"
	"github.com/alanyoungcy/tradekernel/internal/config"
	"github.com/alanyoungcy/tradekernel/internal/consensus"
	"github.com/alanyoungcy/tradekernel/internal/corridor"
	"github.com/alanyoungcy/tradekernel/internal/crypto"
	"github.com/alanyoungcy/tradekernel/internal/domain"
	"github.com/alanyoungcy/tradekernel/internal/eventbus"
	"github.com/alanyoungcy/tradekernel/internal/fraud"
	"github.com/alanyoungcy/tradekernel/internal/kernel"
	"github.com/alanyoungcy/tradekernel/internal/metrics"
	"github.com/alanyoungcy/tradekernel/internal/notify"
	"github.com/alanyoungcy/tradekernel/internal/server/handler"
	"github.com/alanyoungcy/tradekernel/internal/store/memory"
	"github.com/alanyoungcy/tradekernel/internal/store/postgres"
	"github.com/alanyoungcy/tradekernel/internal/trust"
)

// counterpartyStore is satisfied by both store drivers' counterparty views.
type counterpartyStore interface {
	domain.CounterpartyStore
	domain.IdentityStore
}

// Dependencies bundles everything the run modes need. It is constructed by
// Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	Trades         domain.TradeStore
	Consensus      domain.ConsensusStore
	TrustScores    domain.TrustStore
	Counterparties counterpartyStore
	Findings       domain.FraudStore
	Corridors      domain.CorridorStore

	// Caches and coordination
	Actions     domain.ActionLog
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Dossiers is nil when object storage is disabled.
	Dossiers *s3blob.DossierArchive

	Notifier  *notify.Notifier
	Metrics   *metrics.Metrics
	Inspector *crypto.Attestor // nil without an inspection key
	Checks    map[string]handler.Pinger

	// Engines
	Kernel    *kernel.Kernel
	Protocol  *consensus.Protocol
	Trust     *trust.Engine
	Fraud     *fraud.Engine
	Estimator *corridor.Estimator
}

// Wire constructs every dependency from cfg and returns a cleanup function
// that releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{
		Metrics: metrics.New(),
		Checks:  map[string]handler.Pinger{},
	}

	// --- Stores ---
	switch strings.ToLower(cfg.Store.Driver) {
	case "postgres":
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Database.DSN,
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			Database: cfg.Database.Database,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: cfg.Database.PoolMaxConns,
			MinConns: cfg.Database.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pg.Close)
		if cfg.Database.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		pool := pg.Pool()
		deps.Trades = postgres.NewTradeStore(pool)
		deps.Consensus = postgres.NewConsensusStore(pool)
		deps.TrustScores = postgres.NewTrustStore(pool)
		deps.Counterparties = postgres.NewCounterpartyStore(pool)
		deps.Findings = postgres.NewFraudStore(pool)
		deps.Corridors = postgres.NewCorridorStore(pool)
		deps.Checks["postgres"] = pg.Ping
	default:
		db := memory.New()
		deps.Trades = db.Trades()
		deps.Consensus = db.Consensus()
		deps.TrustScores = db.Trust()
		deps.Counterparties = db.Counterparties()
		deps.Findings = db.Fraud()
		deps.Corridors = db.Corridors()
		logger.WarnContext(ctx, "using in-memory store; state is lost on restart")
	}

	// --- Redis, with in-process fallbacks ---
	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = rc.Close() })
		deps.Actions = redis.NewActionLog(rc, cfg.Redis.ActionRetention.Duration)
		deps.RateLimiter = redis.NewRateLimiter(rc)
		deps.LockManager = redis.NewLockManager(rc)
		deps.SignalBus = redis.NewSignalBus(rc)
		deps.Checks["redis"] = rc.Ping
	} else {
		deps.Actions = memory.NewActionLog()
		deps.RateLimiter = memory.NewRateLimiter()
		deps.LockManager = memory.NewLockManager()
		deps.SignalBus = memory.NewSignalBus()
	}

	// --- Object storage ---
	if cfg.S3.Enabled {
		sc, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Dossiers = s3blob.NewDossierArchive(s3blob.NewWriter(sc), s3blob.NewReader(sc), logger)
		deps.Checks["s3"] = sc.Health
	}

	deps.Notifier = notify.NewNotifier(notifySenders(cfg.Notify), cfg.Notify.Events, logger)

	if err := wireEngines(cfg, deps, logger); err != nil {
		return fail(err)
	}
	return deps, cleanup, nil
}

func notifySenders(cfg config.NotifyConfig) []notify.Sender {
	var senders []notify.Sender
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.DiscordWebhookURL))
	}
	if cfg.WebhookURL != "" {
		senders = append(senders, notify.NewWebhookSender(cfg.WebhookURL))
	}
	return senders
}

// wireEngines builds the scoring engines, the consensus protocol and the
// kernel on top of the stores in deps.
func wireEngines(cfg *config.Config, deps *Dependencies, logger *slog.Logger) error {
	publisher := eventbus.NewPublisher(deps.SignalBus, logger)

	deps.Trust = trust.NewEngine(deps.Counterparties, deps.TrustScores, logger)
	deps.Estimator = corridor.NewEstimator(deps.Corridors, logger)

	var model fraud.DocumentModel
	if cfg.Fraud.ModelURL != "" {
		var signer *crypto.RequestSigner
		if cfg.Fraud.ModelSecret != "" {
			signer = &crypto.RequestSigner{KeyID: cfg.Fraud.ModelKeyID, Secret: cfg.Fraud.ModelSecret}
		}
		model = fraud.NewHTTPModel(cfg.Fraud.ModelURL, signer, cfg.Fraud.ModelTimeout.Duration)
	}
	deps.Fraud = fraud.NewEngine(fraud.Config{
		TrustedHosts:      cfg.Fraud.TrustedHosts,
		VelocityWindow:    cfg.Fraud.VelocityWindow.Duration,
		VelocityThreshold: cfg.Fraud.VelocityThreshold,
	}, fraud.Deps{
		Model:      model,
		Identities: deps.Counterparties,
		Actions:    deps.Actions,
		Findings:   deps.Findings,
		Events:     deps.Trades,
		Notifier:   deps.Notifier,
		Metrics:    deps.Metrics,
	}, logger)

	ccfg, err := consensusConfig(cfg.Consensus, deps)
	if err != nil {
		return err
	}
	deps.Protocol = consensus.New(ccfg, consensus.Deps{
		Trades:    deps.Trades,
		Store:     deps.Consensus,
		Publisher: publisher,
		Notifier:  deps.Notifier,
		Metrics:   deps.Metrics,
	}, logger)

	kcfg := kernel.DefaultConfig()
	kcfg.TrustFloor = cfg.Kernel.TrustFloor
	kcfg.FraudCeiling = cfg.Kernel.FraudCeiling
	kcfg.CorridorFloor = cfg.Kernel.CorridorFloor

	var sink kernel.DossierSink
	if deps.Dossiers != nil {
		sink = deps.Dossiers
	}
	deps.Kernel = kernel.New(kcfg, kernel.Deps{
		Trades:    deps.Trades,
		Consensus: deps.Consensus,
		Trust:     deps.Trust,
		Velocity:  deps.Fraud,
		Corridor:  deps.Estimator,
		Publisher: publisher,
		Notifier:  deps.Notifier,
		Dossiers:  sink,
		Metrics:   deps.Metrics,
	}, logger)
	return nil
}

// consensusConfig converts the attestation policy and loads the inspection
// key. The inspection key's address is always an accepted inspection
// attestor.
func consensusConfig(cfg config.ConsensusConfig, deps *Dependencies) (consensus.Config, error) {
	out := consensus.Config{Attestors: make(map[domain.Party][]common.Address, len(cfg.Attestors))}
	for _, p := range cfg.AttestationRequired {
		out.AttestationRequired = append(out.AttestationRequired, domain.Party(p))
	}
	for party, addrs := range cfg.Attestors {
		for _, a := range addrs {
			out.Attestors[domain.Party(party)] = append(out.Attestors[domain.Party(party)], common.HexToAddress(a))
		}
	}

	key, err := crypto.KeySource{
		RawKey:   cfg.InspectionKey,
		KeyFile:  cfg.InspectionKeyFile,
		Password: cfg.InspectionKeyPassword,
	}.Resolve()
	if err != nil {
		return consensus.Config{}, fmt.Errorf("wire: inspection key: %w", err)
	}
	if key == "" {
		return out, nil
	}
	att, err := crypto.NewAttestor(key)
	if err != nil {
		return consensus.Config{}, fmt.Errorf("wire: inspection attestor: %w", err)
	}
	deps.Inspector = att
	out.Attestors[domain.PartyInspection] = append(out.Attestors[domain.PartyInspection], att.Address())
	return out, nil
}
