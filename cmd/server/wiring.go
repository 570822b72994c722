package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"remitgate/internal/audit"
	audithandler "remitgate/internal/audit/handler"
	auditfile "remitgate/internal/audit/store/file"
	auditmemory "remitgate/internal/audit/store/memory"
	auditpostgres "remitgate/internal/audit/store/postgres"
	"remitgate/internal/audit/stream"
	"remitgate/internal/compliance"
	compliancehandler "remitgate/internal/compliance/handler"
	compliancemetrics "remitgate/internal/compliance/metrics"
	"remitgate/internal/compliance/models"
	"remitgate/internal/compliance/store/flags"
	"remitgate/internal/compliance/store/profile"
	"remitgate/internal/ledger"
	"remitgate/internal/ledger/evm"
	ledgermemory "remitgate/internal/ledger/memory"
	"remitgate/internal/platform/config"
	"remitgate/internal/platform/metrics"
	"remitgate/internal/platform/postgres"
	platformredis "remitgate/internal/platform/redis"
	ratelimitmw "remitgate/internal/ratelimit/middleware"
	ratelimitmodels "remitgate/internal/ratelimit/models"
	"remitgate/internal/ratelimit/store/bucket"
	"remitgate/internal/risk"
	"remitgate/internal/settlement"
	settlementhandler "remitgate/internal/settlement/handler"
	settlementmetrics "remitgate/internal/settlement/metrics"
	"remitgate/internal/settlement/ports"
	"remitgate/internal/settlement/store/cursor"
	"remitgate/internal/settlement/store/pending"
	httptransport "remitgate/internal/transport/http"
	id "remitgate/pkg/domain"
)

// topicPartitions and topicReplication are used when bootstrapping topics.
const (
	topicPartitions  = 3
	topicReplication = 1
)

type application struct {
	router     http.Handler
	reconciler *settlement.Reconciler
	relay      *settlement.Relay
	closers    []func() error
	log        *slog.Logger
}

func (a *application) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// close releases resources in reverse acquisition order.
func (a *application) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("close failed", "error", err)
		}
	}
}

type flagStore interface {
	IsFlagged(ctx context.Context, role models.Role, addr id.Address) (bool, error)
	Flag(ctx context.Context, role models.Role, addr id.Address, reason string) error
	Unflag(ctx context.Context, role models.Role, addr id.Address) error
}

func build(ctx context.Context, cfg config.Config, log *slog.Logger) (app *application, err error) {
	app = &application{log: log}
	defer func() {
		if err != nil {
			app.close()
		}
	}()

	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	health := map[string]httptransport.HealthCheck{}
	if db != nil {
		app.onClose(db.Close)
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			return nil, err
		}
		health["postgres"] = db.PingContext
	}

	rdb, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	if rdb != nil {
		app.onClose(rdb.Close)
		health["redis"] = rdb.Health
	}

	l, err := buildLedger(ctx, cfg.Ledger, log)
	if err != nil {
		return nil, err
	}

	recorder, err := buildAudit(ctx, app, cfg, db, log)
	if err != nil {
		return nil, err
	}

	scorer, err := buildScorer(cfg.Risk)
	if err != nil {
		return nil, err
	}
	log.Info("risk rules loaded", "version", scorer.Version(), "threshold", scorer.Threshold())

	profiles := buildProfiles(cfg, db, rdb, log)
	flagSet, err := buildFlags(ctx, cfg.Compliance, db, rdb)
	if err != nil {
		return nil, err
	}

	gate, err := compliance.New(profiles, scorer,
		compliance.WithFlagChecker(flagSet),
		compliance.WithLogger(log),
		compliance.WithMetrics(compliancemetrics.New()),
	)
	if err != nil {
		return nil, err
	}

	sm := settlementmetrics.New()
	var pendingStore ports.PendingStore = pending.NewInMemory()
	var cursorStore ports.CursorStore = cursor.NewInMemory(0)
	if rdb != nil {
		pendingStore = pending.NewRedis(rdb)
		cursorStore = cursor.NewRedis(rdb, 0)
	}

	svc, err := settlement.New(gate, l, recorder,
		settlement.WithLogger(log),
		settlement.WithMetrics(sm),
		settlement.WithPendingStore(pendingStore),
		settlement.WithCurrencies(cfg.Currencies...),
		settlement.WithConfirmTimeout(cfg.Ledger.ConfirmTimeout),
	)
	if err != nil {
		return nil, err
	}

	app.reconciler, err = settlement.NewReconciler(l, pendingStore, recorder,
		settlement.WithReconcilerLogger(log),
		settlement.WithReconcilerMetrics(sm),
		settlement.WithReconcileInterval(cfg.Ledger.ReconcileInterval),
	)
	if err != nil {
		return nil, err
	}

	relayOpts := []settlement.RelayOption{
		settlement.WithRelayLogger(log),
		settlement.WithRelayMetrics(sm),
		settlement.WithPollInterval(cfg.Ledger.EventPollInterval),
	}
	if len(cfg.Kafka.Brokers) > 0 {
		pub, err := stream.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.ClientID, cfg.Kafka.LedgerEventTopic, log)
		if err != nil {
			return nil, err
		}
		app.onClose(pub.Close)
		if err := pub.EnsureTopic(ctx, topicPartitions, topicReplication); err != nil {
			return nil, err
		}
		relayOpts = append(relayOpts, settlement.WithPublisher(pub))
	}
	app.relay, err = settlement.NewRelay(l, cursorStore, relayOpts...)
	if err != nil {
		return nil, err
	}

	if cfg.Server.AdminToken == "" {
		log.Warn("REMIT_ADMIN_TOKEN is unset; admin endpoints will reject every request")
	}
	app.router = httptransport.NewRouter(httptransport.Deps{
		Logger:     log,
		Metrics:    metrics.New(),
		AdminToken: cfg.Server.AdminToken,
		RateLimit:  buildRateLimit(cfg.RateLimit, rdb, log).RateLimit,
		Public: []httptransport.PublicRoutes{
			settlementhandler.New(svc, log),
		},
		Admin: []httptransport.AdminRoutes{
			audithandler.New(recorder, log),
			compliancehandler.New(profiles, flagSet, log),
		},
		Health: health,
	})
	return app, nil
}

func buildLedger(ctx context.Context, cfg config.LedgerConfig, log *slog.Logger) (ledger.Ledger, error) {
	switch strings.ToLower(cfg.Driver) {
	case "memory":
		l := ledgermemory.New(
			ledgermemory.WithFinalityDelay(cfg.FinalityDelay),
			ledgermemory.WithPollInterval(cfg.PollInterval),
		)
		if err := l.MintAll(cfg.DevBalances); err != nil {
			return nil, fmt.Errorf("ledger dev balances: %w", err)
		}
		log.Warn("using in-memory ledger simulator", "funded_accounts", len(cfg.DevBalances))
		return l, nil
	case "evm":
		return evm.Dial(ctx, cfg.RPCURL, cfg.EscrowAddress, cfg.TokenAddress,
			evm.WithLogger(log),
			evm.WithPollInterval(cfg.PollInterval),
		)
	default:
		return nil, fmt.Errorf("unknown ledger driver %q", cfg.Driver)
	}
}

func buildAudit(ctx context.Context, app *application, cfg config.Config, db *sql.DB, log *slog.Logger) (*audit.Recorder, error) {
	var store audit.Store
	switch strings.ToLower(cfg.Audit.Driver) {
	case "memory":
		store = auditmemory.NewInMemoryStore()
	case "file":
		fs, err := auditfile.Open(cfg.Audit.FilePath)
		if err != nil {
			return nil, err
		}
		app.onClose(fs.Close)
		if err := fs.Verify(ctx); err != nil {
			return nil, fmt.Errorf("audit trail %s failed verification: %w", cfg.Audit.FilePath, err)
		}
		store = fs
	case "postgres":
		if db == nil {
			return nil, errors.New("audit driver postgres requires DATABASE_URL")
		}
		store = auditpostgres.New(db)
	default:
		return nil, fmt.Errorf("unknown audit driver %q", cfg.Audit.Driver)
	}

	opts := []audit.Option{
		audit.WithLogger(log),
		audit.WithMetrics(audit.NewMetrics(prometheus.DefaultRegisterer)),
	}
	if len(cfg.Kafka.Brokers) > 0 {
		pub, err := stream.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.ClientID, cfg.Kafka.AuditTopic, log)
		if err != nil {
			return nil, err
		}
		if err := pub.EnsureTopic(ctx, topicPartitions, topicReplication); err != nil {
			_ = pub.Close()
			return nil, err
		}
		opts = append(opts, audit.WithStreamer(stream.NewAuditStreamer(pub), cfg.Audit.StreamBuffer))
	}
	recorder := audit.NewRecorder(store, opts...)
	app.onClose(recorder.Close)
	return recorder, nil
}

func buildScorer(cfg config.RiskConfig) (*risk.Scorer, error) {
	rs := risk.DefaultRuleSet()
	if cfg.RulesFile != "" {
		loaded, err := risk.LoadRuleSet(cfg.RulesFile)
		if err != nil {
			return nil, err
		}
		rs = loaded
	}
	if cfg.Threshold > 0 {
		rs.Threshold = cfg.Threshold
	}
	return risk.NewScorer(rs)
}

func buildProfiles(cfg config.Config, db *sql.DB, rdb *platformredis.Client, log *slog.Logger) profile.Repository {
	var repo profile.Repository = profile.NewInMemory()
	if db != nil {
		repo = profile.NewPostgres(db)
	}
	if rdb != nil {
		repo = profile.NewRedisCache(repo, rdb, cfg.Compliance.ProfileCacheTTL, log)
	}
	return repo
}

// buildFlags prefers postgres, then redis, then memory. Configured addresses
// are seeded into whichever store is active.
func buildFlags(ctx context.Context, cfg config.ComplianceConfig, db *sql.DB, rdb *platformredis.Client) (flagStore, error) {
	seeds := map[models.Role][]string{
		models.RoleSender:    cfg.FlaggedSenders,
		models.RoleRecipient: cfg.FlaggedRecipients,
	}
	switch {
	case db != nil:
		store := flags.NewPostgres(db)
		for role, addrs := range seeds {
			for _, raw := range addrs {
				addr, err := id.ParseAddress(raw)
				if err != nil {
					return nil, fmt.Errorf("flagged %s address: %w", role, err)
				}
				if err := store.Flag(ctx, role, addr, "configured"); err != nil {
					return nil, err
				}
			}
		}
		return store, nil
	case rdb != nil:
		store := flags.NewRedis(rdb)
		for role, addrs := range seeds {
			if err := store.Seed(ctx, role, addrs...); err != nil {
				return nil, err
			}
		}
		return store, nil
	default:
		store := flags.NewInMemory()
		for role, addrs := range seeds {
			store.Seed(role, addrs...)
		}
		return store, nil
	}
}

func buildRateLimit(cfg config.RateLimitConfig, rdb *platformredis.Client, log *slog.Logger) *ratelimitmw.Middleware {
	var store ratelimitmw.BucketStore = bucket.NewInMemoryBucketStore()
	if rdb != nil {
		store = bucket.NewRedis(rdb)
	}
	return ratelimitmw.New(store, log,
		ratelimitmw.WithDisabled(cfg.Disabled),
		ratelimitmw.WithLimit(ratelimitmodels.ClassWrite, ratelimitmodels.Limit{Requests: cfg.WritesPerMin, Window: time.Minute}),
		ratelimitmw.WithLimit(ratelimitmodels.ClassRead, ratelimitmodels.Limit{Requests: cfg.ReadsPerMin, Window: time.Minute}),
		ratelimitmw.WithRegisterer(prometheus.DefaultRegisterer),
	)
}
