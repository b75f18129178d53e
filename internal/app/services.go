package app

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/kart-payments/internal/collab"
	"github.com/xenking/kart-payments/internal/domain/coupon"
	"github.com/xenking/kart-payments/internal/domain/payment"
	"github.com/xenking/kart-payments/internal/domain/returns"
	"github.com/xenking/kart-payments/internal/domain/transaction"
	"github.com/xenking/kart-payments/internal/eventlog"
	"github.com/xenking/kart-payments/internal/gateway"
	"github.com/xenking/kart-payments/internal/ratelimit"
	"github.com/xenking/kart-payments/internal/selftest"
	"github.com/xenking/kart-payments/internal/storage/postgres"
	storageredis "github.com/xenking/kart-payments/internal/storage/redis"
	"github.com/xenking/kart-payments/internal/webhook"
	"github.com/xenking/kart-payments/pkg/httpmiddleware"
)

// Telemetry is the provider pair handed to instrumented components.
type Telemetry struct {
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// Services is the wired domain layer shared by the API server and the CLI.
type Services struct {
	EventLog     *postgres.EventLog
	Recorder     *eventlog.Recorder
	Orchestrator *gateway.Orchestrator
	Transactions *transaction.Service
	Payments     *payment.Service
	Webhooks     *webhook.Processor
	Returns      *returns.Workflow
	SelfTest     *selftest.Harness
	APIKeys      *postgres.APIKeyRepository
	Limiter      ratelimit.Limiter
	// Redis is nil when no Redis URL is configured.
	Redis *redis.Client

	closers []func() error
}

// Close releases the connections opened by NewServices.
func (s *Services) Close() error {
	var first error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// NewServices wires every domain service on top of pool. Redis and Kafka are
// used when configured; otherwise the limiter is in-memory, webhook dedup
// lives in Postgres and entries are not fanned out.
func NewServices(ctx context.Context, lg *zap.Logger, tel Telemetry, cfg *Config, pool *pgxpool.Pool) (*Services, error) {
	s := &Services{}

	pgDedup := postgres.NewWebhookDedup(pool)
	var dedup webhook.DedupStore = pgDedup
	if cfg.RedisURL != "" {
		rdb, err := storageredis.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return nil, errors.Wrap(err, "connect redis")
		}
		s.closers = append(s.closers, rdb.Close)
		s.Redis = rdb
		s.Limiter = ratelimit.NewRedis(rdb, "paygate:rl:")
		dedup = storageredis.NewDedup(rdb, "paygate:webhook:")
	} else {
		mem := ratelimit.NewMemory()
		mem.StartCleanup(ctx, cfg.RateLimit.Window)
		s.Limiter = mem
		go purgeClaims(ctx, lg.Named("dedup"), pgDedup, time.Hour)
	}

	var pub eventlog.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		kp, err := eventlog.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			_ = s.Close()
			return nil, errors.Wrap(err, "create kafka publisher")
		}
		s.closers = append(s.closers, kp.Close)
		pub = kp
	}

	s.EventLog = postgres.NewEventLog(pool)
	s.Recorder = eventlog.NewRecorder(s.EventLog, pub, lg.Named("events"),
		eventlog.WithRequestID(httpmiddleware.RequestIDFromContext),
	)

	providers := gateway.NewHTTPClient(cfg.Timeouts.Gateway, tel.TracerProvider)
	orch, err := gateway.NewOrchestrator(
		cfg.Gateways.Adapters(gateway.Callbacks{BaseURL: cfg.BaseURL}, providers),
		gateway.Options{
			Timeout:        cfg.Timeouts.Gateway,
			Logger:         lg.Named("gateway"),
			MeterProvider:  tel.MeterProvider,
			TracerProvider: tel.TracerProvider,
		},
	)
	if err != nil {
		_ = s.Close()
		return nil, errors.Wrap(err, "create orchestrator")
	}
	s.Orchestrator = orch

	s.Transactions = transaction.NewService(postgres.NewTransactionStore(pool), s.Recorder, lg.Named("transaction"))
	s.Payments = payment.NewService(orch, s.Transactions, s.Recorder, lg.Named("payment"))

	verifier := webhook.NewVerifier(cfg.Gateways.Secrets(), cfg.Webhook.Tolerance, s.Recorder, lg.Named("webhook"))
	s.Webhooks = webhook.NewProcessor(s.Limiter, verifier, dedup, s.Transactions, s.Recorder, webhook.ProcessorConfig{
		RateLimit: cfg.Webhook.RateLimit,
		DedupTTL:  cfg.Webhook.DedupTTL,
	})

	wcfg, err := cfg.Returns.WorkflowConfig()
	if err != nil {
		_ = s.Close()
		return nil, errors.Wrap(err, "returns config")
	}
	collaborators := gateway.NewHTTPClient(cfg.Collab.Timeout, tel.TracerProvider)
	var notifier returns.Notifier = collab.NewLogNotifier(lg.Named("notify"))
	if cfg.Collab.Notify.Configured() {
		notifier = collab.NewNotifyClient(cfg.Collab.Notify, collaborators)
	}
	if !cfg.Collab.Orders.Configured() {
		lg.Warn("Order lookup is not configured, return submissions will fail")
	}
	s.Returns = returns.NewWorkflow(returns.Deps{
		Repo:     postgres.NewReturnRepository(pool),
		Orders:   collab.NewOrderClient(cfg.Collab.Orders, collaborators),
		Coupons:  coupon.NewIssuer(postgres.NewCouponRepository(pool), cfg.Returns.CouponPrefix),
		Refunds:  returns.NewPaymentRefunder(s.Transactions, orch),
		Labels:   collab.NewLabelClient(cfg.Collab.Shipping, collaborators),
		Notifier: notifier,
		Recorder: s.Recorder,
		Logger:   lg.Named("returns"),
	}, wcfg)

	s.SelfTest = selftest.New(orch, cfg.Gateways.Secrets(), cfg.Webhook.RateLimit, lg.Named("selftest"))
	s.APIKeys = postgres.NewAPIKeyRepository(pool)
	return s, nil
}

// redisPinger adapts a Redis client to health.Pinger.
type redisPinger struct{ c *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error { return p.c.Ping(ctx).Err() }

// purgeClaims deletes expired webhook claims every interval until ctx is done.
func purgeClaims(ctx context.Context, lg *zap.Logger, d *postgres.WebhookDedup, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := d.Purge(ctx)
			if err != nil {
				lg.Warn("Purge webhook claims", zap.Error(err))
				continue
			}
			if n > 0 {
				lg.Debug("Purged webhook claims", zap.Int64("count", n))
			}
		}
	}
}
