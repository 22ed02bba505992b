package goGuard

import (
	"fmt"
	"time"

	internalaudit "github.com/MrEthical07/goGuard/internal/audit"
	"github.com/MrEthical07/goGuard/internal/behavior"
	"github.com/MrEthical07/goGuard/internal/controls"
	"github.com/MrEthical07/goGuard/internal/fraud"
	internalmetrics "github.com/MrEthical07/goGuard/internal/metrics"
	"github.com/MrEthical07/goGuard/internal/ratelimit"
	"github.com/MrEthical07/goGuard/device"
	"github.com/MrEthical07/goGuard/ledger"
	"github.com/MrEthical07/goGuard/reputation"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

const tracerName = "github.com/MrEthical07/goGuard"

// Builder assembles an Engine. Configure it during initialization, call
// Build once, and discard it.
type Builder struct {
	config Config

	redis      redis.UniversalClient
	store      ledger.AttemptLedger
	devices    device.Adjuster
	reputation reputation.Source
	auditSink  AuditSink
	logger     *zap.Logger
	tracer     trace.TracerProvider
	now        func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the configuration. The value is copied.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis stores attempts in Redis using Config.Store.RedisPrefix and
// RedisTTL. WithLedger takes precedence when both are set.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithLedger plugs in any AttemptLedger, for example ledger.NewPostgres or
// ledger.NewMemory.
func (b *Builder) WithLedger(store ledger.AttemptLedger) *Builder {
	b.store = store
	return b
}

// WithDeviceAdjuster enables device lookups in NewSecurityContext.
func (b *Builder) WithDeviceAdjuster(a device.Adjuster) *Builder {
	b.devices = a
	return b
}

// WithReputation adds an IP reputation source. Config.Reputation CIDR lists
// are consulted as well.
func (b *Builder) WithReputation(src reputation.Source) *Builder {
	b.reputation = src
	return b
}

// WithAuditSink sets the destination for audit entries.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the logger. The default discards everything.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithTracerProvider enables spans around Engine operations.
func (b *Builder) WithTracerProvider(tp trace.TracerProvider) *Builder {
	b.tracer = tp
	return b
}

// WithClock overrides time.Now for every component. Intended for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration and wires the engine.
//
// Build fails with ErrPolicyConfiguration when the configuration is invalid
// or no storage was supplied, and with ErrBuilderUsed when called twice.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, ErrBuilderUsed
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var inner ledger.AttemptLedger
	switch {
	case b.store != nil:
		inner = b.store
	case b.redis != nil:
		inner = ledger.NewRedis(b.redis, ledger.RedisOptions{
			Prefix: cfg.Store.RedisPrefix,
			TTL:    cfg.Store.RedisTTL,
		})
	default:
		return nil, fmt.Errorf("%w: attempt ledger required (WithRedis or WithLedger)", ErrPolicyConfiguration)
	}

	rep, err := buildReputation(cfg.Reputation, b.reputation)
	if err != nil {
		return nil, err
	}
	if _, none := rep.(reputation.None); !none && cfg.Store.Timeout > 0 {
		rep = reputation.Bounded{Source: rep, Timeout: cfg.Store.Timeout}
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tp := b.tracer
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	guarded := ledger.NewGuarded(inner, ledger.GuardOptions{
		Name:        "goguard-ledger",
		Timeout:     cfg.Store.Timeout,
		MaxFailures: cfg.Store.BreakerFailures,
		OpenFor:     cfg.Store.BreakerOpenFor,
	})
	analyzer := behavior.New(guarded, cfg.behaviorConfig(), now)

	e := &Engine{
		config:     cfg,
		store:      guarded,
		limiter:    ratelimit.New(cfg.rateLimitConfig(), guarded, now, logger),
		scorer:     fraud.NewScorer(guarded, rep, analyzer, cfg.fraudConfig(), now, logger),
		arbiter:    controls.NewArbiter(rep, analyzer, cfg.controlsConfig(), logger),
		devices:    b.devices,
		reputation: rep,
		audit:      internalaudit.NewDispatcher(cfg.auditConfig(), b.auditSink),
		metrics:    internalmetrics.New(cfg.metricsConfig()),
		logger:     logger.With(zap.String("component", "engine")),
		tracer:     tp.Tracer(tracerName),
		now:        now,
		newID:      uuid.NewString,
	}

	b.built = true
	return e, nil
}

func buildReputation(cfg ReputationConfig, extra reputation.Source) (reputation.Source, error) {
	var chain reputation.Chain
	if len(cfg.HighRisk) > 0 || len(cfg.Malicious) > 0 {
		list, err := reputation.NewCIDRList(cfg.HighRisk, cfg.Malicious)
		if err != nil {
			return nil, fmt.Errorf("%w: Reputation: %v", ErrPolicyConfiguration, err)
		}
		chain = append(chain, list)
	}
	if extra != nil {
		chain = append(chain, extra)
	}
	switch len(chain) {
	case 0:
		return reputation.None{}, nil
	case 1:
		return chain[0], nil
	default:
		return chain, nil
	}
}
