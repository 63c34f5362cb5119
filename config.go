package concierge

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"

	httpadapter "github.com/aretw0/concierge/pkg/adapters/http"
	"github.com/aretw0/concierge/pkg/adapters/file"
	"github.com/aretw0/concierge/pkg/adapters/postgres"
	"github.com/aretw0/concierge/pkg/adapters/process"
	redisadapter "github.com/aretw0/concierge/pkg/adapters/redis"
	"github.com/aretw0/concierge/pkg/broker"
	"github.com/aretw0/concierge/pkg/config"
	"github.com/aretw0/concierge/pkg/persistence/middleware"
	goredis "github.com/redis/go-redis/v9"
)

// CloseFunc releases the connections opened by FromConfig.
type CloseFunc func() error

// FromConfig wires an Orchestrator from a loaded configuration: the store
// driver, HTTP and process tool targets, the planner client and per-tool broker settings.
// Extra options are applied last and override the configured ones.
func FromConfig(ctx context.Context, cfg *config.Config, logger *slog.Logger, extra ...Option) (*Orchestrator, CloseFunc, error) {
	opts, closer, err := storeOptions(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	fail := func(err error) (*Orchestrator, CloseFunc, error) {
		_ = closer()
		return nil, nil, err
	}

	if cfg.Store.MaskPII {
		opts = append(opts, WithStoreMiddleware(middleware.NewPIIMiddleware(middleware.DefaultPIIPatterns)))
	}
	if cfg.Store.EncryptionKey != "" {
		key, err := base64.StdEncoding.DecodeString(cfg.Store.EncryptionKey)
		if err != nil || len(key) != 32 {
			return fail(errors.New("store.encryption_key must be a base64 encoded 32 byte key"))
		}
		opts = append(opts, WithStoreMiddleware(middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: key})))
	}

	pcfg, err := cfg.PolicyConfig()
	if err != nil {
		return fail(fmt.Errorf("policy: %w", err))
	}
	opts = append(opts, WithPolicy(pcfg), WithQuotaWindow(cfg.Policy.Window))

	var brokerOpts []broker.Option
	for name, tc := range cfg.Tool {
		brokerOpts = append(brokerOpts, broker.WithTargetConfig(name, tc.TargetConfig))
		switch {
		case tc.URL != "":
			opts = append(opts, WithTarget(name, httpadapter.NewTarget(name, tc.URL, httpadapter.NewClient(0))))
		case len(tc.Command) > 0:
			target, err := process.NewTarget(name, tc.Command, process.WithEnv(tc.Env), process.WithDir(tc.Dir))
			if err != nil {
				return fail(err)
			}
			opts = append(opts, WithTarget(name, target))
		}
	}
	opts = append(opts, WithBrokerOptions(brokerOpts...))

	if cfg.Planner.URL != "" {
		opts = append(opts, WithPlanner(httpadapter.NewPlannerClient(cfg.Planner.URL, httpadapter.NewClient(cfg.Planner.Timeout))))
	}

	settings := DefaultSettings()
	settings.ConfidenceThreshold = cfg.Pipeline.ConfidenceThreshold
	settings.MaxFallbacks = cfg.Pipeline.MaxFallbacks
	settings.MaxToolFailures = cfg.Pipeline.MaxToolFailures
	settings.TurnTimeout = cfg.Pipeline.TurnTimeout
	settings.DefaultTier = cfg.Policy.DefaultTier

	opts = append(opts,
		WithCanary(cfg.Canary),
		WithSettings(settings),
		WithLogger(logger),
	)
	orch, err := New(append(opts, extra...)...)
	if err != nil {
		return fail(err)
	}
	return orch, closer, nil
}

func storeOptions(ctx context.Context, cfg *config.Config) ([]Option, CloseFunc, error) {
	noop := func() error { return nil }
	sc := cfg.Store

	switch sc.Driver {
	case config.DriverRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     sc.RedisAddr,
			Password: sc.RedisPassword,
			DB:       sc.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis unreachable at %s: %w", sc.RedisAddr, err)
		}
		return []Option{
			WithStore(redisadapter.NewFromClient(client, redisadapter.WithPrefix(sc.Prefix), redisadapter.WithTTL(sc.TTL))),
			WithResultCache(redisadapter.NewResultCache(client, redisadapter.WithCachePrefix(sc.Prefix))),
			WithQuota(redisadapter.NewQuotaCounter(client, cfg.Policy.Window, redisadapter.WithQuotaPrefix(sc.Prefix))),
			WithLocker(redisadapter.NewLocker(client, sc.Prefix), sc.LockTTL),
		}, client.Close, nil

	case config.DriverFile:
		return []Option{WithStore(file.New(sc.Path))}, noop, nil

	case config.DriverPostgres:
		pool, err := postgres.Connect(ctx, sc.DSN)
		if err != nil {
			return nil, nil, err
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		closer := func() error {
			pool.Close()
			return nil
		}
		return []Option{
			WithStore(postgres.NewStore(pool)),
			WithResultCache(postgres.NewResultCache(pool)),
		}, closer, nil
	}
	return nil, noop, nil
}
