package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/kroma-labs/relay-go/apicall"
	"github.com/kroma-labs/relay-go/eventsink"
	"github.com/kroma-labs/relay-go/example/github/internal/audit"
	"github.com/kroma-labs/relay-go/example/github/internal/config"
	"github.com/kroma-labs/relay-go/httptransport"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()
	env := config.FromEnv()
	if env.Debug {
		logger = logger.Level(zerolog.DebugLevel)
	} else {
		logger = logger.Level(zerolog.InfoLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Load the service declaration
	decl, err := apicall.LoadDeclaration(strings.NewReader(config.Declaration))
	if err != nil {
		logger.Fatal().Err(err).Msg("load declaration")
	}

	// 2. Event sinks: log, Prometheus and, when reachable, the audit table
	prom, err := eventsink.NewPrometheusSink()
	if err != nil {
		logger.Fatal().Err(err).Msg("register prometheus sink")
	}
	sinks := []apicall.EventSink{eventsink.NewLogSink(logger), prom}

	if env.DSN != "off" {
		auditSink, err := audit.Open(ctx, env.DSN, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("audit table disabled")
		} else {
			sinks = append(sinks, auditSink)
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownGrace)
				defer cancel()
				if err := auditSink.Close(closeCtx); err != nil {
					logger.Error().Err(err).Msg("close audit sink")
				}
			}()
		}
	}

	metricsServer := &http.Server{Addr: config.MetricsPort, Handler: metricsMux(prom), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info().Str("addr", config.MetricsPort).Msg("serving prometheus metrics")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("metrics server failed")
		}
	}()

	// 3. Transport with throttle and circuit breaker
	breaker := httptransport.DefaultBreakerConfig()
	if env.RedisAddr != "" {
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{env.RedisAddr}})
		defer rdb.Close()
		breaker = httptransport.DistributedBreakerConfig(httptransport.NewRedisStore(rdb))
	}
	transport := httptransport.New(
		httptransport.WithServiceName("github"),
		httptransport.WithConfig(httptransport.InteractiveConfig()),
		httptransport.WithThrottle(httptransport.DefaultThrottleConfig()),
		httptransport.WithBreaker(breaker),
		httptransport.WithDebug(env.Debug),
		httptransport.WithLogger(logger),
	)

	// 4. The service itself
	opts := append(decl.Options(),
		apicall.WithLogger(logger),
		apicall.WithAuthStrategies(apicall.BearerToken{}),
		apicall.WithTransport(transport),
		apicall.WithEventSink(eventsink.Multi(sinks...)),
	)
	if env.Token == "" {
		logger.Warn().Msg("GITHUB_TOKEN not set, calling anonymously")
		opts = append(opts, apicall.WithDefaultAuth(apicall.AuthNone))
	}
	svc, err := apicall.New(opts...)
	if err != nil {
		logger.Fatal().Err(err).Msg("build github service")
	}

	logger.Info().Strs("endpoints", svc.Endpoints()).Msg("github example started, press Ctrl+C to stop")

	ticker := time.NewTicker(config.CallInterval)
	defer ticker.Stop()

	for {
		poll(ctx, svc, env, logger)

		select {
		case <-ticker.C:
		case <-ctx.Done():
			logger.Info().Msg("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownGrace)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("metrics server shutdown")
			}
			return
		}
	}
}

func poll(ctx context.Context, svc *apicall.Service, env config.Env, logger zerolog.Logger) {
	params := apicall.Params{
		PathParams: map[string]string{"login": env.Login},
		Query:      map[string][]string{"per_page": {"5"}, "sort": {"updated"}},
		Auth:       apicall.AuthParams{apicall.AuthAccessToken: env.Token},
	}

	for _, endpoint := range []string{"getUser", "listRepos"} {
		resp, err := svc.Call(ctx, endpoint, params, apicall.WithEventContext(env.Login))
		if err != nil {
			logger.Error().Err(err).Str("endpoint", endpoint).Msg(svc.HumanizeError(err))
			continue
		}
		logger.Info().Str("endpoint", endpoint).Interface("data", resp.Data).Msg("call succeeded")
	}

	stats := svc.RateLimiter().Stats()
	logger.Debug().Int("used", stats.Counter).Int("limit", stats.Limit).Msg("local quota")
}

func metricsMux(prom *eventsink.PrometheusSink) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", prom.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}
