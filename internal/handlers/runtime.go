package handlers

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.uber.org/zap"

	appConfig "microlend-engine/internal/config"
	"microlend-engine/internal/services/collector"
	"microlend-engine/internal/services/database"
	"microlend-engine/internal/services/events"
	s3service "microlend-engine/internal/services/s3"
	"microlend-engine/internal/services/valuation"
	"microlend-engine/internal/utils"
)

// runtime holds the shared dependencies of a Lambda container. It is built
// once per cold start.
type runtime struct {
	cfg       *appConfig.Config
	db        *database.DB
	engine    *valuation.Engine
	publisher events.Publisher
	registry  *prometheus.Registry
	metrics   *collector.Metrics
	archiver  *s3service.Service
	closers   []func()
}

func newRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := appConfig.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := utils.InitLogger(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}

	db, err := database.New(cfg)
	if err != nil {
		return nil, err
	}

	rt := &runtime{
		cfg:       cfg,
		db:        db,
		engine:    valuation.NewEngine(cfg.BalanceTolerance),
		publisher: events.NopPublisher{},
		registry:  prometheus.NewRegistry(),
		closers:   []func(){db.Close},
	}
	rt.metrics = collector.NewMetrics(rt.registry)

	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		rt.publisher = kp
		rt.closers = append(rt.closers, func() { _ = kp.Close() })
	}

	if cfg.ReportsBucket != "" {
		rt.archiver, err = s3service.NewService(ctx, cfg.ReportsBucket)
		if err != nil {
			rt.Close()
			return nil, err
		}
	}

	return rt, nil
}

// pushMetrics sends the collector metrics to the Pushgateway, when one is
// configured.
func (rt *runtime) pushMetrics(ctx context.Context, collectorName string) error {
	if rt.cfg.PushgatewayURL == "" {
		return nil
	}
	return push.New(rt.cfg.PushgatewayURL, "microlend_collectors").
		Gatherer(rt.registry).
		Grouping("collector", collectorName).
		Grouping("stage", rt.cfg.Stage).
		PushContext(ctx)
}

// Close releases every resource in reverse order of creation.
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	utils.GetLogger().Debug("Runtime closed", zap.Int("resources", len(rt.closers)))
}
