package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThilakShekharShriyan/akash-autopilot/internal/audit"
	"github.com/ThilakShekharShriyan/akash-autopilot/internal/config"
	"github.com/ThilakShekharShriyan/akash-autopilot/internal/deployapi"
	"github.com/ThilakShekharShriyan/akash-autopilot/internal/httpserver"
	"github.com/ThilakShekharShriyan/akash-autopilot/internal/policy"
	"github.com/ThilakShekharShriyan/akash-autopilot/internal/recommender"
	"github.com/ThilakShekharShriyan/akash-autopilot/internal/scheduler"
	"github.com/ThilakShekharShriyan/akash-autopilot/internal/store"
)

// runtime is everything a decision loop needs, built from one Config.
type runtime struct {
	cfg       config.Config
	logger    *slog.Logger
	store     *store.Store
	engine    *policy.Engine
	publisher audit.Publisher
	scheduler *scheduler.Scheduler
}

func buildRuntime(cfg config.Config, logger *slog.Logger) (*runtime, error) {
	st, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	rt := &runtime{cfg: cfg, logger: logger, store: st}
	if err := rt.wire(); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) wire() error {
	cfg, logger := rt.cfg, rt.logger

	rt.engine = policy.NewEngine(rt.store, cfg.Policy, policy.WithLogger(logger))
	if cfg.PolicyFile != "" {
		if err := rt.engine.Reload(cfg.PolicyFile, cfg.Policy); err != nil {
			return fmt.Errorf("failed to load policy file: %w", err)
		}
	}

	var api deployapi.API
	if cfg.MockDeployments() {
		logger.Warn("no deployment api key configured, using mock deployment api")
		api = deployapi.NewMock(logger)
	} else {
		client, err := deployapi.NewClient(deployapi.ClientConfig{
			BaseURL: cfg.ConsoleAPIBaseURL,
			APIKey:  cfg.ConsoleAPIKey,
			Retries: 2,
			Logger:  logger,
		})
		if err != nil {
			return err
		}
		api = client
	}

	var rec recommender.Recommender
	if cfg.MockRecommender() {
		logger.Warn("no recommender api key configured, using mock recommender")
		rec = recommender.NewMock(logger)
	} else {
		client, err := recommender.NewOpenAI(recommender.Config{
			BaseURL: cfg.RecommenderBaseURL,
			APIKey:  cfg.RecommenderAPIKey,
			Model:   cfg.RecommenderModel,
			Logger:  logger,
		})
		if err != nil {
			return err
		}
		rec = client
	}

	rt.publisher = audit.Nop{}
	if len(cfg.KafkaBrokers) > 0 {
		pub, err := audit.NewKafkaPublisher(audit.KafkaConfig{
			Brokers:      cfg.KafkaBrokers,
			Topic:        cfg.KafkaTopic,
			MaxAttempts:  3,
			WriteTimeout: 2 * time.Second,
		})
		if err != nil {
			return fmt.Errorf("failed to create ledger publisher: %w", err)
		}
		rt.publisher = pub
	}

	sched, err := scheduler.New(scheduler.Deps{
		Ledger:      rt.store,
		Deployments: api,
		Recommender: rec,
		Guardrails:  rt.engine,
		Executor:    deployapi.NewExecutor(api, logger),
		Publisher:   rt.publisher,
	}, scheduler.WithLogger(logger), scheduler.WithInterval(cfg.LoopInterval()))
	if err != nil {
		return err
	}
	rt.scheduler = sched
	return nil
}

// Close releases the publisher and the database.
func (rt *runtime) Close() {
	if rt.publisher != nil {
		if err := rt.publisher.Close(); err != nil {
			rt.logger.Warn("failed to close ledger publisher", "error", err)
		}
	}
	if err := rt.store.Close(); err != nil {
		rt.logger.Warn("failed to close database", "error", err)
	}
}

// serve runs the loop, the status server and the policy watcher until ctx
// is done, then stops the loop and waits for the current iteration.
func (rt *runtime) serve(ctx context.Context) error {
	if err := rt.scheduler.Start(ctx); err != nil {
		return err
	}
	defer rt.scheduler.Stop()

	errCh := make(chan error, 1)
	if rt.cfg.HTTPAddr != "" {
		srv := httpserver.New(rt.store, rt.scheduler, rt.engine, rt.cfg.Public(), rt.logger)
		go func() {
			if err := srv.ListenAndServe(ctx, rt.cfg.HTTPAddr); err != nil {
				errCh <- fmt.Errorf("status server: %w", err)
			}
		}()
	}
	if rt.cfg.PolicyFile != "" {
		go func() {
			if err := rt.engine.WatchFile(ctx, rt.cfg.PolicyFile, rt.cfg.Policy); err != nil {
				rt.logger.Error("policy watcher stopped", "error", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		rt.logger.Info("shutting down")
		return nil
	case err := <-errCh:
		return err
	}
}
