package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/marko911/presale-pulse/internal/config"
	pkafka "github.com/marko911/presale-pulse/internal/platform/kafka"
	pnats "github.com/marko911/presale-pulse/internal/platform/nats"
	"github.com/marko911/presale-pulse/internal/platform/storage"
	"github.com/marko911/presale-pulse/internal/price"
	"github.com/marko911/presale-pulse/internal/sink"
)

// buildFanout connects every enabled sink. The returned cleanup closes them
// in reverse order.
func buildFanout(ctx context.Context, cfg *config.Config, prices price.Source, logger *slog.Logger) (*sink.Fanout, func(), error) {
	var (
		pubs    []sink.Publisher
		closers []func()
	)
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*sink.Fanout, func(), error) {
		cleanup()
		return nil, func() {}, err
	}

	sc := cfg.Sinks

	if sc.Log.Enabled {
		pubs = append(pubs, sink.NewLog(logger, cfg.Contract.Token))
	}

	if sc.Slack.Enabled {
		pubs = append(pubs, sink.NewSlack(sc.Slack, sink.Formatter{
			Token:        cfg.Contract.Token,
			ExplorerURL:  cfg.Contract.ExplorerURL,
			BonusPercent: cfg.Contract.BonusPercent,
			Stage:        cfg.Contract.Stage,
		}))
	}

	if sc.Kafka.Enabled {
		mgr, err := pkafka.NewTopicManager(sc.Kafka.Brokers)
		if err != nil {
			return fail(err)
		}
		err = mgr.EnsureTopics(ctx, pkafka.PurchasesTopicConfig(sc.Kafka.Topic, sc.Kafka.Partitions))
		mgr.Close()
		if err != nil {
			return fail(fmt.Errorf("ensure kafka topic: %w", err))
		}

		k, err := sink.NewKafka(sc.Kafka, cfg.Chain)
		if err != nil {
			return fail(err)
		}
		pubs = append(pubs, k)
		closers = append(closers, k.Close)
	}

	if sc.NATS.Enabled {
		ncfg := pnats.DefaultConfig()
		ncfg.URL = sc.NATS.URL

		nc, err := pnats.Connect(ctx, ncfg, logger)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, nc.Close)

		if _, err := pnats.EnsureStream(ctx, nc.JetStream(), pnats.PurchasesStreamConfig(sc.NATS.Stream, sc.NATS.Subject)); err != nil {
			return fail(err)
		}
		pubs = append(pubs, sink.NewNATS(nc.JetStream(), sc.NATS.Subject, cfg.Chain))
	}

	if sc.Redis.Enabled {
		r, err := sink.NewRedis(ctx, sc.Redis)
		if err != nil {
			return fail(err)
		}
		pubs = append(pubs, r)
		closers = append(closers, r.Close)
	}

	if sc.Postgres.Enabled {
		db, err := storage.New(ctx, storage.Config{DSN: sc.Postgres.DSN})
		if err != nil {
			return fail(fmt.Errorf("connect postgres: %w", err))
		}
		closers = append(closers, db.Close)

		if err := db.Migrate(ctx); err != nil {
			return fail(fmt.Errorf("migrate postgres: %w", err))
		}
		repo := storage.NewPurchaseRepository(db)
		logStoredHead(ctx, repo, logger)
		pubs = append(pubs, sink.NewPostgres(repo, logger))
	}

	if len(pubs) == 0 {
		return fail(errors.New("no sinks enabled"))
	}

	fanout := sink.NewFanout(prices, 0, logger, pubs...)
	logger.Info("sinks ready", "sinks", fanout.Names())
	return fanout, cleanup, nil
}

type storedHead interface {
	LatestBlock(ctx context.Context) (uint64, error)
}

// logStoredHead reports the highest persisted purchase block. Failures are
// logged and do not block startup.
func logStoredHead(ctx context.Context, repo storedHead, logger *slog.Logger) {
	last, err := repo.LatestBlock(ctx)
	if err != nil {
		logger.Warn("failed to read last stored purchase block", "error", err)
		return
	}
	logger.Info("postgres sink attached", "last_stored_block", last)
}
