package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"insta_relay/internal/config"
	"insta_relay/internal/domain"
	"insta_relay/internal/scanner"
)

var ErrAllAccountsFailed = errors.New("every account failed")

type RelayService struct {
	accounts  []domain.Account
	source    Source
	store     WatermarkStore
	formatter Formatter
	deliverer Deliverer
	publisher Publisher
	logger    *slog.Logger
	config    config.SyncConfig
	order     scanner.Order
	now       func() time.Time
}

func NewRelayService(
	accounts []domain.Account,
	source Source,
	store WatermarkStore,
	formatter Formatter,
	deliverer Deliverer,
	publisher Publisher,
	logger *slog.Logger,
	cfg config.SyncConfig,
) *RelayService {
	return &RelayService{
		accounts:  accounts,
		source:    source,
		store:     store,
		formatter: formatter,
		deliverer: deliverer,
		publisher: publisher,
		logger:    logger,
		config:    cfg,
		order:     scanner.NumericOrder,
		now:       time.Now,
	}
}

// Run performs one pass over every account and persists the watermarks once
// at the end. Per-account failures are logged and counted; only state errors
// abort the run.
func (s *RelayService) Run(ctx context.Context) (*domain.RunStats, error) {
	startTime := s.now()
	s.logger.Info("starting relay run",
		"accounts", len(s.accounts),
		"first_run", s.config.FirstRun,
		"delivery_order", s.config.DeliveryOrder,
	)

	state, err := s.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load watermarks: %w", err)
	}
	next := state.Clone()

	stats := &domain.RunStats{}
	for _, account := range s.accounts {
		if ctx.Err() != nil {
			break
		}
		stats.Add(s.relayAccount(ctx, account, next))
	}

	// Interrupted runs still keep the progress made so far.
	if err := s.store.Save(context.WithoutCancel(ctx), next); err != nil {
		return stats, fmt.Errorf("save watermarks: %w", err)
	}

	stats.Duration = s.now().Sub(startTime)

	s.logger.Info("relay run completed",
		"processed", stats.Processed,
		"skipped", stats.Skipped,
		"new", stats.New,
		"delivered", stats.Delivered,
		"delivery_errors", stats.DeliveryErrors,
		"duration", stats.Duration,
	)

	if err := ctx.Err(); err != nil {
		return stats, err
	}
	if s.config.ExitOnTotalFailure && len(s.accounts) > 0 && stats.Skipped == len(s.accounts) {
		return stats, ErrAllAccountsFailed
	}
	return stats, nil
}

func (s *RelayService) relayAccount(ctx context.Context, account domain.Account, state domain.Watermarks) domain.AccountStats {
	logger := s.logger.With("account", account)
	stats := domain.AccountStats{Account: account}

	previous, hasPrevious := state.Get(account)
	stats.FirstRun = !hasPrevious

	profile, err := s.source.Profile(ctx, account.String())
	if err != nil {
		logger.Warn("failed to fetch profile, skipping", "error", err)
		stats.Skipped = true
		return stats
	}

	result, err := scanner.Scan(s.source.Posts(ctx, profile), previous, hasPrevious, s.order)
	if err != nil {
		logger.Warn("failed to read posts, skipping", "error", err)
		stats.Skipped = true
		return stats
	}

	stats.New = len(result.New)
	stats.Checked = len(result.New)
	if result.Stopped {
		stats.Checked++
	}
	if hasPrevious && !result.Stopped && len(result.New) > 0 {
		logger.Warn("stored watermark not found, relaying every visible post", "watermark", previous)
	}

	posts := result.New
	if s.config.DeliveryOrder == config.OrderOldestFirst {
		posts = result.Oldest()
	}

	switch {
	case len(posts) == 0:
	case stats.FirstRun && s.config.FirstRun == config.FirstRunSkipToCurrent:
		logger.Info("first run, recording current position without relaying", "posts", len(posts))
		posts = nil
	case stats.FirstRun:
		logger.Warn("first run, relaying full visible history", "posts", len(posts))
	}

	for _, post := range posts {
		if err := s.deliver(ctx, logger, account, post); err != nil {
			stats.DeliveryErrors++
			continue
		}
		stats.Delivered++
	}

	if ctx.Err() != nil {
		logger.Warn("run interrupted, keeping watermark")
		return stats
	}
	if stats.DeliveryErrors > 0 && s.config.OnDeliveryFailure == config.OnFailureHold {
		logger.Warn("delivery failed, keeping watermark", "errors", stats.DeliveryErrors)
		return stats
	}

	if result.Advanced(previous, hasPrevious) {
		state.Set(account, result.Watermark)
		stats.Advanced = true
	}

	logger.Info("account processed",
		"new", stats.New,
		"delivered", stats.Delivered,
		"delivery_errors", stats.DeliveryErrors,
		"watermark", result.Watermark,
	)
	return stats
}

func (s *RelayService) deliver(ctx context.Context, logger *slog.Logger, account domain.Account, post domain.Post) error {
	msg := s.formatter.Format(account, post)
	err := s.deliverer.Deliver(ctx, msg)
	if err != nil {
		logger.Error("failed to deliver post", "post_id", post.ID, "error", err)
	} else {
		logger.Debug("delivered post", "post_id", post.ID, "media", len(msg.Media))
	}

	if s.publisher != nil {
		event := &domain.RelayEvent{
			Account:   account,
			PostID:    post.ID,
			Permalink: post.Permalink(),
			Caption:   post.Caption,
			Media:     msg.Media,
			Delivered: err == nil,
			TakenAt:   post.TakenAt,
			Timestamp: s.now().UTC(),
		}
		if err != nil {
			event.Error = err.Error()
		}
		if pubErr := s.publisher.Publish(ctx, event); pubErr != nil {
			logger.Warn("failed to publish relay event", "post_id", post.ID, "error", pubErr)
		}
	}

	return err
}
