package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"iter"

	"insta_relay/internal/domain"
)

type Source interface {
	Profile(ctx context.Context, username string) (*domain.Profile, error)
	Posts(ctx context.Context, profile *domain.Profile) iter.Seq2[domain.Post, error]
}

type WatermarkStore interface {
	Load(ctx context.Context) (domain.Watermarks, error)
	Save(ctx context.Context, state domain.Watermarks) error
}

type Formatter interface {
	Format(account domain.Account, post domain.Post) domain.Message
}

type Deliverer interface {
	Deliver(ctx context.Context, msg domain.Message) error
}

type Publisher interface {
	Publish(ctx context.Context, event *domain.RelayEvent) error
	Close() error
}
