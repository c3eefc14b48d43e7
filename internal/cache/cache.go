package cache

import (
	"context"
	"time"

	"apotekpos/backend/internal/domain"
)

// RankingCache holds the stock-ranking report keyed by its row limit.
type RankingCache interface {
	Get(ctx context.Context, limit int) (*domain.StockRankingReport, bool, error)
	Set(ctx context.Context, limit int, report *domain.StockRankingReport, ttl time.Duration) error
}

type NoopRankingCache struct{}

func (NoopRankingCache) Get(_ context.Context, _ int) (*domain.StockRankingReport, bool, error) {
	return nil, false, nil
}

func (NoopRankingCache) Set(_ context.Context, _ int, _ *domain.StockRankingReport, _ time.Duration) error {
	return nil
}
