package cache

import (
	"context"
	"time"

	"condicional/backend/internal/domain"
)

// ProductCache holds catalog snapshots so shipment assembly and checkout do
// not hit the product table on every request. Misses are not errors.
type ProductCache interface {
	GetProducts(ctx context.Context, key string) ([]domain.Product, bool, error)
	SetProducts(ctx context.Context, key string, products []domain.Product, ttl time.Duration) error
}

type NoopProductCache struct{}

func (NoopProductCache) GetProducts(_ context.Context, _ string) ([]domain.Product, bool, error) {
	return nil, false, nil
}

func (NoopProductCache) SetProducts(_ context.Context, _ string, _ []domain.Product, _ time.Duration) error {
	return nil
}
