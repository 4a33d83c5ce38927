package in_memory

import (
	"context"
	"sync"

	"github.com/gridmarket/certex/internal/domain"
	"github.com/gridmarket/certex/internal/port"
)

var _ port.Cache = (*Cache)(nil)

type Cache struct {
	mu    sync.Mutex
	store map[string]*domain.BookSnapshot
}

func NewCache() *Cache {
	return &Cache{store: make(map[string]*domain.BookSnapshot)}
}

func (c *Cache) SetDepth(ctx context.Context, productID string, snap *domain.BookSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	copy := *snap
	c.store[productID] = &copy
	return nil
}

func (c *Cache) GetDepth(ctx context.Context, productID string) (*domain.BookSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap, ok := c.store[productID]
	if !ok {
		return nil, nil
	}
	copy := *snap
	return &copy, nil
}

func (c *Cache) Invalidate(ctx context.Context, productID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.store, productID)
	return nil
}
