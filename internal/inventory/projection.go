// Package inventory keeps per-warehouse stock levels in the fetch cache and
// applies stock deltas to them after commits.
package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/kalambet/rxdesk/internal/query"
)

// Delta is a signed stock change for one product.
type Delta struct {
	EntityID       string `json:"entity_id"`
	QuantityChange int64  `json:"quantity_change"`
}

// Levels maps product ID to on-hand quantity.
type Levels map[string]int64

// Loader reads authoritative stock for a warehouse.
type Loader interface {
	StockLevels(ctx context.Context, warehouseID string) (map[string]int64, error)
}

// Projection is the shared in-memory view of warehouse stock.
type Projection struct {
	cache  *query.Cache
	loader Loader
	gcTime time.Duration
	logger *slog.Logger
}

// NewProjection creates a Projection backed by cache. gcTime controls how
// long loaded levels are served before reloading; zero uses the cache default.
func NewProjection(cache *query.Cache, loader Loader, gcTime time.Duration, logger *slog.Logger) *Projection {
	if logger == nil {
		logger = slog.Default()
	}
	return &Projection{cache: cache, loader: loader, gcTime: gcTime, logger: logger}
}

// Key returns the cache key holding a warehouse's levels.
func Key(warehouseID string) query.Key {
	return query.K("inventory", warehouseID)
}

func (p *Projection) options(warehouseID string) query.Options {
	return query.Options{
		Key:    Key(warehouseID),
		GCTime: p.gcTime,
		Fn: func(ctx context.Context) (any, error) {
			levels, err := p.loader.StockLevels(ctx, warehouseID)
			if err != nil {
				return nil, fmt.Errorf("loading stock for %s: %w", warehouseID, err)
			}
			return Levels(levels), nil
		},
	}
}

// Levels returns the current levels for warehouseID, loading them when the
// cached copy is missing or stale. A failed reload with cached data present
// serves the cached data.
func (p *Projection) Levels(ctx context.Context, warehouseID string) (Levels, error) {
	e := p.cache.Fetch(ctx, p.options(warehouseID))
	levels, ok := query.Value[Levels](e)
	if !ok {
		if e.Err != nil {
			return nil, e.Err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return Levels{}, nil
	}
	return maps.Clone(levels), nil
}

// ApplyDeltas adds each delta to the cached levels. Warehouses that were
// never loaded are left alone; their next read loads authoritative stock.
func (p *Projection) ApplyDeltas(ctx context.Context, warehouseID string, deltas []Delta) error {
	if len(deltas) == 0 {
		return nil
	}
	_, written, err := p.cache.SetQueryData(ctx, Key(warehouseID),
		func(prev any) any {
			cur, ok := prev.(Levels)
			if !ok {
				return nil
			}
			next := maps.Clone(cur)
			for _, d := range deltas {
				next[d.EntityID] += d.QuantityChange
			}
			return next
		},
		func(_ context.Context, next any) (bool, error) {
			return next != nil, nil
		},
	)
	if err != nil {
		return fmt.Errorf("applying stock deltas to %s: %w", warehouseID, err)
	}
	p.logger.Debug("stock deltas", "warehouse", warehouseID, "count", len(deltas), "applied", written)
	return nil
}

// Replace overwrites the cached levels with an authoritative copy and
// restarts their freshness window.
func (p *Projection) Replace(ctx context.Context, warehouseID string, levels Levels) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("replacing stock for %s: %w", warehouseID, err)
	}
	if levels == nil {
		levels = Levels{}
	}
	p.cache.Put(Key(warehouseID), maps.Clone(levels))
	return nil
}

// Subscribe follows a warehouse's levels. The caller must Close the subscription.
func (p *Projection) Subscribe(ctx context.Context, warehouseID string) *query.Subscription {
	return p.cache.Use(ctx, p.options(warehouseID))
}
